package database

import (
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/usach-ambiental/piloto-monitor/models"
)

// SaveFetchCycle appends one closed cycle and its alerts to the operation
// log inside a single transaction. The log is append-only: cycles are never
// updated or removed once written.
func SaveFetchCycle(c *models.FetchCycle) error {
	if DB == nil {
		return fmt.Errorf("database connection is not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for fetch cycle: %w", err)
	}
	defer tx.Rollback()

	var finished sql.NullTime
	if c.FinishedAt != nil {
		finished = sql.NullTime{Time: *c.FinishedAt, Valid: true}
	}
	var errorsText sql.NullString
	if len(c.Errors) > 0 {
		errorsText = sql.NullString{String: strings.Join(c.Errors, "\n"), Valid: true}
	}

	_, err = tx.Exec(`
		INSERT INTO fetch_cycles (
			id, started_at, finished_at, reachable, reachability_cause,
			probe_failure_streak, files_discovered, files_new, files_updated,
			files_skipped, files_flagged, files_failed, failed, errors
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.StartedAt, finished, c.Reachable, c.ReachabilityCause,
		c.ProbeFailureStreak, c.FilesDiscovered, c.FilesNew, c.FilesUpdated,
		c.FilesSkipped, c.FilesFlagged, c.FilesFailed, c.Failed, errorsText,
	)
	if err != nil {
		return fmt.Errorf("failed to insert fetch cycle %s: %w", c.ID, err)
	}

	if len(c.Alerts) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO cycle_alerts (cycle_id, filename, sensor_id, kind, message, raised_at)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare alert insert: %w", err)
		}
		defer stmt.Close()

		for _, a := range c.Alerts {
			if _, err := stmt.Exec(c.ID, a.Filename, a.SensorID, a.Kind, a.Message, a.RaisedAt); err != nil {
				return fmt.Errorf("failed to insert alert for %s: %w", a.Filename, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fetch cycle %s: %w", c.ID, err)
	}

	log.Printf("Database: recorded fetch cycle %s (%d discovered, %d new, %d updated, %d flagged)",
		c.ID, c.FilesDiscovered, c.FilesNew, c.FilesUpdated, c.FilesFlagged)
	return nil
}

// GetRecentCycles returns the newest cycles first, alerts included. ULIDs
// sort lexicographically by creation time, so ordering by id is ordering by
// start time.
func GetRecentCycles(limit int) ([]models.FetchCycle, error) {
	if DB == nil {
		return nil, fmt.Errorf("database connection is not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := DB.Query(`
		SELECT id, started_at, finished_at, reachable, reachability_cause,
		       probe_failure_streak, files_discovered, files_new, files_updated,
		       files_skipped, files_flagged, files_failed, failed, errors
		FROM fetch_cycles
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fetch cycles: %w", err)
	}
	defer rows.Close()

	var cycles []models.FetchCycle
	for rows.Next() {
		var c models.FetchCycle
		var finished sql.NullTime
		var errorsText sql.NullString
		if err := rows.Scan(&c.ID, &c.StartedAt, &finished, &c.Reachable, &c.ReachabilityCause,
			&c.ProbeFailureStreak, &c.FilesDiscovered, &c.FilesNew, &c.FilesUpdated,
			&c.FilesSkipped, &c.FilesFlagged, &c.FilesFailed, &c.Failed, &errorsText); err != nil {
			return nil, fmt.Errorf("failed to scan fetch cycle row: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			c.FinishedAt = &t
		}
		if errorsText.Valid && errorsText.String != "" {
			c.Errors = strings.Split(errorsText.String, "\n")
		}
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fetch cycle rows: %w", err)
	}

	for i := range cycles {
		alerts, err := getAlertsForCycle(cycles[i].ID)
		if err != nil {
			return nil, err
		}
		cycles[i].Alerts = alerts
	}
	return cycles, nil
}

func getAlertsForCycle(cycleID string) ([]models.Alert, error) {
	rows, err := DB.Query(`
		SELECT id, cycle_id, filename, sensor_id, kind, message, raised_at
		FROM cycle_alerts
		WHERE cycle_id = ?
		ORDER BY id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts for cycle %s: %w", cycleID, err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(&a.ID, &a.CycleID, &a.Filename, &a.SensorID, &a.Kind, &a.Message, &a.RaisedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
