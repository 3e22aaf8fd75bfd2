package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/usach-ambiental/piloto-monitor/models"
)

// UpsertHealthRecord full-replaces the record for (sensor, date). The cycle
// service only calls this for the current day, so elapsed dates stay
// immutable. Full-replace rather than in-place mutation means a concurrent
// reader never observes a half-updated record.
func UpsertHealthRecord(rec *models.SensorHealthRecord) error {
	if DB == nil {
		return fmt.Errorf("database connection is not initialized")
	}

	var lastValid sql.NullTime
	if rec.LastValidReading != nil {
		lastValid = sql.NullTime{Time: *rec.LastValidReading, Valid: true}
	}

	_, err := DB.Exec(`
		INSERT INTO sensor_health_records (
			sensor_id, record_date, valid_rows, last_valid_reading,
			quality, priority, working, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			valid_rows = VALUES(valid_rows),
			last_valid_reading = VALUES(last_valid_reading),
			quality = VALUES(quality),
			priority = VALUES(priority),
			working = VALUES(working),
			computed_at = VALUES(computed_at)`,
		rec.SensorID, rec.Date, rec.ValidRows, lastValid,
		rec.Quality, rec.Priority, rec.Working, rec.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert health record for sensor %s on %s: %w",
			rec.SensorID, rec.Date.Format("2006-01-02"), err)
	}
	return nil
}

// GetHealthRecordsForDate reads the derived health feed for one calendar
// day. This is the sole contract between the core and the presentation
// layer.
func GetHealthRecordsForDate(date time.Time) ([]models.SensorHealthRecord, error) {
	if DB == nil {
		return nil, fmt.Errorf("database connection is not initialized")
	}

	rows, err := DB.Query(`
		SELECT sensor_id, record_date, valid_rows, last_valid_reading,
		       quality, priority, working, computed_at
		FROM sensor_health_records
		WHERE record_date = ?
		ORDER BY sensor_id`, date.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to query health records: %w", err)
	}
	defer rows.Close()

	var recs []models.SensorHealthRecord
	for rows.Next() {
		var r models.SensorHealthRecord
		var lastValid sql.NullTime
		if err := rows.Scan(&r.SensorID, &r.Date, &r.ValidRows, &lastValid,
			&r.Quality, &r.Priority, &r.Working, &r.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan health record row: %w", err)
		}
		if lastValid.Valid {
			t := lastValid.Time
			r.LastValidReading = &t
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
