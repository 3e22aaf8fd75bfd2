package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/usach-ambiental/piloto-monitor/models"
)

// LoadSensorFileStates returns the last recorded state of every known sensor
// file, keyed by filename. The cycle service passes this map explicitly
// through the pipeline so fetch decisions are deterministic and testable.
func LoadSensorFileStates() (map[string]models.SensorFile, error) {
	if DB == nil {
		return nil, fmt.Errorf("database connection is not initialized")
	}

	rows, err := DB.Query(`
		SELECT filename, sensor_id, file_date, local_path, size_bytes,
		       remote_size, remote_modified, state, last_fetched_at, updated_at
		FROM sensor_files`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor file states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]models.SensorFile)
	for rows.Next() {
		var f models.SensorFile
		var remoteModified, lastFetched sql.NullTime
		if err := rows.Scan(&f.Filename, &f.SensorID, &f.FileDate, &f.LocalPath,
			&f.SizeBytes, &f.RemoteSize, &remoteModified, &f.State, &lastFetched, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sensor file row: %w", err)
		}
		if remoteModified.Valid {
			t := remoteModified.Time
			f.RemoteModified = &t
		}
		if lastFetched.Valid {
			t := lastFetched.Time
			f.LastFetchedAt = &t
		}
		states[f.Filename] = f
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sensor file rows: %w", err)
	}
	return states, nil
}

// SaveSensorFileState upserts one file record. Records are never deleted;
// superseded files keep their history through the archive path convention.
func SaveSensorFileState(f models.SensorFile) error {
	if DB == nil {
		return fmt.Errorf("database connection is not initialized")
	}

	var remoteModified, lastFetched sql.NullTime
	if f.RemoteModified != nil {
		remoteModified = sql.NullTime{Time: *f.RemoteModified, Valid: true}
	}
	if f.LastFetchedAt != nil {
		lastFetched = sql.NullTime{Time: *f.LastFetchedAt, Valid: true}
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = time.Now()
	}

	_, err := DB.Exec(`
		INSERT INTO sensor_files (
			filename, sensor_id, file_date, local_path, size_bytes,
			remote_size, remote_modified, state, last_fetched_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			local_path = VALUES(local_path),
			size_bytes = VALUES(size_bytes),
			remote_size = VALUES(remote_size),
			remote_modified = VALUES(remote_modified),
			state = VALUES(state),
			last_fetched_at = VALUES(last_fetched_at),
			updated_at = VALUES(updated_at)`,
		f.Filename, f.SensorID, f.FileDate, f.LocalPath, f.SizeBytes,
		f.RemoteSize, remoteModified, f.State, lastFetched, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save sensor file state for %s: %w", f.Filename, err)
	}
	return nil
}
