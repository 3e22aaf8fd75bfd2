package database

import "fmt"

// Schema is idempotent; InitDB applies it on every startup. Records in all
// four tables are append-only or full-replace upserts — nothing deletes.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sensor_files (
		filename        VARCHAR(64)  NOT NULL PRIMARY KEY,
		sensor_id       VARCHAR(16)  NOT NULL,
		file_date       DATE         NOT NULL,
		local_path      VARCHAR(512) NOT NULL,
		size_bytes      BIGINT       NOT NULL DEFAULT 0,
		remote_size     BIGINT       NOT NULL DEFAULT -1,
		remote_modified DATETIME     NULL,
		state           VARCHAR(16)  NOT NULL,
		last_fetched_at DATETIME     NULL,
		updated_at      DATETIME     NOT NULL,
		INDEX idx_sensor_date (sensor_id, file_date)
	)`,
	`CREATE TABLE IF NOT EXISTS fetch_cycles (
		id                   CHAR(26)     NOT NULL PRIMARY KEY,
		started_at           DATETIME     NOT NULL,
		finished_at          DATETIME     NULL,
		reachable            BOOLEAN      NOT NULL DEFAULT FALSE,
		reachability_cause   VARCHAR(512) NOT NULL DEFAULT '',
		probe_failure_streak INT          NOT NULL DEFAULT 0,
		files_discovered     INT          NOT NULL DEFAULT 0,
		files_new            INT          NOT NULL DEFAULT 0,
		files_updated        INT          NOT NULL DEFAULT 0,
		files_skipped        INT          NOT NULL DEFAULT 0,
		files_flagged        INT          NOT NULL DEFAULT 0,
		files_failed         INT          NOT NULL DEFAULT 0,
		failed               BOOLEAN      NOT NULL DEFAULT FALSE,
		errors               TEXT         NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cycle_alerts (
		id        BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
		cycle_id  CHAR(26)     NOT NULL,
		filename  VARCHAR(64)  NOT NULL,
		sensor_id VARCHAR(16)  NOT NULL,
		kind      VARCHAR(32)  NOT NULL,
		message   VARCHAR(512) NOT NULL,
		raised_at DATETIME     NOT NULL,
		INDEX idx_cycle (cycle_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sensor_health_records (
		sensor_id          VARCHAR(16) NOT NULL,
		record_date        DATE        NOT NULL,
		valid_rows         INT         NOT NULL DEFAULT 0,
		last_valid_reading DATETIME    NULL,
		quality            VARCHAR(16) NOT NULL,
		priority           VARCHAR(16) NOT NULL,
		working            BOOLEAN     NOT NULL DEFAULT FALSE,
		computed_at        DATETIME    NOT NULL,
		PRIMARY KEY (sensor_id, record_date)
	)`,
}

// EnsureSchema creates the tables if they do not exist yet.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database connection is not initialized")
	}
	for _, stmt := range schemaStatements {
		if _, err := DB.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
