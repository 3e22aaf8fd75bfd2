package models

import "time"

// AlertKind classifies an integrity alert raised during a fetch cycle.
type AlertKind string

const (
	AlertFileEmpty      AlertKind = "FILE_EMPTY"
	AlertFileIncomplete AlertKind = "FILE_INCOMPLETE"
)

// Alert is one operator-facing integrity event. Empty and incomplete files
// are always persisted to the archive; the alert is how the pipeline makes
// them visible.
type Alert struct {
	ID       int64     `db:"id" json:"id"`
	CycleID  string    `db:"cycle_id" json:"cycle_id"`
	Filename string    `db:"filename" json:"filename"`
	SensorID string    `db:"sensor_id" json:"sensor_id"`
	Kind     AlertKind `db:"kind" json:"kind"`
	Message  string    `db:"message" json:"message"`
	RaisedAt time.Time `db:"raised_at" json:"raised_at"`
}

// FetchCycle is one execution of the probe -> list -> fetch -> validate ->
// recompute pipeline. Appended to the operation log once closed, immutable
// afterwards.
type FetchCycle struct {
	ID                 string     `db:"id" json:"id"` // ULID, sortable by start time
	StartedAt          time.Time  `db:"started_at" json:"started_at"`
	FinishedAt         *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	Reachable          bool       `db:"reachable" json:"reachable"`
	ReachabilityCause  string     `db:"reachability_cause" json:"reachability_cause,omitempty"` // empty when reachable
	ProbeFailureStreak int        `db:"probe_failure_streak" json:"probe_failure_streak"`
	FilesDiscovered    int        `db:"files_discovered" json:"files_discovered"`
	FilesNew           int        `db:"files_new" json:"files_new"`
	FilesUpdated       int        `db:"files_updated" json:"files_updated"`
	FilesSkipped       int        `db:"files_skipped" json:"files_skipped"`
	FilesFlagged       int        `db:"files_flagged" json:"files_flagged"`
	FilesFailed        int        `db:"files_failed" json:"files_failed"`
	Failed             bool       `db:"failed" json:"failed"` // systemic failure, not per-file trouble
	Errors             []string   `db:"-" json:"errors,omitempty"`
	Alerts             []Alert    `db:"-" json:"alerts,omitempty"`
}

// RecordError appends a contained per-file or systemic error description.
func (c *FetchCycle) RecordError(msg string) {
	c.Errors = append(c.Errors, msg)
}

// RaiseAlert attaches an integrity alert to the cycle.
func (c *FetchCycle) RaiseAlert(kind AlertKind, filename, sensorID, message string, at time.Time) {
	c.Alerts = append(c.Alerts, Alert{
		CycleID:  c.ID,
		Filename: filename,
		SensorID: sensorID,
		Kind:     kind,
		Message:  message,
		RaisedAt: at,
	})
	c.FilesFlagged++
}

// Close stamps the cycle finished. A closed cycle is append-only history.
func (c *FetchCycle) Close(at time.Time) {
	t := at
	c.FinishedAt = &t
}
