package models

import "time"

// DownloadState tracks the lifecycle of one sensor file in the local archive.
// A file starts Pending on first discovery and never returns to Pending.
type DownloadState string

const (
	StatePending    DownloadState = "PENDING"
	StateFetched    DownloadState = "FETCHED"
	StateEmpty      DownloadState = "EMPTY"
	StateIncomplete DownloadState = "INCOMPLETE"
	StateFailed     DownloadState = "FAILED"
)

// SensorFile is the durable record for one remote/local sensor data file.
// Created on first discovery by the lister, mutated by the fetcher and
// validator, never destroyed.
type SensorFile struct {
	Filename       string        `db:"filename"`   // e.g. "Piloto019-020625.dat"
	SensorID       string        `db:"sensor_id"`  // e.g. "019"
	FileDate       time.Time     `db:"file_date"`  // calendar day encoded in the filename
	LocalPath      string        `db:"local_path"` // canonical path inside the archive
	SizeBytes      int64         `db:"size_bytes"`  // exact local byte count
	RemoteSize     int64         `db:"remote_size"` // size the index reported at last fetch, may be K/M/G-rounded, -1 when not exposed
	RemoteModified *time.Time    `db:"remote_modified"`
	State          DownloadState `db:"state"`
	LastFetchedAt  *time.Time    `db:"last_fetched_at"`
	UpdatedAt      time.Time     `db:"updated_at"`
}

// SetState applies a state transition. Pending is an initial state only;
// once a file has reached any terminal state it never goes back.
func (f *SensorFile) SetState(s DownloadState) {
	if s == StatePending && f.State != "" && f.State != StatePending {
		return
	}
	f.State = s
}

// RemoteFileRef describes one entry of the remote directory listing that
// matches the Piloto naming convention.
type RemoteFileRef struct {
	Name         string     // filename exactly as listed
	SensorID     string     // extracted sensor identifier
	FileDate     time.Time  // calendar day encoded in the filename
	URL          string     // absolute download URL
	SizeBytes    int64      // reported size in bytes, -1 when the index does not expose it
	LastModified *time.Time // reported modification stamp, nil when absent
}
