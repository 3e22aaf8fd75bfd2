package database

import "github.com/usach-ambiental/piloto-monitor/models"

// Store adapts the package-level persistence functions to the interface the
// cycle service consumes, so tests can inject an in-memory implementation.
type Store struct{}

func (Store) LoadSensorFileStates() (map[string]models.SensorFile, error) {
	return LoadSensorFileStates()
}

func (Store) SaveSensorFileState(f models.SensorFile) error {
	return SaveSensorFileState(f)
}

func (Store) SaveFetchCycle(c *models.FetchCycle) error {
	return SaveFetchCycle(c)
}

func (Store) UpsertHealthRecord(r *models.SensorHealthRecord) error {
	return UpsertHealthRecord(r)
}
