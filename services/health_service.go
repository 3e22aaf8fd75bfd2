package services

import (
	"fmt"
	"log"
	"time"

	"github.com/usach-ambiental/piloto-monitor/archive"
	"github.com/usach-ambiental/piloto-monitor/models"
	"github.com/usach-ambiental/piloto-monitor/utils"
	"github.com/usach-ambiental/piloto-monitor/validator"
)

// HealthService derives per-sensor daily status from archive contents. It is
// pure with respect to the archive: it reads and derives, never fetches or
// mutates files, so a health record is always reproducible from the files
// it was computed from.
type HealthService struct {
	arch *archive.Archive
	val  *validator.Validator
	loc  *time.Location
}

func NewHealthService(arch *archive.Archive, val *validator.Validator, loc *time.Location) *HealthService {
	return &HealthService{arch: arch, val: val, loc: loc}
}

// ComputeStatus derives the health record for one sensor as of the given
// calendar day. Valid rows for asOf set the quality tier and the working
// flag; calendar-day presence across asOf and the prior day sets the
// maintenance priority.
func (s *HealthService) ComputeStatus(sensorID string, asOf time.Time) (*models.SensorHealthRecord, error) {
	day := utils.Midnight(asOf, s.loc)
	prevDay := day.AddDate(0, 0, -1)

	todayRows, lastValid, err := s.validRowsFor(sensorID, day)
	if err != nil {
		return nil, err
	}
	prevRows, _, err := s.validRowsFor(sensorID, prevDay)
	if err != nil {
		return nil, err
	}

	rec := &models.SensorHealthRecord{
		SensorID:         sensorID,
		Date:             day,
		ValidRows:        todayRows,
		LastValidReading: lastValid,
		Quality:          models.QualityTierFor(todayRows),
		Priority:         models.PriorityTierFor(todayRows > 0, prevRows > 0),
		Working:          todayRows > 0,
		ComputedAt:       time.Now(),
	}
	return rec, nil
}

// ComputeAll derives records for every sensor present in the archive.
func (s *HealthService) ComputeAll(asOf time.Time) ([]*models.SensorHealthRecord, error) {
	sensors, err := s.arch.Sensors()
	if err != nil {
		return nil, fmt.Errorf("failed to list archive sensors: %w", err)
	}

	recs := make([]*models.SensorHealthRecord, 0, len(sensors))
	for _, id := range sensors {
		rec, err := s.ComputeStatus(id, asOf)
		if err != nil {
			log.Printf("ERROR HealthService: computing status for sensor %s: %v", id, err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// validRowsFor counts valid readings stamped on the given calendar day
// across the sensor's archive files covering that day. Flagged rows
// (malformed, raw-format) never count.
func (s *HealthService) validRowsFor(sensorID string, day time.Time) (int, *time.Time, error) {
	count := 0
	var last *time.Time
	for _, path := range s.arch.FilesFor(sensorID, day) {
		rep, err := s.val.ValidateFile(path)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to validate %s: %w", path, err)
		}
		for i := range rep.Readings {
			ts := rep.Readings[i].Timestamp
			if !utils.SameDay(ts, day, s.loc) {
				continue
			}
			count++
			if last == nil || ts.After(*last) {
				last = &ts
			}
		}
	}
	return count, last, nil
}
