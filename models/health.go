package models

import "time"

// QualityTier buckets today's valid-reading count for data-richness
// assessment.
type QualityTier string

const (
	QualityExcellent QualityTier = "EXCELLENT" // >= 100 valid rows
	QualityGood      QualityTier = "GOOD"      // 50-99
	QualityFair      QualityTier = "FAIR"      // 10-49
	QualityPoor      QualityTier = "POOR"      // 1-9
	QualityNoData    QualityTier = "NO_DATA"   // 0
)

// PriorityTier drives physical maintenance triage. It is computed from
// calendar-day presence, not from today's point count alone.
type PriorityTier string

const (
	PriorityHealthy  PriorityTier = "HEALTHY"  // data for the as-of day
	PriorityWarning  PriorityTier = "WARNING"  // none for the as-of day, some the prior day
	PriorityCritical PriorityTier = "CRITICAL" // neither day
)

// QualityTierFor maps a valid-row count to its quality tier.
func QualityTierFor(validRows int) QualityTier {
	switch {
	case validRows >= 100:
		return QualityExcellent
	case validRows >= 50:
		return QualityGood
	case validRows >= 10:
		return QualityFair
	case validRows >= 1:
		return QualityPoor
	default:
		return QualityNoData
	}
}

// PriorityTierFor maps day-presence of valid data to a maintenance priority.
func PriorityTierFor(hasToday, hasYesterday bool) PriorityTier {
	switch {
	case hasToday:
		return PriorityHealthy
	case hasYesterday:
		return PriorityWarning
	default:
		return PriorityCritical
	}
}

// SensorHealthRecord is the derived daily status for one sensor. Recomputed
// every cycle for the current date from archive contents; records for past
// dates are immutable once the date has elapsed.
type SensorHealthRecord struct {
	SensorID         string       `db:"sensor_id" json:"sensor_id"`
	Date             time.Time    `db:"record_date" json:"date"` // calendar day, midnight local
	ValidRows        int          `db:"valid_rows" json:"valid_rows"`
	LastValidReading *time.Time   `db:"last_valid_reading" json:"last_valid_reading,omitempty"`
	Quality          QualityTier  `db:"quality" json:"quality"`
	Priority         PriorityTier `db:"priority" json:"priority"`
	Working          bool         `db:"working" json:"working"`
	ComputedAt       time.Time    `db:"computed_at" json:"computed_at"`
}
