package utils

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Piloto sensor files are named Piloto{sensorId}-{DDMMYY}.dat, one file per
// physical sensor and calendar day.
var pilotoFilePattern = regexp.MustCompile(`^Piloto(\d+)-(\d{6})\.dat$`)

const filenameDateLayout = "020106" // DDMMYY

// IsPilotoFilename reports whether name follows the sensor-file naming
// convention. It does not validate the encoded date.
func IsPilotoFilename(name string) bool {
	return pilotoFilePattern.MatchString(name)
}

// ParsePilotoFilename extracts the sensor identifier and calendar date from a
// filename like "Piloto019-020625.dat". Filenames that match the convention
// but encode an impossible date (e.g. June 31st) are rejected.
func ParsePilotoFilename(name string) (sensorID string, date time.Time, err error) {
	m := pilotoFilePattern.FindStringSubmatch(name)
	if m == nil {
		return "", time.Time{}, fmt.Errorf("filename %q does not match Piloto convention", name)
	}
	date, err = time.Parse(filenameDateLayout, m[2])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("filename %q encodes invalid date: %w", name, err)
	}
	return SanitizeSensorID(m[1]), date, nil
}

// PilotoFilename builds the canonical filename for a sensor and day.
func PilotoFilename(sensorID string, date time.Time) string {
	return fmt.Sprintf("Piloto%s-%s.dat", sensorID, date.Format(filenameDateLayout))
}

// SanitizeSensorID trims whitespace and leading-zero ambiguity from sensor
// identifiers so "019", " 019" and "019 " all key the same sensor. Leading
// zeros are kept: sensor "019" is displayed as 019 everywhere upstream.
func SanitizeSensorID(id string) string {
	return strings.TrimSpace(id)
}

// SameDay reports whether two instants fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// Midnight truncates t to the start of its calendar day in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
