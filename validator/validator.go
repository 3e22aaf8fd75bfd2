// Package validator classifies fetched sensor files. Classification happens
// at row granularity: one malformed row never fails the whole file, and the
// file verdict is the aggregate of its rows.
package validator

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
)

// Verdict is the aggregate classification of one local sensor file.
type Verdict string

const (
	// VerdictEmpty: zero bytes, or a header/units block with no data rows.
	// Always persisted, always alerted, excluded from analysis.
	VerdictEmpty Verdict = "EMPTY"
	// VerdictIncomplete: non-empty but at least one row failed structural
	// parsing (or no row parsed at all). Well-formed rows remain usable.
	VerdictIncomplete Verdict = "INCOMPLETE"
	// VerdictValid: every data row parsed cleanly.
	VerdictValid Verdict = "VALID"
)

// Format identifies the column layout of a sensor file. The two fixed
// layouts correspond to the known sensor hardware generations; Raw is the
// fallback for unrecognized headers, whose rows still count for emptiness
// checks but never for value analysis.
type Format string

const (
	FormatExtended Format = "EXTENDED" // MP1.0[St.P] plus environmental columns
	FormatSimple   Format = "SIMPLE"   // bare MP1.0 column
	FormatRaw      Format = "RAW"
)

// Reading is one valid data row: a timestamp and the MP1.0 value.
type Reading struct {
	Timestamp time.Time
	MP1       float64
}

// Report summarizes the validation of one file.
type Report struct {
	Verdict       Verdict
	Format        Format
	DataRows      int // rows after the header/units block, any shape
	ValidRows     int
	MalformedRows int
	Readings      []Reading // valid rows only, in file order
}

// LastValid returns the timestamp of the most recent valid reading, or nil.
func (r *Report) LastValid() *time.Time {
	var last *time.Time
	for i := range r.Readings {
		ts := r.Readings[i].Timestamp
		if last == nil || ts.After(*last) {
			last = &ts
		}
	}
	return last
}

const rowTimeLayout = "02-01-06 15:04:05" // Fecha + Hora, e.g. "03-06-25 14:05:00"

// Rows carry zero-padded numeric text ("00156"); fields are decoded as
// strings and converted after the header-driven mapping.
type extendedRow struct {
	Fecha string `csv:"Fecha"`
	Hora  string `csv:"Hora"`
	MP1   string `csv:"MP1.0[St.P]"`
}

type simpleRow struct {
	Fecha string `csv:"Fecha"`
	Hora  string `csv:"Hora"`
	MP1   string `csv:"MP1.0"`
}

// Validator parses sensor files. Row timestamps are interpreted in loc, the
// timezone the sensors stamp their rows in.
type Validator struct {
	loc *time.Location
}

func New(loc *time.Location) *Validator {
	if loc == nil {
		loc = time.UTC
	}
	return &Validator{loc: loc}
}

// ValidateFile classifies the file at path. The returned error is reserved
// for I/O problems; parse trouble is expressed through the report.
func (v *Validator) ValidateFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return v.Validate(data), nil
}

// Validate classifies raw file content.
func (v *Validator) Validate(data []byte) *Report {
	rep := &Report{Format: FormatRaw}
	if len(bytes.TrimSpace(data)) == 0 {
		rep.Verdict = VerdictEmpty
		return rep
	}

	header, ok := readHeader(data)
	if !ok {
		v.validateRaw(data, rep)
		return rep
	}

	switch {
	case headerHas(header, "MP1.0[St.P]"):
		rep.Format = FormatExtended
		v.decodeRows(data, rep, func(dec *csvutil.Decoder) (fecha, hora, mp1 string, err error) {
			var row extendedRow
			err = dec.Decode(&row)
			return row.Fecha, row.Hora, row.MP1, err
		})
	case headerHas(header, "MP1.0"):
		rep.Format = FormatSimple
		v.decodeRows(data, rep, func(dec *csvutil.Decoder) (fecha, hora, mp1 string, err error) {
			var row simpleRow
			err = dec.Decode(&row)
			return row.Fecha, row.Hora, row.MP1, err
		})
	default:
		v.validateRaw(data, rep)
		return rep
	}

	switch {
	case rep.DataRows == 0:
		rep.Verdict = VerdictEmpty
	case rep.MalformedRows == 0 && rep.ValidRows > 0:
		rep.Verdict = VerdictValid
	default:
		rep.Verdict = VerdictIncomplete
	}
	return rep
}

// decodeRows runs the csvutil decoder over the data block. The line after
// the header carries measurement units, not data, and is discarded.
func (v *Validator) decodeRows(data []byte, rep *Report, next func(*csvutil.Decoder) (string, string, string, error)) {
	cr := csv.NewReader(bytes.NewReader(data))
	cr.TrimLeadingSpace = true
	dec, err := csvutil.NewDecoder(cr)
	if err != nil {
		// Header read failed after the sniff; treat the body as raw.
		v.validateRaw(data, rep)
		return
	}

	unitsSkipped := false
	for {
		fecha, hora, mp1, err := next(dec)
		if err == io.EOF {
			return
		}
		if !unitsSkipped {
			unitsSkipped = true
			continue
		}
		rep.DataRows++
		if err != nil {
			rep.MalformedRows++
			continue
		}
		ts, tsErr := time.ParseInLocation(rowTimeLayout,
			strings.TrimSpace(fecha)+" "+strings.TrimSpace(hora), v.loc)
		val, valErr := strconv.ParseFloat(strings.TrimSpace(mp1), 64)
		if tsErr != nil || valErr != nil {
			rep.MalformedRows++
			continue
		}
		rep.ValidRows++
		rep.Readings = append(rep.Readings, Reading{Timestamp: ts, MP1: val})
	}
}

// validateRaw handles files whose header matches no known layout. Non-blank
// lines past the header/units block count as rows so "missing vs empty"
// stays distinguishable, but none qualify for analysis.
func (v *Validator) validateRaw(data []byte, rep *Report) {
	rep.Format = FormatRaw
	lines := strings.Split(string(data), "\n")
	nonBlank := 0
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonBlank++
		}
	}
	if nonBlank > 2 {
		rep.DataRows = nonBlank - 2
	}
	if rep.DataRows == 0 {
		rep.Verdict = VerdictEmpty
	} else {
		rep.Verdict = VerdictIncomplete
	}
}

func readHeader(data []byte) ([]string, bool) {
	cr := csv.NewReader(bytes.NewReader(data))
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, false
	}
	return header, true
}

func headerHas(header []string, column string) bool {
	for _, h := range header {
		if strings.TrimSpace(h) == column {
			return true
		}
	}
	return false
}
