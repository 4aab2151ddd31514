// Package adapter translates source-specific raw records into the canonical
// model.Record. Each supported system has one adapter; adapters are pure and
// safe for concurrent use.
package adapter

import (
	"errors"
	"fmt"

	"github.com/sells-group/geo-catalog/internal/model"
)

// Rejection reasons.
const (
	ReasonMissingID         = "missing_id"
	ReasonMissingCoordinate = "missing_coordinate"
	ReasonInvalidCoordinate = "invalid_coordinate"
	ReasonOutOfRange        = "out_of_range"
)

// Rejection explains why a raw record could not become a Record.
type Rejection struct {
	System model.SystemName
	Reason string
	Field  string
	Value  string
}

func (r *Rejection) Error() string {
	if r.Field == "" {
		return fmt.Sprintf("%s: %s", r.System, r.Reason)
	}
	return fmt.Sprintf("%s: %s (%s=%q)", r.System, r.Reason, r.Field, r.Value)
}

// AsRejection unwraps err into a *Rejection.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// Format is the container format of a source file.
type Format string

// Supported container formats.
const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Adapter converts one source family's raw records.
type Adapter interface {
	// System is the fixed system name stamped on every record.
	System() model.SystemName

	// DefaultFile is the file name looked up in the data directory.
	DefaultFile() string

	// Format is the container format of DefaultFile.
	Format() Format

	// Large reports whether the source is skipped by --skip-large-files.
	Large() bool

	// Parse converts one raw record. Failures are *Rejection.
	Parse(raw model.Metadata) (model.Record, error)
}
