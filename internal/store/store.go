// Package store persists canonical records and the ingest run log, with
// twin PostGIS and SQLite implementations behind one interface.
package store

import (
	"context"
	"strings"

	"github.com/sells-group/geo-catalog/internal/geo"
	"github.com/sells-group/geo-catalog/internal/model"
)

// Filter narrows a read.
type Filter struct {
	// System restricts results to one source family; empty means all.
	System model.SystemName
	// Limit caps the number of results; 0 means unlimited.
	Limit int
}

// Stats summarizes the collection.
type Stats struct {
	Total int64 `json:"total"`
	// BySystem holds the count for every system with at least one record.
	BySystem map[model.SystemName]int64 `json:"by_system"`
	// Bounds is the extent of all stored coordinates, nil when empty.
	Bounds *geo.BBox `json:"bounds"`
}

// Store defines the persistence interface for the catalog.
type Store interface {
	// Records
	Clear(ctx context.Context) (int64, error)
	InsertRecords(ctx context.Context, records []model.Record) (int64, error)
	UpsertRecords(ctx context.Context, records []model.Record) (int64, error)
	EnsureSpatialIndex(ctx context.Context) error

	// Reads
	Stats(ctx context.Context) (*Stats, error)
	ByDatasetID(ctx context.Context, datasetID string, f Filter) ([]model.Hit, error)
	BySystem(ctx context.Context, system model.SystemName, limit int) ([]model.Hit, error)
	InBox(ctx context.Context, box geo.BBox, f Filter) ([]model.Hit, error)
	Nearby(ctx context.Context, center model.Point, meters float64, f Filter) ([]model.Hit, error)
	All(ctx context.Context, f Filter) ([]model.Hit, error)

	// Ingest run log
	StartRun(ctx context.Context, run *model.IngestRun) error
	FinishRun(ctx context.Context, run *model.IngestRun) error
	ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// where accumulates AND-ed conditions and their arguments. Conditions are
// written with "?" markers and rendered through placeholder, so the same
// builder serves Postgres ($n) and SQLite (?).
type where struct {
	placeholder func(n int) string
	conds       []string
	args        []any
}

func (w *where) add(cond string, args ...any) {
	var sb strings.Builder
	for _, r := range cond {
		if r == '?' {
			w.args = append(w.args, args[0])
			args = args[1:]
			sb.WriteString(w.placeholder(len(w.args)))
			continue
		}
		sb.WriteRune(r)
	}
	w.conds = append(w.conds, sb.String())
}

// next returns the placeholder for one more argument and records it.
func (w *where) next(arg any) string {
	w.args = append(w.args, arg)
	return w.placeholder(len(w.args))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// boxCondition renders the OR of one envelope test per antimeridian-split
// piece of box.
func boxCondition(box geo.BBox, piece func(b geo.BBox) string) string {
	parts := box.Split()
	conds := make([]string, len(parts))
	for i, p := range parts {
		conds[i] = piece(p)
	}
	if len(conds) == 1 {
		return conds[0]
	}
	return "(" + strings.Join(conds, " OR ") + ")"
}
