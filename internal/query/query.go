// Package query validates catalog queries and runs them against a store.
package query

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/geo-catalog/internal/geo"
	"github.com/sells-group/geo-catalog/internal/model"
	"github.com/sells-group/geo-catalog/internal/store"
)

// Action names a query intent.
type Action string

// Supported actions.
const (
	ActionStats   Action = "stats"
	ActionDataset Action = "dataset"
	ActionSystem  Action = "system"
	ActionBox     Action = "box"
	ActionNearby  Action = "nearby"
	ActionAll     Action = "all"
)

// Default query parameters.
const (
	DefaultLimit    = 1000
	DefaultDistance = 10000.0
)

var actionAliases = map[string]Action{
	"stats":         ActionStats,
	"dataset":       ActionDataset,
	"by_dataset_id": ActionDataset,
	"system":        ActionSystem,
	"by_system":     ActionSystem,
	"box":           ActionBox,
	"bbox":          ActionBox,
	"bounding_box":  ActionBox,
	"nearby":        ActionNearby,
	"all":           ActionAll,
}

// ParseAction resolves an action name or alias, case-insensitively.
func ParseAction(s string) (Action, error) {
	if a, ok := actionAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return a, nil
	}
	return "", invalid("action", "unknown action %q", s)
}

// Error is a rejected query. No partial result accompanies it.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("query: invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *Error {
	return &Error{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Request is one query. Fields unused by the action are ignored.
type Request struct {
	Action    Action
	DatasetID string
	// System is a system name; empty means every system. Required for
	// ActionSystem, unused by ActionStats.
	System string

	West, East, North, South float64

	Latitude, Longitude float64
	// Distance is the nearby radius in meters.
	Distance float64

	// Limit caps the number of hits; nil applies the engine default and 0
	// means unlimited.
	Limit *int
}

// Result carries either stats or hits, depending on the action.
type Result struct {
	Action Action
	Stats  *store.Stats
	Hits   []model.Hit
}

// Engine runs validated queries.
type Engine struct {
	store        store.Store
	defaultLimit int
}

// NewEngine creates an Engine. defaultLimit applies when a request has no
// limit; values below zero fall back to DefaultLimit.
func NewEngine(st store.Store, defaultLimit int) *Engine {
	if defaultLimit < 0 {
		defaultLimit = DefaultLimit
	}
	return &Engine{store: st, defaultLimit: defaultLimit}
}

// Run validates req and executes it. Validation failures are *Error; store
// failures are returned wrapped.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	if err := e.Validate(&req); err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "query"), zap.String("action", string(req.Action)))

	sys := model.SystemName("")
	if req.System != "" {
		sys, _ = model.ParseSystemName(req.System)
	}
	f := store.Filter{System: sys, Limit: *req.Limit}

	res := &Result{Action: req.Action}
	var err error
	switch req.Action {
	case ActionStats:
		res.Stats, err = e.store.Stats(ctx)
	case ActionDataset:
		res.Hits, err = e.store.ByDatasetID(ctx, req.DatasetID, f)
	case ActionSystem:
		res.Hits, err = e.store.BySystem(ctx, sys, f.Limit)
	case ActionBox:
		res.Hits, err = e.store.InBox(ctx, req.Box(), f)
	case ActionNearby:
		res.Hits, err = e.store.Nearby(ctx, req.Center(), req.Distance, f)
	case ActionAll:
		res.Hits, err = e.store.All(ctx, f)
	}
	if err != nil {
		return nil, err
	}
	if res.Hits == nil && res.Stats == nil {
		res.Hits = []model.Hit{}
	}
	log.Debug("query complete", zap.Int("hits", len(res.Hits)))
	return res, nil
}

// Box returns the request's bounding box.
func (r Request) Box() geo.BBox {
	return geo.BBox{West: r.West, South: r.South, East: r.East, North: r.North}
}

// Center returns the request's nearby center point.
func (r Request) Center() model.Point {
	return model.Point{Longitude: r.Longitude, Latitude: r.Latitude}
}

// Validate checks req for its action and fills in the default limit.
func (e *Engine) Validate(req *Request) error {
	if _, ok := actionAliases[string(req.Action)]; !ok {
		return invalid("action", "unknown action %q", req.Action)
	}
	req.Action = actionAliases[string(req.Action)]

	if req.Limit == nil {
		l := e.defaultLimit
		req.Limit = &l
	}
	if *req.Limit < 0 {
		return invalid("limit", "must be >= 0, got %d", *req.Limit)
	}

	if req.Action != ActionStats && strings.TrimSpace(req.System) != "" {
		if _, err := model.ParseSystemName(req.System); err != nil {
			return invalid("system_name", "unknown system name %q", req.System)
		}
	}

	switch req.Action {
	case ActionDataset:
		req.DatasetID = model.NormalizeID(req.DatasetID)
		if req.DatasetID == "" {
			return invalid("dataset_id", "must not be empty")
		}
	case ActionSystem:
		if strings.TrimSpace(req.System) == "" {
			return invalid("system_name", "required for action %s", req.Action)
		}
	case ActionBox:
		return validateBox(req.Box())
	case ActionNearby:
		if err := validatePoint(req.Center()); err != nil {
			return err
		}
		if !finite(req.Distance) {
			return invalid("distance", "must be finite")
		}
		if req.Distance <= 0 {
			return invalid("distance", "must be > 0, got %v", req.Distance)
		}
	}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func validatePoint(p model.Point) error {
	if !finite(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return invalid("lat", "must be a number in [-90, 90], got %v", p.Latitude)
	}
	if !finite(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return invalid("lng", "must be a number in [-180, 180], got %v", p.Longitude)
	}
	return nil
}

func validateBox(b geo.BBox) error {
	for _, c := range []struct {
		name  string
		v     float64
		limit float64
	}{
		{"west", b.West, 180}, {"east", b.East, 180},
		{"south", b.South, 90}, {"north", b.North, 90},
	} {
		if !finite(c.v) || c.v < -c.limit || c.v > c.limit {
			return invalid(c.name, "must be a number in [%v, %v], got %v", -c.limit, c.limit, c.v)
		}
	}
	if b.North < b.South {
		return invalid("north", "north (%v) is below south (%v)", b.North, b.South)
	}
	return nil
}
