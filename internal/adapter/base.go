package adapter

import (
	"github.com/sells-group/geo-catalog/internal/model"
)

// base implements the common source shape: an id column plus separate
// latitude and longitude columns.
type base struct {
	system    model.SystemName
	file      string
	format    Format
	large     bool
	idFields  []string
	latFields []string
	lonFields []string
}

func (b *base) System() model.SystemName { return b.system }
func (b *base) DefaultFile() string      { return b.file }
func (b *base) Format() Format           { return b.format }
func (b *base) Large() bool              { return b.large }

func (b *base) reject(reason, field string, value any) *Rejection {
	return &Rejection{System: b.system, Reason: reason, Field: field, Value: model.ValueString(value)}
}

// Parse implements Adapter for sources with split coordinate columns.
func (b *base) Parse(raw model.Metadata) (model.Record, error) {
	idKey, id, err := b.parseID(raw)
	if err != nil {
		return model.Record{}, err
	}

	pt, err := b.parseSplit(raw)
	if err != nil {
		return model.Record{}, err
	}

	return b.record(raw, idKey, id, pt), nil
}

func (b *base) parseID(raw model.Metadata) (string, string, error) {
	key, val, ok := lookup(raw, b.idFields...)
	if !ok {
		return "", "", b.reject(ReasonMissingID, b.idFields[0], nil)
	}
	id, ok := normalizeID(val)
	if !ok {
		return "", "", b.reject(ReasonMissingID, key, val)
	}
	return key, id, nil
}

func (b *base) parseSplit(raw model.Metadata) (model.Point, error) {
	latKey, latVal, ok := lookup(raw, b.latFields...)
	if !ok {
		return model.Point{}, b.reject(ReasonMissingCoordinate, b.latFields[0], nil)
	}
	lonKey, lonVal, ok := lookup(raw, b.lonFields...)
	if !ok {
		return model.Point{}, b.reject(ReasonMissingCoordinate, b.lonFields[0], nil)
	}

	lat, reason := parseCoordinate(latVal)
	if reason != "" {
		return model.Point{}, b.reject(reason, latKey, latVal)
	}
	lon, reason := parseCoordinate(lonVal)
	if reason != "" {
		return model.Point{}, b.reject(reason, lonKey, lonVal)
	}
	if reason := rangeReason(lat, lon); reason != "" {
		return model.Point{}, b.reject(reason, latKey+","+lonKey, model.ValueString(latVal)+","+model.ValueString(lonVal))
	}
	return model.Point{Longitude: lon, Latitude: lat}, nil
}

// record assembles the canonical record. Metadata keeps every raw field in
// source order except the id column used and all coordinate columns.
func (b *base) record(raw model.Metadata, idKey, id string, pt model.Point, extraCoordFields ...string) model.Record {
	drop := append([]string{idKey}, b.latFields...)
	drop = append(drop, b.lonFields...)
	drop = append(drop, extraCoordFields...)
	return model.Record{
		DatasetID:   id,
		SystemName:  b.system,
		Coordinates: pt,
		Metadata:    without(raw, drop...),
	}
}
