// Package model defines the canonical geospatial record shared by every
// source adapter, the store, and the query engine.
package model

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// SystemName identifies the source family a record came from.
type SystemName string

// Supported source families.
const (
	SystemEMSL          SystemName = "EMSL"
	SystemESSDive       SystemName = "ESSDIVE"
	SystemNMDC          SystemName = "NMDC"
	SystemJGIBiosamples SystemName = "JGI-Biosamples"
	SystemJGIOrganism   SystemName = "JGI-Organism"
)

// AllSystems lists every supported system in ingestion order.
var AllSystems = []SystemName{
	SystemEMSL,
	SystemESSDive,
	SystemNMDC,
	SystemJGIBiosamples,
	SystemJGIOrganism,
}

// String returns the wire name.
func (s SystemName) String() string { return string(s) }

// Valid reports whether s is one of the supported systems.
func (s SystemName) Valid() bool {
	for _, known := range AllSystems {
		if s == known {
			return true
		}
	}
	return false
}

// ParseSystemName matches a system name case-insensitively.
func ParseSystemName(s string) (SystemName, error) {
	s = strings.TrimSpace(s)
	for _, known := range AllSystems {
		if strings.EqualFold(s, string(known)) {
			return known, nil
		}
	}
	return "", eris.Errorf("model: unknown system name %q", s)
}

// ParseSystemNames parses a comma-separated list of system names.
func ParseSystemNames(csv string) ([]SystemName, error) {
	if strings.TrimSpace(csv) == "" {
		return nil, nil
	}
	var out []SystemName
	for _, part := range strings.Split(csv, ",") {
		sys, err := ParseSystemName(part)
		if err != nil {
			return nil, err
		}
		out = append(out, sys)
	}
	return out, nil
}

// Point is a WGS84 position. Coordinates are ordered longitude first,
// matching GeoJSON.
type Point struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// Validate checks that both components are finite and inside their ranges.
func (p Point) Validate() error {
	if math.IsNaN(p.Longitude) || math.IsInf(p.Longitude, 0) {
		return eris.Errorf("model: longitude %v is not finite", p.Longitude)
	}
	if math.IsNaN(p.Latitude) || math.IsInf(p.Latitude, 0) {
		return eris.Errorf("model: latitude %v is not finite", p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return eris.Errorf("model: longitude %v outside [-180, 180]", p.Longitude)
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return eris.Errorf("model: latitude %v outside [-90, 90]", p.Latitude)
	}
	return nil
}

// Key is the global identity of a record.
type Key struct {
	System    SystemName
	DatasetID string
}

// String renders the key as "SYSTEM/id".
func (k Key) String() string { return string(k.System) + "/" + k.DatasetID }

// NormalizeID trims an identifier and puts it in Unicode NFC, the form
// records are stored under.
func NormalizeID(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Record is the canonical geospatial record.
type Record struct {
	DatasetID   string     `json:"dataset_id"`
	SystemName  SystemName `json:"system_name"`
	Coordinates Point      `json:"coordinates"`
	Metadata    Metadata   `json:"metadata"`
}

// Key returns the record's composite identity.
func (r Record) Key() Key {
	return Key{System: r.SystemName, DatasetID: r.DatasetID}
}

// Validate enforces the invariants every persisted record must hold.
func (r Record) Validate() error {
	if strings.TrimSpace(r.DatasetID) == "" {
		return eris.New("model: dataset_id is empty")
	}
	if !r.SystemName.Valid() {
		return eris.Errorf("model: unknown system name %q", r.SystemName)
	}
	return r.Coordinates.Validate()
}

// Hit is a record returned by a query, with the distance to the query
// point when the query was a radius search.
type Hit struct {
	Record
	DistanceMeters *float64 `json:"distance_m,omitempty"`
}

var sourceLabels = map[SystemName]string{
	SystemEMSL:          "project_locations",
	SystemESSDive:       "ESS-DIVE",
	SystemNMDC:          "NMDC-Biosample",
	SystemJGIBiosamples: "JGI-GOLD-Biosample",
	SystemJGIOrganism:   "JGI-GOLD-Organism",
}

// SourceLabel names the upstream collection a system's records come from.
func (s SystemName) SourceLabel() string {
	if label, ok := sourceLabels[s]; ok {
		return label
	}
	return "Unknown source"
}
