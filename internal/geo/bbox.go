// Package geo holds the coordinate math shared by the query engine and the
// stores: bounding boxes with antimeridian handling and great-circle distance.
package geo

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geo-catalog/internal/model"
)

// BBox is a WGS84 bounding box. West > East means the box crosses the
// antimeridian.
type BBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// World covers every valid coordinate.
var World = BBox{West: -180, South: -90, East: 180, North: 90}

// Validate rejects non-finite edges, out-of-range edges and north < south.
func (b BBox) Validate() error {
	for _, v := range []float64{b.West, b.South, b.East, b.North} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return eris.New("geo: bounding box edges must be finite")
		}
	}
	if b.West < -180 || b.West > 180 || b.East < -180 || b.East > 180 {
		return eris.Errorf("geo: bounding box longitudes must be in [-180, 180], got west=%v east=%v", b.West, b.East)
	}
	if b.South < -90 || b.South > 90 || b.North < -90 || b.North > 90 {
		return eris.Errorf("geo: bounding box latitudes must be in [-90, 90], got south=%v north=%v", b.South, b.North)
	}
	if b.North < b.South {
		return eris.Errorf("geo: north (%v) is below south (%v)", b.North, b.South)
	}
	return nil
}

// CrossesAntimeridian reports whether the box wraps past ±180.
func (b BBox) CrossesAntimeridian() bool {
	return b.West > b.East
}

// Split returns the non-wrapping boxes whose union is b: one box normally,
// [west,180] and [-180,east] when b crosses the antimeridian.
func (b BBox) Split() []BBox {
	if !b.CrossesAntimeridian() {
		return []BBox{b}
	}
	return []BBox{
		{West: b.West, South: b.South, East: 180, North: b.North},
		{West: -180, South: b.South, East: b.East, North: b.North},
	}
}

// Contains reports whether p lies inside b, edges inclusive.
func (b BBox) Contains(p model.Point) bool {
	if p.Latitude < b.South || p.Latitude > b.North {
		return false
	}
	if b.CrossesAntimeridian() {
		return p.Longitude >= b.West || p.Longitude <= b.East
	}
	return p.Longitude >= b.West && p.Longitude <= b.East
}

// Extent returns the smallest non-wrapping box holding every point, or
// false when there are none.
func Extent(points []model.Point) (BBox, bool) {
	if len(points) == 0 {
		return BBox{}, false
	}
	bounds := geom.NewBounds(geom.XY)
	for _, p := range points {
		bounds.Extend(geom.NewPointFlat(geom.XY, []float64{p.Longitude, p.Latitude}))
	}
	return FromBounds(bounds), true
}

// FromBounds converts go-geom bounds into a BBox.
func FromBounds(b *geom.Bounds) BBox {
	return BBox{West: b.Min(0), South: b.Min(1), East: b.Max(0), North: b.Max(1)}
}
