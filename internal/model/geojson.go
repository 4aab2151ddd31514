package model

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Geom returns the point as a go-geom Point with SRID 4326.
func (p Point) Geom() *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{p.Longitude, p.Latitude}).SetSRID(4326)
}

// PointFromGeom converts a go-geom point back into a Point.
func PointFromGeom(g geom.T) (Point, error) {
	pt, ok := g.(*geom.Point)
	if !ok {
		return Point{}, eris.Errorf("model: expected Point geometry, got %T", g)
	}
	if pt.Empty() {
		return Point{}, eris.New("model: empty point geometry")
	}
	return Point{Longitude: pt.X(), Latitude: pt.Y()}, nil
}

// MarshalJSON encodes the point as a GeoJSON Point geometry,
// {"type":"Point","coordinates":[lon,lat]}.
func (p Point) MarshalJSON() ([]byte, error) {
	data, err := geojson.Marshal(geom.NewPointFlat(geom.XY, []float64{p.Longitude, p.Latitude}))
	if err != nil {
		return nil, eris.Wrap(err, "model: marshal point")
	}
	return data, nil
}

// UnmarshalJSON decodes a GeoJSON Point geometry.
func (p *Point) UnmarshalJSON(data []byte) error {
	var g geom.T
	if err := geojson.Unmarshal(data, &g); err != nil {
		return eris.Wrap(err, "model: unmarshal point")
	}
	pt, err := PointFromGeom(g)
	if err != nil {
		return err
	}
	*p = pt
	return nil
}
