package render

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/geo-catalog/internal/model"
)

// FeatureCollection builds a GeoJSON FeatureCollection with one Point
// feature per hit. Properties carry the identity, the distance when known
// and the metadata object.
func FeatureCollection(hits []model.Hit) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(hits))}
	for _, h := range hits {
		props := map[string]any{
			"dataset_id":  h.DatasetID,
			"system_name": h.SystemName,
			"metadata":    h.Metadata.OrEmpty(),
		}
		if h.DistanceMeters != nil {
			props["distance_m"] = *h.DistanceMeters
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         h.Key().String(),
			Geometry:   h.Coordinates.Geom(),
			Properties: props,
		})
	}
	return fc
}

// GeoJSON writes hits as a FeatureCollection.
func GeoJSON(w io.Writer, hits []model.Hit) error {
	data, err := json.Marshal(FeatureCollection(hits))
	if err != nil {
		return eris.Wrap(err, "render: encode geojson")
	}
	_, err = w.Write(append(data, '\n'))
	return eris.Wrap(err, "render: write geojson")
}
