package render

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/geo-catalog/internal/model"
)

// wgs84PRJ is the ESRI well-known text for EPSG:4326.
const wgs84PRJ = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

// DBF character fields hold at most 254 bytes.
const dbfMaxString = 254

// Shapefile attribute columns. DBF field names are limited to 10 characters.
const (
	fieldDatasetID = iota
	fieldSystem
	fieldLon
	fieldLat
	fieldDistance
	fieldMetadata
)

var shapeFields = []shp.Field{
	fieldDatasetID: shp.StringField("DATASET_ID", dbfMaxString),
	fieldSystem:    shp.StringField("SYSTEM", 32),
	fieldLon:       shp.FloatField("LON", 24, 8),
	fieldLat:       shp.FloatField("LAT", 24, 8),
	fieldDistance:  shp.FloatField("DIST_M", 24, 3),
	fieldMetadata:  shp.StringField("METADATA", dbfMaxString),
}

// Shapefile writes hits as a point shapefile at path, along with its .shx,
// .dbf and .prj sidecars. Metadata is stored as truncated JSON text.
func Shapefile(path string, hits []model.Hit) error {
	base := path
	if strings.EqualFold(filepath.Ext(path), ".shp") {
		base = path[:len(path)-len(".shp")]
	}
	if err := writeDir(base); err != nil {
		return err
	}

	w, err := shp.Create(base+".shp", shp.POINT)
	if err != nil {
		return eris.Wrapf(err, "render: create shapefile %s", path)
	}
	defer w.Close()

	if err := w.SetFields(shapeFields); err != nil {
		return eris.Wrap(err, "render: set shapefile fields")
	}

	for _, h := range hits {
		row := int(w.Write(&shp.Point{X: h.Coordinates.Longitude, Y: h.Coordinates.Latitude}))

		meta, err := json.Marshal(h.Metadata)
		if err != nil {
			return eris.Wrapf(err, "render: encode metadata for %s", h.Key())
		}

		attrs := map[int]any{
			fieldDatasetID: truncate(h.DatasetID, dbfMaxString),
			fieldSystem:    string(h.SystemName),
			fieldLon:       h.Coordinates.Longitude,
			fieldLat:       h.Coordinates.Latitude,
			fieldMetadata:  truncate(string(meta), dbfMaxString),
		}
		if h.DistanceMeters != nil {
			attrs[fieldDistance] = *h.DistanceMeters
		}
		for field, v := range attrs {
			if err := w.WriteAttribute(row, field, v); err != nil {
				return eris.Wrapf(err, "render: write attribute for %s", h.Key())
			}
		}
	}

	return eris.Wrap(os.WriteFile(base+".prj", []byte(wgs84PRJ), 0o644), "render: write projection")
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

func writeDir(base string) error {
	dir := filepath.Dir(base)
	if dir == "." {
		return nil
	}
	return eris.Wrapf(os.MkdirAll(dir, 0o755), "render: create dir for %s", base)
}
