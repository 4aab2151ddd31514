// Package render projects query results into output formats. Renderers are
// pure: they never touch the store.
package render

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geo-catalog/internal/model"
	"github.com/sells-group/geo-catalog/internal/store"
)

// Format is an output format.
type Format string

// Supported formats.
const (
	FormatJSON      Format = "json"
	FormatCSV       Format = "csv"
	FormatMap       Format = "map"
	FormatGeoJSON   Format = "geojson"
	FormatXLSX      Format = "xlsx"
	FormatShapefile Format = "shp"
)

// Formats lists every format in display order.
var Formats = []Format{FormatJSON, FormatCSV, FormatMap, FormatGeoJSON, FormatXLSX, FormatShapefile}

// ParseFormat resolves a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case "html":
		return FormatMap, nil
	case "shapefile":
		return FormatShapefile, nil
	}
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", eris.Errorf("render: unknown format %q", s)
}

// Ext is the file extension written for the format.
func (f Format) Ext() string {
	switch f {
	case FormatMap:
		return ".html"
	default:
		return "." + string(f)
	}
}

// Streamable reports whether the format can be written to an arbitrary
// writer. Shapefiles need a path for their sidecar files.
func (f Format) Streamable() bool {
	return f != FormatShapefile
}

// Text reports whether the format is human-readable text, fit for stdout.
func (f Format) Text() bool {
	return f == FormatJSON || f == FormatCSV || f == FormatMap || f == FormatGeoJSON
}

// Hits renders hits to w.
func Hits(w io.Writer, f Format, hits []model.Hit) error {
	switch f {
	case FormatJSON:
		return JSON(w, hits)
	case FormatCSV:
		return CSV(w, hits)
	case FormatMap:
		return Map(w, hits)
	case FormatGeoJSON:
		return GeoJSON(w, hits)
	case FormatXLSX:
		return XLSX(w, hits)
	case FormatShapefile:
		return eris.New("render: shapefiles can only be written to a file")
	}
	return eris.Errorf("render: unknown format %q", f)
}

// Stats renders collection statistics to w. Only json and csv apply.
func Stats(w io.Writer, f Format, st *store.Stats) error {
	switch f {
	case FormatJSON:
		return StatsJSON(w, st)
	case FormatCSV:
		return StatsCSV(w, st)
	}
	return eris.Errorf("render: format %s does not support stats", f)
}

// OutputPath appends the format's extension to prefix unless it is
// already there.
func OutputPath(prefix string, f Format) string {
	if strings.EqualFold(filepath.Ext(prefix), f.Ext()) {
		return prefix
	}
	return prefix + f.Ext()
}

// HitsToFile renders hits to prefix plus the format extension and returns
// the path written.
func HitsToFile(prefix string, f Format, hits []model.Hit) (string, error) {
	path := OutputPath(prefix, f)
	if f == FormatShapefile {
		return path, Shapefile(path, hits)
	}
	return path, writeFile(path, func(w io.Writer) error { return Hits(w, f, hits) })
}

// StatsToFile renders stats to prefix plus the format extension.
func StatsToFile(prefix string, f Format, st *store.Stats) (string, error) {
	path := OutputPath(prefix, f)
	return path, writeFile(path, func(w io.Writer) error { return Stats(w, f, st) })
}

func writeFile(path string, fn func(io.Writer) error) error {
	if err := writeDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "render: create %s", path)
	}
	bw := bufio.NewWriter(f)
	if err := fn(bw); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "render: write %s", path)
	}
	return eris.Wrapf(f.Close(), "render: close %s", path)
}
