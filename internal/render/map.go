package render

import (
	_ "embed"
	"encoding/json"
	"html"
	"html/template"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geo-catalog/internal/model"
)

//go:embed map.html.tmpl
var mapTemplateText string

var mapTemplate = template.Must(template.New("map").Parse(mapTemplateText))

// Map zoom levels: a continental view around the points, or the whole world
// when there is nothing to show.
const (
	mapZoom      = 4
	mapEmptyZoom = 2
)

// marker is one point handed to the page script.
type marker struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Tooltip string  `json:"tooltip"`
	Popup   string  `json:"popup"`
}

type mapPage struct {
	Title     string
	Count     int
	CenterLng float64
	CenterLat float64
	Zoom      int
	Markers   template.JS
}

// Map writes a self-contained HTML page with one clustered marker per hit.
// The view centers on the mean of the points.
func Map(w io.Writer, hits []model.Hit) error {
	page := mapPage{Title: "Sample locations", Count: len(hits), Zoom: mapEmptyZoom}

	markers := make([]marker, 0, len(hits))
	var sumLat, sumLng float64
	for _, h := range hits {
		sumLat += h.Coordinates.Latitude
		sumLng += h.Coordinates.Longitude
		markers = append(markers, marker{
			Lat:     h.Coordinates.Latitude,
			Lng:     h.Coordinates.Longitude,
			Tooltip: string(h.SystemName),
			Popup:   popup(h),
		})
	}
	if n := float64(len(hits)); n > 0 {
		page.CenterLat = sumLat / n
		page.CenterLng = sumLng / n
		page.Zoom = mapZoom
	}

	// encoding/json escapes <, > and & so the array is safe inside <script>.
	data, err := json.Marshal(markers)
	if err != nil {
		return eris.Wrap(err, "render: encode map markers")
	}
	page.Markers = template.JS(data)

	return eris.Wrap(mapTemplate.Execute(w, page), "render: execute map template")
}

// popup builds the escaped HTML body of a marker popup.
func popup(h model.Hit) string {
	source := h.Metadata.GetString("source")
	if source == "" {
		source = h.SystemName.SourceLabel()
	}

	var sb strings.Builder
	line := func(label, value string) {
		sb.WriteString("<b>")
		sb.WriteString(label)
		sb.WriteString(":</b> ")
		sb.WriteString(html.EscapeString(value))
		sb.WriteString("<br>")
	}
	line("Dataset", h.DatasetID)
	line("System", string(h.SystemName))
	line("Coordinates", formatFloat(h.Coordinates.Latitude)+", "+formatFloat(h.Coordinates.Longitude))
	line("Source", source)
	if desc := h.Metadata.GetString("description"); desc != "" {
		line("Description", desc)
	}
	if h.DistanceMeters != nil {
		line("Distance (m)", formatFloat(*h.DistanceMeters))
	}
	return strings.TrimSuffix(sb.String(), "<br>")
}
