package render

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geo-catalog/internal/model"
	"github.com/sells-group/geo-catalog/internal/store"
)

// MetadataPrefix prefixes flattened metadata columns.
const MetadataPrefix = "metadata_"

// table is the flattened form shared by the CSV and XLSX renderers.
type table struct {
	header  []string
	hasDist bool
	keys    []string // metadata keys in first-seen order
}

func newTable(hits []model.Hit) *table {
	t := &table{header: []string{"dataset_id", "system_name", "longitude", "latitude"}}
	seen := make(map[string]bool)
	for _, h := range hits {
		if h.DistanceMeters != nil {
			t.hasDist = true
		}
		for _, f := range h.Metadata {
			if !seen[f.Key] {
				seen[f.Key] = true
				t.keys = append(t.keys, f.Key)
			}
		}
	}
	if t.hasDist {
		t.header = append(t.header, "distance_m")
	}
	for _, k := range t.keys {
		t.header = append(t.header, MetadataPrefix+k)
	}
	return t
}

func (t *table) row(h model.Hit) []string {
	row := make([]string, 0, len(t.header))
	row = append(row,
		h.DatasetID,
		string(h.SystemName),
		formatFloat(h.Coordinates.Longitude),
		formatFloat(h.Coordinates.Latitude),
	)
	if t.hasDist {
		d := ""
		if h.DistanceMeters != nil {
			d = formatFloat(*h.DistanceMeters)
		}
		row = append(row, d)
	}
	for _, k := range t.keys {
		v, _ := h.Metadata.Get(k)
		row = append(row, model.ValueString(v))
	}
	return row
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// CSV writes hits flattened to one row each. An empty result writes the
// fixed header only.
func CSV(w io.Writer, hits []model.Hit) error {
	t := newTable(hits)
	cw := csv.NewWriter(w)
	if err := cw.Write(t.header); err != nil {
		return eris.Wrap(err, "render: write csv header")
	}
	for _, h := range hits {
		if err := cw.Write(t.row(h)); err != nil {
			return eris.Wrap(err, "render: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "render: flush csv")
}

// StatsCSV writes one system_name,count row per system followed by a total.
func StatsCSV(w io.Writer, st *store.Stats) error {
	systems := make([]string, 0, len(st.BySystem))
	for sys := range st.BySystem {
		systems = append(systems, string(sys))
	}
	sort.Strings(systems)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"system_name", "count"})
	for _, sys := range systems {
		_ = cw.Write([]string{sys, strconv.FormatInt(st.BySystem[model.SystemName(sys)], 10)})
	}
	_ = cw.Write([]string{"total", strconv.FormatInt(st.Total, 10)})
	cw.Flush()
	return eris.Wrap(cw.Error(), "render: write stats csv")
}
