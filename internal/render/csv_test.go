package render

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geo-catalog/internal/model"
)

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CSV(&buf, sampleHits()))

	rows := readCSV(t, buf.Bytes())
	require.Len(t, rows, 3)
	assert.Equal(t, []string{
		"dataset_id", "system_name", "longitude", "latitude", "distance_m",
		"metadata_name", "metadata_source", "metadata_description",
	}, rows[0])
	assert.Equal(t, []string{"doi:10.15485/1", "ESSDIVE", "-106.95", "38.92", "", "East River", "ESS-DIVE", ""}, rows[1])
	assert.Equal(t, []string{"nmdc:bsm-1", "NMDC", "-122.2608", "37.8764", "12.5", "Berkeley", "", "soil core"}, rows[2])
}

func TestCSVWithoutDistance(t *testing.T) {
	hits := sampleHits()[:1]
	var buf bytes.Buffer
	require.NoError(t, CSV(&buf, hits))
	rows := readCSV(t, buf.Bytes())
	assert.NotContains(t, rows[0], "distance_m")
}

func TestCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CSV(&buf, nil))
	assert.Equal(t, "dataset_id,system_name,longitude,latitude\n", buf.String())
}

func TestCSVQuotesAndNestedValues(t *testing.T) {
	hits := []model.Hit{{Record: model.Record{
		DatasetID:   "a,b",
		SystemName:  model.SystemEMSL,
		Coordinates: model.Point{Longitude: 1, Latitude: 2},
		Metadata:    model.Metadata{{Key: "note", Value: "say \"hi\""}},
	}}}
	var buf bytes.Buffer
	require.NoError(t, CSV(&buf, hits))
	rows := readCSV(t, buf.Bytes())
	assert.Equal(t, "a,b", rows[1][0])
	assert.Equal(t, `say "hi"`, rows[1][4])
}
