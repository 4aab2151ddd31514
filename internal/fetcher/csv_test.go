package fetcher

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

func TestStreamCSV_NoHeader(t *testing.T) {
	input := "a,b,c\n1,2,3\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"1", "2", "3"}}, rows)
}

func TestStreamCSV_HeaderNormalizedAndRowsPadded(t *testing.T) {
	input := ",id,latitude,longitude,id\n0,ess-1,38.9,-106.9\n1,ess-2,39.0,-107.0,dup\n"
	headerCh := make(chan []string, 1)

	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		PadRows:   true,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)

	assert.Equal(t, []string{"_index", "id", "latitude", "longitude", "id.1"}, <-headerCh)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"0", "ess-1", "38.9", "-106.9", ""}, rows[0])
	assert.Equal(t, []string{"1", "ess-2", "39.0", "-107.0", "dup"}, rows[1])
}

func TestStreamCSV_QuotedFields(t *testing.T) {
	input := "id,lat_lon,notes\nnmdc:1,\"37.87 -122.26\",\"line one\nline two, with comma\"\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{HasHeader: true})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "line one\nline two, with comma", rows[0][2])
}

func TestStreamCSV_Options(t *testing.T) {
	input := "# exported\na|b\n  1 | 2 \n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Delimiter: '|',
		Comment:   '#',
		TrimSpace: true,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}}, rows)
}

func TestStreamCSV_LazyQuotes(t *testing.T) {
	input := "a,b\n1,say \"hi\"\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{LazyQuotes: true})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, `say "hi"`, rows[1][1])
}

func TestStreamCSV_Empty(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(""), CSVOptions{HasHeader: true})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStreamCSV_ReadError(t *testing.T) {
	r := io.MultiReader(strings.NewReader("a,b\n1,2\n"), iotestErrReader{})
	rowCh, errCh := StreamCSV(context.Background(), r, CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: read row")
	assert.Len(t, rows, 2)
}

type iotestErrReader struct{}

func (iotestErrReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestStreamCSV_ContextCancelled(t *testing.T) {
	var sb strings.Builder
	for range 1000 {
		sb.WriteString("1,2,3\n")
	}
	ctx, cancel := context.WithCancel(context.Background())
	rowCh, errCh := StreamCSV(ctx, strings.NewReader(sb.String()), CSVOptions{})

	<-rowCh
	cancel()
	for range rowCh { //nolint:revive // drain
	}
	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"plain", []string{"a", "b"}, []string{"a", "b"}},
		{"index column", []string{"", "a"}, []string{"_index", "a"}},
		{"blank later", []string{"a", " ", "c"}, []string{"a", "column_2", "c"}},
		{"repeats", []string{"a", "a", "a"}, []string{"a", "a.1", "a.2"}},
		{"suffix collision", []string{"a", "a.1", "a"}, []string{"a", "a.1", "a.2"}},
		{"trimmed", []string{" lat ", "lon"}, []string{"lat", "lon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeHeader(tt.in))
		})
	}
}
