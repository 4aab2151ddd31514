package fetcher

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = "id,latitude,longitude\ness-1,38.9,-106.9\n"

func writeZIP(t *testing.T, files map[string]string, dirs ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.csv.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	w := zip.NewWriter(f)
	for _, d := range dirs {
		_, err := w.Create(d + "/")
		require.NoError(t, err)
	}
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return path
}

func writeCompressed(t *testing.T, name string, compress func(io.Writer) io.WriteCloser, content string) string {
	t.Helper()
	var buf bytes.Buffer
	w := compress(&buf)
	_, err := w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func readAll(t *testing.T, path string, opts OpenOptions) string {
	t.Helper()
	rc, err := OpenFile(path, opts)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	return string(data)
}

func TestOpenFile_Plain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "essdive.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))
	assert.Equal(t, sampleCSV, readAll(t, path, OpenOptions{}))
}

func TestOpenFile_Compressed(t *testing.T) {
	tests := []struct {
		name     string
		compress func(io.Writer) io.WriteCloser
	}{
		{"essdive.csv.gz", func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) }},
		{"essdive.csv.zst", func(w io.Writer) io.WriteCloser {
			zw, err := zstd.NewWriter(w)
			require.NoError(t, err)
			return zw
		}},
		{"essdive.csv.lz4", func(w io.Writer) io.WriteCloser { return lz4.NewWriter(w) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCompressed(t, tt.name, tt.compress, sampleCSV)
			assert.Equal(t, sampleCSV, readAll(t, path, OpenOptions{}))
		})
	}
}

func TestOpenFile_ZIPSingleEntry(t *testing.T) {
	path := writeZIP(t, map[string]string{"nested/essdive.csv": sampleCSV}, "nested")
	assert.Equal(t, sampleCSV, readAll(t, path, OpenOptions{}))
}

func TestOpenFile_ZIPRejectsManyOrNone(t *testing.T) {
	many := writeZIP(t, map[string]string{"a.csv": "a", "b.csv": "b"})
	_, err := OpenFile(many, OpenOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected exactly 1 file, got 2")

	none := writeZIP(t, nil, "empty")
	_, err = OpenFile(none, OpenOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 0")
}

func TestOpenFile_BadGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.csv.gz")
	require.NoError(t, os.WriteFile(path, []byte("not gzip"), 0o644))
	_, err := OpenFile(path, OpenOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gzip header")
}

func TestOpenFile_StripsBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nmdc.csv")
	require.NoError(t, os.WriteFile(path, append([]byte{0xEF, 0xBB, 0xBF}, sampleCSV...), 0o644))
	assert.Equal(t, sampleCSV, readAll(t, path, OpenOptions{Encoding: "utf-8"}))
}

func TestOpenFile_Latin1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emsl.csv")
	require.NoError(t, os.WriteFile(path, []byte("site\nSaint-Andr\xe9\n"), 0o644))
	assert.Equal(t, "site\nSaint-André\n", readAll(t, path, OpenOptions{Encoding: "latin1"}))
}

func TestOpenFile_Errors(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing.csv"), OpenOptions{})
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "a.csv")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	_, err = OpenFile(path, OpenOptions{Encoding: "klingon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported charset")
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "ess_dive_packages.csv", BaseName("/data/ess_dive_packages.csv.gz"))
	assert.Equal(t, "emsl.json", BaseName("emsl.json.ZST"))
	assert.Equal(t, "nmdc.csv", BaseName("nmdc.csv"))
	assert.Equal(t, "gold.xlsx", BaseName("dir/gold.xlsx.zip"))
}
