package fetcher

import (
	"archive/zip"
	"io"

	"github.com/rotisserie/eris"
)

// OpenZIPSingle opens the only file inside a ZIP archive for reading.
// Directories are ignored; archives holding zero or several files are
// rejected.
func OpenZIPSingle(zipPath string) (io.ReadCloser, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}

	var files []*zip.File
	for _, f := range r.File {
		if !f.FileInfo().IsDir() {
			files = append(files, f)
		}
	}

	if len(files) != 1 {
		r.Close() //nolint:errcheck
		return nil, eris.Errorf("zip: expected exactly 1 file, got %d", len(files))
	}

	rc, err := files[0].Open()
	if err != nil {
		r.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "zip: open entry")
	}

	return &stackedReader{Reader: rc, closers: []io.Closer{rc, r}}, nil
}
