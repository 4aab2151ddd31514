package fetcher

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// OpenOptions configures OpenFile.
type OpenOptions struct {
	// Encoding is the charset of the file contents (any WHATWG label, e.g.
	// "utf-8", "latin1", "windows-1252"). Empty means UTF-8.
	Encoding string
}

// compressedExts lists the container suffixes OpenFile strips, in the order
// they are checked.
var compressedExts = []string{".gz", ".zst", ".lz4", ".zip"}

// BaseName returns the file name with any compression suffix removed,
// e.g. "ess_dive_packages.csv.gz" -> "ess_dive_packages.csv".
func BaseName(path string) string {
	name := filepath.Base(path)
	lower := strings.ToLower(name)
	for _, ext := range compressedExts {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

// OpenFile opens a local source file, transparently decompressing .gz,
// .zst, .lz4 and single-entry .zip files, dropping a leading byte order
// mark and decoding the configured charset to UTF-8.
func OpenFile(path string, opts OpenOptions) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open: %s", path)
	}

	rc, err := decompress(f, path)
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, err
	}

	dec, err := charsetDecoder(opts.Encoding)
	if err != nil {
		rc.Close() //nolint:errcheck
		return nil, err
	}

	return &stackedReader{
		Reader:  transform.NewReader(rc, unicode.BOMOverride(dec)),
		closers: []io.Closer{rc},
	}, nil
}

func decompress(f *os.File, path string) (io.ReadCloser, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, eris.Wrapf(err, "open: gzip header in %s", path)
		}
		return &stackedReader{Reader: zr, closers: []io.Closer{zr, f}}, nil

	case strings.HasSuffix(lower, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, eris.Wrapf(err, "open: zstd stream in %s", path)
		}
		return &stackedReader{Reader: zr, closers: []io.Closer{closerFunc(func() error { zr.Close(); return nil }), f}}, nil

	case strings.HasSuffix(lower, ".lz4"):
		return &stackedReader{Reader: lz4.NewReader(f), closers: []io.Closer{f}}, nil

	case strings.HasSuffix(lower, ".zip"):
		// archive/zip needs random access; reopen by path.
		f.Close() //nolint:errcheck
		return OpenZIPSingle(path)
	}
	return f, nil
}

func charsetDecoder(label string) (*encoding.Decoder, error) {
	if label == "" {
		return encoding.Nop.NewDecoder(), nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, eris.Wrapf(err, "open: unsupported charset %q", label)
	}
	if enc == unicode.UTF8 {
		return encoding.Nop.NewDecoder(), nil
	}
	return enc.NewDecoder(), nil
}

// stackedReader closes every layer of a decoding stack, innermost last.
type stackedReader struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReader) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
