// Package fetcher stages remote source files locally and opens them for
// streaming: HTTP, FTP and S3 transports, transparent decompression,
// charset decoding, and CSV, JSON and XLSX readers.
package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune            // default ','
	HasHeader  bool            // if true, first row is normalized and sent to HeaderCh
	HeaderCh   chan<- []string // optional: receives the header row
	Comment    rune            // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
	// PadRows extends rows shorter than the header with empty cells.
	PadRows bool
}

// StreamCSV reads CSV rows and sends them to a channel. Both channels are
// closed when processing completes; at most one error is sent.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

		width := 0
		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			if first && opts.HasHeader {
				first = false
				record = NormalizeHeader(record)
				width = len(record)
				if opts.HeaderCh != nil {
					select {
					case opts.HeaderCh <- record:
					case <-ctx.Done():
						errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled sending header")
						return
					}
				}
				continue
			}
			first = false

			if opts.PadRows && len(record) < width {
				record = append(record, make([]string, width-len(record))...)
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// NormalizeHeader makes every column name non-empty and unique. A blank
// first column (a written-out row index) becomes "_index", other blank
// columns become "column_<n>" (1-based), and repeats of a name get ".1",
// ".2", ... suffixes in order of appearance.
func NormalizeHeader(header []string) []string {
	out := make([]string, len(header))
	used := make(map[string]bool, len(header))
	for i, h := range header {
		base := strings.TrimSpace(h)
		if base == "" {
			if i == 0 {
				base = "_index"
			} else {
				base = "column_" + strconv.Itoa(i+1)
			}
		}
		name := base
		for n := 1; used[name]; n++ {
			name = base + "." + strconv.Itoa(n)
		}
		used[name] = true
		out[i] = name
	}
	return out
}
