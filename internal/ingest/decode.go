package ingest

import (
	"context"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sells-group/geo-catalog/internal/adapter"
	"github.com/sells-group/geo-catalog/internal/fetcher"
	"github.com/sells-group/geo-catalog/internal/model"
)

// containerFor picks the reader for a discovered file from its name, falling
// back to the adapter's declared format.
func containerFor(path string, declared adapter.Format) string {
	switch strings.ToLower(filepath.Ext(fetcher.BaseName(path))) {
	case ".xlsx":
		return "xlsx"
	case ".json":
		return "json"
	case ".tsv", ".tab":
		return "tsv"
	case ".csv":
		return "csv"
	}
	return string(declared)
}

// decodeFile streams the raw records of one source file to emit, in file
// order. It stops at the first container error or when emit fails.
func decodeFile(ctx context.Context, path string, declared adapter.Format, encoding string, emit func(model.Metadata) error) error {
	// Cancelling stops the reader goroutine when emit gives up early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if containerFor(path, declared) == "xlsx" {
		headerCh := make(chan []string, 1)
		rows, errs := fetcher.StreamXLSX(ctx, path, fetcher.XLSXOptions{HeaderCh: headerCh})
		return drainRows(cancel, headerCh, rows, errs, emit)
	}

	rc, err := fetcher.OpenFile(path, fetcher.OpenOptions{Encoding: encoding})
	if err != nil {
		return err
	}
	defer rc.Close() //nolint:errcheck

	switch containerFor(path, declared) {
	case "json":
		items, errs := fetcher.DecodeJSONArray[model.Metadata](ctx, rc)
		for item := range items {
			if item == nil {
				item = model.Metadata{}
			}
			if err := emit(item); err != nil {
				cancel()
				drain(items)
				return err
			}
		}
		return <-errs
	case "tsv":
		return decodeDelimited(ctx, cancel, rc, '\t', emit)
	default:
		return decodeDelimited(ctx, cancel, rc, ',', emit)
	}
}

func decodeDelimited(ctx context.Context, cancel context.CancelFunc, r io.Reader, delim rune, emit func(model.Metadata) error) error {
	headerCh := make(chan []string, 1)
	rows, errs := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		Delimiter:  delim,
		HasHeader:  true,
		HeaderCh:   headerCh,
		LazyQuotes: true,
		PadRows:    true,
	})
	return drainRows(cancel, headerCh, rows, errs, emit)
}

// drainRows pairs each row with the header. The header arrives before the
// first row; a file with no rows at all yields no records.
func drainRows(cancel context.CancelFunc, headerCh <-chan []string, rows <-chan []string, errs <-chan error, emit func(model.Metadata) error) error {
	var header []string
	for row := range rows {
		if header == nil {
			header = <-headerCh
		}
		if err := emit(rowMetadata(header, row)); err != nil {
			cancel()
			drain(rows)
			return err
		}
	}
	if err := <-errs; err != nil {
		return err
	}
	return nil
}

// rowMetadata zips a header and a row into ordered metadata. Cells past the
// end of the header are kept as column_<n>, 1-based.
func rowMetadata(header, row []string) model.Metadata {
	m := make(model.Metadata, 0, len(row))
	for i, cell := range row {
		var key string
		if i < len(header) {
			key = header[i]
		} else {
			key = "column_" + strconv.Itoa(i+1)
		}
		m = append(m, model.Field{Key: key, Value: cell})
	}
	return m
}

func drain[T any](ch <-chan T) {
	for range ch { //nolint:revive
	}
}
