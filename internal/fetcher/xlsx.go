package fetcher

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions configures the XLSX reader.
type XLSXOptions struct {
	SheetIndex int             // default 0
	SheetName  string          // if set, overrides SheetIndex
	HeaderCh   chan<- []string // receives the normalized first row
	// PadRows extends rows shorter than the header with empty cells.
	PadRows bool
}

// StreamXLSX reads one worksheet and sends its rows to a channel, in the
// same shape StreamCSV produces with HasHeader set: the first row is
// normalized by NormalizeHeader and goes to HeaderCh. Both channels are
// closed when processing completes.
func StreamXLSX(ctx context.Context, path string, opts XLSXOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		f, err := xlsx.OpenFile(path)
		if err != nil {
			errCh <- eris.Wrap(err, "xlsx: open file")
			return
		}

		sheet, err := getSheet(f, opts)
		if err != nil {
			errCh <- err
			return
		}

		width := 0
		for i, row := range sheet.Rows {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "xlsx: context cancelled")
				return
			}

			cells := rowToStrings(row)

			if i == 0 {
				cells = NormalizeHeader(cells)
				width = len(cells)
				if opts.HeaderCh != nil {
					select {
					case opts.HeaderCh <- cells:
					case <-ctx.Done():
						errCh <- eris.Wrap(ctx.Err(), "xlsx: context cancelled sending header")
						return
					}
				}
				continue
			}

			if isBlankRow(cells) {
				continue
			}
			if opts.PadRows && len(cells) < width {
				cells = append(cells, make([]string, width-len(cells))...)
			}

			select {
			case rowCh <- cells:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "xlsx: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

// isBlankRow reports whether every cell is empty; spreadsheets often carry
// formatted but empty trailing rows.
func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
