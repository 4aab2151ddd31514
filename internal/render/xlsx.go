package render

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/geo-catalog/internal/model"
)

// SheetName names the single worksheet of an XLSX export.
const SheetName = "records"

// XLSX writes hits as a one-sheet workbook with the same columns as CSV.
// Coordinates and distances are numeric cells.
func XLSX(w io.Writer, hits []model.Hit) error {
	t := newTable(hits)

	file := xlsx.NewFile()
	sheet, err := file.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "render: add xlsx sheet")
	}

	header := sheet.AddRow()
	for _, name := range t.header {
		header.AddCell().SetString(name)
	}

	for _, h := range hits {
		row := sheet.AddRow()
		row.AddCell().SetString(h.DatasetID)
		row.AddCell().SetString(string(h.SystemName))
		row.AddCell().SetFloat(h.Coordinates.Longitude)
		row.AddCell().SetFloat(h.Coordinates.Latitude)
		if t.hasDist {
			cell := row.AddCell()
			if h.DistanceMeters != nil {
				cell.SetFloat(*h.DistanceMeters)
			}
		}
		for _, k := range t.keys {
			v, _ := h.Metadata.Get(k)
			row.AddCell().SetString(model.ValueString(v))
		}
	}

	return eris.Wrap(file.Write(w), "render: write xlsx")
}
