package render

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geo-catalog/internal/model"
	"github.com/sells-group/geo-catalog/internal/store"
)

// JSON writes hits as an indented array in the persisted record shape.
func JSON(w io.Writer, hits []model.Hit) error {
	if hits == nil {
		hits = []model.Hit{}
	}
	return encodeJSON(w, hits)
}

// StatsJSON writes stats as an indented object.
func StatsJSON(w io.Writer, st *store.Stats) error {
	return encodeJSON(w, st)
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "render: encode json")
}
