package adapter

import "github.com/sells-group/geo-catalog/internal/model"

// EMSL reads the EMSL project location export, a JSON array of objects
// keyed by proposal_id.
type EMSL struct{ base }

// NewEMSL returns the EMSL adapter.
func NewEMSL() *EMSL {
	return &EMSL{base{
		system:    model.SystemEMSL,
		file:      "latlon_project_ids.json",
		format:    FormatJSON,
		idFields:  []string{"proposal_id"},
		latFields: []string{"latitude"},
		lonFields: []string{"longitude"},
	}}
}
