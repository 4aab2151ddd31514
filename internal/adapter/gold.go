package adapter

import "github.com/sells-group/geo-catalog/internal/model"

// JGIBiosamples reads GOLD biosample coordinates.
type JGIBiosamples struct{ base }

// NewJGIBiosamples returns the GOLD biosample adapter.
func NewJGIBiosamples() *JGIBiosamples {
	return &JGIBiosamples{goldBase(model.SystemJGIBiosamples, "jgi_gold_biosample_geo.csv")}
}

// JGIOrganism reads GOLD organism isolation coordinates.
type JGIOrganism struct{ base }

// NewJGIOrganism returns the GOLD organism adapter.
func NewJGIOrganism() *JGIOrganism {
	return &JGIOrganism{goldBase(model.SystemJGIOrganism, "jgi_gold_organism_geo.csv")}
}

// Both GOLD exports share one layout and are large.
func goldBase(system model.SystemName, file string) base {
	return base{
		system:    system,
		file:      file,
		format:    FormatCSV,
		large:     true,
		idFields:  []string{"gold_id"},
		latFields: []string{"latitude"},
		lonFields: []string{"longitude"},
	}
}
