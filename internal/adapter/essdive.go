package adapter

import "github.com/sells-group/geo-catalog/internal/model"

// ESSDive reads the ESS-DIVE package listing. Packages are located by the
// centroid of their spatial coverage.
type ESSDive struct{ base }

// NewESSDive returns the ESS-DIVE adapter.
func NewESSDive() *ESSDive {
	return &ESSDive{base{
		system:    model.SystemESSDive,
		file:      "ess_dive_packages.csv",
		format:    FormatCSV,
		idFields:  []string{"package_id"},
		latFields: []string{"centroid_latitude"},
		lonFields: []string{"centroid_longitude"},
	}}
}
