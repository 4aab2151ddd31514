package adapter

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/geo-catalog/internal/model"
)

// NMDC reads NMDC biosample coordinates. Biosamples carry a compound
// lat_lon field ("37.87 -122.26"); exports that split it into latitude and
// longitude columns are read too.
type NMDC struct {
	base
	compoundFields []string
}

// NewNMDC returns the NMDC adapter.
func NewNMDC() *NMDC {
	return &NMDC{
		base: base{
			system:    model.SystemNMDC,
			file:      "nmdc_biosample_geo_coordinates.csv",
			format:    FormatCSV,
			idFields:  []string{"biosample_id", "id"},
			latFields: []string{"latitude"},
			lonFields: []string{"longitude"},
		},
		compoundFields: []string{"lat_lon"},
	}
}

// Parse implements Adapter. A lat_lon value that cannot be read falls back
// to split columns when both are present.
func (n *NMDC) Parse(raw model.Metadata) (model.Record, error) {
	idKey, id, err := n.parseID(raw)
	if err != nil {
		return model.Record{}, err
	}

	key, val, ok := lookup(raw, n.compoundFields...)
	if !ok {
		pt, err := n.parseSplit(raw)
		if err != nil {
			return model.Record{}, err
		}
		return n.record(raw, idKey, id, pt, n.compoundFields...), nil
	}

	text := model.ValueString(val)
	lat, lon, reason := ParseLatLon(text)
	if reason == "" {
		return n.record(raw, idKey, id, model.Point{Longitude: lon, Latitude: lat}, n.compoundFields...), nil
	}
	if pt, err := n.parseSplit(raw); err == nil {
		return n.record(raw, idKey, id, pt, n.compoundFields...), nil
	}
	return model.Record{}, n.reject(reason, key, text)
}

const numberPattern = `([+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?)`

var (
	// "37.87 N 122.26 W", "37.87N,122.26W": hemisphere letters make the
	// separator optional.
	latLonHemisphere = regexp.MustCompile(`^` + numberPattern + `\s*([NS])[\s,;]*` + numberPattern + `\s*([EW])$`)
	// "37.87 -122.26", "37.87,-122.26", "37.87; -122.26"
	latLonPlain = regexp.MustCompile(`^` + numberPattern + `(?:\s*[,;]\s*|\s+)` + numberPattern + `$`)
)

// ParseLatLon reads a compound "lat lon" value. Components may be separated
// by whitespace, a comma or a semicolon, and may carry N/S/E/W suffixes, in
// which case the magnitude must be unsigned. The returned reason is empty on
// success.
func ParseLatLon(s string) (lat, lon float64, reason string) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, 0, ReasonMissingCoordinate
	}

	if m := latLonHemisphere.FindStringSubmatch(s); m != nil {
		if strings.HasPrefix(m[1], "-") || strings.HasPrefix(m[3], "-") {
			return 0, 0, ReasonInvalidCoordinate
		}
		lat, lon, reason = parsePair(m[1], m[3])
		if reason != "" {
			return 0, 0, reason
		}
		if m[2] == "S" {
			lat = -lat
		}
		if m[4] == "W" {
			lon = -lon
		}
	} else if m := latLonPlain.FindStringSubmatch(s); m != nil {
		lat, lon, reason = parsePair(m[1], m[2])
		if reason != "" {
			return 0, 0, reason
		}
	} else {
		return 0, 0, ReasonInvalidCoordinate
	}

	if reason := rangeReason(lat, lon); reason != "" {
		return 0, 0, reason
	}
	return lat, lon, ""
}

func parsePair(latText, lonText string) (float64, float64, string) {
	lat, err := strconv.ParseFloat(latText, 64)
	if err != nil {
		return 0, 0, ReasonInvalidCoordinate
	}
	lon, err := strconv.ParseFloat(lonText, 64)
	if err != nil {
		return 0, 0, ReasonInvalidCoordinate
	}
	return lat, lon, ""
}
