package adapter

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/sells-group/geo-catalog/internal/model"
)

// normalizeKey folds a column name for case-insensitive lookup.
func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// lookup returns the first field whose key matches one of names and whose
// value is not blank, along with the source key as written.
func lookup(raw model.Metadata, names ...string) (string, any, bool) {
	for _, name := range names {
		want := normalizeKey(name)
		for _, f := range raw {
			if normalizeKey(f.Key) != want {
				continue
			}
			if isBlank(f.Value) {
				continue
			}
			return f.Key, f.Value, true
		}
	}
	return "", nil, false
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}

// without returns raw minus every field whose key matches one of names.
func without(raw model.Metadata, names ...string) model.Metadata {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[normalizeKey(n)] = true
	}
	out := make(model.Metadata, 0, len(raw))
	for _, f := range raw {
		if drop[normalizeKey(f.Key)] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// normalizeID trims and NFC-normalizes an identifier. Numbers are rendered
// as their shortest decimal text.
func normalizeID(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = decimalText(t.String())
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	default:
		return "", false
	}
	s = model.NormalizeID(s)
	return s, s != ""
}

// decimalText rewrites exponent or fractional JSON numbers ("1e3", "12.0")
// as plain decimals ("1000", "12"). Integer literals pass through untouched
// so large ids keep every digit.
func decimalText(n string) string {
	if !strings.ContainsAny(n, ".eE") {
		return n
	}
	f, err := strconv.ParseFloat(n, 64)
	if err != nil {
		return n
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// parseCoordinate coerces a raw value to a finite float64. The returned
// reason is empty on success.
func parseCoordinate(v any) (float64, string) {
	var f float64
	switch t := v.(type) {
	case nil:
		return 0, ReasonMissingCoordinate
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, ReasonMissingCoordinate
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, ReasonInvalidCoordinate
		}
		f = parsed
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, ReasonInvalidCoordinate
		}
		f = parsed
	case float64:
		f = t
	default:
		return 0, ReasonInvalidCoordinate
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ReasonInvalidCoordinate
	}
	return f, ""
}

// rangeReason checks lat/lon bounds.
func rangeReason(lat, lon float64) string {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return ReasonOutOfRange
	}
	return ""
}
