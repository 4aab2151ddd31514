package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
)

// Field is one metadata entry.
type Field struct {
	Key   string
	Value any
}

// Metadata is an ordered set of source fields carried verbatim on a record.
// Values are strings for CSV sources and decoded JSON values (string,
// json.Number, bool, nil, map[string]any, []any) for JSON sources.
type Metadata []Field

// Get returns the value stored under key.
func (m Metadata) Get(key string) (any, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// GetString returns the value under key rendered as text, or "".
func (m Metadata) GetString(key string) string {
	v, ok := m.Get(key)
	if !ok {
		return ""
	}
	return ValueString(v)
}

// Set replaces the value under key, appending the key if it is new.
func (m *Metadata) Set(key string, value any) {
	for i := range *m {
		if (*m)[i].Key == key {
			(*m)[i].Value = value
			return
		}
	}
	*m = append(*m, Field{Key: key, Value: value})
}

// OrEmpty returns m, or an empty non-nil Metadata when m is nil.
func (m Metadata) OrEmpty() Metadata {
	if m == nil {
		return Metadata{}
	}
	return m
}

// Keys returns the keys in order.
func (m Metadata) Keys() []string {
	keys := make([]string, len(m))
	for i, f := range m {
		keys[i] = f.Key
	}
	return keys
}

// MarshalJSON writes the fields as a JSON object preserving order.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, eris.Wrapf(err, "model: marshal metadata key %q", f.Key)
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, eris.Wrapf(err, "model: marshal metadata value for %q", f.Key)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping key order. Nested values are
// decoded with json.Number for numbers.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return eris.Wrap(err, "model: read metadata")
	}
	if tok == nil {
		*m = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return eris.Errorf("model: metadata must be an object, got %v", tok)
	}

	out := Metadata{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return eris.Wrap(err, "model: read metadata key")
		}
		key, ok := keyTok.(string)
		if !ok {
			return eris.Errorf("model: metadata key is %T", keyTok)
		}
		var val any
		if err := dec.Decode(&val); err != nil {
			return eris.Wrapf(err, "model: read metadata value for %q", key)
		}
		out = append(out, Field{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return eris.Wrap(err, "model: read metadata close")
	}
	*m = out
	return nil
}

// ValueString renders a metadata value as flat text for CSV and popups.
// Objects and arrays are rendered as compact JSON.
func ValueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}
