package workbook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Row is one spreadsheet row keyed by column header.
//
// Rows remember the order in which columns were first set so that a row
// serialized at import time comes back out of an export with the same
// column layout. The zero value is an empty row ready to use.
type Row struct {
	keys   []string
	values map[string]any
}

// NewRow builds a row from alternating key/value pairs.
func NewRow(pairs ...any) Row {
	var r Row
	for i := 0; i+1 < len(pairs); i += 2 {
		r.Set(fmt.Sprint(pairs[i]), pairs[i+1])
	}
	return r
}

// Set stores v under key, appending key to the column order if new.
func (r *Row) Set(key string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Get returns the value stored under key.
func (r Row) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// String returns the cell under key formatted as text, or "" if absent.
func (r Row) String(key string) string {
	v, ok := r.values[key]
	if !ok || v == nil {
		return ""
	}
	return CellText(v)
}

// Keys returns the column names in insertion order.
func (r Row) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Len returns the number of populated columns.
func (r Row) Len() int {
	return len(r.keys)
}

// Clone returns a copy that can be mutated independently.
func (r Row) Clone() Row {
	c := Row{keys: append([]string(nil), r.keys...)}
	if r.values != nil {
		c.values = make(map[string]any, len(r.values))
		for k, v := range r.values {
			c.values[k] = v
		}
	}
	return c
}

// CellText formats a cell value the way it would appear in a spreadsheet.
func CellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// MarshalJSON encodes the row as a JSON object with keys in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("encode column %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the key order of the input.
// Numbers are kept as json.Number so they round-trip without float drift.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("row: expected object, got %v", tok)
	}

	*r = Row{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("row: expected key, got %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("row: decode %q: %w", key, err)
		}
		r.Set(key, v)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
