package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Row is one schema-less record parsed from an upload. Keys keep the order in
// which they first appeared in the source. Values are one of: string,
// json.Number, bool, nil, or json.RawMessage for nested objects and arrays.
type Row struct {
	keys   []string
	values map[string]any
}

// NewRow returns an empty row with room for n keys.
func NewRow(n int) *Row {
	return &Row{
		keys:   make([]string, 0, n),
		values: make(map[string]any, n),
	}
}

// Set stores v under key. Re-setting an existing key replaces the value but
// keeps its original position.
func (r *Row) Set(key string, v any) {
	if _, exists := r.values[key]; !exists {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Get returns the value stored under key.
func (r *Row) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the keys in source order. The slice must not be modified.
func (r *Row) Keys() []string {
	return r.keys
}

func (r *Row) Len() int {
	return len(r.keys)
}

// Clone returns a shallow copy that can be extended without touching r.
func (r *Row) Clone() *Row {
	c := NewRow(len(r.keys) + 4)
	for _, k := range r.keys {
		c.Set(k, r.values[k])
	}
	return c
}

// MarshalJSON encodes the row as a JSON object with keys in source order.
func (r *Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		val, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("failed to encode %q: %w", k, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
