package domain

import (
	"bytes"
	"encoding/json"
)

// Document is the flat key/value record sent to a remote collection.
// Keys keep their first insertion position; setting an existing key replaces its value.
type Document struct {
	keys   []string
	values map[string]any
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	return &Document{values: make(map[string]any)}
}

// Set assigns a value, overwriting any previous value for the key.
func (d *Document) Set(key string, value any) {
	if d.values == nil {
		d.values = make(map[string]any)
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// Get returns the value for key.
func (d *Document) Get(key string) (any, bool) {
	v, ok := d.values[key]
	return v, ok
}

// ID returns the document id or an empty string.
func (d *Document) ID() string {
	id, _ := d.values[FieldID].(string)
	return id
}

// Keys returns the keys in insertion order.
func (d *Document) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Len returns the number of fields.
func (d *Document) Len() int {
	return len(d.keys)
}

// IsEmpty reports whether the document has no fields.
func (d *Document) IsEmpty() bool {
	return len(d.keys) == 0
}

// Map returns a copy of the fields as a plain map.
func (d *Document) Map() map[string]any {
	out := make(map[string]any, len(d.keys))
	for _, k := range d.keys {
		out[k] = d.values[k]
	}
	return out
}

// MarshalJSON encodes the fields in insertion order.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(d.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
