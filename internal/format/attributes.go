package format

import (
	"bytes"
	"encoding/json"
)

// Attributes is an ordered attribute map. It marshals as a JSON object whose
// keys keep the result-set column order.
type Attributes struct {
	keys []string
	vals []any
}

// Set appends key, or replaces its value if already present.
func (a *Attributes) Set(key string, val any) {
	for i, k := range a.keys {
		if k == key {
			a.vals[i] = val
			return
		}
	}
	a.keys = append(a.keys, key)
	a.vals = append(a.vals, val)
}

// Get returns the value stored under key.
func (a Attributes) Get(key string) (any, bool) {
	for i, k := range a.keys {
		if k == key {
			return a.vals[i], true
		}
	}
	return nil, false
}

// Keys returns the attribute names in order.
func (a Attributes) Keys() []string { return a.keys }

// Len is the number of attributes.
func (a Attributes) Len() int { return len(a.keys) }

func (a Attributes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range a.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(a.vals[i])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
