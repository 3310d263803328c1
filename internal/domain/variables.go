package domain

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Variable is a single template variable.
type Variable struct {
	Key   string
	Value any
}

// Variables is an ordered string-keyed mapping. It encodes as a JSON object
// and keeps the insertion order on both encode and decode.
type Variables []Variable

// Get returns the value stored under key.
func (v Variables) Get(key string) (any, bool) {
	for _, kv := range v {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return nil, false
}

// Set returns a copy with key set to value, replacing in place when present.
func (v Variables) Set(key string, value any) Variables {
	out := make(Variables, len(v), len(v)+1)
	copy(out, v)
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return out
		}
	}
	return append(out, Variable{Key: key, Value: value})
}

// Merge overlays other on top of v. Existing keys keep their position and
// take the new value; new keys are appended in other's order.
func (v Variables) Merge(other Variables) Variables {
	out := v
	if out == nil {
		out = Variables{}
	}
	for _, kv := range other {
		out = out.Set(kv.Key, kv.Value)
	}
	return out
}

// Map flattens the variables into a map for template engines.
func (v Variables) Map() map[string]any {
	m := make(map[string]any, len(v))
	for _, kv := range v {
		m[kv.Key] = kv.Value
	}
	return m
}

// MarshalJSON encodes v as a JSON object in insertion order.
func (v Variables) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range v {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", kv.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping key order. Numbers stay
// json.Number so they round-trip unchanged. null decodes to an empty set.
func (v *Variables) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*v = Variables{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("variables: expected JSON object")
	}
	out := Variables{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("variables: expected string key")
		}
		var val any
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("variable %q: %w", key, err)
		}
		out = out.Set(key, val)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*v = out
	return nil
}

// Value implements driver.Valuer so Variables can be stored in a JSON column.
func (v Variables) Value() (driver.Value, error) {
	b, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for JSON columns.
func (v *Variables) Scan(src any) error {
	switch s := src.(type) {
	case nil:
		*v = Variables{}
		return nil
	case []byte:
		return v.UnmarshalJSON(s)
	case string:
		return v.UnmarshalJSON([]byte(s))
	default:
		return fmt.Errorf("variables: cannot scan %T", src)
	}
}
