package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Feature is a named numeric input of a model.
type Feature struct {
	Name  string
	Value float64
}

// Features is an ordered mapping from feature name to value.
//
// In JSON, it is an object. Encoding and decoding keep key order,
// but stores may not (jsonb sorts keys). Use Reorder before relying on positions.
type Features []Feature

// Names returns feature names in order.
func (fs Features) Names() []string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = f.Name
	}
	return names
}

// Values returns feature values in order.
func (fs Features) Values() []float64 {
	values := make([]float64, len(fs))
	for i, f := range fs {
		values[i] = f.Value
	}
	return values
}

// Get returns the value named `name`.
func (fs Features) Get(name string) (float64, bool) {
	for _, f := range fs {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

// Conforms reports whether fs has exactly `names`, in this order.
func (fs Features) Conforms(names []string) bool {
	return slices.Equal(fs.Names(), names)
}

// Reorder returns features named `names`, in this order.
//
// ok is false when fs has a different set of names.
func (fs Features) Reorder(names []string) (ordered Features, ok bool) {
	if len(fs) != len(names) {
		return nil, false
	}
	ordered = make(Features, len(names))
	for i, n := range names {
		v, found := fs.Get(n)
		if !found {
			return nil, false
		}
		ordered[i] = Feature{Name: n, Value: v}
	}
	return ordered, true
}

// Zip pairs names with values.
//
// It panics if lengths are different.
func Zip(names []string, values []float64) Features {
	if len(names) != len(values) {
		panic(fmt.Sprintf("length mismatch: %d names for %d values", len(names), len(values)))
	}
	fs := make(Features, len(names))
	for i := range names {
		fs[i] = Feature{Name: names[i], Value: values[i]}
	}
	return fs
}

func (fs Features) MarshalJSON() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte('{')
	for i, f := range fs {
		if i != 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (fs *Features) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("features should be a JSON object, but got %v", tok)
	}

	out := Features{}
	seen := map[string]struct{}{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token: %v", tok)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicated feature: %s", name)
		}
		seen[name] = struct{}{}

		var value float64
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("feature %s: %w", name, err)
		}
		out = append(out, Feature{Name: name, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*fs = out
	return nil
}
