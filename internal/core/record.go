package core

import (
	"bytes"
	"encoding/json"
	"iter"
)

// Record is one transaction row: column name to raw cell value.
//
// The column set comes from the header row of the export, so it is only
// known at runtime. Fields keep header order, which makes iteration and
// JSON output deterministic.
type Record struct {
	names  []string
	values map[string]string
}

// NewRecord builds a record from parallel name and value slices.
// Names must be unique and non-empty; the parser guarantees both.
func NewRecord(names, values []string) Record {
	r := Record{
		names:  make([]string, 0, len(names)),
		values: make(map[string]string, len(names)),
	}
	for i, name := range names {
		r.set(name, values[i])
	}
	return r
}

func (r *Record) set(name, value string) {
	if _, ok := r.values[name]; !ok {
		r.names = append(r.names, name)
	}
	r.values[name] = value
}

// Get returns the value of a column and whether the column exists.
func (r Record) Get(name string) (string, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Value returns the value of a column, or "" when absent.
func (r Record) Value(name string) string {
	return r.values[name]
}

// Len returns the number of columns.
func (r Record) Len() int { return len(r.names) }

// Names returns the column names in header order.
func (r Record) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Fields iterates over name/value pairs in header order.
func (r Record) Fields() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, name := range r.names {
			if !yield(name, r.values[name]) {
				return
			}
		}
	}
}

// Map returns a copy of the record as a plain map.
func (r Record) Map() map[string]string {
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Equal reports whether two records hold the same columns in the same order.
func (r Record) Equal(other Record) bool {
	if len(r.names) != len(other.names) {
		return false
	}
	for i, name := range r.names {
		if other.names[i] != name || other.values[name] != r.values[name] {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the record as a JSON object in header order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.values[name])
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
