package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/regentdb/regent/schema"
)

// Record is one materialized row of an entity, plus any relation payloads
// stitched onto it by the relation loader. Values are keyed by field name and
// normalized to the field's declared type regardless of what the driver
// returned.
type Record struct {
	entity string
	values map[string]any

	// mu guards rels and counts: sibling relation steps load concurrently
	// and stitch onto the same parent rows.
	mu     sync.Mutex
	rels   map[string]any // *Record, []*Record, or nil for absent to-one.
	counts map[string]int64
}

func newRecord(entity string) *Record {
	return &Record{entity: entity, values: make(map[string]any)}
}

// Entity returns the name of the entity the record belongs to.
func (r *Record) Entity() string { return r.entity }

// ID returns the primary key, or zero when the id column was not selected.
func (r *Record) ID() int64 {
	id, _ := r.Int(schema.ID)
	return id
}

// Get returns the raw value of the named field.
func (r *Record) Get(field string) (any, bool) {
	v, ok := r.values[field]
	return v, ok
}

// Int returns the named field as an int64.
func (r *Record) Int(field string) (int64, bool) {
	v, ok := r.values[field].(int64)
	return v, ok
}

// Float returns the named field as a float64.
func (r *Record) Float(field string) (float64, bool) {
	v, ok := r.values[field].(float64)
	return v, ok
}

// String returns the named field as a string.
func (r *Record) String(field string) (string, bool) {
	v, ok := r.values[field].(string)
	return v, ok
}

// Bool returns the named field as a bool.
func (r *Record) Bool(field string) (bool, bool) {
	v, ok := r.values[field].(bool)
	return v, ok
}

// Time returns the named field as a time.Time.
func (r *Record) Time(field string) (time.Time, bool) {
	v, ok := r.values[field].(time.Time)
	return v, ok
}

// Null reports whether the named field was selected and is NULL.
func (r *Record) Null(field string) bool {
	v, ok := r.values[field]
	return ok && v == nil
}

// Rel returns the loaded to-one relation payload. The bool reports whether
// the relation was requested; a requested but absent optional relation
// returns (nil, true).
func (r *Record) Rel(name string) (*Record, bool) {
	v, ok := r.rels[name]
	if !ok {
		return nil, false
	}
	rec, _ := v.(*Record)
	return rec, true
}

// Rels returns the loaded to-many relation payload. A requested relation
// with no matching rows returns an empty, non-nil slice.
func (r *Record) Rels(name string) ([]*Record, bool) {
	v, ok := r.rels[name]
	if !ok {
		return nil, false
	}
	recs, _ := v.([]*Record)
	return recs, true
}

// RelCount returns the cardinality loaded for a count-only include.
func (r *Record) RelCount(name string) (int64, bool) {
	n, ok := r.counts[name]
	return n, ok
}

// Values returns a copy of the scalar values.
func (r *Record) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

func (r *Record) setRel(name string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rels == nil {
		r.rels = make(map[string]any)
	}
	r.rels[name] = v
}

func (r *Record) setCount(name string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int64)
	}
	r.counts[name] = n
}

// timeLayouts are the textual timestamp forms drivers hand back when the
// column is not scanned as a native time.Time.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// normalize coerces a driver value to the field's declared type. A nil field
// descriptor (computed expression) passes the value through unchanged.
func normalize(f *schema.Field, v any) (any, error) {
	if v == nil || f == nil {
		return v, nil
	}
	switch f.Type {
	case schema.TypeInt:
		switch v := v.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case []byte:
			var n int64
			if _, err := fmt.Sscan(string(v), &n); err != nil {
				return nil, fmt.Errorf("engine: field %q: %w", f.Name, err)
			}
			return n, nil
		}
	case schema.TypeFloat:
		switch v := v.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case []byte:
			var x float64
			if _, err := fmt.Sscan(string(v), &x); err != nil {
				return nil, fmt.Errorf("engine: field %q: %w", f.Name, err)
			}
			return x, nil
		}
	case schema.TypeString, schema.TypeEnum:
		switch v := v.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
	case schema.TypeBool:
		switch v := v.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		case []byte:
			return len(v) > 0 && v[0] != '0', nil
		}
	case schema.TypeTime:
		switch v := v.(type) {
		case time.Time:
			return v, nil
		case string:
			return parseTime(f.Name, v)
		case []byte:
			return parseTime(f.Name, string(v))
		}
	}
	return nil, fmt.Errorf("engine: field %q: cannot normalize %T to %s", f.Name, v, f.Type)
}

func parseTime(field, s string) (any, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("engine: field %q: unparsable timestamp %q", field, s)
}
