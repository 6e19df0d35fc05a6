// Package schema holds the registry of entity descriptors the engine
// validates and plans against. A registry is pure data: it is built once at
// startup, validated, and never mutated afterwards.
package schema

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/regentdb/regent"
)

// Type is the declared scalar type of a field.
type Type uint8

// Declared field types.
const (
	TypeInvalid Type = iota
	TypeInt
	TypeFloat
	TypeString
	TypeBool
	TypeTime
	TypeEnum
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "time"
	case TypeEnum:
		return "enum"
	default:
		return "invalid"
	}
}

// Numeric reports whether the type supports sum/average aggregation.
func (t Type) Numeric() bool { return t == TypeInt || t == TypeFloat }

// Comparable reports whether the type supports range operators and min/max.
func (t Type) Comparable() bool {
	switch t {
	case TypeInt, TypeFloat, TypeString, TypeTime:
		return true
	default:
		return false
	}
}

// Field describes a scalar column of an entity.
type Field struct {
	Name     string
	Type     Type
	Nullable bool
	Unique   bool
	Values   []string // Declared value set for enum fields.
}

// String returns a string field descriptor.
func String(name string) *Field { return &Field{Name: name, Type: TypeString} }

// Int returns an integer field descriptor.
func Int(name string) *Field { return &Field{Name: name, Type: TypeInt} }

// Float returns a float field descriptor.
func Float(name string) *Field { return &Field{Name: name, Type: TypeFloat} }

// Bool returns a boolean field descriptor.
func Bool(name string) *Field { return &Field{Name: name, Type: TypeBool} }

// Time returns a timestamp field descriptor.
func Time(name string) *Field { return &Field{Name: name, Type: TypeTime} }

// Enum returns an enum field descriptor with its declared value set.
func Enum(name string, values ...string) *Field {
	return &Field{Name: name, Type: TypeEnum, Values: values}
}

// SetNullable marks the field as nullable.
func (f *Field) SetNullable() *Field {
	f.Nullable = true
	return f
}

// SetUnique marks the field as unique.
func (f *Field) SetUnique() *Field {
	f.Unique = true
	return f
}

// HasValue reports whether v belongs to the enum's declared value set.
func (f *Field) HasValue(v string) bool {
	for _, ev := range f.Values {
		if ev == v {
			return true
		}
	}
	return false
}

// Rel is the cardinality of a relation.
type Rel uint8

// Relation cardinalities. The owning side of O2O and M2O holds the foreign
// key; O2M and O2OInv are inverses whose foreign key lives on the target.
const (
	O2O    Rel = iota // One-to-one, owning side: FK on this entity, unique.
	O2OInv            // One-to-one, inverse side: unique FK on the target.
	M2O               // Many-to-one: FK on this entity.
	O2M               // One-to-many: FK on the target entity.
)

// String returns the cardinality name.
func (r Rel) String() string {
	switch r {
	case O2O, O2OInv:
		return "one-to-one"
	case M2O:
		return "many-to-one"
	default:
		return "one-to-many"
	}
}

// Relation describes a declared association to another entity.
type Relation struct {
	Name     string // Relation name, e.g. "department".
	Target   string // Target entity name, e.g. "Department".
	Kind     Rel
	FK       string // FK column: on this entity for O2O/M2O, on the target for O2M.
	Required bool   // The FK must resolve to an existing target row.
}

// ToOne reports whether the relation resolves to at most one row.
func (r *Relation) ToOne() bool { return r.Kind != O2M }

// Owner reports whether this entity holds the foreign key.
func (r *Relation) Owner() bool { return r.Kind == O2O || r.Kind == M2O }

// ToOne returns a required to-one relation (FK on this entity, unique).
func ToOne(name, target, fk string) *Relation {
	return &Relation{Name: name, Target: target, Kind: O2O, FK: fk, Required: true}
}

// HasOne returns the inverse side of a one-to-one relation (unique FK on
// the target entity). Absence of a match is not an error.
func HasOne(name, target, fk string) *Relation {
	return &Relation{Name: name, Target: target, Kind: O2OInv, FK: fk}
}

// BelongsTo returns a required many-to-one relation (FK on this entity).
func BelongsTo(name, target, fk string) *Relation {
	return &Relation{Name: name, Target: target, Kind: M2O, FK: fk, Required: true}
}

// HasMany returns a one-to-many relation (FK on the target entity).
func HasMany(name, target, fk string) *Relation {
	return &Relation{Name: name, Target: target, Kind: O2M, FK: fk}
}

// SetOptional marks the relation's foreign key as nullable.
func (r *Relation) SetOptional() *Relation {
	r.Required = false
	return r
}

// Entity describes one modeled record type. ID is an implicit integer
// primary key named "id" on every entity.
type Entity struct {
	Name  string // Entity name, e.g. "DocumentType".
	Table string // Backing table, derived from the name unless overridden.
	Label string // Human-readable label used in error context.

	fields    []*Field
	relations []*Relation
	fieldIdx  map[string]*Field
	relIdx    map[string]*Relation
}

// ID is the implicit primary-key column of every entity.
const ID = "id"

var titler = cases.Title(language.English)

// NewEntity returns an entity descriptor with the given fields.
func NewEntity(name string, fields ...*Field) *Entity {
	snake := inflect.Underscore(name)
	e := &Entity{
		Name:     name,
		Table:    inflect.Pluralize(snake),
		Label:    titler.String(strings.ReplaceAll(snake, "_", " ")),
		fieldIdx: make(map[string]*Field),
		relIdx:   make(map[string]*Relation),
	}
	for _, f := range fields {
		e.fields = append(e.fields, f)
		e.fieldIdx[f.Name] = f
	}
	return e
}

// WithRelations attaches relations to the entity.
func (e *Entity) WithRelations(rels ...*Relation) *Entity {
	for _, r := range rels {
		e.relations = append(e.relations, r)
		e.relIdx[r.Name] = r
	}
	return e
}

// Fields returns the declared scalar fields, excluding the implicit id.
func (e *Entity) Fields() []*Field { return e.fields }

// Relations returns the declared relations.
func (e *Entity) Relations() []*Relation { return e.relations }

// Field returns the descriptor of the named field. The implicit id resolves
// to a unique integer field.
func (e *Entity) Field(name string) (*Field, bool) {
	if name == ID {
		return &Field{Name: ID, Type: TypeInt, Unique: true}, true
	}
	f, ok := e.fieldIdx[name]
	return f, ok
}

// Relation returns the descriptor of the named relation.
func (e *Entity) Relation(name string) (*Relation, bool) {
	r, ok := e.relIdx[name]
	return r, ok
}

// Columns returns all column names, id first, in declaration order.
func (e *Entity) Columns() []string {
	cols := make([]string, 0, len(e.fields)+1)
	cols = append(cols, ID)
	for _, f := range e.fields {
		cols = append(cols, f.Name)
	}
	return cols
}

// CheckValue validates that v is assignable to the field under its declared
// type, including enum membership. A nil value is only legal on nullable
// fields.
func CheckValue(e *Entity, f *Field, v any) error {
	if v == nil {
		if !f.Nullable {
			return regent.NewIncompatibleOperatorError(e.Name, f.Name)
		}
		return nil
	}
	rv := reflect.ValueOf(v)
	switch f.Type {
	case TypeInt:
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return nil
		}
	case TypeFloat:
		switch rv.Kind() {
		case reflect.Float32, reflect.Float64, reflect.Int, reflect.Int32, reflect.Int64:
			return nil
		}
	case TypeString:
		if rv.Kind() == reflect.String {
			return nil
		}
	case TypeBool:
		if rv.Kind() == reflect.Bool {
			return nil
		}
	case TypeTime:
		if _, ok := v.(time.Time); ok {
			return nil
		}
	case TypeEnum:
		if rv.Kind() != reflect.String {
			return regent.NewIncompatibleOperatorError(e.Name, f.Name)
		}
		if !f.HasValue(rv.String()) {
			return regent.NewInvalidEnumValueError(e.Name, f.Name)
		}
		return nil
	}
	return regent.NewIncompatibleOperatorError(e.Name, f.Name)
}

// Registry is the immutable set of registered entities.
type Registry struct {
	entities map[string]*Entity
	order    []string
}

// NewRegistry builds and validates a registry. Construction fails if a
// relation targets an unregistered entity or names a foreign-key column
// that does not exist on the owning side.
func NewRegistry(entities ...*Entity) (*Registry, error) {
	r := &Registry{entities: make(map[string]*Entity, len(entities))}
	for _, e := range entities {
		if _, dup := r.entities[e.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate entity %q", e.Name)
		}
		r.entities[e.Name] = e
		r.order = append(r.order, e.Name)
	}
	for _, e := range r.entities {
		for _, rel := range e.relations {
			target, ok := r.entities[rel.Target]
			if !ok {
				return nil, fmt.Errorf("schema: relation %s.%s targets unknown entity %q",
					e.Name, rel.Name, rel.Target)
			}
			holder := e
			if !rel.Owner() {
				holder = target
			}
			fk, ok := holder.Field(rel.FK)
			if !ok {
				return nil, fmt.Errorf("schema: relation %s.%s names missing fk column %q on %s",
					e.Name, rel.Name, rel.FK, holder.Name)
			}
			if (rel.Kind == O2O || rel.Kind == O2OInv) && !fk.Unique {
				return nil, fmt.Errorf("schema: one-to-one relation %s.%s requires a unique fk column %q",
					e.Name, rel.Name, rel.FK)
			}
			if rel.Owner() && rel.Required && fk.Nullable {
				return nil, fmt.Errorf("schema: required relation %s.%s has a nullable fk column %q",
					e.Name, rel.Name, rel.FK)
			}
		}
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on error. Intended for fixed,
// build-time schemas.
func MustRegistry(entities ...*Entity) *Registry {
	r, err := NewRegistry(entities...)
	if err != nil {
		panic(err)
	}
	return r
}

// Describe returns the descriptor of the named entity.
func (r *Registry) Describe(name string) (*Entity, error) {
	e, ok := r.entities[name]
	if !ok {
		return nil, regent.NewUnknownEntityError(name)
	}
	return e, nil
}

// Entities returns all registered entity names in registration order.
func (r *Registry) Entities() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Reference names a relation on another entity that points at a given
// target entity.
type Reference struct {
	Entity   *Entity
	Relation *Relation
}

// ReferencedBy returns the relations on other entities that hold a required
// reference to the given entity. Used to veto deletes that would orphan
// required relations.
func (r *Registry) ReferencedBy(name string) []Reference {
	var out []Reference
	for _, en := range r.order {
		e := r.entities[en]
		for _, rel := range e.relations {
			if rel.Target == name && rel.Owner() && rel.Required {
				out = append(out, Reference{Entity: e, Relation: rel})
			}
		}
	}
	return out
}
