// Package plan validates operation descriptors against the schema registry
// and turns them into execution plans: a primary statement shape for the
// target entity followed by one batched fetch step per requested relation,
// ordered so parent keys are always known before children are fetched.
package plan

import (
	"fmt"

	"github.com/regentdb/regent"
	"github.com/regentdb/regent/predicate"
	"github.com/regentdb/regent/schema"
)

// Action is the kind of operation being planned.
type Action uint8

// Supported actions.
const (
	FindUnique Action = iota
	FindMany
	Count
	Aggregate
	GroupBy
	Create
	CreateMany
	Update
	UpdateMany
	Upsert
	Delete
	DeleteMany
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case FindUnique:
		return "findUnique"
	case FindMany:
		return "findMany"
	case Count:
		return "count"
	case Aggregate:
		return "aggregate"
	case GroupBy:
		return "groupBy"
	case Create:
		return "create"
	case CreateMany:
		return "createMany"
	case Update:
		return "update"
	case UpdateMany:
		return "updateMany"
	case Upsert:
		return "upsert"
	case Delete:
		return "delete"
	case DeleteMany:
		return "deleteMany"
	default:
		return fmt.Sprintf("action(%d)", a)
	}
}

// Write reports whether the action mutates data.
func (a Action) Write() bool { return a >= Create }

type fieldsKind uint8

const (
	fieldsAll fieldsKind = iota
	fieldsOnly
	fieldsExcept
)

// Fields is the tagged selection variant: every field, an explicit
// allow-list, or a deny-list. The zero value selects everything.
type Fields struct {
	kind  fieldsKind
	names []string
}

// All selects every declared field.
func All() Fields { return Fields{} }

// Only selects exactly the named fields. The primary key is always kept.
func Only(names ...string) Fields { return Fields{kind: fieldsOnly, names: names} }

// Except selects every field but the named ones. The primary key is always kept.
func Except(names ...string) Fields { return Fields{kind: fieldsExcept, names: names} }

// Merge combines two selection requests. Requesting both an allow-list and
// a deny-list is the caller error the planner reports as ConflictingSelection.
func Merge(entity string, a, b Fields) (Fields, error) {
	switch {
	case a.kind == fieldsAll:
		return b, nil
	case b.kind == fieldsAll:
		return a, nil
	case a.kind != b.kind:
		return Fields{}, regent.NewPlanError(entity, regent.ErrConflictingSelection,
			"select and omit are mutually exclusive")
	default:
		return Fields{kind: a.kind, names: append(append([]string{}, a.names...), b.names...)}, nil
	}
}

// resolve maps the selection onto concrete columns of the entity, id first.
func (f Fields) resolve(e *schema.Entity) ([]string, error) {
	for _, name := range f.names {
		if _, ok := e.Field(name); !ok {
			return nil, regent.NewUnknownFieldError(e.Name, name)
		}
	}
	switch f.kind {
	case fieldsOnly:
		cols := []string{schema.ID}
		for _, name := range f.names {
			if name != schema.ID {
				cols = append(cols, name)
			}
		}
		return cols, nil
	case fieldsExcept:
		drop := make(map[string]bool, len(f.names))
		for _, name := range f.names {
			drop[name] = true
		}
		cols := []string{schema.ID}
		for _, fd := range e.Fields() {
			if !drop[fd.Name] {
				cols = append(cols, fd.Name)
			}
		}
		return cols, nil
	default:
		return e.Columns(), nil
	}
}

// Order is a single ordering term.
type Order struct {
	Field string
	Desc  bool
}

// Asc returns an ascending ordering term.
func Asc(field string) Order { return Order{Field: field} }

// Desc returns a descending ordering term.
func Desc(field string) Order { return Order{Field: field, Desc: true} }

// Include requests a relation to be fetched alongside the primary rows.
type Include struct {
	Relation string
	Where    predicate.Expr
	Select   Fields
	Include  []Include
	// CountOnly fetches the relation's cardinality through a grouped count
	// instead of loading child rows. Only legal on to-many relations.
	CountOnly bool
}

// Metrics is the set of aggregate computations requested per field.
type Metrics struct {
	Count bool
	Min   []string
	Max   []string
	Sum   []string
	Avg   []string
}

// Empty reports whether no metric was requested.
func (m Metrics) Empty() bool {
	return !m.Count && len(m.Min) == 0 && len(m.Max) == 0 && len(m.Sum) == 0 && len(m.Avg) == 0
}

// Operation is the caller-facing operation descriptor.
type Operation struct {
	Entity string
	Action Action

	Where    predicate.Expr
	Select   Fields
	Omit     []string // Deny-list shorthand, merged with Select.
	Include  []Include
	Order    []Order
	Skip     *int
	Take     *int
	Cursor   string // Opaque token produced by EncodeCursor.
	Distinct []string

	Data           map[string]any   // create / update / upsert update-branch values.
	CreateData     map[string]any   // upsert create-branch values.
	Rows           []map[string]any // createMany rows.
	SkipDuplicates bool             // createMany conflict policy.
	Limit          *int             // updateMany bound, applied in pk order.

	Metrics   Metrics        // aggregate.
	GroupKeys []string       // groupBy keys.
	Having    predicate.Expr // groupBy having filter over grouped keys.
}

// Step is one relation-fetch statement of a plan.
type Step struct {
	Rel       *schema.Relation
	Target    *schema.Entity
	Where     *predicate.Compiled
	Columns   []string
	Nested    []Step
	CountOnly bool
}

// Plan is a validated, executable operation.
type Plan struct {
	Entity   *schema.Entity
	Action   Action
	Where    *predicate.Compiled
	Columns  []string
	Steps    []Step
	Order    []Order
	Skip     *int
	Take     *int
	Cursor   *Cursor
	Distinct []string

	// Op carries the mutation/aggregation payload of the original descriptor.
	Op Operation

	warnings []string
}

// Warnings returns caller-visible planning warnings, e.g. pagination without
// an explicit ordering.
func (p *Plan) Warnings() []string { return p.warnings }

// Build validates the operation against the registry and produces a plan.
func Build(reg *schema.Registry, op Operation) (*Plan, error) {
	e, err := reg.Describe(op.Entity)
	if err != nil {
		return nil, err
	}
	p := &Plan{Entity: e, Action: op.Action, Op: op}

	selection := op.Select
	if len(op.Omit) > 0 {
		if selection, err = Merge(e.Name, op.Select, Except(op.Omit...)); err != nil {
			return nil, err
		}
	}
	cols, err := selection.resolve(e)
	if err != nil {
		return nil, err
	}
	p.Columns = cols

	if p.Steps, err = buildSteps(reg, e, op.Include); err != nil {
		return nil, err
	}
	// Parent keys must be selected before children can be stitched back.
	for _, s := range p.Steps {
		if s.Rel.Owner() {
			p.Columns = ensureColumn(p.Columns, s.Rel.FK)
		}
	}

	if p.Where, err = predicate.Compile(reg, e.Name, op.Where); err != nil {
		return nil, err
	}

	for _, o := range op.Order {
		if _, ok := e.Field(o.Field); !ok {
			return nil, regent.NewUnknownFieldError(e.Name, o.Field)
		}
	}
	p.Order = withTieBreak(op.Order)

	for _, d := range op.Distinct {
		if _, ok := e.Field(d); !ok {
			return nil, regent.NewUnknownFieldError(e.Name, d)
		}
	}
	if len(op.Distinct) > 0 && len(op.Include) > 0 {
		// Distinct rows have no primary key to stitch relations onto.
		return nil, regent.NewPlanError(e.Name, regent.ErrInvalidInclude,
			"include cannot be combined with distinct")
	}
	p.Distinct = op.Distinct

	if op.Cursor != "" {
		if len(op.Order) == 0 {
			return nil, regent.NewPlanError(e.Name, regent.ErrMissingOrderForCursor, "")
		}
		c, err := DecodeCursor(e.Name, op.Cursor)
		if err != nil {
			return nil, err
		}
		f, ok := e.Field(c.Field)
		if !ok {
			return nil, regent.NewUnknownFieldError(e.Name, c.Field)
		}
		if !f.Unique {
			return nil, regent.NewPlanError(e.Name, regent.ErrInvalidCursor,
				fmt.Sprintf("anchor field %q is not unique", c.Field))
		}
		p.Cursor = c
	}

	p.Skip, p.Take = op.Skip, op.Take
	if (op.Skip != nil || op.Take != nil) && len(op.Order) == 0 && op.Action == FindMany {
		p.warnings = append(p.warnings,
			"pagination without order by: row order is not deterministic across calls")
	}

	if err := checkData(reg, e, op); err != nil {
		return nil, err
	}
	return p, nil
}

func buildSteps(reg *schema.Registry, e *schema.Entity, includes []Include) ([]Step, error) {
	steps := make([]Step, 0, len(includes))
	for _, inc := range includes {
		rel, ok := e.Relation(inc.Relation)
		if !ok {
			return nil, regent.NewUnknownRelationError(e.Name, inc.Relation)
		}
		target, err := reg.Describe(rel.Target)
		if err != nil {
			return nil, err
		}
		if inc.CountOnly && rel.ToOne() {
			return nil, regent.NewPlanError(e.Name, regent.ErrInvalidInclude,
				fmt.Sprintf("count include on to-one relation %q", rel.Name))
		}
		where, err := predicate.Compile(reg, target.Name, inc.Where)
		if err != nil {
			return nil, err
		}
		cols, err := inc.Select.resolve(target)
		if err != nil {
			return nil, err
		}
		if !rel.Owner() {
			// The child's foreign key is needed to group rows per parent.
			cols = ensureColumn(cols, rel.FK)
		}
		nested, err := buildSteps(reg, target, inc.Include)
		if err != nil {
			return nil, err
		}
		for _, n := range nested {
			if n.Rel.Owner() {
				cols = ensureColumn(cols, n.Rel.FK)
			}
		}
		steps = append(steps, Step{
			Rel:       rel,
			Target:    target,
			Where:     where,
			Columns:   cols,
			Nested:    nested,
			CountOnly: inc.CountOnly,
		})
	}
	return steps, nil
}

// withTieBreak appends the primary key ascending so equal sort keys keep a
// stable order under pagination.
func withTieBreak(order []Order) []Order {
	for _, o := range order {
		if o.Field == schema.ID {
			return order
		}
	}
	out := make([]Order, 0, len(order)+1)
	out = append(out, order...)
	return append(out, Asc(schema.ID))
}

func ensureColumn(cols []string, col string) []string {
	for _, c := range cols {
		if c == col {
			return cols
		}
	}
	return append(cols, col)
}

// checkData validates mutation payload field names and value types. The
// presence of required relations is a storage-time concern handled by the
// mutation coordinator.
func checkData(reg *schema.Registry, e *schema.Entity, op Operation) error {
	checkRow := func(row map[string]any) error {
		for name, v := range row {
			f, ok := e.Field(name)
			if !ok {
				return regent.NewUnknownFieldError(e.Name, name)
			}
			if err := schema.CheckValue(e, f, v); err != nil {
				return err
			}
		}
		return nil
	}
	switch op.Action {
	case Create, Update, UpdateMany:
		return checkRow(op.Data)
	case Upsert:
		if err := checkRow(op.CreateData); err != nil {
			return err
		}
		return checkRow(op.Data)
	case CreateMany:
		for _, row := range op.Rows {
			if err := checkRow(row); err != nil {
				return err
			}
		}
	}
	return nil
}
