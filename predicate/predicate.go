// Package predicate builds and validates filter trees over registered
// entities. Construction is declarative and schema-free; Compile checks the
// tree against the registry and normalizes it into a form the engine can
// render onto SQL statements. Compilation is pure: it has no side effects
// and issues no statements.
package predicate

import (
	"github.com/regentdb/regent"
	"github.com/regentdb/regent/dialect/sql"
	"github.com/regentdb/regent/schema"
)

// Op is a field comparison operator.
type Op uint8

// Field comparison operators.
const (
	OpEQ Op = iota
	OpNEQ
	OpIn
	OpNotIn
	OpGT
	OpGTE
	OpLT
	OpLTE
	OpContains
	OpContainsFold
	OpHasPrefix
	OpHasPrefixFold
	OpHasSuffix
	OpHasSuffixFold
	OpEqualFold
	OpIsNull
	OpNotNull
)

// Expr is a node of a filter tree.
type Expr interface {
	expr()
}

// AndExpr is the conjunction of its children.
type AndExpr struct{ Xs []Expr }

// OrExpr is the disjunction of its children.
type OrExpr struct{ Xs []Expr }

// NotExpr negates its child.
type NotExpr struct{ X Expr }

// FieldExpr compares a field against one or more values.
type FieldExpr struct {
	Field  string
	Op     Op
	Value  any
	Values []any // For OpIn/OpNotIn.
}

// RelExpr filters on the existence of a related row matching a sub-filter.
// A nil sub-filter matches any related row.
type RelExpr struct {
	Relation string
	X        Expr
}

func (*AndExpr) expr()   {}
func (*OrExpr) expr()    {}
func (*NotExpr) expr()   {}
func (*FieldExpr) expr() {}
func (*RelExpr) expr()   {}

// And groups the given filters with a logical AND.
func And(xs ...Expr) Expr { return &AndExpr{Xs: xs} }

// Or groups the given filters with a logical OR.
func Or(xs ...Expr) Expr { return &OrExpr{Xs: xs} }

// Not negates the given filter.
func Not(x Expr) Expr { return &NotExpr{X: x} }

// FieldEQ filters on field == v.
func FieldEQ(field string, v any) Expr { return &FieldExpr{Field: field, Op: OpEQ, Value: v} }

// FieldNEQ filters on field != v.
func FieldNEQ(field string, v any) Expr { return &FieldExpr{Field: field, Op: OpNEQ, Value: v} }

// FieldIn filters on field being a member of vs.
func FieldIn(field string, vs ...any) Expr { return &FieldExpr{Field: field, Op: OpIn, Values: vs} }

// FieldNotIn filters on field not being a member of vs.
func FieldNotIn(field string, vs ...any) Expr {
	return &FieldExpr{Field: field, Op: OpNotIn, Values: vs}
}

// FieldGT filters on field > v.
func FieldGT(field string, v any) Expr { return &FieldExpr{Field: field, Op: OpGT, Value: v} }

// FieldGTE filters on field >= v.
func FieldGTE(field string, v any) Expr { return &FieldExpr{Field: field, Op: OpGTE, Value: v} }

// FieldLT filters on field < v.
func FieldLT(field string, v any) Expr { return &FieldExpr{Field: field, Op: OpLT, Value: v} }

// FieldLTE filters on field <= v.
func FieldLTE(field string, v any) Expr { return &FieldExpr{Field: field, Op: OpLTE, Value: v} }

// FieldContains filters on field containing the substring.
func FieldContains(field, sub string) Expr {
	return &FieldExpr{Field: field, Op: OpContains, Value: sub}
}

// FieldContainsFold is the case-insensitive form of FieldContains.
func FieldContainsFold(field, sub string) Expr {
	return &FieldExpr{Field: field, Op: OpContainsFold, Value: sub}
}

// FieldHasPrefix filters on field starting with the prefix.
func FieldHasPrefix(field, prefix string) Expr {
	return &FieldExpr{Field: field, Op: OpHasPrefix, Value: prefix}
}

// FieldHasPrefixFold is the case-insensitive form of FieldHasPrefix.
func FieldHasPrefixFold(field, prefix string) Expr {
	return &FieldExpr{Field: field, Op: OpHasPrefixFold, Value: prefix}
}

// FieldHasSuffix filters on field ending with the suffix.
func FieldHasSuffix(field, suffix string) Expr {
	return &FieldExpr{Field: field, Op: OpHasSuffix, Value: suffix}
}

// FieldHasSuffixFold is the case-insensitive form of FieldHasSuffix.
func FieldHasSuffixFold(field, suffix string) Expr {
	return &FieldExpr{Field: field, Op: OpHasSuffixFold, Value: suffix}
}

// FieldEqualFold filters on case-insensitive equality.
func FieldEqualFold(field, v string) Expr {
	return &FieldExpr{Field: field, Op: OpEqualFold, Value: v}
}

// FieldNull filters on field being NULL.
func FieldNull(field string) Expr { return &FieldExpr{Field: field, Op: OpIsNull} }

// FieldNotNull filters on field not being NULL.
func FieldNotNull(field string) Expr { return &FieldExpr{Field: field, Op: OpNotNull} }

// HasRelation filters on at least one related row existing.
func HasRelation(relation string) Expr { return &RelExpr{Relation: relation} }

// HasRelationWith filters on a related row matching all the given filters.
func HasRelationWith(relation string, xs ...Expr) Expr {
	switch len(xs) {
	case 0:
		return &RelExpr{Relation: relation}
	case 1:
		return &RelExpr{Relation: relation, X: xs[0]}
	default:
		return &RelExpr{Relation: relation, X: And(xs...)}
	}
}

// Compiled is a filter tree validated against an entity. It renders onto
// SQL statements with all columns table-qualified, so it can be embedded in
// correlated subqueries.
type Compiled struct {
	entity *schema.Entity
	reg    *schema.Registry
	root   Expr
}

// Compile validates the filter tree against the named entity. A nil tree
// compiles to a match-everything predicate.
func Compile(reg *schema.Registry, entity string, x Expr) (*Compiled, error) {
	e, err := reg.Describe(entity)
	if err != nil {
		return nil, err
	}
	if x != nil {
		if err := check(reg, e, x); err != nil {
			return nil, err
		}
	}
	return &Compiled{entity: e, reg: reg, root: x}, nil
}

// Entity returns the entity the filter was compiled against.
func (c *Compiled) Entity() *schema.Entity { return c.entity }

// Empty reports whether the filter matches everything.
func (c *Compiled) Empty() bool { return c.root == nil }

// Predicate renders the compiled tree as a SQL condition for the given
// dialect. Must not be called on an empty filter.
func (c *Compiled) Predicate(dialect string) sql.P {
	return render(c.reg, c.entity, c.root, dialect)
}

// Apply merges the compiled filter into the selector's WHERE clause.
func (c *Compiled) Apply(s *sql.Selector, dialect string) *sql.Selector {
	if c.root != nil {
		s.Where(c.Predicate(dialect))
	}
	return s
}

func check(reg *schema.Registry, e *schema.Entity, x Expr) error {
	switch x := x.(type) {
	case *AndExpr:
		for _, sub := range x.Xs {
			if err := check(reg, e, sub); err != nil {
				return err
			}
		}
	case *OrExpr:
		for _, sub := range x.Xs {
			if err := check(reg, e, sub); err != nil {
				return err
			}
		}
	case *NotExpr:
		return check(reg, e, x.X)
	case *FieldExpr:
		return checkField(e, x)
	case *RelExpr:
		rel, ok := e.Relation(x.Relation)
		if !ok {
			return regent.NewUnknownRelationError(e.Name, x.Relation)
		}
		if x.X == nil {
			return nil
		}
		target, err := reg.Describe(rel.Target)
		if err != nil {
			return err
		}
		return check(reg, target, x.X)
	}
	return nil
}

func checkField(e *schema.Entity, x *FieldExpr) error {
	f, ok := e.Field(x.Field)
	if !ok {
		return regent.NewUnknownFieldError(e.Name, x.Field)
	}
	switch x.Op {
	case OpEQ, OpNEQ:
		return schema.CheckValue(e, f, x.Value)
	case OpIn, OpNotIn:
		for _, v := range x.Values {
			if err := schema.CheckValue(e, f, v); err != nil {
				return err
			}
		}
	case OpGT, OpGTE, OpLT, OpLTE:
		if !f.Type.Comparable() {
			return regent.NewIncompatibleOperatorError(e.Name, f.Name)
		}
		return schema.CheckValue(e, f, x.Value)
	case OpContains, OpContainsFold, OpHasPrefix, OpHasPrefixFold,
		OpHasSuffix, OpHasSuffixFold, OpEqualFold:
		if f.Type != schema.TypeString {
			return regent.NewIncompatibleOperatorError(e.Name, f.Name)
		}
	case OpIsNull, OpNotNull:
		if !f.Nullable {
			return regent.NewIncompatibleOperatorError(e.Name, f.Name)
		}
	}
	return nil
}

func render(reg *schema.Registry, e *schema.Entity, x Expr, dialect string) sql.P {
	switch x := x.(type) {
	case *AndExpr:
		ps := make([]sql.P, len(x.Xs))
		for i, sub := range x.Xs {
			ps[i] = render(reg, e, sub, dialect)
		}
		return sql.And(ps...)
	case *OrExpr:
		ps := make([]sql.P, len(x.Xs))
		for i, sub := range x.Xs {
			ps[i] = render(reg, e, sub, dialect)
		}
		return sql.Or(ps...)
	case *NotExpr:
		return sql.Not(render(reg, e, x.X, dialect))
	case *FieldExpr:
		return renderField(e, x)
	case *RelExpr:
		return renderRel(reg, e, x, dialect)
	}
	panic("predicate: unknown expression node")
}

func renderField(e *schema.Entity, x *FieldExpr) sql.P {
	col := e.Table + "." + x.Field
	switch x.Op {
	case OpEQ:
		return sql.EQ(col, x.Value)
	case OpNEQ:
		return sql.NEQ(col, x.Value)
	case OpIn:
		return sql.In(col, x.Values...)
	case OpNotIn:
		return sql.NotIn(col, x.Values...)
	case OpGT:
		return sql.GT(col, x.Value)
	case OpGTE:
		return sql.GTE(col, x.Value)
	case OpLT:
		return sql.LT(col, x.Value)
	case OpLTE:
		return sql.LTE(col, x.Value)
	case OpContains:
		return sql.Contains(col, x.Value.(string))
	case OpContainsFold:
		return sql.ContainsFold(col, x.Value.(string))
	case OpHasPrefix:
		return sql.HasPrefix(col, x.Value.(string))
	case OpHasPrefixFold:
		return sql.HasPrefixFold(col, x.Value.(string))
	case OpHasSuffix:
		return sql.HasSuffix(col, x.Value.(string))
	case OpHasSuffixFold:
		return sql.HasSuffixFold(col, x.Value.(string))
	case OpEqualFold:
		return sql.EqualFold(col, x.Value.(string))
	case OpIsNull:
		return sql.IsNull(col)
	default:
		return sql.NotNull(col)
	}
}

// renderRel renders a relation-existence filter as a correlated EXISTS
// subquery. For owning relations the subquery matches the target's primary
// key against the local foreign key; for inverse relations it matches the
// target's foreign key against the local primary key.
func renderRel(reg *schema.Registry, e *schema.Entity, x *RelExpr, dialect string) sql.P {
	rel, _ := e.Relation(x.Relation)
	target, err := reg.Describe(rel.Target)
	if err != nil {
		panic("predicate: compiled tree references unknown entity " + rel.Target)
	}
	sub := sql.Dialect(dialect).Select("1").From(target.Table)
	if rel.Owner() {
		sub.Where(sql.ColumnsEQ(target.Table+"."+schema.ID, e.Table+"."+rel.FK))
	} else {
		sub.Where(sql.ColumnsEQ(target.Table+"."+rel.FK, e.Table+"."+schema.ID))
	}
	if x.X != nil {
		sub.Where(render(reg, target, x.X, dialect))
	}
	return sql.Exists(sub)
}
