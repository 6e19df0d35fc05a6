package engine

import (
	"context"

	"github.com/regentdb/regent"
	dsql "github.com/regentdb/regent/dialect/sql"
	"github.com/regentdb/regent/plan"
	"github.com/regentdb/regent/predicate"
	"github.com/regentdb/regent/schema"
)

// AggregateResult holds the computed metrics of one aggregation. Min, Max
// and Avg over an empty input are nil; Sum over an empty input is the zero
// of the field's type.
type AggregateResult struct {
	Count int64
	Min   map[string]any
	Max   map[string]any
	Sum   map[string]any
	Avg   map[string]any
}

// GroupResult is one group of a group-by: its key values plus the metrics
// computed over the group's rows.
type GroupResult struct {
	Keys map[string]any
	AggregateResult
}

// aggCol is one aggregate expression of the select-list and how to fold its
// scanned value into the result.
type aggCol struct {
	expr  string
	field *schema.Field // nil for count.
	widen bool          // Result is numeric regardless of the field type.
	fold  func(*AggregateResult, any)
}

// checkMetrics validates the metric/field pairings: min and max need an
// ordered type, sum and average a numeric one.
func checkMetrics(ent *schema.Entity, m plan.Metrics) error {
	check := func(fields []string, ok func(schema.Type) bool) error {
		for _, name := range fields {
			f, found := ent.Field(name)
			if !found {
				return regent.NewUnknownFieldError(ent.Name, name)
			}
			if !ok(f.Type) {
				return regent.NewIncompatibleOperatorError(ent.Name, name)
			}
		}
		return nil
	}
	if err := check(m.Min, schema.Type.Comparable); err != nil {
		return err
	}
	if err := check(m.Max, schema.Type.Comparable); err != nil {
		return err
	}
	if err := check(m.Sum, schema.Type.Numeric); err != nil {
		return err
	}
	return check(m.Avg, schema.Type.Numeric)
}

// aggColumns expands the requested metrics into select-list expressions
// paired with their result folders.
func aggColumns(d string, ent *schema.Entity, m plan.Metrics) []aggCol {
	b := dsql.NewBuilder(d)
	col := func(name string) string { return b.Quote(ent.Table + "." + name) }
	var out []aggCol
	if m.Count {
		out = append(out, aggCol{
			expr: dsql.CountAll(),
			fold: func(r *AggregateResult, v any) { r.Count, _ = v.(int64) },
		})
	}
	add := func(fields []string, fn func(string) string, widen bool, dst func(*AggregateResult) map[string]any) {
		for _, name := range fields {
			name := name
			f, _ := ent.Field(name)
			out = append(out, aggCol{
				expr:  fn(col(name)),
				field: f,
				widen: widen,
				fold:  func(r *AggregateResult, v any) { dst(r)[name] = v },
			})
		}
	}
	add(m.Min, dsql.Min, false, func(r *AggregateResult) map[string]any { return r.Min })
	add(m.Max, dsql.Max, false, func(r *AggregateResult) map[string]any { return r.Max })
	add(m.Sum, dsql.Sum, false, func(r *AggregateResult) map[string]any { return r.Sum })
	add(m.Avg, dsql.Avg, true, func(r *AggregateResult) map[string]any { return r.Avg })
	return out
}

func newAggregateResult(m plan.Metrics) *AggregateResult {
	r := &AggregateResult{}
	if len(m.Min) > 0 {
		r.Min = make(map[string]any, len(m.Min))
	}
	if len(m.Max) > 0 {
		r.Max = make(map[string]any, len(m.Max))
	}
	if len(m.Sum) > 0 {
		r.Sum = make(map[string]any, len(m.Sum))
	}
	if len(m.Avg) > 0 {
		r.Avg = make(map[string]any, len(m.Avg))
	}
	return r
}

// foldAggRow normalizes and folds one scanned row of aggregate values.
func foldAggRow(ent *schema.Entity, cols []aggCol, vals []any, r *AggregateResult, m plan.Metrics) error {
	for i, c := range cols {
		v := vals[i]
		if c.field != nil && v != nil {
			f := c.field
			// Averages come back widened; keep them numeric rather than
			// forcing the declared type.
			if f.Type == schema.TypeInt {
				widened := c.widen
				switch v.(type) {
				case float64, float32:
					widened = true
				}
				if widened {
					f = &schema.Field{Name: f.Name, Type: schema.TypeFloat}
				}
			}
			nv, err := normalize(f, v)
			if err != nil {
				return regent.NewStorageError(ent.Name, "aggregate", err)
			}
			v = nv
		}
		c.fold(r, v)
	}
	// SQL sums over no rows are NULL; the declared semantics are zero.
	for _, name := range m.Sum {
		if r.Sum[name] != nil {
			continue
		}
		if f, _ := ent.Field(name); f != nil && f.Type == schema.TypeFloat {
			r.Sum[name] = float64(0)
		} else {
			r.Sum[name] = int64(0)
		}
	}
	return nil
}

// Aggregate computes the requested metrics over the rows matching the
// plan's filter, in a single statement.
func (e *Engine) Aggregate(ctx context.Context, p *plan.Plan) (*AggregateResult, error) {
	ent, m := p.Entity, p.Op.Metrics
	if err := checkMetrics(ent, m); err != nil {
		return nil, err
	}
	cols := aggColumns(e.dialect, ent, m)
	exprs := make([]string, len(cols))
	for i, c := range cols {
		exprs[i] = c.expr
	}
	s := dsql.Dialect(e.dialect).Select(exprs...).From(ent.Table)
	p.Where.Apply(s, e.dialect)

	stmt, args := s.Query()
	rows, err := e.query(ctx, ent.Name, "aggregate", stmt, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := newAggregateResult(m)
	if rows.Next() {
		vals, err := scanAnyRow(ent, rows, len(cols))
		if err != nil {
			return nil, err
		}
		if err := foldAggRow(ent, cols, vals, res, m); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, regent.NewStorageError(ent.Name, "aggregate", err)
	}
	return res, nil
}

// GroupBy computes per-group metrics. Every legality rule is enforced here,
// before any statement is issued: grouping keys must be non-empty and
// declared, and ordering, having and pagination may only lean on grouped
// keys.
func (e *Engine) GroupBy(ctx context.Context, p *plan.Plan) ([]*GroupResult, error) {
	ent, op := p.Entity, p.Op
	if len(op.GroupKeys) == 0 {
		return nil, regent.NewAggregationError(ent.Name, "", regent.ErrEmptyGroupKeys)
	}
	grouped := make(map[string]bool, len(op.GroupKeys))
	for _, k := range op.GroupKeys {
		if _, ok := ent.Field(k); !ok {
			return nil, regent.NewUnknownFieldError(ent.Name, k)
		}
		grouped[k] = true
	}
	// The effective plan order carries the pk tie-break; legality is judged
	// on what the caller asked for.
	for _, o := range op.Order {
		if !grouped[o.Field] {
			return nil, regent.NewAggregationError(ent.Name, o.Field, regent.ErrOrderFieldNotGrouped)
		}
	}
	if field, ok := ungroupedHavingField(op.Having, grouped); !ok {
		return nil, regent.NewAggregationError(ent.Name, field, regent.ErrHavingFieldNotGrouped)
	}
	if (op.Skip != nil || op.Take != nil) && len(op.Order) == 0 {
		return nil, regent.NewAggregationError(ent.Name, "", regent.ErrPaginationRequiresOrder)
	}
	if err := checkMetrics(ent, op.Metrics); err != nil {
		return nil, err
	}
	having, err := predicate.Compile(e.reg, ent.Name, op.Having)
	if err != nil {
		return nil, err
	}

	s := dsql.Dialect(e.dialect).Select().From(ent.Table)
	keyExprs := make([]string, len(op.GroupKeys))
	for i, k := range op.GroupKeys {
		keyExprs[i] = s.C(k)
	}
	aggs := aggColumns(e.dialect, ent, op.Metrics)
	exprs := append([]string{}, keyExprs...)
	for _, c := range aggs {
		exprs = append(exprs, c.expr)
	}
	s.Select(exprs...)
	p.Where.Apply(s, e.dialect)
	s.GroupBy(keyExprs...)
	if !having.Empty() {
		s.Having(having.Predicate(e.dialect))
	}
	s.OrderBy(orderTerms(s, op.Order)...)
	if op.Take != nil {
		s.Limit(*op.Take)
	}
	if op.Skip != nil {
		s.Offset(*op.Skip)
	}

	stmt, args := s.Query()
	rows, err := e.query(ctx, ent.Name, "groupBy", stmt, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*GroupResult
	for rows.Next() {
		vals, err := scanAnyRow(ent, rows, len(exprs))
		if err != nil {
			return nil, err
		}
		g := &GroupResult{
			Keys:            make(map[string]any, len(op.GroupKeys)),
			AggregateResult: *newAggregateResult(op.Metrics),
		}
		for i, k := range op.GroupKeys {
			f, _ := ent.Field(k)
			v, err := normalize(f, vals[i])
			if err != nil {
				return nil, regent.NewStorageError(ent.Name, "groupBy", err)
			}
			g.Keys[k] = v
		}
		if err := foldAggRow(ent, aggs, vals[len(op.GroupKeys):], &g.AggregateResult, op.Metrics); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, regent.NewStorageError(ent.Name, "groupBy", err)
	}
	return out, nil
}

// ungroupedHavingField walks the having tree and returns the first field
// that is not part of the grouping keys. Relation filters never are.
func ungroupedHavingField(x predicate.Expr, grouped map[string]bool) (string, bool) {
	switch x := x.(type) {
	case nil:
		return "", true
	case *predicate.AndExpr:
		for _, sub := range x.Xs {
			if field, ok := ungroupedHavingField(sub, grouped); !ok {
				return field, false
			}
		}
	case *predicate.OrExpr:
		for _, sub := range x.Xs {
			if field, ok := ungroupedHavingField(sub, grouped); !ok {
				return field, false
			}
		}
	case *predicate.NotExpr:
		return ungroupedHavingField(x.X, grouped)
	case *predicate.FieldExpr:
		if !grouped[x.Field] {
			return x.Field, false
		}
	case *predicate.RelExpr:
		return x.Relation, false
	}
	return "", true
}

// scanAnyRow scans one row into untyped values.
func scanAnyRow(ent *schema.Entity, rows *dsql.Rows, n int) ([]any, error) {
	dest := make([]any, n)
	for i := range dest {
		var v any
		dest[i] = &v
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, regent.NewStorageError(ent.Name, "scan", err)
	}
	vals := make([]any, n)
	for i := range dest {
		vals[i] = *(dest[i].(*any))
	}
	return vals, nil
}
