// Package engine executes validated plans against a storage driver. Reads
// are composed of one statement for the primary rows plus one batched
// statement per relation step; writes coordinate pre-checks, the statement
// itself, and driver-error translation.
package engine

import (
	"context"
	"log/slog"

	"github.com/regentdb/regent"
	"github.com/regentdb/regent/dialect"
	dsql "github.com/regentdb/regent/dialect/sql"
	"github.com/regentdb/regent/plan"
	"github.com/regentdb/regent/schema"
)

// Engine executes plans on a single connection scope: either the root driver
// or one open transaction.
type Engine struct {
	drv     dialect.Driver // nil when scoped to a transaction.
	conn    dialect.ExecQuerier
	dialect string
	reg     *schema.Registry
	log     *slog.Logger
}

// New returns an engine executing on the given driver.
func New(drv dialect.Driver, reg *schema.Registry, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{drv: drv, conn: drv, dialect: drv.Dialect(), reg: reg, log: log}
}

// WithTx returns an engine scoped to the given open transaction. The scoped
// engine runs relation steps sequentially and cannot open nested transactions.
func (e *Engine) WithTx(tx dialect.Tx) *Engine {
	return &Engine{conn: tx, dialect: e.dialect, reg: e.reg, log: e.log}
}

// Registry returns the schema registry the engine plans against.
func (e *Engine) Registry() *schema.Registry { return e.reg }

func (e *Engine) inTx() bool { return e.drv == nil }

func (e *Engine) query(ctx context.Context, entity, op, stmt string, args []any) (*dsql.Rows, error) {
	rows := &dsql.Rows{}
	if err := e.conn.Query(ctx, stmt, args, rows); err != nil {
		return nil, regent.NewStorageError(entity, op, err)
	}
	return rows, nil
}

func (e *Engine) exec(ctx context.Context, entity, op, stmt string, args []any) (dsql.Result, error) {
	var res dsql.Result
	if err := e.conn.Exec(ctx, stmt, args, &res); err != nil {
		return nil, regent.NewStorageError(entity, op, err)
	}
	return res, nil
}

// selector returns a base SELECT over the entity's table with the given
// columns qualified and quoted.
func selector(d string, ent *schema.Entity, cols []string) *dsql.Selector {
	s := dsql.Dialect(d).Select().From(ent.Table)
	exprs := make([]string, len(cols))
	for i, c := range cols {
		exprs[i] = s.C(c)
	}
	return s.Select(exprs...)
}

func orderTerms(s *dsql.Selector, order []plan.Order) []dsql.OrderTerm {
	terms := make([]dsql.OrderTerm, len(order))
	for i, o := range order {
		terms[i] = dsql.OrderTerm{Expr: s.C(o.Field), Desc: o.Desc}
	}
	return terms
}

// scanRecords drains the rows into records, normalizing each column to its
// declared field type.
func scanRecords(ent *schema.Entity, cols []string, rows *dsql.Rows) ([]*Record, error) {
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		dest := make([]any, len(cols))
		for i := range dest {
			var v any
			dest[i] = &v
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, regent.NewStorageError(ent.Name, "scan", err)
		}
		rec := newRecord(ent.Name)
		for i, c := range cols {
			f, _ := ent.Field(c)
			v, err := normalize(f, *(dest[i].(*any)))
			if err != nil {
				return nil, regent.NewStorageError(ent.Name, "scan", err)
			}
			rec.values[c] = v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, regent.NewStorageError(ent.Name, "scan", err)
	}
	return out, nil
}

// Find executes a findMany plan: primary rows in the requested order and
// window, then one batched statement per relation step.
func (e *Engine) Find(ctx context.Context, p *plan.Plan) ([]*Record, error) {
	cols := p.Columns
	if len(p.Distinct) > 0 {
		cols = p.Distinct
	}
	s := selector(e.dialect, p.Entity, cols)
	if len(p.Distinct) > 0 {
		s.Distinct()
	}
	p.Where.Apply(s, e.dialect)

	order := p.Order
	if len(p.Distinct) > 0 {
		// Distinct rows carry no primary key, so only ordering terms over the
		// distinct columns survive.
		kept := order[:0:0]
		for _, o := range order {
			for _, c := range cols {
				if o.Field == c {
					kept = append(kept, o)
					break
				}
			}
		}
		order = kept
	}
	take := p.Take
	backward := take != nil && *take < 0
	if backward {
		n := -*take
		take = &n
		order = reverse(order)
	}
	if p.Cursor != nil {
		after, err := e.cursorBound(ctx, p, order)
		if err != nil {
			return nil, err
		}
		s.Where(after)
	}
	s.OrderBy(orderTerms(s, order)...)
	if take != nil {
		s.Limit(*take)
	}
	if p.Skip != nil {
		s.Offset(*p.Skip)
	}

	stmt, args := s.Query()
	rows, err := e.query(ctx, p.Entity.Name, "select", stmt, args)
	if err != nil {
		return nil, err
	}
	recs, err := scanRecords(p.Entity, cols, rows)
	if err != nil {
		return nil, err
	}
	if backward {
		for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
			recs[i], recs[j] = recs[j], recs[i]
		}
	}
	if err := e.load(ctx, p.Entity, recs, p.Steps); err != nil {
		return nil, err
	}
	return recs, nil
}

// FindUnique executes a findUnique plan. A missing row is a NotFoundError.
func (e *Engine) FindUnique(ctx context.Context, p *plan.Plan) (*Record, error) {
	s := selector(e.dialect, p.Entity, p.Columns)
	p.Where.Apply(s, e.dialect)
	s.Limit(1)
	stmt, args := s.Query()
	rows, err := e.query(ctx, p.Entity.Name, "select", stmt, args)
	if err != nil {
		return nil, err
	}
	recs, err := scanRecords(p.Entity, p.Columns, rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, regent.NewNotFoundError(p.Entity.Name, nil)
	}
	if err := e.load(ctx, p.Entity, recs, p.Steps); err != nil {
		return nil, err
	}
	return recs[0], nil
}

// Count executes a count plan.
func (e *Engine) Count(ctx context.Context, p *plan.Plan) (int64, error) {
	s := dsql.Dialect(e.dialect).Select(dsql.CountAll()).From(p.Entity.Table)
	p.Where.Apply(s, e.dialect)
	stmt, args := s.Query()
	rows, err := e.query(ctx, p.Entity.Name, "count", stmt, args)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, regent.NewStorageError(p.Entity.Name, "count", err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, regent.NewStorageError(p.Entity.Name, "count", err)
	}
	return n, nil
}

// cursorBound resolves the cursor anchor row and returns a strictly-after
// bound over the effective ordering: rows matching the anchor itself are
// excluded from the page.
func (e *Engine) cursorBound(ctx context.Context, p *plan.Plan, order []plan.Order) (dsql.P, error) {
	ent := p.Entity
	fields := make([]string, len(order))
	for i, o := range order {
		fields[i] = o.Field
	}
	s := selector(e.dialect, ent, fields)
	s.Where(dsql.EQ(ent.Table+"."+p.Cursor.Field, p.Cursor.Value)).Limit(1)
	stmt, args := s.Query()
	rows, err := e.query(ctx, ent.Name, "cursor", stmt, args)
	if err != nil {
		return nil, err
	}
	anchors, err := scanRecords(ent, fields, rows)
	if err != nil {
		return nil, err
	}
	if len(anchors) == 0 {
		return nil, regent.NewPlanError(ent.Name, regent.ErrInvalidCursor, "anchor row not found")
	}
	anchor := anchors[0]

	// Lexicographic tuple comparison: a row sorts after the anchor when some
	// prefix of order fields is equal and the next field is strictly past it.
	var alts []dsql.P
	for i := range order {
		var conj []dsql.P
		for j := 0; j < i; j++ {
			v, _ := anchor.Get(order[j].Field)
			conj = append(conj, dsql.EQ(ent.Table+"."+order[j].Field, v))
		}
		v, _ := anchor.Get(order[i].Field)
		conj = append(conj, strictBound(ent.Table+"."+order[i].Field, v, order[i].Desc))
		alts = append(alts, dsql.And(conj...))
	}
	return dsql.Or(alts...), nil
}

// strictBound renders col strictly past v in the given direction. A NULL
// anchor value sorts before all non-NULL values, so ascending order admits
// every non-NULL row and descending order admits none on this term.
func strictBound(col string, v any, desc bool) dsql.P {
	if v == nil {
		if desc {
			return func(b *dsql.Builder) { b.WriteString("1 = 0") }
		}
		return dsql.NotNull(col)
	}
	if desc {
		return dsql.LT(col, v)
	}
	return dsql.GT(col, v)
}

func reverse(order []plan.Order) []plan.Order {
	out := make([]plan.Order, len(order))
	for i, o := range order {
		out[i] = plan.Order{Field: o.Field, Desc: !o.Desc}
	}
	return out
}
