package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/regentdb/regent"
	dsql "github.com/regentdb/regent/dialect/sql"
	"github.com/regentdb/regent/plan"
	"github.com/regentdb/regent/schema"
)

// load executes the relation steps for the given parent rows and stitches
// the results back onto them. Each step is one batched statement keyed on
// the parent set, never one statement per parent. Sibling steps run
// concurrently outside transactions; a transaction is a single session, so
// inside one they run sequentially.
func (e *Engine) load(ctx context.Context, parent *schema.Entity, recs []*Record, steps []plan.Step) error {
	if len(recs) == 0 || len(steps) == 0 {
		return nil
	}
	if e.inTx() || len(steps) == 1 {
		for i := range steps {
			if err := e.loadStep(ctx, parent, recs, &steps[i]); err != nil {
				return err
			}
		}
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := range steps {
		step := &steps[i]
		g.Go(func() error {
			return e.loadStep(gctx, parent, recs, step)
		})
	}
	return g.Wait()
}

func (e *Engine) loadStep(ctx context.Context, parent *schema.Entity, recs []*Record, step *plan.Step) error {
	if step.CountOnly {
		return e.loadCount(ctx, recs, step)
	}
	if step.Rel.Owner() {
		return e.loadOwned(ctx, parent, recs, step)
	}
	return e.loadInverse(ctx, recs, step)
}

// loadOwned resolves to-one relations whose foreign key lives on the parent:
// one fetch of the target rows by primary key, then a map join.
func (e *Engine) loadOwned(ctx context.Context, parent *schema.Entity, recs []*Record, step *plan.Step) error {
	rel, target := step.Rel, step.Target
	keys := make([]any, 0, len(recs))
	seen := make(map[int64]bool, len(recs))
	for _, r := range recs {
		if k, ok := r.Int(rel.FK); ok && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	byID := make(map[int64]*Record, len(keys))
	var children []*Record
	if len(keys) > 0 {
		s := selector(e.dialect, target, step.Columns)
		s.Where(dsql.In(target.Table+"."+schema.ID, keys...))
		step.Where.Apply(s, e.dialect)
		s.OrderBy(dsql.OrderTerm{Expr: s.C(schema.ID)})
		stmt, args := s.Query()
		rows, err := e.query(ctx, target.Name, "select", stmt, args)
		if err != nil {
			return err
		}
		if children, err = scanRecords(target, step.Columns, rows); err != nil {
			return err
		}
		for _, c := range children {
			byID[c.ID()] = c
		}
	}

	for _, r := range recs {
		k, ok := r.Int(rel.FK)
		if !ok {
			// NULL foreign key on an optional relation.
			r.setRel(rel.Name, (*Record)(nil))
			continue
		}
		child := byID[k]
		if child == nil && rel.Required && step.Where.Empty() {
			return regent.NewIntegrityViolationError(parent.Name, rel.Name, k)
		}
		r.setRel(rel.Name, child)
	}
	return e.load(ctx, target, children, step.Nested)
}

// loadInverse resolves relations whose foreign key lives on the target: one
// fetch of the child rows by foreign key, grouped back per parent.
func (e *Engine) loadInverse(ctx context.Context, recs []*Record, step *plan.Step) error {
	rel, target := step.Rel, step.Target
	ids := make([]any, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID())
	}

	s := selector(e.dialect, target, step.Columns)
	s.Where(dsql.In(target.Table+"."+rel.FK, ids...))
	step.Where.Apply(s, e.dialect)
	s.OrderBy(dsql.OrderTerm{Expr: s.C(schema.ID)})
	stmt, args := s.Query()
	rows, err := e.query(ctx, target.Name, "select", stmt, args)
	if err != nil {
		return err
	}
	children, err := scanRecords(target, step.Columns, rows)
	if err != nil {
		return err
	}

	grouped := make(map[int64][]*Record, len(recs))
	for _, c := range children {
		k, ok := c.Int(rel.FK)
		if !ok {
			continue
		}
		grouped[k] = append(grouped[k], c)
	}
	for _, r := range recs {
		group := grouped[r.ID()]
		if rel.Kind == schema.O2OInv {
			if len(group) == 0 {
				r.setRel(rel.Name, (*Record)(nil))
			} else {
				r.setRel(rel.Name, group[0])
			}
			continue
		}
		if group == nil {
			group = []*Record{}
		}
		r.setRel(rel.Name, group)
	}
	return e.load(ctx, target, children, step.Nested)
}

// loadCount resolves a count-only include with one grouped count keyed on
// the foreign key. Parents with no matching children count as zero.
func (e *Engine) loadCount(ctx context.Context, recs []*Record, step *plan.Step) error {
	rel, target := step.Rel, step.Target
	ids := make([]any, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID())
	}

	s := dsql.Dialect(e.dialect).Select().From(target.Table)
	fk := s.C(rel.FK)
	s.Select(fk, dsql.CountAll())
	s.Where(dsql.In(target.Table+"."+rel.FK, ids...))
	step.Where.Apply(s, e.dialect)
	s.GroupBy(fk)
	stmt, args := s.Query()
	rows, err := e.query(ctx, target.Name, "count", stmt, args)
	if err != nil {
		return err
	}
	defer rows.Close()

	counts := make(map[int64]int64, len(recs))
	for rows.Next() {
		var k, n int64
		if err := rows.Scan(&k, &n); err != nil {
			return regent.NewStorageError(target.Name, "count", err)
		}
		counts[k] = n
	}
	if err := rows.Err(); err != nil {
		return regent.NewStorageError(target.Name, "count", err)
	}
	for _, r := range recs {
		r.setCount(rel.Name, counts[r.ID()])
	}
	return nil
}
