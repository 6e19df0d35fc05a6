package engine

import (
	"context"
	"sort"
	"time"

	"github.com/regentdb/regent"
	"github.com/regentdb/regent/dialect"
	dsql "github.com/regentdb/regent/dialect/sql"
	"github.com/regentdb/regent/plan"
	"github.com/regentdb/regent/schema"
)

// Timestamp fields maintained by the engine when the entity declares them.
const (
	createdAtField = "created_at"
	updatedAtField = "updated_at"
)

// Create inserts one row and returns it re-read with the plan's selection
// and includes. Required owning relations are verified before the insert.
func (e *Engine) Create(ctx context.Context, p *plan.Plan) (*Record, error) {
	ent := p.Entity
	data := withCreateDefaults(ent, p.Op.Data)
	if err := e.checkRequiredOwners(ctx, ent, data, true); err != nil {
		return nil, err
	}
	id, err := e.insert(ctx, ent, data)
	if err != nil {
		return nil, err
	}
	e.log.Debug("created", "entity", ent.Name, "id", id)
	return e.fetchByID(ctx, p, id)
}

// CreateMany inserts the given rows in one statement and returns the number
// of rows actually written. With skip-duplicates, rows violating a
// uniqueness constraint are dropped instead of failing the batch.
func (e *Engine) CreateMany(ctx context.Context, p *plan.Plan) (int64, error) {
	ent, op := p.Entity, p.Op
	if len(op.Rows) == 0 {
		return 0, nil
	}
	rows := make([]map[string]any, len(op.Rows))
	colSet := make(map[string]bool)
	for i, row := range op.Rows {
		rows[i] = withCreateDefaults(ent, row)
		for name := range rows[i] {
			colSet[name] = true
		}
		if err := e.checkRequiredOwners(ctx, ent, rows[i], true); err != nil {
			return 0, err
		}
	}
	cols := make([]string, 0, len(colSet))
	for name := range colSet {
		cols = append(cols, name)
	}
	sort.Strings(cols)

	ins := dsql.Dialect(e.dialect).Insert(ent.Table).Columns(cols...)
	for _, row := range rows {
		vals := make([]any, len(cols))
		for i, c := range cols {
			vals[i] = row[c]
		}
		ins.Values(vals...)
	}
	if op.SkipDuplicates {
		ins.OnConflictIgnore()
	}
	stmt, args := ins.Query()
	res, err := e.exec(ctx, ent.Name, "insert", stmt, args)
	if err != nil {
		if op.SkipDuplicates || !dsql.IsUniqueConstraintError(err) {
			return 0, err
		}
		return 0, regent.NewUniquenessError(ent.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, regent.NewStorageError(ent.Name, "insert", err)
	}
	e.log.Debug("created batch", "entity", ent.Name, "rows", n)
	return n, nil
}

// Update applies the plan's data to the single row matching its filter. A
// missing row is a NotFoundError.
func (e *Engine) Update(ctx context.Context, p *plan.Plan) (*Record, error) {
	ent := p.Entity
	ids, err := e.findIDs(ctx, p, intPtr(1))
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, regent.NewNotFoundError(ent.Name, nil)
	}
	if err := e.updateByIDs(ctx, ent, p.Op.Data, ids); err != nil {
		return nil, err
	}
	e.log.Debug("updated", "entity", ent.Name, "id", ids[0])
	return e.fetchByID(ctx, p, ids[0])
}

// UpdateMany applies the plan's data to every row matching its filter and
// returns the number of rows touched. An optional limit bounds the update
// to the first rows in primary-key order.
func (e *Engine) UpdateMany(ctx context.Context, p *plan.Plan) (int64, error) {
	ent := p.Entity
	ids, err := e.findIDs(ctx, p, p.Op.Limit)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := e.updateByIDs(ctx, ent, p.Op.Data, ids); err != nil {
		return 0, err
	}
	e.log.Debug("updated batch", "entity", ent.Name, "rows", len(ids))
	return int64(len(ids)), nil
}

// Upsert updates the row matching the plan's filter, or creates it from the
// create-branch data when absent. Outside a transaction the two steps run
// in one; a lost race to a concurrent insert falls back to the update
// branch.
func (e *Engine) Upsert(ctx context.Context, p *plan.Plan) (*Record, error) {
	if !e.inTx() {
		tx, err := e.drv.Tx(ctx)
		if err != nil {
			return nil, regent.NewStorageError(p.Entity.Name, "begin", err)
		}
		rec, err := e.WithTx(tx).Upsert(ctx, p)
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				e.log.Error("rollback failed", "entity", p.Entity.Name, "error", rerr)
			}
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, regent.NewStorageError(p.Entity.Name, "commit", err)
		}
		return rec, nil
	}

	rec, err := e.Update(ctx, p)
	if err == nil {
		return rec, nil
	}
	if !regent.IsNotFound(err) {
		return nil, err
	}
	cp := *p
	cp.Op.Data = p.Op.CreateData
	rec, err = e.Create(ctx, &cp)
	if regent.IsUniquenessViolation(err) {
		return e.Update(ctx, p)
	}
	return rec, err
}

// Delete removes the single row matching the plan's filter and returns it
// as it was. The delete is vetoed while other rows still hold a required
// reference to it.
func (e *Engine) Delete(ctx context.Context, p *plan.Plan) (*Record, error) {
	ent := p.Entity
	rec, err := e.FindUnique(ctx, p)
	if err != nil {
		return nil, err
	}
	id := rec.ID()
	if err := e.checkReferences(ctx, ent, []any{id}); err != nil {
		return nil, err
	}
	if _, err := e.deleteByIDs(ctx, ent, []any{id}); err != nil {
		return nil, err
	}
	e.log.Debug("deleted", "entity", ent.Name, "id", id)
	return rec, nil
}

// DeleteMany removes every row matching the plan's filter and returns the
// number removed. The whole batch is vetoed if any row is still referenced
// through a required relation.
func (e *Engine) DeleteMany(ctx context.Context, p *plan.Plan) (int64, error) {
	ent := p.Entity
	ids64, err := e.findIDs(ctx, p, p.Op.Limit)
	if err != nil {
		return 0, err
	}
	if len(ids64) == 0 {
		return 0, nil
	}
	ids := make([]any, len(ids64))
	for i, id := range ids64 {
		ids[i] = id
	}
	if err := e.checkReferences(ctx, ent, ids); err != nil {
		return 0, err
	}
	n, err := e.deleteByIDs(ctx, ent, ids)
	if err != nil {
		return 0, err
	}
	e.log.Debug("deleted batch", "entity", ent.Name, "rows", n)
	return n, nil
}

// insert writes one row and returns its primary key. Postgres reports the
// key through RETURNING; MySQL and SQLite through LastInsertId.
func (e *Engine) insert(ctx context.Context, ent *schema.Entity, data map[string]any) (int64, error) {
	cols := make([]string, 0, len(data))
	for name := range data {
		cols = append(cols, name)
	}
	sort.Strings(cols)
	vals := make([]any, len(cols))
	for i, c := range cols {
		vals[i] = data[c]
	}
	ins := dsql.Dialect(e.dialect).Insert(ent.Table).Columns(cols...).Values(vals...)

	if e.dialect == dialect.Postgres {
		ins.Returning(schema.ID)
		stmt, args := ins.Query()
		rows, err := e.query(ctx, ent.Name, "insert", stmt, args)
		if err != nil {
			return 0, mapWriteError(ent, err)
		}
		defer rows.Close()
		var id int64
		if !rows.Next() {
			return 0, regent.NewStorageError(ent.Name, "insert", rows.Err())
		}
		if err := rows.Scan(&id); err != nil {
			return 0, regent.NewStorageError(ent.Name, "insert", err)
		}
		return id, nil
	}

	stmt, args := ins.Query()
	res, err := e.exec(ctx, ent.Name, "insert", stmt, args)
	if err != nil {
		return 0, mapWriteError(ent, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, regent.NewStorageError(ent.Name, "insert", err)
	}
	return id, nil
}

func (e *Engine) updateByIDs(ctx context.Context, ent *schema.Entity, data map[string]any, ids []int64) error {
	data = withUpdateDefaults(ent, data)
	if err := e.checkRequiredOwners(ctx, ent, data, false); err != nil {
		return err
	}
	cols := make([]string, 0, len(data))
	for name := range data {
		cols = append(cols, name)
	}
	sort.Strings(cols)

	upd := dsql.Dialect(e.dialect).Update(ent.Table)
	for _, c := range cols {
		upd.Set(c, data[c])
	}
	anyIDs := make([]any, len(ids))
	for i, id := range ids {
		anyIDs[i] = id
	}
	upd.Where(dsql.In(schema.ID, anyIDs...))
	stmt, args := upd.Query()
	if _, err := e.exec(ctx, ent.Name, "update", stmt, args); err != nil {
		return mapWriteError(ent, err)
	}
	return nil
}

func (e *Engine) deleteByIDs(ctx context.Context, ent *schema.Entity, ids []any) (int64, error) {
	del := dsql.Dialect(e.dialect).Delete(ent.Table).Where(dsql.In(schema.ID, ids...))
	stmt, args := del.Query()
	res, err := e.exec(ctx, ent.Name, "delete", stmt, args)
	if err != nil {
		return 0, mapWriteError(ent, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, regent.NewStorageError(ent.Name, "delete", err)
	}
	return n, nil
}

// findIDs returns the primary keys of the rows matching the plan's filter,
// ascending, optionally bounded.
func (e *Engine) findIDs(ctx context.Context, p *plan.Plan, limit *int) ([]int64, error) {
	ent := p.Entity
	s := selector(e.dialect, ent, []string{schema.ID})
	p.Where.Apply(s, e.dialect)
	s.OrderBy(dsql.OrderTerm{Expr: s.C(schema.ID)})
	if limit != nil {
		s.Limit(*limit)
	}
	stmt, args := s.Query()
	rows, err := e.query(ctx, ent.Name, "select", stmt, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, regent.NewStorageError(ent.Name, "select", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, regent.NewStorageError(ent.Name, "select", err)
	}
	return ids, nil
}

// fetchByID re-reads a written row through the plan's selection and
// includes.
func (e *Engine) fetchByID(ctx context.Context, p *plan.Plan, id int64) (*Record, error) {
	ent := p.Entity
	s := selector(e.dialect, ent, p.Columns)
	s.Where(dsql.EQ(ent.Table+"."+schema.ID, id))
	stmt, args := s.Query()
	rows, err := e.query(ctx, ent.Name, "select", stmt, args)
	if err != nil {
		return nil, err
	}
	recs, err := scanRecords(ent, p.Columns, rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, regent.NewNotFoundError(ent.Name, id)
	}
	if err := e.load(ctx, ent, recs, p.Steps); err != nil {
		return nil, err
	}
	return recs[0], nil
}

// checkRequiredOwners verifies the foreign keys of required owning
// relations before a write: on create each one must be present and
// resolvable, on update only the keys being changed are checked.
func (e *Engine) checkRequiredOwners(ctx context.Context, ent *schema.Entity, data map[string]any, create bool) error {
	for _, rel := range ent.Relations() {
		if !rel.Owner() || !rel.Required {
			continue
		}
		v, present := data[rel.FK]
		if !present {
			if create {
				return regent.NewRequiredRelationMissingError(ent.Name, rel.Name, nil)
			}
			continue
		}
		if v == nil {
			return regent.NewRequiredRelationMissingError(ent.Name, rel.Name, nil)
		}
		target, err := e.reg.Describe(rel.Target)
		if err != nil {
			return err
		}
		ok, err := e.rowExists(ctx, target, v)
		if err != nil {
			return err
		}
		if !ok {
			return regent.NewRequiredRelationMissingError(ent.Name, rel.Name, v)
		}
	}
	return nil
}

// checkReferences vetoes a delete while any other row still holds a
// required reference to one of the given keys.
func (e *Engine) checkReferences(ctx context.Context, ent *schema.Entity, ids []any) error {
	for _, ref := range e.reg.ReferencedBy(ent.Name) {
		s := dsql.Dialect(e.dialect).Select("1").From(ref.Entity.Table)
		s.Where(dsql.In(ref.Entity.Table+"."+ref.Relation.FK, ids...)).Limit(1)
		stmt, args := s.Query()
		rows, err := e.query(ctx, ref.Entity.Name, "select", stmt, args)
		if err != nil {
			return err
		}
		found := rows.Next()
		rerr := rows.Err()
		rows.Close()
		if rerr != nil {
			return regent.NewStorageError(ref.Entity.Name, "select", rerr)
		}
		if found {
			return regent.NewReferentialIntegrityError(ent.Name, ref.Entity.Name, ref.Relation.Name)
		}
	}
	return nil
}

func (e *Engine) rowExists(ctx context.Context, ent *schema.Entity, id any) (bool, error) {
	s := dsql.Dialect(e.dialect).Select("1").From(ent.Table)
	s.Where(dsql.EQ(ent.Table+"."+schema.ID, id)).Limit(1)
	stmt, args := s.Query()
	rows, err := e.query(ctx, ent.Name, "select", stmt, args)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, regent.NewStorageError(ent.Name, "select", err)
	}
	return found, nil
}

// mapWriteError translates driver constraint errors into the engine's
// error taxonomy.
func mapWriteError(ent *schema.Entity, err error) error {
	switch {
	case dsql.IsUniqueConstraintError(err):
		return regent.NewUniquenessError(ent.Name, err)
	case dsql.IsForeignKeyConstraintError(err):
		return regent.NewReferentialIntegrityError(ent.Name, "", "")
	default:
		return err
	}
}

// withCreateDefaults copies the row and stamps created_at when the entity
// declares it and the caller did not set it.
func withCreateDefaults(ent *schema.Entity, data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	if f, ok := ent.Field(createdAtField); ok && f.Type == schema.TypeTime {
		if _, set := out[createdAtField]; !set {
			out[createdAtField] = time.Now().UTC()
		}
	}
	return out
}

// withUpdateDefaults copies the row and stamps updated_at when the entity
// declares it and the caller did not set it.
func withUpdateDefaults(ent *schema.Entity, data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	if f, ok := ent.Field(updatedAtField); ok && f.Type == schema.TypeTime {
		if _, set := out[updatedAtField]; !set {
			out[updatedAtField] = time.Now().UTC()
		}
	}
	return out
}

func intPtr(n int) *int { return &n }
