package client

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/regentdb/regent"
	"github.com/regentdb/regent/dialect"
	"github.com/regentdb/regent/engine"
	"github.com/regentdb/regent/plan"
)

// Tx is the operation surface available inside an interactive transaction.
// It deliberately carries no transaction-starting methods; re-entrant
// attempts go through Transaction and fail with ErrNestedTransaction.
type Tx struct {
	c   *Client
	eng *engine.Engine
	id  string
}

// ID returns the correlation id of the transaction, carried on its log lines.
func (tx *Tx) ID() string { return tx.id }

// Transaction always fails: transactions do not nest.
func (tx *Tx) Transaction(context.Context, func(context.Context, *Tx) error) error {
	return regent.ErrNestedTransaction
}

// TxOption configures one transaction.
type TxOption func(*txOptions)

type txOptions struct {
	timeout   time.Duration
	isolation stdsql.IsolationLevel
}

// TxTimeout bounds the whole transaction body; on expiry the context given
// to the body is canceled and the transaction rolls back.
func TxTimeout(d time.Duration) TxOption {
	return func(o *txOptions) { o.timeout = d }
}

// TxIsolation sets the isolation level the transaction is started with. The
// level is passed through to the store as-is; stores reject levels they do
// not support.
func TxIsolation(level stdsql.IsolationLevel) TxOption {
	return func(o *txOptions) { o.isolation = level }
}

// Transaction runs fn inside one transaction. The transaction commits when
// fn returns nil and rolls back when it returns an error or panics. When
// the client caps concurrent transactions, a slot is acquired first,
// bounded by the configured maximum wait.
func (c *Client) Transaction(ctx context.Context, fn func(context.Context, *Tx) error, opts ...TxOption) error {
	var o txOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := c.acquireSlot(ctx); err != nil {
		return err
	}
	defer c.releaseSlot()

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	raw, err := c.beginTx(ctx, o)
	if err != nil {
		return regent.NewStorageError("", "begin", err)
	}
	tx := &Tx{c: c, eng: c.eng.WithTx(raw), id: uuid.NewString()}
	log := c.log.With("tx", tx.id)
	log.Debug("transaction started")

	defer func() {
		if r := recover(); r != nil {
			if rerr := raw.Rollback(); rerr != nil {
				log.Error("rollback failed", "error", rerr)
			}
			panic(r)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rerr := raw.Rollback(); rerr != nil {
			log.Error("rollback failed", "error", rerr)
			return fmt.Errorf("%w: rolling back: %v", err, rerr)
		}
		log.Debug("transaction rolled back")
		return err
	}
	if err := raw.Commit(); err != nil {
		return regent.NewStorageError("", "commit", err)
	}
	log.Debug("transaction committed")
	return nil
}

// BatchResult is the outcome of one operation of a batch.
type BatchResult struct {
	Record    *engine.Record          // create, update, upsert, delete, findUnique.
	Records   []*engine.Record        // findMany.
	Count     int64                   // count, createMany, updateMany, deleteMany.
	Aggregate *engine.AggregateResult // aggregate.
	Groups    []*engine.GroupResult   // groupBy.
}

// RunBatch executes the operations sequentially inside one transaction.
// The batch is all-or-nothing: the first failure rolls everything back.
func (c *Client) RunBatch(ctx context.Context, ops []plan.Operation, opts ...TxOption) ([]BatchResult, error) {
	results := make([]BatchResult, len(ops))
	err := c.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		for i, op := range ops {
			res, err := tx.run(ctx, op)
			if err != nil {
				return err
			}
			results[i] = res
		}
		return nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (tx *Tx) run(ctx context.Context, op plan.Operation) (BatchResult, error) {
	switch op.Action {
	case plan.FindUnique:
		rec, err := tx.FindUnique(ctx, op)
		return BatchResult{Record: rec}, err
	case plan.FindMany:
		recs, err := tx.FindMany(ctx, op)
		return BatchResult{Records: recs}, err
	case plan.Count:
		n, err := tx.Count(ctx, op)
		return BatchResult{Count: n}, err
	case plan.Aggregate:
		res, err := tx.Aggregate(ctx, op)
		return BatchResult{Aggregate: res}, err
	case plan.GroupBy:
		groups, err := tx.GroupBy(ctx, op)
		return BatchResult{Groups: groups}, err
	case plan.Create:
		rec, err := tx.Create(ctx, op)
		return BatchResult{Record: rec}, err
	case plan.CreateMany:
		n, err := tx.CreateMany(ctx, op)
		return BatchResult{Count: n}, err
	case plan.Update:
		rec, err := tx.Update(ctx, op)
		return BatchResult{Record: rec}, err
	case plan.UpdateMany:
		n, err := tx.UpdateMany(ctx, op)
		return BatchResult{Count: n}, err
	case plan.Upsert:
		rec, err := tx.Upsert(ctx, op)
		return BatchResult{Record: rec}, err
	case plan.Delete:
		rec, err := tx.Delete(ctx, op)
		return BatchResult{Record: rec}, err
	case plan.DeleteMany:
		n, err := tx.DeleteMany(ctx, op)
		return BatchResult{Count: n}, err
	default:
		return BatchResult{}, fmt.Errorf("client: unknown batch action %s", op.Action)
	}
}

// beginTx starts the raw transaction, carrying a requested isolation level
// through to the store untouched.
func (c *Client) beginTx(ctx context.Context, o txOptions) (dialect.Tx, error) {
	if o.isolation != stdsql.LevelDefault {
		return c.drv.BeginTx(ctx, &stdsql.TxOptions{Isolation: o.isolation})
	}
	return c.drv.Tx(ctx)
}

func (c *Client) acquireSlot(ctx context.Context) error {
	if c.txSlots == nil {
		return nil
	}
	if c.txWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.txWait)
		defer cancel()
	}
	if err := c.txSlots.Acquire(ctx, 1); err != nil {
		if ctx.Err() != nil {
			return &regent.TxAcquireTimeoutError{Wait: c.txWait}
		}
		return err
	}
	return nil
}

func (c *Client) releaseSlot() {
	if c.txSlots != nil {
		c.txSlots.Release(1)
	}
}

func (tx *Tx) build(op plan.Operation, action plan.Action) (*plan.Plan, error) {
	return tx.c.build(op, action)
}

// FindUnique returns the single row matching the filter, or a NotFoundError.
func (tx *Tx) FindUnique(ctx context.Context, op plan.Operation) (*engine.Record, error) {
	p, err := tx.build(op, plan.FindUnique)
	if err != nil {
		return nil, err
	}
	return tx.eng.FindUnique(ctx, p)
}

// FindMany returns the rows matching the filter, ordered and windowed.
func (tx *Tx) FindMany(ctx context.Context, op plan.Operation) ([]*engine.Record, error) {
	p, err := tx.build(op, plan.FindMany)
	if err != nil {
		return nil, err
	}
	return tx.eng.Find(ctx, p)
}

// Count returns the number of rows matching the filter.
func (tx *Tx) Count(ctx context.Context, op plan.Operation) (int64, error) {
	p, err := tx.build(op, plan.Count)
	if err != nil {
		return 0, err
	}
	return tx.eng.Count(ctx, p)
}

// Aggregate computes the requested metrics over the rows matching the filter.
func (tx *Tx) Aggregate(ctx context.Context, op plan.Operation) (*engine.AggregateResult, error) {
	p, err := tx.build(op, plan.Aggregate)
	if err != nil {
		return nil, err
	}
	return tx.eng.Aggregate(ctx, p)
}

// GroupBy computes per-group metrics over the rows matching the filter.
func (tx *Tx) GroupBy(ctx context.Context, op plan.Operation) ([]*engine.GroupResult, error) {
	p, err := tx.build(op, plan.GroupBy)
	if err != nil {
		return nil, err
	}
	return tx.eng.GroupBy(ctx, p)
}

// Create inserts one row and returns it.
func (tx *Tx) Create(ctx context.Context, op plan.Operation) (*engine.Record, error) {
	p, err := tx.build(op, plan.Create)
	if err != nil {
		return nil, err
	}
	return tx.eng.Create(ctx, p)
}

// CreateMany inserts the given rows and returns how many were written.
func (tx *Tx) CreateMany(ctx context.Context, op plan.Operation) (int64, error) {
	p, err := tx.build(op, plan.CreateMany)
	if err != nil {
		return 0, err
	}
	return tx.eng.CreateMany(ctx, p)
}

// Update modifies the single row matching the filter and returns it.
func (tx *Tx) Update(ctx context.Context, op plan.Operation) (*engine.Record, error) {
	p, err := tx.build(op, plan.Update)
	if err != nil {
		return nil, err
	}
	return tx.eng.Update(ctx, p)
}

// UpdateMany modifies every row matching the filter and returns how many
// were touched.
func (tx *Tx) UpdateMany(ctx context.Context, op plan.Operation) (int64, error) {
	p, err := tx.build(op, plan.UpdateMany)
	if err != nil {
		return 0, err
	}
	return tx.eng.UpdateMany(ctx, p)
}

// Upsert updates the row matching the filter or creates it when absent.
func (tx *Tx) Upsert(ctx context.Context, op plan.Operation) (*engine.Record, error) {
	p, err := tx.build(op, plan.Upsert)
	if err != nil {
		return nil, err
	}
	return tx.eng.Upsert(ctx, p)
}

// Delete removes the single row matching the filter and returns it as it was.
func (tx *Tx) Delete(ctx context.Context, op plan.Operation) (*engine.Record, error) {
	p, err := tx.build(op, plan.Delete)
	if err != nil {
		return nil, err
	}
	return tx.eng.Delete(ctx, p)
}

// DeleteMany removes every row matching the filter and returns how many
// were removed.
func (tx *Tx) DeleteMany(ctx context.Context, op plan.Operation) (int64, error) {
	p, err := tx.build(op, plan.DeleteMany)
	if err != nil {
		return 0, err
	}
	return tx.eng.DeleteMany(ctx, p)
}
