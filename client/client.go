// Package client is the public entry point: it owns the driver and the
// schema registry, validates operation descriptors through the planner, and
// hands execution to the engine, either directly or inside a coordinated
// transaction.
package client

import (
	"context"
	stdsql "database/sql"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/regentdb/regent/dialect"
	dsql "github.com/regentdb/regent/dialect/sql"
	"github.com/regentdb/regent/engine"
	"github.com/regentdb/regent/plan"
	"github.com/regentdb/regent/schema"
)

// Client executes operations against one database.
type Client struct {
	drv dialect.Driver
	reg *schema.Registry
	eng *engine.Engine
	log *slog.Logger

	txSlots *semaphore.Weighted
	txWait  time.Duration
	warn    func(entity, action, warning string)
}

type options struct {
	log     *slog.Logger
	maxTx   int64
	txWait  time.Duration
	debug   bool
	slow    time.Duration
	warn    func(entity, action, warning string)
}

// Option configures a Client.
type Option func(*options)

// Log sets the logger. Defaults to slog.Default.
func Log(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// MaxConcurrentTx caps the number of concurrently open transactions. Zero
// means unlimited.
func MaxConcurrentTx(n int64) Option {
	return func(o *options) { o.maxTx = n }
}

// TxMaxWait bounds how long a transaction waits for a free slot before
// failing with a TxAcquireTimeoutError. Zero means wait indefinitely.
func TxMaxWait(d time.Duration) Option {
	return func(o *options) { o.txWait = d }
}

// Debug logs every statement at debug level.
func Debug() Option {
	return func(o *options) { o.debug = true }
}

// SlowThreshold enables statement statistics with slow-statement logging
// above the given duration.
func SlowThreshold(d time.Duration) Option {
	return func(o *options) { o.slow = d }
}

// OnWarning sets a callback receiving planner warnings, for callers that
// need them programmatically. Warnings are logged either way.
func OnWarning(fn func(entity, action, warning string)) Option {
	return func(o *options) { o.warn = fn }
}

// NewClient returns a client over an already-open driver.
func NewClient(drv dialect.Driver, reg *schema.Registry, opts ...Option) *Client {
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if sd, ok := drv.(*dsql.Driver); ok {
		switch {
		case o.debug:
			drv = dsql.NewDebugDriver(sd, o.log)
		case o.slow > 0:
			drv = dsql.NewStatsDriver(sd, o.log, o.slow)
		}
	}
	c := &Client{
		drv:    drv,
		reg:    reg,
		eng:    engine.New(drv, reg, o.log),
		log:    o.log,
		txWait: o.txWait,
		warn:   o.warn,
	}
	if o.maxTx > 0 {
		c.txSlots = semaphore.NewWeighted(o.maxTx)
	}
	return c
}

// Open opens a database by dialect name and source and returns a client
// over it.
func Open(dialectName, source string, reg *schema.Registry, opts ...Option) (*Client, error) {
	drv, err := dsql.Open(dialectName, source)
	if err != nil {
		return nil, err
	}
	return NewClient(drv, reg, opts...), nil
}

// Close closes the underlying driver.
func (c *Client) Close() error { return c.drv.Close() }

// DB returns the underlying *sql.DB when the driver is SQL-backed, for
// schema management and raw statements outside the engine's scope.
func (c *Client) DB() *stdsql.DB {
	if d, ok := c.drv.(interface{ DB() *stdsql.DB }); ok {
		return d.DB()
	}
	return nil
}

// Registry returns the schema registry the client validates against.
func (c *Client) Registry() *schema.Registry { return c.reg }

func (c *Client) build(op plan.Operation, action plan.Action) (*plan.Plan, error) {
	op.Action = action
	p, err := plan.Build(c.reg, op)
	if err != nil {
		return nil, err
	}
	for _, w := range p.Warnings() {
		c.log.Warn(w, "entity", op.Entity, "action", action.String())
		if c.warn != nil {
			c.warn(op.Entity, action.String(), w)
		}
	}
	return p, nil
}

// FindUnique returns the single row matching the filter, or a NotFoundError.
func (c *Client) FindUnique(ctx context.Context, op plan.Operation) (*engine.Record, error) {
	p, err := c.build(op, plan.FindUnique)
	if err != nil {
		return nil, err
	}
	return c.eng.FindUnique(ctx, p)
}

// FindMany returns the rows matching the filter, ordered and windowed.
func (c *Client) FindMany(ctx context.Context, op plan.Operation) ([]*engine.Record, error) {
	p, err := c.build(op, plan.FindMany)
	if err != nil {
		return nil, err
	}
	return c.eng.Find(ctx, p)
}

// Count returns the number of rows matching the filter.
func (c *Client) Count(ctx context.Context, op plan.Operation) (int64, error) {
	p, err := c.build(op, plan.Count)
	if err != nil {
		return 0, err
	}
	return c.eng.Count(ctx, p)
}

// Aggregate computes the requested metrics over the rows matching the filter.
func (c *Client) Aggregate(ctx context.Context, op plan.Operation) (*engine.AggregateResult, error) {
	p, err := c.build(op, plan.Aggregate)
	if err != nil {
		return nil, err
	}
	return c.eng.Aggregate(ctx, p)
}

// GroupBy computes per-group metrics over the rows matching the filter.
func (c *Client) GroupBy(ctx context.Context, op plan.Operation) ([]*engine.GroupResult, error) {
	p, err := c.build(op, plan.GroupBy)
	if err != nil {
		return nil, err
	}
	return c.eng.GroupBy(ctx, p)
}

// Create inserts one row and returns it.
func (c *Client) Create(ctx context.Context, op plan.Operation) (*engine.Record, error) {
	p, err := c.build(op, plan.Create)
	if err != nil {
		return nil, err
	}
	return c.eng.Create(ctx, p)
}

// CreateMany inserts the given rows and returns how many were written.
func (c *Client) CreateMany(ctx context.Context, op plan.Operation) (int64, error) {
	p, err := c.build(op, plan.CreateMany)
	if err != nil {
		return 0, err
	}
	return c.eng.CreateMany(ctx, p)
}

// Update modifies the single row matching the filter and returns it.
func (c *Client) Update(ctx context.Context, op plan.Operation) (*engine.Record, error) {
	p, err := c.build(op, plan.Update)
	if err != nil {
		return nil, err
	}
	return c.eng.Update(ctx, p)
}

// UpdateMany modifies every row matching the filter and returns how many
// were touched.
func (c *Client) UpdateMany(ctx context.Context, op plan.Operation) (int64, error) {
	p, err := c.build(op, plan.UpdateMany)
	if err != nil {
		return 0, err
	}
	return c.eng.UpdateMany(ctx, p)
}

// Upsert updates the row matching the filter or creates it when absent.
func (c *Client) Upsert(ctx context.Context, op plan.Operation) (*engine.Record, error) {
	p, err := c.build(op, plan.Upsert)
	if err != nil {
		return nil, err
	}
	return c.eng.Upsert(ctx, p)
}

// Delete removes the single row matching the filter and returns it as it was.
func (c *Client) Delete(ctx context.Context, op plan.Operation) (*engine.Record, error) {
	p, err := c.build(op, plan.Delete)
	if err != nil {
		return nil, err
	}
	return c.eng.Delete(ctx, p)
}

// DeleteMany removes every row matching the filter and returns how many
// were removed.
func (c *Client) DeleteMany(ctx context.Context, op plan.Operation) (int64, error) {
	p, err := c.build(op, plan.DeleteMany)
	if err != nil {
		return 0, err
	}
	return c.eng.DeleteMany(ctx, p)
}

// Stats returns statement statistics when the client was opened with
// SlowThreshold; otherwise the zero snapshot.
func (c *Client) Stats() dsql.Stats {
	if sd, ok := c.drv.(*dsql.StatsDriver); ok {
		return sd.Stats()
	}
	return dsql.Stats{}
}
