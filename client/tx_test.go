package client_test

import (
	"context"
	stdsql "database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regentdb/regent"
	"github.com/regentdb/regent/campus"
	"github.com/regentdb/regent/client"
	"github.com/regentdb/regent/dialect"
	dsql "github.com/regentdb/regent/dialect/sql"
	"github.com/regentdb/regent/plan"
	"github.com/regentdb/regent/predicate"
)

func TestTransactionCommit(t *testing.T) {
	c := openClient(t)
	ctx := context.Background()

	err := c.Transaction(ctx, func(ctx context.Context, tx *client.Tx) error {
		assert.NotEmpty(t, tx.ID())
		dept, err := tx.Create(ctx, plan.Operation{
			Entity: campus.Department,
			Data:   map[string]any{"name": "Science"},
		})
		if err != nil {
			return err
		}
		_, err = tx.Update(ctx, plan.Operation{
			Entity: campus.Department,
			Where:  predicate.FieldEQ("id", dept.ID()),
			Data:   map[string]any{"name": "Natural Science"},
		})
		return err
	})
	require.NoError(t, err)

	rec, err := c.FindUnique(ctx, plan.Operation{
		Entity: campus.Department,
		Where:  predicate.FieldEQ("name", "Natural Science"),
	})
	require.NoError(t, err)
	name, _ := rec.String("name")
	assert.Equal(t, "Natural Science", name)
}

func TestTransactionRollback(t *testing.T) {
	c := openClient(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := c.Transaction(ctx, func(ctx context.Context, tx *client.Tx) error {
		if _, err := tx.Create(ctx, plan.Operation{
			Entity: campus.Department,
			Data:   map[string]any{"name": "Science"},
		}); err != nil {
			return err
		}
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	n, err := c.Count(ctx, plan.Operation{Entity: campus.Department})
	require.NoError(t, err)
	assert.Zero(t, n, "the create was rolled back")
}

func TestTransactionPanicRollsBack(t *testing.T) {
	c := openClient(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = c.Transaction(ctx, func(ctx context.Context, tx *client.Tx) error {
			if _, err := tx.Create(ctx, plan.Operation{
				Entity: campus.Department,
				Data:   map[string]any{"name": "Science"},
			}); err != nil {
				return err
			}
			panic("boom")
		})
	})

	n, err := c.Count(ctx, plan.Operation{Entity: campus.Department})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTransactionNoNesting(t *testing.T) {
	c := openClient(t)
	err := c.Transaction(context.Background(), func(ctx context.Context, tx *client.Tx) error {
		return tx.Transaction(ctx, func(context.Context, *client.Tx) error { return nil })
	})
	assert.True(t, regent.IsNestedTransaction(err))
}

func TestTransactionSlotTimeout(t *testing.T) {
	c := openClient(t, client.MaxConcurrentTx(1), client.TxMaxWait(20*time.Millisecond))
	ctx := context.Background()

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.Transaction(ctx, func(context.Context, *client.Tx) error {
			close(holding)
			<-release
			return nil
		})
	}()

	<-holding
	err := c.Transaction(ctx, func(context.Context, *client.Tx) error { return nil })
	assert.True(t, regent.IsTxAcquireTimeout(err))

	close(release)
	require.NoError(t, <-done)
}

func TestTransactionTimeoutRollsBack(t *testing.T) {
	c := openClient(t)
	ctx := context.Background()

	err := c.Transaction(ctx, func(ctx context.Context, tx *client.Tx) error {
		if _, err := tx.Create(ctx, plan.Operation{
			Entity: campus.Department,
			Data:   map[string]any{"name": "Science"},
		}); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}, client.TxTimeout(50*time.Millisecond))
	require.Error(t, err, "commit after the deadline must not succeed")

	n, err := c.Count(ctx, plan.Operation{Entity: campus.Department})
	require.NoError(t, err)
	assert.Zero(t, n, "work done before the timeout does not survive")
}

// recordingDriver captures the transaction options handed to the store.
type recordingDriver struct {
	dialect.Driver
	opts []*stdsql.TxOptions
}

func (d *recordingDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	return d.BeginTx(ctx, nil)
}

func (d *recordingDriver) BeginTx(ctx context.Context, opts *stdsql.TxOptions) (dialect.Tx, error) {
	d.opts = append(d.opts, opts)
	return d.Driver.Tx(ctx)
}

func TestTransactionIsolationPassThrough(t *testing.T) {
	drv, err := dsql.Open("sqlite", "file:TestTransactionIsolationPassThrough?mode=memory&cache=shared")
	require.NoError(t, err)
	rec := &recordingDriver{Driver: drv}
	c := client.NewClient(rec, campus.Registry(), client.Log(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(func() { drv.Close() })
	ctx := context.Background()

	err = c.Transaction(ctx, func(context.Context, *client.Tx) error { return nil },
		client.TxIsolation(stdsql.LevelSerializable))
	require.NoError(t, err)
	require.Len(t, rec.opts, 1)
	require.NotNil(t, rec.opts[0])
	assert.Equal(t, stdsql.LevelSerializable, rec.opts[0].Isolation)

	err = c.Transaction(ctx, func(context.Context, *client.Tx) error { return nil })
	require.NoError(t, err)
	require.Len(t, rec.opts, 2)
	assert.Nil(t, rec.opts[1], "default isolation reaches the store as nil options")
}

func TestRunBatchAllOrNothing(t *testing.T) {
	c := openClient(t)
	ctx := context.Background()

	_, err := c.RunBatch(ctx, []plan.Operation{
		{Entity: campus.Department, Action: plan.Create, Data: map[string]any{"name": "Science"}},
		{Entity: campus.Department, Action: plan.Create, Data: map[string]any{"name": "Science"}},
	})
	assert.True(t, regent.IsUniquenessViolation(err))

	n, err := c.Count(ctx, plan.Operation{Entity: campus.Department})
	require.NoError(t, err)
	assert.Zero(t, n, "the first create did not survive the failed batch")
}

func TestRunBatchResults(t *testing.T) {
	c := openClient(t)
	ctx := context.Background()

	results, err := c.RunBatch(ctx, []plan.Operation{
		{Entity: campus.Department, Action: plan.Create, Data: map[string]any{"name": "Science"}},
		{Entity: campus.Department, Action: plan.Create, Data: map[string]any{"name": "Arts"}},
		{Entity: campus.Department, Action: plan.Count},
		{Entity: campus.Department, Action: plan.FindMany},
	})
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.NotNil(t, results[0].Record)
	assert.Equal(t, int64(2), results[2].Count)
	assert.Len(t, results[3].Records, 2)
}
