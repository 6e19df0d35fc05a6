package sql

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regentdb/regent/dialect"
)

func TestStatsDriver(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	drv := NewStatsDriver(OpenDB(dialect.SQLite, db), slog.Default(), 0)
	ctx := context.Background()

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("DELETE FROM t").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT broken").WillReturnError(assert.AnError)

	rows := &Rows{}
	require.NoError(t, drv.Query(ctx, "SELECT 1", []any{}, rows))
	rows.Close()
	require.NoError(t, drv.Exec(ctx, "DELETE FROM t", []any{}, nil))
	require.Error(t, drv.Query(ctx, "SELECT broken", []any{}, &Rows{}))

	stats := drv.Stats()
	assert.Equal(t, int64(2), stats.Queries)
	assert.Equal(t, int64(1), stats.Execs)
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, int64(0), stats.Slow)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsDriverSlowLogging(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	var buf strings.Builder
	log := slog.New(slog.NewTextHandler(&buf, nil))
	drv := NewStatsDriver(OpenDB(dialect.SQLite, db), log, time.Nanosecond)

	mock.ExpectQuery("SELECT 1").
		WillDelayFor(time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	rows := &Rows{}
	require.NoError(t, drv.Query(context.Background(), "SELECT 1", []any{}, rows))
	rows.Close()

	assert.Equal(t, int64(1), drv.Stats().Slow)
	assert.Contains(t, buf.String(), "slow statement")
}

func TestStatsString(t *testing.T) {
	s := Stats{Queries: 2, Execs: 1, Duration: time.Second, Slow: 1, Errors: 0}
	assert.Equal(t, "queries=2 execs=1 duration=1s slow=1 errors=0", s.String())
}

func TestDebugDriver(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	var buf strings.Builder
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	drv := NewDebugDriver(OpenDB(dialect.SQLite, db), log)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE t SET x = ?").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := drv.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "UPDATE t SET x = ?", []any{1}, nil))
	require.NoError(t, tx.Commit())

	out := buf.String()
	assert.Contains(t, out, "begin transaction")
	assert.Contains(t, out, "tx exec")
	assert.Contains(t, out, "commit transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}
