package sql

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regentdb/regent"
	"github.com/regentdb/regent/dialect"
)

func TestDriverDialect(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"mysql", dialect.MySQL},
		{"mysql+instrumented", dialect.MySQL},
		{"sqlite", dialect.SQLite},
		{"postgres", dialect.Postgres},
		{"other", "other"},
	}
	for _, tt := range tests {
		drv := NewDriver(tt.name, Conn{})
		assert.Equal(t, tt.want, drv.Dialect())
	}
}

func TestConnQuery(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.SQLite, db)

	mock.ExpectQuery(`SELECT "id" FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))

	rows := &Rows{}
	require.NoError(t, drv.Query(context.Background(), `SELECT "id" FROM "users"`, []any{}, rows))
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	assert.Equal(t, []int64{1, 2}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnQueryInvalidTarget(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.SQLite, db)

	err = drv.Query(context.Background(), "SELECT 1", []any{}, &struct{}{})
	assert.ErrorContains(t, err, "invalid type")
}

func TestConnExec(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.SQLite, db)

	mock.ExpectExec(`DELETE FROM "users"`).WillReturnResult(sqlmock.NewResult(0, 3))

	var res Result
	require.NoError(t, drv.Exec(context.Background(), `DELETE FROM "users"`, []any{}, &res))
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriverTx(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.SQLite, db)

	t.Run("Commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "users" SET "name" = ?`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		require.NoError(t, tx.Exec(context.Background(), `UPDATE "users" SET "name" = ?`, []any{"x"}, nil))
		require.NoError(t, tx.Commit())
	})

	t.Run("Rollback", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback()

		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		require.NoError(t, tx.Rollback())
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxRejectsNestedBegin(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.SQLite, db)

	mock.ExpectBegin()
	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)

	// The raw handle guards against dynamic re-entry, not just the typed
	// client surface.
	stx, ok := tx.(*Tx)
	require.True(t, ok)
	_, err = stx.Tx(context.Background())
	assert.ErrorIs(t, err, regent.ErrNestedTransaction)
	_, err = stx.BeginTx(context.Background(), nil)
	assert.ErrorIs(t, err, regent.ErrNestedTransaction)

	mock.ExpectRollback()
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}
