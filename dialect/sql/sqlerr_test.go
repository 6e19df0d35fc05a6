package sql

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueConstraintError(t *testing.T) {
	t.Run("Postgres", func(t *testing.T) {
		err := &pq.Error{Code: "23505", Message: "duplicate key value"}
		assert.True(t, IsUniqueConstraintError(err))
		assert.False(t, IsForeignKeyConstraintError(err))
	})

	t.Run("MySQL", func(t *testing.T) {
		err := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
		assert.True(t, IsUniqueConstraintError(err))
	})

	t.Run("SQLite", func(t *testing.T) {
		err := errors.New("constraint failed: UNIQUE constraint failed: users.email (2067)")
		assert.True(t, IsUniqueConstraintError(err))
	})

	t.Run("Wrapped", func(t *testing.T) {
		err := fmt.Errorf("dialect/sql: exec: %w", &mysql.MySQLError{Number: 1062})
		assert.True(t, IsUniqueConstraintError(err))
	})

	t.Run("Unrelated", func(t *testing.T) {
		assert.False(t, IsUniqueConstraintError(errors.New("connection refused")))
		assert.False(t, IsUniqueConstraintError(nil))
	})
}

func TestIsForeignKeyConstraintError(t *testing.T) {
	t.Run("Postgres", func(t *testing.T) {
		err := &pq.Error{Code: "23503"}
		assert.True(t, IsForeignKeyConstraintError(err))
	})

	t.Run("MySQLChild", func(t *testing.T) {
		assert.True(t, IsForeignKeyConstraintError(&mysql.MySQLError{Number: 1452}))
	})

	t.Run("MySQLParent", func(t *testing.T) {
		assert.True(t, IsForeignKeyConstraintError(&mysql.MySQLError{Number: 1451}))
	})

	t.Run("SQLite", func(t *testing.T) {
		err := errors.New("constraint failed: FOREIGN KEY constraint failed (787)")
		assert.True(t, IsForeignKeyConstraintError(err))
		assert.False(t, IsUniqueConstraintError(err))
	})
}

func TestIsCheckConstraintError(t *testing.T) {
	assert.True(t, IsCheckConstraintError(&pq.Error{Code: "23514"}))
	assert.True(t, IsCheckConstraintError(&mysql.MySQLError{Number: 3819}))
	assert.True(t, IsCheckConstraintError(errors.New("CHECK constraint failed: positive_amount")))
	assert.False(t, IsCheckConstraintError(&pq.Error{Code: "23505"}))
}

func TestIsConstraintError(t *testing.T) {
	assert.True(t, IsConstraintError(&pq.Error{Code: "23505"}))
	assert.True(t, IsConstraintError(&pq.Error{Code: "23503"}))
	assert.True(t, IsConstraintError(&pq.Error{Code: "23514"}))
	assert.False(t, IsConstraintError(errors.New("syntax error")))
	assert.False(t, IsConstraintError(nil))
}
