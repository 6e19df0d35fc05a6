package sql

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
)

// sqlStateError is implemented by driver errors that expose SQLSTATE codes
// (pq.Error, pgx and some MySQL driver versions).
type sqlStateError interface {
	SQLState() string
}

// IsConstraintError returns true if the error resulted from any database
// constraint violation.
func IsConstraintError(err error) bool {
	return IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsCheckConstraintError(err)
}

// IsUniqueConstraintError reports if the error resulted from a uniqueness
// constraint violation, e.g. a duplicate value in a unique index.
func IsUniqueConstraintError(err error) bool {
	return matchConstraint(err, pgUniqueViolation, mysqlDuplicateEntry,
		"Error 1062",                 // MySQL (string fallback)
		"violates unique constraint", // Postgres (string fallback)
		"UNIQUE constraint failed",   // SQLite
	)
}

// IsForeignKeyConstraintError reports if the error resulted from a
// foreign-key constraint violation, e.g. a missing parent row.
func IsForeignKeyConstraintError(err error) bool {
	if matchConstraint(err, pgForeignKeyViolation, mysqlForeignKeyChild,
		"Error 1451",                      // MySQL (cannot delete a parent row)
		"Error 1452",                      // MySQL (cannot add a child row)
		"violates foreign key constraint", // Postgres
		"FOREIGN KEY constraint failed",   // SQLite
	) {
		return true
	}
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlForeignKeyParent
}

// IsCheckConstraintError reports if the error resulted from a check
// constraint violation.
func IsCheckConstraintError(err error) bool {
	return matchConstraint(err, pgCheckViolation, mysqlCheckConstraintViolate,
		"Error 3819",                // MySQL
		"violates check constraint", // Postgres
		"CHECK constraint failed",   // SQLite
	)
}

// matchConstraint classifies a driver error by SQLSTATE, pq error code or
// MySQL error number, falling back to string matching for drivers that
// expose neither (modernc.org/sqlite among them).
func matchConstraint(err error, sqlstate string, mysqlNumber uint16, fallbacks ...string) bool {
	if err == nil {
		return false
	}
	var se sqlStateError
	if errors.As(err, &se) && se.SQLState() == sqlstate {
		return true
	}
	var pe *pq.Error
	if errors.As(err, &pe) && string(pe.Code) == sqlstate {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlNumber {
		return true
	}
	return containsAny(err.Error(), fallbacks...)
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
