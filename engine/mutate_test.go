package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regentdb/regent"
	"github.com/regentdb/regent/campus"
	"github.com/regentdb/regent/plan"
	"github.com/regentdb/regent/predicate"
)

func TestCreateReadsBack(t *testing.T) {
	eng, mock := mockEngine(t)
	p := build(t, plan.Operation{
		Entity: campus.Department,
		Action: plan.Create,
		Data:   map[string]any{"name": "Science"},
	})

	mock.ExpectExec(`INSERT INTO "departments" ("name") VALUES (?)`).
		WithArgs("Science").
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectQuery(`SELECT "departments"."id", "departments"."name" FROM "departments" WHERE "departments"."id" = ?`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(7), "Science"))

	rec, err := eng.Create(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.ID())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateStampsCreatedAt(t *testing.T) {
	eng, mock := mockEngine(t)
	p := build(t, plan.Operation{
		Entity: campus.Notification,
		Action: plan.Create,
		Data:   map[string]any{"user_id": 1, "message": "hello", "read": false},
	})

	// The required owner is verified before the insert.
	mock.ExpectQuery(`SELECT 1 FROM "users" WHERE "users"."id" = ? LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec(`INSERT INTO "notifications" ("created_at", "message", "read", "user_id") VALUES (?, ?, ?, ?)`).
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectQuery(`SELECT "notifications"."id", "notifications"."user_id", "notifications"."message", "notifications"."read", "notifications"."created_at" FROM "notifications" WHERE "notifications"."id" = ?`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "message", "read", "created_at"}).
			AddRow(int64(3), int64(1), "hello", int64(0), "2026-09-01 10:00:00"))

	rec, err := eng.Create(context.Background(), p)
	require.NoError(t, err)
	read, ok := rec.Bool("read")
	require.True(t, ok)
	assert.False(t, read)
	ts, ok := rec.Time("created_at")
	require.True(t, ok)
	assert.Equal(t, 2026, ts.Year())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMissingRequiredOwner(t *testing.T) {
	// No expectations: the pre-check fails before any statement.
	eng, mock := mockEngine(t)
	p := build(t, plan.Operation{
		Entity: campus.Notification,
		Action: plan.Create,
		Data:   map[string]any{"message": "orphan", "read": false},
	})

	_, err := eng.Create(context.Background(), p)
	assert.True(t, regent.IsRequiredRelationMissing(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUnresolvableOwner(t *testing.T) {
	eng, mock := mockEngine(t)
	p := build(t, plan.Operation{
		Entity: campus.Notification,
		Action: plan.Create,
		Data:   map[string]any{"user_id": 99, "message": "x", "read": false},
	})

	mock.ExpectQuery(`SELECT 1 FROM "users" WHERE "users"."id" = ? LIMIT 1`).
		WithArgs(99).
		WillReturnRows(sqlmock.NewRows([]string{"1"}))

	_, err := eng.Create(context.Background(), p)
	assert.True(t, regent.IsRequiredRelationMissing(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUniqueViolation(t *testing.T) {
	eng, mock := mockEngine(t)
	p := build(t, plan.Operation{
		Entity: campus.Department,
		Action: plan.Create,
		Data:   map[string]any{"name": "Science"},
	})

	mock.ExpectExec(`INSERT INTO "departments" ("name") VALUES (?)`).
		WillReturnError(errors.New("UNIQUE constraint failed: departments.name"))

	_, err := eng.Create(context.Background(), p)
	assert.True(t, regent.IsUniquenessViolation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateManySkipDuplicates(t *testing.T) {
	eng, mock := mockEngine(t)
	p := build(t, plan.Operation{
		Entity: campus.Notification,
		Action: plan.CreateMany,
		Rows: []map[string]any{
			{"user_id": 1, "message": "a", "read": false},
			{"user_id": 1, "message": "b", "read": false},
		},
		SkipDuplicates: true,
	})

	mock.ExpectQuery(`SELECT 1 FROM "users" WHERE "users"."id" = ? LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(`SELECT 1 FROM "users" WHERE "users"."id" = ? LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec(`INSERT INTO "notifications" ("created_at", "message", "read", "user_id") VALUES (?, ?, ?, ?), (?, ?, ?, ?) ON CONFLICT DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := eng.CreateMany(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "skipped duplicates are not counted")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateManyUniqueViolation(t *testing.T) {
	eng, mock := mockEngine(t)
	p := build(t, plan.Operation{
		Entity: campus.Department,
		Action: plan.CreateMany,
		Rows: []map[string]any{
			{"name": "Science"},
			{"name": "Science"},
		},
	})

	mock.ExpectExec(`INSERT INTO "departments" ("name") VALUES (?), (?)`).
		WillReturnError(errors.New("UNIQUE constraint failed: departments.name"))

	_, err := eng.CreateMany(context.Background(), p)
	assert.True(t, regent.IsUniquenessViolation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStampsUpdatedAt(t *testing.T) {
	eng, mock := mockEngine(t)
	p := build(t, plan.Operation{
		Entity: campus.User,
		Action: plan.Update,
		Where:  predicate.FieldEQ("email", "ann@example.edu"),
		Select: plan.Only("status"),
		Data:   map[string]any{"status": "Inactive"},
	})

	mock.ExpectQuery(`SELECT "users"."id" FROM "users" WHERE "users"."email" = ? ORDER BY "users"."id" LIMIT 1`).
		WithArgs("ann@example.edu").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectExec(`UPDATE "users" SET "status" = ?, "updated_at" = ? WHERE "id" IN (?)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT "users"."id", "users"."status" FROM "users" WHERE "users"."id" = ?`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(int64(5), "Inactive"))

	rec, err := eng.Update(context.Background(), p)
	require.NoError(t, err)
	status, _ := rec.String("status")
	assert.Equal(t, "Inactive", status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateNotFound(t *testing.T) {
	eng, mock := mockEngine(t)
	p := build(t, plan.Operation{
		Entity: campus.User,
		Action: plan.Update,
		Where:  predicate.FieldEQ("email", "ghost@example.edu"),
		Data:   map[string]any{"status": "Inactive"},
	})

	mock.ExpectQuery(`SELECT "users"."id" FROM "users" WHERE "users"."email" = ? ORDER BY "users"."id" LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := eng.Update(context.Background(), p)
	assert.True(t, regent.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateManyBounded(t *testing.T) {
	eng, mock := mockEngine(t)
	limit := 2
	p := build(t, plan.Operation{
		Entity: campus.User,
		Action: plan.UpdateMany,
		Where:  predicate.FieldEQ("status", "Active"),
		Data:   map[string]any{"status": "Inactive"},
		Limit:  &limit,
	})

	// The bound is applied in primary-key order through an id pre-fetch.
	mock.ExpectQuery(`SELECT "users"."id" FROM "users" WHERE "users"."status" = ? ORDER BY "users"."id" LIMIT 2`).
		WithArgs("Active").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))
	mock.ExpectExec(`UPDATE "users" SET "status" = ?, "updated_at" = ? WHERE "id" IN (?, ?)`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := eng.UpdateMany(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteVetoedByReference(t *testing.T) {
	eng, mock := mockEngine(t)
	p := build(t, plan.Operation{
		Entity: campus.Department,
		Action: plan.Delete,
		Where:  predicate.FieldEQ("name", "Science"),
	})

	mock.ExpectQuery(`SELECT "departments"."id", "departments"."name" FROM "departments" WHERE "departments"."name" = ? LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "Science"))
	mock.ExpectQuery(`SELECT 1 FROM "faculties" WHERE "faculties"."department_id" IN (?) LIMIT 1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	// No DELETE is issued.
	_, err := eng.Delete(context.Background(), p)
	assert.True(t, regent.IsReferentialIntegrityBlock(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteReturnsPriorRow(t *testing.T) {
	eng, mock := mockEngine(t)
	p := build(t, plan.Operation{
		Entity: campus.Department,
		Action: plan.Delete,
		Where:  predicate.FieldEQ("name", "Arts"),
	})

	mock.ExpectQuery(`SELECT "departments"."id", "departments"."name" FROM "departments" WHERE "departments"."name" = ? LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(2), "Arts"))
	mock.ExpectQuery(`SELECT 1 FROM "faculties" WHERE "faculties"."department_id" IN (?) LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec(`DELETE FROM "departments" WHERE "id" IN (?)`).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, err := eng.Delete(context.Background(), p)
	require.NoError(t, err)
	name, _ := rec.String("name")
	assert.Equal(t, "Arts", name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCreatesWhenAbsent(t *testing.T) {
	eng, mock := mockEngine(t)
	p := build(t, plan.Operation{
		Entity:     campus.Department,
		Action:     plan.Upsert,
		Where:      predicate.FieldEQ("name", "Science"),
		Data:       map[string]any{"name": "Science"},
		CreateData: map[string]any{"name": "Science"},
	})

	// Outside a transaction the upsert opens its own.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "departments"."id" FROM "departments" WHERE "departments"."name" = ? ORDER BY "departments"."id" LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO "departments" ("name") VALUES (?)`).
		WithArgs("Science").
		WillReturnResult(sqlmock.NewResult(4, 1))
	mock.ExpectQuery(`SELECT "departments"."id", "departments"."name" FROM "departments" WHERE "departments"."id" = ?`).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(4), "Science"))
	mock.ExpectCommit()

	rec, err := eng.Upsert(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, int64(4), rec.ID())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertUpdatesWhenPresent(t *testing.T) {
	eng, mock := mockEngine(t)
	p := build(t, plan.Operation{
		Entity:     campus.User,
		Action:     plan.Upsert,
		Where:      predicate.FieldEQ("email", "ann@example.edu"),
		Select:     plan.Only("status"),
		Data:       map[string]any{"status": "Active"},
		CreateData: map[string]any{"name": "Ann", "email": "ann@example.edu", "role": "Admin", "status": "Active"},
	})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "users"."id" FROM "users" WHERE "users"."email" = ? ORDER BY "users"."id" LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectExec(`UPDATE "users" SET "status" = ?, "updated_at" = ? WHERE "id" IN (?)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT "users"."id", "users"."status" FROM "users" WHERE "users"."id" = ?`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(int64(5), "Active"))
	mock.ExpectCommit()

	rec, err := eng.Upsert(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.ID())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteManyEmptyMatch(t *testing.T) {
	eng, mock := mockEngine(t)
	p := build(t, plan.Operation{
		Entity: campus.Notification,
		Action: plan.DeleteMany,
		Where:  predicate.FieldEQ("read", true),
	})

	mock.ExpectQuery(`SELECT "notifications"."id" FROM "notifications" WHERE "notifications"."read" = ? ORDER BY "notifications"."id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	n, err := eng.DeleteMany(context.Background(), p)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
