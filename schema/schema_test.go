package schema_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regentdb/regent"
	"github.com/regentdb/regent/schema"
)

func TestEntityNaming(t *testing.T) {
	tests := []struct {
		entity string
		table  string
		label  string
	}{
		{"User", "users", "User"},
		{"DocumentType", "document_types", "Document Type"},
		{"ActivityLog", "activity_logs", "Activity Log"},
		{"Attendance", "attendances", "Attendance"},
	}
	for _, tt := range tests {
		e := schema.NewEntity(tt.entity)
		assert.Equal(t, tt.table, e.Table, tt.entity)
		assert.Equal(t, tt.label, e.Label, tt.entity)
	}
}

func TestEntityFields(t *testing.T) {
	e := schema.NewEntity("User",
		schema.String("email").SetUnique(),
		schema.Time("last_login").SetNullable(),
	)

	t.Run("Columns", func(t *testing.T) {
		assert.Equal(t, []string{"id", "email", "last_login"}, e.Columns())
	})

	t.Run("ImplicitID", func(t *testing.T) {
		f, ok := e.Field(schema.ID)
		require.True(t, ok)
		assert.Equal(t, schema.TypeInt, f.Type)
		assert.True(t, f.Unique)
	})

	t.Run("Declared", func(t *testing.T) {
		f, ok := e.Field("email")
		require.True(t, ok)
		assert.True(t, f.Unique)
		assert.Equal(t, schema.TypeString, f.Type)
	})

	t.Run("Unknown", func(t *testing.T) {
		_, ok := e.Field("missing")
		assert.False(t, ok)
	})
}

func TestTypeProperties(t *testing.T) {
	assert.True(t, schema.TypeInt.Numeric())
	assert.True(t, schema.TypeFloat.Numeric())
	assert.False(t, schema.TypeString.Numeric())
	assert.True(t, schema.TypeTime.Comparable())
	assert.True(t, schema.TypeString.Comparable())
	assert.False(t, schema.TypeBool.Comparable())
	assert.False(t, schema.TypeEnum.Comparable())
}

func TestRelationShape(t *testing.T) {
	owner := schema.ToOne("user", "User", "user_id")
	assert.True(t, owner.ToOne())
	assert.True(t, owner.Owner())
	assert.True(t, owner.Required)

	inverse := schema.HasOne("faculty", "Faculty", "user_id")
	assert.True(t, inverse.ToOne())
	assert.False(t, inverse.Owner())

	many := schema.HasMany("documents", "Document", "faculty_id")
	assert.False(t, many.ToOne())
	assert.False(t, many.Owner())

	belongs := schema.BelongsTo("department", "Department", "department_id").SetOptional()
	assert.False(t, belongs.Required)
}

func TestNewRegistryValidation(t *testing.T) {
	t.Run("DuplicateEntity", func(t *testing.T) {
		_, err := schema.NewRegistry(schema.NewEntity("User"), schema.NewEntity("User"))
		assert.ErrorContains(t, err, "duplicate entity")
	})

	t.Run("UnknownTarget", func(t *testing.T) {
		e := schema.NewEntity("Faculty", schema.Int("user_id").SetUnique()).
			WithRelations(schema.ToOne("user", "User", "user_id"))
		_, err := schema.NewRegistry(e)
		assert.ErrorContains(t, err, "unknown entity")
	})

	t.Run("MissingForeignKey", func(t *testing.T) {
		e := schema.NewEntity("Faculty").
			WithRelations(schema.BelongsTo("department", "Department", "department_id"))
		_, err := schema.NewRegistry(e, schema.NewEntity("Department"))
		assert.ErrorContains(t, err, "missing fk column")
	})

	t.Run("NonUniqueOneToOne", func(t *testing.T) {
		e := schema.NewEntity("Faculty", schema.Int("user_id")).
			WithRelations(schema.ToOne("user", "User", "user_id"))
		_, err := schema.NewRegistry(e, schema.NewEntity("User"))
		assert.ErrorContains(t, err, "requires a unique fk")
	})

	t.Run("RequiredWithNullableFK", func(t *testing.T) {
		e := schema.NewEntity("Faculty", schema.Int("department_id").SetNullable()).
			WithRelations(schema.BelongsTo("department", "Department", "department_id"))
		_, err := schema.NewRegistry(e, schema.NewEntity("Department"))
		assert.ErrorContains(t, err, "nullable fk")
	})

	t.Run("InverseFKOnTarget", func(t *testing.T) {
		user := schema.NewEntity("User").
			WithRelations(schema.HasOne("faculty", "Faculty", "user_id"))
		faculty := schema.NewEntity("Faculty", schema.Int("user_id").SetUnique())
		_, err := schema.NewRegistry(user, faculty)
		assert.NoError(t, err)
	})
}

func TestRegistryDescribe(t *testing.T) {
	r := schema.MustRegistry(schema.NewEntity("User"))

	e, err := r.Describe("User")
	require.NoError(t, err)
	assert.Equal(t, "User", e.Name)

	_, err = r.Describe("Ghost")
	assert.True(t, errors.Is(err, regent.ErrUnknownEntity))
}

func TestReferencedBy(t *testing.T) {
	dept := schema.NewEntity("Department")
	faculty := schema.NewEntity("Faculty",
		schema.Int("department_id"),
		schema.Int("mentor_id").SetNullable(),
	).WithRelations(
		schema.BelongsTo("department", "Department", "department_id"),
		schema.BelongsTo("mentor", "Department", "mentor_id").SetOptional(),
	)
	r := schema.MustRegistry(dept, faculty)

	refs := r.ReferencedBy("Department")
	require.Len(t, refs, 1, "optional references must not veto deletes")
	assert.Equal(t, "Faculty", refs[0].Entity.Name)
	assert.Equal(t, "department", refs[0].Relation.Name)

	assert.Empty(t, r.ReferencedBy("Faculty"))
}

func TestCheckValue(t *testing.T) {
	e := schema.NewEntity("Sample",
		schema.Int("age"),
		schema.Float("rate"),
		schema.String("name"),
		schema.Bool("active"),
		schema.Time("seen"),
		schema.Enum("mode", "A", "B"),
		schema.String("note").SetNullable(),
	)
	field := func(name string) *schema.Field {
		f, ok := e.Field(name)
		require.True(t, ok)
		return f
	}

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, schema.CheckValue(e, field("age"), 7))
		assert.NoError(t, schema.CheckValue(e, field("age"), int64(7)))
		assert.NoError(t, schema.CheckValue(e, field("rate"), 1.5))
		assert.NoError(t, schema.CheckValue(e, field("rate"), 2))
		assert.NoError(t, schema.CheckValue(e, field("name"), "x"))
		assert.NoError(t, schema.CheckValue(e, field("active"), true))
		assert.NoError(t, schema.CheckValue(e, field("seen"), time.Now()))
		assert.NoError(t, schema.CheckValue(e, field("mode"), "A"))
		assert.NoError(t, schema.CheckValue(e, field("note"), nil))
	})

	t.Run("TypeMismatch", func(t *testing.T) {
		err := schema.CheckValue(e, field("age"), "seven")
		assert.True(t, errors.Is(err, regent.ErrIncompatibleOperator))
		assert.Error(t, schema.CheckValue(e, field("active"), 1))
		assert.Error(t, schema.CheckValue(e, field("seen"), "2024-01-01"))
	})

	t.Run("EnumOutsideSet", func(t *testing.T) {
		err := schema.CheckValue(e, field("mode"), "C")
		assert.True(t, errors.Is(err, regent.ErrInvalidEnumValue))
	})

	t.Run("NilOnNonNullable", func(t *testing.T) {
		err := schema.CheckValue(e, field("age"), nil)
		assert.True(t, errors.Is(err, regent.ErrIncompatibleOperator))
	})
}
