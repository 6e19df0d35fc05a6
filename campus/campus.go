// Package campus declares the fixed schema of the institutional
// administration store: accounts, faculty employment, documents, schedules
// and the audit trail around them. The schema is build-time data; the
// engine consumes it through the schema registry and has no knowledge of
// the individual entities.
package campus

import "github.com/regentdb/regent/schema"

// Entity names registered by this package.
const (
	User         = "User"
	Faculty      = "Faculty"
	Department   = "Department"
	Contract     = "Contract"
	Document     = "Document"
	DocumentType = "DocumentType"
	Schedule     = "Schedule"
	Cashier      = "Cashier"
	Registrar    = "Registrar"
	AIChat       = "AIChat"
	Report       = "Report"
	Notification = "Notification"
	ActivityLog  = "ActivityLog"
	Attendance   = "Attendance"
)

var registry = schema.MustRegistry(
	schema.NewEntity(User,
		schema.String("name"),
		schema.String("email").SetUnique(),
		schema.Enum("role", RoleValues()...),
		schema.Enum("status", StatusValues()...),
		schema.Time("created_at"),
		schema.Time("updated_at").SetNullable(),
		schema.Time("last_login").SetNullable(),
	).WithRelations(
		schema.HasOne("faculty", Faculty, "user_id"),
		schema.HasOne("cashier", Cashier, "user_id"),
		schema.HasOne("registrar", Registrar, "user_id"),
		schema.HasMany("ai_chats", AIChat, "user_id"),
		schema.HasMany("activity_logs", ActivityLog, "user_id"),
		schema.HasMany("notifications", Notification, "user_id"),
		schema.HasMany("reports", Report, "user_id"),
	),

	schema.NewEntity(Faculty,
		schema.Int("user_id").SetUnique(),
		schema.Int("department_id"),
		schema.Int("contract_id").SetNullable(),
		schema.String("position"),
		schema.Enum("employment_status", EmploymentStatusValues()...),
		schema.Time("hire_date"),
		schema.Time("resignation_date").SetNullable(),
	).WithRelations(
		schema.ToOne("user", User, "user_id"),
		schema.BelongsTo("department", Department, "department_id"),
		schema.BelongsTo("contract", Contract, "contract_id").SetOptional(),
		schema.HasMany("documents", Document, "faculty_id"),
		schema.HasMany("schedules", Schedule, "faculty_id"),
	),

	schema.NewEntity(Department,
		schema.String("name").SetUnique(),
	).WithRelations(
		schema.HasMany("faculties", Faculty, "department_id"),
	),

	schema.NewEntity(Contract,
		schema.Time("start_date"),
		schema.Time("end_date"),
		schema.Enum("contract_type", ContractTypeValues()...),
	).WithRelations(
		// A contract is reusable across multiple faculty rows.
		schema.HasMany("faculties", Faculty, "contract_id"),
	),

	schema.NewEntity(Document,
		schema.Int("faculty_id"),
		schema.Int("document_type_id"),
		schema.Time("upload_date"),
		schema.Enum("submission_status", SubmissionStatusValues()...),
	).WithRelations(
		schema.BelongsTo("faculty", Faculty, "faculty_id"),
		schema.BelongsTo("document_type", DocumentType, "document_type_id"),
	),

	schema.NewEntity(DocumentType,
		schema.String("name").SetUnique(),
	).WithRelations(
		schema.HasMany("documents", Document, "document_type_id"),
	),

	schema.NewEntity(Schedule,
		schema.Int("faculty_id"),
		schema.Enum("day", DayOfWeekValues()...),
		schema.String("start_time"),
		schema.String("end_time"),
		schema.String("subject"),
		schema.String("section"),
	).WithRelations(
		schema.BelongsTo("faculty", Faculty, "faculty_id"),
	),

	schema.NewEntity(Cashier,
		schema.Int("user_id").SetUnique(),
		schema.String("shift_start").SetNullable(),
		schema.String("shift_end").SetNullable(),
	).WithRelations(
		schema.ToOne("user", User, "user_id"),
	),

	schema.NewEntity(Registrar,
		schema.Int("user_id").SetUnique(),
		schema.String("office").SetNullable(),
		schema.String("shift_start").SetNullable(),
		schema.String("shift_end").SetNullable(),
	).WithRelations(
		schema.ToOne("user", User, "user_id"),
	),

	schema.NewEntity(AIChat,
		schema.Int("user_id"),
		schema.String("title"),
		schema.Time("created_at"),
	).WithRelations(
		schema.BelongsTo("user", User, "user_id"),
	),

	schema.NewEntity(Report,
		schema.Int("user_id"),
		schema.String("title"),
		schema.String("content"),
		schema.Time("created_at"),
	).WithRelations(
		schema.BelongsTo("user", User, "user_id"),
	),

	schema.NewEntity(Notification,
		schema.Int("user_id"),
		schema.String("message"),
		schema.Bool("read"),
		schema.Time("created_at"),
	).WithRelations(
		schema.BelongsTo("user", User, "user_id"),
	),

	// user is nullable so system-generated audit entries can be recorded
	// without an account.
	schema.NewEntity(ActivityLog,
		schema.Int("user_id").SetNullable(),
		schema.String("action"),
		schema.String("entity"),
		schema.Int("record_id").SetNullable(),
		schema.Time("timestamp"),
		schema.String("ip_address"),
	).WithRelations(
		schema.BelongsTo("user", User, "user_id").SetOptional(),
	),

	// Attendance stands alone: keyed by employee identifier, no declared
	// relations to the account entities.
	schema.NewEntity(Attendance,
		schema.String("employee_id"),
		schema.Time("date"),
		schema.Time("time_in").SetNullable(),
		schema.Time("time_out").SetNullable(),
		schema.String("status"),
		schema.Time("created_at"),
		schema.Time("updated_at").SetNullable(),
	),
)

// Registry returns the campus schema registry.
func Registry() *schema.Registry { return registry }
