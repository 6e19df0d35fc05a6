package regent

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors used as reasons inside the structured error types below.
// They allow callers to branch with errors.Is without inspecting strings.
var (
	// ErrNotFound is returned when a uniquely-addressed entity does not exist.
	ErrNotFound = errors.New("regent: entity not found")

	// ErrUnknownEntity is the reason for a SchemaError on an unregistered entity.
	ErrUnknownEntity = errors.New("regent: unknown entity")

	// ErrUnknownField is the reason for a SchemaError on an undeclared field.
	ErrUnknownField = errors.New("regent: unknown field")

	// ErrIncompatibleOperator is the reason for a SchemaError when a filter
	// operator does not apply to the field's declared type.
	ErrIncompatibleOperator = errors.New("regent: incompatible operator")

	// ErrInvalidEnumValue is the reason for a SchemaError when a value is not
	// part of the field's declared enum set.
	ErrInvalidEnumValue = errors.New("regent: invalid enum value")

	// ErrUnknownRelation is the reason for a SchemaError on an undeclared relation.
	ErrUnknownRelation = errors.New("regent: unknown relation")

	// ErrConflictingSelection is the reason for a PlanError when both an
	// allow-list and a deny-list selection are requested.
	ErrConflictingSelection = errors.New("regent: conflicting selection")

	// ErrMissingOrderForCursor is the reason for a PlanError when cursor
	// pagination is requested without an ordering.
	ErrMissingOrderForCursor = errors.New("regent: cursor requires order by")

	// ErrInvalidInclude is the reason for a PlanError when an include tree
	// requests something a relation cannot provide.
	ErrInvalidInclude = errors.New("regent: invalid include")

	// ErrInvalidCursor is the reason for a PlanError when a cursor token is
	// malformed or its anchor row no longer exists.
	ErrInvalidCursor = errors.New("regent: invalid cursor")

	// ErrEmptyGroupKeys is the reason for an AggregationError on a group-by
	// with no grouping keys.
	ErrEmptyGroupKeys = errors.New("regent: empty group keys")

	// ErrOrderFieldNotGrouped is the reason for an AggregationError when an
	// order-by field is absent from the grouping keys.
	ErrOrderFieldNotGrouped = errors.New("regent: order field not grouped")

	// ErrHavingFieldNotGrouped is the reason for an AggregationError when a
	// having field is absent from the grouping keys.
	ErrHavingFieldNotGrouped = errors.New("regent: having field not grouped")

	// ErrPaginationRequiresOrder is the reason for an AggregationError when
	// skip/take is requested on a group-by without an ordering.
	ErrPaginationRequiresOrder = errors.New("regent: pagination requires order by")

	// ErrNestedTransaction is returned when a transaction is started from
	// within an already-open transaction.
	ErrNestedTransaction = errors.New("regent: cannot start a transaction within a transaction")
)

// SchemaError reports a validation failure against the schema registry:
// an unknown entity, field or relation, or a filter that does not type-check.
type SchemaError struct {
	Entity string // Entity the operation targeted.
	Field  string // Offending field or relation, if any.
	reason error  // One of the Err* sentinels above.
}

// Error returns the error string.
func (e *SchemaError) Error() string {
	switch {
	case errors.Is(e.reason, ErrUnknownEntity):
		return fmt.Sprintf("regent: unknown entity %q", e.Entity)
	case e.Field != "":
		return fmt.Sprintf("%s %q on %s", e.reason, e.Field, e.Entity)
	default:
		return fmt.Sprintf("%s on %s", e.reason, e.Entity)
	}
}

// Is reports whether the target matches the error reason.
func (e *SchemaError) Is(target error) bool { return errors.Is(e.reason, target) }

// Unwrap returns the reason sentinel.
func (e *SchemaError) Unwrap() error { return e.reason }

// NewUnknownEntityError returns a SchemaError for an unregistered entity.
func NewUnknownEntityError(entity string) *SchemaError {
	return &SchemaError{Entity: entity, reason: ErrUnknownEntity}
}

// NewUnknownFieldError returns a SchemaError for an undeclared field.
func NewUnknownFieldError(entity, field string) *SchemaError {
	return &SchemaError{Entity: entity, Field: field, reason: ErrUnknownField}
}

// NewUnknownRelationError returns a SchemaError for an undeclared relation.
func NewUnknownRelationError(entity, relation string) *SchemaError {
	return &SchemaError{Entity: entity, Field: relation, reason: ErrUnknownRelation}
}

// NewIncompatibleOperatorError returns a SchemaError for an operator that
// does not apply to the field's declared type.
func NewIncompatibleOperatorError(entity, field string) *SchemaError {
	return &SchemaError{Entity: entity, Field: field, reason: ErrIncompatibleOperator}
}

// NewInvalidEnumValueError returns a SchemaError for a value outside the
// field's declared enum set.
func NewInvalidEnumValueError(entity, field string) *SchemaError {
	return &SchemaError{Entity: entity, Field: field, reason: ErrInvalidEnumValue}
}

// IsSchemaError returns true if the error is a SchemaError.
func IsSchemaError(err error) bool {
	if err == nil {
		return false
	}
	var e *SchemaError
	return errors.As(err, &e)
}

// PlanError reports an operation descriptor that cannot be planned:
// conflicting selection, cursor without ordering, or an invalid cursor.
type PlanError struct {
	Entity string
	reason error
	msg    string // Optional detail, e.g. the cursor decoding failure.
}

// Error returns the error string.
func (e *PlanError) Error() string {
	if e.msg != "" {
		return fmt.Sprintf("%s on %s: %s", e.reason, e.Entity, e.msg)
	}
	return fmt.Sprintf("%s on %s", e.reason, e.Entity)
}

// Is reports whether the target matches the error reason.
func (e *PlanError) Is(target error) bool { return errors.Is(e.reason, target) }

// Unwrap returns the reason sentinel.
func (e *PlanError) Unwrap() error { return e.reason }

// NewPlanError returns a PlanError with the given reason sentinel.
func NewPlanError(entity string, reason error, msg string) *PlanError {
	return &PlanError{Entity: entity, reason: reason, msg: msg}
}

// IsPlanError returns true if the error is a PlanError.
func IsPlanError(err error) bool {
	if err == nil {
		return false
	}
	var e *PlanError
	return errors.As(err, &e)
}

// AggregationError reports a group-by request that violates the aggregation
// legality rules. It is always raised before any statement reaches storage.
type AggregationError struct {
	Entity string
	Field  string // Offending order-by/having field, if any.
	reason error
}

// Error returns the error string.
func (e *AggregationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %q on %s", e.reason, e.Field, e.Entity)
	}
	return fmt.Sprintf("%s on %s", e.reason, e.Entity)
}

// Is reports whether the target matches the error reason.
func (e *AggregationError) Is(target error) bool { return errors.Is(e.reason, target) }

// Unwrap returns the reason sentinel.
func (e *AggregationError) Unwrap() error { return e.reason }

// NewAggregationError returns an AggregationError with the given reason.
func NewAggregationError(entity, field string, reason error) *AggregationError {
	return &AggregationError{Entity: entity, Field: field, reason: reason}
}

// IsAggregationError returns true if the error is an AggregationError.
func IsAggregationError(err error) bool {
	if err == nil {
		return false
	}
	var e *AggregationError
	return errors.As(err, &e)
}

// NotFoundError is returned when a uniquely-addressed row does not exist.
type NotFoundError struct {
	Entity string
	ID     any // The key that was searched for, if known.
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("regent: %s not found (key=%v)", e.Entity, e.ID)
	}
	return fmt.Sprintf("regent: %s not found", e.Entity)
}

// Is reports whether the target error matches NotFoundError.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NewNotFoundError returns a NotFoundError for the given entity.
func NewNotFoundError(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// IntegrityViolationError reports a required to-one relation whose target
// row was absent at read time. The schema invariants guarantee this cannot
// happen under normal operation, so it indicates external data corruption.
type IntegrityViolationError struct {
	Entity   string // Entity whose row held the dangling reference.
	Relation string // The required relation that failed to resolve.
	Key      any    // The foreign-key value that did not resolve.
}

// Error returns the error string.
func (e *IntegrityViolationError) Error() string {
	return fmt.Sprintf("regent: integrity violation: %s.%s does not resolve (key=%v)",
		e.Entity, e.Relation, e.Key)
}

// NewIntegrityViolationError returns a new IntegrityViolationError.
func NewIntegrityViolationError(entity, relation string, key any) *IntegrityViolationError {
	return &IntegrityViolationError{Entity: entity, Relation: relation, Key: key}
}

// IsIntegrityViolation returns true if the error is an IntegrityViolationError.
func IsIntegrityViolation(err error) bool {
	if err == nil {
		return false
	}
	var e *IntegrityViolationError
	return errors.As(err, &e)
}

// RequiredRelationMissingError reports a write that references a mandatory
// relation target that does not exist, or omits it entirely.
type RequiredRelationMissingError struct {
	Entity   string
	Relation string
	Key      any // The foreign-key value supplied, or nil if omitted.
}

// Error returns the error string.
func (e *RequiredRelationMissingError) Error() string {
	if e.Key == nil {
		return fmt.Sprintf("regent: required relation %s.%s is missing", e.Entity, e.Relation)
	}
	return fmt.Sprintf("regent: required relation %s.%s has no target (key=%v)",
		e.Entity, e.Relation, e.Key)
}

// NewRequiredRelationMissingError returns a new RequiredRelationMissingError.
func NewRequiredRelationMissingError(entity, relation string, key any) *RequiredRelationMissingError {
	return &RequiredRelationMissingError{Entity: entity, Relation: relation, Key: key}
}

// IsRequiredRelationMissing returns true if the error is a RequiredRelationMissingError.
func IsRequiredRelationMissing(err error) bool {
	if err == nil {
		return false
	}
	var e *RequiredRelationMissingError
	return errors.As(err, &e)
}

// ReferentialIntegrityError reports a delete that was blocked because the
// target rows are still referenced through a required relation.
type ReferentialIntegrityError struct {
	Entity      string // Entity being deleted.
	Referencing string // Entity still holding references.
	Relation    string // The relation on the referencing entity.
}

// Error returns the error string.
func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("regent: cannot delete %s: still referenced by %s.%s",
		e.Entity, e.Referencing, e.Relation)
}

// NewReferentialIntegrityError returns a new ReferentialIntegrityError.
func NewReferentialIntegrityError(entity, referencing, relation string) *ReferentialIntegrityError {
	return &ReferentialIntegrityError{Entity: entity, Referencing: referencing, Relation: relation}
}

// IsReferentialIntegrityBlock returns true if the error is a ReferentialIntegrityError.
func IsReferentialIntegrityBlock(err error) bool {
	if err == nil {
		return false
	}
	var e *ReferentialIntegrityError
	return errors.As(err, &e)
}

// UniquenessError reports an insert or update that violated a uniqueness
// constraint outside skip-duplicates mode.
type UniquenessError struct {
	Entity string
	wrap   error // Underlying driver error, if any.
}

// Error returns the error string.
func (e *UniquenessError) Error() string {
	return fmt.Sprintf("regent: uniqueness violation on %s", e.Entity)
}

// Unwrap returns the underlying driver error.
func (e *UniquenessError) Unwrap() error { return e.wrap }

// NewUniquenessError returns a new UniquenessError.
func NewUniquenessError(entity string, wrap error) *UniquenessError {
	return &UniquenessError{Entity: entity, wrap: wrap}
}

// IsUniquenessViolation returns true if the error is a UniquenessError.
func IsUniquenessViolation(err error) bool {
	if err == nil {
		return false
	}
	var e *UniquenessError
	return errors.As(err, &e)
}

// TxAcquireTimeoutError reports that a transaction slot could not be
// acquired within the configured maximum wait.
type TxAcquireTimeoutError struct {
	Wait time.Duration
}

// Error returns the error string.
func (e *TxAcquireTimeoutError) Error() string {
	return fmt.Sprintf("regent: transaction slot not acquired within %s", e.Wait)
}

// IsTxAcquireTimeout returns true if the error is a TxAcquireTimeoutError.
func IsTxAcquireTimeout(err error) bool {
	if err == nil {
		return false
	}
	var e *TxAcquireTimeoutError
	return errors.As(err, &e)
}

// IsNestedTransaction returns true if the error reports a re-entrant
// transaction attempt.
func IsNestedTransaction(err error) bool {
	return errors.Is(err, ErrNestedTransaction)
}

// StorageError wraps an error surfaced by the storage collaborator.
// The engine does not retry these; availability policy belongs to the caller.
type StorageError struct {
	Entity string // Entity the statement targeted, if known.
	Op     string // Operation, e.g. "select", "insert", "delete".
	Err    error
}

// Error returns the error string.
func (e *StorageError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("regent: storage: %s %s: %v", e.Op, e.Entity, e.Err)
	}
	return fmt.Sprintf("regent: storage: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError returns a new StorageError.
func NewStorageError(entity, op string, err error) *StorageError {
	return &StorageError{Entity: entity, Op: op, Err: err}
}

// IsStorageError returns true if the error is a StorageError.
func IsStorageError(err error) bool {
	if err == nil {
		return false
	}
	var e *StorageError
	return errors.As(err, &e)
}
