// Package errors provides centralized error definitions and error handling utilities
// for the milhouse state store. It defines the store's error taxonomy, sentinel
// errors, error constructors with context wrapping, and classification helpers.
//
// # Error Types
//
//   - ParseError: malformed JSON or a record that failed schema decoding
//   - NotFoundError: an expected resource is absent
//   - LockError: a lock could not be acquired within its retry/stale budget
//   - WriteError: a filesystem write failed
//   - ValidationError: structural schema violation, carrying the violating fields
//   - DataLossError: a write was refused because it would truncate real data
//
// # Usage
//
//	err := errors.NewLockError(path, waited).WithCause(cause)
//
//	if errors.Is(err, errors.ErrLock) { ... }
//
//	var dl *errors.DataLossError
//	if errors.As(err, &dl) { ... }
//
//	if errors.IsRetryable(err) { ... }
//
// Ordinary not-found conditions are not errors in the store API: reads return
// nil and deletes return false. NotFoundError is reserved for operations whose
// contract requires the resource, such as selecting a run as current.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Taxonomy sentinels. Each typed error matches its sentinel via errors.Is.
var (
	// ErrParse indicates malformed JSON or an undecodable record.
	ErrParse = New("parse error")
	// ErrNotFound indicates that a required resource is absent.
	ErrNotFound = New("not found")
	// ErrLock indicates that a lock could not be acquired.
	ErrLock = New("lock not acquired")
	// ErrWrite indicates that a filesystem write failed.
	ErrWrite = New("write failed")
	// ErrValidation indicates a structural schema violation.
	ErrValidation = New("validation failed")
	// ErrDataLoss indicates a write that would have truncated on-disk data.
	ErrDataLoss = New("refusing write: possible data loss")
)

// Domain sentinels.
var (
	// ErrRunNotFound indicates that a run id is not present in the runs index.
	ErrRunNotFound = New("run not found")
	// ErrSnapshotNotFound indicates that a snapshot id does not exist.
	ErrSnapshotNotFound = New("snapshot not found")
	// ErrDependencyCycle indicates that an edge would close a dependency cycle.
	ErrDependencyCycle = New("dependency cycle detected")
	// ErrUnknownDependency indicates a dependency on a task that does not exist.
	ErrUnknownDependency = New("unknown dependency")
	// ErrInvalidPhaseTransition indicates a phase change rejected by strict mode.
	ErrInvalidPhaseTransition = New("invalid phase transition")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// StoreError is the base interface for all milhouse errors.
type StoreError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// ParseError
// -----------------------------------------------------------------------------

// ParseError represents malformed JSON for a whole file or a single record.
// Index is -1 when the failure concerns the whole file.
//
// Example:
//
//	err := errors.NewParseError("/ws/.milhouse/state/tasks.json", cause).WithIndex(3)
//	fmt.Println(err) // "parse error [path=/ws/.milhouse/state/tasks.json, index=3]: ..."
type ParseError struct {
	baseError
	Path  string
	Index int
}

// NewParseError creates a new ParseError for the given file.
func NewParseError(path string, cause error) *ParseError {
	return &ParseError{
		baseError: baseError{
			message:    "parse error",
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		Path:  path,
		Index: -1,
	}
}

// WithIndex records which array element failed to parse.
func (e *ParseError) WithIndex(i int) *ParseError {
	e.Index = i
	return e
}

// Error returns the formatted error message.
func (e *ParseError) Error() string {
	parts := []string{fmt.Sprintf("path=%s", e.Path)}
	if e.Index >= 0 {
		parts = append(parts, fmt.Sprintf("index=%d", e.Index))
	}
	msg := fmt.Sprintf("parse error [%s]", strings.Join(parts, ", "))
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *ParseError) Is(target error) bool {
	if _, ok := target.(*ParseError); ok {
		return true
	}
	if target == ErrParse {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// NotFoundError
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("run", "20261018-abc")
//	fmt.Println(err) // "run '20261018-abc' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	if target == ErrNotFound {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// LockError
// -----------------------------------------------------------------------------

// LockError is returned when a lock could not be acquired within the
// configured retry and stale budget. Lock errors are retryable.
type LockError struct {
	baseError
	Path     string
	Waited   time.Duration
	Attempts int
}

// NewLockError creates a new LockError for the given lock path.
func NewLockError(path string, waited time.Duration) *LockError {
	return &LockError{
		baseError: baseError{
			message:    "could not acquire lock",
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
		Path:   path,
		Waited: waited,
	}
}

// WithAttempts records how many acquisition attempts were made.
func (e *LockError) WithAttempts(n int) *LockError {
	e.Attempts = n
	return e
}

// WithCause adds a cause to the error.
func (e *LockError) WithCause(cause error) *LockError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *LockError) Error() string {
	msg := fmt.Sprintf("could not acquire lock %s after %s", e.Path, e.Waited.Round(time.Millisecond))
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s (%d attempts)", msg, e.Attempts)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *LockError) Is(target error) bool {
	if _, ok := target.(*LockError); ok {
		return true
	}
	if target == ErrLock {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// WriteError
// -----------------------------------------------------------------------------

// WriteError wraps a failed filesystem write (permissions, disk full, ...).
type WriteError struct {
	baseError
	Path string
}

// NewWriteError creates a new WriteError.
func NewWriteError(path string, cause error) *WriteError {
	return &WriteError{
		baseError: baseError{
			message:    "write failed",
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		Path: path,
	}
}

// Error returns the formatted error message.
func (e *WriteError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("write %s: %v", e.Path, e.cause)
	}
	return fmt.Sprintf("write %s failed", e.Path)
}

// Is checks if this error matches the target.
func (e *WriteError) Is(target error) bool {
	if _, ok := target.(*WriteError); ok {
		return true
	}
	if target == ErrWrite {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// ValidationError
// -----------------------------------------------------------------------------

// FieldViolation describes a single failing field of a record.
type FieldViolation struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Value any    `json:"value,omitempty"`
}

// String renders the violation as "field (rule)".
func (v FieldViolation) String() string {
	if v.Rule == "" {
		return v.Field
	}
	return fmt.Sprintf("%s (%s)", v.Field, v.Rule)
}

// ValidationError represents a structural schema violation. Unlike ParseError
// it carries the list of violating fields.
//
// Example:
//
//	err := errors.NewValidationError("task record invalid").
//		WithFields(errors.FieldViolation{Field: "status", Rule: "oneof"})
type ValidationError struct {
	baseError
	Fields []FieldViolation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithFields appends violating fields.
func (e *ValidationError) WithFields(fields ...FieldViolation) *ValidationError {
	e.Fields = append(e.Fields, fields...)
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// FieldNames returns the names of the violating fields.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Field)
	}
	return names
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	prefix := "validation error"
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, f.String())
		}
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrValidation || target == ErrInvalidInput {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// DataLossError
// -----------------------------------------------------------------------------

// DataLossError is returned when a write is refused because the records about
// to be written are fewer than the records present on disk, which almost always
// means schema validation dropped them during load.
type DataLossError struct {
	baseError
	Path       string
	RawCount   int
	ValidCount int
}

// NewDataLossError creates a new DataLossError.
func NewDataLossError(path string, rawCount, validCount int) *DataLossError {
	return &DataLossError{
		baseError: baseError{
			message:    "refusing to overwrite",
			severity:   SeverityCritical,
			retryable:  false,
			userFacing: true,
		},
		Path:       path,
		RawCount:   rawCount,
		ValidCount: validCount,
	}
}

// Error returns the formatted error message.
func (e *DataLossError) Error() string {
	return fmt.Sprintf("refusing to overwrite %s: %d records on disk but only %d passed validation; fix schema issues before retrying",
		e.Path, e.RawCount, e.ValidCount)
}

// Is checks if this error matches the target.
func (e *DataLossError) Is(target error) bool {
	if _, ok := target.(*DataLossError); ok {
		return true
	}
	return target == ErrDataLoss
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. Lock errors are retryable; parse, validation
// and data-loss errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var storeErr StoreError
	if As(err, &storeErr) {
		return storeErr.IsRetryable()
	}

	return false
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var storeErr StoreError
	if As(err, &storeErr) {
		return storeErr.IsUserFacing()
	}

	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement StoreError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var storeErr StoreError
	if As(err, &storeErr) {
		return storeErr.Severity()
	}

	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
