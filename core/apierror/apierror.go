// Package apierror defines the error taxonomy shared by every stage of the
// synthesis pipeline. Storage, policy and validation failures are converted
// into these types before they leave their package, so callers never see a
// raw driver error.
package apierror

import (
	"errors"
	"fmt"
	"strings"
)

// FieldError describes a single violation located at a field path.
type FieldError struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint,omitempty"`
	Message    string `json:"message"`
}

func (e FieldError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError reports schema load or request input violations.
// It is never fatal to the process.
type ValidationError struct {
	Fields []FieldError `json:"errors"`
}

// NewValidation returns a ValidationError holding one violation.
func NewValidation(field, constraint, message string) *ValidationError {
	v := &ValidationError{}
	v.Add(field, constraint, message)
	return v
}

// Add appends a violation.
func (e *ValidationError) Add(field, constraint, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Constraint: constraint, Message: message})
}

// Addf appends a violation with a formatted message.
func (e *ValidationError) Addf(field, constraint, format string, args ...any) {
	e.Add(field, constraint, fmt.Sprintf(format, args...))
}

// Merge appends every violation of other.
func (e *ValidationError) Merge(other *ValidationError) {
	if other == nil {
		return
	}
	e.Fields = append(e.Fields, other.Fields...)
}

// Empty reports whether no violation was recorded.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// Err returns e as an error, or nil when it is empty.
func (e *ValidationError) Err() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("validation errors:\n  - %s", strings.Join(msgs, "\n  - "))
}

// NotFoundError reports an unknown entity or an unknown record id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("entity %q not found", e.Entity)
	}
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// PolicyDeniedError reports an authorization failure. Authenticated records
// whether the caller presented an identity, which decides between 401 and 403.
type PolicyDeniedError struct {
	Entity        string
	Operation     string
	Reason        string
	Authenticated bool
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("%s on %s denied: %s", e.Operation, e.Entity, e.Reason)
}

// ConflictError reports a state conflict, such as a delete blocked by
// dependents or a uniqueness violation. The caller must resolve the
// conflict before retrying the logical operation.
type ConflictError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ConflictError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s conflict on %s: %s", e.Entity, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s conflict: %s", e.Entity, e.Reason)
}

// PersistenceUnavailableError reports that the storage engine was
// unreachable or timed out. The whole request may be retried by its caller;
// the pipeline itself never retries.
type PersistenceUnavailableError struct {
	Op  string
	Err error
}

func (e *PersistenceUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *PersistenceUnavailableError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsPolicyDenied reports whether err is a PolicyDeniedError.
func IsPolicyDenied(err error) bool {
	var target *PolicyDeniedError
	return errors.As(err, &target)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsUnavailable reports whether err is a PersistenceUnavailableError.
func IsUnavailable(err error) bool {
	var target *PersistenceUnavailableError
	return errors.As(err, &target)
}

// Retryable reports whether the caller may retry the whole request.
func Retryable(err error) bool {
	return IsUnavailable(err)
}
