package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// RuntimeError represents an error detected while resolving or applying an
// identifier pair.
//
// Runtime errors include:
//   - Invalid argument: neither identifier given, or one is malformed
//   - Constraint conflict: a write hit a uniqueness constraint, or the rows
//     the resolver saw changed before the write
//   - Inconsistent state: a conflict survived the retry, or an outcome's
//     precondition does not hold
//
// RuntimeError includes structured fields for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Details contains identifier context (aci, e164, ids, rule).
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeInvalidArgument indicates a request the engine cannot act on.
	ErrCodeInvalidArgument RuntimeErrorCode = "INVALID_ARGUMENT"

	// ErrCodeConstraintConflict indicates stale state; the engine re-resolves once.
	ErrCodeConstraintConflict RuntimeErrorCode = "CONSTRAINT_CONFLICT"

	// ErrCodeInconsistentState indicates the store cannot be reconciled.
	ErrCodeInconsistentState RuntimeErrorCode = "INCONSISTENT_STATE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Details[k])
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsInvalidArgument reports whether err is an invalid-argument error.
// Uses errors.As to handle wrapped errors.
func IsInvalidArgument(err error) bool {
	return hasCode(err, ErrCodeInvalidArgument)
}

// IsConstraintConflict reports whether err is a constraint conflict.
func IsConstraintConflict(err error) bool {
	return hasCode(err, ErrCodeConstraintConflict)
}

// IsInconsistentState reports whether err is an inconsistent-state error.
func IsInconsistentState(err error) bool {
	return hasCode(err, ErrCodeInconsistentState)
}

// NewInvalidArgument creates a RuntimeError for a rejected request.
func NewInvalidArgument(message string, cause error) *RuntimeError {
	return &RuntimeError{Code: ErrCodeInvalidArgument, Message: message, Cause: cause}
}

// NewConstraintConflict creates a RuntimeError for stale or conflicting state.
func NewConstraintConflict(message string, cause error, details map[string]string) *RuntimeError {
	return &RuntimeError{Code: ErrCodeConstraintConflict, Message: message, Details: details, Cause: cause}
}

// NewInconsistentState creates a RuntimeError the engine cannot recover from.
func NewInconsistentState(message string, cause error, details map[string]string) *RuntimeError {
	return &RuntimeError{Code: ErrCodeInconsistentState, Message: message, Details: details, Cause: cause}
}
