package es

import (
	"errors"
	"fmt"
)

var (
	ErrAggregateNotFound   = errors.New("aggregate not found")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrUnknownEventType    = errors.New("unknown event type")
	ErrValidation          = errors.New("validation failed")
	ErrInvalidState        = errors.New("invalid aggregate state")
	ErrAggregateDeleted    = errors.New("aggregate is deleted")
	ErrStoreUnavailable    = errors.New("store unavailable")
)

// ConcurrencyConflictError is returned when the expected version of a stream
// does not match the version found in the store. Callers should reload the
// aggregate and retry.
type ConcurrencyConflictError struct {
	AggregateType string
	AggregateID   string
	Expected      Version
	Actual        Version
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf(
		"%s: expected version %d, got %d (agg_type=%s agg_id=%s)",
		ErrConcurrencyConflict, e.Expected, e.Actual, e.AggregateType, e.AggregateID,
	)
}

func (e *ConcurrencyConflictError) Unwrap() error { return ErrConcurrencyConflict }

func NewConcurrencyConflict(aggType, aggID string, expected, actual Version) error {
	return &ConcurrencyConflictError{
		AggregateType: aggType,
		AggregateID:   aggID,
		Expected:      expected,
		Actual:        actual,
	}
}

// ValidationError reports bad input. Field is optional and names the offending
// field or rule.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := e.Reason
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", ErrValidation, msg)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StateError reports an operation that is invalid for the current state of
// an aggregate. Retrying will not help.
type StateError struct {
	AggregateType string
	AggregateID   string
	Op            string
	Err           error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %s/%s: %s", e.Op, e.AggregateType, e.AggregateID, e.Err)
}

func (e *StateError) Unwrap() []error { return []error{ErrInvalidState, e.Err} }

// StoreUnavailableError wraps failures of an external persistence dependency.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable, e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() []error { return []error{ErrStoreUnavailable, e.Err} }

// storeUnavailable wraps err unless it already carries a typed meaning.
func storeUnavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrConcurrencyConflict),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrAggregateNotFound):
		return err
	}
	return &StoreUnavailableError{Op: op, Err: err}
}

// IsRetryable reports whether err may resolve itself on retry. Business rule
// failures never do.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrValidation) && !errors.Is(err, ErrInvalidState)
}
