package relation

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassPrecondition indicates the current edge state does not permit
	// the requested transition. Recoverable: the operation is a no-op and the
	// current state is reported to the caller.
	ErrorClassPrecondition ErrorClass = "precondition"

	// ErrorClassUnavailable indicates a transient store I/O failure.
	// Safe to retry with backoff because every mutation is idempotent.
	ErrorClassUnavailable ErrorClass = "unavailable"

	// ErrorClassPartial indicates half of a dual-write operation committed.
	// Safe to retry; readers reconcile the asymmetry in the meantime.
	ErrorClassPartial ErrorClass = "partial"

	// ErrorClassConsistency indicates an invariant was observed broken on
	// read. Logged and auto-repaired by pruning, never fatal to the caller.
	ErrorClassConsistency ErrorClass = "consistency"
)

// RelationError represents a classified error with edge context.
type RelationError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Requester is the id of the acting user, if applicable.
	Requester string `json:"requester,omitempty"`

	// Counterpart is the id of the other side of the edge, if applicable.
	Counterpart string `json:"counterpart,omitempty"`

	// Operation is the protocol operation being performed.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *RelationError) Error() string {
	if e.Requester != "" && e.Counterpart != "" {
		return fmt.Sprintf("[%s] %s (pair=%s/%s, operation=%s): %s",
			e.Class, e.Message, e.Requester, e.Counterpart, e.Operation, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *RelationError) Unwrap() error {
	return e.Err
}

func (e *RelationError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *RelationError) Is(target error) bool {
	t, ok := target.(*RelationError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewPreconditionError creates a new precondition error.
func NewPreconditionError(message string, err error) *RelationError {
	return &RelationError{
		Class:   ErrorClassPrecondition,
		Message: message,
		Err:     err,
	}
}

// NewUnavailableError creates a new store-unavailable error.
func NewUnavailableError(message string, err error) *RelationError {
	return &RelationError{
		Class:   ErrorClassUnavailable,
		Message: message,
		Err:     err,
	}
}

// NewPartialError creates a new partial-write error.
func NewPartialError(message string, err error) *RelationError {
	return &RelationError{
		Class:   ErrorClassPartial,
		Message: message,
		Err:     err,
	}
}

// NewConsistencyError creates a new consistency-violation error.
func NewConsistencyError(message string, err error) *RelationError {
	return &RelationError{
		Class:   ErrorClassConsistency,
		Message: message,
		Err:     err,
	}
}

// WithPair adds edge context to an error.
func (e *RelationError) WithPair(requester, counterpart string) *RelationError {
	e.Requester = requester
	e.Counterpart = counterpart
	return e
}

// WithOperation adds operation context to an error.
func (e *RelationError) WithOperation(operation string) *RelationError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *RelationError) WithCode(code string) *RelationError {
	e.Code = code
	return e
}

// IsPrecondition returns true if the error is classified as a precondition failure.
func IsPrecondition(err error) bool {
	var e *RelationError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPrecondition
	}
	return false
}

// IsUnavailable returns true if the error is classified as store-unavailable.
func IsUnavailable(err error) bool {
	var e *RelationError
	if errors.As(err, &e) {
		return e.Class == ErrorClassUnavailable
	}
	return false
}

// IsPartial returns true if the error is classified as a partial write.
func IsPartial(err error) bool {
	var e *RelationError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPartial
	}
	return false
}

// IsConsistency returns true if the error is classified as a consistency violation.
func IsConsistency(err error) bool {
	var e *RelationError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConsistency
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Unavailable and partial errors are retryable; the mutations they guard
// are idempotent set operations.
func IsRetryable(err error) bool {
	return IsUnavailable(err) || IsPartial(err)
}

// Common error codes.
const (
	ErrCodeSelfEdge        = "SELF_EDGE"
	ErrCodeAlreadyPending  = "ALREADY_PENDING"
	ErrCodeAlreadyMatched  = "ALREADY_CONNECTED"
	ErrCodeNoPendingEdge   = "NO_PENDING_REQUEST"
	ErrCodeNotConnected    = "NOT_CONNECTED"
	ErrCodeStateChanged    = "STATE_CHANGED"
	ErrCodeUserNotFound    = "USER_NOT_FOUND"
	ErrCodePolicyDenied    = "POLICY_DENIED"
	ErrCodeStoreTimeout    = "STORE_TIMEOUT"
	ErrCodeSecondWriteLost = "SECOND_WRITE_LOST"
)
