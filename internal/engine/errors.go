package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/cookiechain/internal/tx"
)

// Error is a precondition failure raised by the engine itself, as opposed to
// the per-operation failures recorded on queue records.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Kind is the operation kind involved, if any.
	Kind tx.Kind

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeInvalidBatch indicates a batch request that cannot run at all.
	ErrCodeInvalidBatch ErrorCode = "INVALID_BATCH"

	// ErrCodeUnknownKind indicates a request for an operation kind the
	// contract does not expose.
	ErrCodeUnknownKind ErrorCode = "UNKNOWN_KIND"

	// ErrCodeStopped indicates the session or coalescer has been shut down.
	ErrCodeStopped ErrorCode = "STOPPED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s: %s (kind=%s)", e.Code, e.Message, e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsInvalidBatch reports whether err is a rejected batch request.
func IsInvalidBatch(err error) bool {
	return hasCode(err, ErrCodeInvalidBatch)
}

// IsStopped reports whether err came from a stopped session.
func IsStopped(err error) bool {
	return hasCode(err, ErrCodeStopped)
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// NewBatchError creates an Error for a batch with an invalid count.
func NewBatchError(kind tx.Kind, count int) *Error {
	return &Error{
		Code:    ErrCodeInvalidBatch,
		Message: fmt.Sprintf("batch count must not be negative, got %d", count),
		Kind:    kind,
		Details: map[string]string{"count": fmt.Sprintf("%d", count)},
	}
}

// NewUnknownKindError creates an Error for an unsupported operation kind.
func NewUnknownKindError(kind tx.Kind, err error) *Error {
	e := &Error{
		Code:    ErrCodeUnknownKind,
		Message: "no contract function for operation",
		Kind:    kind,
	}
	if err != nil {
		e.Details = map[string]string{"cause": err.Error()}
	}
	return e
}

var errStopped = &Error{Code: ErrCodeStopped, Message: "session stopped"}
