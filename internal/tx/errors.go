package tx

import (
	"context"
	"errors"
	"fmt"
)

// Failure reasons recorded on failed records.
const (
	ReasonSigning         = "signing"
	ReasonSubmission      = "submission"
	ReasonFinalityTimeout = "finality_timeout"
	ReasonExecution       = "execution"
	ReasonInterrupted     = "interrupted"
	ReasonUnknown         = "unknown"
)

// ErrorCode categorizes queue errors.
type ErrorCode string

const (
	// ErrCodeSigning is carried by SigningError.
	ErrCodeSigning ErrorCode = "SIGNING"

	// ErrCodeSubmission is carried by SubmissionError.
	ErrCodeSubmission ErrorCode = "SUBMISSION"

	// ErrCodeFinalityTimeout is carried by FinalityTimeoutError and bare
	// deadline errors from the finality wait.
	ErrCodeFinalityTimeout ErrorCode = "FINALITY_TIMEOUT"

	ErrCodeExecution ErrorCode = "EXECUTION"

	// ErrCodeIllegalTransition is carried by TransitionError.
	ErrCodeIllegalTransition ErrorCode = "ILLEGAL_TRANSITION"

	// ErrCodeInvalidRecord is carried by RecordError.
	ErrCodeInvalidRecord ErrorCode = "INVALID_RECORD"
)

// SigningError means the signing identity is missing, locked or the user
// rejected the request. Not retried.
type SigningError struct {
	Message string
	Err     error
}

func (e *SigningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signing: %s: %v", e.Message, e.Err)
	}
	return "signing: " + e.Message
}

func (e *SigningError) Unwrap() error { return e.Err }

func (e *SigningError) ErrorCode() ErrorCode { return ErrCodeSigning }

// SubmissionError means the ledger refused the payload before accepting it
// (bad arguments, insufficient resources, failed precondition).
type SubmissionError struct {
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submission: %s: %v", e.Message, e.Err)
	}
	return "submission: " + e.Message
}

func (e *SubmissionError) Unwrap() error { return e.Err }

func (e *SubmissionError) ErrorCode() ErrorCode { return ErrCodeSubmission }

// FinalityTimeoutError means the finality wait gave up. The operation may
// still land on the ledger later.
type FinalityTimeoutError struct {
	Handle string
	Err    error
}

func (e *FinalityTimeoutError) Error() string {
	return fmt.Sprintf("finality timeout for %s", e.Handle)
}

func (e *FinalityTimeoutError) Unwrap() error { return e.Err }

func (e *FinalityTimeoutError) ErrorCode() ErrorCode { return ErrCodeFinalityTimeout }

// ExecutionError means the ledger accepted the operation and then reported
// that its execution aborted.
type ExecutionError struct {
	Handle string
	Code   string
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("execution of %s aborted: %s", e.Handle, e.Code)
	}
	return fmt.Sprintf("execution of %s aborted", e.Handle)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ErrorCode returns ErrCodeExecution. The ledger's abort code is in Code.
func (e *ExecutionError) ErrorCode() ErrorCode { return ErrCodeExecution }

// TransitionError is returned when a patch would move a record backwards or
// out of a terminal status.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition for %s: %s -> %s", e.ID, e.From, e.To)
}

func (e *TransitionError) ErrorCode() ErrorCode { return ErrCodeIllegalTransition }

// RecordError is returned when a record or patch would break the rule that
// a ledger handle is only held by records past pending.
type RecordError struct {
	ID      string
	Message string
}

func (e *RecordError) Error() string {
	if e.ID == "" {
		return "invalid record: " + e.Message
	}
	return fmt.Sprintf("invalid record %s: %s", e.ID, e.Message)
}

func (e *RecordError) ErrorCode() ErrorCode { return ErrCodeInvalidRecord }

// ErrDuplicateID is returned when appending a record whose ID is already held.
var ErrDuplicateID = errors.New("duplicate record id")

// IsSigningError reports whether err wraps a SigningError.
func IsSigningError(err error) bool {
	var se *SigningError
	return errors.As(err, &se)
}

// IsSubmissionError reports whether err wraps a SubmissionError.
func IsSubmissionError(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se)
}

// IsFinalityTimeout reports whether err is a finality timeout. A bare
// context.DeadlineExceeded from the wait primitive counts as one.
func IsFinalityTimeout(err error) bool {
	var fe *FinalityTimeoutError
	if errors.As(err, &fe) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsTransitionError reports whether err is an illegal status transition.
func IsTransitionError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

// IsRecordError reports whether err is a rejected record or patch.
func IsRecordError(err error) bool {
	var re *RecordError
	return errors.As(err, &re)
}

// CodeOf returns the ErrorCode carried by err, or "" when err carries none.
func CodeOf(err error) ErrorCode {
	var c interface{ ErrorCode() ErrorCode }
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeFinalityTimeout
	}
	return ""
}

// Classify maps an error to the failure reason stored on the record.
func Classify(err error) string {
	var (
		se *SigningError
		be *SubmissionError
		ee *ExecutionError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &se):
		return ReasonSigning
	case errors.As(err, &be):
		return ReasonSubmission
	case IsFinalityTimeout(err):
		return ReasonFinalityTimeout
	case errors.As(err, &ee):
		return ReasonExecution
	default:
		return ReasonUnknown
	}
}
