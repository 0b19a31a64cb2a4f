// Package tx defines the transaction record tracked by the client while an
// operation travels from the user's action to ledger finality.
//
// A Record moves through a forward-only state machine:
//
//	pending -> submitted -> confirmed
//	pending -> submitted -> failed
//	pending -> failed            (dispatch rejected before reaching the ledger)
//
// confirmed and failed are terminal. CanTransition is the single authority on
// legal moves; the queue store refuses anything else.
//
// The package also carries the error taxonomy shared by the executor, the
// watcher and the CLI (SigningError, SubmissionError, FinalityTimeoutError,
// TransitionError).
package tx
