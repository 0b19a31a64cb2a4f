// Package engine runs the transaction pipeline between a player's actions
// and the ledger.
//
// Pipeline:
//  1. Session.Click adds the click's delta to the projector and triggers
//     the Coalescer; purchases go straight to the Executor.
//  2. The Coalescer debounces triggers and hands a count to the
//     Orchestrator, which fans the batch out through the Executor.
//  3. The Executor appends a pending record, dispatches it through the
//     active signer, and marks it submitted or failed.
//  4. A Watcher goroutine waits for finality and marks the record confirmed
//     or failed, rolling back the delta on failure.
//  5. Settlements wake Session.Run, which re-reads confirmed state and
//     reconciles the projector.
//
// Operations are orderless: nothing in the pipeline assumes that one
// submission lands before another, and every record settles on its own.
// The queue store is the only shared mutable state besides the projector;
// both serialize their own mutations.
package engine
