// Package harness runs scripted play sessions against the simulated ledger
// and checks what the player would have seen.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: coalesced_clicks
//	description: "Rapid clicks become one batch"
//	flow:
//	  - do: initialize
//	  - do: click
//	    count: 3
//	    expect: { optimistic: 3, buffered: 3 }
//	  - do: flush
//	  - do: finalize
//	  - do: refresh
//	    expect: { confirmed: 3, pending: 0 }
//	assertions:
//	  - type: no_regression
//	  - type: record_count
//	    kind: click
//	    status: confirmed
//	    count: 3
//
// # Steps
//
//   - initialize: create the player and wait for it to be final
//   - click: click count times; clicks stay buffered until flush
//   - flush: dispatch buffered clicks as one batch
//   - finalize: finalize everything the ledger holds and wait for watchers
//   - refresh: read confirmed state and reconcile
//   - reject_next / abort_next: the next count operations are rejected at
//     submission / aborted at execution
//   - upgrade (args: [id]), auto_clicker (args: [type, qty]), collect,
//     prestige: submit without waiting
//   - fund: credit count cookies directly on the ledger
//   - advance: move the ledger clock forward by a duration
//
// # Assertion Types
//
//   - no_regression: the displayed count never dropped except when a record
//     failed in between
//   - final_view: the last view matches expect
//   - record_count: the journal holds count records of kind/status/reason
//
// # Deterministic Testing
//
// Every run uses manual finality, a manual ledger clock, sequential record
// IDs and an in-memory journal, and never dispatches clicks on a timer.
// The per-step trace therefore only depends on the scenario, which makes it
// suitable for golden files.
package harness
