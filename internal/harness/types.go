package harness

import (
	"fmt"
	"sort"

	"github.com/roach88/cookiechain/internal/engine"
	"github.com/roach88/cookiechain/internal/tx"
)

// TraceEvent is the state after one flow step.
type TraceEvent struct {
	Step       int            `json:"step"`
	Do         string         `json:"do"`
	Error      string         `json:"error,omitempty"`
	Optimistic int64          `json:"optimistic"`
	Confirmed  int64          `json:"confirmed"`
	Pending    int            `json:"pending"`
	Buffered   int            `json:"buffered"`
	Records    map[string]int `json:"records"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace has one event per flow step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors explains every failed expectation. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Views is every view the session published, in order.
	Views []engine.View `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Last returns the final trace event, or a zero event for an empty trace.
func (r *Result) Last() TraceEvent {
	if len(r.Trace) == 0 {
		return TraceEvent{}
	}
	return r.Trace[len(r.Trace)-1]
}

// recordKey groups records as "kind/status" or "kind/status/reason".
func recordKey(r tx.Record) string {
	if r.FailureReason != "" {
		return fmt.Sprintf("%s/%s/%s", r.Kind, r.Status, r.FailureReason)
	}
	return fmt.Sprintf("%s/%s", r.Kind, r.Status)
}

// summarize turns a view into a trace event.
func summarize(step int, do string, v engine.View) TraceEvent {
	ev := TraceEvent{
		Step:       step,
		Do:         do,
		Optimistic: v.Optimistic,
		Confirmed:  v.Stats.TotalCookies,
		Pending:    v.Pending,
		Buffered:   v.PendingClicks,
		Records:    make(map[string]int),
	}
	for _, r := range v.Records {
		ev.Records[recordKey(r)]++
	}
	return ev
}

// failedCount counts failed records in a view.
func failedCount(v engine.View) int {
	n := 0
	for _, r := range v.Records {
		if r.Status == tx.StatusFailed {
			n++
		}
	}
	return n
}

// sortedKeys returns the keys of m in order.
func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
