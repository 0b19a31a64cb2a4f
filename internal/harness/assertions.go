package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/cookiechain/internal/engine"
	"github.com/roach88/cookiechain/internal/store"
	"github.com/roach88/cookiechain/internal/tx"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %-12s optimistic=%d confirmed=%d pending=%d", ev.Step, ev.Do, ev.Optimistic, ev.Confirmed, ev.Pending)
		if ev.Error != "" {
			fmt.Fprintf(&buf, " error=%s", ev.Error)
		}
		for _, k := range sortedKeys(ev.Records) {
			fmt.Fprintf(&buf, " %s:%d", k, ev.Records[k])
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Journal *store.Store
	Ctx     context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a list of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertNoRegression:
			err = assertNoRegression(result, assertion)
		case AssertFinalView:
			err = assertFinalView(result, assertion)
		case AssertRecordCount:
			if actx == nil || actx.Journal == nil {
				err = fmt.Errorf("assertion[%d]: record_count requires a journal", i)
			} else {
				err = assertRecordCount(actx.Ctx, actx.Journal, result.Trace, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

// assertNoRegression checks that the optimistic count only drops when it
// may: when a failed operation is rolled back, or when a confirmed read
// lands with nothing left in flight.
func assertNoRegression(result *Result, _ Assertion) error {
	return checkRegression(result.Views, result.Trace)
}

func checkRegression(views []engine.View, trace []TraceEvent) error {
	consumed := 0
	for i := 1; i < len(views); i++ {
		prev, cur := views[i-1], views[i]
		if cur.Optimistic >= prev.Optimistic {
			continue
		}
		if cur.Pending == 0 && cur.PendingClicks == 0 {
			continue
		}
		if failedCount(cur) > consumed {
			consumed++
			continue
		}
		return &AssertionError{
			Type:     AssertNoRegression,
			Expected: "optimistic count never drops while operations are in flight",
			Actual: fmt.Sprintf("view %d dropped from %d to %d with %d pending and %d buffered",
				cur.Seq, prev.Optimistic, cur.Optimistic, cur.Pending, cur.PendingClicks),
			Trace: trace,
		}
	}
	return nil
}

// assertFinalView compares the state after the last step.
func assertFinalView(result *Result, a Assertion) error {
	mismatches := compareExpect(a.Expect, result.Last())
	if len(mismatches) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalView,
		Expected: describeExpect(a.Expect),
		Actual:   strings.Join(mismatches, ", "),
		Trace:    result.Trace,
	}
}

// assertRecordCount counts journaled records matching kind, status and
// reason.
func assertRecordCount(ctx context.Context, journal *store.Store, trace []TraceEvent, a Assertion) error {
	f := store.Filter{Kind: tx.Kind(a.Kind)}
	if a.Status != "" {
		f.Statuses = []tx.Status{tx.Status(a.Status)}
	}
	recs, err := journal.History(ctx, f)
	if err != nil {
		return fmt.Errorf("failed to query journal: %w", err)
	}

	n := 0
	for _, r := range recs {
		if a.Reason == "" || r.FailureReason == a.Reason {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertRecordCount,
		Expected: fmt.Sprintf("%d records matching %s", a.Count, describeSelector(a)),
		Actual:   fmt.Sprintf("%d records", n),
		Trace:    trace,
	}
}

// checkExpect validates one step against its expect clause.
func checkExpect(label string, exp *ExpectClause, ev TraceEvent, err error) []string {
	var errs []string

	want := ""
	if exp != nil {
		want = exp.Error
	}
	switch {
	case want == "" && err != nil:
		errs = append(errs, fmt.Sprintf("%s: unexpected error: %v", label, err))
	case want != "" && err == nil:
		errs = append(errs, fmt.Sprintf("%s: expected error %q, step succeeded", label, want))
	case want != "" && !strings.Contains(err.Error(), want) && tx.Classify(err) != want:
		errs = append(errs, fmt.Sprintf("%s: expected error %q, got %v", label, want, err))
	}

	for _, m := range compareExpect(exp, ev) {
		errs = append(errs, fmt.Sprintf("%s: %s", label, m))
	}
	return errs
}

// compareExpect lists the fields of ev that differ from exp.
func compareExpect(exp *ExpectClause, ev TraceEvent) []string {
	if exp == nil {
		return nil
	}
	var out []string
	if exp.Optimistic != nil && *exp.Optimistic != ev.Optimistic {
		out = append(out, fmt.Sprintf("optimistic = %d, want %d", ev.Optimistic, *exp.Optimistic))
	}
	if exp.Confirmed != nil && *exp.Confirmed != ev.Confirmed {
		out = append(out, fmt.Sprintf("confirmed = %d, want %d", ev.Confirmed, *exp.Confirmed))
	}
	if exp.Pending != nil && *exp.Pending != ev.Pending {
		out = append(out, fmt.Sprintf("pending = %d, want %d", ev.Pending, *exp.Pending))
	}
	if exp.Buffered != nil && *exp.Buffered != ev.Buffered {
		out = append(out, fmt.Sprintf("buffered = %d, want %d", ev.Buffered, *exp.Buffered))
	}
	return out
}

func describeExpect(exp *ExpectClause) string {
	if exp == nil {
		return "anything"
	}
	var parts []string
	if exp.Optimistic != nil {
		parts = append(parts, fmt.Sprintf("optimistic=%d", *exp.Optimistic))
	}
	if exp.Confirmed != nil {
		parts = append(parts, fmt.Sprintf("confirmed=%d", *exp.Confirmed))
	}
	if exp.Pending != nil {
		parts = append(parts, fmt.Sprintf("pending=%d", *exp.Pending))
	}
	if exp.Buffered != nil {
		parts = append(parts, fmt.Sprintf("buffered=%d", *exp.Buffered))
	}
	if len(parts) == 0 {
		return "anything"
	}
	return strings.Join(parts, " ")
}

func describeSelector(a Assertion) string {
	var parts []string
	if a.Kind != "" {
		parts = append(parts, "kind="+a.Kind)
	}
	if a.Status != "" {
		parts = append(parts, "status="+a.Status)
	}
	if a.Reason != "" {
		parts = append(parts, "reason="+a.Reason)
	}
	if len(parts) == 0 {
		return "any record"
	}
	return strings.Join(parts, " ")
}
