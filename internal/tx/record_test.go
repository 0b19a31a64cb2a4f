package tx

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusSubmitted, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusConfirmed, false},
		{StatusSubmitted, StatusConfirmed, true},
		{StatusSubmitted, StatusFailed, true},
		{StatusSubmitted, StatusPending, false},
		{StatusConfirmed, StatusFailed, false},
		{StatusFailed, StatusConfirmed, false},
		{StatusFailed, StatusSubmitted, false},
		{StatusPending, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_to_%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatus_TerminalAndInFlight(t *testing.T) {
	assert.True(t, StatusConfirmed.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusPending.InFlight())
	assert.True(t, StatusSubmitted.InFlight())
	assert.False(t, StatusFailed.InFlight())
}

func TestPatch_ShallowMerge(t *testing.T) {
	rec := Record{
		ID:              "r1",
		Kind:            KindClick,
		Status:          StatusPending,
		CreatedAt:       42,
		OptimisticDelta: &Delta{Cookies: 3},
	}

	got := SubmittedPatch("H1").Apply(rec)

	assert.Equal(t, StatusSubmitted, got.Status)
	assert.Equal(t, "H1", got.LedgerHandle)
	assert.Equal(t, "r1", got.ID)
	assert.Equal(t, KindClick, got.Kind)
	assert.Equal(t, int64(42), got.CreatedAt)
	require.NotNil(t, got.OptimisticDelta)
	assert.Equal(t, int64(3), got.OptimisticDelta.Cookies)
}

func TestRecord_CloneDoesNotAliasDelta(t *testing.T) {
	rec := Record{ID: "r1", OptimisticDelta: &Delta{Cookies: 1}}
	c := rec.Clone()
	c.OptimisticDelta.Cookies = 99
	assert.Equal(t, int64(1), rec.OptimisticDelta.Cookies)
}

func TestDeltaEncoding(t *testing.T) {
	s, err := MarshalDelta(nil)
	require.NoError(t, err)
	assert.Empty(t, s)

	d, err := UnmarshalDelta("")
	require.NoError(t, err)
	assert.Nil(t, d)

	s, err = MarshalDelta(&Delta{Cookies: 7})
	require.NoError(t, err)
	d, err = UnmarshalDelta(s)
	require.NoError(t, err)
	assert.Equal(t, int64(7), d.Cookies)
}

func TestKind_Valid(t *testing.T) {
	assert.True(t, KindClick.Valid())
	assert.False(t, Kind("mint").Valid())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"signing", &SigningError{Message: "wallet not connected"}, ReasonSigning},
		{"wrapped submission", fmt.Errorf("dispatch: %w", &SubmissionError{Message: "bad args"}), ReasonSubmission},
		{"finality", &FinalityTimeoutError{Handle: "0xabc"}, ReasonFinalityTimeout},
		{"deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), ReasonFinalityTimeout},
		{"execution", &ExecutionError{Handle: "0xabc", Code: "E_INSUFFICIENT_COOKIES"}, ReasonExecution},
		{"other", errors.New("boom"), ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "signing: wallet not connected", (&SigningError{Message: "wallet not connected"}).Error())
	assert.Equal(t, "illegal transition for x: confirmed -> failed",
		(&TransitionError{ID: "x", From: StatusConfirmed, To: StatusFailed}).Error())

	inner := errors.New("rpc down")
	err := &SubmissionError{Message: "rejected", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.True(t, IsSubmissionError(fmt.Errorf("outer: %w", err)))
	assert.False(t, IsSigningError(err))
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"signing", &SigningError{Message: "locked"}, ErrCodeSigning},
		{"wrapped submission", fmt.Errorf("dispatch: %w", &SubmissionError{Message: "bad args"}), ErrCodeSubmission},
		{"finality", &FinalityTimeoutError{Handle: "0xabc"}, ErrCodeFinalityTimeout},
		{"deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), ErrCodeFinalityTimeout},
		{"execution", &ExecutionError{Handle: "0xabc", Code: "E_INSUFFICIENT_COOKIES"}, ErrCodeExecution},
		{"transition", &TransitionError{ID: "x", From: StatusConfirmed, To: StatusFailed}, ErrCodeIllegalTransition},
		{"record", &RecordError{ID: "x", Message: "handle on pending record"}, ErrCodeInvalidRecord},
		{"other", errors.New("boom"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestRecordError(t *testing.T) {
	err := fmt.Errorf("append: %w", &RecordError{ID: "r1", Message: "handle on pending record"})
	assert.True(t, IsRecordError(err))
	assert.EqualError(t, err, "append: invalid record r1: handle on pending record")
	assert.False(t, IsRecordError(&TransitionError{}))
	assert.Equal(t, "invalid record: bad", (&RecordError{Message: "bad"}).Error())
}
