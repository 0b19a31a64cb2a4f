package tx

import (
	"encoding/json"
	"fmt"
)

// Kind is the category of a ledger operation.
type Kind string

const (
	KindInitialize     Kind = "initialize"
	KindClick          Kind = "click"
	KindUpgrade        Kind = "upgrade"
	KindAutoClicker    Kind = "auto_clicker"
	KindCollectPassive Kind = "collect_passive"
	KindPrestige       Kind = "prestige"
)

// Kinds lists every known kind in display order.
var Kinds = []Kind{
	KindInitialize,
	KindClick,
	KindUpgrade,
	KindAutoClicker,
	KindCollectPassive,
	KindPrestige,
}

// Valid reports whether k is one of the closed set of kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Status is the lifecycle position of a record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// InFlight reports whether the operation has not settled yet.
func (s Status) InFlight() bool {
	return s == StatusPending || s == StatusSubmitted
}

// CanTransition reports whether a record may move from one status to another.
// A same-status move is not a transition and returns false.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusSubmitted || to == StatusFailed
	case StatusSubmitted:
		return to == StatusConfirmed || to == StatusFailed
	default:
		return false
	}
}

// Delta is the locally predicted effect of an operation.
type Delta struct {
	Cookies int64 `json:"cookies"`
}

// Record is one submitted or pending ledger operation.
type Record struct {
	ID              string `json:"id"`
	Kind            Kind   `json:"kind"`
	Status          Status `json:"status"`
	LedgerHandle    string `json:"ledger_handle,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	OptimisticDelta *Delta `json:"optimistic_delta,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
}

// Clone returns a deep copy so snapshots never alias store internals.
func (r Record) Clone() Record {
	if r.OptimisticDelta != nil {
		d := *r.OptimisticDelta
		r.OptimisticDelta = &d
	}
	return r
}

func (r Record) String() string {
	if r.LedgerHandle != "" {
		return fmt.Sprintf("%s[%s %s %s]", r.Kind, r.ID, r.Status, r.LedgerHandle)
	}
	return fmt.Sprintf("%s[%s %s]", r.Kind, r.ID, r.Status)
}

// Patch is a shallow partial update. Nil fields are left unchanged.
type Patch struct {
	Status          *Status
	LedgerHandle    *string
	OptimisticDelta *Delta
	FailureReason   *string
}

// StatusPatch builds a patch that only moves the status.
func StatusPatch(s Status) Patch {
	return Patch{Status: &s}
}

// SubmittedPatch records a successful dispatch.
func SubmittedPatch(handle string) Patch {
	s := StatusSubmitted
	return Patch{Status: &s, LedgerHandle: &handle}
}

// FailedPatch marks a record failed with a reason.
func FailedPatch(reason string) Patch {
	s := StatusFailed
	return Patch{Status: &s, FailureReason: &reason}
}

// Apply merges p into r and returns the result. It does not validate the
// status transition; callers check CanTransition first.
func (p Patch) Apply(r Record) Record {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.LedgerHandle != nil {
		r.LedgerHandle = *p.LedgerHandle
	}
	if p.OptimisticDelta != nil {
		d := *p.OptimisticDelta
		r.OptimisticDelta = &d
	}
	if p.FailureReason != nil {
		r.FailureReason = *p.FailureReason
	}
	return r
}

// MarshalDelta encodes an optional delta for storage. Nil encodes as "".
func MarshalDelta(d *Delta) (string, error) {
	if d == nil {
		return "", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal delta: %w", err)
	}
	return string(b), nil
}

// UnmarshalDelta is the inverse of MarshalDelta.
func UnmarshalDelta(s string) (*Delta, error) {
	if s == "" {
		return nil, nil
	}
	var d Delta
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, fmt.Errorf("unmarshal delta: %w", err)
	}
	return &d, nil
}
