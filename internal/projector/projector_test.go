package projector

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/roach88/cookiechain/internal/tx"
)

type fixedInFlight int

func (f fixedInFlight) InFlight() int { return int(f) }

func TestProjector_ApplyLocalDeltaIsImmediate(t *testing.T) {
	p := New(fixedInFlight(0))

	assert.Equal(t, int64(5), p.ApplyLocalDelta(5))
	assert.Equal(t, int64(5), p.Value())
}

func TestProjector_ReconcileReplacesWhenIdle(t *testing.T) {
	p := New(fixedInFlight(0))
	p.ApplyLocalDelta(100)

	// A purchase spent cookies: with nothing in flight the lower read wins.
	assert.Equal(t, int64(40), p.Reconcile(40))
}

func TestProjector_ReconcileDoesNotRegressWhileInFlight(t *testing.T) {
	p := New(fixedInFlight(2))
	p.ApplyLocalDelta(100)

	assert.Equal(t, int64(100), p.Reconcile(60))
	assert.Equal(t, int64(150), p.Reconcile(150), "projection may always increase")
}

func TestProjector_NilCounterMeansIdle(t *testing.T) {
	p := New(nil)
	p.ApplyLocalDelta(10)
	assert.Equal(t, int64(3), p.Reconcile(3))
}

func TestProjector_RollbackRestoresPriorValue(t *testing.T) {
	p := New(fixedInFlight(1))
	p.Reconcile(20)
	before := p.Value()

	d := tx.Delta{Cookies: 7}
	p.ApplyLocalDelta(d.Cookies)
	p.Rollback(d)

	assert.Equal(t, before, p.Value())
}

func TestProjector_ObserversSeeChangesOnly(t *testing.T) {
	p := New(InFlightFunc(func() int { return 0 }))
	var got []int64
	p.Subscribe(func(v int64) { got = append(got, v) })

	p.ApplyLocalDelta(2)
	p.Reconcile(2) // unchanged, no notification
	p.Reset(0)

	assert.Equal(t, []int64{2, 0}, got)
}

func TestProjector_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("in-flight reconcile equals max(confirmed, projected)", prop.ForAll(
		func(projected, confirmed int64) bool {
			p := New(fixedInFlight(1))
			p.Reset(projected)
			got := p.Reconcile(confirmed)
			want := projected
			if confirmed > want {
				want = confirmed
			}
			return got == want && got >= confirmed
		},
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 1_000_000),
	))

	properties.Property("apply then rollback is identity", prop.ForAll(
		func(start, delta int64) bool {
			p := New(fixedInFlight(1))
			p.Reset(start)
			p.ApplyLocalDelta(delta)
			p.Rollback(tx.Delta{Cookies: delta})
			return p.Value() == start
		},
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(1, 1_000),
	))

	properties.TestingRun(t)
}
