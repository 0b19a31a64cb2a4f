package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cookiechain/internal/tx"
)

func TestSettleQueue_DrainInOrder(t *testing.T) {
	q := newSettleQueue()
	require.True(t, q.Enqueue(Settlement{RecordID: "a", Status: tx.StatusConfirmed}))
	require.True(t, q.Enqueue(Settlement{RecordID: "b", Status: tx.StatusFailed}))
	assert.Equal(t, 2, q.Len())

	got := q.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].RecordID)
	assert.Equal(t, "b", got[1].RecordID)
	assert.Nil(t, q.Drain())
}

func TestSettleQueue_SignalCoalesces(t *testing.T) {
	q := newSettleQueue()
	for i := 0; i < 5; i++ {
		q.Enqueue(Settlement{})
	}

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("no signal")
	}
	select {
	case <-q.Wait():
		t.Fatal("burst should produce a single wake-up")
	default:
	}
	assert.Equal(t, 5, q.Len())
}

func TestSettleQueue_Close(t *testing.T) {
	q := newSettleQueue()
	q.Close()
	q.Close()

	_, ok := <-q.Wait()
	assert.False(t, ok, "closed queue wakes waiters")
	assert.False(t, q.Enqueue(Settlement{}))
}

func TestError_Helpers(t *testing.T) {
	err := NewBatchError(tx.KindClick, -2)
	assert.True(t, IsInvalidBatch(err))
	assert.False(t, IsStopped(err))
	assert.Equal(t, "INVALID_BATCH: batch count must not be negative, got -2 (kind=click)", err.Error())
	assert.Equal(t, "-2", err.Details["count"])

	assert.True(t, IsStopped(errStopped))
	assert.Equal(t, "STOPPED: session stopped", errStopped.Error())
}
