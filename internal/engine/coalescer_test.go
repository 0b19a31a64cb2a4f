package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectBatches() (chan int, BatchFunc) {
	ch := make(chan int, 16)
	return ch, func(n int) { ch <- n }
}

func TestCoalescer_DebouncesRapidTriggers(t *testing.T) {
	batches, fn := collectBatches()
	c := NewCoalescer(100*time.Millisecond, 10, fn)

	c.Trigger()
	time.Sleep(30 * time.Millisecond)
	c.Trigger()
	time.Sleep(50 * time.Millisecond)
	c.Trigger()
	assert.Equal(t, 3, c.Pending())

	select {
	case n := <-batches:
		assert.Equal(t, 3, n)
	case <-time.After(time.Second):
		t.Fatal("no batch flushed")
	}

	select {
	case n := <-batches:
		t.Fatalf("unexpected second batch of %d", n)
	case <-time.After(200 * time.Millisecond):
	}
	c.Flush()
	assert.Zero(t, c.Pending())
}

func TestCoalescer_NothingBeforeWindowElapses(t *testing.T) {
	batches, fn := collectBatches()
	c := NewCoalescer(80*time.Millisecond, 0, fn)

	for i := 0; i < 4; i++ {
		c.Trigger()
		time.Sleep(20 * time.Millisecond)
	}
	select {
	case n := <-batches:
		t.Fatalf("flushed %d while triggers kept arriving", n)
	default:
	}

	n := <-batches
	assert.Equal(t, 4, n)
}

func TestCoalescer_MaxBurstFlushesImmediately(t *testing.T) {
	batches, fn := collectBatches()
	c := NewCoalescer(time.Hour, 3, fn)

	for i := 0; i < 4; i++ {
		require.True(t, c.Trigger())
	}

	select {
	case n := <-batches:
		assert.Equal(t, 3, n)
	case <-time.After(time.Second):
		t.Fatal("burst cap did not flush")
	}
	assert.Equal(t, 1, c.Pending(), "fourth trigger starts a new accumulation")

	c.Flush()
	assert.Equal(t, 1, <-batches)
}

func TestCoalescer_PendingIncludesRunningBatch(t *testing.T) {
	release := make(chan struct{})
	started := make(chan int, 1)
	c := NewCoalescer(time.Hour, 0, func(n int) {
		started <- n
		<-release
	})

	c.Trigger()
	c.Trigger()
	go c.Flush()

	assert.Equal(t, 2, <-started)
	assert.Equal(t, 2, c.Pending())

	close(release)
	assert.Eventually(t, func() bool { return c.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCoalescer_StopFlushesAndRejects(t *testing.T) {
	batches, fn := collectBatches()
	c := NewCoalescer(time.Hour, 0, fn)

	c.Trigger()
	c.Trigger()
	c.Stop()

	assert.Equal(t, 2, <-batches)
	assert.False(t, c.Trigger())
	assert.Zero(t, c.Pending())
}
