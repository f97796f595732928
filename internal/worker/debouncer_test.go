package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncerCoalescesBurst(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(50*time.Millisecond, func() { calls.Add(1) })

	for range 10 {
		d.Trigger()
		time.Sleep(5 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, d.Pending())
}

func TestDebouncerCancel(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(30*time.Millisecond, func() { calls.Add(1) })

	d.Trigger()
	assert.True(t, d.Pending())
	assert.True(t, d.Cancel())
	assert.False(t, d.Cancel())

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, calls.Load())

	d.Trigger()
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestDebouncerFlush(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(time.Hour, func() { calls.Add(1) })

	assert.False(t, d.Flush())
	d.Trigger()
	assert.True(t, d.Flush())
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, d.Pending())
}

func TestDebouncerClose(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(20*time.Millisecond, func() { calls.Add(1) })

	d.Trigger()
	d.Close()
	d.Trigger()

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestDebouncerMaxWaitBoundsSteadyTriggers(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(100*time.Millisecond, func() { calls.Add(1) }).WithMaxWait(250 * time.Millisecond)
	defer d.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		d.Trigger()
		time.Sleep(50 * time.Millisecond)
	}

	assert.GreaterOrEqual(t, calls.Load(), int32(2), "triggers closer than the delay must not postpone the call forever")
}

func TestDebouncerWithoutMaxWaitStaysTrailing(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(100*time.Millisecond, func() { calls.Add(1) })
	defer d.Close()

	for range 6 {
		d.Trigger()
		time.Sleep(30 * time.Millisecond)
	}
	assert.Zero(t, calls.Load())
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 10*time.Millisecond)
}
