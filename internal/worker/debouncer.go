package worker

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of Trigger calls into one trailing call of fn,
// made once delay has passed without another Trigger. With a max wait set, a
// burst that never goes quiet still runs fn at least once per max wait.
type Debouncer struct {
	delay   time.Duration
	maxWait time.Duration
	fn      func()

	mu     sync.Mutex
	timer  *time.Timer
	first  time.Time
	gen    uint64
	closed bool
}

// NewDebouncer creates a debouncer that runs fn after delay of quiet.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// WithMaxWait bounds how long a pending call may be pushed back by later
// Triggers. Zero keeps the call purely trailing.
func (d *Debouncer) WithMaxWait(maxWait time.Duration) *Debouncer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maxWait = maxWait
	return d
}

// Trigger (re)starts the quiet period. It is a no-op after Close.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	now := time.Now()
	if d.timer != nil {
		d.timer.Stop()
	} else {
		d.first = now
	}

	wait := d.delay
	if d.maxWait > 0 {
		if left := d.maxWait - now.Sub(d.first); left < wait {
			wait = max(left, 0)
		}
	}

	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(wait, func() { d.fire(gen) })
}

// Cancel drops the pending call, if any. Later Triggers still work.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stop()
}

// Pending reports whether a call is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Flush runs the pending call now instead of waiting. It reports whether one ran.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if !d.stop() {
		d.mu.Unlock()
		return false
	}
	d.mu.Unlock()

	d.fn()
	return true
}

// Close cancels the pending call and ignores every later Trigger.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stop()
	d.closed = true
}

func (d *Debouncer) stop() bool {
	if d.timer == nil {
		return false
	}
	d.timer.Stop()
	d.timer = nil
	d.gen++
	return true
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	// Superseded by a later call.
	if d.timer == nil || d.closed || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	d.fn()
}
