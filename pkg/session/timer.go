package session

import (
	"sync"
	"time"
)

// Timer tracks wall-clock session time in lockstep with recording state.
// Resuming recomputes from a stored start instant instead of counting ticks,
// so pause/resume cycles introduce no drift beyond the pause itself.
type Timer struct {
	mu          sync.Mutex
	now         func() time.Time
	startedAt   time.Time
	accumulated time.Duration
	running     bool
}

// NewTimer returns a stopped timer.
func NewTimer() *Timer {
	return &Timer{now: time.Now}
}

// Start begins timing from zero.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accumulated = 0
	t.startedAt = t.now()
	t.running = true
}

// Pause freezes the elapsed time.
func (t *Timer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.accumulated += t.now().Sub(t.startedAt)
	t.running = false
}

// Resume continues timing from the frozen elapsed value.
func (t *Timer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.startedAt = t.now()
	t.running = true
}

// Elapsed returns the total recorded time so far.
func (t *Timer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return t.accumulated
	}
	return t.accumulated + t.now().Sub(t.startedAt)
}

// Running reports whether the timer is currently counting.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Reset stops the timer and clears the elapsed time.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accumulated = 0
	t.running = false
}
