package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/reportgrid/internal/persist"
)

// FakeClock is a virtual clock for tests. Timers fire only when Advance moves
// time past their deadline, synchronously on the caller's goroutine.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
// Callbacks run without the mutex held, so they may schedule new timers.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int64
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Duration
	seq      int64
	f        func()
	done     bool
}

// NewFakeClock creates a clock at virtual time zero.
func NewFakeClock() *FakeClock {
	return &FakeClock{}
}

// AfterFunc implements persist.Clock.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) persist.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, deadline: c.now + d, seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Stop implements persist.Timer.
func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	t.clock.removeLocked(t)
	return true
}

func (c *FakeClock) removeLocked(t *fakeTimer) {
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i:i], c.timers[i+1:]...)
			return
		}
	}
}

// Advance moves virtual time forward by d, firing every timer whose deadline
// is reached in deadline order (ties in creation order).
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.done = true
		c.removeLocked(next)
		c.now = next.deadline
		c.mu.Unlock()

		next.f()
	}
}

func (c *FakeClock) nextDueLocked(target time.Duration) *fakeTimer {
	due := make([]*fakeTimer, 0, len(c.timers))
	for _, t := range c.timers {
		if t.deadline <= target {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline != due[j].deadline {
			return due[i].deadline < due[j].deadline
		}
		return due[i].seq < due[j].seq
	})
	return due[0]
}

// Now returns the virtual time elapsed since the clock was created.
func (c *FakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}
