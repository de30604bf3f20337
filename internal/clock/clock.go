// Package clock abstracts time so the update loop and the daily analysis
// trigger can be driven manually in tests. Use RealClock in production and
// MockClock in tests.
package clock

import (
	"fmt"
	"sync"
	"time"
)

// Clock is the time source for everything time-dependent.
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// AfterFunc calls f in its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer

	// Since returns the time elapsed since t
	Since(t time.Time) time.Duration
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the Timer from firing. Returns true if the call stops the timer,
	// false if the timer has already expired or been stopped.
	Stop() bool
}

// NextDaily returns the next moment at or after now whose wall-clock time in
// now's location is hh:mm ("15:04" layout). A time equal to now is pushed to
// the following day.
func NextDaily(now time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time of day %q: %w", hhmm, err)
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, t.Hour(), t.Minute(), 0, 0, now.Location())
	}
	return next, nil
}

// RealClock implements Clock using the standard time package
type RealClock struct{}

// NewRealClock creates a new RealClock instance
func NewRealClock() *RealClock {
	return &RealClock{}
}

// Now returns the current time
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// AfterFunc waits for the duration to elapse and then calls f
func (c *RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Since returns the time elapsed since t
func (c *RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// MockClock only moves when Advance or Set is called. Timers that come due
// run synchronously inside Advance, in deadline order.
type MockClock struct {
	mu      sync.Mutex
	current time.Time
	timers  []*mockTimer
}

type mockTimer struct {
	deadline time.Time
	f        func()
	stopped  bool
	mu       sync.Mutex
}

// NewMockClock creates a new MockClock starting at the given time
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{current: start}
}

// Now returns the mock current time
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc schedules f to be called after duration d
func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	timer := &mockTimer{deadline: c.current.Add(d), f: f}
	c.timers = append(c.timers, timer)
	return timer
}

// Since returns the time elapsed since t using the mock current time
func (c *MockClock) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Sub(t)
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *MockClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.timers {
		t.mu.Lock()
		if !t.stopped {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

// Advance moves the clock forward by d. Each timer that comes due fires with
// the clock set to its deadline, so timers scheduled by a firing callback
// also fire if they fall inside the window.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	end := c.current.Add(d)
	c.mu.Unlock()

	for {
		timer := c.nextDue(end)
		if timer == nil {
			break
		}
		timer.mu.Lock()
		if timer.stopped {
			timer.mu.Unlock()
			continue
		}
		timer.stopped = true
		f := timer.f
		timer.mu.Unlock()
		f()
	}

	c.mu.Lock()
	if end.After(c.current) {
		c.current = end
	}
	c.mu.Unlock()
}

// nextDue removes and returns the earliest live timer due by end, moving the
// clock to its deadline.
func (c *MockClock) nextDue(end time.Time) *mockTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i, t := range c.timers {
		t.mu.Lock()
		live := !t.stopped && !t.deadline.After(end)
		t.mu.Unlock()
		if live && (idx < 0 || t.deadline.Before(c.timers[idx].deadline)) {
			idx = i
		}
	}
	if idx < 0 {
		return nil
	}

	timer := c.timers[idx]
	c.timers = append(c.timers[:idx], c.timers[idx+1:]...)
	if timer.deadline.After(c.current) {
		c.current = timer.deadline
	}
	return timer
}

// Set moves the clock to t, firing timers when moving forward.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	oldTime := c.current
	c.mu.Unlock()

	if t.After(oldTime) {
		c.Advance(t.Sub(oldTime))
		return
	}

	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Stop prevents the timer from firing
func (t *mockTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}
