package scheduler

import (
	"slices"
	"sync"
	"testing"
	"time"
)

// manualClock only moves when Advance is called. Due timers run on the
// goroutine calling Advance, in fire time order.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	c     *manualClock
	at    time.Time
	every time.Duration
	f     func()
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	return c.add(d, 0, f)
}

func (c *manualClock) Tick(d time.Duration, f func()) Timer {
	return c.add(d, d, f)
}

func (c *manualClock) add(d, every time.Duration, f func()) *manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{c: c, at: c.now.Add(d), every: every, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	i := slices.Index(t.c.timers, t)
	if i < 0 {
		return false
	}
	t.c.timers = slices.Delete(t.c.timers, i, i+1)
	return true
}

func (c *manualClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *manualTimer
		for _, t := range c.timers {
			if t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.at
		if next.every > 0 {
			next.at = next.at.Add(next.every)
		} else {
			c.timers = slices.DeleteFunc(c.timers, func(t *manualTimer) bool { return t == next })
		}
		f := next.f
		c.mu.Unlock()
		f()
	}
}

func newTestScheduler(t *testing.T) (*Scheduler, *manualClock) {
	t.Helper()
	clk := newManualClock()
	s := New(Config{Clock: clk, Location: time.UTC, SweepInterval: 5 * time.Millisecond})
	t.Cleanup(s.Close)
	return s, clk
}

// step advances the clock and waits until the executions it caused settle.
func step(s *Scheduler, clk *manualClock, d time.Duration, n int) {
	for i := 0; i < n; i++ {
		clk.Advance(d)
		s.pool.Wait()
	}
}

func assertSorted(t *testing.T, s *Scheduler) {
	t.Helper()
	tasks := s.Tasks()
	for i := 1; i < len(tasks); i++ {
		if tasks[i].NextExecute.Before(tasks[i-1].NextExecute) {
			t.Fatalf("registry not sorted at %d: %s before %s", i, tasks[i].NextExecute, tasks[i-1].NextExecute)
		}
	}
}
