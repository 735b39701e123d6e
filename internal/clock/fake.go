package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock only moves when Advance is called. AfterFunc callbacks run
// synchronously inside Advance in deadline order; a callback must not call
// Advance.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
	changed *sync.Cond
}

type fakeWaiter struct {
	deadline time.Time
	callback func()
	channel  chan time.Time
	interval time.Duration
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{current: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	waiter := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.waiters = append(c.waiters, waiter)
	c.changed.Broadcast()

	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if waiter.stopped || waiter.fired {
			return false
		}
		waiter.stopped = true
		c.changed.Broadcast()
		return true
	}}
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	waiter := &fakeWaiter{deadline: c.current.Add(d), channel: channel, interval: d}
	c.waiters = append(c.waiters, waiter)
	c.changed.Broadcast()
	return &Ticker{C: channel, stopFunc: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		waiter.stopped = true
		c.changed.Broadcast()
	}}
}

// Advance moves the clock forward and fires every waiter whose deadline
// is reached.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		due := c.collectExpired(target)
		if len(due) == 0 {
			return
		}
		sort.Slice(due, func(i, j int) bool {
			return due[i].deadline.Before(due[j].deadline)
		})
		for _, waiter := range due {
			if waiter.callback != nil {
				waiter.callback()
				continue
			}
			select {
			case waiter.channel <- target:
			default:
			}
		}
	}
}

func (c *FakeClock) collectExpired(target time.Time) []*fakeWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, remaining []*fakeWaiter
	for _, waiter := range c.waiters {
		if waiter.stopped {
			continue
		}
		if waiter.deadline.After(target) {
			remaining = append(remaining, waiter)
			continue
		}
		due = append(due, waiter)
		if waiter.interval > 0 {
			waiter.deadline = waiter.deadline.Add(waiter.interval)
			remaining = append(remaining, waiter)
		} else {
			waiter.fired = true
		}
	}
	c.waiters = remaining
	if len(due) > 0 {
		c.changed.Broadcast()
	}
	return due
}

// WaitForTimers blocks until at least n waiters are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of active waiters.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	n := 0
	for _, waiter := range c.waiters {
		if !waiter.stopped {
			n++
		}
	}
	return n
}
