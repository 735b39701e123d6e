// Package clock abstracts the timers the session layer schedules so tests
// can drive reconnect delays deterministically.
package clock

import "time"

// Clock is the subset of the time package the gateway schedules against.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f in its own goroutine (real) or synchronously
	// during Advance (fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) *Timer

	NewTicker(d time.Duration) *Ticker
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the call from running. It reports false if the call
// already ran or was already stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}

// Ticker delivers ticks on C until stopped.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

func (t *Ticker) Stop() { t.stopFunc() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stopFunc: timer.Stop}
}

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stopFunc: ticker.Stop}
}
