// Package clock abstracts time so the connection state machine, typing
// decay, and refresh scheduling are testable without sleeping. Production
// code injects Real(); tests inject a Fake with manual Advance.
package clock

import "time"

// Clock is the capability interface every timer-driven component accepts.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. Equivalent to time.After.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for d, then calls f. The returned Timer cancels the
	// pending call with Stop; its C field is nil, matching time.AfterFunc.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer represents a scheduled AfterFunc call.
type Timer struct {
	// C is nil for AfterFunc timers, matching the time package.
	C <-chan time.Time

	stopFunc func() bool
}

// Stop prevents the timer from firing. Returns true if the call stopped
// the timer, false if it already fired or was stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }
