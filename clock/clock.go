// Package clock is a library for testing time-related code. It exports an
// interface Clock that mimics the subset of the standard library's time
// functions this repo's watchdog and drain-budget code actually calls. In
// production, an implementation that calls thru to the standard library is
// used. In testing, a Mock clock is used to precisely control time.
package clock

import "time"

// Clock covers exactly what PendingQueue, QueryRegistry, and Agent need:
// a wall-clock reader for timestamping and elapsed-time checks (Now,
// Since), and two ways to schedule a future callback (NewTimer, AfterFunc).
// The teacher's own Clock also covers TickerFunc-driven background loops
// and a Trap-based call-tracing mechanism; neither is exercised by any
// domain component here, so both are trimmed rather than carried unused.
type Clock interface {
	// Now returns the current local time.
	Now() time.Time
	// Since returns the time elapsed since t. It is shorthand for
	// Clock.Now().Sub(t).
	Since(t time.Time) time.Duration
	// NewTimer creates a new Timer that will send the current time on its
	// channel after at least duration d.
	NewTimer(d time.Duration) *Timer
	// AfterFunc waits for the duration to elapse and then calls f in its
	// own goroutine. It returns a Timer that can be used to cancel the
	// call using its Stop method. The returned Timer's C field is not
	// used and will be nil.
	AfterFunc(d time.Duration, f func()) *Timer
}
