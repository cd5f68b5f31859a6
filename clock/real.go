package clock

import "time"

// realClock is the production Clock, delegating straight through to the
// standard library.
type realClock struct{}

// NewReal returns a Clock backed by the standard library's time package.
func NewReal() Clock {
	return realClock{}
}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (realClock) NewTimer(d time.Duration) *Timer {
	rt := time.NewTimer(d)
	return &Timer{C: rt.C, timer: rt, nxt: time.Now().Add(d)}
}

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	rt := time.AfterFunc(d, f)
	return &Timer{timer: rt, fn: f, nxt: time.Now().Add(d)}
}
