package clock

import (
	"context"
	"sync"
	"testing"
	"time"
)

// Mock is the testing implementation of Clock. It tracks a time that
// monotonically increases during a test, triggering any timers
// automatically. Trimmed of the teacher's TickerFunc/mockTickerFunc and
// Trap/Trapper/Call call-tracing machinery: no domain component here
// drives a context-scoped ticker loop through the Clock interface, or
// needs to intercept a call mid-flight, so neither earns its keep in this
// tree.
type Mock struct {
	mu sync.Mutex

	// cur is the current time
	cur time.Time
	// advancing is true when we are in the process of advancing the clock.  We don't support
	// multiple goroutines doing this at once.
	advancing bool

	all        []event
	nextTime   time.Time
	nextEvents []event
}

type event interface {
	next() time.Time
	fire(t time.Time)
}

func (m *Mock) NewTimer(d time.Duration) *Timer {
	if d < 0 {
		panic("duration must be positive or zero")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan time.Time, 1)
	t := &Timer{
		C:    ch,
		c:    ch,
		nxt:  m.cur.Add(d),
		mock: m,
	}
	m.addTimerLocked(t)
	return t
}

func (m *Mock) AfterFunc(d time.Duration, f func()) *Timer {
	if d < 0 {
		panic("duration must be positive or zero")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &Timer{
		nxt:  m.cur.Add(d),
		fn:   f,
		mock: m,
	}
	m.addTimerLocked(t)
	return t
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

func (m *Mock) Since(t time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur.Sub(t)
}

func (m *Mock) addTimerLocked(t *Timer) {
	m.all = append(m.all, t)
	m.recomputeNextLocked()
}

func (m *Mock) recomputeNextLocked() {
	var best time.Time
	var events []event
	for _, e := range m.all {
		if best.IsZero() || e.next().Before(best) {
			best = e.next()
			events = []event{e}
			continue
		}
		if e.next().Equal(best) {
			events = append(events, e)
			continue
		}
	}
	m.nextTime = best
	m.nextEvents = events
}

func (m *Mock) removeTimer(t *Timer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeTimerLocked(t)
}

func (m *Mock) removeTimerLocked(t *Timer) {
	defer m.recomputeNextLocked()
	t.stopped = true
	var e event = t
	for i := range m.all {
		if m.all[i] == e {
			m.all = append(m.all[:i], m.all[i+1:]...)
			return
		}
	}
}

// AdvanceWaiter is returned from Advance and Set calls and allows you to
// wait for functions passed to AfterFunc to complete. If multiple timers
// trigger simultaneously, they are all run on separate goroutines.
type AdvanceWaiter struct {
	ch chan struct{}
}

// Wait for all timers to complete, or until context expires.
func (w AdvanceWaiter) Wait(ctx context.Context) error {
	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MustWait waits for all timers to complete, and fails the test immediately
// if the context completes first. MustWait must be called from the
// goroutine running the test or benchmark, similar to `t.FailNow()`.
func (w AdvanceWaiter) MustWait(ctx context.Context, t testing.TB) {
	select {
	case <-w.ch:
		return
	case <-ctx.Done():
		t.Fatalf("context expired while waiting for clock to advance: %s", ctx.Err())
	}
}

// Done returns a channel that is closed when all timers complete.
func (w AdvanceWaiter) Done() <-chan struct{} {
	return w.ch
}

// Advance moves the clock forward by d, triggering any timers. The
// returned value can be used to wait for all of them to complete.
func (m *Mock) Advance(d time.Duration) AdvanceWaiter {
	w := AdvanceWaiter{ch: make(chan struct{})}
	go func() {
		defer close(w.ch)
		m.mu.Lock()
		defer m.mu.Unlock()
		m.advanceLocked(d)
	}()
	return w
}

func (m *Mock) advanceLocked(d time.Duration) {
	if m.advancing {
		panic("multiple simultaneous calls to Advance/Set not supported")
	}
	m.advancing = true
	defer func() {
		m.advancing = false
	}()

	fin := m.cur.Add(d)
	for {
		// nextTime.IsZero implies no events scheduled
		if m.nextTime.IsZero() || m.nextTime.After(fin) {
			m.cur = fin
			return
		}

		if m.nextTime.After(m.cur) {
			m.cur = m.nextTime
		}

		wg := sync.WaitGroup{}
		for i := range m.nextEvents {
			e := m.nextEvents[i]
			t := m.cur
			wg.Add(1)
			go func() {
				e.fire(t)
				wg.Done()
			}()
		}
		// release the lock and let the events resolve.  This allows them to call back into the
		// Mock to query the time or set new timers.  Each event should remove or reschedule
		// itself from nextEvents.
		m.mu.Unlock()
		wg.Wait()
		m.mu.Lock()
	}
}

// Set the time to t. If the time is after the current mocked time, then
// this is equivalent to Advance() with the difference. You may only Set
// the time earlier than the current time before starting timers (e.g. at
// the start of your test case).
func (m *Mock) Set(t time.Time) AdvanceWaiter {
	w := AdvanceWaiter{ch: make(chan struct{})}
	go func() {
		defer close(w.ch)
		m.mu.Lock()
		defer m.mu.Unlock()
		if t.Before(m.cur) {
			// past
			if !m.nextTime.IsZero() {
				panic("Set mock clock to the past after timers started")
			}
			m.cur = t
			return
		}
		// future, just advance as normal.
		m.advanceLocked(t.Sub(m.cur))
	}()
	return w
}

// NewMock creates a new Mock with the time set to midnight UTC on Jan 1, 2024.
// You may re-set the time earlier than this, but only before timers
// are created.
func NewMock() *Mock {
	cur, err := time.Parse(time.RFC3339, "2024-01-01T00:00:00Z")
	if err != nil {
		panic(err)
	}
	return &Mock{
		cur: cur,
	}
}

var _ Clock = &Mock{}
