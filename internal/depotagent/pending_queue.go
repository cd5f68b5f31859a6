package depotagent

import (
	"time"

	"golang.org/x/xerrors"

	"github.com/Iliamish/ydb/clock"
)

// pendingEntry is one deferred client event: the event itself, its
// precomputed byte size, and the deadline at which it times out
// while still disconnected (spec §3 PendingEvent).
type pendingEntry struct {
	event     Event
	size      int64
	expiresAt time.Time
}

// PendingQueue is a bounded FIFO of deferred client events, absorbing
// traffic during upstream disconnect without unbounded memory growth
// (spec §4.4). It is owned and driven exclusively from the Agent's
// single-threaded execution context (spec §5) -- it holds no lock.
type PendingQueue struct {
	clock clock.Clock

	maxPendingBytes     int64
	eventExpirationTime time.Duration

	entries      []pendingEntry
	pendingBytes int64
}

// NewPendingQueue returns an empty queue with the given resource
// ceilings (spec §3, §4.4).
func NewPendingQueue(clk clock.Clock, maxPendingBytes int64, eventExpirationTime time.Duration) *PendingQueue {
	return &PendingQueue{
		clock:               clk,
		maxPendingBytes:     maxPendingBytes,
		eventExpirationTime: eventExpirationTime,
	}
}

func (q *PendingQueue) Len() int           { return len(q.entries) }
func (q *PendingQueue) PendingBytes() int64 { return q.pendingBytes }

// Enqueue admits ev for later draining. Connected callers should only
// enqueue when the queue is already non-empty, preserving FIFO order
// across the moment of reconnect (spec §4.4) -- the Agent, not the
// queue, is responsible for checking that precondition, since only
// the Agent knows its connection state. Enqueue itself only enforces
// the byte ceiling.
func (q *PendingQueue) Enqueue(ev Event) (ok bool, reason string) {
	size := ev.CalculateSize()
	if size+q.pendingBytes > q.maxPendingBytes {
		return false, "pending event queue overflow"
	}
	q.pendingBytes += size
	q.entries = append(q.entries, pendingEntry{
		event:     ev,
		size:      size,
		expiresAt: q.clock.Now().Add(q.eventExpirationTime),
	})
	return true, ""
}

// Drain hands events to process in FIFO order until the queue is
// empty or more than budget has elapsed, whichever comes first. It
// reports whether it stopped early because the budget was exhausted
// with events still queued (spec §4.4 "drain yield"): the Agent uses
// that to schedule a self-event and continue on the next tick rather
// than starving everything else in its single-threaded loop.
func (q *PendingQueue) Drain(budget time.Duration, process func(Event)) (yielded bool) {
	start := q.clock.Now()
	for len(q.entries) > 0 {
		item := q.entries[0]
		process(item.event)
		if q.pendingBytes < item.size {
			panic(xerrors.Errorf("pending queue accounting underflow: bytes=%d size=%d", q.pendingBytes, item.size))
		}
		q.pendingBytes -= item.size
		q.entries = q.entries[1:]
		if len(q.entries) > 0 && q.clock.Since(start) > budget {
			return true
		}
	}
	return false
}

// ExpireBefore removes and returns every entry whose deadline has
// passed as of now, preserving FIFO order among the expired prefix
// (spec §4.4 watchdog: "drop from the front any entries whose
// deadline has passed"). Entries are contiguous at the front because
// EventExpirationTime is fixed and entries are enqueued in order.
func (q *PendingQueue) ExpireBefore(now time.Time) []Event {
	var expired []Event
	i := 0
	for ; i < len(q.entries); i++ {
		if q.entries[i].expiresAt.After(now) {
			break
		}
		expired = append(expired, q.entries[i].event)
		q.pendingBytes -= q.entries[i].size
	}
	q.entries = q.entries[i:]
	return expired
}

// Clear empties the queue and returns every event it held, for a
// bulk disconnect (spec §5 Cancellation: "ClearPendingEventQueue").
func (q *PendingQueue) Clear() []Event {
	out := make([]Event, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e.event)
	}
	q.entries = nil
	q.pendingBytes = 0
	return out
}
