package depotagent

import (
	"container/heap"
	"context"
	"time"

	"cdr.dev/slog"

	"github.com/Iliamish/ydb/clock"
)

// ReplySink delivers a terminated Query's reply back to its original
// sender, addressed by the sender/cookie pair the inbound event carried
// (spec §4.5 Termination, §9 "move-forward primitive").
type ReplySink interface {
	Send(sender ClientID, cookie uint64, reply Reply)
}

// queryHeap is a container/heap min-heap ordered by watchdog deadline,
// standing in for the original's ordered (deadline, Query*) multimap --
// Go has no ordered multimap in the standard library, so a heap with an
// index field on Query (for O(log n) arbitrary removal on termination)
// is the idiomatic substitute.
type queryHeap []*Query

func (h queryHeap) Len() int            { return len(h) }
func (h queryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h queryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex, h[j].heapIndex = i, j
}

func (h *queryHeap) Push(x any) {
	q := x.(*Query)
	q.heapIndex = len(*h)
	*h = append(*h, q)
}

func (h *queryHeap) Pop() any {
	old := *h
	n := len(old)
	q := old[n-1]
	old[n-1] = nil
	q.heapIndex = -1
	*h = old[:n-1]
	return q
}

// QueryRegistry owns every live Query, enforces the per-query watchdog,
// and centralises termination (spec §4.5). It is driven exclusively from
// the Agent's single-threaded execution context; it holds no lock.
type QueryRegistry struct {
	logger slog.Logger
	clock  clock.Clock
	sink   ReplySink

	virtualGroupID string

	byID      map[uint64]*Query
	watchdog  queryHeap
	destroyed []*Query

	cancel context.CancelFunc
}

// NewQueryRegistry returns an empty registry. sink receives the reply of
// every Query this registry terminates. virtualGroupID identifies the
// owning Agent on every log line the way Agent.VirtualGroupId does in
// query.cpp's STLOG calls.
func NewQueryRegistry(logger slog.Logger, clk clock.Clock, sink ReplySink, virtualGroupID string) *QueryRegistry {
	return &QueryRegistry{
		logger:         logger.Named("query_registry"),
		clock:          clk,
		sink:           sink,
		virtualGroupID: virtualGroupID,
		byID:           make(map[uint64]*Query),
	}
}

// NewQuery constructs a Query for ev, inserts it into the watchdog index
// at start_time + WatchdogDuration, and registers it as live (spec §4.5
// Creation). Unlike ProcessStorageEvent, CreateQuery itself never logs in
// query.cpp -- "new query" is logged by the caller once it knows whether
// TabletId is set, so this stays silent too, for both the normal dispatch
// path (Agent.process logs it with the real tabletID) and the reject-raw
// path (overflow/timeout/disconnect, which the original never logs either).
func (r *QueryRegistry) NewQuery(ev Event) (*Query, error) {
	q, err := newQuery(r.clock, ev, r.virtualGroupID, r.terminate)
	if err != nil {
		return nil, err
	}
	r.byID[q.id] = q
	heap.Push(&r.watchdog, q)
	return q, nil
}

// terminate is the Query.onTerminate callback: it logs, sends the reply,
// unlinks the query from the watchdog index, and defers physical cleanup
// to the destruction list (spec §4.5 Termination).
func (r *QueryRegistry) terminate(q *Query, reply Reply) {
	duration := r.clock.Since(q.startTime)
	if reply.Status == StatusOK {
		r.logger.Debug(context.Background(), "query ends with success",
			slog.F("virtual_group_id", r.virtualGroupID), slog.F("query_id", q.QueryID(0)), slog.F("duration", duration))
	} else {
		r.logger.Info(context.Background(), "query ends with error",
			slog.F("virtual_group_id", r.virtualGroupID), slog.F("query_id", q.QueryID(0)), slog.F("status", reply.Status.String()),
			slog.F("reason", reply.Reason), slog.F("duration", duration))
	}

	r.sink.Send(q.event.Sender(), q.event.Cookie(), reply)

	delete(r.byID, q.id)
	if q.heapIndex >= 0 {
		heap.Remove(&r.watchdog, q.heapIndex)
	}
	r.destroyed = append(r.destroyed, q)
}

// DrainDestroyed flushes and returns the destruction list accumulated
// since the last call, completing the deferred physical cleanup the
// original performs at the end of each event dispatch step.
func (r *QueryRegistry) DrainDestroyed() []*Query {
	out := r.destroyed
	r.destroyed = nil
	return out
}

// Len reports the number of live queries.
func (r *QueryRegistry) Len() int { return len(r.byID) }

// Tick runs one watchdog pass: every entry whose deadline has passed is
// escalated to slog.LevelWarn ("Notice" in the original taxonomy) for
// subsequent warnings and reinserted at now + WatchdogDuration. Stops at
// the first entry still in the future, since the heap guarantees that
// everything after it is also still in the future (spec §4.5 Watchdog
// tick).
func (r *QueryRegistry) Tick(now time.Time) {
	for r.watchdog.Len() > 0 {
		q := r.watchdog[0]
		if q.deadline.After(now) {
			return
		}
		heap.Pop(&r.watchdog)

		prio := q.watchdogPriority
		q.watchdogPriority = slog.LevelWarn
		fields := []any{
			slog.F("virtual_group_id", r.virtualGroupID),
			slog.F("query_id", q.QueryID(0)),
			slog.F("duration", now.Sub(q.startTime)),
		}
		if prio == slog.LevelWarn {
			r.logger.Warn(context.Background(), "query is still executing", fields...)
		} else {
			r.logger.Debug(context.Background(), "query is still executing", fields...)
		}

		q.deadline = now.Add(WatchdogDuration)
		heap.Push(&r.watchdog, q)
	}
}

// Run drives the 1s watchdog cadence until ctx is cancelled (spec §4.5,
// §6 "QueryWatchdog (1s)"), in the same NewTimer/Reset/select idiom the
// teacher's key rotator uses.
func (r *QueryRegistry) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	ticker := r.clock.NewTimer(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(r.clock.Now())
			ticker.Reset(time.Second)
		}
	}
}

// Close stops the watchdog loop started by Run.
func (r *QueryRegistry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
}
