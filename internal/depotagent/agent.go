package depotagent

import (
	"context"
	"time"

	"cdr.dev/slog"

	"github.com/Iliamish/ydb/clock"
)

// drainBudget bounds the wall-clock time a single PendingQueue drain may
// run before it yields back to the caller, matching the original's 1ms
// budget (spec §4.4).
const drainBudget = time.Millisecond

// Proxy forwards raw events that bypass the Agent entirely: Assimilate
// traffic and decommission-flagged Get/Range requests (spec §4.6 step 1,
// §6 "Agent->proxy").
type Proxy interface {
	Forward(ev Event)
}

// Agent is the in-process request router (spec §4.6). It owns a
// PendingQueue and a QueryRegistry and is driven exclusively from one
// logical execution context -- none of its mutating methods are
// goroutine-safe, by design (spec §5).
type Agent struct {
	logger slog.Logger
	clock  clock.Clock

	proxy    Proxy
	registry *QueryRegistry
	pending  *PendingQueue

	connected bool
	tabletID  uint64

	// virtualGroupID identifies which virtual group this Agent serves,
	// mirroring Agent.VirtualGroupId in query.cpp -- threaded into every
	// registry log line and into MakeErrorResponse's third argument.
	virtualGroupID string

	drainInFlight bool
	initiate      func(ctx context.Context, q *Query)
}

// NewAgent wires an Agent around the given proxy and reply sink. The
// registry it constructs internally owns every live Query for this
// Agent's lifetime.
func NewAgent(logger slog.Logger, clk clock.Clock, proxy Proxy, sink ReplySink, maxPendingBytes int64, eventExpirationTime time.Duration, virtualGroupID string) *Agent {
	logger = logger.Named("depotagent")
	return &Agent{
		logger:         logger,
		clock:          clk,
		proxy:          proxy,
		registry:       NewQueryRegistry(logger, clk, sink, virtualGroupID),
		pending:        NewPendingQueue(clk, maxPendingBytes, eventExpirationTime),
		virtualGroupID: virtualGroupID,
	}
}

// SetConnected transitions the Agent's upstream-connectivity state. Going
// connected triggers an immediate drain of anything queued while
// disconnected; going disconnected clears the pending queue with an error
// (spec §5 Cancellation).
func (a *Agent) SetConnected(ctx context.Context, connected bool, tabletID uint64) {
	a.connected = connected
	a.tabletID = tabletID
	if connected {
		a.drain(ctx)
		return
	}
	for _, ev := range a.pending.Clear() {
		a.rejectRaw(ev, "disconnected")
	}
}

// Handle dispatches one client event (spec §4.6 Dispatch):
//
//  1. Get/Range carrying the decommission flag forwards raw to the proxy.
//  2. Otherwise, while disconnected or with anything already queued,
//     admission runs through PendingQueue to preserve FIFO order.
//  3. Otherwise the event is processed immediately.
func (a *Agent) Handle(ctx context.Context, ev Event) {
	if ev.Kind() == KindAssimilate || ev.Decommission() {
		a.proxy.Forward(ev)
		return
	}

	if !a.connected || a.pending.Len() > 0 {
		if ok, reason := a.pending.Enqueue(ev); !ok {
			a.rejectRaw(ev, reason)
		}
		return
	}

	a.process(ctx, ev)
}

// rejectRaw synthesizes a Query purely to reuse the registry's reply
// path, then immediately terminates it -- mirrors query.cpp's
// `CreateQuery<0>(std::move(p))->EndWithError(...)` on overflow/timeout,
// where even a rejected event is routed through a throwaway Query so the
// reply-sending logic lives in exactly one place.
func (a *Agent) rejectRaw(ev Event, reason string) {
	q, err := a.registry.NewQuery(ev)
	if err != nil {
		a.logger.Error(context.Background(), "failed to allocate query for rejection", slog.Error(err))
		return
	}
	q.EndWithError(StatusError, reason)
}

// process constructs a Query for ev and either terminates it immediately
// (group in error state) or hands it off for execution (spec §4.6 step
// 3, ProcessStorageEvent).
func (a *Agent) process(ctx context.Context, ev Event) {
	q, err := a.registry.NewQuery(ev)
	if err != nil {
		a.logger.Error(ctx, "failed to allocate query", slog.Error(err))
		return
	}

	a.logger.Debug(ctx, "new query",
		slog.F("virtual_group_id", a.virtualGroupID), slog.F("query_id", q.QueryID(a.tabletID)), slog.F("kind", q.Kind().String()))

	if a.tabletID == 0 {
		q.EndWithError(StatusError, "group is in error state")
		return
	}

	a.Initiate(ctx, q)
}

// Initiate executes the query's request against whatever backs this
// Agent. Overridden per deployment (a real depot dial, a test double);
// the default terminates with an unimplemented error so a caller who
// forgets to wire one fails loudly instead of hanging.
var defaultInitiate = func(ctx context.Context, q *Query) {
	q.EndWithError(StatusError, "no executor configured")
}

// Executor runs a Query's request and reports its outcome by calling
// EndWithSuccess or EndWithError on it exactly once.
type Executor interface {
	Execute(ctx context.Context, q *Query)
}

// SetExecutor installs the Executor that Initiate dispatches to.
func (a *Agent) SetExecutor(e Executor) {
	if e == nil {
		a.initiate = defaultInitiate
		return
	}
	a.initiate = e.Execute
}

func (a *Agent) Initiate(ctx context.Context, q *Query) {
	if a.initiate == nil {
		defaultInitiate(ctx, q)
		return
	}
	a.initiate(ctx, q)
}

// drain pumps the pending queue, yielding after drainBudget if there is
// still work left rather than starving the Agent's other duties (spec
// §4.4 Drain policy: "schedule a self-event... set an in_flight flag so
// a second tick does not stack"). The self-event is modelled as a
// zero-delay clock.AfterFunc callback rather than a recursive call, so a
// caller driving many Agents off one clock never blows its own stack on
// a pathologically long backlog.
func (a *Agent) drain(ctx context.Context) {
	if a.drainInFlight {
		return
	}
	yielded := a.pending.Drain(drainBudget, func(ev Event) {
		a.process(ctx, ev)
	})
	if !yielded {
		return
	}
	a.drainInFlight = true
	a.clock.AfterFunc(0, func() {
		a.drainInFlight = false
		a.drain(ctx)
	})
}

// PendingEventQueueWatchdogTick drops expired pending entries while
// disconnected (spec §4.4 Watchdog).
func (a *Agent) PendingEventQueueWatchdogTick(now time.Time) {
	if a.connected {
		return
	}
	for _, ev := range a.pending.ExpireBefore(now) {
		a.rejectRaw(ev, "pending event queue timeout")
	}
}

// QueryWatchdogTick delegates to the registry (spec §4.5).
func (a *Agent) QueryWatchdogTick(now time.Time) {
	a.registry.Tick(now)
}

// DrainDestroyed flushes queries terminated since the last call, for
// deferred physical cleanup (spec §4.5 Termination).
func (a *Agent) DrainDestroyed() []*Query {
	return a.registry.DrainDestroyed()
}
