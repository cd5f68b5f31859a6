package depotagent

import (
	"fmt"
	"time"

	"cdr.dev/slog"
	"golang.org/x/xerrors"

	"github.com/Iliamish/ydb/clock"
	"github.com/Iliamish/ydb/cryptorand"
)

// WatchdogDuration is how long a Query may run before the registry logs
// that it is still executing (spec §4.5).
const WatchdogDuration = 10 * time.Second

// Query is one in-flight client request. It is constructed when the Agent
// accepts an event, lives in exactly one QueryRegistry, and terminates
// exactly once via EndWithSuccess or EndWithError. No method may be called
// on a Query after it has terminated (spec §3).
type Query struct {
	id    uint64
	event Event

	startTime time.Time
	deadline  time.Time

	// heapIndex is maintained by the registry's watchdog heap; -1 means
	// the Query is not currently indexed (already terminated).
	heapIndex int

	watchdogPriority slog.Level
	destroyed        bool

	idString string // cached by QueryID

	// virtualGroupID identifies the owning Agent, mirroring
	// Agent.VirtualGroupId in query.cpp -- passed as the third argument
	// to MakeErrorResponse on every EndWithError call.
	virtualGroupID string

	onTerminate func(q *Query, reply Reply)
}

// newQuery allocates a Query with a fresh random id and sets its watchdog
// deadline to start_time + WatchdogDuration (spec §4.5 Creation); it does
// not touch any registry -- QueryRegistry.NewQuery inserts it into the
// watchdog index. Grounded on TBlobDepotAgent::TQuery's constructor
// (query.cpp): random 64-bit id, start time from the monotonic clock,
// initial watchdog priority Debug.
func newQuery(clk clock.Clock, ev Event, virtualGroupID string, onTerminate func(q *Query, reply Reply)) (*Query, error) {
	id, err := cryptorand.Uint64()
	if err != nil {
		return nil, fmt.Errorf("generate query id: %w", err)
	}
	now := clk.Now()
	return &Query{
		id:               id,
		event:            ev,
		startTime:        now,
		deadline:         now.Add(WatchdogDuration),
		heapIndex:        -1,
		watchdogPriority: slog.LevelDebug,
		virtualGroupID:   virtualGroupID,
		onTerminate:      onTerminate,
	}, nil
}

// QueryID returns the query's hex id, suffixed with "@tabletID" once a
// TabletID is known. The string is computed once and cached (spec §4.6
// "cached for diagnostics"), mirroring TQuery::GetQueryId.
func (q *Query) QueryID(tabletID uint64) string {
	if q.idString != "" {
		return q.idString
	}
	if tabletID != 0 {
		q.idString = fmt.Sprintf("%x@%d", q.id, tabletID)
	} else {
		q.idString = fmt.Sprintf("%x", q.id)
	}
	return q.idString
}

func (q *Query) Kind() Kind { return q.event.Kind() }

// EndWithError terminates the query with a failure reply, sent to the
// original sender with the original cookie (spec §4.5 Termination).
func (q *Query) EndWithError(status Status, reason string) {
	q.end(q.event.MakeErrorResponse(status, reason, q.virtualGroupID))
}

// EndWithSuccess terminates the query with a successful reply carrying
// value.
func (q *Query) EndWithSuccess(value any) {
	q.end(Reply{Status: StatusOK, Value: value})
}

func (q *Query) end(reply Reply) {
	if q.destroyed {
		panic(xerrors.Errorf("query %s terminated twice", q.idString))
	}
	q.destroyed = true
	if q.onTerminate != nil {
		q.onTerminate(q, reply)
	}
}
