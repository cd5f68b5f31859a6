package depotagent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/slogtest"

	"github.com/Iliamish/ydb/clock"
)

type recordingSink struct {
	replies []Reply
	senders []ClientID
	cookies []uint64
}

func (s *recordingSink) Send(sender ClientID, cookie uint64, reply Reply) {
	s.senders = append(s.senders, sender)
	s.cookies = append(s.cookies, cookie)
	s.replies = append(s.replies, reply)
}

func newTestRegistry(t *testing.T) (*QueryRegistry, *clock.Mock, *recordingSink) {
	logger := slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}).Leveled(slog.LevelDebug)
	mClock := clock.NewMock()
	sink := &recordingSink{}
	return NewQueryRegistry(logger, mClock, sink, "test-vgroup"), mClock, sink
}

func TestQueryRegistryTerminationSendsReply(t *testing.T) {
	t.Parallel()

	reg, _, sink := newTestRegistry(t)
	ev := newTestGet(7, 42, 10)
	q, err := reg.NewQuery(ev)
	require.NoError(t, err)
	require.Equal(t, 1, reg.Len())

	q.EndWithSuccess("ok")
	require.Equal(t, 0, reg.Len())
	require.Len(t, sink.replies, 1)
	require.Equal(t, ClientID(7), sink.senders[0])
	require.EqualValues(t, 42, sink.cookies[0])
	require.Equal(t, StatusOK, sink.replies[0].Status)

	destroyed := reg.DrainDestroyed()
	require.Len(t, destroyed, 1)
	require.Same(t, q, destroyed[0])
}

func TestQueryRegistryDoubleTerminationPanics(t *testing.T) {
	t.Parallel()

	reg, _, _ := newTestRegistry(t)
	q, err := reg.NewQuery(newTestGet(1, 0, 10))
	require.NoError(t, err)

	q.EndWithSuccess(nil)
	require.Panics(t, func() {
		q.EndWithError(StatusError, "already gone")
	})
}

func TestQueryRegistryWatchdogEscalatesAndReinserts(t *testing.T) {
	t.Parallel()

	reg, mClock, _ := newTestRegistry(t)
	q, err := reg.NewQuery(newTestGet(1, 0, 10))
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, q.watchdogPriority)

	firstDeadline := q.deadline
	reg.Tick(firstDeadline.Add(-time.Millisecond)) // not yet due
	require.Equal(t, slog.LevelDebug, q.watchdogPriority)
	require.Equal(t, firstDeadline, q.deadline)

	reg.Tick(firstDeadline) // due now: escalate and reinsert
	require.Equal(t, slog.LevelWarn, q.watchdogPriority)
	require.Equal(t, firstDeadline.Add(WatchdogDuration), q.deadline)

	_ = mClock
}

func TestQueryRegistryExistsInIndexIffLive(t *testing.T) {
	t.Parallel()

	reg, _, _ := newTestRegistry(t)
	q, err := reg.NewQuery(newTestGet(1, 0, 10))
	require.NoError(t, err)
	require.GreaterOrEqual(t, q.heapIndex, 0)

	q.EndWithSuccess(nil)
	require.Equal(t, -1, q.heapIndex)
}
