package depotagent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/slogtest"

	"github.com/Iliamish/ydb/clock"
)

type recordingProxy struct {
	forwarded []Event
}

func (p *recordingProxy) Forward(ev Event) { p.forwarded = append(p.forwarded, ev) }

type recordingExecutor struct {
	initiated []*Query
}

func (e *recordingExecutor) Execute(ctx context.Context, q *Query) {
	e.initiated = append(e.initiated, q)
	q.EndWithSuccess(nil)
}

func TestAgentProcessCachesQueryIDWithRealTabletID(t *testing.T) {
	t.Parallel()

	a, _, _, _ := newTestAgent(t)
	exec := &recordingExecutor{}
	a.SetExecutor(exec)
	a.SetConnected(context.Background(), true, 99)

	a.Handle(context.Background(), newTestGet(1, 0, 10))
	require.Len(t, exec.initiated, 1)
	require.Contains(t, exec.initiated[0].QueryID(0), "@99")
}

func newTestAgent(t *testing.T) (*Agent, *clock.Mock, *recordingProxy, *recordingSink) {
	logger := slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}).Leveled(slog.LevelDebug)
	mClock := clock.NewMock()
	proxy := &recordingProxy{}
	sink := &recordingSink{}
	a := NewAgent(logger, mClock, proxy, sink, 1000, 10*time.Second, "test-vgroup")
	return a, mClock, proxy, sink
}

func TestAgentForwardsDecommissionGet(t *testing.T) {
	t.Parallel()

	a, _, proxy, sink := newTestAgent(t)
	a.SetConnected(context.Background(), true, 99)

	ev := &GetEvent{baseEvent: baseEvent{sender: 1, size: 10}, DecommissionFlag: true}
	a.Handle(context.Background(), ev)

	require.Len(t, proxy.forwarded, 1)
	require.Empty(t, sink.replies)
}

func TestAgentForwardsAssimilate(t *testing.T) {
	t.Parallel()

	a, _, proxy, _ := newTestAgent(t)
	a.Handle(context.Background(), &AssimilateEvent{baseEvent: baseEvent{sender: 1}})
	require.Len(t, proxy.forwarded, 1)
}

func TestAgentQueuesWhileDisconnected(t *testing.T) {
	t.Parallel()

	a, _, _, sink := newTestAgent(t)
	exec := &recordingExecutor{}
	a.SetExecutor(exec)

	a.Handle(context.Background(), newTestGet(1, 0, 10))
	require.Equal(t, 1, a.pending.Len())
	require.Empty(t, exec.initiated)
	require.Empty(t, sink.replies)
}

func TestAgentGroupInErrorStateWithoutTabletID(t *testing.T) {
	t.Parallel()

	a, _, _, sink := newTestAgent(t)
	a.SetConnected(context.Background(), true, 0) // connected, but no tablet id yet

	a.Handle(context.Background(), newTestGet(1, 5, 10))
	require.Len(t, sink.replies, 1)
	require.Equal(t, StatusError, sink.replies[0].Status)
	require.Equal(t, "group is in error state", sink.replies[0].Reason)
}

func TestAgentDrainsOnReconnectInOrder(t *testing.T) {
	t.Parallel()

	a, _, _, _ := newTestAgent(t)
	exec := &recordingExecutor{}
	a.SetExecutor(exec)

	a.Handle(context.Background(), newTestGet(1, 0, 10))
	a.Handle(context.Background(), newTestGet(2, 0, 10))
	a.Handle(context.Background(), newTestGet(3, 0, 10))
	require.Equal(t, 3, a.pending.Len())

	a.SetConnected(context.Background(), true, 99)
	require.Equal(t, 0, a.pending.Len())
	require.Len(t, exec.initiated, 3)
	require.Equal(t, ClientID(1), exec.initiated[0].event.Sender())
	require.Equal(t, ClientID(2), exec.initiated[1].event.Sender())
	require.Equal(t, ClientID(3), exec.initiated[2].event.Sender())
}

func TestAgentDisconnectClearsPendingWithError(t *testing.T) {
	t.Parallel()

	a, _, _, sink := newTestAgent(t)
	a.Handle(context.Background(), newTestGet(1, 0, 10))
	a.Handle(context.Background(), newTestGet(2, 0, 10))
	require.Equal(t, 2, a.pending.Len())

	a.SetConnected(context.Background(), false, 0)
	require.Equal(t, 0, a.pending.Len())
	require.Len(t, sink.replies, 2)
	for _, r := range sink.replies {
		require.Equal(t, StatusError, r.Status)
		require.Equal(t, "disconnected", r.Reason)
	}
}

func TestAgentPendingEventQueueWatchdogExpires(t *testing.T) {
	t.Parallel()

	a, mClock, _, sink := newTestAgent(t)
	a.Handle(context.Background(), newTestGet(1, 0, 10))
	require.Equal(t, 1, a.pending.Len())

	mClock.Advance(11 * time.Second).MustWait(context.Background(), t)
	a.PendingEventQueueWatchdogTick(mClock.Now())

	require.Equal(t, 0, a.pending.Len())
	require.Len(t, sink.replies, 1)
	require.Equal(t, "pending event queue timeout", sink.replies[0].Reason)
}
