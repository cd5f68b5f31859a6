package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"

	"github.com/coder/quartz"
	"github.com/coder/retry"

	"github.com/Iliamish/ydb/clock"
	"github.com/Iliamish/ydb/internal/depotagent"
	"github.com/Iliamish/ydb/internal/pdisk"
)

func main() {
	var (
		totalChunks    int64
		ownerCount     int
		snapshotFreq   time.Duration
		virtualGroupID string
	)

	cmd := &cobra.Command{
		Use:   "depotkeeperd",
		Short: "Runs a blob-depot agent and chunk tracker pair against a simulated upstream.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.Make(sloghuman.Sink(cmd.OutOrStdout())).Leveled(slog.LevelDebug)
			return run(cmd.Context(), logger, totalChunks, ownerCount, snapshotFreq, virtualGroupID)
		},
	}
	cmd.Flags().Int64Var(&totalChunks, "total-chunks", 10_000, "total chunks to partition")
	cmd.Flags().IntVar(&ownerCount, "owners", 4, "number of simulated VDisk owners")
	cmd.Flags().DurationVar(&snapshotFreq, "snapshot-interval", 30*time.Second, "how often to log a chunk-tracker snapshot")
	cmd.Flags().StringVar(&virtualGroupID, "virtual-group-id", uuid.New().String(), "identity of the virtual group this agent serves, threaded through every query log line")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	cmd.SetContext(ctx)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger slog.Logger, totalChunks int64, ownerCount int, snapshotFreq time.Duration, virtualGroupID string) error {
	clk := clock.NewReal()
	qClock := quartz.NewReal()

	tracker := pdisk.NewChunkTracker()
	owners := make(map[pdisk.OwnerID]pdisk.OwnerInfo, ownerCount)
	for i := 0; i < ownerCount; i++ {
		owners[pdisk.BeginUser+pdisk.OwnerID(i)] = pdisk.OwnerInfo{VDiskID: uuid.New().String()}
	}
	if err := tracker.Reset(pdisk.KeeperParams{
		TotalChunks:        totalChunks,
		SysLogSize:         50,
		CommonLogSize:      200,
		HasStaticGroups:    true,
		ExpectedOwnerCount: ownerCount,
		ColorBorder:        pdisk.Yellow,
		Owners:             owners,
	}); err != nil {
		return xerrors.Errorf("reset chunk tracker: %w", err)
	}

	sink := &logSink{logger: logger.Named("replies")}
	proxy := &logProxy{logger: logger.Named("proxy")}
	agent := depotagent.NewAgent(logger, clk, proxy, sink, 64<<20, 10*time.Second, virtualGroupID)
	agent.SetExecutor(&chunkExecutor{logger: logger.Named("executor"), tracker: tracker, owners: ownerIDs(owners)})

	go watchdogLoop(ctx, clk, agent)
	go snapshotLoop(ctx, qClock, logger.Named("snapshot"), tracker, snapshotFreq)

	return dialLoop(ctx, logger.Named("dial"), agent)
}

// dialLoop simulates reconnecting to an upstream depot, toggling the
// Agent's connectivity state, using the teacher's retry.New backoff idiom
// (agent/agent.go runLoop).
func dialLoop(ctx context.Context, logger slog.Logger, agent *depotagent.Agent) error {
	const simulatedTabletID = 1
	for retrier := retry.New(100*time.Millisecond, 10*time.Second); retrier.Wait(ctx); {
		logger.Info(ctx, "dialing upstream depot")
		agent.SetConnected(ctx, true, simulatedTabletID)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(30+rand.Intn(30)) * time.Second): //nolint:gosec
			logger.Warn(ctx, "simulated upstream disconnect")
			agent.SetConnected(ctx, false, 0)
		}
	}
	return ctx.Err()
}

func watchdogLoop(ctx context.Context, clk clock.Clock, agent *depotagent.Agent) {
	timer := clk.NewTimer(time.Second)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			now := clk.Now()
			agent.PendingEventQueueWatchdogTick(now)
			agent.QueryWatchdogTick(now)
			agent.DrainDestroyed()
			timer.Reset(time.Second)
		}
	}
}

func snapshotLoop(ctx context.Context, clk quartz.Clock, logger slog.Logger, tracker *pdisk.ChunkTracker, freq time.Duration) {
	ticker := clk.NewTicker(freq)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b, err := json.Marshal(tracker.Snapshot())
			if err != nil {
				logger.Error(ctx, "marshal snapshot", slog.Error(err))
				continue
			}
			logger.Info(ctx, "chunk tracker snapshot", slog.F("snapshot", string(b)))
		}
	}
}

func ownerIDs(owners map[pdisk.OwnerID]pdisk.OwnerInfo) []pdisk.OwnerID {
	ids := make([]pdisk.OwnerID, 0, len(owners))
	for id := range owners {
		ids = append(ids, id)
	}
	return ids
}

// logSink and logProxy stand in for the real transport boundary: sending
// a reply over a client connection and forwarding to the upstream proxy,
// neither of which this core owns (spec §1 Non-goals).
type logSink struct{ logger slog.Logger }

func (s *logSink) Send(sender depotagent.ClientID, cookie uint64, reply depotagent.Reply) {
	s.logger.Debug(context.Background(), "reply",
		slog.F("sender", sender), slog.F("cookie", cookie),
		slog.F("status", reply.Status.String()), slog.F("reason", reply.Reason))
}

type logProxy struct{ logger slog.Logger }

func (p *logProxy) Forward(ev depotagent.Event) {
	p.logger.Debug(context.Background(), "forward", slog.F("kind", ev.Kind().String()))
}

// chunkExecutor is a placeholder Executor that simulates a Put consuming
// one chunk from a random owner's pool and every other request as a
// free read, demonstrating how a real depot would drive ChunkTracker
// from query execution.
type chunkExecutor struct {
	logger  slog.Logger
	tracker *pdisk.ChunkTracker
	owners  []pdisk.OwnerID
}

func (e *chunkExecutor) Execute(ctx context.Context, q *depotagent.Query) {
	if q.Kind() != depotagent.KindPut || len(e.owners) == 0 {
		q.EndWithSuccess(nil)
		return
	}
	owner := e.owners[rand.Intn(len(e.owners))] //nolint:gosec
	if ok, reason := e.tracker.TryAllocate(owner, 1); !ok {
		q.EndWithError(depotagent.StatusError, reason)
		return
	}
	q.EndWithSuccess(nil)
}
