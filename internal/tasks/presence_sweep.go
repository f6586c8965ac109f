package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/lrg1763/BarterswapWeb/internal/protocol"
	"github.com/lrg1763/BarterswapWeb/internal/queue"
	"github.com/lrg1763/BarterswapWeb/internal/store"
	"github.com/lrg1763/BarterswapWeb/pkg/state"
)

// PresenceSweepTaskType is the queue task name for the stale-presence sweep.
const PresenceSweepTaskType = "presence:sweep"

// PresenceSweeper repairs presence records left behind by sessions that
// died without a clean disconnect: users still flagged online whose
// heartbeat stopped are flipped offline and announced as such. The task
// re-enqueues itself, so one kickoff keeps the sweep running.
type PresenceSweeper struct {
	store      store.PresenceStore
	registry   state.Registry
	client     queue.Client
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
}

func NewPresenceSweeper(logger *slog.Logger, s store.PresenceStore, registry state.Registry, client queue.Client, interval, staleAfter time.Duration) *PresenceSweeper {
	return &PresenceSweeper{
		store:      s,
		registry:   registry,
		client:     client,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger.With(slog.String("component", "presence_sweeper")),
	}
}

// Register binds the sweep handler to the queue server.
func (p *PresenceSweeper) Register(srv queue.Server) {
	srv.Register(PresenceSweepTaskType, func(ctx context.Context, _ queue.Task) error {
		if err := p.Sweep(ctx); err != nil {
			// Sweep failures are retried on the next tick rather than through
			// the queue's retry machinery.
			p.logger.Error("Presence sweep failed", slog.Any("error", err))
		}
		return p.enqueueNext(ctx)
	})
}

// Kickoff schedules the first sweep. UniqueTTL keeps restarts from
// stacking duplicate chains.
func (p *PresenceSweeper) Kickoff(ctx context.Context) error {
	_, err := p.client.Enqueue(ctx, queue.Task{Type: PresenceSweepTaskType}, queue.EnqueueOption{
		ProcessIn: p.interval,
		UniqueTTL: p.interval,
	})
	return err
}

func (p *PresenceSweeper) enqueueNext(ctx context.Context) error {
	_, err := p.client.Enqueue(ctx, queue.Task{Type: PresenceSweepTaskType}, queue.EnqueueOption{
		ProcessIn: p.interval,
		UniqueTTL: p.interval,
	})
	if err != nil {
		p.logger.Error("Failed to re-enqueue presence sweep", slog.Any("error", err))
	}
	return err
}

// Sweep flips stale online users offline. A user with a live local
// connection only gets their last-seen refreshed; their heartbeat will
// take over again.
func (p *PresenceSweeper) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-p.staleAfter)
	ids, err := p.store.StaleOnline(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, userID := range ids {
		if count, _ := p.registry.GetUserConnectionCount(userID); count > 0 {
			if err := p.store.TouchLastSeen(ctx, userID, time.Now()); err != nil {
				p.logger.Warn("Failed to refresh last-seen for live user", slog.Int64("userID", userID), slog.Any("error", err))
			}
			continue
		}

		if err := p.store.SetOnline(ctx, userID, false, time.Now()); err != nil {
			p.logger.Error("Failed to mark stale user offline", slog.Int64("userID", userID), slog.Any("error", err))
			continue
		}

		payload, err := protocol.Encode(protocol.EventUserOffline, protocol.UserOffline{UserID: userID})
		if err != nil {
			p.logger.Error("Failed to encode user_offline event", slog.Any("error", err))
			continue
		}
		p.registry.BroadcastExcept(userID, payload)
		p.logger.Info("Swept stale user offline", slog.Int64("userID", userID))
	}
	return nil
}
