package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/lrg1763/BarterswapWeb/internal/cache"
	"github.com/lrg1763/BarterswapWeb/internal/protocol"
	"github.com/lrg1763/BarterswapWeb/internal/store"
	"github.com/lrg1763/BarterswapWeb/pkg/state"
)

// Tracker maintains the persisted online/offline flags and announces
// presence transitions to every other connected user. Presence is
// best-effort: store failures are logged and swallowed, never allowed
// to take down a connection.
type Tracker struct {
	store    store.PresenceStore
	names    *cache.Names
	registry state.Registry
	logger   *slog.Logger
}

func NewTracker(logger *slog.Logger, s store.PresenceStore, names *cache.Names, registry state.Registry) *Tracker {
	return &Tracker{
		store:    s,
		names:    names,
		registry: registry,
		logger:   logger.With(slog.String("component", "presence_tracker")),
	}
}

// MarkOnline flags the user online and broadcasts user_online to everyone
// else. It runs on every completed handshake, including reconnects of an
// already-online user; consumers treat the broadcast as a liveness signal.
func (t *Tracker) MarkOnline(ctx context.Context, userID int64) {
	now := time.Now()
	if err := t.store.SetOnline(ctx, userID, true, now); err != nil {
		t.logger.Error("Failed to persist online status", slog.Int64("userID", userID), slog.Any("error", err))
	}

	username := t.lookupName(ctx, userID)
	payload, err := protocol.Encode(protocol.EventUserOnline, protocol.UserOnline{
		UserID:   userID,
		Username: username,
	})
	if err != nil {
		t.logger.Error("Failed to encode user_online event", slog.Any("error", err))
		return
	}
	t.registry.BroadcastExcept(userID, payload)
	t.logger.Debug("User marked online", slog.Int64("userID", userID))
}

// MarkOffline flags the user offline and broadcasts user_offline. Callers
// invoke it only after the user's last connection has closed.
func (t *Tracker) MarkOffline(ctx context.Context, userID int64) {
	now := time.Now()
	if err := t.store.SetOnline(ctx, userID, false, now); err != nil {
		t.logger.Error("Failed to persist offline status", slog.Int64("userID", userID), slog.Any("error", err))
	}

	payload, err := protocol.Encode(protocol.EventUserOffline, protocol.UserOffline{UserID: userID})
	if err != nil {
		t.logger.Error("Failed to encode user_offline event", slog.Any("error", err))
		return
	}
	t.registry.BroadcastExcept(userID, payload)
	t.logger.Debug("User marked offline", slog.Int64("userID", userID))
}

// RefreshLastSeen bumps the user's last-seen timestamp without touching
// the online flag. Driven by the per-connection heartbeat and by explicit
// update_online_status events.
func (t *Tracker) RefreshLastSeen(ctx context.Context, userID int64) {
	if err := t.store.TouchLastSeen(ctx, userID, time.Now()); err != nil {
		t.logger.Warn("Heartbeat last-seen refresh failed", slog.Int64("userID", userID), slog.Any("error", err))
	}
}

// CurrentlyOnline reports whether the user has at least one open
// connection on this server.
func (t *Tracker) CurrentlyOnline(userID int64) bool {
	count, err := t.registry.GetUserConnectionCount(userID)
	if err != nil {
		return false
	}
	return count > 0
}

func (t *Tracker) lookupName(ctx context.Context, userID int64) string {
	username, err := t.names.Resolve(ctx, userID)
	if err != nil {
		t.logger.Warn("Username lookup failed for presence event", slog.Int64("userID", userID), slog.Any("error", err))
		return "Unknown"
	}
	return username
}
