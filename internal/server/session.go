package server

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lrg1763/BarterswapWeb/internal/metrics"
	"github.com/lrg1763/BarterswapWeb/internal/presence"
	"github.com/lrg1763/BarterswapWeb/pkg/state"
)

// session phases. Transitions only move forward:
// connecting -> authenticated -> active -> closing -> closed.
type sessionPhase int32

const (
	phaseConnecting sessionPhase = iota
	phaseAuthenticated
	phaseActive
	phaseClosing
	phaseClosed
)

// session supervises one connection from upgrade to teardown: it drives
// the presence transitions and the heartbeat timer, and guarantees
// cleanup runs exactly once whether the closure was graceful or caused
// by a transport error.
type session struct {
	conn      *state.Connection
	registry  state.Registry
	presence  *presence.Tracker
	metrics   *metrics.Metrics
	heartbeat time.Duration
	logger    *slog.Logger

	phase atomic.Int32
}

func newSession(logger *slog.Logger, conn *state.Connection, registry state.Registry, tracker *presence.Tracker, m *metrics.Metrics, heartbeat time.Duration) *session {
	s := &session{
		conn:      conn,
		registry:  registry,
		presence:  tracker,
		metrics:   m,
		heartbeat: heartbeat,
		logger:    logger,
	}
	s.phase.Store(int32(phaseAuthenticated))
	return s
}

// activate marks the user online and starts the heartbeat. The room join
// already happened synchronously during association, so other handlers
// never observe a joined-but-offline gap in the in-memory state.
func (s *session) activate(ctx context.Context) {
	userID := s.conn.User.ID

	s.metrics.ConnOpened()
	if count, _ := s.registry.GetUserConnectionCount(userID); count == 1 {
		s.metrics.UserOnline()
	}

	// Broadcast on every new connection, not just offline->online
	// transitions; consumers use it as a liveness signal.
	s.presence.MarkOnline(ctx, userID)

	go s.heartbeatLoop(ctx, userID)
	s.phase.Store(int32(phaseActive))
}

func (s *session) heartbeatLoop(ctx context.Context, userID int64) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Refresh failures are logged inside the tracker and never
			// terminate the connection.
			s.presence.RefreshLastSeen(ctx, userID)
		case <-s.conn.Transport.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

// teardown runs on connection closure of any kind. It leaves the rooms,
// and if this was the user's last open connection, flips them offline.
func (s *session) teardown(closeErr error) {
	if !s.phase.CompareAndSwap(int32(phaseActive), int32(phaseClosing)) {
		return
	}
	defer s.phase.Store(int32(phaseClosed))

	s.metrics.ConnClosed()
	s.logger.Info("Connection closing", slog.Any("reason", closeErr))

	departure, err := s.registry.DeregisterConnection(s.conn.ID)
	if err != nil {
		s.logger.Error("Failed to deregister connection from state", slog.Any("error", err))
		return
	}
	if departure == nil {
		return
	}

	if departure.LastConnection {
		// The connection context is already cancelled here; presence writes
		// get their own short deadline.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.metrics.UserOffline()
		s.presence.MarkOffline(ctx, departure.UserID)
	} else {
		s.logger.Debug("User still online on another connection", slog.Int64("userID", departure.UserID))
	}
}
