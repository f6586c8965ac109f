package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/lrg1763/BarterswapWeb/internal/chat"
	"github.com/lrg1763/BarterswapWeb/internal/metrics"
	"github.com/lrg1763/BarterswapWeb/internal/presence"
	"github.com/lrg1763/BarterswapWeb/internal/protocol"
	"github.com/lrg1763/BarterswapWeb/pkg/config"
	"github.com/lrg1763/BarterswapWeb/pkg/state"
)

// EventRouter decodes inbound client frames and dispatches them to the
// message pipeline, the typing relay or the presence tracker. Every
// rejected action produces exactly one error event to the acting client;
// no per-action failure ever terminates the connection.
type EventRouter struct {
	registry state.Registry
	pipeline *chat.Pipeline
	typing   *chat.TypingRelay
	presence *presence.Tracker
	limiter  *rateLimiter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewEventRouter(
	logger *slog.Logger,
	registry state.Registry,
	pipeline *chat.Pipeline,
	typing *chat.TypingRelay,
	tracker *presence.Tracker,
	m *metrics.Metrics,
	rl config.RateLimitConfig,
) *EventRouter {
	return &EventRouter{
		registry: registry,
		pipeline: pipeline,
		typing:   typing,
		presence: tracker,
		limiter:  newRateLimiter(rl.Limit, rl.Window),
		metrics:  m,
		logger:   logger.With(slog.String("component", "event_router")),
	}
}

func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	var envelope protocol.Envelope
	if err := json.Unmarshal(msg, &envelope); err != nil {
		r.logger.Warn("Failed to unmarshal client frame", slog.String("connID", connID.String()), slog.Any("error", err))
		return
	}

	conn, ok := r.registry.GetConnection(connID)
	if !ok || conn.User == nil {
		r.logger.Error("Received event for untracked connection", slog.String("connID", connID.String()))
		return
	}
	r.metrics.ClientEvent(envelope.Event)

	if !r.limiter.Allow(connID, envelope.Event) {
		r.metrics.ActionError("rate_limit")
		r.sendError(conn, "Too many requests")
		return
	}

	payload := string(envelope.Payload)

	switch envelope.Event {
	case protocol.EventSendMessage:
		// Ids may arrive as JSON numbers or strings; gjson folds both.
		in := chat.SendInput{
			ReceiverID: gjson.Get(payload, "receiver_id").Int(),
			Content:    gjson.Get(payload, "message").String(),
		}
		if err := r.pipeline.Send(ctx, conn, in); err != nil {
			r.reportActionError(conn, err, "Error sending message")
		}

	case protocol.EventEditMessage:
		in := chat.EditInput{
			MessageID: gjson.Get(payload, "message_id").Int(),
			Content:   gjson.Get(payload, "content").String(),
		}
		if err := r.pipeline.Edit(ctx, conn, in); err != nil {
			r.reportActionError(conn, err, "Error editing message")
		}

	case protocol.EventDeleteMessage:
		in := chat.DeleteInput{
			MessageID: gjson.Get(payload, "message_id").Int(),
		}
		if err := r.pipeline.Delete(ctx, conn, in); err != nil {
			r.reportActionError(conn, err, "Error deleting message")
		}

	case protocol.EventTyping:
		r.typing.SetTyping(ctx, conn,
			gjson.Get(payload, "receiver_id").Int(),
			gjson.Get(payload, "is_typing").Bool(),
		)

	case protocol.EventJoinRoom:
		roomID := gjson.Get(payload, "room_id").String()
		if roomID == "" {
			return
		}
		if err := r.registry.JoinRoom(connID, roomID); err != nil {
			r.logger.Warn("Manual room join failed", slog.String("roomID", roomID), slog.Any("error", err))
			return
		}
		r.logger.Debug("Connection joined room", slog.Int64("userID", conn.User.ID), slog.String("roomID", roomID))

	case protocol.EventUpdateOnlineStatus:
		r.presence.RefreshLastSeen(ctx, conn.User.ID)

	default:
		r.logger.Warn("Received unknown event", slog.String("event", envelope.Event), slog.String("connID", connID.String()))
	}
}

// reportActionError maps a pipeline failure to the single error event the
// acting client receives. Typed errors carry their own user-facing
// message; anything else is a store failure reported generically so no
// internal detail leaks.
func (r *EventRouter) reportActionError(conn *state.Connection, err error, generic string) {
	var (
		validation *chat.ValidationError
		authz      *chat.AuthorizationError
		notFound   *chat.NotFoundError
	)
	switch {
	case errors.As(err, &validation):
		r.metrics.ActionError("validation")
		r.sendError(conn, validation.Message)
	case errors.As(err, &authz):
		r.metrics.ActionError("authorization")
		r.sendError(conn, authz.Message)
	case errors.As(err, &notFound):
		r.metrics.ActionError("not_found")
		r.sendError(conn, notFound.Message)
	default:
		r.metrics.ActionError("persistence")
		r.logger.Error("Action failed", slog.Int64("userID", conn.User.ID), slog.Any("error", err))
		r.sendError(conn, generic)
	}
}

func (r *EventRouter) sendError(conn *state.Connection, message string) {
	raw, err := protocol.Encode(protocol.EventError, protocol.ErrorEvent{Message: message})
	if err != nil {
		r.logger.Error("Failed to encode error event", slog.Any("error", err))
		return
	}
	conn.Transport.Send(raw)
}
