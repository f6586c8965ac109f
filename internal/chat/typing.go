package chat

import (
	"context"
	"log/slog"

	"github.com/lrg1763/BarterswapWeb/internal/cache"
	"github.com/lrg1763/BarterswapWeb/internal/protocol"
	"github.com/lrg1763/BarterswapWeb/pkg/state"
)

// TypingRelay propagates ephemeral typing indicators. Nothing is
// persisted and nothing is debounced server-side: the client contract is
// to emit is_typing:false after 3 seconds of inactivity or on send, and
// receivers treat an indicator with no follow-up in that window as
// expired.
type TypingRelay struct {
	names    *cache.Names
	registry state.Registry
	logger   *slog.Logger
}

func NewTypingRelay(logger *slog.Logger, names *cache.Names, registry state.Registry) *TypingRelay {
	return &TypingRelay{
		names:    names,
		registry: registry,
		logger:   logger.With(slog.String("component", "typing_relay")),
	}
}

// SetTyping emits user_typing into the target user's room. Typing is
// best-effort: a malformed target or any internal failure is dropped
// silently rather than surfaced as a user-visible error.
func (r *TypingRelay) SetTyping(ctx context.Context, conn *state.Connection, receiverID int64, isTyping bool) {
	if receiverID <= 0 {
		return
	}

	username, err := r.names.Resolve(ctx, conn.User.ID)
	if err != nil {
		r.logger.Debug("Username lookup failed for typing event", slog.Any("error", err))
		username = conn.User.Username
	}

	payload, err := protocol.Encode(protocol.EventUserTyping, protocol.UserTyping{
		UserID:   conn.User.ID,
		Username: username,
		IsTyping: isTyping,
	})
	if err != nil {
		r.logger.Error("Failed to encode user_typing event", slog.Any("error", err))
		return
	}
	r.registry.EmitToUser(receiverID, payload)
}
