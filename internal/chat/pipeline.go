package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/lrg1763/BarterswapWeb/internal/cache"
	"github.com/lrg1763/BarterswapWeb/internal/metrics"
	"github.com/lrg1763/BarterswapWeb/internal/protocol"
	"github.com/lrg1763/BarterswapWeb/internal/store"
	"github.com/lrg1763/BarterswapWeb/pkg/state"
)

const (
	// MaxContentLength is the message content cap in code points.
	MaxContentLength = 2000
	// previewLength bounds the notification preview, in code points.
	previewLength = 50
)

// Pipeline validates, persists and fans out messages, edits and
// deletions. Fan-out is room-scoped: only the two participants' rooms
// ever see a message, which preserves the block-list decision made at
// send time.
type Pipeline struct {
	messages store.MessageStore
	blocks   store.BlockStore
	names    *cache.Names
	registry state.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewPipeline(logger *slog.Logger, messages store.MessageStore, blocks store.BlockStore, names *cache.Names, registry state.Registry, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		messages: messages,
		blocks:   blocks,
		names:    names,
		registry: registry,
		metrics:  m,
		logger:   logger.With(slog.String("component", "message_pipeline")),
	}
}

type SendInput struct {
	ReceiverID int64
	Content    string
}

type EditInput struct {
	MessageID int64
	Content   string
}

type DeleteInput struct {
	MessageID int64
}

// Send runs the full pipeline for a new message: validate, block check,
// persist, then emit receive_message to the receiver's room, message_sent
// to the acting connection, and new_message_notification to the receiver.
// Validation and authorization failures have no side effects.
func (p *Pipeline) Send(ctx context.Context, conn *state.Connection, in SendInput) error {
	senderID := conn.User.ID

	if in.ReceiverID <= 0 {
		return &ValidationError{Message: "Invalid receiver ID"}
	}
	if length := utf8.RuneCountInString(in.Content); length == 0 || length > MaxContentLength {
		return &ValidationError{Message: "Invalid message data"}
	}

	blocked, err := p.blocks.Blocked(ctx, senderID, in.ReceiverID)
	if err != nil {
		return fmt.Errorf("block check: %w", err)
	}
	if blocked {
		return &AuthorizationError{Message: "Cannot send message to blocked user"}
	}

	msg, err := p.messages.CreateMessage(ctx, senderID, in.ReceiverID, in.Content)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	p.metrics.MessageSent()

	senderName := p.senderName(ctx, senderID, conn.User.Username)

	p.emitToUser(in.ReceiverID, protocol.EventReceiveMessage, protocol.ReceiveMessage{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		SenderName: senderName,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		Timestamp:  msg.Timestamp,
		IsRead:     false,
	})

	// Ack only the acting connection so the client can reconcile its
	// provisional message with the authoritative id and timestamp.
	p.emitToConn(conn, protocol.EventMessageSent, protocol.MessageSent{
		ID:        msg.ID,
		Timestamp: msg.Timestamp,
	})

	unread, err := p.messages.CountUnread(ctx, in.ReceiverID, senderID)
	if err != nil {
		// The message is already durable and delivered; a failed badge count
		// is not worth an error event.
		p.logger.Warn("Unread count failed after send", slog.Any("error", err))
		return nil
	}
	p.emitToUser(in.ReceiverID, protocol.EventNewMessageNotification, protocol.NewMessageNotification{
		SenderName:  senderName,
		Preview:     preview(in.Content),
		UnreadCount: unread,
	})

	p.logger.Debug("Message delivered",
		slog.Int64("messageID", msg.ID),
		slog.Int64("senderID", senderID),
		slog.Int64("receiverID", in.ReceiverID),
	)
	return nil
}

// Edit updates a message's content. Only the original sender may edit,
// and a soft-deleted message is treated as absent. Both participants'
// rooms receive message_edited.
func (p *Pipeline) Edit(ctx context.Context, conn *state.Connection, in EditInput) error {
	if length := utf8.RuneCountInString(in.Content); length == 0 || length > MaxContentLength {
		return &ValidationError{Message: "Invalid message content"}
	}

	msg, err := p.loadOwned(ctx, conn.User.ID, in.MessageID)
	if err != nil {
		return err
	}
	if msg.IsDeleted {
		return &NotFoundError{Message: "Message not found"}
	}

	editedAt := time.Now()
	if err := p.messages.UpdateContent(ctx, msg.ID, in.Content, editedAt); err != nil {
		return fmt.Errorf("update content: %w", err)
	}

	event := protocol.MessageEdited{
		MessageID: msg.ID,
		Content:   in.Content,
		EditedAt:  editedAt,
	}
	p.emitToUser(msg.SenderID, protocol.EventMessageEdited, event)
	p.emitToUser(msg.ReceiverID, protocol.EventMessageEdited, event)

	p.logger.Debug("Message edited", slog.Int64("messageID", msg.ID))
	return nil
}

// Delete flips the message's soft-delete flag. Content is retained in
// storage; readers filter deleted rows. Deleting an already-deleted
// message succeeds again at the flag level.
func (p *Pipeline) Delete(ctx context.Context, conn *state.Connection, in DeleteInput) error {
	msg, err := p.loadOwned(ctx, conn.User.ID, in.MessageID)
	if err != nil {
		return err
	}

	if err := p.messages.SoftDelete(ctx, msg.ID); err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}

	event := protocol.MessageDeleted{MessageID: msg.ID}
	p.emitToUser(msg.SenderID, protocol.EventMessageDeleted, event)
	p.emitToUser(msg.ReceiverID, protocol.EventMessageDeleted, event)

	p.logger.Debug("Message deleted", slog.Int64("messageID", msg.ID))
	return nil
}

// loadOwned fetches a message and enforces the ownership gate shared by
// Edit and Delete.
func (p *Pipeline) loadOwned(ctx context.Context, requesterID, messageID int64) (*store.Message, error) {
	if messageID <= 0 {
		return nil, &ValidationError{Message: "Invalid message ID"}
	}
	msg, err := p.messages.MessageByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Message: "Message not found"}
		}
		return nil, fmt.Errorf("load message: %w", err)
	}
	if msg.SenderID != requesterID {
		return nil, &AuthorizationError{Message: "Unauthorized"}
	}
	return msg, nil
}

func (p *Pipeline) senderName(ctx context.Context, senderID int64, fallback string) string {
	name, err := p.names.Resolve(ctx, senderID)
	if err != nil || name == "" {
		p.logger.Warn("Sender name lookup failed", slog.Int64("senderID", senderID), slog.Any("error", err))
		if fallback != "" {
			return fallback
		}
		return "Unknown"
	}
	return name
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength])
}

func (p *Pipeline) emitToUser(userID int64, event string, payload any) {
	raw, err := protocol.Encode(event, payload)
	if err != nil {
		p.logger.Error("Failed to encode event", slog.String("event", event), slog.Any("error", err))
		return
	}
	p.registry.EmitToUser(userID, raw)
}

func (p *Pipeline) emitToConn(conn *state.Connection, event string, payload any) {
	raw, err := protocol.Encode(event, payload)
	if err != nil {
		p.logger.Error("Failed to encode event", slog.String("event", event), slog.Any("error", err))
		return
	}
	conn.Transport.Send(raw)
}
