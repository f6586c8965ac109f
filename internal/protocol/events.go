package protocol

import (
	"encoding/json"
	"time"
)

// Client-to-server event names.
const (
	EventSendMessage        = "send_message"
	EventEditMessage        = "edit_message"
	EventDeleteMessage      = "delete_message"
	EventTyping             = "typing"
	EventJoinRoom           = "join_room"
	EventUpdateOnlineStatus = "update_online_status"
)

// Server-to-client event names.
const (
	EventReceiveMessage         = "receive_message"
	EventMessageSent            = "message_sent"
	EventNewMessageNotification = "new_message_notification"
	EventMessageEdited          = "message_edited"
	EventMessageDeleted         = "message_deleted"
	EventUserTyping             = "user_typing"
	EventUserOnline             = "user_online"
	EventUserOffline            = "user_offline"
	EventError                  = "error"
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type ReceiveMessage struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	ReceiverID int64     `json:"receiver_id"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	IsRead     bool      `json:"is_read"`
}

// MessageSent acknowledges a send to the acting connection. The id and
// timestamp are authoritative: the client replaces its provisional entry
// with them rather than merging.
type MessageSent struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

type NewMessageNotification struct {
	SenderName  string `json:"sender_name"`
	Preview     string `json:"preview"`
	UnreadCount int    `json:"unread_count"`
}

type MessageEdited struct {
	MessageID int64     `json:"message_id"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"edited_at"`
}

type MessageDeleted struct {
	MessageID int64 `json:"message_id"`
}

type UserTyping struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

type UserOnline struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

type UserOffline struct {
	UserID int64 `json:"user_id"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

// Encode wraps a payload in the event envelope and marshals it.
func Encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}
