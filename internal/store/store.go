package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that a point query matched no row.
var ErrNotFound = errors.New("store: not found")

// User is the slice of the platform's user record the socket server reads
// and whose presence fields it owns.
type User struct {
	ID       int64
	Username string
	IsOnline bool
	LastSeen time.Time
}

// Message rows are owned by the external store; the pipeline is their
// writer. Deleted messages are retained with IsDeleted set and filtered
// by readers.
type Message struct {
	ID         int64
	SenderID   int64
	ReceiverID int64
	Content    string
	Timestamp  time.Time
	IsRead     bool
	IsEdited   bool
	EditedAt   *time.Time
	IsDeleted  bool
}

// UserStore is the user-lookup collaborator.
type UserStore interface {
	UserByID(ctx context.Context, id int64) (*User, error)
}

// BlockStore exposes the block relation, read-only.
type BlockStore interface {
	// Blocked reports whether a block exists between the two users in
	// either direction. A block in one direction suspends messaging in both.
	Blocked(ctx context.Context, userA, userB int64) (bool, error)
}

// MessageStore is the message persistence collaborator. All operations
// are single-row point queries or writes.
type MessageStore interface {
	// CreateMessage persists a new message and returns it with the
	// server-assigned id and timestamp.
	CreateMessage(ctx context.Context, senderID, receiverID int64, content string) (*Message, error)
	// MessageByID returns the message regardless of its deleted flag, so
	// callers can distinguish "absent" from "soft-deleted".
	MessageByID(ctx context.Context, id int64) (*Message, error)
	UpdateContent(ctx context.Context, id int64, content string, editedAt time.Time) error
	SoftDelete(ctx context.Context, id int64) error
	// CountUnread counts unread, undeleted messages from sender to receiver.
	CountUnread(ctx context.Context, receiverID, senderID int64) (int, error)
}

// PresenceStore persists the online flag and last-seen timestamp. The
// socket server is the sole writer of the online flag.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID int64, online bool, lastSeen time.Time) error
	TouchLastSeen(ctx context.Context, userID int64, at time.Time) error
	// StaleOnline lists users flagged online whose last-seen is older than
	// the cutoff. Used by the presence sweep to repair crashed sessions.
	StaleOnline(ctx context.Context, cutoff time.Time) ([]int64, error)
}
