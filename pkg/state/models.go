package state

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Transport is the send side of a live connection. Satisfied by
// *transport.Connection.
type Transport interface {
	ID() uuid.UUID
	Send(payload []byte)
	Close(err error)
	Done() <-chan struct{}
}

// representation of a single transport-layer connection.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	Transport Transport           // The actual connection for sending messages
	User      *User               // Pointer to the owning user (nil until associated)
	Rooms     map[string]struct{} // Room ids this connection is subscribed to
	CreatedAt time.Time
}

// canonical representation of a user, aggregating all their connections.
// A user stays present in the registry only while at least one of their
// connections is open.
type User struct {
	ID          int64
	Username    string
	Connections map[uuid.UUID]*Connection // All active connections for this user
}

// canonical representation of a logical channel. Every authenticated user
// gets a personal room (see UserRoom) that all their devices subscribe to.
type Room struct {
	ID      string
	Members map[uuid.UUID]*Connection // Subscribed connections, keyed by connection id
}

// Departure reports the outcome of deregistering a connection.
// LastConnection signals that the owning user now has zero open
// connections, which is the trigger for marking them offline.
type Departure struct {
	UserID         int64
	Username       string
	LastConnection bool
}

// UserRoom returns the id of a user's personal room.
func UserRoom(userID int64) string {
	return "user_" + strconv.FormatInt(userID, 10)
}
