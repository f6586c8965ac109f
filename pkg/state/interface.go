package state

import (
	"github.com/google/uuid"
)

type Registry interface {
	// --- Connection Lifecycle ---
	RegisterConnection(conn Transport, ipAddr string) (*Connection, error)
	// DeregisterConnection removes the connection from every room and from
	// its owning user. The returned Departure is nil when the connection was
	// never associated with a user.
	DeregisterConnection(connID uuid.UUID) (*Departure, error)
	GetConnection(connID uuid.UUID) (*Connection, bool)
	// GetAllConnections lists every registered connection, including those
	// not yet associated with a user. Shutdown closes through this so a
	// mid-handshake connection cannot be orphaned.
	GetAllConnections() ([]*Connection, error)
	FindOldestUserConnection(userID int64) (*Connection, bool)

	// --- User Management ---
	// AssociateUser links a connection to a user, creating the user entry if
	// absent, and subscribes the connection to the user's personal room.
	AssociateUser(connID uuid.UUID, userID int64, username string) (*User, error)
	FindUser(userID int64) (*User, bool)
	GetUserConnectionCount(userID int64) (int, error)
	GetAllUsers() ([]*User, error)

	// --- Room Membership ---
	JoinRoom(connID uuid.UUID, roomID string) error
	LeaveRoom(connID uuid.UUID, roomID string) error

	// --- Delivery ---
	// EmitToRoom delivers payload to every connection in the room. Emitting
	// to an unknown room is a silent no-op; the count of reached connections
	// is returned.
	EmitToRoom(roomID string, payload []byte) int
	// EmitToUser delivers to every open connection of the user.
	EmitToUser(userID int64, payload []byte) int
	// BroadcastExcept delivers to every connection of every user except the
	// named one. Used for presence announcements.
	BroadcastExcept(userID int64, payload []byte) int
}
