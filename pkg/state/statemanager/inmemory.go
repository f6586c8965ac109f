package statemanager

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lrg1763/BarterswapWeb/pkg/state"
	"github.com/google/uuid"
)

// InMemoryRegistry keeps all connection, user and room state behind a
// single mutex. Delivery methods collect transports under the lock and
// write after releasing it, so a send that trips a connection teardown
// cannot re-enter the registry while it is held.
type InMemoryRegistry struct {
	conns map[uuid.UUID]*state.Connection
	users map[int64]*state.User
	rooms map[string]*state.Room

	mu sync.RWMutex

	logger *slog.Logger
}

func NewInMemoryRegistry(logger *slog.Logger) *InMemoryRegistry {
	return &InMemoryRegistry{
		conns:  make(map[uuid.UUID]*state.Connection),
		users:  make(map[int64]*state.User),
		rooms:  make(map[string]*state.Room),
		logger: logger.With(slog.String("component", "state_registry")),
	}
}

// compile-time check to ensure InMemoryRegistry implements Registry.
var _ state.Registry = (*InMemoryRegistry)(nil)

func (m *InMemoryRegistry) RegisterConnection(conn state.Transport, ipAddr string) (*state.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connID := conn.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, errors.New("connection is already registered")
	}
	newConn := &state.Connection{
		ID:        connID,
		IPAddress: ipAddr,
		Transport: conn,
		Rooms:     make(map[string]struct{}),
		CreatedAt: time.Now(),
	}
	m.conns[connID] = newConn
	m.logger.Debug("Connection registered", slog.String("connID", connID.String()))
	return newConn, nil
}

func (m *InMemoryRegistry) DeregisterConnection(connID uuid.UUID) (*state.Departure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		// connection is already deregistered
		return nil, nil
	}
	delete(m.conns, connID)

	for roomID := range conn.Rooms {
		m.leaveRoomLocked(conn, roomID)
	}

	if conn.User == nil {
		m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
		return nil, nil
	}

	user := conn.User
	delete(user.Connections, connID)
	departure := &state.Departure{
		UserID:         user.ID,
		Username:       user.Username,
		LastConnection: len(user.Connections) == 0,
	}
	if departure.LastConnection {
		delete(m.users, user.ID)
	}
	m.logger.Debug("Connection deregistered",
		slog.String("connID", connID.String()),
		slog.Int64("userID", user.ID),
		slog.Bool("last", departure.LastConnection),
	)
	return departure, nil
}

func (m *InMemoryRegistry) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryRegistry) GetAllConnections() ([]*state.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*state.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns, nil
}

func (m *InMemoryRegistry) FindOldestUserConnection(userID int64) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, false
	}

	var oldestConn *state.Connection
	var oldestTime time.Time

	for _, conn := range user.Connections {
		if oldestConn == nil || conn.CreatedAt.Before(oldestTime) {
			oldestConn = conn
			oldestTime = conn.CreatedAt
		}
	}

	if oldestConn == nil {
		return nil, false
	}
	return oldestConn, true
}

// --- User Management ---

func (m *InMemoryRegistry) AssociateUser(connID uuid.UUID, userID int64, username string) (*state.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return nil, errors.New("cannot associate user with unknown connection")
	}

	user, exists := m.users[userID]
	if !exists {
		user = &state.User{
			ID:          userID,
			Username:    username,
			Connections: make(map[uuid.UUID]*state.Connection),
		}
		m.users[userID] = user
		m.logger.Debug("Created user session", slog.Int64("userID", userID))
	}
	if username != "" {
		user.Username = username
	}

	conn.User = user
	user.Connections[connID] = conn

	// Every device of a user subscribes to the same personal room.
	m.joinRoomLocked(conn, state.UserRoom(userID))

	m.logger.Debug("Associated connection with user", slog.String("connID", connID.String()), slog.Int64("userID", userID))
	return user, nil
}

func (m *InMemoryRegistry) FindUser(userID int64) (*state.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[userID]
	return user, ok
}

func (m *InMemoryRegistry) GetUserConnectionCount(userID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return 0, nil // User has no open connections.
	}
	return len(user.Connections), nil
}

func (m *InMemoryRegistry) GetAllUsers() ([]*state.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]*state.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	return users, nil
}

// --- Room Membership ---

func (m *InMemoryRegistry) JoinRoom(connID uuid.UUID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return errors.New("cannot join room: connection not found")
	}
	m.joinRoomLocked(conn, roomID)
	return nil
}

func (m *InMemoryRegistry) LeaveRoom(connID uuid.UUID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return errors.New("cannot leave room: connection not found")
	}
	m.leaveRoomLocked(conn, roomID)
	return nil
}

func (m *InMemoryRegistry) joinRoomLocked(conn *state.Connection, roomID string) {
	room, exists := m.rooms[roomID]
	if !exists {
		room = &state.Room{
			ID:      roomID,
			Members: make(map[uuid.UUID]*state.Connection),
		}
		m.rooms[roomID] = room
	}
	room.Members[conn.ID] = conn
	conn.Rooms[roomID] = struct{}{}
	m.logger.Debug("Connection joined room", slog.String("connID", conn.ID.String()), slog.String("roomID", roomID))
}

func (m *InMemoryRegistry) leaveRoomLocked(conn *state.Connection, roomID string) {
	room, ok := m.rooms[roomID]
	if !ok {
		return
	}
	delete(room.Members, conn.ID)
	delete(conn.Rooms, roomID)

	// For memory hygiene, remove the room if it's now empty.
	if len(room.Members) == 0 {
		delete(m.rooms, roomID)
		m.logger.Debug("Removed empty room", slog.String("roomID", roomID))
	}
}

// --- Delivery ---

func (m *InMemoryRegistry) EmitToRoom(roomID string, payload []byte) int {
	m.mu.RLock()
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.RUnlock()
		return 0
	}
	targets := make([]state.Transport, 0, len(room.Members))
	for _, conn := range room.Members {
		targets = append(targets, conn.Transport)
	}
	m.mu.RUnlock()

	for _, t := range targets {
		t.Send(payload)
	}
	return len(targets)
}

func (m *InMemoryRegistry) EmitToUser(userID int64, payload []byte) int {
	return m.EmitToRoom(state.UserRoom(userID), payload)
}

func (m *InMemoryRegistry) BroadcastExcept(userID int64, payload []byte) int {
	m.mu.RLock()
	var targets []state.Transport
	for id, user := range m.users {
		if id == userID {
			continue
		}
		for _, conn := range user.Connections {
			targets = append(targets, conn.Transport)
		}
	}
	m.mu.RUnlock()

	for _, t := range targets {
		t.Send(payload)
	}
	return len(targets)
}
