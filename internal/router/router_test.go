package router_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/lrg1763/BarterswapWeb/internal/cache"
	"github.com/lrg1763/BarterswapWeb/internal/chat"
	"github.com/lrg1763/BarterswapWeb/internal/presence"
	"github.com/lrg1763/BarterswapWeb/internal/router"
	"github.com/lrg1763/BarterswapWeb/internal/store"
	"github.com/lrg1763/BarterswapWeb/pkg/config"
	"github.com/lrg1763/BarterswapWeb/pkg/state/statemanager"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeTransport struct {
	id   uuid.UUID
	mu   sync.Mutex
	sent [][]byte
	done chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{id: uuid.New(), done: make(chan struct{})}
}

func (f *fakeTransport) ID() uuid.UUID         { return f.id }
func (f *fakeTransport) Close(err error)       {}
func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) Send(payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
}

func (f *fakeTransport) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, p := range f.sent {
		names = append(names, gjson.GetBytes(p, "event").String())
	}
	return names
}

func (f *fakeTransport) lastPayload(event string) gjson.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result gjson.Result
	for _, p := range f.sent {
		if gjson.GetBytes(p, "event").String() == event {
			result = gjson.GetBytes(p, "payload")
		}
	}
	return result
}

type fakeUserStore struct {
	users map[int64]*store.User
}

func (f *fakeUserStore) UserByID(ctx context.Context, id int64) (*store.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

type fakeBlockStore struct{ blocked bool }

func (f *fakeBlockStore) Blocked(ctx context.Context, userA, userB int64) (bool, error) {
	return f.blocked, nil
}

type fakeMessageStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*store.Message
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{nextID: 1, rows: make(map[int64]*store.Message)}
}

func (f *fakeMessageStore) CreateMessage(ctx context.Context, senderID, receiverID int64, content string) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := &store.Message{ID: f.nextID, SenderID: senderID, ReceiverID: receiverID, Content: content, Timestamp: time.Now()}
	f.rows[msg.ID] = msg
	f.nextID++
	return msg, nil
}

func (f *fakeMessageStore) MessageByID(ctx context.Context, id int64) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *msg
	return &copied, nil
}

func (f *fakeMessageStore) UpdateContent(ctx context.Context, id int64, content string, editedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.rows[id]
	if !ok {
		return store.ErrNotFound
	}
	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &editedAt
	return nil
}

func (f *fakeMessageStore) SoftDelete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.rows[id]
	if !ok {
		return store.ErrNotFound
	}
	msg.IsDeleted = true
	return nil
}

func (f *fakeMessageStore) CountUnread(ctx context.Context, receiverID, senderID int64) (int, error) {
	return 0, nil
}

type fakePresenceStore struct {
	mu        sync.Mutex
	lastSeen  map[int64]time.Time
	onlineSet map[int64]bool
}

func newFakePresenceStore() *fakePresenceStore {
	return &fakePresenceStore{lastSeen: make(map[int64]time.Time), onlineSet: make(map[int64]bool)}
}

func (f *fakePresenceStore) SetOnline(ctx context.Context, userID int64, online bool, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onlineSet[userID] = online
	f.lastSeen[userID] = lastSeen
	return nil
}

func (f *fakePresenceStore) TouchLastSeen(ctx context.Context, userID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSeen[userID] = at
	return nil
}

func (f *fakePresenceStore) StaleOnline(ctx context.Context, cutoff time.Time) ([]int64, error) {
	return nil, nil
}

func (f *fakePresenceStore) touched(userID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.lastSeen[userID]
	return ok
}

type fixture struct {
	router   *router.EventRouter
	registry *statemanager.InMemoryRegistry
	presence *fakePresenceStore
	messages *fakeMessageStore
	blocks   *fakeBlockStore
	sender   *fakeTransport
	receiver *fakeTransport
}

func newFixture(t *testing.T, rl config.RateLimitConfig) *fixture {
	t.Helper()
	logger := newTestLogger()
	registry := statemanager.NewInMemoryRegistry(logger)

	sender := newFakeTransport()
	receiver := newFakeTransport()
	registry.RegisterConnection(sender, "1.1.1.1")
	registry.RegisterConnection(receiver, "2.2.2.2")
	registry.AssociateUser(sender.ID(), 1, "alice")
	registry.AssociateUser(receiver.ID(), 2, "bob")

	users := &fakeUserStore{users: map[int64]*store.User{
		1: {ID: 1, Username: "alice"},
		2: {ID: 2, Username: "bob"},
	}}
	names := cache.NewNames(logger, users, nil, 0)
	messages := newFakeMessageStore()
	blocks := &fakeBlockStore{}
	presenceStore := newFakePresenceStore()

	pipeline := chat.NewPipeline(logger, messages, blocks, names, registry, nil)
	typing := chat.NewTypingRelay(logger, names, registry)
	tracker := presence.NewTracker(logger, presenceStore, names, registry)

	return &fixture{
		router:   router.NewEventRouter(logger, registry, pipeline, typing, tracker, nil, rl),
		registry: registry,
		presence: presenceStore,
		messages: messages,
		blocks:   blocks,
		sender:   sender,
		receiver: receiver,
	}
}

func (f *fixture) handle(frame string) {
	f.router.HandleMessage(context.Background(), f.sender.ID(), []byte(frame))
}

// --- Dispatch Tests ---

func TestDispatchSendMessage(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})

	f.handle(`{"event":"send_message","payload":{"receiver_id":2,"message":"hi bob"}}`)

	if got := f.receiver.lastPayload("receive_message").Get("content").String(); got != "hi bob" {
		t.Errorf("Receiver should get the message, got %q", got)
	}
	if events := f.sender.events(); len(events) != 1 || events[0] != "message_sent" {
		t.Errorf("Sender should get exactly the ack, got %v", events)
	}
}

func TestDispatchAcceptsStringIDs(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})

	// Clients send ids as either numbers or strings.
	f.handle(`{"event":"send_message","payload":{"receiver_id":"2","message":"hi again"}}`)

	if got := f.receiver.lastPayload("receive_message").Get("content").String(); got != "hi again" {
		t.Errorf("String receiver_id should be accepted, got %q", got)
	}
}

func TestDispatchEditAndDelete(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})
	f.messages.CreateMessage(context.Background(), 1, 2, "original")

	f.handle(`{"event":"edit_message","payload":{"message_id":1,"content":"revised"}}`)
	if got := f.receiver.lastPayload("message_edited").Get("content").String(); got != "revised" {
		t.Errorf("Receiver should see the edit, got %q", got)
	}

	f.handle(`{"event":"delete_message","payload":{"message_id":1}}`)
	if f.receiver.lastPayload("message_deleted").Get("message_id").Int() != 1 {
		t.Error("Receiver should see the deletion")
	}
}

func TestDispatchTyping(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})

	f.handle(`{"event":"typing","payload":{"receiver_id":2,"is_typing":true}}`)

	typing := f.receiver.lastPayload("user_typing")
	if typing.Get("user_id").Int() != 1 || !typing.Get("is_typing").Bool() {
		t.Errorf("Unexpected user_typing payload: %s", typing.Raw)
	}
	if typing.Get("username").String() != "alice" {
		t.Errorf("Typing event should carry the username, got %q", typing.Get("username").String())
	}
}

func TestDispatchTypingInvalidReceiverIsSilent(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})

	f.handle(`{"event":"typing","payload":{"receiver_id":0,"is_typing":true}}`)

	if len(f.sender.events()) != 0 {
		t.Error("Malformed typing must not produce an error event")
	}
	if len(f.receiver.events()) != 0 {
		t.Error("Malformed typing must not reach anyone")
	}
}

func TestDispatchJoinRoom(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})

	f.handle(`{"event":"join_room","payload":{"room_id":"support"}}`)

	if delivered := f.registry.EmitToRoom("support", []byte("x")); delivered != 1 {
		t.Errorf("Connection should be a member of the joined room, got %d deliveries", delivered)
	}
}

func TestDispatchUpdateOnlineStatus(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})

	f.handle(`{"event":"update_online_status","payload":{}}`)

	if !f.presence.touched(1) {
		t.Error("update_online_status should refresh the last-seen timestamp")
	}
}

func TestDispatchUnknownEvent(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})

	f.handle(`{"event":"no_such_event","payload":{}}`)

	if len(f.sender.events()) != 0 {
		t.Error("Unknown events are logged, never answered")
	}
}

func TestDispatchMalformedFrame(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})

	f.handle(`not json at all`)

	if len(f.sender.events()) != 0 {
		t.Error("Malformed frames are dropped without an error event")
	}
}

// --- Error Event Tests ---

func TestErrorEventForValidationFailure(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})

	f.handle(`{"event":"send_message","payload":{"receiver_id":0,"message":"hi"}}`)

	if got := f.sender.lastPayload("error").Get("message").String(); got != "Invalid receiver ID" {
		t.Errorf("Expected validation error message, got %q", got)
	}
}

func TestErrorEventForBlockedPair(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})
	f.blocks.blocked = true

	f.handle(`{"event":"send_message","payload":{"receiver_id":2,"message":"hi"}}`)

	if got := f.sender.lastPayload("error").Get("message").String(); got != "Cannot send message to blocked user" {
		t.Errorf("Expected block error message, got %q", got)
	}
	if len(f.receiver.events()) != 0 {
		t.Error("Blocked send must not reach the receiver")
	}
}

func TestErrorEventForForeignEdit(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})
	f.messages.CreateMessage(context.Background(), 2, 1, "bob's message")

	f.handle(`{"event":"edit_message","payload":{"message_id":1,"content":"hijacked"}}`)

	if got := f.sender.lastPayload("error").Get("message").String(); got != "Unauthorized" {
		t.Errorf("Expected authorization error message, got %q", got)
	}
}

// --- Rate Limit Tests ---

func TestRateLimitCapsEvents(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{Limit: 2, Window: time.Minute})
	f.messages.CreateMessage(context.Background(), 1, 2, "original")

	for i := 0; i < 3; i++ {
		f.handle(`{"event":"edit_message","payload":{"message_id":1,"content":"revision"}}`)
	}

	if got := f.sender.lastPayload("error").Get("message").String(); got != "Too many requests" {
		t.Errorf("Third event in the window should be limited, got %q", got)
	}
}

func TestRateLimitIsPerEvent(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{Limit: 1, Window: time.Minute})

	f.handle(`{"event":"send_message","payload":{"receiver_id":2,"message":"one"}}`)
	f.handle(`{"event":"typing","payload":{"receiver_id":2,"is_typing":true}}`)

	if got := f.sender.lastPayload("error").Raw; got != "" {
		t.Errorf("Distinct events should not share a counter, got error %s", got)
	}
}
