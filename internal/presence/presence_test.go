package presence_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/lrg1763/BarterswapWeb/internal/cache"
	"github.com/lrg1763/BarterswapWeb/internal/presence"
	"github.com/lrg1763/BarterswapWeb/internal/store"
	"github.com/lrg1763/BarterswapWeb/pkg/state/statemanager"
)

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

func (f *fakeTransport) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
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

type fakePresenceStore struct {
	mu       sync.Mutex
	online   map[int64]bool
	lastSeen map[int64]time.Time
	err      error
}

func newFakePresenceStore() *fakePresenceStore {
	return &fakePresenceStore{online: make(map[int64]bool), lastSeen: make(map[int64]time.Time)}
}

func (f *fakePresenceStore) SetOnline(ctx context.Context, userID int64, online bool, lastSeen time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = online
	f.lastSeen[userID] = lastSeen
	return nil
}

func (f *fakePresenceStore) TouchLastSeen(ctx context.Context, userID int64, at time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSeen[userID] = at
	return nil
}

func (f *fakePresenceStore) StaleOnline(ctx context.Context, cutoff time.Time) ([]int64, error) {
	return nil, nil
}

func (f *fakePresenceStore) isOnline(userID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID]
}

type fixture struct {
	tracker *presence.Tracker
	store   *fakePresenceStore
	alice   *fakeTransport
	bob     *fakeTransport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := newTestLogger()
	registry := statemanager.NewInMemoryRegistry(logger)

	alice := newFakeTransport()
	bob := newFakeTransport()
	registry.RegisterConnection(alice, "1.1.1.1")
	registry.RegisterConnection(bob, "2.2.2.2")
	registry.AssociateUser(alice.ID(), 1, "alice")
	registry.AssociateUser(bob.ID(), 2, "bob")

	users := &fakeUserStore{users: map[int64]*store.User{
		1: {ID: 1, Username: "alice"},
		2: {ID: 2, Username: "bob"},
	}}
	names := cache.NewNames(logger, users, nil, 0)
	presenceStore := newFakePresenceStore()

	return &fixture{
		tracker: presence.NewTracker(logger, presenceStore, names, registry),
		store:   presenceStore,
		alice:   alice,
		bob:     bob,
	}
}

func TestMarkOnlineBroadcastsToOthersOnly(t *testing.T) {
	f := newFixture(t)

	f.tracker.MarkOnline(context.Background(), 1)

	if !f.store.isOnline(1) {
		t.Error("Online flag should be persisted")
	}

	bobPayloads := f.bob.received()
	if len(bobPayloads) != 1 {
		t.Fatalf("Other users should get exactly one user_online, got %d", len(bobPayloads))
	}
	event := gjson.GetBytes(bobPayloads[0], "event").String()
	payload := gjson.GetBytes(bobPayloads[0], "payload")
	if event != "user_online" || payload.Get("user_id").Int() != 1 {
		t.Errorf("Unexpected broadcast: %s", bobPayloads[0])
	}
	if payload.Get("username").String() != "alice" {
		t.Errorf("Broadcast should carry the username, got %q", payload.Get("username").String())
	}

	if len(f.alice.received()) != 0 {
		t.Error("The user coming online must not receive their own announcement")
	}
}

func TestMarkOfflineBroadcast(t *testing.T) {
	f := newFixture(t)

	f.tracker.MarkOffline(context.Background(), 1)

	if f.store.isOnline(1) {
		t.Error("Offline flag should be persisted")
	}
	bobPayloads := f.bob.received()
	if len(bobPayloads) != 1 || gjson.GetBytes(bobPayloads[0], "event").String() != "user_offline" {
		t.Fatalf("Other users should get user_offline, got %v", bobPayloads)
	}
}

func TestMarkOnlineSurvivesStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.err = errors.New("db down")

	// A presence store outage degrades to broadcast-only.
	f.tracker.MarkOnline(context.Background(), 1)

	if len(f.bob.received()) != 1 {
		t.Error("Broadcast should still go out when the store write fails")
	}
}

func TestCurrentlyOnline(t *testing.T) {
	f := newFixture(t)

	if !f.tracker.CurrentlyOnline(1) {
		t.Error("User with an open connection should report online")
	}
	if f.tracker.CurrentlyOnline(99) {
		t.Error("Unconnected user should not report online")
	}
}

func TestRefreshLastSeen(t *testing.T) {
	f := newFixture(t)

	f.tracker.RefreshLastSeen(context.Background(), 1)

	f.store.mu.Lock()
	_, ok := f.store.lastSeen[1]
	f.store.mu.Unlock()
	if !ok {
		t.Error("RefreshLastSeen should write a last-seen timestamp")
	}
}
