package tasks_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/lrg1763/BarterswapWeb/internal/queue"
	"github.com/lrg1763/BarterswapWeb/internal/tasks"
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

type fakePresenceStore struct {
	mu       sync.Mutex
	stale    []int64
	online   map[int64]bool
	lastSeen map[int64]time.Time
}

func newFakePresenceStore(stale ...int64) *fakePresenceStore {
	return &fakePresenceStore{
		stale:    stale,
		online:   make(map[int64]bool),
		lastSeen: make(map[int64]time.Time),
	}
}

func (f *fakePresenceStore) SetOnline(ctx context.Context, userID int64, online bool, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = online
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
	return f.stale, nil
}

func (f *fakePresenceStore) wasFlippedOffline(userID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	online, ok := f.online[userID]
	return ok && !online
}

func (f *fakePresenceStore) touched(userID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.lastSeen[userID]
	return ok
}

type fakeQueueClient struct {
	mu       sync.Mutex
	enqueued []queue.Task
}

func (f *fakeQueueClient) Enqueue(ctx context.Context, t queue.Task, opts ...queue.EnqueueOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, t)
	return "task-id", nil
}

func (f *fakeQueueClient) Close() error { return nil }

func (f *fakeQueueClient) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enqueued)
}

func TestSweepFlipsStaleUsersOffline(t *testing.T) {
	logger := newTestLogger()
	registry := statemanager.NewInMemoryRegistry(logger)

	// An observer is online so the broadcast has somewhere to land.
	observer := newFakeTransport()
	registry.RegisterConnection(observer, "1.1.1.1")
	registry.AssociateUser(observer.ID(), 1, "alice")

	presenceStore := newFakePresenceStore(7)
	sweeper := tasks.NewPresenceSweeper(logger, presenceStore, registry, &fakeQueueClient{}, time.Minute, 90*time.Second)

	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if !presenceStore.wasFlippedOffline(7) {
		t.Error("Stale user without a connection should be flipped offline")
	}

	payloads := observer.received()
	if len(payloads) != 1 {
		t.Fatalf("Expected one user_offline broadcast, got %d", len(payloads))
	}
	if gjson.GetBytes(payloads[0], "event").String() != "user_offline" ||
		gjson.GetBytes(payloads[0], "payload.user_id").Int() != 7 {
		t.Errorf("Unexpected broadcast: %s", payloads[0])
	}
}

func TestSweepSparesLiveConnections(t *testing.T) {
	logger := newTestLogger()
	registry := statemanager.NewInMemoryRegistry(logger)

	// The "stale" user actually has a live connection here; their heartbeat
	// just has not reached the store yet.
	conn := newFakeTransport()
	registry.RegisterConnection(conn, "1.1.1.1")
	registry.AssociateUser(conn.ID(), 7, "carol")

	presenceStore := newFakePresenceStore(7)
	sweeper := tasks.NewPresenceSweeper(logger, presenceStore, registry, &fakeQueueClient{}, time.Minute, 90*time.Second)

	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if presenceStore.wasFlippedOffline(7) {
		t.Error("User with a live connection must not be flipped offline")
	}
	if !presenceStore.touched(7) {
		t.Error("Live user's last-seen should be refreshed instead")
	}
	if len(conn.received()) != 0 {
		t.Error("No broadcast should go out for a spared user")
	}
}

func TestKickoffEnqueuesSweep(t *testing.T) {
	logger := newTestLogger()
	registry := statemanager.NewInMemoryRegistry(logger)
	client := &fakeQueueClient{}
	sweeper := tasks.NewPresenceSweeper(logger, newFakePresenceStore(), registry, client, time.Minute, 90*time.Second)

	if err := sweeper.Kickoff(context.Background()); err != nil {
		t.Fatalf("Kickoff failed: %v", err)
	}
	if client.count() != 1 {
		t.Fatalf("Expected one enqueued task, got %d", client.count())
	}
	if client.enqueued[0].Type != tasks.PresenceSweepTaskType {
		t.Errorf("Unexpected task type %q", client.enqueued[0].Type)
	}
}
