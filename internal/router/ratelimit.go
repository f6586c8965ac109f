package router

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type limiterWindow struct {
	requests int
	timer    *time.Timer
}

// rateLimiter enforces a fixed-window cap on events per connection.
// Windows clean themselves up via time.AfterFunc, so idle connections
// hold no limiter state.
type rateLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*limiterWindow
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	return &rateLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string]*limiterWindow),
	}
}

// Allow reports whether the connection may emit another event of this
// name within the current window. A nil limiter allows everything.
func (l *rateLimiter) Allow(connID uuid.UUID, event string) bool {
	if l == nil {
		return true
	}
	key := connID.String() + ":" + event

	l.mu.Lock()
	defer l.mu.Unlock()

	w, found := l.windows[key]
	if !found {
		w = &limiterWindow{requests: 1}
		w.timer = time.AfterFunc(l.window, func() {
			l.mu.Lock()
			delete(l.windows, key)
			l.mu.Unlock()
		})
		l.windows[key] = w
		return true
	}

	if w.requests < l.limit {
		w.requests++
		return true
	}
	return false
}
