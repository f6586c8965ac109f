package cache

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/lrg1763/BarterswapWeb/internal/store"
)

// Names resolves user ids to usernames through an optional cache layer.
// Presence and typing events carry a username on every emission, so
// resolving through the cache keeps the user store off the hot path.
type Names struct {
	users  store.UserStore
	cache  Cache // nil means store-only
	ttl    time.Duration
	logger *slog.Logger
}

func NewNames(logger *slog.Logger, users store.UserStore, c Cache, ttl time.Duration) *Names {
	return &Names{
		users:  users,
		cache:  c,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "name_resolver")),
	}
}

func nameKey(userID int64) string {
	return "username:" + strconv.FormatInt(userID, 10)
}

// Resolve returns the username for userID, or store.ErrNotFound if no
// such user exists. Cache failures degrade to a store read.
func (n *Names) Resolve(ctx context.Context, userID int64) (string, error) {
	if n.cache != nil {
		name, err := n.cache.Get(ctx, nameKey(userID))
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, ErrMiss) {
			n.logger.Warn("Username cache read failed", slog.Any("error", err))
		}
	}

	user, err := n.users.UserByID(ctx, userID)
	if err != nil {
		return "", err
	}

	if n.cache != nil {
		if err := n.cache.Set(ctx, nameKey(userID), user.Username, n.ttl); err != nil {
			n.logger.Warn("Username cache write failed", slog.Any("error", err))
		}
	}
	return user.Username, nil
}
