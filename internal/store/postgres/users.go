package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lrg1763/BarterswapWeb/internal/store"
)

var _ store.UserStore = (*Store)(nil)
var _ store.BlockStore = (*Store)(nil)
var _ store.PresenceStore = (*Store)(nil)

func (s *Store) UserByID(ctx context.Context, id int64) (*store.User, error) {
	var u store.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, is_online, last_seen
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Username, &u.IsOnline, &u.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) Blocked(ctx context.Context, userA, userB int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM blocks
			WHERE (blocker_id = $1 AND blocked_id = $2)
			   OR (blocker_id = $2 AND blocked_id = $1)
		)
	`, userA, userB).Scan(&exists)
	return exists, err
}

func (s *Store) SetOnline(ctx context.Context, userID int64, online bool, lastSeen time.Time) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE users SET is_online = $2, last_seen = $3 WHERE id = $1
	`, userID, online, lastSeen)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) TouchLastSeen(ctx context.Context, userID int64, at time.Time) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE users SET last_seen = $2 WHERE id = $1
	`, userID, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) StaleOnline(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM users
		WHERE is_online = TRUE AND last_seen < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
