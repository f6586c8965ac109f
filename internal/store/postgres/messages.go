package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lrg1763/BarterswapWeb/internal/store"
)

var _ store.MessageStore = (*Store)(nil)

func (s *Store) CreateMessage(ctx context.Context, senderID, receiverID int64, content string) (*store.Message, error) {
	m := &store.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (sender_id, receiver_id, content, timestamp, is_read, is_edited, is_deleted)
		VALUES ($1, $2, $3, now(), FALSE, FALSE, FALSE)
		RETURNING id, timestamp
	`, senderID, receiverID, content).Scan(&m.ID, &m.Timestamp)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) MessageByID(ctx context.Context, id int64) (*store.Message, error) {
	var m store.Message
	err := s.pool.QueryRow(ctx, `
		SELECT id, sender_id, receiver_id, content, timestamp, is_read, is_edited, edited_at, is_deleted
		FROM messages
		WHERE id = $1
	`, id).Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Timestamp, &m.IsRead, &m.IsEdited, &m.EditedAt, &m.IsDeleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) UpdateContent(ctx context.Context, id int64, content string, editedAt time.Time) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET content = $2, is_edited = TRUE, edited_at = $3
		WHERE id = $1
	`, id, content, editedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SoftDelete(ctx context.Context, id int64) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE messages SET is_deleted = TRUE WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountUnread(ctx context.Context, receiverID, senderID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM messages
		WHERE receiver_id = $1 AND sender_id = $2
		  AND is_read = FALSE AND is_deleted = FALSE
	`, receiverID, senderID).Scan(&count)
	return count, err
}
