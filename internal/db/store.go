// Package db keeps the chat history: one row per user or assistant
// message, read back as model context.
package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/servicedesk_bot/backend/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id          BIGSERIAL PRIMARY KEY,
	chat_id     BIGINT      NOT NULL,
	message_id  BIGINT      NOT NULL DEFAULT 0,
	role        TEXT        NOT NULL,
	content     TEXT        NOT NULL,
	user_name   TEXT        NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS chat_messages_chat_created_idx ON chat_messages (chat_id, created_at);
`

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, schema)
	return err
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Append stores messages of one turn atomically.
func (s *Store) Append(ctx context.Context, msgs ...models.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, m := range msgs {
			created := m.CreatedAt
			if created.IsZero() {
				created = time.Now().UTC()
			}
			batch.Queue(`INSERT INTO chat_messages (chat_id, message_id, role, content, user_name, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)`, m.ChatID, m.MessageID, m.Role, m.Content, m.UserName, created)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// Recent returns up to limit messages of a chat newer than since, oldest
// first.
func (s *Store) Recent(ctx context.Context, chatID int64, since time.Time, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 40
	}
	rows, err := s.Pool.Query(ctx, `SELECT chat_id, message_id, role, content, user_name, created_at FROM (
			SELECT id, chat_id, message_id, role, content, user_name, created_at
			FROM chat_messages
			WHERE chat_id = $1 AND created_at > $2
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		) recent ORDER BY created_at ASC, id ASC`, chatID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ChatID, &m.MessageID, &m.Role, &m.Content, &m.UserName, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountByChat returns the number of stored messages per chat, most active
// first.
func (s *Store) CountByChat(ctx context.Context, limit int) (map[int64]int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `SELECT chat_id, count(*) FROM chat_messages GROUP BY chat_id ORDER BY count(*) DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]int{}
	for rows.Next() {
		var (
			chatID int64
			n      int
		)
		if err := rows.Scan(&chatID, &n); err != nil {
			return nil, err
		}
		out[chatID] = n
	}
	return out, rows.Err()
}
