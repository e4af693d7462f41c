package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/servicedesk_bot/backend/internal/models"
)

// Memory is the history store used when no database is configured. It
// keeps at most PerChat messages per chat.
type Memory struct {
	PerChat int

	mu    sync.RWMutex
	chats map[int64][]models.ChatMessage
}

func NewMemory(perChat int) *Memory {
	if perChat <= 0 {
		perChat = 200
	}
	return &Memory{PerChat: perChat, chats: make(map[int64][]models.ChatMessage)}
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) Append(ctx context.Context, msgs ...models.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now().UTC()
		}
		list := append(m.chats[msg.ChatID], msg)
		if len(list) > m.PerChat {
			list = append([]models.ChatMessage(nil), list[len(list)-m.PerChat:]...)
		}
		m.chats[msg.ChatID] = list
	}
	return nil
}

func (m *Memory) Recent(ctx context.Context, chatID int64, since time.Time, limit int) ([]models.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 40
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ChatMessage
	for _, msg := range m.chats[chatID] {
		if msg.CreatedAt.After(since) {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]models.ChatMessage(nil), out...), nil
}

func (m *Memory) CountByChat(ctx context.Context, limit int) (map[int64]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	m.mu.RLock()
	type row struct {
		chatID int64
		n      int
	}
	rows := make([]row, 0, len(m.chats))
	for id, msgs := range m.chats {
		rows = append(rows, row{id, len(msgs)})
	}
	m.mu.RUnlock()
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].n != rows[j].n {
			return rows[i].n > rows[j].n
		}
		return rows[i].chatID < rows[j].chatID
	})
	out := map[int64]int{}
	for i, r := range rows {
		if i == limit {
			break
		}
		out[r.chatID] = r.n
	}
	return out, nil
}
