package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/servicedesk_bot/backend/internal/models"
)

func TestMemoryRecent(t *testing.T) {
	m := NewMemory(3)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := m.Append(ctx, models.ChatMessage{ChatID: 1, Role: "user", Content: string(rune('a' + i)), CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	_ = m.Append(ctx, models.ChatMessage{ChatID: 2, Role: "user", Content: "other", CreatedAt: base})

	got, err := m.Recent(ctx, 1, time.Time{}, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 || got[0].Content != "c" || got[2].Content != "e" {
		t.Fatalf("unexpected history %+v", got)
	}

	got, _ = m.Recent(ctx, 1, base.Add(3*time.Minute), 10)
	if len(got) != 1 || got[0].Content != "e" {
		t.Fatalf("cutoff not applied: %+v", got)
	}

	got, _ = m.Recent(ctx, 1, time.Time{}, 2)
	if len(got) != 2 || got[0].Content != "d" {
		t.Fatalf("limit must keep the newest: %+v", got)
	}

	counts, _ := m.CountByChat(ctx, 10)
	if counts[1] != 3 || counts[2] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestPostgresHistory(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	chatID := time.Now().UnixNano()
	now := time.Now().UTC().Truncate(time.Millisecond)
	err = s.Append(ctx,
		models.ChatMessage{ChatID: chatID, MessageID: 1, Role: "user", Content: "привет", CreatedAt: now},
		models.ChatMessage{ChatID: chatID, MessageID: 1, Role: "assistant", Content: "здравствуйте", CreatedAt: now.Add(time.Millisecond)},
	)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := s.Recent(ctx, chatID, now.Add(-time.Second), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].Role != "user" || got[1].Content != "здравствуйте" {
		t.Fatalf("unexpected history %+v", got)
	}
	if _, err := s.Pool.Exec(ctx, `DELETE FROM chat_messages WHERE chat_id = $1`, chatID); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
}
