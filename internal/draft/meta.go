package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/servicedesk_bot/backend/internal/kv"
	"github.com/servicedesk_bot/backend/internal/models"
)

const maxTicketRefs = 20

// Meta returns the chat metadata. A missing or unreadable record yields
// the zero value.
func (s *Store) Meta(ctx context.Context, chatID int64) (models.ChatMeta, error) {
	if err := ctx.Err(); err != nil {
		return models.ChatMeta{}, err
	}
	var meta models.ChatMeta
	err := s.DB.View(func(txn *badger.Txn) error {
		m, err := s.readMeta(txn, chatID)
		meta = m
		return err
	})
	return meta, err
}

// UpdateMeta applies fn to the chat metadata inside one transaction.
func (s *Store) UpdateMeta(ctx context.Context, chatID int64, fn func(*models.ChatMeta) error) (models.ChatMeta, error) {
	if err := ctx.Err(); err != nil {
		return models.ChatMeta{}, err
	}
	var out models.ChatMeta
	err := kv.Update(s.DB, func(txn *badger.Txn) error {
		meta, err := s.readMeta(txn, chatID)
		if err != nil {
			return err
		}
		if err := fn(&meta); err != nil {
			return err
		}
		b, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		out = meta
		return txn.Set(metaKey(chatID), b)
	})
	if err != nil {
		return models.ChatMeta{}, fmt.Errorf("update meta for chat %d: %w", chatID, err)
	}
	return out, nil
}

// AddTicketRef remembers a created ticket. Only the newest refs are kept.
func (s *Store) AddTicketRef(ctx context.Context, chatID int64, ref models.TicketRef) error {
	_, err := s.UpdateMeta(ctx, chatID, func(m *models.ChatMeta) error {
		m.Tickets = append(m.Tickets, ref)
		if len(m.Tickets) > maxTicketRefs {
			m.Tickets = m.Tickets[len(m.Tickets)-maxTicketRefs:]
		}
		return nil
	})
	return err
}

func (s *Store) readMeta(txn *badger.Txn, chatID int64) (models.ChatMeta, error) {
	var meta models.ChatMeta
	item, err := txn.Get(metaKey(chatID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return meta, nil
	}
	if err != nil {
		return meta, err
	}
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &meta) }); err != nil {
		s.Logger.Warn().Err(err).Int64("chat_id", chatID).Msg("skipping corrupt chat meta")
		return models.ChatMeta{}, nil
	}
	return meta, nil
}
