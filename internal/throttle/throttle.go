// Package throttle keeps the durable per-chat counters and bans that guard
// ticket creation, plus an in-process flood limiter for inbound messages.
package throttle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/servicedesk_bot/backend/internal/kv"
	"github.com/servicedesk_bot/backend/internal/models"
)

var ErrLimitReached = errors.New("daily ticket limit reached")

// Throttle stores counters and bans in badger so concurrent requests get
// atomic read-modify-write through transactions.
type Throttle struct {
	DB       *badger.DB
	Logger   zerolog.Logger
	Location *time.Location
	Now      func() time.Time
}

func New(db *badger.DB, logger zerolog.Logger) *Throttle {
	return &Throttle{DB: db, Logger: logger, Location: time.Local, Now: time.Now}
}

func (t *Throttle) now() time.Time {
	now := time.Now()
	if t.Now != nil {
		now = t.Now()
	}
	if t.Location != nil {
		now = now.In(t.Location)
	}
	return now
}

func counterKey(chatID int64, day string) []byte {
	return []byte("throttle:tickets:" + strconv.FormatInt(chatID, 10) + ":" + day)
}

func banKey(chatID int64) []byte {
	return []byte("ban:" + strconv.FormatInt(chatID, 10))
}

// Acquire reserves one ticket creation for today. It fails with
// ErrLimitReached once limit creations were already reserved.
func (t *Throttle) Acquire(ctx context.Context, chatID int64, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	key := counterKey(chatID, t.now().Format("2006-01-02"))
	var count int
	err := kv.Update(t.DB, func(txn *badger.Txn) error {
		n, err := readCount(txn, key)
		if err != nil {
			return err
		}
		if n >= limit {
			count = n
			return ErrLimitReached
		}
		count = n + 1
		e := badger.NewEntry(key, []byte(strconv.Itoa(count))).WithTTL(48 * time.Hour)
		return txn.SetEntry(e)
	})
	if errors.Is(err, ErrLimitReached) {
		t.Logger.Warn().Int64("chat_id", chatID).Int("count", count).Msg("daily ticket limit reached")
		return count, ErrLimitReached
	}
	if err != nil {
		return 0, fmt.Errorf("acquire ticket slot for chat %d: %w", chatID, err)
	}
	return count, nil
}

// Release returns a slot reserved by Acquire when the ticket was not created.
func (t *Throttle) Release(ctx context.Context, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := counterKey(chatID, t.now().Format("2006-01-02"))
	return kv.Update(t.DB, func(txn *badger.Txn) error {
		n, err := readCount(txn, key)
		if err != nil || n == 0 {
			return err
		}
		e := badger.NewEntry(key, []byte(strconv.Itoa(n-1))).WithTTL(48 * time.Hour)
		return txn.SetEntry(e)
	})
}

// Count reports how many tickets were reserved today.
func (t *Throttle) Count(ctx context.Context, chatID int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := t.DB.View(func(txn *badger.Txn) error {
		var err error
		n, err = readCount(txn, counterKey(chatID, t.now().Format("2006-01-02")))
		return err
	})
	return n, err
}

func readCount(txn *badger.Txn, key []byte) (int, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n int
	err = item.Value(func(val []byte) error {
		n, err = strconv.Atoi(string(val))
		return err
	})
	return n, err
}

// Ban records a ban. A zero duration bans permanently.
func (t *Throttle) Ban(ctx context.Context, chatID int64, reason string, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ban := models.Ban{ChatID: chatID, Reason: reason}
	if d > 0 {
		ban.Until = t.now().Add(d).UTC()
	}
	b, err := json.Marshal(ban)
	if err != nil {
		return err
	}
	if err := kv.Update(t.DB, func(txn *badger.Txn) error {
		return txn.Set(banKey(chatID), b)
	}); err != nil {
		return fmt.Errorf("ban chat %d: %w", chatID, err)
	}
	t.Logger.Info().Int64("chat_id", chatID).Str("reason", reason).Dur("duration", d).Msg("chat banned")
	return nil
}

func (t *Throttle) Unban(ctx context.Context, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return kv.DeleteKeys(t.DB, [][]byte{banKey(chatID)})
}

// IsBanned reports an active ban. Expired bans are treated as absent.
func (t *Throttle) IsBanned(ctx context.Context, chatID int64) (models.Ban, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Ban{}, false, err
	}
	var ban models.Ban
	var found bool
	err := t.DB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(banKey(chatID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &ban) })
	})
	if err != nil {
		return models.Ban{}, false, fmt.Errorf("check ban for chat %d: %w", chatID, err)
	}
	if !found || !ban.Active(t.now()) {
		return models.Ban{}, false, nil
	}
	return ban, true, nil
}
