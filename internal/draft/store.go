package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/servicedesk_bot/backend/internal/config"
	"github.com/servicedesk_bot/backend/internal/kv"
	"github.com/servicedesk_bot/backend/internal/models"
	"github.com/servicedesk_bot/backend/internal/utils"
)

const (
	commentSeparator = ". "
	minPhoneDigits   = 10
	lockStripes      = 64
)

var (
	ErrUnknownField = errors.New("unknown draft field")
	ErrInvalidValue = errors.New("invalid draft value")
)

// ValidationError explains why a value was refused. It wraps ErrInvalidValue.
type ValidationError struct {
	Field  models.Field
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidValue }

type Ack struct {
	Field models.Field
	Value string
}

// Store keeps one badger entry per draft field per chat.
type Store struct {
	DB      *badger.DB
	Catalog *config.CatalogHolder
	Logger  zerolog.Logger
	Now     func() time.Time

	locks [lockStripes]sync.Mutex
}

func NewStore(db *badger.DB, catalog *config.CatalogHolder, logger zerolog.Logger) *Store {
	return &Store{DB: db, Catalog: catalog, Logger: logger, Now: time.Now}
}

func unitPrefix(chatID int64) []byte {
	return []byte("draft:" + strconv.FormatInt(chatID, 10) + ":")
}

func unitKey(chatID int64, f models.Field) []byte {
	return append(unitPrefix(chatID), []byte(f)...)
}

func metaKey(chatID int64) []byte {
	return []byte("meta:" + strconv.FormatInt(chatID, 10))
}

func (s *Store) lock(chatID int64) func() {
	m := &s.locks[utils.Stripe(strconv.FormatInt(chatID, 10), lockStripes)]
	m.Lock()
	return m.Unlock
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// SaveField validates and stores one field. Comments are appended to the
// stored comment, every other field replaces the previous value.
func (s *Store) SaveField(ctx context.Context, chatID int64, field models.Field, value string) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	if !field.Valid() {
		return Ack{}, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	normalized, err := s.normalize(field, value)
	if err != nil {
		return Ack{}, err
	}

	unlock := s.lock(chatID)
	defer unlock()

	stored := normalized
	err = kv.Update(s.DB, func(txn *badger.Txn) error {
		if field == models.FieldComment {
			prev, ok, err := readUnit(txn, unitKey(chatID, field))
			if err != nil {
				return err
			}
			if ok && prev.Text != "" {
				stored = prev.Text + commentSeparator + normalized
			}
		}
		return s.writeUnit(txn, chatID, field, stored)
	})
	if err != nil {
		return Ack{}, fmt.Errorf("save %s for chat %d: %w", field, chatID, err)
	}
	s.Logger.Debug().Int64("chat_id", chatID).Str("field", string(field)).Msg("draft field saved")
	return Ack{Field: field, Value: stored}, nil
}

// SaveLocation stores coordinates and the address in one transaction.
func (s *Store) SaveLocation(ctx context.Context, chatID int64, lat, lon float64, address string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !utils.ValidCoordinates(lat, lon) {
		return &ValidationError{Field: models.FieldLatitude, Reason: "coordinates out of range"}
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return &ValidationError{Field: models.FieldAddress, Reason: "empty address"}
	}

	unlock := s.lock(chatID)
	defer unlock()

	return kv.Update(s.DB, func(txn *badger.Txn) error {
		if err := s.writeUnit(txn, chatID, models.FieldLatitude, formatCoord(lat)); err != nil {
			return err
		}
		if err := s.writeUnit(txn, chatID, models.FieldLongitude, formatCoord(lon)); err != nil {
			return err
		}
		return s.writeUnit(txn, chatID, models.FieldAddress, address)
	})
}

// Read returns the fields currently set for a chat. Units that cannot be
// decoded are dropped from storage.
func (s *Store) Read(ctx context.Context, chatID int64) (models.DraftRequest, error) {
	out := models.DraftRequest{SchemaVersion: models.DraftSchemaVersion, ChatID: chatID}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	var corrupt [][]byte
	prefix := unitPrefix(chatID)
	err := s.DB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			var unit models.DraftUnit
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &unit)
			})
			if err == nil && (!unit.Type.Valid() || string(unit.Type) != strings.TrimPrefix(string(key), string(prefix))) {
				err = fmt.Errorf("unit type %q does not match key", unit.Type)
			}
			if err != nil {
				s.Logger.Warn().Err(err).Str("key", string(key)).Msg("skipping corrupt draft unit")
				corrupt = append(corrupt, key)
				continue
			}
			out.Set(unit.Type, unit.Text)
		}
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("read draft for chat %d: %w", chatID, err)
	}
	if len(corrupt) > 0 {
		if err := kv.DeleteKeys(s.DB, corrupt); err != nil {
			s.Logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to remove corrupt draft units")
		}
	}
	return out, nil
}

// Clear deletes every draft unit of the chat. Chat metadata is kept.
func (s *Store) Clear(ctx context.Context, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.lock(chatID)
	defer unlock()

	var keys [][]byte
	if err := s.DB.View(func(txn *badger.Txn) error {
		keys = kv.PrefixKeys(txn, unitPrefix(chatID))
		return nil
	}); err != nil {
		return err
	}
	if err := kv.DeleteKeys(s.DB, keys); err != nil {
		return fmt.Errorf("clear draft for chat %d: %w", chatID, err)
	}
	if len(keys) > 0 {
		s.Logger.Info().Int64("chat_id", chatID).Int("fields", len(keys)).Msg("draft cleared")
	}
	return nil
}

func (s *Store) writeUnit(txn *badger.Txn, chatID int64, field models.Field, text string) error {
	unit := models.DraftUnit{
		Version: models.DraftSchemaVersion,
		Type:    field,
		Text:    text,
		Date:    s.now().Unix(),
	}
	b, err := json.Marshal(unit)
	if err != nil {
		return err
	}
	return txn.Set(unitKey(chatID, field), b)
}

func readUnit(txn *badger.Txn, key []byte) (models.DraftUnit, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.DraftUnit{}, false, nil
	}
	if err != nil {
		return models.DraftUnit{}, false, err
	}
	var unit models.DraftUnit
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &unit) }); err != nil {
		// A corrupt previous comment is replaced rather than appended to.
		return models.DraftUnit{}, false, nil
	}
	return unit, true, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
