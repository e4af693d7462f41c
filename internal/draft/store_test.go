package draft

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/servicedesk_bot/backend/internal/config"
	"github.com/servicedesk_bot/backend/internal/kv"
	"github.com/servicedesk_bot/backend/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := kv.OpenInMemory()
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, config.StaticCatalog(config.DefaultCatalog()), zerolog.Nop())
}

func TestReadAfterClearIsEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.SaveField(ctx, 1, models.FieldName, "Иван"); err != nil {
		t.Fatalf("save name: %v", err)
	}
	if _, err := s.SaveField(ctx, 1, models.FieldComment, "стучит"); err != nil {
		t.Fatalf("save comment: %v", err)
	}
	if err := s.Clear(ctx, 1); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := s.Clear(ctx, 1); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	d, err := s.Read(ctx, 1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !d.Empty() {
		t.Fatalf("expected empty draft, got %+v", d.Values())
	}
}

func TestDraftSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	catalog := config.StaticCatalog(config.DefaultCatalog())
	ctx := context.Background()

	db, err := kv.Open(dir)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	s := NewStore(db, catalog, zerolog.Nop())
	if _, err := s.SaveField(ctx, 12, models.FieldName, "Иван"); err != nil {
		t.Fatalf("save name: %v", err)
	}
	if _, err := s.SaveField(ctx, 12, models.FieldPhone, "79161234567"); err != nil {
		t.Fatalf("save phone: %v", err)
	}
	for _, c := range []string{"не сливает воду", "шумит при отжиме"} {
		if _, err := s.SaveField(ctx, 12, models.FieldComment, c); err != nil {
			t.Fatalf("save comment: %v", err)
		}
	}
	if err := s.SaveLocation(ctx, 12, 55.7558, 37.6173, "Москва, Тверская улица, 1"); err != nil {
		t.Fatalf("save location: %v", err)
	}
	before, err := s.Read(ctx, 12)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close badger: %v", err)
	}

	db, err = kv.Open(dir)
	if err != nil {
		t.Fatalf("reopen badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	after, err := NewStore(db, catalog, zerolog.Nop()).Read(ctx, 12)
	if err != nil {
		t.Fatalf("read after restart: %v", err)
	}
	if after.Name != "Иван" || after.Phone == "" || after.Phone != before.Phone || after.Address != "Москва, Тверская улица, 1" ||
		after.Latitude != "55.755800" || after.Longitude != "37.617300" {
		t.Fatalf("fields lost on restart: %+v", after)
	}
	if want := "не сливает воду. шумит при отжиме"; after.Comment != want {
		t.Fatalf("comment = %q, want %q", after.Comment, want)
	}
}

func TestReadUnknownChat(t *testing.T) {
	s := newTestStore(t)
	d, err := s.Read(context.Background(), 404)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !d.Empty() || d.ChatID != 404 || d.SchemaVersion != models.DraftSchemaVersion {
		t.Fatalf("unexpected draft %+v", d)
	}
}

func TestCommentAppends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, c := range []string{"не сливает воду", "шумит при отжиме"} {
		if _, err := s.SaveField(ctx, 2, models.FieldComment, c); err != nil {
			t.Fatalf("save comment: %v", err)
		}
	}
	d, _ := s.Read(ctx, 2)
	if want := "не сливает воду. шумит при отжиме"; d.Comment != want {
		t.Fatalf("comment = %q, want %q", d.Comment, want)
	}
}

func TestOtherFieldsLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.SaveField(ctx, 3, models.FieldBrand, "Bosch")
	_, _ = s.SaveField(ctx, 3, models.FieldBrand, "LG")
	d, _ := s.Read(ctx, 3)
	if d.Brand != "LG" {
		t.Fatalf("brand = %q, want LG", d.Brand)
	}
}

func TestInvalidDirectionLeavesDraftUnchanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.SaveField(ctx, 4, models.FieldDirection, "холодильники"); err != nil {
		t.Fatalf("save direction: %v", err)
	}
	_, err := s.SaveField(ctx, 4, models.FieldDirection, "Пылесосы на Марсе")
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != models.FieldDirection {
		t.Fatalf("expected direction validation error, got %v", err)
	}
	d, _ := s.Read(ctx, 4)
	if d.Direction != "Холодильники" {
		t.Fatalf("direction = %q, want canonical Холодильники", d.Direction)
	}
}

func TestPhoneNormalization(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.SaveField(ctx, 5, models.FieldPhone, "abc123"); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected short phone to fail, got %v", err)
	}
	ack, err := s.SaveField(ctx, 5, models.FieldPhone, "+7 916 123-45-67")
	if err != nil {
		t.Fatalf("save phone: %v", err)
	}
	if ack.Value != "79161234567" {
		t.Fatalf("ack value = %q", ack.Value)
	}
	d, _ := s.Read(ctx, 5)
	if d.Phone != "79161234567" {
		t.Fatalf("phone = %q", d.Phone)
	}
}

func TestUnknownField(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.SaveField(context.Background(), 6, models.Field("color"), "red"); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}

func TestDateNormalization(t *testing.T) {
	cases := map[string]string{
		"2024-06-01":        "2024-06-01T00:00Z",
		"2024-06-01T00:00Z": "2024-06-01T00:00Z",
		"2024-06-01T14:30Z": "2024-06-01T00:00Z",
	}
	for in, want := range cases {
		got, err := NormalizeDate(in)
		if err != nil || got != want {
			t.Fatalf("NormalizeDate(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := NormalizeDate("завтра"); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected free text date to fail, got %v", err)
	}
}

func TestCorruptUnitIsSkippedAndRemoved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.SaveField(ctx, 7, models.FieldName, "Мария")
	err := s.DB.Update(func(txn *badger.Txn) error {
		return txn.Set(unitKey(7, models.FieldBrand), []byte("{not json"))
	})
	if err != nil {
		t.Fatalf("inject corrupt unit: %v", err)
	}

	d, err := s.Read(ctx, 7)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if d.Name != "Мария" || d.Brand != "" {
		t.Fatalf("unexpected draft %+v", d)
	}
	err = s.DB.View(func(txn *badger.Txn) error {
		_, err := txn.Get(unitKey(7, models.FieldBrand))
		return err
	})
	if !errors.Is(err, badger.ErrKeyNotFound) {
		t.Fatalf("expected corrupt unit to be deleted, got %v", err)
	}
}

func TestSaveLocationWritesAllThree(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SaveLocation(ctx, 8, 55.7558, 37.6173, "Москва, Тверская улица, 1"); err != nil {
		t.Fatalf("save location: %v", err)
	}
	d, _ := s.Read(ctx, 8)
	if d.Latitude != "55.755800" || d.Longitude != "37.617300" || d.Address == "" {
		t.Fatalf("unexpected draft %+v", d)
	}
	if err := s.SaveLocation(ctx, 8, 0, 0, "нигде"); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected zero point to be rejected, got %v", err)
	}
}

func TestMetaSurvivesClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ref := models.TicketRef{PartnerNumber: "abc", Number: "42", CreatedAt: time.Unix(1717200000, 0).UTC()}
	if err := s.AddTicketRef(ctx, 9, ref); err != nil {
		t.Fatalf("add ticket ref: %v", err)
	}
	if _, err := s.UpdateMeta(ctx, 9, func(m *models.ChatMeta) error {
		m.LastMessageID = 77
		return nil
	}); err != nil {
		t.Fatalf("update meta: %v", err)
	}
	if err := s.Clear(ctx, 9); err != nil {
		t.Fatalf("clear: %v", err)
	}
	meta, err := s.Meta(ctx, 9)
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta.LastMessageID != 77 || len(meta.Tickets) != 1 || meta.Tickets[0].Number != "42" {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestConcurrentCommentsAllLand(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.SaveField(ctx, 10, models.FieldComment, "x"); err != nil {
				t.Errorf("save comment: %v", err)
			}
		}()
	}
	wg.Wait()
	d, _ := s.Read(ctx, 10)
	if want := "x. x. x. x. x. x. x. x"; d.Comment != want {
		t.Fatalf("comment = %q, want %q", d.Comment, want)
	}
}

func TestCancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.SaveField(ctx, 11, models.FieldName, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
