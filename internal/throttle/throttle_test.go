package throttle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/servicedesk_bot/backend/internal/kv"
)

func newTestThrottle(t *testing.T, now time.Time) *Throttle {
	t.Helper()
	db, err := kv.OpenInMemory()
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	th := New(db, zerolog.Nop())
	th.Location = time.UTC
	th.Now = func() time.Time { return now }
	return th
}

func TestFourthSameDayAcquireFails(t *testing.T) {
	th := newTestThrottle(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		n, err := th.Acquire(ctx, 1, 3)
		if err != nil || n != i {
			t.Fatalf("acquire %d: n=%d err=%v", i, n, err)
		}
	}
	if _, err := th.Acquire(ctx, 1, 3); !errors.Is(err, ErrLimitReached) {
		t.Fatalf("expected ErrLimitReached, got %v", err)
	}
	if n, _ := th.Count(ctx, 1); n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
}

func TestCounterResetsNextDay(t *testing.T) {
	day := time.Date(2024, 6, 1, 23, 0, 0, 0, time.UTC)
	th := newTestThrottle(t, day)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = th.Acquire(ctx, 2, 3)
	}
	th.Now = func() time.Time { return day.Add(2 * time.Hour) }
	if _, err := th.Acquire(ctx, 2, 3); err != nil {
		t.Fatalf("expected new day to allow creation, got %v", err)
	}
}

func TestCounterSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()
	open := func() (*Throttle, func() error) {
		db, err := kv.Open(dir)
		if err != nil {
			t.Fatalf("open badger: %v", err)
		}
		th := New(db, zerolog.Nop())
		th.Location = time.UTC
		th.Now = func() time.Time { return now }
		return th, db.Close
	}

	th, closeDB := open()
	for i := 0; i < 3; i++ {
		if _, err := th.Acquire(ctx, 5, 3); err != nil {
			t.Fatalf("acquire %d: %v", i+1, err)
		}
	}
	if err := closeDB(); err != nil {
		t.Fatalf("close badger: %v", err)
	}

	th, closeDB = open()
	t.Cleanup(func() { _ = closeDB() })
	if n, err := th.Count(ctx, 5); err != nil || n != 3 {
		t.Fatalf("count after restart = %d, err=%v", n, err)
	}
	if _, err := th.Acquire(ctx, 5, 3); !errors.Is(err, ErrLimitReached) {
		t.Fatalf("expected ErrLimitReached after restart, got %v", err)
	}
}

func TestReleaseReturnsSlot(t *testing.T) {
	th := newTestThrottle(t, time.Now())
	ctx := context.Background()
	_, _ = th.Acquire(ctx, 3, 1)
	if err := th.Release(ctx, 3); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := th.Acquire(ctx, 3, 1); err != nil {
		t.Fatalf("expected slot after release, got %v", err)
	}
}

func TestConcurrentAcquireNeverExceedsLimit(t *testing.T) {
	th := newTestThrottle(t, time.Now())
	ctx := context.Background()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := th.Acquire(ctx, 4, 3); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != 3 {
		t.Fatalf("granted = %d, want 3", granted)
	}
}

func TestBanExpires(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	th := newTestThrottle(t, now)
	ctx := context.Background()
	if err := th.Ban(ctx, 5, "ticket limit", time.Hour); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if _, banned, _ := th.IsBanned(ctx, 5); !banned {
		t.Fatalf("expected chat to be banned")
	}
	th.Now = func() time.Time { return now.Add(2 * time.Hour) }
	if _, banned, _ := th.IsBanned(ctx, 5); banned {
		t.Fatalf("expected ban to expire")
	}
}

func TestPermanentBanAndUnban(t *testing.T) {
	th := newTestThrottle(t, time.Now())
	ctx := context.Background()
	_ = th.Ban(ctx, 6, "spam", 0)
	if ban, banned, _ := th.IsBanned(ctx, 6); !banned || ban.Reason != "spam" {
		t.Fatalf("expected permanent ban, got %+v %v", ban, banned)
	}
	_ = th.Unban(ctx, 6)
	if _, banned, _ := th.IsBanned(ctx, 6); banned {
		t.Fatalf("expected unban")
	}
}

func TestFloodGuardMutesAfterBurst(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	g := NewFloodGuard(0.1, 3, 30*time.Minute)
	g.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !g.Allow(7) {
			t.Fatalf("message %d should be allowed", i)
		}
	}
	if g.Allow(7) {
		t.Fatalf("expected fourth message to be refused")
	}
	if !g.Muted(7) {
		t.Fatalf("expected chat to be muted")
	}
	if !g.Allow(8) {
		t.Fatalf("other chats must not be affected")
	}

	now = now.Add(31 * time.Minute)
	if !g.Allow(7) {
		t.Fatalf("expected mute to end")
	}
}
