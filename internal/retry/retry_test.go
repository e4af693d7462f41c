package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 3}.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt == 0 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDoReturnsLastError(t *testing.T) {
	calls := 0
	want := errors.New("still down")
	err := Policy{MaxAttempts: 3, Backoff: time.Millisecond}.Do(context.Background(), func(ctx context.Context, attempt int) error {
		if attempt != calls {
			t.Fatalf("attempt %d on call %d", attempt, calls)
		}
		calls++
		return want
	})
	if !errors.Is(err, want) || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	calls := 0
	want := errors.New("bad request")
	err := Policy{MaxAttempts: 5}.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return Permanent(want)
	})
	if err != want || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestPermanentOnLastAttemptIsUnwrapped(t *testing.T) {
	want := errors.New("bad request")
	err := Policy{MaxAttempts: 1}.Do(context.Background(), func(ctx context.Context, attempt int) error {
		return Permanent(want)
	})
	if err != want || IsPermanent(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestZeroPolicyRunsOnce(t *testing.T) {
	calls := 0
	_ = Policy{}.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("x")
	})
	if calls != 1 {
		t.Fatalf("calls=%d", calls)
	}
}

func TestBackOffDoublesAndCaps(t *testing.T) {
	b := Policy{Backoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}.BackOff()
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Fatalf("pause %d: got %v want %v", i, got, w)
		}
	}
}

func TestDoHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Policy{MaxAttempts: 3, Backoff: time.Hour}.Do(ctx, func(ctx context.Context, attempt int) error {
		calls++
		cancel()
		return errors.New("x")
	})
	if err == nil || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestWait(t *testing.T) {
	if err := Wait(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Wait(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled wait returned %v", err)
	}
	if err := Wait(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("zero wait on cancelled ctx returned %v", err)
	}
}
