package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var fast = Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, Multiplier: 2}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := fast.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoGivesUp(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := fast.Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	boom := errors.New("unauthorized")
	err := fast.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(boom)
	})
	if calls != 1 || !errors.Is(err, boom) {
		t.Errorf("calls=%d err=%v", calls, err)
	}
}

func TestDoRespectsRetryable(t *testing.T) {
	p := fast
	p.Retryable = func(error) bool { return false }
	calls := 0
	_ = p.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("nope")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, InitialBackoff: time.Hour}
	err := p.Do(ctx, func(context.Context) error {
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestBackoffCapped(t *testing.T) {
	p := Policy{InitialBackoff: time.Second, MaxBackoff: 3 * time.Second, Multiplier: 2}
	if got := p.Backoff(0); got != time.Second {
		t.Errorf("Backoff(0) = %v", got)
	}
	if got := p.Backoff(5); got != 3*time.Second {
		t.Errorf("Backoff(5) = %v, want cap", got)
	}
}
