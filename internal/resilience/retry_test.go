package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fastRetry removes sleeps so retry tests run instantly.
func fastRetry(attempts int) RetryConfig {
	return RetryConfig{Attempts: attempts, BaseDelay: time.Nanosecond, MaxDelay: time.Nanosecond}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(3), "test", func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(3), "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("status 503"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	permanent := errors.New("invalid payload")
	calls := 0
	err := Do(context.Background(), fastRetry(3), "test", func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("Do() = %v, want %v", err, permanent)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	transient := Transient(errors.New("status 502"))
	calls := 0
	err := Do(context.Background(), fastRetry(3), "test", func(context.Context) error {
		calls++
		return transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("Do() = %v, want last transient error", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, fastRetry(5), "test", func(context.Context) error {
		calls++
		cancel()
		return Transient(errors.New("status 503"))
	})
	if err == nil {
		t.Fatal("Do() = nil, want error after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), RetryConfig{}, "test", func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestWithJitter_Bounds(t *testing.T) {
	base := 100 * time.Millisecond
	for range 50 {
		d := withJitter(base, 0.2)
		if d < 80*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("withJitter = %v, want within 20%% of %v", d, base)
		}
	}
	if withJitter(base, 0) != base {
		t.Error("zero jitter should return the delay unchanged")
	}
}
