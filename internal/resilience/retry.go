package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig bounds a retry loop. Delays double after each attempt, capped
// at MaxDelay, with up to Jitter fraction of random spread on each sleep.
type RetryConfig struct {
	Attempts  int           // total attempts including the first, min 1
	BaseDelay time.Duration // delay before the first retry
	MaxDelay  time.Duration // ceiling for the doubled delay
	Jitter    float64       // fraction of delay randomized, 0 disables
}

// DefaultRetryConfig suits webhook and REST deliveries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:  3,
		BaseDelay: 250 * time.Millisecond,
		MaxDelay:  10 * time.Second,
		Jitter:    0.2,
	}
}

func (cfg RetryConfig) normalized() RetryConfig {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.MaxDelay > 0 && cfg.BaseDelay > cfg.MaxDelay {
		cfg.BaseDelay = cfg.MaxDelay
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return cfg
}

// Do runs fn up to cfg.Attempts times, sleeping between attempts. Only
// transient errors are retried; permanent errors and context cancellation
// return immediately. The op label tags retry log lines.
func Do(ctx context.Context, cfg RetryConfig, op string, fn func(ctx context.Context) error) error {
	cfg = cfg.normalized()

	delay := cfg.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == cfg.Attempts {
			break
		}

		zap.L().Warn("retrying after transient failure",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)

		timer := time.NewTimer(withJitter(delay, cfg.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}

		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return lastErr
}

func withJitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * fraction
	jittered := float64(d) + (rand.Float64()*2-1)*spread
	if jittered < 0 {
		return 0
	}
	return time.Duration(jittered)
}
