package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when a breaker rejects a call without running it.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls when a Breaker trips and how long it stays open.
type BreakerConfig struct {
	// FailureThreshold is the run of consecutive failures that opens the
	// breaker.
	FailureThreshold int
	// Cooldown is how long the breaker rejects calls before allowing a
	// single probe through.
	Cooldown time.Duration
}

// DefaultBreakerConfig trips after 5 consecutive failures and probes again
// after 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

func (cfg BreakerConfig) normalized() BreakerConfig {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return cfg
}

// Breaker is a consecutive-failure circuit breaker for one named service.
// After FailureThreshold failures in a row it rejects calls for Cooldown,
// then lets one probe through; a successful probe closes it again, a failed
// probe restarts the cooldown.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu        sync.Mutex
	failures  int
	openUntil time.Time
	probing   bool
}

// NewBreaker creates a closed breaker. The name only labels log lines and
// state snapshots.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{
		name: name,
		cfg:  cfg.normalized(),
		now:  time.Now,
	}
}

// Do runs fn unless the breaker is open.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.observe(err)
	return err
}

// Guard runs fn through the breaker, preserving fn's return value.
func Guard[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.observe(err)
	return val, err
}

// State reports "closed", "open", or "half-open".
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

// Reset closes the breaker and clears its failure run.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
	b.probing = false
}

func (b *Breaker) stateLocked() string {
	switch {
	case b.openUntil.IsZero():
		return "closed"
	case b.now().Before(b.openUntil):
		return "open"
	default:
		return "half-open"
	}
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openUntil.IsZero() {
		return nil
	}
	if b.now().Before(b.openUntil) {
		return ErrCircuitOpen
	}
	// Cooldown elapsed: admit one probe, hold the rest back.
	if b.probing {
		return ErrCircuitOpen
	}
	b.probing = true
	return nil
}

func (b *Breaker) observe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if !b.openUntil.IsZero() {
			zap.L().Info("circuit closed", zap.String("service", b.name))
		}
		b.failures = 0
		b.openUntil = time.Time{}
		b.probing = false
		return
	}

	b.failures++
	b.probing = false
	if b.failures >= b.cfg.FailureThreshold {
		wasClosed := b.openUntil.IsZero()
		b.openUntil = b.now().Add(b.cfg.Cooldown)
		if wasClosed {
			zap.L().Warn("circuit opened",
				zap.String("service", b.name),
				zap.Int("consecutive_failures", b.failures),
				zap.Duration("cooldown", b.cfg.Cooldown),
			)
		}
	}
}

// BreakerSet lazily creates one Breaker per service name.
type BreakerSet struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*Breaker
}

// NewBreakerSet creates an empty registry sharing cfg across services.
func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	return &BreakerSet{
		cfg:      cfg.normalized(),
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for service, creating it on first use.
func (s *BreakerSet) Get(service string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[service]
	if !ok {
		b = NewBreaker(service, s.cfg)
		s.breakers[service] = b
	}
	return b
}

// States snapshots every known breaker's state by service name.
func (s *BreakerSet) States() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make(map[string]string, len(s.breakers))
	for name, b := range s.breakers {
		states[name] = b.State()
	}
	return states
}
