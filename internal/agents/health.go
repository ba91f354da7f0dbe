package agents

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// defaultCacheValidity bounds how long a cached health snapshot is served.
const defaultCacheValidity = 30 * time.Second

// healthCheckTimeout caps each individual backend probe.
const healthCheckTimeout = 10 * time.Second

// BackendHealth is the probe result for one named backend.
type BackendHealth struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// HealthSnapshot aggregates backend health at one point in time.
type HealthSnapshot struct {
	Healthy  bool            `json:"healthy"`
	Backends []BackendHealth `json:"backends"`
	Cached   bool            `json:"cached"`
}

// HealthChecker probes one backend for reachability.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthCache serves an aggregate health snapshot, re-probing backends at
// most once per validity window. Invalidate forces the next Status call to
// probe again.
type HealthCache struct {
	mu       sync.Mutex
	backends map[string]HealthChecker
	validity time.Duration
	now      func() time.Time

	snapshot  *HealthSnapshot
	fetchedAt time.Time
}

// NewHealthCache creates a cache over the named backends. validity <= 0
// uses the 30s default.
func NewHealthCache(backends map[string]HealthChecker, validity time.Duration) *HealthCache {
	if validity <= 0 {
		validity = defaultCacheValidity
	}
	return &HealthCache{
		backends: backends,
		validity: validity,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Status returns the aggregate health, served from cache while the last
// probe is still within its validity window.
func (c *HealthCache) Status(ctx context.Context) (*HealthSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot != nil && c.now().Sub(c.fetchedAt) < c.validity {
		cached := *c.snapshot
		cached.Cached = true
		return &cached, nil
	}

	snapshot, err := c.probe(ctx)
	if err != nil {
		return nil, err
	}
	c.snapshot = snapshot
	c.fetchedAt = c.now()
	return snapshot, nil
}

// Invalidate drops the cached snapshot so the next Status call probes again.
func (c *HealthCache) Invalidate() {
	c.mu.Lock()
	c.snapshot = nil
	c.mu.Unlock()
}

func (c *HealthCache) probe(ctx context.Context) (*HealthSnapshot, error) {
	results := make([]BackendHealth, 0, len(c.backends))
	var resultsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for name, backend := range c.backends {
		name, backend := name, backend
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, healthCheckTimeout)
			defer cancel()

			h := BackendHealth{Name: name, Healthy: true, CheckedAt: c.now()}
			if err := backend.Health(probeCtx); err != nil {
				h.Healthy = false
				h.Error = err.Error()
				zap.L().Warn("backend health check failed",
					zap.String("backend", name),
					zap.Error(err),
				)
			}
			resultsMu.Lock()
			results = append(results, h)
			resultsMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	healthy := true
	for _, r := range results {
		if !r.Healthy {
			healthy = false
			break
		}
	}
	return &HealthSnapshot{Healthy: healthy, Backends: results}, nil
}
