package drift

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sentinel-group/catalog-sentinel/internal/model"
	"github.com/sentinel-group/catalog-sentinel/internal/store"
)

// MetricOutputDistribution is the metric every baseline currently tracks.
const MetricOutputDistribution = "output_distribution"

// BaselineManager computes and persists rolling baselines. One baseline
// exists per algorithm; recomputing overwrites it, so Recompute is safe to
// call repeatedly.
type BaselineManager struct {
	store  store.Store
	window time.Duration
	now    func() time.Time
}

// NewBaselineManager creates a manager computing baselines over windowDays
// of decision history.
func NewBaselineManager(s store.Store, windowDays int) *BaselineManager {
	if windowDays <= 0 {
		windowDays = 7
	}
	return &BaselineManager{
		store:  s,
		window: time.Duration(windowDays) * 24 * time.Hour,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Recompute rebuilds the baseline for one algorithm from stored decisions.
// An algorithm with no decisions in the window gets a degenerate baseline
// (zero count, empty distribution) rather than an error, so sweeps report
// no_data instead of failing.
func (m *BaselineManager) Recompute(ctx context.Context, algorithm string) (*model.Baseline, error) {
	stats, distribution, err := m.store.DecisionStats(ctx, algorithm, m.window)
	if err != nil {
		return nil, eris.Wrapf(err, "drift: recompute baseline %s", algorithm)
	}

	b := model.Baseline{
		Algorithm:    algorithm,
		Metric:       MetricOutputDistribution,
		Window:       m.window.String(),
		ComputedAt:   m.now(),
		Stats:        *stats,
		Distribution: distribution,
	}
	if err := m.store.UpsertBaseline(ctx, b); err != nil {
		return nil, eris.Wrapf(err, "drift: persist baseline %s", algorithm)
	}

	zap.L().Info("baseline recomputed",
		zap.String("algorithm", algorithm),
		zap.Int("sample_count", stats.Count),
		zap.Int("buckets", len(distribution)),
	)
	return &b, nil
}

// RecomputeAll rebuilds baselines for every algorithm active in the window.
// Per-algorithm failures are logged and do not abort the rest.
func (m *BaselineManager) RecomputeAll(ctx context.Context) ([]model.Baseline, error) {
	algorithms, err := m.store.ActiveAlgorithms(ctx, m.window)
	if err != nil {
		return nil, eris.Wrap(err, "drift: list active algorithms")
	}

	var baselines []model.Baseline
	for _, algorithm := range algorithms {
		b, err := m.Recompute(ctx, algorithm)
		if err != nil {
			zap.L().Error("baseline recompute failed",
				zap.String("algorithm", algorithm),
				zap.Error(err),
			)
			continue
		}
		baselines = append(baselines, *b)
	}
	return baselines, nil
}
