package drift

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sentinel-group/catalog-sentinel/internal/config"
	"github.com/sentinel-group/catalog-sentinel/internal/model"
	"github.com/sentinel-group/catalog-sentinel/internal/resilience"
	"github.com/sentinel-group/catalog-sentinel/internal/store"
)

// revenuePerSeverityPoint is the estimated hourly revenue at risk per unit
// of severity, derived from historical incident postmortems.
const revenuePerSeverityPoint = 230_000

// severityCap bounds the drift score regardless of how far the divergence
// overshoots the threshold.
const severityCap = 5.0

// zoneCountFloor is the minimum decision count for a zone to be reported as
// affected; quieter zones are noise at the 30-minute window size.
const zoneCountFloor = 100

// maxAffectedZones limits how many zones an incident names.
const maxAffectedZones = 5

// Responder invokes a named analysis agent and returns its textual reply.
type Responder interface {
	Invoke(ctx context.Context, agent, instruction string) (string, error)
}

// Notifier triggers downstream automation for a new incident. Implementations
// must not block detection; errors are logged and dropped.
type Notifier interface {
	TriggerDriftWorkflow(ctx context.Context, inc model.Incident) error
}

// Engine is the drift detection engine. It compares short-window decision
// distributions against rolling baselines and opens incidents when the
// divergence crosses the configured threshold.
type Engine struct {
	store     store.Store
	baselines *BaselineManager
	cfg       config.DriftConfig
	responder Responder // nil disables agent handoff
	notifier  Notifier  // nil disables workflow automation
	now       func() time.Time
}

// NewEngine creates a drift engine. responder and notifier may be nil.
func NewEngine(s store.Store, baselines *BaselineManager, cfg config.DriftConfig, responder Responder, notifier Notifier) *Engine {
	return &Engine{
		store:     s,
		baselines: baselines,
		cfg:       cfg,
		responder: responder,
		notifier:  notifier,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CheckAlgorithm runs one drift check for a single algorithm. It returns a
// DriftCheck with outcome incident, no_drift, or no_data; the store error is
// the only failure mode. An incident is persisted with status detected
// before any agent handoff is attempted.
func (e *Engine) CheckAlgorithm(ctx context.Context, algorithm string) (*model.DriftCheck, error) {
	baseline, err := e.store.GetBaseline(ctx, algorithm)
	if err != nil {
		return nil, eris.Wrapf(err, "drift: check %s", algorithm)
	}
	if baseline == nil || len(baseline.Distribution) == 0 {
		// First sighting of this algorithm: build the baseline on the fly
		// so a new decision stream becomes checkable without waiting for an
		// operator to recompute.
		baseline, err = e.baselines.Recompute(ctx, algorithm)
		if err != nil {
			zap.L().Warn("one-off baseline recompute failed",
				zap.String("algorithm", algorithm),
				zap.Error(err),
			)
			return noData(algorithm, 0, "no baseline"), nil
		}
		if len(baseline.Distribution) == 0 {
			return noData(algorithm, 0, "no baseline"), nil
		}
	}

	window := time.Duration(e.cfg.CurrentWindowMins) * time.Minute
	current, err := e.store.CurrentDistribution(ctx, algorithm, window)
	if err != nil {
		return nil, eris.Wrapf(err, "drift: check %s", algorithm)
	}
	if current.Count < e.cfg.MinSamples {
		return noData(algorithm, current.Count, "insufficient samples"), nil
	}

	kl := KLDivergence(current.Distribution, baseline.Distribution)
	debug := &model.DriftDebug{
		KLDivergence: kl,
		Threshold:    e.cfg.KLThreshold,
		Current:      current.Distribution,
		Baseline:     baseline.Distribution,
		SampleCount:  current.Count,
	}

	// Strictly greater than: a divergence exactly at the threshold is not
	// an incident.
	if kl <= e.cfg.KLThreshold {
		return &model.DriftCheck{
			Algorithm: algorithm,
			Outcome:   model.OutcomeNoDrift,
			Debug:     debug,
		}, nil
	}

	// Soft debounce: skip opening a second incident while a fresh one for
	// the same algorithm is still being worked. Best effort, not a lock.
	recent, err := e.store.RecentIncidentExists(ctx, algorithm, window)
	if err != nil {
		return nil, eris.Wrapf(err, "drift: check %s", algorithm)
	}
	if recent {
		debug.Reason = "recent incident open"
		return &model.DriftCheck{
			Algorithm: algorithm,
			Outcome:   model.OutcomeNoDrift,
			Debug:     debug,
		}, nil
	}

	inc := e.buildIncident(algorithm, kl, current)
	if err := e.store.CreateIncident(ctx, inc); err != nil {
		return nil, eris.Wrapf(err, "drift: persist incident for %s", algorithm)
	}

	zap.L().Warn("drift incident detected",
		zap.String("incident_id", inc.IncidentID),
		zap.String("algorithm", algorithm),
		zap.Float64("kl_divergence", kl),
		zap.Float64("drift_score", inc.DriftScore),
		zap.Float64("revenue_impact", inc.RevenueImpact),
		zap.Strings("affected_zones", inc.AffectedZones),
	)

	// Handoff and automation are fire-and-forget: detection never blocks on
	// agent or webhook availability.
	bg := context.WithoutCancel(ctx)
	if e.responder != nil {
		go e.handoff(bg, inc)
	}
	if e.notifier != nil {
		go func() {
			if err := e.notifier.TriggerDriftWorkflow(bg, inc); err != nil {
				zap.L().Error("drift workflow trigger failed",
					zap.String("incident_id", inc.IncidentID),
					zap.Error(err),
				)
			}
		}()
	}

	return &model.DriftCheck{
		Algorithm: algorithm,
		Outcome:   model.OutcomeIncident,
		Incident:  &inc,
	}, nil
}

func noData(algorithm string, samples int, reason string) *model.DriftCheck {
	return &model.DriftCheck{
		Algorithm: algorithm,
		Outcome:   model.OutcomeNoData,
		Debug: &model.DriftDebug{
			SampleCount: samples,
			Reason:      reason,
		},
	}
}

func (e *Engine) buildIncident(algorithm string, kl float64, current *model.CurrentDistribution) model.Incident {
	severity := math.Min(kl/e.cfg.KLThreshold, severityCap)
	now := e.now()

	return model.Incident{
		IncidentID:     fmt.Sprintf("drift_%s_%d", algorithm, now.Unix()),
		Algorithm:      algorithm,
		DriftScore:     severity,
		KLDivergence:   kl,
		AffectedMetric: MetricOutputDistribution,
		AffectedZones:  topZones(current.Zones),
		RevenueImpact:  severity * revenuePerSeverityPoint,
		Status:         model.IncidentDetected,
		DetectedAt:     now,
	}
}

// topZones returns the busiest zones above the count floor, capped at
// maxAffectedZones, ordered by decision count descending.
func topZones(zones map[string]int) []string {
	type zc struct {
		zone  string
		count int
	}
	var hot []zc
	for zone, count := range zones {
		if count > zoneCountFloor {
			hot = append(hot, zc{zone, count})
		}
	}
	sort.Slice(hot, func(i, j int) bool {
		if hot[i].count != hot[j].count {
			return hot[i].count > hot[j].count
		}
		return hot[i].zone < hot[j].zone
	})
	if len(hot) > maxAffectedZones {
		hot = hot[:maxAffectedZones]
	}
	out := make([]string, len(hot))
	for i, z := range hot {
		out[i] = z.zone
	}
	return out
}

// handoffInstruction is what the diagnostician agent receives.
func handoffInstruction(inc model.Incident) string {
	return fmt.Sprintf(
		"Drift incident %s: algorithm %s diverged from its baseline "+
			"(KL divergence %.4f, drift score %.2f). Affected zones: %v. "+
			"Investigate the decision stream, identify the likely root cause, "+
			"and recommend a remediation with a confidence score.",
		inc.IncidentID, inc.Algorithm, inc.KLDivergence, inc.DriftScore, inc.AffectedZones,
	)
}

// handoff asks the diagnostician agent to analyze a fresh incident. On
// failure the handoff is queued for retry instead of being lost.
func (e *Engine) handoff(ctx context.Context, inc model.Incident) {
	start := e.now()
	instruction := handoffInstruction(inc)

	analysis, err := e.responder.Invoke(ctx, e.cfg.DiagnosticianAgent, instruction)
	e.logAgentCall(ctx, e.cfg.DiagnosticianAgent, "drift_incident", start, err)
	if err != nil {
		zap.L().Error("agent handoff failed, queueing for retry",
			zap.String("incident_id", inc.IncidentID),
			zap.Error(err),
		)
		e.enqueueHandoff(ctx, inc, instruction, err)
		return
	}

	if err := e.store.SetIncidentAnalysis(ctx, inc.IncidentID, analysis, model.IncidentInvestigating); err != nil {
		zap.L().Error("failed to record agent analysis",
			zap.String("incident_id", inc.IncidentID),
			zap.Error(err),
		)
	}
}

func (e *Engine) enqueueHandoff(ctx context.Context, inc model.Incident, instruction string, cause error) {
	now := e.now()
	entry := resilience.HandoffEntry{
		IncidentID:   inc.IncidentID,
		Agent:        e.cfg.DiagnosticianAgent,
		Instruction:  instruction,
		Error:        cause.Error(),
		ErrorType:    resilience.ClassifyError(cause),
		MaxRetries:   e.cfg.HandoffMaxRetries,
		NextRetryAt:  now.Add(time.Minute),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err := e.store.EnqueueHandoff(ctx, entry); err != nil {
		zap.L().Error("failed to enqueue handoff",
			zap.String("incident_id", inc.IncidentID),
			zap.Error(err),
		)
	}
}

// RetryHandoffs drains due entries from the handoff queue. Called from the
// sweep loop.
func (e *Engine) RetryHandoffs(ctx context.Context) {
	if e.responder == nil {
		return
	}
	entries, err := e.store.DueHandoffs(ctx, resilience.HandoffFilter{Limit: 20})
	if err != nil {
		zap.L().Error("failed to list due handoffs", zap.Error(err))
		return
	}

	for _, entry := range entries {
		start := e.now()
		analysis, err := e.responder.Invoke(ctx, entry.Agent, entry.Instruction)
		e.logAgentCall(ctx, entry.Agent, "handoff_retry", start, err)
		if err != nil {
			backoff := time.Duration(1<<uint(entry.RetryCount)) * time.Minute
			if retryErr := e.store.IncrementHandoffRetry(ctx, entry.ID, e.now().Add(backoff), err.Error()); retryErr != nil {
				zap.L().Error("failed to bump handoff retry", zap.String("id", entry.ID), zap.Error(retryErr))
			}
			continue
		}

		if err := e.store.SetIncidentAnalysis(ctx, entry.IncidentID, analysis, model.IncidentInvestigating); err != nil {
			zap.L().Error("failed to record retried analysis",
				zap.String("incident_id", entry.IncidentID),
				zap.Error(err),
			)
			continue
		}
		if err := e.store.RemoveHandoff(ctx, entry.ID); err != nil {
			zap.L().Error("failed to remove completed handoff", zap.String("id", entry.ID), zap.Error(err))
		}
	}
}

func (e *Engine) logAgentCall(ctx context.Context, agent, trigger string, start time.Time, callErr error) {
	status := "success"
	if callErr != nil {
		status = "error"
	}
	log := model.AgentLog{
		Agent:      agent,
		Status:     status,
		DurationMS: float64(e.now().Sub(start).Milliseconds()),
		Trigger:    trigger,
		Timestamp:  e.now(),
	}
	if err := e.store.InsertAgentLog(ctx, log); err != nil {
		zap.L().Warn("failed to record agent log", zap.Error(err))
	}
}

// Resolve closes an incident with the given remediation. Confidence at or
// above the auto-fix threshold marks the resolution as automatic; below it
// the action is recorded as operator-applied.
func (e *Engine) Resolve(ctx context.Context, incidentID, action string, confidence float64, details string) (*model.Resolution, error) {
	inc, err := e.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, eris.Errorf("drift: incident not found: %s", incidentID)
	}

	autoFixed := confidence >= e.cfg.AutoFixConfidence
	if autoFixed {
		// Visible intermediate state for dashboards watching the incident.
		if err := e.store.UpdateIncidentStatus(ctx, incidentID, model.IncidentAutoFixing); err != nil {
			return nil, err
		}
	}

	res := model.Resolution{
		Action:     action,
		Confidence: confidence,
		AutoFixed:  autoFixed,
		Details:    details,
		ResolvedAt: e.now(),
	}
	if err := e.store.ResolveIncident(ctx, incidentID, res); err != nil {
		return nil, err
	}

	zap.L().Info("incident resolved",
		zap.String("incident_id", incidentID),
		zap.String("action", action),
		zap.Float64("confidence", confidence),
		zap.Bool("auto_fixed", autoFixed),
	)
	return &res, nil
}

// Metrics aggregates incident stats over the period.
func (e *Engine) Metrics(ctx context.Context, periodHours int) (*model.DriftMetrics, error) {
	return e.store.DriftMetrics(ctx, periodHours)
}

// Run starts the periodic sweep loop. It blocks until ctx is cancelled.
// Each sweep checks every active algorithm; a failure on one algorithm never
// stops the others.
func (e *Engine) Run(ctx context.Context) {
	interval := time.Duration(e.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	log := zap.L().With(zap.String("component", "drift.engine"))
	log.Info("starting drift sweep loop",
		zap.Duration("interval", interval),
		zap.Float64("kl_threshold", e.cfg.KLThreshold),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("drift sweep loop stopped")
			return
		case <-ticker.C:
			e.Sweep(ctx)
			e.RetryHandoffs(ctx)
		}
	}
}

// Sweep checks every algorithm active in the last hour once.
func (e *Engine) Sweep(ctx context.Context) {
	log := zap.L().With(zap.String("component", "drift.engine"))

	algorithms, err := e.store.ActiveAlgorithms(ctx, time.Hour)
	if err != nil {
		log.Error("sweep: failed to list active algorithms", zap.Error(err))
		return
	}

	var incidents, noDrift, skipped int
	for _, algorithm := range algorithms {
		check, err := e.CheckAlgorithm(ctx, algorithm)
		if err != nil {
			log.Error("sweep: check failed",
				zap.String("algorithm", algorithm),
				zap.Error(err),
			)
			continue
		}
		switch check.Outcome {
		case model.OutcomeIncident:
			incidents++
		case model.OutcomeNoDrift:
			noDrift++
		default:
			skipped++
		}
	}

	log.Info("sweep complete",
		zap.Int("algorithms", len(algorithms)),
		zap.Int("incidents", incidents),
		zap.Int("no_drift", noDrift),
		zap.Int("no_data", skipped),
	)
}
