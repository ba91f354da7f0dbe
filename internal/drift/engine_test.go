package drift

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-group/catalog-sentinel/internal/config"
	"github.com/sentinel-group/catalog-sentinel/internal/model"
	"github.com/sentinel-group/catalog-sentinel/internal/resilience"
	"github.com/sentinel-group/catalog-sentinel/internal/store"
)

// mockStore implements the subset of store.Store the drift engine touches.
// Unimplemented methods panic via the embedded nil interface.
type mockStore struct {
	store.Store

	baseline *model.Baseline
	current  *model.CurrentDistribution

	created     []model.Incident
	analyses    map[string]string
	statuses    map[string]model.IncidentStatus
	resolutions map[string]model.Resolution
	handoffs    []resilience.HandoffEntry
	removed     []string
	retried     []string
	agentLogs   []model.AgentLog

	stats      *model.BaselineStats
	statsDist  map[string]float64
	statsErr   error
	algorithms []string
	baselines  []model.Baseline
	recent     bool

	checked        []string
	baselineErrFor string
	activeWindow   time.Duration
	analysisDone   chan struct{}
}

func newMockStore() *mockStore {
	return &mockStore{
		analyses:    map[string]string{},
		statuses:    map[string]model.IncidentStatus{},
		resolutions: map[string]model.Resolution{},
	}
}

func (m *mockStore) GetBaseline(_ context.Context, algorithm string) (*model.Baseline, error) {
	m.checked = append(m.checked, algorithm)
	if algorithm == m.baselineErrFor {
		return nil, errors.New("relation baselines does not exist")
	}
	return m.baseline, nil
}

func (m *mockStore) CurrentDistribution(context.Context, string, time.Duration) (*model.CurrentDistribution, error) {
	return m.current, nil
}

func (m *mockStore) CreateIncident(_ context.Context, inc model.Incident) error {
	m.created = append(m.created, inc)
	m.statuses[inc.IncidentID] = inc.Status
	return nil
}

func (m *mockStore) GetIncident(_ context.Context, id string) (*model.Incident, error) {
	for i := range m.created {
		if m.created[i].IncidentID == id {
			return &m.created[i], nil
		}
	}
	return nil, nil
}

func (m *mockStore) SetIncidentAnalysis(_ context.Context, id, analysis string, status model.IncidentStatus) error {
	m.analyses[id] = analysis
	m.statuses[id] = status
	if m.analysisDone != nil {
		close(m.analysisDone)
	}
	return nil
}

func (m *mockStore) UpdateIncidentStatus(_ context.Context, id string, status model.IncidentStatus) error {
	m.statuses[id] = status
	return nil
}

func (m *mockStore) ResolveIncident(_ context.Context, id string, res model.Resolution) error {
	m.resolutions[id] = res
	m.statuses[id] = model.IncidentResolved
	return nil
}

func (m *mockStore) RecentIncidentExists(context.Context, string, time.Duration) (bool, error) {
	return m.recent, nil
}

func (m *mockStore) EnqueueHandoff(_ context.Context, entry resilience.HandoffEntry) error {
	m.handoffs = append(m.handoffs, entry)
	return nil
}

func (m *mockStore) DueHandoffs(context.Context, resilience.HandoffFilter) ([]resilience.HandoffEntry, error) {
	return m.handoffs, nil
}

func (m *mockStore) IncrementHandoffRetry(_ context.Context, id string, _ time.Time, _ string) error {
	m.retried = append(m.retried, id)
	return nil
}

func (m *mockStore) RemoveHandoff(_ context.Context, id string) error {
	m.removed = append(m.removed, id)
	return nil
}

func (m *mockStore) InsertAgentLog(_ context.Context, l model.AgentLog) error {
	m.agentLogs = append(m.agentLogs, l)
	return nil
}

func (m *mockStore) DecisionStats(context.Context, string, time.Duration) (*model.BaselineStats, map[string]float64, error) {
	if m.statsErr != nil {
		return nil, nil, m.statsErr
	}
	return m.stats, m.statsDist, nil
}

func (m *mockStore) UpsertBaseline(_ context.Context, b model.Baseline) error {
	m.baselines = append(m.baselines, b)
	return nil
}

func (m *mockStore) ActiveAlgorithms(_ context.Context, window time.Duration) ([]string, error) {
	m.activeWindow = window
	return m.algorithms, nil
}

// mockResponder returns a canned reply or error.
type mockResponder struct {
	reply string
	err   error
	calls int
}

func (r *mockResponder) Invoke(context.Context, string, string) (string, error) {
	r.calls++
	return r.reply, r.err
}

func testDriftConfig() config.DriftConfig {
	return config.DriftConfig{
		KLThreshold:        0.3,
		CheckIntervalSecs:  60,
		BaselineDays:       7,
		CurrentWindowMins:  30,
		MinSamples:         5,
		AutoFixConfidence:  0.85,
		HandoffMaxRetries:  3,
		DiagnosticianAgent: "drift-diagnostician",
		ResolverAgent:      "drift-resolver",
	}
}

func newTestEngine(st *mockStore, responder Responder) *Engine {
	e := NewEngine(st, NewBaselineManager(st, 7), testDriftConfig(), responder, nil)
	e.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func TestCheckAlgorithm_MissingBaselineRecomputes(t *testing.T) {
	// No stored baseline, but seven days of decision history: the check
	// builds the baseline on the fly and proceeds instead of skipping.
	st := newMockStore()
	st.stats = &model.BaselineStats{Count: 5000, Mean: 1.4}
	st.statsDist = map[string]float64{"normal": 0.5, "surge_2x": 0.5}
	st.current = &model.CurrentDistribution{
		Count:        100,
		Distribution: map[string]float64{"normal": 0.5, "surge_2x": 0.5},
	}
	e := newTestEngine(st, nil)

	check, err := e.CheckAlgorithm(context.Background(), "surge_pricing")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNoDrift, check.Outcome)

	// The fresh baseline was persisted for the next sweep.
	require.Len(t, st.baselines, 1)
	assert.Equal(t, "surge_pricing", st.baselines[0].Algorithm)
}

func TestCheckAlgorithm_NoBaselineNoHistory(t *testing.T) {
	// A brand new algorithm with no decisions at all: the one-off recompute
	// yields a degenerate baseline and the check reports no_data.
	st := newMockStore()
	st.stats = &model.BaselineStats{}
	st.statsDist = map[string]float64{}
	e := newTestEngine(st, nil)

	check, err := e.CheckAlgorithm(context.Background(), "brand_new_algo")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNoData, check.Outcome)
	assert.Equal(t, "no baseline", check.Debug.Reason)
	assert.Empty(t, st.created)
}

func TestCheckAlgorithm_RecomputeFailureIsNoData(t *testing.T) {
	st := newMockStore()
	st.statsErr = errors.New("connection reset")
	e := newTestEngine(st, nil)

	check, err := e.CheckAlgorithm(context.Background(), "surge_pricing")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNoData, check.Outcome)
	assert.Equal(t, "no baseline", check.Debug.Reason)
}

func TestCheckAlgorithm_InsufficientSamples(t *testing.T) {
	st := newMockStore()
	st.baseline = &model.Baseline{
		Algorithm:    "surge_pricing",
		Distribution: map[string]float64{"normal": 1.0},
	}
	st.current = &model.CurrentDistribution{Count: 4, Distribution: map[string]float64{"normal": 1.0}}
	e := newTestEngine(st, nil)

	check, err := e.CheckAlgorithm(context.Background(), "surge_pricing")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNoData, check.Outcome)
	assert.Equal(t, "insufficient samples", check.Debug.Reason)
	assert.Equal(t, 4, check.Debug.SampleCount)
}

func TestCheckAlgorithm_AtThresholdIsNoDrift(t *testing.T) {
	st := newMockStore()
	st.baseline = &model.Baseline{
		Algorithm:    "surge_pricing",
		Distribution: map[string]float64{"normal": 0.5, "surge_2x": 0.5},
	}
	// Identical distribution: KL is 0, well under the threshold.
	st.current = &model.CurrentDistribution{
		Count:        100,
		Distribution: map[string]float64{"normal": 0.5, "surge_2x": 0.5},
	}
	e := newTestEngine(st, nil)

	check, err := e.CheckAlgorithm(context.Background(), "surge_pricing")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNoDrift, check.Outcome)
	require.NotNil(t, check.Debug)
	assert.InDelta(t, 0.0, check.Debug.KLDivergence, 1e-6)
	assert.InDelta(t, 0.3, check.Debug.Threshold, 1e-9)
	assert.Empty(t, st.created)
}

func TestCheckAlgorithm_DetectsIncident(t *testing.T) {
	st := newMockStore()
	st.baseline = &model.Baseline{
		Algorithm:    "surge_pricing",
		Distribution: map[string]float64{"normal": 0.9, "surge_2x": 0.1},
	}
	st.current = &model.CurrentDistribution{
		Count:        500,
		Distribution: map[string]float64{"normal": 0.2, "surge_2x": 0.8},
		Zones: map[string]int{
			"downtown": 400, "airport": 300, "midtown": 250,
			"harbor": 180, "uptown": 150, "suburbs": 120, "quiet": 40,
		},
	}
	e := newTestEngine(st, nil)

	check, err := e.CheckAlgorithm(context.Background(), "surge_pricing")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeIncident, check.Outcome)
	require.NotNil(t, check.Incident)

	inc := check.Incident
	assert.Equal(t, "drift_surge_pricing_1748779200", inc.IncidentID)
	assert.Greater(t, inc.KLDivergence, 0.3)
	assert.Equal(t, model.IncidentDetected, inc.Status)
	assert.InDelta(t, inc.DriftScore*revenuePerSeverityPoint, inc.RevenueImpact, 1e-6)

	// Six zones clear the floor but only five are reported, busiest first.
	assert.Equal(t, []string{"downtown", "airport", "midtown", "harbor", "uptown"}, inc.AffectedZones)

	// Persisted before any handoff.
	require.Len(t, st.created, 1)
	assert.Equal(t, model.IncidentDetected, st.created[0].Status)
}

func TestCheckAlgorithm_SeverityCapped(t *testing.T) {
	st := newMockStore()
	st.baseline = &model.Baseline{
		Algorithm:    "search_rank",
		Distribution: map[string]float64{"relevant": 1.0},
	}
	st.current = &model.CurrentDistribution{
		Count:        1000,
		Distribution: map[string]float64{"spam": 1.0},
	}
	e := newTestEngine(st, nil)

	check, err := e.CheckAlgorithm(context.Background(), "search_rank")
	require.NoError(t, err)
	require.Equal(t, model.OutcomeIncident, check.Outcome)
	assert.InDelta(t, severityCap, check.Incident.DriftScore, 1e-9)
	assert.InDelta(t, severityCap*revenuePerSeverityPoint, check.Incident.RevenueImpact, 1e-6)
}

func TestCheckAlgorithm_DebouncesRecentIncident(t *testing.T) {
	st := newMockStore()
	st.baseline = &model.Baseline{
		Algorithm:    "surge_pricing",
		Distribution: map[string]float64{"normal": 1.0},
	}
	st.current = &model.CurrentDistribution{
		Count:        200,
		Distribution: map[string]float64{"surge_3x": 1.0},
	}
	st.recent = true
	e := newTestEngine(st, nil)

	check, err := e.CheckAlgorithm(context.Background(), "surge_pricing")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNoDrift, check.Outcome)
	assert.Equal(t, "recent incident open", check.Debug.Reason)
	assert.Empty(t, st.created)
}

func TestHandoff_RecordsAnalysis(t *testing.T) {
	st := newMockStore()
	responder := &mockResponder{reply: "Root cause: stale features."}
	e := newTestEngine(st, responder)

	inc := model.Incident{IncidentID: "inc-1", Algorithm: "surge_pricing"}
	e.handoff(context.Background(), inc)

	assert.Equal(t, "Root cause: stale features.", st.analyses["inc-1"])
	assert.Equal(t, model.IncidentInvestigating, st.statuses["inc-1"])
	assert.Empty(t, st.handoffs)
	require.Len(t, st.agentLogs, 1)
	assert.Equal(t, "success", st.agentLogs[0].Status)
}

func TestHandoff_FailureQueuesRetry(t *testing.T) {
	st := newMockStore()
	responder := &mockResponder{err: errors.New("connection refused")}
	e := newTestEngine(st, responder)

	inc := model.Incident{IncidentID: "inc-2", Algorithm: "surge_pricing"}
	e.handoff(context.Background(), inc)

	require.Len(t, st.handoffs, 1)
	entry := st.handoffs[0]
	assert.Equal(t, "inc-2", entry.IncidentID)
	assert.Equal(t, "drift-diagnostician", entry.Agent)
	assert.Equal(t, 3, entry.MaxRetries)
	assert.Empty(t, st.analyses)
	require.Len(t, st.agentLogs, 1)
	assert.Equal(t, "error", st.agentLogs[0].Status)
}

func TestRetryHandoffs_SuccessRemovesEntry(t *testing.T) {
	st := newMockStore()
	st.handoffs = []resilience.HandoffEntry{{
		ID:          "h-1",
		IncidentID:  "inc-3",
		Agent:       "drift-diagnostician",
		Instruction: "analyze",
	}}
	responder := &mockResponder{reply: "recovered analysis"}
	e := newTestEngine(st, responder)

	e.RetryHandoffs(context.Background())

	assert.Equal(t, "recovered analysis", st.analyses["inc-3"])
	assert.Equal(t, []string{"h-1"}, st.removed)
	assert.Empty(t, st.retried)
}

func TestRetryHandoffs_FailureBumpsRetry(t *testing.T) {
	st := newMockStore()
	st.handoffs = []resilience.HandoffEntry{{ID: "h-2", IncidentID: "inc-4", RetryCount: 1}}
	responder := &mockResponder{err: errors.New("still down")}
	e := newTestEngine(st, responder)

	e.RetryHandoffs(context.Background())

	assert.Equal(t, []string{"h-2"}, st.retried)
	assert.Empty(t, st.removed)
}

func TestResolve_AutoFixAtThreshold(t *testing.T) {
	st := newMockStore()
	st.created = []model.Incident{{IncidentID: "inc-5", Status: model.IncidentInvestigating}}
	e := newTestEngine(st, nil)

	res, err := e.Resolve(context.Background(), "inc-5", "rollback", 0.85, "reverting model v2 to v1")
	require.NoError(t, err)
	assert.True(t, res.AutoFixed)
	assert.Equal(t, model.IncidentResolved, st.statuses["inc-5"])
	assert.True(t, st.resolutions["inc-5"].AutoFixed)
}

func TestResolve_BelowThresholdIsManual(t *testing.T) {
	st := newMockStore()
	st.created = []model.Incident{{IncidentID: "inc-6", Status: model.IncidentInvestigating}}
	e := newTestEngine(st, nil)

	res, err := e.Resolve(context.Background(), "inc-6", "pause", 0.6, "")
	require.NoError(t, err)
	assert.False(t, res.AutoFixed)
	assert.Equal(t, model.IncidentResolved, st.statuses["inc-6"])
}

func TestResolve_UnknownIncident(t *testing.T) {
	st := newMockStore()
	e := newTestEngine(st, nil)

	_, err := e.Resolve(context.Background(), "nope", "rollback", 0.9, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSweep_IsolatesFailures(t *testing.T) {
	// A store failure on one algorithm must not stop the rest of the sweep.
	st := newMockStore()
	st.algorithms = []string{"broken_algo", "surge_pricing"}
	st.baselineErrFor = "broken_algo"
	st.baseline = &model.Baseline{
		Algorithm:    "surge_pricing",
		Distribution: map[string]float64{"normal": 0.5, "surge_2x": 0.5},
	}
	st.current = &model.CurrentDistribution{
		Count:        100,
		Distribution: map[string]float64{"normal": 0.5, "surge_2x": 0.5},
	}
	e := newTestEngine(st, nil)

	e.Sweep(context.Background())

	assert.Equal(t, []string{"broken_algo", "surge_pricing"}, st.checked)
	assert.Equal(t, time.Hour, st.activeWindow)
}

// blockingResponder stalls until released, standing in for a slow agent.
type blockingResponder struct {
	release chan struct{}
}

func (r *blockingResponder) Invoke(context.Context, string, string) (string, error) {
	<-r.release
	return "late analysis", nil
}

func TestCheckAlgorithm_HandoffDoesNotBlockDetection(t *testing.T) {
	st := newMockStore()
	st.baseline = &model.Baseline{
		Algorithm:    "surge_pricing",
		Distribution: map[string]float64{"normal": 1.0},
	}
	st.current = &model.CurrentDistribution{
		Count:        200,
		Distribution: map[string]float64{"surge_3x": 1.0},
	}
	done := make(chan struct{})
	st.analysisDone = done

	responder := &blockingResponder{release: make(chan struct{})}
	e := newTestEngine(st, responder)

	check, err := e.CheckAlgorithm(context.Background(), "surge_pricing")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeIncident, check.Outcome)

	// The check returned while the agent call is still in flight.
	select {
	case <-done:
		t.Fatal("analysis recorded before the agent replied")
	default:
	}

	close(responder.release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handoff never completed after the agent replied")
	}
	assert.Equal(t, "late analysis", st.analyses[check.Incident.IncidentID])
	assert.Equal(t, model.IncidentInvestigating, st.statuses[check.Incident.IncidentID])
}

func TestTopZones(t *testing.T) {
	t.Parallel()

	zones := map[string]int{"a": 500, "b": 101, "c": 100, "d": 99}
	assert.Equal(t, []string{"a", "b"}, topZones(zones))

	assert.Empty(t, topZones(nil))
	assert.Empty(t, topZones(map[string]int{"quiet": 50}))
}

func TestBaselineManager_Recompute(t *testing.T) {
	st := newMockStore()
	st.stats = &model.BaselineStats{Count: 5000, Mean: 1.4}
	st.statsDist = map[string]float64{"normal": 0.7, "surge_2x": 0.3}
	m := NewBaselineManager(st, 7)
	m.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

	b, err := m.Recompute(context.Background(), "surge_pricing")
	require.NoError(t, err)
	assert.Equal(t, MetricOutputDistribution, b.Metric)
	assert.Equal(t, "168h0m0s", b.Window)
	assert.Equal(t, 5000, b.Stats.Count)
	require.Len(t, st.baselines, 1)
}

func TestBaselineManager_Recompute_EmptyIsDegenerate(t *testing.T) {
	st := newMockStore()
	st.stats = &model.BaselineStats{}
	st.statsDist = map[string]float64{}
	m := NewBaselineManager(st, 7)

	b, err := m.Recompute(context.Background(), "brand_new_algo")
	require.NoError(t, err)
	assert.Zero(t, b.Stats.Count)
	assert.Empty(t, b.Distribution)
	// Persisted anyway so the sweep reports no_data, not an error.
	require.Len(t, st.baselines, 1)
}

func TestBaselineManager_RecomputeAll(t *testing.T) {
	st := newMockStore()
	st.algorithms = []string{"surge_pricing", "delivery_eta"}
	st.stats = &model.BaselineStats{Count: 10}
	st.statsDist = map[string]float64{"x": 1}
	m := NewBaselineManager(st, 7)

	bs, err := m.RecomputeAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, bs, 2)
}
