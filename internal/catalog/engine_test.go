package catalog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-group/catalog-sentinel/internal/config"
	"github.com/sentinel-group/catalog-sentinel/internal/model"
	"github.com/sentinel-group/catalog-sentinel/internal/store"
)

// mockStore implements the catalog subset of store.Store. Unimplemented
// methods panic via the embedded nil interface.
type mockStore struct {
	store.Store

	candidates []model.CatalogEntry
	keyword    []model.CatalogEntry
	registry   []model.SchemaRegistryEntry
	entry      *model.CatalogEntry

	attrCounts map[string]int
	attrTotal  int

	replacedCategory string
	replacedRows     []model.SchemaRegistryEntry

	upserted     []model.CatalogEntry
	mappings     []model.SchemaMapping
	scoreRecords []model.ScoreRecord

	upsertErr error
}

func newMockStore() *mockStore {
	return &mockStore{}
}

func (m *mockStore) CandidateEntries(context.Context, string, string, int) ([]model.CatalogEntry, error) {
	return m.candidates, nil
}

func (m *mockStore) KeywordEntries(context.Context, string, string, int) ([]model.CatalogEntry, error) {
	return m.keyword, nil
}

func (m *mockStore) GetRegistry(context.Context, string) ([]model.SchemaRegistryEntry, error) {
	return m.registry, nil
}

func (m *mockStore) GetEntry(context.Context, string) (*model.CatalogEntry, error) {
	return m.entry, nil
}

func (m *mockStore) CategoryAttributeCounts(context.Context, string) (map[string]int, int, error) {
	return m.attrCounts, m.attrTotal, nil
}

func (m *mockStore) ReplaceRegistry(_ context.Context, category string, rows []model.SchemaRegistryEntry) error {
	m.replacedCategory = category
	m.replacedRows = rows
	return nil
}

func (m *mockStore) UpsertEntry(_ context.Context, e model.CatalogEntry) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserted = append(m.upserted, e)
	return nil
}

func (m *mockStore) InsertMappings(_ context.Context, ms []model.SchemaMapping) error {
	m.mappings = append(m.mappings, ms...)
	return nil
}

func (m *mockStore) InsertScoreRecord(_ context.Context, r model.ScoreRecord) error {
	m.scoreRecords = append(m.scoreRecords, r)
	return nil
}

// mockEmbedder satisfies jina.Client.
type mockEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (e *mockEmbedder) Embed(context.Context, string) ([]float32, error) {
	e.calls++
	return e.vector, e.err
}

func (e *mockEmbedder) BatchEmbed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vector
	}
	return out, e.err
}

// mockNotifier records triggered reports.
type mockNotifier struct {
	mu      sync.Mutex
	reports []model.FindabilityReport
	done    chan struct{}
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{done: make(chan struct{}, 1)}
}

func (n *mockNotifier) TriggerCatalogWorkflow(_ context.Context, r model.FindabilityReport) error {
	n.mu.Lock()
	n.reports = append(n.reports, r)
	n.mu.Unlock()
	n.done <- struct{}{}
	return nil
}

func (n *mockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.reports)
}

func testCatalogConfig() config.CatalogConfig {
	return config.CatalogConfig{
		FindabilityThreshold: 50,
		TicketThreshold:      30,
		MinSupport:           0.3,
		AutoMapConfidence:    0.75,
		SimilarK:             30,
		CandidatePool:        100,
	}
}

func newTestCatalogEngine(st *mockStore, embedder *mockEmbedder, notifier Notifier) *Engine {
	var e *Engine
	if embedder == nil {
		e = NewEngine(st, nil, testCatalogConfig(), notifier)
	} else {
		e = NewEngine(st, embedder, testCatalogConfig(), notifier)
	}
	e.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func TestProcess_FullPipeline(t *testing.T) {
	st := newMockStore()
	st.registry = []model.SchemaRegistryEntry{
		{Category: "footwear", CanonicalName: "color", SupportPct: 0.9},
	}
	st.candidates = []model.CatalogEntry{
		{ProductID: "sim-1", Embedding: []float32{1, 0}, FindabilityScore: 90,
			Attributes: map[string]any{"color": "black"}},
	}
	embedder := &mockEmbedder{vector: []float32{1, 0}}
	e := newTestCatalogEngine(st, embedder, nil)

	entry := completeEntry()
	delete(entry.Attributes, "color")
	entry.Attributes["Color"] = "brown"

	res, err := e.Process(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.calls)
	assert.Equal(t, 1, res.MappingsApplied)

	require.Len(t, st.upserted, 1)
	saved := st.upserted[0]
	assert.Equal(t, "brown", saved.Attributes["color"])
	assert.NotContains(t, saved.Attributes, "Color")
	assert.Equal(t, []float32{1, 0}, saved.Embedding)
	assert.Equal(t, res.FindabilityScore, saved.FindabilityScore)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), saved.IngestedAt)

	require.Len(t, st.mappings, 1)
	assert.Equal(t, "Color", st.mappings[0].OriginalAttr)
	require.Len(t, st.scoreRecords, 1)
	assert.Equal(t, "p-1", st.scoreRecords[0].ProductID)
}

func TestProcess_RequiresProductID(t *testing.T) {
	e := newTestCatalogEngine(newMockStore(), nil, nil)

	_, err := e.Process(context.Background(), model.CatalogEntry{Name: "nameless"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "product_id")
}

func TestProcess_EmbeddingFailureDegrades(t *testing.T) {
	st := newMockStore()
	st.keyword = []model.CatalogEntry{{ProductID: "kw", FindabilityScore: 80}}
	embedder := &mockEmbedder{err: errors.New("quota exceeded")}
	e := newTestCatalogEngine(st, embedder, nil)

	res, err := e.Process(context.Background(), completeEntry())
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.FindabilityScore)
	require.Len(t, st.upserted, 1)
	assert.Empty(t, st.upserted[0].Embedding)
}

func TestProcess_PersistenceFailureSurfaces(t *testing.T) {
	st := newMockStore()
	st.upsertErr = errors.New("connection lost")
	e := newTestCatalogEngine(st, nil, nil)

	_, err := e.Process(context.Background(), completeEntry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist entry")
}

func TestProcess_LowScoreTriggersWorkflow(t *testing.T) {
	st := newMockStore()
	notifier := newMockNotifier()
	e := newTestCatalogEngine(st, nil, notifier)

	// Bare entry scores well below the findability threshold.
	_, err := e.Process(context.Background(), model.CatalogEntry{ProductID: "bare"})
	require.NoError(t, err)

	select {
	case <-notifier.done:
	case <-time.After(time.Second):
		t.Fatal("workflow was not triggered")
	}
	assert.Equal(t, 1, notifier.count())
}

func TestProcess_GoodScoreSkipsWorkflow(t *testing.T) {
	st := newMockStore()
	notifier := newMockNotifier()
	e := newTestCatalogEngine(st, nil, notifier)

	_, err := e.Process(context.Background(), completeEntry())
	require.NoError(t, err)

	select {
	case <-notifier.done:
		t.Fatal("workflow should not fire for a high score")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReport_RecomputesWithoutPersisting(t *testing.T) {
	st := newMockStore()
	entry := completeEntry()
	st.entry = &entry
	e := newTestCatalogEngine(st, nil, nil)

	report, err := e.Report(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, report.Score)
	assert.Empty(t, st.upserted)
	assert.Empty(t, st.scoreRecords)
}

func TestReport_UnknownProduct(t *testing.T) {
	e := newTestCatalogEngine(newMockStore(), nil, nil)

	_, err := e.Report(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestEmbeddingText(t *testing.T) {
	entry := model.CatalogEntry{
		Name: "Boot", Brand: "Northpeak", Category: "footwear",
		Description: "a sturdy boot",
	}
	text := embeddingText(entry)
	assert.Equal(t, "Boot Northpeak footwear a sturdy boot", text)

	sparse := embeddingText(model.CatalogEntry{Name: "Boot"})
	assert.Equal(t, "Boot", sparse)
	assert.False(t, strings.Contains(sparse, "  "))
}
