package store

import (
	"context"
	"time"

	"github.com/sentinel-group/catalog-sentinel/internal/model"
	"github.com/sentinel-group/catalog-sentinel/internal/resilience"
)

// IncidentFilter specifies criteria for listing drift incidents.
type IncidentFilter struct {
	Status    model.IncidentStatus `json:"status,omitempty"`
	Algorithm string               `json:"algorithm,omitempty"`
	Limit     int                  `json:"limit,omitempty"`
	Offset    int                  `json:"offset,omitempty"`
}

// EntryFilter specifies criteria for searching catalog entries.
type EntryFilter struct {
	Query    string  `json:"query,omitempty"`
	Category string  `json:"category,omitempty"`
	MaxScore float64 `json:"max_score,omitempty"` // when > 0, entries scoring at or below
	Limit    int     `json:"limit,omitempty"`
	Offset   int     `json:"offset,omitempty"`
}

// WorkflowFilter specifies criteria for listing workflow records.
type WorkflowFilter struct {
	Trigger string `json:"trigger,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// Store defines the persistence interface shared by the drift and catalog
// engines.
type Store interface {
	// Decisions
	InsertDecision(ctx context.Context, d model.Decision) error
	BulkInsertDecisions(ctx context.Context, ds []model.Decision) (int64, error)
	CurrentDistribution(ctx context.Context, algorithm string, window time.Duration) (*model.CurrentDistribution, error)
	DecisionStats(ctx context.Context, algorithm string, window time.Duration) (*model.BaselineStats, map[string]float64, error)
	ActiveAlgorithms(ctx context.Context, since time.Duration) ([]string, error)

	// Baselines
	UpsertBaseline(ctx context.Context, b model.Baseline) error
	GetBaseline(ctx context.Context, algorithm string) (*model.Baseline, error)

	// Incidents
	CreateIncident(ctx context.Context, inc model.Incident) error
	GetIncident(ctx context.Context, incidentID string) (*model.Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]model.Incident, error)
	UpdateIncidentStatus(ctx context.Context, incidentID string, status model.IncidentStatus) error
	SetIncidentAnalysis(ctx context.Context, incidentID string, analysis string, status model.IncidentStatus) error
	SetIncidentWorkflow(ctx context.Context, incidentID string, workflowID string, actions []string) error
	ResolveIncident(ctx context.Context, incidentID string, res model.Resolution) error
	RecentIncidentExists(ctx context.Context, algorithm string, within time.Duration) (bool, error)
	DriftMetrics(ctx context.Context, periodHours int) (*model.DriftMetrics, error)

	// Catalog entries
	UpsertEntry(ctx context.Context, e model.CatalogEntry) error
	GetEntry(ctx context.Context, productID string) (*model.CatalogEntry, error)
	SearchEntries(ctx context.Context, filter EntryFilter) ([]model.CatalogEntry, error)
	CandidateEntries(ctx context.Context, category, excludeID string, limit int) ([]model.CatalogEntry, error)
	KeywordEntries(ctx context.Context, query, category string, limit int) ([]model.CatalogEntry, error)
	CategoryAttributeCounts(ctx context.Context, category string) (map[string]int, int, error)

	// Schema registry and mappings
	ReplaceRegistry(ctx context.Context, category string, entries []model.SchemaRegistryEntry) error
	GetRegistry(ctx context.Context, category string) ([]model.SchemaRegistryEntry, error)
	InsertMappings(ctx context.Context, ms []model.SchemaMapping) error

	// Score history
	InsertScoreRecord(ctx context.Context, r model.ScoreRecord) error
	ScoreHistory(ctx context.Context, productID string, limit int) ([]model.ScoreRecord, error)
	CatalogMetrics(ctx context.Context) (*model.CatalogMetrics, error)

	// Workflows and agent audit
	InsertWorkflow(ctx context.Context, w model.WorkflowRecord) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]model.WorkflowRecord, error)
	WorkflowStats(ctx context.Context) (*model.WorkflowStats, error)
	InsertAgentLog(ctx context.Context, l model.AgentLog) error

	// Handoff queue
	EnqueueHandoff(ctx context.Context, entry resilience.HandoffEntry) error
	DueHandoffs(ctx context.Context, filter resilience.HandoffFilter) ([]resilience.HandoffEntry, error)
	IncrementHandoffRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveHandoff(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
