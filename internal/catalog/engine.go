package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sentinel-group/catalog-sentinel/internal/config"
	"github.com/sentinel-group/catalog-sentinel/internal/model"
	"github.com/sentinel-group/catalog-sentinel/internal/store"
	"github.com/sentinel-group/catalog-sentinel/pkg/jina"
)

// Notifier triggers downstream automation for a low-findability entry.
// Implementations must not fail processing; errors are logged and dropped.
type Notifier interface {
	TriggerCatalogWorkflow(ctx context.Context, report model.FindabilityReport) error
}

// Engine is the catalog intelligence engine. Process runs the full pipeline
// for one entry: embed, find comparable entries, infer and apply schema
// mappings, score findability, persist.
type Engine struct {
	store     store.Store
	embedder  jina.Client // nil disables the vector path
	matcher   *SimilarityMatcher
	inference *SchemaInferenceEngine
	scorer    *FindabilityScorer
	notifier  Notifier // nil disables workflow automation
	cfg       config.CatalogConfig
	now       func() time.Time
}

// NewEngine creates a catalog engine. embedder and notifier may be nil.
func NewEngine(s store.Store, embedder jina.Client, cfg config.CatalogConfig, notifier Notifier) *Engine {
	return &Engine{
		store:     s,
		embedder:  embedder,
		matcher:   NewSimilarityMatcher(s, cfg.SimilarK, cfg.CandidatePool),
		inference: NewSchemaInferenceEngine(s, cfg.MinSupport, cfg.AutoMapConfidence),
		scorer:    NewFindabilityScorer(),
		notifier:  notifier,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Process runs the pipeline for one entry and persists the result. Embedding
// failure degrades similarity to the keyword fallback; only persistence
// failures surface as errors.
func (e *Engine) Process(ctx context.Context, entry model.CatalogEntry) (*model.ProcessResult, error) {
	if strings.TrimSpace(entry.ProductID) == "" {
		return nil, eris.New("catalog: product_id is required")
	}

	embedding := entry.Embedding
	if len(embedding) == 0 && e.embedder != nil {
		vec, err := e.embedder.Embed(ctx, embeddingText(entry))
		if err != nil {
			zap.L().Warn("catalog: embedding failed, degrading to keyword similarity",
				zap.String("product_id", entry.ProductID),
				zap.Error(err),
			)
		} else {
			embedding = vec
		}
	}

	similar := e.matcher.Similar(ctx, entry, embedding)

	registry, err := e.inference.Registry(ctx, entry.Category, similar)
	if err != nil {
		zap.L().Warn("catalog: registry lookup failed, scoring without canonical schema",
			zap.String("product_id", entry.ProductID),
			zap.Error(err),
		)
		registry = nil
	}

	mappings := e.inference.InferMappings(entry, registry, similar)
	attributes, applied := e.inference.ApplyMappings(entry.Attributes, mappings)
	entry.Attributes = attributes

	report := e.scorer.Score(entry, registry, similar)

	now := e.now()
	entry.Embedding = embedding
	entry.FindabilityScore = report.Score
	entry.SchemaCompleteness = report.Completeness
	entry.UpdatedAt = now
	if entry.IngestedAt.IsZero() {
		entry.IngestedAt = now
	}

	if err := e.store.UpsertEntry(ctx, entry); err != nil {
		return nil, eris.Wrapf(err, "catalog: persist entry %s", entry.ProductID)
	}
	if err := e.store.InsertMappings(ctx, mappings); err != nil {
		return nil, eris.Wrapf(err, "catalog: persist mappings for %s", entry.ProductID)
	}
	if err := e.store.InsertScoreRecord(ctx, scoreRecord(report, now)); err != nil {
		return nil, eris.Wrapf(err, "catalog: persist score for %s", entry.ProductID)
	}

	zap.L().Info("catalog entry processed",
		zap.String("product_id", entry.ProductID),
		zap.Float64("findability_score", report.Score),
		zap.Int("mappings_applied", applied),
		zap.Int("similar_entries", len(similar)),
	)

	if e.notifier != nil && report.Score < e.cfg.FindabilityThreshold {
		bg := context.WithoutCancel(ctx)
		go func() {
			if err := e.notifier.TriggerCatalogWorkflow(bg, report); err != nil {
				zap.L().Error("catalog workflow trigger failed",
					zap.String("product_id", report.ProductID),
					zap.Error(err),
				)
			}
		}()
	}

	return &model.ProcessResult{
		ProductID:          entry.ProductID,
		FindabilityScore:   report.Score,
		SchemaCompleteness: report.Completeness,
		MappingsApplied:    applied,
		Issues:             report.Issues,
		VisibilityGainPct:  report.VisibilityGainPct,
	}, nil
}

// Report recomputes the findability report for a stored entry without
// persisting anything.
func (e *Engine) Report(ctx context.Context, productID string) (*model.FindabilityReport, error) {
	entry, err := e.store.GetEntry(ctx, productID)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: load entry %s", productID)
	}
	if entry == nil {
		return nil, eris.Errorf("catalog: product not found: %s", productID)
	}

	similar := e.matcher.Similar(ctx, *entry, entry.Embedding)
	registry, err := e.inference.Registry(ctx, entry.Category, similar)
	if err != nil {
		registry = nil
	}

	report := e.scorer.Score(*entry, registry, similar)
	return &report, nil
}

// RebuildRegistry rebuilds the canonical schema for a category.
func (e *Engine) RebuildRegistry(ctx context.Context, category string) ([]model.SchemaRegistryEntry, error) {
	return e.inference.RebuildRegistry(ctx, category)
}

// Registry returns the stored canonical schema for a category.
func (e *Engine) Registry(ctx context.Context, category string) ([]model.SchemaRegistryEntry, error) {
	return e.store.GetRegistry(ctx, category)
}

// Metrics aggregates catalog state for dashboards.
func (e *Engine) Metrics(ctx context.Context) (*model.CatalogMetrics, error) {
	return e.store.CatalogMetrics(ctx)
}

// embeddingText builds the text embedded for similarity search.
func embeddingText(entry model.CatalogEntry) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{entry.Name, entry.Brand, entry.Category, entry.Description} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func scoreRecord(report model.FindabilityReport, at time.Time) model.ScoreRecord {
	issues := make([]string, len(report.Issues))
	suggestions := make([]string, len(report.Issues))
	for i, iss := range report.Issues {
		issues[i] = iss.Issue
		suggestions[i] = iss.Suggestion
	}
	return model.ScoreRecord{
		ProductID:   report.ProductID,
		Score:       report.Score,
		Issues:      issues,
		Suggestions: strings.Join(suggestions, " "),
		ComputedAt:  at,
	}
}
