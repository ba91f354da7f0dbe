package catalog

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/sentinel-group/catalog-sentinel/internal/model"
	"github.com/sentinel-group/catalog-sentinel/internal/store"
)

// SimilarityMatcher finds comparable catalog entries for schema inference
// and visibility-gain estimates. A failed or empty lookup returns an empty
// slice, never an error: callers treat "no reference available" as a normal
// degraded mode.
type SimilarityMatcher struct {
	store         store.Store
	similarK      int
	candidatePool int
}

// NewSimilarityMatcher creates a matcher returning up to similarK neighbors
// drawn from a candidate pool of candidatePool same-category entries.
func NewSimilarityMatcher(s store.Store, similarK, candidatePool int) *SimilarityMatcher {
	if similarK <= 0 {
		similarK = 30
	}
	if candidatePool <= 0 {
		candidatePool = 100
	}
	return &SimilarityMatcher{store: s, similarK: similarK, candidatePool: candidatePool}
}

// Similar returns up to similarK entries comparable to the given entry,
// best-first. With an embedding it ranks same-category candidates by cosine
// similarity; without one it falls back to a keyword match on the entry name.
func (m *SimilarityMatcher) Similar(ctx context.Context, entry model.CatalogEntry, embedding []float32) []model.CatalogEntry {
	if len(embedding) > 0 {
		if neighbors := m.byVector(ctx, entry, embedding); len(neighbors) > 0 {
			return neighbors
		}
	}
	return m.byKeyword(ctx, entry)
}

func (m *SimilarityMatcher) byVector(ctx context.Context, entry model.CatalogEntry, embedding []float32) []model.CatalogEntry {
	candidates, err := m.store.CandidateEntries(ctx, entry.Category, entry.ProductID, m.candidatePool)
	if err != nil {
		zap.L().Warn("similarity: candidate lookup failed, falling back to keywords",
			zap.String("product_id", entry.ProductID),
			zap.Error(err),
		)
		return nil
	}

	type scored struct {
		entry model.CatalogEntry
		sim   float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Embedding) == 0 {
			continue
		}
		sim := cosineSimilarity(embedding, c.Embedding)
		if math.IsNaN(sim) {
			continue
		}
		ranked = append(ranked, scored{entry: c, sim: sim})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })

	if len(ranked) > m.similarK {
		ranked = ranked[:m.similarK]
	}
	out := make([]model.CatalogEntry, len(ranked))
	for i, r := range ranked {
		out[i] = r.entry
	}
	return out
}

func (m *SimilarityMatcher) byKeyword(ctx context.Context, entry model.CatalogEntry) []model.CatalogEntry {
	entries, err := m.store.KeywordEntries(ctx, entry.Name, entry.Category, m.similarK)
	if err != nil {
		zap.L().Warn("similarity: keyword lookup failed",
			zap.String("product_id", entry.ProductID),
			zap.Error(err),
		)
		return nil
	}
	return entries
}

// cosineSimilarity returns the cosine of the angle between a and b, or NaN
// when either vector is zero or the lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.NaN()
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return math.NaN()
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
