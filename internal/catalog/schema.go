package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sentinel-group/catalog-sentinel/internal/model"
	"github.com/sentinel-group/catalog-sentinel/internal/store"
)

// exactMatchConfidence is assigned when attribute names are identical after
// normalization.
const exactMatchConfidence = 0.95

// semanticMatchFloor is the minimum Dice token overlap for a semantic match
// to be accepted. Strictly greater than.
const semanticMatchFloor = 0.5

// fallbackSupportFloor derives registry rows from the similar set when the
// stored registry is empty: attributes on at least this fraction of similar
// entries count as canonical.
const fallbackSupportFloor = 0.2

// SchemaInferenceEngine maps non-canonical attribute names on incoming
// entries to the category's canonical schema.
type SchemaInferenceEngine struct {
	store             store.Store
	minSupport        float64
	autoMapConfidence float64
	now               func() time.Time
}

// NewSchemaInferenceEngine creates an inference engine. minSupport gates
// registry membership on rebuild; autoMapConfidence gates automatic renames.
func NewSchemaInferenceEngine(s store.Store, minSupport, autoMapConfidence float64) *SchemaInferenceEngine {
	if minSupport <= 0 {
		minSupport = 0.3
	}
	if autoMapConfidence <= 0 {
		autoMapConfidence = 0.75
	}
	return &SchemaInferenceEngine{
		store:             s,
		minSupport:        minSupport,
		autoMapConfidence: autoMapConfidence,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// Registry returns the canonical attribute rows for a category. When the
// stored registry is empty it derives rows on the fly from the similar set:
// any attribute on at least 20% of similar entries becomes a canonical row
// with that fraction as its support.
func (e *SchemaInferenceEngine) Registry(ctx context.Context, category string, similar []model.CatalogEntry) ([]model.SchemaRegistryEntry, error) {
	rows, err := e.store.GetRegistry(ctx, category)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: load registry %s", category)
	}
	if len(rows) > 0 {
		return rows, nil
	}
	return e.deriveFromSimilar(category, similar), nil
}

func (e *SchemaInferenceEngine) deriveFromSimilar(category string, similar []model.CatalogEntry) []model.SchemaRegistryEntry {
	if len(similar) == 0 {
		return nil
	}
	counts := map[string]int{}
	for _, s := range similar {
		for attr := range s.Attributes {
			counts[attr]++
		}
	}
	total := float64(len(similar))
	var rows []model.SchemaRegistryEntry
	for attr, count := range counts {
		support := float64(count) / total
		if support >= fallbackSupportFloor {
			rows = append(rows, model.SchemaRegistryEntry{
				Category:      category,
				CanonicalName: attr,
				SupportPct:    support,
				ProductCount:  count,
				UpdatedAt:     e.now(),
			})
		}
	}
	return rows
}

// InferMappings proposes canonical names for every attribute on the entry
// that is not already canonical. Exact normalized matches win at confidence
// 0.95; otherwise the best Dice token overlap above 0.5 against canonical
// and observed names is proposed at its overlap score. Attributes with no
// accepted candidate stay unmapped.
func (e *SchemaInferenceEngine) InferMappings(entry model.CatalogEntry, registry []model.SchemaRegistryEntry, similar []model.CatalogEntry) []model.SchemaMapping {
	canonical := make(map[string]string, len(registry)) // normalized -> canonical
	for _, r := range registry {
		canonical[normalizeAttr(r.CanonicalName)] = r.CanonicalName
	}

	// Candidate pool for semantic matching: registry names plus every
	// attribute name observed on the similar set.
	candidates := make(map[string]struct{}, len(registry))
	for _, r := range registry {
		candidates[r.CanonicalName] = struct{}{}
	}
	for _, s := range similar {
		for attr := range s.Attributes {
			candidates[attr] = struct{}{}
		}
	}

	var mappings []model.SchemaMapping
	for attr := range entry.Attributes {
		norm := normalizeAttr(attr)
		if target, ok := canonical[norm]; ok {
			if target == attr {
				continue // already canonical
			}
			mappings = append(mappings, model.SchemaMapping{
				ProductID:     entry.ProductID,
				OriginalAttr:  attr,
				CanonicalAttr: target,
				Confidence:    exactMatchConfidence,
				Method:        model.MappingExact,
				AutoApplied:   exactMatchConfidence >= e.autoMapConfidence,
				CreatedAt:     e.now(),
			})
			continue
		}

		best, bestScore := "", 0.0
		for candidate := range candidates {
			if candidate == attr {
				continue
			}
			if score := diceCoefficient(attr, candidate); score > bestScore {
				best, bestScore = candidate, score
			}
		}
		if bestScore > semanticMatchFloor {
			mappings = append(mappings, model.SchemaMapping{
				ProductID:     entry.ProductID,
				OriginalAttr:  attr,
				CanonicalAttr: best,
				Confidence:    bestScore,
				Method:        model.MappingSemantic,
				AutoApplied:   bestScore >= e.autoMapConfidence,
				CreatedAt:     e.now(),
			})
		}
	}
	return mappings
}

// ApplyMappings renames attribute keys for mappings at or above the
// auto-apply confidence threshold. Lower-confidence mappings remain audit
// records only. Returns the rewritten attribute map and the applied count.
func (e *SchemaInferenceEngine) ApplyMappings(attributes map[string]any, mappings []model.SchemaMapping) (map[string]any, int) {
	if len(attributes) == 0 {
		return attributes, 0
	}
	out := make(map[string]any, len(attributes))
	for k, v := range attributes {
		out[k] = v
	}

	applied := 0
	for _, m := range mappings {
		if m.Confidence < e.autoMapConfidence {
			continue
		}
		v, ok := out[m.OriginalAttr]
		if !ok {
			continue
		}
		if _, taken := out[m.CanonicalAttr]; taken {
			continue // never clobber an existing canonical value
		}
		delete(out, m.OriginalAttr)
		out[m.CanonicalAttr] = v
		applied++
	}
	return out, applied
}

// RebuildRegistry rescans every entry in the category, keeps attributes
// whose support meets the minimum threshold, and replaces the stored
// registry rows for the category in one transaction.
func (e *SchemaInferenceEngine) RebuildRegistry(ctx context.Context, category string) ([]model.SchemaRegistryEntry, error) {
	counts, total, err := e.store.CategoryAttributeCounts(ctx, category)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: rebuild registry %s", category)
	}
	if total == 0 {
		return nil, nil
	}

	now := e.now()
	var rows []model.SchemaRegistryEntry
	for attr, count := range counts {
		support := float64(count) / float64(total)
		if support >= e.minSupport {
			rows = append(rows, model.SchemaRegistryEntry{
				Category:      category,
				CanonicalName: attr,
				SupportPct:    support,
				ProductCount:  count,
				UpdatedAt:     now,
			})
		}
	}

	if err := e.store.ReplaceRegistry(ctx, category, rows); err != nil {
		return nil, eris.Wrapf(err, "catalog: replace registry %s", category)
	}
	zap.L().Info("schema registry rebuilt",
		zap.String("category", category),
		zap.Int("products", total),
		zap.Int("canonical_attrs", len(rows)),
	)
	return rows, nil
}

// normalizeAttr lower-cases an attribute name and strips separators so
// "Screen-Size", "screen_size" and "screen size" compare equal.
func normalizeAttr(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		switch r {
		case ' ', '-', '_', '.', '/':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// attrTokens splits an attribute name into its lower-cased word tokens.
func attrTokens(name string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		switch r {
		case ' ', '-', '_', '.', '/':
			return true
		}
		return false
	})
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		tokens[f] = struct{}{}
	}
	return tokens
}

// diceCoefficient computes the Sorensen-Dice overlap of the token sets of
// a and b, in [0,1]. Token-level comparison keeps unrelated names like
// "wired" and "wireless" apart where character n-grams would not.
func diceCoefficient(a, b string) float64 {
	ta, tb := attrTokens(a), attrTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(ta)+len(tb))
}
