package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sentinel-group/catalog-sentinel/internal/model"
)

// maxReportedIssues truncates the issue list so reports stay readable.
const maxReportedIssues = 10

// visibilityGainMultiplier converts a score gap against similar entries
// into an estimated search-visibility gain percentage.
const visibilityGainMultiplier = 3.0

// FindabilityScorer produces a deterministic 0-100 findability score with
// actionable issues. Pure: identical inputs always yield identical output,
// no I/O, no hidden state.
type FindabilityScorer struct{}

// NewFindabilityScorer creates the rule-based scorer.
func NewFindabilityScorer() *FindabilityScorer {
	return &FindabilityScorer{}
}

// Score evaluates one entry against the category registry and its similar
// entries. The score starts at 100 and applies fixed deductions, clamped to
// [0,100]. registry and similar may be empty.
func (s *FindabilityScorer) Score(entry model.CatalogEntry, registry []model.SchemaRegistryEntry, similar []model.CatalogEntry) model.FindabilityReport {
	score := 100.0
	var issues []model.FindabilityIssue

	deduct := func(points float64, field, issue, impact, suggestion string) {
		score -= points
		issues = append(issues, model.FindabilityIssue{
			Field:      field,
			Issue:      issue,
			Impact:     impact,
			Suggestion: suggestion,
		})
	}

	if strings.TrimSpace(entry.Name) == "" {
		deduct(25, "name", "missing product name", "high",
			"Add a descriptive product name; unnamed products are effectively invisible in search.")
	}
	if strings.TrimSpace(entry.Brand) == "" {
		deduct(10, "brand", "missing brand", "medium",
			"Set the brand; brand filters are a primary navigation path.")
	}
	if strings.TrimSpace(entry.Category) == "" {
		deduct(10, "category", "missing category", "medium",
			"Assign a category so the product appears in browse and faceted search.")
	}
	if entry.Price <= 0 {
		deduct(10, "price", "missing or non-positive price", "medium",
			"Set a positive price; price filters exclude unpriced products.")
	}

	desc := strings.TrimSpace(entry.Description)
	switch {
	case desc == "":
		deduct(10, "description", "missing description", "medium",
			"Write a product description; descriptions feed keyword matching.")
	case len(strings.Fields(desc)) < 30:
		deduct(10, "description", "description under 30 words", "low",
			"Expand the description to at least 30 words for better keyword coverage.")
	}

	switch n := len(entry.Images); {
	case n == 0:
		deduct(15, "images", "no product images", "high",
			"Add product images; imageless listings are demoted in ranking.")
	case n <= 2:
		deduct(5, "images", fmt.Sprintf("only %d product image(s)", n), "low",
			"Add more images; listings with 3+ images convert better.")
	}

	switch n := len(entry.Attributes); {
	case n == 0:
		deduct(20, "attributes", "no structured attributes", "high",
			"Add structured attributes; they power faceted filters.")
	case n <= 2:
		deduct(10, "attributes", fmt.Sprintf("only %d structured attribute(s)", n), "medium",
			"Add more structured attributes for richer filtering.")
	}

	missing := missingCanonical(entry, registry)
	highCap, medCap := 3, 3
	for _, m := range missing {
		switch {
		case m.SupportPct >= 0.7 && highCap > 0:
			highCap--
			deduct(8, m.CanonicalName,
				fmt.Sprintf("missing common attribute %q (%.0f%% of category has it)", m.CanonicalName, m.SupportPct*100),
				"high",
				fmt.Sprintf("Add the %q attribute; most comparable products specify it.", m.CanonicalName))
		case m.SupportPct >= 0.4 && m.SupportPct < 0.7 && medCap > 0:
			medCap--
			deduct(4, m.CanonicalName,
				fmt.Sprintf("missing attribute %q (%.0f%% of category has it)", m.CanonicalName, m.SupportPct*100),
				"medium",
				fmt.Sprintf("Consider adding the %q attribute.", m.CanonicalName))
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	if len(issues) > maxReportedIssues {
		issues = issues[:maxReportedIssues]
	}

	missingNames := make([]string, len(missing))
	for i, m := range missing {
		missingNames[i] = m.CanonicalName
	}

	return model.FindabilityReport{
		ProductID:         entry.ProductID,
		ProductName:       entry.Name,
		Score:             score,
		Completeness:      completeness(entry, registry),
		Issues:            issues,
		MissingAttributes: missingNames,
		VisibilityGainPct: visibilityGain(score, similar),
	}
}

// missingCanonical lists registry attributes absent from the entry, most
// supported first, with name as a deterministic tiebreak.
func missingCanonical(entry model.CatalogEntry, registry []model.SchemaRegistryEntry) []model.SchemaRegistryEntry {
	var missing []model.SchemaRegistryEntry
	for _, r := range registry {
		if _, ok := entry.Attributes[r.CanonicalName]; !ok {
			missing = append(missing, r)
		}
	}
	sort.Slice(missing, func(i, j int) bool {
		if missing[i].SupportPct != missing[j].SupportPct {
			return missing[i].SupportPct > missing[j].SupportPct
		}
		return missing[i].CanonicalName < missing[j].CanonicalName
	})
	return missing
}

// completeness is the fraction of canonical attributes the entry carries.
// Without a registry it falls back to min(1, attribute_count/8).
func completeness(entry model.CatalogEntry, registry []model.SchemaRegistryEntry) float64 {
	if len(registry) == 0 {
		c := float64(len(entry.Attributes)) / 8
		if c > 1 {
			c = 1
		}
		return c
	}
	have := 0
	for _, r := range registry {
		if _, ok := entry.Attributes[r.CanonicalName]; ok {
			have++
		}
	}
	return float64(have) / float64(len(registry))
}

// visibilityGain estimates the search-visibility improvement available by
// closing the gap to the average similar-entry score.
func visibilityGain(score float64, similar []model.CatalogEntry) float64 {
	if len(similar) == 0 {
		return 0
	}
	var sum float64
	for _, s := range similar {
		sum += s.FindabilityScore
	}
	avg := sum / float64(len(similar))
	gap := avg - score
	if gap < 0 {
		return 0
	}
	return gap * visibilityGainMultiplier
}
