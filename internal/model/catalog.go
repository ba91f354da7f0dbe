package model

import "time"

// CatalogEntry is a product catalog record, upserted by ProductID.
// Re-processing overwrites score and attributes.
type CatalogEntry struct {
	ProductID          string         `json:"product_id"`
	SKU                string         `json:"sku,omitempty"`
	Name               string         `json:"name"`
	Brand              string         `json:"brand,omitempty"`
	Category           string         `json:"category,omitempty"`
	Subcategory        string         `json:"subcategory,omitempty"`
	Price              float64        `json:"price"`
	Currency           string         `json:"currency,omitempty"`
	Description        string         `json:"description,omitempty"`
	Attributes         map[string]any `json:"attributes,omitempty"`
	Images             []string       `json:"images,omitempty"`
	Embedding          []float32      `json:"embedding,omitempty"`
	FindabilityScore   float64        `json:"findability_score"`
	SchemaCompleteness float64        `json:"schema_completeness"`
	Platform           string         `json:"platform,omitempty"`
	IngestedAt         time.Time      `json:"ingested_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// SchemaRegistryEntry is one canonical attribute for a category, rebuilt in
// bulk from full-category scans. Keyed by (category, canonical name).
type SchemaRegistryEntry struct {
	Category      string    `json:"category"`
	CanonicalName string    `json:"canonical_name"`
	SupportPct    float64   `json:"support_pct"`
	ProductCount  int       `json:"product_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MappingMethod identifies how a schema mapping was inferred.
type MappingMethod string

const (
	MappingExact    MappingMethod = "exact"
	MappingSemantic MappingMethod = "semantic"
)

// SchemaMapping is an append-only audit record of one inferred attribute
// mapping on one processed entry.
type SchemaMapping struct {
	MappingID    string        `json:"mapping_id"`
	ProductID    string        `json:"product_id"`
	OriginalAttr string        `json:"original_attr"`
	CanonicalAttr string       `json:"canonical_attr"`
	Confidence   float64       `json:"confidence"`
	Method       MappingMethod `json:"method"`
	AutoApplied  bool          `json:"auto_applied"`
	CreatedAt    time.Time     `json:"created_at"`
}

// FindabilityIssue is one actionable problem found by the scorer.
type FindabilityIssue struct {
	Field      string `json:"field"`
	Issue      string `json:"issue"`
	Impact     string `json:"impact"` // high | medium | low
	Suggestion string `json:"suggestion"`
}

// FindabilityReport is the deterministic output of the findability scorer.
type FindabilityReport struct {
	ProductID         string             `json:"product_id,omitempty"`
	ProductName       string             `json:"product_name,omitempty"`
	Score             float64            `json:"score"`
	Completeness      float64            `json:"completeness"`
	Issues            []FindabilityIssue `json:"issues,omitempty"`
	MissingAttributes []string           `json:"missing_attributes,omitempty"`
	VisibilityGainPct float64            `json:"visibility_gain_pct"`
}

// ProcessResult summarizes one catalog pipeline run for a single entry.
type ProcessResult struct {
	ProductID          string             `json:"product_id"`
	FindabilityScore   float64            `json:"findability_score"`
	SchemaCompleteness float64            `json:"schema_completeness"`
	MappingsApplied    int                `json:"mappings_applied"`
	Issues             []FindabilityIssue `json:"issues,omitempty"`
	VisibilityGainPct  float64            `json:"estimated_visibility_gain_pct"`
}

// ScoreRecord is one row of findability score history.
type ScoreRecord struct {
	ProductID  string    `json:"product_id"`
	Score      float64   `json:"score"`
	Issues     []string  `json:"issues,omitempty"`
	Suggestions string   `json:"suggestions,omitempty"`
	ComputedAt time.Time `json:"computed_at"`
}

// CatalogMetrics aggregates catalog state for dashboards.
type CatalogMetrics struct {
	TotalProducts       int             `json:"total_products"`
	AvgFindability      float64         `json:"avg_findability_score"`
	LowScoreProducts    int             `json:"low_score_products"`
	LowScorePct         float64         `json:"low_score_pct"`
	TotalSchemaMappings int             `json:"total_schema_mappings"`
	ByCategory          []CategoryStats `json:"by_category,omitempty"`
	ScoreDistribution   []ScoreBucket   `json:"score_distribution,omitempty"`
}

// CategoryStats is per-category catalog aggregate.
type CategoryStats struct {
	Category string  `json:"category"`
	Count    int     `json:"count"`
	AvgScore float64 `json:"avg_score"`
}

// ScoreBucket is one bucket of the findability score histogram.
type ScoreBucket struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}
