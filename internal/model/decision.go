// Package model defines the domain types shared across engines and the store.
package model

import "time"

// Location pins a decision to a geographic zone.
type Location struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Zone string  `json:"zone,omitempty"`
	City string  `json:"city,omitempty"`
}

// Decision is a single recorded output of a production algorithm.
// Immutable once ingested.
type Decision struct {
	DecisionID    string         `json:"decision_id"`
	Algorithm     string         `json:"algorithm"` // surge_pricing | recommendation | search_rank | delivery_eta
	Version       string         `json:"version"`
	Company       string         `json:"company,omitempty"`
	Platform      string         `json:"platform,omitempty"`
	InputFeatures map[string]any `json:"input_features,omitempty"`
	Output        map[string]any `json:"output"`
	Location      *Location      `json:"location,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	IngestedAt    time.Time      `json:"ingested_at"`
}

// OutputCategory returns the categorical bucket of the decision output,
// or "" when absent.
func (d *Decision) OutputCategory() string {
	if d.Output == nil {
		return ""
	}
	if c, ok := d.Output["category"].(string); ok {
		return c
	}
	return ""
}

// OutputValue returns the scalar value of the decision output, or 0.
func (d *Decision) OutputValue() float64 {
	if d.Output == nil {
		return 0
	}
	switch v := d.Output["value"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// BaselineStats holds scalar statistics of decision output values over
// the baseline window.
type BaselineStats struct {
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// Baseline is the rolling reference distribution for one algorithm.
// Exactly one current baseline exists per algorithm; recomputes overwrite it.
type Baseline struct {
	Algorithm    string             `json:"algorithm"`
	Metric       string             `json:"metric"`
	Window       string             `json:"window"`
	ComputedAt   time.Time          `json:"computed_at"`
	Stats        BaselineStats      `json:"stats"`
	Distribution map[string]float64 `json:"distribution"`
}

// CurrentDistribution is the short-window snapshot compared against a baseline.
type CurrentDistribution struct {
	Algorithm     string             `json:"algorithm"`
	Count         int                `json:"count"`
	Distribution  map[string]float64 `json:"distribution"`
	AvgValue      float64            `json:"avg_value"`
	Zones         map[string]int     `json:"zones,omitempty"`
	WindowMinutes int                `json:"window_minutes"`
}
