package model

import "time"

// IncidentStatus is the lifecycle state of a drift incident.
type IncidentStatus string

const (
	IncidentDetected      IncidentStatus = "detected"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentAutoFixing    IncidentStatus = "auto_fixing"
	IncidentResolved      IncidentStatus = "resolved"
)

// statusRank orders incident statuses for forward-only transitions.
var statusRank = map[IncidentStatus]int{
	IncidentDetected:      0,
	IncidentInvestigating: 1,
	IncidentAutoFixing:    2,
	IncidentResolved:      3,
}

// CanTransition reports whether moving from s to next is a forward transition.
// Statuses never move backwards; equal status is a no-op and allowed.
func (s IncidentStatus) CanTransition(next IncidentStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to >= from
}

// Resolution describes the fix applied to an incident.
type Resolution struct {
	Action     string    `json:"action"` // rollback | override | pause | restart
	Confidence float64   `json:"confidence"`
	AutoFixed  bool      `json:"auto_fixed"`
	Details    string    `json:"details,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Incident records one detected drift event. Incidents are never deleted;
// status only moves forward.
type Incident struct {
	IncidentID      string         `json:"incident_id"`
	Algorithm       string         `json:"algorithm"`
	DriftScore      float64        `json:"drift_score"`
	KLDivergence    float64        `json:"kl_divergence"`
	AffectedMetric  string         `json:"affected_metric"`
	AffectedZones   []string       `json:"affected_zones,omitempty"`
	RevenueImpact   float64        `json:"revenue_impact_estimate"`
	Status          IncidentStatus `json:"status"`
	DetectedAt      time.Time      `json:"detected_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	Resolution      *Resolution    `json:"resolution,omitempty"`
	AgentAnalysis   string         `json:"agent_analysis,omitempty"`
	WorkflowID      string         `json:"workflow_id,omitempty"`
	WorkflowActions []string       `json:"workflow_actions,omitempty"`
}

// DriftOutcome classifies the result of a single drift check.
type DriftOutcome string

const (
	OutcomeIncident DriftOutcome = "incident"
	OutcomeNoDrift  DriftOutcome = "no_drift"
	OutcomeNoData   DriftOutcome = "no_data"
)

// DriftDebug carries the computed divergence and both distributions so
// non-drift outcomes stay auditable.
type DriftDebug struct {
	KLDivergence float64            `json:"kl_divergence"`
	Threshold    float64            `json:"threshold"`
	Current      map[string]float64 `json:"current_dist"`
	Baseline     map[string]float64 `json:"baseline_dist"`
	SampleCount  int                `json:"sample_count"`
	Reason       string             `json:"reason,omitempty"` // set for no_data outcomes
}

// DriftCheck is the result of Engine.CheckAlgorithm: exactly one of
// Incident (outcome incident) or Debug (no_drift / no_data) is meaningful.
type DriftCheck struct {
	Algorithm string       `json:"algorithm"`
	Outcome   DriftOutcome `json:"outcome"`
	Incident  *Incident    `json:"incident,omitempty"`
	Debug     *DriftDebug  `json:"debug,omitempty"`
}

// DriftMetrics aggregates incidents over a window for dashboards.
type DriftMetrics struct {
	PeriodHours        int            `json:"period_hours"`
	TotalIncidents     int            `json:"total_incidents"`
	AutoFixed          int            `json:"auto_fixed"`
	AutoFixRatePct     float64        `json:"auto_fix_rate_pct"`
	AvgKLDivergence    float64        `json:"avg_kl_divergence"`
	TotalRevenueAtRisk float64        `json:"total_revenue_at_risk"`
	ByStatus           map[string]int `json:"by_status"`
	ByAlgorithm        map[string]int `json:"by_algorithm"`
}
