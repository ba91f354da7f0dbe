package model

import "time"

// WorkflowRecord is the audit trail of one automation run (alerts, tickets)
// triggered by a drift incident or a low-findability report. Never deleted.
type WorkflowRecord struct {
	WorkflowID  string         `json:"workflow_id"`
	Trigger     string         `json:"trigger"` // drift_incident | low_findability
	EntityID    string         `json:"entity_id"`
	EntityType  string         `json:"entity_type"`
	Actions     []string       `json:"actions"`
	Status      string         `json:"status"`
	JiraTicket  string         `json:"jira_ticket,omitempty"`
	SlackSent   bool           `json:"slack_sent"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Details     map[string]any `json:"details,omitempty"`
}

// WorkflowStats aggregates workflow history for dashboards.
type WorkflowStats struct {
	TotalWorkflows  int            `json:"total_workflows"`
	Completed       int            `json:"completed"`
	SuccessRatePct  float64        `json:"success_rate_pct"`
	SlackAlertsSent int            `json:"slack_alerts_sent"`
	ByTrigger       map[string]int `json:"by_trigger"`
}

// AgentLog records one responder invocation for auditability.
type AgentLog struct {
	Agent           string    `json:"agent"`
	Status          string    `json:"status"` // success | error
	DurationMS      float64   `json:"duration_ms"`
	Trigger         string    `json:"trigger"`
	ResponseSummary string    `json:"response_summary,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}
