// Package workflow turns drift incidents and low-findability reports into
// downstream automation: chat alerts, tickets, and an incident log.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sentinel-group/catalog-sentinel/internal/config"
	"github.com/sentinel-group/catalog-sentinel/internal/model"
	"github.com/sentinel-group/catalog-sentinel/internal/resilience"
	"github.com/sentinel-group/catalog-sentinel/internal/store"
	"github.com/sentinel-group/catalog-sentinel/pkg/jira"
	"github.com/sentinel-group/catalog-sentinel/pkg/notion"
	"github.com/sentinel-group/catalog-sentinel/pkg/slack"
)

// Channel names for Slack alerts.
const (
	driftChannel   = "drift-alerts"
	catalogChannel = "catalog-alerts"
)

// Trigger values stored on workflow records.
const (
	TriggerDriftIncident  = "drift_incident"
	TriggerLowFindability = "low_findability"
)

// Engine runs notification workflows. Every external delivery is best
// effort: failures are logged and reflected in the workflow record, never
// returned to the detection path.
type Engine struct {
	store   store.Store
	slack   slack.Client  // nil disables chat alerts
	jira    jira.Client   // nil disables ticketing
	notion  notion.Client // nil disables the incident log
	catalog config.CatalogConfig
	project string
	retry   resilience.RetryConfig
	now     func() time.Time
}

// NewEngine creates a workflow engine. Any client may be nil to disable that
// delivery channel.
func NewEngine(s store.Store, slackClient slack.Client, jiraClient jira.Client, notionClient notion.Client, catalogCfg config.CatalogConfig, jiraProject string) *Engine {
	if jiraProject == "" {
		jiraProject = "CAT"
	}
	return &Engine{
		store:   s,
		slack:   slackClient,
		jira:    jiraClient,
		notion:  notionClient,
		catalog: catalogCfg,
		project: jiraProject,
		retry:   resilience.DefaultRetryConfig(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// TriggerDriftWorkflow alerts on a new drift incident: Slack message, Jira
// ticket, Notion log page, and a workflow record tied back to the incident.
func (e *Engine) TriggerDriftWorkflow(ctx context.Context, inc model.Incident) error {
	rec := model.WorkflowRecord{
		WorkflowID: uuid.NewString(),
		Trigger:    TriggerDriftIncident,
		EntityID:   inc.IncidentID,
		EntityType: "incident",
		Status:     "completed",
		CreatedAt:  e.now(),
		Details: map[string]any{
			"algorithm":     inc.Algorithm,
			"kl_divergence": inc.KLDivergence,
		},
	}

	if e.slack != nil {
		msg := driftAlert(inc)
		err := resilience.Do(ctx, e.retry, "slack drift alert", func(ctx context.Context) error {
			return e.slack.Post(ctx, driftChannel, msg)
		})
		if err != nil {
			zap.L().Error("drift slack alert failed",
				zap.String("incident_id", inc.IncidentID),
				zap.Error(err),
			)
		} else {
			rec.SlackSent = true
			rec.Actions = append(rec.Actions, "slack_alert")
		}
	}

	if e.jira != nil {
		key, err := e.jira.CreateIssue(ctx, driftTicket(inc, e.project))
		if err != nil {
			zap.L().Error("drift jira ticket failed",
				zap.String("incident_id", inc.IncidentID),
				zap.Error(err),
			)
		} else {
			rec.JiraTicket = key
			rec.Actions = append(rec.Actions, "jira_ticket")
		}
	}

	if e.notion != nil {
		var pageID string
		err := resilience.Do(ctx, e.retry, "notion incident log", func(ctx context.Context) error {
			var logErr error
			pageID, logErr = e.notion.LogIncident(ctx, notion.IncidentEntry{
				IncidentID:    inc.IncidentID,
				Algorithm:     inc.Algorithm,
				KLDivergence:  inc.KLDivergence,
				RevenueImpact: inc.RevenueImpact,
				Status:        string(inc.Status),
				DetectedAt:    inc.DetectedAt,
			})
			return logErr
		})
		if err != nil {
			zap.L().Error("drift notion log failed",
				zap.String("incident_id", inc.IncidentID),
				zap.Error(err),
			)
		} else {
			rec.Actions = append(rec.Actions, "notion_log")
			rec.Details["notion_page_id"] = pageID
		}
	}

	if len(rec.Actions) == 0 {
		rec.Status = "failed"
	}
	rec.CompletedAt = e.now()
	return e.record(ctx, rec, inc.IncidentID)
}

// TriggerCatalogWorkflow alerts on a low-findability entry. Fires only below
// the findability threshold; a Jira ticket is added below the stricter
// ticket threshold.
func (e *Engine) TriggerCatalogWorkflow(ctx context.Context, report model.FindabilityReport) error {
	if report.Score >= e.catalog.FindabilityThreshold {
		return nil
	}

	rec := model.WorkflowRecord{
		WorkflowID: uuid.NewString(),
		Trigger:    TriggerLowFindability,
		EntityID:   report.ProductID,
		EntityType: "product",
		Status:     "completed",
		CreatedAt:  e.now(),
		Details: map[string]any{
			"findability_score": report.Score,
		},
	}

	if e.slack != nil {
		err := resilience.Do(ctx, e.retry, "slack catalog alert", func(ctx context.Context) error {
			return e.slack.Post(ctx, catalogChannel, catalogAlert(report))
		})
		if err != nil {
			zap.L().Error("catalog slack alert failed",
				zap.String("product_id", report.ProductID),
				zap.Error(err),
			)
		} else {
			rec.SlackSent = true
			rec.Actions = append(rec.Actions, "slack_alert")
		}
	}

	if e.jira != nil && report.Score < e.catalog.TicketThreshold {
		key, err := e.jira.CreateIssue(ctx, catalogTicket(report, e.project))
		if err != nil {
			zap.L().Error("catalog jira ticket failed",
				zap.String("product_id", report.ProductID),
				zap.Error(err),
			)
		} else {
			rec.JiraTicket = key
			rec.Actions = append(rec.Actions, "jira_ticket")
		}
	}

	if len(rec.Actions) == 0 {
		rec.Status = "failed"
	}
	rec.CompletedAt = e.now()
	return e.record(ctx, rec, "")
}

// record persists the workflow run and, for incidents, the back-reference.
func (e *Engine) record(ctx context.Context, rec model.WorkflowRecord, incidentID string) error {
	if err := e.store.InsertWorkflow(ctx, rec); err != nil {
		return eris.Wrapf(err, "workflow: persist record %s", rec.WorkflowID)
	}
	if incidentID != "" {
		if err := e.store.SetIncidentWorkflow(ctx, incidentID, rec.WorkflowID, rec.Actions); err != nil {
			zap.L().Warn("failed to link workflow to incident",
				zap.String("incident_id", incidentID),
				zap.String("workflow_id", rec.WorkflowID),
				zap.Error(err),
			)
		}
	}
	zap.L().Info("workflow completed",
		zap.String("workflow_id", rec.WorkflowID),
		zap.String("trigger", rec.Trigger),
		zap.Strings("actions", rec.Actions),
	)
	return nil
}

// RecordResolution mirrors an incident resolution to the Notion log, when
// the original drift workflow created a page there. Best effort.
func (e *Engine) RecordResolution(ctx context.Context, incidentID string, res model.Resolution) {
	if e.notion == nil {
		return
	}
	records, err := e.store.ListWorkflows(ctx, store.WorkflowFilter{Trigger: TriggerDriftIncident, Limit: 100})
	if err != nil {
		zap.L().Warn("resolution mirror: workflow lookup failed", zap.Error(err))
		return
	}
	for _, rec := range records {
		if rec.EntityID != incidentID {
			continue
		}
		pageID, ok := rec.Details["notion_page_id"].(string)
		if !ok || pageID == "" {
			return
		}
		err = resilience.Do(ctx, e.retry, "notion resolution log", func(ctx context.Context) error {
			return e.notion.LogResolution(ctx, pageID, notion.ResolutionEntry{
				Action:     res.Action,
				AutoFixed:  res.AutoFixed,
				ResolvedAt: res.ResolvedAt,
			})
		})
		if err != nil {
			zap.L().Warn("resolution mirror: notion update failed",
				zap.String("incident_id", incidentID),
				zap.Error(err),
			)
		}
		return
	}
}

// History lists past workflow runs.
func (e *Engine) History(ctx context.Context, filter store.WorkflowFilter) ([]model.WorkflowRecord, error) {
	return e.store.ListWorkflows(ctx, filter)
}

// Stats aggregates workflow history.
func (e *Engine) Stats(ctx context.Context) (*model.WorkflowStats, error) {
	return e.store.WorkflowStats(ctx)
}

func driftAlert(inc model.Incident) slack.Message {
	return slack.Message{
		Blocks: []slack.Block{
			slack.Header(fmt.Sprintf(":rotating_light: Drift detected: %s", inc.Algorithm)),
			slack.FieldSection(map[string]string{
				"Incident":       inc.IncidentID,
				"KL divergence":  fmt.Sprintf("%.4f", inc.KLDivergence),
				"Drift score":    fmt.Sprintf("%.2f", inc.DriftScore),
				"Revenue impact": fmt.Sprintf("$%.0f/hr", inc.RevenueImpact),
			}),
			slack.Section(zoneLine(inc.AffectedZones)),
		},
	}
}

func zoneLine(zones []string) string {
	if len(zones) == 0 {
		return "No zones above the reporting floor."
	}
	return "Affected zones: " + strings.Join(zones, ", ")
}

func driftTicket(inc model.Incident, project string) jira.Issue {
	return jira.Issue{
		Project:   project,
		IssueType: "Bug",
		Summary:   fmt.Sprintf("Drift incident %s (%s)", inc.IncidentID, inc.Algorithm),
		Description: fmt.Sprintf(
			"Algorithm %s diverged from its baseline.\nKL divergence: %.4f\nDrift score: %.2f\nEstimated revenue impact: $%.0f/hr\n%s",
			inc.Algorithm, inc.KLDivergence, inc.DriftScore, inc.RevenueImpact, zoneLine(inc.AffectedZones),
		),
		Labels:   []string{"drift", inc.Algorithm},
		Priority: "High",
	}
}

func catalogAlert(report model.FindabilityReport) slack.Message {
	issues := make([]string, 0, len(report.Issues))
	for _, i := range report.Issues {
		issues = append(issues, i.Issue)
	}
	return slack.Message{
		Blocks: []slack.Block{
			slack.Header(fmt.Sprintf(":mag: Low findability: %s", report.ProductName)),
			slack.FieldSection(map[string]string{
				"Product":        report.ProductID,
				"Score":          fmt.Sprintf("%.0f/100", report.Score),
				"Potential gain": fmt.Sprintf("+%.0f%% visibility", report.VisibilityGainPct),
			}),
			slack.Section("Issues: " + strings.Join(issues, "; ")),
		},
	}
}

func catalogTicket(report model.FindabilityReport, project string) jira.Issue {
	return jira.Issue{
		Project:   project,
		IssueType: "Task",
		Summary:   fmt.Sprintf("Fix catalog findability: %s (score %.0f)", report.ProductID, report.Score),
		Description: fmt.Sprintf(
			"Product %q scored %.0f/100 on findability.\nCompleteness: %.0f%%\nEstimated visibility gain: +%.0f%%",
			report.ProductName, report.Score, report.Completeness*100, report.VisibilityGainPct,
		),
		Labels: []string{"catalog", "findability"},
	}
}
