package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sentinel-group/catalog-sentinel/internal/agents"
	"github.com/sentinel-group/catalog-sentinel/internal/catalog"
	"github.com/sentinel-group/catalog-sentinel/internal/drift"
	"github.com/sentinel-group/catalog-sentinel/internal/resilience"
	"github.com/sentinel-group/catalog-sentinel/internal/store"
	"github.com/sentinel-group/catalog-sentinel/internal/workflow"
	"github.com/sentinel-group/catalog-sentinel/pkg/anthropic"
	"github.com/sentinel-group/catalog-sentinel/pkg/jina"
	"github.com/sentinel-group/catalog-sentinel/pkg/jira"
	"github.com/sentinel-group/catalog-sentinel/pkg/kibana"
	"github.com/sentinel-group/catalog-sentinel/pkg/notion"
	"github.com/sentinel-group/catalog-sentinel/pkg/slack"
)

// env bundles the wired subsystems shared by the serve/drift/catalog commands.
type env struct {
	Store     store.Store
	Drift     *drift.Engine
	Baselines *drift.BaselineManager
	Catalog   *catalog.Engine
	Workflows *workflow.Engine
	Health    *agents.HealthCache
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

// initEnv connects the store and wires both engines with whichever external
// collaborators are configured. Missing credentials disable the matching
// channel rather than failing startup.
func initEnv(ctx context.Context) (*env, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, err
	}

	var slackClient slack.Client
	if len(cfg.Slack.Webhooks) > 0 {
		slackClient = slack.NewClient(cfg.Slack.Webhooks)
	}
	var jiraClient jira.Client
	if cfg.Jira.URL != "" && cfg.Jira.APIToken != "" {
		jiraClient = jira.NewClient(cfg.Jira.URL, cfg.Jira.Email, cfg.Jira.APIToken)
	}
	var notionClient notion.Client
	if cfg.Notion.Token != "" && cfg.Notion.IncidentDB != "" {
		notionClient = notion.NewClient(cfg.Notion.Token, cfg.Notion.IncidentDB)
	}
	workflows := workflow.NewEngine(st, slackClient, jiraClient, notionClient, cfg.Catalog, cfg.Jira.ProjectKey)

	responder, health := buildResponder()

	baselines := drift.NewBaselineManager(st, cfg.Drift.BaselineDays)
	driftEngine := drift.NewEngine(st, baselines, cfg.Drift, responder, workflows)

	var embedder jina.Client
	if cfg.Jina.Key != "" {
		embedder = jina.NewClient(cfg.Jina.Key, jina.WithBaseURL(cfg.Jina.BaseURL))
	}
	catalogEngine := catalog.NewEngine(st, embedder, cfg.Catalog, workflows)

	return &env{
		Store:     st,
		Drift:     driftEngine,
		Baselines: baselines,
		Catalog:   catalogEngine,
		Workflows: workflows,
		Health:    health,
	}, nil
}

// buildResponder prefers Kibana Agent Builder, falling back to a direct LLM
// call when only an Anthropic key is configured.
func buildResponder() (drift.Responder, *agents.HealthCache) {
	backends := map[string]agents.HealthChecker{}
	var responder drift.Responder

	if cfg.Kibana.URL != "" && cfg.Kibana.APIKey != "" {
		opts := []kibana.Option{}
		if cfg.Kibana.TimeoutSecs > 0 {
			opts = append(opts, kibana.WithTimeout(time.Duration(cfg.Kibana.TimeoutSecs)*time.Second))
		}
		breaker := resilience.DefaultBreakerConfig()
		if cfg.Kibana.BreakerThreshold > 0 {
			breaker.FailureThreshold = cfg.Kibana.BreakerThreshold
		}
		if cfg.Kibana.BreakerCooldownSecs > 0 {
			breaker.Cooldown = time.Duration(cfg.Kibana.BreakerCooldownSecs) * time.Second
		}
		kb := agents.NewKibanaResponder(kibana.NewClient(cfg.Kibana.URL, cfg.Kibana.APIKey, opts...), breaker)
		responder = kb
		backends["kibana"] = kb
		zap.L().Info("using kibana agent builder responder", zap.String("url", cfg.Kibana.URL))
	} else if cfg.Anthropic.Key != "" {
		ar := agents.NewAnthropicResponder(
			anthropic.NewClient(cfg.Anthropic.Key),
			cfg.Anthropic.Model,
			cfg.Anthropic.MaxTokens,
		)
		responder = ar
		backends["anthropic"] = ar
		zap.L().Info("using direct llm responder", zap.String("model", cfg.Anthropic.Model))
	} else {
		zap.L().Warn("no responder configured, incident handoff disabled")
	}

	if len(backends) == 0 {
		return responder, nil
	}
	validity := time.Duration(cfg.Kibana.CacheValiditySecs) * time.Second
	return responder, agents.NewHealthCache(backends, validity)
}
