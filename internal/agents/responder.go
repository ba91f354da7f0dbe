// Package agents adapts external reasoning backends to the drift engine's
// Responder interface.
package agents

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sentinel-group/catalog-sentinel/internal/resilience"
	"github.com/sentinel-group/catalog-sentinel/pkg/anthropic"
	"github.com/sentinel-group/catalog-sentinel/pkg/kibana"
)

// KibanaResponder routes agent invocations to Kibana Agent Builder. Each
// call runs through a per-agent circuit breaker so a wedged agent stops
// receiving traffic until it recovers.
type KibanaResponder struct {
	client   kibana.Client
	breakers *resilience.BreakerSet
}

// NewKibanaResponder creates a responder backed by Agent Builder.
func NewKibanaResponder(client kibana.Client, cfg resilience.BreakerConfig) *KibanaResponder {
	return &KibanaResponder{
		client:   client,
		breakers: resilience.NewBreakerSet(cfg),
	}
}

// Invoke sends an instruction to a named agent and returns its reply text.
func (r *KibanaResponder) Invoke(ctx context.Context, agent, instruction string) (string, error) {
	cb := r.breakers.Get(agent)
	return resilience.Guard(ctx, cb, func(ctx context.Context) (string, error) {
		resp, err := r.client.Converse(ctx, agent, instruction)
		if err != nil {
			return "", eris.Wrapf(err, "agents: converse with %s", agent)
		}
		msg := resp.Message()
		if msg == "" {
			return "", eris.Errorf("agents: empty reply from %s", agent)
		}
		return msg, nil
	})
}

// Health checks a single agent backend's reachability.
func (r *KibanaResponder) Health(ctx context.Context) error {
	return r.client.Status(ctx)
}

// Agents lists the agents registered in Agent Builder.
func (r *KibanaResponder) Agents(ctx context.Context) ([]kibana.Agent, error) {
	return r.client.ListAgents(ctx)
}

// systemPrompt frames the direct-LLM fallback as an incident analyst.
const systemPrompt = "You are an on-call analyst for algorithmic decision systems. " +
	"Given an incident description, identify the most likely root cause and " +
	"recommend a remediation with a confidence score between 0 and 1. Be concise."

// AnthropicResponder answers instructions with a direct LLM call. Used as a
// fallback when no Agent Builder deployment is configured; the agent name
// only labels the log line.
type AnthropicResponder struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicResponder creates the direct-LLM responder.
func NewAnthropicResponder(client anthropic.Client, model string, maxTokens int64) *AnthropicResponder {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicResponder{client: client, model: model, maxTokens: maxTokens}
}

// Invoke answers the instruction with a single completion.
func (r *AnthropicResponder) Invoke(ctx context.Context, agent, instruction string) (string, error) {
	resp, err := r.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     r.model,
		MaxTokens: r.maxTokens,
		System:    systemPrompt,
		Messages: []anthropic.Message{
			{Role: "user", Content: instruction},
		},
	})
	if err != nil {
		return "", eris.Wrapf(err, "agents: direct llm call for %s", agent)
	}
	resp.Usage.LogCost(r.model, agent)

	text := resp.Text()
	if text == "" {
		return "", eris.Errorf("agents: empty completion for %s", agent)
	}
	zap.L().Debug("direct llm responder answered",
		zap.String("agent", agent),
		zap.Int("reply_chars", len(text)),
	)
	return text, nil
}

// Health reports the fallback as available. The Messages API has no ping
// endpoint, so reachability only shows up on the first real invocation.
func (r *AnthropicResponder) Health(context.Context) error {
	return nil
}
