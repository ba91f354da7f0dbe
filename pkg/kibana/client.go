// Package kibana provides a client for the Kibana Agent Builder API.
package kibana

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sentinel-group/catalog-sentinel/internal/resilience"
)

// Client defines the Agent Builder operations.
type Client interface {
	// Converse sends an instruction to a named agent and returns its reply.
	Converse(ctx context.Context, agentID, input string) (*ConverseResponse, error)
	// ListAgents returns the agents registered in Agent Builder.
	ListAgents(ctx context.Context) ([]Agent, error)
	// Status checks whether the Agent Builder API is reachable.
	Status(ctx context.Context) error
}

// ConverseResponse is the parsed Agent Builder converse reply.
type ConverseResponse struct {
	ConversationID string `json:"conversation_id"`
	TraceID        string `json:"trace_id,omitempty"`
	Response       struct {
		Message string `json:"message"`
	} `json:"response"`
}

// Message returns the agent's textual reply.
func (r *ConverseResponse) Message() string {
	return r.Response.Message
}

// Agent is one registered Agent Builder agent.
type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type converseRequest struct {
	AgentID string `json:"agent_id"`
	Input   string `json:"input"`
}

type listAgentsResponse struct {
	Results []Agent `json:"results"`
}

// Option configures the Kibana client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the request timeout. Agent conversations can run
// long; the default is 120s.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new Agent Builder client.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes a request with exponential backoff retries on transient
// failures. payload may be nil for GET requests.
func (c *httpClient) retryDo(ctx context.Context, method, url string, payload []byte) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, 0, eris.Wrap(err, "kibana: create request")
		}
		req.Header.Set("Authorization", "ApiKey "+c.apiKey)
		req.Header.Set("kbn-xsrf", "true")
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "kibana: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("kibana: status %d: %s", resp.StatusCode, string(respBody))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return respBody, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) Converse(ctx context.Context, agentID, input string) (*ConverseResponse, error) {
	payload, err := json.Marshal(converseRequest{AgentID: agentID, Input: input})
	if err != nil {
		return nil, eris.Wrap(err, "kibana: marshal converse request")
	}

	body, statusCode, err := c.retryDo(ctx, http.MethodPost, c.baseURL+"/api/agent_builder/converse", payload)
	if err != nil {
		return nil, eris.Wrapf(err, "kibana: converse with %s", agentID)
	}
	if statusCode != http.StatusOK {
		err := eris.Errorf("kibana: converse status %d: %s", statusCode, string(body))
		if resilience.RetryableStatus(statusCode) {
			// Retries exhausted on a server-side failure; let handoff
			// classification schedule another attempt later.
			err = resilience.Transient(err)
		}
		return nil, err
	}

	var result ConverseResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "kibana: unmarshal converse response")
	}
	return &result, nil
}

func (c *httpClient) ListAgents(ctx context.Context) ([]Agent, error) {
	body, statusCode, err := c.retryDo(ctx, http.MethodGet, c.baseURL+"/api/agent_builder/agents", nil)
	if err != nil {
		return nil, eris.Wrap(err, "kibana: list agents")
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("kibana: list agents status %d: %s", statusCode, string(body))
	}

	var result listAgentsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "kibana: unmarshal agents response")
	}
	return result.Results, nil
}

func (c *httpClient) Status(ctx context.Context) error {
	body, statusCode, err := c.retryDo(ctx, http.MethodGet, c.baseURL+"/api/status", nil)
	if err != nil {
		return eris.Wrap(err, "kibana: status")
	}
	if statusCode != http.StatusOK {
		return eris.Errorf("kibana: status %d: %s", statusCode, string(body))
	}
	return nil
}
