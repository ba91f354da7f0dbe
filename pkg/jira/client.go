// Package jira creates improvement tickets via the Jira Cloud REST API.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the Jira operations used by the workflow engine.
type Client interface {
	// CreateIssue files a new issue and returns its key (e.g. "CAT-123").
	CreateIssue(ctx context.Context, issue Issue) (string, error)
}

// Issue describes a ticket to create.
type Issue struct {
	Project     string   `json:"project"`
	IssueType   string   `json:"issue_type"` // "Task", "Bug"
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	Labels      []string `json:"labels,omitempty"`
	Priority    string   `json:"priority,omitempty"`
}

type createIssueRequest struct {
	Fields issueFields `json:"fields"`
}

type issueFields struct {
	Project     projectRef  `json:"project"`
	IssueType   namedRef    `json:"issuetype"`
	Summary     string      `json:"summary"`
	Description adfDocument `json:"description"`
	Labels      []string    `json:"labels,omitempty"`
	Priority    *namedRef   `json:"priority,omitempty"`
}

type projectRef struct {
	Key string `json:"key"`
}

type namedRef struct {
	Name string `json:"name"`
}

// adfDocument is the minimal Atlassian Document Format wrapper Jira Cloud
// requires for description fields.
type adfDocument struct {
	Type    string     `json:"type"`
	Version int        `json:"version"`
	Content []adfBlock `json:"content"`
}

type adfBlock struct {
	Type    string    `json:"type"`
	Content []adfText `json:"content,omitempty"`
}

type adfText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func adfParagraphs(text string) adfDocument {
	return adfDocument{
		Type:    "doc",
		Version: 1,
		Content: []adfBlock{
			{Type: "paragraph", Content: []adfText{{Type: "text", Text: text}}},
		},
	}
}

type createIssueResponse struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// Option configures the Jira client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL  string
	email    string
	apiToken string
	http     *http.Client
}

// NewClient creates a Jira Cloud client authenticated with an API token.
func NewClient(baseURL, email, apiToken string, opts ...Option) Client {
	c := &httpClient{
		baseURL:  baseURL,
		email:    email,
		apiToken: apiToken,
		http: &http.Client{
			Timeout: 30 * time.Second,
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

func (c *httpClient) retryDo(ctx context.Context, url string, payload []byte) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, 0, eris.Wrap(err, "jira: create request")
		}
		req.SetBasicAuth(c.email, c.apiToken)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

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

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "jira: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("jira: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) CreateIssue(ctx context.Context, issue Issue) (string, error) {
	fields := issueFields{
		Project:     projectRef{Key: issue.Project},
		IssueType:   namedRef{Name: issue.IssueType},
		Summary:     issue.Summary,
		Description: adfParagraphs(issue.Description),
		Labels:      issue.Labels,
	}
	if issue.Priority != "" {
		fields.Priority = &namedRef{Name: issue.Priority}
	}

	payload, err := json.Marshal(createIssueRequest{Fields: fields})
	if err != nil {
		return "", eris.Wrap(err, "jira: marshal issue")
	}

	body, statusCode, err := c.retryDo(ctx, c.baseURL+"/rest/api/3/issue", payload)
	if err != nil {
		return "", eris.Wrap(err, "jira: create issue")
	}
	if statusCode != http.StatusCreated && statusCode != http.StatusOK {
		return "", eris.Errorf("jira: create issue status %d: %s", statusCode, string(body))
	}

	var result createIssueResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", eris.Wrap(err, "jira: unmarshal issue response")
	}
	return result.Key, nil
}
