// Package slack posts alert messages to Slack incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sentinel-group/catalog-sentinel/internal/resilience"
)

// Client defines the Slack webhook operations.
type Client interface {
	// Post sends a message to the named channel's webhook.
	Post(ctx context.Context, channel string, msg Message) error
}

// Message is a Slack webhook payload using Block Kit.
type Message struct {
	Text   string  `json:"text"`
	Blocks []Block `json:"blocks,omitempty"`
}

// Block is a single Block Kit block.
type Block struct {
	Type   string  `json:"type"`
	Text   *Text   `json:"text,omitempty"`
	Fields []Text  `json:"fields,omitempty"`
}

// Text is a Block Kit text object.
type Text struct {
	Type string `json:"type"` // "mrkdwn" or "plain_text"
	Text string `json:"text"`
}

// Header returns a plain-text header block.
func Header(text string) Block {
	return Block{Type: "header", Text: &Text{Type: "plain_text", Text: text}}
}

// Section returns a mrkdwn section block.
func Section(text string) Block {
	return Block{Type: "section", Text: &Text{Type: "mrkdwn", Text: text}}
}

// FieldSection returns a section block with key/value field pairs.
func FieldSection(pairs map[string]string) Block {
	fields := make([]Text, 0, len(pairs))
	for k, v := range pairs {
		fields = append(fields, Text{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*\n%s", k, v)})
	}
	return Block{Type: "section", Fields: fields}
}

// Option configures the Slack client.
type Option func(*webhookClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *webhookClient) {
		c.http = hc
	}
}

type webhookClient struct {
	// webhooks maps channel name to webhook URL.
	webhooks map[string]string
	http     *http.Client
}

// NewClient creates a Slack webhook client. webhooks maps logical channel
// names (e.g. "alerts-drift") to their incoming webhook URLs.
func NewClient(webhooks map[string]string, opts ...Option) Client {
	c := &webhookClient{
		webhooks: webhooks,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *webhookClient) Post(ctx context.Context, channel string, msg Message) error {
	url, ok := c.webhooks[channel]
	if !ok || url == "" {
		return eris.Errorf("slack: no webhook configured for channel %s", channel)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return eris.Wrap(err, "slack: marshal message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "slack: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "slack: post to %s", channel)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		err := eris.Errorf("slack: post to %s status %d: %s", channel, resp.StatusCode, string(body))
		if resilience.RetryableStatus(resp.StatusCode) {
			err = resilience.Transient(err)
		}
		return err
	}
	return nil
}
