// Package notion maintains an incident log database in Notion.
package notion

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the Notion incident log operations.
type Client interface {
	// LogIncident creates a page for a new incident and returns its page ID.
	LogIncident(ctx context.Context, entry IncidentEntry) (string, error)
	// LogResolution updates an incident page with its resolution.
	LogResolution(ctx context.Context, pageID string, res ResolutionEntry) error
}

// IncidentEntry is the subset of incident data mirrored to Notion.
type IncidentEntry struct {
	IncidentID    string
	Algorithm     string
	KLDivergence  float64
	RevenueImpact float64
	Status        string
	DetectedAt    time.Time
}

// ResolutionEntry records how an incident was closed.
type ResolutionEntry struct {
	Action     string
	AutoFixed  bool
	ResolvedAt time.Time
}

// ClientOption configures the Notion client.
type ClientOption func(*notionClient)

// WithRateLimit overrides the default Notion rate limit (3 req/s).
func WithRateLimit(rps float64) ClientOption {
	return func(c *notionClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// notionClient implements Client by wrapping a *notionapi.Client.
type notionClient struct {
	inner   *notionapi.Client
	dbID    string
	limiter *rate.Limiter
}

// NewClient creates a new Notion client with the given integration token and
// incident database ID. By default, API calls are throttled to 3 req/s
// (Notion's rate limit).
func NewClient(token, databaseID string, opts ...ClientOption) Client {
	c := &notionClient{
		inner:   notionapi.NewClient(notionapi.Token(token)),
		dbID:    databaseID,
		limiter: rate.NewLimiter(3, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wait blocks until the rate limiter allows one event, or ctx is cancelled.
func (c *notionClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *notionClient) LogIncident(ctx context.Context, entry IncidentEntry) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", eris.Wrap(err, "notion: rate limit")
	}

	detectedAt := notionapi.Date(entry.DetectedAt)
	page, err := c.inner.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(c.dbID),
		},
		Properties: notionapi.Properties{
			"Incident": notionapi.TitleProperty{
				Title: []notionapi.RichText{{Text: &notionapi.Text{Content: entry.IncidentID}}},
			},
			"Algorithm": notionapi.SelectProperty{
				Select: notionapi.Option{Name: entry.Algorithm},
			},
			"KL Divergence": notionapi.NumberProperty{
				Number: entry.KLDivergence,
			},
			"Revenue Impact": notionapi.NumberProperty{
				Number: entry.RevenueImpact,
			},
			"Status": notionapi.SelectProperty{
				Select: notionapi.Option{Name: entry.Status},
			},
			"Detected": notionapi.DateProperty{
				Date: &notionapi.DateObject{Start: &detectedAt},
			},
		},
	})
	if err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("notion: log incident %s", entry.IncidentID))
	}
	return string(page.ID), nil
}

func (c *notionClient) LogResolution(ctx context.Context, pageID string, res ResolutionEntry) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "notion: rate limit")
	}

	status := "resolved"
	if res.AutoFixed {
		status = "auto_fixed"
	}
	resolvedAt := notionapi.Date(res.ResolvedAt)
	_, err := c.inner.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{
		Properties: notionapi.Properties{
			"Status": notionapi.SelectProperty{
				Select: notionapi.Option{Name: status},
			},
			"Action": notionapi.SelectProperty{
				Select: notionapi.Option{Name: res.Action},
			},
			"Resolved": notionapi.DateProperty{
				Date: &notionapi.DateObject{Start: &resolvedAt},
			},
		},
	})
	if err != nil {
		return eris.Wrap(err, fmt.Sprintf("notion: log resolution %s", pageID))
	}
	return nil
}
