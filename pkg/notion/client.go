// Package notion wraps the Notion API pages and database queries used to
// mirror funnel opportunities into a shared Notion database.
package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/grant-funnel/internal/resilience"
)

// Client defines the Notion API operations used by the funnel notifier.
type Client interface {
	QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
	UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error)
}

// ClientOption configures the Notion client.
type ClientOption func(*notionClient)

// WithRateLimit overrides the default Notion rate limit (3 req/s). A
// non-positive rps disables throttling.
func WithRateLimit(rps float64) ClientOption {
	return func(c *notionClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// WithRetry retries calls that fail with a transient error.
func WithRetry(cfg resilience.RetryConfig) ClientOption {
	return func(c *notionClient) { c.retry = &cfg }
}

// notionClient implements Client by wrapping a *notionapi.Client.
type notionClient struct {
	inner   *notionapi.Client
	limiter *rate.Limiter
	retry   *resilience.RetryConfig
}

// NewClient creates a Notion client for the given integration token.
// Calls are throttled to 3 req/s by default.
func NewClient(token string, opts ...ClientOption) Client {
	c := &notionClient{
		inner:   notionapi.NewClient(notionapi.Token(token)),
		limiter: rate.NewLimiter(3, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call waits on the limiter and runs fn, retrying transient failures when
// a retry policy is set.
func call[T any](ctx context.Context, c *notionClient, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := func(ctx context.Context) (T, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				var zero T
				return zero, eris.Wrap(err, "notion: rate limit")
			}
		}
		return fn(ctx)
	}
	if c.retry == nil {
		return attempt(ctx)
	}
	return resilience.DoVal(ctx, *c.retry, attempt)
}

func (c *notionClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	resp, err := call(ctx, c, func(ctx context.Context) (*notionapi.DatabaseQueryResponse, error) {
		return c.inner.Database.Query(ctx, notionapi.DatabaseID(dbID), req)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notion: query database %s", dbID)
	}
	return resp, nil
}

func (c *notionClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	page, err := call(ctx, c, func(ctx context.Context) (*notionapi.Page, error) {
		return c.inner.Page.Create(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrap(err, "notion: create page")
	}
	return page, nil
}

func (c *notionClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	page, err := call(ctx, c, func(ctx context.Context) (*notionapi.Page, error) {
		return c.inner.Page.Update(ctx, notionapi.PageID(pageID), req)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notion: update page %s", pageID)
	}
	return page, nil
}
