// Package jobsapi is the REST client for the job matching backend.
package jobsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/skillforge/joblens/internal/models"
)

const (
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 10

	// DefaultLimit is the page size used when callers pass zero.
	DefaultLimit = 20

	// MaxLimit caps the page size accepted by the backend.
	MaxLimit = 50
)

// Client is a job matching backend API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// NewClient creates a new backend API client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ListQuery describes one page request.
type ListQuery struct {
	Filters models.FilterSet
	Limit   int
	Offset  int

	// CreatedAfter bounds the result to records newer than this timestamp.
	// Used for incremental reconciliation fetches.
	CreatedAfter string
}

// ClampLimit bounds a requested page size to [1, MaxLimit], defaulting when
// unset.
func ClampLimit(limit int) int {
	if limit == 0 {
		return DefaultLimit
	}
	if limit < 1 {
		return 1
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// ClampOffset bounds a requested offset to >= 0.
func ClampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

// ListJobs fetches one page of jobs, normalizing the heterogeneous backend
// envelope into a ResultPage. Malformed records are dropped, not errored.
func (c *Client) ListJobs(ctx context.Context, q ListQuery) (models.ResultPage, error) {
	params := q.Filters.Values()
	params.Set("limit", strconv.Itoa(ClampLimit(q.Limit)))
	params.Set("offset", strconv.Itoa(ClampOffset(q.Offset)))
	if after := strings.TrimSpace(q.CreatedAfter); after != "" {
		params.Set("created_after", after)
	}

	var payload interface{}
	if err := c.get(ctx, "/jobs", params, &payload); err != nil {
		return models.ResultPage{}, err
	}

	page := models.NormalizeResultPage(payload)

	if c.logger != nil {
		c.logger.Debug().
			Int("items", len(page.Items)).
			Str("created_after", q.CreatedAfter).
			Msg("Fetched jobs page")
	}

	return page, nil
}

// ListSources fetches the job source catalog and groups duplicate rows
// sharing a case-insensitive name into display options.
func (c *Client) ListSources(ctx context.Context) ([]models.SourceOption, error) {
	var payload interface{}
	if err := c.get(ctx, "/job-sources", nil, &payload); err != nil {
		return nil, err
	}
	return models.GroupJobSources(models.NormalizeJobSources(payload)), nil
}

// get performs a GET request against the backend.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.logger != nil {
		c.logger.Debug().Str("url", c.baseURL+path).Msg("Backend API request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend returned status %d for %s", resp.StatusCode, path)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
