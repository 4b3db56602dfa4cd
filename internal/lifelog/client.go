// Package lifelog syncs entries from a Limitless-style lifelog API into
// the local notes directory as dated markdown files, one file per day.
// Synced files use the same heading and bullet markers the indexer
// segments on, so a sync followed by a reindex (or a watcher pass) makes
// the day searchable at every granularity.
package lifelog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	cerrors "github.com/twilsonco/context-server/internal/errors"
)

const (
	// DefaultBaseURL is the public Limitless API endpoint.
	DefaultBaseURL = "https://api.limitless.ai"

	defaultPageLimit  = 500
	defaultMaxRetries = 3
	defaultTimeout    = 30 * time.Second
)

// Config holds lifelog API client settings.
type Config struct {
	// BaseURL of the API. Defaults to DefaultBaseURL.
	BaseURL string

	// APIKey sent as the X-API-Key header. Required.
	APIKey string

	// Timezone is the IANA zone name the API should use when bucketing
	// entries into days. Empty means the server default.
	Timezone string

	// PageLimit is the page size requested per call.
	PageLimit int

	// MaxRetries bounds retry attempts for transient failures.
	MaxRetries int

	// Timeout is the base per-request timeout.
	Timeout time.Duration
}

// Lifelog is a single recorded entry.
type Lifelog struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Markdown string        `json:"markdown"`
	Contents []ContentNode `json:"contents"`
}

// ContentNode is one structured element inside a lifelog: a heading, a
// spoken blockquote, or free text.
type ContentNode struct {
	Type        string        `json:"type"`
	Content     string        `json:"content"`
	SpeakerName string        `json:"speakerName"`
	StartTime   string        `json:"startTime"`
	Children    []ContentNode `json:"children"`
}

// lifelogsResponse is the envelope returned by GET /v1/lifelogs.
type lifelogsResponse struct {
	Data struct {
		Lifelogs []Lifelog `json:"lifelogs"`
	} `json:"data"`
	Meta struct {
		Lifelogs struct {
			NextCursor string `json:"nextCursor"`
		} `json:"lifelogs"`
	} `json:"meta"`
}

// apiError carries the HTTP status of a failed lifelog request so the
// retry loop can distinguish transient server errors from client errors,
// and the Retry-After hint when the server sent one.
type apiError struct {
	status     int
	body       string
	retryAfter time.Duration
}

func (e *apiError) Error() string {
	return fmt.Sprintf("lifelog API returned status %d: %s", e.status, e.body)
}

func (e *apiError) retryable() bool {
	return e.status >= 500 || e.status == http.StatusTooManyRequests
}

// Client fetches lifelogs with cursor pagination and retry.
type Client struct {
	config    Config
	client    *http.Client
	transport *http.Transport
}

// NewClient creates a lifelog API client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, cerrors.New(cerrors.ErrCodeConfigInvalid,
			"lifelog API key is required", nil).
			WithSuggestion("set sync.api_key in the config file or the LIFELOG_API_KEY environment variable")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = defaultPageLimit
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		config:    cfg,
		client:    &http.Client{Transport: transport},
		transport: transport,
	}, nil
}

// FetchDay returns every lifelog recorded on the given day, following
// cursor pagination until the API reports no more pages.
func (c *Client) FetchDay(ctx context.Context, day time.Time) ([]Lifelog, error) {
	var all []Lifelog
	cursor := ""

	for {
		page, next, err := c.fetchPage(ctx, day, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)

		// No cursor or a short page means the day is exhausted.
		if next == "" || len(page) < c.config.PageLimit {
			return all, nil
		}

		slog.Debug("lifelog_page",
			slog.String("day", day.Format("2006-01-02")),
			slog.Int("entries", len(page)),
			slog.String("cursor", next))
		cursor = next
	}
}

// fetchPage requests one page with exponential backoff on transient
// failures. A Retry-After hint from the server overrides the computed
// backoff. The per-attempt timeout grows 50% per retry.
func (c *Client) fetchPage(ctx context.Context, day time.Time, cursor string) ([]Lifelog, string, error) {
	base := c.config.Timeout

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		timeout := base + base*time.Duration(attempt)/2

		resp, err := c.doFetch(ctx, day, cursor, timeout)
		if err == nil {
			return resp.Data.Lifelogs, resp.Meta.Lifelogs.NextCursor, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		if !isTransient(err) || attempt == c.config.MaxRetries {
			break
		}

		backoff := time.Duration(100<<attempt) * time.Millisecond
		if ae, ok := err.(*apiError); ok && ae.retryAfter > 0 {
			backoff = ae.retryAfter
		}
		slog.Debug("lifelog_fetch_retry",
			slog.String("day", day.Format("2006-01-02")),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, "", classifyFetchError(lastErr)
}

// isTransient reports whether a fetch failure is worth retrying.
func isTransient(err error) bool {
	if ae, ok := err.(*apiError); ok {
		return ae.retryable()
	}
	// Transport errors and timeouts are transient.
	return true
}

// classifyFetchError maps a final fetch failure to a coded error.
func classifyFetchError(err error) error {
	ae, ok := err.(*apiError)
	if !ok {
		return cerrors.New(cerrors.ErrCodeNetworkTimeout,
			"lifelog request failed", err).
			WithSuggestion("check network connectivity to the lifelog API")
	}

	switch {
	case ae.status == http.StatusUnauthorized || ae.status == http.StatusForbidden:
		return cerrors.New(cerrors.ErrCodeConfigInvalid,
			"lifelog API rejected the key", ae).
			WithSuggestion("check sync.api_key in the config file")
	case ae.status == http.StatusTooManyRequests:
		return cerrors.New(cerrors.ErrCodeRateLimited,
			"lifelog API rate limit exceeded", ae).
			WithSuggestion("wait before retrying or reduce the sync frequency")
	default:
		return cerrors.New(cerrors.ErrCodeBackendUnavailable,
			"lifelog API request failed", ae)
	}
}

// doFetch performs a single GET /v1/lifelogs request.
func (c *Client) doFetch(ctx context.Context, day time.Time, cursor string, timeout time.Duration) (*lifelogsResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	q := url.Values{}
	q.Set("date", day.Format("2006-01-02"))
	if c.config.Timezone != "" {
		q.Set("timezone", c.config.Timezone)
	}
	q.Set("includeMarkdown", "true")
	q.Set("includeHeadings", "true")
	q.Set("direction", "asc")
	q.Set("limit", strconv.Itoa(c.config.PageLimit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.config.BaseURL+"/v1/lifelogs?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building lifelog request: %w", err)
	}
	req.Header.Set("X-API-Key", c.config.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			// Drop idle connections so a wedged backend does not
			// poison the pool for the next attempt.
			c.transport.CloseIdleConnections()
			return nil, fmt.Errorf("lifelog request timed out after %s: %w", timeout, reqCtx.Err())
		}
		return nil, fmt.Errorf("lifelog request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &apiError{
			status:     resp.StatusCode,
			body:       strings.TrimSpace(string(data)),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var out lifelogsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding lifelog response: %w", err)
	}
	return &out, nil
}

// parseRetryAfter interprets a Retry-After header as either a delay in
// seconds or an HTTP date. Zero means no usable hint.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// Close releases idle connections.
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}
