package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	cerrors "github.com/twilsonco/context-server/internal/errors"
)

// Reranker service defaults
const (
	// DefaultEndpoint is the default cross-encoder service URL
	DefaultEndpoint = "http://localhost:9659"

	// DefaultModel is the default cross-encoder model
	DefaultModel = "cross-encoder/ms-marco-MiniLM-L-6-v2"

	// DefaultTimeout for rerank requests
	DefaultTimeout = 30 * time.Second
)

// Config holds configuration for the HTTP reranker
type Config struct {
	// Endpoint is the rerank service URL (default: http://localhost:9659)
	Endpoint string

	// Model is the cross-encoder model name sent with each request
	Model string

	// Timeout is the per-request timeout (default: 30s)
	Timeout time.Duration

	// SkipHealthCheck skips the health check during creation (for testing)
	SkipHealthCheck bool
}

// DefaultConfig returns default reranker configuration
func DefaultConfig() Config {
	return Config{
		Endpoint: DefaultEndpoint,
		Model:    DefaultModel,
		Timeout:  DefaultTimeout,
	}
}

// HTTPReranker scores query-document pairs via a local cross-encoder
// service exposing POST /rerank.
type HTTPReranker struct {
	client   *http.Client
	config   Config
	endpoint string

	mu     sync.RWMutex
	closed bool
}

var _ Reranker = (*HTTPReranker)(nil)

// rerankRequest is the JSON request to the /rerank endpoint
type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

// rerankResponse is the JSON response from the /rerank endpoint
type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
	Model string `json:"model"`
}

// NewHTTPReranker creates a reranker client and verifies the service is
// reachable unless the health check is skipped.
func NewHTTPReranker(ctx context.Context, cfg Config) (*HTTPReranker, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	r := &HTTPReranker{
		client:   client,
		config:   cfg,
		endpoint: cfg.Endpoint,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := r.healthCheck(checkCtx); err != nil {
			return nil, cerrors.New(cerrors.ErrCodeBackendUnavailable,
				fmt.Sprintf("rerank service not reachable at %s", cfg.Endpoint), err)
		}
	}

	slog.Debug("reranker_ready",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout))

	return r, nil
}

// healthCheck verifies the rerank service responds.
func (r *HTTPReranker) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("building health check request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to rerank service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("rerank service unhealthy (status %d): %s", resp.StatusCode, string(body))
	}

	return nil
}

// Score sends the query and texts to the service and maps the returned
// (index, score) pairs back to input order.
func (r *HTTPReranker) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, fmt.Errorf("reranker is closed")
	}
	r.mu.RUnlock()

	if len(texts) == 0 {
		return []float64{}, nil
	}

	start := time.Now()

	jsonData, err := json.Marshal(rerankRequest{
		Query:     query,
		Documents: texts,
		Model:     r.config.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding rerank request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.endpoint+"/rerank", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("building rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeRerankFailed, "rerank request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, cerrors.New(cerrors.ErrCodeRerankFailed,
			fmt.Sprintf("rerank service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding rerank response: %w", err)
	}

	scores := make([]float64, len(texts))
	seen := make([]bool, len(texts))
	for _, res := range result.Results {
		if res.Index < 0 || res.Index >= len(texts) {
			return nil, cerrors.New(cerrors.ErrCodeRerankFailed,
				fmt.Sprintf("rerank response index %d out of range", res.Index), nil)
		}
		scores[res.Index] = res.Score
		seen[res.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, cerrors.New(cerrors.ErrCodeRerankFailed,
				fmt.Sprintf("rerank response missing score for document %d", i), nil)
		}
	}

	slog.Debug("rerank_scored",
		slog.String("query", truncate(query, 50)),
		slog.Int("doc_count", len(texts)),
		slog.Duration("took", time.Since(start)))

	return scores, nil
}

// ModelName returns the configured cross-encoder model.
func (r *HTTPReranker) ModelName() string {
	return r.config.Model
}

// Available checks if the rerank service responds to health checks.
func (r *HTTPReranker) Available(ctx context.Context) bool {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return false
	}
	r.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return r.healthCheck(checkCtx) == nil
}

// Close releases the connection pool. Safe to call multiple times.
func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if transport, ok := r.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}

	return nil
}

// truncate shortens a string for logging.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
