package embed

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

// OllamaEmbedder generates embeddings via a local Ollama instance.
// It keeps a small connection pool and adapts request timeouts to
// whether the model is likely loaded (warm) or unloaded (cold).
type OllamaEmbedder struct {
	config     OllamaConfig
	client     *http.Client
	transport  *http.Transport
	model      string
	dimensions int

	mu       sync.Mutex
	lastCall time.Time
	closed   bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// backendError carries the HTTP status of a failed Ollama request so the
// retry loop can distinguish transient server errors from client errors.
type backendError struct {
	status int
	body   string
}

func (e *backendError) Error() string {
	return fmt.Sprintf("ollama returned status %d: %s", e.status, e.body)
}

func (e *backendError) retryable() bool {
	return e.status >= 500 || e.status == http.StatusTooManyRequests
}

// NewOllamaEmbedder creates an Ollama-backed embedder. It verifies the
// configured model is installed (trying fallbacks if not) and detects the
// embedding dimension unless one is configured.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.BatchSize < MinBatchSize {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWarmTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = OllamaConnectTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = OllamaPoolSize
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		IdleConnTimeout:     10 * time.Second,
	}

	e := &OllamaEmbedder{
		config:    cfg,
		transport: transport,
		// No client-level timeout; each request carries its own context.
		client: &http.Client{Transport: transport},
	}

	if cfg.SkipHealthCheck {
		e.model = cfg.Model
		e.dimensions = cfg.Dimensions
		if e.dimensions == 0 {
			e.dimensions = DefaultDimensions
		}
		return e, nil
	}

	model, err := e.findAvailableModel(ctx)
	if err != nil {
		return nil, err
	}
	e.model = model

	if cfg.Dimensions > 0 {
		e.dimensions = cfg.Dimensions
	} else {
		dims, err := e.detectDimensions(ctx)
		if err != nil {
			return nil, cerrors.New(cerrors.ErrCodeBackendUnavailable,
				fmt.Sprintf("failed to detect embedding dimensions for %s", model), err)
		}
		e.dimensions = dims
	}

	slog.Debug("ollama_embedder_ready",
		slog.String("host", cfg.Host),
		slog.String("model", e.model),
		slog.Int("dimensions", e.dimensions))

	return e, nil
}

// findAvailableModel returns the first installed model from the configured
// primary plus fallbacks. Tags like ":latest" are ignored when matching.
func (e *OllamaEmbedder) findAvailableModel(ctx context.Context) (string, error) {
	installed, err := e.listModels(ctx)
	if err != nil {
		return "", cerrors.New(cerrors.ErrCodeBackendUnavailable,
			fmt.Sprintf("ollama not reachable at %s", e.config.Host), err).
			WithSuggestion("start Ollama with: ollama serve")
	}

	candidates := append([]string{e.config.Model}, e.config.FallbackModels...)
	for _, candidate := range candidates {
		for _, name := range installed {
			if modelBaseName(name) == modelBaseName(candidate) {
				if candidate != e.config.Model {
					slog.Warn("ollama_model_fallback",
						slog.String("requested", e.config.Model),
						slog.String("using", name))
				}
				return name, nil
			}
		}
	}

	return "", cerrors.New(cerrors.ErrCodeBackendUnavailable,
		fmt.Sprintf("embedding model %q not installed", e.config.Model), nil).
		WithSuggestion(fmt.Sprintf("install it with: ollama pull %s", e.config.Model))
}

// listModels queries /api/tags for installed model names.
func (e *OllamaEmbedder) listModels(ctx context.Context) ([]string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.ConnectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing models returned status %d", resp.StatusCode)
	}

	var list ollamaModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding model list: %w", err)
	}

	names := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// modelBaseName strips the tag from a model name ("all-minilm:latest" -> "all-minilm").
func modelBaseName(name string) string {
	if idx := strings.Index(name, ":"); idx >= 0 {
		return name[:idx]
	}
	return name
}

// detectDimensions embeds a probe text and measures the vector length.
func (e *OllamaEmbedder) detectDimensions(ctx context.Context) (int, error) {
	vecs, err := e.doEmbedWithRetry(ctx, "dimension probe")
	if err != nil {
		return 0, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0, fmt.Errorf("probe returned no embedding")
	}
	return len(vecs[0]), nil
}

// Embed generates an embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dimensions), nil
	}

	vecs, err := e.doEmbedWithRetry(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, cerrors.New(cerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("expected 1 embedding, got %d", len(vecs)), nil)
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, preserving order.
// Empty texts become zero vectors without a backend call. Non-empty texts
// are sent in batches of BatchSize.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))

	type indexedText struct {
		index int
		text  string
	}
	pending := make([]indexedText, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dimensions)
			continue
		}
		pending = append(pending, indexedText{index: i, text: text})
	}

	for start := 0; start < len(pending); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		batchTexts := make([]string, len(batch))
		for j, item := range batch {
			batchTexts[j] = item.text
		}

		vecs, err := e.doEmbedWithRetry(ctx, batchTexts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, cerrors.New(cerrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("expected %d embeddings, got %d", len(batch), len(vecs)), nil)
		}
		for j, vec := range vecs {
			results[batch[j].index] = vec
		}
	}

	return results, nil
}

// doEmbedWithRetry calls /api/embed with exponential backoff on transient
// failures. The per-attempt timeout grows 50% per retry so a request that
// timed out against a busy backend gets more room on the next try.
func (e *OllamaEmbedder) doEmbedWithRetry(ctx context.Context, input any) ([][]float32, error) {
	base := e.currentTimeout()

	var lastErr error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		timeout := base + base*time.Duration(attempt)/2

		vecs, err := e.doEmbed(ctx, input, timeout)
		if err == nil {
			return vecs, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isTransient(err) || attempt == e.config.MaxRetries {
			break
		}

		backoff := time.Duration(100<<attempt) * time.Millisecond
		slog.Debug("ollama_embed_retry",
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, cerrors.New(cerrors.ErrCodeEmbeddingFailed, "embedding request failed", lastErr)
}

// isTransient reports whether an embed failure is worth retrying.
func isTransient(err error) bool {
	if be, ok := err.(*backendError); ok {
		return be.retryable()
	}
	// Transport errors and timeouts are transient.
	return true
}

// doEmbed performs a single /api/embed request.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, input any, timeout time.Duration) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("encoding embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			// Drop idle connections so a wedged backend does not
			// poison the pool for the next attempt.
			e.transport.CloseIdleConnections()
			return nil, fmt.Errorf("embed request timed out after %s: %w", timeout, reqCtx.Err())
		}
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &backendError{status: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}

	vecs := make([][]float32, len(out.Embeddings))
	for i, raw := range out.Embeddings {
		vec := make([]float32, len(raw))
		for j, v := range raw {
			vec[j] = float32(v)
		}
		vecs[i] = normalizeVector(vec)
	}
	return vecs, nil
}

// currentTimeout picks the warm or cold timeout based on how recently the
// model was used, and records this call as the latest use.
func (e *OllamaEmbedder) currentTimeout() time.Duration {
	e.mu.Lock()
	last := e.lastCall
	e.lastCall = time.Now()
	e.mu.Unlock()

	if last.IsZero() || time.Since(last) > ModelUnloadThreshold {
		return DefaultColdTimeout
	}
	return e.config.Timeout
}

func (e *OllamaEmbedder) checkClosed() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("embedder is closed")
	}
	return nil
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelName returns the active Ollama model name.
func (e *OllamaEmbedder) ModelName() string {
	return e.model
}

// Available checks whether Ollama is reachable and the model is installed.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return false
	}

	installed, err := e.listModels(ctx)
	if err != nil {
		return false
	}
	for _, name := range installed {
		if modelBaseName(name) == modelBaseName(e.model) {
			return true
		}
	}
	return false
}

// Close releases the connection pool. Safe to call multiple times.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
