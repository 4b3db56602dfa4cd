package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopReranker_Score_PreservesOrderWithDecreasingScores(t *testing.T) {
	// Given: a noop reranker
	reranker := NewNoopReranker()
	defer func() { _ = reranker.Close() }()

	texts := []string{"first", "second", "third"}

	// When: I score candidates
	scores, err := reranker.Score(context.Background(), "anything", texts)

	// Then: scores decrease with position so input order survives sorting
	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.Greater(t, scores[0], scores[1])
	assert.Greater(t, scores[1], scores[2])
}

func TestNoopReranker_Score_EmptyInput(t *testing.T) {
	reranker := NewNoopReranker()
	defer func() { _ = reranker.Close() }()

	scores, err := reranker.Score(context.Background(), "q", nil)

	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestNoopReranker_AlwaysAvailable(t *testing.T) {
	reranker := NewNoopReranker()
	defer func() { _ = reranker.Close() }()

	assert.True(t, reranker.Available(context.Background()))
	assert.Equal(t, "none", reranker.ModelName())
}

// newRerankServer returns a test service whose /rerank handler shuffles
// result order to exercise index-based mapping.
func newRerankServer(t *testing.T, scoreFor map[string]float64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/rerank", func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type result struct {
			Index int     `json:"index"`
			Score float64 `json:"score"`
		}
		results := make([]result, 0, len(req.Documents))
		for i, doc := range req.Documents {
			results = append(results, result{Index: i, Score: scoreFor[doc]})
		}
		// Reverse so the response order differs from input order.
		for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
			results[i], results[j] = results[j], results[i]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": results,
			"model":   req.Model,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPReranker_Score_MapsScoresBackToInputOrder(t *testing.T) {
	// Given: a service that returns results in reversed order
	srv := newRerankServer(t, map[string]float64{
		"lisbon trip planning": 0.9,
		"grocery list":         0.1,
		"flight booking notes": 0.7,
	})
	reranker, err := NewHTTPReranker(context.Background(), Config{Endpoint: srv.URL})
	require.NoError(t, err)
	defer func() { _ = reranker.Close() }()

	// When: I score three candidates
	texts := []string{"lisbon trip planning", "grocery list", "flight booking notes"}
	scores, err := reranker.Score(context.Background(), "travel to portugal", texts)

	// Then: each score lands at its input position
	require.NoError(t, err)
	assert.Equal(t, []float64{0.9, 0.1, 0.7}, scores)
}

func TestHTTPReranker_Score_EmptyInput_NoRequest(t *testing.T) {
	srv := newRerankServer(t, nil)
	reranker, err := NewHTTPReranker(context.Background(), Config{Endpoint: srv.URL})
	require.NoError(t, err)
	defer func() { _ = reranker.Close() }()

	scores, err := reranker.Score(context.Background(), "q", []string{})

	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestHTTPReranker_HealthCheckFailure_ReturnsError(t *testing.T) {
	// Given: no service listening
	_, err := NewHTTPReranker(context.Background(), Config{Endpoint: "http://localhost:1"})

	// Then: construction fails
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
}

func TestHTTPReranker_SkipHealthCheck_AllowsConstruction(t *testing.T) {
	reranker, err := NewHTTPReranker(context.Background(), Config{
		Endpoint:        "http://localhost:1",
		SkipHealthCheck: true,
	})

	require.NoError(t, err)
	defer func() { _ = reranker.Close() }()
	assert.Equal(t, DefaultModel, reranker.ModelName())
}

func TestHTTPReranker_Score_ServerError_ReturnsRerankFailed(t *testing.T) {
	// Given: a service that errors on rerank
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/rerank", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	reranker, err := NewHTTPReranker(context.Background(), Config{Endpoint: srv.URL})
	require.NoError(t, err)
	defer func() { _ = reranker.Close() }()

	// When: I score
	_, err = reranker.Score(context.Background(), "q", []string{"doc"})

	// Then: a rerank failure is reported
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RERANK_FAILED")
}

func TestHTTPReranker_Score_MissingIndex_ReturnsError(t *testing.T) {
	// Given: a service that drops a document from its response
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/rerank", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"index": 0, "score": 0.5}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	reranker, err := NewHTTPReranker(context.Background(), Config{Endpoint: srv.URL})
	require.NoError(t, err)
	defer func() { _ = reranker.Close() }()

	// When: I score two documents
	_, err = reranker.Score(context.Background(), "q", []string{"a", "b"})

	// Then: the incomplete response is rejected
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing score")
}

func TestHTTPReranker_Available_ReflectsServiceHealth(t *testing.T) {
	srv := newRerankServer(t, nil)
	reranker, err := NewHTTPReranker(context.Background(), Config{Endpoint: srv.URL})
	require.NoError(t, err)

	assert.True(t, reranker.Available(context.Background()))

	// After close, never available.
	require.NoError(t, reranker.Close())
	assert.False(t, reranker.Available(context.Background()))
}

func TestHTTPReranker_Close_IsIdempotent(t *testing.T) {
	srv := newRerankServer(t, nil)
	reranker, err := NewHTTPReranker(context.Background(), Config{Endpoint: srv.URL})
	require.NoError(t, err)

	assert.NoError(t, reranker.Close())
	assert.NoError(t, reranker.Close())

	_, err = reranker.Score(context.Background(), "q", []string{"doc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}
