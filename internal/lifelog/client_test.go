package lifelog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/twilsonco/context-server/internal/errors"
)

var testDay = time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:    baseURL,
		APIKey:     "test-key",
		PageLimit:  2,
		MaxRetries: 2,
		Timeout:    2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func entry(id, title string) Lifelog {
	return Lifelog{ID: id, Title: title, Markdown: "- logged " + id}
}

func writePage(t *testing.T, w http.ResponseWriter, logs []Lifelog, nextCursor string) {
	t.Helper()
	var resp lifelogsResponse
	resp.Data.Lifelogs = logs
	resp.Meta.Lifelogs.NextCursor = nextCursor
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	// When creating a client without a key
	_, err := NewClient(Config{BaseURL: "http://localhost:1"})

	// Then the error carries the config code
	var ce *cerrors.ContextError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, cerrors.ErrCodeConfigInvalid, ce.Code)
}

func TestClient_FetchDayPaginatesWithCursor(t *testing.T) {
	// Given a server serving the day in two pages
	type call struct {
		query  url.Values
		apiKey string
	}
	var mu sync.Mutex
	var calls []call
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, call{query: r.URL.Query(), apiKey: r.Header.Get("X-API-Key")})
		mu.Unlock()

		if r.URL.Query().Get("cursor") == "" {
			writePage(t, w, []Lifelog{entry("a", "First"), entry("b", "Second")}, "page-2")
			return
		}
		writePage(t, w, []Lifelog{entry("c", "Third")}, "")
	}))
	t.Cleanup(server.Close)
	client := newTestClient(t, server.URL)

	// When fetching the day
	logs, err := client.FetchDay(context.Background(), testDay)

	// Then both pages come back in order
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "a", logs[0].ID)
	assert.Equal(t, "b", logs[1].ID)
	assert.Equal(t, "c", logs[2].ID)

	// And the requests carry the expected parameters
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 2)
	first := calls[0]
	assert.Equal(t, "test-key", first.apiKey)
	assert.Equal(t, "2025-03-05", first.query.Get("date"))
	assert.Equal(t, "asc", first.query.Get("direction"))
	assert.Equal(t, "true", first.query.Get("includeMarkdown"))
	assert.Equal(t, "true", first.query.Get("includeHeadings"))
	assert.Equal(t, "2", first.query.Get("limit"))
	assert.False(t, first.query.Has("cursor"))
	assert.False(t, first.query.Has("timezone"))
	assert.Equal(t, "page-2", calls[1].query.Get("cursor"))
}

func TestClient_FetchDayStopsOnShortPage(t *testing.T) {
	// Given a short page that still carries a cursor
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "America/Los_Angeles", r.URL.Query().Get("timezone"))
		writePage(t, w, []Lifelog{entry("only", "Solo")}, "stale-cursor")
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseURL:   server.URL,
		APIKey:    "test-key",
		Timezone:  "America/Los_Angeles",
		PageLimit: 2,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	// When fetching the day
	logs, err := client.FetchDay(context.Background(), testDay)

	// Then the short page ends pagination despite the cursor
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.EqualValues(t, 1, requests.Load())
}

func TestClient_FetchDayRetriesServerErrors(t *testing.T) {
	// Given a server that fails once before recovering
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "backend restarting", http.StatusInternalServerError)
			return
		}
		writePage(t, w, []Lifelog{entry("a", "Recovered")}, "")
	}))
	t.Cleanup(server.Close)
	client := newTestClient(t, server.URL)

	// When fetching the day
	logs, err := client.FetchDay(context.Background(), testDay)

	// Then the retry succeeds
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.EqualValues(t, 2, attempts.Load())
}

func TestClient_FetchDayRejectsBadKey(t *testing.T) {
	// Given a server that rejects the key
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)
	client := newTestClient(t, server.URL)

	// When fetching the day
	_, err := client.FetchDay(context.Background(), testDay)

	// Then the failure is reported as a config problem without retries
	var ce *cerrors.ContextError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, cerrors.ErrCodeConfigInvalid, ce.Code)
	assert.EqualValues(t, 1, attempts.Load())
}

func TestClient_FetchDayReportsRateLimiting(t *testing.T) {
	// Given a server that keeps rate limiting
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("Retry-After", "0")
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)
	client := newTestClient(t, server.URL)

	// When fetching the day
	_, err := client.FetchDay(context.Background(), testDay)

	// Then every retry was spent and the error carries the rate limit code
	var ce *cerrors.ContextError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, cerrors.ErrCodeRateLimited, ce.Code)
	assert.EqualValues(t, 3, attempts.Load())
}

func TestClient_FetchDayReportsBackendFailure(t *testing.T) {
	// Given a server that never recovers
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)
	client := newTestClient(t, server.URL)

	// When fetching the day
	_, err := client.FetchDay(context.Background(), testDay)

	// Then the error carries the backend code
	var ce *cerrors.ContextError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, cerrors.ErrCodeBackendUnavailable, ce.Code)
}

func TestClient_FetchDayHonorsCancellation(t *testing.T) {
	// Given a server slower than the caller's deadline
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		writePage(t, w, nil, "")
	}))
	t.Cleanup(server.Close)
	client := newTestClient(t, server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// When fetching past the deadline
	_, err := client.FetchDay(ctx, testDay)

	// Then the context error surfaces instead of a retry loop
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-2"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))

	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	hint := parseRetryAfter(future)
	assert.Greater(t, hint, 80*time.Second)
	assert.LessOrEqual(t, hint, 90*time.Second)

	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	assert.Equal(t, time.Duration(0), parseRetryAfter(past))
}
