package lifelog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/twilsonco/context-server/internal/errors"
)

func newTestSyncer(t *testing.T, baseURL string) (*Syncer, string) {
	t.Helper()
	notesDir := t.TempDir()
	syncer, err := NewSyncer(newTestClient(t, baseURL), notesDir)
	require.NoError(t, err)
	return syncer, notesDir
}

// dateRecorder collects the date parameter of every request.
type dateRecorder struct {
	mu    sync.Mutex
	dates []string
}

func (r *dateRecorder) record(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dates = append(r.dates, req.URL.Query().Get("date"))
}

func (r *dateRecorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.dates...)
}

func TestNewSyncer_Validates(t *testing.T) {
	client := newTestClient(t, "http://localhost:1")

	_, err := NewSyncer(nil, t.TempDir())
	require.Error(t, err)

	_, err = NewSyncer(client, "  ")
	var ce *cerrors.ContextError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, cerrors.ErrCodeInvalidInput, ce.Code)
}

func TestSyncer_WritesOneFilePerDayWithEntries(t *testing.T) {
	// Given three days where only the first and last have entries
	byDate := map[string][]Lifelog{
		"2025-03-05": {
			{Title: "Standup", Markdown: "- shipped the importer"},
			{Title: "Review", Markdown: "- walked through the design"},
		},
		"2025-03-07": {
			{Title: "Errands", Markdown: "- picked up groceries"},
		},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePage(t, w, byDate[r.URL.Query().Get("date")], "")
	}))
	t.Cleanup(server.Close)
	syncer, notesDir := newTestSyncer(t, server.URL)

	// When syncing the range
	summary, err := syncer.Sync(context.Background(),
		time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 7, 0, 0, 0, 0, time.UTC))

	// Then only days with entries produce note files
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Days)
	assert.Equal(t, 2, summary.Files)
	assert.Equal(t, 3, summary.Entries)

	first, err := os.ReadFile(filepath.Join(notesDir, "2025", "March", "2025-03-05.md"))
	require.NoError(t, err)
	assert.Equal(t,
		"# Standup\n\n- shipped the importer\n\n# Review\n\n- walked through the design\n",
		string(first))

	assert.FileExists(t, filepath.Join(notesDir, "2025", "March", "2025-03-07.md"))
	assert.NoFileExists(t, filepath.Join(notesDir, "2025", "March", "2025-03-06.md"))

	// And no temp files are left behind
	entries, err := os.ReadDir(filepath.Join(notesDir, "2025", "March"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), e.Name())
	}
}

func TestSyncer_RejectsInvertedRange(t *testing.T) {
	// Given a server that must never be called
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	}))
	t.Cleanup(server.Close)
	syncer, _ := newTestSyncer(t, server.URL)

	// When syncing a range that ends before it starts
	_, err := syncer.Sync(context.Background(),
		time.Date(2025, time.March, 7, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC))

	// Then the range is rejected up front
	var ce *cerrors.ContextError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, cerrors.ErrCodeInvalidInput, ce.Code)
}

func TestSyncer_StopsWhenAFetchFails(t *testing.T) {
	// Given a server that breaks on the second day
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("date") == "2025-03-06" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		writePage(t, w, []Lifelog{{Title: "Fine", Markdown: "- all good"}}, "")
	}))
	t.Cleanup(server.Close)

	notesDir := t.TempDir()
	client, err := NewClient(Config{BaseURL: server.URL, APIKey: "test-key", MaxRetries: 0})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	syncer, err := NewSyncer(client, notesDir)
	require.NoError(t, err)

	// When syncing across the failure
	summary, err := syncer.Sync(context.Background(),
		time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 7, 0, 0, 0, 0, time.UTC))

	// Then the sync stops at the failing day, keeping earlier work
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2025-03-06")
	assert.Equal(t, 1, summary.Days)
	assert.Equal(t, 1, summary.Files)
	assert.FileExists(t, filepath.Join(notesDir, "2025", "March", "2025-03-05.md"))
	assert.NoFileExists(t, filepath.Join(notesDir, "2025", "March", "2025-03-07.md"))
}

func TestSyncer_SyncRecentBackfillsWhenNoNotesExist(t *testing.T) {
	// Given an empty notes directory
	rec := &dateRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		writePage(t, w, nil, "")
	}))
	t.Cleanup(server.Close)
	syncer, _ := newTestSyncer(t, server.URL)

	// When syncing the last three days
	summary, err := syncer.SyncRecent(context.Background(), 3)

	// Then the backfill window through today is fetched
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Days)
	assert.Zero(t, summary.Files)

	dates := rec.seen()
	require.Len(t, dates, 3)
	today := dateOnly(time.Now())
	assert.Equal(t, today.AddDate(0, 0, -2).Format("2006-01-02"), dates[0])
	assert.Equal(t, today.Format("2006-01-02"), dates[2])
}

func TestSyncer_SyncRecentResumesFromNewestNote(t *testing.T) {
	// Given a notes tree whose newest dated note is yesterday
	rec := &dateRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		writePage(t, w, nil, "")
	}))
	t.Cleanup(server.Close)
	syncer, _ := newTestSyncer(t, server.URL)

	yesterday := dateOnly(time.Now()).AddDate(0, 0, -1)
	_, err := syncer.writeNote(yesterday, "# seed\n\n- placeholder\n")
	require.NoError(t, err)

	// When syncing with a backfill window much larger than needed
	summary, err := syncer.SyncRecent(context.Background(), 30)

	// Then only yesterday and today are re-fetched
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Days)

	dates := rec.seen()
	require.Len(t, dates, 2)
	assert.Equal(t, yesterday.Format("2006-01-02"), dates[0])
	assert.Equal(t, dateOnly(time.Now()).Format("2006-01-02"), dates[1])
}
