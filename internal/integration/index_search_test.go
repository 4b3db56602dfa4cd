package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twilsonco/context-server/internal/embed"
	"github.com/twilsonco/context-server/internal/index"
	"github.com/twilsonco/context-server/internal/rerank"
	"github.com/twilsonco/context-server/internal/search"
	"github.com/twilsonco/context-server/internal/segment"
)

// These tests run the full flow from notes on disk through indexing to
// search results, verifying the components work together.

func testEmbedder(t *testing.T) embed.Embedder {
	t.Helper()
	return embed.NewStaticEmbedder()
}

type stack struct {
	notesDir string
	dataDir  string
	coord    *index.Coordinator
	engine   *search.Engine
}

func newStack(t *testing.T) *stack {
	t.Helper()

	notesDir := t.TempDir()
	dataDir := t.TempDir()
	emb := testEmbedder(t)

	coord, err := index.New(index.Config{
		NotesDir:      notesDir,
		DataDir:       dataDir,
		IncludeTitles: true,
		Embedder:      emb,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Close() })

	engine, err := search.NewEngine(coord, emb, rerank.NewNoopReranker(), search.Config{})
	require.NoError(t, err)

	return &stack{notesDir: notesDir, dataDir: dataDir, coord: coord, engine: engine}
}

func (s *stack) writeNote(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(s.notesDir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const marchFifth = `# Team offsite

- planning session for the harbor project

## Dinner

- oysters at the pier restaurant
- Ana told the lighthouse story
`

const marchSixth = `# Quiet day

- reviewed the harbor project notes
`

func TestReindexThenSearchAllGranularities(t *testing.T) {
	s := newStack(t)
	s.writeNote(t, "2026/March/2026-03-05.md", marchFifth)
	s.writeNote(t, "2026/March/2026-03-06.md", marchSixth)

	summary, err := s.coord.Reindex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Files)
	assert.Zero(t, summary.Failed)

	for _, g := range []string{"day", "memory", "section", "line"} {
		results, err := s.engine.Search(context.Background(), "harbor project", search.Options{
			Granularity: g,
			ResultCount: 3,
		})
		require.NoError(t, err, "granularity %s", g)
		require.NotEmpty(t, results, "granularity %s", g)
		assert.Equal(t, g, results[0].Granularity)
	}
}

func TestReindexIsIdempotent(t *testing.T) {
	s := newStack(t)
	s.writeNote(t, "2026/March/2026-03-05.md", marchFifth)

	_, err := s.coord.Reindex(context.Background())
	require.NoError(t, err)
	first := s.coord.Status()

	_, err = s.coord.Reindex(context.Background())
	require.NoError(t, err)
	second := s.coord.Status()

	assert.Equal(t, first.Counts, second.Counts, "reindexing the same tree must not duplicate segments")
	assert.Equal(t, first.Files, second.Files)
}

func TestFileRemovalDropsItsSegments(t *testing.T) {
	s := newStack(t)
	keep := s.writeNote(t, "2026/March/2026-03-05.md", marchFifth)
	drop := s.writeNote(t, "2026/March/2026-03-06.md", marchSixth)
	_ = keep

	_, err := s.coord.Reindex(context.Background())
	require.NoError(t, err)
	before := s.coord.Status()

	s.coord.RemoveFile(drop)
	after := s.coord.Status()

	assert.Equal(t, before.Files-1, after.Files)
	assert.Less(t, after.Counts["line"], before.Counts["line"])

	results, err := s.engine.Search(context.Background(), "quiet day", search.Options{
		Granularity: "day",
		ResultCount: 5,
	})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "2026-03-06", r.Date, "removed file must not surface in results")
	}
}

func TestRecencyWeightPrefersNewerDays(t *testing.T) {
	s := newStack(t)
	// Same content on two days; only recency can break the tie.
	const note = "# Ferry ride\n\n- took the ferry across the bay\n"
	s.writeNote(t, "2026/January/2026-01-10.md", note)
	s.writeNote(t, "2026/March/2026-03-10.md", note)

	_, err := s.coord.Reindex(context.Background())
	require.NoError(t, err)

	weight := 0.5
	results, err := s.engine.Search(context.Background(), "ferry across the bay", search.Options{
		Granularity:   "day",
		RecencyWeight: &weight,
		ResultCount:   2,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "2026-03-10", results[0].Date)
	assert.Equal(t, "2026-01-10", results[1].Date)
}

func TestSnapshotsSurviveRestart(t *testing.T) {
	s := newStack(t)
	s.writeNote(t, "2026/March/2026-03-05.md", marchFifth)

	_, err := s.coord.Reindex(context.Background())
	require.NoError(t, err)
	counts := s.coord.Status().Counts
	require.NoError(t, s.coord.Close())

	// A fresh coordinator over the same data directory sees the same
	// index without reindexing.
	emb := testEmbedder(t)
	reopened, err := index.New(index.Config{
		NotesDir:      s.notesDir,
		DataDir:       s.dataDir,
		IncludeTitles: true,
		Embedder:      emb,
	})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	assert.Equal(t, counts, reopened.Status().Counts)

	engine, err := search.NewEngine(reopened, emb, rerank.NewNoopReranker(), search.Config{
		DefaultGranularity: segment.Line,
	})
	require.NoError(t, err)

	results, err := engine.Search(context.Background(), "lighthouse story", search.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "line", results[0].Granularity)
}
