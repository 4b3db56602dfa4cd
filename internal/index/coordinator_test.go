package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twilsonco/context-server/internal/embed"
	cerrors "github.com/twilsonco/context-server/internal/errors"
	"github.com/twilsonco/context-server/internal/segment"
)

const sampleNote = `# Morning Review

- checked the overnight deploy logs

## Planning

- sketched the migration timeline

# Evening

- cooked dinner with the neighbors
`

const groceryNote = `# Errands

- bought olive oil and rice
- returned the library books
`

const revisedNote = `# Morning Review

- rewrote the deploy checklist
`

func newCoordinator(t *testing.T, notesDir, dataDir string, emb embed.Embedder) *Coordinator {
	t.Helper()

	c, err := New(Config{
		NotesDir:      notesDir,
		DataDir:       dataDir,
		IncludeTitles: true,
		Embedder:      emb,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newTestCoordinator(t *testing.T) (*Coordinator, string) {
	t.Helper()

	notesDir := t.TempDir()
	return newCoordinator(t, notesDir, "", embed.NewStaticEmbedder()), notesDir
}

func writeNote(t *testing.T, dir, rel, content string) string {
	t.Helper()

	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func queryVec(t *testing.T, text string) []float32 {
	t.Helper()

	vec, err := embed.NewStaticEmbedder().Embed(context.Background(), text)
	require.NoError(t, err)
	return vec
}

func TestCoordinator_NewValidatesConfig(t *testing.T) {
	// Given a config with no notes directory
	_, err := New(Config{Embedder: embed.NewStaticEmbedder()})

	// Then construction fails
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notes directory")

	// And a missing embedder is also rejected
	_, err = New(Config{NotesDir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedder")
}

func TestCoordinator_IndexFileFansOutToAllStores(t *testing.T) {
	// Given a dated note with memories, a section, and list entries
	c, notesDir := newTestCoordinator(t)
	path := writeNote(t, notesDir, "2025/March/2025-03-05.md", sampleNote)

	// When the file is indexed
	require.NoError(t, c.IndexFile(context.Background(), path))

	// Then every granularity received its segments
	status := c.Status()
	assert.Equal(t, 1, status.Counts["day"])
	assert.Equal(t, 2, status.Counts["memory"])
	assert.Equal(t, 1, status.Counts["section"])
	assert.Equal(t, 3, status.Counts["line"])
	assert.Equal(t, 1, status.Files)

	// And the stores key the file by its relative slash path
	for _, gr := range segment.All {
		assert.True(t, c.Store(gr).Contains("2025/March/2025-03-05.md"), gr.String())
	}

	// And the records carry the date from the file name
	results, err := c.Store(segment.Line).Search(context.Background(), queryVec(t, "deploy logs"), 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	want := time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC)
	for _, r := range results {
		assert.True(t, r.Record.Date.Equal(want))
	}
}

func TestCoordinator_IndexFileReplacesPrevious(t *testing.T) {
	// Given an indexed note
	c, notesDir := newTestCoordinator(t)
	path := writeNote(t, notesDir, "2025/March/2025-03-05.md", sampleNote)
	require.NoError(t, c.IndexFile(context.Background(), path))

	// When the note shrinks and is indexed again
	writeNote(t, notesDir, "2025/March/2025-03-05.md", revisedNote)
	require.NoError(t, c.IndexFile(context.Background(), path))

	// Then the counts reflect only the new content
	status := c.Status()
	assert.Equal(t, 1, status.Counts["day"])
	assert.Equal(t, 1, status.Counts["memory"])
	assert.Equal(t, 0, status.Counts["section"])
	assert.Equal(t, 1, status.Counts["line"])
	assert.Equal(t, 1, status.Files)
}

func TestCoordinator_SetIncludeTitlesAppliesToLaterFiles(t *testing.T) {
	// Given a note indexed with title folding on
	c, notesDir := newTestCoordinator(t)
	path := writeNote(t, notesDir, "2025/March/2025-03-05.md", revisedNote)
	require.NoError(t, c.IndexFile(context.Background(), path))

	results, err := c.Store(segment.Memory).Search(context.Background(), queryVec(t, "deploy checklist"), 1)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.True(t, strings.HasPrefix(results[0].Record.Text, "# Morning Review"))

	// When title folding is turned off and the file is indexed again
	c.SetIncludeTitles(false)
	assert.False(t, c.IncludeTitles())
	require.NoError(t, c.IndexFile(context.Background(), path))

	// Then the memory text no longer carries the heading line
	results, err = c.Store(segment.Memory).Search(context.Background(), queryVec(t, "deploy checklist"), 1)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "- rewrote the deploy checklist", results[0].Record.Text)
}

func TestCoordinator_IndexFileSkipsSymlink(t *testing.T) {
	// Given a symlink inside the notes directory
	c, notesDir := newTestCoordinator(t)
	target := writeNote(t, notesDir, "real.md", groceryNote)
	link := filepath.Join(notesDir, "link.md")
	require.NoError(t, os.Symlink(target, link))

	// When the symlink is indexed
	require.NoError(t, c.IndexFile(context.Background(), link))

	// Then nothing was stored
	assert.Equal(t, 0, c.Status().Files)
}

func TestCoordinator_RemoveFileAcceptsEitherPathForm(t *testing.T) {
	// Given a note indexed by absolute path
	c, notesDir := newTestCoordinator(t)
	path := writeNote(t, notesDir, "2025/March/2025-03-05.md", sampleNote)
	require.NoError(t, c.IndexFile(context.Background(), path))

	// When it is removed by relative path
	c.RemoveFile("2025/March/2025-03-05.md")

	// Then all stores dropped it
	status := c.Status()
	assert.Equal(t, 0, status.Files)
	for _, gr := range segment.All {
		assert.Equal(t, 0, status.Counts[gr.String()], gr.String())
		assert.False(t, c.Store(gr).Contains("2025/March/2025-03-05.md"))
	}

	// And removing an unknown file is harmless
	c.RemoveFile("never/indexed.md")
}

func TestCoordinator_ReindexWalksNotesDirectory(t *testing.T) {
	// Given three notes and a stale entry for a deleted file
	c, notesDir := newTestCoordinator(t)
	writeNote(t, notesDir, "2025/March/2025-03-05.md", sampleNote)
	writeNote(t, notesDir, "2025/April/2025-04-01.md", groceryNote)
	writeNote(t, notesDir, "inbox/ideas.md", "# Ideas\n\n- build a seed vault\n")
	ghost := writeNote(t, notesDir, "ghost.md", groceryNote)
	require.NoError(t, c.IndexFile(context.Background(), ghost))
	require.NoError(t, os.Remove(ghost))

	// When the index is rebuilt
	summary, err := c.Reindex(context.Background())
	require.NoError(t, err)

	// Then the summary covers exactly the files on disk
	assert.Equal(t, 3, summary.Files)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 14, summary.Segments)
	assert.Greater(t, summary.Duration, time.Duration(0))

	// And the stale entry is gone
	assert.False(t, c.Store(segment.Day).Contains("ghost.md"))

	// And progress returned to idle at one hundred percent
	snap := c.Progress().Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 3, snap.Processed)
	assert.Equal(t, float64(100), snap.Percent)
	assert.Empty(t, snap.LastError)
}

// flakyEmbedder fails any batch containing the poison marker.
type flakyEmbedder struct {
	*embed.StaticEmbedder
	poison string
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, text := range texts {
		if strings.Contains(text, f.poison) {
			return nil, fmt.Errorf("backend rejected batch")
		}
	}
	return f.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCoordinator_ReindexSkipsFailingFiles(t *testing.T) {
	// Given one note whose text the embedder rejects
	notesDir := t.TempDir()
	emb := &flakyEmbedder{StaticEmbedder: embed.NewStaticEmbedder(), poison: "zzqp"}
	c := newCoordinator(t, notesDir, "", emb)
	writeNote(t, notesDir, "2025/March/2025-03-05.md", sampleNote)
	writeNote(t, notesDir, "2025/March/2025-03-06.md", groceryNote)
	writeNote(t, notesDir, "broken.md", "# Broken zzqp\n\n## Also zzqp\n\n- the zzqp entry stays out\n")

	// When the index is rebuilt
	summary, err := c.Reindex(context.Background())
	require.NoError(t, err)

	// Then the bad file is counted as failed, not fatal
	assert.Equal(t, 2, summary.Files)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, c.Progress().Snapshot().Failed)

	// And only the good files are indexed
	assert.Equal(t, 2, c.Status().Files)
	assert.False(t, c.Store(segment.Line).Contains("broken.md"))
}

// gatedEmbedder blocks batch calls until the gate is closed.
type gatedEmbedder struct {
	*embed.StaticEmbedder
	gate chan struct{}
}

func (g *gatedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	<-g.gate
	return g.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCoordinator_ReindexRejectsConcurrentRun(t *testing.T) {
	// Given a reindex stalled inside the embedder
	notesDir := t.TempDir()
	emb := &gatedEmbedder{StaticEmbedder: embed.NewStaticEmbedder(), gate: make(chan struct{})}
	c := newCoordinator(t, notesDir, "", emb)
	writeNote(t, notesDir, "2025/March/2025-03-05.md", sampleNote)

	type result struct {
		summary *Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := c.Reindex(context.Background())
		done <- result{s, err}
	}()
	require.Eventually(t, c.Indexing, 5*time.Second, 10*time.Millisecond)

	// When a second run is requested
	_, err := c.Reindex(context.Background())

	// Then it is rejected with the indexing-active code
	var cerr *cerrors.ContextError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, cerrors.ErrCodeIndexingActive, cerr.Code)

	// And the first run completes once the embedder resumes
	close(emb.gate)
	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, 1, res.summary.Files)
	case <-time.After(5 * time.Second):
		t.Fatal("reindex did not finish")
	}
	assert.False(t, c.Indexing())
}

func TestCoordinator_ReindexHonorsCancellation(t *testing.T) {
	// Given a cancelled context and at least one file to process
	c, notesDir := newTestCoordinator(t)
	writeNote(t, notesDir, "2025/March/2025-03-05.md", sampleNote)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// When the rebuild runs
	_, err := c.Reindex(ctx)

	// Then it stops with the context error and records it
	require.ErrorIs(t, err, context.Canceled)
	snap := c.Progress().Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, context.Canceled.Error(), snap.LastError)
}

func TestCoordinator_StatusWhileIdle(t *testing.T) {
	// Given a coordinator that has never indexed
	c, _ := newTestCoordinator(t)

	// Then status reports an idle, complete, empty index
	status := c.Status()
	assert.Equal(t, StateIdle, status.Progress.State)
	assert.Equal(t, float64(100), status.Progress.Percent)
	assert.Equal(t, 0, status.Files)
	for _, gr := range segment.All {
		assert.Equal(t, 0, status.Counts[gr.String()])
	}
}

func TestCoordinator_SnapshotsPersistAcrossRestart(t *testing.T) {
	// Given a coordinator that persisted an indexed note
	notesDir := t.TempDir()
	dataDir := t.TempDir()
	c := newCoordinator(t, notesDir, dataDir, embed.NewStaticEmbedder())
	path := writeNote(t, notesDir, "2025/March/2025-03-05.md", sampleNote)
	require.NoError(t, c.IndexFile(context.Background(), path))
	require.NoError(t, c.Close())

	// When a new coordinator opens the same data directory
	reopened := newCoordinator(t, notesDir, dataDir, embed.NewStaticEmbedder())

	// Then the index state survives the restart
	status := reopened.Status()
	assert.Equal(t, 1, status.Files)
	assert.Equal(t, 3, status.Counts["line"])
	assert.True(t, reopened.Store(segment.Memory).Contains("2025/March/2025-03-05.md"))

	// And search still works against the reloaded graphs
	results, err := reopened.Store(segment.Line).Search(context.Background(), queryVec(t, "deploy logs"), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Record.Text, "deploy")
}
