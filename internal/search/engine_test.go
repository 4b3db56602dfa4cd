package search

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twilsonco/context-server/internal/embed"
	cerrors "github.com/twilsonco/context-server/internal/errors"
	"github.com/twilsonco/context-server/internal/rerank"
	"github.com/twilsonco/context-server/internal/segment"
	"github.com/twilsonco/context-server/internal/store"
)

var testDate = time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC)

// fakeIndex backs the engine with real in-memory stores.
type fakeIndex struct {
	stores [segment.Count]*store.GranularStore
}

func newFakeIndex(t *testing.T) *fakeIndex {
	t.Helper()

	fi := &fakeIndex{}
	for _, gr := range segment.All {
		s, err := store.New(gr, embed.NewStaticEmbedder(), store.DefaultConfig(0))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		fi.stores[gr] = s
	}
	return fi
}

func (f *fakeIndex) Store(g segment.Granularity) *store.GranularStore {
	return f.stores[g]
}

func seed(t *testing.T, fi *fakeIndex, g segment.Granularity, file string, date time.Time, segs ...segment.Segment) {
	t.Helper()
	require.NoError(t, fi.stores[g].AddSegments(context.Background(), segs, file, date))
}

func newEngine(t *testing.T, fi *fakeIndex, rr rerank.Reranker, cfg Config) *Engine {
	t.Helper()

	e, err := NewEngine(fi, embed.NewStaticEmbedder(), rr, cfg)
	require.NoError(t, err)
	return e
}

func weightPtr(w float64) *float64 {
	return &w
}

// fixedReranker gives every candidate the same relevance.
type fixedReranker struct {
	score float64
}

func (f *fixedReranker) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	scores := make([]float64, len(texts))
	for i := range scores {
		scores[i] = f.score
	}
	return scores, nil
}

func (f *fixedReranker) ModelName() string { return "fixed" }
func (f *fixedReranker) Available(_ context.Context) bool { return true }
func (f *fixedReranker) Close() error { return nil }

// mapReranker scores candidates by exact text lookup.
type mapReranker struct {
	scores map[string]float64
}

func (m *mapReranker) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	out := make([]float64, len(texts))
	for i, text := range texts {
		out[i] = m.scores[text]
	}
	return out, nil
}

func (m *mapReranker) ModelName() string { return "map" }
func (m *mapReranker) Available(_ context.Context) bool { return true }
func (m *mapReranker) Close() error { return nil }

// brokenReranker fails every call.
type brokenReranker struct{}

func (b *brokenReranker) Score(_ context.Context, _ string, _ []string) ([]float64, error) {
	return nil, fmt.Errorf("rerank backend gone")
}

func (b *brokenReranker) ModelName() string { return "broken" }
func (b *brokenReranker) Available(_ context.Context) bool { return false }
func (b *brokenReranker) Close() error { return nil }

// shortReranker returns one score fewer than asked.
type shortReranker struct{}

func (s *shortReranker) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	return make([]float64, len(texts)-1), nil
}

func (s *shortReranker) ModelName() string { return "short" }
func (s *shortReranker) Available(_ context.Context) bool { return true }
func (s *shortReranker) Close() error { return nil }

// brokenEmbedder fails single-text embedding only.
type brokenEmbedder struct {
	*embed.StaticEmbedder
}

func (b *brokenEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("embedding backend gone")
}

func TestEngine_NewValidatesDependencies(t *testing.T) {
	// Given each required dependency missing in turn
	fi := newFakeIndex(t)
	emb := embed.NewStaticEmbedder()
	rr := rerank.NewNoopReranker()

	_, err := NewEngine(nil, emb, rr, DefaultConfig())
	require.ErrorIs(t, err, ErrNilDependency)

	_, err = NewEngine(fi, nil, rr, DefaultConfig())
	require.ErrorIs(t, err, ErrNilDependency)

	_, err = NewEngine(fi, emb, nil, DefaultConfig())
	require.ErrorIs(t, err, ErrNilDependency)
}

func TestEngine_RanksExactMatchFirst(t *testing.T) {
	// Given three indexed memories and a query matching one of them
	fi := newFakeIndex(t)
	seed(t, fi, segment.Memory, "2025/March/2025-03-05.md", testDate,
		segment.Segment{Text: "booked flights to Lisbon for the spring trip", Title: "Travel"},
		segment.Segment{Text: "fixed the leaking kitchen tap", Title: "House"},
		segment.Segment{Text: "quarterly review notes from the team offsite", Title: "Work"},
	)
	e := newEngine(t, fi, rerank.NewNoopReranker(), DefaultConfig())

	// When searching with the default granularity
	results, err := e.Search(context.Background(), "booked flights to Lisbon for the spring trip", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// Then the matching memory ranks first with its metadata attached
	top := results[0]
	assert.Equal(t, "booked flights to Lisbon for the spring trip", top.Text)
	assert.Equal(t, "memory", top.Granularity)
	assert.Equal(t, "Travel", top.Title)
	assert.Equal(t, "2025-03-05", top.Date)
	assert.InDelta(t, 1.0, top.Score, 1e-9)
}

func TestEngine_EmptyQueryRejected(t *testing.T) {
	// Given an engine over an empty index
	e := newEngine(t, newFakeIndex(t), rerank.NewNoopReranker(), DefaultConfig())

	// When the query is blank or whitespace
	for _, q := range []string{"", "   ", "\t\n"} {
		_, err := e.Search(context.Background(), q, Options{})

		// Then it is rejected before touching any backend
		var cerr *cerrors.ContextError
		require.ErrorAs(t, err, &cerr, "query %q", q)
		assert.Equal(t, cerrors.ErrCodeQueryEmpty, cerr.Code)
	}
}

func TestEngine_UnknownGranularityRejected(t *testing.T) {
	// Given an engine
	e := newEngine(t, newFakeIndex(t), rerank.NewNoopReranker(), DefaultConfig())

	// When the options name a granularity that does not exist
	_, err := e.Search(context.Background(), "anything", Options{Granularity: "paragraph"})

	// Then the input error carries the granularity code
	var cerr *cerrors.ContextError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, cerrors.ErrCodeInvalidGranularity, cerr.Code)
	assert.Contains(t, err.Error(), "paragraph")
}

func TestEngine_EmptyIndexReturnsEmptySlice(t *testing.T) {
	// Given nothing indexed
	e := newEngine(t, newFakeIndex(t), rerank.NewNoopReranker(), DefaultConfig())

	// When searching
	results, err := e.Search(context.Background(), "weekend plans", Options{})

	// Then the reply is an empty slice, not an error
	require.NoError(t, err)
	require.NotNil(t, results)
	assert.Empty(t, results)
}

func TestEngine_GranularityOptionSelectsStore(t *testing.T) {
	// Given entries only in the line store
	fi := newFakeIndex(t)
	seed(t, fi, segment.Line, "2025/March/2025-03-05.md", testDate,
		segment.Segment{Text: "watered the tomato plants", ParentMemory: "Garden"},
	)
	e := newEngine(t, fi, rerank.NewNoopReranker(), DefaultConfig())

	// When searching the default memory granularity
	results, err := e.Search(context.Background(), "watered the tomato plants", Options{})
	require.NoError(t, err)

	// Then nothing is found there
	assert.Empty(t, results)

	// When searching the line granularity
	results, err = e.Search(context.Background(), "watered the tomato plants", Options{Granularity: "line"})
	require.NoError(t, err)

	// Then the entry comes back with its parent attached
	require.Len(t, results, 1)
	assert.Equal(t, "line", results[0].Granularity)
	assert.Equal(t, "Garden", results[0].ParentMemory)
	assert.Empty(t, results[0].ParentSection)
}

func TestEngine_RerankerOverridesCandidateOrder(t *testing.T) {
	// Given a reranker that disagrees with the vector ordering
	fi := newFakeIndex(t)
	seed(t, fi, segment.Memory, "inbox/ideas.md", time.Time{},
		segment.Segment{Text: "alpha entry"},
		segment.Segment{Text: "beta entry"},
		segment.Segment{Text: "gamma entry"},
	)
	rr := &mapReranker{scores: map[string]float64{
		"alpha entry": 0.2,
		"beta entry":  0.9,
		"gamma entry": 0.6,
	}}
	e := newEngine(t, fi, rr, DefaultConfig())

	// When searching
	results, err := e.Search(context.Background(), "entry", Options{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Then the final order follows the reranker, not the ANN score
	assert.Equal(t, "beta entry", results[0].Text)
	assert.Equal(t, "gamma entry", results[1].Text)
	assert.Equal(t, "alpha entry", results[2].Text)
	assert.InDelta(t, 0.9, results[0].Score, 1e-9)
}

func TestEngine_RecencyWeightAdjustsDatedResults(t *testing.T) {
	// Given equally relevant entries with different ages
	fi := newFakeIndex(t)
	now := time.Now()
	seed(t, fi, segment.Memory, "old.md", now.AddDate(0, 0, -10),
		segment.Segment{Text: "old entry"})
	seed(t, fi, segment.Memory, "recent.md", now.AddDate(0, 0, -1),
		segment.Segment{Text: "recent entry"})
	seed(t, fi, segment.Memory, "undated.md", time.Time{},
		segment.Segment{Text: "undated entry"})
	seed(t, fi, segment.Memory, "planned.md", now.AddDate(0, 0, 2),
		segment.Segment{Text: "planned entry"})
	e := newEngine(t, fi, &fixedReranker{score: 1.0}, DefaultConfig())

	// When searching with a recency weight
	results, err := e.Search(context.Background(), "entry", Options{RecencyWeight: weightPtr(0.05)})
	require.NoError(t, err)
	require.Len(t, results, 4)

	// Then age orders the reply: future, undated, recent, old
	assert.Equal(t, "planned entry", results[0].Text)
	assert.Equal(t, "undated entry", results[1].Text)
	assert.Equal(t, "recent entry", results[2].Text)
	assert.Equal(t, "old entry", results[3].Text)

	// And the scores reflect whole days of age
	assert.InDelta(t, 1.10, results[0].Score, 1e-9)
	assert.InDelta(t, 1.00, results[1].Score, 1e-9)
	assert.InDelta(t, 0.95, results[2].Score, 1e-9)
	assert.InDelta(t, 0.50, results[3].Score, 1e-9)
}

func TestEngine_ExplicitZeroRecencyWeightDisablesDecay(t *testing.T) {
	// Given an engine whose configured default penalizes age
	fi := newFakeIndex(t)
	seed(t, fi, segment.Memory, "old.md", time.Now().AddDate(0, 0, -30),
		segment.Segment{Text: "thirty day old entry"})
	cfg := DefaultConfig()
	cfg.RecencyWeight = 0.25
	e := newEngine(t, fi, &fixedReranker{score: 1.0}, cfg)

	// When the query overrides the weight with an explicit zero
	results, err := e.Search(context.Background(), "entry", Options{RecencyWeight: weightPtr(0)})
	require.NoError(t, err)
	require.Len(t, results, 1)

	// Then the dated entry keeps its bare relevance
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)

	// And without the override the configured default applies
	results, err = e.Search(context.Background(), "entry", Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0-0.25*30, results[0].Score, 1e-9)
}

func TestEngine_ResultCountTruncates(t *testing.T) {
	// Given six indexed lines
	fi := newFakeIndex(t)
	segs := make([]segment.Segment, 6)
	for i := range segs {
		segs[i] = segment.Segment{Text: fmt.Sprintf("errand number %d", i)}
	}
	seed(t, fi, segment.Line, "errands.md", time.Time{}, segs...)
	e := newEngine(t, fi, rerank.NewNoopReranker(), DefaultConfig())

	// When asking for two results
	results, err := e.Search(context.Background(), "errand", Options{Granularity: "line", ResultCount: 2})
	require.NoError(t, err)

	// Then the reply is truncated
	assert.Len(t, results, 2)

	// And asking for more than exists returns everything found
	results, err = e.Search(context.Background(), "errand", Options{Granularity: "line", ResultCount: 50})
	require.NoError(t, err)
	assert.Len(t, results, 6)
}

func TestEngine_RerankFailureSurfaces(t *testing.T) {
	// Given a reranker whose backend is down
	fi := newFakeIndex(t)
	seed(t, fi, segment.Memory, "a.md", testDate, segment.Segment{Text: "some entry"})
	e := newEngine(t, fi, &brokenReranker{}, DefaultConfig())

	// When searching
	_, err := e.Search(context.Background(), "entry", Options{})

	// Then the failure carries the rerank code
	var cerr *cerrors.ContextError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, cerrors.ErrCodeRerankFailed, cerr.Code)
}

func TestEngine_RerankScoreCountMismatchFails(t *testing.T) {
	// Given a reranker that drops a score
	fi := newFakeIndex(t)
	seed(t, fi, segment.Memory, "a.md", testDate,
		segment.Segment{Text: "first entry"},
		segment.Segment{Text: "second entry"},
	)
	e := newEngine(t, fi, &shortReranker{}, DefaultConfig())

	// When searching
	_, err := e.Search(context.Background(), "entry", Options{})

	// Then the mismatch is an error, not a silent truncation
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scores for")
}

func TestEngine_EmbedFailureSurfaces(t *testing.T) {
	// Given an embedder whose backend is down
	fi := newFakeIndex(t)
	seed(t, fi, segment.Memory, "a.md", testDate, segment.Segment{Text: "some entry"})
	e, err := NewEngine(fi, &brokenEmbedder{StaticEmbedder: embed.NewStaticEmbedder()},
		rerank.NewNoopReranker(), DefaultConfig())
	require.NoError(t, err)

	// When searching
	_, err = e.Search(context.Background(), "entry", Options{})

	// Then the failure carries the embedding code
	var cerr *cerrors.ContextError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, cerrors.ErrCodeEmbeddingFailed, cerr.Code)
}
