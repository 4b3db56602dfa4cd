package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/twilsonco/context-server/internal/embed"
	cerrors "github.com/twilsonco/context-server/internal/errors"
	"github.com/twilsonco/context-server/internal/rerank"
	"github.com/twilsonco/context-server/internal/segment"
)

// maxCandidateCount caps recall depth no matter what the caller asks
// for. Reranking is linear in the candidate count.
const maxCandidateCount = 100

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Engine runs the two-stage retrieval pipeline over one Index.
type Engine struct {
	index    Index
	embedder embed.Embedder
	reranker rerank.Reranker
	config   Config
}

var _ Searcher = (*Engine)(nil)

// NewEngine creates a retrieval engine. The embedder must be the one
// the stores were built with, otherwise query vectors will not match
// the indexed dimensions.
func NewEngine(index Index, embedder embed.Embedder, reranker rerank.Reranker, config Config) (*Engine, error) {
	if index == nil {
		return nil, fmt.Errorf("%w: index is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if reranker == nil {
		return nil, fmt.Errorf("%w: reranker is required", ErrNilDependency)
	}

	defaults := DefaultConfig()
	if !config.DefaultGranularity.Valid() {
		config.DefaultGranularity = defaults.DefaultGranularity
	}
	if config.CandidateCount <= 0 {
		config.CandidateCount = defaults.CandidateCount
	}
	if config.ResultCount <= 0 {
		config.ResultCount = defaults.ResultCount
	}

	return &Engine{
		index:    index,
		embedder: embedder,
		reranker: reranker,
		config:   config,
	}, nil
}

// resolved is an Options value with every default applied.
type resolved struct {
	granularity   segment.Granularity
	recencyWeight float64
	candidates    int
	results       int
}

func (e *Engine) resolveOptions(opts Options) (resolved, error) {
	r := resolved{
		granularity:   e.config.DefaultGranularity,
		recencyWeight: e.config.RecencyWeight,
		candidates:    e.config.CandidateCount,
		results:       e.config.ResultCount,
	}

	if opts.Granularity != "" {
		g, err := segment.ParseGranularity(opts.Granularity)
		if err != nil {
			return r, cerrors.New(cerrors.ErrCodeInvalidGranularity,
				fmt.Sprintf("unknown granularity %q", opts.Granularity), nil).
				WithSuggestion("use one of: day, memory, section, line")
		}
		r.granularity = g
	}
	if opts.RecencyWeight != nil {
		r.recencyWeight = *opts.RecencyWeight
	}
	if opts.CandidateCount > 0 {
		r.candidates = opts.CandidateCount
	}
	if opts.ResultCount > 0 {
		r.results = opts.ResultCount
	}
	if r.candidates > maxCandidateCount {
		r.candidates = maxCandidateCount
	}
	return r, nil
}

// Search embeds the query, recalls candidates from the selected
// granularity, rescores every candidate with the reranker, applies
// recency weighting to dated results, and returns the top results by
// final score. The ANN score only selects candidates; it never ranks
// the reply.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]ResultView, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, cerrors.New(cerrors.ErrCodeQueryEmpty,
			"search query is empty", nil).
			WithSuggestion("provide a non-empty query")
	}

	r, err := e.resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeEmbeddingFailed,
			"embed query", err).
			WithSuggestion("check that the embedding backend is running")
	}

	candidates, err := e.index.Store(r.granularity).Search(ctx, vec, r.candidates)
	if err != nil {
		return nil, fmt.Errorf("search %s index: %w", r.granularity, err)
	}
	if len(candidates) == 0 {
		return []ResultView{}, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Record.Text
	}
	relevance, err := e.reranker.Score(ctx, query, texts)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeRerankFailed,
			"rerank candidates", err).
			WithSuggestion("check that the rerank backend is running")
	}
	if len(relevance) != len(candidates) {
		return nil, fmt.Errorf("reranker returned %d scores for %d candidates",
			len(relevance), len(candidates))
	}

	now := time.Now()
	results := make([]ResultView, len(candidates))
	for i, c := range candidates {
		rec := c.Record
		score := relevance[i]
		if rec.Dated() {
			score -= r.recencyWeight * daysOld(rec.Date, now)
		}
		view := ResultView{
			Text:          rec.Text,
			Granularity:   r.granularity.String(),
			Title:         rec.Title,
			ParentMemory:  rec.ParentMemory,
			ParentSection: rec.ParentSection,
			Score:         score,
		}
		if rec.Dated() {
			view.Date = rec.Date.Format("2006-01-02")
		}
		results[i] = view
	}

	// Ties keep candidate order, so equal scores fall back to ANN rank.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > r.results {
		results = results[:r.results]
	}

	slog.Debug("search_complete",
		slog.String("granularity", r.granularity.String()),
		slog.Int("candidates", len(candidates)),
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(start)))
	return results, nil
}

// daysOld returns whole days between date and now, floored, so a
// result from later today costs nothing. Future dates go negative and
// recency weighting then boosts instead of penalizes.
func daysOld(date, now time.Time) float64 {
	return math.Floor(now.Sub(date).Hours() / 24)
}
