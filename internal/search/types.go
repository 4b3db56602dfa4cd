// Package search turns a natural-language query into ranked note
// segments. Retrieval is two-stage: the granularity's vector index
// recalls candidates, then a cross-encoder rescores every candidate
// and recency weighting adjusts dated ones before the final sort.
package search

import (
	"context"

	"github.com/twilsonco/context-server/internal/segment"
	"github.com/twilsonco/context-server/internal/store"
)

// Searcher is the query surface the transports depend on.
type Searcher interface {
	// Search executes a query and returns ranked results.
	Search(ctx context.Context, query string, opts Options) ([]ResultView, error)
}

// Index supplies the per-granularity candidate stores.
type Index interface {
	// Store returns the vector store for one granularity.
	Store(g segment.Granularity) *store.GranularStore
}

// Options configures a single query. Zero values fall back to the
// engine's configured defaults.
type Options struct {
	// Granularity selects which index to search: "day", "memory",
	// "section", or "line". Empty uses the configured default.
	Granularity string

	// RecencyWeight is the score penalty per day of age applied to
	// dated results. Nil uses the configured default; a pointer to
	// zero disables recency weighting for this query.
	RecencyWeight *float64

	// CandidateCount is how many nearest neighbors feed the reranker.
	// Zero or negative uses the configured default.
	CandidateCount int

	// ResultCount is the maximum number of results returned. Zero or
	// negative uses the configured default. May exceed CandidateCount;
	// the reply is then simply capped by the candidates found.
	ResultCount int
}

// ResultView is one ranked result shaped for the API surfaces. Parent
// fields are empty when the segment has no enclosing container.
type ResultView struct {
	Text          string  `json:"text"`
	Date          string  `json:"date,omitempty"`
	Granularity   string  `json:"granularity"`
	Title         string  `json:"title,omitempty"`
	ParentMemory  string  `json:"parent_memory,omitempty"`
	ParentSection string  `json:"parent_section,omitempty"`
	Score         float64 `json:"score"`
}

// Config holds the engine defaults applied when Options leave a field
// unset.
type Config struct {
	// DefaultGranularity is the index searched when none is requested.
	DefaultGranularity segment.Granularity

	// RecencyWeight is the default score penalty per day of age.
	RecencyWeight float64

	// CandidateCount is the default recall depth.
	CandidateCount int

	// ResultCount is the default reply size.
	ResultCount int
}

// DefaultConfig returns the stock engine defaults.
func DefaultConfig() Config {
	return Config{
		DefaultGranularity: segment.Memory,
		RecencyWeight:      0,
		CandidateCount:     10,
		ResultCount:        5,
	}
}
