package mcp

import (
	"github.com/twilsonco/context-server/internal/index"
	"github.com/twilsonco/context-server/internal/search"
)

// SearchNotesInput is the input schema for the search_notes tool.
type SearchNotesInput struct {
	Query         string   `json:"query" jsonschema:"the natural-language search query"`
	Granularity   string   `json:"granularity,omitempty" jsonschema:"index to search: day, memory, section, or line; empty uses the configured default"`
	Limit         int      `json:"limit,omitempty" jsonschema:"maximum number of results, capped at 50; zero uses the configured default"`
	RecencyWeight *float64 `json:"recency_weight,omitempty" jsonschema:"score penalty per day of age for dated results; 0 disables recency weighting"`
}

// SearchNotesOutput is the output schema for the search_notes tool.
type SearchNotesOutput struct {
	Results []search.ResultView `json:"results" jsonschema:"ranked note segments"`
	Count   int                 `json:"count" jsonschema:"number of results returned"`
	Notice  string              `json:"notice,omitempty" jsonschema:"set instead of results while the index is rebuilding"`
}

// IndexStatusInput is the input schema for the index_status tool. The
// tool takes no parameters.
type IndexStatusInput struct{}

// IndexStatusOutput is the output schema for the index_status tool.
type IndexStatusOutput struct {
	Progress index.Snapshot `json:"progress" jsonschema:"bulk indexing progress"`
	Counts   map[string]int `json:"counts" jsonschema:"indexed segment count per granularity"`
	Files    int            `json:"files" jsonschema:"number of distinct indexed note files"`
	Embedder *EmbedderInfo  `json:"embedder,omitempty" jsonschema:"active embedding backend"`
	Reranker *RerankerInfo  `json:"reranker,omitempty" jsonschema:"active rerank backend"`
}

// EmbedderInfo identifies the embedding backend behind the index.
// Clients can use it to judge result quality: the static provider is
// an offline fallback with much weaker semantics than a real model.
type EmbedderInfo struct {
	Provider   string `json:"provider" jsonschema:"embedding provider: ollama or static"`
	Model      string `json:"model" jsonschema:"model identifier"`
	Dimensions int    `json:"dimensions" jsonschema:"embedding vector size"`
	Available  bool   `json:"available" jsonschema:"whether the backend is reachable right now"`
}

// RerankerInfo identifies the rerank backend.
type RerankerInfo struct {
	Model     string `json:"model" jsonschema:"rerank model identifier; none means the pass-through scorer"`
	Available bool   `json:"available" jsonschema:"whether the backend is reachable right now"`
}
