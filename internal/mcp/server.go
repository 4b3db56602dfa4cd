// Package mcp exposes the note search pipeline to AI clients over the
// Model Context Protocol. Two tools are served: search_notes runs the
// retrieval pipeline and returns markdown-formatted segments, and
// index_status reports indexing progress and backend identity. A
// notes://index resource lists the indexed files.
package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/twilsonco/context-server/internal/embed"
	"github.com/twilsonco/context-server/internal/index"
	"github.com/twilsonco/context-server/internal/rerank"
	"github.com/twilsonco/context-server/internal/search"
	"github.com/twilsonco/context-server/internal/telemetry"
	"github.com/twilsonco/context-server/pkg/version"
)

// maxToolResults caps the limit an MCP client may request.
const maxToolResults = 50

// Deps are the components the MCP server exposes. Searcher and Index
// are required; Embedder and Reranker only enrich index_status, and
// Metrics records query traffic. All three may be nil.
type Deps struct {
	Searcher search.Searcher
	Index    *index.Coordinator
	Embedder embed.Embedder
	Reranker rerank.Reranker
	Metrics  *telemetry.QueryMetrics
}

// Server bridges MCP clients with the search engine and the index
// coordinator.
type Server struct {
	mcp      *mcp.Server
	searcher search.Searcher
	index    *index.Coordinator
	embedder embed.Embedder
	reranker rerank.Reranker
	metrics  *telemetry.QueryMetrics
}

// NewServer creates an MCP server with all tools and resources
// registered. It does not serve until Serve is called.
func NewServer(deps Deps) (*Server, error) {
	if deps.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if deps.Index == nil {
		return nil, errors.New("index coordinator is required")
	}

	s := &Server{
		searcher: deps.Searcher,
		index:    deps.Index,
		embedder: deps.Embedder,
		reranker: deps.Reranker,
		metrics:  deps.Metrics,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "context-server",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	s.registerResources()

	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "search_notes",
		Description: "Semantic search over indexed personal notes. Returns the most " +
			"relevant note segments for a natural-language query, reranked and " +
			"optionally recency-weighted. Granularity selects how much context each " +
			"result carries: a whole day, a memory (#), a section (##), or a single line (-).",
	}, s.handleSearchNotes)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "index_status",
		Description: "Check whether the note index is ready: bulk indexing progress, " +
			"per-granularity segment counts, and which embedding backend is active.",
	}, s.handleIndexStatus)

	slog.Debug("mcp_tools_registered", slog.Int("count", 2))
}

// handleSearchNotes runs one search for an MCP client. While a bulk
// reindex is rebuilding the stores it returns a progress notice
// instead of partial results.
func (s *Server) handleSearchNotes(ctx context.Context, _ *mcp.CallToolRequest, input SearchNotesInput) (
	*mcp.CallToolResult,
	SearchNotesOutput,
	error,
) {
	start := time.Now()
	requestID := newRequestID()

	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchNotesOutput{}, NewInvalidParamsError("query must be a non-empty string")
	}
	if input.RecencyWeight != nil && *input.RecencyWeight < 0 {
		return nil, SearchNotesOutput{}, NewInvalidParamsError("recency_weight must be non-negative")
	}

	if s.index.Indexing() {
		snap := s.index.Progress().Snapshot()
		slog.Info("search_notes_deferred",
			slog.String("request_id", requestID),
			slog.Float64("percent", snap.Percent))
		return textResult(formatIndexingNotice(snap)), SearchNotesOutput{
			Notice: "indexing in progress; try again when the rebuild finishes",
		}, nil
	}

	opts := search.Options{
		Granularity:   input.Granularity,
		RecencyWeight: input.RecencyWeight,
		ResultCount:   input.Limit,
	}
	if opts.ResultCount > maxToolResults {
		opts.ResultCount = maxToolResults
	}

	slog.Info("search_notes_started",
		slog.String("request_id", requestID),
		slog.String("query", input.Query),
		slog.String("granularity", input.Granularity),
		slog.Int("limit", opts.ResultCount))

	results, err := s.searcher.Search(ctx, input.Query, opts)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordFailure(input.Granularity)
		}
		slog.Error("search_notes_failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, SearchNotesOutput{}, MapError(err)
	}
	if s.metrics != nil {
		s.metrics.Record(input.Query, input.Granularity, time.Since(start), len(results))
	}

	slog.Info("search_notes_completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("results", len(results)))

	output := SearchNotesOutput{
		Results: results,
		Count:   len(results),
	}
	return textResult(FormatResults(input.Query, results)), output, nil
}

// handleIndexStatus reports index readiness to an MCP client.
func (s *Server) handleIndexStatus(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	requestID := newRequestID()
	status := s.index.Status()

	output := &IndexStatusOutput{
		Progress: status.Progress,
		Counts:   status.Counts,
		Files:    status.Files,
	}
	if s.embedder != nil {
		info := embed.GetInfo(ctx, s.embedder)
		output.Embedder = &EmbedderInfo{
			Provider:   string(info.Provider),
			Model:      info.Model,
			Dimensions: info.Dimensions,
			Available:  info.Available,
		}
	}
	if s.reranker != nil {
		output.Reranker = &RerankerInfo{
			Model:     s.reranker.ModelName(),
			Available: s.reranker.Available(ctx),
		}
	}

	slog.Info("index_status_reported",
		slog.String("request_id", requestID),
		slog.String("state", string(status.Progress.State)),
		slog.Int("files", status.Files))
	return nil, output, nil
}

// Serve runs the server over stdio until ctx is canceled or the
// client disconnects.
func (s *Server) Serve(ctx context.Context) error {
	slog.Info("mcp_serving", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("mcp_stopped", slog.String("error", err.Error()))
		return fmt.Errorf("mcp server: %w", err)
	}
	slog.Info("mcp_stopped")
	return nil
}

// textResult wraps markdown in the text content MCP clients display.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// newRequestID creates a short unique id for log correlation.
func newRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
