package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/twilsonco/context-server/internal/config"
	"github.com/twilsonco/context-server/internal/embed"
	cerrors "github.com/twilsonco/context-server/internal/errors"
	"github.com/twilsonco/context-server/internal/index"
	"github.com/twilsonco/context-server/internal/search"
	"github.com/twilsonco/context-server/internal/segment"
)

// errorResponse is the JSON body for every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
}

// messageResponse carries a human-readable outcome for mutations.
type messageResponse struct {
	Message string `json:"message"`
}

// queryResponse is the /api/query payload.
type queryResponse struct {
	Query       string              `json:"query"`
	Granularity string              `json:"granularity"`
	Results     []search.ResultView `json:"results"`
}

// statusResponse is the /api/status payload.
type statusResponse struct {
	index.Status
	Embedder *embed.Info   `json:"embedder,omitempty"`
	Reranker *rerankStatus `json:"reranker,omitempty"`
}

type rerankStatus struct {
	Model     string `json:"model"`
	Available bool   `json:"available"`
}

// settingsView is the runtime-tunable subset of the config exposed
// over the API.
type settingsView struct {
	IncludeTitles bool    `json:"include_titles"`
	Granularity   string  `json:"granularity"`
	RecencyWeight float64 `json:"recency_weight"`
	NCandidates   int     `json:"n_candidates"`
	NResults      int     `json:"n_results"`
}

// settingsUpdate uses pointer fields so absent keys leave the current
// value alone.
type settingsUpdate struct {
	IncludeTitles *bool    `json:"include_titles"`
	Granularity   *string  `json:"granularity"`
	RecencyWeight *float64 `json:"recency_weight"`
	NCandidates   *int     `json:"n_candidates"`
	NResults      *int     `json:"n_results"`
}

type settingsResponse struct {
	Settings settingsView  `json:"settings"`
	Status   *index.Status `json:"status,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// handlePing is the liveness check.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleQuery runs one search. Query parameters override the runtime
// settings; anything unspecified falls back to them.
func (s *Server) handleQuery(c *fiber.Ctx) error {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
			Error: "query parameter q is required",
		})
	}

	opts := s.defaultOptions()
	if v := c.Query("granularity"); v != "" {
		opts.Granularity = v
	}
	if v := c.Query("recency_weight"); v != "" {
		w, err := strconv.ParseFloat(v, 64)
		if err != nil || w < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
				Error: "recency_weight must be a non-negative number",
			})
		}
		opts.RecencyWeight = &w
	}
	if v := c.Query("n_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
				Error: "n_results must be a positive integer",
			})
		}
		opts.ResultCount = n
	}
	if v := c.Query("n_candidates"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
				Error: "n_candidates must be a positive integer",
			})
		}
		opts.CandidateCount = n
	}

	started := time.Now()
	results, err := s.searcher.Search(c.Context(), query, opts)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordFailure(opts.Granularity)
		}
		return s.jsonError(c, err)
	}
	if s.metrics != nil {
		s.metrics.Record(query, opts.Granularity, time.Since(started), len(results))
	}
	return c.JSON(queryResponse{
		Query:       query,
		Granularity: opts.Granularity,
		Results:     results,
	})
}

// defaultOptions snapshots the runtime settings into per-request
// search options. The granularity is always filled in, so the reply
// can report which index answered.
func (s *Server) defaultOptions() search.Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recency := s.settings.Index.RecencyWeight
	return search.Options{
		Granularity:    s.settings.Index.Granularity,
		RecencyWeight:  &recency,
		CandidateCount: s.settings.Index.NCandidates,
		ResultCount:    s.settings.Index.NResults,
	}
}

// handleStatus reports indexing progress, per-granularity counts, and
// backend identity.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	resp := statusResponse{Status: s.index.Status()}
	if s.embedder != nil {
		info := embed.GetInfo(c.Context(), s.embedder)
		resp.Embedder = &info
	}
	if s.reranker != nil {
		resp.Reranker = &rerankStatus{
			Model:     s.reranker.ModelName(),
			Available: s.reranker.Available(c.Context()),
		}
	}
	return c.JSON(resp)
}

// handleStats reports the aggregated query metrics.
func (s *Server) handleStats(c *fiber.Ctx) error {
	if s.metrics == nil {
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{
			Error: "query metrics are not enabled",
		})
	}
	return c.JSON(s.metrics.Snapshot())
}

// handleRefresh starts a bulk reindex in the background and returns
// immediately. The coordinator rejects overlapping runs; the up-front
// check turns the common case into a 409.
func (s *Server) handleRefresh(c *fiber.Ctx) error {
	if s.index.Indexing() {
		return c.Status(fiber.StatusConflict).JSON(errorResponse{
			Error: "an indexing run is already in progress",
		})
	}
	go func() {
		if _, err := s.index.Reindex(context.Background()); err != nil {
			slog.Error("reindex_failed", slog.String("error", err.Error()))
		}
	}()
	return c.Status(fiber.StatusAccepted).JSON(messageResponse{
		Message: "Index refresh started.",
	})
}

// handleReset clears all granularity stores and their snapshots.
func (s *Server) handleReset(c *fiber.Ctx) error {
	if s.index.Indexing() {
		return c.Status(fiber.StatusConflict).JSON(errorResponse{
			Error: "an indexing run is already in progress",
		})
	}
	s.index.ResetAll()
	return c.JSON(messageResponse{
		Message: "Index cleared. Use refresh to re-index files.",
	})
}

// handleGetSettings returns the runtime settings alongside the index
// status so the UI can render both with one request.
func (s *Server) handleGetSettings(c *fiber.Ctx) error {
	status := s.index.Status()
	return c.JSON(settingsResponse{
		Settings: s.currentSettings(),
		Status:   &status,
	})
}

// handleUpdateSettings validates and applies a partial settings
// update, then persists the config so the change survives a restart.
func (s *Server) handleUpdateSettings(c *fiber.Ctx) error {
	var update settingsUpdate
	if err := c.BodyParser(&update); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
			Error: "invalid settings payload",
		})
	}
	if update.Granularity != nil {
		if _, err := segment.ParseGranularity(*update.Granularity); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
				Error: fmt.Sprintf("unknown granularity %q", *update.Granularity),
			})
		}
	}
	if update.RecencyWeight != nil && *update.RecencyWeight < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
			Error: "recency_weight must be a non-negative number",
		})
	}
	if update.NCandidates != nil && *update.NCandidates < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
			Error: "n_candidates must be a positive integer",
		})
	}
	if update.NResults != nil && *update.NResults < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
			Error: "n_results must be a positive integer",
		})
	}

	s.mu.Lock()
	if update.IncludeTitles != nil {
		s.settings.Notes.IncludeTitles = *update.IncludeTitles
		s.index.SetIncludeTitles(*update.IncludeTitles)
	}
	if update.Granularity != nil {
		s.settings.Index.Granularity = *update.Granularity
	}
	if update.RecencyWeight != nil {
		s.settings.Index.RecencyWeight = *update.RecencyWeight
	}
	if update.NCandidates != nil {
		s.settings.Index.NCandidates = *update.NCandidates
	}
	if update.NResults != nil {
		s.settings.Index.NResults = *update.NResults
	}
	snapshot := *s.settings
	s.mu.Unlock()

	// Back up best effort, then persist. A failed write still leaves
	// the in-memory settings applied.
	if _, err := config.Backup(s.configPath); err != nil {
		slog.Warn("config_backup_failed",
			slog.String("path", s.configPath),
			slog.String("error", err.Error()))
	}
	if err := snapshot.WriteYAML(s.configPath); err != nil {
		slog.Error("config_write_failed",
			slog.String("path", s.configPath),
			slog.String("error", err.Error()))
		return s.jsonError(c, err)
	}

	slog.Info("settings_updated", slog.String("path", s.configPath))
	return c.JSON(settingsResponse{
		Settings: s.currentSettings(),
		Message:  "Settings updated. Some changes may require an index refresh.",
	})
}

func (s *Server) currentSettings() settingsView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return settingsView{
		IncludeTitles: s.settings.Notes.IncludeTitles,
		Granularity:   s.settings.Index.Granularity,
		RecencyWeight: s.settings.Index.RecencyWeight,
		NCandidates:   s.settings.Index.NCandidates,
		NResults:      s.settings.Index.NResults,
	}
}

// jsonError converts a pipeline error into a JSON reply with the
// status its code maps to. Server-side failures are logged here so
// handlers do not have to.
func (s *Server) jsonError(c *fiber.Ctx, err error) error {
	status := statusForError(err)
	if status >= fiber.StatusInternalServerError {
		slog.Error("http_request_failed",
			slog.String("path", c.Path()),
			slog.String("error", err.Error()))
	}
	return c.Status(status).JSON(errorResponse{Error: err.Error()})
}

// statusForError maps pipeline error codes onto HTTP statuses.
// Unrecognized errors are treated as internal.
func statusForError(err error) int {
	var ce *cerrors.ContextError
	if !errors.As(err, &ce) {
		return fiber.StatusInternalServerError
	}
	switch ce.Code {
	case cerrors.ErrCodeQueryEmpty,
		cerrors.ErrCodeInvalidGranularity,
		cerrors.ErrCodeInvalidInput:
		return fiber.StatusBadRequest
	case cerrors.ErrCodeIndexingActive:
		return fiber.StatusConflict
	case cerrors.ErrCodeRateLimited:
		return fiber.StatusTooManyRequests
	case cerrors.ErrCodeBackendUnavailable,
		cerrors.ErrCodeEmbeddingFailed,
		cerrors.ErrCodeRerankFailed:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
