// Package httpapi serves the search pipeline and index management
// over HTTP, plus the embedded single-page UI. Query parameters
// override the runtime settings per request; settings updates persist
// back to the config file.
package httpapi

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/twilsonco/context-server/internal/config"
	"github.com/twilsonco/context-server/internal/embed"
	"github.com/twilsonco/context-server/internal/index"
	"github.com/twilsonco/context-server/internal/rerank"
	"github.com/twilsonco/context-server/internal/search"
	"github.com/twilsonco/context-server/internal/telemetry"
)

// Deps are the components the server exposes. Coordinator, Searcher,
// and Config are required; Embedder and Reranker only enrich the
// status endpoint and may be nil. Metrics, when set, records query
// traffic and enables the stats endpoint.
type Deps struct {
	Coordinator *index.Coordinator
	Searcher    search.Searcher
	Embedder    embed.Embedder
	Reranker    rerank.Reranker
	Metrics     *telemetry.QueryMetrics

	// Config carries the runtime settings served and mutated by the
	// settings endpoints. ConfigPath is where updates are written;
	// empty means the default config path.
	Config     *config.Config
	ConfigPath string
}

// Server is the HTTP front end over the index and search pipeline.
type Server struct {
	app      *fiber.App
	index    *index.Coordinator
	searcher search.Searcher
	embedder embed.Embedder
	reranker rerank.Reranker
	metrics  *telemetry.QueryMetrics

	// mu guards settings. Handlers read them per request so updates
	// apply immediately without rebuilding the engine.
	mu         sync.RWMutex
	settings   *config.Config
	configPath string
}

// NewServer wires the routes onto a fiber app. The app does not
// listen until Listen is called.
func NewServer(deps Deps) (*Server, error) {
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if deps.Searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	configPath := deps.ConfigPath
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		app:        app,
		index:      deps.Coordinator,
		searcher:   deps.Searcher,
		embedder:   deps.Embedder,
		reranker:   deps.Reranker,
		metrics:    deps.Metrics,
		settings:   deps.Config,
		configPath: configPath,
	}

	app.Get("/", s.handleIndex)
	app.Get("/api/ping", s.handlePing)
	app.Get("/api/query", s.handleQuery)
	app.Get("/api/status", s.handleStatus)
	app.Get("/api/stats", s.handleStats)
	app.Post("/api/refresh", s.handleRefresh)
	app.Post("/api/reset", s.handleReset)
	app.Get("/api/settings", s.handleGetSettings)
	app.Post("/api/settings", s.handleUpdateSettings)

	return s, nil
}

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	slog.Info("http_listening", slog.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server, waiting for in-flight
// requests to finish.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
