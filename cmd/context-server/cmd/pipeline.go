package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilsonco/context-server/internal/config"
	"github.com/twilsonco/context-server/internal/embed"
	"github.com/twilsonco/context-server/internal/index"
	"github.com/twilsonco/context-server/internal/logging"
	"github.com/twilsonco/context-server/internal/rerank"
	"github.com/twilsonco/context-server/internal/search"
)

// pipeline bundles the shared retrieval stack: embedder, index
// coordinator, reranker, and search engine, built from one config.
type pipeline struct {
	cfg      *config.Config
	coord    *index.Coordinator
	embedder embed.Embedder
	reranker rerank.Reranker
	engine   *search.Engine
}

// embedConfigFrom maps config settings onto the embedder factory
// config, keeping backend defaults for anything unset.
func embedConfigFrom(cfg *config.Config) embed.Config {
	ollama := embed.DefaultOllamaConfig()
	if cfg.Embeddings.OllamaHost != "" {
		ollama.Host = cfg.Embeddings.OllamaHost
	}
	if cfg.Embeddings.Model != "" {
		ollama.Model = cfg.Embeddings.Model
	}
	if cfg.Embeddings.Dimensions > 0 {
		ollama.Dimensions = cfg.Embeddings.Dimensions
	}
	if cfg.Embeddings.BatchSize > 0 {
		ollama.BatchSize = cfg.Embeddings.BatchSize
	}

	return embed.Config{
		Provider:  embed.ParseProvider(cfg.Embeddings.Provider),
		Ollama:    ollama,
		CacheSize: cfg.Embeddings.CacheSize,
	}
}

// buildReranker creates the configured reranker. An unreachable
// cross-encoder degrades to the no-op reranker with a warning, so
// search still answers in vector order.
func buildReranker(ctx context.Context, cfg *config.Config) rerank.Reranker {
	if !cfg.Rerank.Enabled {
		return rerank.NewNoopReranker()
	}

	rcfg := rerank.DefaultConfig()
	if cfg.Rerank.URL != "" {
		rcfg.Endpoint = cfg.Rerank.URL
	}
	if cfg.Rerank.Model != "" {
		rcfg.Model = cfg.Rerank.Model
	}

	reranker, err := rerank.NewHTTPReranker(ctx, rcfg)
	if err != nil {
		slog.Warn("reranker_unavailable",
			slog.String("endpoint", rcfg.Endpoint),
			slog.String("error", err.Error()))
		return rerank.NewNoopReranker()
	}
	return reranker
}

// buildPipeline assembles the full retrieval stack. Close releases it.
func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	embedder, err := embed.New(ctx, embedConfigFrom(cfg))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	coord, err := index.New(index.Config{
		NotesDir:      cfg.Notes.Dir,
		DataDir:       cfg.Index.DataDir,
		IncludeTitles: cfg.Notes.IncludeTitles,
		Embedder:      embedder,
	})
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	reranker := buildReranker(ctx, cfg)

	engine, err := search.NewEngine(coord, embedder, reranker, search.Config{
		DefaultGranularity: cfg.Granularity(),
		RecencyWeight:      cfg.Index.RecencyWeight,
		CandidateCount:     cfg.Index.NCandidates,
		ResultCount:        cfg.Index.NResults,
	})
	if err != nil {
		_ = coord.Close()
		_ = reranker.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("create search engine: %w", err)
	}

	return &pipeline{
		cfg:      cfg,
		coord:    coord,
		embedder: embedder,
		reranker: reranker,
		engine:   engine,
	}, nil
}

// Close releases pipeline resources. Snapshot persistence happens in
// the coordinator's Close.
func (p *pipeline) Close() {
	if p.coord != nil {
		_ = p.coord.Close()
	}
	if p.reranker != nil {
		_ = p.reranker.Close()
	}
	if p.embedder != nil {
		_ = p.embedder.Close()
	}
}

// loadConfig reads the configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// setupFileLogging routes logs to a file only, keeping stdout clean
// for command output. Used by one-shot CLI commands.
func setupFileLogging(cfg *config.Config) func() {
	logCfg := logging.Config{
		Level:         cfg.Server.LogLevel,
		FilePath:      logging.LogPathInDir(cfg.Index.DataDir),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	}
	if debugMode {
		logCfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return func() {}
	}
	slog.SetDefault(logger)
	return cleanup
}
