package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Provider selects an embedding implementation.
type Provider string

const (
	// ProviderAuto probes Ollama and falls back to the static embedder.
	ProviderAuto Provider = "auto"

	// ProviderOllama requires a reachable Ollama instance.
	ProviderOllama Provider = "ollama"

	// ProviderStatic uses hash-based embeddings (offline, reduced quality).
	ProviderStatic Provider = "static"
)

// ParseProvider converts a string to a Provider. Unknown values map to
// ProviderAuto so a typo in config degrades gracefully instead of failing.
func ParseProvider(s string) Provider {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ollama":
		return ProviderOllama
	case "static":
		return ProviderStatic
	default:
		return ProviderAuto
	}
}

// ValidProviders returns all accepted provider names.
func ValidProviders() []string {
	return []string{
		string(ProviderAuto),
		string(ProviderOllama),
		string(ProviderStatic),
	}
}

// Config selects and configures the embedding implementation.
type Config struct {
	// Provider is auto, ollama, or static (default: auto).
	Provider Provider

	// Ollama holds Ollama connection settings, used by ollama and auto.
	Ollama OllamaConfig

	// CacheSize is the LRU embedding cache size. 0 uses the default;
	// negative disables caching.
	CacheSize int
}

// New creates an embedder for the configured provider.
//
// With ProviderAuto, Ollama is tried first and the static embedder is used
// when it is unreachable, with a warning logged. With ProviderOllama an
// unreachable backend is an error. Unless disabled, the result is wrapped
// in a CachedEmbedder.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	var embedder Embedder
	var err error

	switch cfg.Provider {
	case ProviderStatic:
		embedder = NewStaticEmbedder()

	case ProviderOllama:
		embedder, err = NewOllamaEmbedder(ctx, cfg.Ollama)
		if err != nil {
			return nil, err
		}

	default: // ProviderAuto
		embedder, err = NewOllamaEmbedder(ctx, cfg.Ollama)
		if err != nil {
			slog.Warn("embedding_backend_unavailable",
				slog.String("host", cfg.Ollama.Host),
				slog.String("fallback", "static"),
				slog.String("error", err.Error()))
			embedder = NewStaticEmbedder()
		}
	}

	if cfg.CacheSize >= 0 {
		embedder = NewCachedEmbedder(embedder, cfg.CacheSize)
	}

	return embedder, nil
}

// Info describes an embedder for status reporting.
type Info struct {
	Provider   Provider `json:"provider"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions"`
	Available  bool     `json:"available"`
}

// GetInfo inspects an embedder, unwrapping the cache layer if present.
func GetInfo(ctx context.Context, embedder Embedder) Info {
	info := Info{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.Inner()
	}

	switch inner.(type) {
	case *OllamaEmbedder:
		info.Provider = ProviderOllama
	case *StaticEmbedder:
		info.Provider = ProviderStatic
	default:
		info.Provider = Provider(fmt.Sprintf("%T", inner))
	}

	return info
}
