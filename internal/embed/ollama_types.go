package embed

import "time"

// Ollama API constants
const (
	// DefaultOllamaHost is the default Ollama API endpoint
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model for notes.
	// all-minilm is the Ollama build of all-MiniLM-L6-v2, a small
	// general-purpose sentence embedding model (384 dimensions).
	DefaultOllamaModel = "all-minilm"

	// OllamaConnectTimeout for health checks and model listing
	OllamaConnectTimeout = 5 * time.Second

	// OllamaPoolSize for the HTTP connection pool
	OllamaPoolSize = 4
)

// FallbackOllamaModels are tried in order if the primary model is not
// installed. All are general text embedding models suitable for prose.
var FallbackOllamaModels = []string{
	"nomic-embed-text",
	"mxbai-embed-large",
}

// OllamaConfig configures the Ollama embedder
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434)
	Host string

	// Model is the embedding model to use (default: all-minilm)
	Model string

	// FallbackModels are tried in order if the primary model is unavailable
	FallbackModels []string

	// Dimensions can be set to override auto-detection (0 = auto-detect)
	Dimensions int

	// BatchSize for batch embedding requests (default: 32)
	BatchSize int

	// Timeout for API requests when the model is warm (default: 60s)
	Timeout time.Duration

	// ConnectTimeout for health checks (default: 5s)
	ConnectTimeout time.Duration

	// MaxRetries for transient failures (default: 3)
	MaxRetries int

	// PoolSize for the HTTP connection pool (default: 4)
	PoolSize int

	// SkipHealthCheck skips the initial Ollama availability check (for testing)
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns sensible defaults
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:           DefaultOllamaHost,
		Model:          DefaultOllamaModel,
		FallbackModels: FallbackOllamaModels,
		Dimensions:     0, // Auto-detect
		BatchSize:      DefaultBatchSize,
		Timeout:        DefaultWarmTimeout,
		ConnectTimeout: OllamaConnectTimeout,
		MaxRetries:     DefaultMaxRetries,
		PoolSize:       OllamaPoolSize,
	}
}

// ollamaEmbedRequest is the Ollama /api/embed request
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string for batch
}

// ollamaEmbedResponse is the Ollama /api/embed response
type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// ollamaModelListResponse is the Ollama /api/tags response
type ollamaModelListResponse struct {
	Models []ollamaModelInfo `json:"models"`
}

// ollamaModelInfo describes an installed model
type ollamaModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}
