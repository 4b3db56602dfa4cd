// Package config loads and persists the server configuration: a single
// YAML file with defaults, environment overrides, and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	cerrors "github.com/twilsonco/context-server/internal/errors"
	"github.com/twilsonco/context-server/internal/segment"
)

// Config is the complete server configuration.
type Config struct {
	Notes      NotesConfig      `yaml:"notes" json:"notes"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Rerank     RerankConfig     `yaml:"rerank" json:"rerank"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Sync       SyncConfig       `yaml:"sync" json:"sync"`
}

// NotesConfig locates the notes tree and controls segmentation.
type NotesConfig struct {
	// Dir is the root of the markdown notes tree.
	Dir string `yaml:"dir" json:"dir"`

	// IncludeTitles prefixes container segments with their heading line
	// before embedding.
	IncludeTitles bool `yaml:"include_titles" json:"include_titles"`
}

// IndexConfig holds index storage and retrieval defaults.
type IndexConfig struct {
	// DataDir holds snapshots, the process lock, and logs.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// Granularity is the default search scope: day, memory, section,
	// or line.
	Granularity string `yaml:"granularity" json:"granularity"`

	// RecencyWeight is the score penalty per day of age for dated
	// results. Zero disables recency weighting.
	RecencyWeight float64 `yaml:"recency_weight" json:"recency_weight"`

	// NCandidates is the ANN candidate pool size handed to the reranker.
	NCandidates int `yaml:"n_candidates" json:"n_candidates"`

	// NResults is the default result count returned to callers.
	NResults int `yaml:"n_results" json:"n_results"`
}

// EmbeddingsConfig selects and tunes the embedding backend.
type EmbeddingsConfig struct {
	// Provider is auto, ollama, or static.
	Provider string `yaml:"provider" json:"provider"`

	// OllamaHost is the Ollama endpoint. Empty uses the backend default.
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	// Model is the embedding model name. Empty uses the backend default.
	Model string `yaml:"model" json:"model"`

	// Dimensions overrides auto-detection when nonzero.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// BatchSize for batch embedding requests.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// CacheSize is the LRU embedding cache size. Negative disables the
	// cache.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// RerankConfig configures the optional cross-encoder service.
type RerankConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	URL     string `yaml:"url" json:"url"`
	Model   string `yaml:"model" json:"model"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// SyncConfig configures the lifelog sync client.
type SyncConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	APIURL  string `yaml:"api_url" json:"api_url"`

	// APIKey authenticates against the lifelog API. The LIFELOG_API_KEY
	// environment variable overrides it.
	APIKey string `yaml:"api_key" json:"api_key"`

	// Timezone is the IANA zone used when bucketing entries into days.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Interval between periodic sync runs in serve, as a duration
	// string.
	Interval string `yaml:"interval" json:"interval"`

	// DaysBack bounds the initial backfill when no dated notes exist.
	DaysBack int `yaml:"days_back" json:"days_back"`
}

// NewConfig returns the configuration defaults.
func NewConfig() *Config {
	return &Config{
		Notes: NotesConfig{
			Dir:           "./notes",
			IncludeTitles: true,
		},
		Index: IndexConfig{
			DataDir:       DefaultDataDir(),
			Granularity:   "memory",
			RecencyWeight: 0.0,
			NCandidates:   10,
			NResults:      5,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "auto",
			OllamaHost: "", // Backend default
			Model:      "", // Backend default
			Dimensions: 0,  // Auto-detect
			BatchSize:  0,  // Backend default
			CacheSize:  0,  // Cache default
		},
		Rerank: RerankConfig{
			Enabled: false,
		},
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     5712,
			LogLevel: "info",
		},
		Sync: SyncConfig{
			Enabled:  false,
			Interval: "1h",
			DaysBack: 7,
		},
	}
}

// DefaultDataDir returns the default data directory
// (~/.context-server), falling back to the temp directory when the home
// directory is unavailable.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".context-server")
	}
	return filepath.Join(home, ".context-server")
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// Load reads the configuration in order of increasing precedence:
// defaults, the YAML file, then environment overrides. An empty path
// uses DefaultConfigPath, where a missing file is fine; an explicit
// path must exist.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Decoding over the defaulted struct lets explicit false and
		// zero values in the file override nonzero defaults.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, cerrors.New(cerrors.ErrCodeConfigInvalid,
				fmt.Sprintf("parse config file %s", path), err)
		}
	case os.IsNotExist(err):
		if explicit {
			return nil, cerrors.New(cerrors.ErrCodeConfigNotFound,
				fmt.Sprintf("config file not found: %s", path), err).
				WithSuggestion("run 'context-server config init' to create one")
		}
	default:
		return nil, cerrors.New(cerrors.ErrCodeFilePermission,
			fmt.Sprintf("read config file %s", path), err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies CONTEXT_SERVER_* overrides, plus
// LIFELOG_API_KEY for the sync credential.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CONTEXT_SERVER_NOTES_DIR"); v != "" {
		c.Notes.Dir = v
	}
	if v := os.Getenv("CONTEXT_SERVER_DATA_DIR"); v != "" {
		c.Index.DataDir = v
	}
	if v := os.Getenv("CONTEXT_SERVER_GRANULARITY"); v != "" {
		c.Index.Granularity = v
	}
	// The empty-string gate means an explicit zero still overrides a
	// nonzero file value.
	if v := os.Getenv("CONTEXT_SERVER_RECENCY_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 {
			c.Index.RecencyWeight = w
		}
	}
	if v := os.Getenv("CONTEXT_SERVER_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("CONTEXT_SERVER_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("CONTEXT_SERVER_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("CONTEXT_SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("CONTEXT_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("CONTEXT_SERVER_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("CONTEXT_SERVER_SYNC_ENABLED"); v != "" {
		c.Sync.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("LIFELOG_API_KEY"); v != "" {
		c.Sync.APIKey = v
	}
}

// Validate checks the assembled configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Notes.Dir) == "" {
		return cerrors.New(cerrors.ErrCodeConfigInvalid,
			"notes.dir must not be empty", nil)
	}
	if strings.TrimSpace(c.Index.DataDir) == "" {
		return cerrors.New(cerrors.ErrCodeConfigInvalid,
			"index.data_dir must not be empty", nil)
	}

	if _, err := segment.ParseGranularity(c.Index.Granularity); err != nil {
		return cerrors.New(cerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("index.granularity must be one of day, memory, section, line, got %q", c.Index.Granularity), nil)
	}
	if c.Index.RecencyWeight < 0 {
		return cerrors.New(cerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("index.recency_weight must be non-negative, got %g", c.Index.RecencyWeight), nil)
	}
	if c.Index.NCandidates < 1 {
		return cerrors.New(cerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("index.n_candidates must be at least 1, got %d", c.Index.NCandidates), nil)
	}
	if c.Index.NResults < 1 {
		return cerrors.New(cerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("index.n_results must be at least 1, got %d", c.Index.NResults), nil)
	}

	validProviders := map[string]bool{"auto": true, "ollama": true, "static": true}
	if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return cerrors.New(cerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("embeddings.provider must be auto, ollama, or static, got %q", c.Embeddings.Provider), nil)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return cerrors.New(cerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("server.port must be between 1 and 65535, got %d", c.Server.Port), nil)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return cerrors.New(cerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("server.log_level must be debug, info, warn, or error, got %q", c.Server.LogLevel), nil)
	}

	if c.Sync.Interval != "" {
		if _, err := time.ParseDuration(c.Sync.Interval); err != nil {
			return cerrors.New(cerrors.ErrCodeConfigInvalid,
				fmt.Sprintf("sync.interval is not a valid duration: %q", c.Sync.Interval), nil)
		}
	}
	if c.Sync.DaysBack < 1 {
		return cerrors.New(cerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("sync.days_back must be at least 1, got %d", c.Sync.DaysBack), nil)
	}
	if c.Sync.Enabled && strings.TrimSpace(c.Sync.APIKey) == "" {
		return cerrors.New(cerrors.ErrCodeConfigInvalid,
			"sync.api_key is required when sync is enabled", nil).
			WithSuggestion("set sync.api_key in the config file or the LIFELOG_API_KEY environment variable")
	}

	return nil
}

// Granularity returns the parsed default granularity. Call after
// Validate; an unparsable value falls back to memory.
func (c *Config) Granularity() segment.Granularity {
	g, err := segment.ParseGranularity(c.Index.Granularity)
	if err != nil {
		return segment.Memory
	}
	return g
}

// SyncInterval returns the parsed periodic sync interval. Call after
// Validate; an empty or unparsable value falls back to one hour.
func (c *Config) SyncInterval() time.Duration {
	d, err := time.ParseDuration(c.Sync.Interval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// WriteYAML persists the configuration, creating parent directories as
// needed.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return cerrors.New(cerrors.ErrCodeFilePermission,
			fmt.Sprintf("write config file %s", path), err)
	}
	return nil
}
