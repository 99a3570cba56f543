// Package config loads and persists cortex engine configuration.
// Configuration lives at .cortex/config.yaml inside the workspace; missing
// files fall back to defaults with environment overrides applied on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ry-ht/cortex/internal/logging"
)

// Config holds all cortex engine configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Storage   StorageConfig   `yaml:"storage"`
	Pool      PoolConfig      `yaml:"pool"`
	Parser    ParserConfig    `yaml:"parser"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Memory    MemoryConfig    `yaml:"memory"`
	Events    EventsConfig    `yaml:"events"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StorageConfig selects the store flavor.
type StorageConfig struct {
	// Backend: "persistent" or "in_memory".
	Backend string `yaml:"backend"`
	// Path of the sqlite database for the persistent backend.
	Path string `yaml:"path"`
	// FallbackInMemory falls back to an ephemeral store when the persistent
	// backend fails to open.
	FallbackInMemory bool `yaml:"fallback_in_memory"`
}

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	Min                 int           `yaml:"min"`
	Max                 int           `yaml:"max"`
	ConnectionTimeout   time.Duration `yaml:"connection_timeout"`
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
	MaxLifetime         time.Duration `yaml:"max_lifetime"`
	WarmOnStart         bool          `yaml:"warm_on_start"`
	ValidateOnCheckout  bool          `yaml:"validate_on_checkout"`
	RecycleAfterUses    int           `yaml:"recycle_after_uses"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`
	MaxRetries          int           `yaml:"max_retries"`
	CooldownPeriod      time.Duration `yaml:"cooldown_period"`
	ErrorRateThreshold  float64       `yaml:"error_rate_threshold"`
}

// ParserConfig tunes the concurrent parse runner.
type ParserConfig struct {
	MaxConcurrency  int   `yaml:"max_concurrency"`
	MaxASTFileBytes int64 `yaml:"max_ast_file_bytes"`
}

// EmbeddingConfig selects the embedding engine and tunes the service layer.
type EmbeddingConfig struct {
	// Provider: "ollama", "genai" or "mock".
	Provider       string        `yaml:"provider"`
	OllamaEndpoint string        `yaml:"ollama_endpoint"`
	OllamaModel    string        `yaml:"ollama_model"`
	GenAIAPIKey    string        `yaml:"genai_api_key"`
	GenAIModel     string        `yaml:"genai_model"`
	BatchSize      int           `yaml:"batch_size"`
	MaxTextLength  int           `yaml:"max_text_length"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	Workers         int           `yaml:"workers"`
	ChannelCapacity int           `yaml:"channel_capacity"`
	GracefulErrors  bool          `yaml:"graceful_errors"`
	MinQualityScore float64       `yaml:"min_quality_score"`
	PerFileBudget   time.Duration `yaml:"per_file_budget"`
	RunBudget       time.Duration `yaml:"run_budget"`
}

// MemoryConfig bounds the cognitive memory layers.
type MemoryConfig struct {
	WorkingMaxItems int           `yaml:"working_max_items"`
	WorkingMaxBytes int           `yaml:"working_max_bytes"`
	Consolidation   Consolidation `yaml:"consolidation"`
}

// Consolidation tunes episode-to-pattern promotion.
type Consolidation struct {
	BatchSize           int     `yaml:"batch_size"`
	CoOccurrenceMin     int     `yaml:"co_occurrence_min"`
	MergeThreshold      float64 `yaml:"merge_threshold"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	ForgetAfterDays     int     `yaml:"forget_after_days"`
}

// EventsConfig bounds the notification bus.
type EventsConfig struct {
	SubscriberBuffer int `yaml:"subscriber_buffer"`
	HistorySize      int `yaml:"history_size"`
}

// LoggingConfig mirrors the logging package's expectations.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	workers := runtime.NumCPU()
	if workers > 16 {
		workers = 16
	}
	if workers < 2 {
		workers = 2
	}

	return &Config{
		Name:    "cortex",
		Version: "0.3.0",
		Storage: StorageConfig{
			Backend:          "persistent",
			Path:             filepath.Join(".cortex", "cortex.db"),
			FallbackInMemory: false,
		},
		Pool: PoolConfig{
			Min:                 1,
			Max:                 8,
			ConnectionTimeout:   5 * time.Second,
			IdleTimeout:         5 * time.Minute,
			MaxLifetime:         30 * time.Minute,
			WarmOnStart:         true,
			ValidateOnCheckout:  true,
			RecycleAfterUses:    10000,
			ShutdownGracePeriod: 10 * time.Second,
			MaxRetries:          3,
			CooldownPeriod:      5 * time.Second,
			ErrorRateThreshold:  0.5,
		},
		Parser: ParserConfig{
			MaxConcurrency:  workers,
			MaxASTFileBytes: 2 * 1024 * 1024,
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
			BatchSize:      32,
			MaxTextLength:  8000,
			CacheTTL:       time.Hour,
		},
		Ingest: IngestConfig{
			Workers:         workers,
			ChannelCapacity: 256,
			GracefulErrors:  true,
			MinQualityScore: 0.3,
			PerFileBudget:   30 * time.Second,
			RunBudget:       30 * time.Minute,
		},
		Memory: MemoryConfig{
			WorkingMaxItems: 1000,
			WorkingMaxBytes: 100 * 1024 * 1024,
			Consolidation: Consolidation{
				BatchSize:           100,
				CoOccurrenceMin:     3,
				MergeThreshold:      0.95,
				SimilarityThreshold: 0.7,
				ForgetAfterDays:     30,
			},
		},
		Events: EventsConfig{
			SubscriberBuffer: 128,
			HistorySize:      1024,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads the config file at path, falling back to defaults when missing,
// and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	logging.BootDebug("Loading config from: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Boot("Config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		logging.BootError("Failed to read config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		logging.BootError("Failed to parse config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	logging.Boot("Config loaded: backend=%s provider=%s", cfg.Storage.Backend, cfg.Embedding.Provider)
	return cfg, nil
}

// Save writes the config to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides maps the environment hooks consumed by the core onto the
// loaded config. Everything else belongs to the outer layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STORAGE_BACKEND"); v == "persistent" || v == "in_memory" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("STORAGE_FALLBACK_IN_MEMORY"); v != "" {
		c.Storage.FallbackInMemory = v == "1"
	}
	if v := os.Getenv("CORTEX_INGEST_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Ingest.Workers = n
		}
	}
	if v := os.Getenv("CORTEX_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("GENAI_API_KEY"); v != "" && c.Embedding.GenAIAPIKey == "" {
		c.Embedding.GenAIAPIKey = v
	}
}

// Validate checks invariants that would otherwise surface deep inside the
// engine as confusing failures.
func (c *Config) Validate() error {
	if c.Pool.Max < 1 {
		return fmt.Errorf("pool.max must be >= 1, got %d", c.Pool.Max)
	}
	if c.Pool.Min < 0 || c.Pool.Min > c.Pool.Max {
		return fmt.Errorf("pool.min must be in [0, pool.max], got %d", c.Pool.Min)
	}
	if c.Storage.Backend != "persistent" && c.Storage.Backend != "in_memory" {
		return fmt.Errorf("storage.backend must be persistent or in_memory, got %q", c.Storage.Backend)
	}
	if c.Ingest.ChannelCapacity < 1 {
		return fmt.Errorf("ingest.channel_capacity must be >= 1, got %d", c.Ingest.ChannelCapacity)
	}
	if c.Memory.WorkingMaxItems < 1 || c.Memory.WorkingMaxBytes < 1 {
		return fmt.Errorf("memory.working caps must be positive")
	}
	return nil
}
