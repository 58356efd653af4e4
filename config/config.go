// Package config loads process configuration for the folio binary from a
// YAML file and FOLIO_ environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/chunking"
	"github.com/poiesic/folio/retry"
)

// Config is the full process configuration.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	Store     StoreConfig     `koanf:"store"`
	AI        AIConfig        `koanf:"ai"`
	Queue     QueueConfig     `koanf:"queue"`
	Sources   SourcesConfig   `koanf:"sources"`
	Worker    WorkerConfig    `koanf:"worker"`
	Retrieval RetrievalConfig `koanf:"retrieval"`
	Server    ServerConfig    `koanf:"server"`
}

// LogConfig controls the slog handler installed by the CLI.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// StoreConfig selects the badger database location.
type StoreConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
	// VectorIndex is "" for the built-in scan or "chromem".
	VectorIndex string `koanf:"vector_index"`
	IndexPath   string `koanf:"index_path"`
}

// AIConfig mirrors ai.Config.
type AIConfig struct {
	EmbeddingHost     string  `koanf:"embedding_host"`
	GenerationHost    string  `koanf:"generation_host"`
	EmbeddingModel    string  `koanf:"embedding_model"`
	GenerationModel   string  `koanf:"generation_model"`
	APIKey            string  `koanf:"api_key"`
	BatchSize         int     `koanf:"batch_size"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Temperature       float64 `koanf:"temperature"`
}

// QueueConfig selects the transport. An empty URL uses the in-process queue.
type QueueConfig struct {
	URL             string        `koanf:"url"`
	DuplicateWindow time.Duration `koanf:"duplicate_window"`
	AckWait         time.Duration `koanf:"ack_wait"`
	MaxDeliveries   int           `koanf:"max_deliveries"`
}

// SourcesConfig locates uploaded files.
type SourcesConfig struct {
	Root string `koanf:"root"`
	// Format is "auto", "text" or "pdf".
	Format string `koanf:"format"`
}

// WorkerConfig tunes page processing.
type WorkerConfig struct {
	PoolSize     int           `koanf:"pool_size"`
	MaxAttempts  int           `koanf:"max_attempts"`
	BaseDelay    time.Duration `koanf:"base_delay"`
	MaxDelay     time.Duration `koanf:"max_delay"`
	ChildSize    int           `koanf:"child_size"`
	ChildOverlap int           `koanf:"child_overlap"`
}

// RetrievalConfig tunes question answering.
type RetrievalConfig struct {
	HistoryTurns int           `koanf:"history_turns"`
	TopK         int           `koanf:"top_k"`
	Timeout      time.Duration `koanf:"timeout"`
	// Rewriter is "llm" or "heuristic".
	Rewriter string `koanf:"rewriter"`
	Rerank   bool   `koanf:"rerank"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	if cfg.Store.Path == "" && !cfg.Store.InMemory {
		cfg.Store.Path = "folio.db"
	}

	aiDefaults := ai.DefaultConfig()
	if cfg.AI.EmbeddingHost == "" {
		cfg.AI.EmbeddingHost = aiDefaults.EmbeddingHost
	}
	if cfg.AI.GenerationHost == "" {
		cfg.AI.GenerationHost = aiDefaults.GenerationHost
	}
	if cfg.AI.EmbeddingModel == "" {
		cfg.AI.EmbeddingModel = aiDefaults.EmbeddingModel
	}
	if cfg.AI.GenerationModel == "" {
		cfg.AI.GenerationModel = aiDefaults.GenerationModel
	}
	if cfg.AI.APIKey == "" {
		cfg.AI.APIKey = aiDefaults.APIKey
	}
	if cfg.AI.BatchSize == 0 {
		cfg.AI.BatchSize = aiDefaults.BatchSize
	}
	if cfg.AI.Temperature == 0 {
		cfg.AI.Temperature = aiDefaults.Temperature
	}

	if cfg.Queue.DuplicateWindow == 0 {
		cfg.Queue.DuplicateWindow = 10 * time.Minute
	}
	if cfg.Queue.AckWait == 0 {
		cfg.Queue.AckWait = 2 * time.Minute
	}
	if cfg.Queue.MaxDeliveries == 0 {
		cfg.Queue.MaxDeliveries = 10
	}

	if cfg.Sources.Root == "" {
		cfg.Sources.Root = "."
	}
	if cfg.Sources.Format == "" {
		cfg.Sources.Format = "auto"
	}

	policy := retry.DefaultPolicy()
	if cfg.Worker.PoolSize == 0 {
		cfg.Worker.PoolSize = 8
	}
	if cfg.Worker.MaxAttempts == 0 {
		cfg.Worker.MaxAttempts = policy.MaxAttempts
	}
	if cfg.Worker.BaseDelay == 0 {
		cfg.Worker.BaseDelay = policy.BaseDelay
	}
	if cfg.Worker.MaxDelay == 0 {
		cfg.Worker.MaxDelay = policy.MaxDelay
	}
	if cfg.Worker.ChildSize == 0 {
		cfg.Worker.ChildSize = chunking.DefaultChildSize
	}
	if cfg.Worker.ChildOverlap == 0 {
		cfg.Worker.ChildOverlap = chunking.DefaultChildOverlap
	}

	if cfg.Retrieval.HistoryTurns == 0 {
		cfg.Retrieval.HistoryTurns = 4
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 7
	}
	if cfg.Retrieval.Timeout == 0 {
		cfg.Retrieval.Timeout = 60 * time.Second
	}
	if cfg.Retrieval.Rewriter == "" {
		cfg.Retrieval.Rewriter = "llm"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
}

// Validate checks the configuration for values no component would accept.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required unless store.in_memory is set"))
	}
	switch c.Store.VectorIndex {
	case "":
	case "chromem":
		if !c.Store.InMemory && c.Store.IndexPath == "" {
			errs = append(errs, errors.New("store.index_path is required when store.vector_index is chromem and the store is persistent"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.vector_index must be empty or chromem, got %q", c.Store.VectorIndex))
	}
	if err := c.AIConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Queue.MaxDeliveries < 1 {
		errs = append(errs, errors.New("queue.max_deliveries must be positive"))
	}
	switch c.Sources.Format {
	case "auto", "text", "pdf":
	default:
		errs = append(errs, fmt.Errorf("sources.format must be auto, text or pdf, got %q", c.Sources.Format))
	}
	if c.Worker.PoolSize < 1 {
		errs = append(errs, errors.New("worker.pool_size must be positive"))
	}
	if c.Worker.MaxAttempts < 1 {
		errs = append(errs, errors.New("worker.max_attempts must be positive"))
	}
	if c.Worker.ChildOverlap >= c.Worker.ChildSize {
		errs = append(errs, errors.New("worker.child_overlap must be smaller than worker.child_size"))
	}
	if c.Retrieval.TopK < 1 {
		errs = append(errs, errors.New("retrieval.top_k must be positive"))
	}
	if c.Retrieval.HistoryTurns < 0 {
		errs = append(errs, errors.New("retrieval.history_turns cannot be negative"))
	}
	if c.Retrieval.Rewriter != "llm" && c.Retrieval.Rewriter != "heuristic" {
		errs = append(errs, fmt.Errorf("retrieval.rewriter must be llm or heuristic, got %q", c.Retrieval.Rewriter))
	}
	return errors.Join(errs...)
}

// AIConfig converts the ai section to an ai.Config.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithGenerationHost(c.AI.GenerationHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithGenerationModel(c.AI.GenerationModel),
		ai.WithAPIKey(c.AI.APIKey),
		ai.WithBatchSize(c.AI.BatchSize),
		ai.WithRequestsPerSecond(c.AI.RequestsPerSecond),
		ai.WithTemperature(c.AI.Temperature),
	)
}

// RetryPolicy returns the worker's in-process retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Worker.MaxAttempts,
		BaseDelay:   c.Worker.BaseDelay,
		MaxDelay:    c.Worker.MaxDelay,
	}
}

// ChunkingOptions returns the child span sizes.
func (c *Config) ChunkingOptions() chunking.Options {
	return chunking.Options{ChildSize: c.Worker.ChildSize, ChildOverlap: c.Worker.ChildOverlap}
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}
