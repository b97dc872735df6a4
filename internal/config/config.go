// Package config loads and validates semcode configuration.
// Precedence: built-in defaults < YAML file < environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete semcode configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Storage    StorageConfig    `yaml:"storage"`
	Server     ServerConfig     `yaml:"server"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Indexing   IndexingConfig   `yaml:"indexing"`
	Watcher    WatcherConfig    `yaml:"watcher"`
	Vector     VectorConfig     `yaml:"vector"`
	Graph      GraphConfig      `yaml:"graph"`
}

// StorageConfig configures on-disk state locations.
type StorageConfig struct {
	// DataDir holds the project mapping, hash store, and backend data.
	// Default: ~/.semcode
	DataDir string `yaml:"data_dir"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// EmbeddingsConfig configures the embedding provider pool.
type EmbeddingsConfig struct {
	// Provider is the default embedding provider (openai, siliconflow, ollama).
	Provider string `yaml:"provider"`
	// Model overrides the provider's default model.
	Model string `yaml:"model"`
	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host"`
	// Timeout is the per-request embedding timeout.
	Timeout Duration `yaml:"timeout"`
	// CacheTTL is how long provider capabilities are cached.
	CacheTTL Duration `yaml:"cache_ttl"`
}

// IndexingConfig configures the coordinator's scheduling and batching.
type IndexingConfig struct {
	// Workers sets how many goroutines each indexing stage runs.
	Workers int `yaml:"workers"`
	// BatchSize is the chunk count per store batch.
	BatchSize int `yaml:"batch_size"`
	// BatchBytes is the byte budget per store batch.
	BatchBytes int `yaml:"batch_bytes"`
	// QueueCapacity bounds the walk producer-consumer queue.
	QueueCapacity int `yaml:"queue_capacity"`
	// MaxProjects caps concurrently indexing projects.
	MaxProjects int `yaml:"max_projects"`
	// MaxFileSize is the largest file indexed, in bytes.
	MaxFileSize int64 `yaml:"max_file_size"`
	// DrainTimeout bounds how long stop waits for in-flight batches.
	DrainTimeout Duration `yaml:"drain_timeout"`
	// RetryAttempts is the retry count for transient failures.
	RetryAttempts int `yaml:"retry_attempts"`
}

// WatcherConfig configures filesystem change detection.
type WatcherConfig struct {
	// Debounce is the event coalescing window.
	Debounce Duration `yaml:"debounce"`
	// PollInterval is the re-scan interval when polling is enabled.
	PollInterval Duration `yaml:"poll_interval"`
	// Polling enables the polling fallback instead of OS notifications.
	Polling bool `yaml:"polling"`
	// QueueSize bounds the per-root event queue.
	QueueSize int `yaml:"queue_size"`
}

// VectorConfig configures the vector store adapter.
type VectorConfig struct {
	// Path is the persistent vector database directory.
	// Empty means DataDir/vectors.
	Path string `yaml:"path"`
	// UpsertTimeout bounds each batch upsert.
	UpsertTimeout Duration `yaml:"upsert_timeout"`
}

// GraphConfig configures the graph store adapter.
type GraphConfig struct {
	// Path is the graph database file. Empty means DataDir/graph.db.
	Path string `yaml:"path"`
	// QueryTimeout bounds each graph query.
	QueryTimeout Duration `yaml:"query_timeout"`
	// ReadinessRetries bounds the space readiness poll.
	ReadinessRetries int `yaml:"readiness_retries"`
	// ReadinessInterval is the delay between readiness polls.
	ReadinessInterval Duration `yaml:"readiness_interval"`
	// SessionReapInterval is the zombie session reaper period.
	SessionReapInterval Duration `yaml:"session_reap_interval"`
	// MaxSessions caps concurrently open sessions.
	MaxSessions int `yaml:"max_sessions"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Version: 1,
		Storage: StorageConfig{
			DataDir: filepath.Join(home, ".semcode"),
		},
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8900,
			LogLevel: "info",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			OllamaHost: "http://localhost:11434",
			Timeout:    Duration(60 * time.Second),
			CacheTTL:   Duration(5 * time.Minute),
		},
		Indexing: IndexingConfig{
			Workers:       3,
			BatchSize:     50,
			BatchBytes:    1 << 20,
			QueueCapacity: 256,
			MaxProjects:   10,
			MaxFileSize:   10 * 1024 * 1024,
			DrainTimeout:  Duration(30 * time.Second),
			RetryAttempts: 3,
		},
		Watcher: WatcherConfig{
			Debounce:     Duration(300 * time.Millisecond),
			PollInterval: Duration(200 * time.Millisecond),
			QueueSize:    1024,
		},
		Vector: VectorConfig{
			UpsertTimeout: Duration(60 * time.Second),
		},
		Graph: GraphConfig{
			QueryTimeout:        Duration(30 * time.Second),
			ReadinessRetries:    30,
			ReadinessInterval:   Duration(1 * time.Second),
			SessionReapInterval: Duration(30 * time.Second),
			MaxSessions:         16,
		},
	}
}

// Load reads configuration from path, fills defaults, and applies
// environment overrides. A missing file is not an error: defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv applies SEMCODE_* environment overrides (highest priority).
func (c *Config) applyEnv() {
	if v := os.Getenv("SEMCODE_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("SEMCODE_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("SEMCODE_EMBED_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("SEMCODE_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("SEMCODE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SEMCODE_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// fillDefaults resolves zero values left after file and env merging.
func (c *Config) fillDefaults() {
	def := Default()
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = def.Storage.DataDir
	}
	if c.Server.Host == "" {
		c.Server.Host = def.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = def.Server.LogLevel
	}
	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = def.Embeddings.Provider
	}
	if c.Embeddings.OllamaHost == "" {
		c.Embeddings.OllamaHost = def.Embeddings.OllamaHost
	}
	if c.Embeddings.Timeout == 0 {
		c.Embeddings.Timeout = def.Embeddings.Timeout
	}
	if c.Embeddings.CacheTTL == 0 {
		c.Embeddings.CacheTTL = def.Embeddings.CacheTTL
	}
	if c.Indexing.Workers == 0 {
		c.Indexing.Workers = def.Indexing.Workers
	}
	if c.Indexing.BatchSize == 0 {
		c.Indexing.BatchSize = def.Indexing.BatchSize
	}
	if c.Indexing.BatchBytes == 0 {
		c.Indexing.BatchBytes = def.Indexing.BatchBytes
	}
	if c.Indexing.QueueCapacity == 0 {
		c.Indexing.QueueCapacity = def.Indexing.QueueCapacity
	}
	if c.Indexing.MaxProjects == 0 {
		c.Indexing.MaxProjects = def.Indexing.MaxProjects
	}
	if c.Indexing.MaxFileSize == 0 {
		c.Indexing.MaxFileSize = def.Indexing.MaxFileSize
	}
	if c.Indexing.DrainTimeout == 0 {
		c.Indexing.DrainTimeout = def.Indexing.DrainTimeout
	}
	if c.Indexing.RetryAttempts == 0 {
		c.Indexing.RetryAttempts = def.Indexing.RetryAttempts
	}
	if c.Watcher.Debounce == 0 {
		c.Watcher.Debounce = def.Watcher.Debounce
	}
	if c.Watcher.PollInterval == 0 {
		c.Watcher.PollInterval = def.Watcher.PollInterval
	}
	if c.Watcher.QueueSize == 0 {
		c.Watcher.QueueSize = def.Watcher.QueueSize
	}
	if c.Vector.Path == "" {
		c.Vector.Path = filepath.Join(c.Storage.DataDir, "vectors")
	}
	if c.Vector.UpsertTimeout == 0 {
		c.Vector.UpsertTimeout = def.Vector.UpsertTimeout
	}
	if c.Graph.Path == "" {
		c.Graph.Path = filepath.Join(c.Storage.DataDir, "graph.db")
	}
	if c.Graph.QueryTimeout == 0 {
		c.Graph.QueryTimeout = def.Graph.QueryTimeout
	}
	if c.Graph.ReadinessRetries == 0 {
		c.Graph.ReadinessRetries = def.Graph.ReadinessRetries
	}
	if c.Graph.ReadinessInterval == 0 {
		c.Graph.ReadinessInterval = def.Graph.ReadinessInterval
	}
	if c.Graph.SessionReapInterval == 0 {
		c.Graph.SessionReapInterval = def.Graph.SessionReapInterval
	}
	if c.Graph.MaxSessions == 0 {
		c.Graph.MaxSessions = def.Graph.MaxSessions
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Indexing.Workers < 1 {
		return fmt.Errorf("indexing workers must be >= 1, got %d", c.Indexing.Workers)
	}
	if c.Indexing.BatchSize < 1 {
		return fmt.Errorf("indexing batch size must be >= 1, got %d", c.Indexing.BatchSize)
	}
	if c.Indexing.MaxProjects < 1 {
		return fmt.Errorf("max concurrent projects must be >= 1, got %d", c.Indexing.MaxProjects)
	}
	switch c.Embeddings.Provider {
	case "openai", "siliconflow", "ollama":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embeddings.Provider)
	}
	return nil
}

// HashStorePath returns the hash store database path.
func (c *Config) HashStorePath() string {
	return filepath.Join(c.Storage.DataDir, "hashes.db")
}

// RegistryPath returns the project mapping file path.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.Storage.DataDir, "projects.json")
}
