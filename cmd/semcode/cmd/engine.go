package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/semcode/semcode/internal/config"
	"github.com/semcode/semcode/internal/coordinator"
	"github.com/semcode/semcode/internal/embedder"
	cerr "github.com/semcode/semcode/internal/errors"
	"github.com/semcode/semcode/internal/graphstore"
	"github.com/semcode/semcode/internal/hashstore"
	"github.com/semcode/semcode/internal/project"
	"github.com/semcode/semcode/internal/vectorstore"
)

// engine bundles the wired components every command needs.
type engine struct {
	cfg      config.Config
	registry *project.Registry
	hashes   *hashstore.Store
	pool     *embedder.Pool
	vectors  *vectorstore.Store
	graphs   *graphstore.Store
	coord    *coordinator.Coordinator
}

// buildEngine wires the full stack from configuration.
func buildEngine(cfg config.Config, logger *slog.Logger) (*engine, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", cfg.Storage.DataDir, err)
	}

	registry, err := project.NewRegistry(cfg.RegistryPath(), logger)
	if err != nil {
		return nil, err
	}
	hashes, err := hashstore.Open(cfg.HashStorePath(), logger)
	if err != nil {
		return nil, err
	}
	vectors, err := vectorstore.Open(cfg.Vector.Path, logger)
	if err != nil {
		_ = hashes.Close()
		return nil, err
	}
	graphs, err := graphstore.Open(cfg.Graph.Path, graphstore.Config{
		QueryTimeout:      cfg.Graph.QueryTimeout.Std(),
		ReadinessRetries:  cfg.Graph.ReadinessRetries,
		ReadinessInterval: cfg.Graph.ReadinessInterval.Std(),
		MaxSessions:       cfg.Graph.MaxSessions,
		ReapInterval:      cfg.Graph.SessionReapInterval.Std(),
	}, logger)
	if err != nil {
		_ = hashes.Close()
		return nil, err
	}

	retry := cerr.RetryConfig{
		MaxAttempts:  cfg.Indexing.RetryAttempts,
		InitialDelay: time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}

	pool := embedder.NewPool(embedder.PoolConfig{
		CapabilityTTL: cfg.Embeddings.CacheTTL.Std(),
		Retry:         retry,
	}, logger)

	// The configured model only applies to the configured provider;
	// the others keep their defaults.
	model := func(name string) string {
		if cfg.Embeddings.Provider == name {
			return cfg.Embeddings.Model
		}
		return ""
	}
	pool.Register(embedder.NewOpenAIProvider("", model("openai")))
	pool.Register(embedder.NewSiliconFlowProvider("", model("siliconflow")))
	pool.Register(embedder.NewOllamaProvider(cfg.Embeddings.OllamaHost, model("ollama"), cfg.Embeddings.Timeout.Std()))

	coord := coordinator.New(coordinator.Config{
		Workers:       cfg.Indexing.Workers,
		BatchSize:     cfg.Indexing.BatchSize,
		BatchBytes:    cfg.Indexing.BatchBytes,
		QueueCapacity: cfg.Indexing.QueueCapacity,
		MaxFileSize:   cfg.Indexing.MaxFileSize,
		UpsertTimeout: cfg.Vector.UpsertTimeout.Std(),
		MaxProjects:   cfg.Indexing.MaxProjects,
		DrainTimeout:  cfg.Indexing.DrainTimeout.Std(),
		Provider:      cfg.Embeddings.Provider,
		Retry:         retry,
	}, registry, hashes, pool, vectors, graphs, logger)

	return &engine{
		cfg:      cfg,
		registry: registry,
		hashes:   hashes,
		pool:     pool,
		vectors:  vectors,
		graphs:   graphs,
		coord:    coord,
	}, nil
}

func (e *engine) Close() {
	_ = e.hashes.Close()
	_ = e.graphs.Close()
}

// resolveProject accepts a project ID or a filesystem path.
func (e *engine) resolveProject(arg string) (project.Project, error) {
	if p, err := e.registry.Get(arg); err == nil {
		return p, nil
	}
	return e.registry.GetByRoot(arg)
}
