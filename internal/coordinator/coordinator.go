// Package coordinator orchestrates indexing: it schedules jobs,
// batches work into the vector and graph pipelines, tracks per-project
// progress, and keeps the two stores consistent per file.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/semcode/semcode/internal/chunker"
	"github.com/semcode/semcode/internal/embedder"
	cerr "github.com/semcode/semcode/internal/errors"
	"github.com/semcode/semcode/internal/graphstore"
	"github.com/semcode/semcode/internal/hashstore"
	"github.com/semcode/semcode/internal/ignore"
	"github.com/semcode/semcode/internal/project"
	"github.com/semcode/semcode/internal/vectorstore"
	"github.com/semcode/semcode/internal/walker"
	"github.com/semcode/semcode/internal/watcher"
)

// Config tunes scheduling and batching.
type Config struct {
	// Workers is the worker count per sub-pipeline.
	Workers int
	// BatchSize is the number of chunks (vector) or files (graph) per
	// store batch.
	BatchSize int
	// BatchBytes is the byte budget per vector batch.
	BatchBytes int
	// QueueCapacity bounds the walk queue.
	QueueCapacity int
	// MaxFileSize is the per-file size cap during walks; larger files
	// are skipped.
	MaxFileSize int64
	// UpsertTimeout bounds each vector store batch write.
	UpsertTimeout time.Duration
	// MaxProjects caps concurrently indexing projects; excess jobs
	// queue on the semaphore.
	MaxProjects int
	// DrainTimeout bounds how long a stop waits before hard cancel.
	DrainTimeout time.Duration
	// Provider is the default embedding provider.
	Provider string
	// Retry governs transient store failures.
	Retry cerr.RetryConfig
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:       3,
		BatchSize:     50,
		BatchBytes:    1 << 20,
		QueueCapacity: 256,
		MaxFileSize:   10 << 20,
		UpsertTimeout: 60 * time.Second,
		MaxProjects:   10,
		DrainTimeout:  30 * time.Second,
		Provider:      "ollama",
		Retry:         cerr.DefaultRetryConfig(),
	}
}

// Options scope one indexing request.
type Options struct {
	// Provider overrides the default embedding provider.
	Provider string
	// AllowReindex lets a start replace a running job after drain.
	AllowReindex bool
	// VectorsOnly / GraphOnly restrict the job to one store.
	VectorsOnly bool
	GraphOnly   bool
}

// Coordinator is the orchestration engine. It is the sole writer of
// ProjectState.
type Coordinator struct {
	cfg    Config
	logger *slog.Logger

	registry *project.Registry
	hashes   *hashstore.Store
	pool     *embedder.Pool
	vectors  *vectorstore.Store
	graphs   *graphstore.Store
	chunk    chunker.Chunker
	files    *walker.Walker

	states *stateTable
	events *eventBus
	sem    *semaphore.Weighted

	mu      sync.Mutex
	jobs    map[string]*job
	pending map[string][]watcher.Event
	closed  bool
	wg      sync.WaitGroup
}

type job struct {
	projectID string
	ctx       context.Context
	cancel    context.CancelFunc
	stop      atomic.Bool
	done      chan struct{}
}

func (j *job) stopped() bool {
	return j.stop.Load() || j.ctx.Err() != nil
}

// New wires the coordinator.
func New(
	cfg Config,
	registry *project.Registry,
	hashes *hashstore.Store,
	pool *embedder.Pool,
	vectors *vectorstore.Store,
	graphs *graphstore.Store,
	logger *slog.Logger,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 << 20
	}
	if cfg.UpsertTimeout <= 0 {
		cfg.UpsertTimeout = 60 * time.Second
	}
	if cfg.MaxProjects <= 0 {
		cfg.MaxProjects = 10
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = cerr.DefaultRetryConfig()
	}
	return &Coordinator{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		hashes:   hashes,
		pool:     pool,
		vectors:  vectors,
		graphs:   graphs,
		chunk:    chunker.NewLineChunker(),
		files:    walker.New(walker.Options{MaxFileSize: cfg.MaxFileSize, SkipBinary: true}, logger),
		states:   newStateTable(),
		events:   newEventBus(),
		sem:      semaphore.NewWeighted(int64(cfg.MaxProjects)),
		jobs:     make(map[string]*job),
		pending:  make(map[string][]watcher.Event),
	}
}

// Subscribe returns a progress event stream and its cancel function.
func (c *Coordinator) Subscribe() (<-chan ProgressEvent, func()) {
	return c.events.subscribe()
}

// StartIndexing registers the path (if new) and begins a full index
// job asynchronously, returning the project ID. A job already running
// for the project fails with AlreadyIndexing unless opts.AllowReindex
// is set, in which case the running job drains first.
func (c *Coordinator) StartIndexing(ctx context.Context, path string, opts Options) (string, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return "", cerr.New(cerr.KindFatal, "coordinator is shut down")
	}

	p, err := c.registry.Register(path)
	if err != nil {
		return "", err
	}

	provider := opts.Provider
	if provider == "" {
		provider = c.cfg.Provider
	}
	// Validate before touching any backend so a misconfigured
	// provider creates no collection or space.
	if !opts.GraphOnly {
		if err := c.pool.Validate(ctx, provider); err != nil {
			return "", err
		}
	}

	if err := c.claimJob(p.ID, opts.AllowReindex); err != nil {
		return "", err
	}
	c.launch(p, opts, provider, nil, true)
	return p.ID, nil
}

// IndexVectorsOnly re-runs only the vector pipeline for the project.
func (c *Coordinator) IndexVectorsOnly(ctx context.Context, id string) error {
	return c.startScoped(ctx, id, Options{VectorsOnly: true})
}

// IndexGraphOnly re-runs only the graph pipeline for the project.
func (c *Coordinator) IndexGraphOnly(ctx context.Context, id string) error {
	return c.startScoped(ctx, id, Options{GraphOnly: true})
}

func (c *Coordinator) startScoped(ctx context.Context, id string, opts Options) error {
	p, err := c.registry.Get(id)
	if err != nil {
		return err
	}
	if !opts.GraphOnly {
		if err := c.pool.Validate(ctx, c.cfg.Provider); err != nil {
			return err
		}
	}
	if err := c.claimJob(id, false); err != nil {
		return err
	}
	c.launch(p, opts, c.cfg.Provider, nil, true)
	return nil
}

// claimJob reserves the per-project job slot. With allowReindex it
// soft-stops the current job and waits for its drain.
func (c *Coordinator) claimJob(id string, allowReindex bool) error {
	for {
		c.mu.Lock()
		existing, busy := c.jobs[id]
		if !busy {
			jctx, cancel := context.WithCancel(context.Background())
			c.jobs[id] = &job{
				projectID: id,
				ctx:       jctx,
				cancel:    cancel,
				done:      make(chan struct{}),
			}
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		if !allowReindex {
			return cerr.Newf(cerr.KindAlreadyIndexing, "project %s is already indexing", id).
				WithHint("pass allowReindex to restart the job")
		}
		existing.stop.Store(true)
		select {
		case <-existing.done:
		case <-time.After(c.cfg.DrainTimeout):
			existing.cancel()
			<-existing.done
		}
	}
}

// launch runs the job goroutine for an already-claimed slot. events is
// non-nil for incremental jobs.
func (c *Coordinator) launch(p project.Project, opts Options, provider string, events []watcher.Event, fullWalk bool) {
	c.mu.Lock()
	j := c.jobs[p.ID]
	c.mu.Unlock()

	c.states.ensure(p.ID, p.Root)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.jobs, p.ID)
			c.mu.Unlock()
			close(j.done)
			j.cancel()
			c.kickIncremental(p)
		}()

		if err := c.sem.Acquire(j.ctx, 1); err != nil {
			return
		}
		defer c.sem.Release(1)

		var err error
		if fullWalk {
			err = c.runFull(j, p, opts, provider)
		} else {
			err = c.runIncremental(j, p, provider, events)
		}
		if err != nil {
			c.logger.Error("indexing job failed",
				slog.String("project_id", p.ID),
				slog.String("error", err.Error()))
		}
	}()
}

// StopIndexing soft-stops the project's job: the in-flight batch
// completes, no new batches start. Stopping an idle project is an ack.
func (c *Coordinator) StopIndexing(id string) error {
	c.mu.Lock()
	j, ok := c.jobs[id]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	j.stop.Store(true)
	select {
	case <-j.done:
	case <-time.After(c.cfg.DrainTimeout):
		j.cancel()
	}
	return nil
}

// Status returns the project's state.
func (c *Coordinator) Status(id string) (ProjectState, error) {
	if st, ok := c.states.get(id); ok {
		return st, nil
	}
	p, err := c.registry.Get(id)
	if err != nil {
		return ProjectState{}, err
	}
	return c.states.ensure(p.ID, p.Root), nil
}

// List returns the state of every registered project.
func (c *Coordinator) List() []ProjectState {
	byID := make(map[string]ProjectState)
	for _, st := range c.states.list() {
		byID[st.ID] = st
	}
	out := make([]ProjectState, 0, len(byID))
	for _, p := range c.registry.List() {
		st, ok := byID[p.ID]
		if !ok {
			st = c.states.ensure(p.ID, p.Root)
		}
		out = append(out, st)
	}
	return out
}

// RemoveProject stops any job and drops every trace of the project:
// state, file records, vector collection, graph space, registry entry.
func (c *Coordinator) RemoveProject(ctx context.Context, id string) error {
	_ = c.StopIndexing(id)

	collection := "collection_" + id
	space := "project_" + id

	if err := c.vectors.DropCollection(collection); err != nil {
		return err
	}
	if err := c.graphs.DropSpace(ctx, space); err != nil {
		return err
	}
	if _, err := c.hashes.DeleteProject(ctx, id); err != nil {
		return err
	}
	if err := c.registry.Remove(id); err != nil {
		return err
	}
	c.states.remove(id)
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
	c.logger.Info("project removed", slog.String("project_id", id))
	return nil
}

// OnFileChange enqueues debounced watcher events for the project. The
// events run as an incremental job as soon as the project's job slot
// is free.
func (c *Coordinator) OnFileChange(id string, events []watcher.Event) {
	if len(events) == 0 {
		return
	}
	p, err := c.registry.Get(id)
	if err != nil {
		c.logger.Warn("change event for unknown project", slog.String("project_id", id))
		return
	}
	c.mu.Lock()
	c.pending[id] = append(c.pending[id], events...)
	c.mu.Unlock()
	c.kickIncremental(p)
}

// kickIncremental drains pending events into an incremental job when
// the project's slot is free.
func (c *Coordinator) kickIncremental(p project.Project) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	events := c.pending[p.ID]
	if len(events) == 0 {
		c.mu.Unlock()
		return
	}
	if _, busy := c.jobs[p.ID]; busy {
		c.mu.Unlock()
		return
	}
	delete(c.pending, p.ID)
	jctx, cancel := context.WithCancel(context.Background())
	c.jobs[p.ID] = &job{projectID: p.ID, ctx: jctx, cancel: cancel, done: make(chan struct{})}
	c.mu.Unlock()

	for _, ev := range events {
		if ev.Op == watcher.OpResync {
			// Lost events: fall back to a hash-gated full walk.
			c.launch(p, Options{}, c.cfg.Provider, nil, true)
			return
		}
	}
	c.launch(p, Options{}, c.cfg.Provider, events, false)
}

// WatchProject starts a filesystem watcher for the project and feeds
// its debounced events into the incremental pipeline. The watcher
// stops when ctx is cancelled.
func (c *Coordinator) WatchProject(ctx context.Context, id string, wcfg watcher.Config) error {
	p, err := c.registry.Get(id)
	if err != nil {
		return err
	}
	matcher, err := ignore.NewMatcher(p.Root, c.logger)
	if err != nil {
		return err
	}
	w := watcher.New(p.Root, wcfg, matcher, c.logger)

	go func() {
		for events := range w.Events() {
			c.OnFileChange(p.ID, events)
		}
	}()
	go func() {
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("watcher stopped",
				slog.String("project_id", p.ID),
				slog.String("error", err.Error()))
		}
	}()
	return nil
}

// ReconcileOnStartup diffs every registered project against disk and
// indexes the drift. The walk is hash-gated, so an unchanged project
// costs one scan.
func (c *Coordinator) ReconcileOnStartup(ctx context.Context) {
	for _, p := range c.registry.List() {
		if _, err := c.StartIndexing(ctx, p.Root, Options{AllowReindex: true}); err != nil {
			c.logger.Warn("startup reconciliation failed",
				slog.String("project_id", p.ID),
				slog.String("error", err.Error()))
		}
	}
}

// Shutdown stops accepting jobs, soft-stops running ones, and waits up
// to the drain timeout before cancelling hard.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	jobs := make([]*job, 0, len(c.jobs))
	for _, j := range c.jobs {
		jobs = append(jobs, j)
	}
	c.mu.Unlock()

	for _, j := range jobs {
		j.stop.Store(true)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(c.cfg.DrainTimeout):
	case <-ctx.Done():
	}
	for _, j := range jobs {
		j.cancel()
	}
	<-done
	return nil
}
