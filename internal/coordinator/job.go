package coordinator

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/semcode/semcode/internal/chunker"
	cerr "github.com/semcode/semcode/internal/errors"
	"github.com/semcode/semcode/internal/extract"
	"github.com/semcode/semcode/internal/graphstore"
	"github.com/semcode/semcode/internal/hashstore"
	"github.com/semcode/semcode/internal/ignore"
	"github.com/semcode/semcode/internal/project"
	"github.com/semcode/semcode/internal/vectorstore"
	"github.com/semcode/semcode/internal/walker"
	"github.com/semcode/semcode/internal/watcher"
)

// fileWork is one file after chunking and extraction, ready for the
// store pipelines.
type fileWork struct {
	rec    walker.Record
	chunks []chunker.Chunk
	nodes  []graphstore.Node
	edges  []graphstore.Edge
}

// vecBatch groups chunks from one or more files into a single embed
// plus upsert round trip.
type vecBatch struct {
	texts   []string
	points  []vectorstore.Point
	perFile map[string]int
	bytes   int
}

// graphBatch groups the graph payload of several files.
type graphBatch struct {
	files []string
	nodes []graphstore.Node
	edges []graphstore.Edge
}

// fileTracker resolves when both store pipelines have settled a file.
type fileTracker struct {
	rec          walker.Record
	expectChunks int
	doneChunks   int
	vectorSkip   bool
	vectorErr    error
	graphSkip    bool
	graphSettled bool
	graphErr     error
	finalized    bool
}

// pipeline is the per-job working state.
type pipeline struct {
	c          *Coordinator
	j          *job
	p          project.Project
	opts       Options
	provider   string
	collection string
	space      string

	mu           sync.Mutex
	total        int
	enumerating  bool
	seen         map[string]string // relPath -> content hash
	track        map[string]*fileTracker
	processed    int
	indexed      int
	failed       int
	vectorFailed int
	graphFailed  int
}

func (pl *pipeline) doVector() bool { return !pl.opts.GraphOnly }
func (pl *pipeline) doGraph() bool  { return !pl.opts.VectorsOnly }

// runFull walks the project, indexes the drift, and sweeps deletions.
func (c *Coordinator) runFull(j *job, p project.Project, opts Options, provider string) error {
	pl, err := c.prepare(j, p, opts, provider)
	if err != nil {
		c.failJob(p.ID, opts, err)
		return err
	}

	matcher, err := ignore.NewMatcher(p.Root, c.logger)
	if err != nil {
		c.failJob(p.ID, opts, err)
		return err
	}

	recCh, walkErr := c.files.Walk(j.ctx, p.Root, matcher)
	pl.run(recCh)
	if err := walkErr(); err != nil {
		// The walk was cut short, so the sweep would see a partial
		// file set and delete files that are still on disk.
		c.logger.Warn("walk failed, skipping deletion sweep",
			slog.String("project_id", p.ID),
			slog.String("error", err.Error()))
		pl.finish(true)
		_ = c.registry.Touch(p.ID)
		return err
	}

	sweepOK := true
	if pl.doVector() && pl.doGraph() {
		if err := pl.sweepDeleted(); err != nil {
			sweepOK = false
			c.logger.Warn("deletion sweep failed",
				slog.String("project_id", p.ID),
				slog.String("error", err.Error()))
		}
	}
	pl.finish(!sweepOK)
	_ = c.registry.Touch(p.ID)
	return nil
}

// runIncremental applies debounced watcher events without a full walk.
func (c *Coordinator) runIncremental(j *job, p project.Project, provider string, events []watcher.Event) error {
	opts := Options{}
	pl, err := c.prepare(j, p, opts, provider)
	if err != nil {
		c.failJob(p.ID, opts, err)
		return err
	}

	var records []walker.Record
	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if _, dup := seen[ev.RelPath]; dup {
			continue
		}
		seen[ev.RelPath] = struct{}{}

		switch ev.Op {
		case watcher.OpDelete:
			if err := pl.deleteFile(ev.RelPath); err != nil {
				c.logger.Warn("failed to remove deleted file",
					slog.String("project_id", p.ID),
					slog.String("path", ev.RelPath),
					slog.String("error", err.Error()))
			}
		case watcher.OpCreate, watcher.OpModify:
			rec, ok, err := c.files.Inspect(p.Root, ev.RelPath)
			if err != nil {
				// The file may have vanished between the event and now.
				if rmErr := pl.deleteFile(ev.RelPath); rmErr != nil {
					c.logger.Warn("failed to reconcile vanished file",
						slog.String("project_id", p.ID),
						slog.String("path", ev.RelPath),
						slog.String("error", rmErr.Error()))
				}
				continue
			}
			if ok {
				records = append(records, rec)
			}
		}
	}

	recCh := make(chan walker.Record, len(records)+1)
	for _, rec := range records {
		recCh <- rec
	}
	close(recCh)
	pl.run(recCh)
	pl.finish(false)
	_ = c.registry.Touch(p.ID)
	return nil
}

// prepare validates backends and resets the project state for a new
// job. Nothing is created in either store until the embedding provider
// has answered a probe, so a dead provider leaves no half-made
// collection or space behind.
func (c *Coordinator) prepare(j *job, p project.Project, opts Options, provider string) (*pipeline, error) {
	pl := &pipeline{
		c:          c,
		j:          j,
		p:          p,
		opts:       opts,
		provider:   provider,
		collection: p.Collection(),
		space:      p.Space(),
		seen:       make(map[string]string),
		track:      make(map[string]*fileTracker),
	}

	if pl.doVector() {
		caps, err := c.pool.Capabilities(j.ctx, provider)
		if err != nil {
			return nil, err
		}
		if !caps.Available {
			return nil, c.pool.Validate(j.ctx, provider)
		}
		if err := c.vectors.EnsureCollection(pl.collection, caps.Dimensions); err != nil {
			return nil, err
		}
	}
	if pl.doGraph() {
		if err := c.graphs.EnsureSpace(j.ctx, pl.space); err != nil {
			return nil, err
		}
		if err := c.graphs.WaitReady(j.ctx, pl.space); err != nil {
			return nil, err
		}
	}

	c.states.ensure(p.ID, p.Root)
	c.states.update(p.ID, true, func(st *ProjectState) {
		st.IndexingProgress = 0
		st.IndexedFiles = 0
		st.FailedFiles = 0
		st.TotalFiles = 0
		if pl.doVector() {
			st.VectorStatus = StageState{State: StatusIndexing}
		}
		if pl.doGraph() {
			st.GraphStatus = StageState{State: StatusIndexing}
		}
	})
	return pl, nil
}

// failJob records a job that died before its pipeline started.
func (c *Coordinator) failJob(id string, opts Options, err error) {
	st, ok := c.states.update(id, true, func(st *ProjectState) {
		msg := err.Error()
		if !opts.GraphOnly {
			st.VectorStatus.State = StatusError
			st.VectorStatus.Error = msg
		}
		if !opts.VectorsOnly {
			st.GraphStatus.State = StatusError
			st.GraphStatus.Error = msg
		}
	})
	if ok {
		c.publish(st)
	}
}

func (c *Coordinator) publish(st ProjectState) {
	c.events.publish(ProgressEvent{
		ProjectID: st.ID,
		Status:    st.Status,
		Progress:  st.IndexingProgress,
		Indexed:   st.IndexedFiles,
		Failed:    st.FailedFiles,
		Total:     st.TotalFiles,
	})
}

// run drives the three stages: file workers chunk and extract, a
// dispatcher cuts batches, and store workers embed and upsert. Records
// are consumed as they arrive, so the bounded queue holds memory flat
// even on very large trees.
func (pl *pipeline) run(records <-chan walker.Record) {
	c := pl.c

	recCh := make(chan walker.Record, c.cfg.QueueCapacity)
	workCh := make(chan fileWork, c.cfg.Workers*2)
	vecCh := make(chan vecBatch, c.cfg.Workers)
	graphCh := make(chan graphBatch, c.cfg.Workers)

	var fileWG, vecWG, graphWG sync.WaitGroup

	for i := 0; i < c.cfg.Workers; i++ {
		fileWG.Add(1)
		go func() {
			defer fileWG.Done()
			for rec := range recCh {
				if pl.j.stopped() {
					continue
				}
				pl.processFile(rec, workCh)
			}
		}()
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		pl.dispatch(workCh, vecCh, graphCh)
	}()

	if pl.doVector() {
		for i := 0; i < c.cfg.Workers; i++ {
			vecWG.Add(1)
			go func() {
				defer vecWG.Done()
				for vb := range vecCh {
					// A soft stop lets the in-flight batch finish but
					// drops queued ones; their files stay unprocessed.
					if pl.j.stopped() {
						continue
					}
					pl.embedAndUpsert(vb)
				}
			}()
		}
	}
	if pl.doGraph() {
		for i := 0; i < c.cfg.Workers; i++ {
			graphWG.Add(1)
			go func() {
				defer graphWG.Done()
				for gb := range graphCh {
					if pl.j.stopped() {
						continue
					}
					pl.upsertGraph(gb)
				}
			}()
		}
	}

	pl.mu.Lock()
	pl.enumerating = true
	pl.mu.Unlock()
	for rec := range records {
		pl.mu.Lock()
		pl.total++
		pl.seen[rec.RelPath] = rec.ContentHash
		pl.mu.Unlock()
		recCh <- rec
	}
	pl.mu.Lock()
	pl.enumerating = false
	total := pl.total
	pl.mu.Unlock()
	c.states.update(pl.p.ID, false, func(st *ProjectState) {
		st.TotalFiles = total
	})
	// Files resolved during enumeration were reported against the
	// provisional denominator; republish with the final one.
	pl.updateProgress()
	close(recCh)

	fileWG.Wait()
	close(workCh)
	<-dispatchDone
	vecWG.Wait()
	graphWG.Wait()
}

// processFile hash-gates, reads, chunks and extracts one file.
func (pl *pipeline) processFile(rec walker.Record, workCh chan<- fileWork) {
	c := pl.c

	// Unchanged files are only skippable on full dual-store runs; a
	// scoped rebuild must touch every file regardless of hash.
	if pl.doVector() && pl.doGraph() {
		old, err := c.hashes.Get(pl.j.ctx, pl.p.ID, rec.RelPath)
		if err == nil && old.ContentHash == rec.ContentHash && old.State == hashstore.StateIndexed {
			pl.mu.Lock()
			pl.processed++
			pl.indexed++
			pl.mu.Unlock()
			pl.updateProgress()
			return
		}
	}

	// Chunk and symbol IDs derive from content, so a changed file's
	// previous points and nodes would survive the new upserts. Clear
	// them before dispatch.
	if pl.doVector() {
		if err := c.vectors.DeleteByFile(pl.j.ctx, pl.collection, pl.p.ID, rec.RelPath); err != nil {
			c.logger.Warn("failed to clear stale vectors",
				slog.String("project_id", pl.p.ID),
				slog.String("path", rec.RelPath),
				slog.String("error", err.Error()))
			pl.fileFailed(rec)
			return
		}
	}
	if pl.doGraph() {
		if err := c.graphs.DeleteByFile(pl.j.ctx, pl.space, rec.RelPath); err != nil {
			c.logger.Warn("failed to clear stale graph nodes",
				slog.String("project_id", pl.p.ID),
				slog.String("path", rec.RelPath),
				slog.String("error", err.Error()))
			pl.fileFailed(rec)
			return
		}
	}

	content, err := os.ReadFile(rec.AbsPath)
	if err != nil {
		c.logger.Warn("failed to read file",
			slog.String("project_id", pl.p.ID),
			slog.String("path", rec.RelPath),
			slog.String("error", err.Error()))
		pl.fileFailed(rec)
		return
	}

	fw := fileWork{rec: rec}
	if pl.doVector() {
		fw.chunks = c.chunk.Chunk(string(content), rec.Language)
	}
	if pl.doGraph() {
		fw.nodes, fw.edges = extract.Extract(pl.p.ID, rec.RelPath, rec.Language, string(content))
	}
	workCh <- fw
}

// dispatch cuts cross-file batches so small files share embed calls.
func (pl *pipeline) dispatch(workCh <-chan fileWork, vecCh chan<- vecBatch, graphCh chan<- graphBatch) {
	c := pl.c
	cur := vecBatch{perFile: make(map[string]int)}
	gcur := graphBatch{}

	flushVec := func() {
		if len(cur.points) > 0 {
			vecCh <- cur
			cur = vecBatch{perFile: make(map[string]int)}
		}
	}
	flushGraph := func() {
		if len(gcur.files) > 0 {
			graphCh <- gcur
			gcur = graphBatch{}
		}
	}

	for fw := range workCh {
		pl.register(fw)

		if pl.doVector() {
			for _, ch := range fw.chunks {
				cur.texts = append(cur.texts, ch.Content)
				cur.points = append(cur.points, vectorstore.Point{
					ID:      chunker.ID(pl.p.ID, fw.rec.RelPath, ch),
					Content: ch.Content,
					Metadata: map[string]string{
						"project_id": pl.p.ID,
						"rel_path":   fw.rec.RelPath,
						"language":   fw.rec.Language,
						"start_line": strconv.Itoa(ch.StartLine),
						"end_line":   strconv.Itoa(ch.EndLine),
					},
				})
				cur.perFile[fw.rec.RelPath]++
				cur.bytes += len(ch.Content)
				if len(cur.points) >= c.cfg.BatchSize || (c.cfg.BatchBytes > 0 && cur.bytes >= c.cfg.BatchBytes) {
					flushVec()
				}
			}
		}
		if pl.doGraph() {
			gcur.files = append(gcur.files, fw.rec.RelPath)
			gcur.nodes = append(gcur.nodes, fw.nodes...)
			gcur.edges = append(gcur.edges, fw.edges...)
			if len(gcur.files) >= c.cfg.BatchSize {
				flushGraph()
			}
		}
	}
	flushVec()
	flushGraph()
	close(vecCh)
	close(graphCh)
}

// register creates the tracker for a dispatched file and resolves the
// sides that have nothing to do.
func (pl *pipeline) register(fw fileWork) {
	pl.mu.Lock()
	t := &fileTracker{
		rec:          fw.rec,
		expectChunks: len(fw.chunks),
		vectorSkip:   !pl.doVector(),
		graphSkip:    !pl.doGraph(),
	}
	pl.track[fw.rec.RelPath] = t
	pl.mu.Unlock()
	// Empty files have no chunks to wait for.
	pl.resolve(fw.rec.RelPath)
}

// embedAndUpsert runs one vector batch end to end.
func (pl *pipeline) embedAndUpsert(vb vecBatch) {
	c := pl.c

	vecs, err := c.pool.Embed(pl.j.ctx, pl.provider, vb.texts)
	if err == nil {
		for i := range vb.points {
			vb.points[i].Embedding = vecs[i]
		}
		err = cerr.Retry(pl.j.ctx, c.cfg.Retry, func() error {
			ctx, cancel := context.WithTimeout(pl.j.ctx, c.cfg.UpsertTimeout)
			defer cancel()
			return c.vectors.UpsertBatch(ctx, pl.collection, vb.points)
		})
	}
	if err != nil {
		c.logger.Warn("vector batch failed",
			slog.String("project_id", pl.p.ID),
			slog.String("kind", string(cerr.KindOf(err))),
			slog.Int("chunks", len(vb.points)),
			slog.String("error", err.Error()))
	}
	for relPath, n := range vb.perFile {
		pl.chunksDone(relPath, n, err)
	}
}

// upsertGraph runs one graph batch end to end.
func (pl *pipeline) upsertGraph(gb graphBatch) {
	c := pl.c

	err := cerr.Retry(pl.j.ctx, c.cfg.Retry, func() error {
		if err := c.graphs.UpsertNodes(pl.j.ctx, pl.space, gb.nodes); err != nil {
			return err
		}
		return c.graphs.UpsertEdges(pl.j.ctx, pl.space, gb.edges)
	})
	if err != nil {
		c.logger.Warn("graph batch failed",
			slog.String("project_id", pl.p.ID),
			slog.String("kind", string(cerr.KindOf(err))),
			slog.Int("nodes", len(gb.nodes)),
			slog.String("error", err.Error()))
	}
	for _, relPath := range gb.files {
		pl.graphSettled(relPath, err)
	}
}

func (pl *pipeline) chunksDone(relPath string, n int, err error) {
	pl.mu.Lock()
	if t, ok := pl.track[relPath]; ok {
		t.doneChunks += n
		if err != nil && t.vectorErr == nil {
			t.vectorErr = err
		}
	}
	pl.mu.Unlock()
	pl.resolve(relPath)
}

func (pl *pipeline) graphSettled(relPath string, err error) {
	pl.mu.Lock()
	if t, ok := pl.track[relPath]; ok {
		t.graphSettled = true
		if err != nil && t.graphErr == nil {
			t.graphErr = err
		}
	}
	pl.mu.Unlock()
	pl.resolve(relPath)
}

// resolve finalizes a file once both sides have settled. A file is
// indexed only when both stores accepted it; a one-sided failure
// triggers a compensating delete on the side that succeeded, so a file
// is never half-present.
func (pl *pipeline) resolve(relPath string) {
	pl.mu.Lock()
	t, ok := pl.track[relPath]
	if !ok || t.finalized {
		pl.mu.Unlock()
		return
	}
	vecSettled := t.vectorSkip || t.vectorErr != nil || t.doneChunks >= t.expectChunks
	graSettled := t.graphSkip || t.graphSettled
	if !vecSettled || !graSettled {
		pl.mu.Unlock()
		return
	}
	t.finalized = true
	rec := t.rec
	vErr := t.vectorErr
	gErr := t.graphErr
	vectorRan := !t.vectorSkip
	graphRan := !t.graphSkip
	pl.mu.Unlock()

	c := pl.c
	ctx := pl.j.ctx
	now := time.Now().UTC()
	state := hashstore.StateIndexed

	if vErr != nil || gErr != nil {
		state = hashstore.StateFailed
		if vErr == nil && vectorRan {
			if err := c.vectors.DeleteByFile(ctx, pl.collection, pl.p.ID, relPath); err != nil {
				c.logger.Error("compensating vector delete failed, stores may disagree",
					slog.String("project_id", pl.p.ID),
					slog.String("path", relPath),
					slog.String("error", err.Error()))
			}
		}
		if gErr == nil && graphRan {
			if err := c.graphs.DeleteByFile(ctx, pl.space, relPath); err != nil {
				c.logger.Error("compensating graph delete failed, stores may disagree",
					slog.String("project_id", pl.p.ID),
					slog.String("path", relPath),
					slog.String("error", err.Error()))
			}
		}
	}

	if err := c.hashes.Put(ctx, hashstore.FileRecord{
		ProjectID:   pl.p.ID,
		RelPath:     relPath,
		ContentHash: rec.ContentHash,
		Size:        rec.Size,
		ModTime:     rec.ModTime,
		Language:    rec.Language,
		State:       state,
		LastIndexed: now,
	}); err != nil {
		c.logger.Warn("failed to record file state",
			slog.String("project_id", pl.p.ID),
			slog.String("path", relPath),
			slog.String("error", err.Error()))
	}

	pl.mu.Lock()
	pl.processed++
	if state == hashstore.StateIndexed {
		pl.indexed++
	} else {
		pl.failed++
		if vErr != nil {
			pl.vectorFailed++
		}
		if gErr != nil {
			pl.graphFailed++
		}
	}
	pl.mu.Unlock()
	pl.updateProgress()
}

// fileFailed marks a file that never reached the stores.
func (pl *pipeline) fileFailed(rec walker.Record) {
	pl.mu.Lock()
	pl.processed++
	pl.failed++
	pl.vectorFailed++
	pl.graphFailed++
	pl.mu.Unlock()
	pl.updateProgress()
}

func (pl *pipeline) updateProgress() {
	pl.mu.Lock()
	processed, indexed, failed := pl.processed, pl.indexed, pl.failed
	vFailed, gFailed := pl.vectorFailed, pl.graphFailed
	total, enumerating := pl.total, pl.enumerating
	pl.mu.Unlock()

	// While the walk is still enumerating the denominator is a lower
	// bound, so leave headroom instead of reporting a false 100%.
	denom := total
	if enumerating {
		denom = total + 1
	}
	frac := 1.0
	if denom > 0 {
		frac = float64(processed) / float64(denom)
	}
	st, ok := pl.c.states.update(pl.p.ID, false, func(st *ProjectState) {
		st.TotalFiles = total
		st.IndexingProgress = frac
		st.IndexedFiles = indexed
		st.FailedFiles = failed
		if pl.doVector() {
			st.VectorStatus.Progress = frac
			st.VectorStatus.Processed = processed
			st.VectorStatus.Failed = vFailed
		}
		if pl.doGraph() {
			st.GraphStatus.Progress = frac
			st.GraphStatus.Processed = processed
			st.GraphStatus.Failed = gFailed
		}
	})
	if ok {
		pl.c.publish(st)
	}
}

// sweepDeleted diffs the walked file set against stored records and
// removes the files the walk no longer saw.
func (pl *pipeline) sweepDeleted() error {
	c := pl.c

	pl.mu.Lock()
	scanned := make([]hashstore.Scanned, 0, len(pl.seen))
	for relPath, hash := range pl.seen {
		scanned = append(scanned, hashstore.Scanned{RelPath: relPath, ContentHash: hash})
	}
	pl.mu.Unlock()

	diff, err := c.hashes.DiffScan(pl.j.ctx, pl.p.ID, scanned)
	if err != nil {
		return err
	}
	for _, relPath := range diff.Deleted {
		if err := pl.deleteFile(relPath); err != nil {
			return err
		}
	}
	return nil
}

// deleteFile removes one file from both stores and the hash store.
func (pl *pipeline) deleteFile(relPath string) error {
	c := pl.c
	ctx := pl.j.ctx
	if err := c.vectors.DeleteByFile(ctx, pl.collection, pl.p.ID, relPath); err != nil {
		return err
	}
	if err := c.graphs.DeleteByFile(ctx, pl.space, relPath); err != nil {
		return err
	}
	if err := c.hashes.Delete(ctx, pl.p.ID, relPath); err != nil {
		return err
	}
	c.logger.Debug("removed deleted file",
		slog.String("project_id", pl.p.ID),
		slog.String("path", relPath))
	return nil
}

// finish settles the stage states once the pipeline drains.
func (pl *pipeline) finish(degraded bool) {
	pl.mu.Lock()
	processed := pl.processed
	total := pl.total
	indexed, failedFiles := pl.indexed, pl.failed
	vFailed, gFailed := pl.vectorFailed, pl.graphFailed
	pl.mu.Unlock()

	stopped := pl.j.stopped()
	now := time.Now().UTC()

	stageFinal := func(failed int) JobStatus {
		switch {
		case total > 0 && failed >= total:
			return StatusError
		case stopped || degraded || failed > 0 || processed < total:
			return StatusPartial
		default:
			return StatusCompleted
		}
	}

	st, ok := pl.c.states.update(pl.p.ID, false, func(st *ProjectState) {
		if pl.doVector() {
			st.VectorStatus.State = stageFinal(vFailed)
		}
		if pl.doGraph() {
			st.GraphStatus.State = stageFinal(gFailed)
		}
		st.LastIndexedAt = &now
	})
	if ok {
		pl.c.publish(st)
	}
	pl.c.logger.Info("indexing finished",
		slog.String("project_id", pl.p.ID),
		slog.Int("total", total),
		slog.Int("indexed", indexed),
		slog.Int("failed", failedFiles),
		slog.Bool("stopped", stopped))
}
