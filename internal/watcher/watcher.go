package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/semcode/semcode/internal/ignore"
)

// Config tunes one watched root.
type Config struct {
	// Debounce is the event coalescing window.
	Debounce time.Duration
	// PollInterval is the scan period when Polling is set.
	PollInterval time.Duration
	// QueueSize is the capacity of the debounced output queue.
	QueueSize int
	// Polling forces the stat-based fallback instead of OS notifications.
	Polling bool
}

// Watcher watches a single project root and emits debounced batches.
// Paths that the ignore matcher rejects never reach the output; edits
// to the rule files themselves reload the matcher and emit an OpResync.
type Watcher struct {
	root      string
	cfg       Config
	matcher   *ignore.Matcher
	debouncer *Debouncer
	logger    *slog.Logger
}

// New creates a watcher for root. The matcher may be nil.
func New(root string, cfg Config, matcher *ignore.Matcher, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 300 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	return &Watcher{
		root:      root,
		cfg:       cfg,
		matcher:   matcher,
		debouncer: NewDebouncer(cfg.Debounce, cfg.QueueSize, logger),
		logger:    logger,
	}
}

// Events delivers coalesced change batches.
func (w *Watcher) Events() <-chan []Event {
	return w.debouncer.Output()
}

// Run watches until ctx is cancelled. When OS notifications cannot be
// established it degrades to polling instead of failing.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.debouncer.Stop()

	if w.cfg.Polling {
		return w.poll(ctx)
	}
	if err := w.notify(ctx); err != nil {
		w.logger.Warn("file notifications unavailable, falling back to polling",
			slog.String("root", w.root), slog.String("error", err.Error()))
		return w.poll(ctx)
	}
	return nil
}

func (w *Watcher) notify(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addRecursive(fw, w.root); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleNotify(fw, ev)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("kernel event queue overflow", slog.String("root", w.root))
				w.debouncer.Add(Event{Op: OpResync, Time: time.Now()})
				continue
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handleNotify(fw *fsnotify.Watcher, ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." {
		return
	}
	rel = filepath.ToSlash(rel)

	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()

	if w.matcher != nil && w.matcher.IsRuleFile(rel) {
		if err := w.matcher.Reload(); err != nil {
			w.logger.Warn("ignore reload failed", slog.String("error", err.Error()))
		}
		w.debouncer.Add(Event{Op: OpResync, Time: time.Now()})
		return
	}
	if w.matcher != nil && w.matcher.Matches(rel, isDir) {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create):
		if isDir {
			// New directories need their own watches; files created
			// inside before the watch lands are caught by the resync.
			if err := w.addRecursive(fw, ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory",
					slog.String("path", rel), slog.String("error", err.Error()))
			}
			w.debouncer.Add(Event{Op: OpResync, Time: time.Now()})
			return
		}
		w.debouncer.Add(Event{Op: OpCreate, RelPath: rel, Time: time.Now()})

	case ev.Op.Has(fsnotify.Write):
		if !isDir {
			w.debouncer.Add(Event{Op: OpModify, RelPath: rel, Time: time.Now()})
		}

	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.debouncer.Add(Event{Op: OpDelete, RelPath: rel, Time: time.Now()})
	}
}

func (w *Watcher) addRecursive(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, path)
		if relErr == nil && rel != "." && w.matcher != nil && w.matcher.Matches(filepath.ToSlash(rel), true) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

type fingerprint struct {
	size    int64
	modTime time.Time
}

// poll re-scans the root every PollInterval and synthesizes events from
// stat differences.
func (w *Watcher) poll(ctx context.Context) error {
	prev, err := w.snapshot()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		cur, err := w.snapshot()
		if err != nil {
			w.logger.Warn("poll scan failed", slog.String("error", err.Error()))
			continue
		}

		now := time.Now()
		for rel, fp := range cur {
			old, ok := prev[rel]
			switch {
			case !ok:
				w.debouncer.Add(Event{Op: OpCreate, RelPath: rel, Time: now})
			case old != fp:
				w.debouncer.Add(Event{Op: OpModify, RelPath: rel, Time: now})
			}
		}
		for rel := range prev {
			if _, ok := cur[rel]; !ok {
				w.debouncer.Add(Event{Op: OpDelete, RelPath: rel, Time: now})
			}
		}
		prev = cur
	}
}

func (w *Watcher) snapshot() (map[string]fingerprint, error) {
	snap := make(map[string]fingerprint)
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if w.matcher != nil && w.matcher.Matches(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if w.matcher != nil && w.matcher.Matches(rel, false) {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		snap[rel] = fingerprint{size: info.Size(), modTime: info.ModTime()}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", w.root, err)
	}
	return snap, nil
}
