package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces rapid events for the same path within a window.
// Merge rules, keyed on the first operation seen for the path:
//
//	CREATE + MODIFY = CREATE (still a new file)
//	CREATE + DELETE = dropped (never observable)
//	MODIFY + DELETE = DELETE
//	DELETE + CREATE = MODIFY (replaced in place)
//
// A batch that cannot be delivered is replaced by a single OpResync
// event so the consumer knows to fall back to a full diff.
type Debouncer struct {
	window time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*tracked
	timer   *time.Timer
	out     chan []Event
	stopped bool
}

type tracked struct {
	event   Event
	firstOp Op
}

// NewDebouncer creates a debouncer with the given coalescing window and
// output queue capacity.
func NewDebouncer(window time.Duration, queueSize int, logger *slog.Logger) *Debouncer {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Debouncer{
		window:  window,
		logger:  logger,
		pending: make(map[string]*tracked),
		out:     make(chan []Event, queueSize),
	}
}

// Add feeds one raw event into the window.
func (d *Debouncer) Add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if ev.Op == OpResync {
		// Resync supersedes everything pending.
		d.pending = map[string]*tracked{"": {event: ev, firstOp: OpResync}}
		d.armLocked()
		return
	}

	if cur, ok := d.pending[ev.RelPath]; ok {
		merged, keep := merge(cur.firstOp, cur.event, ev)
		if !keep {
			delete(d.pending, ev.RelPath)
		} else {
			cur.event = merged
		}
	} else {
		d.pending[ev.RelPath] = &tracked{event: ev, firstOp: ev.Op}
	}
	d.armLocked()
}

func merge(firstOp Op, cur, next Event) (Event, bool) {
	switch firstOp {
	case OpCreate:
		switch next.Op {
		case OpModify:
			return cur, true
		case OpDelete:
			return Event{}, false
		}
	case OpDelete:
		if next.Op == OpCreate {
			next.Op = OpModify
			return next, true
		}
	}
	return next, true
}

func (d *Debouncer) armLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *Debouncer) flush() {
	// The sends stay under the mutex so Stop cannot close the channel
	// between the stopped check and the send. They are non-blocking, so
	// the lock is never held for long.
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}
	batch := make([]Event, 0, len(d.pending))
	for _, tr := range d.pending {
		batch = append(batch, tr.event)
	}
	d.pending = make(map[string]*tracked)

	select {
	case d.out <- batch:
	default:
		d.logger.Warn("event queue full, degrading to resync",
			slog.Int("dropped", len(batch)))
		// Try to leave a resync marker; if even that fails, a marker
		// is already queued.
		select {
		case d.out <- []Event{{Op: OpResync, Time: time.Now()}}:
		default:
		}
	}
}

// Output delivers coalesced batches after each quiet window.
func (d *Debouncer) Output() <-chan []Event {
	return d.out
}

// Stop halts the debouncer and closes the output channel. Safe to call
// more than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.out)
}
