package coordinator

import (
	"sync"
	"time"
)

// JobStatus is the per-store pipeline state.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusIndexing  JobStatus = "indexing"
	StatusCompleted JobStatus = "completed"
	StatusPartial   JobStatus = "partial"
	StatusError     JobStatus = "error"
)

// ProjectStatus is the derived aggregate over both stores.
type ProjectStatus string

const (
	ProjectPending  ProjectStatus = "pending"
	ProjectIndexing ProjectStatus = "indexing"
	ProjectActive   ProjectStatus = "active"
	ProjectError    ProjectStatus = "error"
)

// StageState describes one sub-pipeline (vector or graph).
type StageState struct {
	State     JobStatus `json:"state"`
	Progress  float64   `json:"progress"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	Error     string    `json:"error,omitempty"`
}

// ProjectState is the externally visible indexing state of a project.
// The coordinator is its only writer.
type ProjectState struct {
	ID               string        `json:"id"`
	Path             string        `json:"path"`
	Status           ProjectStatus `json:"status"`
	VectorStatus     StageState    `json:"vectorStatus"`
	GraphStatus      StageState    `json:"graphStatus"`
	IndexingProgress float64       `json:"indexingProgress"`
	TotalFiles       int           `json:"totalFiles"`
	IndexedFiles     int           `json:"indexedFiles"`
	FailedFiles      int           `json:"failedFiles"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
	LastIndexedAt    *time.Time    `json:"lastIndexedAt,omitempty"`
}

// deriveStatus computes the aggregate from the child stages.
func deriveStatus(vector, graph StageState) ProjectStatus {
	switch {
	case vector.State == StatusIndexing || graph.State == StatusIndexing:
		return ProjectIndexing
	case vector.State == StatusError && graph.State == StatusError:
		return ProjectError
	case isDone(vector.State) && isDone(graph.State):
		return ProjectActive
	default:
		return ProjectPending
	}
}

func isDone(s JobStatus) bool {
	return s == StatusCompleted || s == StatusPartial
}

// stateTable holds the in-memory project states behind one lock.
// Progress within a job only moves forward; a new job resets it.
type stateTable struct {
	mu     sync.RWMutex
	states map[string]*ProjectState
}

func newStateTable() *stateTable {
	return &stateTable{states: make(map[string]*ProjectState)}
}

// get returns a copy so readers never see concurrent mutation.
func (t *stateTable) get(id string) (ProjectState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[id]
	if !ok {
		return ProjectState{}, false
	}
	return *st, true
}

func (t *stateTable) list() []ProjectState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ProjectState, 0, len(t.states))
	for _, st := range t.states {
		out = append(out, *st)
	}
	return out
}

func (t *stateTable) remove(id string) {
	t.mu.Lock()
	delete(t.states, id)
	t.mu.Unlock()
}

// ensure creates the state entry if missing and returns a copy.
func (t *stateTable) ensure(id, path string) ProjectState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[id]
	if !ok {
		now := time.Now().UTC()
		st = &ProjectState{
			ID:           id,
			Path:         path,
			Status:       ProjectPending,
			CreatedAt:    now,
			UpdatedAt:    now,
			VectorStatus: StageState{State: StatusPending},
			GraphStatus:  StageState{State: StatusPending},
		}
		t.states[id] = st
	}
	return *st
}

// update mutates the state under the table lock. Progress is clamped
// to be non-decreasing unless reset is set (job restart).
func (t *stateTable) update(id string, reset bool, fn func(*ProjectState)) (ProjectState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[id]
	if !ok {
		return ProjectState{}, false
	}
	prevProgress := st.IndexingProgress
	prevVector := st.VectorStatus.Progress
	prevGraph := st.GraphStatus.Progress

	fn(st)

	if !reset {
		if st.IndexingProgress < prevProgress {
			st.IndexingProgress = prevProgress
		}
		if st.VectorStatus.Progress < prevVector {
			st.VectorStatus.Progress = prevVector
		}
		if st.GraphStatus.Progress < prevGraph {
			st.GraphStatus.Progress = prevGraph
		}
	}
	st.Status = deriveStatus(st.VectorStatus, st.GraphStatus)
	st.UpdatedAt = time.Now().UTC()
	return *st, true
}

// ProgressEvent is pushed to subscribers after meaningful state
// changes.
type ProgressEvent struct {
	ProjectID string        `json:"projectId"`
	Status    ProjectStatus `json:"status"`
	Progress  float64       `json:"progress"`
	Indexed   int           `json:"indexed"`
	Failed    int           `json:"failed"`
	Total     int           `json:"total"`
}

// eventBus fans progress events out to subscribers. Slow subscribers
// lose events rather than stalling the pipeline.
type eventBus struct {
	mu   sync.Mutex
	subs map[int]chan ProgressEvent
	next int
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]chan ProgressEvent)}
}

func (b *eventBus) subscribe() (<-chan ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan ProgressEvent, 64)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

func (b *eventBus) publish(ev ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
