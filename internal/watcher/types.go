// Package watcher turns raw filesystem notifications into debounced,
// coalesced change batches for the incremental indexing pipeline.
package watcher

import "time"

// Op classifies a file change.
type Op int

const (
	OpCreate Op = iota
	OpModify
	OpDelete
	// OpResync signals that events may have been lost and the consumer
	// should fall back to a full diff of the project root.
	OpResync
)

// String returns the op name.
func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpResync:
		return "resync"
	default:
		return "unknown"
	}
}

// Event is one observed change, path relative to the watched root.
type Event struct {
	Op      Op
	RelPath string
	Time    time.Time
}
