// Package vectorstore adapts the embedded chromem vector database to
// the indexing pipeline. Every point carries its project ID in
// metadata, and each project writes to its own collection, so queries
// never cross project boundaries.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	cerr "github.com/semcode/semcode/internal/errors"
)

// Point is one embedded chunk ready for storage.
type Point struct {
	ID        string
	Content   string
	Embedding []float32
	// Metadata must include project_id and rel_path.
	Metadata map[string]string
}

// SearchResult is one query hit.
type SearchResult struct {
	ID         string
	Content    string
	Metadata   map[string]string
	Similarity float32
}

// CollectionInfo summarizes one collection.
type CollectionInfo struct {
	Name       string `json:"name"`
	Points     int    `json:"points"`
	Dimensions int    `json:"dimensions"`
}

// Store wraps a chromem database, in-memory or persistent.
type Store struct {
	db     *chromem.DB
	logger *slog.Logger

	mu   sync.RWMutex
	dims map[string]int
}

// Open opens the store. Empty path means in-memory (for tests).
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector store at %s: %w", path, err)
		}
	}
	return &Store{db: db, logger: logger, dims: make(map[string]int)}, nil
}

// noEmbed guards against accidental server-side embedding: all vectors
// are computed by the embedder pool before they reach the store.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("vector store received a document without an embedding")
}

// EnsureCollection creates the collection if needed and records its
// dimensionality. Re-ensuring with a different dimension fails.
func (s *Store) EnsureCollection(name string, dimensions int) error {
	if dimensions <= 0 {
		return cerr.Newf(cerr.KindConfiguration, "collection %q needs a positive dimension, got %d", name, dimensions)
	}
	meta := map[string]string{"dimensions": fmt.Sprint(dimensions)}
	if _, err := s.db.GetOrCreateCollection(name, meta, noEmbed); err != nil {
		return fmt.Errorf("failed to ensure collection %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.dims[name]; ok && prev != dimensions {
		return cerr.Newf(cerr.KindConsistency,
			"collection %q already has dimension %d, requested %d", name, prev, dimensions).
			WithHint("re-index the project after switching embedding models")
	}
	s.dims[name] = dimensions
	return nil
}

func (s *Store) collection(name string) (*chromem.Collection, error) {
	col := s.db.GetCollection(name, noEmbed)
	if col == nil {
		return nil, cerr.Newf(cerr.KindNotFound, "collection %q does not exist", name)
	}
	return col, nil
}

// UpsertBatch writes points into the collection. Existing IDs are
// overwritten, which is what makes re-indexing idempotent.
func (s *Store) UpsertBatch(ctx context.Context, name string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	col, err := s.collection(name)
	if err != nil {
		return err
	}

	dim := s.dimension(name)
	docs := make([]chromem.Document, 0, len(points))
	for _, pt := range points {
		if len(pt.Embedding) == 0 {
			return cerr.Newf(cerr.KindConsistency, "point %s has no embedding", pt.ID)
		}
		if dim > 0 && len(pt.Embedding) != dim {
			return cerr.Newf(cerr.KindConsistency,
				"point %s has dimension %d, collection %q expects %d", pt.ID, len(pt.Embedding), name, dim)
		}
		docs = append(docs, chromem.Document{
			ID:        pt.ID,
			Content:   pt.Content,
			Embedding: pt.Embedding,
			Metadata:  pt.Metadata,
		})
	}
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return cerr.Wrapf(cerr.KindTransient, err, "failed to upsert %d points into %s", len(points), name)
	}
	return nil
}

// DeleteByFile removes all points of one file within a project.
func (s *Store) DeleteByFile(ctx context.Context, name, projectID, relPath string) error {
	col, err := s.collection(name)
	if err != nil {
		if cerr.IsKind(err, cerr.KindNotFound) {
			return nil
		}
		return err
	}
	where := map[string]string{"project_id": projectID, "rel_path": relPath}
	if err := col.Delete(ctx, where, nil); err != nil {
		return cerr.Wrapf(cerr.KindTransient, err, "failed to delete points for %s", relPath)
	}
	return nil
}

// DropCollection removes the whole collection. Dropping an unknown
// collection is not an error.
func (s *Store) DropCollection(name string) error {
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", name, err)
	}
	s.mu.Lock()
	delete(s.dims, name)
	s.mu.Unlock()
	return nil
}

// Count returns the number of points in the collection, zero when it
// does not exist.
func (s *Store) Count(name string) int {
	col := s.db.GetCollection(name, noEmbed)
	if col == nil {
		return 0
	}
	return col.Count()
}

// Info describes the collection.
func (s *Store) Info(name string) (CollectionInfo, error) {
	col, err := s.collection(name)
	if err != nil {
		return CollectionInfo{}, err
	}
	return CollectionInfo{Name: name, Points: col.Count(), Dimensions: s.dimension(name)}, nil
}

// Search runs a similarity query with an optional score floor and
// metadata filter.
func (s *Store) Search(ctx context.Context, name string, query []float32, limit int, minScore float32, where map[string]string) ([]SearchResult, error) {
	col, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > count {
		limit = count
	}

	results, err := col.QueryEmbedding(ctx, query, limit, where, nil)
	if err != nil {
		return nil, cerr.Wrapf(cerr.KindTransient, err, "query of collection %s failed", name)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if r.Similarity < minScore {
			continue
		}
		out = append(out, SearchResult{
			ID:         r.ID,
			Content:    r.Content,
			Metadata:   r.Metadata,
			Similarity: r.Similarity,
		})
	}
	return out, nil
}

// Scroll pages through a collection without a meaningful query vector.
// chromem has no native listing, so this queries with a constant unit
// vector and slices the ranked result; IDs are re-sorted so pagination
// is stable.
func (s *Store) Scroll(ctx context.Context, name string, offset, limit int) ([]SearchResult, error) {
	col, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	count := col.Count()
	if count == 0 || offset >= count {
		return nil, nil
	}

	dim := s.dimension(name)
	if dim <= 0 {
		return nil, cerr.Newf(cerr.KindConsistency, "collection %q has unknown dimensionality", name)
	}
	probe := make([]float32, dim)
	unit := float32(1.0 / math.Sqrt(float64(dim)))
	for i := range probe {
		probe[i] = unit
	}

	results, err := col.QueryEmbedding(ctx, probe, count, nil, nil)
	if err != nil {
		return nil, cerr.Wrapf(cerr.KindTransient, err, "scroll of collection %s failed", name)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	end := offset + limit
	if limit <= 0 || end > len(results) {
		end = len(results)
	}
	if offset >= end {
		return nil, nil
	}

	out := make([]SearchResult, 0, end-offset)
	for _, r := range results[offset:end] {
		out = append(out, SearchResult{ID: r.ID, Content: r.Content, Metadata: r.Metadata, Similarity: r.Similarity})
	}
	return out, nil
}

func (s *Store) dimension(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims[name]
}
