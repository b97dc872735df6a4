package vectorstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerr "github.com/semcode/semcode/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", nil)
	require.NoError(t, err)
	return s
}

func point(id, project, relPath string, vec []float32) Point {
	return Point{
		ID:        id,
		Content:   "content of " + id,
		Embedding: vec,
		Metadata:  map[string]string{"project_id": project, "rel_path": relPath},
	}
}

func TestEnsureCollectionIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.EnsureCollection("collection_a", 3))
	require.NoError(t, s.EnsureCollection("collection_a", 3))
	assert.Equal(t, 0, s.Count("collection_a"))
}

func TestEnsureCollectionRejectsDimensionChange(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.EnsureCollection("collection_a", 3))
	err := s.EnsureCollection("collection_a", 5)
	require.Error(t, err)
	assert.True(t, cerr.IsKind(err, cerr.KindConsistency))
}

func TestUpsertAndSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection("collection_a", 3))

	err := s.UpsertBatch(ctx, "collection_a", []Point{
		point("p1", "proj", "a.go", []float32{1, 0, 0}),
		point("p2", "proj", "b.go", []float32{0, 1, 0}),
		point("p3", "proj", "c.go", []float32{0.9, 0.1, 0}),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Count("collection_a"))

	hits, err := s.Search(ctx, "collection_a", []float32{1, 0, 0}, 2, 0, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "p1", hits[0].ID, "closest vector first")
}

func TestSearchMinScoreFiltersHits(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection("collection_a", 3))

	require.NoError(t, s.UpsertBatch(ctx, "collection_a", []Point{
		point("near", "proj", "a.go", []float32{1, 0, 0}),
		point("far", "proj", "b.go", []float32{0, 0, 1}),
	}))

	hits, err := s.Search(ctx, "collection_a", []float32{1, 0, 0}, 10, 0.9, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "near", hits[0].ID)
}

func TestSearchWhereFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection("collection_a", 3))

	require.NoError(t, s.UpsertBatch(ctx, "collection_a", []Point{
		point("x1", "proj1", "a.go", []float32{1, 0, 0}),
		point("x2", "proj2", "a.go", []float32{1, 0, 0}),
	}))

	hits, err := s.Search(ctx, "collection_a", []float32{1, 0, 0}, 10, 0,
		map[string]string{"project_id": "proj2"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "x2", hits[0].ID)
}

func TestUpsertOverwritesSameID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection("collection_a", 3))

	require.NoError(t, s.UpsertBatch(ctx, "collection_a", []Point{
		point("p1", "proj", "a.go", []float32{1, 0, 0}),
	}))
	require.NoError(t, s.UpsertBatch(ctx, "collection_a", []Point{
		point("p1", "proj", "a.go", []float32{0, 1, 0}),
	}))

	assert.Equal(t, 1, s.Count("collection_a"))
}

func TestUpsertRejectsWrongDimension(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.EnsureCollection("collection_a", 3))

	err := s.UpsertBatch(context.Background(), "collection_a", []Point{
		point("bad", "proj", "a.go", []float32{1, 0}),
	})
	require.Error(t, err)
	assert.True(t, cerr.IsKind(err, cerr.KindConsistency))
}

func TestDeleteByFile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection("collection_a", 3))

	require.NoError(t, s.UpsertBatch(ctx, "collection_a", []Point{
		point("a1", "proj", "a.go", []float32{1, 0, 0}),
		point("a2", "proj", "a.go", []float32{0, 1, 0}),
		point("b1", "proj", "b.go", []float32{0, 0, 1}),
	}))

	require.NoError(t, s.DeleteByFile(ctx, "collection_a", "proj", "a.go"))
	assert.Equal(t, 1, s.Count("collection_a"))

	// Unknown collection is a no-op.
	assert.NoError(t, s.DeleteByFile(ctx, "collection_ghost", "proj", "a.go"))
}

func TestDropCollection(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.EnsureCollection("collection_a", 3))
	require.NoError(t, s.UpsertBatch(context.Background(), "collection_a", []Point{
		point("p1", "proj", "a.go", []float32{1, 0, 0}),
	}))

	require.NoError(t, s.DropCollection("collection_a"))
	assert.Equal(t, 0, s.Count("collection_a"))

	_, err := s.Info("collection_a")
	assert.True(t, cerr.IsKind(err, cerr.KindNotFound))
}

func TestScrollPagesDeterministically(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection("collection_a", 3))

	var pts []Point
	for i := 0; i < 10; i++ {
		pts = append(pts, point(fmt.Sprintf("id-%02d", i), "proj", "f.go", []float32{float32(i), 1, 0}))
	}
	require.NoError(t, s.UpsertBatch(ctx, "collection_a", pts))

	page1, err := s.Scroll(ctx, "collection_a", 0, 4)
	require.NoError(t, err)
	page2, err := s.Scroll(ctx, "collection_a", 4, 4)
	require.NoError(t, err)
	page3, err := s.Scroll(ctx, "collection_a", 8, 4)
	require.NoError(t, err)

	var ids []string
	for _, r := range append(append(page1, page2...), page3...) {
		ids = append(ids, r.ID)
	}
	require.Len(t, ids, 10)
	for i := 0; i < 10; i++ {
		assert.Equal(t, fmt.Sprintf("id-%02d", i), ids[i])
	}

	empty, err := s.Scroll(ctx, "collection_a", 100, 4)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s1.EnsureCollection("collection_a", 3))
	require.NoError(t, s1.UpsertBatch(ctx, "collection_a", []Point{
		point("p1", "proj", "a.go", []float32{1, 0, 0}),
	}))

	s2, err := Open(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s2.Count("collection_a"))
}
