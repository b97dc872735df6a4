package project

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerr "github.com/semcode/semcode/internal/errors"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(filepath.Join(t.TempDir(), "projects.json"), nil)
	require.NoError(t, err)
	return r
}

func TestIDForIsStableAndHex(t *testing.T) {
	dir := t.TempDir()

	id1, err := IDFor(dir)
	require.NoError(t, err)
	id2, err := IDFor(dir + string(os.PathSeparator))
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "trailing separator must not change the ID")
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), id1)
}

func TestIDForDistinctRoots(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()

	idA, err := IDFor(a)
	require.NoError(t, err)
	idB, err := IDFor(b)
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	root := t.TempDir()

	p1, err := r.Register(root)
	require.NoError(t, err)
	p2, err := r.Register(root)
	require.NoError(t, err)

	assert.Equal(t, p1.ID, p2.ID)
	assert.Len(t, r.List(), 1)
}

func TestRegisterRejectsMissingRoot(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Register(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
	assert.True(t, cerr.IsKind(err, cerr.KindInvalidPath))
}

func TestRegisterRejectsFile(t *testing.T) {
	r := newTestRegistry(t)
	f := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))

	_, err := r.Register(f)
	require.Error(t, err)
	assert.True(t, cerr.IsKind(err, cerr.KindInvalidPath))
}

func TestRegisterKeepsEntryOnPersistFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "projects.json")
	r, err := NewRegistry(path, nil)
	require.NoError(t, err)

	// A directory at the registry path makes the atomic rename fail.
	require.NoError(t, os.Mkdir(path, 0o755))

	root := t.TempDir()
	p, err := r.Register(root)
	require.Error(t, err)

	got, err := r.GetByRoot(root)
	require.NoError(t, err, "entry must survive in memory so the caller can retry")
	assert.Equal(t, p.ID, got.ID)

	// Clearing the obstruction lets the retry persist.
	require.NoError(t, os.Remove(path))
	p2, err := r.Register(root)
	require.NoError(t, err)
	assert.Equal(t, p.ID, p2.ID)
}

func TestDerivedResourceNames(t *testing.T) {
	r := newTestRegistry(t)
	p, err := r.Register(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "collection_"+p.ID, p.Collection())
	assert.Equal(t, "project_"+p.ID, p.Space())
}

func TestRegistrySurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.json")
	root := t.TempDir()

	r1, err := NewRegistry(path, nil)
	require.NoError(t, err)
	p, err := r1.Register(root)
	require.NoError(t, err)

	r2, err := NewRegistry(path, nil)
	require.NoError(t, err)
	got, err := r2.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Root, got.Root)
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	r := newTestRegistry(t)
	assert.NoError(t, r.Remove("deadbeefdeadbeefdeadbeefdeadbeef"))
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Get("deadbeefdeadbeefdeadbeefdeadbeef")
	require.Error(t, err)
	assert.True(t, cerr.IsKind(err, cerr.KindNotFound))
}

func TestPruneRemovesStaleRoots(t *testing.T) {
	r := newTestRegistry(t)
	keep := t.TempDir()
	stale := filepath.Join(t.TempDir(), "gone")
	require.NoError(t, os.Mkdir(stale, 0o755))

	_, err := r.Register(keep)
	require.NoError(t, err)
	p, err := r.Register(stale)
	require.NoError(t, err)

	require.NoError(t, os.Remove(stale))

	removed, err := r.Prune()
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, p.ID, removed[0].ID)
	assert.Len(t, r.List(), 1)
}

func TestSanitizeSpaceName(t *testing.T) {
	assert.Equal(t, "my_space", SanitizeSpaceName("my space"))
	assert.Equal(t, "a-b_c", SanitizeSpaceName("a-b/c"))
	assert.Equal(t, "x", SanitizeSpaceName("__x__"))
}
