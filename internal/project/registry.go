// Package project maintains the durable mapping from filesystem roots to
// project identities and their per-project backend resource names.
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	cerr "github.com/semcode/semcode/internal/errors"
)

// Project is one registered root and its derived identity.
type Project struct {
	ID           string    `json:"id"`
	Root         string    `json:"root"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastUsedAt   time.Time `json:"lastUsedAt"`
}

// Collection returns the vector collection name for the project.
func (p Project) Collection() string { return SanitizeSpaceName("collection_" + p.ID) }

// Space returns the graph space name for the project.
func (p Project) Space() string { return SanitizeSpaceName("project_" + p.ID) }

// Registry persists the root-to-project mapping as a JSON file guarded
// by a sibling lock file, so concurrent processes see a consistent view.
type Registry struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger

	mu       sync.RWMutex
	projects map[string]Project // keyed by ID
}

type registryFile struct {
	Version  int       `json:"version"`
	Projects []Project `json:"projects"`
}

var spaceNameRe = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// IDFor derives the stable project ID for a root path. The path is
// absolutized and symlink-resolved first so aliases of the same
// directory map to the same project.
func IDFor(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", cerr.Wrapf(cerr.KindInvalidPath, err, "cannot resolve path %q", root)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:32], nil
}

// NewRegistry opens (or creates) the registry at path.
func NewRegistry(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}
	r := &Registry{
		path:     path,
		lock:     flock.New(path + ".lock"),
		logger:   logger,
		projects: make(map[string]Project),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds root to the registry, returning the existing entry when
// the root is already known. The returned Project always has a valid ID.
func (r *Registry) Register(root string) (Project, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Project{}, cerr.Wrapf(cerr.KindInvalidPath, err, "cannot resolve path %q", root)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Project{}, cerr.Wrapf(cerr.KindInvalidPath, err, "project root %q is not accessible", abs).
			WithHint("check that the directory exists and is readable")
	}
	if !info.IsDir() {
		return Project{}, cerr.Newf(cerr.KindInvalidPath, "project root %q is not a directory", abs)
	}

	id, err := IDFor(abs)
	if err != nil {
		return Project{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.projects[id]; ok {
		existing.LastUsedAt = time.Now().UTC()
		r.projects[id] = existing
		if err := r.persistLocked(); err != nil {
			return Project{}, err
		}
		return existing, nil
	}

	now := time.Now().UTC()
	p := Project{ID: id, Root: abs, RegisteredAt: now, LastUsedAt: now}
	r.projects[id] = p
	if err := r.persistLocked(); err != nil {
		// Keep the in-memory entry; a retried Register or the next
		// Touch persists it.
		return p, err
	}
	r.logger.Info("project registered", slog.String("project_id", id), slog.String("root", abs))
	return p, nil
}

// Get returns the project with the given ID.
func (r *Registry) Get(id string) (Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	if !ok {
		return Project{}, cerr.Newf(cerr.KindNotFound, "project %q is not registered", id)
	}
	return p, nil
}

// GetByRoot returns the project registered for root, if any.
func (r *Registry) GetByRoot(root string) (Project, error) {
	id, err := IDFor(root)
	if err != nil {
		return Project{}, err
	}
	return r.Get(id)
}

// Touch updates the project's lastUsedAt timestamp.
func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return cerr.Newf(cerr.KindNotFound, "project %q is not registered", id)
	}
	p.LastUsedAt = time.Now().UTC()
	r.projects[id] = p
	return r.persistLocked()
}

// Remove deletes the project from the registry. Removing an unknown ID
// is not an error.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[id]; !ok {
		return nil
	}
	delete(r.projects, id)
	return r.persistLocked()
}

// List returns all registered projects sorted by root path.
func (r *Registry) List() []Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Root < out[j].Root })
	return out
}

// Prune removes entries whose roots no longer exist on disk and returns
// the removed projects.
func (r *Registry) Prune() ([]Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Project
	for id, p := range r.projects {
		if _, err := os.Stat(p.Root); os.IsNotExist(err) {
			removed = append(removed, p)
			delete(r.projects, id)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	if err := r.persistLocked(); err != nil {
		return nil, err
	}
	for _, p := range removed {
		r.logger.Info("pruned stale project", slog.String("project_id", p.ID), slog.String("root", p.Root))
	}
	return removed, nil
}

func (r *Registry) load() error {
	if err := r.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock registry: %w", err)
	}
	defer r.lock.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read registry: %w", err)
	}
	var f registryFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("registry file %s is corrupt: %w", r.path, err)
	}
	for _, p := range f.Projects {
		r.projects[p.ID] = p
	}
	return nil
}

// persistLocked writes the registry atomically: marshal to a temp file
// in the same directory, fsync, then rename over the live file.
// Caller must hold r.mu.
func (r *Registry) persistLocked() error {
	if err := r.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock registry: %w", err)
	}
	defer r.lock.Unlock()

	f := registryFile{Version: 1, Projects: make([]Project, 0, len(r.projects))}
	for _, p := range r.projects {
		f.Projects = append(f.Projects, p)
	}
	sort.Slice(f.Projects, func(i, j int) bool { return f.Projects[i].ID < f.Projects[j].ID })

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".projects-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp registry file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to sync registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close registry: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace registry: %w", err)
	}
	return nil
}

// SanitizeSpaceName replaces characters the graph backend rejects.
// IDs produced by IDFor are already clean; this guards externally
// supplied names.
func SanitizeSpaceName(name string) string {
	s := spaceNameRe.ReplaceAllString(name, "_")
	return strings.Trim(s, "_")
}
