// Package graphstore persists the per-project code graph (files,
// symbols, and their relations) in SQLite and answers traversal
// queries through an in-memory graph view.
//
// Each project gets its own space. Space creation is asynchronous from
// the caller's point of view: EnsureSpace starts it and WaitReady
// polls until the space is usable, mirroring how remote graph backends
// behave.
package graphstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	_ "modernc.org/sqlite"

	cerr "github.com/semcode/semcode/internal/errors"
)

// Node kinds.
const (
	NodeFile   = "file"
	NodeSymbol = "symbol"
	NodeModule = "module"
)

// Edge kinds.
const (
	EdgeContains = "contains"
	EdgeImports  = "imports"
)

// Node is one vertex in a project's graph.
type Node struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	RelPath  string `json:"relPath"`
	Language string `json:"language,omitempty"`
}

// Edge is one directed relation.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

// SpaceStatus is the lifecycle state of a space.
type SpaceStatus string

const (
	SpaceCreating SpaceStatus = "creating"
	SpaceReady    SpaceStatus = "ready"
)

// SpaceInfo summarizes one space.
type SpaceInfo struct {
	Name   string      `json:"name"`
	Status SpaceStatus `json:"status"`
	Nodes  int         `json:"nodes"`
	Edges  int         `json:"edges"`
}

var spaceNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// validateSpaceName rejects a space name before it reaches any
// statement.
func validateSpaceName(name string) error {
	if !spaceNameRe.MatchString(name) {
		return cerr.Newf(cerr.KindInvalidPath, "invalid graph space name %q", name).
			WithHint("space names may only contain letters, digits, '_' and '-'")
	}
	return nil
}

// Config tunes the store.
type Config struct {
	// QueryTimeout bounds each traversal query.
	QueryTimeout time.Duration
	// ReadinessRetries bounds WaitReady polling.
	ReadinessRetries int
	// ReadinessInterval is the delay between polls.
	ReadinessInterval time.Duration
	// MaxSessions caps concurrent query sessions.
	MaxSessions int
	// SessionTTL is how long an unreleased session lives before the
	// reaper force-closes it.
	SessionTTL time.Duration
	// ReapInterval is the reaper period.
	ReapInterval time.Duration
}

// DefaultConfig matches the production poll and reap cadence.
func DefaultConfig() Config {
	return Config{
		QueryTimeout:      30 * time.Second,
		ReadinessRetries:  30,
		ReadinessInterval: time.Second,
		MaxSessions:       16,
		SessionTTL:        30 * time.Second,
		ReapInterval:      30 * time.Second,
	}
}

// Store is the graph backend. Safe for concurrent use.
type Store struct {
	db       *sql.DB
	cfg      Config
	logger   *slog.Logger
	sessions *sessionManager
}

const schema = `
CREATE TABLE IF NOT EXISTS spaces (
	name       TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS nodes (
	space    TEXT NOT NULL,
	id       TEXT NOT NULL,
	kind     TEXT NOT NULL,
	name     TEXT NOT NULL,
	rel_path TEXT NOT NULL,
	language TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (space, id)
);
CREATE INDEX IF NOT EXISTS idx_nodes_path ON nodes(space, rel_path);
CREATE TABLE IF NOT EXISTS edges (
	space TEXT NOT NULL,
	src   TEXT NOT NULL,
	dst   TEXT NOT NULL,
	kind  TEXT NOT NULL,
	PRIMARY KEY (space, src, dst, kind)
);
CREATE INDEX IF NOT EXISTS idx_edges_src ON edges(space, src);
CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(space, dst);
`

// Open opens (or creates) the store at path. Empty path is in-memory.
func Open(path string, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 16
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Second
	}
	if cfg.ReadinessRetries <= 0 {
		cfg.ReadinessRetries = 30
	}
	if cfg.ReadinessInterval <= 0 {
		cfg.ReadinessInterval = time.Second
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}

	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph store: %w", err)
	}
	if dsn == ":memory:" {
		// Each pooled connection would otherwise see its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize graph schema: %w", err)
	}

	s := &Store{db: db, cfg: cfg, logger: logger}
	s.sessions = newSessionManager(cfg.MaxSessions, cfg.SessionTTL, logger)
	return s, nil
}

// StartReaper runs the zombie session reaper until ctx is cancelled.
func (s *Store) StartReaper(ctx context.Context) {
	go s.sessions.reapLoop(ctx, s.cfg.ReapInterval)
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSpace creates the space if it does not exist. A new space
// starts in the creating state and flips to ready once its storage is
// in place; callers poll WaitReady before writing.
func (s *Store) EnsureSpace(ctx context.Context, name string) error {
	if err := validateSpaceName(name); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO spaces (name, status, created_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO NOTHING`,
		name, string(SpaceCreating), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to create space %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	// Storage for the space is the shared tables, so it is ready as
	// soon as the row commits.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE spaces SET status = ? WHERE name = ?`, string(SpaceReady), name); err != nil {
		return fmt.Errorf("failed to activate space %s: %w", name, err)
	}
	s.logger.Info("graph space created", slog.String("space", name))
	return nil
}

// Status returns the space status.
func (s *Store) Status(ctx context.Context, name string) (SpaceStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM spaces WHERE name = ?`, name).Scan(&status)
	if err == sql.ErrNoRows {
		return "", cerr.Newf(cerr.KindNotFound, "graph space %q does not exist", name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read space status: %w", err)
	}
	return SpaceStatus(status), nil
}

// WaitReady polls until the space is ready or the retry budget is
// exhausted.
func (s *Store) WaitReady(ctx context.Context, name string) error {
	for attempt := 0; attempt < s.cfg.ReadinessRetries; attempt++ {
		status, err := s.Status(ctx, name)
		if err != nil {
			return err
		}
		if status == SpaceReady {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.ReadinessInterval):
		}
	}
	return cerr.Newf(cerr.KindTransient, "graph space %q not ready after %d attempts",
		name, s.cfg.ReadinessRetries)
}

// DropSpace removes the space and all its contents. Dropping an
// unknown space is not an error.
func (s *Store) DropSpace(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM edges WHERE space = ?`,
		`DELETE FROM nodes WHERE space = ?`,
		`DELETE FROM spaces WHERE name = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, name); err != nil {
			return fmt.Errorf("failed to drop space %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// UpsertNodes writes nodes into the space in one transaction.
func (s *Store) UpsertNodes(ctx context.Context, space string, nodes []Node) error {
	if len(nodes) == 0 {
		return nil
	}
	if err := s.requireReady(ctx, space); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (space, id, kind, name, rel_path, language)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(space, id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			rel_path = excluded.rel_path,
			language = excluded.language`)
	if err != nil {
		return fmt.Errorf("failed to prepare node upsert: %w", err)
	}
	defer stmt.Close()

	for _, n := range nodes {
		if _, err := stmt.ExecContext(ctx, space, n.ID, n.Kind, n.Name, n.RelPath, n.Language); err != nil {
			return cerr.Wrapf(cerr.KindTransient, err, "failed to upsert node %s", n.ID)
		}
	}
	return tx.Commit()
}

// UpsertEdges writes edges into the space in one transaction. Edges
// referencing nodes that do not exist yet are accepted; traversal
// simply never reaches them until the nodes land.
func (s *Store) UpsertEdges(ctx context.Context, space string, edges []Edge) error {
	if len(edges) == 0 {
		return nil
	}
	if err := s.requireReady(ctx, space); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO edges (space, src, dst, kind) VALUES (?, ?, ?, ?)
		ON CONFLICT(space, src, dst, kind) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare edge upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range edges {
		if _, err := stmt.ExecContext(ctx, space, e.From, e.To, e.Kind); err != nil {
			return cerr.Wrapf(cerr.KindTransient, err, "failed to upsert edge %s->%s", e.From, e.To)
		}
	}
	return tx.Commit()
}

// DeleteByFile removes the file's nodes and any edges touching them.
func (s *Store) DeleteByFile(ctx context.Context, space, relPath string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM edges WHERE space = ? AND (
			src IN (SELECT id FROM nodes WHERE space = ? AND rel_path = ?) OR
			dst IN (SELECT id FROM nodes WHERE space = ? AND rel_path = ?))`,
		space, space, relPath, space, relPath); err != nil {
		return fmt.Errorf("failed to delete edges for %s: %w", relPath, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM nodes WHERE space = ? AND rel_path = ?`, space, relPath); err != nil {
		return fmt.Errorf("failed to delete nodes for %s: %w", relPath, err)
	}
	return tx.Commit()
}

// Info summarizes the space.
func (s *Store) Info(ctx context.Context, name string) (SpaceInfo, error) {
	status, err := s.Status(ctx, name)
	if err != nil {
		return SpaceInfo{}, err
	}
	info := SpaceInfo{Name: name, Status: status}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nodes WHERE space = ?`, name).Scan(&info.Nodes); err != nil {
		return SpaceInfo{}, fmt.Errorf("failed to count nodes: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM edges WHERE space = ?`, name).Scan(&info.Edges); err != nil {
		return SpaceInfo{}, fmt.Errorf("failed to count edges: %w", err)
	}
	return info, nil
}

func (s *Store) requireReady(ctx context.Context, space string) error {
	if err := validateSpaceName(space); err != nil {
		return err
	}
	status, err := s.Status(ctx, space)
	if err != nil {
		return err
	}
	if status != SpaceReady {
		return cerr.Newf(cerr.KindTransient, "graph space %q is still %s", space, status)
	}
	return nil
}
