// Package hashstore persists per-file content hashes so repeated index
// runs only touch files whose content actually changed.
package hashstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	cerr "github.com/semcode/semcode/internal/errors"
)

// FileState tracks where a file is in the indexing lifecycle.
type FileState string

const (
	StatePending FileState = "pending"
	StateIndexed FileState = "indexed"
	StateFailed  FileState = "failed"
)

// FileRecord is the persisted view of one file inside one project.
type FileRecord struct {
	ProjectID   string
	RelPath     string
	ContentHash string
	Size        int64
	ModTime     time.Time
	Language    string
	State       FileState
	LastIndexed time.Time
}

// Diff partitions a scan result against the stored records.
type Diff struct {
	Added     []string
	Modified  []string
	Deleted   []string
	Unchanged []string
}

// Store is a SQLite-backed hash store. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS files (
	project_id   TEXT NOT NULL,
	rel_path     TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	size         INTEGER NOT NULL,
	mod_time     INTEGER NOT NULL,
	language     TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL DEFAULT 'pending',
	last_indexed INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (project_id, rel_path)
);
CREATE INDEX IF NOT EXISTS idx_files_project ON files(project_id);
CREATE INDEX IF NOT EXISTS idx_files_state ON files(project_id, state);
`

// Open opens (or creates) the hash store at path. Empty path opens an
// in-memory store for testing.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
		}
		if err := validateIntegrity(path); err != nil {
			logger.Warn("hash store corrupted, rebuilding",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				return nil, fmt.Errorf("hash store corrupted at %s and cannot remove: %w", path, rmErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open hash store: %w", err)
	}
	if dsn == ":memory:" {
		// Each pooled connection would otherwise see its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}

	// WAL mode must be set via PRAGMA for modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize hash store schema: %w", err)
	}

	return &Store{db: db, path: path, logger: logger}, nil
}

func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("cannot open database: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the record for (projectID, relPath).
func (s *Store) Get(ctx context.Context, projectID, relPath string) (FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project_id, rel_path, content_hash, size, mod_time, language, state, last_indexed
		FROM files WHERE project_id = ? AND rel_path = ?`, projectID, relPath)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return FileRecord{}, cerr.Newf(cerr.KindNotFound, "no record for %s in project %s", relPath, projectID)
	}
	if err != nil {
		return FileRecord{}, fmt.Errorf("failed to read file record: %w", err)
	}
	return rec, nil
}

// Put upserts a single record.
func (s *Store) Put(ctx context.Context, rec FileRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (project_id, rel_path, content_hash, size, mod_time, language, state, last_indexed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, rel_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			size         = excluded.size,
			mod_time     = excluded.mod_time,
			language     = excluded.language,
			state        = excluded.state,
			last_indexed = excluded.last_indexed`,
		rec.ProjectID, rec.RelPath, rec.ContentHash, rec.Size,
		rec.ModTime.UnixNano(), rec.Language, string(rec.State), rec.LastIndexed.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert file record: %w", err)
	}
	return nil
}

// BatchPut upserts many records inside one transaction.
func (s *Store) BatchPut(ctx context.Context, recs []FileRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files (project_id, rel_path, content_hash, size, mod_time, language, state, last_indexed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, rel_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			size         = excluded.size,
			mod_time     = excluded.mod_time,
			language     = excluded.language,
			state        = excluded.state,
			last_indexed = excluded.last_indexed`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx,
			rec.ProjectID, rec.RelPath, rec.ContentHash, rec.Size,
			rec.ModTime.UnixNano(), rec.Language, string(rec.State), rec.LastIndexed.UnixNano()); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", rec.RelPath, err)
		}
	}
	return tx.Commit()
}

// Delete removes the record for (projectID, relPath). Deleting an
// unknown record is not an error.
func (s *Store) Delete(ctx context.Context, projectID, relPath string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM files WHERE project_id = ? AND rel_path = ?`, projectID, relPath)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	return nil
}

// DeleteProject removes all records for a project and returns the count.
func (s *Store) DeleteProject(ctx context.Context, projectID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE project_id = ?`, projectID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete project records: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// List returns all records for a project, ordered by path.
func (s *Store) List(ctx context.Context, projectID string) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, rel_path, content_hash, size, mod_time, language, state, last_indexed
		FROM files WHERE project_id = ? ORDER BY rel_path`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list file records: %w", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListSince returns the project's records indexed strictly after t,
// ordered by path.
func (s *Store) ListSince(ctx context.Context, projectID string, t time.Time) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, rel_path, content_hash, size, mod_time, language, state, last_indexed
		FROM files WHERE project_id = ? AND last_indexed > ? ORDER BY rel_path`,
		projectID, t.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to list file records: %w", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of records for a project, optionally
// filtered by state (empty state counts everything).
func (s *Store) Count(ctx context.Context, projectID string, state FileState) (int, error) {
	var (
		n   int
		err error
	)
	if state == "" {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM files WHERE project_id = ?`, projectID).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM files WHERE project_id = ? AND state = ?`, projectID, string(state)).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count file records: %w", err)
	}
	return n, nil
}

// Scanned is one file observed by a walk, carrying just enough to diff.
type Scanned struct {
	RelPath     string
	ContentHash string
}

// DiffScan compares a full scan against stored records. Files present
// in the scan but not the store are added; present in both with a
// different hash are modified; present only in the store are deleted.
// Stored files in the failed state are reported as modified so they
// get retried.
func (s *Store) DiffScan(ctx context.Context, projectID string, scanned []Scanned) (Diff, error) {
	stored, err := s.List(ctx, projectID)
	if err != nil {
		return Diff{}, err
	}

	byPath := make(map[string]FileRecord, len(stored))
	for _, rec := range stored {
		byPath[rec.RelPath] = rec
	}

	var d Diff
	seen := make(map[string]struct{}, len(scanned))
	for _, sc := range scanned {
		seen[sc.RelPath] = struct{}{}
		rec, ok := byPath[sc.RelPath]
		switch {
		case !ok:
			d.Added = append(d.Added, sc.RelPath)
		case rec.ContentHash != sc.ContentHash || rec.State == StateFailed:
			d.Modified = append(d.Modified, sc.RelPath)
		default:
			d.Unchanged = append(d.Unchanged, sc.RelPath)
		}
	}
	for _, rec := range stored {
		if _, ok := seen[rec.RelPath]; !ok {
			d.Deleted = append(d.Deleted, rec.RelPath)
		}
	}
	return d, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (FileRecord, error) {
	var (
		rec              FileRecord
		modNS, indexedNS int64
		state            string
	)
	err := row.Scan(&rec.ProjectID, &rec.RelPath, &rec.ContentHash, &rec.Size,
		&modNS, &rec.Language, &state, &indexedNS)
	if err != nil {
		return FileRecord{}, err
	}
	rec.ModTime = time.Unix(0, modNS)
	rec.State = FileState(state)
	if indexedNS > 0 {
		rec.LastIndexed = time.Unix(0, indexedNS)
	}
	return rec, nil
}
