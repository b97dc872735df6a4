// Package walker streams the indexable files of a project root through
// a channel, hashing content on the way so downstream stages can diff
// against the hash store without re-reading files.
package walker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/semcode/semcode/internal/ignore"
)

// Record is one indexable file discovered by Walk.
type Record struct {
	// RelPath is slash-separated and relative to the walk root.
	RelPath     string
	AbsPath     string
	Size        int64
	ModTime     time.Time
	ContentHash string
	Language    string
}

// Options tunes a walk.
type Options struct {
	// MaxFileSize skips files larger than this many bytes. Zero means
	// no limit.
	MaxFileSize int64
	// SkipBinary drops files whose first bytes contain a NUL.
	SkipBinary bool
}

// DefaultOptions returns walk options with a 10MB size cap and binary
// detection enabled.
func DefaultOptions() Options {
	return Options{MaxFileSize: 10 * 1024 * 1024, SkipBinary: true}
}

// Stats counts what a completed walk saw.
type Stats struct {
	Emitted      int
	SkippedSize  int
	SkippedBin   int
	SkippedMatch int
}

// Walker walks project roots.
type Walker struct {
	logger *slog.Logger
	opts   Options
}

// New creates a Walker.
func New(opts Options, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{logger: logger, opts: opts}
}

// Walk streams records for every indexable file under root. The channel
// closes when the walk finishes or ctx is cancelled; the error function
// reports the terminal walk error after the channel closes.
func (w *Walker) Walk(ctx context.Context, root string, matcher *ignore.Matcher) (<-chan Record, func() error) {
	out := make(chan Record, 64)
	var walkErr error

	go func() {
		defer close(out)
		stats := Stats{}
		start := time.Now()

		walkErr = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// Unreadable entries are skipped, not fatal.
				w.logger.Warn("walk error", slog.String("path", path), slog.String("error", err.Error()))
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			rel, relErr := filepath.Rel(root, path)
			if relErr != nil || rel == "." {
				return nil
			}
			rel = filepath.ToSlash(rel)

			if d.IsDir() {
				if matcher != nil && matcher.Matches(rel, true) {
					stats.SkippedMatch++
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if matcher != nil && matcher.Matches(rel, false) {
				stats.SkippedMatch++
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return nil
			}
			if w.opts.MaxFileSize > 0 && info.Size() > w.opts.MaxFileSize {
				stats.SkippedSize++
				w.logger.Debug("skipping oversize file",
					slog.String("path", rel), slog.Int64("size", info.Size()))
				return nil
			}

			hash, binary, err := hashFile(path, w.opts.SkipBinary)
			if err != nil {
				w.logger.Warn("failed to hash file",
					slog.String("path", rel), slog.String("error", err.Error()))
				return nil
			}
			if binary {
				stats.SkippedBin++
				return nil
			}

			rec := Record{
				RelPath:     rel,
				AbsPath:     path,
				Size:        info.Size(),
				ModTime:     info.ModTime(),
				ContentHash: hash,
				Language:    DetectLanguage(rel),
			}
			select {
			case out <- rec:
				stats.Emitted++
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})

		w.logger.Debug("walk complete",
			slog.String("root", root),
			slog.Int("emitted", stats.Emitted),
			slog.Int("skipped_size", stats.SkippedSize),
			slog.Int("skipped_binary", stats.SkippedBin),
			slog.Int("skipped_ignored", stats.SkippedMatch),
			slog.Duration("elapsed", time.Since(start)))
	}()

	return out, func() error { return walkErr }
}

// Inspect builds the Record for a single file, applying the same size
// and binary policy as a walk. The second return is false when the
// file should be skipped.
func (w *Walker) Inspect(root, relPath string) (Record, bool, error) {
	abs := filepath.Join(root, filepath.FromSlash(relPath))
	info, err := os.Stat(abs)
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to stat %s: %w", relPath, err)
	}
	if !info.Mode().IsRegular() {
		return Record{}, false, nil
	}
	if w.opts.MaxFileSize > 0 && info.Size() > w.opts.MaxFileSize {
		return Record{}, false, nil
	}
	hash, binary, err := hashFile(abs, w.opts.SkipBinary)
	if err != nil {
		return Record{}, false, err
	}
	if binary {
		return Record{}, false, nil
	}
	return Record{
		RelPath:     relPath,
		AbsPath:     abs,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentHash: hash,
		Language:    DetectLanguage(relPath),
	}, true, nil
}

// hashFile computes the sha256 of a file's content. When sniffBinary is
// set, the first 8KB is checked for a NUL byte and binary files are
// reported without hashing the remainder.
func hashFile(path string, sniffBinary bool) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if sniffBinary {
		head := make([]byte, 8192)
		n, err := io.ReadFull(f, head)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return "", false, fmt.Errorf("failed to read %s: %w", path, err)
		}
		head = head[:n]
		if bytes.IndexByte(head, 0) >= 0 {
			return "", true, nil
		}
		h.Write(head)
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", false, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), false, nil
}

// HashBytes returns the sha256 of content, for callers that already
// hold the bytes.
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
