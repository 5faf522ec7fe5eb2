package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ErrChanged reports that a file scheduled for deletion no longer matches
// the size and mtime recorded when the deletion was planned.
var ErrChanged = errors.New("file changed since deletion was planned")

// Expected pins the size and mtime a file had when its deletion was
// planned.
type Expected struct {
	Size  int64
	MTime time.Time
}

// DeleteLocal removes path only if the file still matches expected. A
// mismatch returns ErrChanged and leaves the file alone. A file that is
// already gone counts as deleted.
func (ix *Index) DeleteLocal(ctx context.Context, path string, expected Expected) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		ix.forget(ctx, path)
		return nil
	}

	if err != nil {
		return fmt.Errorf("index: statting %s: %w", path, err)
	}

	if info.Size() != expected.Size || !info.ModTime().Equal(expected.MTime) {
		return fmt.Errorf("index: %s: %w", path, ErrChanged)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("index: deleting %s: %w", path, err)
	}

	ix.forget(ctx, path)
	ix.logger.Debug("deleted local file", slog.String("path", path))

	return nil
}

// forget drops the ledger entry for path when a ledger is attached. Cache
// write failures are logged, not returned; the cache is advisory.
func (ix *Index) forget(ctx context.Context, path string) {
	if ix.ledger == nil {
		return
	}

	if err := ix.ledger.Forget(ctx, path); err != nil {
		ix.logger.Warn("failed to drop cache entry",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// PruneEmptyDirs removes directories under root that contain no files,
// deepest first so a chain of empty parents collapses in one pass. The
// root itself is never removed. Folder templates create date-bucketed
// directories that empty out as assets are deleted.
func (ix *Index) PruneEmptyDirs(root string) error {
	var dirs []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if d.IsDir() && path != root {
			dirs = append(dirs, path)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("index: walking %s: %w", root, err)
	}

	// A child path is always longer than its parent, so length order is
	// deepest-first.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return fmt.Errorf("index: reading %s: %w", dir, err)
		}

		if len(entries) > 0 {
			continue
		}

		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("index: removing empty directory %s: %w", dir, err)
		}

		ix.logger.Debug("removed empty directory", slog.String("dir", dir))
	}

	return nil
}
