package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// SQL statements for the file cache.
const (
	sqlLookupFile = `SELECT size FROM file_cache WHERE path = ?`

	sqlUpsertFile = `INSERT INTO file_cache (path, size, mtime, verified_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
		 size = excluded.size,
		 mtime = excluded.mtime,
		 verified_at = excluded.verified_at`

	sqlForgetFile = `DELETE FROM file_cache WHERE path = ?`

	sqlForgetPrefix = `DELETE FROM file_cache WHERE path LIKE ? ESCAPE '\'`

	sqlCountFiles = `SELECT COUNT(*) FROM file_cache`

	sqlGetMeta = `SELECT value FROM cache_meta WHERE key = ?`

	sqlSetMeta = `INSERT INTO cache_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
)

// metaLastRebuild keys the unix timestamp of the last full disk scan.
const metaLastRebuild = "last_rebuild"

// Ledger is a SQLite cache of published download paths. In watch mode it
// answers repeated probes without statting the download tree; entries are
// written on publish, dropped on delete, and replaced wholesale by a disk
// scan once the cache goes stale.
type Ledger struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// NewLedger opens the SQLite cache at dbPath, running migrations as needed.
// The database uses WAL mode with synchronous=FULL for crash-safe durability.
func NewLedger(dbPath string, logger *slog.Logger) (*Ledger, error) {
	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"+
			"&_pragma=journal_size_limit(67108864)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("index: opening cache %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("file cache opened", slog.String("db_path", dbPath))

	return &Ledger{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Lookup reports whether path has a cache entry, returning the recorded
// size on a hit. Hits are trusted without a stat; staleness is bounded by
// the periodic rebuild.
func (l *Ledger) Lookup(ctx context.Context, path string) (int64, bool, error) {
	var size int64

	err := l.db.QueryRowContext(ctx, sqlLookupFile, path).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("index: cache lookup %s: %w", path, err)
	}

	return size, true, nil
}

// Record upserts the cache entry for a published file.
func (l *Ledger) Record(ctx context.Context, path string, size int64, mtime time.Time) error {
	_, err := l.db.ExecContext(ctx, sqlUpsertFile, path, size, mtime.Unix(), l.nowFunc().Unix())
	if err != nil {
		return fmt.Errorf("index: caching %s: %w", path, err)
	}

	return nil
}

// Forget drops the cache entry for path, if any.
func (l *Ledger) Forget(ctx context.Context, path string) error {
	if _, err := l.db.ExecContext(ctx, sqlForgetFile, path); err != nil {
		return fmt.Errorf("index: dropping cache entry %s: %w", path, err)
	}

	return nil
}

// Count returns the number of cached paths.
func (l *Ledger) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := l.db.QueryRowContext(ctx, sqlCountFiles).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: counting cache entries: %w", err)
	}

	return n, nil
}

// NeedsRebuild reports whether the last full disk scan is older than maxAge.
// A cache that has never been rebuilt is always stale.
func (l *Ledger) NeedsRebuild(ctx context.Context, maxAge time.Duration) (bool, error) {
	var last int64

	err := l.db.QueryRowContext(ctx, sqlGetMeta, metaLastRebuild).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}

	if err != nil {
		return false, fmt.Errorf("index: reading rebuild marker: %w", err)
	}

	return l.nowFunc().Sub(time.Unix(last, 0)) >= maxAge, nil
}

// Rebuild replaces every cache entry under dir with the files actually on
// disk. Entries outside dir are left alone so accounts sharing one cache
// database do not clobber each other. The scan and the swap commit in a
// single transaction.
func (l *Ledger) Rebuild(ctx context.Context, dir string) error {
	dir = filepath.Clean(dir)
	start := l.nowFunc()

	l.logger.Info("rebuilding file cache", slog.String("dir", dir))

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: starting rebuild: %w", err)
	}
	defer tx.Rollback()

	prefix := escapeLike(dir+string(os.PathSeparator)) + "%"
	if _, err := tx.ExecContext(ctx, sqlForgetPrefix, prefix); err != nil {
		return fmt.Errorf("index: clearing cache for %s: %w", dir, err)
	}

	stmt, err := tx.PrepareContext(ctx, sqlUpsertFile)
	if err != nil {
		return fmt.Errorf("index: preparing cache insert: %w", err)
	}
	defer stmt.Close()

	now := l.nowFunc().Unix()

	var count int64

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Files vanishing mid-scan are not an error.
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		if _, err := stmt.ExecContext(ctx, path, info.Size(), info.ModTime().Unix(), now); err != nil {
			return fmt.Errorf("index: caching %s: %w", path, err)
		}

		count++

		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("index: scanning %s: %w", dir, err)
	}

	if _, err := tx.ExecContext(ctx, sqlSetMeta, metaLastRebuild, now); err != nil {
		return fmt.Errorf("index: writing rebuild marker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: committing rebuild: %w", err)
	}

	l.logger.Info("file cache rebuilt",
		slog.Int64("files", count),
		slog.Duration("elapsed", l.nowFunc().Sub(start)),
	)

	return nil
}

// escapeLike escapes LIKE wildcards in s so it can serve as a literal
// prefix under ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

	return r.Replace(s)
}
