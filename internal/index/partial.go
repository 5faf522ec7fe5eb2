package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// PartialHandle is an open staging file for one download target. Bytes are
// appended with Write; Publish renames the staging file onto the target.
// Exactly one of Publish, Close, or Discard ends the handle's life.
type PartialHandle struct {
	target  string // final path the download publishes to
	staging string // target + PartialSuffix
	f       *os.File
	have    int64 // bytes on disk, resumed prefix included
}

// PreparePartial opens the staging file for target, creating parent
// directories as needed. With resume true an existing staging file is kept
// and writes continue from its end; otherwise it is truncated.
func (ix *Index) PreparePartial(target string, resume bool) (*PartialHandle, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil { //nolint:mnd // standard dir perms
		return nil, fmt.Errorf("index: creating directory for %s: %w", target, err)
	}

	staging := target + PartialSuffix

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if !resume {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(staging, flags, 0o644) //nolint:mnd // standard file perms
	if err != nil {
		return nil, fmt.Errorf("index: opening staging file %s: %w", staging, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("index: statting staging file %s: %w", staging, err)
	}

	return &PartialHandle{target: target, staging: staging, f: f, have: info.Size()}, nil
}

// Write appends p to the staging file.
func (h *PartialHandle) Write(p []byte) (int, error) {
	n, err := h.f.Write(p)
	h.have += int64(n)

	return n, err
}

// Have returns the staging file's current length, resumed prefix included.
func (h *PartialHandle) Have() int64 {
	return h.have
}

// Truncate drops the staged prefix so writes start the file over. Used
// when a resume response comes back without the requested range and the
// body carries the whole rendition.
func (h *PartialHandle) Truncate() error {
	if err := h.f.Truncate(0); err != nil {
		return fmt.Errorf("index: truncating staging file %s: %w", h.staging, err)
	}

	h.have = 0

	return nil
}

// Sync flushes written bytes to stable storage so an interrupted download
// resumes from a known-good offset.
func (h *PartialHandle) Sync() error {
	return h.f.Sync()
}

// Target returns the path the handle publishes to.
func (h *PartialHandle) Target() string {
	return h.target
}

// Close closes the staging file and leaves it on disk for a later resume.
func (h *PartialHandle) Close() error {
	return h.f.Close()
}

// Discard closes and removes the staging file. Used when the byte count on
// disk contradicts the expected length and the prefix cannot be trusted.
func (h *PartialHandle) Discard() error {
	if err := h.f.Close(); err != nil {
		return err
	}

	if err := os.Remove(h.staging); err != nil {
		return fmt.Errorf("index: removing staging file %s: %w", h.staging, err)
	}

	return nil
}

// Publish makes the staged download visible at its target path. The mtime
// is set on the staging file first, then the rename happens; the rename is
// atomic because staging and target share a directory. On failure the
// staging file stays on disk for the next attempt.
func (ix *Index) Publish(ctx context.Context, h *PartialHandle, mtime time.Time) (string, error) {
	if err := h.f.Sync(); err != nil {
		h.f.Close()
		return "", fmt.Errorf("index: syncing staging file %s: %w", h.staging, err)
	}

	if err := h.f.Close(); err != nil {
		return "", fmt.Errorf("index: closing staging file %s: %w", h.staging, err)
	}

	if err := os.Chtimes(h.staging, mtime, mtime); err != nil {
		ix.logger.Warn("failed to set mtime on staging file",
			slog.String("path", h.staging),
			slog.String("error", err.Error()),
		)
	}

	if err := os.Rename(h.staging, h.target); err != nil {
		return "", fmt.Errorf("index: publishing %s: %w", h.target, err)
	}

	if ix.ledger != nil {
		if err := ix.ledger.Record(ctx, h.target, h.have, mtime); err != nil {
			// The file is already on disk; losing the cache entry only
			// costs a stat on the next pass.
			ix.logger.Warn("failed to cache published file",
				slog.String("path", h.target),
				slog.String("error", err.Error()),
			)
		}
	}

	ix.logger.Debug("published", slog.String("path", h.target), slog.Int64("size", h.have))

	return h.target, nil
}
