// Package index answers "what is already on disk for this rendition" and
// owns every filesystem mutation the sync engine makes: staging partial
// downloads, publishing them atomically, and guarded local deletes. An
// optional SQLite ledger short-circuits probes in watch mode.
package index

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
)

// PartialSuffix is appended to a download target while bytes are still
// arriving. Publication renames the staging file onto the bare target, so
// at most one staging file exists per target at any time.
const PartialSuffix = ".part"

// StateKind classifies what Probe found for a rendition target.
type StateKind string

const (
	// StateMissing means neither the target, its staging file, nor any
	// legacy path holds a file.
	StateMissing StateKind = "missing"

	// StateExisting means the canonical target holds a regular file.
	StateExisting StateKind = "existing"

	// StatePartial means a staging file holds a prefix of the download.
	StatePartial StateKind = "partial"

	// StateLegacy means a path written by an older naming policy holds
	// the file.
	StateLegacy StateKind = "legacy"
)

// LocalState is the outcome of probing one rendition target.
type LocalState struct {
	Kind StateKind
	Path string // the file that was found; empty for StateMissing
	Size int64  // bytes on disk; for StatePartial, the resume offset
}

// Index probes and mutates a download tree.
type Index struct {
	ledger *Ledger // optional probe accelerator
	logger *slog.Logger
}

// New returns an Index that stats the filesystem directly.
func New(logger *slog.Logger) *Index {
	return &Index{logger: logger}
}

// UseLedger attaches a cache that answers probes for published paths
// without statting. Meant for watch mode, where the same library is probed
// on every pass.
func (ix *Index) UseLedger(l *Ledger) {
	ix.ledger = l
}

// Probe inspects the admissible paths for one rendition. paths is ordered,
// canonical target first; the first hit wins. The canonical target is
// checked before its staging file, and the staging file before any legacy
// path. Partial sizes always come from a stat so resume offsets are exact.
func (ix *Index) Probe(ctx context.Context, paths []string) (LocalState, error) {
	if len(paths) == 0 {
		return LocalState{Kind: StateMissing}, nil
	}

	canonical := paths[0]

	size, ok, err := ix.lookup(ctx, canonical)
	if err != nil {
		return LocalState{}, err
	}

	if ok {
		return LocalState{Kind: StateExisting, Path: canonical, Size: size}, nil
	}

	if info, err := statFile(canonical + PartialSuffix); err == nil {
		return LocalState{Kind: StatePartial, Path: canonical + PartialSuffix, Size: info.Size()}, nil
	}

	for _, p := range paths[1:] {
		size, ok, err := ix.lookup(ctx, p)
		if err != nil {
			return LocalState{}, err
		}

		if ok {
			return LocalState{Kind: StateLegacy, Path: p, Size: size}, nil
		}
	}

	return LocalState{Kind: StateMissing}, nil
}

// lookup checks one path, consulting the ledger first when attached. A
// ledger hit is trusted without touching disk; a miss falls back to a stat.
func (ix *Index) lookup(ctx context.Context, path string) (int64, bool, error) {
	if ix.ledger != nil {
		size, ok, err := ix.ledger.Lookup(ctx, path)
		if err != nil {
			return 0, false, err
		}

		if ok {
			return size, true, nil
		}
	}

	info, err := statFile(path)
	if err != nil {
		return 0, false, nil
	}

	return info.Size(), true, nil
}

// statFile stats path, rejecting anything that is not a regular file so a
// directory never masquerades as a finished download.
func statFile(path string) (fs.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !info.Mode().IsRegular() {
		return nil, errors.New("not a regular file")
	}

	return info, nil
}
