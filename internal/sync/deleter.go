package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/tonimelisma/icloud-go/internal/icloud"
	"github.com/tonimelisma/icloud-go/internal/index"
)

// deleteBatchSize bounds one records/modify call. The service rejects
// oversized atomic batches, and smaller ones keep the cancellation
// window tight.
const deleteBatchSize = 20

// LocalIntent is one planned local deletion, pinned to the size and
// mtime the file had when the pass planned it. A file that changed in
// between is kept.
type LocalIntent struct {
	Path     string
	Expected index.Expected
}

// deleter realizes deletion intents once the listing walk has
// finished. Intents are never executed mid-walk: a pass that dies
// halfway must not have deleted anything it would not have deleted on
// a full walk.
type deleter struct {
	svc       AssetService
	index     *index.Index
	reauth    func(ctx context.Context) error // nil when no re-auth path exists
	dryRun    bool
	onlyPrint bool
	out       io.Writer
	logger    *slog.Logger
}

// applyLocal deletes planned local files. Cancellation discards the
// remaining intents; per-file failures are logged and skipped. The
// count covers dry-run decisions as well as real removals.
func (d *deleter) applyLocal(ctx context.Context, intents []LocalIntent) int {
	deleted := 0

	for i, intent := range intents {
		if ctx.Err() != nil {
			d.logger.Info("cancelled, discarding remaining local deletions",
				slog.Int("remaining", len(intents)-i),
			)

			break
		}

		if d.onlyPrint {
			fmt.Fprintln(d.out, intent.Path)

			deleted++

			continue
		}

		if d.dryRun {
			d.logger.Info("dry run, would delete local file", slog.String("path", intent.Path))

			deleted++

			continue
		}

		err := d.index.DeleteLocal(ctx, intent.Path, intent.Expected)

		switch {
		case errors.Is(err, index.ErrChanged):
			d.logger.Warn("file changed since deletion was planned, keeping",
				slog.String("path", intent.Path),
			)
		case err != nil:
			d.logger.Warn("local deletion failed",
				slog.String("path", intent.Path),
				slog.String("error", err.Error()),
			)
		default:
			d.logger.Info("deleted local file", slog.String("path", intent.Path))

			deleted++
		}
	}

	return deleted
}

// applyRemote moves assets to Recently Deleted in batches. An expired
// session gets one re-authentication and one retry of the failed
// batch; any other error abandons the remaining intents and fails the
// pass. Cancellation discards the rest silently — deletion intents
// are never carried over to the next pass.
func (d *deleter) applyRemote(ctx context.Context, assets []*icloud.Asset) (int, error) {
	deleted := 0

	for start := 0; start < len(assets); start += deleteBatchSize {
		if ctx.Err() != nil {
			d.logger.Info("cancelled, discarding remaining remote deletions",
				slog.Int("remaining", len(assets)-start),
			)

			return deleted, nil
		}

		batch := assets[start:min(start+deleteBatchSize, len(assets))]

		if d.dryRun || d.onlyPrint {
			for _, a := range batch {
				d.logger.Info("dry run, would delete in iCloud", slog.String("name", assetName(a)))
			}

			deleted += len(batch)

			continue
		}

		if err := d.deleteBatch(ctx, batch); err != nil {
			return deleted, fmt.Errorf("deleting %d assets in iCloud: %w", len(batch), err)
		}

		for _, a := range batch {
			d.logger.Info("deleted in iCloud", slog.String("name", assetName(a)))
		}

		deleted += len(batch)
	}

	return deleted, nil
}

func (d *deleter) deleteBatch(ctx context.Context, batch []*icloud.Asset) error {
	err := d.svc.DeleteAssets(ctx, batch)
	if err == nil {
		return nil
	}

	if errors.Is(err, icloud.ErrAuthExpired) && d.reauth != nil {
		d.logger.Warn("session expired during deletion, re-authenticating")

		if rerr := d.reauth(ctx); rerr != nil {
			return rerr
		}

		return d.svc.DeleteAssets(ctx, batch)
	}

	return err
}

// assetName is the human-readable asset label for logs.
func assetName(a *icloud.Asset) string {
	if a.HasFilename {
		return a.Filename
	}

	return a.ID
}
