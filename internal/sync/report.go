package sync

import (
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

// Report summarizes one completed pass over one account's library.
type Report struct {
	// AssetsSeen counts assets the pass reconciled, after filters.
	AssetsSeen int

	// Downloaded counts renditions fetched and published, Live Photo
	// companions included. WouldDownload is its dry-run counterpart.
	Downloaded    int
	WouldDownload int

	// Existed counts renditions that were already complete on disk.
	Existed int

	// SkippedAssets counts assets abandoned after a non-fatal error.
	SkippedAssets int

	// Errors counts non-fatal errors the pass logged and survived.
	Errors int

	LocalDeletes  int
	RemoteDeletes int

	// BytesDownloaded is bytes pulled off the network, discarded
	// retry attempts included.
	BytesDownloaded int64

	Duration time.Duration
}

// LogAttrs returns the report as structured logging attributes.
func (r *Report) LogAttrs() []any {
	return []any{
		slog.Int("assets", r.AssetsSeen),
		slog.Int("downloaded", r.Downloaded),
		slog.Int("existed", r.Existed),
		slog.Int("skipped", r.SkippedAssets),
		slog.Int("errors", r.Errors),
		slog.Int("local_deletes", r.LocalDeletes),
		slog.Int("remote_deletes", r.RemoteDeletes),
		slog.String("bytes", humanize.Bytes(uint64(r.BytesDownloaded))), //nolint:gosec // byte counts are non-negative
		slog.Duration("duration", r.Duration.Round(time.Millisecond)),
	}
}

// Changed reports whether the pass did anything beyond confirming the
// local tree.
func (r *Report) Changed() bool {
	return r.Downloaded > 0 || r.WouldDownload > 0 || r.LocalDeletes > 0 || r.RemoteDeletes > 0
}
