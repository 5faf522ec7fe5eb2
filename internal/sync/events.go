package sync

import "github.com/tonimelisma/icloud-go/internal/icloud"

// EventKind labels one per-rendition reconciliation outcome.
type EventKind string

const (
	// EventExisted means the rendition was already complete on disk,
	// at its canonical path or an accepted legacy one.
	EventExisted EventKind = "existed"

	// EventDownloaded means the rendition was fetched (fresh or
	// resumed) and published to its target path.
	EventDownloaded EventKind = "downloaded"

	// EventWouldDownload is the dry-run stand-in for EventDownloaded.
	EventWouldDownload EventKind = "would-download"

	// EventAllSizesComplete fires once per asset after every
	// requested rendition reached a terminal state.
	EventAllSizesComplete EventKind = "asset-complete"
)

// AssetEvent describes one reconciliation outcome for progress
// reporting. Size is empty for EventAllSizesComplete.
type AssetEvent struct {
	Kind  EventKind
	Asset *icloud.Asset
	Size  string // rendition label, e.g. "original" or "medium"
	Live  bool   // true for the Live Photo motion companion
	Path  string
	Bytes int64
}

// Observer receives asset events as the pass progresses. Implementations
// must be fast; the engine calls them inline.
type Observer func(AssetEvent)
