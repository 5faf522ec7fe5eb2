package sync

import (
	"time"

	"github.com/tonimelisma/icloud-go/internal/icloud"
)

// Filters decides which listed assets a pass processes at all. Skipped
// assets never touch disk and never count toward the until-found
// streak, but they also never end the pass: the listing is ordered by
// add date, so a capture-date filter can match again arbitrarily far
// down the stream.
type Filters struct {
	SkipPhotos bool
	SkipVideos bool

	// CreatedBefore skips assets captured before the bound;
	// CreatedAfter skips assets captured after it. Zero means no
	// bound.
	CreatedBefore time.Time
	CreatedAfter  time.Time
}

// FilterResult reports one evaluation. Reason is set only when the
// asset is excluded.
type FilterResult struct {
	Included bool
	Reason   string
}

// Evaluate applies the filters to one asset.
func (f Filters) Evaluate(a *icloud.Asset) FilterResult {
	if f.SkipPhotos && a.ItemType == icloud.ItemTypeImage {
		return FilterResult{Reason: "photos skipped"}
	}

	if f.SkipVideos && a.ItemType == icloud.ItemTypeMovie {
		return FilterResult{Reason: "videos skipped"}
	}

	if !f.CreatedBefore.IsZero() && a.AssetDate.Before(f.CreatedBefore) {
		return FilterResult{Reason: "captured before cutoff"}
	}

	if !f.CreatedAfter.IsZero() && a.AssetDate.After(f.CreatedAfter) {
		return FilterResult{Reason: "captured after cutoff"}
	}

	return FilterResult{Included: true}
}
