package sync

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/tonimelisma/icloud-go/internal/icloud"
)

// Selection pairs a requested rendition label with the version record
// that will satisfy it.
type Selection struct {
	Size    icloud.VersionSize
	Version icloud.Version
}

// LiveSelection is the Live Photo motion companion pick.
type LiveSelection struct {
	Size    icloud.LiveVersionSize
	Version icloud.Version
}

// Plan lists everything one asset should have on disk.
type Plan struct {
	Stills []Selection
	Live   *LiveSelection // nil when no companion applies
}

// Selector turns an account's size configuration into per-asset
// download plans. The zero value requests the original rendition and
// the original motion companion.
type Selector struct {
	// Sizes is the requested rendition list in configured order.
	// Empty means original only.
	Sizes []icloud.VersionSize

	// ForceSize drops a rendition the asset lacks instead of falling
	// back to the original.
	ForceSize bool

	RawPolicy icloud.RawPolicy

	SkipLivePhotos bool

	// LiveSize is the motion companion rendition. Empty means
	// original.
	LiveSize icloud.LiveVersionSize

	// Logger may be nil to disable selection logging.
	Logger *slog.Logger
}

// Select builds the asset's plan. A missing rendition either drops out
// (force mode, or the original is requested anyway) or falls back to
// the original — at most once per asset, so a plan never lists the
// same rendition twice.
func (s *Selector) Select(a *icloud.Asset) Plan {
	sizes := s.Sizes
	if len(sizes) == 0 {
		sizes = []icloud.VersionSize{icloud.SizeOriginal}
	}

	versions := s.alignedVersions(a)
	originalRequested := slices.Contains(sizes, icloud.SizeOriginal)

	var plan Plan

	fellBack := false
	for _, size := range sizes {
		if v, ok := versions[size]; ok {
			plan.Stills = append(plan.Stills, Selection{Size: size, Version: v})

			continue
		}

		if s.ForceSize {
			s.debug(a, "rendition missing, dropped by force_size", size)

			continue
		}

		if originalRequested || fellBack {
			s.debug(a, "rendition missing, original already planned", size)

			continue
		}

		orig, ok := versions[icloud.SizeOriginal]
		if !ok {
			s.debug(a, "rendition missing and no original to fall back to", size)

			continue
		}

		fellBack = true

		plan.Stills = append(plan.Stills, Selection{Size: icloud.SizeOriginal, Version: orig})
	}

	plan.Live = s.selectLive(a)

	return plan
}

// alignedVersions applies the RAW placement policy as a view over the
// asset's rendition map without mutating the asset.
func (s *Selector) alignedVersions(a *icloud.Asset) map[icloud.VersionSize]icloud.Version {
	orig, alt, hasAlt := a.AlignedVersions(s.RawPolicy)
	if !hasAlt {
		return a.Versions
	}

	versions := maps.Clone(a.Versions)
	versions[icloud.SizeOriginal] = orig
	versions[icloud.SizeAlternative] = alt

	return versions
}

// selectLive picks the motion companion. Only still images carry one,
// and a missing companion rendition means no companion rather than a
// fallback: a thumbnail-sized video next to an original still helps
// nobody.
func (s *Selector) selectLive(a *icloud.Asset) *LiveSelection {
	if s.SkipLivePhotos || a.ItemType != icloud.ItemTypeImage || len(a.LiveVersions) == 0 {
		return nil
	}

	size := s.LiveSize
	if size == "" {
		size = icloud.LiveOriginal
	}

	v, ok := a.LiveVersions[size]
	if !ok {
		s.debug(a, "live companion rendition missing", icloud.VersionSize(size))

		return nil
	}

	return &LiveSelection{Size: size, Version: v}
}

func (s *Selector) debug(a *icloud.Asset, msg string, size icloud.VersionSize) {
	if s.Logger == nil {
		return
	}

	s.Logger.Debug(msg,
		slog.String("asset_id", a.ID),
		slog.String("size", string(size)),
	)
}
