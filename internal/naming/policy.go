// Package naming computes on-disk names and paths for asset
// renditions. Every function is pure: paths depend only on the asset,
// the rendition, and the policy, never on the wall clock or the
// filesystem.
package naming

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/tonimelisma/icloud-go/internal/icloud"
)

// DuplicatePolicy controls how two distinct assets that would produce
// the same path are kept apart.
type DuplicatePolicy string

const (
	// DuplicateNameSizeSuffix keeps service filenames unchanged and
	// resolves collisions by inserting the rendition byte length
	// before the extension.
	DuplicateNameSizeSuffix DuplicatePolicy = "name-size-dedup-with-suffix"

	// DuplicateNameID7 stamps every filename with a 7-character token
	// derived from the asset ID, so names are unique regardless of
	// discovery order.
	DuplicateNameID7 DuplicatePolicy = "name-id7"
)

// LiveVideoPolicy controls how the motion companion of a Live Photo is
// named relative to its still.
type LiveVideoPolicy string

const (
	// LiveVideoSuffix appends _HEVC.MOV to the still's base name. It
	// only applies to HEIC stills; other extensions get no video path.
	LiveVideoSuffix LiveVideoPolicy = "suffix"

	// LiveVideoOriginal replaces the still's extension with .MOV.
	LiveVideoOriginal LiveVideoPolicy = "original"
)

// FolderNone is the folder template sentinel that collapses the date
// hierarchy entirely.
const FolderNone = "none"

// Policy bundles every configuration input that affects filenames and
// paths. The zero value keeps unicode off, writes into the current
// directory with no date folders, and uses the default policies.
type Policy struct {
	Directory      string
	FolderTemplate string         // "{:%Y/%m/%d}"-style template, or "none"/"" for flat
	Locale         string         // BCP 47 tag or POSIX locale for month/day names; "" is English
	DefaultZone    *time.Location // zone for assets without a capture offset; nil is UTC
	KeepUnicode    bool
	Duplicates     DuplicatePolicy
	LiveVideo      LiveVideoPolicy
}

// BaseName returns the asset's filename before any per-rendition
// transform: the sanitized service filename with the duplicate
// policy's token applied, or the fingerprint fallback when the service
// reported no filename.
func (p Policy) BaseName(a *icloud.Asset) string {
	if !a.HasFilename {
		return fallbackName(a)
	}

	name := sanitize(a.Filename, p.KeepUnicode)
	if p.Duplicates == DuplicateNameID7 {
		name = addSuffix(name, "_"+id7Token(a.ID))
	}

	return name
}

// StillName returns the filename for one still rendition. Adjusted
// renditions get a "-adjusted" suffix only when their extension
// collides with the original's name; alternatives never collide.
func (p Policy) StillName(a *icloud.Asset, size icloud.VersionSize, v icloud.Version) string {
	base := p.BaseName(a)

	switch size {
	case icloud.SizeMedium, icloud.SizeThumb:
		return addSuffix(base, "-"+string(size))

	case icloud.SizeAdjusted:
		name := swapExtensionForType(base, v.Type)
		if name == base {
			name = addSuffix(name, "-adjusted")
		}

		return name

	case icloud.SizeAlternative:
		// The two-representation form guarantees the extension
		// differs from the original's, so the name needs no marker.
		return swapExtensionForType(base, v.Type)

	default:
		return base
	}
}

// CreatedAt returns the capture instant in the zone the folder
// template and mtime should see: the asset's own capture offset when
// the service reported one, the policy default otherwise.
func (p Policy) CreatedAt(a *icloud.Asset) time.Time {
	if a.HasTimeZone {
		return a.AssetDate.In(time.FixedZone("", a.TimeZoneOffset))
	}

	zone := p.DefaultZone
	if zone == nil {
		zone = time.UTC
	}

	return a.AssetDate.In(zone)
}

// Folder renders the folder template against the asset's capture time.
// The "none" sentinel and the empty template both collapse to "".
func (p Policy) Folder(a *icloud.Asset) string {
	if p.FolderTemplate == "" || strings.EqualFold(p.FolderTemplate, FolderNone) {
		return ""
	}

	return renderTemplate(p.FolderTemplate, p.CreatedAt(a), namesForLocale(p.Locale))
}

// StillPath returns the canonical full path for one still rendition.
func (p Policy) StillPath(a *icloud.Asset, size icloud.VersionSize, v icloud.Version) string {
	return p.join(a, p.StillName(a, size, v))
}

// LiveVideoPath returns the canonical full path for the motion
// companion, or ok=false when the live-video policy refuses the
// still's extension.
func (p Policy) LiveVideoPath(a *icloud.Asset, liveSize icloud.LiveVersionSize) (string, bool) {
	name, ok := p.LiveVideoName(a, liveSize)
	if !ok {
		return "", false
	}

	return p.join(a, name), true
}

// AdmissiblePaths returns every path at which this rendition may
// already exist, canonical path first, then names older releases and
// the opposite duplicate policy wrote for the same rendition. A file
// found at any of them counts as present; new files are always written
// at the first.
func (p Policy) AdmissiblePaths(a *icloud.Asset, size icloud.VersionSize, v icloud.Version) []string {
	canonical := p.StillPath(a, size, v)
	paths := []string{canonical}

	// Originals used to be written as IMG_1234-original.JPG.
	if size == icloud.SizeOriginal {
		paths = append(paths, addSuffix(canonical, "-original"))
	}

	// Adjusted renditions used to be written without the suffix.
	if size == icloud.SizeAdjusted {
		if plain := swapExtensionForType(p.BaseName(a), v.Type); p.join(a, plain) != canonical {
			paths = append(paths, p.join(a, plain))
		}
	}

	if alt := p.flipDuplicates().StillPath(a, size, v); alt != canonical {
		paths = append(paths, alt)
	}

	return paths
}

// LiveVideoAdmissiblePaths is AdmissiblePaths for the motion
// companion. ok=false when the policy refuses the still's extension.
func (p Policy) LiveVideoAdmissiblePaths(a *icloud.Asset, liveSize icloud.LiveVersionSize) ([]string, bool) {
	canonical, ok := p.LiveVideoPath(a, liveSize)
	if !ok {
		return nil, false
	}

	paths := []string{canonical}

	if alt, ok := p.flipDuplicates().LiveVideoPath(a, liveSize); ok && alt != canonical {
		paths = append(paths, alt)
	}

	return paths, true
}

func (p Policy) flipDuplicates() Policy {
	flipped := p
	if p.Duplicates == DuplicateNameID7 {
		flipped.Duplicates = DuplicateNameSizeSuffix
	} else {
		flipped.Duplicates = DuplicateNameID7
	}

	return flipped
}

func (p Policy) join(a *icloud.Asset, name string) string {
	return filepath.Join(p.Directory, p.Folder(a), name)
}

// addSuffix inserts a suffix between a name's stem and its extension.
// Names without an extension get the suffix appended.
func addSuffix(name, suffix string) string {
	ext := filepath.Ext(name)

	return name[:len(name)-len(ext)] + suffix + ext
}

// swapExtensionForType replaces a name's extension with the one
// implied by a rendition's content type. Unknown types and names
// without an extension are left unchanged.
func swapExtensionForType(name, uti string) string {
	ext, ok := icloud.ExtensionForUTI(uti)
	if !ok {
		return name
	}

	current := filepath.Ext(name)
	if current == "" {
		return name
	}

	return name[:len(name)-len(current)] + "." + ext
}
