package icloud

import "strings"

// RawPolicy controls which representation of a RAW+JPEG asset is treated
// as the original rendition and which as the alternative.
type RawPolicy string

const (
	// RawAsIs keeps the service's own labeling.
	RawAsIs RawPolicy = "as-is"

	// RawOriginal relabels so the RAW representation is the original.
	RawOriginal RawPolicy = "original"

	// RawAlternative relabels so the RAW representation is the
	// alternative and the JPEG is the original.
	RawAlternative RawPolicy = "alternative"
)

// IsRawType reports whether a rendition content type names a camera RAW
// format. The service uses per-vendor UTIs ("com.canon.cr2-raw-image",
// "com.adobe.raw-image"), all of which carry the "raw" token.
func IsRawType(uti string) bool {
	return strings.Contains(strings.ToLower(uti), "raw")
}

// AlignedVersions returns the asset's original and alternative renditions
// with the policy applied: when the asset has both representations and
// the RAW one is not where the policy wants it, the two are swapped.
// hasAlt reports whether an alternative representation exists at all.
func (a *Asset) AlignedVersions(policy RawPolicy) (orig, alt Version, hasAlt bool) {
	orig = a.Versions[SizeOriginal]

	alt, hasAlt = a.Versions[SizeAlternative]
	if !hasAlt {
		return orig, alt, false
	}

	swap := (policy == RawOriginal && IsRawType(alt.Type)) ||
		(policy == RawAlternative && IsRawType(orig.Type))
	if swap {
		orig, alt = alt, orig
	}

	return orig, alt, true
}
