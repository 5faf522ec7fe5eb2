package naming

import (
	"path/filepath"
	"strings"

	"github.com/tonimelisma/icloud-go/internal/icloud"
)

// LiveVideoName returns the filename of a Live Photo's motion
// companion, derived from the still's base name. Under the suffix
// policy only HEIC stills get a video name; ok=false means the policy
// refused and no video path exists for this asset.
func (p Policy) LiveVideoName(a *icloud.Asset, liveSize icloud.LiveVersionSize) (string, bool) {
	base := p.BaseName(a)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]

	var name string

	switch p.LiveVideo {
	case LiveVideoOriginal:
		name = stem + ".MOV"
	default:
		if !strings.EqualFold(ext, ".heic") {
			return "", false
		}

		name = stem + "_HEVC.MOV"
	}

	if liveSize != icloud.LiveOriginal {
		name = addSuffix(name, "-"+string(liveSize))
	}

	return name, true
}
