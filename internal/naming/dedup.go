package naming

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"strconv"

	"github.com/tonimelisma/icloud-go/internal/icloud"
)

// id7TokenLen is the length of the per-asset disambiguation token used
// by the name-id7 policy and the fingerprint fallback.
const id7TokenLen = 7

// id7Token derives the name-id7 disambiguation token: the head of the
// base64 form of the asset ID, made filename-safe.
func id7Token(id string) string {
	tok := base64.StdEncoding.EncodeToString([]byte(id))
	if len(tok) > id7TokenLen {
		tok = tok[:id7TokenLen]
	}

	return CleanFilename(tok)
}

// fallbackName names an asset the service reported no filename for:
// a fingerprint of the asset ID plus the content-type extension.
// Stable across runs and independent of the duplicate policy.
func fallbackName(a *icloud.Asset) string {
	return fingerprint(a.ID) + "." + a.ItemTypeExtension()
}

// fingerprint is the first 7 base32 characters of the SHA-256 of the
// asset ID. Base32 keeps it filename-safe on every filesystem.
func fingerprint(id string) string {
	sum := sha256.Sum256([]byte(id))

	return base32.StdEncoding.EncodeToString(sum[:])[:id7TokenLen]
}

// SizeDisambiguated returns the collision path used by the
// name-size-dedup-with-suffix policy: the rendition byte length
// inserted before the extension.
func SizeDisambiguated(path string, byteLength int64) string {
	return addSuffix(path, "-"+strconv.FormatInt(byteLength, 10))
}
