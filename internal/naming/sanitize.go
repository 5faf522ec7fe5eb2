package naming

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// invalidFilenameChars are characters some supported filesystem refuses
// in file names. Each occurrence is replaced with an underscore.
const invalidFilenameChars = "<>:\"/\\|?*\x00"

var invalidReplacer = func() *strings.Replacer {
	pairs := make([]string, 0, 2*len(invalidFilenameChars))
	for _, c := range invalidFilenameChars {
		pairs = append(pairs, string(c), "_")
	}

	return strings.NewReplacer(pairs...)
}()

// CleanFilename replaces characters forbidden on any supported
// filesystem with underscores.
func CleanFilename(name string) string {
	return invalidReplacer.Replace(name)
}

var nonASCII = runes.Remove(runes.Predicate(func(r rune) bool {
	return r > unicode.MaxASCII
}))

// stripNonASCII drops every rune outside the ASCII range.
func stripNonASCII(name string) string {
	out, _, err := transform.String(nonASCII, name)
	if err != nil {
		return name
	}

	return out
}

// sanitize applies the unicode policy and the forbidden-character
// replacement, in that order.
func sanitize(name string, keepUnicode bool) string {
	if !keepUnicode {
		name = stripNonASCII(name)
	}

	return CleanFilename(name)
}
