package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you
// mean?" suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownOptionKeys are the valid keys inside [defaults] and [[account]]
// tables, derived from the Options struct so the two cannot drift.
var knownOptionKeys = func() map[string]bool {
	keys := make(map[string]bool)

	t := reflect.TypeOf(Options{})
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("toml")
		if tag != "" && tag != "-" {
			keys[tag] = true
		}
	}

	return keys
}()

// knownTopLevelKeys are the valid keys outside any table.
var knownTopLevelKeys = map[string]bool{
	"log_level": true, "log_format": true, "log_file": true,
	"webui": true, "webui_listen": true,
	"defaults": true, "account": true,
}

// knownKeysList is the sorted union for Levenshtein matching. Sorted so
// suggestions are deterministic when two candidates tie.
var knownKeysList = func() []string {
	keys := make([]string, 0, len(knownOptionKeys)+len(knownTopLevelKeys))
	for k := range knownOptionKeys {
		keys = append(keys, k)
	}

	for k := range knownTopLevelKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for keys that survived every
// decode pass and reports them as errors with suggestions. Silently
// ignoring a typo in a config file leads to hard-to-debug behavior, so
// unknown keys are fatal.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		leaf := keyLeaf(key.String())

		if knownOptionKeys[leaf] || knownTopLevelKeys[leaf] {
			continue
		}

		if suggestion := closestMatch(leaf, knownKeysList); suggestion != "" {
			errs = append(errs, fmt.Errorf("unknown config key %q — did you mean %q?", key.String(), suggestion))
		} else {
			errs = append(errs, fmt.Errorf("unknown config key %q", key.String()))
		}
	}

	return errors.Join(errs...)
}

// keyLeaf strips the table path ("defaults.", "account.1.") from a
// dotted TOML key, leaving the option name.
func keyLeaf(key string) string {
	parts := strings.Split(key, ".")
	return parts[len(parts)-1]
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization avoids allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
