package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKnownOptionKeys_DerivedFromStruct(t *testing.T) {
	assert.True(t, knownOptionKeys["username"])
	assert.True(t, knownOptionKeys["keep_icloud_recent_days"])
	assert.True(t, knownOptionKeys["watch_with_interval"])
	assert.False(t, knownOptionKeys["no_such_option"])
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "skip_videos", closestMatch("skip_video", knownKeysList))
	assert.Equal(t, "auto_delete", closestMatch("autodelete", knownKeysList))
	assert.Equal(t, "", closestMatch("zzzzzzzzzzzzzzzz", knownKeysList))
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"kitten", "sitting", 3},
		{"skip_video", "skip_videos", 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, levenshtein(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}
