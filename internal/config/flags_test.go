package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitAccountArgs_NoUsername(t *testing.T) {
	defaults, accounts := SplitAccountArgs([]string{"--recent", "10", "--skip-videos"})

	assert.Equal(t, []string{"--recent", "10", "--skip-videos"}, defaults)
	assert.Empty(t, accounts)
}

func TestSplitAccountArgs_TwoAccounts(t *testing.T) {
	args := []string{
		"--directory", "/photos",
		"--username", "a@example.com", "--recent", "5",
		"--username", "b@example.com", "--skip-videos",
	}

	defaults, accounts := SplitAccountArgs(args)

	assert.Equal(t, []string{"--directory", "/photos"}, defaults)
	require.Len(t, accounts, 2)
	assert.Equal(t, []string{"--username", "a@example.com", "--recent", "5"}, accounts[0])
	assert.Equal(t, []string{"--username", "b@example.com", "--skip-videos"}, accounts[1])
}

func TestSplitAccountArgs_EqualsAndShortForms(t *testing.T) {
	args := []string{"--username=a@example.com", "-u", "b@example.com", "-u=c@example.com"}

	defaults, accounts := SplitAccountArgs(args)

	assert.Empty(t, defaults)
	require.Len(t, accounts, 3)
	assert.Equal(t, []string{"--username=a@example.com"}, accounts[0])
	assert.Equal(t, []string{"-u", "b@example.com"}, accounts[1])
	assert.Equal(t, []string{"-u=c@example.com"}, accounts[2])
}

func TestSplitAccountArgs_SameUserTwice(t *testing.T) {
	// The same username may open two blocks with different options,
	// e.g. photos and videos into separate directories.
	args := []string{
		"--username", "a@example.com", "--skip-videos",
		"--username", "a@example.com", "--skip-photos",
	}

	_, accounts := SplitAccountArgs(args)

	require.Len(t, accounts, 2)
	assert.Equal(t, "a@example.com", segmentUsername(accounts[0]))
	assert.Equal(t, "a@example.com", segmentUsername(accounts[1]))
}

func TestSegmentUsername_Forms(t *testing.T) {
	tests := []struct {
		name string
		seg  []string
		want string
	}{
		{"long separate", []string{"--username", "a@example.com"}, "a@example.com"},
		{"long equals", []string{"--username=a@example.com"}, "a@example.com"},
		{"short separate", []string{"-u", "a@example.com"}, "a@example.com"},
		{"short equals", []string{"-u=a@example.com"}, "a@example.com"},
		{"missing value", []string{"--username"}, ""},
		{"no username", []string{"--recent", "3"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, segmentUsername(tt.seg))
		})
	}
}

func TestSegmentParser_KeepDaysUnsetStaysNil(t *testing.T) {
	opts := DefaultOptions()
	g := DefaultGlobals()

	err := newSegmentParser(&opts, &g).parse([]string{"--recent", "3"})
	require.NoError(t, err)

	assert.Nil(t, opts.KeepICloudRecentDays)
	assert.Equal(t, 3, opts.Recent)
}

func TestSegmentParser_KeepDaysZeroIsSet(t *testing.T) {
	opts := DefaultOptions()
	g := DefaultGlobals()

	err := newSegmentParser(&opts, &g).parse([]string{"--keep-icloud-recent-days", "0"})
	require.NoError(t, err)

	require.NotNil(t, opts.KeepICloudRecentDays)
	assert.Equal(t, 0, *opts.KeepICloudRecentDays)
}

func TestSegmentParser_UnknownFlag(t *testing.T) {
	opts := DefaultOptions()
	g := DefaultGlobals()

	err := newSegmentParser(&opts, &g).parse([]string{"--no-such-flag"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSegmentParser_RejectsPositionalArgs(t *testing.T) {
	opts := DefaultOptions()
	g := DefaultGlobals()

	err := newSegmentParser(&opts, &g).parse([]string{"stray"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "stray")
}

func TestSegmentParser_SizeRepeatsWithinSegment(t *testing.T) {
	opts := DefaultOptions()
	g := DefaultGlobals()

	err := newSegmentParser(&opts, &g).parse([]string{"--size", "medium", "--size", "thumb"})
	require.NoError(t, err)

	assert.Equal(t, []string{"medium", "thumb"}, opts.Sizes)
}

func TestSegmentParser_LaterSegmentReplacesSize(t *testing.T) {
	// Each segment gets a fresh parser, so the first --size of a later
	// segment replaces the earlier value instead of appending to it.
	opts := DefaultOptions()

	g1 := DefaultGlobals()
	require.NoError(t, newSegmentParser(&opts, &g1).parse([]string{"--size", "medium"}))

	g2 := DefaultGlobals()
	require.NoError(t, newSegmentParser(&opts, &g2).parse([]string{"--size", "thumb"}))

	assert.Equal(t, []string{"thumb"}, opts.Sizes)
}

func TestSegmentParser_UntouchedFlagsKeepValues(t *testing.T) {
	opts := DefaultOptions()
	opts.Directory = "/photos"
	opts.Recent = 9

	g := DefaultGlobals()
	require.NoError(t, newSegmentParser(&opts, &g).parse([]string{"--skip-videos"}))

	assert.Equal(t, "/photos", opts.Directory)
	assert.Equal(t, 9, opts.Recent)
	assert.True(t, opts.SkipVideos)
}

func TestSegmentParser_GlobalFlags(t *testing.T) {
	opts := DefaultOptions()
	g := DefaultGlobals()

	err := newSegmentParser(&opts, &g).parse([]string{"--log-level", "debug", "--webui"})
	require.NoError(t, err)

	assert.Equal(t, "debug", g.LogLevel)
	assert.True(t, g.WebUI)
}
