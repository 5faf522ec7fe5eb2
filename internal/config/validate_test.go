package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/icloud-go/internal/icloud"
	"github.com/tonimelisma/icloud-go/internal/naming"
)

// validOptions returns a minimal option set that passes buildAccount.
func validOptions() Options {
	o := DefaultOptions()
	o.Username = "user@example.com"
	o.Directory = "/photos"

	return o
}

// buildErr applies a mutation to valid options and returns the joined
// build errors, requiring that at least one occurred.
func buildErr(t *testing.T, mutate func(*Options)) error {
	t.Helper()

	o := validOptions()
	mutate(&o)

	_, errs := buildAccount(&o)
	require.NotEmpty(t, errs)

	return errors.Join(errs...)
}

func TestBuildAccount_Valid(t *testing.T) {
	o := validOptions()

	a, errs := buildAccount(&o)
	require.Empty(t, errs)

	assert.Equal(t, "user@example.com", a.Username)
	assert.Equal(t, "/photos", a.Directory)
	assert.Equal(t, []icloud.VersionSize{icloud.SizeOriginal}, a.Sizes)
	assert.Equal(t, icloud.LiveOriginal, a.LivePhotoSize)
	assert.Equal(t, naming.LiveVideoSuffix, a.LiveVideo)
	assert.Equal(t, icloud.RawAsIs, a.AlignRaw)
	assert.Equal(t, naming.DuplicateNameSizeSuffix, a.FileMatchPolicy)
	assert.Equal(t, 30*time.Second, a.RequestTimeout)
	assert.Equal(t, int64(8*1024*1024), a.FlushStride)
	assert.Nil(t, a.KeepRecentDays)
	assert.Zero(t, a.WatchInterval)
	assert.True(t, a.SkipCreatedBefore.IsZero())
	assert.True(t, a.SkipCreatedAfter.IsZero())
}

func TestBuildAccount_UsernameRequired(t *testing.T) {
	err := buildErr(t, func(o *Options) { o.Username = "" })
	assert.Contains(t, err.Error(), "username: required")
}

func TestBuildAccount_DirectoryTildeExpanded(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	o := validOptions()
	o.Directory = "~/Pictures"

	a, errs := buildAccount(&o)
	require.Empty(t, errs)
	assert.Equal(t, filepath.Join(home, "Pictures"), a.Directory)
}

func TestBuildAccount_ModeConflicts(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantMsg string
	}{
		{
			"videos and photos both skipped",
			func(o *Options) { o.SkipVideos = true; o.SkipPhotos = true },
			"nothing left to download",
		},
		{
			"auto delete with delete after download",
			func(o *Options) { o.AutoDelete = true; o.DeleteAfterDownload = true },
			"mutually exclusive",
		},
		{
			"keep days with delete after download",
			func(o *Options) {
				d := 30
				o.KeepICloudRecentDays = &d
				o.DeleteAfterDownload = true
			},
			"mutually exclusive",
		},
		{
			"watch below floor",
			func(o *Options) { o.WatchWithInterval = 5 },
			"below the 30s floor",
		},
		{
			"watch with auth only",
			func(o *Options) { o.WatchWithInterval = 600; o.AuthOnly = true },
			"auth_only",
		},
		{
			"watch with only print filenames",
			func(o *Options) { o.WatchWithInterval = 600; o.OnlyPrintFilenames = true },
			"only_print_filenames",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := buildErr(t, tt.mutate)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestBuildAccount_ProviderChain(t *testing.T) {
	tests := []struct {
		name      string
		providers []string
		wantMsg   string
	}{
		{"unknown provider", []string{"vault"}, `unknown provider "vault"`},
		{"duplicate provider", []string{"keyring", "keyring"}, "appears twice"},
		{"console not last", []string{"console", "keyring"}, `"console" must be last`},
		{"webui not last", []string{"webui", "parameter"}, `"webui" must be last`},
		{"console and webui", []string{"keyring", "console", "webui"}, "mutually exclusive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := buildErr(t, func(o *Options) { o.PasswordProviders = tt.providers })
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestBuildAccount_ProviderChainValid(t *testing.T) {
	o := validOptions()
	o.PasswordProviders = []string{"parameter", "keyring", "webui"}

	a, errs := buildAccount(&o)
	require.Empty(t, errs)
	assert.Equal(t, []string{"parameter", "keyring", "webui"}, a.PasswordProviders)
}

func TestBuildAccount_EnumValues(t *testing.T) {
	err := buildErr(t, func(o *Options) { o.Sizes = []string{"gigantic"} })
	assert.Contains(t, err.Error(), `unknown rendition "gigantic"`)

	err = buildErr(t, func(o *Options) { o.LivePhotoSize = "adjusted" })
	assert.Contains(t, err.Error(), "live_photo_size")

	err = buildErr(t, func(o *Options) { o.AlignRaw = "jpeg" })
	assert.Contains(t, err.Error(), "align_raw")

	err = buildErr(t, func(o *Options) { o.FileMatchPolicy = "clobber" })
	assert.Contains(t, err.Error(), "file_match_policy")

	err = buildErr(t, func(o *Options) { o.MFAProvider = "sms" })
	assert.Contains(t, err.Error(), "mfa_provider")

	err = buildErr(t, func(o *Options) { o.Domain = "org" })
	assert.Contains(t, err.Error(), "domain")
}

func TestBuildAccount_SizesDeduplicated(t *testing.T) {
	o := validOptions()
	o.Sizes = []string{"medium", "original", "medium"}

	a, errs := buildAccount(&o)
	require.Empty(t, errs)
	assert.Equal(t, []icloud.VersionSize{icloud.SizeMedium, icloud.SizeOriginal}, a.Sizes)
}

func TestBuildAccount_Dates(t *testing.T) {
	o := validOptions()
	o.SkipCreatedBefore = "2020-06-01"
	o.SkipCreatedAfter = "2024-01-02T15:04:05Z"

	a, errs := buildAccount(&o)
	require.Empty(t, errs)
	assert.Equal(t, time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC), a.SkipCreatedBefore)
	assert.Equal(t, time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC), a.SkipCreatedAfter)
}

func TestBuildAccount_BadDate(t *testing.T) {
	err := buildErr(t, func(o *Options) { o.SkipCreatedBefore = "June 2020" })
	assert.Contains(t, err.Error(), "skip_created_before")
}

func TestBuildAccount_NegativeCounts(t *testing.T) {
	err := buildErr(t, func(o *Options) { o.Recent = -1 })
	assert.Contains(t, err.Error(), "recent")

	err = buildErr(t, func(o *Options) { o.UntilFound = -5 })
	assert.Contains(t, err.Error(), "until_found")

	err = buildErr(t, func(o *Options) {
		d := -2
		o.KeepICloudRecentDays = &d
	})
	assert.Contains(t, err.Error(), "keep_icloud_recent_days")
}

func TestBuildAccount_Bounds(t *testing.T) {
	err := buildErr(t, func(o *Options) { o.SMTPPort = 0 })
	assert.Contains(t, err.Error(), "smtp_port")

	err = buildErr(t, func(o *Options) { o.SMTPPort = 70000 })
	assert.Contains(t, err.Error(), "smtp_port")

	err = buildErr(t, func(o *Options) { o.RequestTimeoutSeconds = 0 })
	assert.Contains(t, err.Error(), "request_timeout_seconds")

	err = buildErr(t, func(o *Options) { o.FlushStride = "lots" })
	assert.Contains(t, err.Error(), "flush_stride")

	err = buildErr(t, func(o *Options) { o.Library = "" })
	assert.Contains(t, err.Error(), "library")
}

func TestBuildAccount_FolderStructure(t *testing.T) {
	o := validOptions()
	o.FolderStructure = "none"

	a, errs := buildAccount(&o)
	require.Empty(t, errs)
	assert.Equal(t, "none", a.FolderStructure)

	err := buildErr(t, func(o *Options) { o.FolderStructure = "{:%Y" })
	assert.Contains(t, err.Error(), "folder_structure")
}

func TestBuildAccount_WatchInterval(t *testing.T) {
	o := validOptions()
	o.WatchWithInterval = 3600

	a, errs := buildAccount(&o)
	require.Empty(t, errs)
	assert.Equal(t, time.Hour, a.WatchInterval)
}

func TestBuildAccount_OSLocale(t *testing.T) {
	t.Setenv("LC_ALL", "de_DE.UTF-8")

	o := validOptions()
	o.UseOSLocale = true

	a, errs := buildAccount(&o)
	require.Empty(t, errs)
	assert.Equal(t, "de_DE.UTF-8", a.Locale)
}

func TestBuildAccount_ErrorsCarryUsername(t *testing.T) {
	o := validOptions()
	o.Domain = "org"

	_, errs := buildAccount(&o)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Error(), "account user@example.com")
}

func TestValidateRun(t *testing.T) {
	require.NoError(t, ValidateRun(&Account{Directory: "/photos"}, false))

	// Listing commands reject watch mode.
	err := ValidateRun(&Account{Directory: "/photos", WatchInterval: time.Minute}, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)

	// Download runs need a directory unless only authenticating.
	err = ValidateRun(&Account{}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory: required")

	require.NoError(t, ValidateRun(&Account{AuthOnly: true}, false))
	require.NoError(t, ValidateRun(&Account{}, true))
}
