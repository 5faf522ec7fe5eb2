package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/tonimelisma/icloud-go/internal/icloud"
	"github.com/tonimelisma/icloud-go/internal/naming"
)

// Validation bounds.
const (
	// watchIntervalFloor keeps watch mode from hammering the service.
	watchIntervalFloor = 30 * time.Second

	minSMTPPort = 1
	maxSMTPPort = 65535

	minRequestTimeout = 1 // seconds
)

// dateOnly accepts the short form of skip-created-before/after.
const dateOnly = "2006-01-02"

var validSizes = map[string]icloud.VersionSize{
	"original":    icloud.SizeOriginal,
	"medium":      icloud.SizeMedium,
	"thumb":       icloud.SizeThumb,
	"adjusted":    icloud.SizeAdjusted,
	"alternative": icloud.SizeAlternative,
}

var validLiveSizes = map[string]icloud.LiveVersionSize{
	"original": icloud.LiveOriginal,
	"medium":   icloud.LiveMedium,
	"thumb":    icloud.LiveThumb,
}

var validRawPolicies = map[string]icloud.RawPolicy{
	"original":    icloud.RawOriginal,
	"alternative": icloud.RawAlternative,
	"as-is":       icloud.RawAsIs,
}

var validFileMatch = map[string]naming.DuplicatePolicy{
	"name-size-dedup-with-suffix": naming.DuplicateNameSizeSuffix,
	"name-id7":                    naming.DuplicateNameID7,
}

var validLiveVideoPolicies = map[string]naming.LiveVideoPolicy{
	"suffix":   naming.LiveVideoSuffix,
	"original": naming.LiveVideoOriginal,
}

var validPasswordProviders = map[string]bool{
	"parameter": true, "keyring": true, "console": true, "webui": true,
}

var validMFAProviders = map[string]bool{"console": true, "webui": true}

var validDomains = map[string]bool{"com": true, "cn": true}

// buildAccount parses one raw option set into a typed Account,
// accumulating every error so the user can fix the whole configuration
// in one pass. Directory presence is checked separately by ValidateRun
// because listing commands do not need one.
func buildAccount(o *Options) (*Account, []error) {
	var errs []error

	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	a := &Account{
		Username:              o.Username,
		Password:              o.Password,
		CookieDirectory:       expandTilde(o.CookieDirectory),
		AuthOnly:              o.AuthOnly,
		Library:               o.Library,
		Albums:                slices.Clone(o.Albums),
		Recent:                o.Recent,
		UntilFound:            o.UntilFound,
		SkipVideos:            o.SkipVideos,
		SkipPhotos:            o.SkipPhotos,
		SkipLivePhotos:        o.SkipLivePhotos,
		ForceSize:             o.ForceSize,
		KeepUnicode:           o.KeepUnicodeInFilenames,
		AutoDelete:            o.AutoDelete,
		DeleteAfterDownload:   o.DeleteAfterDownload,
		SetEXIFDateTime:       o.SetEXIFDateTime,
		XMPSidecar:            o.XMPSidecar,
		DryRun:                o.DryRun,
		OnlyPrintFilenames:    o.OnlyPrintFilenames,
		NotificationEmail:     o.NotificationEmail,
		NotificationEmailFrom: o.NotificationEmailFrom,
		SMTPHost:              o.SMTPHost,
		SMTPPort:              o.SMTPPort,
		SMTPUsername:          o.SMTPUsername,
		SMTPPassword:          o.SMTPPassword,
		SMTPNoTLS:             o.SMTPNoTLS,
		NotificationScript:    o.NotificationScript,
		NtfyTopic:             o.NtfyTopic,
		NtfyServer:            o.NtfyServer,
		Paused:                o.Paused,
	}

	if o.Username == "" {
		fail("username: required (flag, [[account]] block, or %s)", EnvUsername)
	}

	if o.Directory != "" {
		dir, err := filepath.Abs(expandTilde(o.Directory))
		if err != nil {
			fail("directory: %v", err)
		} else {
			a.Directory = dir
		}
	}

	if o.FolderStructure != naming.FolderNone {
		if err := naming.ValidateTemplate(o.FolderStructure); err != nil {
			fail("folder_structure: %v", err)
		}
	}

	a.FolderStructure = o.FolderStructure

	if o.UseOSLocale {
		a.Locale = os.Getenv("LC_ALL")
		if a.Locale == "" {
			a.Locale = os.Getenv("LANG")
		}
	}

	a.Sizes = parseSizes(o.Sizes, fail)

	a.LivePhotoSize = parseEnum(o.LivePhotoSize, validLiveSizes, "live_photo_size", fail)
	a.LiveVideo = parseEnum(o.LivePhotoMovFilenamePolicy, validLiveVideoPolicies, "live_photo_mov_filename_policy", fail)
	a.AlignRaw = parseEnum(o.AlignRaw, validRawPolicies, "align_raw", fail)
	a.FileMatchPolicy = parseEnum(o.FileMatchPolicy, validFileMatch, "file_match_policy", fail)

	a.SkipCreatedBefore = parseDate(o.SkipCreatedBefore, "skip_created_before", fail)
	a.SkipCreatedAfter = parseDate(o.SkipCreatedAfter, "skip_created_after", fail)

	a.PasswordProviders = validateProviders(o.PasswordProviders, fail)

	if !validMFAProviders[o.MFAProvider] {
		fail("mfa_provider: must be console or webui, got %q", o.MFAProvider)
	}

	a.MFAProvider = o.MFAProvider

	if !validDomains[o.Domain] {
		fail("domain: must be com or cn, got %q", o.Domain)
	}

	a.Domain = o.Domain

	validateCounts(o, fail)
	validateModes(o, fail)

	a.KeepRecentDays = o.KeepICloudRecentDays
	a.WatchInterval = time.Duration(o.WatchWithInterval) * time.Second

	if o.SMTPPort < minSMTPPort || o.SMTPPort > maxSMTPPort {
		fail("smtp_port: must be between %d and %d, got %d", minSMTPPort, maxSMTPPort, o.SMTPPort)
	}

	if o.RequestTimeoutSeconds < minRequestTimeout {
		fail("request_timeout_seconds: must be at least %d, got %d", minRequestTimeout, o.RequestTimeoutSeconds)
	}

	a.RequestTimeout = time.Duration(o.RequestTimeoutSeconds) * time.Second

	stride, err := parseSize(o.FlushStride)
	if err != nil {
		fail("flush_stride: %v", err)
	}

	a.FlushStride = stride

	if o.Library == "" {
		fail("library: must not be empty")
	}

	if len(errs) > 0 {
		return nil, prefixAccountErrors(o.Username, errs)
	}

	return a, nil
}

// ValidateRun checks the constraints that depend on which command is
// running. Listing commands (albums, libraries, status) never touch the
// output directory and cannot watch.
func ValidateRun(a *Account, listing bool) error {
	switch {
	case listing && a.WatchInterval > 0:
		return fmt.Errorf("%w: watch_with_interval: not valid for listing commands", ErrInvalid)
	case !listing && !a.AuthOnly && a.Directory == "":
		return fmt.Errorf("%w: directory: required unless auth_only is set", ErrInvalid)
	}

	return nil
}

// parseSizes maps size names onto their typed values, dropping repeats
// while keeping the user's order.
func parseSizes(raw []string, fail func(string, ...any)) []icloud.VersionSize {
	if len(raw) == 0 {
		raw = []string{defaultSize}
	}

	out := make([]icloud.VersionSize, 0, len(raw))
	seen := make(map[icloud.VersionSize]bool, len(raw))

	for _, s := range raw {
		size, ok := validSizes[s]
		if !ok {
			fail("size: unknown rendition %q", s)
			continue
		}

		if seen[size] {
			continue
		}

		seen[size] = true

		out = append(out, size)
	}

	return out
}

// parseEnum resolves one enum-valued option, reporting the valid set on
// failure.
func parseEnum[T ~string](raw string, valid map[string]T, key string, fail func(string, ...any)) T {
	v, ok := valid[raw]
	if !ok {
		fail("%s: invalid value %q", key, raw)
	}

	return v
}

// parseDate accepts 2006-01-02 or full RFC 3339. Empty means unset.
func parseDate(raw, key string, fail func(string, ...any)) time.Time {
	if raw == "" {
		return time.Time{}
	}

	if t, err := time.Parse(dateOnly, raw); err == nil {
		return t
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		fail("%s: %q is not a date (2006-01-02) or RFC 3339 timestamp", key, raw)
		return time.Time{}
	}

	return t
}

// validateProviders checks the password provider chain: known names, no
// repeats, and the interactive providers (console, webui) must come
// last because nothing after them would ever be consulted. They are
// also mutually exclusive for the same reason.
func validateProviders(raw []string, fail func(string, ...any)) []string {
	if len(raw) == 0 {
		raw = defaultPasswordProviders()
	}

	seen := make(map[string]bool, len(raw))

	for i, p := range raw {
		if !validPasswordProviders[p] {
			fail("password_providers: unknown provider %q", p)
			continue
		}

		if seen[p] {
			fail("password_providers: %q appears twice", p)
		}

		seen[p] = true

		if (p == "console" || p == "webui") && i != len(raw)-1 {
			fail("password_providers: %q must be last in the chain", p)
		}
	}

	if seen["console"] && seen["webui"] {
		fail("password_providers: console and webui are mutually exclusive")
	}

	return slices.Clone(raw)
}

// validateCounts rejects negative limits.
func validateCounts(o *Options, fail func(string, ...any)) {
	if o.Recent < 0 {
		fail("recent: must not be negative, got %d", o.Recent)
	}

	if o.UntilFound < 0 {
		fail("until_found: must not be negative, got %d", o.UntilFound)
	}

	if o.KeepICloudRecentDays != nil && *o.KeepICloudRecentDays < 0 {
		fail("keep_icloud_recent_days: must not be negative, got %d", *o.KeepICloudRecentDays)
	}
}

// validateModes rejects contradictory option combinations.
func validateModes(o *Options, fail func(string, ...any)) {
	if o.SkipVideos && o.SkipPhotos {
		fail("skip_videos with skip_photos: nothing left to download")
	}

	if o.AutoDelete && o.DeleteAfterDownload {
		fail("auto_delete and delete_after_download are mutually exclusive")
	}

	if o.KeepICloudRecentDays != nil && o.DeleteAfterDownload {
		fail("keep_icloud_recent_days and delete_after_download are mutually exclusive")
	}

	if o.WatchWithInterval > 0 {
		interval := time.Duration(o.WatchWithInterval) * time.Second

		if interval < watchIntervalFloor {
			fail("watch_with_interval: below the %s floor", watchIntervalFloor)
		}

		if o.AuthOnly {
			fail("watch_with_interval: meaningless with auth_only")
		}

		if o.OnlyPrintFilenames {
			fail("watch_with_interval: meaningless with only_print_filenames")
		}
	}
}

// prefixAccountErrors labels each error with the account it belongs to,
// which matters once several [[account]] blocks fail at once.
func prefixAccountErrors(username string, errs []error) []error {
	if username == "" {
		return errs
	}

	out := make([]error, 0, len(errs))
	for _, e := range errs {
		out = append(out, fmt.Errorf("account %s: %w", username, e))
	}

	return out
}
