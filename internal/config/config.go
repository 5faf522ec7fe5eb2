// Package config implements layered configuration for icloud-go: built-in
// defaults, a TOML config file ([defaults] plus [[account]] blocks),
// ICLOUD_* environment variables, and CLI flags. The flag layer supports
// one account block per --username occurrence: options before the first
// --username contribute to the defaults of every account, options after
// it bind to that account only. The same username may appear twice with
// different options (e.g. photos and videos into separate directories).
package config

import (
	"time"

	"github.com/tonimelisma/icloud-go/internal/icloud"
	"github.com/tonimelisma/icloud-go/internal/naming"
)

// Options is one account's settings in raw, layerable form. Every field
// maps to a TOML key under [defaults] or [[account]] and to a CLI flag
// of the same name with dashes. Scalar fields hold strings exactly as
// the user wrote them; Resolve parses them into a typed Account.
type Options struct {
	Username          string   `toml:"username"`
	Password          string   `toml:"password"`
	PasswordProviders []string `toml:"password_providers"`
	MFAProvider       string   `toml:"mfa_provider"`
	CookieDirectory   string   `toml:"cookie_directory"`
	Domain            string   `toml:"domain"`
	AuthOnly          bool     `toml:"auth_only"`

	Directory       string   `toml:"directory"`
	FolderStructure string   `toml:"folder_structure"`
	UseOSLocale     bool     `toml:"use_os_locale"`
	Library         string   `toml:"library"`
	Albums          []string `toml:"albums"`

	Recent            int    `toml:"recent"`
	UntilFound        int    `toml:"until_found"`
	SkipVideos        bool   `toml:"skip_videos"`
	SkipPhotos        bool   `toml:"skip_photos"`
	SkipLivePhotos    bool   `toml:"skip_live_photos"`
	SkipCreatedBefore string `toml:"skip_created_before"`
	SkipCreatedAfter  string `toml:"skip_created_after"`

	Sizes                      []string `toml:"sizes"`
	ForceSize                  bool     `toml:"force_size"`
	LivePhotoSize              string   `toml:"live_photo_size"`
	LivePhotoMovFilenamePolicy string   `toml:"live_photo_mov_filename_policy"`
	AlignRaw                   string   `toml:"align_raw"`

	FileMatchPolicy        string `toml:"file_match_policy"`
	KeepUnicodeInFilenames bool   `toml:"keep_unicode_in_filenames"`

	AutoDelete           bool `toml:"auto_delete"`
	DeleteAfterDownload  bool `toml:"delete_after_download"`
	KeepICloudRecentDays *int `toml:"keep_icloud_recent_days"`

	SetEXIFDateTime    bool `toml:"set_exif_datetime"`
	XMPSidecar         bool `toml:"xmp_sidecar"`
	DryRun             bool `toml:"dry_run"`
	OnlyPrintFilenames bool `toml:"only_print_filenames"`

	WatchWithInterval int `toml:"watch_with_interval"`

	NotificationEmail     string `toml:"notification_email"`
	NotificationEmailFrom string `toml:"notification_email_from"`
	SMTPHost              string `toml:"smtp_host"`
	SMTPPort              int    `toml:"smtp_port"`
	SMTPUsername          string `toml:"smtp_username"`
	SMTPPassword          string `toml:"smtp_password"`
	SMTPNoTLS             bool   `toml:"smtp_no_tls"`
	NotificationScript    string `toml:"notification_script"`
	NtfyTopic             string `toml:"ntfy_topic"`
	NtfyServer            string `toml:"ntfy_server"`

	// Tuning knobs, config file only.
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	FlushStride           string `toml:"flush_stride"`
	Paused                bool   `toml:"paused"`
}

// Globals holds settings that apply to the whole process rather than to
// one account: logging and the web UI listener.
type Globals struct {
	ConfigPath  string `toml:"-"`
	LogLevel    string `toml:"log_level"`
	LogFormat   string `toml:"log_format"` // auto, text, json
	LogFile     string `toml:"log_file"`
	WebUI       bool   `toml:"webui"`
	WebUIListen string `toml:"webui_listen"`
}

// Account is one fully resolved and validated configuration: every enum
// parsed into its domain type, every path expanded, every duration
// concrete. The sync packages consume this form only.
type Account struct {
	Username          string
	Password          string
	PasswordProviders []string
	MFAProvider       string
	CookieDirectory   string
	Domain            string
	AuthOnly          bool

	Directory       string
	FolderStructure string
	Locale          string // from the OS environment when use_os_locale is set
	Library         string
	Albums          []string

	Recent            int
	UntilFound        int
	SkipVideos        bool
	SkipPhotos        bool
	SkipLivePhotos    bool
	SkipCreatedBefore time.Time // zero means no bound
	SkipCreatedAfter  time.Time // zero means no bound

	Sizes         []icloud.VersionSize
	ForceSize     bool
	LivePhotoSize icloud.LiveVersionSize
	LiveVideo     naming.LiveVideoPolicy
	AlignRaw      icloud.RawPolicy

	FileMatchPolicy naming.DuplicatePolicy
	KeepUnicode     bool

	AutoDelete          bool
	DeleteAfterDownload bool
	KeepRecentDays      *int // nil means Move mode is off; 0 deletes everything processed

	SetEXIFDateTime    bool
	XMPSidecar         bool
	DryRun             bool
	OnlyPrintFilenames bool

	WatchInterval time.Duration // 0 means a single pass

	NotificationEmail     string
	NotificationEmailFrom string
	SMTPHost              string
	SMTPPort              int
	SMTPUsername          string
	SMTPPassword          string
	SMTPNoTLS             bool
	NotificationScript    string
	NtfyTopic             string
	NtfyServer            string

	RequestTimeout time.Duration
	FlushStride    int64
	Paused         bool
}

// Resolved is the outcome of the full layering chain.
type Resolved struct {
	Globals  Globals
	Accounts []*Account
}

// NamingPolicy translates the account's naming options into the policy
// the naming package consumes.
func (a *Account) NamingPolicy() naming.Policy {
	return naming.Policy{
		Directory:      a.Directory,
		FolderTemplate: a.FolderStructure,
		Locale:         a.Locale,
		KeepUnicode:    a.KeepUnicode,
		Duplicates:     a.FileMatchPolicy,
		LiveVideo:      a.LiveVideo,
	}
}
