package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary. This powers the "config show" command, giving
// users visibility into the effective values after every override layer
// (defaults -> file -> environment -> CLI) has been applied. Secrets are
// masked.
func RenderEffective(res *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (%d account(s))\n\n", len(res.Accounts))

	renderGlobals(ew, &res.Globals)

	for _, a := range res.Accounts {
		renderAccount(ew, a)
	}

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderGlobals(ew *errWriter, g *Globals) {
	ew.printf("[globals]\n")
	ew.printf("  config        = %q\n", g.ConfigPath)
	ew.printf("  log_level     = %q\n", g.LogLevel)
	ew.printf("  log_format    = %q\n", g.LogFormat)

	if g.LogFile != "" {
		ew.printf("  log_file      = %q\n", g.LogFile)
	}

	ew.printf("  webui         = %t\n", g.WebUI)
	ew.printf("  webui_listen  = %q\n", g.WebUIListen)
	ew.printf("\n")
}

func renderAccount(ew *errWriter, a *Account) {
	ew.printf("[account %q]\n", a.Username)
	ew.printf("  directory                  = %q\n", a.Directory)
	ew.printf("  folder_structure           = %q\n", a.FolderStructure)
	ew.printf("  library                    = %q\n", a.Library)
	ew.printf("  albums                     = %s\n", renderList(a.Albums))
	ew.printf("  sizes                      = %s\n", renderSizes(a.Sizes))
	ew.printf("  force_size                 = %t\n", a.ForceSize)
	ew.printf("  live_photo_size            = %q\n", string(a.LivePhotoSize))
	ew.printf("  live_photo_mov_policy      = %q\n", string(a.LiveVideo))
	ew.printf("  align_raw                  = %q\n", string(a.AlignRaw))
	ew.printf("  file_match_policy          = %q\n", string(a.FileMatchPolicy))
	ew.printf("  keep_unicode_in_filenames  = %t\n", a.KeepUnicode)
	ew.printf("  skip_videos                = %t\n", a.SkipVideos)
	ew.printf("  skip_photos                = %t\n", a.SkipPhotos)
	ew.printf("  skip_live_photos           = %t\n", a.SkipLivePhotos)

	if a.Recent > 0 {
		ew.printf("  recent                     = %d\n", a.Recent)
	}

	if a.UntilFound > 0 {
		ew.printf("  until_found                = %d\n", a.UntilFound)
	}

	if !a.SkipCreatedBefore.IsZero() {
		ew.printf("  skip_created_before        = %q\n", a.SkipCreatedBefore.Format(dateOnly))
	}

	if !a.SkipCreatedAfter.IsZero() {
		ew.printf("  skip_created_after         = %q\n", a.SkipCreatedAfter.Format(dateOnly))
	}

	ew.printf("  auto_delete                = %t\n", a.AutoDelete)
	ew.printf("  delete_after_download      = %t\n", a.DeleteAfterDownload)

	if a.KeepRecentDays != nil {
		ew.printf("  keep_icloud_recent_days    = %d\n", *a.KeepRecentDays)
	}

	ew.printf("  set_exif_datetime          = %t\n", a.SetEXIFDateTime)
	ew.printf("  xmp_sidecar                = %t\n", a.XMPSidecar)
	ew.printf("  dry_run                    = %t\n", a.DryRun)

	if a.WatchInterval > 0 {
		ew.printf("  watch_with_interval        = %s\n", a.WatchInterval)
	}

	ew.printf("  cookie_directory           = %q\n", a.CookieDirectory)
	ew.printf("  domain                     = %q\n", a.Domain)
	ew.printf("  password_providers         = %s\n", renderList(a.PasswordProviders))
	ew.printf("  mfa_provider               = %q\n", a.MFAProvider)
	ew.printf("  password                   = %s\n", mask(a.Password))

	if a.NotificationEmail != "" {
		ew.printf("  notification_email         = %q\n", a.NotificationEmail)
		ew.printf("  smtp_host                  = %q\n", a.SMTPHost)
		ew.printf("  smtp_port                  = %d\n", a.SMTPPort)
		ew.printf("  smtp_password              = %s\n", mask(a.SMTPPassword))
	}

	if a.NotificationScript != "" {
		ew.printf("  notification_script        = %q\n", a.NotificationScript)
	}

	if a.NtfyTopic != "" {
		ew.printf("  ntfy_topic                 = %q\n", a.NtfyTopic)
		ew.printf("  ntfy_server                = %q\n", a.NtfyServer)
	}

	if a.Paused {
		ew.printf("  paused                     = true\n")
	}

	ew.printf("\n")
}

func renderList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}

	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}

	return "[" + strings.Join(quoted, ", ") + "]"
}

func renderSizes[T ~string](items []T) string {
	strs := make([]string, len(items))
	for i, s := range items {
		strs[i] = string(s)
	}

	return renderList(strs)
}

// mask hides a secret while still showing whether one is set.
func mask(secret string) string {
	if secret == "" {
		return `""`
	}

	return `"********"`
}
