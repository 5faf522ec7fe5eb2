package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// SplitAccountArgs partitions raw argv into the defaults segment and one
// segment per --username occurrence. Each account segment starts with
// its --username token so the username travels with its options.
func SplitAccountArgs(args []string) (defaults []string, accounts [][]string) {
	var current *[]string

	for _, tok := range args {
		if isUsernameFlag(tok) {
			accounts = append(accounts, []string{tok})
			current = &accounts[len(accounts)-1]

			continue
		}

		if current == nil {
			defaults = append(defaults, tok)
		} else {
			*current = append(*current, tok)
		}
	}

	return defaults, accounts
}

// isUsernameFlag recognizes every spelling pflag accepts for the
// username flag.
func isUsernameFlag(tok string) bool {
	return tok == "--username" || tok == "-u" ||
		strings.HasPrefix(tok, "--username=") || strings.HasPrefix(tok, "-u=")
}

// segmentUsername extracts the username value from an account segment
// without a full flag parse, so the segment can be matched against a
// config file [[account]] block before layering.
func segmentUsername(seg []string) string {
	for i, tok := range seg {
		switch {
		case tok == "--username" || tok == "-u":
			if i+1 < len(seg) {
				return seg[i+1]
			}
		case strings.HasPrefix(tok, "--username="):
			return strings.TrimPrefix(tok, "--username=")
		case strings.HasPrefix(tok, "-u="):
			return strings.TrimPrefix(tok, "-u=")
		}
	}

	return ""
}

// segmentParser binds the full flag surface (account options plus
// process globals) to the given targets for one Parse call. A fresh
// parser is built per segment application because a pflag FlagSet
// tracks changed state across Parse calls. Segments routinely contain
// flags the caller does not care about; those bind to throwaway targets.
type segmentParser struct {
	fs   *pflag.FlagSet
	opts *Options

	keepDays int
}

func newSegmentParser(opts *Options, g *Globals) *segmentParser {
	p := &segmentParser{opts: opts}

	fs := pflag.NewFlagSet("icloud-go", pflag.ContinueOnError)
	RegisterAccountFlags(fs, opts)
	RegisterGlobalFlags(fs, g)
	fs.IntVar(&p.keepDays, "keep-icloud-recent-days", 0,
		"delete assets from iCloud older than this many days (0 deletes all processed)")

	p.fs = fs

	return p
}

// parse applies one argv segment onto the bound targets.
func (p *segmentParser) parse(seg []string) error {
	if err := p.fs.Parse(seg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if rest := p.fs.Args(); len(rest) > 0 {
		return fmt.Errorf("%w: unexpected argument %q", ErrInvalid, rest[0])
	}

	// keep_icloud_recent_days distinguishes unset from zero, which a
	// plain int flag cannot carry.
	if p.fs.Changed("keep-icloud-recent-days") {
		v := p.keepDays
		p.opts.KeepICloudRecentDays = &v
	}

	return nil
}

// RegisterAccountFlags declares every per-account flag on the given
// flag set, bound to fields of opts. The sync command also registers
// these on its cobra command so help output lists the full surface.
func RegisterAccountFlags(fs *pflag.FlagSet, opts *Options) {
	fs.StringVarP(&opts.Username, "username", "u", opts.Username, "iCloud account email; repeatable, starts a new account block")
	fs.StringVarP(&opts.Password, "password", "p", opts.Password, "iCloud password for the parameter provider")
	fs.StringArrayVar(&opts.PasswordProviders, "password-provider", opts.PasswordProviders, "password source in order: parameter, keyring, console, webui")
	fs.StringVar(&opts.MFAProvider, "mfa-provider", opts.MFAProvider, "two-factor code source: console or webui")
	fs.StringVar(&opts.CookieDirectory, "cookie-directory", opts.CookieDirectory, "directory for session cookies and tokens")
	fs.StringVar(&opts.Domain, "domain", opts.Domain, "iCloud domain: com or cn")
	fs.BoolVar(&opts.AuthOnly, "auth-only", opts.AuthOnly, "authenticate and persist the session, then exit")

	fs.StringVarP(&opts.Directory, "directory", "d", opts.Directory, "local directory to download into")
	fs.StringVar(&opts.FolderStructure, "folder-structure", opts.FolderStructure, "date folder template, e.g. {:%Y/%m/%d}, or none")
	fs.BoolVar(&opts.UseOSLocale, "use-os-locale", opts.UseOSLocale, "use the OS locale for month and day folder names")
	fs.StringVar(&opts.Library, "library", opts.Library, "library zone to download from")
	fs.StringArrayVarP(&opts.Albums, "album", "a", opts.Albums, "album to download; repeatable, all photos when omitted")

	fs.IntVar(&opts.Recent, "recent", opts.Recent, "only the N most recently added assets")
	fs.IntVar(&opts.UntilFound, "until-found", opts.UntilFound, "stop after N consecutive already-downloaded assets")
	fs.BoolVar(&opts.SkipVideos, "skip-videos", opts.SkipVideos, "do not download videos")
	fs.BoolVar(&opts.SkipPhotos, "skip-photos", opts.SkipPhotos, "do not download photos")
	fs.BoolVar(&opts.SkipLivePhotos, "skip-live-photos", opts.SkipLivePhotos, "do not download Live Photo videos")
	fs.StringVar(&opts.SkipCreatedBefore, "skip-created-before", opts.SkipCreatedBefore, "skip assets created before this date (2006-01-02 or RFC 3339)")
	fs.StringVar(&opts.SkipCreatedAfter, "skip-created-after", opts.SkipCreatedAfter, "skip assets created after this date (2006-01-02 or RFC 3339)")

	fs.StringArrayVar(&opts.Sizes, "size", opts.Sizes, "rendition to download: original, medium, thumb, adjusted, alternative; repeatable")
	fs.BoolVar(&opts.ForceSize, "force-size", opts.ForceSize, "only download the requested sizes, never fall back to original")
	fs.StringVar(&opts.LivePhotoSize, "live-photo-size", opts.LivePhotoSize, "Live Photo video rendition: original, medium, thumb")
	fs.StringVar(&opts.LivePhotoMovFilenamePolicy, "live-photo-mov-filename-policy", opts.LivePhotoMovFilenamePolicy, "Live Photo video naming: suffix or original")
	fs.StringVar(&opts.AlignRaw, "align-raw", opts.AlignRaw, "RAW+JPEG labeling: original, alternative, or as-is")

	fs.StringVar(&opts.FileMatchPolicy, "file-match-policy", opts.FileMatchPolicy, "collision policy: name-size-dedup-with-suffix or name-id7")
	fs.BoolVar(&opts.KeepUnicodeInFilenames, "keep-unicode-in-filenames", opts.KeepUnicodeInFilenames, "keep non-ASCII characters in filenames")

	fs.BoolVar(&opts.AutoDelete, "auto-delete", opts.AutoDelete, "delete local files for assets in Recently Deleted")
	fs.BoolVar(&opts.DeleteAfterDownload, "delete-after-download", opts.DeleteAfterDownload, "move assets to Recently Deleted after downloading (deprecated)")

	fs.BoolVar(&opts.SetEXIFDateTime, "set-exif-datetime", opts.SetEXIFDateTime, "write EXIF DateTimeOriginal into JPEGs that lack it")
	fs.BoolVar(&opts.XMPSidecar, "xmp-sidecar", opts.XMPSidecar, "write an XMP sidecar next to each download")
	fs.BoolVar(&opts.DryRun, "dry-run", opts.DryRun, "log what would happen without touching disk or iCloud")
	fs.BoolVar(&opts.OnlyPrintFilenames, "only-print-filenames", opts.OnlyPrintFilenames, "print would-be download paths to stdout and exit")

	fs.IntVar(&opts.WatchWithInterval, "watch-with-interval", opts.WatchWithInterval, "keep running, new pass every N seconds")

	fs.StringVar(&opts.NotificationEmail, "notification-email", opts.NotificationEmail, "address to email when re-authentication is needed")
	fs.StringVar(&opts.NotificationEmailFrom, "notification-email-from", opts.NotificationEmailFrom, "from address for notification email")
	fs.StringVar(&opts.SMTPHost, "smtp-host", opts.SMTPHost, "SMTP server host")
	fs.IntVar(&opts.SMTPPort, "smtp-port", opts.SMTPPort, "SMTP server port")
	fs.StringVar(&opts.SMTPUsername, "smtp-username", opts.SMTPUsername, "SMTP username")
	fs.StringVar(&opts.SMTPPassword, "smtp-password", opts.SMTPPassword, "SMTP password")
	fs.BoolVar(&opts.SMTPNoTLS, "smtp-no-tls", opts.SMTPNoTLS, "disable SMTP STARTTLS")
	fs.StringVar(&opts.NotificationScript, "notification-script", opts.NotificationScript, "script to run when re-authentication is needed")
	fs.StringVar(&opts.NtfyTopic, "ntfy-topic", opts.NtfyTopic, "ntfy topic to post re-authentication alerts to")
	fs.StringVar(&opts.NtfyServer, "ntfy-server", opts.NtfyServer, "ntfy server URL")
}

// RegisterGlobalFlags declares the process-wide flags on a flag set.
// They are honored in the defaults segment only.
func RegisterGlobalFlags(fs *pflag.FlagSet, g *Globals) {
	fs.StringVar(&g.ConfigPath, "config", g.ConfigPath, "config file path")
	fs.StringVar(&g.LogLevel, "log-level", g.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&g.LogFormat, "log-format", g.LogFormat, "log format: auto, text, json")
	fs.StringVar(&g.LogFile, "log-file", g.LogFile, "log to this file instead of stderr")
	fs.BoolVar(&g.WebUI, "webui", g.WebUI, "serve the status web UI even when no webui provider is configured")
	fs.StringVar(&g.WebUIListen, "webui-listen", g.WebUIListen, "listen address for the web UI")
}
