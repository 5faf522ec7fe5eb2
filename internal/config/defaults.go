package config

// Default values for account options. These are layer zero of the
// override chain and match a plain "download my originals" run.
const (
	defaultFolderStructure = "{:%Y/%m/%d}"
	defaultLibrary         = "PrimarySync"
	defaultSize            = "original"
	defaultLivePhotoSize   = "original"
	defaultLiveVideoPolicy = "suffix"
	defaultAlignRaw        = "as-is"
	defaultFileMatch       = "name-size-dedup-with-suffix"
	defaultDomain          = "com"
	defaultMFAProvider     = "console"
	defaultSMTPHost        = "smtp.gmail.com"
	defaultSMTPPort        = 587
	defaultNtfyServer      = "https://ntfy.sh"
	defaultRequestTimeout  = 30
	defaultFlushStride     = "8MiB"

	defaultLogLevel    = "info"
	defaultLogFormat   = "auto"
	defaultWebUIListen = "127.0.0.1:8080"
)

// defaultPasswordProviders is the provider chain used when none is
// configured: an explicit password wins, then the OS keyring, then an
// interactive prompt.
func defaultPasswordProviders() []string {
	return []string{"parameter", "keyring", "console"}
}

// DefaultOptions returns the built-in account option defaults.
func DefaultOptions() Options {
	return Options{
		PasswordProviders:          defaultPasswordProviders(),
		MFAProvider:                defaultMFAProvider,
		CookieDirectory:            defaultCookieDirectory(),
		Domain:                     defaultDomain,
		FolderStructure:            defaultFolderStructure,
		Library:                    defaultLibrary,
		Sizes:                      []string{defaultSize},
		LivePhotoSize:              defaultLivePhotoSize,
		LivePhotoMovFilenamePolicy: defaultLiveVideoPolicy,
		AlignRaw:                   defaultAlignRaw,
		FileMatchPolicy:            defaultFileMatch,
		SMTPHost:                   defaultSMTPHost,
		SMTPPort:                   defaultSMTPPort,
		NtfyServer:                 defaultNtfyServer,
		RequestTimeoutSeconds:      defaultRequestTimeout,
		FlushStride:                defaultFlushStride,
	}
}

// DefaultGlobals returns the built-in process-wide defaults.
func DefaultGlobals() Globals {
	return Globals{
		LogLevel:    defaultLogLevel,
		LogFormat:   defaultLogFormat,
		WebUIListen: defaultWebUIListen,
	}
}
