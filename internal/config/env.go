package config

import "os"

// Environment variable names for overrides. Environment sits between
// the config file and CLI flags in the override chain and applies to
// every account.
const (
	EnvConfig          = "ICLOUD_CONFIG"
	EnvUsername        = "ICLOUD_USERNAME"
	EnvPassword        = "ICLOUD_PASSWORD"
	EnvCookieDirectory = "ICLOUD_COOKIE_DIRECTORY"
	EnvDomain          = "ICLOUD_DOMAIN"
	EnvLogLevel        = "ICLOUD_LOG_LEVEL"
	EnvSMTPPassword    = "ICLOUD_SMTP_PASSWORD"
	EnvNtfyTopic       = "ICLOUD_NTFY_TOPIC"
)

// EnvOverrides holds values read from the environment.
type EnvOverrides struct {
	ConfigPath      string
	Username        string
	Password        string
	CookieDirectory string
	Domain          string
	LogLevel        string
	SMTPPassword    string
	NtfyTopic       string
}

// ReadEnvOverrides reads the ICLOUD_* environment variables. It does
// not modify any Options; Resolve applies the non-empty fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:      os.Getenv(EnvConfig),
		Username:        os.Getenv(EnvUsername),
		Password:        os.Getenv(EnvPassword),
		CookieDirectory: os.Getenv(EnvCookieDirectory),
		Domain:          os.Getenv(EnvDomain),
		LogLevel:        os.Getenv(EnvLogLevel),
		SMTPPassword:    os.Getenv(EnvSMTPPassword),
		NtfyTopic:       os.Getenv(EnvNtfyTopic),
	}
}

// apply copies the non-empty override fields onto one account's options.
func (e EnvOverrides) apply(o *Options) {
	if e.Username != "" {
		o.Username = e.Username
	}

	if e.Password != "" {
		o.Password = e.Password
	}

	if e.CookieDirectory != "" {
		o.CookieDirectory = e.CookieDirectory
	}

	if e.Domain != "" {
		o.Domain = e.Domain
	}

	if e.SMTPPassword != "" {
		o.SMTPPassword = e.SMTPPassword
	}

	if e.NtfyTopic != "" {
		o.NtfyTopic = e.NtfyTopic
	}
}
