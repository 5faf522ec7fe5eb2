package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvUsername, "env@example.com")
	t.Setenv(EnvPassword, "hunter2")
	t.Setenv(EnvDomain, "cn")
	t.Setenv(EnvLogLevel, "debug")

	e := ReadEnvOverrides()

	assert.Equal(t, "env@example.com", e.Username)
	assert.Equal(t, "hunter2", e.Password)
	assert.Equal(t, "cn", e.Domain)
	assert.Equal(t, "debug", e.LogLevel)
}

func TestEnvOverrides_ApplySkipsEmpty(t *testing.T) {
	o := DefaultOptions()
	o.Username = "keep@example.com"
	o.Password = "keep"

	EnvOverrides{Domain: "cn"}.apply(&o)

	assert.Equal(t, "keep@example.com", o.Username)
	assert.Equal(t, "keep", o.Password)
	assert.Equal(t, "cn", o.Domain)
}

func TestEnvOverrides_ApplyAll(t *testing.T) {
	o := DefaultOptions()

	EnvOverrides{
		Username:        "env@example.com",
		Password:        "secret",
		CookieDirectory: "/cookies",
		Domain:          "cn",
		SMTPPassword:    "smtp-secret",
		NtfyTopic:       "alerts",
	}.apply(&o)

	assert.Equal(t, "env@example.com", o.Username)
	assert.Equal(t, "secret", o.Password)
	assert.Equal(t, "/cookies", o.CookieDirectory)
	assert.Equal(t, "cn", o.Domain)
	assert.Equal(t, "smtp-secret", o.SMTPPassword)
	assert.Equal(t, "alerts", o.NtfyTopic)
}
