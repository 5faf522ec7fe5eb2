package naming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	// 2025-01-02 is a Thursday.
	ts := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		tmpl string
		want string
	}{
		{"{:%Y/%m/%d}", "2025/01/02"},
		{"albums/{:%Y}", "albums/2025"},
		{"{:%Y}-{:%m}", "2025-01"},
		{"{0:%Y}", "2025"},
		{"{{:%Y}}", "{:%Y}"},
		{"plain", "plain"},
		{"{:%Y", "{:%Y"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, renderTemplate(tt.tmpl, ts, nil), "template %q", tt.tmpl)
	}
}

func TestRenderTemplate_LocalizedNames(t *testing.T) {
	ts := time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC) // Thursday, June 5th

	de := namesForLocale("de_DE.UTF-8")
	require.NotNil(t, de)
	assert.Equal(t, "2025/Juni", renderTemplate("{:%Y/%B}", ts, de))
	assert.Equal(t, "Do 05", renderTemplate("{:%a %d}", ts, de))

	fr := namesForLocale("fr")
	require.NotNil(t, fr)
	assert.Equal(t, "juin", renderTemplate("{:%B}", ts, fr))
	assert.Equal(t, "juin", renderTemplate("{:%h}", ts, fr))

	// Directives the table does not cover pass through untouched.
	assert.Equal(t, "2025", renderTemplate("{:%Y}", ts, de))
}

func TestNamesForLocale(t *testing.T) {
	assert.Nil(t, namesForLocale(""))
	assert.Nil(t, namesForLocale("C"))
	assert.Nil(t, namesForLocale("POSIX"))
	assert.Nil(t, namesForLocale("en_US.UTF-8"))
	assert.Nil(t, namesForLocale("!!bogus!!"))

	de := namesForLocale("de_AT")
	require.NotNil(t, de)
	assert.Equal(t, "Januar", de.months[0])

	pt := namesForLocale("pt-BR")
	require.NotNil(t, pt)
	assert.Equal(t, "janeiro", pt.months[0])

	nl := namesForLocale("nl_NL@euro")
	require.NotNil(t, nl)
	assert.Equal(t, "maart", nl.months[2])
}

func TestValidateTemplate(t *testing.T) {
	assert.NoError(t, ValidateTemplate("{:%Y/%m/%d}"))
	assert.NoError(t, ValidateTemplate("none"))
	assert.NoError(t, ValidateTemplate(""))
	assert.NoError(t, ValidateTemplate("{{escaped}}"))
	assert.NoError(t, ValidateTemplate("albums/{:%Y}/{:%m}"))

	err := ValidateTemplate("{:%Y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unclosed brace")

	err = ValidateTemplate("a}b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmatched closing brace")
}
