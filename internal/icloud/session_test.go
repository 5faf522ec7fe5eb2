package icloud

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSessionData(t *testing.T) {
	s1 := NewSessionData()
	s2 := NewSessionData()

	assert.True(t, strings.HasPrefix(s1.ClientID, "auth-"))
	assert.Equal(t, s1.ClientID, strings.ToLower(s1.ClientID))
	assert.Len(t, s1.ClientID, len("auth-")+36)
	assert.NotEqual(t, s1.ClientID, s2.ClientID)
}

func TestSessionData_Harvest(t *testing.T) {
	s := NewSessionData()

	h := http.Header{}
	h.Set("X-Apple-ID-Account-Country", "NLD")
	h.Set("X-Apple-ID-Session-Id", "sess-1")
	h.Set("X-Apple-Session-Token", "tok-1")
	h.Set("X-Apple-TwoSV-Trust-Token", "trust-1")
	h.Set("X-Apple-TwoSV-Trust-Eligible", "true")
	h.Set("X-Apple-I-Rscd", "rscd-1")
	h.Set("X-Apple-I-Ercd", "ercd-1")
	h.Set("scnt", "scnt-1")

	assert.True(t, s.harvest(h))
	assert.Equal(t, "NLD", s.AccountCountry)
	assert.Equal(t, "sess-1", s.SessionID)
	assert.Equal(t, "tok-1", s.SessionToken)
	assert.Equal(t, "trust-1", s.TrustToken)
	assert.Equal(t, "true", s.TrustEligible)
	assert.Equal(t, "rscd-1", s.Rscd)
	assert.Equal(t, "ercd-1", s.Ercd)
	assert.Equal(t, "scnt-1", s.Scnt)
}

func TestSessionData_HarvestPartial(t *testing.T) {
	s := NewSessionData()
	s.SessionToken = "tok-1"
	s.Scnt = "scnt-1"

	h := http.Header{}
	h.Set("scnt", "scnt-2")

	assert.True(t, s.harvest(h))
	assert.Equal(t, "scnt-2", s.Scnt)
	assert.Equal(t, "tok-1", s.SessionToken, "absent headers leave fields untouched")
}

func TestSessionData_HarvestNothing(t *testing.T) {
	s := NewSessionData()
	s.SessionToken = "tok-1"

	assert.False(t, s.harvest(http.Header{}))

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	assert.False(t, s.harvest(h))
	assert.Equal(t, "tok-1", s.SessionToken)
}
