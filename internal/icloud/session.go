package icloud

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// SessionData is the per-username auth state persisted between runs.
// Every field except ClientID is harvested from response headers.
type SessionData struct {
	ClientID       string `json:"client_id"`
	AccountCountry string `json:"account_country,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	SessionToken   string `json:"session_token,omitempty"`
	TrustToken     string `json:"trust_token,omitempty"`
	TrustEligible  string `json:"trust_eligible,omitempty"`
	Rscd           string `json:"apple_rscd,omitempty"`
	Ercd           string `json:"apple_ercd,omitempty"`
	Scnt           string `json:"scnt,omitempty"`
}

// NewSessionData creates fresh session state with a new client ID.
func NewSessionData() *SessionData {
	return &SessionData{ClientID: "auth-" + strings.ToLower(uuid.New().String())}
}

// headerFields maps response headers to their SessionData destinations.
var headerFields = map[string]func(*SessionData, string){
	"X-Apple-ID-Account-Country": func(s *SessionData, v string) { s.AccountCountry = v },
	"X-Apple-ID-Session-Id":      func(s *SessionData, v string) { s.SessionID = v },
	"X-Apple-Session-Token":      func(s *SessionData, v string) { s.SessionToken = v },
	"X-Apple-TwoSV-Trust-Token":  func(s *SessionData, v string) { s.TrustToken = v },
	"X-Apple-TwoSV-Trust-Eligible": func(s *SessionData, v string) {
		s.TrustEligible = v
	},
	"X-Apple-I-Rscd": func(s *SessionData, v string) { s.Rscd = v },
	"X-Apple-I-Ercd": func(s *SessionData, v string) { s.Ercd = v },
	"Scnt":           func(s *SessionData, v string) { s.Scnt = v },
}

// harvest copies session headers from a response into the session data.
// Reports whether anything changed.
func (s *SessionData) harvest(h http.Header) bool {
	changed := false
	for name, set := range headerFields {
		if v := h.Get(name); v != "" {
			set(s, v)

			changed = true
		}
	}

	return changed
}

// SessionStore persists session data and cookies between runs. The
// sessionstore package provides the file-backed implementation; tests
// use an in-memory one.
type SessionStore interface {
	http.CookieJar

	// LoadSession returns the persisted session data, or nil when no
	// session has been saved yet.
	LoadSession() (*SessionData, error)

	// SaveSession persists session data along with the current cookies.
	SaveSession(*SessionData) error
}
