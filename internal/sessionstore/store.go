// Package sessionstore persists one account's cookies and session
// tokens between runs. Each username gets its own set of files inside
// the cookie directory, named deterministically so several
// configurations of the same account share a single session. A
// directory-level lock per username keeps two processes from
// clobbering each other's cookies.
package sessionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tonimelisma/icloud-go/internal/icloud"
)

// FilePerms restricts session files to owner-only read/write; they
// hold live credentials.
const FilePerms = 0o600

// DirPerms is used when creating the cookie directory.
const DirPerms = 0o700

// Key reduces a username to the file-name stem its session files use:
// every character outside [0-9A-Za-z_] is dropped. Deterministic, so
// two configurations for the same account land on the same files.
func Key(username string) string {
	var b strings.Builder

	for _, r := range username {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r == '_':
			b.WriteRune(r)
		}
	}

	return b.String()
}

// savedCookie is the on-disk form of one cookie. Only the fields that
// survive a round trip through net/http are kept.
type savedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

// Store is the file-backed session store for one username. It
// implements icloud.SessionStore: an http.CookieJar whose contents
// survive process restarts, plus session-data persistence.
//
// The jar itself cannot be enumerated, so the store shadows every
// cookie it is handed in a map and snapshots that map to disk on
// SaveSession.
type Store struct {
	dir    string
	key    string
	logger *slog.Logger

	lock *dirLock

	mu      sync.Mutex
	jar     *cookiejar.Jar
	cookies map[string]savedCookie // keyed by domain+path+name
}

// Open acquires the username's lock inside dir, creates the directory
// if needed, and loads any previously saved cookies. The caller must
// Close the store to release the lock.
func Open(dir, username string, logger *slog.Logger) (*Store, error) {
	if username == "" {
		return nil, errors.New("sessionstore: username required")
	}

	key := Key(username)
	if key == "" {
		return nil, fmt.Errorf("sessionstore: username %q has no usable characters", username)
	}

	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return nil, fmt.Errorf("sessionstore: creating %s: %w", dir, err)
	}

	lock, err := acquireLock(filepath.Join(dir, key+".lock"))
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		lock.release()

		return nil, fmt.Errorf("sessionstore: creating cookie jar: %w", err)
	}

	s := &Store{
		dir:     dir,
		key:     key,
		logger:  logger,
		lock:    lock,
		jar:     jar,
		cookies: make(map[string]savedCookie),
	}

	if err := s.loadCookies(); err != nil {
		lock.release()

		return nil, err
	}

	return s, nil
}

// Close releases the username's lock. The store must not be used
// afterwards.
func (s *Store) Close() error {
	return s.lock.release()
}

// CookiePath returns the cookie snapshot file path.
func (s *Store) CookiePath() string {
	return filepath.Join(s.dir, s.key)
}

// SessionPath returns the session-data file path.
func (s *Store) SessionPath() string {
	return filepath.Join(s.dir, s.key+".session")
}

// SetCookies stores cookies in the jar and shadows them for the next
// snapshot. Implements http.CookieJar.
func (s *Store) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jar.SetCookies(u, cookies)

	for _, c := range cookies {
		domain := c.Domain
		if domain == "" {
			domain = u.Hostname()
		}

		path := c.Path
		if path == "" {
			path = "/"
		}

		key := domain + ";" + path + ";" + c.Name

		// MaxAge<0 is the deletion idiom; drop the shadow too.
		if c.MaxAge < 0 {
			delete(s.cookies, key)

			continue
		}

		expires := c.Expires
		if c.MaxAge > 0 {
			expires = time.Now().Add(time.Duration(c.MaxAge) * time.Second)
		}

		s.cookies[key] = savedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   domain,
			Path:     path,
			Expires:  expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
	}
}

// Cookies returns the jar's cookies for the URL. Implements
// http.CookieJar.
func (s *Store) Cookies(u *url.URL) []*http.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.jar.Cookies(u)
}

// LoadSession returns the persisted session data, or nil when none has
// been saved yet.
func (s *Store) LoadSession() (*icloud.SessionData, error) {
	data, err := os.ReadFile(s.SessionPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "no saved session"
	}

	if err != nil {
		return nil, fmt.Errorf("sessionstore: reading %s: %w", s.SessionPath(), err)
	}

	var session icloud.SessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("sessionstore: decoding %s: %w", s.SessionPath(), err)
	}

	return &session, nil
}

// SaveSession persists the session data and a snapshot of the current
// cookies, both atomically.
func (s *Store) SaveSession(session *icloud.SessionData) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionstore: encoding session: %w", err)
	}

	if err := atomicWrite(s.SessionPath(), data); err != nil {
		return err
	}

	return s.saveCookies()
}

// saveCookies snapshots the shadowed cookies, dropping expired ones.
func (s *Store) saveCookies() error {
	s.mu.Lock()

	now := time.Now()
	list := make([]savedCookie, 0, len(s.cookies))

	for key, c := range s.cookies {
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			delete(s.cookies, key)

			continue
		}

		list = append(list, c)
	}

	s.mu.Unlock()

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionstore: encoding cookies: %w", err)
	}

	return atomicWrite(s.CookiePath(), data)
}

// loadCookies replays the snapshot into a fresh jar. A corrupt
// snapshot is discarded with a warning; the cost is one fresh sign-in.
func (s *Store) loadCookies() error {
	data, err := os.ReadFile(s.CookiePath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("sessionstore: reading %s: %w", s.CookiePath(), err)
	}

	var list []savedCookie
	if err := json.Unmarshal(data, &list); err != nil {
		if s.logger != nil {
			s.logger.Warn("discarding unreadable cookie snapshot",
				slog.String("path", s.CookiePath()),
				slog.String("error", err.Error()),
			)
		}

		return nil
	}

	now := time.Now()

	for _, c := range list {
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}

		u := &url.URL{Scheme: "https", Host: strings.TrimPrefix(c.Domain, "."), Path: c.Path}

		cookie := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}

		s.jar.SetCookies(u, []*http.Cookie{cookie})
		s.cookies[c.Domain+";"+c.Path+";"+c.Name] = c
	}

	return nil
}

// atomicWrite writes data to path via a temp file in the same
// directory, synced before rename so a crash cannot leave a truncated
// session file at the final path.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("sessionstore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()

		return fmt.Errorf("sessionstore: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()

		return fmt.Errorf("sessionstore: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()

		return fmt.Errorf("sessionstore: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sessionstore: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("sessionstore: renaming: %w", err)
	}

	success = true

	return nil
}
