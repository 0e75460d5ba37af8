// Package auth supplies session credentials for API and browser calls. It
// reuses cookies saved by a previous login while they are fresh and valid,
// and otherwise logs in through the browser.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"notepub/internal/browser"
)

// ErrSessionStale is returned by Store.Load when the saved session is older
// than the configured maximum age.
var ErrSessionStale = errors.New("saved session expired")

// Session is the persisted form of a login.
type Session struct {
	SavedAt    time.Time         `json:"savedAt"`
	Cookies    map[string]string `json:"cookies"`
	RawCookies []browser.Cookie  `json:"rawCookies"`
}

// Store reads and writes the session file.
type Store struct {
	now    func() time.Time
	path   string
	maxAge time.Duration
}

// DefaultCookiePath returns ~/.config/notepub/cookies.json.
func DefaultCookiePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config dir: %w", err)
	}

	return filepath.Join(dir, "notepub", "cookies.json"), nil
}

// NewStore creates a store for path.
func NewStore(path string, maxAge time.Duration) *Store {
	return &Store{path: path, maxAge: maxAge, now: time.Now}
}

// Path returns the file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the saved session. A missing file yields os.ErrNotExist; an
// old one ErrSessionStale.
func (s *Store) Load() (*Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}

	if s.now().Sub(sess.SavedAt) > s.maxAge {
		return nil, ErrSessionStale
	}

	return &sess, nil
}

// Save writes sess with owner-only permissions, stamping SavedAt.
func (s *Store) Save(sess *Session) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}

	sess.SavedAt = s.now()

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}

	return os.Chmod(s.path, 0o600)
}
