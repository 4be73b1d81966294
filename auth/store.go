// Package auth owns the brokerage session credential: atomic persistence,
// owner-only file permissions, redacted views and staleness checks. Every
// consumer loads the credential per use instead of holding a copy, so a
// revoked or rotated token is never used from memory.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"hedgegram/logs"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoCredential signals that no live credential is stored on disk.
	ErrNoCredential = errors.New("no live credential stored")
	// ErrStaleCredential signals that the stored credential has expired.
	ErrStaleCredential = errors.New("live credential is stale")
)

// Credential is the brokerage session secret with its metadata.
type Credential struct {
	Token     string    `json:"jwtToken"`
	SessionID string    `json:"sid,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
}

// MaskedCredential is the redacted projection served to untrusted callers.
type MaskedCredential struct {
	Token     string    `json:"jwtToken"`
	SessionID string    `json:"sid,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
}

const redactedToken = "***REDACTED***"

// Store persists a single Credential as a JSON file with atomic replace.
type Store struct {
	mu   sync.Mutex
	path string
	loc  *time.Location
}

// NewStore creates a credential store backed by the given file path.
// The location is used for calendar-day staleness checks.
func NewStore(path string, loc *time.Location) *Store {
	if loc == nil {
		loc = time.Local
	}
	return &Store{path: path, loc: loc}
}

// Save writes the credential via temp-file-then-rename and restricts it to
// owner-only permissions, so a concurrent Load never sees a torn write.
func (s *Store) Save(c Credential) error {
	if c.Token == "" {
		return fmt.Errorf("refusing to save credential without token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create credential directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary credential file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		logs.Warnf("[Auth] Failed to restrict credential file permissions: %v", err)
	}
	return nil
}

// Load reads the persisted credential. It reports ok=false when the file is
// missing or fails validation, and returns an error only for unreadable or
// corrupt contents.
func (s *Store) Load() (Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credential{}, false, nil
		}
		return Credential{}, false, fmt.Errorf("failed to read credential file: %w", err)
	}

	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return Credential{}, false, fmt.Errorf("corrupt credential file: %w", err)
	}
	if c.Token == "" {
		return Credential{}, false, nil
	}
	return c, true, nil
}

// Clear removes the credential immediately. Missing file is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credential file: %w", err)
	}
	return nil
}

// Masked returns a redacted projection for status reporting.
func (s *Store) Masked() (MaskedCredential, bool) {
	c, ok, err := s.Load()
	if err != nil || !ok {
		return MaskedCredential{}, false
	}
	return MaskedCredential{
		Token:     redactedToken,
		SessionID: c.SessionID,
		IssuedAt:  c.IssuedAt,
	}, true
}

// Validate reports whether a usable live credential is stored right now.
func (s *Store) Validate(now time.Time) error {
	c, ok, err := s.Load()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoCredential
	}
	if c.StaleAt(now, s.loc) {
		return ErrStaleCredential
	}
	return nil
}

// StaleAt reports whether the credential should no longer authorize trading.
// When the token is a JWT with an exp claim that claim decides; otherwise a
// session is considered valid only on the calendar day it was issued.
func (c Credential) StaleAt(now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.Local
	}
	parser := jwt.NewParser()
	if token, _, err := parser.ParseUnverified(c.Token, jwt.MapClaims{}); err == nil {
		if exp, err := token.Claims.GetExpirationTime(); err == nil && exp != nil {
			return now.After(exp.Time)
		}
	}
	if c.IssuedAt.IsZero() {
		return false
	}
	iy, im, id := c.IssuedAt.In(loc).Date()
	ny, nm, nd := now.In(loc).Date()
	return iy != ny || im != nm || id != nd
}

// RunDailyClear removes the credential at every local midnight, for scheduled
// session rotation. Blocks until the context is cancelled.
func (s *Store) RunDailyClear(done <-chan struct{}) {
	for {
		now := time.Now().In(s.loc)
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc).AddDate(0, 0, 1)
		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Minute
		}
		select {
		case <-done:
			return
		case <-time.After(wait):
			if err := s.Clear(); err != nil {
				logs.Errorf("[Auth] Daily credential rotation failed: %v", err)
			} else {
				logs.Info("[Auth] Credential cleared at local midnight.")
			}
		}
	}
}
