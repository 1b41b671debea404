// Package prefs persists per-user shell preferences: the last port used,
// whether to start the server on launch, and the generated auth token.
// Supervisor runtime state is never written here.
package prefs

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Prefs is the on-disk preferences document.
type Prefs struct {
	LastPort int `json:"last_port,omitempty"`
	// AutoStart controls whether the shell starts the server on launch.
	AutoStart bool `json:"auto_start,omitempty"`
	// AuthToken is handed to the server as AUTH_TOKEN when the config has none.
	AuthToken string    `json:"auth_token,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Store reads and writes a preferences file. Methods are safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore returns a store backed by path, or DefaultPath when path is empty.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath()
	}
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Load returns the stored preferences; a missing file yields zero values.
func (s *Store) Load() (Prefs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.loadLocked()
	if err != nil {
		return Prefs{}, err
	}
	return *p, nil
}

// Update applies fn to the stored preferences and saves the result.
func (s *Store) Update(fn func(*Prefs)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.loadLocked()
	if err != nil {
		return err
	}
	fn(p)
	p.UpdatedAt = time.Now().UTC()
	return s.saveLocked(p)
}

// SetLastPort records the port of the most recent successful start.
func (s *Store) SetLastPort(port int) error {
	return s.Update(func(p *Prefs) { p.LastPort = port })
}

// SetAutoStart persists whether the server should start on launch.
func (s *Store) SetAutoStart(enabled bool) error {
	return s.Update(func(p *Prefs) { p.AutoStart = enabled })
}

// AuthToken returns the per-user token, generating and saving one on first use.
func (s *Store) AuthToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.loadLocked()
	if err != nil {
		return "", err
	}
	if p.AuthToken != "" {
		return p.AuthToken, nil
	}
	token, err := newAuthToken()
	if err != nil {
		return "", fmt.Errorf("generate auth token: %w", err)
	}
	p.AuthToken = token
	p.UpdatedAt = time.Now().UTC()
	if err := s.saveLocked(p); err != nil {
		return "", err
	}
	return token, nil
}

// authTokenBytes is the entropy of a generated token; it is hex encoded so the
// value survives shells and env files unquoted.
const authTokenBytes = 24

func newAuthToken() (string, error) {
	b := make([]byte, authTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (s *Store) loadLocked() (*Prefs, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Prefs{}, nil
		}
		return nil, err
	}
	var p Prefs
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) saveLocked(p *Prefs) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Reset removes the preferences file.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
