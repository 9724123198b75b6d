package api

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// Session is the persisted login state.
type Session struct {
	Token     string    `toml:"token"`
	User      string    `toml:"user,omitempty"`
	CreatedAt time.Time `toml:"created_at"`
}

// SessionFile stores the Session as TOML. A missing file is an empty
// session.
type SessionFile struct {
	path string

	mu      sync.Mutex
	loaded  bool
	current Session
}

// NewSessionFile returns a SessionFile at path. Nothing is read until
// first use.
func NewSessionFile(path string) *SessionFile {
	return &SessionFile{path: path}
}

// Path returns the file location.
func (f *SessionFile) Path() string {
	return f.path
}

// Load returns the session, reading the file on first call.
func (f *SessionFile) Load() (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.loaded {
		return f.current, nil
	}

	var s Session
	if _, err := toml.DecodeFile(f.path, &s); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			f.loaded = true
			f.current = Session{}
			return f.current, nil
		}
		return Session{}, fmt.Errorf("failed to read session %s: %w", f.path, err)
	}
	f.loaded = true
	f.current = s
	return s, nil
}

// Token returns the bearer token or "".
func (f *SessionFile) Token() string {
	s, err := f.Load()
	if err != nil {
		return ""
	}
	return s.Token
}

// Save writes s, readable by the owner only.
func (f *SessionFile) Save(s Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp := f.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := toml.NewEncoder(file).Encode(s); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename session file: %w", err)
	}

	f.loaded = true
	f.current = s
	return nil
}

// Clear removes the file.
func (f *SessionFile) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	f.loaded = true
	f.current = Session{}
	return nil
}
