// Package storage persists kintoadm's local state (last session, server
// history) as a single JSON document in the XDG data directory.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const stateFile = "state.json"

// Store is a string-keyed persistent store. Values are opaque JSON documents.
// Absent or corrupt state on disk reads as an empty store.
type Store struct {
	mu   sync.Mutex
	path string // full path to state.json
}

// Open returns a Store persisting to dir/state.json, creating dir if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &Store{path: filepath.Join(dir, stateFile)}, nil
}

// OpenDefault returns a Store backed by the XDG data directory.
// Path: $XDG_DATA_HOME/kintoadm/state.json or ~/.local/share/kintoadm/state.json
func OpenDefault() (*Store, error) {
	dir, err := DataDir()
	if err != nil {
		return nil, fmt.Errorf("resolving data directory: %w", err)
	}
	return Open(dir)
}

// DataDir returns the kintoadm-specific XDG data directory.
func DataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "kintoadm"), nil
}

// Path returns the location of the backing state file.
func (s *Store) Path() string {
	return s.path
}

// Get returns the raw value stored under key.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.read()[key]
	if !ok || len(v) == 0 {
		return nil, false
	}
	return []byte(v), true
}

// Set stores value under key. value must be valid JSON.
func (s *Store) Set(key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("storing %q: value is not valid JSON", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.read()
	state[key] = json.RawMessage(value)
	return s.write(state)
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.read()
	if _, ok := state[key]; !ok {
		return nil
	}
	delete(state, key)
	return s.write(state)
}

// Reset deletes the state file.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete local state: %w", err)
	}
	return nil
}

// GetJSON decodes the value under key into v. A missing or undecodable value
// reports false and leaves v untouched as far as json.Unmarshal allows.
func (s *Store) GetJSON(key string, v any) bool {
	data, ok := s.Get(key)
	if !ok {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// SetJSON encodes v and stores it under key.
func (s *Store) SetJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	return s.Set(key, data)
}

// read loads the state document. Missing or corrupt files yield an empty map.
func (s *Store) read() map[string]json.RawMessage {
	state := make(map[string]json.RawMessage)
	data, err := os.ReadFile(s.path)
	if err != nil {
		return state
	}
	if err := json.Unmarshal(data, &state); err != nil || state == nil {
		return make(map[string]json.RawMessage)
	}
	return state
}

// write marshals state and writes it atomically via a temp file + os.Rename.
func (s *Store) write(state map[string]json.RawMessage) (err error) {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to persist local state: %w", err)
	}

	// Write to a temp file in the same directory so os.Rename is atomic.
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "state-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to persist local state: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to persist local state: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to persist local state: %w", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to persist local state: %w", err)
	}
	return nil
}
