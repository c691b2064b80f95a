// Package store provides crash-safe session persistence using a JSON file.
//
// The full farming session (market, orders, position, stop flag) lives in a
// single versioned state file. Writes use atomic file replacement (write to
// .tmp, then rename) to prevent corruption from partial writes or crashes
// mid-save. The order manager saves after every mutation and loads on
// startup to detect interrupted sessions.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"polymarket-lp/pkg/types"
)

// StateVersion is bumped when SessionState's layout changes incompatibly.
const StateVersion = 1

// SessionState is the on-disk snapshot of one farming session.
type SessionState struct {
	Version   int    `json:"version"`
	SessionID string `json:"session_id"`
	Active    bool   `json:"active"`
	StopFlag  bool   `json:"stop_flag"`
	Mode      string `json:"mode"` // "live" or "dry_run"

	MarketSlug  string    `json:"market_slug"`
	ConditionID string    `json:"condition_id"`
	YesTokenID  string    `json:"yes_token_id"`
	NoTokenID   string    `json:"no_token_id"`
	EndDate     time.Time `json:"end_date,omitempty"`

	Orders   []types.Order  `json:"orders"`
	Position types.Position `json:"position"`

	LastMidpoint float64   `json:"last_midpoint"`
	SessionPnL   float64   `json:"session_pnl"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Store persists the session state to a JSON file.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	path string
	mu   sync.Mutex // serializes all file operations
}

// Open creates a store backed by the given file, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	return &Store{path: path}, nil
}

// Save atomically persists the session state. It writes to a .tmp file
// first, then renames over the target so the file is never left in a
// partial state.
func (s *Store) Save(state *SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.Version = StateVersion
	state.LastUpdated = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Load restores the session state from disk.
// Returns nil, nil if no saved state exists (first run).
func (s *Store) Load() (*SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if state.Version != StateVersion {
		return nil, fmt.Errorf("state version %d not supported (want %d)", state.Version, StateVersion)
	}
	return &state, nil
}
