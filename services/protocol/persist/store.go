// Copyright (C) 2025 Crucible Labs (oss@crucible-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package persist provides file persistence for the protocol's durable
// shapes: the decision ledger and session snapshots.
//
// NO external storage dependencies (no SQLite, no Redis). Both stores write
// JSON files atomically (temp file + rename) so a crash mid-write never
// leaves a partial file behind.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/crucible-protocol/crucible/services/protocol/blocking"
	"github.com/crucible-protocol/crucible/services/protocol/ledger"
)

const (
	ledgerFilename  = "decision_ledger.json"
	sessionFilename = "session.json"
)

// =============================================================================
// Ledger Store
// =============================================================================

// LedgerStore persists ledger data to a JSON file in a session directory.
//
// # Thread Safety
//
// Safe for concurrent use. Writes are serialized by a mutex; the atomic
// rename keeps readers of the final path consistent.
type LedgerStore struct {
	mu   sync.Mutex
	path string
}

// NewLedgerStore creates a ledger store rooted at dir, creating the
// directory if needed.
//
// # Inputs
//
//   - dir: Directory for the ledger file. Use empty string for default
//     (~/.crucible/sessions).
//
// # Outputs
//
//   - *LedgerStore: Ready-to-use store.
//   - error: Non-nil if directory creation fails.
func NewLedgerStore(dir string) (*LedgerStore, error) {
	dir, err := resolveDir(dir)
	if err != nil {
		return nil, err
	}
	return &LedgerStore{path: filepath.Join(dir, ledgerFilename)}, nil
}

// Path returns the file the store reads and writes.
func (s *LedgerStore) Path() string {
	return s.path
}

// Save writes the ledger snapshot atomically.
//
// # Inputs
//
//   - data: The ledger's persisted form, from Ledger.Data().
//
// # Outputs
//
//   - error: Non-nil if marshaling or the write fails.
func (s *LedgerStore) Save(data ledger.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	return writeAtomic(s.path, raw)
}

// Load reads and reconstructs the persisted ledger.
//
// # Description
//
// The file contents go through ledger.FromData, so a tampered or corrupted
// snapshot (duplicate IDs, dangling references, cycles) fails here rather
// than poisoning a running session.
//
// # Outputs
//
//   - *ledger.Ledger: The reconstructed ledger.
//   - bool: False when no file exists yet.
//   - error: Non-nil on read, parse or reconstruction failure.
func (s *LedgerStore) Load() (*ledger.Ledger, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read ledger file: %w", err)
	}

	var data ledger.Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false, fmt.Errorf("parse ledger file: %w", err)
	}

	led, err := ledger.FromData(data)
	if err != nil {
		return nil, false, fmt.Errorf("reconstruct ledger: %w", err)
	}
	return led, true, nil
}

// =============================================================================
// Session Snapshots
// =============================================================================

// StateSnapshot is the serialized protocol position.
type StateSnapshot struct {
	// Phase is the protocol phase name.
	Phase string `json:"phase"`

	// Status is the macro-state: active, blocked or failed.
	Status string `json:"status"`

	// Substate is the phase-specific progress marker, if any.
	Substate any `json:"substate,omitempty"`
}

// ResolvedQuery pairs a terminal blocking record with its resolution time,
// kept for session audit.
type ResolvedQuery struct {
	Record     blocking.Record `json:"record"`
	ResolvedAt time.Time       `json:"resolvedAt"`
}

// SessionSnapshot is the full durable session: protocol position, artifacts,
// and the blocking history.
type SessionSnapshot struct {
	// SessionID identifies the workflow instance.
	SessionID string `json:"sessionId"`

	// CreatedAt is when the session started.
	CreatedAt time.Time `json:"createdAt"`

	// LastActivity is the most recent state change.
	LastActivity time.Time `json:"lastActivity"`

	// State is the serialized protocol position.
	State StateSnapshot `json:"state"`

	// Artifacts maps artifact names to their storage locations.
	Artifacts map[string]string `json:"artifacts,omitempty"`

	// BlockingQueries holds the live (unresolved) blocking records.
	BlockingQueries []blocking.Record `json:"blockingQueries,omitempty"`

	// SavedSubstate is the pre-blocking substate, kept while a blocking
	// query is live so a restart can still restore it on resume.
	SavedSubstate any `json:"savedSubstate,omitempty"`

	// ResolvedQueries holds terminal blocking records, oldest first.
	ResolvedQueries []ResolvedQuery `json:"resolvedQueries,omitempty"`
}

// SnapshotStore persists session snapshots to a JSON file.
//
// # Thread Safety
//
// Safe for concurrent use.
type SnapshotStore struct {
	mu   sync.Mutex
	path string
}

// NewSnapshotStore creates a snapshot store rooted at dir, creating the
// directory if needed. Empty dir defaults to ~/.crucible/sessions.
func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	dir, err := resolveDir(dir)
	if err != nil {
		return nil, err
	}
	return &SnapshotStore{path: filepath.Join(dir, sessionFilename)}, nil
}

// Path returns the file the store reads and writes.
func (s *SnapshotStore) Path() string {
	return s.path
}

// Save writes the snapshot atomically.
func (s *SnapshotStore) Save(snap SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return writeAtomic(s.path, raw)
}

// Load reads the persisted snapshot.
//
// # Outputs
//
//   - SessionSnapshot: The stored snapshot.
//   - bool: False when no file exists yet.
//   - error: Non-nil on read or parse failure.
func (s *SnapshotStore) Load() (SessionSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return SessionSnapshot{}, false, nil
		}
		return SessionSnapshot{}, false, fmt.Errorf("read snapshot file: %w", err)
	}

	var snap SessionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return SessionSnapshot{}, false, fmt.Errorf("parse snapshot file: %w", err)
	}
	return snap, true, nil
}

// =============================================================================
// Helpers
// =============================================================================

// resolveDir expands the default directory and ensures it exists.
func resolveDir(dir string) (string, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".crucible", "sessions")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create session directory %s: %w", dir, err)
	}
	return dir, nil
}

// writeAtomic writes data via a temp file and rename so readers never see a
// partial file.
func writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0640); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("finalize file: %w", err)
	}
	return nil
}
