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

package persist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crucible-protocol/crucible/services/protocol/blocking"
	"github.com/crucible-protocol/crucible/services/protocol/ledger"
	"github.com/crucible-protocol/crucible/services/protocol/state"
)

func seededLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	led := ledger.New("persist-test")
	first, err := led.Append(ledger.Input{
		Category:   ledger.CategoryArchitecture,
		Source:     ledger.SourceDesignChoice,
		Confidence: ledger.ConfidenceValidated,
		Phase:      ledger.PhaseDesign,
		Constraint: "Single-writer session owns all protocol mutations",
	})
	if err != nil {
		t.Fatalf("seed append: %v", err)
	}
	_, err = led.Append(ledger.Input{
		Category:     ledger.CategoryBehavior,
		Source:       ledger.SourceDesignChoice,
		Confidence:   ledger.ConfidenceProvisional,
		Phase:        ledger.PhaseDesign,
		Constraint:   "Timeouts are polled, not event-driven",
		Dependencies: []string{first.ID},
	})
	if err != nil {
		t.Fatalf("seed append: %v", err)
	}
	return led
}

func TestLedgerStore_RoundTrip(t *testing.T) {
	store, err := NewLedgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLedgerStore: %v", err)
	}

	led := seededLedger(t)
	if err := store.Save(led.Data()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, ok, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("Load reported no file after Save")
	}
	if loaded.Len() != led.Len() {
		t.Errorf("loaded %d decisions, want %d", loaded.Len(), led.Len())
	}
	if loaded.Meta().Project != "persist-test" {
		t.Errorf("project = %q, want persist-test", loaded.Meta().Project)
	}

	// Sequence counters survive the round trip.
	next, err := loaded.Append(ledger.Input{
		Category:   ledger.CategoryArchitecture,
		Source:     ledger.SourceDesignChoice,
		Confidence: ledger.ConfidenceProvisional,
		Phase:      ledger.PhaseDesign,
		Constraint: "Post-reload append",
	})
	if err != nil {
		t.Fatalf("append after reload: %v", err)
	}
	if next.ID != "architecture_002" {
		t.Errorf("post-reload ID = %q, want architecture_002", next.ID)
	}
}

func TestLedgerStore_LoadMissing(t *testing.T) {
	store, err := NewLedgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLedgerStore: %v", err)
	}
	_, ok, err := store.Load()
	if err != nil {
		t.Fatalf("Load on empty dir: %v", err)
	}
	if ok {
		t.Error("Load reported a file where none exists")
	}
}

func TestLedgerStore_LoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLedgerStore(dir)
	if err != nil {
		t.Fatalf("NewLedgerStore: %v", err)
	}
	if err := os.WriteFile(store.Path(), []byte("{not json"), 0640); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	if _, _, err := store.Load(); err == nil {
		t.Error("Load accepted corrupt JSON")
	}
}

func TestLedgerStore_LoadRejectsTamperedData(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLedgerStore(dir)
	if err != nil {
		t.Fatalf("NewLedgerStore: %v", err)
	}

	// Well-formed JSON carrying a dangling dependency must fail
	// reconstruction, not load partially.
	tampered := `{
		"meta": {"version": "1.0", "project": "tampered"},
		"decisions": [{
			"id": "behavior_001",
			"timestamp": "2026-01-01T00:00:00Z",
			"category": "behavior",
			"source": "design_choice",
			"confidence": "provisional",
			"phase": "design",
			"status": "active",
			"constraint": "depends on a ghost",
			"dependencies": ["architecture_999"]
		}]
	}`
	if err := os.WriteFile(store.Path(), []byte(tampered), 0640); err != nil {
		t.Fatalf("write tampered file: %v", err)
	}
	if _, _, err := store.Load(); err == nil {
		t.Error("Load accepted a snapshot with a dangling dependency")
	}
}

func TestLedgerStore_AtomicWriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLedgerStore(dir)
	if err != nil {
		t.Fatalf("NewLedgerStore: %v", err)
	}
	if err := store.Save(seededLedger(t).Data()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestSnapshotStore_RoundTrip(t *testing.T) {
	store, err := NewSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}

	blockedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := SessionSnapshot{
		SessionID:    "sess-42",
		CreatedAt:    blockedAt.Add(-time.Hour),
		LastActivity: blockedAt,
		State: StateSnapshot{
			Phase:    string(state.PhaseLattice),
			Status:   string(state.StatusBlocked),
			Substate: "drafting",
		},
		Artifacts: map[string]string{"design_doc": "/tmp/design.md"},
		BlockingQueries: []blocking.Record{{
			ID:        "blocking_lattice_1_abcd1234",
			Phase:     state.PhaseLattice,
			Query:     "Approve the storage layout?",
			Options:   []string{"Yes", "No"},
			BlockedAt: blockedAt,
			TimeoutMs: 300000,
		}},
		ResolvedQueries: []ResolvedQuery{{
			Record: blocking.Record{
				ID:        "blocking_ignition_0_ffff0000",
				Phase:     state.PhaseIgnition,
				Query:     "Which runtime?",
				BlockedAt: blockedAt.Add(-30 * time.Minute),
				Resolved:  true,
				Resolution: &blocking.Resolution{
					QueryID:    "blocking_ignition_0_ffff0000",
					Response:   "Go",
					ResolvedAt: blockedAt.Add(-25 * time.Minute),
				},
			},
			ResolvedAt: blockedAt.Add(-25 * time.Minute),
		}},
	}

	if err := store.Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("Load reported no file after Save")
	}

	if got.SessionID != "sess-42" {
		t.Errorf("SessionID = %q", got.SessionID)
	}
	if got.State.Phase != string(state.PhaseLattice) || got.State.Status != string(state.StatusBlocked) {
		t.Errorf("state round trip lost fields: %+v", got.State)
	}
	if got.State.Substate != "drafting" {
		t.Errorf("substate = %v, want drafting", got.State.Substate)
	}
	if len(got.BlockingQueries) != 1 || got.BlockingQueries[0].TimeoutMs != 300000 {
		t.Errorf("blocking queries lost: %+v", got.BlockingQueries)
	}
	if len(got.ResolvedQueries) != 1 || got.ResolvedQueries[0].Record.Resolution == nil {
		t.Fatalf("resolved queries lost: %+v", got.ResolvedQueries)
	}
	if got.ResolvedQueries[0].Record.Resolution.Response != "Go" {
		t.Errorf("resolution response lost")
	}
	if got.Artifacts["design_doc"] != "/tmp/design.md" {
		t.Errorf("artifacts lost: %v", got.Artifacts)
	}
}

func TestSnapshotStore_LoadMissing(t *testing.T) {
	store, err := NewSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}
	_, ok, err := store.Load()
	if err != nil || ok {
		t.Errorf("Load on empty dir = (ok=%v, err=%v), want (false, nil)", ok, err)
	}
}

func TestStores_ShareSessionDirectory(t *testing.T) {
	dir := t.TempDir()
	ls, err := NewLedgerStore(dir)
	if err != nil {
		t.Fatalf("NewLedgerStore: %v", err)
	}
	ss, err := NewSnapshotStore(dir)
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}
	if filepath.Dir(ls.Path()) != filepath.Dir(ss.Path()) {
		t.Error("stores should share the session directory")
	}
	if ls.Path() == ss.Path() {
		t.Error("stores must not share a file")
	}
}
