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

package ledger

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"testing"
	"time"
)

func testInput(constraint string) Input {
	return Input{
		Category:   CategoryTesting,
		Source:     SourceDesignChoice,
		Confidence: ConfidenceProvisional,
		Phase:      PhaseDesign,
		Constraint: constraint,
	}
}

// =============================================================================
// Append Tests
// =============================================================================

func TestLedger_Append(t *testing.T) {
	t.Run("assigns sequential per-category ids", func(t *testing.T) {
		l := New("demo")

		first, err := l.Append(testInput("X"))
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if matched := regexp.MustCompile(`^testing_\d{3}$`).MatchString(first.ID); !matched {
			t.Errorf("ID %q does not match testing_NNN", first.ID)
		}
		if first.ID != "testing_001" {
			t.Errorf("first ID = %q, want testing_001", first.ID)
		}
		if first.Status != StatusActive {
			t.Errorf("status = %q, want active", first.Status)
		}

		second, err := l.Append(testInput("Y"))
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if second.ID != "testing_002" {
			t.Errorf("second ID = %q, want testing_002", second.ID)
		}

		other, err := l.Append(Input{
			Category:   CategoryArchitecture,
			Source:     SourceDesignChoice,
			Confidence: ConfidenceProvisional,
			Phase:      PhaseDesign,
			Constraint: "Z",
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if other.ID != "architecture_001" {
			t.Errorf("cross-category ID = %q, want architecture_001", other.ID)
		}
	})

	t.Run("ids never repeat within one ledger", func(t *testing.T) {
		l := New("demo")
		seen := make(map[string]bool)
		for i := 0; i < 25; i++ {
			d, err := l.Append(testInput("constraint"))
			if err != nil {
				t.Fatalf("Append %d failed: %v", i, err)
			}
			if seen[d.ID] {
				t.Fatalf("duplicate ID %q", d.ID)
			}
			seen[d.ID] = true
		}
	})

	t.Run("rejects invalid enum values", func(t *testing.T) {
		l := New("demo")
		tests := []struct {
			name  string
			in    Input
			field string
		}{
			{"bad category", Input{Category: "nope", Source: SourceDesignChoice, Confidence: ConfidenceProvisional, Phase: PhaseDesign, Constraint: "x"}, "category"},
			{"bad source", Input{Category: CategoryTesting, Source: "nope", Confidence: ConfidenceProvisional, Phase: PhaseDesign, Constraint: "x"}, "source"},
			{"bad confidence", Input{Category: CategoryTesting, Source: SourceDesignChoice, Confidence: "nope", Phase: PhaseDesign, Constraint: "x"}, "confidence"},
			{"bad phase", Input{Category: CategoryTesting, Source: SourceDesignChoice, Confidence: ConfidenceProvisional, Phase: "nope", Constraint: "x"}, "phase"},
			{"empty constraint", Input{Category: CategoryTesting, Source: SourceDesignChoice, Confidence: ConfidenceProvisional, Phase: PhaseDesign, Constraint: "  "}, "constraint"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := l.Append(tt.in)
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("err = %v, want ErrInvalidInput", err)
				}
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("err is not a *ValidationError: %v", err)
				}
				if ve.Field != tt.field {
					t.Errorf("field = %q, want %q", ve.Field, tt.field)
				}
				if l.Len() != 0 {
					t.Errorf("ledger mutated on validation failure: len=%d", l.Len())
				}
			})
		}
	})

	t.Run("rejects dangling dependency references", func(t *testing.T) {
		l := New("demo")
		in := testInput("needs ghost")
		in.Dependencies = []string{"testing_999"}
		_, err := l.Append(in)
		if !errors.Is(err, ErrDependencyNotFound) {
			t.Fatalf("err = %v, want ErrDependencyNotFound", err)
		}
		if l.Len() != 0 {
			t.Error("ledger mutated on dangling reference")
		}
	})

	t.Run("self dependency is a cycle and leaves ledger unchanged", func(t *testing.T) {
		l := New("demo")
		a, _ := l.Append(testInput("a"))
		bIn := testInput("b")
		bIn.Dependencies = []string{a.ID}
		b, _ := l.Append(bIn)

		before := l.Data()

		// The candidate will be assigned testing_003; depending on it makes
		// the decision (transitively) include itself.
		cIn := testInput("c")
		cIn.Dependencies = []string{b.ID, "testing_003"}
		_, err := l.Append(cIn)
		if !errors.Is(err, ErrCircularDependency) {
			t.Fatalf("err = %v, want ErrCircularDependency", err)
		}
		var ce *CycleError
		if !errors.As(err, &ce) || len(ce.Path) == 0 {
			t.Fatalf("err carries no cycle path: %v", err)
		}

		after := l.Data()
		if !reflect.DeepEqual(before.Decisions, after.Decisions) {
			t.Error("ledger changed after failed append")
		}
		if next, _ := l.Append(testInput("c")); next.ID != "testing_003" {
			t.Errorf("sequence advanced on failed append: %q", next.ID)
		}
	})

	t.Run("returns copies that do not alias stored state", func(t *testing.T) {
		l := New("demo")
		a, _ := l.Append(testInput("a"))
		in := testInput("b")
		in.Dependencies = []string{a.ID}
		d, err := l.Append(in)
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}

		d.Constraint = "tampered"
		d.Dependencies[0] = "tampered"

		stored, _ := l.Get(d.ID)
		if stored.Constraint != "b" {
			t.Errorf("stored constraint = %q, want %q", stored.Constraint, "b")
		}
		if stored.Dependencies[0] != a.ID {
			t.Errorf("stored dependency = %q, want %q", stored.Dependencies[0], a.ID)
		}
	})
}

// TestLedger_AppendOnly verifies the core append-only property: the list
// only grows and immutable fields never change.
func TestLedger_AppendOnly(t *testing.T) {
	l := New("demo")
	a, _ := l.Append(testInput("a"))
	fixedID, fixedTS, fixedConstraint := a.ID, a.Timestamp, a.Constraint

	lengths := []int{l.Len()}

	b, _ := l.Append(testInput("b"))
	lengths = append(lengths, l.Len())

	if _, err := l.Supersede(a.ID, testInput("a v2"), SupersedeOptions{}); err != nil {
		t.Fatalf("Supersede failed: %v", err)
	}
	lengths = append(lengths, l.Len())

	if _, err := l.Invalidate(b.ID, InvalidateOptions{}); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	lengths = append(lengths, l.Len())

	for i := 1; i < len(lengths); i++ {
		if lengths[i] < lengths[i-1] {
			t.Fatalf("decision count decreased: %v", lengths)
		}
	}

	got, _ := l.Get(a.ID)
	if got.ID != fixedID || !got.Timestamp.Equal(fixedTS) || got.Constraint != fixedConstraint ||
		got.Category != CategoryTesting {
		t.Error("immutable fields changed after supersession")
	}
	if got.Status != StatusSuperseded {
		t.Errorf("status = %q, want superseded", got.Status)
	}
}

// =============================================================================
// Supersede Tests
// =============================================================================

func TestLedger_Supersede(t *testing.T) {
	t.Run("links old and new decisions", func(t *testing.T) {
		l := New("demo")
		old, _ := l.Append(testInput("v1"))

		replacement, err := l.Supersede(old.ID, testInput("v2"), SupersedeOptions{})
		if err != nil {
			t.Fatalf("Supersede failed: %v", err)
		}

		if !containsString(replacement.Supersedes, old.ID) {
			t.Errorf("replacement.Supersedes = %v, missing %q", replacement.Supersedes, old.ID)
		}
		oldNow, _ := l.Get(old.ID)
		if oldNow.Status != StatusSuperseded {
			t.Errorf("old status = %q, want superseded", oldNow.Status)
		}
		if oldNow.SupersededBy != replacement.ID {
			t.Errorf("superseded_by = %q, want %q", oldNow.SupersededBy, replacement.ID)
		}
	})

	t.Run("stored copy reflects the flip as the ledger grows", func(t *testing.T) {
		// Each supersession appends, which may reallocate internal storage;
		// the status flip must land in the live copy every time.
		l := New("demo")
		cur, _ := l.Append(testInput("v1"))
		for i := 2; i <= 4; i++ {
			next, err := l.Supersede(cur.ID, testInput(fmt.Sprintf("v%d", i)), SupersedeOptions{})
			if err != nil {
				t.Fatalf("Supersede v%d failed: %v", i, err)
			}
			stored, _ := l.Get(cur.ID)
			if stored.Status != StatusSuperseded || stored.SupersededBy != next.ID {
				t.Fatalf("after v%d: stored = %q/%q, want superseded/%q",
					i, stored.Status, stored.SupersededBy, next.ID)
			}
			if _, err := l.Supersede(cur.ID, testInput("late"), SupersedeOptions{}); err == nil {
				t.Fatalf("superseding an already superseded decision must fail")
			}
			cur = next
		}
		chain, err := l.History(cur.ID, HistoryOptions{})
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(chain) != 4 {
			t.Errorf("history length = %d, want 4", len(chain))
		}
	})

	t.Run("missing target", func(t *testing.T) {
		l := New("demo")
		_, err := l.Supersede("testing_404", testInput("v2"), SupersedeOptions{})
		if !errors.Is(err, ErrDecisionNotFound) {
			t.Fatalf("err = %v, want ErrDecisionNotFound", err)
		}
	})

	t.Run("canonical decisions are protected", func(t *testing.T) {
		l := New("demo")
		in := testInput("load-bearing")
		in.Confidence = ConfidenceCanonical
		canonical, _ := l.Append(in)

		_, err := l.Supersede(canonical.ID, testInput("quiet rewrite"), SupersedeOptions{})
		if !errors.Is(err, ErrCanonicalOverride) {
			t.Fatalf("err = %v, want ErrCanonicalOverride", err)
		}

		unchanged, _ := l.Get(canonical.ID)
		if unchanged.Status != StatusActive {
			t.Errorf("canonical status = %q, want active", unchanged.Status)
		}
		if unchanged.SupersededBy != "" {
			t.Errorf("canonical superseded_by = %q, want empty", unchanged.SupersededBy)
		}
	})

	t.Run("explicit override supersedes canonical", func(t *testing.T) {
		l := New("demo")
		in := testInput("load-bearing")
		in.Confidence = ConfidenceCanonical
		canonical, _ := l.Append(in)

		replacement, err := l.Supersede(canonical.ID, testInput("deliberate rewrite"),
			SupersedeOptions{AllowCanonicalOverride: true})
		if err != nil {
			t.Fatalf("Supersede with override failed: %v", err)
		}
		oldNow, _ := l.Get(canonical.ID)
		if oldNow.SupersededBy != replacement.ID {
			t.Errorf("superseded_by = %q, want %q", oldNow.SupersededBy, replacement.ID)
		}
	})

	t.Run("already superseded target is rejected", func(t *testing.T) {
		l := New("demo")
		old, _ := l.Append(testInput("v1"))
		if _, err := l.Supersede(old.ID, testInput("v2"), SupersedeOptions{}); err != nil {
			t.Fatalf("first Supersede failed: %v", err)
		}
		_, err := l.Supersede(old.ID, testInput("v3"), SupersedeOptions{})
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("err = %v, want ErrInvalidInput", err)
		}
	})
}

// =============================================================================
// Invalidate Tests
// =============================================================================

func TestLedger_Invalidate(t *testing.T) {
	t.Run("reports affected dependents without mutating them", func(t *testing.T) {
		l := New("demo")
		base, _ := l.Append(testInput("base"))
		other, _ := l.Append(testInput("other"))

		soleDep := testInput("depends only on base")
		soleDep.Dependencies = []string{base.ID}
		sole, _ := l.Append(soleDep)

		dualDep := testInput("depends on base and other")
		dualDep.Dependencies = []string{base.ID, other.ID}
		dual, _ := l.Append(dualDep)

		report, err := l.Invalidate(base.ID, InvalidateOptions{})
		if err != nil {
			t.Fatalf("Invalidate failed: %v", err)
		}

		if report.Invalidated.Status != StatusInvalidated {
			t.Errorf("invalidated status = %q", report.Invalidated.Status)
		}
		if len(report.Affected) != 1 || report.Affected[0].ID != sole.ID {
			t.Errorf("affected = %+v, want just %q", report.Affected, sole.ID)
		}
		if len(report.Intact) != 1 || report.Intact[0].ID != dual.ID {
			t.Errorf("intact = %+v, want just %q", report.Intact, dual.ID)
		}
		if got := report.Intact[0].RemainingActiveDependencies; len(got) != 1 || got[0] != other.ID {
			t.Errorf("remaining deps = %v, want [%s]", got, other.ID)
		}

		// No silent cascade: dependents stay active.
		for _, id := range []string{sole.ID, dual.ID} {
			d, _ := l.Get(id)
			if d.Status != StatusActive {
				t.Errorf("dependent %q status = %q, want active", id, d.Status)
			}
		}
	})

	t.Run("dry run leaves the target active", func(t *testing.T) {
		l := New("demo")
		base, _ := l.Append(testInput("base"))

		report, err := l.Invalidate(base.ID, InvalidateOptions{DryRun: true})
		if err != nil {
			t.Fatalf("Invalidate dry run failed: %v", err)
		}
		if report.Invalidated.Status != StatusInvalidated {
			t.Error("dry-run report should present the flipped status")
		}
		stored, _ := l.Get(base.ID)
		if stored.Status != StatusActive {
			t.Errorf("stored status = %q, want active after dry run", stored.Status)
		}
	})

	t.Run("missing target", func(t *testing.T) {
		l := New("demo")
		_, err := l.Invalidate("testing_404", InvalidateOptions{})
		if !errors.Is(err, ErrDecisionNotFound) {
			t.Fatalf("err = %v, want ErrDecisionNotFound", err)
		}
	})
}

// =============================================================================
// Query / History / Graph Tests
// =============================================================================

func TestLedger_Query(t *testing.T) {
	l := New("demo")
	l.Append(testInput("a"))
	archIn := Input{
		Category:   CategoryArchitecture,
		Source:     SourceHumanInterview,
		Confidence: ConfidenceCanonical,
		Phase:      PhaseInterview,
		Constraint: "b",
	}
	l.Append(archIn)

	t.Run("omitted fields are wildcards", func(t *testing.T) {
		if got := len(l.Query(Filter{})); got != 2 {
			t.Errorf("unfiltered query = %d decisions, want 2", got)
		}
	})

	t.Run("fields combine with AND", func(t *testing.T) {
		got := l.Query(Filter{Category: CategoryArchitecture, Confidence: ConfidenceCanonical})
		if len(got) != 1 || got[0].Constraint != "b" {
			t.Errorf("query = %+v, want the architecture decision", got)
		}
		if got := l.Query(Filter{Category: CategoryArchitecture, Confidence: ConfidenceProvisional}); len(got) != 0 {
			t.Errorf("conflicting AND query returned %d decisions", len(got))
		}
	})

	t.Run("status filter sees flips", func(t *testing.T) {
		active := l.Query(Filter{Status: StatusActive})
		if len(active) != 2 {
			t.Fatalf("active = %d, want 2", len(active))
		}
		l.Supersede(active[0].ID, testInput("replacement"), SupersedeOptions{})
		if got := len(l.Query(Filter{Status: StatusSuperseded})); got != 1 {
			t.Errorf("superseded = %d, want 1", got)
		}
	})
}

func TestLedger_History(t *testing.T) {
	l := New("demo")
	v1, _ := l.Append(testInput("v1"))
	v2, _ := l.Supersede(v1.ID, testInput("v2"), SupersedeOptions{})
	v3, _ := l.Supersede(v2.ID, testInput("v3"), SupersedeOptions{})

	t.Run("chain is ordered oldest first from any entry", func(t *testing.T) {
		for _, id := range []string{v1.ID, v2.ID, v3.ID} {
			chain, err := l.History(id, HistoryOptions{})
			if err != nil {
				t.Fatalf("History(%s) failed: %v", id, err)
			}
			if len(chain) != 3 {
				t.Fatalf("History(%s) = %d entries, want 3", id, len(chain))
			}
			if chain[0].ID != v1.ID || chain[1].ID != v2.ID || chain[2].ID != v3.ID {
				t.Errorf("chain order = %s,%s,%s", chain[0].ID, chain[1].ID, chain[2].ID)
			}
		}
	})

	t.Run("flags filter superseded entries", func(t *testing.T) {
		chain, _ := l.History(v3.ID, HistoryOptions{ExcludeSuperseded: true})
		if len(chain) != 1 || chain[0].ID != v3.ID {
			t.Errorf("filtered chain = %+v, want only %s", chain, v3.ID)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		if _, err := l.History("testing_404", HistoryOptions{}); !errors.Is(err, ErrDecisionNotFound) {
			t.Fatalf("err = %v, want ErrDecisionNotFound", err)
		}
	})
}

func TestLedger_DependencyGraph(t *testing.T) {
	l := New("demo")
	root, _ := l.Append(testInput("root"))

	midIn := testInput("mid")
	midIn.Dependencies = []string{root.ID}
	mid, _ := l.Append(midIn)

	leafIn := testInput("leaf")
	leafIn.Dependencies = []string{mid.ID}
	leaf, _ := l.Append(leafIn)

	t.Run("direct only by default", func(t *testing.T) {
		g, err := l.DependencyGraph(mid.ID, GraphOptions{})
		if err != nil {
			t.Fatalf("DependencyGraph failed: %v", err)
		}
		if len(g.DirectDependencies) != 1 || g.DirectDependencies[0].ID != root.ID {
			t.Errorf("direct deps = %+v", g.DirectDependencies)
		}
		if len(g.DirectDependents) != 1 || g.DirectDependents[0].ID != leaf.ID {
			t.Errorf("direct dependents = %+v", g.DirectDependents)
		}
		if g.TransitiveDependencies != nil || g.TransitiveDependents != nil {
			t.Error("transitive closures computed without being requested")
		}
	})

	t.Run("transitive closures on request", func(t *testing.T) {
		g, err := l.DependencyGraph(leaf.ID, GraphOptions{IncludeTransitive: true})
		if err != nil {
			t.Fatalf("DependencyGraph failed: %v", err)
		}
		if len(g.TransitiveDependencies) != 2 {
			t.Fatalf("transitive deps = %d, want 2", len(g.TransitiveDependencies))
		}
		if g.TransitiveDependencies[0].ID != mid.ID || g.TransitiveDependencies[1].ID != root.ID {
			t.Errorf("BFS order = %s,%s, want %s,%s",
				g.TransitiveDependencies[0].ID, g.TransitiveDependencies[1].ID, mid.ID, root.ID)
		}

		g, _ = l.DependencyGraph(root.ID, GraphOptions{IncludeTransitive: true})
		if len(g.TransitiveDependents) != 2 {
			t.Errorf("transitive dependents = %d, want 2", len(g.TransitiveDependents))
		}
	})
}

// =============================================================================
// FromData Tests
// =============================================================================

func TestLedger_FromData(t *testing.T) {
	t.Run("round trips a live ledger", func(t *testing.T) {
		l := New("demo")
		a, _ := l.Append(testInput("a"))
		bIn := testInput("b")
		bIn.Dependencies = []string{a.ID}
		l.Append(bIn)
		l.Supersede(a.ID, testInput("a v2"), SupersedeOptions{})

		restored, err := FromData(l.Data())
		if err != nil {
			t.Fatalf("FromData failed: %v", err)
		}
		if !reflect.DeepEqual(restored.Data(), l.Data()) {
			t.Error("round trip lost data")
		}

		// Sequence counters must continue, not restart.
		next, err := restored.Append(testInput("c"))
		if err != nil {
			t.Fatalf("Append after restore failed: %v", err)
		}
		if next.ID != "testing_004" {
			t.Errorf("post-restore ID = %q, want testing_004", next.ID)
		}
	})

	t.Run("rejects duplicate ids", func(t *testing.T) {
		d := Decision{
			ID: "testing_001", Timestamp: time.Now(), Category: CategoryTesting,
			Source: SourceDesignChoice, Confidence: ConfidenceProvisional,
			Phase: PhaseDesign, Status: StatusActive, Constraint: "x",
		}
		_, err := FromData(Data{Decisions: []Decision{d, d}})
		if !errors.Is(err, ErrDuplicateDecisionID) {
			t.Fatalf("err = %v, want ErrDuplicateDecisionID", err)
		}
	})

	t.Run("rejects dangling references", func(t *testing.T) {
		d := Decision{
			ID: "testing_001", Timestamp: time.Now(), Category: CategoryTesting,
			Source: SourceDesignChoice, Confidence: ConfidenceProvisional,
			Phase: PhaseDesign, Status: StatusActive, Constraint: "x",
			Dependencies: []string{"testing_999"},
		}
		_, err := FromData(Data{Decisions: []Decision{d}})
		if !errors.Is(err, ErrDependencyNotFound) {
			t.Fatalf("err = %v, want ErrDependencyNotFound", err)
		}
	})

	t.Run("rejects persisted cycles", func(t *testing.T) {
		mk := func(id string, deps ...string) Decision {
			return Decision{
				ID: id, Timestamp: time.Now(), Category: CategoryTesting,
				Source: SourceDesignChoice, Confidence: ConfidenceProvisional,
				Phase: PhaseDesign, Status: StatusActive, Constraint: "x",
				Dependencies: deps,
			}
		}
		_, err := FromData(Data{Decisions: []Decision{
			mk("testing_001", "testing_002"),
			mk("testing_002", "testing_003"),
			mk("testing_003", "testing_001"),
		}})
		if !errors.Is(err, ErrCircularDependency) {
			t.Fatalf("err = %v, want ErrCircularDependency", err)
		}
	})

	t.Run("rejects invalid stored enums", func(t *testing.T) {
		d := Decision{
			ID: "testing_001", Timestamp: time.Now(), Category: "nope",
			Source: SourceDesignChoice, Confidence: ConfidenceProvisional,
			Phase: PhaseDesign, Status: StatusActive, Constraint: "x",
		}
		_, err := FromData(Data{Decisions: []Decision{d}})
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("err = %v, want ErrInvalidInput", err)
		}
	})
}

// =============================================================================
// Cycle Detection Tests
// =============================================================================

func TestDetectCycle(t *testing.T) {
	t.Run("self edge", func(t *testing.T) {
		if path := detectCycle(map[string][]string{}, "a", []string{"a"}); path == nil {
			t.Error("self edge not detected")
		}
	})

	t.Run("long cycle through existing edges", func(t *testing.T) {
		adj := map[string][]string{
			"b": {"c"},
			"c": {"d"},
			"d": {}, // candidate a will make d -> a impossible; cycle closes via d's new edge below
		}
		// Candidate a depends on b; then simulate d depending on a.
		adj["d"] = []string{"a"}
		if path := detectCycle(adj, "a", []string{"b"}); path == nil {
			t.Error("transitive cycle not detected")
		}
	})

	t.Run("diamond is not a cycle", func(t *testing.T) {
		adj := map[string][]string{
			"b": {"d"},
			"c": {"d"},
			"d": {},
		}
		if path := detectCycle(adj, "a", []string{"b", "c"}); path != nil {
			t.Errorf("false positive on diamond: %v", path)
		}
	})

	t.Run("deep chain does not overflow", func(t *testing.T) {
		adj := make(map[string][]string)
		prev := ""
		for i := 0; i < 50000; i++ {
			id := string(rune('a')) + itoa(i)
			if prev != "" {
				adj[prev] = []string{id}
			}
			adj[id] = nil
			prev = id
		}
		if path := detectCycle(adj, "root", []string{"a0"}); path != nil {
			t.Errorf("false positive on deep chain: %v", path)
		}
	})
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	return string(b)
}
