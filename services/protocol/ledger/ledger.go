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
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Ledger is the in-memory, append-only decision store.
//
// # Description
//
// The decision list only grows. Existing entries are never removed; the only
// mutations ever applied to a stored decision are the status flip and the
// superseded_by back-link performed by Supersede and Invalidate. Every
// mutating operation validates all of its inputs before touching any state,
// so a failed call leaves the ledger unchanged.
//
// # Thread Safety
//
// Not internally synchronized. Concurrent mutating calls on one instance are
// out of contract; callers must serialize them.
type Ledger struct {
	meta      Meta
	decisions []Decision

	// byID maps decision ID to its index in decisions.
	byID map[string]int

	// seq tracks the next sequence number per category.
	seq map[Category]int

	// dependents is the reverse-dependency index: id -> ids that depend on it.
	dependents map[string][]string

	// clock stamps new decisions; replaceable in tests.
	clock func() time.Time
}

// New creates an empty ledger for the named project.
//
// Inputs:
//
//	project - The workflow instance this ledger belongs to.
//
// Outputs:
//
//	*Ledger - An empty ledger ready for appends.
func New(project string) *Ledger {
	now := time.Now().UTC()
	return &Ledger{
		meta: Meta{
			Version:      FormatVersion,
			Created:      now,
			Project:      project,
			LastModified: now,
		},
		byID:       make(map[string]int),
		seq:        make(map[Category]int),
		dependents: make(map[string][]string),
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// idPattern matches "<category>_<NNN>" IDs.
var idPattern = regexp.MustCompile(`^([a-z_]+)_(\d{3,})$`)

// FromData reconstructs a ledger from its persisted form, re-validating all
// invariants before accepting it.
//
// # Description
//
// The persisted snapshot is never trusted: duplicate IDs, invalid enum
// values, dangling dependency or supersede references, and dependency cycles
// all fail reconstruction. A ledger that fails reconstruction is never
// returned partially built.
//
// Inputs:
//
//	data - Previously persisted ledger data.
//
// Outputs:
//
//	*Ledger - The reconstructed ledger.
//	error - DuplicateIDError, ValidationError, NotFoundError or CycleError.
func FromData(data Data) (*Ledger, error) {
	l := New(data.Meta.Project)
	if data.Meta.Version != "" {
		l.meta = data.Meta
	}

	// Pass 1: IDs unique, enums valid, required fields present.
	for _, d := range data.Decisions {
		if _, dup := l.byID[d.ID]; dup {
			return nil, &DuplicateIDError{ID: d.ID}
		}
		if err := validateStored(d); err != nil {
			return nil, err
		}
		l.byID[d.ID] = -1 // placeholder during reference checking
	}

	// Pass 2: references resolve.
	for _, d := range data.Decisions {
		for _, dep := range d.Dependencies {
			if _, ok := l.byID[dep]; !ok {
				return nil, &NotFoundError{ID: dep, Dependency: true}
			}
		}
		for _, sup := range d.Supersedes {
			if _, ok := l.byID[sup]; !ok {
				return nil, &NotFoundError{ID: sup, Dependency: true}
			}
		}
	}

	// Pass 3: the whole dependency graph is acyclic.
	adj := make(map[string][]string, len(data.Decisions))
	for _, d := range data.Decisions {
		adj[d.ID] = d.Dependencies
	}
	if path := detectCycleAll(adj); path != nil {
		return nil, &CycleError{Path: path}
	}

	// Accept: build indexes and sequence counters.
	for i, d := range data.Decisions {
		stored := d.clone()
		l.decisions = append(l.decisions, stored)
		l.byID[stored.ID] = i
		for _, dep := range stored.Dependencies {
			l.dependents[dep] = append(l.dependents[dep], stored.ID)
		}
		if m := idPattern.FindStringSubmatch(stored.ID); m != nil {
			if n, err := strconv.Atoi(m[2]); err == nil {
				cat := Category(m[1])
				if n > l.seq[cat] {
					l.seq[cat] = n
				}
			}
		}
	}

	return l, nil
}

// Data returns a deep-copy snapshot of the ledger in its persisted shape.
func (l *Ledger) Data() Data {
	out := Data{Meta: l.meta, Decisions: make([]Decision, len(l.decisions))}
	for i, d := range l.decisions {
		out.Decisions[i] = d.clone()
	}
	return out
}

// Meta returns the ledger metadata.
func (l *Ledger) Meta() Meta {
	return l.meta
}

// Len returns the number of decisions recorded.
func (l *Ledger) Len() int {
	return len(l.decisions)
}

// Get returns a copy of the decision with the given ID.
//
// Outputs:
//
//	Decision - A copy of the stored record.
//	error - NotFoundError if the ID is absent.
func (l *Ledger) Get(id string) (Decision, error) {
	idx, ok := l.byID[id]
	if !ok {
		return Decision{}, &NotFoundError{ID: id}
	}
	return l.decisions[idx].clone(), nil
}

// =============================================================================
// Append
// =============================================================================

// Append validates and records a new decision.
//
// # Description
//
// Validation is all-or-nothing before mutation: enum membership, required
// fields, reference resolution and cycle detection all pass before anything
// is written. On success the decision receives a sequential per-category ID,
// a timestamp, and status active.
//
// Inputs:
//
//	in - The caller-supplied decision content.
//
// Outputs:
//
//	Decision - A copy of the recorded decision.
//	error - ValidationError, NotFoundError or CycleError.
func (l *Ledger) Append(in Input) (Decision, error) {
	if err := validateEnums(in); err != nil {
		return Decision{}, err
	}

	id := fmt.Sprintf("%s_%03d", in.Category, l.seq[in.Category]+1)

	// A dependency on the candidate's own ID is a (self-)cycle, not a
	// dangling reference, so reference resolution skips it and the cycle
	// check below reports it.
	for _, dep := range in.Dependencies {
		if dep == id {
			continue
		}
		if _, ok := l.byID[dep]; !ok {
			return Decision{}, &NotFoundError{ID: dep, Dependency: true}
		}
	}
	for _, sup := range in.Supersedes {
		if _, ok := l.byID[sup]; !ok {
			return Decision{}, &NotFoundError{ID: sup, Dependency: true}
		}
	}

	if len(in.Dependencies) > 0 {
		adj := l.adjacency()
		if path := detectCycle(adj, id, in.Dependencies); path != nil {
			return Decision{}, &CycleError{Path: path}
		}
	}

	d := Decision{
		ID:                    id,
		Timestamp:             l.clock(),
		Category:              in.Category,
		Source:                in.Source,
		Confidence:            in.Confidence,
		Phase:                 in.Phase,
		Status:                StatusActive,
		Constraint:            in.Constraint,
		Rationale:             in.Rationale,
		Dependencies:          append([]string(nil), in.Dependencies...),
		Supersedes:            append([]string(nil), in.Supersedes...),
		FailureContext:        in.FailureContext,
		ContradictionResolved: in.ContradictionResolved,
		HumanQueryID:          in.HumanQueryID,
	}
	if len(d.Dependencies) == 0 {
		d.Dependencies = nil
	}
	if len(d.Supersedes) == 0 {
		d.Supersedes = nil
	}

	l.seq[in.Category]++
	l.byID[d.ID] = len(l.decisions)
	l.decisions = append(l.decisions, d)
	for _, dep := range d.Dependencies {
		l.dependents[dep] = append(l.dependents[dep], d.ID)
	}
	l.meta.LastModified = d.Timestamp

	return d.clone(), nil
}

// validateEnums checks enum membership and required fields. It does not
// resolve references or mutate the ledger.
func validateEnums(in Input) error {
	if !in.Category.Valid() {
		return &ValidationError{Field: "category", Value: string(in.Category), Reason: "not a valid category"}
	}
	if !in.Source.Valid() {
		return &ValidationError{Field: "source", Value: string(in.Source), Reason: "not a valid source"}
	}
	if !in.Confidence.Valid() {
		return &ValidationError{Field: "confidence", Value: string(in.Confidence), Reason: "not a valid confidence level"}
	}
	if !in.Phase.Valid() {
		return &ValidationError{Field: "phase", Value: string(in.Phase), Reason: "not a valid phase"}
	}
	if strings.TrimSpace(in.Constraint) == "" {
		return &ValidationError{Field: "constraint", Value: in.Constraint, Reason: "must not be empty"}
	}
	return nil
}

// adjacency builds the id -> dependency ids index from the decision list.
func (l *Ledger) adjacency() map[string][]string {
	adj := make(map[string][]string, len(l.decisions))
	for _, d := range l.decisions {
		adj[d.ID] = d.Dependencies
	}
	return adj
}

// =============================================================================
// Supersede
// =============================================================================

// SupersedeOptions controls supersession behavior.
type SupersedeOptions struct {
	// AllowCanonicalOverride authorizes superseding a canonical decision.
	// Canonical decisions are never replaced implicitly.
	AllowCanonicalOverride bool
}

// Supersede replaces an active decision with a new one, preserving the old
// record as a linked history entry.
//
// # Description
//
// The new decision goes through the same validation as Append, with the old
// ID added to its supersedes list. On success the old decision's status flips
// to superseded and its superseded_by back-link is set. Failure on any check
// leaves both decisions untouched.
//
// Inputs:
//
//	oldID - The decision being replaced.
//	in - Content of the replacement decision.
//	opts - Supersession options.
//
// Outputs:
//
//	Decision - A copy of the new decision.
//	error - NotFoundError, CanonicalOverrideError, ValidationError or CycleError.
func (l *Ledger) Supersede(oldID string, in Input, opts SupersedeOptions) (Decision, error) {
	idx, ok := l.byID[oldID]
	if !ok {
		return Decision{}, &NotFoundError{ID: oldID}
	}
	old := &l.decisions[idx]

	if old.Status != StatusActive {
		return Decision{}, &ValidationError{
			Field:  "supersedes",
			Value:  oldID,
			Reason: fmt.Sprintf("only active decisions can be superseded (status %q)", old.Status),
		}
	}
	if old.Confidence == ConfidenceCanonical && !opts.AllowCanonicalOverride {
		return Decision{}, &CanonicalOverrideError{ID: oldID}
	}

	if !containsString(in.Supersedes, oldID) {
		in.Supersedes = append(append([]string(nil), in.Supersedes...), oldID)
	}

	replacement, err := l.Append(in)
	if err != nil {
		return Decision{}, err
	}

	// Append grows the backing slice, so the pre-append pointer may refer to
	// an abandoned array. Re-resolve the target before writing.
	target := &l.decisions[l.byID[oldID]]
	target.Status = StatusSuperseded
	target.SupersededBy = replacement.ID
	l.meta.LastModified = replacement.Timestamp

	return replacement, nil
}

// =============================================================================
// Invalidate
// =============================================================================

// InvalidateOptions controls invalidation behavior.
type InvalidateOptions struct {
	// DryRun computes the cascade report without mutating the ledger.
	DryRun bool
}

// CascadeEntry describes one dependent decision affected by an invalidation.
type CascadeEntry struct {
	// ID is the affected dependent decision.
	ID string `json:"id"`

	// Constraint is the dependent's constraint text, for operator review.
	Constraint string `json:"constraint"`

	// RemainingActiveDependencies lists the dependent's dependencies that are
	// still active after the invalidation. Empty means the dependent has lost
	// its last active dependency and is a candidate for invalidation.
	RemainingActiveDependencies []string `json:"remaining_active_dependencies"`
}

// CascadeReport enumerates the fallout of an invalidation for the caller to
// act on deliberately. Nothing beyond the target decision is auto-invalidated.
type CascadeReport struct {
	// Invalidated is the decision that was marked invalidated.
	Invalidated Decision `json:"invalidated"`

	// Affected lists direct dependents that no longer have any still-active
	// dependency. They remain active until the caller acts.
	Affected []CascadeEntry `json:"affected"`

	// Intact lists direct dependents that still have at least one other
	// still-active dependency.
	Intact []CascadeEntry `json:"intact"`
}

// Invalidate marks a decision invalidated and reports the cascade of
// dependents the caller should review.
//
// # Description
//
// Only the target decision is mutated. Each direct dependent is classified:
// if it retains at least one other still-active dependency it is intact,
// otherwise it is cascade-affected and a candidate for deliberate
// invalidation by the caller. There is no silent cascading mutation.
//
// Inputs:
//
//	id - The decision to invalidate.
//	opts - Invalidation options.
//
// Outputs:
//
//	CascadeReport - The invalidated decision plus classified dependents.
//	error - NotFoundError if the ID is absent.
func (l *Ledger) Invalidate(id string, opts InvalidateOptions) (CascadeReport, error) {
	idx, ok := l.byID[id]
	if !ok {
		return CascadeReport{}, &NotFoundError{ID: id}
	}
	target := &l.decisions[idx]

	if !opts.DryRun {
		target.Status = StatusInvalidated
		l.meta.LastModified = l.clock()
	}

	report := CascadeReport{Invalidated: target.clone()}
	if opts.DryRun {
		// Present the report as if the flip had happened.
		report.Invalidated.Status = StatusInvalidated
	}

	for _, depID := range l.dependents[id] {
		dep := l.decisions[l.byID[depID]]
		if dep.Status != StatusActive {
			continue
		}
		var remaining []string
		for _, ref := range dep.Dependencies {
			if ref == id {
				continue
			}
			if l.decisions[l.byID[ref]].Status == StatusActive {
				remaining = append(remaining, ref)
			}
		}
		entry := CascadeEntry{
			ID:                          dep.ID,
			Constraint:                  dep.Constraint,
			RemainingActiveDependencies: remaining,
		}
		if len(remaining) == 0 {
			report.Affected = append(report.Affected, entry)
		} else {
			report.Intact = append(report.Intact, entry)
		}
	}

	return report, nil
}

// =============================================================================
// Query / History / Dependency Graph
// =============================================================================

// Filter selects decisions by exact field match. Zero-valued fields are
// wildcards; provided fields combine with AND.
type Filter struct {
	Category   Category   `json:"category,omitempty" form:"category"`
	Phase      Phase      `json:"phase,omitempty" form:"phase"`
	Status     Status     `json:"status,omitempty" form:"status"`
	Confidence Confidence `json:"confidence,omitempty" form:"confidence"`
}

// matches reports whether d satisfies every provided filter field.
func (f Filter) matches(d Decision) bool {
	if f.Category != "" && d.Category != f.Category {
		return false
	}
	if f.Phase != "" && d.Phase != f.Phase {
		return false
	}
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if f.Confidence != "" && d.Confidence != f.Confidence {
		return false
	}
	return true
}

// Query returns copies of all decisions matching the filter, in append order.
func (l *Ledger) Query(f Filter) []Decision {
	var out []Decision
	for _, d := range l.decisions {
		if f.matches(d) {
			out = append(out, d.clone())
		}
	}
	return out
}

// HistoryOptions controls which entries a supersession chain includes.
// The zero value includes superseded and invalidated entries.
type HistoryOptions struct {
	// ExcludeSuperseded omits superseded entries from the chain.
	ExcludeSuperseded bool

	// ExcludeInvalidated omits invalidated entries from the chain.
	ExcludeInvalidated bool
}

// History returns the ordered supersession chain containing the given
// decision, oldest first.
//
// # Description
//
// The chain is walked backward through supersedes links (following the
// predecessor whose superseded_by back-link points at the current entry) and
// forward through superseded_by, then filtered per the options.
//
// Outputs:
//
//	[]Decision - The chain, oldest first.
//	error - NotFoundError if the ID is absent.
func (l *Ledger) History(id string, opts HistoryOptions) ([]Decision, error) {
	idx, ok := l.byID[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}

	// Walk back to the oldest ancestor in this chain.
	cur := l.decisions[idx]
	seen := map[string]bool{cur.ID: true}
	for {
		prev, ok := l.chainPredecessor(cur)
		if !ok || seen[prev.ID] {
			break
		}
		seen[prev.ID] = true
		cur = prev
	}

	// Walk forward through superseded_by.
	var chain []Decision
	visited := make(map[string]bool)
	for {
		if visited[cur.ID] {
			break
		}
		visited[cur.ID] = true
		chain = append(chain, cur.clone())
		if cur.SupersededBy == "" {
			break
		}
		nextIdx, ok := l.byID[cur.SupersededBy]
		if !ok {
			break
		}
		cur = l.decisions[nextIdx]
	}

	var out []Decision
	for _, d := range chain {
		if opts.ExcludeSuperseded && d.Status == StatusSuperseded {
			continue
		}
		if opts.ExcludeInvalidated && d.Status == StatusInvalidated {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// chainPredecessor finds the decision d directly replaced, if any.
func (l *Ledger) chainPredecessor(d Decision) (Decision, bool) {
	for _, supID := range d.Supersedes {
		idx, ok := l.byID[supID]
		if !ok {
			continue
		}
		prev := l.decisions[idx]
		if prev.SupersededBy == d.ID {
			return prev, true
		}
	}
	return Decision{}, false
}

// GraphOptions controls dependency-graph construction.
type GraphOptions struct {
	// IncludeTransitive computes the transitive closures in both directions.
	// Off by default to keep the hot path free of O(n) walks.
	IncludeTransitive bool
}

// Graph describes a decision's position in the dependency graph.
type Graph struct {
	// Decision is the graph's focal decision.
	Decision Decision `json:"decision"`

	// DirectDependencies are the decisions this one depends on.
	DirectDependencies []Decision `json:"direct_dependencies"`

	// DirectDependents are the decisions depending on this one.
	DirectDependents []Decision `json:"direct_dependents"`

	// TransitiveDependencies is the full upstream closure (BFS order).
	// Only populated when requested.
	TransitiveDependencies []Decision `json:"transitive_dependencies,omitempty"`

	// TransitiveDependents is the full downstream closure (BFS order).
	// Only populated when requested.
	TransitiveDependents []Decision `json:"transitive_dependents,omitempty"`
}

// DependencyGraph returns the direct (and optionally transitive) dependency
// neighborhood of a decision.
//
// Outputs:
//
//	Graph - The neighborhood, with copies of every decision.
//	error - NotFoundError if the ID is absent.
func (l *Ledger) DependencyGraph(id string, opts GraphOptions) (Graph, error) {
	idx, ok := l.byID[id]
	if !ok {
		return Graph{}, &NotFoundError{ID: id}
	}
	target := l.decisions[idx]

	g := Graph{Decision: target.clone()}
	for _, dep := range target.Dependencies {
		g.DirectDependencies = append(g.DirectDependencies, l.decisions[l.byID[dep]].clone())
	}
	for _, dep := range l.dependents[id] {
		g.DirectDependents = append(g.DirectDependents, l.decisions[l.byID[dep]].clone())
	}

	if opts.IncludeTransitive {
		for _, rid := range transitiveClosure(l.adjacency(), id) {
			g.TransitiveDependencies = append(g.TransitiveDependencies, l.decisions[l.byID[rid]].clone())
		}
		reverse := make(map[string][]string, len(l.dependents))
		for k, v := range l.dependents {
			reverse[k] = v
		}
		for _, rid := range transitiveClosure(reverse, id) {
			g.TransitiveDependents = append(g.TransitiveDependents, l.decisions[l.byID[rid]].clone())
		}
	}

	return g, nil
}

// =============================================================================
// Helpers
// =============================================================================

// validateStored applies input validation to a persisted decision, including
// the fields the ledger normally assigns itself.
func validateStored(d Decision) error {
	if strings.TrimSpace(d.ID) == "" {
		return &ValidationError{Field: "id", Value: d.ID, Reason: "must not be empty"}
	}
	if !d.Category.Valid() {
		return &ValidationError{Field: "category", Value: string(d.Category), Reason: "not a valid category"}
	}
	if !d.Source.Valid() {
		return &ValidationError{Field: "source", Value: string(d.Source), Reason: "not a valid source"}
	}
	if !d.Confidence.Valid() {
		return &ValidationError{Field: "confidence", Value: string(d.Confidence), Reason: "not a valid confidence level"}
	}
	if !d.Phase.Valid() {
		return &ValidationError{Field: "phase", Value: string(d.Phase), Reason: "not a valid phase"}
	}
	if !d.Status.Valid() {
		return &ValidationError{Field: "status", Value: string(d.Status), Reason: "not a valid status"}
	}
	if strings.TrimSpace(d.Constraint) == "" {
		return &ValidationError{Field: "constraint", Value: d.Constraint, Reason: "must not be empty"}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
