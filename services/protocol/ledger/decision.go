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

// Package ledger implements the append-only decision ledger at the heart of
// the protocol coordination core.
//
// The ledger records every constraint the workflow has ever agreed upon as an
// immutable Decision. Decisions are never deleted: supersession and
// invalidation flip status fields and add back-links, but the underlying list
// only grows. Every restart reloads the ledger from its persisted form and
// re-validates all invariants before accepting it.
//
// # Error Philosophy
//
// Every error returned by this package signals a caller-contract violation
// (bad input, dangling reference, cycle, canonical override without
// authorization). Errors are never retried automatically and a failed
// operation leaves the ledger byte-for-byte unchanged.
//
// # Thread Safety
//
// The ledger performs no internal locking. Callers that share one ledger
// instance across goroutines must serialize all mutating calls (Append,
// Supersede, Invalidate); see the runtime session for the single-writer
// discipline used in practice.
package ledger

import "time"

// =============================================================================
// Closed Enumerations
// =============================================================================

// Category classifies what kind of constraint a decision records.
//
// Categories are a closed set. The category doubles as the ID prefix:
// decision IDs have the form "<category>_<sequence>" with a 3-digit
// zero-padded per-category sequence.
type Category string

const (
	// CategoryArchitecture covers system-structure constraints.
	CategoryArchitecture Category = "architecture"

	// CategoryInterface covers API and boundary constraints.
	CategoryInterface Category = "interface"

	// CategoryDataModel covers persisted and in-memory data shapes.
	CategoryDataModel Category = "data_model"

	// CategoryBehavior covers runtime semantics.
	CategoryBehavior Category = "behavior"

	// CategoryTesting covers verification strategy constraints.
	CategoryTesting Category = "testing"

	// CategorySecurity covers trust and safety constraints.
	CategorySecurity Category = "security"

	// CategoryPerformance covers budget and latency constraints.
	CategoryPerformance Category = "performance"

	// CategoryBlocking records resolutions of blocking human queries.
	CategoryBlocking Category = "blocking"
)

// Categories returns all valid categories.
func Categories() []Category {
	return []Category{
		CategoryArchitecture,
		CategoryInterface,
		CategoryDataModel,
		CategoryBehavior,
		CategoryTesting,
		CategorySecurity,
		CategoryPerformance,
		CategoryBlocking,
	}
}

// Valid reports whether c is a member of the closed category set.
func (c Category) Valid() bool {
	switch c {
	case CategoryArchitecture, CategoryInterface, CategoryDataModel,
		CategoryBehavior, CategoryTesting, CategorySecurity,
		CategoryPerformance, CategoryBlocking:
		return true
	default:
		return false
	}
}

// Source identifies the provenance of a decision.
type Source string

const (
	// SourceHumanInterview marks constraints gathered during the interview phase.
	SourceHumanInterview Source = "human_interview"

	// SourceDesignChoice marks constraints an agent chose during specification.
	SourceDesignChoice Source = "design_choice"

	// SourceFailureAnalysis marks constraints derived from a failed verification.
	SourceFailureAnalysis Source = "failure_analysis"

	// SourceContradictionResolution marks constraints that settle a conflict
	// between earlier decisions.
	SourceContradictionResolution Source = "contradiction_resolution"

	// SourceAuditFinding marks constraints produced by the composition audit.
	SourceAuditFinding Source = "audit_finding"

	// SourceHumanResolution marks answers to blocking queries.
	SourceHumanResolution Source = "human_resolution"
)

// Valid reports whether s is a member of the closed source set.
func (s Source) Valid() bool {
	switch s {
	case SourceHumanInterview, SourceDesignChoice, SourceFailureAnalysis,
		SourceContradictionResolution, SourceAuditFinding, SourceHumanResolution:
		return true
	default:
		return false
	}
}

// Confidence ranks how settled a decision is, from canonical (may only be
// superseded with explicit authorization) down to blocking (provisional
// pending human input).
type Confidence string

const (
	// ConfidenceCanonical decisions require deliberate, explicit supersession.
	ConfidenceCanonical Confidence = "canonical"

	// ConfidenceValidated decisions have survived at least one verification pass.
	ConfidenceValidated Confidence = "validated"

	// ConfidenceProvisional decisions are working assumptions.
	ConfidenceProvisional Confidence = "provisional"

	// ConfidenceBlocking decisions are placeholders awaiting external input.
	ConfidenceBlocking Confidence = "blocking"
)

// Valid reports whether c is a member of the closed confidence set.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceCanonical, ConfidenceValidated, ConfidenceProvisional, ConfidenceBlocking:
		return true
	default:
		return false
	}
}

// Phase identifies which stage of the protocol produced a decision.
//
// This is the ledger's own phase vocabulary. The protocol state machine's
// phase tags map onto it; see the blocking package.
type Phase string

const (
	// PhaseInterview is the requirements interview.
	PhaseInterview Phase = "interview"

	// PhaseDesign is specification authoring.
	PhaseDesign Phase = "design"

	// PhaseScaffolding is structural code generation.
	PhaseScaffolding Phase = "scaffolding"

	// PhaseAudit is the composition audit.
	PhaseAudit Phase = "audit"

	// PhaseInjection is code injection.
	PhaseInjection Phase = "injection"

	// PhaseVerification is test and type verification.
	PhaseVerification Phase = "verification"

	// PhaseReduction is the complexity-reduction loop.
	PhaseReduction Phase = "reduction"
)

// Valid reports whether p is a member of the closed phase set.
func (p Phase) Valid() bool {
	switch p {
	case PhaseInterview, PhaseDesign, PhaseScaffolding, PhaseAudit,
		PhaseInjection, PhaseVerification, PhaseReduction:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a decision. Status and the superseded_by
// back-link are the only mutable fields of a decision.
type Status string

const (
	// StatusActive decisions are in force.
	StatusActive Status = "active"

	// StatusSuperseded decisions were replaced by a newer decision.
	StatusSuperseded Status = "superseded"

	// StatusInvalidated decisions were explicitly withdrawn.
	StatusInvalidated Status = "invalidated"
)

// Valid reports whether s is a member of the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuperseded, StatusInvalidated:
		return true
	default:
		return false
	}
}

// =============================================================================
// Decision
// =============================================================================

// Decision is an immutable audit record of one agreed constraint.
//
// Once created, every field except Status and SupersededBy is immutable for
// the lifetime of the ledger. The ledger hands out copies; mutating a
// returned Decision never affects the stored record.
type Decision struct {
	// ID is unique within the ledger, format "<category>_<NNN>".
	ID string `json:"id"`

	// Timestamp is the creation instant.
	Timestamp time.Time `json:"timestamp"`

	// Category classifies the constraint.
	Category Category `json:"category"`

	// Source records provenance.
	Source Source `json:"source"`

	// Confidence ranks how settled the decision is.
	Confidence Confidence `json:"confidence"`

	// Phase is the protocol stage that produced the decision.
	Phase Phase `json:"phase"`

	// Status is the lifecycle state (active, superseded, invalidated).
	Status Status `json:"status"`

	// Constraint is the agreed statement: what, not why.
	Constraint string `json:"constraint"`

	// Rationale is the optional why.
	Rationale string `json:"rationale,omitempty"`

	// Dependencies lists decision IDs this decision depends on.
	Dependencies []string `json:"dependencies,omitempty"`

	// Supersedes lists decision IDs this decision replaces.
	Supersedes []string `json:"supersedes,omitempty"`

	// SupersededBy is set only when Status becomes superseded.
	SupersededBy string `json:"superseded_by,omitempty"`

	// FailureContext optionally records the failure that motivated the decision.
	FailureContext string `json:"failure_context,omitempty"`

	// ContradictionResolved optionally names the contradiction this settles.
	ContradictionResolved string `json:"contradiction_resolved,omitempty"`

	// HumanQueryID links blocking resolutions back to their blocking record.
	HumanQueryID string `json:"human_query_id,omitempty"`
}

// clone returns a deep copy so stored records never alias caller slices.
func (d Decision) clone() Decision {
	out := d
	if d.Dependencies != nil {
		out.Dependencies = append([]string(nil), d.Dependencies...)
	}
	if d.Supersedes != nil {
		out.Supersedes = append([]string(nil), d.Supersedes...)
	}
	return out
}

// Input is the caller-supplied portion of a new decision. ID, timestamp and
// status are assigned by the ledger on append.
type Input struct {
	// Category classifies the constraint. Required.
	Category Category `json:"category"`

	// Source records provenance. Required.
	Source Source `json:"source"`

	// Confidence ranks the decision. Required.
	Confidence Confidence `json:"confidence"`

	// Phase is the protocol stage. Required.
	Phase Phase `json:"phase"`

	// Constraint is the agreed statement. Required, non-empty.
	Constraint string `json:"constraint"`

	// Rationale is optional.
	Rationale string `json:"rationale,omitempty"`

	// Dependencies lists existing decision IDs this decision depends on.
	Dependencies []string `json:"dependencies,omitempty"`

	// Supersedes lists existing decision IDs this decision replaces.
	Supersedes []string `json:"supersedes,omitempty"`

	// FailureContext is optional provenance.
	FailureContext string `json:"failure_context,omitempty"`

	// ContradictionResolved is optional provenance.
	ContradictionResolved string `json:"contradiction_resolved,omitempty"`

	// HumanQueryID is optional provenance linking to a blocking record.
	HumanQueryID string `json:"human_query_id,omitempty"`
}

// =============================================================================
// Persisted Shape
// =============================================================================

// Meta is the ledger-level metadata block of the persisted form.
type Meta struct {
	// Version is the ledger format version.
	Version string `json:"version"`

	// Created is when the ledger was first created.
	Created time.Time `json:"created"`

	// Project names the workflow instance this ledger belongs to.
	Project string `json:"project"`

	// LastModified is updated on every successful mutation.
	LastModified time.Time `json:"last_modified"`
}

// Data is the persisted ledger shape. It must round-trip without loss;
// FromData re-validates all invariants when loading it.
type Data struct {
	Meta      Meta       `json:"meta"`
	Decisions []Decision `json:"decisions"`
}

// FormatVersion is the current persisted ledger format version.
const FormatVersion = "1.0"
