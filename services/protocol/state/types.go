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

// Package state defines the protocol phase state machine as pure value types.
//
// A workflow instance is always in exactly one of seven ordered phases, and
// any non-terminal phase carries one of three macro-states: Active (normal
// execution), Blocked (paused for external input) or Failed (executor
// reported a fault). Every transition function takes a snapshot and returns
// a new one; nothing in this package mutates shared state.
//
// The package intentionally does not drive phase progression. Which phase
// follows which is fixed, but deciding when to advance belongs to the
// external scheduler; this package only answers legality questions.
package state

import "time"

// =============================================================================
// Phases
// =============================================================================

// Phase is one of the seven ordered stages of the generation protocol.
type Phase string

const (
	// PhaseIgnition is the requirements interview.
	PhaseIgnition Phase = "Ignition"

	// PhaseLattice is specification authoring and scaffolding.
	PhaseLattice Phase = "Lattice"

	// PhaseCompositionAudit checks the scaffold against the specification.
	PhaseCompositionAudit Phase = "CompositionAudit"

	// PhaseInjection fills scaffolding with generated code.
	PhaseInjection Phase = "Injection"

	// PhaseMesoscopic runs mid-scale verification.
	PhaseMesoscopic Phase = "Mesoscopic"

	// PhaseMassDefect is the iterative complexity-reduction loop.
	PhaseMassDefect Phase = "MassDefect"

	// PhaseComplete is terminal. It has no active substate and no blocking
	// surface.
	PhaseComplete Phase = "Complete"
)

// phaseOrder fixes the total order of the protocol phases.
var phaseOrder = []Phase{
	PhaseIgnition,
	PhaseLattice,
	PhaseCompositionAudit,
	PhaseInjection,
	PhaseMesoscopic,
	PhaseMassDefect,
	PhaseComplete,
}

// Phases returns all phases in protocol order.
func Phases() []Phase {
	return append([]Phase(nil), phaseOrder...)
}

// Valid reports whether p is one of the seven protocol phases.
func (p Phase) Valid() bool {
	for _, candidate := range phaseOrder {
		if p == candidate {
			return true
		}
	}
	return false
}

// Terminal reports whether p is the terminal phase.
func (p Phase) Terminal() bool {
	return p == PhaseComplete
}

// Order returns p's position in the protocol order, or -1 if invalid.
func (p Phase) Order() int {
	for i, candidate := range phaseOrder {
		if p == candidate {
			return i
		}
	}
	return -1
}

// Next returns the phase following p in protocol order.
//
// Outputs:
//
//	Phase - The successor phase.
//	bool - False if p is terminal or invalid.
func (p Phase) Next() (Phase, bool) {
	i := p.Order()
	if i < 0 || i >= len(phaseOrder)-1 {
		return "", false
	}
	return phaseOrder[i+1], true
}

// String returns the phase tag.
func (p Phase) String() string {
	return string(p)
}

// =============================================================================
// Macro-States
// =============================================================================

// Status is the macro-state layered over a non-terminal phase.
type Status string

const (
	// StatusActive is normal execution under a phase-owned substate.
	StatusActive Status = "active"

	// StatusBlocked is paused pending external input.
	StatusBlocked Status = "blocked"

	// StatusFailed records an executor-reported fault. Terminal for this
	// core; retries construct a fresh Active state externally.
	StatusFailed Status = "failed"
)

// Valid reports whether s is a member of the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusBlocked, StatusFailed:
		return true
	default:
		return false
	}
}

// BlockedInfo carries the payload of a Blocked macro-state.
type BlockedInfo struct {
	// QueryID links the state to its blocking record.
	QueryID string `json:"queryId"`

	// Query is the question awaiting external input.
	Query string `json:"query"`

	// Options are the allowed responses. Empty means free-form.
	Options []string `json:"options,omitempty"`

	// BlockedAt is when the pause began.
	BlockedAt time.Time `json:"blockedAt"`

	// TimeoutMs is the pause budget in milliseconds. Zero means no timeout.
	TimeoutMs int64 `json:"timeoutMs,omitempty"`
}

// FailedInfo carries the payload of a Failed macro-state.
type FailedInfo struct {
	// Error is the human-readable fault description.
	Error string `json:"error"`

	// Code is the machine-readable fault code.
	Code string `json:"code"`

	// Recoverable tells the scheduler whether a retry could succeed.
	Recoverable bool `json:"recoverable"`

	// Context optionally carries structured fault detail.
	Context map[string]any `json:"context,omitempty"`

	// FailedAt is when the fault was recorded.
	FailedAt time.Time `json:"failedAt"`
}

// State is an immutable snapshot of a workflow instance's position: a phase
// tag plus a macro-state. Exactly one of Blocked/Failed is set for the
// corresponding status; Active states carry only the opaque substate.
//
// Substate is a phase-owned payload this core never interprets. Treat the
// substate on a state returned by a blocking resolution as advisory only;
// callers that care about real pre-blocking progress must persist and
// restore it themselves.
type State struct {
	// Phase is the current protocol phase.
	Phase Phase `json:"phase"`

	// Status is the macro-state tag.
	Status Status `json:"status"`

	// Substate is the opaque phase-owned payload (Active states only).
	Substate any `json:"substate,omitempty"`

	// Blocked is set iff Status == StatusBlocked.
	Blocked *BlockedInfo `json:"blocked,omitempty"`

	// Failed is set iff Status == StatusFailed.
	Failed *FailedInfo `json:"failed,omitempty"`
}

// IsActive reports whether the snapshot is in normal execution.
func (s State) IsActive() bool {
	return s.Status == StatusActive
}

// IsBlocked reports whether the snapshot is paused for external input.
func (s State) IsBlocked() bool {
	return s.Status == StatusBlocked
}

// IsFailed reports whether the snapshot records a fault.
func (s State) IsFailed() bool {
	return s.Status == StatusFailed
}

// GetPhase extracts the phase tag from a snapshot.
//
// Outputs:
//
//	Phase - The current phase.
//	bool - False when the snapshot has no operable phase: the terminal
//	       Complete phase or an invalid tag.
func GetPhase(s State) (Phase, bool) {
	if !s.Phase.Valid() || s.Phase.Terminal() {
		return "", false
	}
	return s.Phase, true
}
