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

package state

import "time"

// Macro-state transition rules enforced by this core:
//
//	active → blocked   : enterBlocking (phase must be non-terminal)
//	blocked → active   : resolveBlocking, or handleTimeout with strategy default
//	blocked → failed   : handleTimeout with strategy fail
//
// active → failed is decided entirely by the external phase executor; the
// core defines the shape of a Failed state but not when to enter it, so the
// edge appears in the legality table. failed is terminal here: any retry is
// an external decision that constructs a fresh Active state.
var legalTransitions = map[Status]map[Status]bool{
	StatusActive: {
		StatusBlocked: true,
		StatusFailed:  true,
	},
	StatusBlocked: {
		StatusActive: true,
		StatusFailed: true,
	},
	StatusFailed: {},
}

// CanTransition reports whether a macro-state transition is legal.
//
// Inputs:
//
//	from - Current macro-state.
//	to - Target macro-state.
//
// Outputs:
//
//	bool - True if the transition is legal.
func CanTransition(from, to Status) bool {
	if targets, ok := legalTransitions[from]; ok {
		return targets[to]
	}
	return false
}

// =============================================================================
// Constructors
// =============================================================================

// Pure constructors. Each produces a fresh snapshot and never mutates an
// existing one; the caller decides which snapshot to keep.

// NewActive creates an Active snapshot for a phase.
//
// Inputs:
//
//	phase - The current protocol phase.
//	substate - Opaque phase-owned payload; may be nil.
//
// Outputs:
//
//	State - A fresh Active snapshot.
func NewActive(phase Phase, substate any) State {
	return State{
		Phase:    phase,
		Status:   StatusActive,
		Substate: substate,
	}
}

// NewBlocked creates a Blocked snapshot for a phase.
//
// Inputs:
//
//	phase - The current protocol phase.
//	info - The blocking payload (query, options, deadline).
//
// Outputs:
//
//	State - A fresh Blocked snapshot.
func NewBlocked(phase Phase, info BlockedInfo) State {
	infoCopy := info
	if info.Options != nil {
		infoCopy.Options = append([]string(nil), info.Options...)
	}
	return State{
		Phase:   phase,
		Status:  StatusBlocked,
		Blocked: &infoCopy,
	}
}

// NewFailed creates a Failed snapshot for a phase.
//
// Inputs:
//
//	phase - The current protocol phase.
//	info - The fault payload. FailedAt defaults to now if zero.
//
// Outputs:
//
//	State - A fresh Failed snapshot.
func NewFailed(phase Phase, info FailedInfo) State {
	infoCopy := info
	if infoCopy.FailedAt.IsZero() {
		infoCopy.FailedAt = time.Now().UTC()
	}
	if info.Context != nil {
		infoCopy.Context = make(map[string]any, len(info.Context))
		for k, v := range info.Context {
			infoCopy.Context[k] = v
		}
	}
	return State{
		Phase:  phase,
		Status: StatusFailed,
		Failed: &infoCopy,
	}
}

// NewComplete creates the terminal snapshot.
func NewComplete() State {
	return State{
		Phase:  PhaseComplete,
		Status: StatusActive,
	}
}
