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
)

// Sentinel errors for the ledger package.
var (
	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid decision input")

	// ErrDecisionNotFound is returned when a referenced decision doesn't exist.
	ErrDecisionNotFound = errors.New("decision not found")

	// ErrDependencyNotFound is returned when a dependency or supersede
	// reference points at a decision ID that doesn't exist.
	ErrDependencyNotFound = errors.New("dependency not found")

	// ErrCircularDependency is returned when a decision's dependency edges
	// would introduce a cycle.
	ErrCircularDependency = errors.New("circular dependency detected")

	// ErrCanonicalOverride is returned when superseding a canonical decision
	// without explicit authorization.
	ErrCanonicalOverride = errors.New("canonical decision requires explicit override")

	// ErrDuplicateDecisionID is returned when reconstructing a ledger whose
	// persisted form contains two decisions with the same ID.
	ErrDuplicateDecisionID = errors.New("duplicate decision id")
)

// ValidationError reports which input field failed validation.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

// Error returns the validation failure message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid decision input: field %q (%q): %s", e.Field, e.Value, e.Reason)
}

// Unwrap returns ErrInvalidInput so errors.Is works.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError wraps a missing decision or dependency reference with its ID.
type NotFoundError struct {
	ID string

	// Dependency is true when the ID was referenced as a dependency or
	// supersede target rather than addressed directly.
	Dependency bool
}

// Error returns the lookup failure message.
func (e *NotFoundError) Error() string {
	if e.Dependency {
		return fmt.Sprintf("dependency %q not found in ledger", e.ID)
	}
	return fmt.Sprintf("decision %q not found in ledger", e.ID)
}

// Unwrap returns the matching sentinel.
func (e *NotFoundError) Unwrap() error {
	if e.Dependency {
		return ErrDependencyNotFound
	}
	return ErrDecisionNotFound
}

// CycleError reports the dependency path that closes a cycle.
type CycleError struct {
	Path []string
}

// Error returns the cycle description.
func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected: %v", e.Path)
}

// Unwrap returns ErrCircularDependency.
func (e *CycleError) Unwrap() error {
	return ErrCircularDependency
}

// CanonicalOverrideError identifies the canonical decision whose supersession
// was attempted without authorization.
type CanonicalOverrideError struct {
	ID string
}

// Error returns the override failure message.
func (e *CanonicalOverrideError) Error() string {
	return fmt.Sprintf("decision %q is canonical: supersession requires AllowCanonicalOverride", e.ID)
}

// Unwrap returns ErrCanonicalOverride.
func (e *CanonicalOverrideError) Unwrap() error {
	return ErrCanonicalOverride
}

// DuplicateIDError identifies the duplicated ID found during reconstruction.
type DuplicateIDError struct {
	ID string
}

// Error returns the duplication message.
func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate decision id %q in persisted ledger", e.ID)
}

// Unwrap returns ErrDuplicateDecisionID.
func (e *DuplicateIDError) Unwrap() error {
	return ErrDuplicateDecisionID
}
