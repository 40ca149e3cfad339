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

package blocking

import "fmt"

// ErrorCode is the stable machine code CLIs, notifiers and webhooks branch
// on. Unlike ledger errors, these are expected control-flow outcomes in a
// multi-agent workflow (timeout/response races, double submission, phase
// mismatches), so they are returned as values rather than raised as faults.
type ErrorCode string

const (
	// CodeNotBlocking: the operation requires a Blocked macro-state.
	CodeNotBlocking ErrorCode = "NOT_BLOCKING"

	// CodeAlreadyBlocking: the state is already Blocked on another query.
	CodeAlreadyBlocking ErrorCode = "ALREADY_BLOCKING"

	// CodeQueryIDMismatch: the record does not match the query the state is
	// blocked on.
	CodeQueryIDMismatch ErrorCode = "QUERY_ID_MISMATCH"

	// CodeAlreadyResolved: the record was resolved before this call; the
	// first successful resolver won the race.
	CodeAlreadyResolved ErrorCode = "ALREADY_RESOLVED"

	// CodeInvalidPhase: the phase has no blocking surface (Complete or an
	// invalid tag).
	CodeInvalidPhase ErrorCode = "INVALID_PHASE"

	// CodeInvalidResponse: the response is not one of the record's options
	// and custom responses were not allowed, or a required default response
	// is missing.
	CodeInvalidResponse ErrorCode = "INVALID_RESPONSE"

	// CodeNoTimeout: handleTimeout was called on a record with no timeout
	// configured.
	CodeNoTimeout ErrorCode = "NO_TIMEOUT"

	// CodeTimeoutEscalationNeeded: the escalate strategy signals the caller
	// to surface the stall to a higher authority. No state change occurred.
	CodeTimeoutEscalationNeeded ErrorCode = "TIMEOUT_ESCALATION_NEEDED"

	// CodeLedgerRequired: the default strategy records a decision and so
	// needs a ledger handle.
	CodeLedgerRequired ErrorCode = "LEDGER_REQUIRED_FOR_DEFAULT_STRATEGY"

	// CodeLedgerAppendFailed: the ledger rejected the resolution decision.
	// This indicates a caller-contract violation inside the ledger and is
	// surfaced with the underlying error attached.
	CodeLedgerAppendFailed ErrorCode = "LEDGER_APPEND_FAILED"
)

// Error is the structured failure value returned by blocking operations.
// It implements error so it composes with errors.As at call sites that only
// see an error, but the natural way to consume it is branching on Code.
type Error struct {
	// Code is the stable machine code.
	Code ErrorCode `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Query carries the conflicting query text where relevant
	// (ALREADY_BLOCKING includes the existing query).
	Query string `json:"query,omitempty"`

	// QueryID carries the relevant blocking record ID where known.
	QueryID string `json:"queryId,omitempty"`

	// Err is the underlying cause, if any (LEDGER_APPEND_FAILED).
	Err error `json:"-"`
}

// Error returns the code-prefixed message.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
