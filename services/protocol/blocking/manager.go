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

// Package blocking orchestrates the pause/resume lifecycle that lets any
// protocol phase stop for external (human) input.
//
// Every operation is a synchronous, pure transformation over immutable
// snapshots. Timeout detection is pull-based: CheckTimeout is a time
// comparison, not an armed timer, and the external scheduler is responsible
// for polling it. There is no separate cancellation primitive; resolving
// before a timeout fires simply wins the race, because HandleTimeout rejects
// an already-resolved record.
package blocking

import (
	"fmt"
	"time"

	"github.com/crucible-protocol/crucible/services/protocol/ledger"
	"github.com/crucible-protocol/crucible/services/protocol/state"
)

// Appender is the single collaborator contract this package consumes: a
// ledger handle capable of recording a resolution as a decision.
type Appender interface {
	Append(in ledger.Input) (ledger.Decision, error)
}

// SubstateResumed is the placeholder substate on states returned by
// ResolveBlocking and HandleTimeout(default). It does not reflect real
// pre-blocking phase progress; callers that need the true substate must
// persist it before blocking and restore it themselves.
const SubstateResumed = "resumed_from_blocking"

// phaseToLedger maps protocol phase tags onto the ledger's phase vocabulary.
var phaseToLedger = map[state.Phase]ledger.Phase{
	state.PhaseIgnition:         ledger.PhaseInterview,
	state.PhaseLattice:          ledger.PhaseDesign,
	state.PhaseCompositionAudit: ledger.PhaseAudit,
	state.PhaseInjection:        ledger.PhaseInjection,
	state.PhaseMesoscopic:       ledger.PhaseVerification,
	state.PhaseMassDefect:       ledger.PhaseReduction,
}

// LedgerPhase returns the ledger phase for a protocol phase.
//
// Outputs:
//
//	ledger.Phase - The mapped phase.
//	bool - False for Complete or an invalid tag.
func LedgerPhase(p state.Phase) (ledger.Phase, bool) {
	lp, ok := phaseToLedger[p]
	return lp, ok
}

// =============================================================================
// Enter
// =============================================================================

// EnterOptions configures a new blocking episode.
type EnterOptions struct {
	// Query is the question to surface. Required.
	Query string

	// Options restricts allowed responses. Empty means free-form.
	Options []string

	// TimeoutMs is the pause budget in milliseconds. Zero means no timeout.
	TimeoutMs int64

	// ID overrides the generated query ID. Leave empty in normal use.
	ID string

	// Now overrides the clock for deterministic tests. Zero means time.Now.
	Now time.Time
}

// EnterResult pairs the new Blocked state with its record.
type EnterResult struct {
	State  state.State
	Record Record
}

// EnterBlocking pauses an Active phase pending external input.
//
// Inputs:
//
//	cur - The current state snapshot.
//	opts - The blocking episode description.
//
// Outputs:
//
//	EnterResult - The new Blocked snapshot plus its unresolved record.
//	*Error - INVALID_PHASE if the phase has no blocking surface,
//	         ALREADY_BLOCKING if the state is already Blocked.
func EnterBlocking(cur state.State, opts EnterOptions) (EnterResult, *Error) {
	phase, ok := state.GetPhase(cur)
	if !ok {
		return EnterResult{}, newError(CodeInvalidPhase,
			"phase %q has no blocking surface", cur.Phase)
	}
	if cur.IsBlocked() {
		err := newError(CodeAlreadyBlocking, "phase %q is already blocked", phase)
		if cur.Blocked != nil {
			err.Query = cur.Blocked.Query
			err.QueryID = cur.Blocked.QueryID
		}
		return EnterResult{}, err
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id := opts.ID
	if id == "" {
		id = newQueryID(phase, now)
	}

	record := Record{
		ID:        id,
		Phase:     phase,
		Query:     opts.Query,
		Options:   append([]string(nil), opts.Options...),
		BlockedAt: now,
		TimeoutMs: opts.TimeoutMs,
		Resolved:  false,
	}
	if len(record.Options) == 0 {
		record.Options = nil
	}

	blocked := state.NewBlocked(phase, state.BlockedInfo{
		QueryID:   record.ID,
		Query:     record.Query,
		Options:   record.Options,
		BlockedAt: record.BlockedAt,
		TimeoutMs: record.TimeoutMs,
	})

	return EnterResult{State: blocked, Record: record}, nil
}

// =============================================================================
// Resolve
// =============================================================================

// ResolveOptions carries the external answer to a blocking query.
type ResolveOptions struct {
	// Response is the chosen answer. Required.
	Response string

	// Rationale optionally explains the answer.
	Rationale string

	// AllowCustomResponse accepts a response outside the record's options.
	AllowCustomResponse bool

	// Now overrides the clock for deterministic tests. Zero means time.Now.
	Now time.Time
}

// ResolveResult pairs the resumed state with the ledger decision recording
// the resolution and the now-terminal record.
type ResolveResult struct {
	// State is the resumed snapshot. Its substate is the SubstateResumed
	// placeholder, not the real pre-blocking substate.
	State state.State

	// Decision is the ledger record of the resolution. Zero-valued on the
	// HandleTimeout fail path, which records no decision.
	Decision ledger.Decision

	// Record is the updated, terminal record.
	Record Record
}

// ResolveBlocking accepts an external answer, records it in the ledger as a
// canonical human_resolution decision, and resumes the phase.
//
// # Description
//
// Exactly one ledger append happens per successful resolution; no failure
// path appends anything. The record passed in must be the record for the
// query the state is blocked on.
//
// Inputs:
//
//	cur - The current state snapshot.
//	rec - The blocking record being resolved.
//	opts - The answer.
//	led - Ledger handle for recording the resolution.
//
// Outputs:
//
//	ResolveResult - Resumed state, ledger decision, terminal record.
//	*Error - NOT_BLOCKING, QUERY_ID_MISMATCH, ALREADY_RESOLVED,
//	         INVALID_RESPONSE or LEDGER_APPEND_FAILED.
func ResolveBlocking(cur state.State, rec Record, opts ResolveOptions, led Appender) (ResolveResult, *Error) {
	if !cur.IsBlocked() {
		return ResolveResult{}, newError(CodeNotBlocking,
			"cannot resolve: state is %s, not blocked", cur.Status)
	}
	if cur.Blocked != nil && cur.Blocked.QueryID != "" && cur.Blocked.QueryID != rec.ID {
		err := newError(CodeQueryIDMismatch,
			"record %q does not match blocked query %q", rec.ID, cur.Blocked.QueryID)
		err.QueryID = cur.Blocked.QueryID
		return ResolveResult{}, err
	}
	if rec.Resolved {
		err := newError(CodeAlreadyResolved, "blocking query %q is already resolved", rec.ID)
		err.QueryID = rec.ID
		return ResolveResult{}, err
	}
	if !rec.allowsResponse(opts.Response, opts.AllowCustomResponse) {
		err := newError(CodeInvalidResponse,
			"response %q is not one of the allowed options %v", opts.Response, rec.Options)
		err.QueryID = rec.ID
		return ResolveResult{}, err
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	ledgerPhase, ok := LedgerPhase(rec.Phase)
	if !ok {
		return ResolveResult{}, newError(CodeInvalidPhase,
			"record phase %q has no ledger mapping", rec.Phase)
	}
	if led == nil {
		err := newError(CodeLedgerRequired,
			"a ledger handle is required to record a resolution")
		err.QueryID = rec.ID
		return ResolveResult{}, err
	}

	decision, appendErr := led.Append(ledger.Input{
		Category:     ledger.CategoryBlocking,
		Source:       ledger.SourceHumanResolution,
		Confidence:   ledger.ConfidenceCanonical,
		Phase:        ledgerPhase,
		Constraint:   fmt.Sprintf("Blocking query %q resolved with response %q", rec.Query, opts.Response),
		Rationale:    opts.Rationale,
		HumanQueryID: rec.ID,
	})
	if appendErr != nil {
		err := newError(CodeLedgerAppendFailed, "ledger rejected the resolution decision")
		err.Err = appendErr
		err.QueryID = rec.ID
		return ResolveResult{}, err
	}

	resolution := &Resolution{
		QueryID:    rec.ID,
		Response:   opts.Response,
		ResolvedAt: now,
		Rationale:  opts.Rationale,
	}
	resolved := rec
	resolved.Resolved = true
	resolved.Resolution = resolution

	return ResolveResult{
		State:    state.NewActive(rec.Phase, SubstateResumed),
		Decision: decision,
		Record:   resolved,
	}, nil
}

// =============================================================================
// Timeout
// =============================================================================

// TimeoutStatus is the result of a pull-based timeout check.
type TimeoutStatus struct {
	// TimedOut reports whether the deadline has passed (boundary inclusive).
	TimedOut bool `json:"timedOut"`

	// HasTimeout reports whether a timeout is configured at all.
	HasTimeout bool `json:"hasTimeout"`

	// RemainingMs is the time left before the deadline. Only meaningful
	// when HasTimeout is true and TimedOut is false.
	RemainingMs int64 `json:"remainingMs,omitempty"`

	// ExceededByMs is how far past the deadline now is. Only meaningful
	// when TimedOut is true.
	ExceededByMs int64 `json:"exceededByMs,omitempty"`
}

// CheckTimeout compares a record's deadline against now.
//
// Pure function: identical inputs give identical results. A record with no
// timeout configured never times out. The deadline itself counts as timed
// out (now >= blockedAt + timeout).
//
// Inputs:
//
//	rec - The blocking record.
//	now - The evaluation instant. Zero means time.Now.
//
// Outputs:
//
//	TimeoutStatus - Deadline position relative to now.
func CheckTimeout(rec Record, now time.Time) TimeoutStatus {
	deadline, ok := rec.Deadline()
	if !ok {
		return TimeoutStatus{}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if !now.Before(deadline) {
		return TimeoutStatus{
			TimedOut:     true,
			HasTimeout:   true,
			ExceededByMs: now.Sub(deadline).Milliseconds(),
		}
	}
	return TimeoutStatus{
		HasTimeout:  true,
		RemainingMs: deadline.Sub(now).Milliseconds(),
	}
}

// TimeoutStrategy selects how an expired blocking query is handled.
type TimeoutStrategy string

const (
	// StrategyEscalate surfaces the stall to a higher authority without
	// changing state.
	StrategyEscalate TimeoutStrategy = "escalate"

	// StrategyDefault resolves the query with a configured default response.
	StrategyDefault TimeoutStrategy = "default"

	// StrategyFail transitions the phase to Failed.
	StrategyFail TimeoutStrategy = "fail"
)

// FailureCodeTimeout is the Failed-state code set by StrategyFail.
const FailureCodeTimeout = "BLOCKING_TIMEOUT"

// ResponseTimeoutFailure is the terminal response recorded on a record whose
// episode ended via StrategyFail.
const ResponseTimeoutFailure = "TIMEOUT_FAILURE"

// TimeoutOptions configures HandleTimeout.
type TimeoutOptions struct {
	// Strategy selects the handling policy. Required.
	Strategy TimeoutStrategy

	// DefaultResponse is the answer applied by StrategyDefault.
	DefaultResponse string

	// Rationale optionally annotates the outcome.
	Rationale string

	// Now overrides the clock for deterministic tests. Zero means time.Now.
	Now time.Time
}

// HandleTimeout applies a timeout strategy to an expired blocking episode.
//
// # Description
//
// All strategies share the same preconditions: the state must be Blocked, the
// record must match the blocked query ID, the record must have a timeout
// configured, and the record must be unresolved. Beyond that:
//
//   - escalate: returns TIMEOUT_ESCALATION_NEEDED; no state change.
//   - default: delegates to ResolveBlocking with the default response and
//     allowCustomResponse, recording a ledger decision with an auto-generated
//     rationale noting the timeout. Requires DefaultResponse and a ledger.
//   - fail: transitions to Failed{code BLOCKING_TIMEOUT, recoverable} and
//     marks the record resolved with response TIMEOUT_FAILURE. No ledger
//     write; a workflow fault is not a human decision.
//
// Inputs:
//
//	cur - The current state snapshot.
//	rec - The expired blocking record.
//	opts - Strategy selection.
//	led - Ledger handle; required only by StrategyDefault.
//
// Outputs:
//
//	ResolveResult - Outcome per strategy.
//	*Error - Shared-precondition or strategy-specific failure.
func HandleTimeout(cur state.State, rec Record, opts TimeoutOptions, led Appender) (ResolveResult, *Error) {
	if !cur.IsBlocked() {
		return ResolveResult{}, newError(CodeNotBlocking,
			"cannot handle timeout: state is %s, not blocked", cur.Status)
	}
	if cur.Blocked != nil && cur.Blocked.QueryID != "" && cur.Blocked.QueryID != rec.ID {
		err := newError(CodeQueryIDMismatch,
			"record %q does not match blocked query %q", rec.ID, cur.Blocked.QueryID)
		err.QueryID = cur.Blocked.QueryID
		return ResolveResult{}, err
	}
	if rec.TimeoutMs <= 0 {
		err := newError(CodeNoTimeout, "blocking query %q has no timeout configured", rec.ID)
		err.QueryID = rec.ID
		return ResolveResult{}, err
	}
	if rec.Resolved {
		err := newError(CodeAlreadyResolved, "blocking query %q is already resolved", rec.ID)
		err.QueryID = rec.ID
		return ResolveResult{}, err
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	switch opts.Strategy {
	case StrategyEscalate:
		err := newError(CodeTimeoutEscalationNeeded,
			"blocking query %q timed out and needs escalation: %s", rec.ID, rec.Query)
		err.Query = rec.Query
		err.QueryID = rec.ID
		return ResolveResult{}, err

	case StrategyDefault:
		if opts.DefaultResponse == "" {
			err := newError(CodeInvalidResponse,
				"strategy default requires a DefaultResponse")
			err.QueryID = rec.ID
			return ResolveResult{}, err
		}
		if led == nil {
			err := newError(CodeLedgerRequired,
				"strategy default records a decision and requires a ledger handle")
			err.QueryID = rec.ID
			return ResolveResult{}, err
		}
		rationale := opts.Rationale
		if rationale == "" {
			rationale = fmt.Sprintf("Applied default response after %dms timeout", rec.TimeoutMs)
		}
		return ResolveBlocking(cur, rec, ResolveOptions{
			Response:            opts.DefaultResponse,
			Rationale:           rationale,
			AllowCustomResponse: true,
			Now:                 now,
		}, led)

	case StrategyFail:
		failed := state.NewFailed(rec.Phase, state.FailedInfo{
			Error:       fmt.Sprintf("Timeout on blocking query: %s", rec.Query),
			Code:        FailureCodeTimeout,
			Recoverable: true,
			Context:     map[string]any{"queryId": rec.ID, "timeoutMs": rec.TimeoutMs},
			FailedAt:    now,
		})
		resolved := rec
		resolved.Resolved = true
		resolved.Resolution = &Resolution{
			QueryID:    rec.ID,
			Response:   ResponseTimeoutFailure,
			ResolvedAt: now,
			Rationale:  opts.Rationale,
		}
		return ResolveResult{State: failed, Record: resolved}, nil

	default:
		err := newError(CodeInvalidResponse, "unknown timeout strategy %q", opts.Strategy)
		err.QueryID = rec.ID
		return ResolveResult{}, err
	}
}
