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

// Package runtime owns the mutable protocol session: the single writer over
// the ledger, the state snapshot and the blocking records.
//
// The core packages (ledger, state, blocking) are deliberately unsynchronized
// or purely functional. Session is where the mutex lives: every mutation goes
// through one lock, so the append-only and snapshot invariants hold under
// concurrent API traffic.
package runtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/crucible-protocol/crucible/pkg/logging"
	"github.com/crucible-protocol/crucible/services/protocol/blocking"
	"github.com/crucible-protocol/crucible/services/protocol/ledger"
	"github.com/crucible-protocol/crucible/services/protocol/observability"
	"github.com/crucible-protocol/crucible/services/protocol/persist"
	"github.com/crucible-protocol/crucible/services/protocol/state"
)

// Config configures a protocol session.
type Config struct {
	// SessionID identifies the workflow instance. Required.
	SessionID string

	// Project names the ledger's project. Defaults to SessionID.
	Project string

	// TimeoutStrategy is applied by Tick when a blocking query expires.
	// Defaults to escalate.
	TimeoutStrategy blocking.TimeoutStrategy

	// DefaultResponse is required when TimeoutStrategy is default.
	DefaultResponse string

	// Logger receives session events. Defaults to logging.Default().
	Logger *logging.Logger

	// Metrics optionally records protocol metrics. Nil disables recording.
	Metrics *observability.ProtocolMetrics

	// LedgerStore optionally persists the ledger after each write.
	LedgerStore *persist.LedgerStore

	// SnapshotStore optionally persists the session after each state change.
	SnapshotStore *persist.SnapshotStore
}

// Validate checks config consistency.
func (c *Config) Validate() error {
	if c.SessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	switch c.TimeoutStrategy {
	case "", blocking.StrategyEscalate, blocking.StrategyFail:
	case blocking.StrategyDefault:
		if c.DefaultResponse == "" {
			return fmt.Errorf("timeout strategy %q requires a default response", c.TimeoutStrategy)
		}
	default:
		return fmt.Errorf("unknown timeout strategy %q", c.TimeoutStrategy)
	}
	return nil
}

// Session is the single-writer coordinator for one protocol run.
//
// # Thread Safety
//
// Safe for concurrent use. All reads return copies; all mutations are
// serialized by one mutex.
type Session struct {
	mu sync.Mutex

	id        string
	led       *ledger.Ledger
	st        state.State
	live      *blocking.Record
	resolved  []persist.ResolvedQuery
	artifacts map[string]string

	// savedSubstate is the real phase progress captured when blocking
	// begins, restored on resume in place of the resume placeholder.
	savedSubstate any

	createdAt    time.Time
	lastActivity time.Time

	cfg     Config
	logger  *logging.Logger
	metrics *observability.ProtocolMetrics

	// clock stamps activity; replaceable in tests.
	clock func() time.Time
}

// NewSession creates a fresh session starting in Active/Ignition with an
// empty ledger.
//
// Outputs:
//
//	*Session - The ready session.
//	error - Non-nil on invalid config.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Project == "" {
		cfg.Project = cfg.SessionID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	now := time.Now().UTC()
	s := &Session{
		id:           cfg.SessionID,
		led:          ledger.New(cfg.Project),
		st:           state.NewActive(state.PhaseIgnition, nil),
		artifacts:    make(map[string]string),
		createdAt:    now,
		lastActivity: now,
		cfg:          cfg,
		logger:       logger.With("session_id", cfg.SessionID),
		metrics:      cfg.Metrics,
		clock:        func() time.Time { return time.Now().UTC() },
	}
	s.logger.Info("session created", "phase", s.st.Phase, "project", cfg.Project)
	return s, nil
}

// RestoreSession rebuilds a session from its persisted stores.
//
// # Description
//
// Requires both stores in the config. A missing snapshot or ledger file is an
// error: restoration is for sessions known to exist. The persisted ledger is
// re-validated by persist.LedgerStore.Load, so a corrupt file fails here.
//
// Outputs:
//
//	*Session - The restored session.
//	error - Non-nil on missing files, corrupt data or invalid config.
func RestoreSession(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.LedgerStore == nil || cfg.SnapshotStore == nil {
		return nil, fmt.Errorf("restore requires both a ledger store and a snapshot store")
	}

	led, ok, err := cfg.LedgerStore.Load()
	if err != nil {
		return nil, fmt.Errorf("restore ledger: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("no persisted ledger for session %s", cfg.SessionID)
	}
	snap, ok, err := cfg.SnapshotStore.Load()
	if err != nil {
		return nil, fmt.Errorf("restore snapshot: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("no persisted snapshot for session %s", cfg.SessionID)
	}

	st, live, err := rebuildState(snap)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	artifacts := snap.Artifacts
	if artifacts == nil {
		artifacts = make(map[string]string)
	}

	s := &Session{
		id:            snap.SessionID,
		led:           led,
		st:            st,
		live:          live,
		savedSubstate: snap.SavedSubstate,
		resolved:      append([]persist.ResolvedQuery(nil), snap.ResolvedQueries...),
		artifacts:     artifacts,
		createdAt:     snap.CreatedAt,
		lastActivity:  snap.LastActivity,
		cfg:           cfg,
		logger:        logger.With("session_id", snap.SessionID),
		metrics:       cfg.Metrics,
		clock:         func() time.Time { return time.Now().UTC() },
	}
	s.logger.Info("session restored",
		"phase", st.Phase, "status", st.Status, "decisions", led.Len())
	return s, nil
}

// rebuildState reconstructs the state snapshot and live record from a
// persisted session.
func rebuildState(snap persist.SessionSnapshot) (state.State, *blocking.Record, error) {
	phase := state.Phase(snap.State.Phase)
	if !phase.Valid() {
		return state.State{}, nil, fmt.Errorf("snapshot has invalid phase %q", snap.State.Phase)
	}

	switch state.Status(snap.State.Status) {
	case state.StatusActive:
		if phase == state.PhaseComplete {
			return state.NewComplete(), nil, nil
		}
		return state.NewActive(phase, snap.State.Substate), nil, nil

	case state.StatusBlocked:
		if len(snap.BlockingQueries) == 0 {
			return state.State{}, nil, fmt.Errorf("snapshot is blocked but carries no blocking query")
		}
		rec := snap.BlockingQueries[0]
		blocked := state.NewBlocked(phase, state.BlockedInfo{
			QueryID:   rec.ID,
			Query:     rec.Query,
			Options:   rec.Options,
			BlockedAt: rec.BlockedAt,
			TimeoutMs: rec.TimeoutMs,
		})
		return blocked, &rec, nil

	case state.StatusFailed:
		// Failed is terminal; restore it as an inspectable snapshot with the
		// stored phase but no failure detail beyond what the snapshot kept.
		return state.NewFailed(phase, state.FailedInfo{
			Error: "restored from failed snapshot",
			Code:  "RESTORED_FAILED",
		}), nil, nil

	default:
		return state.State{}, nil, fmt.Errorf("snapshot has invalid status %q", snap.State.Status)
	}
}

// =============================================================================
// Accessors
// =============================================================================

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state snapshot.
func (s *Session) State() state.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

// LiveQuery returns the unresolved blocking record, if any.
func (s *Session) LiveQuery() (blocking.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == nil {
		return blocking.Record{}, false
	}
	return *s.live, true
}

// ResolvedQueries returns the terminal blocking records, oldest first.
func (s *Session) ResolvedQueries() []persist.ResolvedQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]persist.ResolvedQuery(nil), s.resolved...)
}

// SetArtifact records an artifact location on the session.
func (s *Session) SetArtifact(name, location string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[name] = location
	s.touch()
}

// =============================================================================
// Ledger Operations
// =============================================================================

// AppendDecision records a decision in the ledger.
func (s *Session) AppendDecision(in ledger.Input) (ledger.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.led.Append(in)
	if err != nil {
		return ledger.Decision{}, err
	}
	s.metrics.RecordDecision("append", string(d.Category))
	s.logger.Info("decision appended", "id", d.ID, "category", d.Category)
	s.touch()
	s.persistLocked()
	return d, nil
}

// SupersedeDecision replaces an active decision.
func (s *Session) SupersedeDecision(oldID string, in ledger.Input, opts ledger.SupersedeOptions) (ledger.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.led.Supersede(oldID, in, opts)
	if err != nil {
		return ledger.Decision{}, err
	}
	s.metrics.RecordDecision("supersede", string(d.Category))
	s.logger.Info("decision superseded", "old_id", oldID, "new_id", d.ID)
	s.touch()
	s.persistLocked()
	return d, nil
}

// InvalidateDecision marks a decision invalidated and returns the cascade
// report.
func (s *Session) InvalidateDecision(id string, opts ledger.InvalidateOptions) (ledger.CascadeReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, err := s.led.Invalidate(id, opts)
	if err != nil {
		return ledger.CascadeReport{}, err
	}
	if !opts.DryRun {
		s.metrics.RecordDecision("invalidate", string(report.Invalidated.Category))
		s.logger.Warn("decision invalidated",
			"id", id, "affected", len(report.Affected), "intact", len(report.Intact))
		s.touch()
		s.persistLocked()
	}
	return report, nil
}

// QueryDecisions filters the ledger.
func (s *Session) QueryDecisions(f ledger.Filter) []ledger.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.led.Query(f)
}

// GetDecision fetches one decision by ID.
func (s *Session) GetDecision(id string) (ledger.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.led.Get(id)
}

// DecisionHistory returns the supersession chain containing id.
func (s *Session) DecisionHistory(id string, opts ledger.HistoryOptions) ([]ledger.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.led.History(id, opts)
}

// DecisionGraph returns the dependency neighborhood of id.
func (s *Session) DecisionGraph(id string, opts ledger.GraphOptions) (ledger.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.led.DependencyGraph(id, opts)
}

// LedgerData returns a deep-copy snapshot of the whole ledger.
func (s *Session) LedgerData() ledger.Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.led.Data()
}

// =============================================================================
// Phase Control
// =============================================================================

// AdvancePhase moves an Active session to the next protocol phase.
//
// Outputs:
//
//	state.State - The new snapshot.
//	error - Non-nil when the session is not Active or already Complete.
func (s *Session) AdvancePhase() (state.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.st.IsActive() {
		return state.State{}, fmt.Errorf("cannot advance phase: session is %s", s.st.Status)
	}
	next, ok := s.st.Phase.Next()
	if !ok {
		return state.State{}, fmt.Errorf("phase %s has no successor", s.st.Phase)
	}

	from := s.st.Phase
	if next == state.PhaseComplete {
		s.st = state.NewComplete()
	} else {
		s.st = state.NewActive(next, nil)
	}
	s.metrics.RecordPhaseTransition(string(from), string(next))
	s.logger.Info("phase advanced", "from", from, "to", next)
	s.touch()
	s.persistLocked()
	return s.st, nil
}

// SetSubstate updates the phase-progress marker on an Active session.
func (s *Session) SetSubstate(substate any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.st.IsActive() {
		return fmt.Errorf("cannot set substate: session is %s", s.st.Status)
	}
	s.st = state.NewActive(s.st.Phase, substate)
	s.touch()
	s.persistLocked()
	return nil
}

// Fail transitions the session to Failed.
func (s *Session) Fail(info state.FailedInfo) (state.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !state.CanTransition(s.st.Status, state.StatusFailed) {
		return state.State{}, fmt.Errorf("cannot fail: session is %s", s.st.Status)
	}
	phase := s.st.Phase
	s.st = state.NewFailed(phase, info)
	s.metrics.RecordFailure(string(phase), info.Code)
	s.logger.Error("session failed", "phase", phase, "code", info.Code, "error", info.Error)
	s.touch()
	s.persistLocked()
	return s.st, nil
}

// =============================================================================
// Blocking Lifecycle
// =============================================================================

// Block pauses the session on a blocking query.
//
// The current substate is captured before blocking and restored on resume.
func (s *Session) Block(opts blocking.EnterOptions) (blocking.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.st.Substate
	res, berr := blocking.EnterBlocking(s.st, opts)
	if berr != nil {
		return blocking.Record{}, berr
	}

	s.savedSubstate = saved
	s.st = res.State
	rec := res.Record
	s.live = &rec
	s.metrics.BlockingStarted()
	s.logger.Info("session blocked",
		"query_id", rec.ID, "phase", rec.Phase, "timeout_ms", rec.TimeoutMs)
	s.touch()
	s.persistLocked()
	return rec, nil
}

// Resolve answers the live blocking query and resumes the phase with its
// pre-blocking substate.
func (s *Session) Resolve(opts blocking.ResolveOptions) (blocking.ResolveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live == nil {
		return blocking.ResolveResult{}, &blocking.Error{
			Code: blocking.CodeNotBlocking, Message: "no live blocking query",
		}
	}

	res, berr := blocking.ResolveBlocking(s.st, *s.live, opts, s.led)
	if berr != nil {
		return blocking.ResolveResult{}, berr
	}
	s.finishEpisodeLocked(res, observability.OutcomeResolved)
	s.metrics.RecordDecision("append", string(res.Decision.Category))
	s.logger.Info("blocking resolved",
		"query_id", res.Record.ID, "decision_id", res.Decision.ID)
	s.persistLocked()
	return res, nil
}

// Tick polls the live blocking query against now and applies the configured
// timeout strategy when it has expired.
//
// # Description
//
// Designed to be driven by an external scheduler (the serve loop runs it on
// an interval). A session that is not blocked, has no timeout, or has not yet
// expired is a no-op. The escalate strategy changes no state; its error is
// returned every tick until an operator resolves the query.
//
// Inputs:
//
//	now - The evaluation instant. Zero means time.Now.
//
// Outputs:
//
//	bool - True when the tick consumed a timeout (state changed).
//	error - The escalation signal, or a strategy failure.
func (s *Session) Tick(now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live == nil || !s.st.IsBlocked() {
		return false, nil
	}
	status := blocking.CheckTimeout(*s.live, now)
	if !status.TimedOut {
		return false, nil
	}

	strategy := s.cfg.TimeoutStrategy
	if strategy == "" {
		strategy = blocking.StrategyEscalate
	}

	res, berr := blocking.HandleTimeout(s.st, *s.live, blocking.TimeoutOptions{
		Strategy:        strategy,
		DefaultResponse: s.cfg.DefaultResponse,
		Now:             now,
	}, s.led)

	if berr != nil {
		if berr.Code == blocking.CodeTimeoutEscalationNeeded {
			s.logger.Warn("blocking query needs escalation",
				"query_id", s.live.ID, "exceeded_ms", status.ExceededByMs)
			return false, berr
		}
		s.logger.Error("timeout handling failed",
			"query_id", s.live.ID, "code", berr.Code, "error", berr.Message)
		return false, berr
	}

	switch strategy {
	case blocking.StrategyDefault:
		s.finishEpisodeLocked(res, observability.OutcomeTimeoutDefault)
		s.metrics.RecordDecision("append", string(res.Decision.Category))
		s.logger.Warn("timeout resolved with default",
			"query_id", res.Record.ID, "response", s.cfg.DefaultResponse)
	case blocking.StrategyFail:
		phase := res.Record.Phase
		s.finishEpisodeLocked(res, observability.OutcomeTimeoutFail)
		s.metrics.RecordFailure(string(phase), blocking.FailureCodeTimeout)
		s.logger.Error("timeout failed the session", "query_id", res.Record.ID)
	}
	s.persistLocked()
	return true, nil
}

// finishEpisodeLocked applies a terminal blocking outcome: installs the new
// state (restoring the saved substate on resume), archives the record and
// records metrics. Must be called with the lock held.
func (s *Session) finishEpisodeLocked(res blocking.ResolveResult, outcome observability.Outcome) {
	newState := res.State
	if newState.IsActive() && newState.Substate == blocking.SubstateResumed && s.savedSubstate != nil {
		newState = state.NewActive(newState.Phase, s.savedSubstate)
	}
	s.st = newState
	s.savedSubstate = nil

	resolvedAt := s.clock()
	if res.Record.Resolution != nil {
		resolvedAt = res.Record.Resolution.ResolvedAt
	}
	s.resolved = append(s.resolved, persist.ResolvedQuery{
		Record:     res.Record,
		ResolvedAt: resolvedAt,
	})
	s.metrics.BlockingEnded(string(res.Record.Phase), outcome, resolvedAt.Sub(res.Record.BlockedAt))
	s.live = nil
	s.touch()
}

// =============================================================================
// Persistence
// =============================================================================

// Snapshot returns the session's durable form.
func (s *Session) Snapshot() persist.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() persist.SessionSnapshot {
	snap := persist.SessionSnapshot{
		SessionID:    s.id,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		State: persist.StateSnapshot{
			Phase:    string(s.st.Phase),
			Status:   string(s.st.Status),
			Substate: s.st.Substate,
		},
		ResolvedQueries: append([]persist.ResolvedQuery(nil), s.resolved...),
	}
	if len(s.artifacts) > 0 {
		snap.Artifacts = make(map[string]string, len(s.artifacts))
		for k, v := range s.artifacts {
			snap.Artifacts[k] = v
		}
	}
	if s.live != nil {
		snap.BlockingQueries = []blocking.Record{*s.live}
		snap.SavedSubstate = s.savedSubstate
	}
	return snap
}

// Save persists the ledger and snapshot to the configured stores.
func (s *Session) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Session) saveLocked() error {
	if s.cfg.LedgerStore != nil {
		if err := s.cfg.LedgerStore.Save(s.led.Data()); err != nil {
			return fmt.Errorf("save ledger: %w", err)
		}
	}
	if s.cfg.SnapshotStore != nil {
		if err := s.cfg.SnapshotStore.Save(s.snapshotLocked()); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}
	return nil
}

// persistLocked saves after a mutation, logging rather than failing the
// operation: the in-memory session is the source of truth and a transient
// disk error must not reject an otherwise valid protocol action.
func (s *Session) persistLocked() {
	if err := s.saveLocked(); err != nil {
		s.logger.Error("persistence failed", "error", err)
	}
}

func (s *Session) touch() {
	s.lastActivity = s.clock()
}
