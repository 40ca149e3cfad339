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

// Package api exposes the protocol session over HTTP: ledger reads and
// writes, phase control, the blocking lifecycle and a websocket event feed.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crucible-protocol/crucible/services/protocol/blocking"
	"github.com/crucible-protocol/crucible/services/protocol/ledger"
	"github.com/crucible-protocol/crucible/services/protocol/runtime"
)

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetState returns the session's current protocol position.
func GetState(s *runtime.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		st := s.State()
		c.JSON(http.StatusOK, gin.H{
			"sessionId": s.ID(),
			"state":     st,
		})
	}
}

// AdvancePhase moves the session to the next protocol phase.
func AdvancePhase(s *runtime.Session, hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := s.AdvancePhase()
		if err != nil {
			c.JSON(http.StatusConflict, errorBody{Code: "PHASE_ADVANCE_REJECTED", Message: err.Error()})
			return
		}
		hub.Publish(EventPhaseAdvanced, st)
		c.JSON(http.StatusOK, gin.H{"state": st})
	}
}

// =============================================================================
// Decisions
// =============================================================================

// ListDecisions filters the ledger by category, phase, status and confidence
// query parameters. Absent parameters are wildcards.
func ListDecisions(s *runtime.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter ledger.Filter
		if err := c.ShouldBindQuery(&filter); err != nil {
			c.JSON(http.StatusBadRequest, errorBody{Code: "BAD_FILTER", Message: err.Error()})
			return
		}
		decisions := s.QueryDecisions(filter)
		c.JSON(http.StatusOK, gin.H{"decisions": decisions, "count": len(decisions)})
	}
}

// CreateDecision appends a new decision.
func CreateDecision(s *runtime.Session, hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in ledger.Input
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: err.Error()})
			return
		}
		d, err := s.AppendDecision(in)
		if err != nil {
			writeError(c, err)
			return
		}
		hub.Publish(EventDecisionAppended, d)
		c.JSON(http.StatusCreated, d)
	}
}

// GetDecision fetches one decision by ID.
func GetDecision(s *runtime.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := s.GetDecision(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

// GetDecisionHistory returns the supersession chain containing a decision.
// Query parameters exclude_superseded and exclude_invalidated trim the chain.
func GetDecisionHistory(s *runtime.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		opts := ledger.HistoryOptions{
			ExcludeSuperseded:  c.Query("exclude_superseded") == "true",
			ExcludeInvalidated: c.Query("exclude_invalidated") == "true",
		}
		chain, err := s.DecisionHistory(c.Param("id"), opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"history": chain, "count": len(chain)})
	}
}

// GetDecisionGraph returns a decision's dependency neighborhood. The
// transitive query parameter adds both closures.
func GetDecisionGraph(s *runtime.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		opts := ledger.GraphOptions{IncludeTransitive: c.Query("transitive") == "true"}
		graph, err := s.DecisionGraph(c.Param("id"), opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, graph)
	}
}

// supersedeRequest is the body for SupersedeDecision.
type supersedeRequest struct {
	Decision               ledger.Input `json:"decision"`
	AllowCanonicalOverride bool         `json:"allowCanonicalOverride"`
}

// SupersedeDecision replaces an active decision with a new one.
func SupersedeDecision(s *runtime.Session, hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req supersedeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: err.Error()})
			return
		}
		d, err := s.SupersedeDecision(c.Param("id"), req.Decision, ledger.SupersedeOptions{
			AllowCanonicalOverride: req.AllowCanonicalOverride,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		hub.Publish(EventDecisionSuperseded, d)
		c.JSON(http.StatusCreated, d)
	}
}

// InvalidateDecision marks a decision invalidated and returns the cascade
// report. The dry_run query parameter previews the report without mutating.
func InvalidateDecision(s *runtime.Session, hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		opts := ledger.InvalidateOptions{DryRun: c.Query("dry_run") == "true"}
		report, err := s.InvalidateDecision(c.Param("id"), opts)
		if err != nil {
			writeError(c, err)
			return
		}
		if !opts.DryRun {
			hub.Publish(EventDecisionInvalidated, report)
		}
		c.JSON(http.StatusOK, report)
	}
}

// =============================================================================
// Blocking
// =============================================================================

// ListBlocking returns the live query (if any) and the resolved archive.
func ListBlocking(s *runtime.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"resolved": s.ResolvedQueries()}
		if live, ok := s.LiveQuery(); ok {
			body["live"] = live
		}
		c.JSON(http.StatusOK, body)
	}
}

// enterBlockingRequest is the body for EnterBlocking.
type enterBlockingRequest struct {
	Query     string   `json:"query" binding:"required"`
	Options   []string `json:"options"`
	TimeoutMs int64    `json:"timeoutMs"`
}

// EnterBlocking pauses the session on a blocking query. A request without a
// timeout inherits defaultTimeoutMs (zero leaves it unbounded).
func EnterBlocking(s *runtime.Session, hub *Hub, defaultTimeoutMs int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req enterBlockingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: err.Error()})
			return
		}
		if req.TimeoutMs == 0 {
			req.TimeoutMs = defaultTimeoutMs
		}
		rec, err := s.Block(blocking.EnterOptions{
			Query:     req.Query,
			Options:   req.Options,
			TimeoutMs: req.TimeoutMs,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		hub.Publish(EventBlocked, rec)
		c.JSON(http.StatusCreated, rec)
	}
}

// resolveBlockingRequest is the body for ResolveBlocking.
type resolveBlockingRequest struct {
	Response            string `json:"response" binding:"required"`
	Rationale           string `json:"rationale"`
	AllowCustomResponse bool   `json:"allowCustomResponse"`
}

// ResolveBlocking answers the live blocking query and resumes the phase.
func ResolveBlocking(s *runtime.Session, hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req resolveBlockingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: err.Error()})
			return
		}
		res, err := s.Resolve(blocking.ResolveOptions{
			Response:            req.Response,
			Rationale:           req.Rationale,
			AllowCustomResponse: req.AllowCustomResponse,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		hub.Publish(EventResolved, res.Record)
		c.JSON(http.StatusOK, gin.H{
			"state":    res.State,
			"decision": res.Decision,
			"record":   res.Record,
		})
	}
}
