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

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crucible-protocol/crucible/services/protocol/state"
)

// Record is the durable description of one blocking episode. A record is
// created when a phase enters Blocked and becomes terminal the moment
// Resolved flips to true; any later blocking episode requires a new record.
type Record struct {
	// ID uniquely identifies the blocking query,
	// format "blocking_<phase>_<unix-ms>_<suffix>".
	ID string `json:"id"`

	// Phase is the protocol phase that blocked.
	Phase state.Phase `json:"phase"`

	// Query is the question awaiting external input.
	Query string `json:"query"`

	// Options are the allowed responses. Empty means free-form.
	Options []string `json:"options,omitempty"`

	// BlockedAt is when the pause began.
	BlockedAt time.Time `json:"blockedAt"`

	// TimeoutMs is the pause budget in milliseconds. Zero means no timeout.
	TimeoutMs int64 `json:"timeoutMs,omitempty"`

	// Resolved flips to true exactly once.
	Resolved bool `json:"resolved"`

	// Resolution is set when Resolved flips.
	Resolution *Resolution `json:"resolution,omitempty"`
}

// Resolution captures how a blocking query was answered.
type Resolution struct {
	// QueryID back-links to the record.
	QueryID string `json:"queryId"`

	// Response is the chosen answer.
	Response string `json:"response"`

	// ResolvedAt is when the answer was accepted.
	ResolvedAt time.Time `json:"resolvedAt"`

	// Rationale optionally explains the answer.
	Rationale string `json:"rationale,omitempty"`
}

// Deadline returns the instant the record times out.
//
// Outputs:
//
//	time.Time - BlockedAt plus the timeout budget.
//	bool - False when no timeout is configured.
func (r Record) Deadline() (time.Time, bool) {
	if r.TimeoutMs <= 0 {
		return time.Time{}, false
	}
	return r.BlockedAt.Add(time.Duration(r.TimeoutMs) * time.Millisecond), true
}

// allowsResponse reports whether response is acceptable for this record.
func (r Record) allowsResponse(response string, allowCustom bool) bool {
	if len(r.Options) == 0 || allowCustom {
		return true
	}
	for _, opt := range r.Options {
		if opt == response {
			return true
		}
	}
	return false
}

// newQueryID generates a blocking-query ID.
//
// The uuid prefix replaces a plain random suffix so collisions are not an
// operational concern even across process restarts within one millisecond.
func newQueryID(phase state.Phase, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("blocking_%s_%d_%s", strings.ToLower(string(phase)), now.UnixMilli(), suffix)
}
