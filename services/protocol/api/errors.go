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

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crucible-protocol/crucible/services/protocol/blocking"
	"github.com/crucible-protocol/crucible/services/protocol/ledger"
)

// errorBody is the wire shape for all API failures.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	QueryID string `json:"queryId,omitempty"`
}

// blockingStatus maps blocking error codes onto HTTP statuses. Conflict-class
// codes describe a state the request cannot apply to; they are not client
// syntax errors.
var blockingStatus = map[blocking.ErrorCode]int{
	blocking.CodeNotBlocking:             http.StatusConflict,
	blocking.CodeAlreadyBlocking:         http.StatusConflict,
	blocking.CodeQueryIDMismatch:         http.StatusConflict,
	blocking.CodeAlreadyResolved:         http.StatusConflict,
	blocking.CodeInvalidPhase:            http.StatusConflict,
	blocking.CodeInvalidResponse:         http.StatusBadRequest,
	blocking.CodeNoTimeout:               http.StatusBadRequest,
	blocking.CodeTimeoutEscalationNeeded: http.StatusConflict,
	blocking.CodeLedgerRequired:          http.StatusInternalServerError,
	blocking.CodeLedgerAppendFailed:      http.StatusInternalServerError,
}

// writeError renders any protocol error as a structured JSON failure.
func writeError(c *gin.Context, err error) {
	var berr *blocking.Error
	if errors.As(err, &berr) {
		status, ok := blockingStatus[berr.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		c.JSON(status, errorBody{
			Code:    string(berr.Code),
			Message: berr.Message,
			QueryID: berr.QueryID,
		})
		return
	}

	var nfe *ledger.NotFoundError
	if errors.As(err, &nfe) {
		c.JSON(http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: err.Error()})
		return
	}
	var ve *ledger.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, errorBody{Code: "VALIDATION_FAILED", Message: err.Error()})
		return
	}
	var ce *ledger.CycleError
	if errors.As(err, &ce) {
		c.JSON(http.StatusConflict, errorBody{Code: "CIRCULAR_DEPENDENCY", Message: err.Error()})
		return
	}
	var coe *ledger.CanonicalOverrideError
	if errors.As(err, &coe) {
		c.JSON(http.StatusConflict, errorBody{Code: "CANONICAL_PROTECTED", Message: err.Error()})
		return
	}
	var de *ledger.DuplicateIDError
	if errors.As(err, &de) {
		c.JSON(http.StatusConflict, errorBody{Code: "DUPLICATE_ID", Message: err.Error()})
		return
	}

	c.JSON(http.StatusInternalServerError, errorBody{Code: "INTERNAL", Message: err.Error()})
}
