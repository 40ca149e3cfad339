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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/crucible-protocol/crucible/services/protocol/runtime"
)

// RouterConfig carries the API surface's tunables.
type RouterConfig struct {
	// RateLimitRPS caps requests per second. Zero disables rate limiting.
	RateLimitRPS float64

	// RateLimitBurst is the limiter's burst budget.
	RateLimitBurst int

	// Limiter, when set, is used instead of building one from RateLimitRPS
	// and RateLimitBurst. Lets the caller retune limits on config reload.
	Limiter *rate.Limiter

	// DefaultBlockingTimeoutMs is applied to blocking queries created
	// without a timeout. Zero leaves them unbounded.
	DefaultBlockingTimeoutMs int64
}

// SetupRoutes wires all protocol endpoints onto the router.
func SetupRoutes(router *gin.Engine, session *runtime.Session, hub *Hub, cfg RouterConfig) {
	router.GET("/health", HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	limiter := cfg.Limiter
	if limiter == nil && cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	if limiter != nil {
		v1.Use(RateLimit(limiter))
	}
	{
		v1.GET("/state", GetState(session))
		v1.POST("/phase/advance", AdvancePhase(session, hub))

		decisions := v1.Group("/decisions")
		{
			decisions.GET("", ListDecisions(session))
			decisions.POST("", CreateDecision(session, hub))
			decisions.GET("/:id", GetDecision(session))
			decisions.GET("/:id/history", GetDecisionHistory(session))
			decisions.GET("/:id/graph", GetDecisionGraph(session))
			decisions.POST("/:id/supersede", SupersedeDecision(session, hub))
			decisions.POST("/:id/invalidate", InvalidateDecision(session, hub))
		}

		blockingGroup := v1.Group("/blocking")
		{
			blockingGroup.GET("", ListBlocking(session))
			blockingGroup.POST("", EnterBlocking(session, hub, cfg.DefaultBlockingTimeoutMs))
			blockingGroup.POST("/resolve", ResolveBlocking(session, hub))
		}

		v1.GET("/events/ws", HandleEventsWebSocket(hub))
	}
}
