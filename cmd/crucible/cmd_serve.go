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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/crucible-protocol/crucible/pkg/logging"
	"github.com/crucible-protocol/crucible/services/protocol/api"
	"github.com/crucible-protocol/crucible/services/protocol/blocking"
	"github.com/crucible-protocol/crucible/services/protocol/config"
	"github.com/crucible-protocol/crucible/services/protocol/observability"
	"github.com/crucible-protocol/crucible/services/protocol/persist"
	"github.com/crucible-protocol/crucible/services/protocol/runtime"
)

// runServe boots the session, the HTTP API and the timeout tick loop, and
// shuts all three down on SIGINT/SIGTERM.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "protocold",
		JSON:    cfg.Logging.JSON,
	})
	defer logger.Close()

	metrics := observability.InitMetrics()

	ledgerStore, err := persist.NewLedgerStore(cfg.Session.DataDir)
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	snapshotStore, err := persist.NewSnapshotStore(cfg.Session.DataDir)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}

	sessionCfg := runtime.Config{
		SessionID:       cfg.Session.ID,
		Project:         cfg.Session.Project,
		TimeoutStrategy: blocking.TimeoutStrategy(cfg.Blocking.TimeoutStrategy),
		DefaultResponse: cfg.Blocking.DefaultResponse,
		Logger:          logger,
		Metrics:         metrics,
		LedgerStore:     ledgerStore,
		SnapshotStore:   snapshotStore,
	}

	session, err := runtime.RestoreSession(sessionCfg)
	if err != nil {
		logger.Info("starting a fresh session", "reason", err.Error())
		session, err = runtime.NewSession(sessionCfg)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
	}

	hub := api.NewHub(logger)
	router := gin.New()
	router.Use(gin.Recovery())

	var limiter *rate.Limiter
	if cfg.Server.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Server.RateLimitRPS), cfg.Server.RateLimitBurst)
	}
	api.SetupRoutes(router, session, hub, api.RouterConfig{
		Limiter:                  limiter,
		DefaultBlockingTimeoutMs: cfg.Blocking.DefaultTimeoutMs,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("API listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Timeout tick loop: the only place blocking deadlines are polled.
	g.Go(func() error {
		ticker := time.NewTicker(time.Duration(cfg.Session.TickIntervalMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				consumed, err := session.Tick(now.UTC())
				if err != nil {
					var berr *blocking.Error
					if errors.As(err, &berr) && berr.Code == blocking.CodeTimeoutEscalationNeeded {
						// Escalation repeats every tick until someone resolves.
						continue
					}
					logger.Error("tick failed", "error", err)
					continue
				}
				if consumed {
					hub.Publish(api.EventResolved, session.State())
				}
			}
		}
	})

	// Config hot reload: only the rate limiter can be retuned live; anything
	// else (addresses, stores, session identity) needs a restart.
	g.Go(func() error {
		return config.Watch(ctx, cfgPath, func(next config.Config) {
			if limiter != nil && next.Server.RateLimitRPS > 0 {
				limiter.SetLimit(rate.Limit(next.Server.RateLimitRPS))
				limiter.SetBurst(next.Server.RateLimitBurst)
			}
			logger.Info("config reloaded",
				"rate_limit_rps", next.Server.RateLimitRPS,
				"rate_limit_burst", next.Server.RateLimitBurst)
		})
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return session.Save()
	})

	return g.Wait()
}
