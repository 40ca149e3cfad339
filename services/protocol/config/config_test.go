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

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() does not validate: %v", err)
	}
}

func TestLoad_FirstRunCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crucible.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8750 {
		t.Errorf("default port = %d, want 8750", cfg.Server.Port)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("first run did not create the config file: %v", err)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crucible.yaml")
	partial := `
server:
  port: 9000
session:
  id: build-42
`
	if err := os.WriteFile(path, []byte(partial), 0640); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("host default lost: %q", cfg.Server.Host)
	}
	if cfg.Session.TickIntervalMs != 1000 {
		t.Errorf("tick interval default lost: %d", cfg.Session.TickIntervalMs)
	}
	if cfg.Session.Project != "build-42" {
		t.Errorf("project should default to session id, got %q", cfg.Session.Project)
	}
	if cfg.Blocking.TimeoutStrategy != "escalate" {
		t.Errorf("strategy default lost: %q", cfg.Blocking.TimeoutStrategy)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"port out of range", "server:\n  port: 99999\nsession:\n  id: s\n"},
		{"bad strategy", "session:\n  id: s\nblocking:\n  timeout_strategy: retry\n"},
		{"default strategy without response", "session:\n  id: s\nblocking:\n  timeout_strategy: default\n"},
		{"bad log level", "session:\n  id: s\nlogging:\n  level: loud\n"},
		{"tick too fast", "session:\n  id: s\n  tick_interval_ms: 10\n"},
		{"malformed yaml", "server: [not a map\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "crucible.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0640); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load accepted an invalid config")
			}
		})
	}
}

func TestWatch_DeliversValidReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crucible.yaml")
	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan Config, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg Config) { reloads <- cfg })
	}()
	// Let the watcher register before the first write.
	time.Sleep(200 * time.Millisecond)

	write := func(yaml string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(yaml), 0640); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	waitFor := func(port int) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case cfg := <-reloads:
				if cfg.Server.Port == port {
					return
				}
			case <-deadline:
				t.Fatalf("no reload with port %d observed", port)
			}
		}
	}

	write("server:\n  port: 9100\nsession:\n  id: s\n")
	waitFor(9100)

	// An invalid version is skipped; the next valid one still arrives.
	write("server:\n  port: 99999\nsession:\n  id: s\n")
	write("server:\n  port: 9200\nsession:\n  id: s\n")
	waitFor(9200)
	for len(reloads) > 0 {
		if cfg := <-reloads; cfg.Server.Port == 99999 {
			t.Error("an invalid config was delivered")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop on context cancel")
	}
}

func TestLoad_DefaultStrategyWithResponse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crucible.yaml")
	cfgYAML := `
session:
  id: s
blocking:
  timeout_strategy: default
  default_response: Proceed
  default_timeout_ms: 300000
`
	if err := os.WriteFile(path, []byte(cfgYAML), 0640); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Blocking.DefaultTimeoutMs != 300000 {
		t.Errorf("default timeout = %d", cfg.Blocking.DefaultTimeoutMs)
	}
}
