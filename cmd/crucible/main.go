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
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	cfgPath string

	// ledger show filters
	filterCategory   string
	filterPhase      string
	filterStatus     string
	filterConfidence string

	// ledger graph
	graphTransitive bool

	rootCmd = &cobra.Command{
		Use:   "crucible",
		Short: "Protocol coordination core for LLM-driven software generation",
		Long: `Crucible runs the decision ledger, phase state machine and blocking
lifecycle that coordinate an LLM-driven software-generation workflow.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the protocol session behind the HTTP API",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	// --- Ledger Inspection ---
	ledgerCmd = &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the persisted decision ledger",
	}
	ledgerShowCmd = &cobra.Command{
		Use:   "show",
		Short: "List decisions, optionally filtered",
		RunE:  runLedgerShow, // Defined in cmd_ledger.go
	}
	ledgerVerifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Re-validate the persisted ledger's invariants",
		RunE:  runLedgerVerify, // Defined in cmd_ledger.go
	}
	ledgerGraphCmd = &cobra.Command{
		Use:   "graph [decision-id]",
		Short: "Show a decision's dependency neighborhood",
		Args:  cobra.ExactArgs(1),
		RunE:  runLedgerGraph, // Defined in cmd_ledger.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "",
		"config file (default ~/.crucible/crucible.yaml)")

	ledgerShowCmd.Flags().StringVar(&filterCategory, "category", "", "filter by category")
	ledgerShowCmd.Flags().StringVar(&filterPhase, "phase", "", "filter by ledger phase")
	ledgerShowCmd.Flags().StringVar(&filterStatus, "status", "", "filter by status")
	ledgerShowCmd.Flags().StringVar(&filterConfidence, "confidence", "", "filter by confidence")

	ledgerGraphCmd.Flags().BoolVar(&graphTransitive, "transitive", false,
		"include transitive closures")

	ledgerCmd.AddCommand(ledgerShowCmd, ledgerVerifyCmd, ledgerGraphCmd)
	rootCmd.AddCommand(serveCmd, ledgerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
