// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	// DefaultServiceHost is the standard address of the turn pipeline.
	DefaultServiceHost = "localhost"
	// DefaultServicePort matches the service's default listen port.
	DefaultServicePort = 12310
)

// --- Global Command Variables ---
var (
	listOffset       int
	listLimit        int
	ingestStoreID    string
	ingestLineage    string
	ingestRank       float64
	ingestForce      bool
	policyVerifyJSON bool
	policyTestJSON   bool
	statusJSON       bool

	rootCmd = &cobra.Command{
		Use:   "turngatectl",
		Short: "A cli to inspect and feed the TurnGate conversation pipeline",
		Long: `turngatectl is the operator tool for a running TurnGate service.

It reads the inspection surfaces (turn taps, conversation state packs,
store inventories), ingests documents into the retrieval stores, and
audits content against the embedded classification rules.`,
	}

	// --- Inspection ---
	inspectCmd = &cobra.Command{
		Use:   "inspect",
		Short: "Read the service's inspection surfaces",
	}
	tapsCmd = &cobra.Command{
		Use:   "taps [turn_id]",
		Short: "Show the retrieval and stream taps recorded for a turn",
		Args:  cobra.ExactArgs(1),
		Run:   runTurnTaps, // Defined in cmd_inspect.go
	}
	statepackCmd = &cobra.Command{
		Use:   "statepack [conversation_id]",
		Short: "Show the accumulated writeback state for a conversation",
		Args:  cobra.ExactArgs(1),
		Run:   runStatePack, // Defined in cmd_inspect.go
	}

	// --- Stores ---
	storesCmd = &cobra.Command{
		Use:   "stores",
		Short: "Work with the retrieval stores",
	}
	storesListCmd = &cobra.Command{
		Use:   "list [store_id]",
		Short: "List one page of a store's document inventory, newest first",
		Args:  cobra.ExactArgs(1),
		Run:   runListDocuments, // Defined in cmd_stores.go
	}
	ingestCmd = &cobra.Command{
		Use:   "ingest [file path]",
		Short: "Scans a local file for secrets before ingesting it into a store",
		Args:  cobra.ExactArgs(1),
		Run:   runIngestFile, // Defined in cmd_stores.go
	}

	// --- Policy ---
	policyCmd = &cobra.Command{
		Use:   "policy",
		Short: "Audit content against the embedded classification rules",
	}
	policyVerifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Print the fingerprint of the rules compiled into this binary",
		Run:   verifyPolicies, // Defined in cmd_policy.go
	}
	policyTestCmd = &cobra.Command{
		Use:   "test [string]",
		Short: "Test a string against the classification rules",
		Args:  cobra.ExactArgs(1),
		Run:   testPolicyString, // Defined in cmd_policy.go
	}

	// --- Status ---
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Check the service's health endpoint",
		Run:   runStatus, // Defined in cmd_inspect.go
	}
)

func init() {
	storesListCmd.Flags().IntVar(&listOffset, "offset", 0, "Zero-based object offset into the inventory")
	storesListCmd.Flags().IntVar(&listLimit, "limit", 50, "Page size")

	ingestCmd.Flags().StringVar(&ingestStoreID, "store", "", "Target retrieval store id (required)")
	ingestCmd.Flags().StringVar(&ingestLineage, "lineage", "", "Lineage key grouping revisions of the same source")
	ingestCmd.Flags().Float64Var(&ingestRank, "rank", 0, "Authority rank for the ingested chunks")
	ingestCmd.Flags().BoolVar(&ingestForce, "force", false, "Ingest even when non-blocking findings are present")
	ingestCmd.MarkFlagRequired("store")

	policyVerifyCmd.Flags().BoolVar(&policyVerifyJSON, "json", false, "Output as JSON")
	policyTestCmd.Flags().BoolVar(&policyTestJSON, "json", false, "Output as JSON")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")

	rootCmd.AddCommand(inspectCmd)
	inspectCmd.AddCommand(tapsCmd)
	inspectCmd.AddCommand(statepackCmd)

	rootCmd.AddCommand(storesCmd)
	storesCmd.AddCommand(storesListCmd)
	rootCmd.AddCommand(ingestCmd)

	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyVerifyCmd)
	policyCmd.AddCommand(policyTestCmd)

	rootCmd.AddCommand(statusCmd)
}

// getServiceBaseURL returns the standard address for the service.
func getServiceBaseURL() string {
	// 1. Priority: Environment Variable (Used by Tests & Docker overrides)
	if url := os.Getenv("TURNGATE_SERVICE_URL"); url != "" {
		return url
	}
	// 2. Default: Standard Host/Port
	return fmt.Sprintf("http://%s:%d", DefaultServiceHost, DefaultServicePort)
}
