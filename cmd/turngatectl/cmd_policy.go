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
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/AleutianAI/TurnGate/services/turngate/policy"
	"github.com/spf13/cobra"
)

// verifyPolicies prints the fingerprint of the classification rules
// embedded in this binary.
//
// Operators compare the fingerprint against the release manifest to
// confirm the rules have not been swapped during the build.
//
// # Exit Codes
//
//   - 0: Policy verified successfully
//   - 2: Error (should not happen for embedded policies)
func verifyPolicies(cmd *cobra.Command, args []string) {
	data := policy.ClassificationRules
	hash := sha256.Sum256(data)
	hashStr := fmt.Sprintf("sha256:%x", hash)

	if policyVerifyJSON {
		result := PolicyVerifyResult{
			Valid:    true,
			Hash:     hashStr,
			ByteSize: len(data),
			Version:  "1.0",
		}
		if err := OutputJSON(result, false); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			os.Exit(CLIExitError)
		}
		os.Exit(CLIExitSuccess)
	}

	fmt.Println("--- Embedded Policy Verification ---")
	fmt.Printf("Policy byte size: %d bytes\n", len(data))
	fmt.Printf("SHA256 Fingerprint: %x\n", hash)
	fmt.Println("------------------------------------")
}

// testPolicyString tests a string against the classification rules.
//
// # Exit Codes
//
//   - 0: No findings
//   - 1: Findings present
//   - 2: Error
func testPolicyString(cmd *cobra.Command, args []string) {
	engine, err := policy.NewEngine()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load the classification rules: %v\n", err)
		os.Exit(CLIExitError)
	}

	findings := engine.Scan(args[0])

	if policyTestJSON {
		result := struct {
			Findings []policy.Finding `json:"findings"`
			Blocking bool             `json:"blocking"`
		}{
			Findings: findings,
			Blocking: policy.Blocking(findings),
		}
		if err := OutputJSON(result, false); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			os.Exit(CLIExitError)
		}
		if len(findings) > 0 {
			os.Exit(CLIExitFindings)
		}
		os.Exit(CLIExitSuccess)
	}

	if len(findings) == 0 {
		fmt.Println("No findings.")
		return
	}

	for _, f := range findings {
		fmt.Printf("line %d: [%s/%s] %s: %q\n",
			f.LineNumber, f.Classification, f.Confidence, f.Description, f.MatchedContent)
	}
	if policy.Blocking(findings) {
		fmt.Println("Verdict: BLOCKING (high-confidence secret)")
	}
	os.Exit(CLIExitFindings)
}
