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
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
	"github.com/AleutianAI/TurnGate/services/turngate/telemetry"
	"github.com/spf13/cobra"
)

// runTurnTaps fetches and prints every tap recorded for a turn.
//
// An unknown turn id is not an error: the service returns empty lists,
// and so does this command.
func runTurnTaps(cmd *cobra.Command, args []string) {
	baseURL := getServiceBaseURL()
	turnID := args[0]
	tapsURL := fmt.Sprintf("%s/v1/inspect/turns/%s/taps", baseURL, turnID)

	resp, err := http.Get(tapsURL)
	if err != nil {
		log.Fatalf("Failed to connect to the service: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Service returned an error: %s", resp.Status)
	}

	var taps telemetry.TurnTaps
	if err := json.NewDecoder(resp.Body).Decode(&taps); err != nil {
		log.Fatalf("Failed to parse response from the service: %v", err)
	}

	if len(taps.Retrievals) == 0 && len(taps.Streams) == 0 {
		fmt.Printf("No taps recorded for turn %s.\n", turnID)
		return
	}

	fmt.Printf("Taps for turn %s:\n", taps.TurnID)
	fmt.Println("------------------------------------------------------------------")
	for _, r := range taps.Retrievals {
		fmt.Printf("[retrieval #%d] %s  mode=%s stores=%s results=%d collisions=%d took=%dms\n",
			r.Seq, formatTapTime(r.Timestamp), r.Mode,
			strings.Join(r.StoreIDs, ","), r.ResultCount, r.Collisions, r.DurationMs)
	}
	for _, s := range taps.Streams {
		line := fmt.Sprintf("[stream #%d]    %s  event=%s tokens=%d",
			s.Seq, formatTapTime(s.Timestamp), s.Event, s.TokenCount)
		if s.Error != "" {
			line += fmt.Sprintf(" error=%q", s.Error)
		}
		fmt.Println(line)
	}
}

// runStatePack fetches and prints a conversation's accumulated writeback
// state in key order.
func runStatePack(cmd *cobra.Command, args []string) {
	baseURL := getServiceBaseURL()
	conversationID := args[0]
	packURL := fmt.Sprintf("%s/v1/inspect/conversations/%s/statepack", baseURL, conversationID)

	resp, err := http.Get(packURL)
	if err != nil {
		log.Fatalf("Failed to connect to the service: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Service returned an error: %s", resp.Status)
	}

	var pack datatypes.StatePack
	if err := json.NewDecoder(resp.Body).Decode(&pack); err != nil {
		log.Fatalf("Failed to parse response from the service: %v", err)
	}

	if len(pack.Entries) == 0 {
		fmt.Printf("No state recorded for conversation %s.\n", conversationID)
		return
	}

	keys := make([]string, 0, len(pack.Entries))
	for k := range pack.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("State pack for conversation %s (updated %s):\n",
		pack.ConversationID, formatTapTime(pack.UpdatedAt))
	fmt.Println("------------------------------------------------------------------")
	for _, k := range keys {
		e := pack.Entries[k]
		fmt.Printf("%s = %s\n    from turn %s at %s\n",
			e.Key, e.Value, e.TurnID, formatTapTime(e.UpdatedAt))
	}
}

// runStatus checks the service's health endpoint.
func runStatus(cmd *cobra.Command, args []string) {
	baseURL := getServiceBaseURL()

	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		log.Fatalf("Failed to connect to the service: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Service returned an error: %s", resp.Status)
	}

	var health struct {
		Status       string `json:"status"`
		SecureMemory bool   `json:"secure_memory"`
		MlockLimitKB int64  `json:"mlock_limit_kb"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		log.Fatalf("Failed to parse response from the service: %v", err)
	}

	if statusJSON {
		if err := OutputJSON(health, false); err != nil {
			log.Fatalf("Failed to encode JSON: %v", err)
		}
		return
	}

	fmt.Printf("Status: %s\n", health.Status)
	fmt.Printf("Secure memory: %t (mlock limit %d kB)\n", health.SecureMemory, health.MlockLimitKB)
}

func formatTapTime(unixMilli int64) string {
	if unixMilli == 0 {
		return "-"
	}
	return time.UnixMilli(unixMilli).UTC().Format(time.RFC3339)
}
