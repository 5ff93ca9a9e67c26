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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/AleutianAI/TurnGate/services/turngate/handlers"
	"github.com/AleutianAI/TurnGate/services/turngate/policy"
	"github.com/AleutianAI/TurnGate/services/turngate/retrieval"
	"github.com/spf13/cobra"
)

// runListDocuments fetches one page of a store's inventory.
func runListDocuments(cmd *cobra.Command, args []string) {
	baseURL := getServiceBaseURL()
	storeID := args[0]
	listURL := fmt.Sprintf("%s/v1/stores/%s/documents?offset=%d&limit=%d",
		baseURL, storeID, listOffset, listLimit)

	resp, err := http.Get(listURL)
	if err != nil {
		log.Fatalf("Failed to connect to the service: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Service returned an error: %s", resp.Status)
	}

	var page retrieval.InventoryPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		log.Fatalf("Failed to parse response from the service: %v", err)
	}

	if len(page.Sources) == 0 {
		fmt.Printf("Store %s holds no documents at offset %d.\n", page.StoreID, page.Offset)
		return
	}

	fmt.Printf("Store %s: %d documents total, showing %d from offset %d:\n",
		page.StoreID, page.Total, len(page.Sources), page.Offset)
	fmt.Println("------------------------------------------------------------------")
	for _, s := range page.Sources {
		fmt.Printf("%s\n    lineage=%s parent=%s created=%s\n",
			s.SourceID, s.LineageKey, s.ParentSource, formatTapTime(s.CreatedAt))
	}
}

// runIngestFile scans a local file against the embedded classification
// rules, then submits it to the ingestion endpoint. The same rules run
// again server-side; scanning here gives operators line numbers before
// anything leaves the machine.
func runIngestFile(cmd *cobra.Command, args []string) {
	path := args[0]
	content, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", path, err)
	}

	engine, err := policy.NewEngine()
	if err != nil {
		log.Fatalf("Failed to load the classification rules: %v", err)
	}

	findings := engine.Scan(string(content))
	if len(findings) > 0 {
		fmt.Printf("Found %d classification findings in %s:\n", len(findings), path)
		for _, f := range findings {
			fmt.Printf("  line %d: [%s/%s] %s\n",
				f.LineNumber, f.Classification, f.Confidence, f.Description)
		}
		if policy.Blocking(findings) {
			log.Fatalf("Refusing to ingest %s: high-confidence secret detected", path)
		}
		if !ingestForce {
			log.Fatalf("Refusing to ingest %s without --force", path)
		}
		fmt.Println("Proceeding under --force.")
	}

	req := handlers.IngestDocumentRequest{
		Content:       string(content),
		Source:        filepath.Base(path),
		StoreID:       ingestStoreID,
		LineageKey:    ingestLineage,
		AuthorityRank: ingestRank,
	}
	body, err := json.Marshal(req)
	if err != nil {
		log.Fatalf("Failed to encode the ingestion request: %v", err)
	}

	baseURL := getServiceBaseURL()
	resp, err := http.Post(baseURL+"/v1/documents", "application/json", bytes.NewBuffer(body))
	if err != nil {
		log.Fatalf("Failed to send the ingestion request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		log.Fatalf("Service rejected the document: %s: %s", resp.Status, string(respBody))
	}

	var result struct {
		Source          string `json:"source"`
		StoreID         string `json:"store_id"`
		ChunksProcessed int    `json:"chunks_processed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Fatalf("Failed to parse response from the service: %v", err)
	}

	fmt.Printf("Ingested %s into %s as %d chunks.\n",
		result.Source, result.StoreID, result.ChunksProcessed)
}
