// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// RetrievalMode selects which knowledge stores apply to a turn.
type RetrievalMode string

const (
	// RetrievalModeCanon consults only the canon store (stable facts).
	RetrievalModeCanon RetrievalMode = "canon"

	// RetrievalModeThreads consults only the threads store (conversation
	// history).
	RetrievalModeThreads RetrievalMode = "threads"

	// RetrievalModeCombined consults both stores. Default.
	RetrievalModeCombined RetrievalMode = "combined"
)

// StoreSelection names one store the plan will consult, with its result cap.
type StoreSelection struct {
	StoreID string `json:"store_id"`
	Cap     int    `json:"cap"`
}

// RetrievalPlan is the resolved routing decision for a turn.
//
// Invariant: canon and threads are mutually exclusive single-store modes;
// combined is the only mode with two selections. SearchFirst mandates that
// a search-type tool runs before any other tool in the first loop
// iteration (forced canon-hunt behavior).
type RetrievalPlan struct {
	Mode        RetrievalMode    `json:"mode"`
	Stores      []StoreSelection `json:"stores"`
	SearchFirst bool             `json:"search_first"`
}

// StoreIDs returns the plan's store identifiers in selection order.
func (p RetrievalPlan) StoreIDs() []string {
	ids := make([]string, 0, len(p.Stores))
	for _, s := range p.Stores {
		ids = append(ids, s.StoreID)
	}
	return ids
}

// RetrievedResult is one raw hit from a store, before canon enforcement.
type RetrievedResult struct {
	SourceID      string  `json:"source_id"`
	LineageKey    string  `json:"lineage_key"`
	StoreID       string  `json:"store_id"`
	Content       string  `json:"content"`
	AuthorityRank int     `json:"authority_rank"`
	Timestamp     int64   `json:"timestamp"`
	Score         float64 `json:"score"`
}
