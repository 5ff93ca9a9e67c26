// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/TurnGate/services/llm"
	"github.com/AleutianAI/TurnGate/services/turngate/canonops"
	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
	"github.com/AleutianAI/TurnGate/services/turngate/retrieval"
)

// RetrievalTapSink receives one tap per retrieval call. Implementations
// must never fail the turn; recording errors degrade, not abort.
type RetrievalTapSink interface {
	AppendRetrievalTap(ctx context.Context, tap datatypes.RetrievalTap)
}

// SearchTool searches the turn's planned stores and applies canon
// enforcement to the raw hits.
//
// # Description
//
// The tool is constructed per turn: it carries the resolved retrieval
// plan, so the model cannot search stores the plan excludes. Every
// invocation appends a retrieval tap and accumulates the surfaced
// sources for the response.
//
// # Thread Safety
//
// Invoke may run concurrently within one iteration; the accumulated
// source state is mutex guarded.
type SearchTool struct {
	retriever *retrieval.Retriever
	overlay   *canonops.OverlayProvider
	taps      RetrievalTapSink
	plan      datatypes.RetrievalPlan
	turnID    string

	mu         sync.Mutex
	sources    []datatypes.SourceInfo
	storesUsed map[string]bool
	degraded   bool
}

// NewSearchTool builds the search tool for one turn.
func NewSearchTool(retriever *retrieval.Retriever, overlay *canonops.OverlayProvider, taps RetrievalTapSink, plan datatypes.RetrievalPlan, turnID string) *SearchTool {
	return &SearchTool{
		retriever:  retriever,
		overlay:    overlay,
		taps:       taps,
		plan:       plan,
		turnID:     turnID,
		storesUsed: make(map[string]bool),
	}
}

func (t *SearchTool) Name() string { return "search_knowledge" }

func (t *SearchTool) Capability() Capability { return CapabilityFileSearch }

func (t *SearchTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name(),
		Description: "Search the conversation's knowledge stores. Returns authoritative passages with source ids and scores.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Natural language search query.",
				},
			},
			"required": []string{"query"},
		},
	}
}

type searchArgs struct {
	Query string `json:"query"`
}

type searchHit struct {
	SourceID string  `json:"source_id"`
	StoreID  string  `json:"store_id"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}

func (t *SearchTool) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var req searchArgs
	if err := json.Unmarshal(args, &req); err != nil {
		return "", fmt.Errorf("invalid search_knowledge arguments: %w", err)
	}
	if req.Query == "" {
		return "", fmt.Errorf("search_knowledge requires a query")
	}

	enforced, _, _, err := t.Search(ctx, req.Query)
	if err != nil {
		return "", err
	}

	hits := make([]searchHit, 0, len(enforced))
	for _, r := range enforced {
		hits = append(hits, searchHit{
			SourceID: r.SourceID,
			StoreID:  r.StoreID,
			Content:  r.Content,
			Score:    r.Score,
		})
	}
	encoded, err := json.Marshal(hits)
	if err != nil {
		return "", fmt.Errorf("encode search results: %w", err)
	}
	return string(encoded), nil
}

// Search runs one retrieval pass with canon enforcement and tap
// recording. The responder uses it directly for initial context; Invoke
// wraps it for the model.
func (t *SearchTool) Search(ctx context.Context, query string) ([]datatypes.RetrievedResult, []datatypes.Collision, bool, error) {
	start := time.Now()
	raw, degraded, err := t.retriever.Retrieve(ctx, t.plan, query)
	if err != nil {
		return nil, nil, false, err
	}

	enforced, collisions := canonops.Enforce(raw, t.overlay.Current())

	if t.taps != nil {
		t.taps.AppendRetrievalTap(ctx, datatypes.RetrievalTap{
			Timestamp:        time.Now().UnixMilli(),
			TurnID:           t.turnID,
			Mode:             t.plan.Mode,
			StoreIDs:         t.plan.StoreIDs(),
			ResultCount:      len(enforced),
			Collisions:       len(collisions),
			CollisionEntries: collisions,
			DurationMs:       time.Since(start).Milliseconds(),
		})
	}

	t.mu.Lock()
	for _, r := range enforced {
		t.sources = append(t.sources, datatypes.SourceInfo{
			Source:  r.SourceID,
			StoreID: r.StoreID,
			Score:   r.Score,
		})
		t.storesUsed[r.StoreID] = true
	}
	if degraded {
		t.degraded = true
	}
	t.mu.Unlock()

	return enforced, collisions, degraded, nil
}

// Sources returns the sources surfaced so far, in retrieval order.
func (t *SearchTool) Sources() []datatypes.SourceInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]datatypes.SourceInfo, len(t.sources))
	copy(out, t.sources)
	return out
}

// StoresUsed returns the distinct store ids that contributed results.
func (t *SearchTool) StoresUsed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.storesUsed))
	for id := range t.storesUsed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Degraded reports whether any retrieval pass lost a store.
func (t *SearchTool) Degraded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.degraded
}
