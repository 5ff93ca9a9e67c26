// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package canonops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

func overlay(tombstones []string, supersessions map[string]datatypes.SupersessionEdge, ranks map[string]int) *datatypes.CanonOverlay {
	o := &datatypes.CanonOverlay{
		Tombstones:    tombstones,
		Supersessions: supersessions,
		Ranks:         ranks,
	}
	o.Seal()
	return o
}

func result(source, lineage string, rank int, ts int64) datatypes.RetrievedResult {
	return datatypes.RetrievedResult{
		SourceID:      source,
		LineageKey:    lineage,
		AuthorityRank: rank,
		Timestamp:     ts,
	}
}

func sourceIDs(results []datatypes.RetrievedResult) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.SourceID)
	}
	return ids
}

// =============================================================================
// Tombstone Exclusion
// =============================================================================

func TestEnforce_TombstonedSourceNeverSurfaces(t *testing.T) {
	o := overlay([]string{"src-b"}, nil, nil)

	// A tombstoned source is excluded for any rank or timestamp.
	kept, _ := Enforce([]datatypes.RetrievedResult{
		result("src-a", "fact-1", 1, 100),
		result("src-b", "fact-1", 99, 999999),
		result("src-b", "fact-2", 99, 999999),
	}, o)

	assert.NotContains(t, sourceIDs(kept), "src-b")
	assert.Equal(t, []string{"src-a"}, sourceIDs(kept))
}

func TestEnforce_AllTombstonedYieldsEmptySet(t *testing.T) {
	o := overlay([]string{"src-a"}, nil, nil)
	kept, collisions := Enforce([]datatypes.RetrievedResult{
		result("src-a", "fact-1", 1, 100),
	}, o)

	assert.Empty(t, kept)
	assert.Empty(t, collisions)
}

// =============================================================================
// Supersession
// =============================================================================

func TestEnforce_SupersessionKeepsReplacingSide(t *testing.T) {
	o := overlay(nil, map[string]datatypes.SupersessionEdge{
		"src-old": {SupersededBy: "src-new", At: 200},
	}, nil)

	kept, collisions := Enforce([]datatypes.RetrievedResult{
		result("src-old", "fact-1", 5, 100),
		result("src-new", "fact-1", 1, 50),
	}, o)

	require.Len(t, kept, 1)
	assert.Equal(t, "src-new", kept[0].SourceID)
	assert.Empty(t, collisions)
}

func TestEnforce_SupersessionChainFollowsToTerminal(t *testing.T) {
	o := overlay(nil, map[string]datatypes.SupersessionEdge{
		"src-1": {SupersededBy: "src-2", At: 10},
		"src-2": {SupersededBy: "src-3", At: 20},
	}, nil)

	kept, _ := Enforce([]datatypes.RetrievedResult{
		result("src-1", "fact-1", 0, 1),
		result("src-2", "fact-1", 0, 2),
		result("src-3", "fact-1", 0, 3),
	}, o)

	require.Len(t, kept, 1)
	assert.Equal(t, "src-3", kept[0].SourceID)
}

func TestEnforce_SupersededButReplacementAbsent(t *testing.T) {
	// The replacement was not retrieved; the superseded source still
	// surfaces rather than silently losing the fact.
	o := overlay(nil, map[string]datatypes.SupersessionEdge{
		"src-old": {SupersededBy: "src-missing", At: 200},
	}, nil)

	kept, _ := Enforce([]datatypes.RetrievedResult{
		result("src-old", "fact-1", 0, 100),
	}, o)

	require.Len(t, kept, 1)
	assert.Equal(t, "src-old", kept[0].SourceID)
}

func TestEnforce_SupersessionCycleDoesNotHang(t *testing.T) {
	o := overlay(nil, map[string]datatypes.SupersessionEdge{
		"src-a": {SupersededBy: "src-b"},
		"src-b": {SupersededBy: "src-a"},
	}, nil)

	kept, _ := Enforce([]datatypes.RetrievedResult{
		result("src-a", "fact-1", 0, 5),
		result("src-b", "fact-1", 0, 5),
	}, o)

	require.Len(t, kept, 1)
}

// =============================================================================
// Rank and Timestamp Tie-Breaks
// =============================================================================

func TestEnforce_HigherRankWins(t *testing.T) {
	kept, collisions := Enforce([]datatypes.RetrievedResult{
		result("src-low", "fact-1", 1, 999),
		result("src-high", "fact-1", 5, 1),
	}, overlay(nil, nil, nil))

	require.Len(t, kept, 1)
	assert.Equal(t, "src-high", kept[0].SourceID)
	assert.Empty(t, collisions)
}

func TestEnforce_NewerTimestampWinsAtEqualRank(t *testing.T) {
	kept, collisions := Enforce([]datatypes.RetrievedResult{
		result("src-old", "fact-1", 3, 100),
		result("src-new", "fact-1", 3, 200),
	}, overlay(nil, nil, nil))

	require.Len(t, kept, 1)
	assert.Equal(t, "src-new", kept[0].SourceID)
	assert.Empty(t, collisions)
}

func TestEnforce_RanksFromOverlayTable(t *testing.T) {
	o := overlay(nil, nil, map[string]int{"src-b": 7})

	kept, _ := Enforce([]datatypes.RetrievedResult{
		result("src-a", "fact-1", 0, 500),
		result("src-b", "fact-1", 0, 1),
	}, o)

	require.Len(t, kept, 1)
	assert.Equal(t, "src-b", kept[0].SourceID)
}

// =============================================================================
// Collisions
// =============================================================================

func TestEnforce_FullTieIsCollision(t *testing.T) {
	kept, collisions := Enforce([]datatypes.RetrievedResult{
		result("src-b", "fact-1", 3, 100),
		result("src-a", "fact-1", 3, 100),
	}, overlay(nil, nil, nil))

	require.Len(t, kept, 1)
	// Deterministic choice: lexicographically smaller source id wins.
	assert.Equal(t, "src-a", kept[0].SourceID)

	require.Len(t, collisions, 1)
	assert.Equal(t, "fact-1", collisions[0].LineageKey)
	assert.Equal(t, "src-a", collisions[0].KeptSource)
	assert.Equal(t, "src-b", collisions[0].LostSource)
}

func TestEnforce_CollisionDoesNotFailOtherGroups(t *testing.T) {
	kept, collisions := Enforce([]datatypes.RetrievedResult{
		result("src-a", "fact-1", 3, 100),
		result("src-b", "fact-1", 3, 100),
		result("src-c", "fact-2", 1, 50),
	}, overlay(nil, nil, nil))

	assert.Len(t, kept, 2)
	assert.Len(t, collisions, 1)
}

// =============================================================================
// Idempotence
// =============================================================================

func TestEnforce_IdempotentOnEnforcedSet(t *testing.T) {
	o := overlay([]string{"src-dead"}, map[string]datatypes.SupersessionEdge{
		"src-old": {SupersededBy: "src-new", At: 10},
	}, nil)

	raw := []datatypes.RetrievedResult{
		result("src-dead", "fact-1", 9, 900),
		result("src-old", "fact-2", 1, 10),
		result("src-new", "fact-2", 1, 20),
		result("src-solo", "fact-3", 2, 30),
	}

	once, _ := Enforce(raw, o)
	twice, collisions := Enforce(once, o)

	assert.Equal(t, once, twice)
	assert.Empty(t, collisions)
}

func TestEnforce_EmptyLineageKeyGroupsBySource(t *testing.T) {
	kept, _ := Enforce([]datatypes.RetrievedResult{
		result("src-a", "", 0, 1),
		result("src-b", "", 0, 1),
	}, overlay(nil, nil, nil))

	// Distinct sources without lineage are distinct facts.
	assert.Len(t, kept, 2)
}
