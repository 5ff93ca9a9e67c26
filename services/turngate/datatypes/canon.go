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

// SupersessionEdge records that a source was replaced by another.
type SupersessionEdge struct {
	SupersededBy string `json:"superseded_by"`
	At           int64  `json:"at"`
}

// CanonOverlay is the authority overlay applied to raw retrieval results.
//
// # Description
//
// The overlay holds three relations over source ids:
//
//   - Tombstones: sources that must never surface again, for any rank or
//     timestamp.
//   - Supersessions: a directed replacement graph; chains are followed to
//     the terminal (non-superseded) node.
//   - Ranks: authority rank per source; higher wins ties. Unranked sources
//     default to rank 0.
//
// Overlays are immutable once loaded; updates arrive as a whole-file swap.
type CanonOverlay struct {
	Tombstones    []string                    `json:"tombstones"`
	Supersessions map[string]SupersessionEdge `json:"supersessions"`
	Ranks         map[string]int              `json:"ranks"`

	tombstoneSet map[string]struct{}
}

// Seal builds the internal tombstone set. Call once after decoding.
func (o *CanonOverlay) Seal() {
	o.tombstoneSet = make(map[string]struct{}, len(o.Tombstones))
	for _, id := range o.Tombstones {
		o.tombstoneSet[id] = struct{}{}
	}
}

// IsTombstoned reports whether the source is permanently excluded.
func (o *CanonOverlay) IsTombstoned(sourceID string) bool {
	if o.tombstoneSet != nil {
		_, ok := o.tombstoneSet[sourceID]
		return ok
	}
	for _, id := range o.Tombstones {
		if id == sourceID {
			return true
		}
	}
	return false
}

// RankOf returns the authority rank for a source, defaulting to 0.
func (o *CanonOverlay) RankOf(sourceID string) int {
	return o.Ranks[sourceID]
}

// Collision records two active, same-rank, unresolved sources for the same
// lineage key. Collisions degrade the result (one side is still chosen
// deterministically) but never fail the turn.
type Collision struct {
	LineageKey string `json:"lineage_key"`
	KeptSource string `json:"kept_source"`
	LostSource string `json:"lost_source"`
	Rank       int    `json:"rank"`
	Timestamp  int64  `json:"timestamp"`
}
