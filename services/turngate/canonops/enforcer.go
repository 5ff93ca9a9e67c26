// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package canonops applies authority overlays to retrieval results.
//
// This is the stability and drift control stage of the turn pipeline. As
// the overlay is updated it guarantees monotonic convergence toward one
// authoritative answer per fact, and it guarantees no tombstoned source
// ever reaches the model context again.
package canonops

import (
	"sort"

	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

// maxSupersessionChain bounds chain walking so a cyclic overlay cannot
// hang enforcement. A cycle means the overlay is corrupt; the walk stops
// at the entry node and the sources surface as a collision instead.
const maxSupersessionChain = 64

// Enforce applies the overlay to raw retrieval results.
//
// # Description
//
// The algorithm, in order:
//
//  1. Drop any result whose source id is tombstoned.
//  2. Group remaining results by lineage key.
//  3. Within a group, follow supersession edges to the terminal
//     (non-superseded) node and keep only results on that side.
//  4. Break remaining ties by authority rank, then most recent timestamp.
//  5. Two active, same-rank, same-timestamp sources are a collision:
//     the lexicographically smaller source id wins deterministically and
//     a collision entry is recorded. Collisions degrade, never fail.
//
// Enforcement is idempotent: running it on an already-enforced set with
// the same overlay returns an identical set and no collisions.
//
// # Inputs
//
//   - results: raw hits from the retrieval stores. Not mutated.
//   - overlay: the current authority overlay. Must not be nil.
//
// # Outputs
//
//   - []datatypes.RetrievedResult: one result per lineage key, in
//     descending score order.
//   - []datatypes.Collision: detected collisions, if any.
func Enforce(results []datatypes.RetrievedResult, overlay *datatypes.CanonOverlay) ([]datatypes.RetrievedResult, []datatypes.Collision) {
	// Step 1: tombstone exclusion.
	active := make([]datatypes.RetrievedResult, 0, len(results))
	for _, r := range results {
		if overlay.IsTombstoned(r.SourceID) {
			continue
		}
		active = append(active, r)
	}

	// Step 2: group by lineage key. Results without a lineage key are
	// their own fact; key them by source id.
	groups := make(map[string][]datatypes.RetrievedResult)
	order := make([]string, 0, len(active))
	for _, r := range active {
		key := r.LineageKey
		if key == "" {
			key = r.SourceID
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	var kept []datatypes.RetrievedResult
	var collisions []datatypes.Collision

	for _, key := range order {
		winner, collision := resolveGroup(key, groups[key], overlay)
		kept = append(kept, winner)
		if collision != nil {
			collisions = append(collisions, *collision)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})

	return kept, collisions
}

// resolveGroup picks the single surfaced result for one lineage key.
func resolveGroup(key string, group []datatypes.RetrievedResult, overlay *datatypes.CanonOverlay) (datatypes.RetrievedResult, *datatypes.Collision) {
	if len(group) == 1 {
		return group[0], nil
	}

	// Step 3: supersession. A result survives if no other member of the
	// group supersedes it, directly or through a chain.
	present := make(map[string]bool, len(group))
	for _, r := range group {
		present[r.SourceID] = true
	}

	survivors := group[:0:0]
	for _, r := range group {
		if terminal := terminalOf(r.SourceID, overlay); terminal != r.SourceID && present[terminal] {
			continue
		}
		survivors = append(survivors, r)
	}
	if len(survivors) == 0 {
		// Cyclic overlay data; fall back to the raw group.
		survivors = group
	}

	// Step 4: rank desc, then timestamp desc, then source id asc so the
	// outcome is deterministic even on a full tie.
	sort.SliceStable(survivors, func(i, j int) bool {
		a, b := survivors[i], survivors[j]
		ra, rb := rankOf(a, overlay), rankOf(b, overlay)
		if ra != rb {
			return ra > rb
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp > b.Timestamp
		}
		return a.SourceID < b.SourceID
	})

	winner := survivors[0]
	if len(survivors) == 1 {
		return winner, nil
	}

	// Step 5: same rank, same timestamp, still two active sources.
	runner := survivors[1]
	if rankOf(winner, overlay) == rankOf(runner, overlay) && winner.Timestamp == runner.Timestamp {
		return winner, &datatypes.Collision{
			LineageKey: key,
			KeptSource: winner.SourceID,
			LostSource: runner.SourceID,
			Rank:       rankOf(winner, overlay),
			Timestamp:  winner.Timestamp,
		}
	}
	return winner, nil
}

// terminalOf follows supersession edges from sourceID to the terminal
// node, stopping on a cycle or an overlong chain.
func terminalOf(sourceID string, overlay *datatypes.CanonOverlay) string {
	seen := map[string]bool{sourceID: true}
	cur := sourceID
	for i := 0; i < maxSupersessionChain; i++ {
		edge, ok := overlay.Supersessions[cur]
		if !ok || edge.SupersededBy == "" {
			return cur
		}
		next := edge.SupersededBy
		if seen[next] {
			return sourceID
		}
		seen[next] = true
		cur = next
	}
	return cur
}

// rankOf prefers the rank carried on the result, falling back to the
// overlay's rank table.
func rankOf(r datatypes.RetrievedResult, overlay *datatypes.CanonOverlay) int {
	if r.AuthorityRank != 0 {
		return r.AuthorityRank
	}
	return overlay.RankOf(r.SourceID)
}
