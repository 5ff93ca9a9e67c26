// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

// Retriever executes a resolved plan across its stores.
//
// # Description
//
// Stores are queried in plan order, each with its own cap. In combined
// mode a single failing store degrades the turn (partial results, logged)
// rather than failing it; in a forced single-store mode the failure is the
// turn's failure, because the caller asked for exactly that store.
type Retriever struct {
	searcher StoreSearcher
}

// NewRetriever builds a retriever over the given store searcher.
func NewRetriever(searcher StoreSearcher) *Retriever {
	return &Retriever{searcher: searcher}
}

// Retrieve runs the plan for one query.
//
// # Outputs
//
//   - []datatypes.RetrievedResult: raw hits across all consulted stores,
//     before canon enforcement.
//   - bool: true when a combined-mode store failed and results are
//     partial.
//   - error: non-nil when the plan cannot produce any results.
func (r *Retriever) Retrieve(ctx context.Context, plan datatypes.RetrievalPlan, query string) ([]datatypes.RetrievedResult, bool, error) {
	ctx, span := tracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()

	var merged []datatypes.RetrievedResult
	degraded := false

	for _, store := range plan.Stores {
		hits, err := r.searcher.Search(ctx, store.StoreID, query, store.Cap)
		if err != nil {
			if plan.Mode == datatypes.RetrievalModeCombined && len(plan.Stores) > 1 {
				slog.Warn("Store failed in combined mode, continuing with partial results",
					"store", store.StoreID, "error", err)
				degraded = true
				continue
			}
			return nil, false, fmt.Errorf("retrieve from store %s: %w", store.StoreID, err)
		}
		merged = append(merged, hits...)
	}

	if degraded && len(merged) == 0 {
		return nil, false, fmt.Errorf("all stores failed for plan mode %s", plan.Mode)
	}
	return merged, degraded, nil
}
