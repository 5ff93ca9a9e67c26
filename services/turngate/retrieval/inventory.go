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

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

const maxInventoryPageSize = 200

// SourceSummary is one inventory row for an ingested source.
type SourceSummary struct {
	SourceID     string `json:"source_id"`
	LineageKey   string `json:"lineage_key"`
	ParentSource string `json:"parent_source"`
	CreatedAt    int64  `json:"created_at"`
}

// InventoryPage is one page of the store inventory.
type InventoryPage struct {
	StoreID string          `json:"store_id"`
	Total   int             `json:"total"`
	Offset  int             `json:"offset"`
	Sources []SourceSummary `json:"sources"`
}

// Inventory lists what a retrieval store holds, paginated.
type Inventory struct {
	client *weaviate.Client
	router *Router
}

// NewInventory wires the inventory lister to the shared Weaviate client.
func NewInventory(client *weaviate.Client, router *Router) *Inventory {
	return &Inventory{client: client, router: router}
}

// List returns one page of sources from storeID, newest first.
//
// # Inputs
//
//   - offset: zero-based object offset.
//   - limit: page size, clamped to [1, 200].
func (inv *Inventory) List(ctx context.Context, storeID string, offset, limit int) (*InventoryPage, error) {
	ctx, span := tracer.Start(ctx, "Inventory.List")
	defer span.End()

	class, ok := inv.router.ClassFor(storeID)
	if !ok {
		return nil, fmt.Errorf("unknown retrieval store %q", storeID)
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > maxInventoryPageSize {
		limit = maxInventoryPageSize
	}

	total, err := inv.count(ctx, class)
	if err != nil {
		return nil, err
	}

	fields := []graphql.Field{
		{Name: propSourceID},
		{Name: propLineageKey},
		{Name: propParentSource},
		{Name: propCreatedAt},
	}

	result, err := inv.client.GraphQL().Get().
		WithClassName(class).
		WithFields(fields...).
		WithSort(graphql.Sort{Path: []string{propCreatedAt}, Order: graphql.Desc}).
		WithOffset(offset).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("list store %s: %w", storeID, err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("list store %s: %s", storeID, result.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.SourceListingResponse](result)
	if err != nil {
		return nil, fmt.Errorf("parse store listing for %s: %w", storeID, err)
	}

	page := &InventoryPage{StoreID: storeID, Total: total, Offset: offset}
	for _, hit := range parsed.Get[class] {
		page.Sources = append(page.Sources, SourceSummary{
			SourceID:     hit.SourceID,
			LineageKey:   hit.LineageKey,
			ParentSource: hit.ParentSource,
			CreatedAt:    int64(hit.CreatedAt),
		})
	}
	return page, nil
}

func (inv *Inventory) count(ctx context.Context, class string) (int, error) {
	agg, err := inv.client.GraphQL().Aggregate().
		WithClassName(class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("count class %s: %w", class, err)
	}
	if len(agg.Errors) > 0 {
		return 0, fmt.Errorf("count class %s: %s", class, agg.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.AggregateCountResponse](agg)
	if err != nil {
		return 0, fmt.Errorf("parse count for class %s: %w", class, err)
	}
	groups := parsed.Aggregate[class]
	if len(groups) == 0 {
		return 0, nil
	}
	return int(groups[0].Meta.Count), nil
}
