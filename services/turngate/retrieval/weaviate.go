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
	"strconv"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

var tracer = otel.Tracer("turngate.retrieval")

// Stored property names on the retrieval store classes.
const (
	propContent       = "content"
	propSourceID      = "source_id"
	propLineageKey    = "lineage_key"
	propAuthorityRank = "authority_rank"
	propCreatedAt     = "created_at"
	propParentSource  = "parent_source"
)

// StoreSearcher runs one capped search against one store.
type StoreSearcher interface {
	Search(ctx context.Context, storeID, query string, limit int) ([]datatypes.RetrievedResult, error)
}

// WeaviateSearcher searches the canon and threads classes with a hybrid
// (BM25 + vector) query.
type WeaviateSearcher struct {
	client *weaviate.Client
	router *Router
}

// NewWeaviateSearcher wires the searcher to the shared Weaviate client.
// The router supplies the store id to class mapping.
func NewWeaviateSearcher(client *weaviate.Client, router *Router) *WeaviateSearcher {
	return &WeaviateSearcher{client: client, router: router}
}

// Search runs a hybrid query against the class backing storeID.
//
// # Outputs
//
//   - []datatypes.RetrievedResult: hits tagged with source id, lineage
//     key, authority rank and timestamp from the stored properties.
//   - error: non-nil on an unknown store or a failed query.
func (s *WeaviateSearcher) Search(ctx context.Context, storeID, query string, limit int) ([]datatypes.RetrievedResult, error) {
	ctx, span := tracer.Start(ctx, "WeaviateSearcher.Search")
	defer span.End()

	class, ok := s.router.ClassFor(storeID)
	if !ok {
		return nil, fmt.Errorf("unknown retrieval store %q", storeID)
	}

	hybrid := s.client.GraphQL().HybridArgumentBuilder().
		WithQuery(query)

	fields := []graphql.Field{
		{Name: propContent},
		{Name: propSourceID},
		{Name: propLineageKey},
		{Name: propAuthorityRank},
		{Name: propCreatedAt},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "score"},
		}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(class).
		WithFields(fields...).
		WithHybrid(hybrid).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		slog.Error("Weaviate search failed", "store", storeID, "class", class, "error", err)
		return nil, fmt.Errorf("weaviate search failed for store %s: %w", storeID, err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search failed for store %s: %s", storeID, result.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.StoreQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("parse search results for store %s: %w", storeID, err)
	}

	objects := parsed.Get[class]
	hits := make([]datatypes.RetrievedResult, 0, len(objects))
	for _, obj := range objects {
		hits = append(hits, datatypes.RetrievedResult{
			SourceID:      obj.SourceID,
			LineageKey:    obj.LineageKey,
			StoreID:       storeID,
			Content:       obj.Content,
			AuthorityRank: int(obj.AuthorityRank),
			Timestamp:     int64(obj.CreatedAt),
			Score:         parseScore(obj.Additional.Score),
		})
	}
	slog.Debug("Store search complete", "store", storeID, "hits", len(hits))
	return hits, nil
}

// parseScore tolerates an empty or malformed score rather than failing
// the retrieval.
func parseScore(raw string) float64 {
	if raw == "" {
		return 0
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return score
}
