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

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// ParseGraphQLResponse converts Weaviate's dynamic response data into a
// strongly typed struct.
//
// # Description
//
// Weaviate's client returns map[string]models.JSONObject; the
// marshal/unmarshal round trip maps it onto a target type whose json tags
// match the response shape.
//
// # Limitations
//
//   - Type mismatches produce zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// StoreHit is one object returned by a retrieval store query.
//
// Hybrid queries return _additional.score as a string.
type StoreHit struct {
	Content       string  `json:"content"`
	SourceID      string  `json:"source_id"`
	LineageKey    string  `json:"lineage_key"`
	AuthorityRank float64 `json:"authority_rank"`
	CreatedAt     float64 `json:"created_at"`
	Additional    struct {
		Score string `json:"score"`
	} `json:"_additional"`
}

// StoreQueryResponse is the Get response shape for store searches. The
// class name varies per store, so hits are keyed dynamically.
type StoreQueryResponse struct {
	Get map[string][]StoreHit `json:"Get"`
}

// SourceListingHit is one object returned by the inventory listing query.
type SourceListingHit struct {
	SourceID     string  `json:"source_id"`
	LineageKey   string  `json:"lineage_key"`
	ParentSource string  `json:"parent_source"`
	CreatedAt    float64 `json:"created_at"`
}

// SourceListingResponse is the Get response shape for inventory listings.
type SourceListingResponse struct {
	Get map[string][]SourceListingHit `json:"Get"`
}

// AggregateCountResponse is the Aggregate response shape for object counts.
type AggregateCountResponse struct {
	Aggregate map[string][]struct {
		Meta struct {
			Count float64 `json:"count"`
		} `json:"meta"`
	} `json:"Aggregate"`
}
