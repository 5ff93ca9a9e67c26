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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

type fakeSearcher struct {
	hits   map[string][]datatypes.RetrievedResult
	fail   map[string]error
	limits map[string]int
}

func (f *fakeSearcher) Search(_ context.Context, storeID, _ string, limit int) ([]datatypes.RetrievedResult, error) {
	if f.limits == nil {
		f.limits = map[string]int{}
	}
	f.limits[storeID] = limit
	if err := f.fail[storeID]; err != nil {
		return nil, err
	}
	return f.hits[storeID], nil
}

func combinedPlan() datatypes.RetrievalPlan {
	return datatypes.RetrievalPlan{
		Mode: datatypes.RetrievalModeCombined,
		Stores: []datatypes.StoreSelection{
			{StoreID: "canon-main", Cap: 8},
			{StoreID: "threads-main", Cap: 5},
		},
	}
}

func TestRetriever_MergesStoresInPlanOrder(t *testing.T) {
	searcher := &fakeSearcher{hits: map[string][]datatypes.RetrievedResult{
		"canon-main":   {{SourceID: "c1"}, {SourceID: "c2"}},
		"threads-main": {{SourceID: "t1"}},
	}}

	results, degraded, err := NewRetriever(searcher).Retrieve(context.Background(), combinedPlan(), "query")
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Equal(t, []string{"c1", "c2", "t1"}, sourceIDsOf(results))
	assert.Equal(t, 8, searcher.limits["canon-main"])
	assert.Equal(t, 5, searcher.limits["threads-main"])
}

func TestRetriever_CombinedModeDegradesOnOneFailure(t *testing.T) {
	searcher := &fakeSearcher{
		hits: map[string][]datatypes.RetrievedResult{"canon-main": {{SourceID: "c1"}}},
		fail: map[string]error{"threads-main": errors.New("store down")},
	}

	results, degraded, err := NewRetriever(searcher).Retrieve(context.Background(), combinedPlan(), "query")
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Equal(t, []string{"c1"}, sourceIDsOf(results))
}

func TestRetriever_SingleStoreModeFailureIsTerminal(t *testing.T) {
	searcher := &fakeSearcher{fail: map[string]error{"canon-main": errors.New("store down")}}
	plan := datatypes.RetrievalPlan{
		Mode:   datatypes.RetrievalModeCanon,
		Stores: []datatypes.StoreSelection{{StoreID: "canon-main", Cap: 8}},
	}

	_, _, err := NewRetriever(searcher).Retrieve(context.Background(), plan, "query")
	assert.Error(t, err)
}

func TestRetriever_AllStoresFailingIsTerminal(t *testing.T) {
	searcher := &fakeSearcher{fail: map[string]error{
		"canon-main":   errors.New("down"),
		"threads-main": errors.New("down"),
	}}

	_, _, err := NewRetriever(searcher).Retrieve(context.Background(), combinedPlan(), "query")
	assert.Error(t, err)
}

func sourceIDsOf(results []datatypes.RetrievedResult) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.SourceID)
	}
	return ids
}
