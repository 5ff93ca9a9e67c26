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
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/TurnGate/services/turngate/config"
	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

func testRouter() *Router {
	return NewRouter(
		config.StoreConfig{ID: "canon-main", Class: "CanonDocument", Cap: 8},
		config.StoreConfig{ID: "threads-main", Class: "ThreadDocument", Cap: 5},
	)
}

func TestSignalsFromHeader(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    ModeSignals
	}{
		{"no headers", nil, ModeSignals{}},
		{"canon only", map[string]string{HeaderCanonOnly: "1"}, ModeSignals{CanonOnly: true}},
		{"true value", map[string]string{HeaderThreadsOnly: "true"}, ModeSignals{ThreadsOnly: true}},
		{"false value ignored", map[string]string{HeaderCanonOnly: "false"}, ModeSignals{}},
		{"zero ignored", map[string]string{HeaderGoldHunt: "0"}, ModeSignals{}},
		{"off ignored", map[string]string{HeaderGoldHunt: "off"}, ModeSignals{}},
		{"all set", map[string]string{
			HeaderCanonOnly:   "1",
			HeaderThreadsOnly: "yes",
			HeaderGoldHunt:    "1",
		}, ModeSignals{CanonOnly: true, ThreadsOnly: true, GoldHunt: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			assert.Equal(t, tt.want, SignalsFromHeader(h))
		})
	}
}

func TestRouter_DefaultIsCombined(t *testing.T) {
	plan, err := testRouter().Plan(ModeSignals{})
	require.NoError(t, err)

	assert.Equal(t, datatypes.RetrievalModeCombined, plan.Mode)
	assert.Equal(t, []string{"canon-main", "threads-main"}, plan.StoreIDs())
	assert.False(t, plan.SearchFirst)
	assert.Equal(t, 8, plan.Stores[0].Cap)
	assert.Equal(t, 5, plan.Stores[1].Cap)
}

func TestRouter_CanonOnly(t *testing.T) {
	plan, err := testRouter().Plan(ModeSignals{CanonOnly: true})
	require.NoError(t, err)

	assert.Equal(t, datatypes.RetrievalModeCanon, plan.Mode)
	assert.Equal(t, []string{"canon-main"}, plan.StoreIDs())
	assert.True(t, plan.SearchFirst)
}

func TestRouter_ThreadsOnly(t *testing.T) {
	plan, err := testRouter().Plan(ModeSignals{ThreadsOnly: true})
	require.NoError(t, err)

	assert.Equal(t, datatypes.RetrievalModeThreads, plan.Mode)
	assert.Equal(t, []string{"threads-main"}, plan.StoreIDs())
	assert.True(t, plan.SearchFirst)
}

func TestRouter_BothExclusiveModesConflict(t *testing.T) {
	_, err := testRouter().Plan(ModeSignals{CanonOnly: true, ThreadsOnly: true})
	require.Error(t, err)
	assert.Equal(t, datatypes.ErrCodeModeConflict, datatypes.CodeOf(err))
	assert.Equal(t, http.StatusBadRequest, datatypes.HTTPStatus(err))
}

func TestRouter_GoldHuntForcesCanonSearchFirst(t *testing.T) {
	plan, err := testRouter().Plan(ModeSignals{GoldHunt: true})
	require.NoError(t, err)

	assert.Equal(t, datatypes.RetrievalModeCanon, plan.Mode)
	assert.True(t, plan.SearchFirst)
}

func TestRouter_GoldHuntPlusThreadsOnlyConflicts(t *testing.T) {
	_, err := testRouter().Plan(ModeSignals{GoldHunt: true, ThreadsOnly: true})
	require.Error(t, err)
	assert.Equal(t, datatypes.ErrCodeModeConflict, datatypes.CodeOf(err))
}

func TestRouter_UnconfiguredStoreIsConfigurationError(t *testing.T) {
	r := NewRouter(
		config.StoreConfig{},
		config.StoreConfig{ID: "threads-main", Class: "ThreadDocument"},
	)

	_, err := r.Plan(ModeSignals{CanonOnly: true})
	require.Error(t, err)
	assert.Equal(t, datatypes.ErrCodeConfiguration, datatypes.CodeOf(err))

	// Combined mode silently narrows to the configured store.
	plan, err := r.Plan(ModeSignals{})
	require.NoError(t, err)
	assert.Equal(t, []string{"threads-main"}, plan.StoreIDs())
}

func TestRouter_NoStoresConfigured(t *testing.T) {
	r := NewRouter(config.StoreConfig{}, config.StoreConfig{})
	_, err := r.Plan(ModeSignals{})
	require.Error(t, err)
	assert.Equal(t, datatypes.ErrCodeConfiguration, datatypes.CodeOf(err))
}

func TestRouter_ZeroCapFallsBackToDefault(t *testing.T) {
	r := NewRouter(config.StoreConfig{ID: "canon-main", Class: "CanonDocument"}, config.StoreConfig{})
	plan, err := r.Plan(ModeSignals{CanonOnly: true})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultRetrievalCap, plan.Stores[0].Cap)
}

func TestRouter_ClassFor(t *testing.T) {
	r := testRouter()

	class, ok := r.ClassFor("canon-main")
	require.True(t, ok)
	assert.Equal(t, "CanonDocument", class)

	_, ok = r.ClassFor("unknown")
	assert.False(t, ok)
}
