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
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/TurnGate/services/llm"
	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

func TestExecutor_ResultsInCallOrder(t *testing.T) {
	registry := New(
		&stubTool{name: "alpha", capability: CapabilityFunctions, invoke: func(context.Context, json.RawMessage) (string, error) {
			return "from-alpha", nil
		}},
		&stubTool{name: "beta", capability: CapabilityFunctions, invoke: func(context.Context, json.RawMessage) (string, error) {
			return "from-beta", nil
		}},
	)
	exec := NewExecutor(registry, 4)

	results, err := exec.Run(context.Background(), []llm.ToolCall{
		{ID: "call_0", Name: "beta"},
		{ID: "call_1", Name: "alpha"},
	}, datatypes.ToolsState{Functions: true}, false)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, llm.ToolResult{CallID: "call_0", Name: "beta", Content: "from-beta"}, results[0])
	assert.Equal(t, llm.ToolResult{CallID: "call_1", Name: "alpha", Content: "from-alpha"}, results[1])
}

func TestExecutor_UnauthorizedCallRunsZeroTools(t *testing.T) {
	var executed atomic.Int32
	registry := New(
		&stubTool{name: "allowed", capability: CapabilityFunctions, invoke: func(context.Context, json.RawMessage) (string, error) {
			executed.Add(1)
			return "ok", nil
		}},
		&stubTool{name: "gated", capability: CapabilityCodeInterpreter, invoke: func(context.Context, json.RawMessage) (string, error) {
			executed.Add(1)
			return "ok", nil
		}},
	)
	exec := NewExecutor(registry, 4)

	_, err := exec.Run(context.Background(), []llm.ToolCall{
		{ID: "call_0", Name: "allowed"},
		{ID: "call_1", Name: "gated"},
	}, datatypes.ToolsState{Functions: true}, false)

	require.Error(t, err)
	assert.Equal(t, datatypes.ErrCodeAuth, datatypes.CodeOf(err))
	assert.Equal(t, int32(0), executed.Load(), "no tool may run when any call is unauthorized")
}

func TestExecutor_UnknownToolFailsTurn(t *testing.T) {
	exec := NewExecutor(New(), 1)

	_, err := exec.Run(context.Background(), []llm.ToolCall{
		{ID: "call_0", Name: "ghost"},
	}, datatypes.ToolsState{Functions: true}, false)

	require.Error(t, err)
	assert.Equal(t, datatypes.ErrCodeValidation, datatypes.CodeOf(err))
}

func TestExecutor_SearchFirstEnforced(t *testing.T) {
	registry := New(
		&stubTool{name: "search", capability: CapabilityFileSearch},
		&stubTool{name: "lister", capability: CapabilityFunctions},
	)
	exec := NewExecutor(registry, 2)
	state := datatypes.ToolsState{FileSearch: true, Functions: true}

	_, err := exec.Run(context.Background(), []llm.ToolCall{
		{ID: "call_0", Name: "lister"},
	}, state, true)
	require.Error(t, err)
	assert.Equal(t, datatypes.ErrCodeValidation, datatypes.CodeOf(err))

	results, err := exec.Run(context.Background(), []llm.ToolCall{
		{ID: "call_0", Name: "search"},
		{ID: "call_1", Name: "lister"},
	}, state, true)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestExecutor_ToolFailureFailsIteration(t *testing.T) {
	registry := New(
		&stubTool{name: "broken", capability: CapabilityFunctions, invoke: func(context.Context, json.RawMessage) (string, error) {
			return "", errors.New("boom")
		}},
	)
	exec := NewExecutor(registry, 1)

	_, err := exec.Run(context.Background(), []llm.ToolCall{
		{ID: "call_0", Name: "broken"},
	}, datatypes.ToolsState{Functions: true}, false)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestExecutor_EmptyIterationIsNoop(t *testing.T) {
	exec := NewExecutor(New(), 1)
	results, err := exec.Run(context.Background(), nil, datatypes.ToolsState{}, false)
	require.NoError(t, err)
	assert.Empty(t, results)
}
