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
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/TurnGate/services/llm"
	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

var tracer = otel.Tracer("turngate.tools")

// Executor runs one tool-loop iteration's calls.
//
// # Description
//
// All calls of an iteration run concurrently, bounded by the configured
// worker count. Run does not return until every call has finished, so the
// caller has a strict barrier before resubmitting results to the model.
//
// A call naming an unknown tool, an unknown capability alias, or a
// capability the effective state does not grant fails the whole iteration.
// There is no silent downgrade at execution time either.
type Executor struct {
	registry *Registry
	workers  int
}

// NewExecutor builds an executor. workers <= 0 falls back to 1.
func NewExecutor(registry *Registry, workers int) *Executor {
	if workers <= 0 {
		workers = 1
	}
	return &Executor{registry: registry, workers: workers}
}

// Run executes one iteration's calls and returns results in call order.
//
// # Inputs
//
//   - calls: tool calls requested by the model in this iteration.
//   - state: the gatekeeper's effective tools state.
//   - requireSearchFirst: true on the first iteration of a search-first
//     plan; the first call must then carry a search capability.
//
// # Outputs
//
//   - []llm.ToolResult: one result per call, same order.
//   - error: *datatypes.TurnError on an unauthorized or unknown call, or
//     the first tool failure.
func (e *Executor) Run(ctx context.Context, calls []llm.ToolCall, state datatypes.ToolsState, requireSearchFirst bool) ([]llm.ToolResult, error) {
	ctx, span := tracer.Start(ctx, "Executor.Run")
	defer span.End()
	span.SetAttributes(attribute.Int("tools.calls", len(calls)))

	if len(calls) == 0 {
		return nil, nil
	}

	// Authorization is checked for every call before anything executes,
	// so a mixed batch with one unauthorized call runs zero tools.
	resolved := make([]Tool, len(calls))
	for i, call := range calls {
		tool, ok := e.registry.Get(call.Name)
		if !ok {
			return nil, datatypes.NewValidationError(
				fmt.Sprintf("unknown tool %q", call.Name), nil)
		}
		if !Enabled(state, tool.Capability()) {
			return nil, datatypes.NewAuthError(
				fmt.Sprintf("tool %q requires capability %s", call.Name, tool.Capability()), nil)
		}
		resolved[i] = tool
	}

	if requireSearchFirst && !IsSearch(resolved[0]) {
		return nil, datatypes.NewValidationError(
			fmt.Sprintf("plan requires a search tool first, got %q", calls[0].Name), nil)
	}

	results := make([]llm.ToolResult, len(calls))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, call := range calls {
		g.Go(func() error {
			out, err := resolved[i].Invoke(ctx, call.Arguments)
			if err != nil {
				slog.Error("Tool invocation failed", "tool", call.Name, "call_id", call.ID, "error", err)
				return fmt.Errorf("tool %s failed: %w", call.Name, err)
			}
			results[i] = llm.ToolResult{CallID: call.ID, Name: call.Name, Content: out}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
