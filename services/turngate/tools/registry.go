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
	"fmt"
	"strings"

	"github.com/AleutianAI/TurnGate/services/llm"
	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

// Capability is one gated tool class. The enum is closed: an alias that
// does not resolve to one of these is an unknown capability and fails the
// turn, never a no-op.
type Capability string

const (
	CapabilityFileSearch          Capability = "file_search"
	CapabilityWebSearch           Capability = "web_search"
	CapabilityFunctions           Capability = "functions"
	CapabilityExternalIntegration Capability = "external_integration"
	CapabilityMultiToolProtocol   Capability = "multi_tool_protocol"
	CapabilityCodeInterpreter     Capability = "code_interpreter"
)

// capabilityAliases maps every accepted spelling to its capability. The
// table is resolved once at startup; request handling never parses free
// text capability names.
var capabilityAliases = map[string]Capability{
	"file_search":          CapabilityFileSearch,
	"filesearch":           CapabilityFileSearch,
	"retrieval":            CapabilityFileSearch,
	"web_search":           CapabilityWebSearch,
	"websearch":            CapabilityWebSearch,
	"browse":               CapabilityWebSearch,
	"functions":            CapabilityFunctions,
	"function_calling":     CapabilityFunctions,
	"external_integration": CapabilityExternalIntegration,
	"integrations":         CapabilityExternalIntegration,
	"multi_tool_protocol":  CapabilityMultiToolProtocol,
	"multi_tool":           CapabilityMultiToolProtocol,
	"code_interpreter":     CapabilityCodeInterpreter,
	"code_execution":       CapabilityCodeInterpreter,
}

// ResolveCapability maps an alias to its capability.
func ResolveCapability(alias string) (Capability, bool) {
	cap, ok := capabilityAliases[strings.ToLower(strings.TrimSpace(alias))]
	return cap, ok
}

// Enabled reports whether the effective tools state grants cap.
func Enabled(state datatypes.ToolsState, cap Capability) bool {
	switch cap {
	case CapabilityFileSearch:
		return state.FileSearch
	case CapabilityWebSearch:
		return state.WebSearch
	case CapabilityFunctions:
		return state.Functions
	case CapabilityExternalIntegration:
		return state.ExternalIntegration
	case CapabilityMultiToolProtocol:
		return state.MultiToolProtocol
	case CapabilityCodeInterpreter:
		return state.CodeInterpreter
	}
	return false
}

// Tool is one callable tool implementation.
type Tool interface {
	// Name is the function name exposed to the model.
	Name() string

	// Capability is the gate this tool sits behind.
	Capability() Capability

	// Definition describes the tool to the model.
	Definition() llm.ToolDefinition

	// Invoke runs the tool. args is the model-provided JSON argument
	// object.
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry maps tool names to implementations.
//
// # Thread Safety
//
// The registry is immutable after New and safe for concurrent use.
type Registry struct {
	byName map[string]Tool
	order  []Tool
}

// New builds a registry. Duplicate tool names are a construction error;
// the registry is assembled once at startup, so this panics like any
// other wiring bug.
func New(tools ...Tool) *Registry {
	r := &Registry{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, dup := r.byName[t.Name()]; dup {
			panic(fmt.Sprintf("tools: duplicate tool name %q", t.Name()))
		}
		r.byName[t.Name()] = t
		r.order = append(r.order, t)
	}
	return r
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Definitions returns the tool definitions the effective state permits,
// for handing to the model. An empty result means the turn runs
// streaming-only.
func (r *Registry) Definitions(state datatypes.ToolsState) []llm.ToolDefinition {
	var defs []llm.ToolDefinition
	for _, t := range r.order {
		if Enabled(state, t.Capability()) {
			defs = append(defs, t.Definition())
		}
	}
	return defs
}

// IsSearch reports whether the named tool carries a search capability.
// Used to enforce search-first ordering on forced-mode plans.
func IsSearch(t Tool) bool {
	switch t.Capability() {
	case CapabilityFileSearch, CapabilityWebSearch:
		return true
	}
	return false
}
