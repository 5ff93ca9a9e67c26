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
)

// punctuationReplacer maps typographic punctuation to plain ASCII.
var punctuationReplacer = strings.NewReplacer(
	"‘", "'",
	"’", "'",
	"“", `"`,
	"”", `"`,
	"–", "-",
	"—", "-",
	"…", "...",
	" ", " ",
)

// NormalizeText is the best-effort punctuation cleanup applied outside
// the core turn path. It never fails; unknown runes pass through.
func NormalizeText(input string) string {
	out := punctuationReplacer.Replace(input)
	fields := strings.Fields(out)
	return strings.Join(fields, " ")
}

// NormalizeTool exposes NormalizeText to the model.
type NormalizeTool struct{}

func (NormalizeTool) Name() string { return "normalize_text" }

func (NormalizeTool) Capability() Capability { return CapabilityFunctions }

func (NormalizeTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "normalize_text",
		Description: "Normalize typographic punctuation and whitespace in a text to plain ASCII.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "Text to normalize.",
				},
			},
			"required": []string{"text"},
		},
	}
}

type normalizeArgs struct {
	Text string `json:"text"`
}

func (NormalizeTool) Invoke(_ context.Context, args json.RawMessage) (string, error) {
	var req normalizeArgs
	if err := json.Unmarshal(args, &req); err != nil {
		return "", fmt.Errorf("invalid normalize_text arguments: %w", err)
	}
	return NormalizeText(req.Text), nil
}
