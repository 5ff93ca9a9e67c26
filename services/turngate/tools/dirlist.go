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
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/TurnGate/services/llm"
)

// DirListTool lists directory contents under allow-listed roots.
//
// # Security References
//
//   - Paths are resolved against a named root, cleaned, and prefix
//     checked; ".." traversal out of the root is rejected.
type DirListTool struct {
	roots map[string]string
}

// NewDirListTool builds the lister over named roots (alias -> absolute
// path). Root paths are cleaned once here.
func NewDirListTool(roots map[string]string) *DirListTool {
	cleaned := make(map[string]string, len(roots))
	for alias, path := range roots {
		cleaned[alias] = filepath.Clean(path)
	}
	return &DirListTool{roots: cleaned}
}

func (t *DirListTool) Name() string { return "list_directory" }

func (t *DirListTool) Capability() Capability { return CapabilityFunctions }

func (t *DirListTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name(),
		Description: "List the entries of a directory under a named root. Returns name, kind and size per entry.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"root": map[string]any{
					"type":        "string",
					"description": "Named root to list under.",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "Relative path inside the root. Empty lists the root itself.",
				},
			},
			"required": []string{"root"},
		},
	}
}

type dirListArgs struct {
	Root string `json:"root"`
	Path string `json:"path"`
}

type dirEntry struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Size int64  `json:"size"`
}

func (t *DirListTool) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var req dirListArgs
	if err := json.Unmarshal(args, &req); err != nil {
		return "", fmt.Errorf("invalid list_directory arguments: %w", err)
	}

	root, ok := t.roots[req.Root]
	if !ok {
		return "", fmt.Errorf("unknown root %q", req.Root)
	}

	target := filepath.Clean(filepath.Join(root, req.Path))
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root %q", req.Root)
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return "", fmt.Errorf("read directory: %w", err)
	}

	out := make([]dirEntry, 0, len(entries))
	for _, e := range entries {
		kind := "file"
		if e.IsDir() {
			kind = "dir"
		}
		var size int64
		if info, err := e.Info(); err == nil && !e.IsDir() {
			size = info.Size()
		}
		out = append(out, dirEntry{Name: e.Name(), Kind: kind, Size: size})
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode directory listing: %w", err)
	}
	return string(encoded), nil
}
