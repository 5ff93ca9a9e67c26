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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"smart quotes", "“hello” ‘world’", `"hello" 'world'`},
		{"dashes", "a – b — c", "a - b - c"},
		{"ellipsis", "wait…", "wait..."},
		{"whitespace collapse", "a  \t b\n\nc", "a b c"},
		{"plain text unchanged", "already clean", "already clean"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.in))
		})
	}
}

func TestNormalizeTool_Invoke(t *testing.T) {
	out, err := NormalizeTool{}.Invoke(context.Background(), []byte(`{"text":"“hi”"}`))
	require.NoError(t, err)
	assert.Equal(t, `"hi"`, out)
}

func TestNormalizeTool_InvalidArgs(t *testing.T) {
	_, err := NormalizeTool{}.Invoke(context.Background(), []byte(`{`))
	assert.Error(t, err)
}
