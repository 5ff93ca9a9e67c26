// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// extractBearerToken Tests
// =============================================================================

func TestExtractBearerToken_ValidToken(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/", nil)
	c.Request.Header.Set("Authorization", "Bearer abc123")

	assert.Equal(t, "abc123", extractBearerToken(c))
}

func TestExtractBearerToken_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"no bearer prefix", "abc123"},
		{"basic auth", "Basic abc123"},
		{"only bearer", "Bearer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest("POST", "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			assert.Empty(t, extractBearerToken(c))
		})
	}
}

func TestExtractBearerToken_CaseInsensitive(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/", nil)
	c.Request.Header.Set("Authorization", "bearer abc123")

	assert.Equal(t, "abc123", extractBearerToken(c))
}

// =============================================================================
// AdminVerifier Tests
// =============================================================================

func TestAdminVerifier_Match(t *testing.T) {
	v := NewAdminVerifier("s3cret")
	assert.NoError(t, v.Verify("s3cret"))
}

func TestAdminVerifier_Mismatch(t *testing.T) {
	v := NewAdminVerifier("s3cret")
	err := v.Verify("wrong")
	assert.True(t, errors.Is(err, datatypes.ErrAdminTokenInvalid))
}

func TestAdminVerifier_NotConfigured(t *testing.T) {
	v := NewAdminVerifier("")
	err := v.Verify("anything")
	assert.True(t, errors.Is(err, datatypes.ErrAdminTokenNotConfigured))
	// An empty credential against an empty secret is still not authorized.
	assert.Error(t, v.Verify(""))
}

// =============================================================================
// Evidence Middleware Tests
// =============================================================================

func TestEvidenceMiddleware_StoresCredentialAndLoopback(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/v1/turn", nil)
	c.Request.Header.Set("Authorization", "Bearer tok")
	c.Request.RemoteAddr = "127.0.0.1:54321"

	EvidenceMiddleware()(c)

	ev := GetEvidence(c)
	assert.Equal(t, "tok", ev.Credential)
	assert.True(t, ev.Loopback)
}

func TestEvidenceMiddleware_NonLoopback(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/v1/turn", nil)
	c.Request.RemoteAddr = "203.0.113.9:1000"

	EvidenceMiddleware()(c)

	ev := GetEvidence(c)
	assert.Empty(t, ev.Credential)
	assert.False(t, ev.Loopback)
}

func TestGetEvidence_MissingReturnsZero(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, Evidence{}, GetEvidence(c))
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("127.0.0.1:80"))
	assert.True(t, isLoopback("[::1]:80"))
	assert.False(t, isLoopback("10.0.0.1:80"))
	assert.False(t, isLoopback("garbage"))
}
