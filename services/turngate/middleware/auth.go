// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the turngate service.
//
// This file implements credential extraction and the admin-token check
// consumed by the tool gatekeeper.
//
// # Authorization Flow
//
//	Request
//	   │
//	   ▼
//	EvidenceMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► Classify RemoteAddr (loopback or not)
//	   │
//	   └─► Store Evidence in context
//	           │
//	           ▼
//	       Gatekeeper (consumes via GetEvidence)
//
// The middleware never rejects a request by itself: requests without
// function tools do not need a credential, so the authorization decision
// belongs to the gatekeeper, which sees the requested tools state.
package middleware

import (
	"crypto/subtle"
	"net"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

// evidenceKey is the context key for storing Evidence.
// Using a service-prefixed key prevents collisions with other context values.
const evidenceKey = "turngate_auth_evidence"

// Evidence is what the caller presented for tool authorization.
type Evidence struct {
	// Credential is the bearer token, or empty if none was presented.
	Credential string

	// Loopback reports whether the request arrived over a loopback
	// address. Required for the local-development bypass.
	Loopback bool
}

// =============================================================================
// Admin Verifier
// =============================================================================

// AdminVerifier checks a presented credential against the server-held
// admin secret.
//
// # Description
//
// The comparison is constant-time (crypto/subtle) so response timing
// leaks nothing about the secret. An unset secret is a distinct failure
// (ErrAdminTokenNotConfigured) from a wrong credential
// (ErrAdminTokenInvalid): operators need to tell misconfiguration from a
// probe, even though both map to 401.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type AdminVerifier struct {
	secret string
}

// NewAdminVerifier creates a verifier for the configured secret.
// An empty secret is allowed; verification then always fails with
// ErrAdminTokenNotConfigured.
func NewAdminVerifier(secret string) *AdminVerifier {
	return &AdminVerifier{secret: secret}
}

// Verify checks the credential.
//
// # Outputs
//
//   - error: nil when authorized; datatypes.ErrAdminTokenNotConfigured
//     when no secret is configured; datatypes.ErrAdminTokenInvalid when
//     the credential does not match.
func (v *AdminVerifier) Verify(credential string) error {
	if v.secret == "" {
		return datatypes.ErrAdminTokenNotConfigured
	}
	if subtle.ConstantTimeCompare([]byte(credential), []byte(v.secret)) != 1 {
		return datatypes.ErrAdminTokenInvalid
	}
	return nil
}

// =============================================================================
// Evidence Middleware
// =============================================================================

// EvidenceMiddleware extracts authorization evidence into the context.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware ready for use with Gin.
//
// # Examples
//
//	v1 := router.Group("/v1")
//	v1.Use(middleware.EvidenceMiddleware())
func EvidenceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(evidenceKey, Evidence{
			Credential: extractBearerToken(c),
			Loopback:   isLoopback(c.Request.RemoteAddr),
		})
		c.Next()
	}
}

// GetEvidence retrieves the authorization evidence from the Gin context.
// Returns a zero Evidence if the middleware did not run.
func GetEvidence(c *gin.Context) Evidence {
	if v, exists := c.Get(evidenceKey); exists {
		if ev, ok := v.(Evidence); ok {
			return ev
		}
	}
	return Evidence{}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken parses the Authorization header expecting format
// "Bearer <token>". Returns empty string if the header is missing or
// malformed. The "Bearer" prefix is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// isLoopback reports whether addr (host:port or bare host) is a loopback
// address. Unparseable addresses are never loopback.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
