// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gatekeeper decides whether function-style tools may execute for
// a turn.
//
// # No Silent Tool Execution
//
// The one rule this package exists to enforce: if the caller requested
// function tools and cannot be authorized, the whole request fails with an
// explicit 401. The gatekeeper never quietly clears the flag and
// proceeds: a turn that looks like it ran with tools must actually have
// been authorized to run them.
//
// Search-type capabilities are not gated; they pass through as requested.
package gatekeeper

import (
	"errors"
	"log/slog"

	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
	"github.com/AleutianAI/TurnGate/services/turngate/middleware"
)

// Verifier checks an admin credential. Implemented by
// middleware.AdminVerifier; abstracted for testing.
type Verifier interface {
	Verify(credential string) error
}

// Gatekeeper produces the effective ToolsState for a turn.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type Gatekeeper struct {
	verifier   Verifier
	production bool
}

// New creates a Gatekeeper.
//
// # Inputs
//
//   - verifier: admin credential check. Must not be nil.
//   - production: when true, the loopback development bypass is refused.
func New(verifier Verifier, production bool) *Gatekeeper {
	if verifier == nil {
		panic("gatekeeper.New: verifier must not be nil")
	}
	return &Gatekeeper{verifier: verifier, production: production}
}

// Decide returns the effective ToolsState for the requested state and the
// caller's evidence.
//
// # Description
//
// Non-function capabilities pass through unchanged. Functions is granted
// only when either the admin credential verifies, or the request arrived
// over loopback in a non-production environment. When functions is
// requested and neither holds, Decide fails the request with an auth
// error wrapping the verifier's reason, never a silent downgrade.
//
// # Outputs
//
//   - datatypes.ToolsState: effective state. Functions reflects the
//     authorization decision, never the raw request.
//   - error: *datatypes.TurnError (401) when functions was requested but
//     could not be authorized.
func (g *Gatekeeper) Decide(requested datatypes.ToolsState, ev middleware.Evidence) (datatypes.ToolsState, error) {
	effective := requested
	effective.Functions = false

	if !requested.Functions {
		return effective, nil
	}

	verr := g.verifier.Verify(ev.Credential)
	if verr == nil {
		effective.Functions = true
		return effective, nil
	}

	if ev.Loopback && !g.production {
		// Local development bypass: loopback-only, never in production.
		slog.Debug("function tools granted via loopback dev bypass")
		effective.Functions = true
		return effective, nil
	}

	reason := "invalid"
	if errors.Is(verr, datatypes.ErrAdminTokenNotConfigured) {
		reason = "not_configured"
	}
	slog.Warn("function tools requested but not authorized", "reason", reason)

	return datatypes.ToolsState{}, datatypes.NewAuthError("tool authorization failed", verr)
}
