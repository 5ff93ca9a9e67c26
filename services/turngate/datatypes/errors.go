// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the turngate service.
//
// This file defines the error taxonomy shared by every pipeline stage.
// Stages return *TurnError values; handlers translate them to HTTP status
// codes and sanitized client messages (SEC-005: internal details never
// reach the client).
package datatypes

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode categorizes a pipeline failure for clients, metrics, and taps.
type ErrorCode string

const (
	// ErrCodeValidation indicates a malformed turn request (HTTP 400).
	ErrCodeValidation ErrorCode = "validation_error"

	// ErrCodeAuth indicates tool authorization failed or the admin
	// credential is missing (HTTP 401).
	ErrCodeAuth ErrorCode = "auth_error"

	// ErrCodeModeConflict indicates contradictory retrieval-mode signals
	// were present simultaneously (HTTP 400).
	ErrCodeModeConflict ErrorCode = "mode_conflict"

	// ErrCodeConfiguration indicates a required store or credential is not
	// configured for the requested mode (HTTP 400).
	ErrCodeConfiguration ErrorCode = "configuration_error"

	// ErrCodeToolLoopExceeded indicates the tool loop hit its iteration cap
	// without converging (HTTP 500). Reported, never retried.
	ErrCodeToolLoopExceeded ErrorCode = "tool_loop_exceeded"

	// ErrCodeUpstream indicates a model or store call failed (HTTP 502).
	ErrCodeUpstream ErrorCode = "upstream_provider_error"

	// ErrCodeWritebackMalformed indicates an envelope failed schema
	// validation. Non-fatal: the turn still succeeds for the client.
	ErrCodeWritebackMalformed ErrorCode = "writeback_malformed"

	// ErrCodePolicyViolation indicates the outbound message contained
	// classified data (HTTP 403).
	ErrCodePolicyViolation ErrorCode = "policy_violation"

	// ErrCodeInternal is the catch-all for unexpected failures (HTTP 500).
	ErrCodeInternal ErrorCode = "internal_error"
)

// =============================================================================
// TurnError
// =============================================================================

// TurnError is the typed error carried through the turn pipeline.
//
// # Description
//
// TurnError pairs an ErrorCode with an HTTP status and a client-safe
// message. Wrapped causes stay server-side; Message is what the client
// may see. Use errors.As to recover a TurnError from a wrapped chain.
//
// # Examples
//
//	if err := req.Validate(); err != nil {
//	    return datatypes.NewValidationError("invalid request: validation failed", err)
//	}
type TurnError struct {
	Code    ErrorCode
	Status  int
	Message string
	Err     error
}

func (e *TurnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *TurnError) Unwrap() error { return e.Err }

// Is reports code equality so sentinel comparisons work across wrapping.
func (e *TurnError) Is(target error) bool {
	var te *TurnError
	if errors.As(target, &te) {
		return te.Code == e.Code
	}
	return false
}

// =============================================================================
// Constructors
// =============================================================================

// NewValidationError builds a 400 validation failure.
func NewValidationError(msg string, cause error) *TurnError {
	return &TurnError{Code: ErrCodeValidation, Status: http.StatusBadRequest, Message: msg, Err: cause}
}

// NewAuthError builds a 401 authorization failure.
func NewAuthError(msg string, cause error) *TurnError {
	return &TurnError{Code: ErrCodeAuth, Status: http.StatusUnauthorized, Message: msg, Err: cause}
}

// NewModeConflictError builds the 400 mode_conflict failure. The message is
// fixed: clients match on the code, not on prose.
func NewModeConflictError() *TurnError {
	return &TurnError{Code: ErrCodeModeConflict, Status: http.StatusBadRequest, Message: "mode_conflict"}
}

// NewConfigurationError builds a 400 for a mode whose store is not configured.
func NewConfigurationError(msg string) *TurnError {
	return &TurnError{Code: ErrCodeConfiguration, Status: http.StatusBadRequest, Message: msg}
}

// NewToolLoopExceededError builds the 500-class loop-cap failure.
func NewToolLoopExceededError(iterations int) *TurnError {
	return &TurnError{
		Code:    ErrCodeToolLoopExceeded,
		Status:  http.StatusInternalServerError,
		Message: fmt.Sprintf("tool loop did not converge within %d iterations", iterations),
	}
}

// NewUpstreamError builds a 502 for a failed model or store call.
func NewUpstreamError(msg string, cause error) *TurnError {
	return &TurnError{Code: ErrCodeUpstream, Status: http.StatusBadGateway, Message: msg, Err: cause}
}

// NewInternalError builds a 500 with a generic client message.
func NewInternalError(cause error) *TurnError {
	return &TurnError{Code: ErrCodeInternal, Status: http.StatusInternalServerError, Message: "internal error", Err: cause}
}

// =============================================================================
// Sentinels
// =============================================================================

// ErrAdminTokenNotConfigured is returned when function tools are requested
// but no admin secret is configured server-side. Distinct from a wrong
// credential so operators can tell misconfiguration from an attack.
var ErrAdminTokenNotConfigured = errors.New("admin token not configured")

// ErrAdminTokenInvalid is returned when the presented credential does not
// match the configured admin secret.
var ErrAdminTokenInvalid = errors.New("admin token invalid")

// =============================================================================
// Helpers
// =============================================================================

// HTTPStatus extracts the status for err, defaulting to 500.
func HTTPStatus(err error) int {
	var te *TurnError
	if errors.As(err, &te) {
		return te.Status
	}
	return http.StatusInternalServerError
}

// ClientMessage extracts the sanitized client message for err.
func ClientMessage(err error) string {
	var te *TurnError
	if errors.As(err, &te) {
		return te.Message
	}
	return "internal error"
}

// CodeOf extracts the ErrorCode for err, defaulting to internal_error.
func CodeOf(err error) ErrorCode {
	var te *TurnError
	if errors.As(err, &te) {
		return te.Code
	}
	return ErrCodeInternal
}
