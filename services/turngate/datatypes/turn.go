// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains the turn request types accepted by the ingress
// validator. For streaming event types see stream.go, for retrieval types
// see retrieval.go.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	// Per SEC-003: Unbounded message input mitigation.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxMessagesPerTurn is the maximum number of messages in a turn request.
	// Per SEC-004: Unbounded message history mitigation.
	MaxMessagesPerTurn = 100
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// turnValidate is the validator instance for turn datatypes.
// Initialized in init() with custom validators.
var turnValidate *validator.Validate

func init() {
	turnValidate = validator.New()

	// Register custom validator for message content size (SEC-003)
	_ = turnValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length (not rune count) so oversized payloads
// are rejected before any downstream allocation.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Messages
// =============================================================================

// Message is one entry of the conversation history carried by a turn.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system tool"`
	Content string `json:"content" validate:"maxbytes"`

	// ToolCallID links a tool-role message back to the call it answers.
	// Only set on messages produced inside the tool loop.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// =============================================================================
// Tools State
// =============================================================================

// ToolsState maps each known tool capability to an enabled flag.
//
// # Description
//
// The requested state arrives on the turn request; the effective state is
// produced by the gatekeeper. Functions is the only gated capability: it is
// true in the effective state only if the gatekeeper independently
// authorized it. The requested value never overrides that decision.
//
// Fields are strict JSON booleans. The decoder rejects strings or numbers
// in their place, so a requested state is never coerced from ad hoc values.
type ToolsState struct {
	FileSearch          bool `json:"file_search"`
	WebSearch           bool `json:"web_search"`
	Functions           bool `json:"functions"`
	ExternalIntegration bool `json:"external_integration"`
	MultiToolProtocol   bool `json:"multi_tool_protocol"`
	CodeInterpreter     bool `json:"code_interpreter"`
}

// AnySearch reports whether a search-type capability is enabled.
func (s ToolsState) AnySearch() bool {
	return s.FileSearch || s.WebSearch
}

// =============================================================================
// Turn Request
// =============================================================================

// TurnRequest is the body of POST /v1/turn: one conversational turn.
//
// # Description
//
// A TurnRequest carries the prior messages plus the current input and the
// requested tools state. It is immutable once it passes validation; every
// downstream stage receives it by value.
//
// # Validation
//
// Uses go-playground/validator:
//   - TurnID: required, must be valid UUID v4
//   - ConversationID: required, 1-128 chars
//   - Timestamp: required, must be > 0 (Unix milliseconds, UTC)
//   - Messages: required, 1-100 elements, each element validated
//   - Messages[].Content: max 32768 bytes (32KB) per SEC-003
//
// # Security References
//
//   - SEC-003: Message size limits enforced via validation
//   - SEC-004: Message count limits enforced via validation
type TurnRequest struct {
	TurnID         string     `json:"turn_id" validate:"required,uuid4"`
	ConversationID string     `json:"conversation_id" validate:"required,min=1,max=128"`
	Timestamp      int64      `json:"timestamp" validate:"required,gt=0"`
	Messages       []Message  `json:"messages" validate:"required,min=1,max=100,dive"`
	Tools          ToolsState `json:"tools"`
}

// Validate validates the TurnRequest fields.
//
// # Outputs
//
//   - error: Non-nil if validation failed, with details about which field.
func (r *TurnRequest) Validate() error {
	return turnValidate.Struct(r)
}

// LastUserMessage returns the most recent user-role message, or nil.
func (r *TurnRequest) LastUserMessage() *Message {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return &r.Messages[i]
		}
	}
	return nil
}

// =============================================================================
// Turn Result
// =============================================================================

// AssistantTurnResult is the finalized, client-visible outcome of a turn.
//
// Invariant: Text contains zero writeback markers. The relay strips them
// before any byte reaches the client; the writeback subsystem works from
// the raw accumulated text, never from this struct.
type AssistantTurnResult struct {
	TurnID        string   `json:"turn_id"`
	Text          string   `json:"text"`
	ToolCallsMade []string `json:"tool_calls_made,omitempty"`
	StoresUsed    []string `json:"stores_used,omitempty"`
	TokenCount    int      `json:"token_count"`
}
