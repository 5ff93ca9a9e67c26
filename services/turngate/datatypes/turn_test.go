// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func validTurnRequest() *TurnRequest {
	return &TurnRequest{
		TurnID:         "550e8400-e29b-41d4-a716-446655440000",
		ConversationID: "conv-1",
		Timestamp:      time.Now().UnixMilli(),
		Messages: []Message{
			{Role: "user", Content: "Hello"},
		},
	}
}

// =============================================================================
// TurnRequest Validation Tests
// =============================================================================

func TestTurnRequest_Validate_Success(t *testing.T) {
	req := validTurnRequest()
	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got error: %v", err)
	}
}

func TestTurnRequest_Validate_MissingTurnID(t *testing.T) {
	req := validTurnRequest()
	req.TurnID = ""
	if err := req.Validate(); err == nil {
		t.Error("expected error for missing turn_id, got nil")
	}
}

func TestTurnRequest_Validate_InvalidTurnID(t *testing.T) {
	req := validTurnRequest()
	req.TurnID = "not-a-uuid"
	if err := req.Validate(); err == nil {
		t.Error("expected error for invalid turn_id, got nil")
	}
}

func TestTurnRequest_Validate_MissingConversationID(t *testing.T) {
	req := validTurnRequest()
	req.ConversationID = ""
	if err := req.Validate(); err == nil {
		t.Error("expected error for missing conversation_id, got nil")
	}
}

func TestTurnRequest_Validate_EmptyMessages(t *testing.T) {
	req := validTurnRequest()
	req.Messages = nil
	if err := req.Validate(); err == nil {
		t.Error("expected error for empty messages, got nil")
	}
}

func TestTurnRequest_Validate_TooManyMessages(t *testing.T) {
	req := validTurnRequest()
	req.Messages = make([]Message, MaxMessagesPerTurn+1)
	for i := range req.Messages {
		req.Messages[i] = Message{Role: "user", Content: "x"}
	}
	if err := req.Validate(); err == nil {
		t.Error("expected error for too many messages, got nil")
	}
}

func TestTurnRequest_Validate_UnknownRole(t *testing.T) {
	req := validTurnRequest()
	req.Messages[0].Role = "narrator"
	if err := req.Validate(); err == nil {
		t.Error("expected error for unrecognized role, got nil")
	}
}

func TestTurnRequest_Validate_OversizedContent(t *testing.T) {
	req := validTurnRequest()
	req.Messages[0].Content = strings.Repeat("a", MaxMessageContentBytes+1)
	if err := req.Validate(); err == nil {
		t.Error("expected error for oversized content, got nil")
	}
}

func TestTurnRequest_Validate_ContentAtLimit(t *testing.T) {
	req := validTurnRequest()
	req.Messages[0].Content = strings.Repeat("a", MaxMessageContentBytes)
	if err := req.Validate(); err != nil {
		t.Errorf("expected content at the limit to pass, got: %v", err)
	}
}

// =============================================================================
// ToolsState Decoding Tests
// =============================================================================

func TestToolsState_RejectsNonBooleanFields(t *testing.T) {
	// The requested state must be strict JSON booleans, never coerced from
	// truthy strings.
	var s ToolsState
	err := json.Unmarshal([]byte(`{"functions": "true"}`), &s)
	if err == nil {
		t.Error("expected error decoding string into bool field, got nil")
	}
	if s.Functions {
		t.Error("functions flag must not be set from a string value")
	}
}

func TestToolsState_AnySearch(t *testing.T) {
	if (ToolsState{}).AnySearch() {
		t.Error("empty state should report no search capability")
	}
	if !(ToolsState{FileSearch: true}).AnySearch() {
		t.Error("file_search should count as a search capability")
	}
	if !(ToolsState{WebSearch: true}).AnySearch() {
		t.Error("web_search should count as a search capability")
	}
}

func TestTurnRequest_LastUserMessage(t *testing.T) {
	req := validTurnRequest()
	req.Messages = []Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}
	msg := req.LastUserMessage()
	if msg == nil || msg.Content != "second" {
		t.Errorf("expected last user message 'second', got %+v", msg)
	}

	req.Messages = []Message{{Role: "assistant", Content: "only"}}
	if req.LastUserMessage() != nil {
		t.Error("expected nil when no user message present")
	}
}
