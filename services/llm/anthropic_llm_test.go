package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestAnthropicClient(t *testing.T, baseURL string) *AnthropicClient {
	t.Helper()
	client, err := NewAnthropicClient(AnthropicConfig{APIKey: "test-key", Model: "test-model", BaseURL: baseURL})
	if err != nil {
		t.Fatalf("NewAnthropicClient returned error: %v", err)
	}
	return client
}

// TestAnthropicChatStream_TextDeltas tests SSE token reassembly and the
// terminal done event.
func TestAnthropicChatStream_TextDeltas(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("Expected x-api-key header, got %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("Expected anthropic-version %s, got %q", anthropicAPIVersion, r.Header.Get("anthropic-version"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hello\"}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\" world\"}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer server.Close()

	client := newTestAnthropicClient(t, server.URL)

	var response strings.Builder
	doneEvents := 0
	err := client.ChatStream(context.Background(), []ChatMessage{{Role: "user", Content: "Hi"}}, GenerationParams{}, func(event StreamEvent) error {
		switch event.Type {
		case StreamEventToken:
			response.WriteString(event.Content)
		case StreamEventDone:
			doneEvents++
		}
		return nil
	})

	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}
	if response.String() != "Hello world" {
		t.Errorf("Expected 'Hello world', got '%s'", response.String())
	}
	if doneEvents != 1 {
		t.Errorf("Expected exactly 1 done event, got %d", doneEvents)
	}
}

// TestAnthropicChatStream_ErrorEvent tests that a mid-stream error event
// reaches the callback and ends consumption.
func TestAnthropicChatStream_ErrorEvent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"partial\"}}\n\n")
		fmt.Fprint(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	}))
	defer server.Close()

	client := newTestAnthropicClient(t, server.URL)

	var errEvent StreamEvent
	err := client.ChatStream(context.Background(), []ChatMessage{{Role: "user", Content: "Hi"}}, GenerationParams{}, func(event StreamEvent) error {
		if event.Type == StreamEventError {
			errEvent = event
		}
		return nil
	})

	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}
	if errEvent.Type != StreamEventError {
		t.Fatal("Expected an error event to reach the callback")
	}
	if errEvent.Error != "Overloaded" {
		t.Errorf("Expected error message 'Overloaded', got %q", errEvent.Error)
	}
}

// TestAnthropicChat_ToolUse tests that tool_use blocks map to tool calls.
func TestAnthropicChat_ToolUse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if len(req.Tools) != 1 || req.Tools[0].Name != "search_knowledge" {
			t.Errorf("Expected the tool definition in the request, got %+v", req.Tools)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"id":"msg_1","type":"message","role":"assistant","content":[{"type":"text","text":"Looking."},{"type":"tool_use","id":"toolu_1","name":"search_knowledge","input":{"query":"gold"}}],"usage":{"output_tokens":11}}`)
	}))
	defer server.Close()

	client := newTestAnthropicClient(t, server.URL)

	tools := []ToolDefinition{{
		Name:        "search_knowledge",
		Description: "Search the configured stores",
		Parameters:  map[string]any{"type": "object"},
	}}
	resp, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "find gold"}}, tools, GenerationParams{})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if resp.Content != "Looking." {
		t.Errorf("Expected content 'Looking.', got %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].ID != "toolu_1" || resp.ToolCalls[0].Name != "search_knowledge" {
		t.Errorf("Unexpected tool call: %+v", resp.ToolCalls[0])
	}
	if resp.TokenCount != 11 {
		t.Errorf("Expected token count 11, got %d", resp.TokenCount)
	}
}

// TestToAnthropicMessages tests the role and block mapping.
func TestToAnthropicMessages(t *testing.T) {
	t.Parallel()

	msgs := []ChatMessage{
		{Role: "system", Content: "be careful"},
		{Role: "user", Content: "run it"},
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "toolu_1", Name: "echo", Arguments: json.RawMessage(`{"text":"hi"}`)}}},
		{Role: "tool", Content: "hi", ToolCallID: "toolu_1"},
	}

	out := toAnthropicMessages(msgs)
	if len(out) != 3 {
		t.Fatalf("Expected 3 messages (system excluded), got %d", len(out))
	}
	if out[0].Role != "user" || out[0].Content[0].Text != "run it" {
		t.Errorf("Unexpected first message: %+v", out[0])
	}
	if out[1].Role != "assistant" || out[1].Content[0].Type != "tool_use" {
		t.Errorf("Expected an assistant tool_use block, got %+v", out[1])
	}
	if out[2].Role != "user" || out[2].Content[0].Type != "tool_result" || out[2].Content[0].ToolUseID != "toolu_1" {
		t.Errorf("Expected a user tool_result block, got %+v", out[2])
	}
}
