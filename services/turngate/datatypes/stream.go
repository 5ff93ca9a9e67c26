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

// StreamEventType identifies the kind of SSE event on the turn stream.
type StreamEventType string

const (
	StreamEventStatus  StreamEventType = "status"
	StreamEventToken   StreamEventType = "token"
	StreamEventSources StreamEventType = "sources"
	StreamEventError   StreamEventType = "error"
	StreamEventDone    StreamEventType = "done"
)

// SourceInfo describes one retrieved document surfaced to the client.
type SourceInfo struct {
	Source  string  `json:"source"`
	StoreID string  `json:"store_id,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// StreamEvent is one event on the SSE turn stream.
//
// Id, CreatedAt, Hash and PrevHash are populated by the SSE writer. The
// hash chain provides chain of custody over content, sources and
// timestamps for offline audit.
type StreamEvent struct {
	Id        string          `json:"id"`
	Type      StreamEventType `json:"type"`
	CreatedAt int64           `json:"created_at"`
	Content   string          `json:"content,omitempty"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
	TurnID    string          `json:"turn_id,omitempty"`
	Degraded  bool            `json:"degraded,omitempty"`
	Sources   []SourceInfo    `json:"sources,omitempty"`
	Hash      string          `json:"hash"`
	PrevHash  string          `json:"prev_hash"`
}
