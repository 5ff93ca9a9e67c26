// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing Server-Sent Events to HTTP responses.
//
// # Description
//
// SSEWriter abstracts SSE event serialization and writing, enabling
// testability and separation from HTTP response mechanics. Implementations
// handle the SSE wire format (event: type\ndata: json\n\n) internally.
//
// Each event is automatically assigned:
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix timestamp in milliseconds
//   - Hash: SHA-256 hash of event content for integrity
//   - PrevHash: Hash of previous event for chain verification
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
// The responder emits tokens, heartbeats and status events from different
// goroutines during a turn.
//
// # Limitations
//
//   - Must be used with http.Flusher-compatible ResponseWriter
//   - Response headers must be set before first write
//
// # Assumptions
//
//   - Caller has set Content-Type: text/event-stream before writing
//   - Caller has disabled buffering (X-Accel-Buffering: no)
type SSEWriter interface {
	// WriteEvent writes a single SSE event to the response.
	// Id, CreatedAt, Hash and PrevHash are populated here; flushes
	// immediately after writing.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteStatus writes a status event describing pipeline progress.
	WriteStatus(message string) error

	// WriteToken writes a token event with a content chunk.
	WriteToken(content string) error

	// WriteSources writes a sources event with the retrieved documents
	// that informed the answer, ordered by relevance.
	WriteSources(sources []datatypes.SourceInfo) error

	// WriteError writes an error event. The message must already be
	// sanitized for client display; internal details never cross here.
	WriteError(errMsg string) error

	// WriteDone writes the terminal done event carrying the turn ID and
	// the degraded flag. Should only be called once per stream.
	WriteDone(turnID string, degraded bool) error

	// WriteKeepAlive sends an SSE comment line to keep the connection
	// alive. Comments do not participate in the hash chain.
	WriteKeepAlive() error
}

// =============================================================================
// Implementation
// =============================================================================

// sseWriter writes hash-chained SSE events to an HTTP response.
//
// # Fields
//
//   - writer: Underlying response writer
//   - flusher: Flusher for immediate delivery of each event
//   - prevHash: Hash of the most recently written event
//   - mu: Guards prevHash and interleaved writes
//
// # Thread Safety
//
// Safe for concurrent use.
type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

// NewSSEWriter creates an SSEWriter over the given response writer.
//
// # Inputs
//
//   - w: ResponseWriter that must implement http.Flusher.
//
// # Outputs
//
//   - SSEWriter: Ready for use.
//   - error: Non-nil if w does not support flushing.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	return &sseWriter{
		writer:  w,
		flusher: flusher,
	}, nil
}

// WriteEvent writes a single SSE event with chain metadata.
//
// # Description
//
// Assigns Id, CreatedAt and PrevHash, computes the event hash, advances
// the chain, serializes to JSON and writes in SSE wire format. The chain
// lets an offline auditor verify that no event was inserted, dropped or
// reordered after the fact.
func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash
	event.Hash = computeEventHash(event)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}

	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write stream event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// WriteStatus writes a status event.
func (w *sseWriter) WriteStatus(message string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.StreamEventStatus,
		Message: message,
	})
}

// WriteToken writes a token event with a content chunk.
func (w *sseWriter) WriteToken(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.StreamEventToken,
		Content: content,
	})
}

// WriteSources writes a sources event with retrieved documents.
func (w *sseWriter) WriteSources(sources []datatypes.SourceInfo) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.StreamEventSources,
		Sources: sources,
	})
}

// WriteError writes an error event.
//
// The message must be sanitized before reaching this method; nothing here
// redacts internal details.
func (w *sseWriter) WriteError(errMsg string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:  datatypes.StreamEventError,
		Error: errMsg,
	})
}

// WriteDone writes the terminal done event.
func (w *sseWriter) WriteDone(turnID string, degraded bool) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:     datatypes.StreamEventDone,
		TurnID:   turnID,
		Degraded: degraded,
	})
}

// WriteKeepAlive sends a comment line to keep the connection alive.
//
// Comments are ignored by SSE clients but reset load balancer timeout
// counters. They do not update the hash chain.
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// SSE comment format: colon followed by text, then double newline
	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// computeEventHash computes the SHA-256 hash over an event's chained fields.
//
// The hash covers the event identity, payload, turn binding and the
// previous hash, so any mutation of a stored stream breaks the chain.
func computeEventHash(event datatypes.StreamEvent) string {
	sourcesJSON, _ := json.Marshal(event.Sources)

	input := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%t|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Message,
		event.Error,
		event.TurnID,
		event.Degraded,
		sourcesJSON,
	)

	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// Sets Content-Type, Cache-Control, Connection and X-Accel-Buffering
// (disables nginx buffering). Must be called before writing any body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
