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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

// nonFlushingWriter hides httptest's Flush method.
type nonFlushingWriter struct {
	header http.Header
}

func (w *nonFlushingWriter) Header() http.Header       { return w.header }
func (w *nonFlushingWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *nonFlushingWriter) WriteHeader(int)            {}

func parseEvents(t *testing.T, body string) []datatypes.StreamEvent {
	t.Helper()
	var events []datatypes.StreamEvent
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev datatypes.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestNewSSEWriter_RequiresFlusher(t *testing.T) {
	_, err := NewSSEWriter(&nonFlushingWriter{header: http.Header{}})
	require.Error(t, err)

	_, err = NewSSEWriter(httptest.NewRecorder())
	require.NoError(t, err)
}

func TestSSEWriter_WireFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteToken("hello"))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: token\n"))
	assert.Contains(t, body, "data: {")
	assert.True(t, strings.HasSuffix(body, "\n\n"))
}

func TestSSEWriter_HashChain(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteStatus("generating"))
	require.NoError(t, w.WriteToken("a"))
	require.NoError(t, w.WriteDone("turn-1", true))

	events := parseEvents(t, rec.Body.String())
	require.Len(t, events, 3)

	assert.Empty(t, events[0].PrevHash, "first event anchors the chain")
	for i, ev := range events {
		assert.Equal(t, ev.Hash, computeEventHash(ev), "event %d hash must be recomputable", i)
		if i > 0 {
			assert.Equal(t, events[i-1].Hash, ev.PrevHash, "event %d must chain to its predecessor", i)
		}
	}

	done := events[2]
	assert.Equal(t, datatypes.StreamEventDone, done.Type)
	assert.Equal(t, "turn-1", done.TurnID)
	assert.True(t, done.Degraded)
}

func TestSSEWriter_KeepAliveOutsideChain(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteToken("a"))
	require.NoError(t, w.WriteKeepAlive())
	require.NoError(t, w.WriteToken("b"))

	assert.Contains(t, rec.Body.String(), ": ping\n\n")

	events := parseEvents(t, rec.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, events[0].Hash, events[1].PrevHash,
		"keepalive must not advance the hash chain")
}

func TestSSEWriter_SourcesEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	sources := []datatypes.SourceInfo{
		{Source: "canon/doc-1", StoreID: "canon-main", Score: 0.92},
	}
	require.NoError(t, w.WriteSources(sources))

	events := parseEvents(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, datatypes.StreamEventSources, events[0].Type)
	require.Len(t, events[0].Sources, 1)
	assert.Equal(t, "canon/doc-1", events[0].Sources[0].Source)
}

func TestSetSSEHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSSEHeaders(rec)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}
