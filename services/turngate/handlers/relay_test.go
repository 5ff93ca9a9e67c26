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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

// relayHarness collects everything a relay emitted and accumulated.
type relayHarness struct {
	relay *Relay
	acc   TokenAccumulator
	out   strings.Builder
}

func newRelayHarness(t *testing.T) *relayHarness {
	t.Helper()
	h := &relayHarness{acc: newInsecureTokenAccumulator()}
	h.relay = NewRelay(h.acc, func(chunk string) error {
		h.out.WriteString(chunk)
		return nil
	})
	return h
}

func (h *relayHarness) writeAll(t *testing.T, chunks ...string) {
	t.Helper()
	for _, c := range chunks {
		require.NoError(t, h.relay.Write(c))
	}
	require.NoError(t, h.relay.Flush())
}

func (h *relayHarness) raw(t *testing.T) string {
	t.Helper()
	raw, _, err := h.acc.Finalize()
	require.NoError(t, err)
	return raw
}

func TestRelay_PassThroughWithoutMarkers(t *testing.T) {
	h := newRelayHarness(t)
	h.writeAll(t, "Hello ", "world", ", how are you?")

	assert.Equal(t, "Hello world, how are you?", h.out.String())
	assert.Equal(t, "Hello world, how are you?", h.raw(t))
	assert.Equal(t, 3, h.relay.Chunks())
}

func TestRelay_StripsBlockInSingleChunk(t *testing.T) {
	h := newRelayHarness(t)
	payload := `{"deltas":[{"key":"k","value":"v","op":"set"}]}`
	h.writeAll(t, "before "+datatypes.WritebackOpenMarker+payload+datatypes.WritebackCloseMarker+" after")

	assert.Equal(t, "before  after", h.out.String())
	assert.Contains(t, h.raw(t), payload, "accumulator must keep the raw block")
}

func TestRelay_MarkerSplitAcrossChunks(t *testing.T) {
	full := "answer text " +
		datatypes.WritebackOpenMarker + `{"k":"v"}` + datatypes.WritebackCloseMarker +
		" tail"

	// Stream the text at every possible chunk size; no split may leak
	// marker bytes or block content to the client.
	for size := 1; size <= 7; size++ {
		h := newRelayHarness(t)
		var chunks []string
		for i := 0; i < len(full); i += size {
			end := i + size
			if end > len(full) {
				end = len(full)
			}
			chunks = append(chunks, full[i:end])
		}
		h.writeAll(t, chunks...)

		assert.Equal(t, "answer text  tail", h.out.String(), "chunk size %d", size)
		assert.NotContains(t, h.out.String(), "[[", "chunk size %d", size)
		assert.Equal(t, full, h.raw(t), "chunk size %d", size)
	}
}

func TestRelay_FalseAlarmPrefixIsReleased(t *testing.T) {
	h := newRelayHarness(t)
	h.writeAll(t, "see [[WRITE", "UP]] for details")

	assert.Equal(t, "see [[WRITEUP]] for details", h.out.String())
}

func TestRelay_UnterminatedBlockWithheldToEnd(t *testing.T) {
	h := newRelayHarness(t)
	h.writeAll(t, "partial answer ", datatypes.WritebackOpenMarker+`{"deltas":[`, `{"key":"x"`)

	assert.Equal(t, "partial answer ", h.out.String())
	assert.True(t, h.relay.InBlock())
	assert.Contains(t, h.raw(t), datatypes.WritebackOpenMarker)
}

func TestRelay_HoldbackNeverExceedsMarkerLength(t *testing.T) {
	h := newRelayHarness(t)
	text := "x [[WRITEBACK]] y [[/WRITEBACK]] z [[WRITEBAC"
	for _, r := range text {
		require.NoError(t, h.relay.Write(string(r)))
		assert.LessOrEqual(t, len(h.relay.pending), len(datatypes.WritebackCloseMarker)-1)
	}
}

func TestRelay_EmptyChunkIsNoop(t *testing.T) {
	h := newRelayHarness(t)
	require.NoError(t, h.relay.Write(""))
	assert.Equal(t, 0, h.relay.Chunks())
}
