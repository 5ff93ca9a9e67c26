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

	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

// =============================================================================
// Relay
// =============================================================================

// Relay forwards model output to the client while stripping writeback
// blocks in flight.
//
// # Description
//
// The relay sits between the model stream and the SSE writer. Every chunk
// is written RAW to the token accumulator (writeback extraction needs the
// markers), then filtered before the client sink sees it: everything from
// an open marker through its close marker is withheld, including the
// markers themselves. Because markers can straddle chunk boundaries, the
// relay holds back at most len(marker)-1 trailing bytes whenever the chunk
// ends mid-way through a possible marker, and releases them once the next
// chunk disambiguates.
//
// An unterminated block is withheld through end of stream. Marker bytes
// never reach the client regardless of whether the block later parses.
//
// # Thread Safety
//
// Not safe for concurrent use. A relay belongs to a single turn's stream
// goroutine.
type Relay struct {
	acc     TokenAccumulator
	sink    func(string) error
	pending string
	inBlock bool
	chunks  int
}

// NewRelay creates a relay feeding the accumulator with raw text and the
// sink with filtered text.
func NewRelay(acc TokenAccumulator, sink func(string) error) *Relay {
	return &Relay{acc: acc, sink: sink}
}

// Write processes one chunk of model output.
//
// # Description
//
// Appends the chunk to the accumulator unmodified, then advances the
// marker filter over pending+chunk and emits whatever is known to be
// outside a writeback block.
//
// # Outputs
//
//   - error: Non-nil if the accumulator or the sink failed. The stream
//     should be aborted on error.
func (r *Relay) Write(chunk string) error {
	if chunk == "" {
		return nil
	}
	if err := r.acc.Write(chunk); err != nil {
		return err
	}
	r.chunks++

	buf := r.pending + chunk
	r.pending = ""

	out, err := r.filter(buf)
	if err != nil {
		return err
	}
	if out != "" {
		return r.sink(out)
	}
	return nil
}

// Flush releases any held-back tail after the stream ends.
//
// Held bytes that turned out not to start a marker are emitted. A tail
// inside an unterminated block stays withheld.
func (r *Relay) Flush() error {
	if r.inBlock || r.pending == "" {
		r.pending = ""
		return nil
	}
	out := r.pending
	r.pending = ""
	return r.sink(out)
}

// Chunks returns how many model chunks passed through the relay.
func (r *Relay) Chunks() int {
	return r.chunks
}

// filter consumes buf and returns the bytes safe to emit, updating
// pending and inBlock for the remainder.
func (r *Relay) filter(buf string) (string, error) {
	var out strings.Builder

	for buf != "" {
		if r.inBlock {
			idx := strings.Index(buf, datatypes.WritebackCloseMarker)
			if idx < 0 {
				// Keep only the tail that could begin the close marker.
				r.pending = markerTail(buf, datatypes.WritebackCloseMarker)
				r.inBlock = true
				return out.String(), nil
			}
			buf = buf[idx+len(datatypes.WritebackCloseMarker):]
			r.inBlock = false
			continue
		}

		idx := strings.Index(buf, datatypes.WritebackOpenMarker)
		if idx < 0 {
			tail := markerTail(buf, datatypes.WritebackOpenMarker)
			out.WriteString(buf[:len(buf)-len(tail)])
			r.pending = tail
			return out.String(), nil
		}
		out.WriteString(buf[:idx])
		buf = buf[idx+len(datatypes.WritebackOpenMarker):]
		r.inBlock = true
	}

	return out.String(), nil
}

// markerTail returns the longest proper suffix of buf that is a prefix of
// marker. The result is at most len(marker)-1 bytes.
func markerTail(buf, marker string) string {
	max := len(marker) - 1
	if max > len(buf) {
		max = len(buf)
	}
	for k := max; k > 0; k-- {
		if strings.HasSuffix(buf, marker[:k]) {
			return buf[len(buf)-k:]
		}
	}
	return ""
}

// =============================================================================
// Pending-block state (unterminated streams)
// =============================================================================

// InBlock reports whether the relay ended inside an unterminated
// writeback block. Used by the responder for telemetry only; extraction
// works from the raw accumulated text either way.
func (r *Relay) InBlock() bool {
	return r.inBlock
}
