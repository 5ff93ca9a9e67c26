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
	"sort"
	"strings"
)

// Writeback envelope delimiters. The model embeds durable state updates
// inside assistant text between these markers. The relay strips everything
// between (and including) the markers before any byte reaches the client,
// independent of whether the payload later parses.
const (
	WritebackOpenMarker  = "[[WRITEBACK]]"
	WritebackCloseMarker = "[[/WRITEBACK]]"
)

// StateDelta is one durable mutation carried by a writeback envelope.
type StateDelta struct {
	Key   string `json:"key" validate:"required,min=1,max=256"`
	Value string `json:"value"`
	Op    string `json:"op" validate:"required,oneof=set append delete"`
}

// Provenance records where a writeback payload came from.
type Provenance struct {
	Source string `json:"source" validate:"required"`
	TurnID string `json:"turn_id" validate:"required,uuid4"`
}

// WritebackEnvelope is the structured payload embedded in assistant text.
//
// Lifecycle: produced by the model, extracted and stripped by the
// writeback subsystem, persisted into the conversation's StatePack, then
// discarded from memory.
type WritebackEnvelope struct {
	Deltas     []StateDelta `json:"deltas" validate:"required,min=1,max=64,dive"`
	Provenance Provenance   `json:"provenance" validate:"required"`
}

// Validate validates the envelope against the expected schema.
func (e *WritebackEnvelope) Validate() error {
	return turnValidate.Struct(e)
}

// StatePackEntry is one accumulated key in a conversation's StatePack.
type StatePackEntry struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	TurnID    string `json:"turn_id"`
	UpdatedAt int64  `json:"updated_at"`
}

// StatePack is the durable, cumulative writeback state for a conversation.
// Mutated only through successful writeback extraction; read by the
// retrieval router on future turns as cross-turn memory.
type StatePack struct {
	ConversationID string                    `json:"conversation_id"`
	Entries        map[string]StatePackEntry `json:"entries"`
	UpdatedAt      int64                     `json:"updated_at"`
}

// NewStatePack returns an empty pack for the conversation.
func NewStatePack(conversationID string) *StatePack {
	return &StatePack{
		ConversationID: conversationID,
		Entries:        make(map[string]StatePackEntry),
	}
}

// Digest renders the pack as compact "key: value" lines in key order,
// for prepending to retrieval context on future turns. Empty packs
// render as the empty string.
func (p *StatePack) Digest() string {
	if len(p.Entries) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p.Entries))
	for k := range p.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(p.Entries[k].Value)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Apply folds the envelope's deltas into the pack.
func (p *StatePack) Apply(env *WritebackEnvelope, now int64) {
	for _, d := range env.Deltas {
		switch d.Op {
		case "delete":
			delete(p.Entries, d.Key)
		case "append":
			prev := p.Entries[d.Key].Value
			p.Entries[d.Key] = StatePackEntry{
				Key:       d.Key,
				Value:     prev + d.Value,
				TurnID:    env.Provenance.TurnID,
				UpdatedAt: now,
			}
		default: // set
			p.Entries[d.Key] = StatePackEntry{
				Key:       d.Key,
				Value:     d.Value,
				TurnID:    env.Provenance.TurnID,
				UpdatedAt: now,
			}
		}
	}
	p.UpdatedAt = now
}
