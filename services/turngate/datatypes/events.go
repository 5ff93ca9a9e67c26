// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Telemetry record types. These schemas are consumed by the external
// inspection surface (turngatectl) and must stay backwards compatible:
// add fields, never rename or repurpose existing ones.
package datatypes

// Stage identifies a pipeline stage in event log entries.
type Stage string

const (
	StageIngress    Stage = "ingress"
	StageGatekeeper Stage = "gatekeeper"
	StageRouter     Stage = "router"
	StageCanonOps   Stage = "canon_ops"
	StageResponder  Stage = "responder"
	StageWriteback  Stage = "writeback"
)

// EventLogEntry is one append-only record of a stage outcome.
// Entries are never mutated or deleted.
type EventLogEntry struct {
	Timestamp      int64  `json:"timestamp"`
	TurnID         string `json:"turn_id"`
	ConversationID string `json:"conversation_id"`
	Stage          Stage  `json:"stage"`
	Outcome        string `json:"outcome"`
	Detail         string `json:"detail,omitempty"`
}

// RetrievalTap records one retrieval call: which stores, how many results,
// and which collisions the enforcer found.
type RetrievalTap struct {
	Timestamp        int64         `json:"timestamp"`
	TurnID           string        `json:"turn_id"`
	Seq              int           `json:"seq"`
	Mode             RetrievalMode `json:"mode"`
	StoreIDs         []string      `json:"store_ids"`
	ResultCount      int           `json:"result_count"`
	Collisions       int           `json:"collisions"`
	CollisionEntries []Collision   `json:"collision_entries,omitempty"`
	DurationMs       int64         `json:"duration_ms"`
}

// StreamTapEvent is the lifecycle phase recorded by a StreamTap.
type StreamTapEvent string

const (
	StreamTapStart StreamTapEvent = "start"
	StreamTapEnd   StreamTapEvent = "end"
	StreamTapError StreamTapEvent = "error"
)

// StreamTap records one stream lifecycle event with chunk counts.
type StreamTap struct {
	Timestamp  int64          `json:"timestamp"`
	TurnID     string         `json:"turn_id"`
	Seq        int            `json:"seq"`
	Event      StreamTapEvent `json:"event"`
	TokenCount int            `json:"token_count"`
	Error      string         `json:"error,omitempty"`
}
