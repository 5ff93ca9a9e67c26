// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package writeback

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

var tracer = otel.Tracer("turngate.writeback")

// StatePackRepository stores per-conversation writeback state.
//
// Get returns an empty pack, never an error, for a conversation with no
// prior writebacks.
type StatePackRepository interface {
	Get(ctx context.Context, conversationID string) (*datatypes.StatePack, error)
	Put(ctx context.Context, pack *datatypes.StatePack) error
	AppendEvent(ctx context.Context, entry datatypes.EventLogEntry) error
}

// Service runs the writeback stage after stream finalization.
type Service struct {
	repo  StatePackRepository
	locks *KeyedLock
}

// NewService builds the writeback service over a repository.
func NewService(repo StatePackRepository) *Service {
	return &Service{repo: repo, locks: NewKeyedLock()}
}

// Persist folds an extraction's envelope into the conversation's pack.
//
// # Description
//
// A missing envelope is a no-op. A malformed one appends a
// writeback.malformed event and leaves the pack untouched; the turn
// already succeeded from the client's perspective, so nothing here
// returns a turn-fatal error. A valid envelope is applied under the
// conversation's keyed lock and recorded with a writeback.persisted
// event.
//
// # Outputs
//
//   - bool: true when deltas were persisted.
func (s *Service) Persist(ctx context.Context, conversationID, turnID string, ext Extraction) bool {
	ctx, span := tracer.Start(ctx, "WritebackService.Persist")
	defer span.End()

	now := time.Now().UnixMilli()

	if ext.Err != nil {
		slog.Warn("Writeback payload malformed, pack untouched",
			"conversation_id", conversationID, "turn_id", turnID, "error", ext.Err)
		s.appendEvent(ctx, datatypes.EventLogEntry{
			Timestamp:      now,
			TurnID:         turnID,
			ConversationID: conversationID,
			Stage:          datatypes.StageWriteback,
			Outcome:        "writeback.malformed",
			Detail:         ext.Err.Error(),
		})
		return false
	}
	if ext.Envelope == nil {
		return false
	}

	unlock := s.locks.Lock(conversationID)
	defer unlock()

	pack, err := s.repo.Get(ctx, conversationID)
	if err != nil {
		slog.Error("Failed to load StatePack, skipping writeback",
			"conversation_id", conversationID, "error", err)
		return false
	}
	pack.Apply(ext.Envelope, now)

	if err := s.repo.Put(ctx, pack); err != nil {
		slog.Error("Failed to persist StatePack",
			"conversation_id", conversationID, "error", err)
		return false
	}

	s.appendEvent(ctx, datatypes.EventLogEntry{
		Timestamp:      now,
		TurnID:         turnID,
		ConversationID: conversationID,
		Stage:          datatypes.StageWriteback,
		Outcome:        "writeback.persisted",
		Detail:         "",
	})
	slog.Info("Writeback persisted",
		"conversation_id", conversationID, "turn_id", turnID,
		"deltas", len(ext.Envelope.Deltas))
	return true
}

// Digest returns a compact rendering of the pack for prompt context, or
// an empty string for an empty pack.
func (s *Service) Digest(ctx context.Context, conversationID string) string {
	pack, err := s.repo.Get(ctx, conversationID)
	if err != nil {
		slog.Warn("Failed to load StatePack for digest", "conversation_id", conversationID, "error", err)
		return ""
	}
	return pack.Digest()
}

// RecordEvent appends a stage outcome to the append-only event log.
// Failures are logged and swallowed; event logging never aborts a turn.
func (s *Service) RecordEvent(ctx context.Context, entry datatypes.EventLogEntry) {
	s.appendEvent(ctx, entry)
}

func (s *Service) appendEvent(ctx context.Context, entry datatypes.EventLogEntry) {
	if err := s.repo.AppendEvent(ctx, entry); err != nil {
		slog.Warn("Failed to append writeback event", "turn_id", entry.TurnID, "error", err)
	}
}
