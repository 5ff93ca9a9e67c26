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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

// FileStore is the JSON-file StatePackRepository for development and
// small deployments. Packs are whole files written atomically via a temp
// file and rename; the event log is newline-delimited JSON per
// conversation.
//
// Concurrent writers for one conversation are serialized by the
// service's keyed lock, not here.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create statepack directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

var _ StatePackRepository = (*FileStore)(nil)

func (s *FileStore) packPath(conversationID string) string {
	return filepath.Join(s.dir, sanitizeID(conversationID)+".json")
}

func (s *FileStore) eventsPath(conversationID string) string {
	return filepath.Join(s.dir, sanitizeID(conversationID)+".events.ndjson")
}

// sanitizeID keeps conversation ids filesystem-safe.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}

// Get implements StatePackRepository.
func (s *FileStore) Get(_ context.Context, conversationID string) (*datatypes.StatePack, error) {
	raw, err := os.ReadFile(s.packPath(conversationID))
	if os.IsNotExist(err) {
		return datatypes.NewStatePack(conversationID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read statepack %s: %w", conversationID, err)
	}

	pack := &datatypes.StatePack{}
	if err := json.Unmarshal(raw, pack); err != nil {
		return nil, fmt.Errorf("parse statepack %s: %w", conversationID, err)
	}
	if pack.Entries == nil {
		pack.Entries = make(map[string]datatypes.StatePackEntry)
	}
	return pack, nil
}

// Put implements StatePackRepository with an atomic temp+rename write.
func (s *FileStore) Put(_ context.Context, pack *datatypes.StatePack) error {
	encoded, err := json.MarshalIndent(pack, "", "  ")
	if err != nil {
		return fmt.Errorf("encode statepack %s: %w", pack.ConversationID, err)
	}

	target := s.packPath(pack.ConversationID)
	tmp, err := os.CreateTemp(s.dir, ".statepack-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp statepack file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp statepack file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp statepack file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("replace statepack %s: %w", pack.ConversationID, err)
	}
	return nil
}

// AppendEvent implements StatePackRepository.
func (s *FileStore) AppendEvent(_ context.Context, entry datatypes.EventLogEntry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode event log entry: %w", err)
	}

	f, err := os.OpenFile(s.eventsPath(entry.ConversationID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("append event log entry: %w", err)
	}
	return nil
}
