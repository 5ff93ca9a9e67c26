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
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

// Key layout:
//
//	statepack:{conversation_id}            -> StatePack JSON
//	event:{conversation_id}:{ts}:{turn_id} -> EventLogEntry JSON
const (
	packKeyPrefix  = "statepack:"
	eventKeyPrefix = "event:"
)

// BadgerStore is the production StatePackRepository.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore wraps an open database. The store does not own the
// database lifecycle.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

var _ StatePackRepository = (*BadgerStore)(nil)

// Get implements StatePackRepository. An unknown conversation yields an
// empty pack.
func (s *BadgerStore) Get(_ context.Context, conversationID string) (*datatypes.StatePack, error) {
	var pack *datatypes.StatePack
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(packKeyPrefix + conversationID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			pack = datatypes.NewStatePack(conversationID)
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			pack = &datatypes.StatePack{}
			return json.Unmarshal(val, pack)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load statepack %s: %w", conversationID, err)
	}
	if pack.Entries == nil {
		pack.Entries = make(map[string]datatypes.StatePackEntry)
	}
	return pack, nil
}

// Put implements StatePackRepository.
func (s *BadgerStore) Put(_ context.Context, pack *datatypes.StatePack) error {
	encoded, err := json.Marshal(pack)
	if err != nil {
		return fmt.Errorf("encode statepack %s: %w", pack.ConversationID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(packKeyPrefix+pack.ConversationID), encoded)
	})
	if err != nil {
		return fmt.Errorf("store statepack %s: %w", pack.ConversationID, err)
	}
	return nil
}

// AppendEvent implements StatePackRepository. Events are append-only;
// keys embed timestamp and turn id so iteration yields insertion order.
func (s *BadgerStore) AppendEvent(_ context.Context, entry datatypes.EventLogEntry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode event log entry: %w", err)
	}
	key := fmt.Sprintf("%s%s:%020d:%s", eventKeyPrefix, entry.ConversationID, entry.Timestamp, entry.TurnID)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), encoded)
	})
	if err != nil {
		return fmt.Errorf("append event log entry: %w", err)
	}
	return nil
}

// Events returns the conversation's event log in append order.
func (s *BadgerStore) Events(_ context.Context, conversationID string) ([]datatypes.EventLogEntry, error) {
	var entries []datatypes.EventLogEntry
	prefix := []byte(eventKeyPrefix + conversationID + ":")
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var entry datatypes.EventLogEntry
				if err := json.Unmarshal(val, &entry); err != nil {
					return err
				}
				entries = append(entries, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read event log for %s: %w", conversationID, err)
	}
	return entries, nil
}
