// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

// Key layout:
//
//	tap:retrieval:{turn_id}:{seq} -> RetrievalTap JSON
//	tap:stream:{turn_id}:{seq}    -> StreamTap JSON
const (
	retrievalTapPrefix = "tap:retrieval:"
	streamTapPrefix    = "tap:stream:"
)

// TapMessage is one tap pushed to live-feed subscribers.
type TapMessage struct {
	Kind      string                  `json:"kind"`
	Retrieval *datatypes.RetrievalTap `json:"retrievals,omitempty"`
	Stream    *datatypes.StreamTap    `json:"stream,omitempty"`
}

// TurnTaps is the inspection view of one turn's taps.
type TurnTaps struct {
	TurnID     string                   `json:"turn_id"`
	Retrievals []datatypes.RetrievalTap `json:"retrievals"`
	Streams    []datatypes.StreamTap    `json:"streams"`
}

// Recorder appends telemetry taps.
//
// # Description
//
// Taps are append-only and schema-stable. Recording failures are logged
// and counted but never surface to the turn: a turn with lost taps is
// degraded, not failed. Sequence numbers are per turn per kind, assigned
// here so callers cannot collide.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Recorder struct {
	db *badger.DB

	mu      sync.Mutex
	seqs    map[string]int
	subs    map[int]chan TapMessage
	nextSub int

	dropped func()
}

// NewRecorder wraps an open database. dropped is invoked once per failed
// append, for metrics; nil is allowed.
func NewRecorder(db *badger.DB, dropped func()) *Recorder {
	return &Recorder{
		db:      db,
		seqs:    make(map[string]int),
		subs:    make(map[int]chan TapMessage),
		dropped: dropped,
	}
}

// AppendRetrievalTap records one retrieval call. Never fails the turn.
func (r *Recorder) AppendRetrievalTap(_ context.Context, tap datatypes.RetrievalTap) {
	tap.Seq = r.nextSeq(retrievalTapPrefix + tap.TurnID)
	key := fmt.Sprintf("%s%s:%06d", retrievalTapPrefix, tap.TurnID, tap.Seq)
	r.append(key, tap, "retrieval")
	r.publish(TapMessage{Kind: "retrieval", Retrieval: &tap})
}

// AppendStreamTap records one stream lifecycle event. Never fails the
// turn.
func (r *Recorder) AppendStreamTap(_ context.Context, tap datatypes.StreamTap) {
	tap.Seq = r.nextSeq(streamTapPrefix + tap.TurnID)
	key := fmt.Sprintf("%s%s:%06d", streamTapPrefix, tap.TurnID, tap.Seq)
	r.append(key, tap, "stream")
	r.publish(TapMessage{Kind: "stream", Stream: &tap})
}

// TapsForTurn returns every recorded tap for a turn, in sequence order.
func (r *Recorder) TapsForTurn(_ context.Context, turnID string) (*TurnTaps, error) {
	out := &TurnTaps{
		TurnID:     turnID,
		Retrievals: []datatypes.RetrievalTap{},
		Streams:    []datatypes.StreamTap{},
	}

	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(retrievalTapPrefix + turnID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var tap datatypes.RetrievalTap
				if err := json.Unmarshal(val, &tap); err != nil {
					return err
				}
				out.Retrievals = append(out.Retrievals, tap)
				return nil
			})
			if err != nil {
				return err
			}
		}

		prefix = []byte(streamTapPrefix + turnID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var tap datatypes.StreamTap
				if err := json.Unmarshal(val, &tap); err != nil {
					return err
				}
				out.Streams = append(out.Streams, tap)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read taps for turn %s: %w", turnID, err)
	}
	return out, nil
}

// Subscribe registers a live-feed subscriber. The returned cancel
// function must be called when the consumer goes away. Slow subscribers
// lose messages rather than blocking recording.
func (r *Recorder) Subscribe() (<-chan TapMessage, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSub
	r.nextSub++
	ch := make(chan TapMessage, 64)
	r.subs[id] = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

func (r *Recorder) nextSeq(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	seq := r.seqs[key]
	r.seqs[key] = seq + 1
	return seq
}

func (r *Recorder) append(key string, tap any, kind string) {
	encoded, err := json.Marshal(tap)
	if err != nil {
		r.drop(kind, err)
		return
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), encoded)
	})
	if err != nil {
		r.drop(kind, err)
	}
}

func (r *Recorder) drop(kind string, err error) {
	slog.Warn("Dropped telemetry tap", "kind", kind, "error", err)
	if r.dropped != nil {
		r.dropped()
	}
}

func (r *Recorder) publish(msg TapMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}
