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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
	"github.com/AleutianAI/TurnGate/services/turngate/storage"
)

func testRecorder(t *testing.T) *Recorder {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRecorder(db, nil)
}

func TestRecorder_SequencesPerTurnPerKind(t *testing.T) {
	rec := testRecorder(t)
	ctx := context.Background()
	turnA, turnB := uuid.New().String(), uuid.New().String()

	rec.AppendRetrievalTap(ctx, datatypes.RetrievalTap{TurnID: turnA, Mode: datatypes.RetrievalModeCombined})
	rec.AppendRetrievalTap(ctx, datatypes.RetrievalTap{TurnID: turnA, Mode: datatypes.RetrievalModeCombined})
	rec.AppendStreamTap(ctx, datatypes.StreamTap{TurnID: turnA, Event: datatypes.StreamTapStart})
	rec.AppendRetrievalTap(ctx, datatypes.RetrievalTap{TurnID: turnB, Mode: datatypes.RetrievalModeCanon})

	taps, err := rec.TapsForTurn(ctx, turnA)
	require.NoError(t, err)
	require.Len(t, taps.Retrievals, 2)
	assert.Equal(t, 0, taps.Retrievals[0].Seq)
	assert.Equal(t, 1, taps.Retrievals[1].Seq)
	require.Len(t, taps.Streams, 1)
	assert.Equal(t, 0, taps.Streams[0].Seq, "stream taps sequence independently of retrieval taps")

	tapsB, err := rec.TapsForTurn(ctx, turnB)
	require.NoError(t, err)
	require.Len(t, tapsB.Retrievals, 1)
	assert.Equal(t, 0, tapsB.Retrievals[0].Seq, "turns sequence independently")
}

func TestRecorder_UnknownTurnYieldsEmptyTaps(t *testing.T) {
	taps, err := testRecorder(t).TapsForTurn(context.Background(), uuid.New().String())
	require.NoError(t, err)
	assert.Empty(t, taps.Retrievals)
	assert.Empty(t, taps.Streams)
}

func TestRecorder_TapFieldsRoundTrip(t *testing.T) {
	rec := testRecorder(t)
	ctx := context.Background()
	turnID := uuid.New().String()

	rec.AppendRetrievalTap(ctx, datatypes.RetrievalTap{
		Timestamp:   1234,
		TurnID:      turnID,
		Mode:        datatypes.RetrievalModeCanon,
		StoreIDs:    []string{"canon-main"},
		ResultCount: 3,
		Collisions:  1,
		DurationMs:  42,
	})

	taps, err := rec.TapsForTurn(ctx, turnID)
	require.NoError(t, err)
	require.Len(t, taps.Retrievals, 1)

	tap := taps.Retrievals[0]
	assert.Equal(t, int64(1234), tap.Timestamp)
	assert.Equal(t, datatypes.RetrievalModeCanon, tap.Mode)
	assert.Equal(t, []string{"canon-main"}, tap.StoreIDs)
	assert.Equal(t, 3, tap.ResultCount)
	assert.Equal(t, 1, tap.Collisions)
	assert.Equal(t, int64(42), tap.DurationMs)
}

func TestRecorder_SubscribeReceivesLiveTaps(t *testing.T) {
	rec := testRecorder(t)
	ch, cancel := rec.Subscribe()
	defer cancel()

	turnID := uuid.New().String()
	rec.AppendStreamTap(context.Background(), datatypes.StreamTap{TurnID: turnID, Event: datatypes.StreamTapStart})

	msg := <-ch
	assert.Equal(t, "stream", msg.Kind)
	require.NotNil(t, msg.Stream)
	assert.Equal(t, turnID, msg.Stream.TurnID)
}

func TestRecorder_CancelledSubscriberIsRemoved(t *testing.T) {
	rec := testRecorder(t)
	ch, cancel := rec.Subscribe()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic or block.
	rec.AppendStreamTap(context.Background(), datatypes.StreamTap{TurnID: uuid.New().String(), Event: datatypes.StreamTapEnd})
}

func TestRecorder_DroppedCallbackOnFailure(t *testing.T) {
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, db.Close())

	drops := 0
	rec := NewRecorder(db, func() { drops++ })
	rec.AppendRetrievalTap(context.Background(), datatypes.RetrievalTap{TurnID: uuid.New().String()})

	assert.Equal(t, 1, drops, "append on a closed database counts a drop, never errors out")
}
