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
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsecureAccumulator_WriteAndFinalize(t *testing.T) {
	acc := newInsecureTokenAccumulator()
	defer acc.Destroy()

	require.NoError(t, acc.Write("Hello "))
	require.NoError(t, acc.Write("world"))

	answer, hashStr, err := acc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "Hello world", answer)

	expected := sha256.Sum256([]byte("Hello world"))
	assert.Equal(t, hex.EncodeToString(expected[:]), hashStr)
}

func TestInsecureAccumulator_WriteAfterFinalize(t *testing.T) {
	acc := newInsecureTokenAccumulator()

	require.NoError(t, acc.Write("x"))
	_, _, err := acc.Finalize()
	require.NoError(t, err)

	assert.Error(t, acc.Write("y"))
	_, _, err = acc.Finalize()
	assert.Error(t, err)
}

func TestInsecureAccumulator_Overflow(t *testing.T) {
	acc := newInsecureTokenAccumulator()
	defer acc.Destroy()

	big := strings.Repeat("a", SecureBufferSize)
	require.NoError(t, acc.Write(big))

	err := acc.Write("one more byte")
	require.Error(t, err)

	_, _, err = acc.Finalize()
	assert.Error(t, err, "an overflowed accumulator must not finalize")
}

func TestInsecureAccumulator_DestroyIdempotent(t *testing.T) {
	acc := newInsecureTokenAccumulator()
	acc.Destroy()
	acc.Destroy()

	assert.Error(t, acc.Write("x"))
}

func TestInsecureAccumulator_ConcurrentWrites(t *testing.T) {
	acc := newInsecureTokenAccumulator()
	defer acc.Destroy()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = acc.Write("ab")
			}
		}()
	}
	wg.Wait()

	answer, _, err := acc.Finalize()
	require.NoError(t, err)
	assert.Len(t, answer, 20*50*2)
}

func TestAccumulator_HasStableID(t *testing.T) {
	acc := newInsecureTokenAccumulator()
	defer acc.Destroy()

	assert.NotEmpty(t, acc.ID())
	assert.Equal(t, acc.ID(), acc.ID())
	assert.False(t, acc.CreatedAt().IsZero())
}
