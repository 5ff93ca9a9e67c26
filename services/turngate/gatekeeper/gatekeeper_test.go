// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gatekeeper

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
	"github.com/AleutianAI/TurnGate/services/turngate/middleware"
)

func TestDecide_NonFunctionToolsPassThrough(t *testing.T) {
	g := New(middleware.NewAdminVerifier(""), true)

	requested := datatypes.ToolsState{
		FileSearch:      true,
		WebSearch:       true,
		CodeInterpreter: true,
	}
	effective, err := g.Decide(requested, middleware.Evidence{})

	require.NoError(t, err)
	assert.True(t, effective.FileSearch)
	assert.True(t, effective.WebSearch)
	assert.True(t, effective.CodeInterpreter)
	assert.False(t, effective.Functions)
}

func TestDecide_FunctionsWithValidCredential(t *testing.T) {
	g := New(middleware.NewAdminVerifier("s3cret"), true)

	effective, err := g.Decide(
		datatypes.ToolsState{Functions: true},
		middleware.Evidence{Credential: "s3cret"},
	)

	require.NoError(t, err)
	assert.True(t, effective.Functions)
}

func TestDecide_FunctionsDeniedIsHardFailure(t *testing.T) {
	// No Silent Tool Execution: a denied functions request fails the whole
	// turn, it never proceeds with the flag quietly cleared.
	g := New(middleware.NewAdminVerifier("s3cret"), true)

	_, err := g.Decide(
		datatypes.ToolsState{Functions: true, FileSearch: true},
		middleware.Evidence{Credential: "wrong"},
	)

	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, datatypes.HTTPStatus(err))
	assert.True(t, errors.Is(err, datatypes.ErrAdminTokenInvalid))
}

func TestDecide_NotConfiguredIsDistinctFromInvalid(t *testing.T) {
	g := New(middleware.NewAdminVerifier(""), true)

	_, err := g.Decide(
		datatypes.ToolsState{Functions: true},
		middleware.Evidence{Credential: "anything"},
	)

	require.Error(t, err)
	assert.True(t, errors.Is(err, datatypes.ErrAdminTokenNotConfigured))
	assert.False(t, errors.Is(err, datatypes.ErrAdminTokenInvalid))
}

func TestDecide_LoopbackBypassOutsideProduction(t *testing.T) {
	g := New(middleware.NewAdminVerifier("s3cret"), false)

	effective, err := g.Decide(
		datatypes.ToolsState{Functions: true},
		middleware.Evidence{Loopback: true},
	)

	require.NoError(t, err)
	assert.True(t, effective.Functions)
}

func TestDecide_LoopbackBypassRefusedInProduction(t *testing.T) {
	g := New(middleware.NewAdminVerifier("s3cret"), true)

	_, err := g.Decide(
		datatypes.ToolsState{Functions: true},
		middleware.Evidence{Loopback: true},
	)

	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, datatypes.HTTPStatus(err))
}

func TestDecide_RequestedStateNeverOverridesDecision(t *testing.T) {
	g := New(middleware.NewAdminVerifier("s3cret"), true)

	effective, err := g.Decide(datatypes.ToolsState{}, middleware.Evidence{Credential: "s3cret"})

	require.NoError(t, err)
	// Functions not requested stays off even with a valid credential.
	assert.False(t, effective.Functions)
}
