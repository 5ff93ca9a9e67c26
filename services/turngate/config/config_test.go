// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", noEnv)
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultToolWorkers, cfg.ToolWorkers)
	assert.True(t, cfg.CanonStore.Configured())
	assert.True(t, cfg.ThreadsStore.Configured())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "turngate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: staging
port: "9000"
canon_store:
  id: canon-alpha
  class: CanonDocument
  cap: 4
`), 0o600))

	env := map[string]string{
		"TURNGATE_PORT":        "9100",
		"TURNGATE_ADMIN_TOKEN": "secret",
	}
	cfg, err := Load(path, func(k string) string { return env[k] })
	require.NoError(t, err)

	// Env wins over file, file wins over defaults.
	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "canon-alpha", cfg.CanonStore.ID)
	assert.Equal(t, 4, cfg.CanonStore.Cap)
	assert.Equal(t, "secret", cfg.AdminToken)
}

func TestLoad_InvalidEnvironmentRejected(t *testing.T) {
	_, err := Load("", func(k string) string {
		if k == "TURNGATE_ENV" {
			return "qa"
		}
		return ""
	})
	assert.Error(t, err)
}

func TestLoad_MissingFileIsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), noEnv)
	assert.Error(t, err)
}

func TestStoreConfig_Configured(t *testing.T) {
	assert.False(t, StoreConfig{}.Configured())
	assert.False(t, StoreConfig{ID: "canon-main"}.Configured())
	assert.True(t, StoreConfig{ID: "canon-main", Class: "CanonDocument"}.Configured())
}
