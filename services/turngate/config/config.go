// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config builds the turngate service configuration.
//
// Configuration is constructed exactly once in main and passed into every
// component. No component reads the environment directly: a YAML file
// provides the base, environment variables override it, and the result is
// validated before the server starts.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults applied when neither file nor environment provides a value.
const (
	DefaultPort             = "12310"
	DefaultRetrievalCap     = 8
	DefaultToolWorkers      = 4
	DefaultTurnsPerMinute   = 30
	DefaultLLMBackend       = "openai"
	DefaultCanonStoreClass  = "CanonDocument"
	DefaultThreadStoreClass = "ThreadDocument"
)

// StoreConfig identifies one retrieval store.
type StoreConfig struct {
	// ID is the logical store identifier surfaced in plans and taps.
	ID string `yaml:"id"`

	// Class is the Weaviate class backing the store.
	Class string `yaml:"class"`

	// Cap is the maximum result count per retrieval call.
	Cap int `yaml:"cap" validate:"gte=0,lte=100"`
}

// Configured reports whether the store can serve a retrieval plan.
func (s StoreConfig) Configured() bool {
	return s.ID != "" && s.Class != ""
}

// Config is the complete turngate service configuration.
//
// # Fields
//
//   - Environment: "production" disables the loopback dev bypass for
//     function-tool authorization.
//   - AdminToken: server-held secret for the gatekeeper. Empty means
//     function tools cannot be authorized (NotConfigured, not Invalid).
//   - CanonStore/ThreadsStore: retrieval store identity and caps.
//   - DataDir: root for badger storage (statepacks, taps).
//   - OverlayPath: canon overlay JSON file, hot reloaded on change.
//   - ListerRoots: allow-listed roots for the directory lister tool,
//     keyed by root id.
type Config struct {
	Environment string `yaml:"environment" validate:"required,oneof=development staging production"`
	Port        string `yaml:"port" validate:"required"`

	AdminToken string `yaml:"admin_token"`

	WeaviateURL  string      `yaml:"weaviate_url"`
	CanonStore   StoreConfig `yaml:"canon_store"`
	ThreadsStore StoreConfig `yaml:"threads_store"`

	LLMBackend     string `yaml:"llm_backend" validate:"required,oneof=openai ollama anthropic"`
	OpenAIKey      string `yaml:"openai_key"`
	OpenAIModel    string `yaml:"openai_model"`
	OllamaURL      string `yaml:"ollama_url"`
	OllamaModel    string `yaml:"ollama_model"`
	AnthropicKey   string `yaml:"anthropic_key"`
	AnthropicModel string `yaml:"anthropic_model"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`

	DataDir     string            `yaml:"data_dir" validate:"required"`
	OverlayPath string            `yaml:"overlay_path"`
	ListerRoots map[string]string `yaml:"lister_roots"`

	ToolWorkers    int `yaml:"tool_workers" validate:"gte=1,lte=32"`
	TurnsPerMinute int `yaml:"turns_per_minute" validate:"gte=1"`
}

// IsProduction reports whether the loopback dev bypass must be refused.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

var configValidate = validator.New()

// Load builds the Config from an optional YAML file plus environment
// overrides, applies defaults, and validates the result.
//
// # Inputs
//
//   - path: YAML config file path. Empty string skips file loading.
//   - getenv: environment lookup, normally os.Getenv. Injected so tests
//     never touch the process environment.
//
// # Outputs
//
//   - *Config: validated configuration, ready to hand to components.
//   - error: Non-nil on unreadable file, malformed YAML, or validation
//     failure.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Environment:    "development",
		Port:           DefaultPort,
		LLMBackend:     DefaultLLMBackend,
		DataDir:        "data",
		ToolWorkers:    DefaultToolWorkers,
		TurnsPerMinute: DefaultTurnsPerMinute,
		CanonStore:     StoreConfig{ID: "canon-main", Class: DefaultCanonStoreClass, Cap: DefaultRetrievalCap},
		ThreadsStore:   StoreConfig{ID: "threads-main", Class: DefaultThreadStoreClass, Cap: DefaultRetrievalCap},
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg, getenv)

	if err := configValidate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	setString := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString(&cfg.Environment, "TURNGATE_ENV")
	setString(&cfg.Port, "TURNGATE_PORT")
	setString(&cfg.AdminToken, "TURNGATE_ADMIN_TOKEN")
	setString(&cfg.WeaviateURL, "WEAVIATE_SERVICE_URL")
	setString(&cfg.CanonStore.ID, "TURNGATE_CANON_STORE_ID")
	setString(&cfg.CanonStore.Class, "TURNGATE_CANON_STORE_CLASS")
	setInt(&cfg.CanonStore.Cap, "TURNGATE_CANON_STORE_CAP")
	setString(&cfg.ThreadsStore.ID, "TURNGATE_THREADS_STORE_ID")
	setString(&cfg.ThreadsStore.Class, "TURNGATE_THREADS_STORE_CLASS")
	setInt(&cfg.ThreadsStore.Cap, "TURNGATE_THREADS_STORE_CAP")
	setString(&cfg.LLMBackend, "LLM_BACKEND_TYPE")
	setString(&cfg.OpenAIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAIModel, "OPENAI_MODEL")
	setString(&cfg.OllamaURL, "OLLAMA_SERVICE_URL")
	setString(&cfg.OllamaModel, "OLLAMA_MODEL")
	setString(&cfg.AnthropicKey, "ANTHROPIC_API_KEY")
	setString(&cfg.AnthropicModel, "ANTHROPIC_MODEL")
	setString(&cfg.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.DataDir, "TURNGATE_DATA_DIR")
	setString(&cfg.OverlayPath, "TURNGATE_OVERLAY_PATH")
	setInt(&cfg.ToolWorkers, "TURNGATE_TOOL_WORKERS")
	setInt(&cfg.TurnsPerMinute, "TURNGATE_TURNS_PER_MINUTE")
}
