// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy classifies content headed for the knowledge stores.
// The pattern rules are baked into the binary via embed, so the policy
// cannot be tampered with on the host filesystem without recompiling.
package policy

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ClassificationRules holds the raw embedded rule file. Exposed so the
// CLI can fingerprint the rules compiled into a given binary.
//
//go:embed patterns.yaml
var ClassificationRules []byte

type Confidence string

const (
	Low    Confidence = "low"
	Medium Confidence = "medium"
	High   Confidence = "high"
)

func (c *Confidence) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch Confidence(s) {
	case High, Medium, Low:
		*c = Confidence(s)
		return nil
	default:
		return fmt.Errorf("invalid value for confidence: %q", s)
	}
}

type Pattern struct {
	ID          string     `yaml:"id"`
	Description string     `yaml:"description"`
	Regex       string     `yaml:"regex"`
	Confidence  Confidence `yaml:"confidence"`

	compiled *regexp.Regexp
}

type Classification struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []Pattern `yaml:"patterns"`
}

type patternsFile struct {
	Classifications []Classification `yaml:"classifications"`
}

// Finding is one matched pattern in scanned content.
type Finding struct {
	LineNumber     int        `json:"line_number"`
	MatchedContent string     `json:"matched_content"`
	Classification string     `json:"classification"`
	PatternID      string     `json:"pattern_id"`
	Description    string     `json:"description"`
	Confidence     Confidence `json:"confidence"`
}

// Engine scans content against the embedded classification rules.
//
// # Thread Safety
//
// The engine is immutable after NewEngine and safe for concurrent use.
type Engine struct {
	classifiers []Classification
}

// NewEngine parses the embedded rules, compiles every pattern, and sorts
// classifications from highest to lowest priority.
func NewEngine() (*Engine, error) {
	var file patternsFile
	if err := yaml.Unmarshal(ClassificationRules, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded policy file: %w", err)
	}

	for i := range file.Classifications {
		for j := range file.Classifications[i].Patterns {
			p := &file.Classifications[i].Patterns[j]
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("failed to compile pattern %s: %w", p.ID, err)
			}
			p.compiled = re
		}
	}

	sort.Slice(file.Classifications, func(i, j int) bool {
		return file.Classifications[i].Priority > file.Classifications[j].Priority
	})

	return &Engine{classifiers: file.Classifications}, nil
}

// Classify returns the name of the highest-priority classification that
// matches, or "public" when nothing does.
func (e *Engine) Classify(data []byte) string {
	for _, c := range e.classifiers {
		for _, p := range c.Patterns {
			if p.compiled.Match(data) {
				return c.Name
			}
		}
	}
	return "public"
}

// Scan audits content line by line and reports every match with its line
// number. Used by the ingestion pipeline, where detailed feedback beats
// throughput.
func (e *Engine) Scan(content string) []Finding {
	var findings []Finding
	for lineNum, line := range strings.Split(content, "\n") {
		for _, c := range e.classifiers {
			for _, p := range c.Patterns {
				match := p.compiled.FindString(line)
				if match == "" {
					continue
				}
				findings = append(findings, Finding{
					LineNumber:     lineNum + 1,
					MatchedContent: strings.TrimSpace(match),
					Classification: c.Name,
					PatternID:      p.ID,
					Description:    p.Description,
					Confidence:     p.Confidence,
				})
			}
		}
	}
	return findings
}

// Blocking reports whether any finding is a high-confidence secret.
// Ingestion refuses such content outright.
func Blocking(findings []Finding) bool {
	for _, f := range findings {
		if f.Classification == "secret" && f.Confidence == High {
			return true
		}
	}
	return false
}
