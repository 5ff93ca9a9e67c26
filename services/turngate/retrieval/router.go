// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"net/http"
	"strings"

	"github.com/AleutianAI/TurnGate/services/turngate/config"
	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

// Request headers carrying retrieval mode signals.
const (
	HeaderCanonOnly   = "X-Canon-Only"
	HeaderThreadsOnly = "X-Threads-Only"
	HeaderGoldHunt    = "X-Gold-Hunt"
)

// ModeSignals are the caller's retrieval mode flags for one turn.
type ModeSignals struct {
	// CanonOnly restricts retrieval to the canon store.
	CanonOnly bool

	// ThreadsOnly restricts retrieval to the threads store.
	ThreadsOnly bool

	// GoldHunt forces canon-store retrieval and mandates that the search
	// tool runs before any other tool in the first loop iteration.
	GoldHunt bool
}

// SignalsFromHeader reads the mode flags from request headers. A header is
// a signal when present with any value other than "0" or "false".
func SignalsFromHeader(h http.Header) ModeSignals {
	return ModeSignals{
		CanonOnly:   headerFlag(h, HeaderCanonOnly),
		ThreadsOnly: headerFlag(h, HeaderThreadsOnly),
		GoldHunt:    headerFlag(h, HeaderGoldHunt),
	}
}

func headerFlag(h http.Header, name string) bool {
	v := strings.TrimSpace(h.Get(name))
	if v == "" {
		return false
	}
	switch strings.ToLower(v) {
	case "0", "false", "no", "off":
		return false
	}
	return true
}

// Router resolves mode signals into a retrieval plan against the
// configured stores.
//
// # Description
//
// The router decides WHICH stores a turn consults, before any upstream
// call happens. Contradictory signals fail the whole turn with a 400 and
// zero retrieval or model calls. A requested mode whose store is not
// configured is a configuration error, never a silent empty result.
//
// # Thread Safety
//
// Router is immutable after construction and safe for concurrent use.
type Router struct {
	canon   config.StoreConfig
	threads config.StoreConfig
}

// NewRouter builds a router over the configured canon and threads stores.
func NewRouter(canon, threads config.StoreConfig) *Router {
	return &Router{canon: canon, threads: threads}
}

// Plan resolves the turn's retrieval plan.
//
// # Inputs
//
//   - sig: mode flags parsed from the request headers.
//
// # Outputs
//
//   - datatypes.RetrievalPlan: the resolved plan.
//   - error: *datatypes.TurnError with code mode_conflict or
//     configuration_error.
func (r *Router) Plan(sig ModeSignals) (datatypes.RetrievalPlan, error) {
	// Gold hunt is a canon signal: it forces canon retrieval in addition
	// to search-first ordering.
	wantCanon := sig.CanonOnly || sig.GoldHunt

	if wantCanon && sig.ThreadsOnly {
		return datatypes.RetrievalPlan{}, datatypes.NewModeConflictError()
	}

	searchFirst := sig.CanonOnly || sig.ThreadsOnly || sig.GoldHunt

	switch {
	case wantCanon:
		if !r.canon.Configured() {
			return datatypes.RetrievalPlan{}, datatypes.NewConfigurationError("canon store is not configured")
		}
		return datatypes.RetrievalPlan{
			Mode:        datatypes.RetrievalModeCanon,
			Stores:      []datatypes.StoreSelection{r.selection(r.canon)},
			SearchFirst: searchFirst,
		}, nil

	case sig.ThreadsOnly:
		if !r.threads.Configured() {
			return datatypes.RetrievalPlan{}, datatypes.NewConfigurationError("threads store is not configured")
		}
		return datatypes.RetrievalPlan{
			Mode:        datatypes.RetrievalModeThreads,
			Stores:      []datatypes.StoreSelection{r.selection(r.threads)},
			SearchFirst: searchFirst,
		}, nil
	}

	var stores []datatypes.StoreSelection
	if r.canon.Configured() {
		stores = append(stores, r.selection(r.canon))
	}
	if r.threads.Configured() {
		stores = append(stores, r.selection(r.threads))
	}
	if len(stores) == 0 {
		return datatypes.RetrievalPlan{}, datatypes.NewConfigurationError("no retrieval store is configured")
	}
	return datatypes.RetrievalPlan{
		Mode:        datatypes.RetrievalModeCombined,
		Stores:      stores,
		SearchFirst: searchFirst,
	}, nil
}

func (r *Router) selection(s config.StoreConfig) datatypes.StoreSelection {
	cap := s.Cap
	if cap <= 0 {
		cap = config.DefaultRetrievalCap
	}
	return datatypes.StoreSelection{StoreID: s.ID, Cap: cap}
}

// ClassFor maps a plan's store id back to its Weaviate class. Returns
// false for an id the router does not know.
func (r *Router) ClassFor(storeID string) (string, bool) {
	switch storeID {
	case r.canon.ID:
		return r.canon.Class, true
	case r.threads.ID:
		return r.threads.Class, true
	}
	return "", false
}
