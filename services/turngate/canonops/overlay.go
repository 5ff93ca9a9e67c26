// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package canonops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

// overlayDebounceWindow coalesces bursts of write events from editors and
// atomic-rename writers before reloading.
const overlayDebounceWindow = 100 * time.Millisecond

// OverlayProvider serves the current canon overlay.
//
// # Description
//
// The overlay lives in a JSON file and is hot reloaded on change: the
// enforcer always reads a consistent snapshot through an atomic pointer,
// never a half-written file. A failed reload keeps the previous snapshot
// (degraded, logged) rather than dropping authority enforcement.
//
// # Thread Safety
//
// Current() may be called from any goroutine.
type OverlayProvider struct {
	path    string
	current atomic.Pointer[datatypes.CanonOverlay]
}

// NewOverlayProvider loads the overlay file and returns a provider.
// An empty path yields a permanently empty overlay (no tombstones, no
// supersessions), which is valid for stores without canon governance.
func NewOverlayProvider(path string) (*OverlayProvider, error) {
	p := &OverlayProvider{path: path}

	empty := &datatypes.CanonOverlay{}
	empty.Seal()
	p.current.Store(empty)

	if path == "" {
		return p, nil
	}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Current returns the active overlay snapshot. Never nil.
func (p *OverlayProvider) Current() *datatypes.CanonOverlay {
	return p.current.Load()
}

// Watch hot reloads the overlay until ctx is cancelled.
//
// The parent directory is watched, not the file itself, so atomic
// rename-into-place updates are observed.
func (p *OverlayProvider) Watch(ctx context.Context) error {
	if p.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create overlay watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch overlay dir: %w", err)
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(p.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(overlayDebounceWindow, func() {
					if err := p.reload(); err != nil {
						slog.Error("overlay reload failed, keeping previous snapshot",
							"path", p.path, "error", err)
						return
					}
					slog.Info("canon overlay reloaded", "path", p.path)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("overlay watcher error", "error", err)
			}
		}
	}()

	return nil
}

func (p *OverlayProvider) reload() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read overlay file: %w", err)
	}

	var overlay datatypes.CanonOverlay
	if err := json.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("parse overlay file: %w", err)
	}
	overlay.Seal()

	p.current.Store(&overlay)
	return nil
}
