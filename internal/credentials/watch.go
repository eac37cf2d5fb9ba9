// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credentials

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// FILE WATCHER
// =============================================================================

// DefaultDebounce is how long Watch waits after the last change before
// re-hydrating.
const DefaultDebounce = 100 * time.Millisecond

// Watch re-hydrates the manager whenever the state file at path changes, so
// a sign-in from another palaver process applies to this process's next
// turn. It blocks until ctx is done.
//
// The parent directory is watched because atomic writes replace the file
// by rename.
func (m *Manager) Watch(ctx context.Context, path string, debounce time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	target := filepath.Clean(path)
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			timer.Reset(debounce)

		case <-timer.C:
			if err := m.Hydrate(ctx); err != nil {
				m.log.Warn().Err(err).Msg("credential reload failed")
				continue
			}
			m.log.Info().Msg("credentials reloaded")

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.log.Warn().Err(err).Msg("credential watcher error")
		}
	}
}
