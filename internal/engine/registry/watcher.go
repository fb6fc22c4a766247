// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce coalesces bursts of filesystem events (editors often write a
// file, then touch its mtime, then rename a swap file over it) into one
// reload.
const debounce = 250 * time.Millisecond

// Watch reloads the registry from the four registry directories
// whenever any of them changes, until ctx is cancelled. Load errors are
// logged and the previous registry contents are kept in place rather
// than served half-replaced.
func (r *Registry) Watch(ctx context.Context, builtinWorkflowDir, builtinParamDir, userWorkflowDir, userParamDir string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "registry"))

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	for _, dir := range []string{builtinWorkflowDir, builtinParamDir, userWorkflowDir, userParamDir} {
		if dir == "" {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			logger.Warn("cannot watch registry directory", "dir", dir, "error", err)
		}
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	reload := func() {
		if err := r.Load(builtinWorkflowDir, builtinParamDir, userWorkflowDir, userParamDir); err != nil {
			logger.Error("registry reload failed, keeping previous contents", "error", err)
			return
		}
		logger.Info("registry reloaded")
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
			timerC = timer.C
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Error("registry watcher error", "error", err)
		case <-timerC:
			reload()
			timerC = nil
		}
	}
}
