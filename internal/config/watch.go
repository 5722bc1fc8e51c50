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

package config

import (
	"context"
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// WatchCWLProcessesDir watches weaver.cwl_processes_dir for new or changed
// `.cwl`/`.yml`/`.yaml` files and invokes onChange with the changed path.
// It is the watch described in SPEC_FULL.md §4.15; cmd/weaverd does not
// start it. Blocks until ctx is cancelled.
func WatchCWLProcessesDir(ctx context.Context, dir string, logger *slog.Logger, onChange func(path string)) error {
	if dir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !isCWLFile(ev.Name) {
				continue
			}
			logger.Info("cwl_processes_dir change detected", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			onChange(ev.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("cwl_processes_dir watch error", slog.Any("error", err))
		}
	}
}

func isCWLFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".cwl") || strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml")
}
