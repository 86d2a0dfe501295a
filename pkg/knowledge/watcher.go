// Copyright 2025 Peerex, Ltd.
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

package knowledge

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/peerex/hermod/pkg/config"
)

// Watcher triggers a debounced index refresh when corpus files change.
// FAQ store mutations feed the same debounce through Notify, so a burst
// of staff edits produces one rebuild.
type Watcher struct {
	manager  *Manager
	cfg      *config.KnowledgeConfig
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	kicks    chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	watching bool
}

// NewWatcher creates a Watcher over the manager's configured sources.
func NewWatcher(manager *Manager, cfg *config.KnowledgeConfig, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		manager: manager,
		cfg:     cfg,
		logger:  logger,
		kicks:   make(chan struct{}, 1),
	}
}

// Start begins watching every source directory and its subdirectories.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watching {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher
	w.ctx, w.cancel = context.WithCancel(ctx)

	for _, src := range w.cfg.Sources {
		if err := w.addRecursive(src.Path); err != nil {
			w.watcher.Close()
			w.cancel()
			return err
		}
	}

	w.watching = true
	go w.run()

	w.logger.Info("Started knowledge watcher",
		"sources", len(w.cfg.Sources),
		"debounce", w.cfg.WatchDebounce)
	return nil
}

// Stop stops watching for changes.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watching {
		return nil
	}

	w.cancel()
	w.watching = false
	return w.watcher.Close()
}

// Notify requests a refresh from outside the filesystem, most notably
// the FAQ store change callback. Signals coalesce; a full channel means
// a refresh is already queued.
func (w *Watcher) Notify() {
	select {
	case w.kicks <- struct{}{}:
	default:
	}
}

func (w *Watcher) addRecursive(root string) error {
	if err := w.watcher.Add(root); err != nil {
		return err
	}
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && len(info.Name()) > 0 && info.Name()[0] == '.' {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) run() {
	var debounceTimer *time.Timer
	fire := make(chan struct{}, 1)

	schedule := func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(w.cfg.WatchDebounce, func() {
			select {
			case fire <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-w.ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watcher.Add(event.Name); err != nil {
						w.logger.Warn("Failed to watch new directory",
							"path", event.Name,
							"error", err)
					}
				}
			}
			w.logger.Debug("Corpus change detected",
				"path", event.Name,
				"op", event.Op.String())
			schedule()

		case <-w.kicks:
			schedule()

		case <-fire:
			go w.refresh()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Knowledge watcher error", "error", err)
		}
	}
}

func (w *Watcher) refresh() {
	if err := w.manager.EnsureFresh(w.ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.logger.Error("Automatic index refresh failed", "error", err)
	}
}
