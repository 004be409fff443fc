package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the loader's config files and invokes the supplied
// callback with a freshly loaded snapshot whenever they change. Stop must
// be called to release filesystem resources.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// Watch wires fsnotify around the loader's files and reloads the snapshot
// on any relevant change. Editors replace files rather than rewriting them,
// so the parent directories are watched and events are debounced before a
// reload runs. Reload failures go to onError and keep the previous
// snapshot in effect.
func (l *Loader) Watch(ctx context.Context, onChange func(Config), onError func(error)) (*Watcher, error) {
	if onChange == nil {
		return nil, errors.New("config: watch requires a change callback")
	}
	targets := make(map[string]struct{})
	for _, path := range l.files {
		if path == "" {
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("config: resolve %s: %w", path, err)
		}
		targets[filepath.Clean(abs)] = struct{}{}
	}
	if len(targets) == 0 {
		return nil, errors.New("config: no files configured for watching")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watch: %w", err)
	}
	dirs := make(map[string]struct{})
	for target := range targets {
		dir := filepath.Dir(target)
		if _, ok := dirs[dir]; ok {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("config: watch add %s: %w", dir, err)
		}
		dirs[dir] = struct{}{}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w := &Watcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("config: watch close: %w", err))
			}
		}()

		const debounce = 25 * time.Millisecond
		var reloadTimer *time.Timer
		var reloadSignal <-chan time.Time
		scheduleReload := func() {
			if reloadTimer == nil {
				reloadTimer = time.NewTimer(debounce)
			} else {
				if !reloadTimer.Stop() {
					select {
					case <-reloadTimer.C:
					default:
					}
				}
				reloadTimer.Reset(debounce)
			}
			reloadSignal = reloadTimer.C
		}

		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if _, relevant := targets[filepath.Clean(event.Name)]; !relevant {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				scheduleReload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if err != nil && onError != nil {
					onError(fmt.Errorf("config: watch: %w", err))
				}
			case <-reloadSignal:
				reloadSignal = nil
				cfg, err := l.Load(watchCtx)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					if onError != nil {
						onError(err)
					}
					continue
				}
				onChange(cfg)
			}
		}
	}()

	return w, nil
}
