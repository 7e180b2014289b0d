package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the loader's configuration files and invokes the supplied
// callback with a freshly loaded snapshot whenever one of them changes. Stop
// must be called to release filesystem resources.
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

// Watch wires fsnotify around the configuration files and reloads the full
// snapshot on any relevant change. Snapshots that fail validation are reported
// through onError and never handed to onChange.
func (l *Loader) Watch(ctx context.Context, onChange func(Config), onError func(error)) (*Watcher, error) {
	if onChange == nil {
		return nil, errors.New("config: watch requires a change callback")
	}
	files := l.Files()
	if len(files) == 0 {
		return nil, errors.New("config: no configuration file to watch")
	}

	// last is the baseline for suppressing saves that leave the snapshot
	// unchanged. It is taken before registration so no event is lost after it.
	var last *Config
	if initial, err := l.Load(ctx); err == nil {
		last = &initial
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("config: watch: %w", err)
	}

	targets := make(map[string]struct{}, len(files))
	dirs := map[string]struct{}{}
	for _, path := range files {
		resolved := path
		if abs, err := filepath.Abs(path); err == nil {
			resolved = abs
		}
		resolved = filepath.Clean(resolved)
		targets[resolved] = struct{}{}
		dir := filepath.Dir(resolved)
		if _, ok := dirs[dir]; ok {
			continue
		}
		// Watching the directory survives editors that replace files via rename.
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			cancel()
			return nil, fmt.Errorf("config: watch add %s: %w", dir, err)
		}
		dirs[dir] = struct{}{}
	}

	done := make(chan struct{})
	watch := &Watcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("config: watch close: %w", err))
			}
		}()

		reload := func() {
			cfg, err := l.Load(watchCtx)
			switch {
			case errors.Is(err, context.Canceled):
				return
			case err != nil:
				if onError != nil {
					onError(err)
				}
				return
			case last != nil && reflect.DeepEqual(*last, cfg):
				return
			}
			last = &cfg
			onChange(cfg)
		}

		const debounce = 25 * time.Millisecond
		pending := time.NewTimer(time.Hour)
		pending.Stop()
		defer pending.Stop()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-pending.C:
				reload()
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if _, tracked := targets[filepath.Clean(event.Name)]; !tracked {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					pending.Reset(debounce)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("config: watch error: %w", err))
				}
			}
		}
	}()

	return watch, nil
}
