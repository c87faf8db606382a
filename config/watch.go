// Copyright (C) 2026 ssklykov. All Rights Reserved.

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// debounceDelay is how long Watch waits for a burst of file events to settle
// before reloading.
const debounceDelay = 100 * time.Millisecond

// Watch monitors the config file at path, and calls reload with its contents
// each time it is written or replaced. Files that fail to parse are logged and
// skipped. Watch blocks until ctx ends, and returns nil; it reports an error
// only if the file cannot be watched.
//
// Calls to reload are not concurrent, but may occur after Watch returns if a
// reload was already in progress.
func Watch(ctx context.Context, path string, log *zerolog.Logger, reload func(File)) error {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory rather than the file, so that the watch survives
	// editors that replace the file on save.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	name := filepath.Clean(path)

	var μ sync.Mutex
	var debounce *time.Timer
	defer func() {
		μ.Lock()
		defer μ.Unlock()
		if debounce != nil {
			debounce.Stop()
		}
	}()
	load := func() {
		μ.Lock()
		defer μ.Unlock()
		if ctx.Err() != nil {
			return
		}
		fc, err := LoadFile(path)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("config reload failed")
			return
		}
		log.Info().Str("path", path).Msg("config reloaded")
		reload(fc)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			μ.Lock()
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, load)
			μ.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("config watcher error")
		}
	}
}
