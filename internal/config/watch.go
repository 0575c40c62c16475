package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// debounce to avoid partial writes
var watchDebounce = 250 * time.Millisecond

// Watch calls fn with the reloaded config each time the file at path changes
// to valid content. Invalid content is logged and ignored. Watch blocks until
// ctx is done.
func Watch(ctx context.Context, path string, log zerolog.Logger, fn func(Config)) error {
	dir, file := filepath.Dir(path), filepath.Base(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	// The directory is watched so editors that replace the file are seen.
	if err := w.Add(dir); err != nil {
		return err
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
		last  []byte
	)
	if b, err := os.ReadFile(path); err == nil {
		last = b
	}
	reload := func() {
		b, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("config read failed")
			return
		}
		mu.Lock()
		unchanged := bytes.Equal(b, last)
		mu.Unlock()
		if unchanged {
			return
		}
		cfg := Default()
		if err := Parse(b, &cfg); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("config rejected")
			return
		}
		mu.Lock()
		last = b
		mu.Unlock()
		log.Info().Str("path", path).Msg("config reloaded")
		fn(cfg)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	log.Debug().Str("dir", dir).Str("file", file).Msg("config watcher started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, reload)
			mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("dir", dir).Msg("config watch error")
		}
	}
}
