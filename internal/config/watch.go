package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay is how long the file must stay quiet before it is reloaded.
// Saves that truncate and then write fire several events in a row.
var settleDelay = 50 * time.Millisecond

// Watch monitors path and calls onChange with the reloaded Config each time
// the file is written. It runs until ctx is cancelled.
//
// A failed reload is logged and the previous config stays active. An empty
// file is skipped; it is what a truncating save leaves behind before the new
// content lands.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	slog.Info("config: watching for changes", "path", path)

	settle := time.NewTimer(settleDelay)
	if !settle.Stop() {
		<-settle.C
	}
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// editors often save via rename, which surfaces as Create
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !settle.Stop() {
				select {
				case <-settle.C:
				default:
				}
			}
			settle.Reset(settleDelay)

		case <-settle.C:
			// the inode may have been replaced
			_ = watcher.Add(path)

			cfg, err := reload(path)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config", "path", path, "err", err)
				continue
			}
			if cfg == nil {
				slog.Debug("config: file empty, waiting for content", "path", path)
				continue
			}

			slog.Info("config: reloaded", "path", path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

// reload reads path and parses it. It returns nil, nil for an empty or
// whitespace-only file.
func reload(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return Parse(data)
}
