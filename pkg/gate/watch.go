package gate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/portal/pkg/observability"
)

// WatchRouteTable reloads table whenever the file at path changes, until
// ctx is done. A file that fails to parse is logged and the previous table
// stays in effect. The directory is watched so editors that replace the
// file by rename are handled.
func WatchRouteTable(ctx context.Context, path string, table *RouteTable, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve route table path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	log := logger.WithField("routes_file", abs)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			data, err := os.ReadFile(abs)
			if err == nil && len(bytes.TrimSpace(data)) == 0 {
				// Truncated mid-write; the next event carries the content.
				continue
			}
			var next *RouteTable
			if err == nil {
				next, err = ParseRouteTable(data)
			}
			if err != nil {
				log.WithError(err).Error("Route table reload failed; keeping previous routes")
				continue
			}
			table.Replace(next)
			log.WithField("routes", table.Len()).Info("Route table reloaded")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("Route table watcher error")
		}
	}
}
