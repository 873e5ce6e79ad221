package knowledge

import (
	"context"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"roadtest/internal/logging"
)

// Watch re-ingests spreadsheets in dir whenever they are created or
// written. Content hashing makes redundant events harmless. Blocks until
// the context is cancelled.
func (x *TestCaseIndex) Watch(ctx context.Context, dir string) error {
	log := logging.Get(logging.CategoryKnowledge)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}
	log.Infow("watching test case directory", "dir", dir)

	// Editors fire bursts of writes; debounce per path.
	pending := map[string]time.Time{}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			name := strings.ToLower(ev.Name)
			if !strings.HasSuffix(name, ".xlsx") || strings.Contains(name, "~$") {
				continue
			}
			pending[ev.Name] = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnw("watcher error", "err", err)

		case <-ticker.C:
			for path, at := range pending {
				if time.Since(at) < 400*time.Millisecond {
					continue
				}
				delete(pending, path)
				if res, err := x.IngestFile(ctx, path); err != nil {
					log.Warnw("re-ingest failed", "file", path, "err", err)
				} else if !res.Skipped {
					log.Infow("re-ingested", "file", path, "cases", res.Cases)
				}
			}
		}
	}
}
