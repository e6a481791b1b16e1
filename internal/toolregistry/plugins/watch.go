package plugins

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gchuyun/function-server/internal/toolregistry"
)

// Watcher re-runs a Loader against a Registry whenever the tools directory
// changes, debouncing bursts of events (a manifest edited by a text editor
// fires several) into a single reload.
type Watcher struct {
	loader   *Loader
	registry *toolregistry.Registry
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending bool
}

// NewWatcher starts watching loader's directory, adding every subdirectory
// so that new manifest directories are picked up without a restart.
func NewWatcher(loader *Loader, registry *toolregistry.Registry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		loader:   loader,
		registry: registry,
		watcher:  fsw,
		debounce: 500 * time.Millisecond,
	}

	if err := filepath.WalkDir(loader.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	}); err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// Run reloads once immediately, then watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	w.reload()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.mu.Lock()
				w.pending = true
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("plugins: watcher error: %v", err)

		case <-ticker.C:
			w.mu.Lock()
			due := w.pending
			w.pending = false
			w.mu.Unlock()
			if due {
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	tools, errs := w.loader.Load()
	for _, err := range errs {
		log.Printf("plugins: %v", err)
	}
	for _, t := range tools {
		w.registry.Register(t)
	}
	log.Printf("plugins: loaded %d tool(s) from %s", len(tools), w.loader.dir)
}
