package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/opgate/opgate/internal/dispatch"
	"github.com/opgate/opgate/internal/policy"
)

// Reloader watches policy sources and hot-swaps the dispatcher's registry
// when they change. A load failure keeps the previous registry active, so a
// half-saved edit can never open the gateway wider than the last good policy.
type Reloader struct {
	watcher    *fsnotify.Watcher
	dispatcher *dispatch.Dispatcher
	sources    []string
	log        *zap.Logger
}

// NewReloader creates a watcher over the given policy sources.
func NewReloader(d *dispatch.Dispatcher, sources []string, log *zap.Logger) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("server: create file watcher: %w", err)
	}
	for _, p := range sources {
		if _, err := os.Stat(p); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("server: watch %q: %w", p, err)
		}
		if err := watcher.Add(p); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("server: watch %q: %w", p, err)
		}
	}
	return &Reloader{
		watcher:    watcher,
		dispatcher: d,
		sources:    sources,
		log:        log.Named("reload"),
	}, nil
}

// Run blocks until ctx is cancelled, reloading after changes settle.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	// Editors fire several events per save; wait for the burst to settle.
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, r.reload)
				// Some editors replace the file; re-add so we keep watching.
				_ = r.watcher.Add(event.Name)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (r *Reloader) reload() {
	reg, warnings, err := policy.Load(r.sources)
	if err != nil {
		r.log.Error("policy reload failed, keeping previous registry", zap.Error(err))
		return
	}
	for _, w := range warnings {
		r.log.Warn("policy load warning", zap.String("warning", w.String()))
	}
	r.dispatcher.Reload(reg)
}
