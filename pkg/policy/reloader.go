package policy

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Reloader watches a policy file and swaps in a freshly parsed config when it
// changes. Swaps happen between commands only: each command captures the
// engine once via Current() and evaluates against that snapshot for its whole
// transaction, so a reload can never take effect mid-command.
type Reloader struct {
	path     string
	engine   atomic.Pointer[Engine]
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	debounce time.Duration
	timer    *time.Timer
	stopCh   chan struct{}
}

// NewReloader loads the policy file at path and starts watching it
func NewReloader(path string, logger zerolog.Logger) (*Reloader, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create policy watcher: %w", err)
	}

	r := &Reloader{
		path:     path,
		watcher:  watcher,
		logger:   logger,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}
	r.engine.Store(NewEngine(cfg))

	// Watch the directory rather than the file so editors that replace the
	// file on save keep being observed.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch policy file: %w", err)
	}

	go r.run()

	logger.Info().Str("path", path).Msg("Policy reloader started")
	return r, nil
}

// Current returns the engine for the most recently loaded config. The
// returned engine is immutable; callers hold it for the whole command.
func (r *Reloader) Current() *Engine {
	return r.engine.Load()
}

// Stop stops watching the policy file
func (r *Reloader) Stop() error {
	close(r.stopCh)
	return r.watcher.Close()
}

func (r *Reloader) run() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				r.scheduleReload()
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error().Err(err).Msg("Policy watcher error")

		case <-r.stopCh:
			return
		}
	}
}

// scheduleReload debounces bursts of editor events into one reload
func (r *Reloader) scheduleReload() {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, r.reload)
}

// reload parses the file again. A file that fails to parse keeps the last
// good config in place; the gateway never evaluates against a broken policy.
func (r *Reloader) reload() {
	cfg, err := LoadConfig(r.path)
	if err != nil {
		r.logger.Error().Err(err).Str("path", r.path).Msg("Policy reload failed, keeping previous config")
		return
	}
	r.engine.Store(NewEngine(cfg))
	r.logger.Info().Str("path", r.path).Msg("Policy config reloaded")
}
