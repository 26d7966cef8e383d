// Package reload triggers schema reloads: file changes, SIGHUP and Redis
// pub/sub messages. Every trigger runs the same Func; a failed reload
// leaves the active schema serving.
package reload

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Func reloads the schema. source names the trigger for logs.
type Func func(ctx context.Context, source string) error

// Trigger sources.
const (
	SourceStartup = "startup"
	SourceFile    = "file"
	SourceSignal  = "sighup"
	SourceRedis   = "redis"
)

// Watcher reloads when the schema file changes or the process receives
// SIGHUP.
type Watcher struct {
	path   string
	reload Func
	logger zerolog.Logger

	watcher  *fsnotify.Watcher
	signals  chan os.Signal
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher for the schema file at path.
func NewWatcher(path string, reload Func, logger zerolog.Logger) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	return &Watcher{
		path:   absPath,
		reload: reload,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// WatchFile starts watching the schema file for changes.
func (w *Watcher) WatchFile(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	w.watcher = watcher

	// Watch the directory; editors save by replacing the file.
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	w.wg.Add(1)
	go w.watchLoop(ctx)

	w.logger.Info().Str("path", w.path).Msg("watching schema file for changes")
	return nil
}

// WatchSignals starts listening for SIGHUP.
func (w *Watcher) WatchSignals(ctx context.Context) {
	w.signals = make(chan os.Signal, 1)
	signal.Notify(w.signals, syscall.SIGHUP)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer signal.Stop(w.signals)
		for {
			select {
			case <-w.signals:
				w.logger.Info().Msg("received SIGHUP, reloading schema")
				w.run(ctx, SourceSignal)
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	w.logger.Info().Msg("listening for SIGHUP to reload schema")
}

// Stop stops watching and waits for the loops to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
	w.wg.Wait()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()
	filename := filepath.Base(w.path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			// Write, or Create for atomic saves.
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.logger.Debug().
					Str("event", event.Op.String()).
					Str("file", event.Name).
					Msg("schema file changed")
				w.run(ctx, SourceFile)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("file watcher error")

		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) run(ctx context.Context, source string) {
	if err := w.reload(ctx, source); err != nil {
		w.logger.Error().Err(err).Str("source", source).Msg("schema reload failed, keeping active schema")
	}
}
