package theater

import (
	"context"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/theaterrun/theater/id"
	"github.com/theaterrun/theater/internal/telemetry"
)

// ManifestWatcher watches a set of on-disk manifest files and issues
// ReloadActorManifest commands when one changes: the file-system-event
// driven path for an operator-triggered "swap and restore" (the only
// reload path theater allows, per spec.md's Non-goals).
type ManifestWatcher struct {
	fsw      *fsnotify.Watcher
	commands chan<- Command
	log      telemetry.Logger

	mu      sync.Mutex
	watched map[string]id.ActorID
}

// NewManifestWatcher starts the underlying fsnotify watcher. Call Run
// to begin dispatching reload commands; call Close (or cancel Run's
// context) to release the OS-level watch.
func NewManifestWatcher(commands chan<- Command, log telemetry.Logger) (*ManifestWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("theater: create manifest watcher: %w", err)
	}
	return &ManifestWatcher{
		fsw:      fsw,
		commands: commands,
		log:      log,
		watched:  make(map[string]id.ActorID),
	}, nil
}

// Watch starts tracking manifestPath on behalf of actorID; a future
// write or recreate of that path triggers a ReloadActorManifest
// command for actorID.
func (w *ManifestWatcher) Watch(actorID id.ActorID, manifestPath string) error {
	w.mu.Lock()
	w.watched[manifestPath] = actorID
	w.mu.Unlock()
	if err := w.fsw.Add(manifestPath); err != nil {
		return fmt.Errorf("theater: watch manifest %s: %w", manifestPath, err)
	}
	return nil
}

// Unwatch stops tracking manifestPath.
func (w *ManifestWatcher) Unwatch(manifestPath string) error {
	w.mu.Lock()
	delete(w.watched, manifestPath)
	w.mu.Unlock()
	return w.fsw.Remove(manifestPath)
}

// Close releases the underlying OS watch.
func (w *ManifestWatcher) Close() error { return w.fsw.Close() }

// Run dispatches ReloadActorManifest commands for every tracked
// manifest change until ctx is canceled or the watcher is closed.
func (w *ManifestWatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.mu.Lock()
			actorID, tracked := w.watched[ev.Name]
			w.mu.Unlock()
			if !tracked {
				continue
			}
			w.dispatchReload(ctx, actorID, ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if w.log != nil {
				w.log.Error(ctx, "manifest watcher error", "error", err)
			}
		}
	}
}

func (w *ManifestWatcher) dispatchReload(ctx context.Context, actorID id.ActorID, manifestPath string) {
	reply := make(chan error, 1)
	select {
	case w.commands <- ReloadActorManifest{ActorID: actorID, ManifestPath: manifestPath, Reply: reply}:
	case <-ctx.Done():
		return
	}
	go func() {
		if err := <-reply; err != nil && w.log != nil {
			w.log.Error(ctx, "manifest reload failed", "actor", string(actorID), "path", manifestPath, "error", err)
		}
	}()
}
