package theater_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/theaterrun/theater/id"
	"github.com/theaterrun/theater/internal/telemetry"
	"github.com/theaterrun/theater/theater"
)

func TestManifestWatcherTriggersReloadOnWrite(t *testing.T) {
	t.Parallel()

	rt, handles := newTestRuntime(t)
	ctx := context.Background()

	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "actor.toml")
	initial := []byte("name = \"counter\"\ncomponent = \"file:///actors/counter-v1.wasm\"\n")
	require.NoError(t, os.WriteFile(manifestPath, initial, 0o644))

	spawnReply := make(chan theater.SpawnResult, 1)
	rt.Commands() <- theater.SpawnActor{ManifestBytes: initial, Reply: spawnReply}
	spawned := <-spawnReply
	require.NoError(t, spawned.Err)
	require.Contains(t, handles, spawned.ActorID)

	watcher, err := theater.NewManifestWatcher(rt.Commands(), telemetry.NoopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = watcher.Close() })
	require.NoError(t, watcher.Watch(spawned.ActorID, manifestPath))

	watchCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go watcher.Run(watchCtx)

	updated := []byte("name = \"counter\"\ncomponent = \"file:///actors/counter-v2.wasm\"\n")
	require.NoError(t, os.WriteFile(manifestPath, updated, 0o644))

	require.Eventually(t, func() bool {
		actors, err := listActors(rt)
		if err != nil {
			return false
		}
		for _, a := range actors {
			if a != spawned.ActorID {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func listActors(rt *theater.Runtime) ([]id.ActorID, error) {
	reply := make(chan []id.ActorID, 1)
	rt.Commands() <- theater.GetActors{Reply: reply}
	return <-reply, nil
}
