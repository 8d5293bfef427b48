package supervisor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/theaterrun/theater/chain"
	"github.com/theaterrun/theater/chain/inmem"
	"github.com/theaterrun/theater/handler"
	"github.com/theaterrun/theater/hostcall"
	"github.com/theaterrun/theater/id"
	"github.com/theaterrun/theater/permission"
	"github.com/theaterrun/theater/theater"
)

var _ handler.Handler = (*Handler)(nil)

// fakeRuntime services theater commands the way the real runtime's
// single goroutine would, synchronously, recording what it was asked.
type fakeRuntime struct {
	children map[id.ActorID][]id.ActorID
	states   map[id.ActorID][]byte
	manifest map[id.ActorID][]byte
	stopped  []id.ActorID
	spawned  [][]byte
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		children: make(map[id.ActorID][]id.ActorID),
		states:   make(map[id.ActorID][]byte),
		manifest: make(map[id.ActorID][]byte),
	}
}

func (f *fakeRuntime) Send(ctx context.Context, cmd any) error {
	switch c := cmd.(type) {
	case theater.SpawnActor:
		f.spawned = append(f.spawned, c.ManifestBytes)
		child := id.NewActorID(c.ManifestBytes)
		if c.ParentID != nil {
			f.children[*c.ParentID] = append(f.children[*c.ParentID], child)
		}
		f.manifest[child] = c.ManifestBytes
		c.Reply <- theater.SpawnResult{ActorID: child}
	case theater.ResumeActor:
		child := id.NewActorID(c.ManifestBytes)
		f.states[child] = c.StateBytes
		c.Reply <- theater.SpawnResult{ActorID: child}
	case theater.ListChildren:
		c.Reply <- f.children[c.ParentID]
	case theater.StopActor:
		f.stopped = append(f.stopped, c.ActorID)
		c.Reply <- nil
	case theater.GetActorState:
		data, ok := f.states[c.ActorID]
		var err error
		if !ok {
			err = fmt.Errorf("actor %s not found", c.ActorID)
		}
		c.Reply <- struct {
			Data []byte
			Err  error
		}{Data: data, Err: err}
	case theater.GetActorManifest:
		m, ok := f.manifest[c.ActorID]
		var err error
		if !ok {
			err = fmt.Errorf("actor %s not found", c.ActorID)
		}
		c.Reply <- struct {
			ManifestBytes []byte
			Err           error
		}{ManifestBytes: m, Err: err}
	case theater.GetActorEvents:
		c.Reply <- struct {
			Events []chain.Event
			Err    error
		}{}
	default:
		return fmt.Errorf("unexpected command %T", cmd)
	}
	return nil
}

func newHandler(t *testing.T, perm *permission.SupervisorPermissions) (*Handler, *fakeRuntime, *chain.Chain) {
	t.Helper()
	c, err := chain.New(context.Background(), id.NewActorID([]byte("sup-test")), inmem.New())
	require.NoError(t, err)
	rt := newFakeRuntime()
	h := New(perm, hostcall.New(hostcall.Live, c, nil))
	h.self = id.ActorID("parent-actor")
	h.tx = rt
	return h, rt, c
}

func TestSpawnRoutesToTheaterAndRecords(t *testing.T) {
	t.Parallel()
	h, rt, c := newHandler(t, &permission.SupervisorPermissions{})

	child, err := h.Spawn(context.Background(), []byte("child manifest"))
	require.NoError(t, err)
	require.NotEmpty(t, child)
	require.Len(t, rt.spawned, 1)

	evs, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, "supervisor/spawn", evs[0].EventType)
}

func TestSpawnDeniedWithoutCapability(t *testing.T) {
	t.Parallel()
	h, rt, c := newHandler(t, nil)

	_, err := h.Spawn(context.Background(), []byte("child manifest"))
	require.Error(t, err)
	require.Empty(t, rt.spawned)

	evs, listErr := c.List(context.Background())
	require.NoError(t, listErr)
	require.Len(t, evs, 2)
	require.Equal(t, "supervisor/spawn", evs[0].EventType)
	require.Equal(t, "supervisor/permission-denied", evs[1].EventType)
}

func TestListChildrenAfterSpawns(t *testing.T) {
	t.Parallel()
	h, _, _ := newHandler(t, &permission.SupervisorPermissions{})
	ctx := context.Background()

	a, err := h.Spawn(ctx, []byte("child a"))
	require.NoError(t, err)
	b, err := h.Spawn(ctx, []byte("child b"))
	require.NoError(t, err)

	children, err := h.ListChildren(ctx)
	require.NoError(t, err)
	require.Equal(t, []id.ActorID{a, b}, children)
}

func TestStopChild(t *testing.T) {
	t.Parallel()
	h, rt, _ := newHandler(t, &permission.SupervisorPermissions{})
	ctx := context.Background()

	child, err := h.Spawn(ctx, []byte("child"))
	require.NoError(t, err)
	require.NoError(t, h.StopChild(ctx, child))
	require.Equal(t, []id.ActorID{child}, rt.stopped)
}

func TestRestartChildStopsAndRespawnsSameManifest(t *testing.T) {
	t.Parallel()
	h, rt, _ := newHandler(t, &permission.SupervisorPermissions{})
	ctx := context.Background()

	child, err := h.Spawn(ctx, []byte("child manifest"))
	require.NoError(t, err)

	replacement, err := h.RestartChild(ctx, child)
	require.NoError(t, err)
	require.NotEmpty(t, replacement)
	require.Equal(t, []id.ActorID{child}, rt.stopped)
	require.Len(t, rt.spawned, 2)
	require.Equal(t, rt.spawned[0], rt.spawned[1])
}

func TestGetChildStateRoundTrip(t *testing.T) {
	t.Parallel()
	h, _, _ := newHandler(t, &permission.SupervisorPermissions{})
	ctx := context.Background()

	child, err := h.Resume(ctx, []byte("child manifest"), []byte{1, 2, 3})
	require.NoError(t, err)

	state, err := h.GetChildState(ctx, child)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, state)
}
