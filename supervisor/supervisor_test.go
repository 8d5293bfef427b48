package supervisor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/theaterrun/theater/id"
	"github.com/theaterrun/theater/supervisor"
)

type fakeCaller struct {
	exports map[string]bool
	called  []string
}

func (c *fakeCaller) HasExport(name string) bool { return c.exports[name] }
func (c *fakeCaller) CallExport(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	c.called = append(c.called, name)
	return nil, nil
}

func TestNotifyDispatchesByReason(t *testing.T) {
	t.Parallel()

	parentID := id.NewActorID([]byte("parent"))
	caller := &fakeCaller{exports: map[string]bool{
		"handle-child-exit":  true,
		"handle-child-error": true,
	}}
	n := supervisor.NewNotifier(func(p id.ActorID) (supervisor.ExportCaller, bool) {
		if p == parentID {
			return caller, true
		}
		return nil, false
	})

	childID := id.NewActorID([]byte("child"))
	require.NoError(t, n.Notify(context.Background(), parentID, supervisor.ChildExit{ChildID: childID, Reason: supervisor.ExitSuccess}))
	require.NoError(t, n.Notify(context.Background(), parentID, supervisor.ChildExit{ChildID: childID, Reason: supervisor.ExitError}))

	require.Equal(t, []string{"handle-child-exit", "handle-child-error"}, caller.called)
}

func TestNotifySkipsUnimplementedExport(t *testing.T) {
	t.Parallel()

	parentID := id.NewActorID([]byte("parent"))
	caller := &fakeCaller{exports: map[string]bool{}}
	n := supervisor.NewNotifier(func(p id.ActorID) (supervisor.ExportCaller, bool) {
		return caller, true
	})

	err := n.Notify(context.Background(), parentID, supervisor.ChildExit{Reason: supervisor.ExitExternalStop})
	require.NoError(t, err)
	require.Empty(t, caller.called)
}

func TestNotifyIgnoresDeadParent(t *testing.T) {
	t.Parallel()

	n := supervisor.NewNotifier(func(p id.ActorID) (supervisor.ExportCaller, bool) {
		return nil, false
	})
	err := n.Notify(context.Background(), id.NewActorID([]byte("gone")), supervisor.ChildExit{})
	require.NoError(t, err)
}
