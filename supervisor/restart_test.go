package supervisor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/theaterrun/theater/id"
	"github.com/theaterrun/theater/supervisor"
)

func fastPolicy() supervisor.RestartPolicy {
	return supervisor.RestartPolicy{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestRestartWithBackoffSucceedsEventually(t *testing.T) {
	t.Parallel()

	childID := id.NewActorID([]byte("child"))
	attempts := 0
	restart := func(ctx context.Context, id id.ActorID) error {
		attempts++
		if attempts < 2 {
			return errors.New("component not yet reachable")
		}
		return nil
	}

	err := supervisor.RestartWithBackoff(context.Background(), fastPolicy(), childID, restart)
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

func TestRestartWithBackoffExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	childID := id.NewActorID([]byte("child"))
	attempts := 0
	restart := func(ctx context.Context, id id.ActorID) error {
		attempts++
		return errors.New("permanent failure")
	}

	err := supervisor.RestartWithBackoff(context.Background(), fastPolicy(), childID, restart)
	require.Error(t, err)
	require.Equal(t, int(fastPolicy().MaxRetries)+1, attempts)
}

func TestNotifyTriggersRestartOnExitError(t *testing.T) {
	t.Parallel()

	parentID := id.NewActorID([]byte("parent"))
	childID := id.NewActorID([]byte("child"))
	caller := &fakeCaller{exports: map[string]bool{"handle-child-error": true}}
	n := supervisor.NewNotifier(func(p id.ActorID) (supervisor.ExportCaller, bool) {
		return caller, true
	})

	restarted := false
	n.SetRestartPolicy(fastPolicy(), func(ctx context.Context, cid id.ActorID) error {
		restarted = cid == childID
		return nil
	})

	err := n.Notify(context.Background(), parentID, supervisor.ChildExit{ChildID: childID, Reason: supervisor.ExitError})
	require.NoError(t, err)
	require.True(t, restarted)
	require.Equal(t, []string{"handle-child-error"}, caller.called)
}

func TestNotifyPropagatesExhaustedRestart(t *testing.T) {
	t.Parallel()

	parentID := id.NewActorID([]byte("parent"))
	childID := id.NewActorID([]byte("child"))
	caller := &fakeCaller{exports: map[string]bool{"handle-child-error": true}}
	n := supervisor.NewNotifier(func(p id.ActorID) (supervisor.ExportCaller, bool) {
		return caller, true
	})
	n.SetRestartPolicy(fastPolicy(), func(ctx context.Context, cid id.ActorID) error {
		return errors.New("component permanently gone")
	})

	err := n.Notify(context.Background(), parentID, supervisor.ChildExit{ChildID: childID, Reason: supervisor.ExitError})
	require.Error(t, err)
	require.Empty(t, caller.called)
}
