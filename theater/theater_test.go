package theater_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/theaterrun/theater/chain"
	"github.com/theaterrun/theater/id"
	"github.com/theaterrun/theater/internal/telemetry"
	"github.com/theaterrun/theater/theater"
)

// terminateSeq orders Terminate calls across handles.
var terminateSeq atomic.Int64

type fakeHandle struct {
	id            id.ActorID
	status        theater.Status
	terminated    bool
	terminatedSeq int64
	stateBytes    []byte
}

func (h *fakeHandle) ID() id.ActorID                 { return h.id }
func (h *fakeHandle) Pause(context.Context) error    { h.status = theater.StatusPaused; return nil }
func (h *fakeHandle) Resume(context.Context) error   { h.status = theater.StatusRunning; return nil }
func (h *fakeHandle) Stop(context.Context) error      { h.status = theater.StatusStopped; return nil }
func (h *fakeHandle) Terminate(context.Context) error {
	h.terminated = true
	h.terminatedSeq = terminateSeq.Add(1)
	return nil
}
func (h *fakeHandle) Status() theater.Status          { return h.status }
func (h *fakeHandle) State(context.Context) ([]byte, error) { return h.stateBytes, nil }
func (h *fakeHandle) ChainEvents(context.Context) ([]chain.Event, error) {
	return []chain.Event{{EventType: "wasm"}}, nil
}
func (h *fakeHandle) Metrics(context.Context) (theater.ActorMetrics, error) {
	return theater.ActorMetrics{OperationCount: 1, SuccessCount: 1}, nil
}

func newTestRuntime(t *testing.T) (*theater.Runtime, map[id.ActorID]*fakeHandle) {
	t.Helper()
	handles := make(map[id.ActorID]*fakeHandle)
	rt := theater.New(telemetry.NoopLogger{}, telemetry.NoopMetrics{}, func(ctx context.Context, req theater.SpawnRequest) (theater.ActorHandle, error) {
		h := &fakeHandle{id: req.Self, status: theater.StatusRunning, stateBytes: req.StateBytes}
		handles[req.Self] = h
		return h, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go rt.Run(ctx)
	return rt, handles
}

func spawn(t *testing.T, rt *theater.Runtime, manifest []byte, parent *id.ActorID) id.ActorID {
	t.Helper()
	reply := make(chan theater.SpawnResult, 1)
	rt.Commands() <- theater.SpawnActor{ManifestBytes: manifest, ParentID: parent, Reply: reply}
	select {
	case res := <-reply:
		require.NoError(t, res.Err)
		return res.ActorID
	case <-time.After(time.Second):
		t.Fatal("spawn timed out")
		return ""
	}
}

func TestSpawnRegistersActor(t *testing.T) {
	t.Parallel()

	rt, _ := newTestRuntime(t)
	actorID := spawn(t, rt, []byte("manifest-a"), nil)
	require.NotEmpty(t, actorID)

	reply := make(chan []id.ActorID, 1)
	rt.Commands() <- theater.GetActors{Reply: reply}
	actors := <-reply
	require.Contains(t, actors, actorID)
}

func TestTerminateTearsDownChildrenFirst(t *testing.T) {
	t.Parallel()

	rt, handles := newTestRuntime(t)
	parentID := spawn(t, rt, []byte("parent"), nil)
	childID := spawn(t, rt, []byte("child"), &parentID)

	reply := make(chan error, 1)
	rt.Commands() <- theater.TerminateActor{ActorID: parentID, Reply: reply}
	require.NoError(t, <-reply)

	require.True(t, handles[childID].terminated)
	require.True(t, handles[parentID].terminated)
	require.Less(t, handles[childID].terminatedSeq, handles[parentID].terminatedSeq)
}

func TestResumeActorSeedsStateBytes(t *testing.T) {
	t.Parallel()

	rt, handles := newTestRuntime(t)
	reply := make(chan theater.SpawnResult, 1)
	rt.Commands() <- theater.ResumeActor{ManifestBytes: []byte("m"), StateBytes: []byte{1, 2, 3}, Reply: reply}
	res := <-reply
	require.NoError(t, res.Err)
	require.Equal(t, []byte{1, 2, 3}, handles[res.ActorID].stateBytes)
}

func TestGetActorStateEventsManifestMetrics(t *testing.T) {
	t.Parallel()

	rt, _ := newTestRuntime(t)
	actorID := spawn(t, rt, []byte("manifest-a"), nil)

	stateReply := make(chan (struct {
		Data []byte
		Err  error
	}), 1)
	rt.Commands() <- theater.GetActorState{ActorID: actorID, Reply: stateReply}
	require.NoError(t, (<-stateReply).Err)

	eventsReply := make(chan (struct {
		Events []chain.Event
		Err    error
	}), 1)
	rt.Commands() <- theater.GetActorEvents{ActorID: actorID, Reply: eventsReply}
	evRes := <-eventsReply
	require.NoError(t, evRes.Err)
	require.NotEmpty(t, evRes.Events)

	manifestReply := make(chan (struct {
		ManifestBytes []byte
		Err           error
	}), 1)
	rt.Commands() <- theater.GetActorManifest{ActorID: actorID, Reply: manifestReply}
	mRes := <-manifestReply
	require.NoError(t, mRes.Err)
	require.Equal(t, []byte("manifest-a"), mRes.ManifestBytes)

	metricsReply := make(chan (struct {
		Metrics theater.ActorMetrics
		Err     error
	}), 1)
	rt.Commands() <- theater.GetActorMetrics{ActorID: actorID, Reply: metricsReply}
	metRes := <-metricsReply
	require.NoError(t, metRes.Err)
	require.Equal(t, 1, metRes.Metrics.OperationCount)
}

func TestSubscribeToActorReceivesEvents(t *testing.T) {
	t.Parallel()

	rt, _ := newTestRuntime(t)
	actorID := spawn(t, rt, []byte("manifest-a"), nil)

	subReply := make(chan (<-chan chain.Event), 1)
	rt.Commands() <- theater.SubscribeToActor{ActorID: actorID, Reply: subReply}
	sub := <-subReply
	require.NotNil(t, sub)

	rt.Commands() <- theater.NewEvent{ActorID: actorID, Event: chain.Event{EventType: "wasm"}}

	select {
	case ev := <-sub:
		require.Equal(t, "wasm", ev.EventType)
	case <-time.After(time.Second):
		t.Fatal("did not receive fanned-out event")
	}
}
