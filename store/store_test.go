package store_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/theaterrun/theater/chain"
	"github.com/theaterrun/theater/chain/inmem"
	"github.com/theaterrun/theater/events"
	"github.com/theaterrun/theater/id"
	"github.com/theaterrun/theater/store"
)

type noopSender struct{}

func (noopSender) Send(context.Context, any) error { return nil }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	actorID := id.NewActorID([]byte("manifest"))
	c, err := chain.New(ctx, actorID, inmem.New())
	require.NoError(t, err)
	return store.New(actorID, c, noopSender{})
}

func TestStoreStateRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.Nil(t, s.State())

	s.SetState([]byte("hello"))
	require.Equal(t, []byte("hello"), s.State())
}

func TestResourceTableOwnAndDrop(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	rt := s.Resources()

	h := rt.Own("fs-handle", 42)
	v, ok := rt.Get(h)
	require.True(t, ok)
	require.Equal(t, 42, v)

	require.NoError(t, rt.Drop(h))
	_, ok = rt.Get(h)
	require.False(t, ok)

	require.Error(t, rt.Drop(h))
}

func TestResourceTableBorrowedHandlesTracked(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	rt := s.Resources()

	owned := rt.Own("fs-handle", 1)
	borrowed := rt.Borrow("fs-handle", 2)

	pending := rt.BorrowedHandles()
	require.Contains(t, pending, borrowed)
	require.NotContains(t, pending, owned)
}

type extValue struct{ Name string }

func TestExtensionsAreKeyedByType(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, ok := store.Extension[extValue](s)
	require.False(t, ok)

	store.SetExtension(s, extValue{Name: "http-framework"})
	v, ok := store.Extension[extValue](s)
	require.True(t, ok)
	require.Equal(t, "http-framework", v.Name)
}

func TestHasAndRemoveExtension(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.False(t, store.HasExtension[extValue](s))

	store.SetExtension(s, extValue{Name: "http-framework"})
	require.True(t, store.HasExtension[extValue](s))

	v, ok := store.RemoveExtension[extValue](s)
	require.True(t, ok)
	require.Equal(t, "http-framework", v.Name)

	require.False(t, store.HasExtension[extValue](s))
	_, ok = store.RemoveExtension[extValue](s)
	require.False(t, ok)
}

func TestRecordEventAppendsToChain(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	ev, err := s.RecordEvent(ctx, events.RuntimeEvent{Kind: events.RuntimeInit})
	require.NoError(t, err)
	require.Equal(t, "runtime", ev.EventType)

	ok, err := s.HasEventType(ctx, "runtime")
	require.NoError(t, err)
	require.True(t, ok)
}

type fileWritten struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

func TestRecordHandlerEventWrapsUnderKind(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	ev, err := s.RecordHandlerEvent(ctx, "filesystem/write", fileWritten{Path: "/data/x", Bytes: 128})
	require.NoError(t, err)
	require.Equal(t, "handler/filesystem/write", ev.EventType)
}

func TestRecordHostFunctionCallRoundTripsViaSerializableValue(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	ev, err := s.RecordHostFunctionCall(ctx, "random", "bytes", 16, "AAAA")
	require.NoError(t, err)
	require.Equal(t, "random/bytes", ev.EventType)

	var decoded events.HostFunctionCall
	require.NoError(t, decodeEvent(ev, &decoded))
	out, err := decoded.Output.ToJSON()
	require.NoError(t, err)
	require.JSONEq(t, `"AAAA"`, string(out))
}

func TestGetEventsByTypeAndHasEventType(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RecordEvent(ctx, events.RuntimeEvent{Kind: events.RuntimeInit})
	require.NoError(t, err)
	_, err = s.RecordEvent(ctx, events.RuntimeEvent{Kind: events.RuntimeShutdown})
	require.NoError(t, err)
	_, err = s.RecordHandlerEvent(ctx, "tick", map[string]int{"n": 1})
	require.NoError(t, err)

	runtimeEvents, err := s.GetEventsByType(ctx, "runtime")
	require.NoError(t, err)
	require.Len(t, runtimeEvents, 2)

	ok, err := s.HasEventType(ctx, "handler/tick")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.HasEventType(ctx, "handler/never-recorded")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetRecentEventsReturnsNewestFirst(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.RecordHandlerEvent(ctx, "tick", map[string]int{"n": i})
		require.NoError(t, err)
	}

	recent, err := s.GetRecentEvents(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)

	var first, second map[string]int
	require.NoError(t, decodeHandlerData(recent[0], &first))
	require.NoError(t, decodeHandlerData(recent[1], &second))
	require.Equal(t, 4, first["n"])
	require.Equal(t, 3, second["n"])

	all, err := s.GetRecentEvents(ctx, 100)
	require.NoError(t, err)
	require.Len(t, all, 5)
}

func TestGetEventsSinceFiltersByTimestamp(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RecordEvent(ctx, events.RuntimeEvent{Kind: events.RuntimeInit})
	require.NoError(t, err)

	since, err := s.GetEventsSince(ctx, 0)
	require.NoError(t, err)
	require.Len(t, since, 1)

	inFuture, err := s.GetEventsSince(ctx, since[0].Timestamp)
	require.NoError(t, err)
	require.Empty(t, inFuture)
}

func decodeEvent(ev chain.Event, out *events.HostFunctionCall) error {
	return json.Unmarshal(ev.Data, out)
}

func decodeHandlerData(ev chain.Event, out *map[string]int) error {
	var h events.Handler
	if err := json.Unmarshal(ev.Data, &h); err != nil {
		return err
	}
	return json.Unmarshal(h.Data, out)
}
