package timing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/theaterrun/theater/chain"
	"github.com/theaterrun/theater/chain/inmem"
	"github.com/theaterrun/theater/handler"
	"github.com/theaterrun/theater/hostcall"
	"github.com/theaterrun/theater/id"
	"github.com/theaterrun/theater/permission"
	"github.com/theaterrun/theater/replay"
)

var _ handler.Handler = (*Handler)(nil)

func newTestChain(t *testing.T) *chain.Chain {
	t.Helper()
	c, err := chain.New(context.Background(), id.NewActorID([]byte("timing-test")), inmem.New())
	require.NoError(t, err)
	return c
}

func newHandler(c *chain.Chain, perm *permission.TimingPermissions) *Handler {
	h := New(perm, hostcall.New(hostcall.Live, c, nil))
	h.clock = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	h.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return h
}

func TestNowRecordsHostFunctionEvent(t *testing.T) {
	t.Parallel()
	c := newTestChain(t)
	h := newHandler(c, &permission.TimingPermissions{MaxSleepDurationMS: 1000})

	ts, err := h.Now(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1_700_000_000_000), ts)

	evs, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, "timing/now", evs[0].EventType)
}

func TestSleepDeniedBeyondCeiling(t *testing.T) {
	t.Parallel()
	c := newTestChain(t)
	h := newHandler(c, &permission.TimingPermissions{MaxSleepDurationMS: 100})

	err := h.Sleep(context.Background(), 500)
	require.Error(t, err)

	// Canonical denial shape: the call event, then the
	// permission-denied event.
	evs, listErr := c.List(context.Background())
	require.NoError(t, listErr)
	require.Len(t, evs, 2)
	require.Equal(t, "timing/sleep", evs[0].EventType)
	require.Equal(t, "timing/permission-denied", evs[1].EventType)
}

func TestSleepDeniedBelowFloor(t *testing.T) {
	t.Parallel()
	c := newTestChain(t)
	h := newHandler(c, &permission.TimingPermissions{MaxSleepDurationMS: 1000, MinSleepDurationMS: 10})

	require.Error(t, h.Sleep(context.Background(), 5))
	require.NoError(t, h.Sleep(context.Background(), 50))
}

func TestNoPermissionDeniesEverything(t *testing.T) {
	t.Parallel()
	c := newTestChain(t)
	h := newHandler(c, nil)

	_, err := h.Now(context.Background())
	require.Error(t, err)
	require.Error(t, h.Sleep(context.Background(), 1))
}

// Replaying the same sleep-then-now sequence against the recorded chain
// must reproduce every host-function event hash, since the recorded
// outputs substitute for the clock.
func TestReplayReproducesRecordedHashes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	perm := &permission.TimingPermissions{MaxSleepDurationMS: 1000}

	recChain := newTestChain(t)
	rec := newHandler(recChain, perm)
	require.NoError(t, rec.Sleep(ctx, 50))
	_, err := rec.Now(ctx)
	require.NoError(t, err)

	recorded, err := recChain.List(ctx)
	require.NoError(t, err)

	// Fresh chain for the replay run, under a different actor ID: hashes
	// depend only on event content and order.
	replayChain, err := chain.New(ctx, id.NewActorID([]byte("replay")), inmem.New())
	require.NoError(t, err)
	state := replay.NewState(recorded)
	src := replay.NewSource(state)
	h := New(perm, hostcall.New(hostcall.Replay, replayChain, src))
	h.clock = func() time.Time { return time.UnixMilli(99) } // a different clock must not matter
	h.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	require.NoError(t, h.Sleep(ctx, 50))
	ts, err := h.Now(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1_700_000_000_000), ts)

	replayed, err := replayChain.List(ctx)
	require.NoError(t, err)
	require.Len(t, replayed, len(recorded))
	for i := range recorded {
		require.Equal(t, recorded[i].Hash, replayed[i].Hash, "event %d", i)
	}
}

// A flipped byte in a recorded output is caught at the event's position.
func TestReplayDetectsTamperedOutput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	perm := &permission.TimingPermissions{MaxSleepDurationMS: 1000}

	recChain := newTestChain(t)
	rec := newHandler(recChain, perm)
	require.NoError(t, rec.Sleep(ctx, 50))
	_, err := rec.Now(ctx)
	require.NoError(t, err)

	recorded, err := recChain.List(ctx)
	require.NoError(t, err)
	recorded[1].Data[len(recorded[1].Data)-5] ^= 0x01 // corrupt the now() output

	state := replay.NewState(recorded)
	src := replay.NewSource(state)
	h := New(perm, hostcall.New(hostcall.Replay, nil, src))
	h.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	h.clock = func() time.Time { return time.UnixMilli(99) }

	require.NoError(t, h.Sleep(ctx, 50))
	_, err = h.Now(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, replay.ErrReplayOutputDivergence)
	require.Equal(t, uint32(1), state.MismatchCount())
}
