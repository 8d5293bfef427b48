package hostcall_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/theaterrun/theater/chain"
	"github.com/theaterrun/theater/chain/inmem"
	"github.com/theaterrun/theater/hostcall"
	"github.com/theaterrun/theater/id"
)

func newTestChain(t *testing.T) *chain.Chain {
	t.Helper()
	ctx := context.Background()
	actorID := id.NewActorID([]byte("manifest"))
	c, err := chain.New(ctx, actorID, inmem.New())
	require.NoError(t, err)
	return c
}

func TestLiveCallRecordsCallAndResult(t *testing.T) {
	t.Parallel()

	c := newTestChain(t)
	ic := hostcall.New(hostcall.Live, c, nil)

	out, err := ic.Call(context.Background(), "filesystem", "read-file", map[string]string{"path": "/tmp/x"},
		nil,
		func(ctx context.Context) (json.RawMessage, error) {
			return json.RawMessage(`"contents"`), nil
		})
	require.NoError(t, err)
	require.JSONEq(t, `"contents"`, string(out))

	evs, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, "filesystem/read-file", evs[0].EventType)
}

func TestPermissionDenialShortCircuitsExec(t *testing.T) {
	t.Parallel()

	c := newTestChain(t)
	ic := hostcall.New(hostcall.Live, c, nil)

	executed := false
	_, err := ic.Call(context.Background(), "filesystem", "write-file", nil,
		func() error { return errors.New("write not permitted") },
		func(ctx context.Context) (json.RawMessage, error) {
			executed = true
			return nil, nil
		})
	require.Error(t, err)
	require.False(t, executed)
}

type fakeSource struct {
	calls []hostcall.RecordedCall
	i     int
}

func (f *fakeSource) Next(ctx context.Context, iface, function string) (hostcall.RecordedCall, error) {
	if f.i >= len(f.calls) {
		return hostcall.RecordedCall{}, errors.New("exhausted")
	}
	rec := f.calls[f.i]
	f.i++
	return rec, nil
}

func TestReplayReturnsRecordedOutputWithoutExecuting(t *testing.T) {
	t.Parallel()

	src := &fakeSource{calls: []hostcall.RecordedCall{
		{Interface: "random", Function: "bytes", Input: json.RawMessage(`16`), Output: json.RawMessage(`"AAAA"`)},
	}}
	ic := hostcall.New(hostcall.Replay, nil, src)

	executed := false
	out, err := ic.Call(context.Background(), "random", "bytes", 16, nil,
		func(ctx context.Context) (json.RawMessage, error) {
			executed = true
			return nil, nil
		})
	require.NoError(t, err)
	require.False(t, executed)
	require.JSONEq(t, `"AAAA"`, string(out))
}

func TestReplayDivergenceOnInputMismatch(t *testing.T) {
	t.Parallel()

	src := &fakeSource{calls: []hostcall.RecordedCall{
		{Interface: "random", Function: "bytes", Input: json.RawMessage(`16`), Output: json.RawMessage(`"AAAA"`)},
	}}
	ic := hostcall.New(hostcall.Replay, nil, src)

	_, err := ic.Call(context.Background(), "random", "bytes", 32, nil,
		func(ctx context.Context) (json.RawMessage, error) { return nil, nil })
	require.Error(t, err)
}
