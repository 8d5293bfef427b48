package replay_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/theaterrun/theater/chain"
	"github.com/theaterrun/theater/chain/inmem"
	"github.com/theaterrun/theater/events"
	"github.com/theaterrun/theater/id"
	"github.com/theaterrun/theater/replay"
)

// call builds a HostFunctionCall payload from raw JSON input/output, the
// same opaque wrapping the live interceptor path uses.
func call(iface, function string, input, output json.RawMessage) events.HostFunctionCall {
	return events.HostFunctionCall{
		Interface: iface,
		Function:  function,
		Input:     events.OpaqueJSON(input),
		Output:    events.OpaqueJSON(output),
	}
}

// recordedChain appends calls to a fresh chain and returns the
// resulting hash-linked events, exactly as a live run would have
// produced them.
func recordedChain(t *testing.T, calls ...events.HostFunctionCall) []chain.Event {
	t.Helper()
	ctx := context.Background()
	c, err := chain.New(ctx, id.ActorID("replay-test"), inmem.New())
	require.NoError(t, err)
	for _, call := range calls {
		_, err := c.Append(ctx, call)
		require.NoError(t, err)
	}
	evs, err := c.List(ctx)
	require.NoError(t, err)
	return evs
}

func TestSourceReturnsRecordedOutputInOrder(t *testing.T) {
	t.Parallel()

	evs := recordedChain(t,
		call("random", "bytes", json.RawMessage(`16`), json.RawMessage(`"AAAA"`)),
		call("timing", "sleep", json.RawMessage(`100`), json.RawMessage(`null`)),
	)
	state := replay.NewState(evs)
	src := replay.NewSource(state)

	rec, err := src.Next(context.Background(), "random", "bytes")
	require.NoError(t, err)
	require.Equal(t, json.RawMessage(`"AAAA"`), rec.Output)
	require.Equal(t, 1, state.CurrentPosition())

	_, err = src.Next(context.Background(), "timing", "sleep")
	require.NoError(t, err)
	require.True(t, state.IsComplete())
}

func TestSourceDetectsTypeMismatch(t *testing.T) {
	t.Parallel()

	evs := recordedChain(t,
		call("random", "bytes", json.RawMessage(`16`), json.RawMessage(`"AAAA"`)),
	)
	state := replay.NewState(evs)
	src := replay.NewSource(state)

	_, err := src.Next(context.Background(), "timing", "sleep")
	require.ErrorIs(t, err, replay.ErrReplayTypeMismatch)
	require.Equal(t, uint32(1), state.MismatchCount())
}

func TestSourceExhaustion(t *testing.T) {
	t.Parallel()

	state := replay.NewState(nil)
	src := replay.NewSource(state)

	_, err := src.Next(context.Background(), "random", "bytes")
	require.ErrorIs(t, err, replay.ErrReplayExhausted)
}

func TestSummarizeReportsMatchedWhenComplete(t *testing.T) {
	t.Parallel()

	evs := recordedChain(t,
		call("random", "bytes", json.RawMessage(`16`), json.RawMessage(`"AAAA"`)),
	)
	state := replay.NewState(evs)
	src := replay.NewSource(state)
	_, err := src.Next(context.Background(), "random", "bytes")
	require.NoError(t, err)

	summary := state.Summarize()
	require.Equal(t, events.ReplayMatched, summary.Status)
	require.Equal(t, 1, summary.Total)
	require.Equal(t, 1, summary.Matched)
}

func TestSourceDetectsTamperedOutputAtExactPosition(t *testing.T) {
	t.Parallel()

	evs := recordedChain(t,
		call("random", "bytes", json.RawMessage(`16`), json.RawMessage(`"AAAA"`)),
		call("timing", "now", json.RawMessage(`null`), json.RawMessage(`1000`)),
		call("timing", "sleep", json.RawMessage(`50`), json.RawMessage(`null`)),
	)

	// Flip one byte of the second event's recorded output, leaving its
	// stored Hash untouched — exactly what an out-of-band edit of the
	// persisted chain would look like.
	var tampered events.HostFunctionCall
	require.NoError(t, json.Unmarshal(evs[1].Data, &tampered))
	out, err := tampered.Output.ToJSON()
	require.NoError(t, err)
	require.JSONEq(t, `1000`, string(out))
	tampered.Output = events.OpaqueJSON(json.RawMessage(`1001`))
	data, err := events.Encode(tampered)
	require.NoError(t, err)
	evs[1].Data = data

	state := replay.NewState(evs)
	src := replay.NewSource(state)

	_, err = src.Next(context.Background(), "random", "bytes")
	require.NoError(t, err)

	_, err = src.Next(context.Background(), "timing", "now")
	require.ErrorIs(t, err, replay.ErrReplayOutputDivergence)
	require.Contains(t, err.Error(), "position 1")
	require.Equal(t, uint32(1), state.MismatchCount())
}
