package replay_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/theaterrun/theater/chain"
	"github.com/theaterrun/theater/chain/inmem"
	"github.com/theaterrun/theater/component"
	"github.com/theaterrun/theater/events"
	"github.com/theaterrun/theater/handler"
	"github.com/theaterrun/theater/hostcall"
	"github.com/theaterrun/theater/id"
	"github.com/theaterrun/theater/replay"
	"github.com/theaterrun/theater/store"
)

// The replay engine is itself a handler, prepended to the registry.
var _ handler.Handler = (*replay.Handler)(nil)

// fakeLinker captures registered host functions instead of wiring a real
// wazero module, so the test can invoke stubs the way a guest would.
type fakeLinker struct {
	mods map[string]map[string]component.HostFunc
}

func newFakeLinker() *fakeLinker {
	return &fakeLinker{mods: make(map[string]map[string]component.HostFunc)}
}

func (l *fakeLinker) NewHostModule(interfaceName string) component.HostModuleBuilder {
	if l.mods[interfaceName] == nil {
		l.mods[interfaceName] = make(map[string]component.HostFunc)
	}
	return &fakeBuilder{fns: l.mods[interfaceName]}
}

type fakeBuilder struct {
	fns map[string]component.HostFunc
}

func (b *fakeBuilder) ExportFunction(name string, fn component.HostFunc) component.HostModuleBuilder {
	b.fns[name] = fn
	return b
}

func (b *fakeBuilder) Instantiate(ctx context.Context) error { return nil }

type fakeModule struct{ mem []byte }

func (m fakeModule) Memory() []byte { return m.mem }

// fakeInstance is a deterministic guest: behavior is invoked for each
// export call, typically calling back into the captured host stubs the
// way real guest code calls its imports.
type fakeInstance struct {
	exports  map[string]bool
	behavior func(ctx context.Context, name string, state []byte, args []uint64) ([]byte, []uint64, error)
}

func (i *fakeInstance) HasExport(name string) bool { return i.exports[name] }

func (i *fakeInstance) Call(ctx context.Context, name string, state []byte, args ...uint64) ([]byte, []uint64, error) {
	return i.behavior(ctx, name, state, args)
}

func (i *fakeInstance) Close(ctx context.Context) error { return nil }

// recordLiveRun produces the chain a deterministic actor would record:
// an init invocation bracketed by WasmCall/WasmResult, with one
// intercepted timing/now host call in between.
func recordLiveRun(t *testing.T) []chain.Event {
	t.Helper()
	ctx := context.Background()
	c, err := chain.New(ctx, id.NewActorID([]byte("recording")), inmem.New())
	require.NoError(t, err)

	_, err = c.Append(ctx, events.WasmCall{Function: "init", ParamsBytes: []byte{}})
	require.NoError(t, err)

	ic := hostcall.New(hostcall.Live, c, nil)
	_, err = ic.Call(ctx, "timing", "now", nil, nil,
		func(ctx context.Context) (json.RawMessage, error) {
			return json.Marshal(int64(1_700_000_000_000))
		})
	require.NoError(t, err)

	_, err = c.Append(ctx, events.WasmResult{Function: "init", ResultBytes: []byte{}})
	require.NoError(t, err)

	recorded, err := c.List(ctx)
	require.NoError(t, err)
	return recorded
}

func TestHandlerReplaysRecordedRunWithIdenticalHashes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	recorded := recordLiveRun(t)

	h := replay.NewHandler(recorded)
	require.Equal(t, []string{"timing"}, h.Imports())

	replayChain, err := chain.New(ctx, id.NewActorID([]byte("replay")), inmem.New())
	require.NoError(t, err)
	st := store.New(id.ActorID("replayed-actor"), replayChain, nil)

	linker := newFakeLinker()
	require.NoError(t, h.SetupHostFunctions(ctx, linker, st))
	require.Contains(t, linker.mods, "timing")
	require.Contains(t, linker.mods["timing"], "now")

	inst := &fakeInstance{
		exports: map[string]bool{"init": true},
		behavior: func(ctx context.Context, name string, state []byte, args []uint64) ([]byte, []uint64, error) {
			// The guest's init calls timing/now, exactly as recorded.
			stack := make([]uint64, 1)
			linker.mods["timing"]["now"](ctx, fakeModule{}, stack)
			return state, nil, nil
		},
	}
	require.NoError(t, h.AddExportFunctions(ctx, inst, st))
	require.NoError(t, h.Start(ctx, st))

	replayed, err := replayChain.List(ctx)
	require.NoError(t, err)
	// The replayed chain is the recorded run plus the trailing summary.
	require.Len(t, replayed, len(recorded)+1)
	for i := range recorded {
		require.Equal(t, recorded[i].Hash, replayed[i].Hash, "event %d", i)
	}

	last := replayed[len(replayed)-1]
	require.Equal(t, "replay-summary", last.EventType)
	var summary events.ReplaySummary
	require.NoError(t, json.Unmarshal(last.Data, &summary))
	require.Equal(t, events.ReplayMatched, summary.Status)
	require.Equal(t, len(recorded), summary.Total)
	require.Zero(t, h.State().MismatchCount())
}

func TestHandlerReportsDivergenceOnTamperedRecording(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	recorded := recordLiveRun(t)

	// Flip one byte in the recorded now() output.
	recorded[1].Data[len(recorded[1].Data)-5] ^= 0x01

	h := replay.NewHandler(recorded)
	replayChain, err := chain.New(ctx, id.NewActorID([]byte("replay")), inmem.New())
	require.NoError(t, err)
	st := store.New(id.ActorID("replayed-actor"), replayChain, nil)

	linker := newFakeLinker()
	require.NoError(t, h.SetupHostFunctions(ctx, linker, st))
	inst := &fakeInstance{
		exports: map[string]bool{"init": true},
		behavior: func(ctx context.Context, name string, state []byte, args []uint64) ([]byte, []uint64, error) {
			stack := make([]uint64, 1)
			linker.mods["timing"]["now"](ctx, fakeModule{}, stack)
			return state, nil, nil
		},
	}
	require.NoError(t, h.AddExportFunctions(ctx, inst, st))
	require.NoError(t, h.Start(ctx, st))

	require.Equal(t, uint32(1), h.State().MismatchCount())

	replayed, err := replayChain.List(ctx)
	require.NoError(t, err)
	last := replayed[len(replayed)-1]
	var summary events.ReplaySummary
	require.NoError(t, json.Unmarshal(last.Data, &summary))
	require.Equal(t, events.ReplayDiverged, summary.Status)
}

func TestHandlerDrivesInitOnlyOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, err := chain.New(ctx, id.NewActorID([]byte("recording")), inmem.New())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = c.Append(ctx, events.WasmCall{Function: "init", ParamsBytes: []byte{}})
		require.NoError(t, err)
		_, err = c.Append(ctx, events.WasmResult{Function: "init", ResultBytes: []byte{}})
		require.NoError(t, err)
	}
	recorded, err := c.List(ctx)
	require.NoError(t, err)

	h := replay.NewHandler(recorded)
	replayChain, err := chain.New(ctx, id.NewActorID([]byte("replay")), inmem.New())
	require.NoError(t, err)
	st := store.New(id.ActorID("replayed-actor"), replayChain, nil)

	var calls int
	inst := &fakeInstance{
		exports: map[string]bool{"init": true},
		behavior: func(ctx context.Context, name string, state []byte, args []uint64) ([]byte, []uint64, error) {
			calls++
			return state, nil, nil
		},
	}
	require.NoError(t, h.SetupHostFunctions(ctx, newFakeLinker(), st))
	require.NoError(t, h.AddExportFunctions(ctx, inst, st))
	require.NoError(t, h.Start(ctx, st))
	require.Equal(t, 1, calls)
}
