package replay

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/theaterrun/theater/chain"
	"github.com/theaterrun/theater/component"
	"github.com/theaterrun/theater/events"
	"github.com/theaterrun/theater/store"
)

// Handler is the replay engine in its handler form (spec.md §4.7): it is
// prepended to the actor's handler registry and claims every guest
// import no real handler satisfied, answering each call from the
// recorded chain instead of executing it. Its Start drives the guest's
// exports from the recorded WasmCall events, so a replayed actor runs
// the same sequence of invocations the original did without any
// external caller.
type Handler struct {
	state *State
	src   *Source

	calls      []WasmCallRecord
	interfaces []string
	// stubFns maps each stubbed interface to the functions the recording
	// shows being called on it; the recording is the only function
	// enumeration available, and any function outside it would be a
	// divergence anyway.
	stubFns map[string][]string

	mu       sync.Mutex
	instance component.Instance
}

// NewHandler builds a replay Handler from a recorded chain.
func NewHandler(recorded []chain.Event) *Handler {
	st := NewState(recorded)
	calls, interfaces := st.RecordedCalls()
	stubFns := make(map[string][]string, len(interfaces))
	seen := make(map[string]map[string]bool, len(interfaces))
	for _, ev := range recorded {
		if !isHostFunctionEvent(ev.EventType) {
			continue
		}
		iface, fn, _ := strings.Cut(ev.EventType, "/")
		if fn == "permission-denied" {
			continue
		}
		if seen[iface] == nil {
			seen[iface] = make(map[string]bool)
		}
		if !seen[iface][fn] {
			seen[iface][fn] = true
			stubFns[iface] = append(stubFns[iface], fn)
		}
	}
	return &Handler{
		state:      st,
		src:        NewSource(st),
		calls:      calls,
		interfaces: interfaces,
		stubFns:    stubFns,
	}
}

// State exposes the cursor for callers inspecting replay progress.
func (h *Handler) State() *State { return h.state }

// Name implements handler.Handler.
func (h *Handler) Name() string { return "replay" }

// Imports implements handler.Handler: the interfaces the recording
// shows host calls against. The registry additionally offers this
// handler every import nothing else claimed.
func (h *Handler) Imports() []string { return h.interfaces }

// Exports implements handler.Handler; replay drives exports itself
// rather than expecting new ones.
func (h *Handler) Exports() []string { return nil }

// SetupHostFunctions implements handler.Handler, registering a stub for
// every function the recording shows on each stubbed interface. Each
// stub consumes the next recorded call (divergence-checked by event
// type and position), re-emits the HostFunctionCall event with the
// recorded input and output so the replayed chain reproduces the
// original hashes, and hands the recorded output back to the guest.
//
// Stubs return scalar outputs on the stack when the recorded output is
// a JSON number. Outputs backed by live host resources (file
// descriptors, sockets, pollables) cannot be reconstructed from a
// recording; a guest depending on one diverges downstream, a limitation
// carried from the original (see the package doc).
func (h *Handler) SetupHostFunctions(ctx context.Context, linker component.Linker, actorStore *store.Store) error {
	for iface, fns := range h.stubFns {
		mod := linker.NewHostModule(iface)
		for _, fn := range fns {
			iface, fn := iface, fn
			mod.ExportFunction(fn, func(ctx context.Context, m component.Module, stack []uint64) {
				rec, err := h.src.Next(ctx, iface, fn)
				if err != nil {
					if len(stack) > 0 {
						stack[0] = ^uint64(0)
					}
					return
				}
				_, _ = actorStore.Chain().Append(ctx, events.HostFunctionCall{
					Interface: iface,
					Function:  fn,
					Input:     events.OpaqueJSON(rec.Input),
					Output:    events.OpaqueJSON(rec.Output),
				})
				if len(stack) > 0 {
					stack[0] = scalarOutput(rec.Output)
				}
			})
		}
		if err := mod.Instantiate(ctx); err != nil {
			return fmt.Errorf("replay: instantiate stubs for %s: %w", iface, err)
		}
	}
	return nil
}

// AddExportFunctions implements handler.Handler, capturing the instance
// so Start can drive its exports.
func (h *Handler) AddExportFunctions(ctx context.Context, instance component.Instance, actorStore *store.Store) error {
	h.mu.Lock()
	h.instance = instance
	h.mu.Unlock()
	return nil
}

// Start implements handler.Handler: it drives the recorded export
// invocations against the instance in order, bracketing each with the
// same WasmCall/WasmResult/WasmError events the live runtime loop
// writes, then records the ReplaySummary.
func (h *Handler) Start(ctx context.Context, actorStore *store.Store) error {
	h.mu.Lock()
	inst := h.instance
	h.mu.Unlock()
	if inst == nil {
		return fmt.Errorf("replay: no instance captured; AddExportFunctions must run before Start")
	}

	initDriven := false
	for _, call := range h.calls {
		if call.Function == "init" {
			if initDriven {
				continue
			}
			initDriven = true
		}
		if err := h.driveOne(ctx, actorStore, inst, call); err != nil {
			break
		}
	}

	h.state.skipTail()
	summary := h.state.Summarize()
	if _, err := actorStore.RecordEvent(ctx, summary); err != nil {
		return fmt.Errorf("replay: record summary: %w", err)
	}
	return nil
}

func (h *Handler) driveOne(ctx context.Context, actorStore *store.Store, inst component.Instance, call WasmCallRecord) error {
	_, _ = actorStore.Chain().Append(ctx, events.WasmCall{Function: call.Function, ParamsBytes: call.ParamsBytes})
	args := decodeWords(call.ParamsBytes)
	newState, results, err := inst.Call(ctx, call.Function, actorStore.State(), args...)
	if err != nil {
		_, _ = actorStore.Chain().Append(ctx, events.WasmError{Function: call.Function, Message: err.Error()})
		return err
	}
	actorStore.SetState(newState)
	_, _ = actorStore.Chain().Append(ctx, events.WasmResult{Function: call.Function, ResultBytes: encodeWords(results)})
	return nil
}

// skipTail advances the cursor past trailing events replay does not
// consume (wasm brackets, runtime lifecycle, the original run's own
// summary), so Summarize reports completion rather than a false
// shortfall.
func (s *State) skipTail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.position < len(s.chainEvents) {
		if isHostFunctionEvent(s.chainEvents[s.position].EventType) {
			return
		}
		s.position++
	}
}

// scalarOutput renders a recorded output for the stub's single stack
// slot: a non-negative JSON integer verbatim, a fractional number cut
// to its leading integer digits, anything else 0 (the guest reads
// composite outputs through its own retptr convention, which the thin
// stub does not model).
func scalarOutput(out []byte) uint64 {
	var v uint64
	if _, err := fmt.Sscan(string(out), &v); err == nil {
		return v
	}
	return 0
}

// encodeWords and decodeWords mirror the runtime loop's little-endian
// u64 word layout for params/result bytes, so replayed brackets hash
// identically to recorded ones.
func encodeWords(args []uint64) []byte {
	out := make([]byte, len(args)*8)
	for i, a := range args {
		for b := 0; b < 8; b++ {
			out[i*8+b] = byte(a >> (8 * b))
		}
	}
	return out
}

func decodeWords(b []byte) []uint64 {
	out := make([]uint64, len(b)/8)
	for i := range out {
		for j := 0; j < 8; j++ {
			out[i] |= uint64(b[i*8+j]) << (8 * j)
		}
	}
	return out
}

