// Package replay implements the replay engine (C12): a handler that,
// instead of executing host calls for real, answers them from a
// previously recorded chain and reports divergence the moment recorded
// and actual calls stop matching.
//
// Grounded on ReplayState/ReplayHandler in
// _examples/original_source/crates/theater/src/replay/handler.rs
// (position tracking, expect_next_event, verify_hash, mismatch
// counting), adapted from Rust's RwLock<usize> position counter to a
// Go mutex-guarded struct. verify_hash's job — catching a recorded
// event whose input or output was altered after the fact — is done
// here by running chain.Verify over the recorded chain once, up
// front, and consulting its result as each event is consumed.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/theaterrun/theater/chain"
	"github.com/theaterrun/theater/events"
	"github.com/theaterrun/theater/hostcall"
)

// State walks a recorded chain in order, handing out recorded host
// calls as the replay progresses and detecting divergence.
//
// Resource-heavy WASI interfaces (filesystem handles, network sockets)
// cannot be faithfully replayed: their recorded "output" is only the
// Component-Model-visible result, not the underlying OS resource, so a
// replayed actor that depends on a live resource from one of those
// calls will diverge downstream. This mirrors a known limitation of the
// original implementation and is not fixed here.
type State struct {
	mu            sync.Mutex
	chainEvents   []chain.Event
	position      int
	mismatchCount uint32

	// divergedAt and verifyErr are precomputed once, at construction, by
	// running the same hash-chain recomputation chain.Verify uses at
	// introspection time. A recorded event's Data carries both the call's
	// input and its output, so any post-hoc tampering with either — a
	// single flipped byte in a recorded timing/now output, say — changes
	// HashEvent's recomputed digest and is caught here, pinpointed to the
	// exact position, before replay ever hands that event back to a
	// guest as ground truth.
	divergedAt int
	verifyErr  error
}

// NewState constructs replay State from a recorded chain, in append
// order, verifying the chain's hash linkage up front so output
// tampering is caught at the position it occurs rather than silently
// trusted.
func NewState(chainEvents []chain.Event) *State {
	divergedAt, verifyErr := chain.Verify(chainEvents)
	return &State{chainEvents: chainEvents, divergedAt: divergedAt, verifyErr: verifyErr}
}

// CurrentPosition returns the index of the next event to be consumed.
func (s *State) CurrentPosition() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// TotalEvents returns the total number of recorded events.
func (s *State) TotalEvents() int {
	return len(s.chainEvents)
}

// IsComplete reports whether every recorded event has been consumed.
func (s *State) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position >= len(s.chainEvents)
}

// MismatchCount returns the number of divergences recorded so far.
func (s *State) MismatchCount() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mismatchCount
}

// ErrReplayExhausted is returned when a host call occurs after the
// recorded chain has already been fully consumed: the actor is making a
// call its recording never made.
var ErrReplayExhausted = fmt.Errorf("replay: chain exhausted")

// ErrReplayTypeMismatch is returned when the next recorded event's type
// doesn't match the host call being replayed.
var ErrReplayTypeMismatch = fmt.Errorf("replay: event type mismatch")

// ErrReplayOutputDivergence is returned when the recorded event about to
// be consumed fails hash verification: its input or output was altered
// after it was appended, so the value about to be handed back to the
// guest is no longer what was actually recorded.
var ErrReplayOutputDivergence = fmt.Errorf("replay: recorded event failed hash verification")

// expectNext advances to the next host-function event and consumes it if
// it matches expectedType, mirroring expect_next_event in handler.rs.
// Interleaved wasm, runtime, and handler events are the runtime loop's
// and handlers' own to re-emit during replay, so the cursor passes over
// them without comparison (spec.md §4.7: "the next non-wasm event"). A
// recorded event whose hash no longer matches its recomputed digest is
// reported as a divergence at this position rather than replayed.
func (s *State) expectNext(expectedType string) (chain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.position >= len(s.chainEvents) {
			return chain.Event{}, ErrReplayExhausted
		}
		if s.verifyErr != nil && s.position == s.divergedAt {
			s.mismatchCount++
			return chain.Event{}, fmt.Errorf("%w at position %d: %v", ErrReplayOutputDivergence, s.position, s.verifyErr)
		}
		ev := s.chainEvents[s.position]
		if !isHostFunctionEvent(ev.EventType) {
			s.position++
			continue
		}
		if ev.EventType != expectedType {
			s.mismatchCount++
			return chain.Event{}, fmt.Errorf("%w: want %q, have %q at position %d", ErrReplayTypeMismatch, expectedType, ev.EventType, s.position)
		}
		s.position++
		return ev, nil
	}
}

// isHostFunctionEvent reports whether eventType is the
// "<interface>/<function>" tag of an intercepted host call. Handler
// events also carry a slash but are prefixed with their own category.
func isHostFunctionEvent(eventType string) bool {
	if strings.HasPrefix(eventType, string(events.CategoryHandler)+"/") {
		return false
	}
	return strings.Contains(eventType, "/")
}

// RecordedCalls returns the function names of the recorded WasmCall
// events, in order, and the set of host interfaces the recording
// touched. The replay handler uses the interface set to know which
// imports to stub, and the call list to drive the guest's exports.
func (s *State) RecordedCalls() (wasmCalls []WasmCallRecord, interfaces []string) {
	seen := make(map[string]bool)
	for _, ev := range s.chainEvents {
		if isHostFunctionEvent(ev.EventType) {
			iface, fn, _ := strings.Cut(ev.EventType, "/")
			if fn != "permission-denied" && !seen[iface] {
				seen[iface] = true
				interfaces = append(interfaces, iface)
			}
			continue
		}
		if ev.EventType != string(events.CategoryWasm) {
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(ev.Data, &fields); err != nil {
			continue
		}
		// WasmCall, WasmResult, and WasmError share the "wasm" tag; only
		// a call event carries params_bytes.
		if _, ok := fields["params_bytes"]; !ok {
			continue
		}
		var rec struct {
			Function    string `json:"function"`
			ParamsBytes []byte `json:"params_bytes"`
		}
		if err := json.Unmarshal(ev.Data, &rec); err != nil {
			continue
		}
		wasmCalls = append(wasmCalls, WasmCallRecord{Function: rec.Function, ParamsBytes: rec.ParamsBytes})
	}
	return wasmCalls, interfaces
}

// WasmCallRecord is one recorded guest export invocation, recovered
// from a chain's WasmCall events.
type WasmCallRecord struct {
	Function    string
	ParamsBytes []byte
}

// Source adapts State to hostcall.ReplaySource, decoding the recorded
// event's payload back into the interceptor's RecordedCall shape.
type Source struct {
	state *State
}

// NewSource builds a hostcall.ReplaySource backed by state.
func NewSource(state *State) *Source {
	return &Source{state: state}
}

func (s *Source) Next(ctx context.Context, iface, function string) (hostcall.RecordedCall, error) {
	eventType := iface + "/" + function
	ev, err := s.state.expectNext(eventType)
	if err != nil {
		return hostcall.RecordedCall{}, err
	}
	var payload events.HostFunctionCall
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return hostcall.RecordedCall{}, fmt.Errorf("replay: decode recorded call at position %d: %w", s.state.position-1, err)
	}
	input, err := rawJSON(payload.Input)
	if err != nil {
		return hostcall.RecordedCall{}, fmt.Errorf("replay: decode recorded input at position %d: %w", s.state.position-1, err)
	}
	output, err := rawJSON(payload.Output)
	if err != nil {
		return hostcall.RecordedCall{}, fmt.Errorf("replay: decode recorded output at position %d: %w", s.state.position-1, err)
	}
	return hostcall.RecordedCall{
		Interface: payload.Interface,
		Function:  payload.Function,
		Input:     input,
		Output:    output,
	}, nil
}

// rawJSON extracts the verbatim JSON bytes of a recorded value. Opaque
// values (the interceptor's own recording shape) are returned
// byte-for-byte rather than re-rendered through ToJSON, since the
// re-emitted replay event must hash identically to the original and
// ToJSON's decode/encode round trip would reorder object keys.
func rawJSON(v events.SerializableValue) (json.RawMessage, error) {
	if v.Kind == events.KindOpaque {
		return v.Opaque, nil
	}
	return v.ToJSON()
}

// Summarize produces the ReplaySummary event emitted once replay ends,
// whether because the chain completed, diverged, or the guest stopped
// early.
func (s *State) Summarize() events.ReplaySummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := events.ReplayMatched
	switch {
	case s.mismatchCount > 0:
		status = events.ReplayDiverged
	case s.position < len(s.chainEvents):
		status = events.ReplayIncomplete
	}
	return events.ReplaySummary{
		Total:   len(s.chainEvents),
		Matched: s.position,
		Status:  status,
	}
}
