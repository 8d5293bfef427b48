// Package hostcall implements the host-call interceptor (C7): the
// wrapper every handler-provided host function passes through, giving
// every host call a uniform shape regardless of which capability it
// belongs to: record the call, enforce permissions, execute, record the
// outcome.
//
// Grounded on _examples/original_source/crates/theater/src/interceptor.rs's
// RecordingInterceptor / ReplayRecordingInterceptor pair, adapted to Go
// as a single Interceptor type parameterized by a Mode rather than two
// concrete types, matching the single-struct-plus-enum style
// _examples/goadesign-goa-ai/runtime/agent/hooks uses for its event bus.
package hostcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/theaterrun/theater/chain"
	"github.com/theaterrun/theater/events"
	"github.com/theaterrun/theater/permission"
)

// Mode selects whether the interceptor executes calls for real (Live) or
// answers them from a previously recorded chain (Replay), per spec.md
// §4.7's replay engine.
type Mode int

const (
	Live Mode = iota
	Replay
)

// RecordedCall is one host call's recorded input/output, as read back
// from a chain during replay.
type RecordedCall struct {
	Interface string
	Function  string
	Input     json.RawMessage
	Output    json.RawMessage
}

// ReplaySource supplies recorded calls in original execution order
// during replay.
type ReplaySource interface {
	Next(ctx context.Context, iface, function string) (RecordedCall, error)
}

// PermissionChecker validates a host call's arguments against the
// actor's effective permissions before it executes. Concrete checkers
// live in the permission package (CheckFilesystemOperation and
// friends); this is deliberately a closure, not an interface tied to
// one capability, so each handler supplies its own narrow check.
type PermissionChecker func() error

// Executor performs the real work of a host call once permitted. It
// returns the call's output (to be chain-recorded and, in Live mode,
// returned to the guest) or an error.
type Executor func(ctx context.Context) (json.RawMessage, error)

// Interceptor wraps every host call for one actor in the canonical
// call → check → execute → record shape.
type Interceptor struct {
	mode        Mode
	chain       *chain.Chain
	source      ReplaySource // only used when mode == Replay
	rateLimiter *RateLimiter // optional; nil means no host call is rate-limited
}

// New constructs an Interceptor bound to the actor's chain. src is
// nil in Live mode and required in Replay mode.
func New(mode Mode, c *chain.Chain, src ReplaySource) *Interceptor {
	return &Interceptor{mode: mode, chain: c, source: src}
}

// Call runs one host function call through the canonical pipeline:
//
//  1. If a rate limiter is set and the call is over its limit, record
//     the call as failed with the rate-limit error and return it.
//  2. Run check; a failure short-circuits before exec runs. A permission
//     denial is recorded as the call event followed by a
//     "<interface>/permission-denied" event; any other check error is
//     recorded as a failed call.
//  3. In Live mode, run exec and record one HostFunctionCall event
//     carrying the input and either the output or the error.
//     In Replay mode, skip exec entirely and return the recorded output
//     for this call, verifying the input matches (divergence detection).
func (ic *Interceptor) Call(ctx context.Context, iface, function string, input any, check PermissionChecker, exec Executor) (json.RawMessage, error) {
	inputBytes, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("hostcall: marshal input for %s/%s: %w", iface, function, err)
	}

	if ic.rateLimiter != nil && !ic.rateLimiter.Allow(iface, function) {
		rlErr := &ErrRateLimited{Interface: iface, Function: function}
		ic.record(ctx, iface, function, inputBytes, nil, rlErr)
		return nil, rlErr
	}

	if check != nil {
		if err := check(); err != nil {
			// A denial is deterministic given the same manifest, so the
			// recording holds the same call + permission-denied pair; in
			// Replay mode the cursor must move past both, and a recording
			// that was NOT denied here registers as a type mismatch.
			if ic.mode == Replay && ic.source != nil {
				_, _ = ic.source.Next(ctx, iface, function)
				_, _ = ic.source.Next(ctx, iface, "permission-denied")
			}
			ic.recordDenial(ctx, iface, function, inputBytes, err)
			return nil, err
		}
	}

	if ic.mode == Replay {
		rec, err := ic.source.Next(ctx, iface, function)
		if err != nil {
			return nil, fmt.Errorf("hostcall: replay %s/%s: %w", iface, function, err)
		}
		if string(rec.Input) != string(inputBytes) {
			return nil, fmt.Errorf("hostcall: replay divergence at %s/%s: recorded input %s, actual input %s",
				iface, function, rec.Input, inputBytes)
		}
		// Re-emit the event with the recorded input and output so the
		// replayed actor's chain reproduces the original hashes (spec.md
		// §4.7: the stub records a HostFunction event with the recorded
		// input and the recorded output).
		ic.record(ctx, iface, function, rec.Input, rec.Output, nil)
		return rec.Output, nil
	}

	output, err := exec(ctx)
	ic.record(ctx, iface, function, inputBytes, output, err)
	return output, err
}

// recordDenial writes the canonical two-event denial shape of spec.md
// §4.4: the call event itself (with its input), then a
// "<interface>/permission-denied" event carrying the denial reason.
// Non-permission check failures (e.g. a handler's own argument
// validation) fall back to the ordinary error recording.
func (ic *Interceptor) recordDenial(ctx context.Context, iface, function string, input json.RawMessage, callErr error) {
	if ic.chain == nil {
		return
	}
	var perr *permission.Error
	if !errors.As(callErr, &perr) {
		ic.record(ctx, iface, function, input, nil, callErr)
		return
	}
	_, _ = ic.chain.Append(ctx, events.HostFunctionCall{
		Interface: iface,
		Function:  function,
		Input:     events.OpaqueJSON(input),
		Output:    events.NewOptionNone(),
	})
	reason, _ := json.Marshal(perr.Message)
	_, _ = ic.chain.Append(ctx, events.HostFunctionCall{
		Interface: iface,
		Function:  "permission-denied",
		Input:     events.OpaqueJSON(input),
		Output:    events.OpaqueJSON(reason),
	})
}

func (ic *Interceptor) record(ctx context.Context, iface, function string, input, output json.RawMessage, callErr error) {
	if ic.chain == nil {
		return
	}
	// Capability handlers still hand the interceptor raw JSON bytes for
	// input/output (see Executor); OpaqueJSON preserves those bytes
	// verbatim inside the typed SerializableValue record rather than
	// discarding the distinction the Component Model value domain draws
	// between, say, a variant's tag and an ordinary string.
	out := events.OpaqueJSON(output)
	if callErr != nil {
		// A failed call keeps its "<interface>/<function>" event type; the
		// error message is recorded as a result::err output.
		out = events.NewResultErr(events.NewString(callErr.Error()))
	}
	_, _ = ic.chain.Append(ctx, events.HostFunctionCall{
		Interface: iface,
		Function:  function,
		Input:     events.OpaqueJSON(input),
		Output:    out,
	})
}
