// Package timing implements the timing host capability: now, sleep, and
// deadline, each intercepted and chain-recorded per the canonical host
// call shape, plus a monotonic clock for interval measurement.
//
// Grounded on _examples/original_source/crates/theater/src/host/timing.rs
// (TimingHost: now/sleep/deadline gated by TimingPermissions) with the
// interception shape of spec.md §4.4.
//
// The original's timing implementations disagree on the clock's
// resolution and the monotonic epoch. The decisions here: resolution is
// fixed at one millisecond (the unit every timing permission and every
// recorded timestamp already uses), the monotonic clock's epoch is the
// instant the handler is set up for the actor, and subscribe-duration
// pollables are not offered at all — a pollable is host state a replay
// stub cannot emulate, so offering one would create recordings that can
// never replay cleanly.
package timing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/theaterrun/theater/component"
	"github.com/theaterrun/theater/hostcall"
	"github.com/theaterrun/theater/permission"
	"github.com/theaterrun/theater/store"
)

// Interface is the import namespace this handler satisfies.
const Interface = "timing"

// Resolution is the granularity of every value the timing interface
// reports, in milliseconds.
const Resolution = time.Millisecond

// Handler serves the timing interface for one actor.
type Handler struct {
	perm *permission.TimingPermissions
	ic   *hostcall.Interceptor

	epoch time.Time
	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a timing Handler gated by perm. ic may be nil, in which
// case a live interceptor over the actor's chain is built at setup time.
func New(perm *permission.TimingPermissions, ic *hostcall.Interceptor) *Handler {
	return &Handler{
		perm:  perm,
		ic:    ic,
		clock: time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// Name implements handler.Handler.
func (h *Handler) Name() string { return Interface }

// Imports implements handler.Handler.
func (h *Handler) Imports() []string { return []string{Interface} }

// Exports implements handler.Handler; timing expects no guest callbacks.
func (h *Handler) Exports() []string { return nil }

// SetupHostFunctions implements handler.Handler, registering now, sleep,
// and deadline on the linker.
func (h *Handler) SetupHostFunctions(ctx context.Context, linker component.Linker, actorStore *store.Store) error {
	if h.ic == nil {
		h.ic = hostcall.New(hostcall.Live, actorStore.Chain(), nil)
	}
	h.epoch = h.clock()

	mod := linker.NewHostModule(Interface)
	mod.ExportFunction("now", func(ctx context.Context, m component.Module, stack []uint64) {
		ts, err := h.Now(ctx)
		if err != nil {
			stack[0] = 0
			return
		}
		stack[0] = uint64(ts)
	})
	mod.ExportFunction("monotonic-now", func(ctx context.Context, m component.Module, stack []uint64) {
		stack[0] = uint64(h.MonotonicNow())
	})
	mod.ExportFunction("sleep", func(ctx context.Context, m component.Module, stack []uint64) {
		_ = h.Sleep(ctx, int64(stack[0]))
	})
	mod.ExportFunction("deadline", func(ctx context.Context, m component.Module, stack []uint64) {
		_ = h.Deadline(ctx, int64(stack[0]))
	})
	return mod.Instantiate(ctx)
}

// AddExportFunctions implements handler.Handler; nothing to resolve.
func (h *Handler) AddExportFunctions(ctx context.Context, instance component.Instance, actorStore *store.Store) error {
	return nil
}

// Start implements handler.Handler; timing has no background task.
func (h *Handler) Start(ctx context.Context, actorStore *store.Store) error { return nil }

// Now returns the wall clock in Unix milliseconds, recorded to the
// chain as a timing/now host-function event.
func (h *Handler) Now(ctx context.Context) (int64, error) {
	out, err := h.ic.Call(ctx, Interface, "now", nil,
		func() error {
			if h.perm == nil {
				return permission.CheckTimingOperation(nil, 0)
			}
			return nil
		},
		func(ctx context.Context) (json.RawMessage, error) {
			return json.Marshal(h.clock().UnixMilli())
		})
	if err != nil {
		return 0, err
	}
	return decodeMillis(out)
}

// MonotonicNow returns milliseconds elapsed since the handler's epoch.
// It is deliberately not chain-recorded: interval measurement against a
// per-instance epoch is meaningless across a replay, so recording it
// would only manufacture divergences.
func (h *Handler) MonotonicNow() int64 {
	return h.clock().Sub(h.epoch).Milliseconds()
}

// Sleep pauses the guest for ms milliseconds, bounded by the actor's
// timing permission.
func (h *Handler) Sleep(ctx context.Context, ms int64) error {
	_, err := h.ic.Call(ctx, Interface, "sleep", ms,
		func() error { return permission.CheckTimingOperation(h.perm, ms) },
		func(ctx context.Context) (json.RawMessage, error) {
			if err := h.sleep(ctx, time.Duration(ms)*Resolution); err != nil {
				return nil, err
			}
			return json.Marshal(ms)
		})
	return err
}

// Deadline sleeps until the wall clock reaches tsMS (Unix milliseconds),
// a no-op if that moment has already passed.
func (h *Handler) Deadline(ctx context.Context, tsMS int64) error {
	_, err := h.ic.Call(ctx, Interface, "deadline", tsMS,
		func() error {
			remaining := tsMS - h.clock().UnixMilli()
			if remaining < 0 {
				remaining = 0
			}
			return permission.CheckTimingOperation(h.perm, remaining)
		},
		func(ctx context.Context) (json.RawMessage, error) {
			remaining := time.Duration(tsMS-h.clock().UnixMilli()) * Resolution
			if remaining > 0 {
				if err := h.sleep(ctx, remaining); err != nil {
					return nil, err
				}
			}
			return json.Marshal(tsMS)
		})
	return err
}

func decodeMillis(out json.RawMessage) (int64, error) {
	var ms int64
	if err := json.Unmarshal(out, &ms); err != nil {
		return 0, fmt.Errorf("timing: decode milliseconds %q: %w", out, err)
	}
	return ms, nil
}
