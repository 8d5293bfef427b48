// Package random implements the random host capability: random-bytes,
// random-range, random-float, and generate-uuid, intercepted and
// chain-recorded so a replayed actor observes the exact values the
// original run drew.
//
// Grounded on _examples/original_source/crates/theater/src/host/random.rs
// (RandomHost gated by RandomPermissions) with the interception shape of
// spec.md §4.4.
package random

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/theaterrun/theater/component"
	"github.com/theaterrun/theater/host/guestmem"
	"github.com/theaterrun/theater/hostcall"
	"github.com/theaterrun/theater/permission"
	"github.com/theaterrun/theater/store"
)

// Interface is the import namespace this handler satisfies.
const Interface = "random"

// Handler serves the random interface for one actor.
type Handler struct {
	perm *permission.RandomPermissions
	ic   *hostcall.Interceptor

	// read fills a buffer with randomness; crypto/rand by default,
	// swappable in tests for deterministic output.
	read func(b []byte) error
}

// New constructs a random Handler gated by perm. ic may be nil, in which
// case a live interceptor over the actor's chain is built at setup time.
func New(perm *permission.RandomPermissions, ic *hostcall.Interceptor) *Handler {
	return &Handler{
		perm: perm,
		ic:   ic,
		read: func(b []byte) error {
			_, err := rand.Read(b)
			return err
		},
	}
}

// Name implements handler.Handler.
func (h *Handler) Name() string { return Interface }

// Imports implements handler.Handler.
func (h *Handler) Imports() []string { return []string{Interface} }

// Exports implements handler.Handler.
func (h *Handler) Exports() []string { return nil }

// SetupHostFunctions implements handler.Handler.
func (h *Handler) SetupHostFunctions(ctx context.Context, linker component.Linker, actorStore *store.Store) error {
	if h.ic == nil {
		h.ic = hostcall.New(hostcall.Live, actorStore.Chain(), nil)
	}

	mod := linker.NewHostModule(Interface)
	// random-bytes(ptr, n): fills a guest-allocated buffer of n bytes,
	// returning the count written (0 on denial).
	mod.ExportFunction("random-bytes", func(ctx context.Context, m component.Module, stack []uint64) {
		ptr, n := uint32(stack[0]), int(stack[1])
		b, err := h.RandomBytes(ctx, n)
		if err != nil {
			stack[0] = 0
			return
		}
		if err := guestmem.WriteBytes(m, ptr, b); err != nil {
			stack[0] = 0
			return
		}
		stack[0] = uint64(len(b))
	})
	mod.ExportFunction("random-range", func(ctx context.Context, m component.Module, stack []uint64) {
		v, err := h.RandomRange(ctx, int64(stack[0]), int64(stack[1]))
		if err != nil {
			stack[0] = 0
			return
		}
		stack[0] = uint64(v)
	})
	mod.ExportFunction("random-float", func(ctx context.Context, m component.Module, stack []uint64) {
		f, err := h.RandomFloat(ctx)
		if err != nil {
			stack[0] = 0
			return
		}
		stack[0] = math.Float64bits(f)
	})
	// generate-uuid(ptr): writes the 36-byte textual UUID into a
	// guest-allocated buffer, returning the count written.
	mod.ExportFunction("generate-uuid", func(ctx context.Context, m component.Module, stack []uint64) {
		u, err := h.GenerateUUID(ctx)
		if err != nil {
			stack[0] = 0
			return
		}
		if err := guestmem.WriteBytes(m, uint32(stack[0]), []byte(u)); err != nil {
			stack[0] = 0
			return
		}
		stack[0] = uint64(len(u))
	})
	return mod.Instantiate(ctx)
}

// AddExportFunctions implements handler.Handler.
func (h *Handler) AddExportFunctions(ctx context.Context, instance component.Instance, actorStore *store.Store) error {
	return nil
}

// Start implements handler.Handler.
func (h *Handler) Start(ctx context.Context, actorStore *store.Store) error { return nil }

// RandomBytes draws n random bytes, bounded by the permission's MaxBytes
// ceiling. The recorded output is base64 so the chain event stays valid
// JSON.
func (h *Handler) RandomBytes(ctx context.Context, n int) ([]byte, error) {
	out, err := h.ic.Call(ctx, Interface, "random-bytes", n,
		func() error { return permission.CheckRandomOperation(h.perm, n, false) },
		func(ctx context.Context) (json.RawMessage, error) {
			b := make([]byte, n)
			if err := h.read(b); err != nil {
				return nil, err
			}
			return json.Marshal(base64.StdEncoding.EncodeToString(b))
		})
	if err != nil {
		return nil, err
	}
	var enc string
	if err := json.Unmarshal(out, &enc); err != nil {
		return nil, fmt.Errorf("random: decode recorded bytes: %w", err)
	}
	return base64.StdEncoding.DecodeString(enc)
}

// RandomRange draws a uniform integer in [min, max), bounded by the
// permission's MaxInt ceiling.
func (h *Handler) RandomRange(ctx context.Context, min, max int64) (int64, error) {
	if max <= min {
		return 0, fmt.Errorf("random: invalid range [%d, %d)", min, max)
	}
	out, err := h.ic.Call(ctx, Interface, "random-range", [2]int64{min, max},
		func() error { return permission.CheckRandomRange(h.perm, max) },
		func(ctx context.Context) (json.RawMessage, error) {
			var buf [8]byte
			if err := h.read(buf[:]); err != nil {
				return nil, err
			}
			span := uint64(max - min)
			v := min + int64(binary.LittleEndian.Uint64(buf[:])%span)
			return json.Marshal(v)
		})
	if err != nil {
		return 0, err
	}
	var v int64
	if err := json.Unmarshal(out, &v); err != nil {
		return 0, fmt.Errorf("random: decode recorded range value: %w", err)
	}
	return v, nil
}

// RandomFloat draws a uniform float64 in [0, 1).
func (h *Handler) RandomFloat(ctx context.Context) (float64, error) {
	out, err := h.ic.Call(ctx, Interface, "random-float", nil,
		func() error { return permission.CheckRandomOperation(h.perm, 0, false) },
		func(ctx context.Context) (json.RawMessage, error) {
			var buf [8]byte
			if err := h.read(buf[:]); err != nil {
				return nil, err
			}
			// 53 bits of mantissa gives every representable value in [0,1).
			v := float64(binary.LittleEndian.Uint64(buf[:])>>11) / float64(1<<53)
			return json.Marshal(v)
		})
	if err != nil {
		return 0, err
	}
	var v float64
	if err := json.Unmarshal(out, &v); err != nil {
		return 0, fmt.Errorf("random: decode recorded float: %w", err)
	}
	return v, nil
}

// GenerateUUID draws a random v4 UUID, rendered textually. UUIDs are
// cryptographically sourced, so the permission's AllowCryptoSecure flag
// gates them.
func (h *Handler) GenerateUUID(ctx context.Context) (string, error) {
	out, err := h.ic.Call(ctx, Interface, "generate-uuid", nil,
		func() error { return permission.CheckRandomOperation(h.perm, 16, true) },
		func(ctx context.Context) (json.RawMessage, error) {
			var buf [16]byte
			if err := h.read(buf[:]); err != nil {
				return nil, err
			}
			u, err := uuid.NewRandomFromReader(bytes.NewReader(buf[:]))
			if err != nil {
				return nil, err
			}
			return json.Marshal(u.String())
		})
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(out, &s); err != nil {
		return "", fmt.Errorf("random: decode recorded uuid: %w", err)
	}
	return s, nil
}
