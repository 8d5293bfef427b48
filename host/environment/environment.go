// Package environment implements the environment host capability:
// get-var, exists, and list-vars, each filtered through the actor's
// environment permission so a sandboxed actor only ever observes the
// variables its grant names.
//
// Grounded on
// _examples/original_source/crates/theater/src/host/environment.rs
// (EnvironmentHost gated by EnvironmentPermissions) with the
// interception shape of spec.md §4.4.
package environment

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/theaterrun/theater/component"
	"github.com/theaterrun/theater/host/guestmem"
	"github.com/theaterrun/theater/hostcall"
	"github.com/theaterrun/theater/permission"
	"github.com/theaterrun/theater/store"
)

// Interface is the import namespace this handler satisfies.
const Interface = "environment"

// Handler serves the environment interface for one actor.
type Handler struct {
	perm *permission.EnvironmentPermissions
	ic   *hostcall.Interceptor

	lookup  func(name string) (string, bool)
	environ func() []string
}

// New constructs an environment Handler gated by perm. ic may be nil,
// in which case a live interceptor over the actor's chain is built at
// setup time.
func New(perm *permission.EnvironmentPermissions, ic *hostcall.Interceptor) *Handler {
	return &Handler{perm: perm, ic: ic, lookup: os.LookupEnv, environ: os.Environ}
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
	// get-var(namePtr, nameLen, outPtr, outCap): writes the value into a
	// guest buffer and returns its byte length, or -1 cast to u64 when
	// the variable is absent or denied.
	mod.ExportFunction("get-var", func(ctx context.Context, m component.Module, stack []uint64) {
		name, err := guestmem.ReadString(m, uint32(stack[0]), uint32(stack[1]))
		if err != nil {
			stack[0] = notFound
			return
		}
		val, ok, err := h.GetVar(ctx, name)
		if err != nil || !ok {
			stack[0] = notFound
			return
		}
		if uint64(len(val)) > stack[3] {
			stack[0] = notFound
			return
		}
		if err := guestmem.WriteBytes(m, uint32(stack[2]), []byte(val)); err != nil {
			stack[0] = notFound
			return
		}
		stack[0] = uint64(len(val))
	})
	mod.ExportFunction("exists", func(ctx context.Context, m component.Module, stack []uint64) {
		name, err := guestmem.ReadString(m, uint32(stack[0]), uint32(stack[1]))
		if err != nil {
			stack[0] = 0
			return
		}
		ok, err := h.Exists(ctx, name)
		if err != nil || !ok {
			stack[0] = 0
			return
		}
		stack[0] = 1
	})
	// list-vars(outPtr, outCap): writes the permitted variables as
	// newline-separated NAME=VALUE pairs and returns the byte length.
	mod.ExportFunction("list-vars", func(ctx context.Context, m component.Module, stack []uint64) {
		vars, err := h.ListVars(ctx)
		if err != nil {
			stack[0] = 0
			return
		}
		pairs := make([]string, 0, len(vars))
		for k, v := range vars {
			pairs = append(pairs, k+"="+v)
		}
		sort.Strings(pairs)
		joined := strings.Join(pairs, "\n")
		if uint64(len(joined)) > stack[1] {
			stack[0] = 0
			return
		}
		if err := guestmem.WriteBytes(m, uint32(stack[0]), []byte(joined)); err != nil {
			stack[0] = 0
			return
		}
		stack[0] = uint64(len(joined))
	})
	return mod.Instantiate(ctx)
}

// notFound is the sentinel get-var returns for an absent or denied
// variable, distinguishing it from a present-but-empty value.
const notFound = ^uint64(0)

// AddExportFunctions implements handler.Handler.
func (h *Handler) AddExportFunctions(ctx context.Context, instance component.Instance, actorStore *store.Store) error {
	return nil
}

// Start implements handler.Handler.
func (h *Handler) Start(ctx context.Context, actorStore *store.Store) error { return nil }

// GetVar returns the variable's value and whether it is set. A denied
// variable surfaces as a permission error, not as absence, so the guest
// can distinguish "not set" from "not yours".
func (h *Handler) GetVar(ctx context.Context, name string) (string, bool, error) {
	out, err := h.ic.Call(ctx, Interface, "get-var", name,
		func() error { return permission.CheckEnvVarAccess(h.perm, name) },
		func(ctx context.Context) (json.RawMessage, error) {
			val, ok := h.lookup(name)
			if !ok {
				return json.Marshal(nil)
			}
			return json.Marshal(val)
		})
	if err != nil {
		return "", false, err
	}
	var val *string
	if err := json.Unmarshal(out, &val); err != nil {
		return "", false, fmt.Errorf("environment: decode recorded value: %w", err)
	}
	if val == nil {
		return "", false, nil
	}
	return *val, true, nil
}

// Exists reports whether the variable is set, under the same permission
// gate as GetVar.
func (h *Handler) Exists(ctx context.Context, name string) (bool, error) {
	out, err := h.ic.Call(ctx, Interface, "exists", name,
		func() error { return permission.CheckEnvVarAccess(h.perm, name) },
		func(ctx context.Context) (json.RawMessage, error) {
			_, ok := h.lookup(name)
			return json.Marshal(ok)
		})
	if err != nil {
		return false, err
	}
	var ok bool
	if err := json.Unmarshal(out, &ok); err != nil {
		return false, fmt.Errorf("environment: decode recorded existence: %w", err)
	}
	return ok, nil
}

// ListVars returns every variable the actor's permission allows it to
// see. Unlike GetVar, denial here is a filter, not an error: the guest
// asked for "everything I may see", and variables outside the grant are
// simply not part of that set.
func (h *Handler) ListVars(ctx context.Context) (map[string]string, error) {
	out, err := h.ic.Call(ctx, Interface, "list-vars", nil,
		func() error {
			if h.perm == nil {
				return permission.CheckEnvVarAccess(nil, "")
			}
			return nil
		},
		func(ctx context.Context) (json.RawMessage, error) {
			visible := make(map[string]string)
			for _, kv := range h.environ() {
				name, val, ok := strings.Cut(kv, "=")
				if !ok {
					continue
				}
				if permission.CheckEnvVarAccess(h.perm, name) == nil {
					visible[name] = val
				}
			}
			return json.Marshal(visible)
		})
	if err != nil {
		return nil, err
	}
	var vars map[string]string
	if err := json.Unmarshal(out, &vars); err != nil {
		return nil, fmt.Errorf("environment: decode recorded vars: %w", err)
	}
	return vars, nil
}
