// Package component implements the actor component & instance (C8): a
// thin Component Model layer over wazero, responsible for loading a
// WASM component, linking host functions into it, and instantiating it
// for an actor.
//
// Grounded on the WazeroEngine/WazeroModule/WazeroInstance layering
// described in
// _examples/other_examples/90b88424_wippyai-wasm-runtime__engine-doc.go.go,
// built directly on tetratelabs/wazero. That same doc's canonical ABI
// table (flat counts per WIT type, retptr used once a value's flat
// count exceeds MaxFlatResults) grounds how Instance.Call threads an
// actor's state through a guest export call.
package component

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Linker exposes the subset of wazero's module-linking surface that
// handlers (C6) need to register host functions, scoped to one interface
// namespace at a time (matching WIT's `interface` grouping).
type Linker interface {
	// NewHostModule begins defining host functions under the given WIT
	// interface name (e.g. "theater:simple/runtime").
	NewHostModule(interfaceName string) HostModuleBuilder
}

// HostModuleBuilder accumulates host function exports for one interface
// namespace before being instantiated into the linking runtime.
type HostModuleBuilder interface {
	// ExportFunction registers fn under name, with paramCount/resultCount
	// core wasm value counts (post canonical-ABI flattening) and a Go
	// closure implementing the function body.
	ExportFunction(name string, fn HostFunc) HostModuleBuilder
	// Instantiate finalizes this interface's host module.
	Instantiate(ctx context.Context) error
}

// HostFunc is a host function body operating on raw core wasm values
// (after canonical ABI flattening has already happened at the call
// site). Handlers needing record/variant/string marshaling read and
// lay out those values against Module.Memory themselves, following the
// flat-count table above.
type HostFunc func(ctx context.Context, mod Module, stack []uint64)

// Module is the minimal surface a HostFunc needs from the calling guest
// instance: its linear memory, for reading/writing canonical-ABI
// pointers and lengths.
type Module interface {
	Memory() []byte
}

// Instance is an instantiated actor component, ready to have its
// exports called.
type Instance interface {
	// HasExport reports whether the component declares the named export,
	// used by handlers' AddExportFunctions to skip optional callbacks
	// (e.g. handle-child-error) a given actor never implements.
	HasExport(name string) bool
	// Call invokes a guest export by name, threading state in as the
	// export's leading parameter and core wasm argument values as the
	// rest, and returns the (new_state, result) pair the export wrote
	// back, per spec.md §4.8. state may be nil for exports that ignore
	// it (the actor's state is still round-tripped unchanged in that
	// case by any well-behaved guest).
	Call(ctx context.Context, name string, state []byte, args ...uint64) (newState []byte, results []uint64, err error)
	// Close releases the instance's wazero module.
	Close(ctx context.Context) error
}

// Runtime loads and instantiates WASM components for actors. One Runtime
// is shared across all actors in a theater process (mirroring
// wazero.Runtime's own intended lifetime), since compiling a wazero
// Runtime is comparatively expensive.
type Runtime struct {
	wzRuntime wazero.Runtime

	mu     sync.Mutex
	cached map[string]wazero.CompiledModule
}

// NewRuntime constructs a component Runtime backed by a fresh wazero
// runtime configured for the Component Model's typical needs (compiler
// mode for throughput, since actor instances are expected to be
// long-lived rather than one-shot).
func NewRuntime(ctx context.Context) (*Runtime, error) {
	cfg := wazero.NewRuntimeConfig().WithCompilationCache(wazero.NewCompilationCache())
	wzRuntime := wazero.NewRuntimeWithConfig(ctx, cfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, wzRuntime); err != nil {
		return nil, fmt.Errorf("component: instantiate wasi snapshot preview1: %w", err)
	}
	return &Runtime{wzRuntime: wzRuntime, cached: make(map[string]wazero.CompiledModule)}, nil
}

// Close releases the underlying wazero runtime and all compiled modules.
func (r *Runtime) Close(ctx context.Context) error {
	return r.wzRuntime.Close(ctx)
}

// Load compiles component bytes, caching by a caller-provided key (the
// manifest's component reference) so repeated spawns of the same actor
// type reuse the compiled module.
func (r *Runtime) Load(ctx context.Context, key string, wasmBytes []byte) (wazero.CompiledModule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cm, ok := r.cached[key]; ok {
		return cm, nil
	}
	cm, err := r.wzRuntime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("component: compile %q: %w", key, err)
	}
	r.cached[key] = cm
	return cm, nil
}

// WazeroRuntime exposes the underlying wazero.Runtime for linker
// construction by the instantiation path, which needs full access to
// wazero's HostModuleBuilder to wire canonical-ABI-aware host functions.
func (r *Runtime) WazeroRuntime() wazero.Runtime { return r.wzRuntime }
