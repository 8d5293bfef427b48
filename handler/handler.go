// Package handler implements the handler registry & trait (C6): the
// pluggable set of capability providers a manifest wires into an actor,
// each contributing host functions the guest can import and, for some
// handlers, additional guest exports the runtime calls into.
//
// Grounded on the capability-provider pattern in
// _examples/goadesign-goa-ai/runtime/agent/tools (named, independently
// registered providers composed into one registry) and on spec.md
// §4.4's description of the handler trait (imports / exports /
// setup_host_functions / add_export_functions / start).
package handler

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/theaterrun/theater/component"
	"github.com/theaterrun/theater/store"
)

// Handler is a capability provider wired into an actor by its manifest.
// Implementations are typically one per capability family (filesystem,
// http-client, supervisor, replay, ...).
type Handler interface {
	// Name identifies the handler, matching a manifest HandlerConfig.Type.
	Name() string

	// Imports lists the WIT import names this handler satisfies. The
	// registry uses this to ignore imports the guest component doesn't
	// actually declare, and to let the replay handler claim whatever
	// remains unsatisfied.
	Imports() []string

	// Exports lists guest export names this handler expects the
	// component to provide and that the runtime may call into (e.g. a
	// supervisor handler expecting handle-child-exit).
	Exports() []string

	// SetupHostFunctions registers this handler's host functions onto
	// the instance being linked, scoped to actorStore for the duration
	// of the actor's lifetime.
	SetupHostFunctions(ctx context.Context, linker component.Linker, actorStore *store.Store) error

	// AddExportFunctions lets a handler record which of its expected
	// exports the instantiated component actually provides, after
	// instantiation, for the runtime's later use (e.g. supervisor
	// dispatch skips a child-exit callback the actor never defined).
	AddExportFunctions(ctx context.Context, instance component.Instance, actorStore *store.Store) error

	// Start runs any handler-owned background activity for the actor's
	// lifetime (e.g. an HTTP framework handler's listener). Start
	// returns once setup is complete; long-running work must manage its
	// own goroutine and honor ctx cancellation.
	Start(ctx context.Context, actorStore *store.Store) error
}

// Registry composes an ordered set of handlers for one actor, built from
// its manifest's declared HandlerConfig list. Order matters: the replay
// handler (if present) is prepended and claims first; live handlers
// then claim their remaining imports in declaration order.
type Registry struct {
	handlers []Handler
	claimed  map[string]Handler
	replay   Handler // non-nil only in replay mode
}

// NewRegistry builds a registry from handlers in manifest declaration
// order, resolving each guest import to exactly one handler.
//
// The replay handler (present only when the actor is being replayed
// rather than run live) is prepended: it claims its own imports first
// and then every import nothing else claimed, so during replay all
// host calls are intercepted and answered from the recorded chain
// while the live handlers keep only their export side. Two ordinary
// handlers claiming the same import is a configuration error; a live
// handler overlapping the replay handler is the expected replay-mode
// shape and is silently skipped.
func NewRegistry(guestImports []string, handlers []Handler, replayHandler Handler) (*Registry, error) {
	claimed := make(map[string]Handler, len(guestImports))
	needed := make(map[string]bool, len(guestImports))
	for _, imp := range guestImports {
		needed[imp] = true
	}

	if replayHandler != nil {
		for _, imp := range replayHandler.Imports() {
			if needed[imp] {
				claimed[imp] = replayHandler
			}
		}
	}

	for _, h := range handlers {
		for _, imp := range h.Imports() {
			if !needed[imp] {
				continue
			}
			if owner, ok := claimed[imp]; ok {
				if replayHandler != nil && owner == replayHandler {
					continue
				}
				return nil, fmt.Errorf("handler: import %q claimed by both %q and %q", imp, owner.Name(), h.Name())
			}
			claimed[imp] = h
		}
	}

	ordered := handlers
	if replayHandler != nil {
		for imp := range needed {
			if _, ok := claimed[imp]; !ok {
				claimed[imp] = replayHandler
			}
		}
		ordered = append([]Handler{replayHandler}, handlers...)
	}

	var unresolved []string
	for imp := range needed {
		if _, ok := claimed[imp]; !ok {
			unresolved = append(unresolved, imp)
		}
	}
	if len(unresolved) > 0 {
		return nil, fmt.Errorf("handler: no handler satisfies imports %v", unresolved)
	}

	return &Registry{handlers: ordered, claimed: claimed, replay: replayHandler}, nil
}

// Handlers returns the registry's handlers in resolution order.
func (r *Registry) Handlers() []Handler { return r.handlers }

// HandlerFor returns the handler that claimed guest import imp.
func (r *Registry) HandlerFor(imp string) (Handler, bool) {
	h, ok := r.claimed[imp]
	return h, ok
}

// SetupAll runs SetupHostFunctions for every handler in order. In
// replay mode a live handler whose every declared import was
// intercepted by the replay handler is skipped: registering its real
// host functions would collide with the stubs on the linker, and it has
// nothing left to provide except exports (which AddExportsAll still
// resolves).
func (r *Registry) SetupAll(ctx context.Context, linker component.Linker, actorStore *store.Store) error {
	for _, h := range r.handlers {
		if r.replay != nil && h != r.replay && !r.ownsAnyImport(h) && len(h.Imports()) > 0 {
			continue
		}
		if err := h.SetupHostFunctions(ctx, linker, actorStore); err != nil {
			return fmt.Errorf("handler: %s: setup host functions: %w", h.Name(), err)
		}
	}
	return nil
}

// AddExportsAll runs AddExportFunctions for every handler in order,
// after the component has been instantiated.
func (r *Registry) AddExportsAll(ctx context.Context, instance component.Instance, actorStore *store.Store) error {
	for _, h := range r.handlers {
		if err := h.AddExportFunctions(ctx, instance, actorStore); err != nil {
			return fmt.Errorf("handler: %s: add export functions: %w", h.Name(), err)
		}
	}
	return nil
}

func (r *Registry) ownsAnyImport(h Handler) bool {
	for _, owner := range r.claimed {
		if owner == h {
			return true
		}
	}
	return false
}

// StartAll runs Start for every handler concurrently: unlike
// SetupAll, handler startup has no ordering dependency (imports are
// already claimed by the time StartAll runs), so handlers whose Start
// blocks briefly (e.g. binding a listener) don't serialize behind one
// another.
func (r *Registry) StartAll(ctx context.Context, actorStore *store.Store) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range r.handlers {
		h := h
		g.Go(func() error {
			if err := h.Start(gctx, actorStore); err != nil {
				return fmt.Errorf("handler: %s: start: %w", h.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
