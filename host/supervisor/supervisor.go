// Package supervisor implements the supervisor host capability: the
// guest-facing spawn/resume/list-children/restart-child/stop-child/
// get-child-state/get-child-events surface, routed over the actor
// store's command channel to the theater runtime (C11), plus the three
// child-lifecycle guest exports the parent side dispatches into.
//
// Grounded on
// _examples/original_source/src/host/supervisor.rs's SupervisorHost
// (each host function forwards a TheaterCommand through theater_tx and
// awaits the oneshot reply), with the interception shape of spec.md
// §4.4 — supervision calls are host calls like any other and are
// chain-recorded the same way.
package supervisor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/theaterrun/theater/chain"
	"github.com/theaterrun/theater/component"
	"github.com/theaterrun/theater/host/guestmem"
	"github.com/theaterrun/theater/hostcall"
	"github.com/theaterrun/theater/id"
	"github.com/theaterrun/theater/permission"
	"github.com/theaterrun/theater/store"
	"github.com/theaterrun/theater/theater"
)

// Interface is the import namespace this handler satisfies.
const Interface = "supervisor"

// Exports is the set of optional guest callbacks the parent side of the
// supervision tree dispatches into, per spec.md §6.
var Exports = []string{"handle-child-exit", "handle-child-error", "handle-child-external-stop"}

// ExportSet records which of the supervision callbacks the instantiated
// component actually implements, stashed in the actor store's extension
// map at AddExportFunctions time for the dispatch path to consult.
type ExportSet struct {
	ChildExit         bool
	ChildError        bool
	ChildExternalStop bool
}

// Handler serves the supervisor interface for one actor.
type Handler struct {
	perm *permission.SupervisorPermissions
	ic   *hostcall.Interceptor
	self id.ActorID
	tx   store.CommandSender
}

// New constructs a supervisor Handler gated by perm. ic may be nil, in
// which case a live interceptor over the actor's chain is built at
// setup time.
func New(perm *permission.SupervisorPermissions, ic *hostcall.Interceptor) *Handler {
	return &Handler{perm: perm, ic: ic}
}

// Name implements handler.Handler.
func (h *Handler) Name() string { return Interface }

// Imports implements handler.Handler.
func (h *Handler) Imports() []string { return []string{Interface} }

// Exports implements handler.Handler.
func (h *Handler) Exports() []string { return Exports }

// SetupHostFunctions implements handler.Handler.
func (h *Handler) SetupHostFunctions(ctx context.Context, linker component.Linker, actorStore *store.Store) error {
	if h.ic == nil {
		h.ic = hostcall.New(hostcall.Live, actorStore.Chain(), nil)
	}
	h.self = actorStore.ID()
	h.tx = actorStore.TheaterTx()

	mod := linker.NewHostModule(Interface)
	// spawn(manifestPtr, manifestLen, outPtr, outCap) -> length of the
	// child's textual actor ID, or errSentinel.
	mod.ExportFunction("spawn", func(ctx context.Context, m component.Module, stack []uint64) {
		manifest, err := guestmem.ReadBytes(m, uint32(stack[0]), uint32(stack[1]))
		if err != nil {
			stack[0] = errSentinel
			return
		}
		child, err := h.Spawn(ctx, manifest)
		if err != nil {
			stack[0] = errSentinel
			return
		}
		writeString(m, stack, 2, child.String())
	})
	mod.ExportFunction("resume", func(ctx context.Context, m component.Module, stack []uint64) {
		manifest, err := guestmem.ReadBytes(m, uint32(stack[0]), uint32(stack[1]))
		if err != nil {
			stack[0] = errSentinel
			return
		}
		state, err := guestmem.ReadBytes(m, uint32(stack[2]), uint32(stack[3]))
		if err != nil {
			stack[0] = errSentinel
			return
		}
		child, err := h.Resume(ctx, manifest, state)
		if err != nil {
			stack[0] = errSentinel
			return
		}
		writeString(m, stack, 4, child.String())
	})
	// list-children(outPtr, outCap) -> length of the newline-joined IDs.
	mod.ExportFunction("list-children", func(ctx context.Context, m component.Module, stack []uint64) {
		children, err := h.ListChildren(ctx)
		if err != nil {
			stack[0] = errSentinel
			return
		}
		ids := make([]string, len(children))
		for i, c := range children {
			ids[i] = c.String()
		}
		writeString(m, stack, 0, strings.Join(ids, "\n"))
	})
	mod.ExportFunction("stop-child", func(ctx context.Context, m component.Module, stack []uint64) {
		child, err := readActorID(m, stack)
		if err != nil {
			stack[0] = errSentinel
			return
		}
		if err := h.StopChild(ctx, child); err != nil {
			stack[0] = errSentinel
			return
		}
		stack[0] = 0
	})
	mod.ExportFunction("restart-child", func(ctx context.Context, m component.Module, stack []uint64) {
		child, err := readActorID(m, stack)
		if err != nil {
			stack[0] = errSentinel
			return
		}
		replacement, err := h.RestartChild(ctx, child)
		if err != nil {
			stack[0] = errSentinel
			return
		}
		writeString(m, stack, 2, replacement.String())
	})
	mod.ExportFunction("get-child-state", func(ctx context.Context, m component.Module, stack []uint64) {
		child, err := readActorID(m, stack)
		if err != nil {
			stack[0] = errSentinel
			return
		}
		state, err := h.GetChildState(ctx, child)
		if err != nil {
			stack[0] = errSentinel
			return
		}
		writeString(m, stack, 2, string(state))
	})
	// get-child-events(idPtr, idLen, outPtr, outCap) -> length of the
	// JSON-encoded event array.
	mod.ExportFunction("get-child-events", func(ctx context.Context, m component.Module, stack []uint64) {
		child, err := readActorID(m, stack)
		if err != nil {
			stack[0] = errSentinel
			return
		}
		evs, err := h.GetChildEvents(ctx, child)
		if err != nil {
			stack[0] = errSentinel
			return
		}
		data, err := json.Marshal(evs)
		if err != nil {
			stack[0] = errSentinel
			return
		}
		writeString(m, stack, 2, string(data))
	})
	return mod.Instantiate(ctx)
}

const errSentinel = ^uint64(0)

func readActorID(m component.Module, stack []uint64) (id.ActorID, error) {
	s, err := guestmem.ReadString(m, uint32(stack[0]), uint32(stack[1]))
	return id.ActorID(s), err
}

// writeString writes s into the guest buffer described by
// stack[argIdx], stack[argIdx+1] and leaves its length in stack[0].
func writeString(m component.Module, stack []uint64, argIdx int, s string) {
	if uint64(len(s)) > stack[argIdx+1] {
		stack[0] = errSentinel
		return
	}
	if err := guestmem.WriteBytes(m, uint32(stack[argIdx]), []byte(s)); err != nil {
		stack[0] = errSentinel
		return
	}
	stack[0] = uint64(len(s))
}

// AddExportFunctions implements handler.Handler, probing which of the
// supervision callbacks the component actually implements and stashing
// the result as a store extension for the dispatch path.
func (h *Handler) AddExportFunctions(ctx context.Context, instance component.Instance, actorStore *store.Store) error {
	store.SetExtension(actorStore, ExportSet{
		ChildExit:         instance.HasExport("handle-child-exit"),
		ChildError:        instance.HasExport("handle-child-error"),
		ChildExternalStop: instance.HasExport("handle-child-external-stop"),
	})
	return nil
}

// Start implements handler.Handler.
func (h *Handler) Start(ctx context.Context, actorStore *store.Store) error { return nil }

// Spawn starts a child actor from manifestBytes with this actor as its
// parent, returning the child's ID.
func (h *Handler) Spawn(ctx context.Context, manifestBytes []byte) (id.ActorID, error) {
	out, err := h.ic.Call(ctx, Interface, "spawn",
		map[string]any{"manifest_bytes": len(manifestBytes)},
		func() error { return permission.CheckSupervisorOperation(h.perm, "spawn") },
		func(ctx context.Context) (json.RawMessage, error) {
			reply := make(chan theater.SpawnResult, 1)
			parent := h.self
			if err := h.tx.Send(ctx, theater.SpawnActor{ManifestBytes: manifestBytes, ParentID: &parent, Reply: reply}); err != nil {
				return nil, err
			}
			res, err := await(ctx, reply)
			if err != nil {
				return nil, err
			}
			if res.Err != nil {
				return nil, res.Err
			}
			return json.Marshal(res.ActorID)
		})
	if err != nil {
		return "", err
	}
	return decodeActorID(out)
}

// Resume starts a child actor from manifestBytes seeded with state,
// skipping its init export, with this actor as its parent.
func (h *Handler) Resume(ctx context.Context, manifestBytes, state []byte) (id.ActorID, error) {
	out, err := h.ic.Call(ctx, Interface, "resume",
		map[string]any{"manifest_bytes": len(manifestBytes), "state_bytes": len(state)},
		func() error { return permission.CheckSupervisorOperation(h.perm, "resume") },
		func(ctx context.Context) (json.RawMessage, error) {
			reply := make(chan theater.SpawnResult, 1)
			parent := h.self
			if err := h.tx.Send(ctx, theater.ResumeActor{ManifestBytes: manifestBytes, StateBytes: state, ParentID: &parent, Reply: reply}); err != nil {
				return nil, err
			}
			res, err := await(ctx, reply)
			if err != nil {
				return nil, err
			}
			if res.Err != nil {
				return nil, res.Err
			}
			return json.Marshal(res.ActorID)
		})
	if err != nil {
		return "", err
	}
	return decodeActorID(out)
}

// ListChildren returns the IDs of this actor's live children.
func (h *Handler) ListChildren(ctx context.Context) ([]id.ActorID, error) {
	out, err := h.ic.Call(ctx, Interface, "list-children", nil,
		func() error { return permission.CheckSupervisorOperation(h.perm, "list-children") },
		func(ctx context.Context) (json.RawMessage, error) {
			reply := make(chan []id.ActorID, 1)
			if err := h.tx.Send(ctx, theater.ListChildren{ParentID: h.self, Reply: reply}); err != nil {
				return nil, err
			}
			children, err := await(ctx, reply)
			if err != nil {
				return nil, err
			}
			return json.Marshal(children)
		})
	if err != nil {
		return nil, err
	}
	var children []id.ActorID
	if err := json.Unmarshal(out, &children); err != nil {
		return nil, fmt.Errorf("supervisor: decode recorded children: %w", err)
	}
	return children, nil
}

// StopChild gracefully stops one of this actor's children.
func (h *Handler) StopChild(ctx context.Context, child id.ActorID) error {
	_, err := h.ic.Call(ctx, Interface, "stop-child", child,
		func() error { return permission.CheckSupervisorOperation(h.perm, "stop-child") },
		func(ctx context.Context) (json.RawMessage, error) {
			reply := make(chan error, 1)
			if err := h.tx.Send(ctx, theater.StopActor{ActorID: child, Reply: reply}); err != nil {
				return nil, err
			}
			stopErr, err := await(ctx, reply)
			if err != nil {
				return nil, err
			}
			if stopErr != nil {
				return nil, stopErr
			}
			return json.Marshal(true)
		})
	return err
}

// RestartChild stops child and spawns a replacement from the same
// manifest, returning the replacement's ID. The replacement starts from
// the manifest's init state, not the stopped child's last state: restart
// is recovery from a bad state, not a resume.
func (h *Handler) RestartChild(ctx context.Context, child id.ActorID) (id.ActorID, error) {
	out, err := h.ic.Call(ctx, Interface, "restart-child", child,
		func() error { return permission.CheckSupervisorOperation(h.perm, "restart-child") },
		func(ctx context.Context) (json.RawMessage, error) {
			manifestReply := make(chan struct {
				ManifestBytes []byte
				Err           error
			}, 1)
			if err := h.tx.Send(ctx, theater.GetActorManifest{ActorID: child, Reply: manifestReply}); err != nil {
				return nil, err
			}
			mres, err := await(ctx, manifestReply)
			if err != nil {
				return nil, err
			}
			if mres.Err != nil {
				return nil, mres.Err
			}

			stopReply := make(chan error, 1)
			if err := h.tx.Send(ctx, theater.StopActor{ActorID: child, Reply: stopReply}); err != nil {
				return nil, err
			}
			stopErr, err := await(ctx, stopReply)
			if err != nil {
				return nil, err
			}
			if stopErr != nil {
				return nil, stopErr
			}

			spawnReply := make(chan theater.SpawnResult, 1)
			parent := h.self
			if err := h.tx.Send(ctx, theater.SpawnActor{ManifestBytes: mres.ManifestBytes, ParentID: &parent, Reply: spawnReply}); err != nil {
				return nil, err
			}
			sres, err := await(ctx, spawnReply)
			if err != nil {
				return nil, err
			}
			if sres.Err != nil {
				return nil, sres.Err
			}
			return json.Marshal(sres.ActorID)
		})
	if err != nil {
		return "", err
	}
	return decodeActorID(out)
}

// GetChildState returns a child's last committed state bytes, recorded
// base64 so arbitrary state stays valid JSON in the chain event.
func (h *Handler) GetChildState(ctx context.Context, child id.ActorID) ([]byte, error) {
	out, err := h.ic.Call(ctx, Interface, "get-child-state", child,
		func() error { return permission.CheckSupervisorOperation(h.perm, "get-child-state") },
		func(ctx context.Context) (json.RawMessage, error) {
			reply := make(chan struct {
				Data []byte
				Err  error
			}, 1)
			if err := h.tx.Send(ctx, theater.GetActorState{ActorID: child, Reply: reply}); err != nil {
				return nil, err
			}
			res, err := await(ctx, reply)
			if err != nil {
				return nil, err
			}
			if res.Err != nil {
				return nil, res.Err
			}
			return json.Marshal(base64.StdEncoding.EncodeToString(res.Data))
		})
	if err != nil {
		return nil, err
	}
	var enc string
	if err := json.Unmarshal(out, &enc); err != nil {
		return nil, fmt.Errorf("supervisor: decode recorded state: %w", err)
	}
	return base64.StdEncoding.DecodeString(enc)
}

// GetChildEvents returns a child's full recorded chain.
func (h *Handler) GetChildEvents(ctx context.Context, child id.ActorID) ([]chain.Event, error) {
	out, err := h.ic.Call(ctx, Interface, "get-child-events", child,
		func() error { return permission.CheckSupervisorOperation(h.perm, "get-child-events") },
		func(ctx context.Context) (json.RawMessage, error) {
			reply := make(chan struct {
				Events []chain.Event
				Err    error
			}, 1)
			if err := h.tx.Send(ctx, theater.GetActorEvents{ActorID: child, Reply: reply}); err != nil {
				return nil, err
			}
			res, err := await(ctx, reply)
			if err != nil {
				return nil, err
			}
			if res.Err != nil {
				return nil, res.Err
			}
			return json.Marshal(res.Events)
		})
	if err != nil {
		return nil, err
	}
	var evs []chain.Event
	if err := json.Unmarshal(out, &evs); err != nil {
		return nil, fmt.Errorf("supervisor: decode recorded events: %w", err)
	}
	return evs, nil
}

// await receives one reply or gives up when ctx does.
func await[T any](ctx context.Context, reply <-chan T) (T, error) {
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func decodeActorID(out json.RawMessage) (id.ActorID, error) {
	var aid id.ActorID
	if err := json.Unmarshal(out, &aid); err != nil {
		return "", fmt.Errorf("supervisor: decode recorded actor id: %w", err)
	}
	return aid, nil
}
