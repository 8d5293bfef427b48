// Package supervisor implements the supervisor channel (C10): the path
// by which a parent actor is notified of a child's lifecycle events
// (success, error, external stop) and dispatches them into the child's
// own guest exports.
//
// Grounded on
// _examples/original_source/src/host/supervisor.rs's SupervisorHost
// (spawn/list-children/stop-child host functions routed through
// theater_tx) and on
// _examples/goadesign-goa-ai/runtime/agent/hooks's publish/subscribe bus
// for the parent-side dispatch-by-callback-name pattern.
package supervisor

import (
	"context"
	"fmt"

	"github.com/theaterrun/theater/id"
)

// ExitReason classifies why a child actor stopped.
type ExitReason int

const (
	ExitSuccess ExitReason = iota
	ExitError
	ExitExternalStop
)

// ChildExit is delivered to a parent when a child terminates.
type ChildExit struct {
	ChildID id.ActorID
	Reason  ExitReason
	Message string
}

// ExportCaller invokes a named guest export on the parent's component
// instance, supplied by runtime/actor (C9) to avoid supervisor needing
// to depend on the component/runtime packages directly.
type ExportCaller interface {
	CallExport(ctx context.Context, name string, args ...uint64) ([]uint64, error)
	HasExport(name string) bool
}

// exportFor maps an ExitReason to the guest export name the parent is
// expected to implement, per spec.md §6's host interface description.
func exportFor(reason ExitReason) string {
	switch reason {
	case ExitSuccess:
		return "handle-child-exit"
	case ExitError:
		return "handle-child-error"
	case ExitExternalStop:
		return "handle-child-external-stop"
	default:
		return "handle-child-exit"
	}
}

// Notifier delivers child exit notifications to parent actors. One
// Notifier instance is shared by the theater runtime, keyed by parent
// actor ID at dispatch time rather than constructed per-actor, since
// supervision relationships change as actors spawn and terminate.
type Notifier struct {
	parents func(parent id.ActorID) (ExportCaller, bool)

	restartPolicy RestartPolicy
	restart       Restarter
}

// NewNotifier constructs a Notifier. parents resolves a parent actor ID
// to its live export caller, returning false if the parent has itself
// already terminated (in which case the notification is dropped,
// matching the original: a dead parent cannot be notified).
func NewNotifier(parents func(parent id.ActorID) (ExportCaller, bool)) *Notifier {
	return &Notifier{parents: parents}
}

// Notify delivers exit to parent, calling whichever of
// handle-child-exit/handle-child-error/handle-child-external-stop the
// exit reason maps to. If the parent's component doesn't implement that
// export, the notification is silently skipped: per spec.md, guest
// exports for child lifecycle callbacks are optional.
func (n *Notifier) Notify(ctx context.Context, parent id.ActorID, exit ChildExit) error {
	if exit.Reason == ExitError && n.restart != nil {
		if err := RestartWithBackoff(ctx, n.restartPolicy, exit.ChildID, n.restart); err != nil {
			return err
		}
	}

	caller, ok := n.parents(parent)
	if !ok {
		return nil
	}
	export := exportFor(exit.Reason)
	if !caller.HasExport(export) {
		return nil
	}
	if _, err := caller.CallExport(ctx, export); err != nil {
		return fmt.Errorf("supervisor: %s on parent %s for child %s: %w", export, parent, exit.ChildID, err)
	}
	return nil
}
