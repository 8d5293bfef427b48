// Package theater implements the theater runtime (C11): the single task
// owning the table of live actors, routing commands (spawn, resume,
// stop, terminate, ...) and maintaining parent/child topology.
//
// Grounded on the TheaterRuntime<E> struct and its run() command match
// arms in
// _examples/original_source/crates/theater/src/theater_runtime.rs
// (ListChildren, RestartActor, GetActorState, GetActorEvents,
// SpawnActor, ResumeActor, StopActor, TerminateActor, ShuttingDown,
// NewEvent, ActorError, ActorRuntimeError, GetActors,
// GetActorManifest, GetActorStatus, GetActorMetrics, SubscribeToActor,
// NewStore), and on the single-owner-goroutine-plus-command-channel
// pattern in
// _examples/goadesign-goa-ai/runtime/agent/engine (one loop goroutine
// draining a command channel, replying via per-call response channels).
package theater

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/theaterrun/theater/chain"
	"github.com/theaterrun/theater/id"
	"github.com/theaterrun/theater/internal/telemetry"
)

// Status is an actor's lifecycle state as seen by the theater runtime.
type Status string

const (
	StatusRunning      Status = "running"
	StatusPaused       Status = "paused"
	StatusShuttingDown Status = "shutting-down"
	StatusStopped      Status = "stopped"
	StatusFailed       Status = "failed"
)

// ActorHandle is the minimal surface the theater runtime needs from a
// running actor process (runtime/actor, C9) to route commands to it and
// tear it down; kept narrow to avoid an import cycle between theater
// and runtime/actor.
type ActorHandle interface {
	ID() id.ActorID
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	Terminate(ctx context.Context) error
	Status() Status
	State(ctx context.Context) ([]byte, error)
	ChainEvents(ctx context.Context) ([]chain.Event, error)
	Metrics(ctx context.Context) (ActorMetrics, error)
}

// ActorMetrics is theater's narrow view of an actor's per-operation
// counters, returned by GetActorMetrics. Defined here rather than
// reused from runtime/actor to keep that package's Loop type (which
// implements ActorHandle) free to import theater without a cycle.
type ActorMetrics struct {
	OperationCount  int
	SuccessCount    int
	ErrorCount      int
	TotalDurationMS int64
}

// ActorProcess is the runtime's bookkeeping record for one spawned
// actor, mirroring the original's ActorProcess (actor_id, name, handle,
// children, status, manifest, supervisor_tx).
type ActorProcess struct {
	ID            id.ActorID
	Name          string
	Handle        ActorHandle
	Parent        *id.ActorID
	Children      map[id.ActorID]struct{}
	Status        Status
	ManifestBytes []byte

	subscribers []chan chain.Event
}

// Command is routed through the single theater runtime goroutine. Each
// concrete command type below carries its own response channel,
// mirroring the original's oneshot-response-per-command convention.
type Command interface{ isCommand() }

type SpawnActor struct {
	ManifestBytes []byte
	ParentID      *id.ActorID
	Reply         chan<- SpawnResult
}

type SpawnResult struct {
	ActorID id.ActorID
	Err     error
}

// ResumeActor spawns a fresh actor process like SpawnActor, but seeds
// its store with StateBytes and tells the Spawner to skip the init
// export invocation, per spec.md §4.6/§6.
type ResumeActor struct {
	ManifestBytes []byte
	StateBytes    []byte
	ParentID      *id.ActorID
	Reply         chan<- SpawnResult
}

type StopActor struct {
	ActorID id.ActorID
	Reply   chan<- error
}

type TerminateActor struct {
	ActorID id.ActorID
	Reply   chan<- error
}

type ListChildren struct {
	ParentID id.ActorID
	Reply    chan<- []id.ActorID
}

type GetActors struct {
	Reply chan<- []id.ActorID
}

type GetActorStatus struct {
	ActorID id.ActorID
	Reply   chan<- (struct {
		Status Status
		Err    error
	})
}

type SubscribeToActor struct {
	ActorID id.ActorID
	Reply   chan<- (<-chan chain.Event)
}

type NewEvent struct {
	ActorID id.ActorID
	Event   chain.Event
}

type ActorError struct {
	ActorID id.ActorID
	Err     error
}

// GetActorState proxies to the actor's Info channel for its current
// committed state bytes, per spec.md §6's command surface.
type GetActorState struct {
	ActorID id.ActorID
	Reply   chan<- (struct {
		Data []byte
		Err  error
	})
}

// GetActorEvents proxies to the actor's Info channel for its full
// recorded chain.
type GetActorEvents struct {
	ActorID id.ActorID
	Reply   chan<- (struct {
		Events []chain.Event
		Err    error
	})
}

// GetActorManifest returns the raw manifest bytes the actor was spawned
// or resumed from.
type GetActorManifest struct {
	ActorID id.ActorID
	Reply   chan<- (struct {
		ManifestBytes []byte
		Err           error
	})
}

// GetActorMetrics proxies to the actor's Info channel for its
// aggregated operation counters.
type GetActorMetrics struct {
	ActorID id.ActorID
	Reply   chan<- (struct {
		Metrics ActorMetrics
		Err     error
	})
}

// ReloadActorManifest swaps a running actor's manifest for a new one
// read from ManifestPath, preserving its current state bytes across
// the swap — the only reload path the runtime supports (spec.md's
// Non-goals exclude any in-place hot-reload of a live component).
// Driven either by an explicit RPC or by a ManifestWatcher noticing
// the file change.
type ReloadActorManifest struct {
	ActorID      id.ActorID
	ManifestPath string
	Reply        chan<- error
}

func (SpawnActor) isCommand()          {}
func (ResumeActor) isCommand()         {}
func (StopActor) isCommand()           {}
func (TerminateActor) isCommand()      {}
func (ListChildren) isCommand()        {}
func (GetActors) isCommand()           {}
func (GetActorStatus) isCommand()      {}
func (SubscribeToActor) isCommand()    {}
func (NewEvent) isCommand()            {}
func (ActorError) isCommand()          {}
func (GetActorState) isCommand()       {}
func (GetActorEvents) isCommand()      {}
func (GetActorManifest) isCommand()    {}
func (GetActorMetrics) isCommand()     {}
func (ReloadActorManifest) isCommand() {}

// SpawnRequest carries everything a Spawner needs to construct one actor
// process, for both a fresh spawn and a resume (Resume true, StateBytes
// seeded, skipping the guest's init export per spec.md §4.6).
type SpawnRequest struct {
	ManifestBytes []byte
	Self          id.ActorID
	Parent        *id.ActorID
	Resume        bool
	StateBytes    []byte
}

// Spawner constructs and starts a new actor process from a SpawnRequest,
// returning a handle the runtime can route further commands to. It is
// supplied by the caller (typically cmd/theaterd) rather than theater
// itself, so theater stays decoupled from component loading, handler
// wiring, and the WASM runtime (runtime/actor, C9).
type Spawner func(ctx context.Context, req SpawnRequest) (ActorHandle, error)

// Runtime is the single owner of the actor table. All mutation happens
// on the Run goroutine; callers interact exclusively via Command values
// sent on Commands().
type Runtime struct {
	log     telemetry.Logger
	metrics telemetry.Metrics
	spawn   Spawner

	commands chan Command

	mu     sync.Mutex // guards actors for read-only external inspection only; Run owns writes
	actors map[id.ActorID]*ActorProcess

	channels *Channels

	notifyParent SupervisorNotify
}

// Channels returns the runtime's direct actor-to-actor channel table.
func (r *Runtime) Channels() *Channels { return r.channels }

// SupervisorReason classifies why a child actor stopped, for dispatch to
// the parent's supervisor callback, mirroring supervisor.ExitReason
// without importing that package (avoiding a theater->supervisor
// dependency the wiring layer, not theater itself, should own).
type SupervisorReason int

const (
	ReasonSuccess SupervisorReason = iota
	ReasonError
	ReasonExternalStop
)

// SupervisorNotify routes a child's termination to its parent's
// supervisor dispatch (supervisor.Notifier.Notify), kept as an injected
// callback rather than a direct dependency so theater does not need to
// import the supervisor package.
type SupervisorNotify func(ctx context.Context, parent, child id.ActorID, reason SupervisorReason, err error)

// SetSupervisorNotify wires the callback invoked when an ActorError
// command names an actor with a live parent. Optional; if unset, a
// failing child's parent is simply not notified (matching the original
// behavior when no supervisor is configured).
func (r *Runtime) SetSupervisorNotify(fn SupervisorNotify) { r.notifyParent = fn }

// New constructs a Runtime. spawn is invoked on the Run goroutine for
// every SpawnActor command.
func New(log telemetry.Logger, metrics telemetry.Metrics, spawn Spawner) *Runtime {
	return &Runtime{
		log:      log,
		metrics:  metrics,
		spawn:    spawn,
		commands: make(chan Command, 64),
		actors:   make(map[id.ActorID]*ActorProcess),
		channels: NewChannels(),
	}
}

// Commands returns the channel callers send Command values on.
func (r *Runtime) Commands() chan<- Command { return r.commands }

// Run drains commands until ctx is canceled, then tears down every
// actor bottom-up (children before parents) and returns.
func (r *Runtime) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.shutdownAll(context.Background())
			return ctx.Err()
		case cmd := <-r.commands:
			r.handle(ctx, cmd)
		}
	}
}

func (r *Runtime) handle(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	case SpawnActor:
		r.handleSpawn(ctx, SpawnRequest{ManifestBytes: c.ManifestBytes, Parent: c.ParentID}, c.Reply)
	case ResumeActor:
		r.handleSpawn(ctx, SpawnRequest{
			ManifestBytes: c.ManifestBytes,
			Parent:        c.ParentID,
			Resume:        true,
			StateBytes:    c.StateBytes,
		}, c.Reply)
	case GetActorState:
		data, err := actorHandle(r, c.ActorID, func(p *ActorProcess) ([]byte, error) {
			return p.Handle.State(ctx)
		})
		c.Reply <- struct {
			Data []byte
			Err  error
		}{Data: data, Err: err}
	case GetActorEvents:
		evs, err := actorHandle(r, c.ActorID, func(p *ActorProcess) ([]chain.Event, error) {
			return p.Handle.ChainEvents(ctx)
		})
		c.Reply <- struct {
			Events []chain.Event
			Err    error
		}{Events: evs, Err: err}
	case GetActorManifest:
		r.mu.Lock()
		p, ok := r.actors[c.ActorID]
		var manifestBytes []byte
		if ok {
			manifestBytes = p.ManifestBytes
		}
		r.mu.Unlock()
		var err error
		if !ok {
			err = fmt.Errorf("theater: actor %s not found", c.ActorID)
		}
		c.Reply <- struct {
			ManifestBytes []byte
			Err           error
		}{ManifestBytes: manifestBytes, Err: err}
	case GetActorMetrics:
		m, err := actorHandle(r, c.ActorID, func(p *ActorProcess) (ActorMetrics, error) {
			return p.Handle.Metrics(ctx)
		})
		c.Reply <- struct {
			Metrics ActorMetrics
			Err     error
		}{Metrics: m, Err: err}
	case ReloadActorManifest:
		r.handleReload(ctx, c)
	case StopActor:
		c.Reply <- r.teardownSubtree(ctx, c.ActorID, false)
	case TerminateActor:
		c.Reply <- r.teardownSubtree(ctx, c.ActorID, true)
	case ListChildren:
		r.mu.Lock()
		var out []id.ActorID
		if p, ok := r.actors[c.ParentID]; ok {
			for child := range p.Children {
				out = append(out, child)
			}
		}
		r.mu.Unlock()
		c.Reply <- out
	case GetActors:
		r.mu.Lock()
		out := make([]id.ActorID, 0, len(r.actors))
		for aid := range r.actors {
			out = append(out, aid)
		}
		r.mu.Unlock()
		c.Reply <- out
	case GetActorStatus:
		r.mu.Lock()
		p, ok := r.actors[c.ActorID]
		r.mu.Unlock()
		if !ok {
			c.Reply <- struct {
				Status Status
				Err    error
			}{Err: fmt.Errorf("theater: actor %s not found", c.ActorID)}
			return
		}
		c.Reply <- struct {
			Status Status
			Err    error
		}{Status: p.Status}
	case SubscribeToActor:
		r.mu.Lock()
		p, ok := r.actors[c.ActorID]
		var ch chan chain.Event
		if ok {
			ch = make(chan chain.Event, 32)
			p.subscribers = append(p.subscribers, ch)
		}
		r.mu.Unlock()
		c.Reply <- ch
	case NewEvent:
		r.fanOut(c.ActorID, c.Event)
	case ActorError:
		r.mu.Lock()
		p, ok := r.actors[c.ActorID]
		var parent *id.ActorID
		if ok {
			p.Status = StatusFailed
			parent = p.Parent
		}
		r.mu.Unlock()
		r.log.Error(ctx, "actor error", "actor", string(c.ActorID), "error", c.Err)
		if !ok {
			return
		}
		if parent != nil && r.notifyParent != nil {
			go r.notifyParent(context.Background(), *parent, c.ActorID, ReasonError, c.Err)
		}
		// Initiate a graceful stop of the failing actor in the background:
		// resubmitting a command rather than calling teardownSubtree
		// directly avoids re-entering handle() while still holding its
		// stack frame.
		go func(failed id.ActorID) {
			stopReply := make(chan error, 1)
			r.commands <- StopActor{ActorID: failed, Reply: stopReply}
			<-stopReply
		}(c.ActorID)
	}
}

func (r *Runtime) handleSpawn(ctx context.Context, req SpawnRequest, reply chan<- SpawnResult) {
	actorID := id.NewActorID(req.ManifestBytes)
	req.Self = actorID
	handle, err := r.spawn(ctx, req)
	if err != nil {
		reply <- SpawnResult{Err: fmt.Errorf("theater: spawn: %w", err)}
		return
	}

	r.mu.Lock()
	r.actors[actorID] = &ActorProcess{
		ID:            actorID,
		Handle:        handle,
		Parent:        req.Parent,
		Children:      make(map[id.ActorID]struct{}),
		Status:        StatusRunning,
		ManifestBytes: req.ManifestBytes,
	}
	if req.Parent != nil {
		if parent, ok := r.actors[*req.Parent]; ok {
			parent.Children[actorID] = struct{}{}
		}
	}
	r.mu.Unlock()

	if req.Resume {
		r.metrics.IncCounter("theater.actors.resumed", 1)
	} else {
		r.metrics.IncCounter("theater.actors.spawned", 1)
	}
	reply <- SpawnResult{ActorID: actorID}
}

// handleReload implements ReloadActorManifest: read the new manifest
// off disk, capture the running actor's current state, stop the old
// instance, and spawn a fresh one from the new manifest resumed with
// the captured state. The new actor gets a new ID, since
// id.NewActorID mints a fresh one (mixing in a random nonce) for every
// spawn; callers needing to keep routing to
// "the same logical actor" must look the new ID up via GetActors/the
// SpawnResult rather than assume ActorID is preserved.
func (r *Runtime) handleReload(ctx context.Context, c ReloadActorManifest) {
	manifestBytes, err := os.ReadFile(c.ManifestPath)
	if err != nil {
		c.Reply <- fmt.Errorf("theater: reload: read manifest %s: %w", c.ManifestPath, err)
		return
	}

	r.mu.Lock()
	p, ok := r.actors[c.ActorID]
	r.mu.Unlock()
	if !ok {
		c.Reply <- fmt.Errorf("theater: reload: actor %s not found", c.ActorID)
		return
	}

	stateBytes, err := p.Handle.State(ctx)
	if err != nil {
		c.Reply <- fmt.Errorf("theater: reload: read state: %w", err)
		return
	}
	parent := p.Parent

	if err := r.teardown(ctx, c.ActorID, false, false); err != nil {
		c.Reply <- fmt.Errorf("theater: reload: stop previous instance: %w", err)
		return
	}

	spawnReply := make(chan SpawnResult, 1)
	r.handleSpawn(ctx, SpawnRequest{
		ManifestBytes: manifestBytes,
		Parent:        parent,
		Resume:        true,
		StateBytes:    stateBytes,
	}, spawnReply)
	c.Reply <- (<-spawnReply).Err
}

// teardownSubtree stops an actor and every descendant, children first,
// matching the original's bottom-up teardown order. forced selects
// Terminate (short grace) over Stop (graceful). Only the root of the
// subtree being torn down notifies its own parent (via ReasonExternalStop):
// a child torn down as a side effect of its own parent's teardown is not
// independently "externally stopped", since its parent is disappearing
// too.
func (r *Runtime) teardownSubtree(ctx context.Context, actorID id.ActorID, forced bool) error {
	return r.teardown(ctx, actorID, forced, true)
}

func (r *Runtime) teardown(ctx context.Context, actorID id.ActorID, forced, notifyParent bool) error {
	r.mu.Lock()
	p, ok := r.actors[actorID]
	var children []id.ActorID
	if ok {
		for child := range p.Children {
			children = append(children, child)
		}
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("theater: actor %s not found", actorID)
	}

	// Children are independent subtrees once their parent's own teardown
	// has been decided, so they are torn down concurrently rather than
	// one at a time — the same fan-out shape as shutdownAll below.
	g, gctx := errgroup.WithContext(ctx)
	for _, child := range children {
		child := child
		g.Go(func() error { return r.teardown(gctx, child, forced, false) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var stopErr error
	if forced {
		stopErr = p.Handle.Terminate(ctx)
	} else {
		stopErr = p.Handle.Stop(ctx)
	}
	if stopErr != nil {
		return fmt.Errorf("theater: stop %s: %w", actorID, stopErr)
	}

	r.mu.Lock()
	p.Status = StatusStopped
	for _, ch := range p.subscribers {
		close(ch)
	}
	delete(r.actors, actorID)
	r.channels.PurgeParticipant(actorID)
	parent := p.Parent
	if parent != nil {
		if pp, ok := r.actors[*parent]; ok {
			delete(pp.Children, actorID)
		}
	}
	r.mu.Unlock()

	if notifyParent && parent != nil && r.notifyParent != nil {
		go r.notifyParent(context.Background(), *parent, actorID, ReasonExternalStop, nil)
	}
	return nil
}

func (r *Runtime) shutdownAll(ctx context.Context) {
	r.mu.Lock()
	roots := make([]id.ActorID, 0)
	for aid, p := range r.actors {
		if p.Parent == nil {
			roots = append(roots, aid)
		}
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, root := range roots {
		root := root
		g.Go(func() error { return r.teardownSubtree(ctx, root, true) })
	}
	_ = g.Wait()
}

// actorHandle looks up actorID's process and, if found, applies fn to
// it; defined as a free function since Go methods cannot carry their own
// type parameters.
func actorHandle[T any](r *Runtime, actorID id.ActorID, fn func(p *ActorProcess) (T, error)) (T, error) {
	r.mu.Lock()
	p, ok := r.actors[actorID]
	r.mu.Unlock()
	var zero T
	if !ok {
		return zero, fmt.Errorf("theater: actor %s not found", actorID)
	}
	return fn(p)
}

func (r *Runtime) fanOut(actorID id.ActorID, ev chain.Event) {
	r.mu.Lock()
	p, ok := r.actors[actorID]
	if !ok {
		r.mu.Unlock()
		return
	}
	live := p.subscribers[:0]
	for _, ch := range p.subscribers {
		select {
		case ch <- ev:
			live = append(live, ch)
		default:
			close(ch) // slow subscriber, prune rather than block the runtime
		}
	}
	p.subscribers = live
	r.mu.Unlock()
}
