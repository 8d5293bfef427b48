// Package actor implements the actor runtime loop (C9): the goroutine
// that owns one actor instance, accepting operations (guest export
// calls), info queries, control signals and component updates over four
// distinct channels, and enforcing the actor's lifecycle state machine.
//
// Grounded on spec.md §4.5's channel triad and state machine
// description, and on the single-owner-goroutine-with-typed-channels
// pattern in
// _examples/goadesign-goa-ai/runtime/agent/engine (WorkflowContext
// driving a deterministic single-threaded execution loop) and
// _examples/goadesign-goa-ai/runtime/agent/interrupt (a controller
// goroutine selecting across operation/signal channels).
package actor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/theaterrun/theater/chain"
	"github.com/theaterrun/theater/component"
	"github.com/theaterrun/theater/events"
	"github.com/theaterrun/theater/handler"
	"github.com/theaterrun/theater/id"
	"github.com/theaterrun/theater/internal/telemetry"
	"github.com/theaterrun/theater/shutdown"
	"github.com/theaterrun/theater/store"
	"github.com/theaterrun/theater/theater"
)

// State is the actor's lifecycle state, per spec.md's
// Running -> Paused -> Running -> ShuttingDown -> Stopped machine.
type State int

const (
	StateRunning State = iota
	StatePaused
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateShuttingDown:
		return "shutting-down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DefaultOperationTimeout bounds a single guest export call, per spec.md
// §4.5.
const DefaultOperationTimeout = 10 * time.Second

// Operation is a request to call a guest export.
type Operation struct {
	Function string
	Args     []uint64
	Timeout  time.Duration // zero means DefaultOperationTimeout
	Reply    chan<- OperationResult
}

// OperationResult is the outcome of an Operation.
type OperationResult struct {
	Results []uint64
	Err     error
}

// InfoKind selects which of the three read-only queries an InfoRequest
// performs, per spec.md §4.5's GetState/GetChain/GetMetrics Info
// messages.
type InfoKind int

const (
	InfoGetState InfoKind = iota
	InfoGetChain
	InfoGetMetrics
)

// InfoRequest queries the actor's current state without affecting it.
type InfoRequest struct {
	Kind  InfoKind
	Reply chan<- InfoResponse
}

// Metrics aggregates per-operation duration and success counters,
// returned whole on a GetMetrics InfoRequest per spec.md §4.5.
type Metrics struct {
	OperationCount int
	SuccessCount   int
	ErrorCount     int
	TotalDuration  time.Duration
}

// InfoResponse reports the actor's lifecycle state and last committed
// state bytes, or its chain, or its metrics, depending on the request's
// Kind.
type InfoResponse struct {
	State   State
	Data    []byte
	Events  []chain.Event
	Metrics Metrics
}

// ControlSignal requests a lifecycle transition.
type ControlSignal int

const (
	ControlPause ControlSignal = iota
	ControlResume
	ControlShutdown
)

// UpdateRequest swaps the actor's running instance for a freshly loaded
// one (a "hot" component update), per spec.md §4.5's UpdateComponent
// control message. Building the replacement instance is the caller's
// job (it needs the component.Runtime and manifest that the loop itself
// does not own); the loop's part is the atomic swap, state carry-over,
// and the ActorUpdateStart/Complete/Error bracketing events.
type UpdateRequest struct {
	NewInstance component.Instance
	Reply       chan<- error
}

// Loop is one running actor instance: the channel triad plus the state
// machine that arbitrates between them.
type Loop struct {
	actorID id.ActorID
	log     telemetry.Logger
	metrics telemetry.Metrics

	instance component.Instance
	store    *store.Store
	registry *handler.Registry
	shutdown *shutdown.Controller

	operationCh chan Operation
	infoCh      chan InfoRequest
	controlCh   chan ControlSignal
	updateCh    chan UpdateRequest

	state     State
	statusVal atomic.Int32 // mirrors state for Status(), read from outside the loop goroutine
	cancelMu  sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	opMetrics Metrics
	onError   func(err error)
	clock     func() time.Time
	chainsDir string
}

// New constructs a Loop for an already-instantiated component. Callers
// typically construct Loop after component.Instantiate + registry.SetupAll
// + registry.StartAll have succeeded.
func New(actorID id.ActorID, inst component.Instance, st *store.Store, registry *handler.Registry, log telemetry.Logger, metrics telemetry.Metrics) *Loop {
	l := &Loop{
		actorID:     actorID,
		log:         log,
		metrics:     metrics,
		instance:    inst,
		store:       st,
		registry:    registry,
		shutdown:    shutdown.New(),
		operationCh: make(chan Operation, 16),
		infoCh:      make(chan InfoRequest, 4),
		controlCh:   make(chan ControlSignal, 4),
		updateCh:    make(chan UpdateRequest, 1),
		done:        make(chan struct{}),
		state:       StateRunning,
	}
	l.statusVal.Store(int32(StateRunning))
	return l
}

// Operations returns the channel callers send guest export call requests on.
func (l *Loop) Operations() chan<- Operation { return l.operationCh }

// Info returns the channel callers send state queries on.
func (l *Loop) Info() chan<- InfoRequest { return l.infoCh }

// Control returns the channel callers send lifecycle signals on.
func (l *Loop) Control() chan<- ControlSignal { return l.controlCh }

// Update returns the channel callers send component swap requests on.
func (l *Loop) Update() chan<- UpdateRequest { return l.updateCh }

// Done is closed once Run has fully exited and the instance is closed.
func (l *Loop) Done() <-chan struct{} { return l.done }

// setState transitions the loop's internal state and keeps the
// externally-visible atomic mirror in sync, so Status() never needs to
// touch the loop goroutine.
func (l *Loop) setState(s State) {
	l.state = s
	l.statusVal.Store(int32(s))
}

// Run drains the operation, info, control and update channels until a ControlShutdown signal is
// processed or ctx is canceled, then closes the component instance.
func (l *Loop) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	l.cancelMu.Lock()
	l.cancel = cancel
	l.cancelMu.Unlock()
	defer close(l.done)
	defer func() {
		l.setState(StateStopped)
		_ = l.instance.Close(context.Background())
	}()

	_, _ = l.store.Chain().Append(runCtx, events.RuntimeEvent{Kind: events.RuntimeInit})

	for {
		select {
		case <-runCtx.Done():
			return runCtx.Err()
		case <-l.shutdown.Done():
			_, _ = l.store.Chain().Append(context.Background(), events.RuntimeEvent{Kind: events.RuntimeShutdown})
			if l.chainsDir != "" {
				if err := l.store.Chain().Save(context.Background(), l.chainsDir); err != nil {
					l.log.Error(context.Background(), "save chain on shutdown", "actor", string(l.actorID), "error", err)
				}
			}
			return nil
		case op := <-l.operationCh:
			l.handleOperation(runCtx, op)
		case req := <-l.infoCh:
			l.handleInfo(req)
		case sig := <-l.controlCh:
			l.handleControl(runCtx, sig)
		case req := <-l.updateCh:
			l.handleUpdate(runCtx, req)
		}
	}
}

func (l *Loop) handleInfo(req InfoRequest) {
	switch req.Kind {
	case InfoGetChain:
		evs, _ := l.store.Chain().List(context.Background())
		req.Reply <- InfoResponse{State: l.state, Events: evs}
	case InfoGetMetrics:
		req.Reply <- InfoResponse{State: l.state, Metrics: l.opMetrics}
	default:
		req.Reply <- InfoResponse{State: l.state, Data: l.store.State()}
	}
}

// handleUpdate performs a hot component swap: the new instance (already
// loaded and linked by the caller against the same manifest with a
// swapped component reference) replaces the running one. State bytes
// live in the store, not the instance, so they carry over unchanged.
func (l *Loop) handleUpdate(ctx context.Context, req UpdateRequest) {
	_, _ = l.store.Chain().Append(ctx, events.TheaterRuntimeEvent{Kind: events.ActorUpdateStart, Actor: string(l.actorID)})

	if req.NewInstance == nil {
		err := fmt.Errorf("actor: update component: nil instance")
		_, _ = l.store.Chain().Append(ctx, events.TheaterRuntimeEvent{Kind: events.ActorUpdateError, Actor: string(l.actorID), Error: err.Error()})
		req.Reply <- err
		return
	}

	old := l.instance
	l.instance = req.NewInstance
	_ = old.Close(context.Background())

	_, _ = l.store.Chain().Append(ctx, events.TheaterRuntimeEvent{Kind: events.ActorUpdateComplete, Actor: string(l.actorID)})
	req.Reply <- nil
}

func (l *Loop) handleControl(ctx context.Context, sig ControlSignal) {
	switch sig {
	case ControlPause:
		if l.state == StateRunning {
			l.setState(StatePaused)
			_, _ = l.store.Chain().Append(ctx, events.RuntimeEvent{Kind: events.RuntimeStateChange, Message: "paused"})
		}
	case ControlResume:
		if l.state == StatePaused {
			l.setState(StateRunning)
			_, _ = l.store.Chain().Append(ctx, events.RuntimeEvent{Kind: events.RuntimeStateChange, Message: "running"})
		}
	case ControlShutdown:
		l.setState(StateShuttingDown)
		l.shutdown.Signal("control signal")
	}
}

// ErrPaused is returned when an Operation arrives while the actor is paused.
var ErrPaused = fmt.Errorf("actor: paused")

// ErrShuttingDown is returned when an Operation arrives after shutdown
// has been signaled.
var ErrShuttingDown = fmt.Errorf("actor: shutting down")

// TimeoutError reports that an Operation exceeded its deadline, per
// spec.md §7's OperationTimeout(seconds): recoverable, the actor
// continues running.
type TimeoutError struct {
	Function string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("actor: operation %q timed out after %s", e.Function, e.Timeout)
}

// EnableChainSave makes the loop persist the actor's chain to dir on
// graceful shutdown, per the manifest's save_chain request. Call before
// Run.
func (l *Loop) EnableChainSave(dir string) { l.chainsDir = dir }

// OnError registers a callback invoked when a guest export call traps,
// after the actor has been paused. The theater runtime (C11) wires this
// to forward an ActorError command upstream, per spec.md §4.5/§4.6.
func (l *Loop) OnError(fn func(err error)) { l.onError = fn }

func (l *Loop) handleOperation(ctx context.Context, op Operation) {
	switch l.state {
	case StatePaused:
		op.Reply <- OperationResult{Err: ErrPaused}
		return
	case StateShuttingDown, StateStopped:
		op.Reply <- OperationResult{Err: ErrShuttingDown}
		return
	}

	timeout := op.Timeout
	if timeout == 0 {
		timeout = DefaultOperationTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	paramsBytes := encodeArgs(op.Args)
	_, _ = l.store.Chain().Append(ctx, events.WasmCall{Function: op.Function, ParamsBytes: paramsBytes})

	start := l.now()
	newState, results, err := l.instance.Call(callCtx, op.Function, l.store.State(), op.Args...)
	l.opMetrics.OperationCount++
	l.opMetrics.TotalDuration += l.now().Sub(start)

	if err != nil {
		if callCtx.Err() != nil {
			err = &TimeoutError{Function: op.Function, Timeout: timeout}
			_, _ = l.store.Chain().Append(ctx, events.WasmError{Function: op.Function, Message: err.Error()})
			l.opMetrics.ErrorCount++
			l.metrics.IncCounter("actor.operation.timeout", 1)
			op.Reply <- OperationResult{Err: err}
			return
		}

		// A guest trap: record, pause the actor (it needs operator
		// intervention to Resume, Update, or be terminated), and notify
		// upstream so the theater runtime can route an ActorError.
		_, _ = l.store.Chain().Append(ctx, events.WasmError{Function: op.Function, Message: err.Error()})
		l.opMetrics.ErrorCount++
		l.metrics.IncCounter("actor.operation.error", 1)
		l.setState(StatePaused)
		if l.onError != nil {
			l.onError(fmt.Errorf("actor: %q trapped: %w", op.Function, err))
		}
		op.Reply <- OperationResult{Err: err}
		return
	}

	l.store.SetState(newState)
	_, _ = l.store.Chain().Append(ctx, events.WasmResult{Function: op.Function, ResultBytes: encodeArgs(results)})
	l.opMetrics.SuccessCount++
	l.metrics.IncCounter("actor.operation.ok", 1)
	op.Reply <- OperationResult{Results: results}
}

// now is overridable in tests; defaults to the wall clock.
func (l *Loop) now() time.Time {
	if l.clock != nil {
		return l.clock()
	}
	return time.Now()
}

func encodeArgs(args []uint64) []byte {
	out := make([]byte, len(args)*8)
	for i, a := range args {
		for b := 0; b < 8; b++ {
			out[i*8+b] = byte(a >> (8 * b))
		}
	}
	return out
}

// ID returns the actor's identifier.
func (l *Loop) ID() id.ActorID { return l.actorID }

// CallExport implements supervisor.ExportCaller, letting the supervisor
// package dispatch child-exit callbacks into this actor without
// importing runtime/actor's full Loop type.
func (l *Loop) CallExport(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	reply := make(chan OperationResult, 1)
	select {
	case l.operationCh <- Operation{Function: name, Args: args, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.Results, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HasExport implements supervisor.ExportCaller.
func (l *Loop) HasExport(name string) bool {
	return l.instance.HasExport(name)
}

// --- theater.ActorHandle ---
//
// The methods below let *Loop be passed directly as a theater.ActorHandle
// to theater.Runtime (C11), so the wiring layer (see spawn.Spawner.Spawn) does
// not need its own adapter type.

// Status implements theater.ActorHandle. It reads the atomic state
// mirror rather than the loop-owned l.state, since this is called from
// the theater runtime goroutine, not the actor's own.
func (l *Loop) Status() theater.Status {
	switch State(l.statusVal.Load()) {
	case StateRunning:
		return theater.StatusRunning
	case StatePaused:
		return theater.StatusPaused
	case StateShuttingDown:
		return theater.StatusShuttingDown
	default:
		return theater.StatusStopped
	}
}

// Pause implements theater.ActorHandle.
func (l *Loop) Pause(ctx context.Context) error {
	select {
	case l.controlCh <- ControlPause:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume implements theater.ActorHandle.
func (l *Loop) Resume(ctx context.Context) error {
	select {
	case l.controlCh <- ControlResume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop implements theater.ActorHandle: a graceful shutdown that waits
// for the loop to drain its current operation and exit.
func (l *Loop) Stop(ctx context.Context) error {
	select {
	case l.controlCh <- ControlShutdown:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return nil
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State implements theater.ActorHandle: returns the actor's last
// committed state bytes without affecting it.
func (l *Loop) State(ctx context.Context) ([]byte, error) {
	resp, err := l.info(ctx, InfoGetState)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ChainEvents implements theater.ActorHandle: returns every event
// recorded so far, in append order.
func (l *Loop) ChainEvents(ctx context.Context) ([]chain.Event, error) {
	resp, err := l.info(ctx, InfoGetChain)
	if err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Metrics implements theater.ActorHandle: returns the aggregated
// per-operation duration and success/error counters, translated into
// theater's narrow ActorMetrics shape so theater need not import this
// package.
func (l *Loop) Metrics(ctx context.Context) (theater.ActorMetrics, error) {
	resp, err := l.info(ctx, InfoGetMetrics)
	if err != nil {
		return theater.ActorMetrics{}, err
	}
	return theater.ActorMetrics{
		OperationCount:  resp.Metrics.OperationCount,
		SuccessCount:    resp.Metrics.SuccessCount,
		ErrorCount:      resp.Metrics.ErrorCount,
		TotalDurationMS: resp.Metrics.TotalDuration.Milliseconds(),
	}, nil
}

func (l *Loop) info(ctx context.Context, kind InfoKind) (InfoResponse, error) {
	reply := make(chan InfoResponse, 1)
	select {
	case l.infoCh <- InfoRequest{Kind: kind, Reply: reply}:
	case <-ctx.Done():
		return InfoResponse{}, ctx.Err()
	case <-l.done:
		return InfoResponse{}, ErrShuttingDown
	}
	select {
	case resp := <-reply:
		return resp, nil
	case <-ctx.Done():
		return InfoResponse{}, ctx.Err()
	}
}

// Terminate implements theater.ActorHandle: a forced shutdown that
// cancels the loop's run context directly rather than waiting for the
// current operation to finish, per spec.md §4.6's "forced variant,
// shorter grace".
func (l *Loop) Terminate(ctx context.Context) error {
	l.cancelMu.Lock()
	cancel := l.cancel
	l.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
