// Package store implements the per-actor shared context (C4): the
// bundle of state every running actor instance carries and that host
// functions reach into during a call.
//
// Grounded on _examples/original_source/crates/theater/src/actor/store.rs's
// ActorStore<E> struct (id, theater_tx, chain, state, actor_handle,
// resource_table, extensions), adapted to Go's channel and RWMutex
// idioms the way
// _examples/goadesign-goa-ai/runtime/agent/session manages per-session
// shared state.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/theaterrun/theater/chain"
	"github.com/theaterrun/theater/events"
	"github.com/theaterrun/theater/id"
)

// typeForT mirrors reflect.TypeFor, unavailable on the Go toolchain
// this module is built with.
func typeForT[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// ResourceTable holds WASM Component Model resource handles owned or
// borrowed by an actor instance. Table-by-type-name mirrors wazero's own
// opaque-handle convention; drop semantics are enforced at Drop time
// rather than via finalizers, since guest code must explicitly drop
// resources per the Component Model ABI.
type ResourceTable struct {
	mu      sync.Mutex
	handles map[uint64]resourceEntry
	nextID  uint64
}

type resourceEntry struct {
	typeName string
	value    any
	borrowed bool
}

// NewResourceTable constructs an empty resource table.
func NewResourceTable() *ResourceTable {
	return &ResourceTable{handles: make(map[uint64]resourceEntry)}
}

// Own registers a newly created owned resource and returns its handle.
func (t *ResourceTable) Own(typeName string, value any) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	h := t.nextID
	t.handles[h] = resourceEntry{typeName: typeName, value: value}
	return h
}

// Borrow registers a borrowed resource handle that must be released
// before the call that created it returns, per Component Model borrow
// semantics.
func (t *ResourceTable) Borrow(typeName string, value any) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	h := t.nextID
	t.handles[h] = resourceEntry{typeName: typeName, value: value, borrowed: true}
	return h
}

// Get returns the value registered under handle.
func (t *ResourceTable) Get(handle uint64) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.handles[handle]
	return e.value, ok
}

// Drop releases a handle. Dropping an unknown handle is a caller bug and
// returns an error rather than silently succeeding.
func (t *ResourceTable) Drop(handle uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.handles[handle]; !ok {
		return fmt.Errorf("store: drop of unknown resource handle %d", handle)
	}
	delete(t.handles, handle)
	return nil
}

// BorrowedHandles returns handles still marked borrowed, letting a
// caller detect a guest that returned without releasing a borrow (a
// trappable Component Model violation). The runtime loop does not call
// it.
func (t *ResourceTable) BorrowedHandles() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []uint64
	for h, e := range t.handles {
		if e.borrowed {
			out = append(out, h)
		}
	}
	return out
}

// CommandSender abstracts the channel back to the owning theater runtime
// (C11) that host functions use to issue supervisor-adjacent operations
// (spawning a child, looking up another actor) without importing the
// theater package directly, avoiding an import cycle.
type CommandSender interface {
	Send(ctx context.Context, cmd any) error
}

// Store is the shared, per-actor-instance context threaded through
// every host-function call: the actor's identity, its hash-chained
// event log, its last-committed state bytes, its resource table, and a
// type-keyed extension map for handler-specific side state (mirroring
// the Rust store's `extensions: HashMap<TypeId, Box<dyn Any>>`).
type Store struct {
	id        id.ActorID
	theaterTx CommandSender

	mu    sync.RWMutex
	chain *chain.Chain
	state []byte

	resources *ResourceTable

	extMu      sync.RWMutex
	extensions map[reflect.Type]any
}

// New constructs a Store for the given actor, backed by c for its event
// chain and tx for issuing commands back to the owning theater runtime.
func New(actorID id.ActorID, c *chain.Chain, tx CommandSender) *Store {
	return &Store{
		id:         actorID,
		theaterTx:  tx,
		chain:      c,
		resources:  NewResourceTable(),
		extensions: make(map[reflect.Type]any),
	}
}

// ID returns the owning actor's identifier.
func (s *Store) ID() id.ActorID { return s.id }

// TheaterTx returns the channel back to the owning theater runtime.
func (s *Store) TheaterTx() CommandSender { return s.theaterTx }

// Chain returns the actor's hash-chained event log.
func (s *Store) Chain() *chain.Chain { return s.chain }

// Resources returns the actor's Component Model resource table.
func (s *Store) Resources() *ResourceTable { return s.resources }

// State returns a copy of the actor's last-committed state bytes.
func (s *Store) State() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return nil
	}
	out := make([]byte, len(s.state))
	copy(out, s.state)
	return out
}

// SetState replaces the actor's committed state bytes.
func (s *Store) SetState(state []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// RecordEvent appends an arbitrary payload to the actor's chain,
// mirroring actor/store.rs's record_event: the one place any handler
// or the runtime loop writes to the chain.
func (s *Store) RecordEvent(ctx context.Context, payload events.Payload) (chain.Event, error) {
	return s.chain.Append(ctx, payload)
}

// RecordHandlerEvent wraps an application handler's event under kind
// and appends it, mirroring actor/store.rs's record_handler_event<H>.
// Go has no compile-time From<H> conversion to enforce, so the
// encoding happens once here via events.NewHandlerEvent rather than
// per call site.
func (s *Store) RecordHandlerEvent(ctx context.Context, kind string, handlerEvent any) (chain.Event, error) {
	h, err := events.NewHandlerEvent(kind, handlerEvent)
	if err != nil {
		return chain.Event{}, fmt.Errorf("store: record handler event %q: %w", kind, err)
	}
	return s.chain.Append(ctx, h)
}

// RecordHostFunctionCall appends a HostFunctionCall event, the single
// standardized path for any intercepted host call (spec.md §4.2/§4.4).
// input and output are marshaled to the SerializableValue domain via
// events.FromJSON, mirroring actor/store.rs's
// record_host_function_call<I, O>.
func (s *Store) RecordHostFunctionCall(ctx context.Context, iface, function string, input, output any) (chain.Event, error) {
	in, err := toSerializable(input)
	if err != nil {
		return chain.Event{}, fmt.Errorf("store: record host function call %s/%s: encode input: %w", iface, function, err)
	}
	out, err := toSerializable(output)
	if err != nil {
		return chain.Event{}, fmt.Errorf("store: record host function call %s/%s: encode output: %w", iface, function, err)
	}
	return s.chain.Append(ctx, events.HostFunctionCall{
		Interface: iface,
		Function:  function,
		Input:     in,
		Output:    out,
	})
}

func toSerializable(v any) (events.SerializableValue, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return events.SerializableValue{}, err
	}
	return events.FromJSON(data)
}

// GetEventsByType returns every recorded event whose EventType matches,
// in append order, mirroring actor/store.rs's get_events_by_type.
func (s *Store) GetEventsByType(ctx context.Context, eventType string) ([]chain.Event, error) {
	all, err := s.chain.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []chain.Event
	for _, ev := range all {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out, nil
}

// GetRecentEvents returns at most n of the most recently appended
// events, newest first, mirroring actor/store.rs's get_recent_events.
func (s *Store) GetRecentEvents(ctx context.Context, n int) ([]chain.Event, error) {
	all, err := s.chain.List(ctx)
	if err != nil {
		return nil, err
	}
	if n > len(all) {
		n = len(all)
	}
	out := make([]chain.Event, n)
	for i := 0; i < n; i++ {
		out[i] = all[len(all)-1-i]
	}
	return out, nil
}

// GetEventsSince returns every event recorded strictly after sinceMS
// (Unix milliseconds), mirroring actor/store.rs's get_events_since.
func (s *Store) GetEventsSince(ctx context.Context, sinceMS int64) ([]chain.Event, error) {
	all, err := s.chain.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []chain.Event
	for _, ev := range all {
		if ev.Timestamp > sinceMS {
			out = append(out, ev)
		}
	}
	return out, nil
}

// HasEventType reports whether the chain contains any event of the
// given type, mirroring actor/store.rs's has_event_type.
func (s *Store) HasEventType(ctx context.Context, eventType string) (bool, error) {
	all, err := s.chain.List(ctx)
	if err != nil {
		return false, err
	}
	for _, ev := range all {
		if ev.EventType == eventType {
			return true, nil
		}
	}
	return false, nil
}

// Extension returns the extension value registered for T, if any.
func Extension[T any](s *Store) (T, bool) {
	s.extMu.RLock()
	defer s.extMu.RUnlock()
	var zero T
	v, ok := s.extensions[typeForT[T]()]
	if !ok {
		return zero, false
	}
	return v.(T), true
}

// SetExtension registers value under its own type, replacing any
// previous registration for that type. Used by handlers (C6) to stash
// handler-specific per-actor state (e.g. an HTTP framework handler's
// listener registry) without Store needing to know about it.
func SetExtension[T any](s *Store, value T) {
	s.extMu.Lock()
	defer s.extMu.Unlock()
	s.extensions[typeForT[T]()] = value
}

// HasExtension reports whether a value is registered for T, mirroring
// actor/store.rs's has_extension<T>.
func HasExtension[T any](s *Store) bool {
	s.extMu.RLock()
	defer s.extMu.RUnlock()
	_, ok := s.extensions[typeForT[T]()]
	return ok
}

// RemoveExtension deletes and returns the value registered for T, if
// any, mirroring actor/store.rs's remove_extension<T>.
func RemoveExtension[T any](s *Store) (T, bool) {
	s.extMu.Lock()
	defer s.extMu.Unlock()
	var zero T
	typ := typeForT[T]()
	v, ok := s.extensions[typ]
	if !ok {
		return zero, false
	}
	delete(s.extensions, typ)
	return v.(T), true
}
