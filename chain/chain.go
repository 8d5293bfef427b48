// Package chain implements the actor event chain (C3): an append-only,
// hash-linked log of typed event payloads.
//
// Grounded on _examples/goadesign-goa-ai/runtime/agent/runlog/runlog.go
// (Event/Page/Store shape, cursor-based List) generalized with the hash
// linkage from _examples/original_source/crates/theater/src/chain.rs and
// events/mod.rs (parent_hash -> hash chain, verify()).
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/theaterrun/theater/events"
	"github.com/theaterrun/theater/id"
)

// ErrEmptyChain is returned by Head when the chain has no events yet.
var ErrEmptyChain = errors.New("chain: empty")

// ErrVerificationFailed is returned by Verify when recomputed hashes
// diverge from what is stored, meaning some event was mutated, removed,
// reordered, or retagged after being appended.
var ErrVerificationFailed = errors.New("chain: verification failed")

// Event is one entry in an actor's chain. Data is the canonical JSON
// serialization of the typed payload identified by EventType.
type Event struct {
	Seq        int64        `json:"seq"`
	ParentHash id.EventHash `json:"parent_hash"`
	Hash       id.EventHash `json:"hash"`
	EventType  string       `json:"event_type"`
	Data       []byte       `json:"data"`
	// Timestamp is Unix milliseconds at the time the event was
	// appended, used by GetEventsSince for the actor store's (C4)
	// time-windowed query. It is not covered by Hash: the hash chain's
	// job is tamper-evidence over event content and ordering, and two
	// independent stores replaying the same Append calls would
	// otherwise never agree on wall-clock timestamps down to the
	// millisecond.
	Timestamp int64 `json:"timestamp"`
}

// Store persists a single actor's chain. Implementations must preserve
// append order and must never allow Append to succeed out of order: the
// hash of event N always depends on event N-1's hash, so a store that
// reordered writes would silently corrupt the chain for every later
// verifier.
type Store interface {
	Append(ctx context.Context, actor id.ActorID, ev Event) error
	List(ctx context.Context, actor id.ActorID) ([]Event, error)
	Head(ctx context.Context, actor id.ActorID) (id.EventHash, error)
}

// Chain is the in-process, RW-locked view over a single actor's event
// log, matching the actor store's `chain (RW-locked)` field in the data
// model. Writers take the write path (Append); readers (replay,
// introspection commands) take List/Verify concurrently with writers via
// the underlying Store's own concurrency guarantees — Chain itself adds
// no locking beyond what is needed to serialize the read-modify-write of
// computing the next hash.
type Chain struct {
	actor id.ActorID
	store Store
	clock func() time.Time

	mu   sync.RWMutex
	head id.EventHash
	seq  int64
}

// New constructs a Chain for actor backed by store. If the store already
// has events for actor (e.g. resuming a persisted chain), the chain's
// head and sequence are recovered from them.
func New(ctx context.Context, actor id.ActorID, store Store) (*Chain, error) {
	c := &Chain{actor: actor, store: store, head: id.ZeroHash, clock: time.Now}
	existing, err := store.List(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("chain: list existing events: %w", err)
	}
	if len(existing) > 0 {
		last := existing[len(existing)-1]
		c.head = last.Hash
		c.seq = last.Seq
	}
	return c, nil
}

// Append computes the next event's hash from the current head and the
// payload's type and data, then persists it and advances the head.
func (c *Chain) Append(ctx context.Context, payload events.Payload) (Event, error) {
	data, err := events.Encode(payload)
	if err != nil {
		return Event{}, fmt.Errorf("chain: encode payload: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	eventType := payload.EventType()
	hash := id.HashEvent(c.head, eventType, data)
	ev := Event{
		Seq:        c.seq + 1,
		ParentHash: c.head,
		Hash:       hash,
		EventType:  eventType,
		Data:       data,
		Timestamp:  c.clock().UnixMilli(),
	}
	if err := c.store.Append(ctx, c.actor, ev); err != nil {
		return Event{}, fmt.Errorf("chain: append: %w", err)
	}
	c.head = hash
	c.seq = ev.Seq
	return ev, nil
}

// Head returns the hash of the most recently appended event.
func (c *Chain) Head() (id.EventHash, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.seq == 0 {
		return id.EventHash{}, ErrEmptyChain
	}
	return c.head, nil
}

// List returns every event recorded so far, oldest first.
func (c *Chain) List(ctx context.Context) ([]Event, error) {
	return c.store.List(ctx, c.actor)
}

// Verify recomputes every event's hash from its recorded parent, type,
// and data, and confirms the chain of parent_hash -> hash links holds.
// It returns the index of the first divergent event (or len(events) if
// all events verify) and a non-nil error when any event fails to verify.
func Verify(chainEvents []Event) (divergedAt int, err error) {
	parent := id.ZeroHash
	for i, ev := range chainEvents {
		if ev.ParentHash != parent {
			return i, fmt.Errorf("%w: event %d: parent_hash %s != expected %s", ErrVerificationFailed, i, ev.ParentHash, parent)
		}
		want := id.HashEvent(ev.ParentHash, ev.EventType, ev.Data)
		if want != ev.Hash {
			return i, fmt.Errorf("%w: event %d: hash %s != recomputed %s", ErrVerificationFailed, i, ev.Hash, want)
		}
		parent = ev.Hash
	}
	return len(chainEvents), nil
}
