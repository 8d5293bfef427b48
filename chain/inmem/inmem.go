// Package inmem is an in-memory chain.Store, for tests and actors that
// don't request save_chain persistence.
//
// Grounded on
// _examples/goadesign-goa-ai/runtime/agent/runlog/inmem/inmem.go (per-key
// mutex-guarded append-only slice), generalized from per-run-ID to
// per-actor-ID and dropping the pagination cursor since chain.Store's
// contract is "return everything" (replay always needs the full chain).
package inmem

import (
	"context"
	"fmt"
	"sync"

	"github.com/theaterrun/theater/chain"
	"github.com/theaterrun/theater/id"
)

// Store implements chain.Store in memory.
type Store struct {
	mu     sync.Mutex
	events map[id.ActorID][]chain.Event
}

// New returns a new in-memory chain store.
func New() *Store {
	return &Store{events: make(map[id.ActorID][]chain.Event)}
}

// Append implements chain.Store.
func (s *Store) Append(_ context.Context, actor id.ActorID, ev chain.Event) error {
	if actor == "" {
		return fmt.Errorf("inmem: actor id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[actor] = append(s.events[actor], ev)
	return nil
}

// List implements chain.Store.
func (s *Store) List(_ context.Context, actor id.ActorID) ([]chain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.events[actor]
	out := make([]chain.Event, len(all))
	copy(out, all)
	return out, nil
}

// Head implements chain.Store.
func (s *Store) Head(_ context.Context, actor id.ActorID) (id.EventHash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.events[actor]
	if len(all) == 0 {
		return id.EventHash{}, chain.ErrEmptyChain
	}
	return all[len(all)-1].Hash, nil
}
