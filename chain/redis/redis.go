// Package redis is a chain.Store backed by a Redis stream per actor, for
// actors whose chain must survive a process restart without falling
// back to a full replay engine.
//
// Grounded on the append-only, sequence-ordered shape of
// _examples/goadesign-goa-ai/runtime/agent/runlog/inmem/inmem.go, adapted
// to XADD/XRANGE since a Redis stream already gives strictly ordered,
// append-only entries with a monotonic ID — exactly the ordering
// guarantee the chain's hash linkage depends on.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/theaterrun/theater/chain"
	"github.com/theaterrun/theater/id"
)

// Store implements chain.Store using Redis streams, one stream per actor
// keyed "theater:chain:<actor-id>".
type Store struct {
	client *goredis.Client
}

// New wraps an existing Redis client. The caller owns the client's
// lifecycle (theater never calls Close on it).
func New(client *goredis.Client) *Store {
	return &Store{client: client}
}

func streamKey(actor id.ActorID) string {
	return "theater:chain:" + actor.String()
}

// Append implements chain.Store via XADD.
func (s *Store) Append(ctx context.Context, actor id.ActorID, ev chain.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis chain: marshal event: %w", err)
	}
	if err := s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey(actor),
		Values: map[string]any{"event": b},
	}).Err(); err != nil {
		return fmt.Errorf("redis chain: xadd: %w", err)
	}
	return nil
}

// List implements chain.Store via XRANGE over the full stream.
func (s *Store) List(ctx context.Context, actor id.ActorID) ([]chain.Event, error) {
	msgs, err := s.client.XRange(ctx, streamKey(actor), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("redis chain: xrange: %w", err)
	}
	out := make([]chain.Event, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["event"].(string)
		if !ok {
			return nil, fmt.Errorf("redis chain: message %s missing event field", m.ID)
		}
		var ev chain.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("redis chain: unmarshal message %s: %w", m.ID, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Head implements chain.Store via the last entry of an XREVRANGE COUNT 1.
func (s *Store) Head(ctx context.Context, actor id.ActorID) (id.EventHash, error) {
	msgs, err := s.client.XRevRangeN(ctx, streamKey(actor), "+", "-", 1).Result()
	if err != nil {
		return id.EventHash{}, fmt.Errorf("redis chain: xrevrange: %w", err)
	}
	if len(msgs) == 0 {
		return id.EventHash{}, chain.ErrEmptyChain
	}
	raw, ok := msgs[0].Values["event"].(string)
	if !ok {
		return id.EventHash{}, fmt.Errorf("redis chain: message %s missing event field", msgs[0].ID)
	}
	var ev chain.Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return id.EventHash{}, fmt.Errorf("redis chain: unmarshal message %s: %w", msgs[0].ID, err)
	}
	return ev.Hash, nil
}
