// Package mongo is a chain.Store backed by MongoDB, intended for
// archival and cross-actor query access to historical chains (e.g.
// operator tooling listing every HostFunctionCall event across many
// actors by interface/function) rather than as a hot write path — a
// document store suits the heterogeneous per-event-type Data payloads
// better than a fixed relational schema would.
package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/theaterrun/theater/chain"
	"github.com/theaterrun/theater/id"
)

type doc struct {
	Actor      string `bson:"actor"`
	Seq        int64  `bson:"seq"`
	ParentHash string `bson:"parent_hash"`
	Hash       string `bson:"hash"`
	EventType  string `bson:"event_type"`
	Data       []byte `bson:"data"`
	Timestamp  int64  `bson:"timestamp"`
}

// Store implements chain.Store against a single MongoDB collection
// holding events for every actor, partitioned by the actor field.
type Store struct {
	coll *mongo.Collection
}

// New wraps an existing collection. The caller is responsible for
// creating a compound index on (actor, seq) for efficient List/Head.
func New(coll *mongo.Collection) *Store {
	return &Store{coll: coll}
}

// Append implements chain.Store.
func (s *Store) Append(ctx context.Context, actor id.ActorID, ev chain.Event) error {
	_, err := s.coll.InsertOne(ctx, doc{
		Actor:      actor.String(),
		Seq:        ev.Seq,
		ParentHash: ev.ParentHash.String(),
		Hash:       ev.Hash.String(),
		EventType:  ev.EventType,
		Data:       ev.Data,
		Timestamp:  ev.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("mongo chain: insert: %w", err)
	}
	return nil
}

// List implements chain.Store, ordered by sequence number.
func (s *Store) List(ctx context.Context, actor id.ActorID) ([]chain.Event, error) {
	cur, err := s.coll.Find(ctx, bson.M{"actor": actor.String()}, options.Find().SetSort(bson.M{"seq": 1}))
	if err != nil {
		return nil, fmt.Errorf("mongo chain: find: %w", err)
	}
	defer cur.Close(ctx)

	var out []chain.Event
	for cur.Next(ctx) {
		var d doc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("mongo chain: decode: %w", err)
		}
		ev, err := toEvent(d)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, cur.Err()
}

// Head implements chain.Store.
func (s *Store) Head(ctx context.Context, actor id.ActorID) (id.EventHash, error) {
	var d doc
	err := s.coll.FindOne(ctx, bson.M{"actor": actor.String()}, options.FindOne().SetSort(bson.M{"seq": -1})).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return id.EventHash{}, chain.ErrEmptyChain
	}
	if err != nil {
		return id.EventHash{}, fmt.Errorf("mongo chain: find one: %w", err)
	}
	return id.ParseEventHash(d.Hash)
}

func toEvent(d doc) (chain.Event, error) {
	parent, err := id.ParseEventHash(d.ParentHash)
	if err != nil {
		return chain.Event{}, fmt.Errorf("mongo chain: parse parent hash: %w", err)
	}
	hash, err := id.ParseEventHash(d.Hash)
	if err != nil {
		return chain.Event{}, fmt.Errorf("mongo chain: parse hash: %w", err)
	}
	return chain.Event{
		Seq:        d.Seq,
		ParentHash: parent,
		Hash:       hash,
		EventType:  d.EventType,
		Data:       d.Data,
		Timestamp:  d.Timestamp,
	}, nil
}
