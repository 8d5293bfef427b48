// Package id provides theater's identifiers: actor IDs derived from a
// digest of the manifest bytes and a random nonce, and the
// collision-resistant chain event hash used to link the event chain (C1).
//
// Grounded on _examples/steveyegge-beads/internal/idgen/hash.go (sha256 +
// stable textual encoding of a hash-derived identifier) and
// _examples/original_source/crates/theater/src/id.rs. Because of the
// random nonce, an actor ID cannot be recomputed from the manifest
// alone, and two actors spawned from the same manifest get different IDs.
package id

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ActorID uniquely identifies an actor instance. It is derived from the
// manifest bytes and a process-unique nonce so that two actors started
// from the same manifest never collide.
type ActorID string

// NewActorID derives an ActorID from manifest bytes and a random nonce.
// The nonce comes from uuid.New() rather than a counter: actor creation
// is not necessarily sequenced across a single authority (a supervisor
// may spawn children concurrently), so a process-wide counter would
// itself need synchronization for no benefit over a random nonce.
func NewActorID(manifestBytes []byte) ActorID {
	nonce := uuid.New()
	h := sha256.New()
	h.Write(manifestBytes)
	h.Write(nonce[:])
	return ActorID(hex.EncodeToString(h.Sum(nil))[:32])
}

// String returns the textual form of the ID.
func (id ActorID) String() string { return string(id) }

// EventHash is the digest linking one chain event to its parent.
type EventHash [32]byte

// ZeroHash is the parent hash of the first event in a chain.
var ZeroHash EventHash

// String renders the hash as lowercase hex.
func (h EventHash) String() string { return hex.EncodeToString(h[:]) }

// MarshalJSON renders the hash as a hex string rather than a JSON array
// of bytes, matching the chain file format's textual hash fields.
func (h EventHash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON parses a hex string hash.
func (h *EventHash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseEventHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// HashEvent computes the hash for a chain event given its parent hash,
// event type tag, and serialized payload. The digest covers
// parent_hash || event_type || data so that altering any earlier event,
// reordering events, or retagging an event's type is detectable by a
// verifier that recomputes hashes from the recorded parent forward.
func HashEvent(parent EventHash, eventType string, data []byte) EventHash {
	h := sha256.New()
	h.Write(parent[:])
	h.Write([]byte(eventType))
	h.Write(data)
	var out EventHash
	copy(out[:], h.Sum(nil))
	return out
}

// ParseEventHash decodes a hex-encoded event hash, as read back from a
// persisted chain file or a replay fixture.
func ParseEventHash(s string) (EventHash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return EventHash{}, fmt.Errorf("parse event hash %q: %w", s, err)
	}
	if len(b) != len(EventHash{}) {
		return EventHash{}, fmt.Errorf("parse event hash %q: want %d bytes, got %d", s, len(EventHash{}), len(b))
	}
	var out EventHash
	copy(out[:], b)
	return out, nil
}
