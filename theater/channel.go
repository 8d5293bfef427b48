package theater

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/theaterrun/theater/id"
)

// ChannelID identifies a direct actor-to-actor channel, distinct from
// the theater-wide command channel: supplements the original's
// get_channel_status/list_channels bookkeeping (theater_runtime.rs),
// which this runtime models as a side table rather than inline fields
// on ActorProcess to keep the common spawn/stop path uncluttered.
//
// The ID is content-addressed: a digest over both participants plus a
// per-open nonce, so two channels between the same pair remain
// distinguishable while the ID still commits to who the endpoints are.
type ChannelID string

// ChannelParticipant is one endpoint of a channel: a local actor, or an
// external endpoint identified by an opaque tag (a management
// connection, a CLI session). Exactly one of the two fields is set.
type ChannelParticipant struct {
	Actor    id.ActorID
	External string
}

// ActorParticipant builds the participant record for a local actor.
func ActorParticipant(actorID id.ActorID) ChannelParticipant {
	return ChannelParticipant{Actor: actorID}
}

// ExternalParticipant builds the participant record for an external
// endpoint.
func ExternalParticipant(tag string) ChannelParticipant {
	return ChannelParticipant{External: tag}
}

func (p ChannelParticipant) key() string {
	if p.External != "" {
		return "external:" + p.External
	}
	return "actor:" + string(p.Actor)
}

// ChannelStatus is a channel's lifecycle state.
type ChannelStatus string

const (
	ChannelOpen   ChannelStatus = "open"
	ChannelClosed ChannelStatus = "closed"
)

type channelRecord struct {
	id        ChannelID
	initiator ChannelParticipant
	target    ChannelParticipant
	status    ChannelStatus
}

// Channels tracks direct actor-to-actor channels, exposed through
// Runtime.Channels. No host interface opens channels on it.
type Channels struct {
	mu   sync.Mutex
	byID map[ChannelID]*channelRecord
}

// NewChannels constructs an empty channel table.
func NewChannels() *Channels {
	return &Channels{byID: make(map[ChannelID]*channelRecord)}
}

// Open creates a new channel between initiator and target.
func (c *Channels) Open(initiator, target ChannelParticipant) ChannelID {
	c.mu.Lock()
	defer c.mu.Unlock()
	nonce := uuid.New()
	h := sha256.New()
	h.Write([]byte(initiator.key()))
	h.Write([]byte{0})
	h.Write([]byte(target.key()))
	h.Write(nonce[:])
	cid := ChannelID(hex.EncodeToString(h.Sum(nil))[:32])
	c.byID[cid] = &channelRecord{id: cid, initiator: initiator, target: target, status: ChannelOpen}
	return cid
}

// Close marks a channel closed. Closing an unknown or already-closed
// channel is an error.
func (c *Channels) Close(cid ChannelID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byID[cid]
	if !ok {
		return fmt.Errorf("theater: channel %s not found", cid)
	}
	if rec.status == ChannelClosed {
		return fmt.Errorf("theater: channel %s already closed", cid)
	}
	rec.status = ChannelClosed
	return nil
}

// Status returns a channel's current status.
func (c *Channels) Status(cid ChannelID) (ChannelStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byID[cid]
	if !ok {
		return "", fmt.Errorf("theater: channel %s not found", cid)
	}
	return rec.status, nil
}

// Participants returns a channel's two endpoints.
func (c *Channels) Participants(cid ChannelID) (initiator, target ChannelParticipant, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byID[cid]
	if !ok {
		return ChannelParticipant{}, ChannelParticipant{}, fmt.Errorf("theater: channel %s not found", cid)
	}
	return rec.initiator, rec.target, nil
}

// List returns every channel's ID and status.
func (c *Channels) List() map[ChannelID]ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[ChannelID]ChannelStatus, len(c.byID))
	for cid, rec := range c.byID {
		out[cid] = rec.status
	}
	return out
}

// PurgeParticipant closes every open channel the given actor is an
// endpoint of, invoked when the actor is removed from the registry so
// stopped actors do not linger in channel listings.
func (c *Channels) PurgeParticipant(actorID id.ActorID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range c.byID {
		if rec.status == ChannelOpen && (rec.initiator.Actor == actorID || rec.target.Actor == actorID) {
			rec.status = ChannelClosed
		}
	}
}
