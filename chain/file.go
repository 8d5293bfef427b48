package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/theaterrun/theater/id"
)

// FilePath returns the deterministic location of an actor's persisted
// chain under dir. The name is derived from the actor ID alone so a
// replay run can find a recording given nothing but the ID.
func FilePath(dir string, actor id.ActorID) string {
	return filepath.Join(dir, actor.String()+".chain.json")
}

// SaveFile writes chainEvents as a JSON array to FilePath(dir, actor),
// creating dir if needed. The write goes through a temp file and rename
// so a crash mid-write never leaves a truncated chain where a later
// replay would read it.
func SaveFile(dir string, actor id.ActorID, chainEvents []Event) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("chain: create chains dir %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(chainEvents, "", "  ")
	if err != nil {
		return fmt.Errorf("chain: encode chain for %s: %w", actor, err)
	}
	path := FilePath(dir, actor)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("chain: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("chain: rename %s: %w", tmp, err)
	}
	return nil
}

// LoadFile reads a persisted chain back from FilePath(dir, actor),
// verbatim, in recorded order. It does not verify the chain; callers
// that need tamper detection run Verify on the result (the replay
// engine does this at construction).
func LoadFile(dir string, actor id.ActorID) ([]Event, error) {
	path := FilePath(dir, actor)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("chain: read %s: %w", path, err)
	}
	var out []Event
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("chain: decode %s: %w", path, err)
	}
	return out, nil
}

// Save persists the chain's current events to dir, keyed by the owning
// actor's ID, per the manifest's save_chain request. Invoked by the
// actor runtime loop during shutdown when the manifest asks for it.
func (c *Chain) Save(ctx context.Context, dir string) error {
	evs, err := c.store.List(ctx, c.actor)
	if err != nil {
		return fmt.Errorf("chain: save: %w", err)
	}
	return SaveFile(dir, c.actor, evs)
}
