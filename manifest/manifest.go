// Package manifest implements the actor manifest & config (C5): the
// declarative description of an actor loaded at spawn time.
//
// Grounded on the tagged type-spec pattern in
// _examples/goadesign-goa-ai/runtime/agent/tools/{spec.go,tools.go} (a
// struct carrying a named shape plus codec), and on
// _examples/original_source/src/cli/manifest.rs for the manifest's exact
// field set and its TOML-first, JSON-fallback decoding.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/theaterrun/theater/permission"
)

// ComponentRef identifies where to load the actor's WASM component from:
// a blob-store key, a URL, or a filesystem path. Theater does not
// interpret the scheme itself (resolving blob-store keys is a host
// capability handler's job, out of scope per spec.md's Non-goals); it is
// opaque to everything except the component loader (C8).
type ComponentRef string

// InitState is the optional seed for an actor's state bytes: inline
// JSON, a filesystem path, or a blob reference, disambiguated by Kind.
type InitState struct {
	Kind  string `json:"kind" yaml:"kind" toml:"kind"` // "inline" | "path" | "blob"
	Value string `json:"value" yaml:"value" toml:"value"`
}

// HandlerConfig is a tagged variant, one per capability, carrying that
// capability's narrow manifest-level configuration. Only Type is
// required by theater itself; Config is handler-specific and is decoded
// lazily (json.RawMessage) so new handler kinds don't require changes
// here, matching the registry's own extensibility (C6).
type HandlerConfig struct {
	Type   string          `json:"type" yaml:"type" toml:"type"`
	Config json.RawMessage `json:"config,omitempty" yaml:"config,omitempty" toml:"config,omitempty"`
}

// Manifest is the full declarative description of an actor.
type Manifest struct {
	Name      string       `json:"name" yaml:"name" toml:"name"`
	Component ComponentRef `json:"component" yaml:"component" toml:"component"`
	SaveChain bool         `json:"save_chain" yaml:"save_chain" toml:"save_chain"`
	InitState *InitState   `json:"init_state,omitempty" yaml:"init_state,omitempty" toml:"init_state,omitempty"`

	// Permissions grants this actor's own capabilities; nil means "use
	// the root grant" (only valid for an actor with no parent).
	// InheritancePolicy governs what a *child* spawned by this actor may
	// inherit from Permissions. Both round-trip through every supported
	// format using the field names of permission.HandlerPermission and
	// permission.Policy directly, since those types carry no format tags
	// of their own.
	Permissions       *permission.HandlerPermission `json:"permissions,omitempty" yaml:"permissions,omitempty" toml:"permissions,omitempty"`
	InheritancePolicy permission.Policy              `json:"inheritance_policy,omitempty" yaml:"inheritance_policy,omitempty" toml:"inheritance_policy,omitempty"`

	Handlers []HandlerConfig `json:"handlers" yaml:"handlers" toml:"handlers"`
}

// Parse decodes a manifest from bytes of unspecified format: TOML first
// (the primary format), then JSON, then YAML. Used by callers handed
// raw manifest bytes over a command channel, where the on-disk
// extension is no longer available to pick a decoder.
func Parse(data []byte) (*Manifest, error) {
	if m, err := ParseTOML(data); err == nil {
		return m, nil
	}
	if m, err := ParseJSON(data); err == nil {
		return m, nil
	}
	m, err := ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("manifest: parse: not valid TOML, JSON, or YAML: %w", err)
	}
	return m, nil
}

// ParseTOML decodes a manifest from TOML bytes, the original Theater's
// primary manifest format.
func ParseTOML(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse toml: %w", err)
	}
	if err := m.validateShape(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseYAML decodes a manifest from YAML bytes.
func ParseYAML(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("manifest: parse yaml: %w", err)
	}
	if err := m.validateShape(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseJSON decodes a manifest from JSON bytes.
func ParseJSON(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse json: %w", err)
	}
	if err := m.validateShape(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validateShape() error {
	if m.Name == "" {
		return fmt.Errorf("manifest: name is required")
	}
	if m.Component == "" {
		return fmt.Errorf("manifest: component is required")
	}
	for i, h := range m.Handlers {
		if h.Type == "" {
			return fmt.Errorf("manifest: handlers[%d]: type is required", i)
		}
	}
	return nil
}

// HandlerByType returns the first HandlerConfig of the given type, or
// false if the manifest doesn't configure that handler.
func (m *Manifest) HandlerByType(t string) (HandlerConfig, bool) {
	for _, h := range m.Handlers {
		if h.Type == t {
			return h, true
		}
	}
	return HandlerConfig{}, false
}
