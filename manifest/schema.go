package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaRegistry holds one compiled JSON Schema per handler type,
// letting a deployment reject a manifest whose handler config doesn't
// match what that handler expects before any actor is ever spawned,
// rather than failing deep inside SetupHostFunctions.
type SchemaRegistry struct {
	mu       sync.RWMutex
	compiler *jsonschema.Compiler
	schemas  map[string]*jsonschema.Schema
}

// NewSchemaRegistry returns an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{
		compiler: jsonschema.NewCompiler(),
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// Register compiles schemaJSON and associates it with handlerType. A
// second call for the same handlerType replaces the previous schema.
func (r *SchemaRegistry) Register(handlerType string, schemaJSON []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return fmt.Errorf("manifest: parse schema for handler %q: %w", handlerType, err)
	}

	url := "mem://handler/" + handlerType
	r.mu.Lock()
	defer r.mu.Unlock()

	// Each handler type gets its own compiler instance so re-registering
	// a schema (e.g. in tests) never collides with a resource URL
	// already added to a shared compiler.
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return fmt.Errorf("manifest: add schema resource for handler %q: %w", handlerType, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("manifest: compile schema for handler %q: %w", handlerType, err)
	}
	r.schemas[handlerType] = sch
	return nil
}

// Validate checks h.Config against the schema registered for h.Type.
// A handler type with no registered schema is left unvalidated, since
// not every handler requires a config schema.
func (r *SchemaRegistry) Validate(h HandlerConfig) error {
	r.mu.RLock()
	sch, ok := r.schemas[h.Type]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	var v any
	if len(h.Config) == 0 {
		v = map[string]any{}
	} else if err := json.Unmarshal(h.Config, &v); err != nil {
		return fmt.Errorf("manifest: handler %q: config is not valid JSON: %w", h.Type, err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("manifest: handler %q: config failed schema validation: %w", h.Type, err)
	}
	return nil
}

// ValidateHandlers validates every handler config in m against r,
// returning the first failure encountered.
func (m *Manifest) ValidateHandlers(r *SchemaRegistry) error {
	for _, h := range m.Handlers {
		if err := r.Validate(h); err != nil {
			return err
		}
	}
	return nil
}
