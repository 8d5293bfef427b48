package manifest_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/theaterrun/theater/manifest"
)

const filesystemConfigSchema = `{
	"type": "object",
	"properties": {
		"allowed_paths": {
			"type": "array",
			"items": {"type": "string"}
		}
	},
	"required": ["allowed_paths"]
}`

func TestSchemaRegistryAcceptsValidConfig(t *testing.T) {
	t.Parallel()

	r := manifest.NewSchemaRegistry()
	require.NoError(t, r.Register("filesystem", []byte(filesystemConfigSchema)))

	h := manifest.HandlerConfig{
		Type:   "filesystem",
		Config: json.RawMessage(`{"allowed_paths": ["/data"]}`),
	}
	require.NoError(t, r.Validate(h))
}

func TestSchemaRegistryRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	r := manifest.NewSchemaRegistry()
	require.NoError(t, r.Register("filesystem", []byte(filesystemConfigSchema)))

	h := manifest.HandlerConfig{
		Type:   "filesystem",
		Config: json.RawMessage(`{}`),
	}
	require.Error(t, r.Validate(h))
}

func TestSchemaRegistryLeavesUnregisteredHandlerTypesUnvalidated(t *testing.T) {
	t.Parallel()

	r := manifest.NewSchemaRegistry()
	h := manifest.HandlerConfig{Type: "http-client", Config: json.RawMessage(`{"anything": true}`)}
	require.NoError(t, r.Validate(h))
}

func TestValidateHandlersChecksEveryConfiguredHandler(t *testing.T) {
	t.Parallel()

	r := manifest.NewSchemaRegistry()
	require.NoError(t, r.Register("filesystem", []byte(filesystemConfigSchema)))

	m := &manifest.Manifest{
		Name:      "counter",
		Component: "file:///actors/counter.wasm",
		Handlers: []manifest.HandlerConfig{
			{Type: "filesystem", Config: json.RawMessage(`{"allowed_paths": ["/data"]}`)},
			{Type: "supervisor"},
		},
	}
	require.NoError(t, m.ValidateHandlers(r))

	m.Handlers[0].Config = json.RawMessage(`{}`)
	require.Error(t, m.ValidateHandlers(r))
}
