package handler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/theaterrun/theater/component"
	"github.com/theaterrun/theater/handler"
	"github.com/theaterrun/theater/store"
)

type fakeHandler struct {
	name    string
	imports []string
}

func (h *fakeHandler) Name() string    { return h.name }
func (h *fakeHandler) Imports() []string { return h.imports }
func (h *fakeHandler) Exports() []string { return nil }
func (h *fakeHandler) SetupHostFunctions(ctx context.Context, linker component.Linker, s *store.Store) error {
	return nil
}
func (h *fakeHandler) AddExportFunctions(ctx context.Context, inst component.Instance, s *store.Store) error {
	return nil
}
func (h *fakeHandler) Start(ctx context.Context, s *store.Store) error { return nil }

func TestRegistryResolvesEachImportToOneHandler(t *testing.T) {
	t.Parallel()

	fs := &fakeHandler{name: "filesystem", imports: []string{"filesystem/read-file", "filesystem/write-file"}}
	random := &fakeHandler{name: "random", imports: []string{"random/bytes"}}

	reg, err := handler.NewRegistry(
		[]string{"filesystem/read-file", "filesystem/write-file", "random/bytes"},
		[]handler.Handler{fs, random},
		nil,
	)
	require.NoError(t, err)

	h, ok := reg.HandlerFor("filesystem/read-file")
	require.True(t, ok)
	require.Equal(t, "filesystem", h.Name())

	h, ok = reg.HandlerFor("random/bytes")
	require.True(t, ok)
	require.Equal(t, "random", h.Name())
}

func TestRegistryErrorsOnUnresolvedImport(t *testing.T) {
	t.Parallel()

	fs := &fakeHandler{name: "filesystem", imports: []string{"filesystem/read-file"}}
	_, err := handler.NewRegistry([]string{"filesystem/read-file", "process/spawn"}, []handler.Handler{fs}, nil)
	require.Error(t, err)
}

func TestReplayHandlerClaimsRemainingImports(t *testing.T) {
	t.Parallel()

	fs := &fakeHandler{name: "filesystem", imports: []string{"filesystem/read-file"}}
	replayHandler := &fakeHandler{name: "replay"}

	reg, err := handler.NewRegistry(
		[]string{"filesystem/read-file", "random/bytes", "timing/sleep"},
		[]handler.Handler{fs},
		replayHandler,
	)
	require.NoError(t, err)

	h, ok := reg.HandlerFor("random/bytes")
	require.True(t, ok)
	require.Equal(t, "replay", h.Name())

	h, ok = reg.HandlerFor("timing/sleep")
	require.True(t, ok)
	require.Equal(t, "replay", h.Name())
}

// In replay mode the replay handler must win an import it shares with a
// live handler: the live handler performing real I/O during a replay
// would defeat the recorded, I/O-free reproduction entirely.
func TestReplayHandlerInterceptsOverlappingImports(t *testing.T) {
	t.Parallel()

	fs := &fakeHandler{name: "filesystem", imports: []string{"filesystem/read-file"}}
	replayHandler := &fakeHandler{name: "replay", imports: []string{"filesystem/read-file"}}

	reg, err := handler.NewRegistry(
		[]string{"filesystem/read-file"},
		[]handler.Handler{fs},
		replayHandler,
	)
	require.NoError(t, err)

	h, ok := reg.HandlerFor("filesystem/read-file")
	require.True(t, ok)
	require.Equal(t, "replay", h.Name())

	// The replay handler is prepended, live handlers follow.
	require.Equal(t, "replay", reg.Handlers()[0].Name())
	require.Equal(t, "filesystem", reg.Handlers()[1].Name())
}

func TestRegistryErrorsWhenTwoHandlersClaimSameImport(t *testing.T) {
	t.Parallel()

	a := &fakeHandler{name: "a", imports: []string{"dup/call"}}
	b := &fakeHandler{name: "b", imports: []string{"dup/call"}}
	_, err := handler.NewRegistry([]string{"dup/call"}, []handler.Handler{a, b}, nil)
	require.Error(t, err)
}
