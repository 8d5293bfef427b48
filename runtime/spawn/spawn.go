// Package spawn composes an actor process out of the runtime's parts:
// it is the theater.Spawner implementation that turns a SpawnRequest's
// manifest bytes into a running runtime/actor.Loop — parse the
// manifest, compute effective permissions, validate the handler list
// against them, build the host handlers, load and instantiate the
// component with the registry's host functions linked in, start the
// handler tasks, and invoke the guest's init export.
//
// Grounded on spec.md §4.6's Spawn operation (resolve manifest → build
// effective permissions → validate handler configs → allocate ID →
// construct chain → instantiate with the handler registry → start
// handler tasks) and on theater_runtime.rs's spawn arm in
// _examples/original_source/crates/theater/src/theater_runtime.rs,
// which performs the same sequence before registering the ActorProcess.
package spawn

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/theaterrun/theater/chain"
	"github.com/theaterrun/theater/chain/inmem"
	"github.com/theaterrun/theater/component"
	"github.com/theaterrun/theater/events"
	"github.com/theaterrun/theater/handler"
	"github.com/theaterrun/theater/host/environment"
	"github.com/theaterrun/theater/host/filesystem"
	"github.com/theaterrun/theater/host/random"
	supervisorhost "github.com/theaterrun/theater/host/supervisor"
	"github.com/theaterrun/theater/host/timing"
	"github.com/theaterrun/theater/id"
	"github.com/theaterrun/theater/internal/telemetry"
	"github.com/theaterrun/theater/manifest"
	"github.com/theaterrun/theater/permission"
	"github.com/theaterrun/theater/replay"
	"github.com/theaterrun/theater/runtime/actor"
	"github.com/theaterrun/theater/store"
	"github.com/theaterrun/theater/theater"
)

// Config carries the process-wide collaborators every spawned actor
// shares. Zero values get working defaults where one exists.
type Config struct {
	Log     telemetry.Logger
	Metrics telemetry.Metrics

	// Components is the shared WASM engine. Required unless NewInstance
	// is overridden.
	Components *component.Runtime

	// ChainStore backs every actor's event chain; defaults to the
	// in-memory store.
	ChainStore chain.Store

	// ChainsDir is where save_chain manifests persist their chain on
	// shutdown; empty disables persistence even when requested.
	ChainsDir string

	// Commands is the channel back into the theater runtime, handed to
	// each actor store so supervisor host calls can route spawn/stop
	// commands. Typically an adapter over theater.Runtime.Commands().
	Commands store.CommandSender

	// RootPermissions is the grant for actors with no resolvable parent
	// grant; defaults to permission.Root().
	RootPermissions *permission.HandlerPermission

	// ParentGrant resolves a parent actor's permission grant and
	// inheritance policy, so a child's effective permissions can be
	// derived per §4.3. Optional; unresolved parents fall back to
	// RootPermissions.
	ParentGrant func(parent id.ActorID) (*permission.HandlerPermission, permission.Policy, bool)

	// LoadComponent resolves a manifest's component reference to WASM
	// bytes; defaults to reading it as a filesystem path. Blob-store and
	// URL resolution are the embedder's collaborators.
	LoadComponent func(ctx context.Context, ref manifest.ComponentRef) ([]byte, error)

	// NewInstance builds the component instance for an actor: load,
	// link the registry's host functions, instantiate. The default uses
	// Components; tests substitute a scripted instance.
	NewInstance func(ctx context.Context, m *manifest.Manifest, wasm []byte, reg *handler.Registry, st *store.Store) (component.Instance, error)
}

// Spawner builds running actor processes from manifests. Its Spawn
// method is a theater.Spawner.
type Spawner struct {
	cfg Config
}

// New constructs a Spawner, filling Config defaults.
func New(cfg Config) *Spawner {
	if cfg.Log == nil {
		cfg.Log = telemetry.NoopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NoopMetrics{}
	}
	if cfg.ChainStore == nil {
		cfg.ChainStore = inmem.New()
	}
	if cfg.RootPermissions == nil {
		cfg.RootPermissions = permission.Root()
	}
	if cfg.LoadComponent == nil {
		cfg.LoadComponent = func(ctx context.Context, ref manifest.ComponentRef) ([]byte, error) {
			return os.ReadFile(string(ref))
		}
	}
	s := &Spawner{cfg: cfg}
	if s.cfg.NewInstance == nil {
		s.cfg.NewInstance = s.defaultNewInstance
	}
	return s
}

// Spawn implements theater.Spawner.
func (s *Spawner) Spawn(ctx context.Context, req theater.SpawnRequest) (theater.ActorHandle, error) {
	m, err := manifest.Parse(req.ManifestBytes)
	if err != nil {
		return nil, err
	}

	effective := s.effectivePermissions(m, req.Parent)
	if err := permission.ValidateManifestPermissions(manifestHandlers(m), effective); err != nil {
		return nil, fmt.Errorf("spawn: %s: %w", m.Name, err)
	}

	handlers, replayHandler, err := s.buildHandlers(m, effective)
	if err != nil {
		return nil, err
	}

	c, err := chain.New(ctx, req.Self, s.cfg.ChainStore)
	if err != nil {
		return nil, fmt.Errorf("spawn: %s: %w", m.Name, err)
	}
	st := store.New(req.Self, c, s.cfg.Commands)
	if err := s.seedState(m, req, st); err != nil {
		return nil, err
	}

	reg, err := handler.NewRegistry(guestImports(handlers, replayHandler), handlers, replayHandler)
	if err != nil {
		return nil, fmt.Errorf("spawn: %s: %w", m.Name, err)
	}

	wasm, err := s.cfg.LoadComponent(ctx, m.Component)
	if err != nil {
		return nil, fmt.Errorf("spawn: %s: load component %q: %w", m.Name, m.Component, err)
	}

	_, _ = st.RecordEvent(ctx, events.TheaterRuntimeEvent{Kind: events.ActorLoad, Actor: string(req.Self)})

	inst, err := s.cfg.NewInstance(ctx, m, wasm, reg, st)
	if err != nil {
		return nil, fmt.Errorf("spawn: %s: instantiate: %w", m.Name, err)
	}
	if err := reg.AddExportsAll(ctx, inst, st); err != nil {
		_ = inst.Close(ctx)
		return nil, fmt.Errorf("spawn: %s: %w", m.Name, err)
	}

	loop := actor.New(req.Self, inst, st, reg, s.cfg.Log, s.cfg.Metrics)
	if m.SaveChain && s.cfg.ChainsDir != "" {
		loop.EnableChainSave(s.cfg.ChainsDir)
	}
	if s.cfg.Commands != nil {
		loop.OnError(func(err error) {
			_ = s.cfg.Commands.Send(context.Background(), theater.ActorError{ActorID: req.Self, Err: err})
		})
	}
	go func() { _ = loop.Run(ctx) }()

	if err := reg.StartAll(ctx, st); err != nil {
		_ = loop.Stop(context.Background())
		return nil, fmt.Errorf("spawn: %s: %w", m.Name, err)
	}

	// A fresh spawn kicks the actor off through its init export; resume
	// seeds state instead and deliberately skips init (§4.6). The call
	// is enqueued but not awaited: Spawn runs on the theater runtime's
	// own goroutine, and an init that issues supervisor commands (a
	// parent spawning its children at startup) must not deadlock the
	// command loop servicing those commands. Queued first, init is still
	// the actor's first operation; a trap surfaces through OnError as an
	// ActorError like any other failed call.
	if !req.Resume && inst.HasExport("init") {
		reply := make(chan actor.OperationResult, 1)
		select {
		case loop.Operations() <- actor.Operation{Function: "init", Reply: reply}:
		case <-ctx.Done():
			_ = loop.Stop(context.Background())
			return nil, ctx.Err()
		}
	}

	return loop, nil
}

// effectivePermissions derives the actor's grant: the parent's grant
// filtered through the parent's inheritance policy when resolvable
// (falling back to the root grant), further restricted by whatever the
// manifest itself declares. The result is ≤ the parent's authority in
// every case.
func (s *Spawner) effectivePermissions(m *manifest.Manifest, parent *id.ActorID) *permission.HandlerPermission {
	base := s.cfg.RootPermissions
	if parent != nil && s.cfg.ParentGrant != nil {
		if grant, policy, ok := s.cfg.ParentGrant(*parent); ok {
			base = permission.CalculateEffective(grant, policy)
		}
	}
	if m.Permissions == nil {
		return base
	}
	effective := base.RestrictWith(*m.Permissions)
	return &effective
}

func manifestHandlers(m *manifest.Manifest) []permission.ManifestHandler {
	out := make([]permission.ManifestHandler, len(m.Handlers))
	for i, hc := range m.Handlers {
		out[i] = permission.ManifestHandler{Type: hc.Type}
	}
	return out
}

// buildHandlers constructs the host handlers the manifest configures,
// gated by the effective permission set, plus the replay handler when
// the manifest requests replay mode.
func (s *Spawner) buildHandlers(m *manifest.Manifest, eff *permission.HandlerPermission) ([]handler.Handler, handler.Handler, error) {
	var handlers []handler.Handler
	var replayHandler handler.Handler
	for _, hc := range m.Handlers {
		switch hc.Type {
		case "timing":
			handlers = append(handlers, timing.New(eff.Timing, nil))
		case "random":
			handlers = append(handlers, random.New(eff.Random, nil))
		case "environment":
			handlers = append(handlers, environment.New(eff.Environment, nil))
		case "filesystem":
			handlers = append(handlers, filesystem.New(eff.FileSystem, nil))
		case "supervisor":
			handlers = append(handlers, supervisorhost.New(eff.Supervisor, nil))
		case "replay":
			var rc struct {
				ChainFile string `json:"chain_file"`
			}
			if len(hc.Config) > 0 {
				if err := json.Unmarshal(hc.Config, &rc); err != nil {
					return nil, nil, fmt.Errorf("spawn: %s: replay config: %w", m.Name, err)
				}
			}
			if rc.ChainFile == "" {
				return nil, nil, fmt.Errorf("spawn: %s: replay handler requires chain_file", m.Name)
			}
			data, err := os.ReadFile(rc.ChainFile)
			if err != nil {
				return nil, nil, fmt.Errorf("spawn: %s: read recorded chain: %w", m.Name, err)
			}
			var recorded []chain.Event
			if err := json.Unmarshal(data, &recorded); err != nil {
				return nil, nil, fmt.Errorf("spawn: %s: decode recorded chain: %w", m.Name, err)
			}
			replayHandler = replay.NewHandler(recorded)
		default:
			return nil, nil, fmt.Errorf("spawn: %s: unsupported handler type %q", m.Name, hc.Type)
		}
	}
	return handlers, replayHandler, nil
}

// guestImports is the set of imports the registry must resolve. Without
// component introspection (wazero exposes exports, not component-model
// import lists), the configured handlers' declared imports are the
// authoritative set: an import no handler declares could never be
// satisfied anyway.
func guestImports(handlers []handler.Handler, replayHandler handler.Handler) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(h handler.Handler) {
		for _, imp := range h.Imports() {
			if !seen[imp] {
				seen[imp] = true
				out = append(out, imp)
			}
		}
	}
	if replayHandler != nil {
		add(replayHandler)
	}
	for _, h := range handlers {
		add(h)
	}
	return out
}

func (s *Spawner) seedState(m *manifest.Manifest, req theater.SpawnRequest, st *store.Store) error {
	if req.Resume {
		st.SetState(req.StateBytes)
		return nil
	}
	if m.InitState == nil {
		return nil
	}
	switch m.InitState.Kind {
	case "inline":
		st.SetState([]byte(m.InitState.Value))
	case "path":
		data, err := os.ReadFile(m.InitState.Value)
		if err != nil {
			return fmt.Errorf("spawn: %s: read init state: %w", m.Name, err)
		}
		st.SetState(data)
	default:
		return fmt.Errorf("spawn: %s: unsupported init state kind %q", m.Name, m.InitState.Kind)
	}
	return nil
}

func (s *Spawner) defaultNewInstance(ctx context.Context, m *manifest.Manifest, wasm []byte, reg *handler.Registry, st *store.Store) (component.Instance, error) {
	if s.cfg.Components == nil {
		return nil, fmt.Errorf("spawn: no component runtime configured")
	}
	cm, err := s.cfg.Components.Load(ctx, string(m.Component), wasm)
	if err != nil {
		return nil, err
	}
	linker := component.NewLinker(s.cfg.Components)
	if err := reg.SetupAll(ctx, linker, st); err != nil {
		return nil, err
	}
	return component.Instantiate(ctx, s.cfg.Components, cm, m.Name)
}

// CommandAdapter bridges a theater.Runtime's command channel to the
// store.CommandSender shape host handlers use.
type CommandAdapter struct {
	Commands chan<- theater.Command
}

// Send implements store.CommandSender.
func (a CommandAdapter) Send(ctx context.Context, cmd any) error {
	tc, ok := cmd.(theater.Command)
	if !ok {
		return fmt.Errorf("spawn: not a theater command: %T", cmd)
	}
	select {
	case a.Commands <- tc:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
