package component

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// wazeroLinker adapts wazero's HostModuleBuilder to the Linker
// interface handlers (C6) program against.
type wazeroLinker struct {
	wzRuntime wazero.Runtime
}

// NewLinker wraps a component Runtime's wazero runtime for host function
// registration ahead of instantiating one actor.
func NewLinker(r *Runtime) Linker {
	return &wazeroLinker{wzRuntime: r.WazeroRuntime()}
}

func (l *wazeroLinker) NewHostModule(interfaceName string) HostModuleBuilder {
	return &wazeroHostModuleBuilder{
		wzRuntime: l.wzRuntime,
		builder:   l.wzRuntime.NewHostModuleBuilder(interfaceName),
	}
}

type wazeroHostModuleBuilder struct {
	wzRuntime wazero.Runtime
	builder   wazero.HostModuleBuilder
}

func (b *wazeroHostModuleBuilder) ExportFunction(name string, fn HostFunc) HostModuleBuilder {
	b.builder = b.builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			fn(ctx, moduleAdapter{mod}, stack)
		}), nil, nil).
		Export(name)
	return b
}

func (b *wazeroHostModuleBuilder) Instantiate(ctx context.Context) error {
	_, err := b.builder.Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("component: instantiate host module: %w", err)
	}
	return nil
}

type moduleAdapter struct{ mod api.Module }

func (m moduleAdapter) Memory() []byte {
	mem := m.mod.Memory()
	if mem == nil {
		return nil
	}
	buf, _ := mem.Read(0, mem.Size())
	return buf
}

// wazeroInstance adapts an instantiated wazero module to the Instance
// interface.
type wazeroInstance struct {
	mod api.Module
}

// Instantiate instantiates the already compiled cm against the given
// module name (typically the actor ID, for diagnostics and to avoid
// wazero module-name collisions across concurrently running actors).
func Instantiate(ctx context.Context, r *Runtime, cm wazero.CompiledModule, moduleName string) (Instance, error) {
	cfg := wazero.NewModuleConfig().WithName(moduleName).WithStartFunctions()
	mod, err := r.WazeroRuntime().InstantiateModule(ctx, cm, cfg)
	if err != nil {
		return nil, fmt.Errorf("component: instantiate module %q: %w", moduleName, err)
	}
	return &wazeroInstance{mod: mod}, nil
}

func (i *wazeroInstance) HasExport(name string) bool {
	return i.mod.ExportedFunction(name) != nil
}

// cabiReallocName is the guest export the Component Model's canonical
// ABI requires for allocating buffers the host writes into before a
// call and that the guest writes into before returning them, per
// cabiRealloc's (old_ptr, old_size, align, new_size) -> new_ptr shape.
const cabiReallocName = "cabi_realloc"

// stateRetBufSize is the size of the retptr buffer the host allocates
// to receive a (new_state, result) pair: four little-endian u32 fields
// — new-state ptr, new-state len, result ptr, result len — per the
// retptr convention the canonical ABI falls back to once a call's flat
// result count exceeds MaxFlatResults (1), which a (state, result)
// pair always does.
const stateRetBufSize = 16

func (i *wazeroInstance) Call(ctx context.Context, name string, state []byte, args ...uint64) ([]byte, []uint64, error) {
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, nil, fmt.Errorf("component: export %q not found", name)
	}
	realloc := i.mod.ExportedFunction(cabiReallocName)
	if realloc == nil {
		return nil, nil, fmt.Errorf("component: call %q: guest does not export %s", name, cabiReallocName)
	}
	mem := i.mod.Memory()
	if mem == nil {
		return nil, nil, fmt.Errorf("component: call %q: guest has no linear memory", name)
	}

	statePtr, err := guestAlloc(ctx, realloc, uint32(len(state)))
	if err != nil {
		return nil, nil, fmt.Errorf("component: call %q: allocate state: %w", name, err)
	}
	if len(state) > 0 && !mem.Write(statePtr, state) {
		return nil, nil, fmt.Errorf("component: call %q: write state out of bounds", name)
	}

	retPtr, err := guestAlloc(ctx, realloc, stateRetBufSize)
	if err != nil {
		return nil, nil, fmt.Errorf("component: call %q: allocate return buffer: %w", name, err)
	}

	callArgs := make([]uint64, 0, len(args)+3)
	callArgs = append(callArgs, uint64(statePtr), uint64(len(state)))
	callArgs = append(callArgs, args...)
	callArgs = append(callArgs, uint64(retPtr))

	if _, err := fn.Call(ctx, callArgs...); err != nil {
		return nil, nil, fmt.Errorf("component: call %q: %w", name, err)
	}

	newState, results, err := readStateAndResult(mem, retPtr)
	if err != nil {
		return nil, nil, fmt.Errorf("component: call %q: %w", name, err)
	}
	return newState, results, nil
}

// guestAlloc asks the guest's cabi_realloc to allocate size fresh
// bytes (old_ptr=0, old_size=0, align=1), the canonical ABI's
// convention for a host-initiated allocation rather than a resize.
func guestAlloc(ctx context.Context, realloc api.Function, size uint32) (uint32, error) {
	if size == 0 {
		return 0, nil
	}
	res, err := realloc.Call(ctx, 0, 0, 1, uint64(size))
	if err != nil {
		return 0, err
	}
	return uint32(res[0]), nil
}

// readStateAndResult decodes the retptr buffer a Call wrote its
// (new_state, result) pair into: new-state bytes verbatim, and result
// words little-endian-decoded the same way runtime/actor's encodeArgs
// lays them out, so the two sides of the bridge agree on layout.
func readStateAndResult(mem api.Memory, retPtr uint32) ([]byte, []uint64, error) {
	statePtr, ok := mem.ReadUint32Le(retPtr)
	if !ok {
		return nil, nil, fmt.Errorf("read return state ptr out of bounds")
	}
	stateLen, ok := mem.ReadUint32Le(retPtr + 4)
	if !ok {
		return nil, nil, fmt.Errorf("read return state len out of bounds")
	}
	resultPtr, ok := mem.ReadUint32Le(retPtr + 8)
	if !ok {
		return nil, nil, fmt.Errorf("read return result ptr out of bounds")
	}
	resultLen, ok := mem.ReadUint32Le(retPtr + 12)
	if !ok {
		return nil, nil, fmt.Errorf("read return result len out of bounds")
	}

	var newState []byte
	if stateLen > 0 {
		b, ok := mem.Read(statePtr, stateLen)
		if !ok {
			return nil, nil, fmt.Errorf("read return state bytes out of bounds")
		}
		newState = append([]byte(nil), b...)
	}

	var results []uint64
	if resultLen > 0 {
		b, ok := mem.Read(resultPtr, resultLen)
		if !ok {
			return nil, nil, fmt.Errorf("read return result bytes out of bounds")
		}
		results = decodeWords(b)
	}
	return newState, results, nil
}

// decodeWords is the inverse of runtime/actor's encodeArgs: eight
// little-endian bytes per uint64 word.
func decodeWords(b []byte) []uint64 {
	out := make([]uint64, len(b)/8)
	for i := range out {
		var w uint64
		for k := 0; k < 8; k++ {
			w |= uint64(b[i*8+k]) << (8 * k)
		}
		out[i] = w
	}
	return out
}

func (i *wazeroInstance) Close(ctx context.Context) error {
	return i.mod.Close(ctx)
}
