// Package filesystem implements the thin filesystem host capability
// contract the core imposes: read-file, write-file, list-dir, and
// create-dir, every call permission-checked against the actor's
// FileSystemPermissions (fail-closed: no allowed_paths means no path
// access at all) and chain-recorded in the canonical shape.
//
// Grounded on
// _examples/original_source/crates/theater/src/host/filesystem.rs's
// operation surface, deliberately kept to the boundary contract of
// spec.md §1: richer filesystem semantics (descriptors, streaming,
// watches) are an external collaborator's concern, not the core's.
package filesystem

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/theaterrun/theater/component"
	"github.com/theaterrun/theater/host/guestmem"
	"github.com/theaterrun/theater/hostcall"
	"github.com/theaterrun/theater/permission"
	"github.com/theaterrun/theater/store"
)

// Interface is the import namespace this handler satisfies.
const Interface = "filesystem"

// Handler serves the filesystem interface for one actor.
type Handler struct {
	perm *permission.FileSystemPermissions
	ic   *hostcall.Interceptor
}

// New constructs a filesystem Handler gated by perm. ic may be nil, in
// which case a live interceptor over the actor's chain is built at
// setup time.
func New(perm *permission.FileSystemPermissions, ic *hostcall.Interceptor) *Handler {
	return &Handler{perm: perm, ic: ic}
}

// Name implements handler.Handler.
func (h *Handler) Name() string { return Interface }

// Imports implements handler.Handler.
func (h *Handler) Imports() []string { return []string{Interface} }

// Exports implements handler.Handler.
func (h *Handler) Exports() []string { return nil }

// SetupHostFunctions implements handler.Handler. Each guest-facing
// function reads its path argument out of guest memory, runs the typed
// operation, and reports failure to the guest as an error sentinel
// rather than a trap, per spec.md §7's propagation policy.
func (h *Handler) SetupHostFunctions(ctx context.Context, linker component.Linker, actorStore *store.Store) error {
	if h.ic == nil {
		h.ic = hostcall.New(hostcall.Live, actorStore.Chain(), nil)
	}

	mod := linker.NewHostModule(Interface)
	// read-file(pathPtr, pathLen, outPtr, outCap) -> byte length, or
	// errSentinel on denial or I/O failure.
	mod.ExportFunction("read-file", func(ctx context.Context, m component.Module, stack []uint64) {
		path, err := guestmem.ReadString(m, uint32(stack[0]), uint32(stack[1]))
		if err != nil {
			stack[0] = errSentinel
			return
		}
		data, err := h.ReadFile(ctx, path)
		if err != nil || uint64(len(data)) > stack[3] {
			stack[0] = errSentinel
			return
		}
		if err := guestmem.WriteBytes(m, uint32(stack[2]), data); err != nil {
			stack[0] = errSentinel
			return
		}
		stack[0] = uint64(len(data))
	})
	// write-file(pathPtr, pathLen, dataPtr, dataLen) -> 0 ok, errSentinel
	// on denial or I/O failure.
	mod.ExportFunction("write-file", func(ctx context.Context, m component.Module, stack []uint64) {
		path, err := guestmem.ReadString(m, uint32(stack[0]), uint32(stack[1]))
		if err != nil {
			stack[0] = errSentinel
			return
		}
		data, err := guestmem.ReadBytes(m, uint32(stack[2]), uint32(stack[3]))
		if err != nil {
			stack[0] = errSentinel
			return
		}
		if err := h.WriteFile(ctx, path, data); err != nil {
			stack[0] = errSentinel
			return
		}
		stack[0] = 0
	})
	// list-dir(pathPtr, pathLen, outPtr, outCap) -> byte length of the
	// newline-joined entry names.
	mod.ExportFunction("list-dir", func(ctx context.Context, m component.Module, stack []uint64) {
		path, err := guestmem.ReadString(m, uint32(stack[0]), uint32(stack[1]))
		if err != nil {
			stack[0] = errSentinel
			return
		}
		names, err := h.ListDir(ctx, path)
		if err != nil {
			stack[0] = errSentinel
			return
		}
		joined := strings.Join(names, "\n")
		if uint64(len(joined)) > stack[3] {
			stack[0] = errSentinel
			return
		}
		if err := guestmem.WriteBytes(m, uint32(stack[2]), []byte(joined)); err != nil {
			stack[0] = errSentinel
			return
		}
		stack[0] = uint64(len(joined))
	})
	mod.ExportFunction("create-dir", func(ctx context.Context, m component.Module, stack []uint64) {
		path, err := guestmem.ReadString(m, uint32(stack[0]), uint32(stack[1]))
		if err != nil {
			stack[0] = errSentinel
			return
		}
		if err := h.CreateDir(ctx, path); err != nil {
			stack[0] = errSentinel
			return
		}
		stack[0] = 0
	})
	return mod.Instantiate(ctx)
}

const errSentinel = ^uint64(0)

// AddExportFunctions implements handler.Handler.
func (h *Handler) AddExportFunctions(ctx context.Context, instance component.Instance, actorStore *store.Store) error {
	return nil
}

// Start implements handler.Handler.
func (h *Handler) Start(ctx context.Context, actorStore *store.Store) error { return nil }

// ReadFile returns the file's contents. The recorded output is base64
// so binary contents stay valid JSON in the chain event.
func (h *Handler) ReadFile(ctx context.Context, path string) ([]byte, error) {
	out, err := h.ic.Call(ctx, Interface, "read-file", map[string]string{"path": path},
		func() error { return permission.CheckFilesystemOperation(h.perm, "read", path, "") },
		func(ctx context.Context) (json.RawMessage, error) {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return json.Marshal(base64.StdEncoding.EncodeToString(data))
		})
	if err != nil {
		return nil, err
	}
	var enc string
	if err := json.Unmarshal(out, &enc); err != nil {
		return nil, fmt.Errorf("filesystem: decode recorded contents: %w", err)
	}
	return base64.StdEncoding.DecodeString(enc)
}

// WriteFile writes data to path, gated by the write flag and the path
// allow-list.
func (h *Handler) WriteFile(ctx context.Context, path string, data []byte) error {
	_, err := h.ic.Call(ctx, Interface, "write-file",
		map[string]any{"path": path, "bytes": len(data)},
		func() error { return permission.CheckFilesystemOperation(h.perm, "write", path, "") },
		func(ctx context.Context) (json.RawMessage, error) {
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return nil, err
			}
			return json.Marshal(len(data))
		})
	return err
}

// ListDir returns the entry names under path, sorted by file name.
func (h *Handler) ListDir(ctx context.Context, path string) ([]string, error) {
	out, err := h.ic.Call(ctx, Interface, "list-dir", map[string]string{"path": path},
		func() error { return permission.CheckFilesystemOperation(h.perm, "read", path, "") },
		func(ctx context.Context) (json.RawMessage, error) {
			entries, err := os.ReadDir(path)
			if err != nil {
				return nil, err
			}
			names := make([]string, len(entries))
			for i, e := range entries {
				names[i] = e.Name()
			}
			return json.Marshal(names)
		})
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(out, &names); err != nil {
		return nil, fmt.Errorf("filesystem: decode recorded entries: %w", err)
	}
	return names, nil
}

// CreateDir creates a directory at path, additionally gated by the
// NewDir flag when the permission carries one.
func (h *Handler) CreateDir(ctx context.Context, path string) error {
	_, err := h.ic.Call(ctx, Interface, "create-dir", map[string]string{"path": path},
		func() error {
			if err := permission.CheckFilesystemOperation(h.perm, "write", path, ""); err != nil {
				return err
			}
			if h.perm.NewDir != nil && !*h.perm.NewDir {
				return &permission.Error{Op: "filesystem", Message: "new-dir not permitted"}
			}
			return nil
		},
		func(ctx context.Context) (json.RawMessage, error) {
			if err := os.Mkdir(path, 0o755); err != nil {
				return nil, err
			}
			return json.Marshal(true)
		})
	return err
}
