// Package guestmem reads and writes canonical-ABI values in a guest's
// linear memory on behalf of the host capability handlers, which all
// receive arguments as (ptr, len) pairs on the core wasm stack after
// canonical-ABI flattening.
//
// Grounded on the flat-count and pointer-convention tables in
// _examples/other_examples/90b88424_wippyai-wasm-runtime__engine-doc.go.go.
package guestmem

import (
	"fmt"

	"github.com/theaterrun/theater/component"
)

// ReadString reads a UTF-8 string at (ptr, byteLen) from the guest's
// linear memory.
func ReadString(mod component.Module, ptr, byteLen uint32) (string, error) {
	b, err := ReadBytes(mod, ptr, byteLen)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBytes copies byteLen bytes starting at ptr out of the guest's
// linear memory.
func ReadBytes(mod component.Module, ptr, byteLen uint32) ([]byte, error) {
	mem := mod.Memory()
	end := uint64(ptr) + uint64(byteLen)
	if end > uint64(len(mem)) {
		return nil, fmt.Errorf("guestmem: read [%d,%d) out of bounds (memory size %d)", ptr, end, len(mem))
	}
	out := make([]byte, byteLen)
	copy(out, mem[ptr:end])
	return out, nil
}

// WriteBytes copies data into the guest's linear memory at ptr. The
// guest owns the destination buffer (typically allocated by its own
// realloc before the call); the host never grows memory.
func WriteBytes(mod component.Module, ptr uint32, data []byte) error {
	mem := mod.Memory()
	end := uint64(ptr) + uint64(len(data))
	if end > uint64(len(mem)) {
		return fmt.Errorf("guestmem: write [%d,%d) out of bounds (memory size %d)", ptr, end, len(mem))
	}
	copy(mem[ptr:end], data)
	return nil
}
