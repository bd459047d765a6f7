// Package wasmbridge implements the host side of section 6.5's WASM
// bridge ABI with wazero: compile a guest module once, instantiate it per
// Host, and drive the alloc/dealloc/get_result_ptr/get_result_len memory
// protocol to pass string arguments in and read a result buffer back —
// the same compile-then-instantiate shape as the teacher's
// pkg/runtime/sandbox/wasi_sandbox.go, with WASI preview1 wired only for
// the guest's own startup requirements (no filesystem, no network).
package wasmbridge

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Host wraps one compiled guest module and the runtime that instantiates
// it. A Host is not safe for concurrent Evaluate calls against the same
// contract handle; callers serialize access per handle.
type Host struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	module   apiModule
}

// apiModule is the subset of the guest's exported ABI the host calls
// through. Functions are resolved once at New and reused.
type apiModule struct {
	alloc        moduleFunc
	dealloc      moduleFunc
	evaluate     moduleFunc
	getResultPtr moduleFunc
	getResultLen moduleFunc
	freeContract moduleFunc
	loadContract moduleFunc
	mem          memory
}

type moduleFunc interface {
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

type memory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
}

// New compiles guestWasm and instantiates it with WASI preview1 wired
// in deny-by-default (wazero's default module config: no filesystem or
// network mounts, guest stdout/stderr discarded), then resolves the ABI
// functions named in section 6.5.
func New(ctx context.Context, guestWasm []byte) (*Host, error) {
	runtime := wazero.NewRuntime(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, runtime)

	compiled, err := runtime.CompileModule(ctx, guestWasm)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("wasmbridge: compile guest module: %w", err)
	}

	mod, err := runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("tenor-wasm"))
	if err != nil {
		_ = compiled.Close(ctx)
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("wasmbridge: instantiate guest module: %w", err)
	}

	fn := func(name string) (moduleFunc, error) {
		f := mod.ExportedFunction(name)
		if f == nil {
			return nil, fmt.Errorf("wasmbridge: guest module missing exported function %q", name)
		}
		return f, nil
	}

	api := apiModule{mem: mod.Memory()}
	var err2 error
	if api.alloc, err2 = fn("alloc"); err2 != nil {
		return nil, err2
	}
	if api.dealloc, err2 = fn("dealloc"); err2 != nil {
		return nil, err2
	}
	if api.evaluate, err2 = fn("evaluate"); err2 != nil {
		return nil, err2
	}
	if api.getResultPtr, err2 = fn("get_result_ptr"); err2 != nil {
		return nil, err2
	}
	if api.getResultLen, err2 = fn("get_result_len"); err2 != nil {
		return nil, err2
	}
	if api.freeContract, err2 = fn("free_contract"); err2 != nil {
		return nil, err2
	}
	if api.loadContract, err2 = fn("load_contract"); err2 != nil {
		return nil, err2
	}

	return &Host{runtime: runtime, compiled: compiled, module: api}, nil
}

// Close releases the compiled module and runtime.
func (h *Host) Close(ctx context.Context) error {
	if err := h.compiled.Close(ctx); err != nil {
		return err
	}
	return h.runtime.Close(ctx)
}

// writeString allocates len(s) bytes in the guest's linear memory and
// copies s into it, returning the pointer the guest gave back and the
// length written.
func (h *Host) writeString(ctx context.Context, s string) (uint32, uint32, error) {
	b := []byte(s)
	res, err := h.module.alloc.Call(ctx, uint64(len(b)))
	if err != nil {
		return 0, 0, fmt.Errorf("wasmbridge: alloc(%d): %w", len(b), err)
	}
	ptr := uint32(res[0])
	if !h.module.mem.Write(ptr, b) {
		return 0, 0, fmt.Errorf("wasmbridge: write %d bytes at guest offset %d out of range", len(b), ptr)
	}
	return ptr, uint32(len(b)), nil
}

// LoadContract hands the guest a bundle JSON document and returns the
// opaque u32 contract handle valid until FreeContract.
func (h *Host) LoadContract(ctx context.Context, bundleJSON []byte) (uint32, error) {
	ptr, length, err := h.writeString(ctx, string(bundleJSON))
	if err != nil {
		return 0, err
	}
	defer h.module.dealloc.Call(ctx, uint64(ptr), uint64(length))

	res, err := h.module.loadContract.Call(ctx, uint64(ptr), uint64(length))
	if err != nil {
		return 0, fmt.Errorf("wasmbridge: load_contract: %w", err)
	}
	return uint32(res[0]), nil
}

// FreeContract releases a handle returned by LoadContract.
func (h *Host) FreeContract(ctx context.Context, handle uint32) error {
	_, err := h.module.freeContract.Call(ctx, uint64(handle))
	return err
}

// Evaluate runs the rule engine inside the guest against factsJSON for the
// contract identified by handle, returning the verdict-set JSON of
// section 6.4.
func (h *Host) Evaluate(ctx context.Context, handle uint32, factsJSON []byte) ([]byte, error) {
	ptr, length, err := h.writeString(ctx, string(factsJSON))
	if err != nil {
		return nil, err
	}
	defer h.module.dealloc.Call(ctx, uint64(ptr), uint64(length))

	if _, err := h.module.evaluate.Call(ctx, uint64(handle), uint64(ptr), uint64(length)); err != nil {
		return nil, fmt.Errorf("wasmbridge: evaluate: %w", err)
	}

	resPtrRes, err := h.module.getResultPtr.Call(ctx)
	if err != nil {
		return nil, fmt.Errorf("wasmbridge: get_result_ptr: %w", err)
	}
	resLenRes, err := h.module.getResultLen.Call(ctx)
	if err != nil {
		return nil, fmt.Errorf("wasmbridge: get_result_len: %w", err)
	}

	resPtr, resLen := uint32(resPtrRes[0]), uint32(resLenRes[0])
	out, ok := h.module.mem.Read(resPtr, resLen)
	if !ok {
		return nil, fmt.Errorf("wasmbridge: result buffer [%d,+%d) out of guest memory range", resPtr, resLen)
	}
	// Copy out of guest memory before the next call overwrites the
	// thread-local result buffer.
	copied := make([]byte, len(out))
	copy(copied, out)
	return copied, nil
}
