//go:build wasip1

// Command tenor-wasm is the guest side of the section 6.5 WASM bridge:
// built with GOOS=wasip1 GOARCH=wasm, it exports alloc/dealloc/
// evaluate/get_result_ptr/get_result_len/load_contract/free_contract and
// calls straight into pkg/bundle and pkg/rules — no duplicate evaluation
// logic lives here. Contract handles are opaque u32 tokens, matching the
// host's Host in pkg/wasmbridge.
package main

import (
	"sync"
	"unsafe"

	"github.com/riverline-labs/tenor/pkg/bundle"
	"github.com/riverline-labs/tenor/pkg/rules"
)

var (
	mu          sync.Mutex
	contracts   = map[uint32]*bundle.Contract{}
	nextHandle  uint32
	resultBuf   []byte // thread-local in spirit: single-threaded wasm guest
)

func main() {
	// No-op entrypoint; every call into this module goes through the
	// exported ABI functions below, not _start.
}

// alloc reserves length bytes in guest linear memory and returns a
// pointer the host writes a string argument into.
//
//go:wasmexport alloc
func alloc(length uint32) uint32 {
	buf := make([]byte, length)
	if length == 0 {
		return 0
	}
	return uint32(uintptr(unsafe.Pointer(&buf[0])))
}

// dealloc is a marshalling no-op: the Go guest runtime's GC reclaims
// buffers allocated by alloc once nothing references them; dealloc exists
// only to satisfy the ABI contract so the host need not special-case this
// guest's memory management.
//
//go:wasmexport dealloc
func dealloc(ptr, length uint32) {}

// readString reconstructs a Go string from a (ptr, len) pair the host
// wrote into linear memory via alloc.
func readString(ptr, length uint32) string {
	if length == 0 {
		return ""
	}
	return unsafe.String((*byte)(unsafe.Pointer(uintptr(ptr))), length)
}

// setResult stashes buf in the module's thread-local result buffer; the
// host reads it back via get_result_ptr/get_result_len immediately after
// the call that produced it, before any other exported function runs.
func setResult(buf []byte) {
	resultBuf = buf
}

// get_result_ptr returns a pointer to the most recently produced result
// buffer.
//
//go:wasmexport get_result_ptr
func getResultPtr() uint32 {
	if len(resultBuf) == 0 {
		return 0
	}
	return uint32(uintptr(unsafe.Pointer(&resultBuf[0])))
}

// get_result_len returns the byte length of the most recently produced
// result buffer.
//
//go:wasmexport get_result_len
func getResultLen() uint32 {
	return uint32(len(resultBuf))
}

// load_contract decodes a bundle JSON document (ptr, len) and returns an
// opaque handle valid until free_contract. A decode failure sets the
// result buffer to a JSON error envelope and returns handle 0.
//
//go:wasmexport load_contract
func loadContract(ptr, length uint32) uint32 {
	raw := []byte(readString(ptr, length))
	loaded, err := bundle.Load(raw)
	if err != nil {
		setResult(errorJSON(err))
		return 0
	}

	mu.Lock()
	defer mu.Unlock()
	nextHandle++
	handle := nextHandle
	contracts[handle] = loaded.Contract
	return handle
}

// free_contract releases a handle returned by load_contract.
//
//go:wasmexport free_contract
func freeContract(handle uint32) {
	mu.Lock()
	defer mu.Unlock()
	delete(contracts, handle)
}

// evaluate runs the stratified rule engine (section 4.3) against the
// facts JSON at (ptr, len) for the contract identified by handle, and
// stashes the verdict-set JSON of section 6.4 in the result buffer.
//
//go:wasmexport evaluate
func evaluate(handle, ptr, length uint32) uint32 {
	mu.Lock()
	contract, ok := contracts[handle]
	mu.Unlock()
	if !ok {
		setResult(errorJSONString("unknown contract handle"))
		return 1
	}

	factsJSON := []byte(readString(ptr, length))
	facts, err := bundle.DecodeFactSet(contract, factsJSON)
	if err != nil {
		setResult(errorJSON(err))
		return 1
	}

	verdicts, err := rules.Evaluate(contract, facts)
	if err != nil {
		setResult(errorJSON(err))
		return 1
	}

	out, err := bundle.EncodeVerdictSet(verdicts)
	if err != nil {
		setResult(errorJSON(err))
		return 1
	}
	setResult(out)
	return 0
}

func errorJSON(err error) []byte {
	return errorJSONString(err.Error())
}

func errorJSONString(msg string) []byte {
	return []byte(`{"error":` + quoteJSON(msg) + `}`)
}

func quoteJSON(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			out = append(out, '\\', byte(r))
		case '\n':
			out = append(out, '\\', 'n')
		default:
			out = append(out, string(r)...)
		}
	}
	out = append(out, '"')
	return string(out)
}
