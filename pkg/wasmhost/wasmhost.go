// Package wasmhost runs a verified WebAssembly module against the
// enclave's raw linear-memory ABI: a single exported function named exec
// taking seven i32 arguments and returning an i32 status code. Every call
// gets a fresh engine, store, and memory; nothing is shared across calls.
package wasmhost

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/tetratelabs/wazero"

	"github.com/Mindburn-Labs/enclave/pkg/errs"
)

const (
	memoryPages      = 17 // 17 * 64KiB ~= 1.09 MiB, per spec.md §4.5
	pageSize         = 65536
	outputSize       = 1 << 20 // 1 MiB
	execExportName   = "exec"
	memoryImportName = "memory"
	envModuleName    = "env"
)

// StatusError carries a raw ABI status code (spec.md §4.5's numeric return
// table) that round-trips verbatim for any code outside 0..5.
type StatusError struct {
	Code    int32
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("wasm exec returned status %d: %s", e.Code, e.Message)
}

var statusMessages = map[int32]string{
	1: "module could not parse input data",
	2: "module could not parse schema",
	3: "module could not serialise output",
	4: "output buffer too small",
	5: "execution failed",
}

// Host runs verified WASM modules under the ABI above. Stateless: Run
// builds a fresh engine, store, and memory for every call.
type Host struct{}

// NewHost builds a Host.
func NewHost() *Host {
	return &Host{}
}

// Run instantiates moduleBytes, writes data and schema into its linear
// memory, invokes exec, and returns the parsed JSON aggregate it produces.
func (h *Host) Run(ctx context.Context, moduleBytes, data, schema []byte) (map[string]any, error) {
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	dataPtr := uint32(0)
	dataLen := uint32(len(data))
	schemaPtr := dataPtr + dataLen
	schemaLen := uint32(len(schema))
	outputPtr := schemaPtr + schemaLen
	outputLenPtr := outputPtr + uint32(outputSize)

	neededBytes := uint64(outputLenPtr) + 4
	pages := uint32(memoryPages)
	if needed := uint32((neededBytes + pageSize - 1) / pageSize); needed > pages {
		pages = needed
	}

	// The guest module imports ("env","memory") per spec.md §4.5; the host
	// owns and exports that memory so no other host function is reachable
	// from inside the sandbox.
	_, err := rt.NewHostModuleBuilder(envModuleName).
		ExportMemory(memoryImportName, pages).
		Instantiate(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Execution, "WasmHostMemory", err)
	}

	compiled, err := rt.CompileModule(ctx, moduleBytes)
	if err != nil {
		return nil, errs.Wrap(errs.Execution, "WasmCompile", err)
	}

	if declaresStartFunction(compiled) {
		return nil, errs.New(errs.Execution, "WasmStartForbidden", "module declares a start function")
	}

	modCfg := wazero.NewModuleConfig().WithStartFunctions()

	mod, err := rt.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return nil, errs.Wrap(errs.Execution, "WasmInstantiate", err)
	}
	defer mod.Close(ctx)

	guestMemory := mod.Memory()
	if guestMemory == nil {
		return nil, errs.New(errs.Execution, "AbiMissing", "module does not import a memory")
	}

	if !guestMemory.Write(dataPtr, data) {
		return nil, errs.New(errs.Execution, "WasmMemoryBounds", "failed to write data into module memory")
	}
	if !guestMemory.Write(schemaPtr, schema) {
		return nil, errs.New(errs.Execution, "WasmMemoryBounds", "failed to write schema into module memory")
	}

	execFn := mod.ExportedFunction(execExportName)
	if execFn == nil {
		return nil, errs.New(errs.Execution, "AbiMissing", "module does not export exec")
	}

	results, err := execFn.Call(ctx,
		uint64(dataPtr), uint64(dataLen),
		uint64(schemaPtr), uint64(schemaLen),
		uint64(outputPtr), uint64(outputSize),
		uint64(outputLenPtr),
	)
	if err != nil {
		return nil, errs.Wrap(errs.Execution, "WasmTrap", err)
	}
	if len(results) != 1 {
		return nil, errs.New(errs.Execution, "AbiMissing", "exec did not return exactly one value")
	}

	status := int32(results[0])
	if status != 0 {
		return nil, &errs.Error{
			Kind:    errs.Execution,
			Code:    abiCode(status),
			Message: statusMessage(status),
			Err:     &StatusError{Code: status, Message: statusMessage(status)},
		}
	}

	outLenBytes, ok := guestMemory.Read(outputLenPtr, 4)
	if !ok {
		return nil, errs.New(errs.Execution, "WasmMemoryBounds", "could not read output length cell")
	}
	outLen := binary.LittleEndian.Uint32(outLenBytes)

	outBytes, ok := guestMemory.Read(outputPtr, outLen)
	if !ok {
		return nil, errs.New(errs.Execution, "WasmMemoryBounds", "could not read output buffer")
	}

	var result map[string]any
	if err := json.Unmarshal(outBytes, &result); err != nil {
		return nil, errs.Wrap(errs.Format, "WasmOutputFormat", err)
	}
	return result, nil
}

func abiCode(status int32) string {
	switch status {
	case 1:
		return "AbiParseData"
	case 2:
		return "AbiParseSchema"
	case 3:
		return "AbiSerialiseOutput"
	case 4:
		return "AbiOutputTooSmall"
	case 5:
		return "AbiExecutionFailed"
	default:
		return fmt.Sprintf("AbiUnknown%d", status)
	}
}

func statusMessage(status int32) string {
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	return "unknown ABI status"
}

// declaresStartFunction reports whether compiled names a WASI-style start
// export ("_start" or "_initialize") outside the required "exec" export;
// WithStartFunctions() above already prevents wazero from auto-invoking it,
// this is the belt-and-suspenders rejection spec.md §4.5 asks for.
func declaresStartFunction(compiled wazero.CompiledModule) bool {
	for name := range compiled.ExportedFunctions() {
		if name == "_start" || name == "_initialize" {
			return true
		}
	}
	return false
}
