// Module assembly: assigns Wasm function indices, interns function type
// signatures, and writes the Type/Import/Function/Memory/Export/Code/Data
// sections in the canonical order. Grounded on spec section 4.6 and the
// original implementation's generate_target_code, which has no standalone
// Rust source file of its own in original_source -- its section layout is
// inferred from the constants and call sequence visible across
// target_code_generation.rs and stack_frame_operations.rs.
package wasmgen

import (
	"golang.org/x/exp/slices"

	"github.com/minz/c2wasm/pkg/frame"
	"github.com/minz/c2wasm/pkg/ir"
	"github.com/minz/c2wasm/pkg/relooper"
)

// wasmPageSize is the fixed 64 KiB granule linear memory grows by.
const wasmPageSize = 65536

// stackHeadroomPages is the minimum number of pages reserved above every
// statically-known allocation for the shadow stack to grow into, per
// spec section 6's "at least one page of stack headroom".
const stackHeadroomPages = 1

// DefaultExportName is the export the entry wrapper is published under
// when the caller doesn't override it. Either "_start" or "main" satisfies
// spec section 6; this module documents "_start" as its choice, matching
// the convention of a freestanding WASI-style command module.
const DefaultExportName = "_start"

// FuncBody is one function's relooped body, ready for emission: either a
// defined function with a body to lower, or an imported symbol with none.
// LabelVar is only meaningful when BodyIsDefined and Block is non-nil --
// relooper.Reloop mints a fresh label variable per function, not one
// shared across the whole program.
type FuncBody struct {
	FunId         ir.FunId
	Name          string
	BodyIsDefined bool
	Block         *relooper.Block
	FramePlan     *frame.FunctionFramePlan
	LabelVar      ir.VarId
}

// AssembleModule builds the complete binary Wasm module: it assigns
// indices to every imported and defined function plus the synthesized
// entry wrapper, lowers every defined function body via EmitFunctionBody,
// lowers the global initializer and main-call sequence via
// EmitEntryWrapper, and serializes the Type/Import/Function/Memory/Export/
// Code/Data sections in canonical order.
func AssembleModule(
	meta *ir.ProgramMetadata,
	funcs []FuncBody,
	globalBlock *relooper.Block,
	globalLabelVar ir.VarId,
	globals *frame.GlobalFramePlan,
	mainFunId ir.FunId,
	exportName string,
) ([]byte, error) {
	if exportName == "" {
		exportName = DefaultExportName
	}

	imported, defined := partitionFuncs(funcs)

	funcIndex := make(map[ir.FunId]uint32, len(funcs))
	var idx uint32
	for _, f := range imported {
		funcIndex[f.FunId] = idx
		idx++
	}
	for _, f := range defined {
		funcIndex[f.FunId] = idx
		idx++
	}
	entryWrapperIndex := idx

	ordinaryTypeIdx, entryTypeIdx, typeSection := buildTypeSection()

	strAddrs, strDataTotal := layoutStringLiterals(meta, globals.TotalSize+frame.GlobalsStartAddr)

	importSection := buildImportSection(imported, ordinaryTypeIdx)

	functionSection := buildFunctionSection(len(defined), ordinaryTypeIdx, entryTypeIdx)

	memSection := buildMemorySection(globals.TotalSize + strDataTotal)

	exportSection := buildExportSection(exportName, entryWrapperIndex)

	codeSection, err := buildCodeSection(meta, defined, globalBlock, globalLabelVar, globals, funcIndex, strAddrs, mainFunId)
	if err != nil {
		return nil, err
	}

	dataSection := buildDataSection(meta, strAddrs)

	var out []byte
	out = append(out, wasmMagic...)
	out = append(out, wasmVersion...)
	out = append(out, encodeSection(secType, typeSection)...)
	out = append(out, encodeSection(secImport, importSection)...)
	out = append(out, encodeSection(secFunction, functionSection)...)
	out = append(out, encodeSection(secMemory, memSection)...)
	out = append(out, encodeSection(secExport, exportSection)...)
	out = append(out, encodeSection(secCode, codeSection)...)
	out = append(out, encodeSection(secData, dataSection)...)
	return out, nil
}

// partitionFuncs splits funcs into imported (BodyIsDefined == false) and
// defined, each sorted by FunId so index assignment is a deterministic
// function of the program rather than of slice order the caller happened
// to build -- the same determinism discipline pkg/relooper and pkg/frame
// already apply to their own map iteration.
func partitionFuncs(funcs []FuncBody) (imported, defined []FuncBody) {
	byID := make(map[ir.FunId]FuncBody, len(funcs))
	ids := make([]ir.FunId, 0, len(funcs))
	for _, f := range funcs {
		byID[f.FunId] = f
		ids = append(ids, f.FunId)
	}
	slices.Sort(ids)

	for _, id := range ids {
		f := byID[id]
		if f.BodyIsDefined {
			defined = append(defined, f)
		} else {
			imported = append(imported, f)
		}
	}
	return imported, defined
}

// buildTypeSection interns exactly two function signatures: the shared
// `() -> ()` signature every ordinary (imported or defined) function uses,
// since every IR-level argument and return value travels through the
// shadow stack rather than the Wasm operand stack, and the entry
// wrapper's own `(i32,i32) -> i32` signature (argc, argv) -> exit code.
func buildTypeSection() (ordinaryIdx, entryIdx uint32, section []byte) {
	emptyType := []byte{funcTypeTag}
	emptyType = append(emptyType, encodeVector(0, nil)...) // params
	emptyType = append(emptyType, encodeVector(0, nil)...) // results

	entryType := []byte{funcTypeTag}
	entryType = append(entryType, encodeVector(2, []byte{valI32, valI32})...)
	entryType = append(entryType, encodeVector(1, []byte{valI32})...)

	contents := encodeVector(2, append(emptyType, entryType...))
	return 0, 1, contents
}

// buildImportSection emits one function import per host-provided symbol,
// in the order partitionFuncs already assigned indices -- module, field
// and function-type fields mirror the original's import_export_names
// convention of importing every host symbol from a module named "env".
func buildImportSection(imported []FuncBody, ordinaryTypeIdx uint32) []byte {
	var entries []byte
	for _, f := range imported {
		entries = append(entries, encodeString("env")...)
		entries = append(entries, encodeString(f.Name)...)
		entries = append(entries, kindFunc)
		entries = append(entries, encodeLEB128U(uint64(ordinaryTypeIdx))...)
	}
	return encodeVector(len(imported), entries)
}

// buildFunctionSection declares one type-index entry per defined function
// (all sharing ordinaryTypeIdx) plus one for the entry wrapper.
func buildFunctionSection(definedCount int, ordinaryTypeIdx, entryTypeIdx uint32) []byte {
	var entries []byte
	for i := 0; i < definedCount; i++ {
		entries = append(entries, encodeLEB128U(uint64(ordinaryTypeIdx))...)
	}
	entries = append(entries, encodeLEB128U(uint64(entryTypeIdx))...)
	return encodeVector(definedCount+1, entries)
}

// buildMemorySection declares a single memory with no maximum, sized in
// pages to hold every global, every string literal, and at least one page
// of headroom for the shadow stack to grow into above them.
func buildMemorySection(staticBytesUsed uint32) []byte {
	totalBytes := uint64(frame.GlobalsStartAddr) + uint64(staticBytesUsed)
	pages := (totalBytes + wasmPageSize - 1) / wasmPageSize
	pages += stackHeadroomPages

	var limits []byte
	limits = append(limits, 0x00) // flags: no maximum
	limits = append(limits, encodeLEB128U(pages)...)
	return encodeVector(1, limits)
}

// buildExportSection exports only the entry wrapper, under name.
func buildExportSection(name string, entryWrapperIndex uint32) []byte {
	entry := encodeString(name)
	entry = append(entry, kindFunc)
	entry = append(entry, encodeLEB128U(uint64(entryWrapperIndex))...)
	return encodeVector(1, entry)
}

// buildCodeSection lowers every defined function body (in the same order
// funcIndex assigned them, which buildFunctionSection also follows), then
// the entry wrapper, and frames each with its locals-vector-plus-body-
// plus-end encoding. A function whose body is empty (imported symbols
// never reach here; this only guards a defined function with no
// instructions at all, e.g. an empty-bodied static initializer) still
// emits a valid single-`end` body.
func buildCodeSection(
	meta *ir.ProgramMetadata,
	defined []FuncBody,
	globalBlock *relooper.Block,
	globalLabelVar ir.VarId,
	globals *frame.GlobalFramePlan,
	funcIndex map[ir.FunId]uint32,
	strAddrs map[ir.StringLiteralId]uint32,
	mainFunId ir.FunId,
) ([]byte, error) {
	var entries []byte
	for _, f := range defined {
		body, err := EmitFunctionBody(meta, f.Block, f.FramePlan, globals, funcIndex, strAddrs, f.LabelVar)
		if err != nil {
			return nil, err
		}
		entries = append(entries, encodeFuncBody(body)...)
	}

	entryBody, err := EmitEntryWrapper(meta, globalBlock, globalLabelVar, globals, funcIndex, strAddrs, mainFunId)
	if err != nil {
		return nil, err
	}
	entries = append(entries, encodeFuncBody(entryBody)...)

	return encodeVector(len(defined)+1, entries), nil
}

// encodeFuncBody frames one lowered instruction stream as a Code-section
// entry: a locals vector (always empty -- every local lives in linear
// memory through the frame planner, never as a genuine Wasm local, since
// the shadow-stack convention requires every variable to have a stable
// address), the instruction bytes, and the closing `end`.
func encodeFuncBody(instrs []byte) []byte {
	body := encodeVector(0, nil) // empty locals vector
	body = append(body, instrs...)
	body = append(body, opEnd)
	return encodeVector(len(body), body)
}

// buildDataSection emits one active data segment per string literal, at
// the address layoutStringLiterals assigned it.
func buildDataSection(meta *ir.ProgramMetadata, strAddrs map[ir.StringLiteralId]uint32) []byte {
	ids := make([]ir.StringLiteralId, 0, len(strAddrs))
	for id := range strAddrs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var entries []byte
	for _, id := range ids {
		addr := strAddrs[id]
		bytes := meta.StringLiterals[id]

		entries = append(entries, 0x00) // active segment, memory index 0 implied
		entries = append(entries, opI32Const)
		entries = append(entries, encodeLEB128S(int64(addr))...)
		entries = append(entries, opEnd)
		entries = append(entries, encodeVector(len(bytes), bytes)...)
	}
	return encodeVector(len(ids), entries)
}

// layoutStringLiterals assigns every string literal a fixed address
// starting just past the global variables, in ascending StringLiteralId
// order, and returns the total byte count consumed.
func layoutStringLiterals(meta *ir.ProgramMetadata, startAddr uint32) (map[ir.StringLiteralId]uint32, uint32) {
	ids := make([]ir.StringLiteralId, 0, len(meta.StringLiterals))
	for id := range meta.StringLiterals {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	addrs := make(map[ir.StringLiteralId]uint32, len(ids))
	addr := startAddr
	for _, id := range ids {
		addrs[id] = addr
		addr += uint32(len(meta.StringLiterals[id]))
	}
	return addrs, addr - startAddr
}
