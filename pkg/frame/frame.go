// Package frame implements the stack-frame planner: it assigns every
// parameter, local variable and the return-value slot a byte offset
// relative to a per-call frame pointer, and every global variable an
// absolute linear-memory address. This is the layout half of the shadow-
// stack calling convention the code generator (pkg/wasmgen) emits;
// grounded on the original implementation's backend/{allocate_vars.rs,
// allocate_local_vars.rs,stack_frame_operations.rs}.
package frame

import (
	"github.com/minz/c2wasm/pkg/cerr"
	"github.com/minz/c2wasm/pkg/ir"
	"github.com/minz/c2wasm/pkg/relooper"
)

// PtrSize is the byte width of a linear-memory address on this (wasm32)
// target: every pointer, and every frame/stack-pointer slot, is 4 bytes.
const PtrSize = 4

// The first three words of linear memory are reserved for the shadow
// stack's bookkeeping registers, read and written by every call/return
// sequence pkg/wasmgen emits:
//
//	0  FramePtrAddr      -- address of the current call frame
//	4  StackPtrAddr      -- address of the first free byte past the stack
//	8  TempFramePtrAddr  -- scratch, used while constructing a new frame
//
// GlobalsStartAddr is the first byte available for global variable
// storage and the stack's own initial contents once those three words are
// reserved.
const (
	FramePtrAddr     uint32 = 0
	StackPtrAddr     uint32 = FramePtrAddr + PtrSize
	TempFramePtrAddr uint32 = StackPtrAddr + PtrSize
	GlobalsStartAddr uint32 = TempFramePtrAddr + PtrSize
)

// FunctionFramePlan is the frame layout for one function body: every
// parameter and local variable's frame-pointer-relative byte offset, the
// return value slot's offset, and LocalsByteSize -- the number of bytes
// the function's own prologue must reserve beyond what its caller already
// allocated for the previous-frame pointer, return value and parameters.
type FunctionFramePlan struct {
	VarOffsets        map[ir.VarId]uint32
	ReturnValueOffset uint32
	LocalsByteSize    uint32
}

// GlobalFramePlan is the layout for the program's global variables: each
// gets a fixed, absolute linear-memory address rather than a frame-
// relative offset, since globals outlive every call frame.
type GlobalFramePlan struct {
	VarAddrs  map[ir.VarId]uint32
	TotalSize uint32
}

// PlanFunctionFrame lays out one function's call frame. block is that
// function's relooped body (used only to discover which local variables
// exist and in what order -- not a reflection of the stack itself, which
// always starts with the previous frame pointer and the return value).
func PlanFunctionFrame(block *relooper.Block, funType ir.IrType, paramVarMappings []ir.VarId, meta *ir.ProgramMetadata) (*FunctionFramePlan, error) {
	if funType.Kind != ir.KFunction {
		return nil, cerr.Unreachable("frame", "PlanFunctionFrame called with non-function type %s", funType.String())
	}

	varOffsets := make(map[ir.VarId]uint32)
	offset := uint32(PtrSize) // space for the previous frame pointer

	returnSize, err := staticByteSize(*funType.Return, meta)
	if err != nil {
		return nil, err
	}
	returnValueOffset := offset
	offset += returnSize

	paramVarIds := make(map[ir.VarId]bool, len(paramVarMappings))
	for i, paramType := range funType.Params {
		if i >= len(paramVarMappings) {
			return nil, cerr.Unreachable("frame", "function type declares %d params but only %d param var mappings given", len(funType.Params), len(paramVarMappings))
		}
		paramVar := paramVarMappings[i]
		paramVarIds[paramVar] = true
		size, err := staticByteSize(paramType, meta)
		if err != nil {
			return nil, err
		}
		varOffsets[paramVar] = offset
		offset += size
	}

	localVars, err := collectVarsInOrder(block, meta)
	if err != nil {
		return nil, err
	}

	var localsByteSize uint32
	for _, v := range localVars {
		if paramVarIds[v] {
			continue
		}
		t, ok := meta.VarType(v)
		if !ok {
			return nil, cerr.Unreachable("frame", "local variable v%d has no recorded type", v)
		}
		size, err := staticByteSize(t, meta)
		if err != nil {
			return nil, err
		}
		varOffsets[v] = offset
		offset += size
		localsByteSize += size
	}

	return &FunctionFramePlan{
		VarOffsets:        varOffsets,
		ReturnValueOffset: returnValueOffset,
		LocalsByteSize:    localsByteSize,
	}, nil
}

// PlanGlobals lays out every global variable referenced by the program's
// global-initializer block, starting at startAddr (normally
// GlobalsStartAddr).
func PlanGlobals(block *relooper.Block, startAddr uint32, meta *ir.ProgramMetadata) (*GlobalFramePlan, error) {
	if block == nil {
		return &GlobalFramePlan{VarAddrs: make(map[ir.VarId]uint32)}, nil
	}

	globalVars, err := collectVarsInOrder(block, meta)
	if err != nil {
		return nil, err
	}

	varAddrs := make(map[ir.VarId]uint32, len(globalVars))
	addr := startAddr
	var total uint32
	for _, v := range globalVars {
		t, ok := meta.VarType(v)
		if !ok {
			return nil, cerr.Unreachable("frame", "global variable v%d has no recorded type", v)
		}
		size, err := staticByteSize(t, meta)
		if err != nil {
			return nil, err
		}
		varAddrs[v] = addr
		addr += size
		total += size
	}

	return &GlobalFramePlan{VarAddrs: varAddrs, TotalSize: total}, nil
}

// staticByteSize is t.ByteSize, rejecting the one case the frame planner
// can never handle: a runtime-sized array. Space for those is reserved
// through an AllocateVariable instruction instead, which puts only a
// pointer (PtrSize bytes) in the frame -- the pointed-to buffer itself
// lives wherever AllocateVariable's emitted code puts it (typically bump-
// allocated from the top of the stack).
func staticByteSize(t ir.IrType, meta *ir.ProgramMetadata) (uint32, error) {
	if t.Kind == ir.KArray && (!t.HasLen || t.ArrayLen.IsRuntime) {
		return 0, cerr.Unreachable("frame", "cannot assign a static frame offset to a runtime-sized array type %s", t.String())
	}
	return uint32(t.ByteSize(meta.Aggregates)), nil
}

// collectVarsInOrder walks block the same way the target code generator
// will (Simple: internal then next; Loop: inner then next; Multiple:
// handled blocks in order then next; an If*Else instruction's then arm
// and else arm after it) and returns every variable written by a
// dest-producing instruction, first-seen order, deduplicated. This
// fixes the variable (and therefore offset) ordering deterministically,
// which the original implementation leaves to incidental HashMap
// iteration order -- this module guarantees it instead, since two
// compiles of the same source should lay out frames identically.
func collectVarsInOrder(block *relooper.Block, meta *ir.ProgramMetadata) ([]ir.VarId, error) {
	seen := make(map[ir.VarId]bool)
	var order []ir.VarId

	add := func(v ir.VarId) {
		if v == meta.NullDest {
			return
		}
		if !seen[v] {
			seen[v] = true
			order = append(order, v)
		}
	}

	var addInstrs func(instrs []ir.Instruction)
	addInstrs = func(instrs []ir.Instruction) {
		for _, instr := range instrs {
			if instr.Op.IsDestProducing() {
				add(instr.Dest)
			}
			addInstrs(instr.Then)
			addInstrs(instr.Else)
		}
	}

	var walk func(b *relooper.Block) error
	walk = func(b *relooper.Block) error {
		if b == nil {
			return nil
		}
		switch b.Kind {
		case relooper.BlockSimple:
			addInstrs(b.Internal.Instrs)
			return walk(b.Next)
		case relooper.BlockLoop:
			if err := walk(b.Inner); err != nil {
				return err
			}
			return walk(b.Next)
		case relooper.BlockMultiple:
			for _, h := range b.HandledBlocks {
				if err := walk(h); err != nil {
					return err
				}
			}
			return walk(b.Next)
		default:
			return cerr.Unreachable("frame", "unknown block kind %d", b.Kind)
		}
	}

	if err := walk(block); err != nil {
		return nil, err
	}
	return order, nil
}
