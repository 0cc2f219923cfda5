// Function- and block-level lowering: turns a relooped, frame-planned
// function body into the raw Wasm instruction bytes that belong inside one
// Code-section entry. Grounded pass-for-pass on the original
// implementation's back_end/target_code_generation.rs
// (convert_block_to_wasm, convert_ir_instr_to_wasm, convert_handled_blocks,
// test_label_equality, get_src_type_preferably_from_var) and
// backend/stack_frame_operations.rs (the shadow-stack call/return
// sequences). Unlike the original, which builds a Vec<WasmInstruction> tree
// and serializes it afterwards, this emitter appends opcode bytes directly
// as it walks the relooped tree -- the binary format is already a nested
// byte sequence, so there is no intermediate instruction AST to build.
package wasmgen

import (
	"github.com/minz/c2wasm/pkg/cerr"
	"github.com/minz/c2wasm/pkg/frame"
	"github.com/minz/c2wasm/pkg/ir"
	"github.com/minz/c2wasm/pkg/relooper"
)

// ctrlKind tags one entry on the emitter's control-flow stack, mirroring
// the original's ControlFlowElement enum. Depth lookups for Break/Continue/
// EndHandledBlock search this stack from the top for the nearest entry of
// the matching kind and ID.
type ctrlKind uint8

const (
	ctrlBlock ctrlKind = iota
	ctrlLoop
	ctrlIf
	ctrlUnlabelledIf
)

type ctrlEntry struct {
	kind    ctrlKind
	loopID  ir.LoopBlockId
	multiID ir.MultipleBlockId
}

// funcEmitter lowers one function body (or the global-initializer block) to
// Wasm bytecode. framePlan is nil when emitting in "global context" --
// every variable then resolves through globals instead of a frame offset,
// mirroring FunctionContext::global_context.
type funcEmitter struct {
	meta      *ir.ProgramMetadata
	framePlan *frame.FunctionFramePlan
	globals   *frame.GlobalFramePlan
	funcIndex map[ir.FunId]uint32
	strAddrs  map[ir.StringLiteralId]uint32
	labelVar  ir.VarId

	control []ctrlEntry
	code    []byte
}

func newFuncEmitter(
	meta *ir.ProgramMetadata,
	framePlan *frame.FunctionFramePlan,
	globals *frame.GlobalFramePlan,
	funcIndex map[ir.FunId]uint32,
	strAddrs map[ir.StringLiteralId]uint32,
	labelVar ir.VarId,
) *funcEmitter {
	return &funcEmitter{
		meta:      meta,
		framePlan: framePlan,
		globals:   globals,
		funcIndex: funcIndex,
		strAddrs:  strAddrs,
		labelVar:  labelVar,
	}
}

// EmitFunctionBody lowers a defined function's relooped body to the raw
// instruction bytes for its Code-section entry (the caller appends the
// final implicit `end`), preceded by a prologue that advances SP past the
// frame's locals (framePlan.LocalsByteSize).
func EmitFunctionBody(
	meta *ir.ProgramMetadata,
	block *relooper.Block,
	framePlan *frame.FunctionFramePlan,
	globals *frame.GlobalFramePlan,
	funcIndex map[ir.FunId]uint32,
	strAddrs map[ir.StringLiteralId]uint32,
	labelVar ir.VarId,
) ([]byte, error) {
	e := newFuncEmitter(meta, framePlan, globals, funcIndex, strAddrs, labelVar)
	if framePlan != nil && framePlan.LocalsByteSize > 0 {
		if err := e.incrementSPByKnown(framePlan.LocalsByteSize); err != nil {
			return nil, err
		}
	}
	if err := e.emitBlock(block); err != nil {
		return nil, err
	}
	return e.code, nil
}

// EmitEntryWrapper builds the synthesized `(i32,i32)->i32` entry function:
// it initialises the shadow stack's bookkeeping registers, runs the
// program's global-initializer block, hand-builds main()'s stack frame
// from its own argc/argv locals, calls main, and returns main's result.
// Grounded on generate_target_code's construction of global_wasm_instrs.
func EmitEntryWrapper(
	meta *ir.ProgramMetadata,
	globalBlock *relooper.Block,
	globalLabelVar ir.VarId,
	globals *frame.GlobalFramePlan,
	funcIndex map[ir.FunId]uint32,
	strAddrs map[ir.StringLiteralId]uint32,
	mainFunId ir.FunId,
) ([]byte, error) {
	e := newFuncEmitter(meta, nil, globals, funcIndex, strAddrs, globalLabelVar)

	// initialise stack ptr: the stack starts just past the globals and the
	// string literals laid out after them from GlobalsStartAddr
	stackBase := frame.GlobalsStartAddr
	if globals != nil {
		stackBase += globals.TotalSize
	}
	for _, s := range meta.StringLiterals {
		stackBase += uint32(len(s))
	}
	if err := e.setSP(func() error { e.emitConstI32(int32(stackBase)); return nil }); err != nil {
		return nil, err
	}

	// initialise frame ptr: no previous frame, so store NULL then point FP at it
	if err := e.storeValueAt(e.pushSP, ir.TypeI32, func() error { e.emitConstI32(0); return nil }); err != nil {
		return nil, err
	}
	if err := e.setFPToSP(); err != nil {
		return nil, err
	}

	if globalBlock != nil {
		if err := e.emitBlock(globalBlock); err != nil {
			return nil, err
		}
	}

	// set up main()'s stack frame by hand
	if err := e.storeValueAt(e.pushSP, ir.TypeI32, func() error { e.pushFP(); return nil }); err != nil {
		return nil, err
	}
	if err := e.setFPToSP(); err != nil {
		return nil, err
	}
	if err := e.incrementSPByKnown(frame.PtrSize + 4); err != nil { // prev-FP slot + i32 return slot
		return nil, err
	}
	if err := e.storeValueAt(e.pushSP, ir.TypeI32, func() error { e.emitOp(opLocalGet); e.emitLEBU(0); return nil }); err != nil {
		return nil, err
	}
	if err := e.incrementSPByKnown(4); err != nil {
		return nil, err
	}
	if err := e.storeValueAt(e.pushSP, ir.TypeI32, func() error { e.emitOp(opLocalGet); e.emitLEBU(1); return nil }); err != nil {
		return nil, err
	}
	if err := e.incrementSPByKnown(4); err != nil {
		return nil, err
	}

	idx, ok := funcIndex[mainFunId]
	if !ok {
		return nil, cerr.Unreachable("wasmgen", "main function has no assigned wasm index")
	}
	e.emitOp(opCall)
	e.emitLEBU(uint64(idx))

	// load and return the i32 result left just above the saved previous FP
	e.pushFP()
	e.emitConstI32(int32(frame.PtrSize))
	e.emitOp(opI32Add)
	e.emitOp(opI32Load)
	e.emitMemArg(2, 0)
	e.emitOp(opReturn)

	return e.code, nil
}

// ---- byte-level helpers ----

func (e *funcEmitter) emitOp(b byte) { e.code = append(e.code, b) }

func (e *funcEmitter) emitLEBU(v uint64) { e.code = append(e.code, encodeLEB128U(v)...) }
func (e *funcEmitter) emitLEBS(v int64)  { e.code = append(e.code, encodeLEB128S(v)...) }

func (e *funcEmitter) emitMemArg(align, offset uint32) {
	e.emitLEBU(uint64(align))
	e.emitLEBU(uint64(offset))
}

func (e *funcEmitter) emitConstI32(n int32) {
	e.emitOp(opI32Const)
	e.emitLEBS(int64(n))
}

func (e *funcEmitter) emitConstI64(n int64) {
	e.emitOp(opI64Const)
	e.emitLEBS(n)
}

func (e *funcEmitter) emitConstF32(v float32) {
	e.emitOp(opF32Const)
	e.code = append(e.code, encodeF32(v)...)
}

func (e *funcEmitter) emitConstF64(v float64) {
	e.emitOp(opF64Const)
	e.code = append(e.code, encodeF64(v)...)
}

// ---- shadow-stack registers (FramePtrAddr/StackPtrAddr/TempFramePtrAddr) ----

func (e *funcEmitter) loadReg(addr uint32) {
	e.emitConstI32(int32(addr))
	e.emitOp(opI32Load)
	e.emitMemArg(2, 0)
}

func (e *funcEmitter) storeReg(addr uint32, pushValue func() error) error {
	e.emitConstI32(int32(addr))
	if err := pushValue(); err != nil {
		return err
	}
	e.emitOp(opI32Store)
	e.emitMemArg(2, 0)
	return nil
}

func (e *funcEmitter) pushFP()     { e.loadReg(frame.FramePtrAddr) }
func (e *funcEmitter) pushSP()     { e.loadReg(frame.StackPtrAddr) }
func (e *funcEmitter) pushTempFP() { e.loadReg(frame.TempFramePtrAddr) }

func (e *funcEmitter) setFP(pushValue func() error) error {
	return e.storeReg(frame.FramePtrAddr, pushValue)
}
func (e *funcEmitter) setSP(pushValue func() error) error {
	return e.storeReg(frame.StackPtrAddr, pushValue)
}
func (e *funcEmitter) setTempFP(pushValue func() error) error {
	return e.storeReg(frame.TempFramePtrAddr, pushValue)
}

func (e *funcEmitter) setFPToSP() error     { return e.setFP(func() error { e.pushSP(); return nil }) }
func (e *funcEmitter) setFPToTempFP() error { return e.setFP(func() error { e.pushTempFP(); return nil }) }
func (e *funcEmitter) setSPToFP() error     { return e.setSP(func() error { e.pushFP(); return nil }) }
func (e *funcEmitter) setTempFPToSP() error {
	return e.setTempFP(func() error { e.pushSP(); return nil })
}

func (e *funcEmitter) incrementSPByKnown(n uint32) error {
	return e.setSP(func() error {
		e.pushSP()
		e.emitConstI32(int32(n))
		e.emitOp(opI32Add)
		return nil
	})
}

func (e *funcEmitter) incrementSPDynamic(pushByteSize func() error) error {
	return e.setSP(func() error {
		e.pushSP()
		if err := pushByteSize(); err != nil {
			return err
		}
		e.emitOp(opI32Add)
		return nil
	})
}

// restorePreviousFP sets FP to the word stored at the address FP currently
// points to -- the previous frame pointer saved there when this frame was
// set up.
func (e *funcEmitter) restorePreviousFP() error {
	return e.setFP(func() error {
		e.pushFP()
		e.emitOp(opI32Load)
		e.emitMemArg(2, 0)
		return nil
	})
}

// ---- variable addressing ----

func (e *funcEmitter) loadVarAddress(v ir.VarId) error {
	if e.framePlan != nil {
		if off, ok := e.framePlan.VarOffsets[v]; ok {
			e.pushFP()
			e.emitConstI32(int32(off))
			e.emitOp(opI32Add)
			return nil
		}
	}
	if e.globals != nil {
		if addr, ok := e.globals.VarAddrs[v]; ok {
			e.emitConstI32(int32(addr))
			return nil
		}
	}
	return cerr.Unreachable("wasmgen", "variable v%d has no frame offset or global address", v)
}

func (e *funcEmitter) loadVarAsType(v ir.VarId, t ir.IrType) error {
	if err := e.loadVarAddress(v); err != nil {
		return err
	}
	op, align, err := loadOpFor(t)
	if err != nil {
		return err
	}
	e.emitOp(op)
	e.emitMemArg(align, 0)
	return nil
}

// storeValueAt pushes pushAddr, then pushValue, then the store opcode that
// matches t -- the address-before-value operand order every Wasm store
// instruction requires.
func (e *funcEmitter) storeValueAt(pushAddr func(), t ir.IrType, pushValue func() error) error {
	pushAddr()
	if err := pushValue(); err != nil {
		return err
	}
	op, align, err := storeOpFor(t)
	if err != nil {
		return err
	}
	e.emitOp(op)
	e.emitMemArg(align, 0)
	return nil
}

// ---- operand loading ----

// loadOperandAsType pushes the value of op onto the stack. A Var operand is
// always loaded using its OWN declared type (ignoring t) -- this is what
// makes same-bucket integer conversions work by simply reloading at a
// different address-relative width, matching the original's load_src. A
// Constant has no declared type of its own, so t picks its encoding.
func (e *funcEmitter) loadOperandAsType(op ir.Operand, t ir.IrType) error {
	switch op.Kind {
	case ir.OperandVar:
		varType, ok := e.meta.VarType(op.Var)
		if !ok {
			return cerr.Unreachable("wasmgen", "v%d has no recorded type", op.Var)
		}
		return e.loadVarAsType(op.Var, varType)
	case ir.OperandStoreAddressVar:
		return e.loadVarAddress(op.Var)
	case ir.OperandConstant:
		return e.loadConstant(op.Con, t)
	default:
		return cerr.Unreachable("wasmgen", "operand kind %d cannot be loaded as a value", op.Kind)
	}
}

func (e *funcEmitter) loadConstant(c ir.Constant, t ir.IrType) error {
	switch t.Kind {
	case ir.KI8, ir.KU8, ir.KI16, ir.KU16, ir.KI32, ir.KU32, ir.KPointer, ir.KArray:
		e.emitConstI32(int32(c.Int))
	case ir.KI64, ir.KU64:
		e.emitConstI64(c.Int)
	case ir.KF32:
		e.emitConstF32(float32(c.Float))
	case ir.KF64:
		e.emitConstF64(c.Float)
	default:
		return cerr.Unreachable("wasmgen", "no constant encoding for type %s", t.String())
	}
	return nil
}

// operandType is get_type: a Var/StoreAddressVar's declared type, a
// Constant's natural type, or a Fun's signature.
func (e *funcEmitter) operandType(op ir.Operand) (ir.IrType, error) {
	switch op.Kind {
	case ir.OperandVar, ir.OperandStoreAddressVar:
		t, ok := e.meta.VarType(op.Var)
		if !ok {
			return ir.IrType{}, cerr.Unreachable("wasmgen", "v%d has no recorded type", op.Var)
		}
		return t, nil
	case ir.OperandConstant:
		return naturalConstantType(op.Con), nil
	case ir.OperandFun:
		t, ok := e.meta.FunTypes[op.Fun]
		if !ok {
			return ir.IrType{}, cerr.Unreachable("wasmgen", "f%d has no recorded type", op.Fun)
		}
		return t, nil
	default:
		return ir.IrType{}, cerr.Unreachable("wasmgen", "unknown operand kind %d", op.Kind)
	}
}

// srcTypePreferablyFromVar picks whichever of a/b is a Var's declared type,
// falling back to a constant's natural type -- get_src_type_preferably_
// from_var, used by comparisons so a Var-vs-Constant comparison picks the
// Var's exact width/signedness rather than the constant's generic one.
func (e *funcEmitter) srcTypePreferablyFromVar(a, b ir.Operand) (ir.IrType, error) {
	if a.Kind == ir.OperandVar {
		return e.operandType(a)
	}
	if b.Kind == ir.OperandVar {
		return e.operandType(b)
	}
	if a.Kind == ir.OperandConstant {
		return naturalConstantType(a.Con), nil
	}
	return e.operandType(b)
}

// naturalConstantType is a simplified Constant::get_type(None): the
// original picks the narrowest of eight integer ranks by magnitude, which
// only ever matters when two untyped constants are compared directly
// against each other (a well-typed front end attaches an explicit type to
// every other use via Convert). This module always reports the default C
// literal ranks instead (int / double) and documents the simplification in
// DESIGN.md rather than reproducing the eight-way magnitude table.
func naturalConstantType(c ir.Constant) ir.IrType {
	if c.IsFloat {
		return ir.TypeF64
	}
	return ir.TypeI32
}

// constantMinimumI32Type is Constant::get_type_minimum_i32: the type given
// to a variadic call argument past the callee's declared parameter list.
func constantMinimumI32Type(c ir.Constant) ir.IrType {
	if c.IsFloat {
		return ir.TypeF64
	}
	if c.Int >= 0 {
		if c.Int <= 4294967295 {
			return ir.TypeU32
		}
		return ir.TypeU64
	}
	if c.Int >= -2147483648 && c.Int <= 2147483647 {
		return ir.TypeI32
	}
	return ir.TypeI64
}

func staticSize(t ir.IrType, meta *ir.ProgramMetadata) (uint32, error) {
	if t.Kind == ir.KArray && (!t.HasLen || t.ArrayLen.IsRuntime) {
		return 0, cerr.Unreachable("wasmgen", "cannot size a runtime-sized array type %s", t.String())
	}
	return uint32(t.ByteSize(meta.Aggregates)), nil
}

// paramOperandType is the type used to load/store one call argument: a Var
// always uses its own declared type; a Constant uses the callee's declared
// parameter type when the call is within arity, or constantMinimumI32Type
// for a variadic argument past the declared list.
func paramOperandType(arg ir.Operand, paramTypes []ir.IrType, index int, meta *ir.ProgramMetadata) (ir.IrType, error) {
	switch arg.Kind {
	case ir.OperandVar:
		t, ok := meta.VarType(arg.Var)
		if !ok {
			return ir.IrType{}, cerr.Unreachable("wasmgen", "v%d has no recorded type", arg.Var)
		}
		return t, nil
	case ir.OperandConstant:
		if index < len(paramTypes) {
			return paramTypes[index], nil
		}
		return constantMinimumI32Type(arg.Con), nil
	default:
		return ir.IrType{}, cerr.Unreachable("wasmgen", "call argument %d has unsupported operand kind %d", index, arg.Kind)
	}
}

// ---- type-to-opcode tables ----

func loadOpFor(t ir.IrType) (op byte, align uint32, err error) {
	switch t.Kind {
	case ir.KI8:
		return opI32Load8S, 0, nil
	case ir.KU8:
		return opI32Load8U, 0, nil
	case ir.KI16:
		return opI32Load16S, 1, nil
	case ir.KU16:
		return opI32Load16U, 1, nil
	case ir.KI32, ir.KU32, ir.KPointer:
		return opI32Load, 2, nil
	case ir.KI64, ir.KU64:
		return opI64Load, 3, nil
	case ir.KF32:
		return opF32Load, 2, nil
	case ir.KF64:
		return opF64Load, 3, nil
	default:
		return 0, 0, cerr.Unreachable("wasmgen", "no load opcode for type %s", t.String())
	}
}

func storeOpFor(t ir.IrType) (op byte, align uint32, err error) {
	switch t.Kind {
	case ir.KI8, ir.KU8:
		return opI32Store8, 0, nil
	case ir.KI16, ir.KU16:
		return opI32Store16, 1, nil
	case ir.KI32, ir.KU32, ir.KPointer:
		return opI32Store, 2, nil
	case ir.KI64, ir.KU64:
		return opI64Store, 3, nil
	case ir.KF32:
		return opF32Store, 2, nil
	case ir.KF64:
		return opF64Store, 3, nil
	default:
		return 0, 0, cerr.Unreachable("wasmgen", "no store opcode for type %s", t.String())
	}
}

// numKindOf classifies t into one of the four Wasm stack types plus a
// signedness flag used to pick the signed/unsigned opcode variant.
func numKindOf(t ir.IrType) (bucket byte, signed bool, isFloat bool, err error) {
	switch t.Kind {
	case ir.KI8, ir.KI16, ir.KI32:
		return valI32, true, false, nil
	case ir.KU8, ir.KU16, ir.KU32, ir.KPointer, ir.KArray:
		return valI32, false, false, nil
	case ir.KI64:
		return valI64, true, false, nil
	case ir.KU64:
		return valI64, false, false, nil
	case ir.KF32:
		return valF32, true, true, nil
	case ir.KF64:
		return valF64, true, true, nil
	default:
		return 0, false, false, cerr.Unreachable("wasmgen", "no numeric kind for type %s", t.String())
	}
}

func is32BucketKind(k ir.Kind) bool {
	switch k {
	case ir.KI8, ir.KU8, ir.KI16, ir.KU16, ir.KI32, ir.KU32, ir.KPointer, ir.KArray:
		return true
	}
	return false
}

func is64BucketKind(k ir.Kind) bool { return k == ir.KI64 || k == ir.KU64 }

func arithOpcode(op ir.Opcode, bucket byte, signed bool) (byte, error) {
	switch op {
	case ir.OpMult:
		switch bucket {
		case valI32:
			return opI32Mul, nil
		case valI64:
			return opI64Mul, nil
		case valF32:
			return opF32Mul, nil
		case valF64:
			return opF64Mul, nil
		}
	case ir.OpAdd:
		switch bucket {
		case valI32:
			return opI32Add, nil
		case valI64:
			return opI64Add, nil
		case valF32:
			return opF32Add, nil
		case valF64:
			return opF64Add, nil
		}
	case ir.OpSub:
		switch bucket {
		case valI32:
			return opI32Sub, nil
		case valI64:
			return opI64Sub, nil
		case valF32:
			return opF32Sub, nil
		case valF64:
			return opF64Sub, nil
		}
	case ir.OpDiv:
		switch bucket {
		case valI32:
			if signed {
				return opI32DivS, nil
			}
			return opI32DivU, nil
		case valI64:
			if signed {
				return opI64DivS, nil
			}
			return opI64DivU, nil
		case valF32:
			return opF32Div, nil
		case valF64:
			return opF64Div, nil
		}
	case ir.OpMod:
		switch bucket {
		case valI32:
			if signed {
				return opI32RemS, nil
			}
			return opI32RemU, nil
		case valI64:
			if signed {
				return opI64RemS, nil
			}
			return opI64RemU, nil
		}
	case ir.OpLeftShift:
		switch bucket {
		case valI32:
			return opI32Shl, nil
		case valI64:
			return opI64Shl, nil
		}
	case ir.OpRightShift:
		switch bucket {
		case valI32:
			if signed {
				return opI32ShrS, nil
			}
			return opI32ShrU, nil
		case valI64:
			if signed {
				return opI64ShrS, nil
			}
			return opI64ShrU, nil
		}
	case ir.OpBitwiseAnd:
		switch bucket {
		case valI32:
			return opI32And, nil
		case valI64:
			return opI64And, nil
		}
	case ir.OpBitwiseOr:
		switch bucket {
		case valI32:
			return opI32Or, nil
		case valI64:
			return opI64Or, nil
		}
	case ir.OpBitwiseXor:
		switch bucket {
		case valI32:
			return opI32Xor, nil
		case valI64:
			return opI64Xor, nil
		}
	}
	return 0, cerr.Unreachable("wasmgen", "operator %d has no opcode on this operand kind", op)
}

func comparisonOpcode(op ir.Opcode, bucket byte, signed bool) (byte, error) {
	switch op {
	case ir.OpLessThan:
		switch bucket {
		case valI32:
			if signed {
				return opI32LtS, nil
			}
			return opI32LtU, nil
		case valI64:
			if signed {
				return opI64LtS, nil
			}
			return opI64LtU, nil
		case valF32:
			return opF32Lt, nil
		case valF64:
			return opF64Lt, nil
		}
	case ir.OpGreaterThan:
		switch bucket {
		case valI32:
			if signed {
				return opI32GtS, nil
			}
			return opI32GtU, nil
		case valI64:
			if signed {
				return opI64GtS, nil
			}
			return opI64GtU, nil
		case valF32:
			return opF32Gt, nil
		case valF64:
			return opF64Gt, nil
		}
	case ir.OpLessThanEq:
		switch bucket {
		case valI32:
			if signed {
				return opI32LeS, nil
			}
			return opI32LeU, nil
		case valI64:
			if signed {
				return opI64LeS, nil
			}
			return opI64LeU, nil
		case valF32:
			return opF32Le, nil
		case valF64:
			return opF64Le, nil
		}
	case ir.OpGreaterThanEq:
		switch bucket {
		case valI32:
			if signed {
				return opI32GeS, nil
			}
			return opI32GeU, nil
		case valI64:
			if signed {
				return opI64GeS, nil
			}
			return opI64GeU, nil
		case valF32:
			return opF32Ge, nil
		case valF64:
			return opF64Ge, nil
		}
	case ir.OpEqual:
		switch bucket {
		case valI32:
			return opI32Eq, nil
		case valI64:
			return opI64Eq, nil
		case valF32:
			return opF32Eq, nil
		case valF64:
			return opF64Eq, nil
		}
	case ir.OpNotEqual:
		switch bucket {
		case valI32:
			return opI32Ne, nil
		case valI64:
			return opI64Ne, nil
		case valF32:
			return opF32Ne, nil
		case valF64:
			return opF64Ne, nil
		}
	}
	return 0, cerr.Unreachable("wasmgen", "comparison %d has no opcode on this operand kind", op)
}

func intToFloatOpcode(from, to ir.IrType) (byte, error) {
	bucket, signed, _, err := numKindOf(from)
	if err != nil {
		return 0, err
	}
	switch to.Kind {
	case ir.KF32:
		switch bucket {
		case valI32:
			if signed {
				return opF32ConvertI32S, nil
			}
			return opF32ConvertI32U, nil
		case valI64:
			if signed {
				return opF32ConvertI64S, nil
			}
			return opF32ConvertI64U, nil
		}
	case ir.KF64:
		switch bucket {
		case valI32:
			if signed {
				return opF64ConvertI32S, nil
			}
			return opF64ConvertI32U, nil
		case valI64:
			if signed {
				return opF64ConvertI64S, nil
			}
			return opF64ConvertI64U, nil
		}
	}
	return 0, cerr.Unreachable("wasmgen", "no int-to-float opcode from %s to %s", from.String(), to.String())
}

func floatToIntOpcode(from, to ir.IrType) (byte, error) {
	toBucket, toSigned, _, err := numKindOf(to)
	if err != nil {
		return 0, err
	}
	switch from.Kind {
	case ir.KF32:
		switch toBucket {
		case valI32:
			if toSigned {
				return opI32TruncF32S, nil
			}
			return opI32TruncF32U, nil
		case valI64:
			if toSigned {
				return opI64TruncF32S, nil
			}
			return opI64TruncF32U, nil
		}
	case ir.KF64:
		switch toBucket {
		case valI32:
			if toSigned {
				return opI32TruncF64S, nil
			}
			return opI32TruncF64U, nil
		case valI64:
			if toSigned {
				return opI64TruncF64S, nil
			}
			return opI64TruncF64U, nil
		}
	}
	return 0, cerr.Unreachable("wasmgen", "no float-to-int opcode from %s to %s", from.String(), to.String())
}

// ---- block lowering (convert_block_to_wasm) ----

func (e *funcEmitter) emitBlock(b *relooper.Block) error {
	if b == nil {
		return nil
	}
	switch b.Kind {
	case relooper.BlockSimple:
		for _, instr := range b.Internal.Instrs {
			if err := e.emitInstr(instr); err != nil {
				return err
			}
		}
		return e.emitBlock(b.Next)

	case relooper.BlockLoop:
		e.control = append(e.control, ctrlEntry{kind: ctrlBlock, loopID: b.LoopID})
		e.control = append(e.control, ctrlEntry{kind: ctrlLoop, loopID: b.LoopID})

		e.emitOp(opBlock)
		e.emitOp(blockTypeEmpty)
		e.emitOp(opLoop)
		e.emitOp(blockTypeEmpty)
		if err := e.emitBlock(b.Inner); err != nil {
			return err
		}
		// explicit branch back to the start of the loop
		e.emitOp(opBr)
		e.emitLEBU(0)
		e.emitOp(opEnd) // end loop
		e.emitOp(opEnd) // end block

		e.control = e.control[:len(e.control)-2]
		return e.emitBlock(b.Next)

	case relooper.BlockMultiple:
		if err := e.emitHandledBlocks(b.HandledBlocks, b.MultiID); err != nil {
			return err
		}
		return e.emitBlock(b.Next)

	default:
		return cerr.Unreachable("wasmgen", "unknown block kind %d", b.Kind)
	}
}

// emitHandledBlocks is convert_handled_blocks: a right-nested if/else chain
// dispatching on which handled block's entry label the label variable
// currently holds. No synthetic enclosing block wraps the chain -- each
// recursion level pushes its own If(multiID) control record (same ID
// reused at every level), and EndHandledBlock's depth search finds the
// nearest one from wherever it's nested.
func (e *funcEmitter) emitHandledBlocks(blocks []*relooper.Block, multiID ir.MultipleBlockId) error {
	if len(blocks) == 0 {
		return nil
	}
	first := blocks[0]
	rest := blocks[1:]

	if err := e.testLabelEquality(first.GetEntryLabels()); err != nil {
		return err
	}

	e.control = append(e.control, ctrlEntry{kind: ctrlIf, multiID: multiID})

	e.emitOp(opIf)
	e.emitOp(blockTypeEmpty)
	if err := e.emitBlock(first); err != nil {
		return err
	}
	e.emitOp(opElse)
	if err := e.emitHandledBlocks(rest, multiID); err != nil {
		return err
	}
	e.emitOp(opEnd)

	e.control = e.control[:len(e.control)-1]
	return nil
}

// testLabelEquality compares the label variable against one or more label
// values, leaving a single i32 boolean on the stack.
func (e *funcEmitter) testLabelEquality(labels []ir.LabelId) error {
	if len(labels) == 0 {
		return cerr.Unreachable("wasmgen", "handled block has no entry labels")
	}
	for _, l := range labels {
		if err := e.loadVarAsType(e.labelVar, ir.TypeI64); err != nil {
			return err
		}
		e.emitConstI64(int64(l))
		e.emitOp(opI64Eq)
	}
	for i := 0; i < len(labels)-1; i++ {
		e.emitOp(opI32Or)
	}
	return nil
}

// ---- control-flow depth search ----

func (e *funcEmitter) depthOfBlock(id ir.LoopBlockId) (uint32, error) {
	for i := len(e.control) - 1; i >= 0; i-- {
		if e.control[i].kind == ctrlBlock && e.control[i].loopID == id {
			return uint32(len(e.control) - 1 - i), nil
		}
	}
	return 0, cerr.Unreachable("wasmgen", "no enclosing block for loop id %d", id)
}

func (e *funcEmitter) depthOfLoop(id ir.LoopBlockId) (uint32, error) {
	for i := len(e.control) - 1; i >= 0; i-- {
		if e.control[i].kind == ctrlLoop && e.control[i].loopID == id {
			return uint32(len(e.control) - 1 - i), nil
		}
	}
	return 0, cerr.Unreachable("wasmgen", "no enclosing loop for loop id %d", id)
}

func (e *funcEmitter) depthOfIf(id ir.MultipleBlockId) (uint32, error) {
	for i := len(e.control) - 1; i >= 0; i-- {
		if e.control[i].kind == ctrlIf && e.control[i].multiID == id {
			return uint32(len(e.control) - 1 - i), nil
		}
	}
	return 0, cerr.Unreachable("wasmgen", "no enclosing handled block for multiple-block id %d", id)
}

// ---- instruction lowering (convert_ir_instr_to_wasm) ----

func (e *funcEmitter) emitInstr(instr ir.Instruction) error {
	switch instr.Op {
	case ir.OpSimpleAssignment:
		return e.emitSimpleAssignment(instr)
	case ir.OpLoadFromAddress:
		return e.emitLoadFromAddress(instr)
	case ir.OpStoreToAddress:
		return e.emitStoreToAddress(instr)
	case ir.OpDeclareVariable, ir.OpReferenceVariable, ir.OpNop, ir.OpLabel:
		return nil
	case ir.OpAllocateVariable:
		return e.emitAllocateVariable(instr)
	case ir.OpAddressOf:
		return e.emitAddressOf(instr)
	case ir.OpBitwiseNot:
		return e.emitBitwiseNot(instr)
	case ir.OpLogicalNot:
		return e.emitLogicalNot(instr)
	case ir.OpMult, ir.OpDiv, ir.OpMod, ir.OpAdd, ir.OpSub, ir.OpLeftShift, ir.OpRightShift,
		ir.OpBitwiseAnd, ir.OpBitwiseOr, ir.OpBitwiseXor:
		return e.emitBinaryArith(instr)
	case ir.OpLogicalAnd:
		return e.emitLogicalCombine(instr, true)
	case ir.OpLogicalOr:
		return e.emitLogicalCombine(instr, false)
	case ir.OpLessThan, ir.OpGreaterThan, ir.OpLessThanEq, ir.OpGreaterThanEq, ir.OpEqual, ir.OpNotEqual:
		return e.emitComparison(instr)
	case ir.OpCall:
		return e.emitCall(instr)
	case ir.OpTailCall:
		return e.emitTailCall(instr)
	case ir.OpRet:
		return e.emitRet(instr)
	case ir.OpBr, ir.OpBrIfEq, ir.OpBrIfNotEq:
		return cerr.Unreachable("wasmgen", "branch instruction %d survived relooping", instr.Op)
	case ir.OpConvert:
		return e.emitConvert(instr)
	case ir.OpPointerToStringLiteral:
		return e.emitPointerToStringLiteral(instr)
	case ir.OpBreak:
		return e.emitBreak(instr)
	case ir.OpContinue:
		return e.emitContinue(instr)
	case ir.OpEndHandledBlock:
		return e.emitEndHandledBlock(instr)
	case ir.OpIfEqElse:
		return e.emitIfEqElse(instr, true)
	case ir.OpIfNotEqElse:
		return e.emitIfEqElse(instr, false)
	default:
		return cerr.Unreachable("wasmgen", "unknown opcode %d", instr.Op)
	}
}

func (e *funcEmitter) emitSimpleAssignment(instr ir.Instruction) error {
	destType, ok := e.meta.VarType(instr.Dest)
	if !ok {
		return cerr.Unreachable("wasmgen", "dest v%d has no recorded type", instr.Dest)
	}
	return e.storeVarChecked(instr.Dest, func() error { return e.loadOperandAsType(instr.Src1, destType) })
}

func (e *funcEmitter) emitLoadFromAddress(instr ir.Instruction) error {
	destType, ok := e.meta.VarType(instr.Dest)
	if !ok {
		return cerr.Unreachable("wasmgen", "dest v%d has no recorded type", instr.Dest)
	}
	return e.storeVarChecked(instr.Dest, func() error {
		if err := e.loadOperandAsType(instr.Src1, destType); err != nil {
			return err
		}
		op, align, err := loadOpFor(destType)
		if err != nil {
			return err
		}
		e.emitOp(op)
		e.emitMemArg(align, 0)
		return nil
	})
}

func (e *funcEmitter) emitStoreToAddress(instr ir.Instruction) error {
	ptrType, ok := e.meta.VarType(instr.Dest)
	if !ok {
		return cerr.Unreachable("wasmgen", "dest v%d has no recorded type", instr.Dest)
	}
	if ptrType.Kind != ir.KPointer {
		return cerr.Unreachable("wasmgen", "StoreToAddress dest v%d is not a pointer (%s)", instr.Dest, ptrType.String())
	}
	innerType := *ptrType.Elem
	if err := e.loadVarAsType(instr.Dest, ptrType); err != nil {
		return err
	}
	if err := e.loadOperandAsType(instr.Src1, innerType); err != nil {
		return err
	}
	op, align, err := storeOpFor(innerType)
	if err != nil {
		return err
	}
	e.emitOp(op)
	e.emitMemArg(align, 0)
	return nil
}

func (e *funcEmitter) emitAllocateVariable(instr ir.Instruction) error {
	if err := e.loadVarAddress(instr.Dest); err != nil {
		return err
	}
	e.pushSP()
	e.emitOp(opI32Store)
	e.emitMemArg(2, 0)
	return e.incrementSPDynamic(func() error { return e.loadOperandAsType(instr.SizeSrc, ir.TypeI32) })
}

func (e *funcEmitter) emitAddressOf(instr ir.Instruction) error {
	if instr.Src1.Kind != ir.OperandVar {
		return cerr.Unreachable("wasmgen", "AddressOf src must be a variable, got operand kind %d", instr.Src1.Kind)
	}
	srcVar := instr.Src1.Var
	return e.storeVarChecked(instr.Dest, func() error { return e.loadVarAddress(srcVar) })
}

func (e *funcEmitter) emitBitwiseNot(instr ir.Instruction) error {
	destType, ok := e.meta.VarType(instr.Dest)
	if !ok {
		return cerr.Unreachable("wasmgen", "dest v%d has no recorded type", instr.Dest)
	}
	bucket, _, isFloat, err := numKindOf(destType)
	if err != nil {
		return err
	}
	if isFloat {
		return cerr.Unreachable("wasmgen", "bitwise not has no float opcode")
	}
	return e.storeVarChecked(instr.Dest, func() error {
		if err := e.loadOperandAsType(instr.Src1, destType); err != nil {
			return err
		}
		if bucket == valI32 {
			e.emitConstI32(-1)
			e.emitOp(opI32Xor)
		} else {
			e.emitConstI64(-1)
			e.emitOp(opI64Xor)
		}
		return nil
	})
}

func (e *funcEmitter) emitLogicalNot(instr ir.Instruction) error {
	destType, ok := e.meta.VarType(instr.Dest)
	if !ok {
		return cerr.Unreachable("wasmgen", "dest v%d has no recorded type", instr.Dest)
	}
	return e.storeVarChecked(instr.Dest, func() error {
		if err := e.loadOperandAsType(instr.Src1, destType); err != nil {
			return err
		}
		if err := e.emitZeroTest(destType); err != nil {
			return err
		}
		// if zero, result is 1, else 0
		e.emitOp(opIf)
		e.emitOp(valI32)
		e.emitConstI32(1)
		e.emitOp(opElse)
		e.emitConstI32(0)
		e.emitOp(opEnd)
		return nil
	})
}

// emitZeroTest consumes a value of type t and leaves an i32 boolean (zero
// test result) on the stack -- Eqz for integers/pointers, a compare
// against 0 for floats.
func (e *funcEmitter) emitZeroTest(t ir.IrType) error {
	bucket, _, isFloat, err := numKindOf(t)
	if err != nil {
		return err
	}
	switch {
	case !isFloat && bucket == valI32:
		e.emitOp(opI32Eqz)
	case !isFloat && bucket == valI64:
		e.emitOp(opI64Eqz)
	case bucket == valF32:
		e.emitConstF32(0)
		e.emitOp(opF32Eq)
	case bucket == valF64:
		e.emitConstF64(0)
		e.emitOp(opF64Eq)
	default:
		return cerr.Unreachable("wasmgen", "no zero test for type %s", t.String())
	}
	return nil
}

func (e *funcEmitter) emitBinaryArith(instr ir.Instruction) error {
	destType, ok := e.meta.VarType(instr.Dest)
	if !ok {
		return cerr.Unreachable("wasmgen", "dest v%d has no recorded type", instr.Dest)
	}
	bucket, signed, _, err := numKindOf(destType)
	if err != nil {
		return err
	}
	return e.storeVarChecked(instr.Dest, func() error {
		if err := e.loadOperandAsType(instr.Src1, destType); err != nil {
			return err
		}
		if err := e.loadOperandAsType(instr.Src2, destType); err != nil {
			return err
		}
		op, err := arithOpcode(instr.Op, bucket, signed)
		if err != nil {
			return err
		}
		e.emitOp(op)
		return nil
	})
}

// emitLogicalCombine lowers LogicalAnd/LogicalOr: both operands are always
// evaluated (no short-circuiting), each independently reduced to an i32
// 0/1 truthiness value, then bitwise combined. The combine is always done
// as i32 regardless of the destination's own bucket (widening to i64
// afterwards if needed) since each truthiness test always yields i32.
func (e *funcEmitter) emitLogicalCombine(instr ir.Instruction, isAnd bool) error {
	destType, ok := e.meta.VarType(instr.Dest)
	if !ok {
		return cerr.Unreachable("wasmgen", "dest v%d has no recorded type", instr.Dest)
	}
	return e.storeVarChecked(instr.Dest, func() error {
		if err := e.emitTruthy(instr.Src1, destType); err != nil {
			return err
		}
		if err := e.emitTruthy(instr.Src2, destType); err != nil {
			return err
		}
		if isAnd {
			e.emitOp(opI32And)
		} else {
			e.emitOp(opI32Or)
		}
		bucket, _, _, err := numKindOf(destType)
		if err != nil {
			return err
		}
		if bucket == valI64 {
			e.emitOp(opI64ExtendI32U)
		}
		return nil
	})
}

// emitTruthy pushes an i32 1 if op (loaded as t) is nonzero, else 0.
func (e *funcEmitter) emitTruthy(op ir.Operand, t ir.IrType) error {
	if err := e.loadOperandAsType(op, t); err != nil {
		return err
	}
	if err := e.emitZeroTest(t); err != nil {
		return err
	}
	// if zero, push 0, else 1
	e.emitOp(opIf)
	e.emitOp(valI32)
	e.emitConstI32(0)
	e.emitOp(opElse)
	e.emitConstI32(1)
	e.emitOp(opEnd)
	return nil
}

func (e *funcEmitter) emitComparison(instr ir.Instruction) error {
	srcType, err := e.srcTypePreferablyFromVar(instr.Src1, instr.Src2)
	if err != nil {
		return err
	}
	bucket, signed, _, err := numKindOf(srcType)
	if err != nil {
		return err
	}
	return e.storeVarChecked(instr.Dest, func() error {
		if err := e.loadOperandAsType(instr.Src1, srcType); err != nil {
			return err
		}
		if err := e.loadOperandAsType(instr.Src2, srcType); err != nil {
			return err
		}
		op, err := comparisonOpcode(instr.Op, bucket, signed)
		if err != nil {
			return err
		}
		e.emitOp(op)
		return nil
	})
}

func (e *funcEmitter) emitConvert(instr ir.Instruction) error {
	from, to := instr.From, instr.To
	fromFloat, toFloat := from.IsFloat(), to.IsFloat()

	switch {
	case !fromFloat && !toFloat && is32BucketKind(from.Kind) && is64BucketKind(to.Kind):
		return e.storeVarChecked(instr.Dest, func() error {
			if instr.Src1.Kind != ir.OperandVar {
				return e.loadOperandAsType(instr.Src1, to)
			}
			if err := e.loadVarAddress(instr.Src1.Var); err != nil {
				return err
			}
			if from.IsSigned() {
				e.emitOp(opI64Load32S)
			} else {
				e.emitOp(opI64Load32U)
			}
			e.emitMemArg(2, 0)
			return nil
		})

	case !fromFloat && !toFloat && is64BucketKind(from.Kind) && is32BucketKind(to.Kind):
		return e.storeVarChecked(instr.Dest, func() error {
			if err := e.loadOperandAsType(instr.Src1, ir.TypeI64); err != nil {
				return err
			}
			e.emitOp(opI32WrapI64)
			return nil
		})

	case !fromFloat && !toFloat:
		// same-bucket reinterpret: a Var simply reloads at the new width
		return e.storeVarChecked(instr.Dest, func() error { return e.loadOperandAsType(instr.Src1, to) })

	case !fromFloat && toFloat:
		return e.storeVarChecked(instr.Dest, func() error {
			if err := e.loadOperandAsType(instr.Src1, from); err != nil {
				return err
			}
			op, err := intToFloatOpcode(from, to)
			if err != nil {
				return err
			}
			e.emitOp(op)
			return nil
		})

	case fromFloat && !toFloat:
		return e.storeVarChecked(instr.Dest, func() error {
			if err := e.loadOperandAsType(instr.Src1, from); err != nil {
				return err
			}
			op, err := floatToIntOpcode(from, to)
			if err != nil {
				return err
			}
			e.emitOp(op)
			return nil
		})

	default: // float to float
		return e.storeVarChecked(instr.Dest, func() error {
			if err := e.loadOperandAsType(instr.Src1, from); err != nil {
				return err
			}
			switch {
			case from.Kind == ir.KF64 && to.Kind == ir.KF32:
				e.emitOp(opF32DemoteF64)
			case from.Kind == ir.KF32 && to.Kind == ir.KF64:
				e.emitOp(opF64PromoteF32)
			}
			return nil
		})
	}
}

func (e *funcEmitter) emitPointerToStringLiteral(instr ir.Instruction) error {
	addr, ok := e.strAddrs[instr.StrLit]
	if !ok {
		return cerr.Unreachable("wasmgen", "string literal %d has no assigned address", instr.StrLit)
	}
	return e.storeVarChecked(instr.Dest, func() error { e.emitConstI32(int32(addr)); return nil })
}

func (e *funcEmitter) emitBreak(instr ir.Instruction) error {
	depth, err := e.depthOfBlock(instr.LoopID)
	if err != nil {
		return err
	}
	e.emitOp(opBr)
	e.emitLEBU(uint64(depth))
	return nil
}

func (e *funcEmitter) emitContinue(instr ir.Instruction) error {
	depth, err := e.depthOfLoop(instr.LoopID)
	if err != nil {
		return err
	}
	e.emitOp(opBr)
	e.emitLEBU(uint64(depth))
	return nil
}

func (e *funcEmitter) emitEndHandledBlock(instr ir.Instruction) error {
	depth, err := e.depthOfIf(instr.MultiID)
	if err != nil {
		return err
	}
	e.emitOp(opBr)
	e.emitLEBU(uint64(depth))
	return nil
}

func (e *funcEmitter) emitIfEqElse(instr ir.Instruction, wantEqual bool) error {
	srcType, err := e.operandType(instr.Src1)
	if err != nil {
		return err
	}
	if err := e.loadOperandAsType(instr.Src1, srcType); err != nil {
		return err
	}
	if err := e.loadOperandAsType(instr.Src2, srcType); err != nil {
		return err
	}
	bucket, _, _, err := numKindOf(srcType)
	if err != nil {
		return err
	}
	cmpOp := ir.OpEqual
	if !wantEqual {
		cmpOp = ir.OpNotEqual
	}
	op, err := comparisonOpcode(cmpOp, bucket, false)
	if err != nil {
		return err
	}
	e.emitOp(op)

	e.control = append(e.control, ctrlEntry{kind: ctrlUnlabelledIf})
	e.emitOp(opIf)
	e.emitOp(blockTypeEmpty)
	for _, ins := range instr.Then {
		if err := e.emitInstr(ins); err != nil {
			return err
		}
	}
	e.emitOp(opElse)
	for _, ins := range instr.Else {
		if err := e.emitInstr(ins); err != nil {
			return err
		}
	}
	e.emitOp(opEnd)
	e.control = e.control[:len(e.control)-1]
	return nil
}

// ---- calls (set_up_new_stack_frame / pop_stack_frame /
// overwrite_current_stack_frame_with_new_stack_frame) ----

func (e *funcEmitter) setUpNewStackFrame(calleeType ir.IrType, args []ir.Operand) error {
	if err := e.storeValueAt(e.pushSP, ir.TypeI32, func() error { e.pushFP(); return nil }); err != nil {
		return err
	}
	if err := e.setTempFPToSP(); err != nil {
		return err
	}
	if err := e.incrementSPByKnown(frame.PtrSize); err != nil {
		return err
	}
	retSize, err := staticSize(*calleeType.Return, e.meta)
	if err != nil {
		return err
	}
	if err := e.incrementSPByKnown(retSize); err != nil {
		return err
	}
	for i, arg := range args {
		argType, err := paramOperandType(arg, calleeType.Params, i, e.meta)
		if err != nil {
			return err
		}
		if err := e.storeValueAt(e.pushSP, argType, func() error { return e.loadOperandAsType(arg, argType) }); err != nil {
			return err
		}
		argSize, err := staticSize(argType, e.meta)
		if err != nil {
			return err
		}
		if err := e.incrementSPByKnown(argSize); err != nil {
			return err
		}
	}
	return e.setFPToTempFP()
}

func (e *funcEmitter) popStackFrame(dest ir.VarId, calleeType ir.IrType) error {
	if err := e.setSPToFP(); err != nil {
		return err
	}
	if err := e.restorePreviousFP(); err != nil {
		return err
	}
	if calleeType.Return.Kind == ir.KVoid {
		return nil
	}
	return e.storeVarChecked(dest, func() error {
		e.pushSP()
		e.emitConstI32(int32(frame.PtrSize))
		e.emitOp(opI32Add)
		op, align, err := loadOpFor(*calleeType.Return)
		if err != nil {
			return err
		}
		e.emitOp(op)
		e.emitMemArg(align, 0)
		return nil
	})
}

func (e *funcEmitter) overwriteCurrentStackFrame(calleeType ir.IrType, args []ir.Operand) error {
	if err := e.setTempFPToSP(); err != nil {
		return err
	}

	tempOffsets := make(map[int]uint32)
	var tempOffset uint32
	for i, arg := range args {
		if arg.Kind != ir.OperandVar {
			continue
		}
		argType, ok := e.meta.VarType(arg.Var)
		if !ok {
			return cerr.Unreachable("wasmgen", "v%d has no recorded type", arg.Var)
		}
		off := tempOffset
		if err := e.storeValueAt(func() {
			e.pushTempFP()
			e.emitConstI32(int32(off))
			e.emitOp(opI32Add)
		}, argType, func() error { return e.loadOperandAsType(arg, argType) }); err != nil {
			return err
		}
		tempOffsets[i] = off
		sz, err := staticSize(argType, e.meta)
		if err != nil {
			return err
		}
		tempOffset += sz
	}

	if err := e.setSPToFP(); err != nil {
		return err
	}
	if err := e.incrementSPByKnown(frame.PtrSize); err != nil {
		return err
	}
	retSize, err := staticSize(*calleeType.Return, e.meta)
	if err != nil {
		return err
	}
	if err := e.incrementSPByKnown(retSize); err != nil {
		return err
	}

	for i, arg := range args {
		argType, err := paramOperandType(arg, calleeType.Params, i, e.meta)
		if err != nil {
			return err
		}
		var pushValue func() error
		if arg.Kind == ir.OperandVar {
			off := tempOffsets[i]
			pushValue = func() error {
				e.pushTempFP()
				e.emitConstI32(int32(off))
				e.emitOp(opI32Add)
				op, align, err := loadOpFor(argType)
				if err != nil {
					return err
				}
				e.emitOp(op)
				e.emitMemArg(align, 0)
				return nil
			}
		} else {
			pushValue = func() error { return e.loadOperandAsType(arg, argType) }
		}
		if err := e.storeValueAt(e.pushSP, argType, pushValue); err != nil {
			return err
		}
		sz, err := staticSize(argType, e.meta)
		if err != nil {
			return err
		}
		if err := e.incrementSPByKnown(sz); err != nil {
			return err
		}
	}
	return nil
}

func (e *funcEmitter) emitCall(instr ir.Instruction) error {
	calleeType, ok := e.meta.FunTypes[instr.Fun]
	if !ok {
		return cerr.Unreachable("wasmgen", "call to undeclared function f%d", instr.Fun)
	}
	if err := e.setUpNewStackFrame(calleeType, instr.Args); err != nil {
		return err
	}
	idx, ok := e.funcIndex[instr.Fun]
	if !ok {
		return cerr.Unreachable("wasmgen", "function f%d has no assigned wasm index", instr.Fun)
	}
	e.emitOp(opCall)
	e.emitLEBU(uint64(idx))
	return e.popStackFrame(instr.Dest, calleeType)
}

func (e *funcEmitter) emitTailCall(instr ir.Instruction) error {
	calleeType, ok := e.meta.FunTypes[instr.Fun]
	if !ok {
		return cerr.Unreachable("wasmgen", "tail call to undeclared function f%d", instr.Fun)
	}
	if err := e.overwriteCurrentStackFrame(calleeType, instr.Args); err != nil {
		return err
	}
	idx, ok := e.funcIndex[instr.Fun]
	if !ok {
		return cerr.Unreachable("wasmgen", "function f%d has no assigned wasm index", instr.Fun)
	}
	e.emitOp(opCall)
	e.emitLEBU(uint64(idx))
	e.emitOp(opReturn)
	return nil
}

func (e *funcEmitter) emitRet(instr ir.Instruction) error {
	if instr.RetVal != nil {
		retType, err := e.operandType(*instr.RetVal)
		if err != nil {
			return err
		}
		retVal := *instr.RetVal
		if err := e.storeValueAt(func() {
			e.pushFP()
			e.emitConstI32(int32(frame.PtrSize))
			e.emitOp(opI32Add)
		}, retType, func() error { return e.loadOperandAsType(retVal, retType) }); err != nil {
			return err
		}
	}
	e.emitOp(opReturn)
	return nil
}

// storeVarChecked resolves dest's address before evaluating pushValue, so a
// missing-address error surfaces before any of pushValue's side-effecting
// byte emission runs.
func (e *funcEmitter) storeVarChecked(dest ir.VarId, pushValue func() error) error {
	if dest == e.meta.NullDest {
		if err := pushValue(); err != nil {
			return err
		}
		e.emitOp(opDrop)
		return nil
	}
	t, ok := e.meta.VarType(dest)
	if !ok {
		return cerr.Unreachable("wasmgen", "dest v%d has no recorded type", dest)
	}
	if err := e.loadVarAddress(dest); err != nil {
		return err
	}
	if err := pushValue(); err != nil {
		return err
	}
	op, align, err := storeOpFor(t)
	if err != nil {
		return err
	}
	e.emitOp(op)
	e.emitMemArg(align, 0)
	return nil
}
