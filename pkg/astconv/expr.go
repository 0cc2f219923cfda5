package astconv

import (
	"github.com/minz/c2wasm/pkg/astmini"
	"github.com/minz/c2wasm/pkg/cerr"
	"github.com/minz/c2wasm/pkg/ir"
)

var binaryArithOps = map[string]ir.Opcode{
	"+": ir.OpAdd, "-": ir.OpSub, "*": ir.OpMult, "/": ir.OpDiv, "%": ir.OpMod,
	"&": ir.OpBitwiseAnd, "|": ir.OpBitwiseOr, "^": ir.OpBitwiseXor,
	"<<": ir.OpLeftShift, ">>": ir.OpRightShift,
	"&&": ir.OpLogicalAnd, "||": ir.OpLogicalOr,
}

var comparisonOps = map[string]ir.Opcode{
	"<": ir.OpLessThan, ">": ir.OpGreaterThan, "<=": ir.OpLessThanEq, ">=": ir.OpGreaterThanEq,
	"==": ir.OpEqual, "!=": ir.OpNotEqual,
}

// convertExpr is the astconv equivalent of convert_expression_to_ir: it
// returns the Operand the expression's value can be read from (a Var for
// anything that needed an instruction, or a Constant/StoreAddressVar
// passed straight through when no instruction was needed) plus its
// resolved IrType.
func (c *converter) convertExpr(e astmini.Expr) (ir.Operand, ir.IrType, error) {
	switch e := e.(type) {
	case *astmini.Ident:
		b, ok := c.lookup(e.Name)
		if !ok {
			return ir.Operand{}, ir.IrType{}, cerr.AtPosition(cerr.KindUndeclaredIdentifier, "", e.Pos.Line, e.Pos.Col, "undeclared identifier %q", e.Name)
		}
		if b.t.Kind == ir.KArray {
			return ir.StoreAddrOperand(b.id), ir.PointerTo(*b.t.Elem), nil
		}
		return ir.VarOperand(b.id), b.t, nil

	case *astmini.IntLit:
		return ir.ConstOperand(ir.IntConst(e.Value)), intLitType(e), nil

	case *astmini.FloatLit:
		t := ir.TypeF64
		if e.Is32Bit {
			t = ir.TypeF32
		}
		return ir.ConstOperand(ir.FloatConst(e.Value)), t, nil

	case *astmini.StringLit:
		id := c.meta.AddStringLiteral(append([]byte(e.Value), 0))
		dest := c.newVar(ir.RValue, ir.PointerTo(ir.TypeI8))
		c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpPointerToStringLiteral, Dest: dest, StrLit: id})
		return ir.VarOperand(dest), ir.PointerTo(ir.TypeI8), nil

	case *astmini.UnaryExpr:
		return c.convertUnary(e)

	case *astmini.BinaryExpr:
		return c.convertBinary(e)

	case *astmini.AssignExpr:
		return c.convertAssign(e)

	case *astmini.CallExpr:
		return c.convertCall(e)

	case *astmini.IndexExpr:
		addr, elem, err := c.convertIndexAddress(e)
		if err != nil {
			return ir.Operand{}, ir.IrType{}, err
		}
		dest := c.newVar(ir.RValue, elem)
		c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpLoadFromAddress, Dest: dest, Src1: ir.VarOperand(addr)})
		return ir.VarOperand(dest), elem, nil

	case *astmini.CastExpr:
		x, fromType, err := c.convertExpr(e.X)
		if err != nil {
			return ir.Operand{}, ir.IrType{}, err
		}
		to := convertType(e.Type)
		return c.coerce(x, fromType, to), to, nil

	default:
		return ir.Operand{}, ir.IrType{}, cerr.Unreachable("astconv", "unhandled expression type %T", e)
	}
}

// intLitType is Constant::get_type for an integer literal with explicit
// u/l suffixes: unsuffixed fits I32, "u" forces U32, "l" forces I64 and
// "ul" forces U64. This front end never widens further to accommodate a
// literal too large for its suffixed rank -- that narrower case is left to
// the original's compile_time_eval.rs, which this port does not carry over.
func intLitType(lit *astmini.IntLit) ir.IrType {
	switch {
	case lit.Unsigned && lit.Long:
		return ir.TypeU64
	case lit.Long:
		return ir.TypeI64
	case lit.Unsigned:
		return ir.TypeU32
	default:
		return ir.TypeI32
	}
}

func intByteSize(t ir.IrType) uint64 {
	switch t.Kind {
	case ir.KI8, ir.KU8:
		return 1
	case ir.KI16, ir.KU16:
		return 2
	case ir.KI64, ir.KU64:
		return 8
	default:
		return 4
	}
}

// commonArithType is a simplified usual-arithmetic-conversions rule: float
// beats integer (with F64 beating F32), otherwise the wider of the two
// operand sizes wins (promoted to at least 32 bits), ties and same-size
// mismatches resolving to unsigned. A pointer operand counts as a 4-byte
// unsigned integer here, so a pointer mixed with an integer of at most 4
// bytes yields U32 -- pointer +/- is handled by its own dedicated path in
// convertBinary before this is ever consulted.
func commonArithType(a, b ir.IrType) ir.IrType {
	if a.IsFloat() || b.IsFloat() {
		if a.Kind == ir.KF64 || b.Kind == ir.KF64 {
			return ir.TypeF64
		}
		return ir.TypeF32
	}
	sa, sb := intByteSize(a), intByteSize(b)
	size := sa
	if sb > size {
		size = sb
	}
	if size < 4 {
		size = 4
	}
	unsigned := (sa == size && !a.IsSigned()) || (sb == size && !b.IsSigned())
	switch {
	case size <= 4 && !unsigned:
		return ir.TypeI32
	case size <= 4:
		return ir.TypeU32
	case unsigned:
		return ir.TypeU64
	default:
		return ir.TypeI64
	}
}

func (c *converter) convertUnary(e *astmini.UnaryExpr) (ir.Operand, ir.IrType, error) {
	switch e.Op {
	case "&":
		return c.convertAddressOf(e.X, e.Pos)
	case "*":
		return c.convertDeref(e.X, e.Pos)
	case "+":
		return c.convertExpr(e.X)
	case "-":
		x, t, err := c.convertExpr(e.X)
		if err != nil {
			return ir.Operand{}, ir.IrType{}, err
		}
		dest := c.newVar(ir.RValue, t)
		zero := ir.ConstOperand(ir.IntConst(0))
		if t.IsFloat() {
			zero = ir.ConstOperand(ir.FloatConst(0))
		}
		c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpSub, Dest: dest, Src1: zero, Src2: x})
		return ir.VarOperand(dest), t, nil
	case "!":
		x, _, err := c.convertExpr(e.X)
		if err != nil {
			return ir.Operand{}, ir.IrType{}, err
		}
		dest := c.newVar(ir.RValue, ir.TypeI32)
		c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpLogicalNot, Dest: dest, Src1: x})
		return ir.VarOperand(dest), ir.TypeI32, nil
	case "~":
		x, t, err := c.convertExpr(e.X)
		if err != nil {
			return ir.Operand{}, ir.IrType{}, err
		}
		dest := c.newVar(ir.RValue, t)
		c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpBitwiseNot, Dest: dest, Src1: x})
		return ir.VarOperand(dest), t, nil
	default:
		return ir.Operand{}, ir.IrType{}, cerr.Unreachable("astconv", "unknown unary operator %q", e.Op)
	}
}

// convertAddressOf takes the address of an lvalue. A plain identifier goes
// through AddressOf (which requires its source to be a bare Var operand);
// a dereference or index expression already computes a pointer value
// before the final load, so taking its address just reuses that pointer
// without ever emitting the load.
func (c *converter) convertAddressOf(x astmini.Expr, pos astmini.Position) (ir.Operand, ir.IrType, error) {
	switch x := x.(type) {
	case *astmini.Ident:
		b, ok := c.lookup(x.Name)
		if !ok {
			return ir.Operand{}, ir.IrType{}, cerr.AtPosition(cerr.KindUndeclaredIdentifier, "", x.Pos.Line, x.Pos.Col, "undeclared identifier %q", x.Name)
		}
		resultType := ir.PointerTo(b.t.Decay())
		dest := c.newVar(ir.RValue, resultType)
		c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpAddressOf, Dest: dest, Src1: ir.VarOperand(b.id)})
		return ir.VarOperand(dest), resultType, nil

	case *astmini.UnaryExpr:
		if x.Op == "*" {
			return c.convertExpr(x.X)
		}
		return ir.Operand{}, ir.IrType{}, cerr.AtPosition(cerr.KindInvalidLValue, "", pos.Line, pos.Col, "cannot take the address of this expression")

	case *astmini.IndexExpr:
		addr, elem, err := c.convertIndexAddress(x)
		if err != nil {
			return ir.Operand{}, ir.IrType{}, err
		}
		return ir.VarOperand(addr), ir.PointerTo(elem), nil

	default:
		return ir.Operand{}, ir.IrType{}, cerr.AtPosition(cerr.KindInvalidLValue, "", pos.Line, pos.Col, "cannot take the address of this expression")
	}
}

func (c *converter) convertDeref(x astmini.Expr, pos astmini.Position) (ir.Operand, ir.IrType, error) {
	ptrVar, elem, err := c.materializePointer(x, pos)
	if err != nil {
		return ir.Operand{}, ir.IrType{}, err
	}
	dest := c.newVar(ir.RValue, elem)
	c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpLoadFromAddress, Dest: dest, Src1: ir.VarOperand(ptrVar)})
	return ir.VarOperand(dest), elem, nil
}

// materializePointer evaluates x (expected to have pointer type) and
// guarantees the result lives in a Var, since StoreToAddress's target
// (Dest) must name a variable, never a general operand.
func (c *converter) materializePointer(x astmini.Expr, pos astmini.Position) (ir.VarId, ir.IrType, error) {
	op, t, err := c.convertExpr(x)
	if err != nil {
		return 0, ir.IrType{}, err
	}
	if t.Kind != ir.KPointer {
		return 0, ir.IrType{}, cerr.AtPosition(cerr.KindDereferenceNonPointerType, "", pos.Line, pos.Col, "cannot dereference non-pointer type %s", t.String())
	}
	if op.Kind == ir.OperandVar {
		return op.Var, *t.Elem, nil
	}
	v := c.newVar(ir.RValue, t)
	c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpSimpleAssignment, Dest: v, Src1: op})
	return v, *t.Elem, nil
}

// convertIndexAddress computes the element address for x[i] without
// issuing the final load, so both a read (IndexExpr) and a write
// (assignment through an index, or &x[i]) can share it. The original's
// Expression::Index lowering (ast_to_ir.rs) adds the raw index to the
// base pointer with no element-size scaling at all; this is corrected
// here by multiplying the index by the element's byte size first, the
// same way C pointer arithmetic and this compiler's own array layout
// (pkg/frame) already assume.
func (c *converter) convertIndexAddress(e *astmini.IndexExpr) (ir.VarId, ir.IrType, error) {
	baseOp, baseType, err := c.convertBasePointer(e.X)
	if err != nil {
		return 0, ir.IrType{}, err
	}
	if baseType.Kind != ir.KPointer {
		return 0, ir.IrType{}, cerr.AtPosition(cerr.KindDereferenceNonPointerType, "", e.Pos.Line, e.Pos.Col, "cannot index non-pointer/array type %s", baseType.String())
	}
	elem := *baseType.Elem

	idxOp, idxType, err := c.convertExpr(e.Index)
	if err != nil {
		return 0, ir.IrType{}, err
	}
	idxOp = c.coerce(idxOp, idxType, ir.TypeI32)

	elemSize := elem.ByteSize(c.meta.Aggregates)
	scaled := c.newVar(ir.RValue, ir.TypeI32)
	c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpMult, Dest: scaled, Src1: idxOp, Src2: ir.ConstOperand(ir.IntConst(int64(elemSize)))})

	addr := c.newVar(ir.RValue, ir.PointerTo(elem))
	c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpAdd, Dest: addr, Src1: baseOp, Src2: ir.VarOperand(scaled)})
	return addr, elem, nil
}

// convertBasePointer evaluates the base of an index expression: an array
// variable decays to the address of its own storage (StoreAddrOperand, no
// instruction needed), anything else is evaluated normally and must
// already carry pointer type.
func (c *converter) convertBasePointer(e astmini.Expr) (ir.Operand, ir.IrType, error) {
	if id, ok := e.(*astmini.Ident); ok {
		b, ok := c.lookup(id.Name)
		if !ok {
			return ir.Operand{}, ir.IrType{}, cerr.AtPosition(cerr.KindUndeclaredIdentifier, "", id.Pos.Line, id.Pos.Col, "undeclared identifier %q", id.Name)
		}
		if b.t.Kind == ir.KArray {
			return ir.StoreAddrOperand(b.id), ir.PointerTo(*b.t.Elem), nil
		}
		return ir.VarOperand(b.id), b.t, nil
	}
	return c.convertExpr(e)
}

func (c *converter) convertBinary(e *astmini.BinaryExpr) (ir.Operand, ir.IrType, error) {
	xOp, xType, err := c.convertExpr(e.X)
	if err != nil {
		return ir.Operand{}, ir.IrType{}, err
	}
	yOp, yType, err := c.convertExpr(e.Y)
	if err != nil {
		return ir.Operand{}, ir.IrType{}, err
	}

	if (e.Op == "+" || e.Op == "-") && (xType.IsPointerOrArray() || yType.IsPointerOrArray()) {
		return c.convertPointerArith(e.Op, xOp, xType, yOp, yType, e.Pos)
	}

	if op, ok := comparisonOps[e.Op]; ok {
		common := commonArithType(xType, yType)
		xOp = c.coerce(xOp, xType, common)
		yOp = c.coerce(yOp, yType, common)
		dest := c.newVar(ir.RValue, ir.TypeI32)
		c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: op, Dest: dest, Src1: xOp, Src2: yOp})
		return ir.VarOperand(dest), ir.TypeI32, nil
	}

	op, ok := binaryArithOps[e.Op]
	if !ok {
		return ir.Operand{}, ir.IrType{}, cerr.AtPosition(cerr.KindInvalidConstantExpression, "", e.Pos.Line, e.Pos.Col, "unknown binary operator %q", e.Op)
	}

	common := commonArithType(xType, yType)
	if op == ir.OpLogicalAnd || op == ir.OpLogicalOr {
		common = ir.TypeI32
	}
	xOp = c.coerce(xOp, xType, common)
	yOp = c.coerce(yOp, yType, common)
	dest := c.newVar(ir.RValue, common)
	c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: op, Dest: dest, Src1: xOp, Src2: yOp})
	return ir.VarOperand(dest), common, nil
}

// convertPointerArith lowers `ptr + n`, `n + ptr` and `ptr - n`: the
// integer operand is scaled by the pointee's byte size, same as array
// indexing. Pointer-minus-pointer is not supported by this front end.
func (c *converter) convertPointerArith(op string, xOp ir.Operand, xType ir.IrType, yOp ir.Operand, yType ir.IrType, pos astmini.Position) (ir.Operand, ir.IrType, error) {
	var ptrOp, idxOp ir.Operand
	var ptrType, idxType ir.IrType
	ptrOnLeft := xType.IsPointerOrArray()

	if xType.IsPointerOrArray() && yType.IsPointerOrArray() {
		return ir.Operand{}, ir.IrType{}, cerr.AtPosition(cerr.KindTypeConversionError, "", pos.Line, pos.Col, "pointer-pointer arithmetic is not supported")
	}
	if ptrOnLeft {
		ptrOp, ptrType, idxOp, idxType = xOp, xType.Decay(), yOp, yType
	} else {
		ptrOp, ptrType, idxOp, idxType = yOp, yType.Decay(), xOp, xType
	}
	if op == "-" && !ptrOnLeft {
		return ir.Operand{}, ir.IrType{}, cerr.AtPosition(cerr.KindTypeConversionError, "", pos.Line, pos.Col, "cannot subtract a pointer from an integer")
	}

	elem := *ptrType.Elem
	idxOp = c.coerce(idxOp, idxType, ir.TypeI32)
	elemSize := elem.ByteSize(c.meta.Aggregates)
	scaled := c.newVar(ir.RValue, ir.TypeI32)
	c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpMult, Dest: scaled, Src1: idxOp, Src2: ir.ConstOperand(ir.IntConst(int64(elemSize)))})

	arithOp := ir.OpAdd
	if op == "-" {
		arithOp = ir.OpSub
	}
	dest := c.newVar(ir.RValue, ptrType)
	c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: arithOp, Dest: dest, Src1: ptrOp, Src2: ir.VarOperand(scaled)})
	return ir.VarOperand(dest), ptrType, nil
}

func (c *converter) convertAssign(e *astmini.AssignExpr) (ir.Operand, ir.IrType, error) {
	switch lhs := e.LHS.(type) {
	case *astmini.Ident:
		b, ok := c.lookup(lhs.Name)
		if !ok {
			return ir.Operand{}, ir.IrType{}, cerr.AtPosition(cerr.KindUndeclaredIdentifier, "", lhs.Pos.Line, lhs.Pos.Col, "undeclared identifier %q", lhs.Name)
		}
		rhs, rhsType, err := c.convertExpr(e.RHS)
		if err != nil {
			return ir.Operand{}, ir.IrType{}, err
		}
		rhs = c.coerce(rhs, rhsType, b.t)
		c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpSimpleAssignment, Dest: b.id, Src1: rhs})
		return ir.VarOperand(b.id), b.t, nil

	case *astmini.UnaryExpr:
		if lhs.Op != "*" {
			return ir.Operand{}, ir.IrType{}, cerr.AtPosition(cerr.KindInvalidLValue, "", e.Pos.Line, e.Pos.Col, "invalid assignment target")
		}
		ptrVar, elem, err := c.materializePointer(lhs.X, lhs.Pos)
		if err != nil {
			return ir.Operand{}, ir.IrType{}, err
		}
		return c.storeThroughPointer(ptrVar, elem, e.RHS)

	case *astmini.IndexExpr:
		addr, elem, err := c.convertIndexAddress(lhs)
		if err != nil {
			return ir.Operand{}, ir.IrType{}, err
		}
		return c.storeThroughPointer(addr, elem, e.RHS)

	default:
		return ir.Operand{}, ir.IrType{}, cerr.AtPosition(cerr.KindInvalidLValue, "", e.Pos.Line, e.Pos.Col, "invalid assignment target")
	}
}

func (c *converter) storeThroughPointer(ptrVar ir.VarId, elem ir.IrType, rhsExpr astmini.Expr) (ir.Operand, ir.IrType, error) {
	rhs, rhsType, err := c.convertExpr(rhsExpr)
	if err != nil {
		return ir.Operand{}, ir.IrType{}, err
	}
	rhs = c.coerce(rhs, rhsType, elem)
	c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpStoreToAddress, Dest: ptrVar, Src1: rhs})
	return rhs, elem, nil
}

func (c *converter) convertCall(e *astmini.CallExpr) (ir.Operand, ir.IrType, error) {
	funID, ok := c.meta.FunNames[e.Callee]
	if !ok {
		return ir.Operand{}, ir.IrType{}, cerr.AtPosition(cerr.KindUndeclaredIdentifier, "", e.Pos.Line, e.Pos.Col, "call to undeclared function %q", e.Callee)
	}
	ftype := c.meta.FunTypes[funID]

	args := make([]ir.Operand, 0, len(e.Args))
	for i, a := range e.Args {
		op, t, err := c.convertExpr(a)
		if err != nil {
			return ir.Operand{}, ir.IrType{}, err
		}
		if i < len(ftype.Params) {
			op = c.coerce(op, t, ftype.Params[i])
		} else if t.Kind == ir.KF32 {
			// default variadic argument promotion: float -> double.
			op = c.coerce(op, t, ir.TypeF64)
		}
		args = append(args, op)
	}

	retType := *ftype.Return
	dest := c.meta.NullDest
	if retType.Kind != ir.KVoid {
		dest = c.newVar(ir.RValue, retType)
	}
	c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpCall, Dest: dest, Fun: funID, Args: args})
	return ir.VarOperand(dest), retType, nil
}
