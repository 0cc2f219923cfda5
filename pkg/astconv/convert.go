// Package astconv lowers an astmini.Program into the typed three-address
// ir.Program the relooper and code generator consume. Grounded on the
// original implementation's middle_end/ast_to_ir.rs: a Context threading a
// scope stack (for name resolution) and a loop-context stack (for break/
// continue targets) through a pair of mutually recursive conversion
// functions, one over statements and one over expressions, each emitting
// flat Label/Br/BrIfEq/BrIfNotEq control flow for the soupifier and
// relooper to restructure later. Large stretches of that original file are
// themselves unimplemented (most binary operators, every function call,
// casts, assignment, member access and the ternary operator are all left
// as todo!() there) -- those paths are authored directly from the
// described arithmetic/conversion/call semantics rather than ported, and
// are called out individually where they diverge from the one pattern the
// original does establish.
package astconv

import (
	"github.com/minz/c2wasm/pkg/astmini"
	"github.com/minz/c2wasm/pkg/cerr"
	"github.com/minz/c2wasm/pkg/ir"
)

// loopCtx is one enclosing loop's break/continue targets.
type loopCtx struct {
	breakLabel    ir.LabelId
	continueLabel ir.LabelId
}

// varBinding is what a name resolves to: a variable plus its declared type.
type varBinding struct {
	id ir.VarId
	t  ir.IrType
}

// converter is the astconv equivalent of ast_to_ir.rs's Context: the
// running instruction buffer for whatever function (or the global
// initializer) is currently being converted, a stack of block scopes for
// name resolution, and a stack of enclosing loops for break/continue.
type converter struct {
	meta *ir.ProgramMetadata

	cur    []ir.Instruction
	scopes []map[string]varBinding
	loops  []loopCtx

	curRetType ir.IrType
}

func (c *converter) emit(i ir.Instruction) { c.cur = append(c.cur, i) }

func (c *converter) newVar(kind ir.ValueType, t ir.IrType) ir.VarId {
	v := c.meta.NewVar(kind)
	c.meta.AddVarType(v, t)
	return v
}

func (c *converter) pushScope() { c.scopes = append(c.scopes, map[string]varBinding{}) }
func (c *converter) popScope()  { c.scopes = c.scopes[:len(c.scopes)-1] }

func (c *converter) bind(name string, v ir.VarId, t ir.IrType) {
	c.scopes[len(c.scopes)-1][name] = varBinding{id: v, t: t}
}

func (c *converter) lookup(name string) (varBinding, bool) {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if b, ok := c.scopes[i][name]; ok {
			return b, true
		}
	}
	return varBinding{}, false
}

// declareVar allocates a fresh variable, emits its DeclareVariable marker
// (consulted by the frame planner, a no-op at code-generation time) and
// binds name to it in the innermost scope.
func (c *converter) declareVar(name string, t ir.IrType) ir.VarId {
	v := c.newVar(ir.LValue, t)
	c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpDeclareVariable, Dest: v})
	c.bind(name, v, t)
	return v
}

func (c *converter) pushLoop(l loopCtx) { c.loops = append(c.loops, l) }
func (c *converter) popLoop()           { c.loops = c.loops[:len(c.loops)-1] }

func (c *converter) currentLoop() (loopCtx, bool) {
	if len(c.loops) == 0 {
		return loopCtx{}, false
	}
	return c.loops[len(c.loops)-1], true
}

// coerce converts op from its known type to to, inserting an explicit
// Convert instruction when the two differ in Kind; an already-matching
// operand passes through untouched (ast_to_ir.rs has no equivalent --
// the original's compile_time_eval.rs and the rest of the front end were
// never completed far enough to need one).
func (c *converter) coerce(op ir.Operand, from, to ir.IrType) ir.Operand {
	if from.Kind == to.Kind {
		return op
	}
	tmp := c.newVar(ir.RValue, to)
	c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpConvert, Dest: tmp, From: from, To: to, Src1: op})
	return ir.VarOperand(tmp)
}

// convertType maps a parsed astmini.Type to its ir.IrType equivalent.
func convertType(t astmini.Type) ir.IrType {
	switch t.Kind {
	case astmini.TVoid:
		return ir.TypeVoid
	case astmini.TChar:
		return ir.TypeI8
	case astmini.TUChar:
		return ir.TypeU8
	case astmini.TShort:
		return ir.TypeI16
	case astmini.TUShort:
		return ir.TypeU16
	case astmini.TInt:
		return ir.TypeI32
	case astmini.TUInt:
		return ir.TypeU32
	case astmini.TLong:
		return ir.TypeI64
	case astmini.TULong:
		return ir.TypeU64
	case astmini.TFloat:
		return ir.TypeF32
	case astmini.TDouble:
		return ir.TypeF64
	case astmini.TPointer:
		return ir.PointerTo(convertType(*t.Elem))
	case astmini.TArray:
		return ir.ArrayOf(convertType(*t.Elem), ir.CompileTimeSize(uint64(t.ArrayLen)), t.HasArrayLen)
	default:
		return ir.TypeVoid
	}
}

func convertFuncType(fd *astmini.FuncDecl) ir.IrType {
	params := make([]ir.IrType, 0, len(fd.Params))
	for _, p := range fd.Params {
		params = append(params, convertType(p.Type).Decay())
	}
	return ir.FunctionType(convertType(fd.ReturnType), params, fd.Variadic)
}

// Convert builds a complete ir.Program from prog: every function is
// declared up front (so forward calls resolve), then every global
// initializer and every function body is lowered in source order.
func Convert(prog *astmini.Program) (*ir.Program, error) {
	out := ir.NewProgram()
	c := &converter{meta: out.Metadata}
	c.pushScope()

	for _, d := range prog.Decls {
		fd, ok := d.(*astmini.FuncDecl)
		if !ok {
			continue
		}
		if _, exists := out.Metadata.FunNames[fd.Name]; exists {
			return nil, cerr.AtPosition(cerr.KindDuplicateFunctionDeclaration, "", fd.Pos.Line, fd.Pos.Col, "function %q declared more than once", fd.Name)
		}
		ftype := convertFuncType(fd)
		id := out.Metadata.DeclareFunction(fd.Name, ftype)
		if fd.Body == nil {
			out.Metadata.ImportedFunctionNames[fd.Name] = true
			out.Instructions.Functions[id] = &ir.Function{Name: fd.Name, TypeInfo: ftype, BodyIsDefined: false}
		}
	}

	mainID, ok := out.Metadata.FunNames["main"]
	if !ok {
		return nil, cerr.New(cerr.KindNoMainFunctionDefined, "astconv", "no function named \"main\" was defined")
	}
	if fn, ok := out.Instructions.Functions[mainID]; ok && !fn.BodyIsDefined {
		return nil, cerr.New(cerr.KindNoMainFunctionDefined, "astconv", "\"main\" was declared but never defined")
	}

	for _, d := range prog.Decls {
		gd, ok := d.(*astmini.GlobalDecl)
		if !ok {
			continue
		}
		t := convertType(gd.Type)
		v := c.declareVar(gd.Name, t)
		if gd.Init != nil {
			rhs, rhsType, err := c.convertExpr(gd.Init)
			if err != nil {
				return nil, err
			}
			rhs = c.coerce(rhs, rhsType, t)
			c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpSimpleAssignment, Dest: v, Src1: rhs})
		}
	}
	out.Instructions.GlobalInstrs = c.cur
	c.cur = nil

	for _, d := range prog.Decls {
		fd, ok := d.(*astmini.FuncDecl)
		if !ok || fd.Body == nil {
			continue
		}
		id := out.Metadata.FunNames[fd.Name]
		ftype := out.Metadata.FunTypes[id]

		c.cur = nil
		c.curRetType = *ftype.Return
		c.pushScope()

		paramVars := make([]ir.VarId, 0, len(fd.Params))
		for i, p := range fd.Params {
			v := c.declareVar(p.Name, ftype.Params[i])
			paramVars = append(paramVars, v)
		}

		for _, s := range fd.Body {
			if err := c.convertStmt(s); err != nil {
				return nil, err
			}
		}
		c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpRet})

		c.popScope()
		out.Instructions.Functions[id] = &ir.Function{
			Name:             fd.Name,
			Instrs:           c.cur,
			TypeInfo:         ftype,
			ParamVarMappings: paramVars,
			BodyIsDefined:    true,
		}
	}

	return out, nil
}
