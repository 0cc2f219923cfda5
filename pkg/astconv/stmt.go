package astconv

import (
	"github.com/minz/c2wasm/pkg/astmini"
	"github.com/minz/c2wasm/pkg/cerr"
	"github.com/minz/c2wasm/pkg/ir"
)

func (c *converter) convertStmt(s astmini.Stmt) error {
	switch s := s.(type) {
	case *astmini.BlockStmt:
		c.pushScope()
		for _, inner := range s.Stmts {
			if err := c.convertStmt(inner); err != nil {
				return err
			}
		}
		c.popScope()
		return nil

	case *astmini.ExprStmt:
		_, _, err := c.convertExpr(s.X)
		return err

	case *astmini.DeclStmt:
		return c.convertDeclStmt(s)

	case *astmini.IfStmt:
		return c.convertIf(s)

	case *astmini.WhileStmt:
		return c.convertWhile(s)

	case *astmini.DoWhileStmt:
		return c.convertDoWhile(s)

	case *astmini.ForStmt:
		return c.convertFor(s)

	case *astmini.ReturnStmt:
		return c.convertReturn(s)

	case *astmini.BreakStmt:
		loop, ok := c.currentLoop()
		if !ok {
			return cerr.New(cerr.KindLoopNestingError, "astconv", "break statement outside of a loop")
		}
		c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpBr, Label: loop.breakLabel})
		return nil

	case *astmini.ContinueStmt:
		loop, ok := c.currentLoop()
		if !ok {
			return cerr.New(cerr.KindLoopNestingError, "astconv", "continue statement outside of a loop")
		}
		c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpBr, Label: loop.continueLabel})
		return nil

	default:
		return cerr.Unreachable("astconv", "unhandled statement type %T", s)
	}
}

func (c *converter) convertDeclStmt(s *astmini.DeclStmt) error {
	t := convertType(s.Type)
	v := c.declareVar(s.Name, t)
	if s.Init == nil {
		return nil
	}
	rhs, rhsType, err := c.convertExpr(s.Init)
	if err != nil {
		return err
	}
	rhs = c.coerce(rhs, rhsType, t)
	c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpSimpleAssignment, Dest: v, Src1: rhs})
	return nil
}

// zeroOperand is the BrIfEq/BrIfNotEq sentinel every truth test branches
// against: a condition is false exactly when it equals zero.
var zeroOperand = ir.ConstOperand(ir.IntConst(0))

func (c *converter) emitBranchIfFalse(cond ir.Operand, target ir.LabelId) {
	c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpBrIfEq, Src1: cond, Src2: zeroOperand, Label: target})
}

func (c *converter) emitBranchIfTrue(cond ir.Operand, target ir.LabelId) {
	c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpBrIfNotEq, Src1: cond, Src2: zeroOperand, Label: target})
}

func (c *converter) emitBr(target ir.LabelId) {
	c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpBr, Label: target})
}

func (c *converter) emitLabel(id ir.LabelId) {
	c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpLabel, Label: id})
}

func (c *converter) convertIf(s *astmini.IfStmt) error {
	cond, _, err := c.convertExpr(s.Cond)
	if err != nil {
		return err
	}

	if s.Else == nil {
		endLabel := c.meta.NewLabelId()
		c.emitBranchIfFalse(cond, endLabel)
		if err := c.convertStmt(s.Then); err != nil {
			return err
		}
		c.emitLabel(endLabel)
		return nil
	}

	elseLabel := c.meta.NewLabelId()
	endLabel := c.meta.NewLabelId()
	c.emitBranchIfFalse(cond, elseLabel)
	if err := c.convertStmt(s.Then); err != nil {
		return err
	}
	c.emitBr(endLabel)
	c.emitLabel(elseLabel)
	if err := c.convertStmt(s.Else); err != nil {
		return err
	}
	c.emitLabel(endLabel)
	return nil
}

func (c *converter) convertWhile(s *astmini.WhileStmt) error {
	condLabel := c.meta.NewLabelId()
	endLabel := c.meta.NewLabelId()

	c.emitLabel(condLabel)
	cond, _, err := c.convertExpr(s.Cond)
	if err != nil {
		return err
	}
	c.emitBranchIfFalse(cond, endLabel)

	c.pushLoop(loopCtx{breakLabel: endLabel, continueLabel: condLabel})
	err = c.convertStmt(s.Body)
	c.popLoop()
	if err != nil {
		return err
	}

	c.emitBr(condLabel)
	c.emitLabel(endLabel)
	return nil
}

func (c *converter) convertDoWhile(s *astmini.DoWhileStmt) error {
	bodyLabel := c.meta.NewLabelId()
	condLabel := c.meta.NewLabelId()
	endLabel := c.meta.NewLabelId()

	c.emitLabel(bodyLabel)
	c.pushLoop(loopCtx{breakLabel: endLabel, continueLabel: condLabel})
	err := c.convertStmt(s.Body)
	c.popLoop()
	if err != nil {
		return err
	}

	c.emitLabel(condLabel)
	cond, _, err := c.convertExpr(s.Cond)
	if err != nil {
		return err
	}
	c.emitBranchIfTrue(cond, bodyLabel)
	c.emitLabel(endLabel)
	return nil
}

func (c *converter) convertFor(s *astmini.ForStmt) error {
	c.pushScope()
	defer c.popScope()

	if s.Init != nil {
		if err := c.convertStmt(s.Init); err != nil {
			return err
		}
	}

	condLabel := c.meta.NewLabelId()
	postLabel := c.meta.NewLabelId()
	endLabel := c.meta.NewLabelId()

	c.emitLabel(condLabel)
	if s.Cond != nil {
		cond, _, err := c.convertExpr(s.Cond)
		if err != nil {
			return err
		}
		c.emitBranchIfFalse(cond, endLabel)
	}

	c.pushLoop(loopCtx{breakLabel: endLabel, continueLabel: postLabel})
	err := c.convertStmt(s.Body)
	c.popLoop()
	if err != nil {
		return err
	}

	c.emitLabel(postLabel)
	if s.Post != nil {
		if _, _, err := c.convertExpr(s.Post); err != nil {
			return err
		}
	}
	c.emitBr(condLabel)
	c.emitLabel(endLabel)
	return nil
}

func (c *converter) convertReturn(s *astmini.ReturnStmt) error {
	if s.Value == nil {
		c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpRet})
		return nil
	}
	v, t, err := c.convertExpr(s.Value)
	if err != nil {
		return err
	}
	v = c.coerce(v, t, c.curRetType)
	c.emit(ir.Instruction{ID: c.meta.NewInstrId(), Op: ir.OpRet, RetVal: &v})
	return nil
}
