// Package irtext is a human-readable textual form of ir.Program, grounded
// on the teacher's own MIR text format (pkg/ir/mir_parser.go, pkg/mir): a
// line-oriented assembly with ".string", ".globals", ".function" and ".end"
// directives, bare "LN:" label lines and one instruction per remaining
// line. Print emits it (used by the compiler's --emit-wat flag); Parse reads it back, letting
// a hand-written .ir file or a saved dump be fed straight into the
// relooper without going through the C front end -- the same role the
// teacher's .mir path plays for cmd/minzc's own compile pipeline.
package irtext

import (
	"fmt"
	"sort"
	"strings"

	"github.com/minz/c2wasm/pkg/ir"
)

// Print renders prog as text. Output is deterministic: functions in
// ascending FunId order, globals last-declared-first is not attempted --
// global init instructions are emitted in original order.
func Print(prog *ir.Program) string {
	var b strings.Builder
	m := prog.Metadata

	ids := make([]ir.FunId, 0, len(prog.Instructions.Functions))
	for id := range prog.Instructions.Functions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if len(m.StringLiterals) > 0 {
		litIDs := make([]ir.StringLiteralId, 0, len(m.StringLiterals))
		for id := range m.StringLiterals {
			litIDs = append(litIDs, id)
		}
		sort.Slice(litIDs, func(i, j int) bool { return litIDs[i] < litIDs[j] })
		for _, id := range litIDs {
			fmt.Fprintf(&b, ".string s%d %q\n", id, m.StringLiterals[id])
		}
		b.WriteString("\n")
	}

	if len(prog.Instructions.GlobalInstrs) > 0 {
		b.WriteString(".globals\n")
		for _, instr := range prog.Instructions.GlobalInstrs {
			printInstr(&b, instr, m)
		}
		b.WriteString(".end\n\n")
	}

	for _, id := range ids {
		fn := prog.Instructions.Functions[id]
		printFunction(&b, id, fn, m)
		b.WriteString("\n")
	}
	return b.String()
}

func printFunction(b *strings.Builder, id ir.FunId, fn *ir.Function, m *ir.ProgramMetadata) {
	ft := fn.TypeInfo
	fmt.Fprintf(b, ".function f%d %s(", id, fn.Name)
	for i, p := range ft.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		v := ir.VarId(0)
		if i < len(fn.ParamVarMappings) {
			v = fn.ParamVarMappings[i]
		}
		fmt.Fprintf(b, "v%d:%s", v, p.String())
	}
	if ft.Variadic {
		b.WriteString(", ...")
	}
	fmt.Fprintf(b, ") -> %s\n", ft.Return.String())

	if !fn.BodyIsDefined {
		b.WriteString(".end\n")
		return
	}
	for _, instr := range fn.Instrs {
		printInstr(b, instr, m)
	}
	b.WriteString(".end\n")
}

func printInstr(b *strings.Builder, instr ir.Instruction, m *ir.ProgramMetadata) {
	switch instr.Op {
	case ir.OpLabel:
		fmt.Fprintf(b, "L%d:\n", instr.Label)
		return
	case ir.OpDeclareVariable:
		t, _ := m.VarType(instr.Dest)
		fmt.Fprintf(b, "  declare v%d: %s\n", instr.Dest, t.String())
		return
	case ir.OpBr:
		fmt.Fprintf(b, "  br L%d\n", instr.Label)
		return
	case ir.OpBrIfEq:
		fmt.Fprintf(b, "  brifeq %s, %s, L%d\n", instr.Src1, instr.Src2, instr.Label)
		return
	case ir.OpBrIfNotEq:
		fmt.Fprintf(b, "  brifnoteq %s, %s, L%d\n", instr.Src1, instr.Src2, instr.Label)
		return
	case ir.OpStoreToAddress:
		fmt.Fprintf(b, "  store v%d, %s\n", instr.Dest, instr.Src1)
		return
	case ir.OpRet:
		if instr.RetVal == nil {
			b.WriteString("  ret\n")
		} else {
			fmt.Fprintf(b, "  ret %s\n", *instr.RetVal)
		}
		return
	case ir.OpCall, ir.OpTailCall:
		name := "call"
		if instr.Op == ir.OpTailCall {
			name = "tailcall"
		}
		args := make([]string, len(instr.Args))
		for i, a := range instr.Args {
			args[i] = a.String()
		}
		if instr.Dest == m.NullDest {
			fmt.Fprintf(b, "  %s f%d(%s)\n", name, instr.Fun, strings.Join(args, ", "))
		} else {
			fmt.Fprintf(b, "  v%d = %s f%d(%s)\n", instr.Dest, name, instr.Fun, strings.Join(args, ", "))
		}
		return
	case ir.OpConvert:
		fmt.Fprintf(b, "  v%d = convert.%s.%s %s\n", instr.Dest, instr.From.String(), instr.To.String(), instr.Src1)
		return
	case ir.OpPointerToStringLiteral:
		fmt.Fprintf(b, "  v%d = strlit s%d\n", instr.Dest, instr.StrLit)
		return
	case ir.OpAllocateVariable:
		fmt.Fprintf(b, "  v%d = alloc %s\n", instr.Dest, instr.SizeSrc)
		return
	case ir.OpAddressOf:
		fmt.Fprintf(b, "  v%d = & %s\n", instr.Dest, instr.Src1)
		return
	case ir.OpLoadFromAddress:
		fmt.Fprintf(b, "  v%d = load %s\n", instr.Dest, instr.Src1)
		return
	case ir.OpSimpleAssignment:
		fmt.Fprintf(b, "  v%d = %s\n", instr.Dest, instr.Src1)
		return
	case ir.OpBitwiseNot:
		fmt.Fprintf(b, "  v%d = ~ %s\n", instr.Dest, instr.Src1)
		return
	case ir.OpLogicalNot:
		fmt.Fprintf(b, "  v%d = ! %s\n", instr.Dest, instr.Src1)
		return
	case ir.OpReferenceVariable:
		fmt.Fprintf(b, "  v%d = refvar\n", instr.Dest)
		return
	}

	if op, ok := binarySymbols[instr.Op]; ok {
		fmt.Fprintf(b, "  v%d = %s %s, %s\n", instr.Dest, op, instr.Src1, instr.Src2)
		return
	}
	fmt.Fprintf(b, "  ; unrenderable instruction op=%d\n", instr.Op)
}

var binarySymbols = map[ir.Opcode]string{
	ir.OpMult: "mul", ir.OpDiv: "div", ir.OpMod: "mod",
	ir.OpAdd: "add", ir.OpSub: "sub",
	ir.OpLeftShift: "shl", ir.OpRightShift: "shr",
	ir.OpBitwiseAnd: "and", ir.OpBitwiseOr: "or", ir.OpBitwiseXor: "xor",
	ir.OpLogicalAnd: "land", ir.OpLogicalOr: "lor",
	ir.OpLessThan: "lt", ir.OpGreaterThan: "gt",
	ir.OpLessThanEq: "le", ir.OpGreaterThanEq: "ge",
	ir.OpEqual: "eq", ir.OpNotEqual: "ne",
}

var binaryOpByName = func() map[string]ir.Opcode {
	m := make(map[string]ir.Opcode, len(binarySymbols))
	for op, name := range binarySymbols {
		m[name] = op
	}
	return m
}()
