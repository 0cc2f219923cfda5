package irtext

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/minz/c2wasm/pkg/cerr"
	"github.com/minz/c2wasm/pkg/ir"
)

// Parse reads text in the format Print produces (or written by hand) and
// rebuilds an ir.Program. Two passes, the same shape Convert uses: every
// ".string" and ".function" signature is registered first so forward
// references resolve, then every body is parsed. Every textual id (sN, fN,
// vN, LN) is remapped to a freshly generated one of the right kind rather
// than reused verbatim, so a parsed program's generators stay consistent
// for any further synthetic ids the relooper or frame planner allocates.
type textParser struct {
	lines []string
	line  int

	prog *ir.Program
	meta *ir.ProgramMetadata

	strLits map[int]ir.StringLiteralId
	funs    map[int]ir.FunId
	vars    map[int]ir.VarId
	labels  map[int]ir.LabelId
}

func Parse(src string) (*ir.Program, error) {
	lines := strings.Split(src, "\n")
	p := &textParser{
		lines:   lines,
		prog:    ir.NewProgram(),
		strLits: make(map[int]ir.StringLiteralId),
		funs:    make(map[int]ir.FunId),
		vars:    make(map[int]ir.VarId),
		labels:  make(map[int]ir.LabelId),
	}
	p.meta = p.prog.Metadata

	if err := p.registerSignatures(); err != nil {
		return nil, err
	}
	if err := p.parseBodies(); err != nil {
		return nil, err
	}
	return p.prog, nil
}

func (p *textParser) errorf(format string, args ...interface{}) error {
	return cerr.AtPosition(cerr.KindInvalidConstantExpression, "", p.line+1, 1, format, args...)
}

// registerSignatures is the first pass: every .string and .function header
// is parsed just far enough to allocate its fresh id, before any operand
// referring to one is parsed for real.
func (p *textParser) registerSignatures() error {
	for i, raw := range p.lines {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, ".string "):
			p.line = i
			if err := p.registerString(line); err != nil {
				return err
			}
		case strings.HasPrefix(line, ".function "):
			p.line = i
			if err := p.registerFunction(line); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *textParser) registerString(line string) error {
	rest := strings.TrimSpace(strings.TrimPrefix(line, ".string"))
	fields := strings.SplitN(rest, " ", 2)
	if len(fields) != 2 {
		return p.errorf("malformed .string directive")
	}
	n, err := parseNumberedId(fields[0], 's')
	if err != nil {
		return err
	}
	text, err := strconv.Unquote(strings.TrimSpace(fields[1]))
	if err != nil {
		return p.errorf("malformed string literal: %v", err)
	}
	id := p.meta.AddStringLiteral([]byte(text))
	p.strLits[n] = id
	return nil
}

func (p *textParser) registerFunction(line string) error {
	rest := strings.TrimSpace(strings.TrimPrefix(line, ".function"))
	fields := strings.SplitN(rest, " ", 2)
	if len(fields) != 2 {
		return p.errorf("malformed .function directive")
	}
	fn, err := parseNumberedId(fields[0], 'f')
	if err != nil {
		return err
	}

	open := strings.Index(fields[1], "(")
	closeParen := strings.LastIndex(fields[1], ")")
	arrow := strings.Index(fields[1], "->")
	if open < 0 || closeParen < 0 || arrow < 0 || closeParen < open {
		return p.errorf("malformed function signature")
	}
	name := strings.TrimSpace(fields[1][:open])
	paramList := strings.TrimSpace(fields[1][open+1 : closeParen])
	retStr := strings.TrimSpace(fields[1][arrow+2:])

	variadic := false
	var params []ir.IrType
	if paramList != "" {
		for _, p0 := range strings.Split(paramList, ",") {
			p0 = strings.TrimSpace(p0)
			if p0 == "..." {
				variadic = true
				continue
			}
			colon := strings.Index(p0, ":")
			if colon < 0 {
				return p.errorf("malformed parameter %q", p0)
			}
			t, err := parseType(strings.TrimSpace(p0[colon+1:]))
			if err != nil {
				return err
			}
			params = append(params, t)
		}
	}
	ret, err := parseType(retStr)
	if err != nil {
		return err
	}

	ftype := ir.FunctionType(ret, params, variadic)
	id := p.meta.DeclareFunction(name, ftype)
	p.funs[fn] = id
	return nil
}

// parseBodies is the second pass: .globals and every .function body are
// walked for real, instruction by instruction.
func (p *textParser) parseBodies() error {
	sc := bufio.NewScanner(strings.NewReader(strings.Join(p.lines, "\n")))
	lineNo := -1
	for sc.Scan() {
		lineNo++
		p.line = lineNo
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ".string") {
			continue
		}
		switch {
		case line == ".globals":
			instrs, err := p.parseBlock(sc, &lineNo)
			if err != nil {
				return err
			}
			p.prog.Instructions.GlobalInstrs = instrs
		case strings.HasPrefix(line, ".function "):
			if err := p.parseFunctionBody(line, sc, &lineNo); err != nil {
				return err
			}
		default:
			return p.errorf("unexpected top-level line %q", line)
		}
	}
	return nil
}

func (p *textParser) parseFunctionBody(header string, sc *bufio.Scanner, lineNo *int) error {
	rest := strings.TrimSpace(strings.TrimPrefix(header, ".function"))
	fields := strings.SplitN(rest, " ", 2)
	fn, err := parseNumberedId(fields[0], 'f')
	if err != nil {
		return err
	}
	id := p.funs[fn]
	ftype := p.meta.FunTypes[id]
	name := p.meta.FunIds[id]

	open := strings.Index(rest, "(")
	closeParen := strings.LastIndex(rest, ")")
	paramList := strings.TrimSpace(rest[open+1 : closeParen])
	var paramVars []ir.VarId
	if paramList != "" {
		i := 0
		for _, decl := range strings.Split(paramList, ",") {
			decl = strings.TrimSpace(decl)
			if decl == "..." {
				continue
			}
			colon := strings.Index(decl, ":")
			nstr := strings.TrimSpace(decl[:colon])
			n, err := parseNumberedId(nstr, 'v')
			if err != nil {
				return err
			}
			t := ftype.Params[i]
			v := p.bindVar(n, ir.LValue, t)
			paramVars = append(paramVars, v)
			i++
		}
	}

	instrs, err := p.parseBlock(sc, lineNo)
	if err != nil {
		return err
	}
	p.prog.Instructions.Functions[id] = &ir.Function{
		Name:             name,
		Instrs:           instrs,
		TypeInfo:         ftype,
		ParamVarMappings: paramVars,
		BodyIsDefined:    len(instrs) > 0,
	}
	return nil
}

// parseBlock consumes lines up to and including the matching ".end",
// returning the decoded instruction sequence.
func (p *textParser) parseBlock(sc *bufio.Scanner, lineNo *int) ([]ir.Instruction, error) {
	var out []ir.Instruction
	for sc.Scan() {
		*lineNo++
		p.line = *lineNo
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == ".end" {
			return out, nil
		}
		if strings.HasSuffix(line, ":") && !strings.Contains(line, "=") {
			n, err := parseNumberedId(strings.TrimSuffix(line, ":"), 'L')
			if err != nil {
				return nil, err
			}
			out = append(out, ir.Instruction{ID: p.meta.NewInstrId(), Op: ir.OpLabel, Label: p.label(n)})
			continue
		}
		instr, err := p.parseInstr(line)
		if err != nil {
			return nil, err
		}
		out = append(out, instr)
	}
	return nil, p.errorf("unterminated block, expected .end")
}

func (p *textParser) label(n int) ir.LabelId {
	if id, ok := p.labels[n]; ok {
		return id
	}
	id := p.meta.NewLabelId()
	p.labels[n] = id
	return id
}

func (p *textParser) bindVar(n int, kind ir.ValueType, t ir.IrType) ir.VarId {
	if id, ok := p.vars[n]; ok {
		return id
	}
	id := p.meta.NewVar(kind)
	p.meta.AddVarType(id, t)
	p.vars[n] = id
	return id
}

func (p *textParser) varRef(n int) ir.VarId {
	return p.bindVar(n, ir.RValue, ir.TypeVoid)
}

func (p *textParser) parseInstr(line string) (ir.Instruction, error) {
	id := p.meta.NewInstrId()

	switch {
	case strings.HasPrefix(line, "declare "):
		rest := strings.TrimSpace(strings.TrimPrefix(line, "declare"))
		colon := strings.Index(rest, ":")
		if colon < 0 {
			return ir.Instruction{}, p.errorf("malformed declare")
		}
		vn, err := parseNumberedId(strings.TrimSpace(rest[:colon]), 'v')
		if err != nil {
			return ir.Instruction{}, err
		}
		t, err := parseType(strings.TrimSpace(rest[colon+1:]))
		if err != nil {
			return ir.Instruction{}, err
		}
		v := p.bindVar(vn, ir.LValue, t)
		return ir.Instruction{ID: id, Op: ir.OpDeclareVariable, Dest: v}, nil

	case strings.HasPrefix(line, "br "):
		n, err := parseNumberedId(strings.TrimSpace(strings.TrimPrefix(line, "br")), 'L')
		if err != nil {
			return ir.Instruction{}, err
		}
		return ir.Instruction{ID: id, Op: ir.OpBr, Label: p.label(n)}, nil

	case strings.HasPrefix(line, "brifeq "), strings.HasPrefix(line, "brifnoteq "):
		op := ir.OpBrIfEq
		rest := strings.TrimPrefix(line, "brifeq")
		if strings.HasPrefix(line, "brifnoteq ") {
			op = ir.OpBrIfNotEq
			rest = strings.TrimPrefix(line, "brifnoteq")
		}
		parts := splitArgs(strings.TrimSpace(rest))
		if len(parts) != 3 {
			return ir.Instruction{}, p.errorf("malformed conditional branch")
		}
		src1, err := p.parseOperand(parts[0])
		if err != nil {
			return ir.Instruction{}, err
		}
		src2, err := p.parseOperand(parts[1])
		if err != nil {
			return ir.Instruction{}, err
		}
		n, err := parseNumberedId(parts[2], 'L')
		if err != nil {
			return ir.Instruction{}, err
		}
		return ir.Instruction{ID: id, Op: op, Src1: src1, Src2: src2, Label: p.label(n)}, nil

	case strings.HasPrefix(line, "store "):
		rest := strings.TrimSpace(strings.TrimPrefix(line, "store"))
		parts := splitArgs(rest)
		if len(parts) != 2 {
			return ir.Instruction{}, p.errorf("malformed store")
		}
		ptr, err := parseNumberedId(parts[0], 'v')
		if err != nil {
			return ir.Instruction{}, err
		}
		val, err := p.parseOperand(parts[1])
		if err != nil {
			return ir.Instruction{}, err
		}
		return ir.Instruction{ID: id, Op: ir.OpStoreToAddress, Dest: p.varRef(ptr), Src1: val}, nil

	case line == "ret" || strings.HasPrefix(line, "ret "):
		rest := strings.TrimSpace(strings.TrimPrefix(line, "ret"))
		if rest == "" {
			return ir.Instruction{ID: id, Op: ir.OpRet}, nil
		}
		v, err := p.parseOperand(rest)
		if err != nil {
			return ir.Instruction{}, err
		}
		return ir.Instruction{ID: id, Op: ir.OpRet, RetVal: &v}, nil

	case strings.HasPrefix(line, "call ") || strings.HasPrefix(line, "tailcall "):
		return p.parseCall(id, line, 0, ir.VarId(0), false)
	}

	if idx := strings.Index(line, "="); idx >= 0 {
		destStr := strings.TrimSpace(line[:idx])
		rhs := strings.TrimSpace(line[idx+1:])
		vn, err := parseNumberedId(destStr, 'v')
		if err != nil {
			return ir.Instruction{}, err
		}
		return p.parseAssignRHS(id, p.varRef(vn), rhs)
	}

	return ir.Instruction{}, p.errorf("unrecognized instruction %q", line)
}

func (p *textParser) parseAssignRHS(id ir.InstructionId, dest ir.VarId, rhs string) (ir.Instruction, error) {
	switch {
	case strings.HasPrefix(rhs, "call ") || strings.HasPrefix(rhs, "tailcall "):
		return p.parseCall(id, rhs, 0, dest, true)
	case strings.HasPrefix(rhs, "load "):
		src, err := p.parseOperand(strings.TrimSpace(strings.TrimPrefix(rhs, "load")))
		if err != nil {
			return ir.Instruction{}, err
		}
		return ir.Instruction{ID: id, Op: ir.OpLoadFromAddress, Dest: dest, Src1: src}, nil
	case strings.HasPrefix(rhs, "& "):
		src, err := p.parseOperand(strings.TrimSpace(strings.TrimPrefix(rhs, "&")))
		if err != nil {
			return ir.Instruction{}, err
		}
		return ir.Instruction{ID: id, Op: ir.OpAddressOf, Dest: dest, Src1: src}, nil
	case strings.HasPrefix(rhs, "alloc "):
		src, err := p.parseOperand(strings.TrimSpace(strings.TrimPrefix(rhs, "alloc")))
		if err != nil {
			return ir.Instruction{}, err
		}
		return ir.Instruction{ID: id, Op: ir.OpAllocateVariable, Dest: dest, SizeSrc: src}, nil
	case strings.HasPrefix(rhs, "~ "):
		src, err := p.parseOperand(strings.TrimSpace(strings.TrimPrefix(rhs, "~")))
		if err != nil {
			return ir.Instruction{}, err
		}
		return ir.Instruction{ID: id, Op: ir.OpBitwiseNot, Dest: dest, Src1: src}, nil
	case strings.HasPrefix(rhs, "! "):
		src, err := p.parseOperand(strings.TrimSpace(strings.TrimPrefix(rhs, "!")))
		if err != nil {
			return ir.Instruction{}, err
		}
		return ir.Instruction{ID: id, Op: ir.OpLogicalNot, Dest: dest, Src1: src}, nil
	case rhs == "refvar":
		return ir.Instruction{ID: id, Op: ir.OpReferenceVariable, Dest: dest}, nil
	case strings.HasPrefix(rhs, "strlit "):
		n, err := parseNumberedId(strings.TrimSpace(strings.TrimPrefix(rhs, "strlit")), 's')
		if err != nil {
			return ir.Instruction{}, err
		}
		return ir.Instruction{ID: id, Op: ir.OpPointerToStringLiteral, Dest: dest, StrLit: p.strLits[n]}, nil
	case strings.HasPrefix(rhs, "convert."):
		rest := strings.TrimPrefix(rhs, "convert.")
		sp := strings.IndexByte(rest, ' ')
		if sp < 0 {
			return ir.Instruction{}, p.errorf("malformed convert")
		}
		types := strings.SplitN(rest[:sp], ".", 2)
		if len(types) != 2 {
			return ir.Instruction{}, p.errorf("malformed convert types")
		}
		from, err := parseType(types[0])
		if err != nil {
			return ir.Instruction{}, err
		}
		to, err := parseType(types[1])
		if err != nil {
			return ir.Instruction{}, err
		}
		src, err := p.parseOperand(strings.TrimSpace(rest[sp+1:]))
		if err != nil {
			return ir.Instruction{}, err
		}
		return ir.Instruction{ID: id, Op: ir.OpConvert, Dest: dest, From: from, To: to, Src1: src}, nil
	}

	fields := strings.SplitN(rhs, " ", 2)
	if op, ok := binaryOpByName[fields[0]]; ok && len(fields) == 2 {
		parts := splitArgs(fields[1])
		if len(parts) != 2 {
			return ir.Instruction{}, p.errorf("malformed binary operation %q", rhs)
		}
		src1, err := p.parseOperand(parts[0])
		if err != nil {
			return ir.Instruction{}, err
		}
		src2, err := p.parseOperand(parts[1])
		if err != nil {
			return ir.Instruction{}, err
		}
		return ir.Instruction{ID: id, Op: op, Dest: dest, Src1: src1, Src2: src2}, nil
	}

	// Plain operand: a simple assignment.
	src, err := p.parseOperand(rhs)
	if err != nil {
		return ir.Instruction{}, err
	}
	return ir.Instruction{ID: id, Op: ir.OpSimpleAssignment, Dest: dest, Src1: src}, nil
}

func (p *textParser) parseCall(id ir.InstructionId, line string, _ int, dest ir.VarId, hasDest bool) (ir.Instruction, error) {
	op := ir.OpCall
	rest := strings.TrimPrefix(line, "call")
	if strings.HasPrefix(line, "tailcall ") {
		op = ir.OpTailCall
		rest = strings.TrimPrefix(line, "tailcall")
	}
	rest = strings.TrimSpace(rest)
	open := strings.Index(rest, "(")
	closeParen := strings.LastIndex(rest, ")")
	if open < 0 || closeParen < 0 {
		return ir.Instruction{}, p.errorf("malformed call")
	}
	fn, err := parseNumberedId(strings.TrimSpace(rest[:open]), 'f')
	if err != nil {
		return ir.Instruction{}, err
	}
	argList := strings.TrimSpace(rest[open+1 : closeParen])
	var args []ir.Operand
	if argList != "" {
		for _, a := range splitArgs(argList) {
			op, err := p.parseOperand(strings.TrimSpace(a))
			if err != nil {
				return ir.Instruction{}, err
			}
			args = append(args, op)
		}
	}
	d := p.meta.NullDest
	if hasDest {
		d = dest
	}
	return ir.Instruction{ID: id, Op: op, Dest: d, Fun: p.funs[fn], Args: args}, nil
}

// splitArgs splits a comma-separated operand list, respecting that no
// operand text produced by Print ever itself contains a comma.
func splitArgs(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func (p *textParser) parseOperand(s string) (ir.Operand, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "&v"):
		n, err := parseNumberedId(s[1:], 'v')
		if err != nil {
			return ir.Operand{}, err
		}
		return ir.StoreAddrOperand(p.varRef(n)), nil
	case strings.HasPrefix(s, "v"):
		n, err := parseNumberedId(s, 'v')
		if err != nil {
			return ir.Operand{}, err
		}
		return ir.VarOperand(p.varRef(n)), nil
	case strings.HasPrefix(s, "f"):
		n, err := parseNumberedId(s, 'f')
		if err == nil {
			return ir.FunOperand(p.funs[n]), nil
		}
	}
	if strings.ContainsAny(s, ".eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err == nil {
			return ir.ConstOperand(ir.FloatConst(f)), nil
		}
	}
	iv, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ir.Operand{}, p.errorf("invalid operand %q", s)
	}
	return ir.ConstOperand(ir.IntConst(iv)), nil
}

// parseNumberedId parses a "<prefix><digits>" token such as "v3" or "L12",
// requiring the leading letter to match prefix.
func parseNumberedId(s string, prefix byte) (int, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != prefix {
		return 0, fmt.Errorf("expected %c<number>, got %q", prefix, s)
	}
	return strconv.Atoi(s[1:])
}

// parseType parses the output of IrType.String() for the subset this
// front end ever produces: the ten arithmetic ranks, void, pointer-to and
// array-of. Struct, union and function types are not accepted -- nothing
// the AST converter emits carries one, since astmini has no struct/union
// support.
func parseType(s string) (ir.IrType, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "i8":
		return ir.TypeI8, nil
	case "u8":
		return ir.TypeU8, nil
	case "i16":
		return ir.TypeI16, nil
	case "u16":
		return ir.TypeU16, nil
	case "i32":
		return ir.TypeI32, nil
	case "u32":
		return ir.TypeU32, nil
	case "i64":
		return ir.TypeI64, nil
	case "u64":
		return ir.TypeU64, nil
	case "f32":
		return ir.TypeF32, nil
	case "f64":
		return ir.TypeF64, nil
	case "void":
		return ir.TypeVoid, nil
	}
	if strings.HasPrefix(s, "*") {
		elem, err := parseType(s[1:])
		if err != nil {
			return ir.IrType{}, err
		}
		return ir.PointerTo(elem), nil
	}
	if strings.HasPrefix(s, "[]") {
		elem, err := parseType(s[2:])
		if err != nil {
			return ir.IrType{}, err
		}
		return ir.ArrayOf(elem, ir.TypeSize{}, false), nil
	}
	if strings.HasPrefix(s, "[") {
		closeBrack := strings.IndexByte(s, ']')
		if closeBrack < 0 {
			return ir.IrType{}, fmt.Errorf("malformed array type %q", s)
		}
		n, err := strconv.ParseUint(s[1:closeBrack], 10, 64)
		if err != nil {
			return ir.IrType{}, fmt.Errorf("malformed array length in %q", s)
		}
		elem, err := parseType(s[closeBrack+1:])
		if err != nil {
			return ir.IrType{}, err
		}
		return ir.ArrayOf(elem, ir.CompileTimeSize(n), true), nil
	}
	return ir.IrType{}, fmt.Errorf("unsupported type %q", s)
}
