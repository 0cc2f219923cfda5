package astmini

import (
	"github.com/minz/c2wasm/pkg/cerr"
)

// Parser is a straightforward recursive-descent parser over a pre-lexed
// token slice, in the teacher's own hand-rolled-parser style (no parser
// generator). Lookahead is one token except in two places: a `...`
// parameter is recognized three tokens ahead, and a parenthesized type is
// tried as a cast, restoring the position when it is not one.
type Parser struct {
	toks []token
	pos  int
}

// Parse lexes and parses a full translation unit.
func Parse(src string) (*Program, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &Parser{toks: toks}
	return p.parseProgram()
}

func (p *Parser) cur() token  { return p.toks[p.pos] }
func (p *Parser) at(i int) token {
	if p.pos+i >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+i]
}
func (p *Parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) isPunct(s string) bool {
	t := p.cur()
	return t.kind == tkPunct && t.text == s
}

func (p *Parser) isIdent(s string) bool {
	t := p.cur()
	return t.kind == tkIdent && t.text == s
}

func (p *Parser) expectPunct(s string) error {
	if !p.isPunct(s) {
		return p.errorf("expected %q, found %q", s, p.cur().text)
	}
	p.advance()
	return nil
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	pos := p.cur().pos
	return cerr.AtPosition(cerr.KindInvalidLValue, "", pos.Line, pos.Col, format, args...)
}

var typeKeywords = map[string]bool{
	"void": true, "char": true, "short": true, "int": true, "long": true,
	"float": true, "double": true, "unsigned": true, "signed": true,
}

func (p *Parser) atTypeStart() bool {
	t := p.cur()
	return t.kind == tkIdent && typeKeywords[t.text]
}

// parseBaseType consumes a run of type-specifier keywords and resolves
// them to one arithmetic Kind, following the same small set of
// combinations the original's type-checking front end recognizes
// (unsigned/signed qualify a width keyword; "long" alone means "long int").
func (p *Parser) parseBaseType() (Type, error) {
	var unsigned, signed, long, short, seenInt bool
	var kind TypeKind = -1
	any := false
	for p.atTypeStart() {
		any = true
		switch p.cur().text {
		case "void":
			kind = TVoid
		case "char":
			kind = TChar
		case "float":
			kind = TFloat
		case "double":
			kind = TDouble
		case "int":
			seenInt = true
		case "short":
			short = true
		case "long":
			long = true
		case "unsigned":
			unsigned = true
		case "signed":
			signed = true
		}
		p.advance()
	}
	if !any {
		return Type{}, p.errorf("expected a type, found %q", p.cur().text)
	}

	if kind == TVoid || kind == TFloat || kind == TDouble {
		return Type{Kind: kind}, nil
	}
	if kind == TChar {
		if unsigned {
			return Type{Kind: TUChar}, nil
		}
		return Type{Kind: TChar}, nil
	}

	// no explicit base keyword beyond int/short/long/unsigned/signed: this
	// is an integer of rank short/int/long, signedness unsigned unless
	// signed or bare.
	_ = seenInt
	switch {
	case short && unsigned:
		return Type{Kind: TUShort}, nil
	case short:
		return Type{Kind: TShort}, nil
	case long && unsigned:
		return Type{Kind: TULong}, nil
	case long:
		return Type{Kind: TLong}, nil
	case unsigned:
		return Type{Kind: TUInt}, nil
	case signed:
		return Type{Kind: TInt}, nil
	default:
		return Type{Kind: TInt}, nil
	}
}

// parseDeclarator consumes leading '*' pointer markers, the declared
// name, and a trailing '[' size ']' array suffix, applying them to base in
// the usual inside-out C declarator order (pointer-to binds before
// array-of is applied to the pointee).
func (p *Parser) parseDeclarator(base Type) (name string, t Type, err error) {
	t = base
	for p.isPunct("*") {
		p.advance()
		t = PointerTo(t)
	}
	if p.cur().kind != tkIdent {
		return "", Type{}, p.errorf("expected an identifier, found %q", p.cur().text)
	}
	name = p.advance().text

	if p.isPunct("[") {
		p.advance()
		if p.isPunct("]") {
			p.advance()
			t = ArrayOf(t, 0, false)
		} else {
			lit, ok := p.cur(), p.cur().kind == tkInt
			if !ok {
				return "", Type{}, p.errorf("expected an array length, found %q", p.cur().text)
			}
			p.advance()
			if err := p.expectPunct("]"); err != nil {
				return "", Type{}, err
			}
			t = ArrayOf(t, lit.ival, true)
		}
	}
	return name, t, nil
}

func (p *Parser) parseProgram() (*Program, error) {
	prog := &Program{}
	for p.cur().kind != tkEOF {
		decl, err := p.parseTopLevelDecl()
		if err != nil {
			return nil, err
		}
		prog.Decls = append(prog.Decls, decl)
	}
	return prog, nil
}

func (p *Parser) parseTopLevelDecl() (TopLevelDecl, error) {
	pos := p.cur().pos
	base, err := p.parseBaseType()
	if err != nil {
		return nil, err
	}
	name, t, err := p.parseDeclarator(base)
	if err != nil {
		return nil, err
	}

	if p.isPunct("(") {
		return p.parseFunctionRest(name, t, pos)
	}

	var init Expr
	if p.isPunct("=") {
		p.advance()
		init, err = p.parseAssignment()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return &GlobalDecl{Name: name, Type: t, Init: init, Pos: pos}, nil
}

func (p *Parser) parseFunctionRest(name string, ret Type, pos Position) (*FuncDecl, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var params []Param
	variadic := false
	if !p.isPunct(")") {
		for {
			if p.isPunct(".") && p.at(1).text == "." && p.at(2).text == "." {
				p.advance()
				p.advance()
				p.advance()
				variadic = true
				break
			}
			base, err := p.parseBaseType()
			if err != nil {
				return nil, err
			}
			pname, pt, err := p.parseDeclarator(base)
			if err != nil {
				return nil, err
			}
			params = append(params, Param{Name: pname, Type: pt})
			if p.isPunct(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}

	fn := &FuncDecl{Name: name, ReturnType: ret, Params: params, Variadic: variadic, Pos: pos}
	if p.isPunct(";") {
		p.advance()
		return fn, nil
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	fn.Body = body
	return fn, nil
}

func (p *Parser) parseBlock() ([]Stmt, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var stmts []Stmt
	for !p.isPunct("}") {
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	p.advance()
	return stmts, nil
}

func (p *Parser) parseStmt() (Stmt, error) {
	switch {
	case p.isPunct("{"):
		stmts, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		return &BlockStmt{Stmts: stmts}, nil

	case p.isIdent("if"):
		return p.parseIf()
	case p.isIdent("while"):
		return p.parseWhile()
	case p.isIdent("do"):
		return p.parseDoWhile()
	case p.isIdent("for"):
		return p.parseFor()
	case p.isIdent("return"):
		p.advance()
		if p.isPunct(";") {
			p.advance()
			return &ReturnStmt{}, nil
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		return &ReturnStmt{Value: v}, nil
	case p.isIdent("break"):
		p.advance()
		return &BreakStmt{}, p.expectPunct(";")
	case p.isIdent("continue"):
		p.advance()
		return &ContinueStmt{}, p.expectPunct(";")
	case p.isPunct(";"):
		p.advance()
		return &BlockStmt{}, nil
	case p.atTypeStart():
		return p.parseDeclStmt()
	default:
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		return &ExprStmt{X: x}, nil
	}
}

func (p *Parser) parseDeclStmt() (Stmt, error) {
	base, err := p.parseBaseType()
	if err != nil {
		return nil, err
	}
	name, t, err := p.parseDeclarator(base)
	if err != nil {
		return nil, err
	}
	var init Expr
	if p.isPunct("=") {
		p.advance()
		init, err = p.parseAssignment()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return &DeclStmt{Name: name, Type: t, Init: init}, nil
}

func (p *Parser) parseIf() (Stmt, error) {
	p.advance()
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	then, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	var els Stmt
	if p.isIdent("else") {
		p.advance()
		els, err = p.parseStmt()
		if err != nil {
			return nil, err
		}
	}
	return &IfStmt{Cond: cond, Then: then, Else: els}, nil
}

func (p *Parser) parseWhile() (Stmt, error) {
	p.advance()
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	body, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	return &WhileStmt{Cond: cond, Body: body}, nil
}

func (p *Parser) parseDoWhile() (Stmt, error) {
	p.advance()
	body, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	if !p.isIdent("while") {
		return nil, p.errorf("expected 'while', found %q", p.cur().text)
	}
	p.advance()
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return &DoWhileStmt{Body: body, Cond: cond}, nil
}

func (p *Parser) parseFor() (Stmt, error) {
	p.advance()
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var init Stmt
	if p.isPunct(";") {
		p.advance()
	} else if p.atTypeStart() {
		var err error
		init, err = p.parseDeclStmt()
		if err != nil {
			return nil, err
		}
	} else {
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		init = &ExprStmt{X: x}
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
	}

	var cond Expr
	if !p.isPunct(";") {
		var err error
		cond, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}

	var post Expr
	if !p.isPunct(")") {
		var err error
		post, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}

	body, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	return &ForStmt{Init: init, Cond: cond, Post: post, Body: body}, nil
}

// parseExpr parses one assignment-level expression (this front end has no
// comma operator, so an expression statement is exactly one assignment).
func (p *Parser) parseExpr() (Expr, error) { return p.parseAssignment() }

func (p *Parser) parseAssignment() (Expr, error) {
	lhs, err := p.parseLogicalOr()
	if err != nil {
		return nil, err
	}
	if p.isPunct("=") {
		pos := p.cur().pos
		p.advance()
		rhs, err := p.parseAssignment()
		if err != nil {
			return nil, err
		}
		return &AssignExpr{LHS: lhs, RHS: rhs, Pos: pos}, nil
	}
	return lhs, nil
}

func (p *Parser) parseLogicalOr() (Expr, error) {
	return p.parseBinaryLevel([]string{"||"}, (*Parser).parseLogicalAnd)
}
func (p *Parser) parseLogicalAnd() (Expr, error) {
	return p.parseBinaryLevel([]string{"&&"}, (*Parser).parseBitOr)
}
func (p *Parser) parseBitOr() (Expr, error) {
	return p.parseBinaryLevel([]string{"|"}, (*Parser).parseBitXor)
}
func (p *Parser) parseBitXor() (Expr, error) {
	return p.parseBinaryLevel([]string{"^"}, (*Parser).parseBitAnd)
}
func (p *Parser) parseBitAnd() (Expr, error) {
	return p.parseBinaryLevel([]string{"&"}, (*Parser).parseEquality)
}
func (p *Parser) parseEquality() (Expr, error) {
	return p.parseBinaryLevel([]string{"==", "!="}, (*Parser).parseRelational)
}
func (p *Parser) parseRelational() (Expr, error) {
	return p.parseBinaryLevel([]string{"<", ">", "<=", ">="}, (*Parser).parseShift)
}
func (p *Parser) parseShift() (Expr, error) {
	return p.parseBinaryLevel([]string{"<<", ">>"}, (*Parser).parseAdditive)
}
func (p *Parser) parseAdditive() (Expr, error) {
	return p.parseBinaryLevel([]string{"+", "-"}, (*Parser).parseMultiplicative)
}
func (p *Parser) parseMultiplicative() (Expr, error) {
	return p.parseBinaryLevel([]string{"*", "/", "%"}, (*Parser).parseUnary)
}

func (p *Parser) parseBinaryLevel(ops []string, next func(*Parser) (Expr, error)) (Expr, error) {
	lhs, err := next(p)
	if err != nil {
		return nil, err
	}
	for {
		matched := ""
		if p.cur().kind == tkPunct {
			for _, op := range ops {
				if p.cur().text == op {
					matched = op
					break
				}
			}
		}
		if matched == "" {
			return lhs, nil
		}
		pos := p.cur().pos
		p.advance()
		rhs, err := next(p)
		if err != nil {
			return nil, err
		}
		lhs = &BinaryExpr{Op: matched, X: lhs, Y: rhs, Pos: pos}
	}
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.cur().kind == tkPunct {
		switch p.cur().text {
		case "-", "+", "!", "~", "&", "*":
			op := p.cur().text
			pos := p.cur().pos
			p.advance()
			x, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return &UnaryExpr{Op: op, X: x, Pos: pos}, nil
		}
	}
	if p.isPunct("(") && p.at(1).kind == tkIdent && typeKeywords[p.at(1).text] {
		save := p.pos
		p.advance()
		t, err := p.parseBaseType()
		if err == nil {
			for p.isPunct("*") {
				p.advance()
				t = PointerTo(t)
			}
			if p.isPunct(")") {
				p.advance()
				x, err := p.parseUnary()
				if err != nil {
					return nil, err
				}
				return &CastExpr{Type: t, X: x}, nil
			}
		}
		p.pos = save
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Expr, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isPunct("["):
			pos := p.cur().pos
			p.advance()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct("]"); err != nil {
				return nil, err
			}
			x = &IndexExpr{X: x, Index: idx, Pos: pos}
		default:
			return x, nil
		}
	}
}

func (p *Parser) parsePrimary() (Expr, error) {
	t := p.cur()
	switch t.kind {
	case tkInt:
		p.advance()
		return &IntLit{Value: t.ival, Unsigned: t.uns, Long: t.long}, nil
	case tkFloat:
		p.advance()
		return &FloatLit{Value: t.fval, Is32Bit: t.f32}, nil
	case tkString:
		p.advance()
		return &StringLit{Value: t.text}, nil
	case tkIdent:
		name := t.text
		pos := t.pos
		p.advance()
		if p.isPunct("(") {
			p.advance()
			var args []Expr
			if !p.isPunct(")") {
				for {
					a, err := p.parseAssignment()
					if err != nil {
						return nil, err
					}
					args = append(args, a)
					if p.isPunct(",") {
						p.advance()
						continue
					}
					break
				}
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return &CallExpr{Callee: name, Args: args, Pos: pos}, nil
		}
		return &Ident{Name: name, Pos: pos}, nil
	case tkPunct:
		if t.text == "(" {
			p.advance()
			x, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return x, nil
		}
	}
	return nil, p.errorf("unexpected token %q", t.text)
}
