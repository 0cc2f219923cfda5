package astmini

import "testing"

func TestParseSimpleFunction(t *testing.T) {
	src := `
		int add(int a, int b) {
			return a + b;
		}
	`
	prog, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(prog.Decls) != 1 {
		t.Fatalf("expected 1 decl, got %d", len(prog.Decls))
	}
	fd, ok := prog.Decls[0].(*FuncDecl)
	if !ok {
		t.Fatalf("expected *FuncDecl, got %T", prog.Decls[0])
	}
	if fd.Name != "add" {
		t.Errorf("name = %q, want add", fd.Name)
	}
	if len(fd.Params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(fd.Params))
	}
	if fd.ReturnType.Kind != TInt {
		t.Errorf("return type = %v, want TInt", fd.ReturnType.Kind)
	}
	if len(fd.Body) != 1 {
		t.Fatalf("expected 1 statement in body, got %d", len(fd.Body))
	}
	ret, ok := fd.Body[0].(*ReturnStmt)
	if !ok {
		t.Fatalf("expected *ReturnStmt, got %T", fd.Body[0])
	}
	bin, ok := ret.Value.(*BinaryExpr)
	if !ok {
		t.Fatalf("expected *BinaryExpr, got %T", ret.Value)
	}
	if bin.Op != "+" {
		t.Errorf("op = %q, want +", bin.Op)
	}
}

func TestParseFunctionDeclarationNoBody(t *testing.T) {
	prog, err := Parse(`int puts(char *s);`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	fd := prog.Decls[0].(*FuncDecl)
	if fd.Body != nil {
		t.Errorf("expected nil body for a declaration, got %v", fd.Body)
	}
	if len(fd.Params) != 1 || fd.Params[0].Type.Kind != TPointer {
		t.Fatalf("expected one pointer param, got %+v", fd.Params)
	}
}

func TestParseVariadic(t *testing.T) {
	prog, err := Parse(`int printf(char *fmt, ...);`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	fd := prog.Decls[0].(*FuncDecl)
	if !fd.Variadic {
		t.Errorf("expected Variadic = true")
	}
}

func TestParseArrayDeclarator(t *testing.T) {
	prog, err := Parse(`int xs[10];`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	gd := prog.Decls[0].(*GlobalDecl)
	if gd.Type.Kind != TArray || !gd.Type.HasArrayLen || gd.Type.ArrayLen != 10 {
		t.Fatalf("unexpected array type: %+v", gd.Type)
	}
	if gd.Type.Elem.Kind != TInt {
		t.Errorf("elem kind = %v, want TInt", gd.Type.Elem.Kind)
	}
}

func TestParsePointerDeclarator(t *testing.T) {
	prog, err := Parse(`int *p;`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	gd := prog.Decls[0].(*GlobalDecl)
	if gd.Type.Kind != TPointer || gd.Type.Elem.Kind != TInt {
		t.Fatalf("unexpected pointer type: %+v", gd.Type)
	}
}

func TestParseControlFlow(t *testing.T) {
	src := `
		int main() {
			int i;
			int total;
			total = 0;
			for (i = 0; i < 10; i = i + 1) {
				if (i == 5) {
					continue;
				}
				total = total + i;
			}
			while (total > 100) {
				total = total - 1;
			}
			do {
				total = total + 1;
			} while (total < 0);
			return total;
		}
	`
	prog, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	fd := prog.Decls[0].(*FuncDecl)
	var sawFor, sawWhile, sawDoWhile bool
	for _, s := range fd.Body {
		switch s.(type) {
		case *ForStmt:
			sawFor = true
		case *WhileStmt:
			sawWhile = true
		case *DoWhileStmt:
			sawDoWhile = true
		}
	}
	if !sawFor || !sawWhile || !sawDoWhile {
		t.Errorf("missing control-flow statement: for=%v while=%v do-while=%v", sawFor, sawWhile, sawDoWhile)
	}
}

func TestParseCastAndUnary(t *testing.T) {
	src := `
		int main() {
			double d;
			int i;
			d = 1.5;
			i = (int)d;
			return -i;
		}
	`
	prog, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	fd := prog.Decls[0].(*FuncDecl)
	assign := fd.Body[3].(*ExprStmt).X.(*AssignExpr)
	if _, ok := assign.RHS.(*CastExpr); !ok {
		t.Fatalf("expected *CastExpr RHS, got %T", assign.RHS)
	}
	ret := fd.Body[4].(*ReturnStmt)
	un, ok := ret.Value.(*UnaryExpr)
	if !ok || un.Op != "-" {
		t.Fatalf("expected unary '-', got %+v", ret.Value)
	}
}

func TestParseIndexExpr(t *testing.T) {
	src := `
		int get(int xs[], int i) {
			return xs[i];
		}
	`
	prog, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	fd := prog.Decls[0].(*FuncDecl)
	ret := fd.Body[0].(*ReturnStmt)
	idx, ok := ret.Value.(*IndexExpr)
	if !ok {
		t.Fatalf("expected *IndexExpr, got %T", ret.Value)
	}
	if _, ok := idx.X.(*Ident); !ok {
		t.Errorf("expected base to be an *Ident, got %T", idx.X)
	}
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse(`int main() { return }`)
	if err == nil {
		t.Fatalf("expected a parse error")
	}
}
