package astconv

import (
	"testing"

	"github.com/minz/c2wasm/pkg/astmini"
	"github.com/minz/c2wasm/pkg/ir"
)

func convertSource(t *testing.T, src string) *ir.Program {
	t.Helper()
	prog, err := astmini.Parse(src)
	if err != nil {
		t.Fatalf("astmini.Parse: %v", err)
	}
	irProg, err := Convert(prog)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	return irProg
}

func TestConvertRequiresMain(t *testing.T) {
	prog, err := astmini.Parse(`int add(int a, int b) { return a + b; }`)
	if err != nil {
		t.Fatalf("astmini.Parse: %v", err)
	}
	if _, err := Convert(prog); err == nil {
		t.Fatalf("expected an error when no \"main\" function is defined")
	}
}

func TestConvertSimpleArithmetic(t *testing.T) {
	irProg := convertSource(t, `
		int main() {
			int a;
			int b;
			a = 1;
			b = 2;
			return a + b;
		}
	`)
	mainID := irProg.Metadata.FunNames["main"]
	fn := irProg.Instructions.Functions[mainID]
	if !fn.BodyIsDefined {
		t.Fatalf("expected main to have a defined body")
	}

	var sawAdd, sawRet bool
	for _, instr := range fn.Instrs {
		switch instr.Op {
		case ir.OpAdd:
			sawAdd = true
		case ir.OpRet:
			sawRet = true
		}
	}
	if !sawAdd {
		t.Errorf("expected an OpAdd instruction")
	}
	if !sawRet {
		t.Errorf("expected a trailing OpRet instruction")
	}
}

func TestConvertPointerAddressOfAndDeref(t *testing.T) {
	irProg := convertSource(t, `
		int main() {
			int x;
			int *p;
			x = 5;
			p = &x;
			return *p;
		}
	`)
	mainID := irProg.Metadata.FunNames["main"]
	fn := irProg.Instructions.Functions[mainID]

	var sawAddrOf, sawLoad bool
	for _, instr := range fn.Instrs {
		switch instr.Op {
		case ir.OpAddressOf:
			sawAddrOf = true
			if instr.Src1.Kind != ir.OperandVar {
				t.Errorf("OpAddressOf.Src1 must be OperandVar, got %v", instr.Src1.Kind)
			}
		case ir.OpLoadFromAddress:
			sawLoad = true
		}
	}
	if !sawAddrOf {
		t.Errorf("expected an OpAddressOf instruction for &x")
	}
	if !sawLoad {
		t.Errorf("expected an OpLoadFromAddress instruction for *p")
	}
}

func TestConvertStoreThroughPointerAsymmetry(t *testing.T) {
	irProg := convertSource(t, `
		int main() {
			int x;
			int *p;
			p = &x;
			*p = 7;
			return x;
		}
	`)
	mainID := irProg.Metadata.FunNames["main"]
	fn := irProg.Instructions.Functions[mainID]

	var found bool
	for _, instr := range fn.Instrs {
		if instr.Op == ir.OpStoreToAddress {
			found = true
			vt, ok := irProg.Metadata.VarType(instr.Dest)
			if !ok || vt.Kind != ir.KPointer {
				t2, _ := irProg.Metadata.VarType(instr.Dest)
				t.Errorf("OpStoreToAddress.Dest must be the pointer variable, got type %v", t2)
			}
		}
	}
	if !found {
		t.Fatalf("expected an OpStoreToAddress instruction")
	}
}

func TestConvertCallVoidReturnUsesNullDest(t *testing.T) {
	irProg := convertSource(t, `
		void nop();
		int main() {
			nop();
			return 0;
		}
	`)
	mainID := irProg.Metadata.FunNames["main"]
	fn := irProg.Instructions.Functions[mainID]

	var found bool
	for _, instr := range fn.Instrs {
		if instr.Op == ir.OpCall {
			found = true
			if instr.Dest != irProg.Metadata.NullDest {
				t.Errorf("expected a void call's Dest to be NullDest, got %v", instr.Dest)
			}
		}
	}
	if !found {
		t.Fatalf("expected an OpCall instruction")
	}
}

func TestConvertArrayIndexScalesByElementSize(t *testing.T) {
	irProg := convertSource(t, `
		int main() {
			int xs[4];
			xs[2] = 9;
			return xs[2];
		}
	`)
	mainID := irProg.Metadata.FunNames["main"]
	fn := irProg.Instructions.Functions[mainID]

	var sawMult bool
	for _, instr := range fn.Instrs {
		if instr.Op == ir.OpMult {
			sawMult = true
		}
	}
	if !sawMult {
		t.Errorf("expected indexing to scale the index by element byte size via OpMult")
	}
}

func TestConvertLoopLoweredToFlatBranches(t *testing.T) {
	irProg := convertSource(t, `
		int main() {
			int i;
			i = 0;
			while (i < 10) {
				i = i + 1;
			}
			return i;
		}
	`)
	mainID := irProg.Metadata.FunNames["main"]
	fn := irProg.Instructions.Functions[mainID]

	for _, instr := range fn.Instrs {
		switch instr.Op {
		case ir.OpBreak, ir.OpContinue, ir.OpEndHandledBlock, ir.OpIfEqElse, ir.OpIfNotEqElse, ir.OpNop:
			t.Fatalf("front end must emit only flat Label/Br/BrIfEq/BrIfNotEq control flow, found %v", instr.Op)
		}
	}
}

func TestConvertImportedFunctionHasNoBody(t *testing.T) {
	irProg := convertSource(t, `
		int puts(char *s);
		int main() {
			puts("hi");
			return 0;
		}
	`)
	id := irProg.Metadata.FunNames["puts"]
	fn := irProg.Instructions.Functions[id]
	if fn.BodyIsDefined {
		t.Errorf("expected puts to be an imported (bodyless) function")
	}
	if !irProg.Metadata.ImportedFunctionNames["puts"] {
		t.Errorf("expected puts to be registered as an imported function name")
	}
}
