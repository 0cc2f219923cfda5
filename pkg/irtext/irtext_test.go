package irtext

import (
	"strings"
	"testing"

	"github.com/minz/c2wasm/pkg/astconv"
	"github.com/minz/c2wasm/pkg/astmini"
	"github.com/minz/c2wasm/pkg/ir"
)

func buildProgram(t *testing.T, src string) *ir.Program {
	t.Helper()
	astProg, err := astmini.Parse(src)
	if err != nil {
		t.Fatalf("astmini.Parse: %v", err)
	}
	irProg, err := astconv.Convert(astProg)
	if err != nil {
		t.Fatalf("astconv.Convert: %v", err)
	}
	return irProg
}

func TestPrintProducesFunctionAndEndDirectives(t *testing.T) {
	irProg := buildProgram(t, `
		int add(int a, int b) {
			return a + b;
		}
		int main() {
			return add(1, 2);
		}
	`)
	text := Print(irProg)
	if !strings.Contains(text, ".function") {
		t.Errorf("expected a .function directive in output:\n%s", text)
	}
	if !strings.Contains(text, ".end") {
		t.Errorf("expected an .end directive in output:\n%s", text)
	}
	if !strings.Contains(text, "add(") {
		t.Errorf("expected the function name \"add\" to appear in output:\n%s", text)
	}
}

func TestPrintImportedFunctionHasEmptyBody(t *testing.T) {
	irProg := buildProgram(t, `
		int puts(char *s);
		int main() {
			puts("hi");
			return 0;
		}
	`)
	text := Print(irProg)
	idx := strings.Index(text, ".function")
	putsIdx := strings.Index(text, "puts(")
	if putsIdx < 0 {
		t.Fatalf("expected \"puts\" header in output:\n%s", text)
	}
	_ = idx
	// the puts header must be followed immediately by .end with no body lines
	after := text[putsIdx:]
	lines := strings.Split(after, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[1]) != ".end" {
		t.Errorf("expected puts's header to be followed directly by .end, got:\n%s", after)
	}
}

func TestParseRoundTripsFunctionSignatures(t *testing.T) {
	irProg := buildProgram(t, `
		int add(int a, int b) {
			return a + b;
		}
		int main() {
			return add(1, 2);
		}
	`)
	text := Print(irProg)

	reparsed, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse: %v\ntext:\n%s", err, text)
	}

	if _, ok := reparsed.Metadata.FunNames["add"]; !ok {
		t.Errorf("expected \"add\" to round-trip as a declared function")
	}
	if _, ok := reparsed.Metadata.FunNames["main"]; !ok {
		t.Errorf("expected \"main\" to round-trip as a declared function")
	}

	mainID := reparsed.Metadata.FunNames["main"]
	fn := reparsed.Instructions.Functions[mainID]
	if !fn.BodyIsDefined {
		t.Fatalf("expected main's body to round-trip as defined")
	}

	var sawCall, sawRet bool
	for _, instr := range fn.Instrs {
		switch instr.Op {
		case ir.OpCall:
			sawCall = true
		case ir.OpRet:
			sawRet = true
		}
	}
	if !sawCall {
		t.Errorf("expected a call instruction to round-trip")
	}
	if !sawRet {
		t.Errorf("expected a ret instruction to round-trip")
	}
}

func TestParseRoundTripsArithmeticAndControlFlow(t *testing.T) {
	irProg := buildProgram(t, `
		int main() {
			int i;
			int total;
			i = 0;
			total = 0;
			while (i < 10) {
				total = total + i;
				i = i + 1;
			}
			return total;
		}
	`)
	text := Print(irProg)
	reparsed, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse: %v\ntext:\n%s", err, text)
	}

	mainID := reparsed.Metadata.FunNames["main"]
	fn := reparsed.Instructions.Functions[mainID]

	var labelCount, brCount int
	for _, instr := range fn.Instrs {
		switch instr.Op {
		case ir.OpLabel:
			labelCount++
		case ir.OpBr, ir.OpBrIfEq, ir.OpBrIfNotEq:
			brCount++
		}
	}
	if labelCount == 0 || brCount == 0 {
		t.Errorf("expected labels and branches to round-trip, got labels=%d branches=%d", labelCount, brCount)
	}
}

func TestParseAssignsFreshIdsNotReusedVerbatim(t *testing.T) {
	text := `
.function f0 main() -> i32
  declare v0: i32
  v0 = 42
  ret v0
.end
`
	prog, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	mainID, ok := prog.Metadata.FunNames["main"]
	if !ok {
		t.Fatalf("expected \"main\" to be declared")
	}
	// a freshly generated var allocated after parsing must not collide with
	// any id the text introduced.
	fresh := prog.Metadata.NewVar(ir.RValue)
	fn := prog.Instructions.Functions[mainID]
	for _, instr := range fn.Instrs {
		if instr.Dest == fresh && instr.Op != ir.OpDeclareVariable {
			t.Fatalf("freshly allocated var %v collided with a parsed instruction", fresh)
		}
	}
}

func TestParseRejectsMalformedInput(t *testing.T) {
	_, err := Parse(".function f0 broken(\n")
	if err == nil {
		t.Fatalf("expected an error for malformed input")
	}
}
