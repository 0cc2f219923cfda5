package wasmgen

import (
	"sort"
	"testing"

	"github.com/minz/c2wasm/pkg/astconv"
	"github.com/minz/c2wasm/pkg/astmini"
	"github.com/minz/c2wasm/pkg/frame"
	"github.com/minz/c2wasm/pkg/ir"
	"github.com/minz/c2wasm/pkg/relooper"
)

// assembleFromSource runs the same parse-convert-reloop-plan-assemble
// pipeline cmd/c2wasm wires together, returning the finished module bytes.
func assembleFromSource(t *testing.T, src string) []byte {
	t.Helper()

	astProg, err := astmini.Parse(src)
	if err != nil {
		t.Fatalf("astmini.Parse: %v", err)
	}
	irProg, err := astconv.Convert(astProg)
	if err != nil {
		t.Fatalf("astconv.Convert: %v", err)
	}
	mainFunID, ok := irProg.Metadata.FunNames["main"]
	if !ok {
		t.Fatalf("source has no main function")
	}

	reloop, err := relooper.Reloop(irProg)
	if err != nil {
		t.Fatalf("relooper.Reloop: %v", err)
	}

	globalPlan, err := frame.PlanGlobals(reloop.GlobalInstrs, frame.GlobalsStartAddr, irProg.Metadata)
	if err != nil {
		t.Fatalf("frame.PlanGlobals: %v", err)
	}

	ids := make([]ir.FunId, 0, len(reloop.Functions))
	for id := range reloop.Functions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	funcs := make([]FuncBody, 0, len(ids))
	for _, id := range ids {
		rf := reloop.Functions[id]
		fb := FuncBody{
			FunId:         id,
			Name:          irProg.Metadata.FunIds[id],
			BodyIsDefined: rf.BodyIsDefined,
		}
		if rf.BodyIsDefined {
			plan, err := frame.PlanFunctionFrame(rf.Block, rf.TypeInfo, rf.ParamVarMappings, irProg.Metadata)
			if err != nil {
				t.Fatalf("frame.PlanFunctionFrame(%s): %v", fb.Name, err)
			}
			fb.Block = rf.Block
			fb.FramePlan = plan
			fb.LabelVar = rf.LabelVariable
		}
		funcs = append(funcs, fb)
	}

	out, err := AssembleModule(irProg.Metadata, funcs, reloop.GlobalInstrs, reloop.GlobalLabelVar, globalPlan, mainFunID, "")
	if err != nil {
		t.Fatalf("AssembleModule: %v", err)
	}
	return out
}

func TestAssembleModuleStartsWithMagicAndVersion(t *testing.T) {
	out := assembleFromSource(t, `int main() { return 42; }`)
	wantHeader := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	if !bytesEqual(out[:8], wantHeader) {
		t.Fatalf("module header = %v, want %v", out[:8], wantHeader)
	}
}

func TestAssembleModuleWithImportedFunction(t *testing.T) {
	out := assembleFromSource(t, `
		int puts(char *s);
		int main() {
			puts("hi");
			return 0;
		}
	`)
	if len(out) < 8 {
		t.Fatalf("expected a non-trivial module, got %d bytes", len(out))
	}
	// the import section (id 2) must appear somewhere after the header.
	found := false
	for _, b := range out[8:] {
		if b == secImport {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("expected an import section byte (%d) to appear in the output", secImport)
	}
}

func TestAssembleModuleWithGlobalsAndLoop(t *testing.T) {
	out := assembleFromSource(t, `
		int total = 0;
		int main() {
			int i;
			i = 0;
			while (i < 5) {
				total = total + i;
				i = i + 1;
			}
			return total;
		}
	`)
	if len(out) < 8 {
		t.Fatalf("expected a non-trivial module, got %d bytes", len(out))
	}
}

func TestPartitionFuncsSortsByIdAndSplitsByBody(t *testing.T) {
	funcs := []FuncBody{
		{FunId: ir.FunId(2), BodyIsDefined: true},
		{FunId: ir.FunId(0), BodyIsDefined: false},
		{FunId: ir.FunId(1), BodyIsDefined: true},
	}
	imported, defined := partitionFuncs(funcs)
	if len(imported) != 1 || imported[0].FunId != ir.FunId(0) {
		t.Fatalf("imported = %+v, want a single entry with FunId 0", imported)
	}
	if len(defined) != 2 || defined[0].FunId != ir.FunId(1) || defined[1].FunId != ir.FunId(2) {
		t.Fatalf("defined = %+v, want FunId 1 then 2", defined)
	}
}

func TestBuildTypeSectionInternsExactlyTwoSignatures(t *testing.T) {
	ordinary, entry, section := buildTypeSection()
	if ordinary == entry {
		t.Fatalf("the ordinary and entry-wrapper type indices must differ")
	}
	if len(section) == 0 {
		t.Fatalf("expected a non-empty type section")
	}
	if section[0] != 2 {
		t.Errorf("type section declares %d signatures, want 2", section[0])
	}
}
