package frame

import (
	"testing"

	"github.com/minz/c2wasm/pkg/astconv"
	"github.com/minz/c2wasm/pkg/astmini"
	"github.com/minz/c2wasm/pkg/ir"
	"github.com/minz/c2wasm/pkg/relooper"
)

func TestPlanFunctionFrameLaysOutParamsAndReturnSlot(t *testing.T) {
	astProg, err := astmini.Parse(`int add(int a, int b) { return a + b; } int main() { return add(1,2); }`)
	if err != nil {
		t.Fatalf("astmini.Parse: %v", err)
	}
	irProg, err := astconv.Convert(astProg)
	if err != nil {
		t.Fatalf("astconv.Convert: %v", err)
	}
	reloop, err := relooper.Reloop(irProg)
	if err != nil {
		t.Fatalf("relooper.Reloop: %v", err)
	}

	addID := irProg.Metadata.FunNames["add"]
	rf := reloop.Functions[addID]
	plan, err := PlanFunctionFrame(rf.Block, rf.TypeInfo, rf.ParamVarMappings, irProg.Metadata)
	if err != nil {
		t.Fatalf("PlanFunctionFrame: %v", err)
	}

	// the frame always starts with PtrSize bytes for the previous frame
	// pointer, then the return-value slot.
	if plan.ReturnValueOffset != PtrSize {
		t.Errorf("ReturnValueOffset = %d, want %d", plan.ReturnValueOffset, PtrSize)
	}

	if len(rf.ParamVarMappings) != 2 {
		t.Fatalf("expected 2 params, got %d", len(rf.ParamVarMappings))
	}
	aOff, ok := plan.VarOffsets[rf.ParamVarMappings[0]]
	if !ok {
		t.Fatalf("missing offset for first param")
	}
	bOff, ok := plan.VarOffsets[rf.ParamVarMappings[1]]
	if !ok {
		t.Fatalf("missing offset for second param")
	}
	if bOff <= aOff {
		t.Errorf("expected the second param's offset (%d) to follow the first's (%d)", bOff, aOff)
	}
	if aOff != plan.ReturnValueOffset+4 {
		t.Errorf("first param offset = %d, want %d (immediately after a 4-byte int return slot)", aOff, plan.ReturnValueOffset+4)
	}
}

func TestPlanFunctionFrameRejectsNonFunctionType(t *testing.T) {
	meta := ir.NewProgramMetadata()
	if _, err := PlanFunctionFrame(nil, ir.TypeI32, nil, meta); err == nil {
		t.Fatalf("expected an error when funType is not KFunction")
	}
}

func TestPlanGlobalsWithRealMetadata(t *testing.T) {
	astProg, err := astmini.Parse(`
		int a = 1;
		int b = 2;
		int main() { return a + b; }
	`)
	if err != nil {
		t.Fatalf("astmini.Parse: %v", err)
	}
	irProg, err := astconv.Convert(astProg)
	if err != nil {
		t.Fatalf("astconv.Convert: %v", err)
	}
	reloop, err := relooper.Reloop(irProg)
	if err != nil {
		t.Fatalf("relooper.Reloop: %v", err)
	}

	plan, err := PlanGlobals(reloop.GlobalInstrs, GlobalsStartAddr, irProg.Metadata)
	if err != nil {
		t.Fatalf("PlanGlobals: %v", err)
	}
	if plan.TotalSize == 0 {
		t.Errorf("expected TotalSize > 0 for two int globals")
	}
	seen := make(map[uint32]bool)
	for _, addr := range plan.VarAddrs {
		if addr < GlobalsStartAddr {
			t.Errorf("global address %d must be >= GlobalsStartAddr (%d)", addr, GlobalsStartAddr)
		}
		if seen[addr] {
			t.Errorf("duplicate global address %d", addr)
		}
		seen[addr] = true
	}
}

func TestPlanGlobalsNilBlockIsEmptyPlan(t *testing.T) {
	meta := ir.NewProgramMetadata()
	plan, err := PlanGlobals(nil, GlobalsStartAddr, meta)
	if err != nil {
		t.Fatalf("PlanGlobals: %v", err)
	}
	if len(plan.VarAddrs) != 0 || plan.TotalSize != 0 {
		t.Errorf("expected an empty plan for a nil block, got %+v", plan)
	}
}

func TestReservedAddressesAreDistinctAndOrdered(t *testing.T) {
	if !(FramePtrAddr < StackPtrAddr && StackPtrAddr < TempFramePtrAddr && TempFramePtrAddr < GlobalsStartAddr) {
		t.Fatalf("reserved shadow-stack addresses must be strictly increasing: %d %d %d %d",
			FramePtrAddr, StackPtrAddr, TempFramePtrAddr, GlobalsStartAddr)
	}
}
