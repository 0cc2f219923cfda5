package soup

import (
	"testing"

	"github.com/minz/c2wasm/pkg/ir"
)

func newMeta() *ir.ProgramMetadata { return ir.NewProgramMetadata() }

func TestSoupifyRejectsEmptyInput(t *testing.T) {
	if _, _, err := Soupify(nil, newMeta()); err == nil {
		t.Fatalf("expected an error for an empty instruction list")
	}
}

func TestSoupifyInsertsEntryLabelWhenMissing(t *testing.T) {
	meta := newMeta()
	instrs := []ir.Instruction{
		{ID: meta.NewInstrId(), Op: ir.OpRet},
	}
	labels, entry, err := Soupify(instrs, meta)
	if err != nil {
		t.Fatalf("Soupify: %v", err)
	}
	if _, ok := labels[entry]; !ok {
		t.Fatalf("expected the entry label to exist in the soup")
	}
	if len(labels) != 1 {
		t.Fatalf("expected exactly one label, got %d", len(labels))
	}
}

func TestSoupifyEveryBlockEndsInABranch(t *testing.T) {
	meta := newMeta()
	l1 := meta.NewLabelId()
	l2 := meta.NewLabelId()
	v := meta.NewVar(ir.RValue)

	// two labelled blocks with fall-through between them, and a
	// conditional branch with no explicit unconditional successor.
	instrs := []ir.Instruction{
		{ID: meta.NewInstrId(), Op: ir.OpLabel, Label: l1},
		{ID: meta.NewInstrId(), Op: ir.OpBrIfEq, Src1: ir.VarOperand(v), Src2: ir.ConstOperand(ir.IntConst(0)), Label: l2},
		{ID: meta.NewInstrId(), Op: ir.OpLabel, Label: l2},
		{ID: meta.NewInstrId(), Op: ir.OpRet},
	}

	labels, entry, err := Soupify(instrs, meta)
	if err != nil {
		t.Fatalf("Soupify: %v", err)
	}
	if entry != l1 {
		t.Errorf("entry = %v, want %v", entry, l1)
	}
	for id, lbl := range labels {
		if len(lbl.Instrs) == 0 {
			continue
		}
		last := lbl.Instrs[len(lbl.Instrs)-1]
		if !last.Op.IsBranch() && last.Op != ir.OpRet {
			t.Errorf("label %v does not end in a branch or a ret, ends in %v", id, last.Op)
		}
	}
}

func TestSoupifyCollapsesConsecutiveLabels(t *testing.T) {
	meta := newMeta()
	l1 := meta.NewLabelId()
	l2 := meta.NewLabelId()
	instrs := []ir.Instruction{
		{ID: meta.NewInstrId(), Op: ir.OpLabel, Label: l1},
		{ID: meta.NewInstrId(), Op: ir.OpLabel, Label: l2}, // immediately follows l1: collapses into it
		{ID: meta.NewInstrId(), Op: ir.OpBr, Label: l2},    // a branch referencing the collapsed label
		{ID: meta.NewInstrId(), Op: ir.OpRet},
	}
	labels, _, err := Soupify(instrs, meta)
	if err != nil {
		t.Fatalf("Soupify: %v", err)
	}
	if _, ok := labels[l2]; ok {
		t.Errorf("expected label %v to have been collapsed away", l2)
	}
	if _, ok := labels[l1]; !ok {
		t.Fatalf("expected the surviving label %v in the soup", l1)
	}
}

func TestPossibleBranchTargetsDeduplicatesInFirstSeenOrder(t *testing.T) {
	meta := newMeta()
	l1 := meta.NewLabelId()
	l2 := meta.NewLabelId()
	lbl := &Label{
		Instrs: []ir.Instruction{
			{Op: ir.OpBrIfEq, Label: l1},
			{Op: ir.OpBr, Label: l2},
			{Op: ir.OpBrIfNotEq, Label: l1},
		},
	}
	targets := lbl.PossibleBranchTargets()
	if len(targets) != 2 || targets[0] != l1 || targets[1] != l2 {
		t.Errorf("PossibleBranchTargets() = %v, want [%v %v]", targets, l1, l2)
	}
}
