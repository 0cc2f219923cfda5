package ir

import "testing"

func TestOperandStringForEachKind(t *testing.T) {
	cases := []struct {
		op   Operand
		want string
	}{
		{VarOperand(VarId(3)), "v3"},
		{StoreAddrOperand(VarId(3)), "&v3"},
		{FunOperand(FunId(2)), "f2"},
		{ConstOperand(IntConst(42)), "42"},
		{ConstOperand(FloatConst(1.5)), "1.5"},
	}
	for _, c := range cases {
		if got := c.op.String(); got != c.want {
			t.Errorf("String() = %q, want %q", got, c.want)
		}
	}
}

func TestOpcodePredicates(t *testing.T) {
	if !OpBr.IsBranch() || !OpBrIfEq.IsBranch() || !OpBrIfNotEq.IsBranch() {
		t.Errorf("Br/BrIfEq/BrIfNotEq must all report IsBranch")
	}
	if OpRet.IsBranch() {
		t.Errorf("Ret must not report IsBranch")
	}
	if !OpBrIfEq.IsConditionalBranch() || OpBr.IsConditionalBranch() {
		t.Errorf("only BrIfEq/BrIfNotEq are conditional branches")
	}
	if !OpAdd.IsBinaryArith() || !OpLogicalOr.IsBinaryArith() {
		t.Errorf("Add/LogicalOr must report IsBinaryArith")
	}
	if OpLessThan.IsBinaryArith() {
		t.Errorf("comparison opcodes are not binary-arith opcodes")
	}
	if !OpLessThan.IsComparison() || !OpNotEqual.IsComparison() {
		t.Errorf("LessThan/NotEqual must report IsComparison")
	}
}

func TestIsDestProducingExcludesControlAndStoreOnly(t *testing.T) {
	mustProduce := []Opcode{OpSimpleAssignment, OpLoadFromAddress, OpAddressOf, OpAdd, OpCall, OpConvert}
	for _, op := range mustProduce {
		if !op.IsDestProducing() {
			t.Errorf("%d expected to be dest-producing", op)
		}
	}
	mustNot := []Opcode{OpStoreToAddress, OpRet, OpLabel, OpBr, OpBrIfEq, OpBreak, OpContinue, OpEndHandledBlock, OpIfEqElse, OpNop}
	for _, op := range mustNot {
		if op.IsDestProducing() {
			t.Errorf("%d expected not to be dest-producing", op)
		}
	}
}

func TestPossibleBranchTargets(t *testing.T) {
	br := Instruction{Op: OpBr, Label: LabelId(7)}
	if targets := br.possibleBranchTargets(); len(targets) != 1 || targets[0] != LabelId(7) {
		t.Errorf("possibleBranchTargets(Br) = %v, want [7]", targets)
	}
	ret := Instruction{Op: OpRet}
	if targets := ret.possibleBranchTargets(); targets != nil {
		t.Errorf("possibleBranchTargets(Ret) = %v, want nil", targets)
	}
}
