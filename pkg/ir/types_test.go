package ir

import "testing"

func TestIdGeneratorsAreMonotonicAndDisjoint(t *testing.T) {
	gen := &IdGenerators{}
	v0 := gen.NewVarId()
	v1 := gen.NewVarId()
	if v1 != v0+1 {
		t.Errorf("expected consecutive VarIds, got %d then %d", v0, v1)
	}
	f0 := gen.NewFunId()
	if f0 != 0 {
		t.Errorf("expected a fresh IdGenerators' FunId space to start at 0, got %d", f0)
	}
}

func TestDecayConvertsArrayToPointer(t *testing.T) {
	arr := ArrayOf(TypeI32, CompileTimeSize(4), true)
	decayed := arr.Decay()
	if decayed.Kind != KPointer || decayed.Elem.Kind != KI32 {
		t.Fatalf("Decay() = %+v, want pointer-to-i32", decayed)
	}
	// decaying a non-array type is a no-op
	if TypeF64.Decay().Kind != KF64 {
		t.Errorf("Decay() on a non-array type must be a no-op")
	}
}

func TestByteSizeArithmeticRanks(t *testing.T) {
	cases := []struct {
		t    IrType
		want uint64
	}{
		{TypeI8, 1}, {TypeU8, 1},
		{TypeI16, 2}, {TypeU16, 2},
		{TypeI32, 4}, {TypeU32, 4}, {TypeF32, 4},
		{TypeI64, 8}, {TypeU64, 8}, {TypeF64, 8},
		{TypeVoid, 0},
		{PointerTo(TypeI64), 4},
	}
	for _, c := range cases {
		if got := c.t.ByteSize(nil); got != c.want {
			t.Errorf("ByteSize(%s) = %d, want %d", c.t.String(), got, c.want)
		}
	}
}

func TestByteSizeOfCompileTimeArray(t *testing.T) {
	arr := ArrayOf(TypeI32, CompileTimeSize(10), true)
	if got := arr.ByteSize(nil); got != 40 {
		t.Errorf("ByteSize(int[10]) = %d, want 40", got)
	}
}

func TestByteSizeOfRuntimeSizedArrayIsZero(t *testing.T) {
	arr := ArrayOf(TypeI8, RuntimeSize(VarId(3)), true)
	if got := arr.ByteSize(nil); got != 0 {
		t.Errorf("ByteSize of a runtime-sized array = %d, want 0 (caller consults AllocateVariable instead)", got)
	}
}

func TestIsIntegerIsSignedIsFloat(t *testing.T) {
	if !TypeI32.IsInteger() || !TypeI32.IsSigned() {
		t.Errorf("i32 must be integer and signed")
	}
	if !TypeU32.IsInteger() || TypeU32.IsSigned() {
		t.Errorf("u32 must be integer and unsigned")
	}
	if !TypeF64.IsFloat() || TypeF64.IsInteger() {
		t.Errorf("f64 must be float, not integer")
	}
	if TypeVoid.IsInteger() || TypeVoid.IsFloat() {
		t.Errorf("void must be neither integer nor float")
	}
}

func TestIsPointerOrArray(t *testing.T) {
	if !PointerTo(TypeI32).IsPointerOrArray() {
		t.Errorf("pointer type must report IsPointerOrArray")
	}
	if !ArrayOf(TypeI32, CompileTimeSize(2), true).IsPointerOrArray() {
		t.Errorf("array type must report IsPointerOrArray")
	}
	if TypeI32.IsPointerOrArray() {
		t.Errorf("scalar type must not report IsPointerOrArray")
	}
}

func TestStringRendersNestedTypes(t *testing.T) {
	ptrToArr := PointerTo(ArrayOf(TypeI32, CompileTimeSize(3), true))
	if got, want := ptrToArr.String(), "*[3]i32"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	unbounded := ArrayOf(TypeU8, TypeSize{}, false)
	if got, want := unbounded.String(), "[]u8"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestDefineStructInternsByStructure(t *testing.T) {
	gen := &IdGenerators{}
	tab := NewAggregateTable()

	id1 := tab.DefineStruct(gen, "point", []string{"x", "y"}, []IrType{TypeI32, TypeI32})
	id2 := tab.DefineStruct(gen, "point2", []string{"x", "y"}, []IrType{TypeI32, TypeI32})
	if id1 != id2 {
		t.Errorf("two structurally identical struct definitions should intern to the same id, got %d and %d", id1, id2)
	}

	id3 := tab.DefineStruct(gen, "point3d", []string{"x", "y", "z"}, []IrType{TypeI32, TypeI32, TypeI32})
	if id3 == id1 {
		t.Errorf("a structurally different struct must get a distinct id")
	}

	def := tab.Struct(id1)
	if def.TotalByteSize != 8 {
		t.Errorf("TotalByteSize = %d, want 8", def.TotalByteSize)
	}
	if def.MemberOffsets[0] != 0 || def.MemberOffsets[1] != 4 {
		t.Errorf("MemberOffsets = %v, want [0 4]", def.MemberOffsets)
	}

	idx, ok := def.MemberIndex("y")
	if !ok || idx != 1 {
		t.Errorf("MemberIndex(y) = (%d, %v), want (1, true)", idx, ok)
	}
}

func TestDefineUnionSharesOffsetZeroAndMaxSize(t *testing.T) {
	gen := &IdGenerators{}
	tab := NewAggregateTable()
	id := tab.DefineUnion(gen, "val", []string{"i", "f"}, []IrType{TypeI32, TypeF64})
	def := tab.Union(id)
	if def.TotalByteSize != 8 {
		t.Errorf("TotalByteSize = %d, want 8 (max member size)", def.TotalByteSize)
	}
}

func TestValueTypeString(t *testing.T) {
	if LValue.String() != "lvalue" || RValue.String() != "rvalue" || NoValue.String() != "none" {
		t.Errorf("unexpected ValueType.String() results")
	}
}
