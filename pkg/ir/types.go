package ir

import "fmt"

// Kind tags the variant of an IrType.
type Kind uint8

const (
	KI8 Kind = iota
	KU8
	KI16
	KU16
	KI32
	KU32
	KI64
	KU64
	KF32
	KF64
	KVoid
	KStruct
	KUnion
	KPointer
	KArray
	KFunction
)

// TypeSize is either known at compile time or computed by a runtime
// expression (`AllocateVariable`'s byte_size_src). Only ArrayOf may carry a
// Runtime size.
type TypeSize struct {
	IsRuntime bool
	Const     uint64 // valid when !IsRuntime
	SizeVar   VarId  // valid when IsRuntime: holds the computed byte count
}

func CompileTimeSize(n uint64) TypeSize { return TypeSize{Const: n} }
func RuntimeSize(v VarId) TypeSize      { return TypeSize{IsRuntime: true, SizeVar: v} }

// IrType is a tagged sum over the ten arithmetic ranks, Void, Struct,
// Union, PointerTo, ArrayOf and Function. Only the fields relevant to Kind
// are meaningful.
type IrType struct {
	Kind Kind

	// KPointer, KArray
	Elem *IrType

	// KArray
	ArrayLen TypeSize
	HasLen   bool

	// KStruct / KUnion
	AggID uint64 // StructId or UnionId, depending on Kind

	// KFunction
	Return   *IrType
	Params   []IrType
	Variadic bool
}

func Arith(k Kind) IrType { return IrType{Kind: k} }

var (
	TypeI8   = IrType{Kind: KI8}
	TypeU8   = IrType{Kind: KU8}
	TypeI16  = IrType{Kind: KI16}
	TypeU16  = IrType{Kind: KU16}
	TypeI32  = IrType{Kind: KI32}
	TypeU32  = IrType{Kind: KU32}
	TypeI64  = IrType{Kind: KI64}
	TypeU64  = IrType{Kind: KU64}
	TypeF32  = IrType{Kind: KF32}
	TypeF64  = IrType{Kind: KF64}
	TypeVoid = IrType{Kind: KVoid}
)

func PointerTo(elem IrType) IrType {
	e := elem
	return IrType{Kind: KPointer, Elem: &e}
}

func ArrayOf(elem IrType, length TypeSize, hasLen bool) IrType {
	e := elem
	return IrType{Kind: KArray, Elem: &e, ArrayLen: length, HasLen: hasLen}
}

func StructType(id StructId) IrType { return IrType{Kind: KStruct, AggID: uint64(id)} }
func UnionType(id UnionId) IrType   { return IrType{Kind: KUnion, AggID: uint64(id)} }

func FunctionType(ret IrType, params []IrType, variadic bool) IrType {
	r := ret
	return IrType{Kind: KFunction, Return: &r, Params: params, Variadic: variadic}
}

// IsInteger reports whether t is one of the eight integer ranks.
func (t IrType) IsInteger() bool {
	switch t.Kind {
	case KI8, KU8, KI16, KU16, KI32, KU32, KI64, KU64:
		return true
	}
	return false
}

// IsSigned reports whether t is a signed integer rank.
func (t IrType) IsSigned() bool {
	switch t.Kind {
	case KI8, KI16, KI32, KI64:
		return true
	}
	return false
}

func (t IrType) IsFloat() bool { return t.Kind == KF32 || t.Kind == KF64 }

func (t IrType) IsPointerOrArray() bool { return t.Kind == KPointer || t.Kind == KArray }

// Decay converts an array type to a pointer-to-element type, per the usual
// C array-to-pointer decay under unary conversion. Every other type is
// returned unchanged.
func (t IrType) Decay() IrType {
	if t.Kind == KArray {
		return PointerTo(*t.Elem)
	}
	return t
}

// ByteSize returns the size in bytes of t, consulting aggTab for struct and
// union member layouts.
func (t IrType) ByteSize(aggTab *AggregateTable) uint64 {
	switch t.Kind {
	case KI8, KU8:
		return 1
	case KI16, KU16:
		return 2
	case KI32, KU32, KF32:
		return 4
	case KI64, KU64, KF64:
		return 8
	case KVoid:
		return 0
	case KPointer:
		return 4
	case KArray:
		if t.HasLen && !t.ArrayLen.IsRuntime {
			return t.Elem.ByteSize(aggTab) * t.ArrayLen.Const
		}
		// runtime-sized or unbounded arrays have no static size; callers
		// that need one must consult the AllocateVariable byte-size source
		// instead.
		return 0
	case KStruct:
		s := aggTab.Struct(StructId(t.AggID))
		return s.TotalByteSize
	case KUnion:
		u := aggTab.Union(UnionId(t.AggID))
		return u.TotalByteSize
	default:
		return 0
	}
}

func (t IrType) String() string {
	switch t.Kind {
	case KI8:
		return "i8"
	case KU8:
		return "u8"
	case KI16:
		return "i16"
	case KU16:
		return "u16"
	case KI32:
		return "i32"
	case KU32:
		return "u32"
	case KI64:
		return "i64"
	case KU64:
		return "u64"
	case KF32:
		return "f32"
	case KF64:
		return "f64"
	case KVoid:
		return "void"
	case KStruct:
		return fmt.Sprintf("struct#%d", t.AggID)
	case KUnion:
		return fmt.Sprintf("union#%d", t.AggID)
	case KPointer:
		return "*" + t.Elem.String()
	case KArray:
		if t.HasLen && !t.ArrayLen.IsRuntime {
			return fmt.Sprintf("[%d]%s", t.ArrayLen.Const, t.Elem.String())
		}
		return "[]" + t.Elem.String()
	case KFunction:
		return "fn(...)->" + t.Return.String()
	default:
		return "?"
	}
}

// StructDef is one entry in the struct table. Member lists are ordered;
// MemberOffsets is a prefix sum consistent with MemberTypes, and
// TotalByteSize equals their sum.
type StructDef struct {
	ID            StructId
	Name          string
	MemberNames   []string
	MemberTypes   []IrType
	MemberOffsets []uint64
	TotalByteSize uint64
}

func (s *StructDef) MemberIndex(name string) (int, bool) {
	for i, n := range s.MemberNames {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// UnionDef mirrors StructDef except every member starts at offset 0 and
// TotalByteSize is the max member size, not the sum.
type UnionDef struct {
	ID            UnionId
	Name          string
	MemberNames   []string
	MemberTypes   []IrType
	TotalByteSize uint64
}

func (u *UnionDef) MemberIndex(name string) (int, bool) {
	for i, n := range u.MemberNames {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// AggregateTable interns struct and union definitions by structural
// equality: two anonymous definitions with identical member lists share
// one StructId/UnionId.
type AggregateTable struct {
	structs     []*StructDef
	unions      []*UnionDef
	structIndex map[string]StructId
	unionIndex  map[string]UnionId
}

func NewAggregateTable() *AggregateTable {
	return &AggregateTable{
		structIndex: make(map[string]StructId),
		unionIndex:  make(map[string]UnionId),
	}
}

func structKey(names []string, types []IrType) string {
	key := ""
	for i, n := range names {
		key += n + ":" + types[i].String() + ";"
	}
	return key
}

// DefineStruct interns a struct definition, computing member offsets as a
// prefix sum and the total size as their sum. Returns the existing ID if a
// structurally identical struct was already interned.
func (t *AggregateTable) DefineStruct(gen *IdGenerators, name string, memberNames []string, memberTypes []IrType) StructId {
	key := structKey(memberNames, memberTypes)
	if id, ok := t.structIndex[key]; ok {
		return id
	}
	id := gen.NewStructId()
	offsets := make([]uint64, len(memberTypes))
	var off uint64
	for i, mt := range memberTypes {
		offsets[i] = off
		off += mt.ByteSize(t)
	}
	def := &StructDef{
		ID:            id,
		Name:          name,
		MemberNames:   memberNames,
		MemberTypes:   memberTypes,
		MemberOffsets: offsets,
		TotalByteSize: off,
	}
	t.growStructs(id)
	t.structs[id] = def
	t.structIndex[key] = id
	return id
}

func (t *AggregateTable) DefineUnion(gen *IdGenerators, name string, memberNames []string, memberTypes []IrType) UnionId {
	key := structKey(memberNames, memberTypes)
	if id, ok := t.unionIndex[key]; ok {
		return id
	}
	id := gen.NewUnionId()
	var maxSize uint64
	for _, mt := range memberTypes {
		if s := mt.ByteSize(t); s > maxSize {
			maxSize = s
		}
	}
	def := &UnionDef{
		ID:            id,
		Name:          name,
		MemberNames:   memberNames,
		MemberTypes:   memberTypes,
		TotalByteSize: maxSize,
	}
	t.growUnions(id)
	t.unions[id] = def
	t.unionIndex[key] = id
	return id
}

func (t *AggregateTable) growStructs(id StructId) {
	for StructId(len(t.structs)) <= id {
		t.structs = append(t.structs, nil)
	}
}

func (t *AggregateTable) growUnions(id UnionId) {
	for UnionId(len(t.unions)) <= id {
		t.unions = append(t.unions, nil)
	}
}

func (t *AggregateTable) Struct(id StructId) *StructDef { return t.structs[id] }
func (t *AggregateTable) Union(id UnionId) *UnionDef     { return t.unions[id] }
