// Package ir defines the typed three-address intermediate representation
// that sits between the (out-of-scope) C front end and the relooper /
// Wasm code generator.
package ir

// FunId, VarId, LabelId, InstructionId, StringLiteralId and StructId/UnionId
// are the IR's six disjoint, monotonically increasing ID spaces (struct and
// union IDs together forming the aggregate space, each with its own
// counter); LoopBlockId and MultipleBlockId are two more, allocated by the
// relooper. Each is a distinct Go type so the compiler catches accidental
// cross-space misuse.
type (
	FunId           uint64
	VarId           uint64
	LabelId         uint64
	InstructionId   uint64
	StringLiteralId uint64
	StructId        uint64
	UnionId         uint64
	LoopBlockId     uint64
	MultipleBlockId uint64
)

// idGen is a generic monotonic counter shared by every ID space. Each space
// starts at 0 and hands out the next integer on every call to next.
type idGen[T ~uint64] struct {
	n T
}

func (g *idGen[T]) next() T {
	id := g.n
	g.n++
	return id
}

// IdGenerators bundles one counter per ID type declared above -- nine in
// all, since StructId and UnionId count separately and the relooper's
// LoopBlockId and MultipleBlockId live here too.
type IdGenerators struct {
	funIDs     idGen[FunId]
	varIDs     idGen[VarId]
	labelIDs   idGen[LabelId]
	instrIDs   idGen[InstructionId]
	stringIDs  idGen[StringLiteralId]
	structIDs  idGen[StructId]
	unionIDs   idGen[UnionId]
	loopIDs    idGen[LoopBlockId]
	multiIDs   idGen[MultipleBlockId]
}

func (g *IdGenerators) NewFunId() FunId                     { return g.funIDs.next() }
func (g *IdGenerators) NewVarId() VarId                     { return g.varIDs.next() }
func (g *IdGenerators) NewLabelId() LabelId                 { return g.labelIDs.next() }
func (g *IdGenerators) NewInstructionId() InstructionId     { return g.instrIDs.next() }
func (g *IdGenerators) NewStringLiteralId() StringLiteralId { return g.stringIDs.next() }
func (g *IdGenerators) NewStructId() StructId               { return g.structIDs.next() }
func (g *IdGenerators) NewUnionId() UnionId                 { return g.unionIDs.next() }
func (g *IdGenerators) NewLoopBlockId() LoopBlockId         { return g.loopIDs.next() }
func (g *IdGenerators) NewMultipleBlockId() MultipleBlockId { return g.multiIDs.next() }

// ValueType records how an expression referencing a VarId should be
// treated. Set once at creation time; never mutated afterwards.
type ValueType uint8

const (
	LValue ValueType = iota
	RValue
	NoValue
)

func (v ValueType) String() string {
	switch v {
	case LValue:
		return "lvalue"
	case RValue:
		return "rvalue"
	default:
		return "none"
	}
}
