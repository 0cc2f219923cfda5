// Package relooper rebuilds structured control flow (blocks, loops,
// multiple-entry dispatches) from the goto-soup produced by pkg/soup,
// implementing the relooper algorithm described in Ramsey & Zakai's paper
// on recovering structure from unstructured control flow. Grounded on the
// original implementation's relooper/{relooper.rs,blocks.rs}.
package relooper

import (
	"github.com/minz/c2wasm/pkg/ir"
	"github.com/minz/c2wasm/pkg/soup"
)

// BlockKind tags the variant of a Block.
type BlockKind uint8

const (
	BlockSimple BlockKind = iota
	BlockLoop
	BlockMultiple
)

// Block is one node of the relooper's output tree: a flat struct over the
// three variants (mirroring the Instruction tagged-sum style used
// throughout this compiler), with Kind selecting which fields apply.
type Block struct {
	Kind BlockKind

	// BlockSimple
	Internal *soup.Label

	// BlockLoop
	LoopID ir.LoopBlockId
	Inner  *Block

	// BlockMultiple: PreHandledInstrs are synthetic instructions (a
	// ReferenceVariable on the label variable) inserted purely so the
	// target code generator has somewhere to hang the dispatch read; they
	// never correspond to a real emitted instruction on their own.
	MultiID          ir.MultipleBlockId
	PreHandledInstrs []ir.Instruction
	HandledBlocks    []*Block

	// Every variant but the outermost tail carries a Next sibling,
	// executed after this block completes.
	Next *Block
}

// GetEntryLabels returns every label at which control can first enter b.
func (b *Block) GetEntryLabels() []ir.LabelId {
	if b == nil {
		return nil
	}
	switch b.Kind {
	case BlockSimple:
		return []ir.LabelId{b.Internal.ID}
	case BlockLoop:
		return b.Inner.GetEntryLabels()
	case BlockMultiple:
		var labels []ir.LabelId
		for _, h := range b.HandledBlocks {
			labels = append(labels, h.GetEntryLabels()...)
		}
		// the handled blocks might all be skipped at runtime, so next's
		// entries are reachable too.
		if b.Next != nil {
			labels = append(labels, b.Next.GetEntryLabels()...)
		}
		return labels
	default:
		return nil
	}
}

// assertNoBranchInstrsLeft walks b and panics if any Br/BrIfEq/BrIfNotEq
// instruction survived relooping -- every branch must have been rewritten
// into a label-variable assignment, break, continue or end-handled-block by
// this point. A panic here means a relooper invariant was violated, never a
// condition a caller should recover from.
func assertNoBranchInstrsLeft(b *Block) {
	if b == nil {
		return
	}
	switch b.Kind {
	case BlockSimple:
		for _, instr := range b.Internal.Instrs {
			if instr.Op.IsBranch() {
				panic("relooper: branch instruction left in output block")
			}
		}
		assertNoBranchInstrsLeft(b.Next)
	case BlockLoop:
		assertNoBranchInstrsLeft(b.Inner)
		assertNoBranchInstrsLeft(b.Next)
	case BlockMultiple:
		for _, h := range b.HandledBlocks {
			assertNoBranchInstrsLeft(h)
		}
		assertNoBranchInstrsLeft(b.Next)
	}
}
