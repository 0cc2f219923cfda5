// Package soup turns a flat, goto-laden instruction stream into a "soup of
// labelled blocks": every block starts with a Label and ends in an
// explicit branch, with fall-through and implicit successors removed.
// This is the relooper's input shape. Grounded on the original
// implementation's relooper/soupify.rs, translated into the teacher's flat
// Instruction-struct idiom.
package soup

import (
	"github.com/minz/c2wasm/pkg/cerr"
	"github.com/minz/c2wasm/pkg/ir"
)

// Label is one labelled block: a Label instruction's ID plus every
// instruction belonging to it, up to (and normally including) its
// terminating branch.
type Label struct {
	ID     ir.LabelId
	Instrs []ir.Instruction
}

// PossibleBranchTargets returns the distinct labels this block's trailing
// branch instructions could jump to, in first-seen order.
func (l *Label) PossibleBranchTargets() []ir.LabelId {
	var targets []ir.LabelId
	seen := make(map[ir.LabelId]bool)
	for _, instr := range l.Instrs {
		if !instr.Op.IsBranch() {
			continue
		}
		if !seen[instr.Label] {
			seen[instr.Label] = true
			targets = append(targets, instr.Label)
		}
	}
	return targets
}

// Labels maps every labelled block in a soupified function by its label ID.
type Labels map[ir.LabelId]*Label

// Soupify normalizes a single function body (or the global-instruction
// sequence) into a soup of labels plus the entry label through which
// control first enters. instrs must be non-empty.
func Soupify(instrs []ir.Instruction, meta *ir.ProgramMetadata) (Labels, ir.LabelId, error) {
	if len(instrs) == 0 {
		return nil, 0, cerr.New(cerr.KindUnreachable, "soupifier", "instruction list to soupify must be non-empty")
	}

	work := append([]ir.Instruction(nil), instrs...)
	work = removeLabelFallthrough(work, meta)
	work = addBlockGapLabelsAfterConditionals(work, meta)
	work = insertEntryLabelIfNecessary(work, meta)
	work = removeConsecutiveLabels(work)

	return instructionsToSoupOfLabels(work)
}

// insertEntryLabelIfNecessary prepends a fresh Label if the stream doesn't
// already start with one, so there is always a well-defined entry point.
func insertEntryLabelIfNecessary(instrs []ir.Instruction, meta *ir.ProgramMetadata) []ir.Instruction {
	if len(instrs) > 0 && instrs[0].Op == ir.OpLabel {
		return instrs
	}
	entry := ir.Instruction{ID: meta.NewInstrId(), Op: ir.OpLabel, Label: meta.NewLabelId()}
	return append([]ir.Instruction{entry}, instrs...)
}

// removeConsecutiveLabels collapses runs of adjacent Label instructions
// into the first label in the run, rewriting every Br*/BrIfEq/BrIfNotEq
// operand through the resulting remapping and dropping the collapsed
// labels. Must run before slicing, or empty labels would survive into the
// soup.
func removeConsecutiveLabels(instrs []ir.Instruction) []ir.Instruction {
	remap := make(map[ir.LabelId]ir.LabelId)
	var prevLabel *ir.LabelId

	for _, instr := range instrs {
		if instr.Op == ir.OpLabel {
			if prevLabel != nil {
				remap[instr.Label] = *prevLabel
				// prevLabel carries forward unchanged
			} else {
				l := instr.Label
				prevLabel = &l
			}
		} else {
			prevLabel = nil
		}
	}

	canonical := func(l ir.LabelId) ir.LabelId {
		if c, ok := remap[l]; ok {
			return c
		}
		return l
	}

	out := make([]ir.Instruction, 0, len(instrs))
	for _, instr := range instrs {
		switch instr.Op {
		case ir.OpLabel:
			if _, remapped := remap[instr.Label]; remapped {
				continue
			}
		case ir.OpBr, ir.OpBrIfEq, ir.OpBrIfNotEq:
			instr.Label = canonical(instr.Label)
		}
		out = append(out, instr)
	}
	return out
}

// removeLabelFallthrough scans linearly and inserts an explicit Br(label)
// before any Label that would otherwise be reached by fall-through from a
// non-branch instruction. A Label at the very start of the stream, or
// directly after another Label, gets no Br: nothing falls into the first,
// and adjacent labels are merged by removeConsecutiveLabels instead. This
// introduces redundant branches; the relooper's branch-replacement rule
// removes them again once it decides each block's shape.
func removeLabelFallthrough(instrs []ir.Instruction, meta *ir.ProgramMetadata) []ir.Instruction {
	out := make([]ir.Instruction, 0, len(instrs)+4)
	prevWasBranch := true // nothing falls through into the first instruction
	for _, instr := range instrs {
		if instr.Op == ir.OpLabel {
			if !prevWasBranch {
				out = append(out, ir.Instruction{ID: meta.NewInstrId(), Op: ir.OpBr, Label: instr.Label})
			}
			prevWasBranch = true // a label right after this one is merged, not branched to
		} else {
			prevWasBranch = instr.Op.IsBranch()
		}
		out = append(out, instr)
	}
	return out
}

// addBlockGapLabelsAfterConditionals inserts a fresh unconditional branch
// and its target label directly after every conditional branch, so a block
// never ends in a conditional branch alone -- it's always followed by
// exactly one unconditional successor.
func addBlockGapLabelsAfterConditionals(instrs []ir.Instruction, meta *ir.ProgramMetadata) []ir.Instruction {
	out := make([]ir.Instruction, 0, len(instrs)+8)
	for _, instr := range instrs {
		out = append(out, instr)
		if instr.Op.IsConditionalBranch() {
			gap := meta.NewLabelId()
			out = append(out, ir.Instruction{ID: meta.NewInstrId(), Op: ir.OpBr, Label: gap})
			out = append(out, ir.Instruction{ID: meta.NewInstrId(), Op: ir.OpLabel, Label: gap})
		}
	}
	return out
}

// instructionsToSoupOfLabels slices a fully-normalized instruction stream
// into the Labels map: every Label instruction starts a new record, and
// every following non-label instruction is appended to it.
func instructionsToSoupOfLabels(instrs []ir.Instruction) (Labels, ir.LabelId, error) {
	labels := make(Labels)
	var current *ir.LabelId
	var entry *ir.LabelId

	for _, instr := range instrs {
		if instr.Op == ir.OpLabel {
			if current == nil {
				e := instr.Label
				entry = &e
			}
			l := instr.Label
			current = &l
			labels[instr.Label] = &Label{ID: instr.Label}
			continue
		}
		if current != nil {
			lbl := labels[*current]
			lbl.Instrs = append(lbl.Instrs, instr)
		}
	}

	if entry == nil {
		return nil, 0, cerr.New(cerr.KindUnreachable, "soupifier", "no entry label produced")
	}
	return labels, *entry, nil
}
