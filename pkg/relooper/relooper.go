package relooper

import (
	"golang.org/x/exp/slices"

	"github.com/minz/c2wasm/pkg/cerr"
	"github.com/minz/c2wasm/pkg/ir"
	"github.com/minz/c2wasm/pkg/soup"
)

// ReloopedFunction is one function after relooping: Block is nil for an
// imported (host) function, which has no body to reconstruct.
type ReloopedFunction struct {
	Block            *Block
	LabelVariable    ir.VarId
	HasLabelVariable bool
	TypeInfo         ir.IrType
	ParamVarMappings []ir.VarId
	BodyIsDefined    bool
}

// ReloopedProgram is the relooper's full output: every function's
// structured block tree plus the (possibly absent) global-initializer
// block, ready for the frame planner and code generator.
type ReloopedProgram struct {
	Functions      map[ir.FunId]*ReloopedFunction
	GlobalInstrs   *Block
	GlobalLabelVar ir.VarId
}

// relooperContext bundles the per-run state every recursive helper needs:
// the program metadata (for fresh instruction/loop/multiple-block IDs) and
// the distinguished label variable a function's dispatch reads and writes.
type relooperContext struct {
	meta     *ir.ProgramMetadata
	labelVar ir.VarId
}

// Reloop rebuilds structured control flow for every function body and the
// global initializer sequence in prog, by soupifying each and handing the
// soup to the relooper's block-construction algorithm.
func Reloop(prog *ir.Program) (*ReloopedProgram, error) {
	out := &ReloopedProgram{Functions: make(map[ir.FunId]*ReloopedFunction)}

	funIDs := make([]ir.FunId, 0, len(prog.Instructions.Functions))
	for id := range prog.Instructions.Functions {
		funIDs = append(funIDs, id)
	}
	slices.Sort(funIDs)

	for _, funID := range funIDs {
		fn := prog.Instructions.Functions[funID]
		if !fn.BodyIsDefined || len(fn.Instrs) == 0 {
			out.Functions[funID] = &ReloopedFunction{
				TypeInfo:         fn.TypeInfo,
				ParamVarMappings: fn.ParamVarMappings,
				BodyIsDefined:    fn.BodyIsDefined,
			}
			continue
		}

		labelVar := initLabelVariable(prog.Metadata)
		labels, entry, err := soup.Soupify(fn.Instrs, prog.Metadata)
		if err != nil {
			return nil, err
		}

		ctx := &relooperContext{meta: prog.Metadata, labelVar: labelVar}
		block := createBlockFromLabels(labels, []ir.LabelId{entry}, ctx)
		if block == nil {
			return nil, cerr.Unreachable("relooper", "no block created for function %q, even though it had instructions", fn.Name)
		}
		assertNoBranchInstrsLeft(block)

		out.Functions[funID] = &ReloopedFunction{
			Block:            block,
			LabelVariable:    labelVar,
			HasLabelVariable: true,
			TypeInfo:         fn.TypeInfo,
			ParamVarMappings: fn.ParamVarMappings,
			BodyIsDefined:    fn.BodyIsDefined,
		}
	}

	if len(prog.Instructions.GlobalInstrs) > 0 {
		labelVar := initLabelVariable(prog.Metadata)
		labels, entry, err := soup.Soupify(prog.Instructions.GlobalInstrs, prog.Metadata)
		if err != nil {
			return nil, err
		}
		ctx := &relooperContext{meta: prog.Metadata, labelVar: labelVar}
		block := createBlockFromLabels(labels, []ir.LabelId{entry}, ctx)
		if block == nil {
			return nil, cerr.Unreachable("relooper", "no block created for global instructions, even though non-empty")
		}
		assertNoBranchInstrsLeft(block)
		out.GlobalInstrs = block
		out.GlobalLabelVar = labelVar
	}

	return out, nil
}

func initLabelVariable(meta *ir.ProgramMetadata) ir.VarId {
	v := meta.NewVar(ir.LValue)
	meta.AddVarType(v, ir.TypeU64)
	return v
}

// reachabilityMap is the transitive closure of possible-branch-target
// edges: reachabilityMap[l] is every label reachable from l by one or
// more branches, NOT including l itself unless a cycle routes back to it.
type reachabilityMap map[ir.LabelId][]ir.LabelId

func containsLabel(haystack []ir.LabelId, needle ir.LabelId) bool {
	for _, l := range haystack {
		if l == needle {
			return true
		}
	}
	return false
}

func sortedLabelKeys(labels soup.Labels) []ir.LabelId {
	keys := make([]ir.LabelId, 0, len(labels))
	for id := range labels {
		keys = append(keys, id)
	}
	slices.Sort(keys)
	return keys
}

func calculateReachability(labels soup.Labels) reachabilityMap {
	possibleTargets := make(map[ir.LabelId][]ir.LabelId, len(labels))
	for _, id := range sortedLabelKeys(labels) {
		possibleTargets[id] = labels[id].PossibleBranchTargets()
	}

	reachability := make(reachabilityMap, len(possibleTargets))
	for id, targets := range possibleTargets {
		reachability[id] = append([]ir.LabelId(nil), targets...)
	}

	for {
		madeChanges := false
		for _, source := range sortedLabelKeys(labels) {
			reachable := reachability[source]
			for i := 0; i < len(reachable); i++ {
				for _, dest := range possibleTargets[reachable[i]] {
					if !containsLabel(reachable, dest) {
						reachable = append(reachable, dest)
						madeChanges = true
					}
				}
			}
			reachability[source] = reachable
		}
		if !madeChanges {
			break
		}
	}
	return reachability
}

func combineReachabilityFromEntries(reachability reachabilityMap, entries []ir.LabelId) []ir.LabelId {
	seen := make(map[ir.LabelId]bool)
	var combined []ir.LabelId
	for _, entry := range entries {
		for _, l := range reachability[entry] {
			if !seen[l] {
				seen[l] = true
				combined = append(combined, l)
			}
		}
	}
	return combined
}

// createBlockFromLabels is the heart of the relooper: given a soup of
// labelled blocks and the set of labels control may first enter through,
// decide the output shape (Simple / Loop / Multiple) and recurse.
func createBlockFromLabels(labels soup.Labels, entries []ir.LabelId, ctx *relooperContext) *Block {
	if len(entries) == 0 {
		return nil
	}

	reachability := calculateReachability(labels)
	reachabilityFromEntries := combineReachabilityFromEntries(reachability, entries)

	// a single entry that can't loop back to itself becomes a Simple block
	// followed by whatever comes next.
	if len(entries) == 1 {
		single := entries[0]
		if !containsLabel(reachabilityFromEntries, single) {
			thisLabel := labels[single]
			nextEntries := thisLabel.PossibleBranchTargets()
			delete(labels, single)
			replaceBranchInstrs(thisLabel, ctx)
			nextBlock := createBlockFromLabels(labels, nextEntries, ctx)
			return &Block{Kind: BlockSimple, Internal: thisLabel, Next: nextBlock}
		}
	}

	canReturnToAllEntries := true
	for _, entry := range entries {
		if !containsLabel(reachabilityFromEntries, entry) {
			canReturnToAllEntries = false
			break
		}
	}
	if canReturnToAllEntries {
		return createLoopBlock(labels, entries, reachability, ctx)
	}

	if len(entries) > 1 {
		if block := tryCreateMultipleBlock(labels, entries, reachability, ctx); block != nil {
			return block
		}
	}

	return createLoopBlock(labels, entries, reachability, ctx)
}

// replaceBranchInstrs rewrites a label's trailing branch instruction(s)
// into assignments to the dispatch label variable. A label ends either in
// a single unconditional branch, or a conditional branch immediately
// followed by one, or a conditional branch followed by an unconditional
// branch that an enclosing loop/multiple-block pass already converted into
// an assignment plus break/continue/end-handled-block pair -- that pair
// becomes the else arm of the IfEqElse/IfNotEqElse. Any other trailing
// shape was already converted entirely and is left alone.
func replaceBranchInstrs(label *soup.Label, ctx *relooperContext) {
	n := len(label.Instrs)
	if n == 0 {
		return
	}

	var uncondTarget *ir.LabelId
	if last := label.Instrs[n-1]; last.Op == ir.OpBr {
		t := last.Label
		uncondTarget = &t
	}

	condIdx := -1
	if uncondTarget != nil {
		if n > 1 {
			condIdx = n - 2
		}
	} else if n > 2 {
		condIdx = n - 3
	}

	var condInstr *ir.Instruction
	if condIdx >= 0 {
		c := label.Instrs[condIdx]
		if c.Op == ir.OpBrIfEq || c.Op == ir.OpBrIfNotEq {
			condInstr = &c
		}
	}

	setLabel := func(target ir.LabelId) ir.Instruction {
		return ir.Instruction{
			ID:   ctx.meta.NewInstrId(),
			Op:   ir.OpSimpleAssignment,
			Dest: ctx.labelVar,
			Src1: ir.ConstOperand(ir.IntConst(int64(target))),
		}
	}

	switch {
	case condInstr == nil && uncondTarget == nil:
		// already fully converted by an enclosing loop/multiple pass.

	case condInstr == nil && uncondTarget != nil:
		label.Instrs = append(label.Instrs[:n-1], setLabel(*uncondTarget))

	case condInstr != nil && uncondTarget == nil:
		elseInstrs := []ir.Instruction{label.Instrs[n-2], label.Instrs[n-1]}
		thenInstrs := []ir.Instruction{setLabel(condInstr.Label)}
		newInstr := ifElseFor(condInstr, ctx, thenInstrs, elseInstrs)
		label.Instrs = append(label.Instrs[:n-3], newInstr)

	default:
		elseInstrs := []ir.Instruction{setLabel(*uncondTarget)}
		thenInstrs := []ir.Instruction{setLabel(condInstr.Label)}
		newInstr := ifElseFor(condInstr, ctx, thenInstrs, elseInstrs)
		label.Instrs = append(label.Instrs[:n-2], newInstr)
	}
}

func ifElseFor(cond *ir.Instruction, ctx *relooperContext, then, els []ir.Instruction) ir.Instruction {
	op := ir.OpIfEqElse
	if cond.Op == ir.OpBrIfNotEq {
		op = ir.OpIfNotEqElse
	}
	return ir.Instruction{
		ID:   ctx.meta.NewInstrId(),
		Op:   op,
		Src1: cond.Src1,
		Src2: cond.Src2,
		Then: then,
		Else: els,
	}
}

// createLoopBlock splits labels into the labels that can branch back to
// one of entries (the loop body) and those that can't (what comes after
// the loop), rewrites the body's exiting/looping branches into
// break/continue, and recurses on each half.
func createLoopBlock(labels soup.Labels, entries []ir.LabelId, reachability reachabilityMap, ctx *relooperContext) *Block {
	innerLabels := make(soup.Labels)
	nextLabels := make(soup.Labels)
	for _, id := range sortedLabelKeys(labels) {
		label := labels[id]
		canReturn := false
		for _, entry := range entries {
			if containsLabel(reachability[id], entry) {
				canReturn = true
				break
			}
		}
		if canReturn {
			innerLabels[id] = label
		} else {
			nextLabels[id] = label
		}
	}

	var nextEntries []ir.LabelId
	for _, id := range sortedLabelKeys(innerLabels) {
		for _, target := range innerLabels[id].PossibleBranchTargets() {
			if _, ok := nextLabels[target]; ok && !containsLabel(nextEntries, target) {
				nextEntries = append(nextEntries, target)
			}
		}
	}

	loopID := ctx.meta.IDs.NewLoopBlockId()

	replaceBranchInstrsInsideLoop(innerLabels, entries, nextEntries, loopID, ctx)

	innerBlock := createBlockFromLabels(innerLabels, entries, ctx)
	if innerBlock == nil {
		panic("relooper: loop body produced no block even though entries can return")
	}
	nextBlock := createBlockFromLabels(nextLabels, nextEntries, ctx)

	return &Block{Kind: BlockLoop, LoopID: loopID, Inner: innerBlock, Next: nextBlock}
}

// replaceBranchInstrsInsideLoop turns every branch out of the loop body
// into a label-variable assignment plus a Break, and every branch back to
// one of the loop's own entries into a label-variable assignment plus a
// Continue. Branches to neither set are left alone -- they target another
// label still inside the same loop body and will be handled when that
// label's own block is constructed.
func replaceBranchInstrsInsideLoop(innerLabels soup.Labels, loopEntries, nextEntries []ir.LabelId, loopID ir.LoopBlockId, ctx *relooperContext) {
	for _, id := range sortedLabelKeys(innerLabels) {
		label := innerLabels[id]
		out := make([]ir.Instruction, 0, len(label.Instrs))
		for _, instr := range label.Instrs {
			switch instr.Op {
			case ir.OpBr:
				if containsLabel(loopEntries, instr.Label) {
					out = append(out, setLabelAssign(ctx, instr.Label), continueInstr(ctx, loopID))
					continue
				}
				if containsLabel(nextEntries, instr.Label) {
					out = append(out, setLabelAssign(ctx, instr.Label), breakOutInstr(ctx, loopID))
					continue
				}
			case ir.OpBrIfEq, ir.OpBrIfNotEq:
				if containsLabel(loopEntries, instr.Label) {
					out = append(out, condJumpInstr(ctx, instr, setLabelAssign(ctx, instr.Label), continueInstr(ctx, loopID)))
					continue
				}
				if containsLabel(nextEntries, instr.Label) {
					out = append(out, condJumpInstr(ctx, instr, setLabelAssign(ctx, instr.Label), breakOutInstr(ctx, loopID)))
					continue
				}
			}
			out = append(out, instr)
		}
		label.Instrs = out
	}
}

func setLabelAssign(ctx *relooperContext, target ir.LabelId) ir.Instruction {
	return ir.Instruction{ID: ctx.meta.NewInstrId(), Op: ir.OpSimpleAssignment, Dest: ctx.labelVar, Src1: ir.ConstOperand(ir.IntConst(int64(target)))}
}

func continueInstr(ctx *relooperContext, loopID ir.LoopBlockId) ir.Instruction {
	return ir.Instruction{ID: ctx.meta.NewInstrId(), Op: ir.OpContinue, LoopID: loopID}
}

func breakOutInstr(ctx *relooperContext, loopID ir.LoopBlockId) ir.Instruction {
	return ir.Instruction{ID: ctx.meta.NewInstrId(), Op: ir.OpBreak, LoopID: loopID}
}

func condJumpInstr(ctx *relooperContext, cond ir.Instruction, then, thenTail ir.Instruction) ir.Instruction {
	op := ir.OpIfEqElse
	if cond.Op == ir.OpBrIfNotEq {
		op = ir.OpIfNotEqElse
	}
	return ir.Instruction{
		ID:   ctx.meta.NewInstrId(),
		Op:   op,
		Src1: cond.Src1,
		Src2: cond.Src2,
		Then: []ir.Instruction{then, thenTail},
	}
}

// tryCreateMultipleBlock looks for a set of entries each of which reaches
// some labels no other entry can reach: those uniquely-reached labels
// become that entry's own handled block, dispatched to directly rather
// than folded into a loop. Returns nil if no entry has any uniquely
// reachable labels, in which case the caller falls back to a loop block.
func tryCreateMultipleBlock(labels soup.Labels, entries []ir.LabelId, reachability reachabilityMap, ctx *relooperContext) *Block {
	uniquelyReachable := make(map[ir.LabelId][]ir.LabelId)
	for _, entry := range entries {
		reachableLabels := append([]ir.LabelId(nil), reachability[entry]...)
		if !containsLabel(reachableLabels, entry) {
			reachableLabels = append(reachableLabels, entry)
		}
		for _, label := range reachableLabels {
			unique := true
			for _, other := range entries {
				if other == entry {
					continue
				}
				if other == label || containsLabel(reachability[other], label) {
					unique = false
					break
				}
			}
			if unique {
				uniquelyReachable[entry] = append(uniquelyReachable[entry], label)
			}
		}
	}
	if len(uniquelyReachable) == 0 {
		return nil
	}

	handledLabelsByEntry := make(map[ir.LabelId]soup.Labels)
	nextLabels := make(soup.Labels)

	entryOwner := func(id ir.LabelId) (ir.LabelId, bool) {
		for _, entry := range entries {
			if uniqueLabels, ok := uniquelyReachable[entry]; ok && containsLabel(uniqueLabels, id) {
				return entry, true
			}
		}
		return 0, false
	}

	for _, id := range sortedLabelKeys(labels) {
		if owner, ok := entryOwner(id); ok {
			if handledLabelsByEntry[owner] == nil {
				handledLabelsByEntry[owner] = make(soup.Labels)
			}
			handledLabelsByEntry[owner][id] = labels[id]
		} else {
			nextLabels[id] = labels[id]
		}
	}

	var nextEntries []ir.LabelId
	for _, entry := range entries {
		if _, handled := handledLabelsByEntry[entry]; !handled {
			nextEntries = append(nextEntries, entry)
		}
	}

	multiID := ctx.meta.IDs.NewMultipleBlockId()

	var handledBlocks []*Block
	for _, entry := range entries {
		hl, ok := handledLabelsByEntry[entry]
		if !ok {
			continue
		}
		for _, id := range sortedLabelKeys(hl) {
			for _, target := range hl[id].PossibleBranchTargets() {
				if _, ok := nextLabels[target]; ok && !containsLabel(nextEntries, target) {
					nextEntries = append(nextEntries, target)
				}
			}
		}

		replaceBranchInstrsInsideHandledBlock(hl, nextEntries, multiID, ctx)

		handledBlock := createBlockFromLabels(hl, []ir.LabelId{entry}, ctx)
		if handledBlock == nil {
			panic("relooper: handled block produced no block for its own entry")
		}
		handledBlocks = append(handledBlocks, handledBlock)
	}

	nextBlock := createBlockFromLabels(nextLabels, nextEntries, ctx)

	preInstrs := []ir.Instruction{{ID: ctx.meta.NewInstrId(), Op: ir.OpReferenceVariable, Dest: ctx.labelVar}}

	return &Block{
		Kind:             BlockMultiple,
		MultiID:          multiID,
		PreHandledInstrs: preInstrs,
		HandledBlocks:    handledBlocks,
		Next:             nextBlock,
	}
}

// replaceBranchInstrsInsideHandledBlock turns every branch that leaves a
// handled block for the dispatch's shared next block into a label-variable
// assignment plus an EndHandledBlock instruction.
func replaceBranchInstrsInsideHandledBlock(handledLabels soup.Labels, nextEntries []ir.LabelId, multiID ir.MultipleBlockId, ctx *relooperContext) {
	for _, id := range sortedLabelKeys(handledLabels) {
		label := handledLabels[id]
		out := make([]ir.Instruction, 0, len(label.Instrs))
		for _, instr := range label.Instrs {
			switch instr.Op {
			case ir.OpBr:
				if containsLabel(nextEntries, instr.Label) {
					out = append(out, setLabelAssign(ctx, instr.Label), endHandledInstr(ctx, multiID))
					continue
				}
			case ir.OpBrIfEq, ir.OpBrIfNotEq:
				if containsLabel(nextEntries, instr.Label) {
					out = append(out, condJumpInstr(ctx, instr, setLabelAssign(ctx, instr.Label), endHandledInstr(ctx, multiID)))
					continue
				}
			}
			out = append(out, instr)
		}
		label.Instrs = out
	}
}

func endHandledInstr(ctx *relooperContext, multiID ir.MultipleBlockId) ir.Instruction {
	return ir.Instruction{ID: ctx.meta.NewInstrId(), Op: ir.OpEndHandledBlock, MultiID: multiID}
}
