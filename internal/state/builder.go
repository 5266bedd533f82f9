package state

import (
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"gstate/internal/cfg"
	"gstate/internal/dominator"
	"gstate/internal/lowering"
	"gstate/internal/strategy"
)

// Builder computes block entry and exit states on demand. Merge points get
// the immediate dominator's exit state followed by a choice between the
// incoming candidates, each sliced against that dominator state.
//
// Natural loop back-edges are not followed: a loop header sees the state of
// its first iteration only.
type Builder struct {
	lowered *lowering.Result
	tree    *dominator.Tree

	entries map[*cfg.BasicBlock]*SymbolicState
	exits   map[*cfg.BasicBlock]*SymbolicState
	at      map[cfg.Instruction]*SymbolicState
}

func NewBuilder(lowered *lowering.Result, tree *dominator.Tree) *Builder {
	return &Builder{
		lowered: lowered,
		tree:    tree,
		entries: make(map[*cfg.BasicBlock]*SymbolicState),
		exits:   make(map[*cfg.BasicBlock]*SymbolicState),
		at:      make(map[cfg.Instruction]*SymbolicState),
	}
}

// StateAt returns the state reaching inst, before inst itself executes.
func (b *Builder) StateAt(inst cfg.Instruction) (*SymbolicState, error) {
	if s, ok := b.at[inst]; ok {
		return s, nil
	}
	block := inst.Block()
	if err := b.check(block, inst); err != nil {
		return nil, err
	}
	s, err := b.EntryState(block)
	if err != nil {
		return nil, err
	}
	for _, i := range block.Instructions {
		if i == inst {
			b.at[inst] = s
			return s, nil
		}
		s = b.fold(s, i)
	}
	return nil, &ConsistencyError{Block: block, Instruction: inst, Reason: "instruction is not part of its block"}
}

// EntryState returns the state on entry to block.
func (b *Builder) EntryState(block *cfg.BasicBlock) (*SymbolicState, error) {
	if err := b.check(block, nil); err != nil {
		return nil, err
	}
	if err := b.ensure(block); err != nil {
		return nil, err
	}
	return b.entries[block], nil
}

// ExitState returns the state after the last instruction of block.
func (b *Builder) ExitState(block *cfg.BasicBlock) (*SymbolicState, error) {
	if err := b.check(block, nil); err != nil {
		return nil, err
	}
	if err := b.ensure(block); err != nil {
		return nil, err
	}
	return b.exits[block], nil
}

func (b *Builder) check(block *cfg.BasicBlock, inst cfg.Instruction) error {
	if block == nil {
		return &ConsistencyError{Instruction: inst, Reason: "instruction without block"}
	}
	if block.Handler {
		return &UnsupportedError{Block: block, Instruction: inst, Reason: "exception handler entry state depends on implicit edges"}
	}
	if !b.tree.Reachable(block) {
		return &UnsupportedError{Block: block, Instruction: inst, Reason: "block is unreachable"}
	}
	return nil
}

// active returns the blocks whose states must be computed for target, in
// topological order.
func (b *Builder) active(target *cfg.BasicBlock) ([]*cfg.BasicBlock, error) {
	set := make(map[*cfg.BasicBlock]bool)
	work := strategy.NewDFS[*cfg.BasicBlock]()
	_ = work.Push(target)
	for work.HasNext() {
		block, _ := work.Pop()
		if set[block] {
			continue
		}
		if _, ok := b.exits[block]; ok {
			continue
		}
		if block.Handler {
			return nil, &UnsupportedError{Block: block, Reason: "state flows through an exception handler"}
		}
		set[block] = true
		for _, p := range b.preds(block) {
			if !set[p] {
				_ = work.Push(p)
			}
		}
	}

	indegree := make(map[*cfg.BasicBlock]int, len(set))
	succs := make(map[*cfg.BasicBlock][]*cfg.BasicBlock, len(set))
	for block := range set {
		for _, p := range b.preds(block) {
			if set[p] {
				indegree[block]++
				succs[p] = append(succs[p], block)
			}
		}
	}
	ready := strategy.NewBFS[*cfg.BasicBlock]()
	for _, block := range sorted(set) {
		if indegree[block] == 0 {
			_ = ready.Push(block)
		}
	}
	order := make([]*cfg.BasicBlock, 0, len(set))
	for ready.HasNext() {
		block, _ := ready.Pop()
		order = append(order, block)
		for _, s := range succs[block] {
			indegree[s]--
			if indegree[s] == 0 {
				_ = ready.Push(s)
			}
		}
	}
	if len(order) < len(set) {
		return nil, &CycleError{Blocks: cycle(indegree, succs)}
	}
	return order, nil
}

// cycle returns the blocks left over by the topological sort that lie on a
// cycle, dropping those merely downstream of one.
func cycle(indegree map[*cfg.BasicBlock]int, succs map[*cfg.BasicBlock][]*cfg.BasicBlock) []*cfg.BasicBlock {
	rest := make(map[*cfg.BasicBlock]bool)
	for block, n := range indegree {
		if n > 0 {
			rest[block] = true
		}
	}
	for changed := true; changed; {
		changed = false
		for block := range rest {
			live := false
			for _, s := range succs[block] {
				if rest[s] {
					live = true
					break
				}
			}
			if !live {
				delete(rest, block)
				changed = true
			}
		}
	}
	return sorted(rest)
}

// preds returns the reachable predecessors of block that are not loop
// back-edges.
func (b *Builder) preds(block *cfg.BasicBlock) []*cfg.BasicBlock {
	var result []*cfg.BasicBlock
	for _, p := range block.Preds {
		if b.tree.Reachable(p) && !b.tree.IsBackEdge(p, block) {
			result = append(result, p)
		}
	}
	return result
}

func sorted(set map[*cfg.BasicBlock]bool) []*cfg.BasicBlock {
	result := make([]*cfg.BasicBlock, 0, len(set))
	for block := range set {
		result = append(result, block)
	}
	slices.SortFunc(result, func(a, b *cfg.BasicBlock) int { return a.Index - b.Index })
	return result
}

func (b *Builder) ensure(target *cfg.BasicBlock) error {
	if _, ok := b.exits[target]; ok {
		return nil
	}
	order, err := b.active(target)
	if err != nil {
		return err
	}
	for _, block := range order {
		entry, err := b.entry(block)
		if err != nil {
			return err
		}
		exit := entry
		for _, inst := range block.Instructions {
			exit = b.fold(exit, inst)
		}
		b.entries[block] = entry
		b.exits[block] = exit
	}
	log.Debugf("computed states of %d blocks for %s", len(order), target)
	return nil
}

func (b *Builder) fold(s *SymbolicState, inst cfg.Instruction) *SymbolicState {
	for _, p := range b.lowered.States[inst] {
		s = s.AddClause(inst, p)
	}
	return s
}

func (b *Builder) entry(block *cfg.BasicBlock) (*SymbolicState, error) {
	if block == b.tree.Root() {
		return Empty(), nil
	}
	idom := b.tree.Idom(block)
	base, ok := b.exits[idom]
	if !ok {
		return nil, &ConsistencyError{Block: block, Reason: "dominator state of " + idom.String() + " is missing"}
	}

	var candidates []*SymbolicState
	for _, p := range b.preds(block) {
		predState, ok := b.exits[p]
		if !ok {
			return nil, &ConsistencyError{Block: block, Reason: "predecessor state of " + p.String() + " is missing"}
		}
		term := p.Terminator()
		paths := b.lowered.Paths[lowering.Edge{Successor: block, Terminator: term}]
		if len(paths) == 0 {
			candidate, err := b.withPhis(predState, p, block)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, candidate)
			continue
		}
		for _, path := range paths {
			candidate, err := b.withPhis(predState.AddPath(path.Kind, term, path.Predicate), p, block)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, candidate)
		}
	}
	if len(candidates) == 0 {
		return nil, &ConsistencyError{Block: block, Reason: "no incoming edge"}
	}

	sliced := make([]*SymbolicState, len(candidates))
	for i, c := range candidates {
		if c.Len() < base.Len() {
			return nil, &ConsistencyError{Block: block, Reason: "candidate state is shorter than its dominator state"}
		}
		sliced[i] = c.SubState(base.Len(), c.Len())
	}
	return base.AddChoice(sliced...), nil
}

func (b *Builder) withPhis(s *SymbolicState, pred, block *cfg.BasicBlock) (*SymbolicState, error) {
	for _, phi := range block.Phis() {
		p, ok := b.lowered.Phis[lowering.PhiKey{Pred: pred, Phi: phi}]
		if !ok {
			return nil, &ConsistencyError{Block: block, Instruction: phi, Reason: "no phi predicate for edge from " + pred.String()}
		}
		s = s.AddClause(phi, p)
	}
	return s, nil
}
