// Package dominator computes dominator trees of method control-flow graphs
// with the iterative algorithm of Cooper, Harvey and Kennedy.
package dominator

import (
	"gstate/internal/cfg"
	"gstate/internal/strategy"
)

// Tree is the dominator tree of the blocks reachable from the entry.
type Tree struct {
	root     *cfg.BasicBlock
	order    []*cfg.BasicBlock
	index    map[*cfg.BasicBlock]int
	idom     map[*cfg.BasicBlock]*cfg.BasicBlock
	depth    map[*cfg.BasicBlock]int
	children map[*cfg.BasicBlock][]*cfg.BasicBlock
}

func New(m *cfg.Method) *Tree {
	t := &Tree{
		root:     m.Entry(),
		index:    make(map[*cfg.BasicBlock]int),
		idom:     make(map[*cfg.BasicBlock]*cfg.BasicBlock),
		depth:    make(map[*cfg.BasicBlock]int),
		children: make(map[*cfg.BasicBlock][]*cfg.BasicBlock),
	}
	if t.root == nil {
		return t
	}
	t.order = reversePostorder(t.root)
	for i, b := range t.order {
		t.index[b] = i
	}

	t.idom[t.root] = t.root
	for changed := true; changed; {
		changed = false
		for _, b := range t.order[1:] {
			var idom *cfg.BasicBlock
			for _, p := range b.Preds {
				if _, ok := t.idom[p]; !ok {
					continue
				}
				if idom == nil {
					idom = p
				} else {
					idom = t.intersect(p, idom)
				}
			}
			if t.idom[b] != idom {
				t.idom[b] = idom
				changed = true
			}
		}
	}
	delete(t.idom, t.root)

	for _, b := range t.order[1:] {
		parent := t.idom[b]
		t.depth[b] = t.depth[parent] + 1
		t.children[parent] = append(t.children[parent], b)
	}
	return t
}

func (t *Tree) intersect(a, b *cfg.BasicBlock) *cfg.BasicBlock {
	for a != b {
		for t.index[a] > t.index[b] {
			a = t.idom[a]
		}
		for t.index[b] > t.index[a] {
			b = t.idom[b]
		}
	}
	return a
}

// reversePostorder walks the successors from root without recursion.
func reversePostorder(root *cfg.BasicBlock) []*cfg.BasicBlock {
	type frame struct {
		block *cfg.BasicBlock
		next  int
	}
	visited := map[*cfg.BasicBlock]bool{root: true}
	stack := strategy.NewDFS[*frame]()
	_ = stack.Push(&frame{block: root})
	var post []*cfg.BasicBlock
	for stack.HasNext() {
		top, _ := stack.Peek()
		if top.next < len(top.block.Succs) {
			succ := top.block.Succs[top.next]
			top.next++
			if !visited[succ] {
				visited[succ] = true
				_ = stack.Push(&frame{block: succ})
			}
			continue
		}
		_, _ = stack.Pop()
		post = append(post, top.block)
	}
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

func (t *Tree) Root() *cfg.BasicBlock { return t.root }

// Idom returns the immediate dominator of b, nil for the root and for
// unreachable blocks.
func (t *Tree) Idom(b *cfg.BasicBlock) *cfg.BasicBlock {
	return t.idom[b]
}

func (t *Tree) Children(b *cfg.BasicBlock) []*cfg.BasicBlock {
	return t.children[b]
}

func (t *Tree) Reachable(b *cfg.BasicBlock) bool {
	_, ok := t.index[b]
	return ok
}

// Order returns the reachable blocks in reverse postorder.
func (t *Tree) Order() []*cfg.BasicBlock {
	return t.order
}

// Dominates reports whether a dominates b. Every block dominates itself.
func (t *Tree) Dominates(a, b *cfg.BasicBlock) bool {
	if !t.Reachable(a) || !t.Reachable(b) {
		return false
	}
	for t.depth[b] > t.depth[a] {
		b = t.idom[b]
	}
	return a == b
}

// IsBackEdge reports whether from->to is a natural loop back-edge.
func (t *Tree) IsBackEdge(from, to *cfg.BasicBlock) bool {
	return t.Dominates(to, from)
}
