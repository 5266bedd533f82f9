package dominator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gstate/internal/cfg"
	"gstate/internal/ir"
)

func diamond(t *testing.T) (*cfg.Method, []*cfg.BasicBlock) {
	b := cfg.NewBuilder("Demo", "diamond", ir.VoidType)
	x := b.Arg("x", ir.BoolType)
	entry := b.Block("entry")
	left := b.Block("left")
	right := b.Block("right")
	join := b.Block("join")
	dead := b.Block("dead")

	b.Branch(x, left, right)
	b.SetBlock(left)
	b.Jump(join)
	b.SetBlock(right)
	b.Jump(join)
	b.SetBlock(join)
	b.Return(nil)
	b.SetBlock(dead)
	b.Jump(join)

	m, err := b.Build()
	require.NoError(t, err)
	return m, []*cfg.BasicBlock{entry, left, right, join, dead}
}

func Test_Diamond(t *testing.T) {
	m, blocks := diamond(t)
	entry, left, right, join, dead := blocks[0], blocks[1], blocks[2], blocks[3], blocks[4]
	tree := New(m)

	assert.Nil(t, tree.Idom(entry))
	assert.Equal(t, entry, tree.Idom(left))
	assert.Equal(t, entry, tree.Idom(right))
	assert.Equal(t, entry, tree.Idom(join))
	assert.ElementsMatch(t, []*cfg.BasicBlock{left, right, join}, tree.Children(entry))

	assert.True(t, tree.Dominates(entry, join))
	assert.True(t, tree.Dominates(join, join))
	assert.False(t, tree.Dominates(left, join))

	assert.False(t, tree.Reachable(dead))
	assert.Nil(t, tree.Idom(dead))
	assert.Len(t, tree.Order(), 4)
	assert.Equal(t, entry, tree.Order()[0])
}

func Test_Loop(t *testing.T) {
	b := cfg.NewBuilder("Demo", "loop", ir.VoidType)
	x := b.Arg("x", ir.BoolType)
	entry := b.Block("entry")
	header := b.Block("header")
	body := b.Block("body")
	exit := b.Block("exit")

	b.Jump(header)
	b.SetBlock(header)
	b.Branch(x, body, exit)
	b.SetBlock(body)
	b.Jump(header)
	b.SetBlock(exit)
	b.Return(nil)
	m, err := b.Build()
	require.NoError(t, err)

	tree := New(m)
	assert.Equal(t, entry, tree.Idom(header))
	assert.Equal(t, header, tree.Idom(body))
	assert.Equal(t, header, tree.Idom(exit))
	assert.True(t, tree.IsBackEdge(body, header))
	assert.False(t, tree.IsBackEdge(entry, header))
}

const source = `package demo

func Classify(x int32) int32 {
	r := int32(0)
	for i := int32(0); i < x; i++ {
		if i%2 == 0 {
			r += i
		} else if i%3 == 0 {
			r -= i
		}
	}
	if r > 10 {
		return 1
	}
	return r
}
`

func Test_MatchesSSA(t *testing.T) {
	pkg, err := cfg.LoadSource("demo.go", source)
	require.NoError(t, err)
	fn := cfg.Lookup(pkg, "Classify")
	require.NotNil(t, fn)
	m, err := cfg.FromSSA(fn)
	require.NoError(t, err)

	tree := New(m)
	require.Len(t, m.Blocks, len(fn.Blocks))
	for i, block := range fn.Blocks {
		idom := tree.Idom(m.Blocks[i])
		if block.Idom() == nil {
			assert.Nil(t, idom, block.String())
			continue
		}
		require.NotNil(t, idom, block.String())
		assert.Equal(t, block.Idom().Index, idom.Index, block.String())
	}
}
