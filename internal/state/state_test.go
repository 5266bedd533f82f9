package state

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gstate/internal/cfg"
	"gstate/internal/dominator"
	"gstate/internal/ir"
	"gstate/internal/lowering"
)

func newBuilder(t *testing.T, m *cfg.Method) *Builder {
	res, err := lowering.Lower(ir.NewFactory(), m)
	require.NoError(t, err)
	return NewBuilder(res, dominator.New(m))
}

func lines(s *SymbolicState) []string {
	return strings.Split(strings.TrimSuffix(s.String(), "\n"), "\n")
}

type sign struct {
	m                      *cfg.Method
	entry, then, els, join *cfg.BasicBlock
	ret                    *cfg.ReturnInst
}

func signMethod(t *testing.T) sign {
	b := cfg.NewBuilder("Demo", "sign", ir.IntType)
	x := b.Arg("x", ir.IntType)
	entry := b.Block("entry")
	then := b.Block("then")
	els := b.Block("else")
	join := b.Block("join")

	cond := b.As("c").Cmp(ir.Gt, x, b.Int(0))
	b.Branch(cond, then, els)
	b.SetBlock(then)
	b.Jump(join)
	b.SetBlock(els)
	b.Jump(join)
	b.SetBlock(join)
	y := b.As("y").Phi(ir.IntType, cfg.PhiEdge{Pred: then, Value: b.Int(1)}, cfg.PhiEdge{Pred: els, Value: b.Int(-1)})
	ret := b.Return(y)
	m, err := b.Build()
	require.NoError(t, err)
	return sign{m: m, entry: entry, then: then, els: els, join: join, ret: ret}
}

func Test_StateAtJoin(t *testing.T) {
	s := signMethod(t)
	builder := newBuilder(t, s.m)

	state, err := builder.StateAt(s.ret)
	require.NoError(t, err)
	expect := []string{
		"@S c = (x > 0)",
		"choice {",
		"|",
		"  @P c = true [CONDITION_CHECK]",
		"  @S y = 1",
		"|",
		"  @P c = false [CONDITION_CHECK]",
		"  @S y = -1",
		"}",
	}
	if diff := cmp.Diff(expect, lines(state)); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, state.Clauses(), 1)
	assert.Empty(t, state.PathCondition())
	assert.Len(t, state.Predicates(), 5)

	exit, err := builder.ExitState(s.join)
	require.NoError(t, err)
	assert.Equal(t, "@S <retval> = y", exit.At(exit.Len()-1).Clause.Predicate.String())
}

func Test_StateAtBranch(t *testing.T) {
	s := signMethod(t)
	builder := newBuilder(t, s.m)

	state, err := builder.EntryState(s.then)
	require.NoError(t, err)
	require.Len(t, state.PathCondition(), 1)
	assert.Equal(t, "@P c = true", state.PathCondition()[0].Predicate.String())
	assert.Equal(t, ir.ConditionCheck, state.PathCondition()[0].Kind)
}

func Test_SlicingIdempotence(t *testing.T) {
	s := signMethod(t)
	builder := newBuilder(t, s.m)

	first, err := builder.StateAt(s.ret)
	require.NoError(t, err)
	second, err := builder.StateAt(s.ret)
	require.NoError(t, err)
	assert.True(t, first == second)

	// A fresh builder recomputes an equal state.
	third, err := newBuilder(t, s.m).StateAt(s.ret)
	require.NoError(t, err)
	assert.Equal(t, first.String(), third.String())
}

func Test_SwitchDisjunction(t *testing.T) {
	b := cfg.NewBuilder("Demo", "pick", ir.IntType)
	x := b.Arg("x", ir.IntType)
	b.Block("entry")
	one := b.Block("one")
	two := b.Block("two")
	three := b.Block("three")
	def := b.Block("default")
	join := b.Block("join")
	b.Switch(x, []cfg.SwitchCase{{Value: b.Int(1), Target: one}, {Value: b.Int(2), Target: two}, {Value: b.Int(3), Target: three}}, def)
	for _, block := range []*cfg.BasicBlock{one, two, three, def} {
		b.SetBlock(block)
		b.Jump(join)
	}
	b.SetBlock(join)
	ret := b.Return(x)
	m, err := b.Build()
	require.NoError(t, err)

	state, err := newBuilder(t, m).StateAt(ret)
	require.NoError(t, err)
	require.Equal(t, 1, state.Len())
	choice := state.At(0).Choice
	require.Len(t, choice, 4)

	var got []string
	for _, alt := range choice {
		require.Len(t, alt.PathCondition(), 1)
		got = append(got, alt.PathCondition()[0].Predicate.String())
	}
	assert.ElementsMatch(t, []string{
		"@P (x == 1) = true",
		"@P (x == 2) = true",
		"@P (x == 3) = true",
		"@P (((x == 1) | (x == 2)) | (x == 3)) = false",
	}, got)
}

func Test_SharedTargetKeepsEveryCase(t *testing.T) {
	b := cfg.NewBuilder("Demo", "same", ir.VoidType)
	x := b.Arg("x", ir.IntType)
	b.Block("entry")
	hit := b.Block("hit")
	miss := b.Block("miss")
	b.Switch(x, []cfg.SwitchCase{{Value: b.Int(1), Target: hit}, {Value: b.Int(2), Target: hit}}, miss)
	b.SetBlock(hit)
	ret := b.Return(nil)
	b.SetBlock(miss)
	b.Return(nil)
	m, err := b.Build()
	require.NoError(t, err)

	state, err := newBuilder(t, m).StateAt(ret)
	require.NoError(t, err)
	require.Equal(t, 1, state.Len())
	assert.Len(t, state.At(0).Choice, 2)
}

func Test_LoopHeader(t *testing.T) {
	b := cfg.NewBuilder("Demo", "count", ir.IntType)
	n := b.Arg("n", ir.IntType)
	entry := b.Block("entry")
	header := b.Block("header")
	body := b.Block("body")
	exit := b.Block("exit")

	b.Jump(header)
	b.SetBlock(header)
	i := b.As("i").Phi(ir.IntType)
	cond := b.As("c").Cmp(ir.Lt, i, n)
	b.Branch(cond, body, exit)
	b.SetBlock(body)
	next := b.As("next").Binary(ir.Add, i, b.Int(1))
	b.Jump(header)
	b.SetBlock(exit)
	ret := b.Return(i)
	i.Edges = []cfg.PhiEdge{{Pred: entry, Value: b.Int(0)}, {Pred: body, Value: next}}
	m, err := b.Build()
	require.NoError(t, err)

	builder := newBuilder(t, m)
	state, err := builder.StateAt(ret)
	require.NoError(t, err)
	expect := []string{
		"@S i = 0",
		"@S c = (i < n)",
		"@P c = false [CONDITION_CHECK]",
	}
	if diff := cmp.Diff(expect, lines(state)); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}

	bodyState, err := builder.ExitState(body)
	require.NoError(t, err)
	assert.Equal(t, "@S next = (i + 1)", bodyState.At(bodyState.Len()-1).Clause.Predicate.String())
}

func Test_HandlerQuery(t *testing.T) {
	b := cfg.NewBuilder("Demo", "guarded", ir.VoidType)
	entry := b.Block("entry")
	handler := b.HandlerBlock("handler", entry)
	after := b.Block("after")
	b.Jump(after)
	b.SetBlock(handler)
	catch := b.Catch(ir.ClassType("Exception"))
	b.Jump(after)
	b.SetBlock(after)
	ret := b.Return(nil)
	m, err := b.Build()
	require.NoError(t, err)

	builder := newBuilder(t, m)
	_, err = builder.StateAt(catch)
	var unsupported *UnsupportedError
	require.True(t, errors.As(err, &unsupported), "got %v", err)
	assert.Equal(t, handler, unsupported.Block)
	assert.Equal(t, catch, unsupported.Instruction)

	_, err = builder.StateAt(ret)
	assert.True(t, errors.As(err, &unsupported), "got %v", err)
}

func Test_MissingPhi(t *testing.T) {
	b := cfg.NewBuilder("Demo", "broken", ir.IntType)
	x := b.Arg("x", ir.BoolType)
	b.Block("entry")
	left := b.Block("left")
	right := b.Block("right")
	join := b.Block("join")
	b.Branch(x, left, right)
	b.SetBlock(left)
	b.Jump(join)
	b.SetBlock(right)
	b.Jump(join)
	b.SetBlock(join)
	y := b.Phi(ir.IntType, cfg.PhiEdge{Pred: left, Value: b.Int(1)})
	ret := b.Return(y)
	m, err := b.Build()
	require.NoError(t, err)

	_, err = newBuilder(t, m).StateAt(ret)
	var consistency *ConsistencyError
	require.True(t, errors.As(err, &consistency), "got %v", err)
	assert.Equal(t, join, consistency.Block)
	assert.Equal(t, cfg.Instruction(y), consistency.Instruction)
}

func Test_IrreducibleCycle(t *testing.T) {
	b := cfg.NewBuilder("Demo", "tangle", ir.VoidType)
	x := b.Arg("x", ir.BoolType)
	b.Block("entry")
	p := b.Block("p")
	q := b.Block("q")
	exit := b.Block("exit")
	b.Branch(x, p, q)
	b.SetBlock(p)
	b.Branch(x, q, exit)
	b.SetBlock(q)
	b.Branch(x, p, exit)
	b.SetBlock(exit)
	ret := b.Return(nil)
	m, err := b.Build()
	require.NoError(t, err)

	_, err = newBuilder(t, m).StateAt(ret)
	var cycle *CycleError
	require.True(t, errors.As(err, &cycle), "got %v", err)
	assert.ElementsMatch(t, []*cfg.BasicBlock{p, q}, cycle.Blocks)
}

func Test_SubStateAndAppend(t *testing.T) {
	f := ir.NewFactory()
	x := f.Value("x", ir.IntType)
	s := Empty().
		AddClause(nil, f.Equality(ir.State, x, f.Int(1))).
		AddPath(ir.NullCheck, nil, f.Equality(ir.Path, f.Bool(true), f.Bool(true))).
		AddClause(nil, f.Equality(ir.State, x, f.Int(2)))

	sub := s.SubState(1, 3)
	assert.Equal(t, 2, sub.Len())
	assert.Equal(t, ir.NullCheck, sub.At(0).Path.Kind)

	joined := s.SubState(0, 1).Append(sub)
	assert.True(t, Equal(s, joined))
	assert.False(t, Equal(s, sub))
	assert.True(t, s.SubState(0, s.Len()) == s)
	assert.Equal(t, 3, s.Len(), "appending must not change the original")
}
