package module

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gstate/internal/cfg"
	"gstate/internal/dominator"
	"gstate/internal/ir"
	"gstate/internal/lowering"
	"gstate/internal/smt"
	_ "gstate/internal/smt/yices"
	"gstate/internal/state"
)

// run executes the default modules over every instruction of m.
func run(t *testing.T, m *cfg.Method) *ModuleManager {
	f := ir.NewFactory()
	lowered, err := lowering.Lower(f, m)
	require.NoError(t, err)
	solver, err := smt.Open("yices", f, smt.Options{})
	require.NoError(t, err)
	c := &Context{
		Ctx:     context.Background(),
		Lowered: lowered,
		States:  state.NewBuilder(lowered, dominator.New(m)),
		Solver:  solver,
	}
	mm := Defaults()
	for _, inst := range m.Instructions() {
		_, err := mm.Execute(c, inst)
		require.NoError(t, err)
	}
	return mm
}

func ids(mm *ModuleManager) []string {
	var result []string
	for _, is := range mm.RetrieveIssues() {
		result = append(result, is.ID)
	}
	return result
}

func Test_KindOf(t *testing.T) {
	b := cfg.NewBuilder("Demo", "kinds", ir.VoidType)
	x := b.Arg("x", ir.IntType)
	b.Block("entry")
	sum := b.Binary(ir.Add, x, x)
	cmp := b.Cmp(ir.Gt, sum, x)
	thr := b.Throw(x)
	assert.Equal(t, KindBinary, KindOf(sum))
	assert.Equal(t, Kind(""), KindOf(cmp))
	assert.Equal(t, KindThrow, KindOf(thr))
}

func Test_DivisionByZero(t *testing.T) {
	testCases := []struct {
		name    string
		guarded bool
		divisor func(b *cfg.Builder, y cfg.Value) cfg.Value
		expect  []string
	}{
		{"unguarded", false, func(b *cfg.Builder, y cfg.Value) cfg.Value { return y }, []string{"CWE-369"}},
		{"guarded", true, func(b *cfg.Builder, y cfg.Value) cfg.Value { return y }, nil},
		{"constant", false, func(b *cfg.Builder, y cfg.Value) cfg.Value { return b.Int(3) }, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := cfg.NewBuilder("Demo", "div", ir.IntType)
			x := b.Arg("x", ir.IntType)
			y := b.Arg("y", ir.IntType)
			entry := b.Block("entry")
			body := b.Block("body")
			if tc.guarded {
				exit := b.Block("exit")
				b.SetBlock(exit)
				b.Return(b.Int(0))
				b.SetBlock(entry)
				b.Branch(b.As("nz").Cmp(ir.Neq, y, b.Int(0)), body, exit)
			} else {
				b.SetBlock(entry)
				b.Jump(body)
			}
			b.SetBlock(body)
			q := b.As("q").Binary(ir.Div, x, tc.divisor(b, y))
			b.Return(q)
			m, err := b.Build()
			require.NoError(t, err)

			mm := run(t, m)
			assert.Equal(t, tc.expect, ids(mm))
			if len(tc.expect) > 0 {
				is := mm.RetrieveIssues()[0]
				assert.Equal(t, "Demo.div", is.Method)
				assert.Equal(t, "q = x / y", is.Instruction)
				assert.Contains(t, is.Counterexample, "y = 0")
			}
		})
	}
}

func Test_ArrayBounds(t *testing.T) {
	b := cfg.NewBuilder("Demo", "get", ir.IntType)
	i := b.Arg("i", ir.IntType)
	b.Block("entry")
	arr := b.As("arr").NewArray(ir.ArrayOf(ir.IntType), b.Int(4))
	fixed := b.As("a").ArrayLoad(arr, b.Int(2))
	free := b.As("v").ArrayLoad(arr, i)
	b.Return(b.As("s").Binary(ir.Add, fixed, free))
	m, err := b.Build()
	require.NoError(t, err)

	mm := run(t, m)
	require.Equal(t, []string{"CWE-129"}, ids(mm), "only the free index is reported")
	assert.Equal(t, "v = arr[i]", mm.RetrieveIssues()[0].Instruction)
}

func Test_NullDereference(t *testing.T) {
	a := ir.ClassType("A")
	b := cfg.NewBuilder("Demo", "read", ir.IntType)
	o := b.Arg("o", a)
	b.Block("entry")
	fresh := b.As("n").New(a)
	b.As("k").FieldLoad(fresh, a, "f", ir.IntType)
	v := b.As("v").FieldLoad(o, a, "f", ir.IntType)
	b.Return(v)
	m, err := b.Build()
	require.NoError(t, err)

	mm := run(t, m)
	require.Equal(t, []string{"CWE-476"}, ids(mm))
	is := mm.RetrieveIssues()[0]
	assert.Equal(t, "v = o.f", is.Instruction)
	assert.Contains(t, is.Counterexample, "o = 0")
}

func Test_ReachablePanic(t *testing.T) {
	build := func(lower int32) *cfg.Method {
		b := cfg.NewBuilder("Demo", "check", ir.VoidType)
		x := b.Arg("x", ir.IntType)
		entry := b.Block("entry")
		inner := b.Block("inner")
		fail := b.Block("fail")
		done := b.Block("done")
		b.SetBlock(entry)
		b.Branch(b.As("c1").Cmp(ir.Gt, x, b.Int(10)), inner, done)
		b.SetBlock(inner)
		b.Branch(b.As("c2").Cmp(ir.Lt, x, b.Int(lower)), fail, done)
		b.SetBlock(fail)
		b.Throw(x)
		b.SetBlock(done)
		b.Return(nil)
		m, err := b.Build()
		require.NoError(t, err)
		return m
	}

	assert.Equal(t, []string{"CWE-248"}, ids(run(t, build(20))))
	assert.Empty(t, ids(run(t, build(5))), "x > 10 and x < 5 cannot both hold")
}
