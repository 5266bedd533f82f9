package yices

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	yices2 "github.com/ianamason/yices2_go_bindings/yices_api"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gstate/internal/cache"
	"gstate/internal/cfg"
	"gstate/internal/dominator"
	"gstate/internal/ir"
	"gstate/internal/lowering"
	"gstate/internal/smt"
	"gstate/internal/state"
)

func TestMain(m *testing.M) {
	initOnce.Do(yices2.Init)
	code := m.Run()
	yices2.Exit()
	os.Exit(code)
}

func solver(t *testing.T, f *ir.Factory, opts smt.Options) smt.Solver {
	s, err := smt.Open(Name, f, opts)
	require.NoError(t, err)
	return s
}

func Test_Contradiction(t *testing.T) {
	f := ir.NewFactory()
	x := f.Argument(0, "x", ir.IntType)
	st := state.Empty().
		AddClause(nil, f.Equality(ir.State, x, f.Int(1))).
		AddClause(nil, f.Equality(ir.State, x, f.Int(2)))

	res, err := solver(t, f, smt.Options{}).Solve(context.Background(), st)
	require.NoError(t, err)
	assert.IsType(t, &smt.Unsat{}, res)
}

func Test_SatModelSatisfiesState(t *testing.T) {
	f := ir.NewFactory()
	x := f.Argument(0, "x", ir.IntType)
	y := f.Value("y", ir.IntType)
	l := f.Value("l", ir.LongType)
	st := state.Empty().
		AddClause(nil, f.Equality(ir.State, y, f.Int(4))).
		AddClause(nil, f.Equality(ir.State, x, f.Binary(ir.Add, y, f.Int(1)))).
		AddClause(nil, f.Equality(ir.State, l, f.Binary(ir.Mul, f.Cast(ir.LongType, x), f.Long(1<<40))))

	res, err := solver(t, f, smt.Options{}).Solve(context.Background(), st)
	require.NoError(t, err)
	sat, ok := res.(*smt.Sat)
	require.True(t, ok, "got %s", res)

	assert.Equal(t, f.Int(5), sat.Model.Assignments[x])
	assert.Equal(t, f.Int(4), sat.Model.Assignments[y])
	assert.Equal(t, f.Long(5<<40), sat.Model.Assignments[l])

	// substituting the model makes every clause a tautology
	sub := ir.Substitution(sat.Model.Assignments)
	chain := ir.Chain{sub, ir.Simplifier{F: f}}
	for _, p := range st.Predicates() {
		eq := ir.AcceptPredicate(f, p, chain).(*ir.Equality)
		assert.Equal(t, eq.LHV(), eq.RHV(), "%s", p)
	}
}

func Test_NarrowTypesWrap(t *testing.T) {
	f := ir.NewFactory()
	b := f.Value("b", ir.ByteType)
	st := state.Empty().
		AddClause(nil, f.Equality(ir.State, b, f.Cast(ir.ByteType, f.Int(200))))

	res, err := solver(t, f, smt.Options{}).Solve(context.Background(), st)
	require.NoError(t, err)
	sat, ok := res.(*smt.Sat)
	require.True(t, ok)
	assert.Equal(t, f.Byte(-56), sat.Model.Assignments[b])
}

func Test_ConstantRoundTrip(t *testing.T) {
	f := ir.NewFactory()
	testCases := []struct {
		name string
		c    ir.Term
	}{
		{"bool", f.Bool(true)},
		{"byte", f.Byte(-128)},
		{"short", f.Short(-30000)},
		{"char", f.Char(65535)},
		{"int", f.Int(-2147483648)},
		{"long", f.Long(1 << 62)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			x := f.Value("x_"+tc.name, tc.c.Type())
			st := state.Empty().AddClause(nil, f.Equality(ir.State, x, tc.c))
			res, err := solver(t, f, smt.Options{}).Solve(context.Background(), st)
			require.NoError(t, err)
			sat, ok := res.(*smt.Sat)
			require.True(t, ok, "got %s", res)
			assert.Equal(t, tc.c, sat.Model.Assignments[x])
		})
	}
}

func Test_HeapRoundTrip(t *testing.T) {
	f := ir.NewFactory()
	a := ir.ClassType("A")
	o := f.Value("o", a)
	v := f.Argument(0, "v", ir.IntType)
	field := f.Field(o, "f", ir.IntType)
	st := state.Empty().
		AddClause(nil, f.New(ir.State, o)).
		AddClause(nil, f.FieldStore(ir.State, field, v))

	res, err := solver(t, f, smt.Options{}).Solve(context.Background(), st, f.Equality(ir.State, v, f.Int(42)))
	require.NoError(t, err)
	sat, ok := res.(*smt.Sat)
	require.True(t, ok, "got %s", res)

	p, ok := sat.Model.Assignments[o].(*ir.ConstInt)
	require.True(t, ok)
	assert.NotZero(t, p.Value, "allocations are never null")
	shape := sat.Model.Shape(a, "f")
	require.NotNil(t, shape)
	assert.Equal(t, f.Int(42), shape.After[p.Value])

	types := sat.Model.Shape(ir.Type{}, smt.TypeProperty)
	require.NotNil(t, types)
	assert.Equal(t, f.Int(int32(smt.TypeTag(a))), types.After[p.Value])
}

func Test_AllocationDoesNotAliasArguments(t *testing.T) {
	f := ir.NewFactory()
	a := ir.ClassType("A")
	p := f.Argument(0, "p", a)
	o := f.Value("o", a)
	st := state.Empty().
		AddClause(nil, f.Equality(ir.Assume, f.Load(f.Field(p, "f", ir.IntType)), f.Int(1))).
		AddClause(nil, f.New(ir.State, o)).
		AddClause(nil, f.FieldStore(ir.State, f.Field(o, "f", ir.IntType), f.Int(5)))

	res, err := solver(t, f, smt.Options{}).Solve(context.Background(), st,
		f.Equality(ir.Path, f.Load(f.Field(p, "f", ir.IntType)), f.Int(5)))
	require.NoError(t, err)
	assert.IsType(t, &smt.Unsat{}, res)

	// an argument first read after the allocation predates it as well
	q := f.Argument(1, "q", a)
	res, err = solver(t, f, smt.Options{}).Solve(context.Background(), st,
		f.Equality(ir.Path, q, o))
	require.NoError(t, err)
	assert.IsType(t, &smt.Unsat{}, res)
}

func Test_CachedVerdictKeepsTypesApart(t *testing.T) {
	store, err := cache.Open(filepath.Join(t.TempDir(), "verdicts.db"))
	require.NoError(t, err)
	defer store.Close()

	f := ir.NewFactory()
	overflows := func(typ ir.Type) (*state.SymbolicState, ir.Predicate) {
		x := f.Value("x", typ)
		st := state.Empty().AddClause(nil, f.Equality(ir.State, x, f.Integral(typ, 2147483647)))
		return st, f.Equality(ir.Path, f.Cmp(ir.Lt, f.Binary(ir.Add, x, f.Integral(typ, 1)), x), f.Bool(true))
	}
	s := solver(t, f, smt.Options{Cache: store})

	st, query := overflows(ir.LongType)
	res, err := s.Solve(context.Background(), st, query)
	require.NoError(t, err)
	assert.IsType(t, &smt.Unsat{}, res)

	st, query = overflows(ir.IntType)
	res, err = s.Solve(context.Background(), st, query)
	require.NoError(t, err)
	assert.IsType(t, &smt.Sat{}, res, "int addition wraps")
}

func Test_ArrayBounds(t *testing.T) {
	f := ir.NewFactory()
	arr := f.Argument(0, "arr", ir.ArrayOf(ir.IntType))
	i := f.Argument(1, "i", ir.IntType)
	length := f.ArrayLength(arr)
	outside := f.Binary(ir.Or, f.Cmp(ir.Lt, i, f.Int(0)), f.Cmp(ir.Ge, i, length))

	st := state.Empty().AddClause(nil, f.NewArray(ir.State, arr, f.Int(4)))
	s := solver(t, f, smt.Options{})

	res, err := s.Solve(context.Background(), st, f.Equality(ir.State, outside, f.Bool(true)), f.Equality(ir.State, i, f.Int(2)))
	require.NoError(t, err)
	assert.IsType(t, &smt.Unsat{}, res)

	res, err = s.Solve(context.Background(), st, f.Equality(ir.State, outside, f.Bool(true)))
	require.NoError(t, err)
	sat, ok := res.(*smt.Sat)
	require.True(t, ok)
	index := sat.Model.Assignments[i].(*ir.ConstInt).Value
	assert.True(t, index < 0 || index >= 4, "index %d", index)
}

func signState(t *testing.T, f *ir.Factory) *state.SymbolicState {
	b := cfg.NewBuilder("Demo", "sign", ir.IntType)
	x := b.Arg("x", ir.IntType)
	b.Block("entry")
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

	lowered, err := lowering.Lower(f, m)
	require.NoError(t, err)
	st, err := state.NewBuilder(lowered, dominator.New(m)).StateAt(ret)
	require.NoError(t, err)
	return st
}

func Test_SignEndToEnd(t *testing.T) {
	f := ir.NewFactory()
	st := signState(t, f)
	x := f.Argument(0, "x", ir.IntType)
	y := f.Value("y", ir.IntType)
	s := solver(t, f, smt.Options{Simplify: true})

	res, err := s.Solve(context.Background(), st, f.Equality(ir.State, y, f.Int(1)))
	require.NoError(t, err)
	sat, ok := res.(*smt.Sat)
	require.True(t, ok, "got %s", res)
	assert.Greater(t, sat.Model.Assignments[x].(*ir.ConstInt).Value, int64(0))

	res, err = s.Solve(context.Background(), st, f.Equality(ir.State, y, f.Int(0)))
	require.NoError(t, err)
	assert.IsType(t, &smt.Unsat{}, res)

	res, err = s.Prove(context.Background(), st, f.Inequality(ir.State, y, f.Int(0)))
	require.NoError(t, err)
	assert.IsType(t, &smt.Unsat{}, res, "y is never 0")
}

func Test_SwitchAlternativesExclusive(t *testing.T) {
	f := ir.NewFactory()
	b := cfg.NewBuilder("Demo", "pick", ir.IntType)
	x := b.Arg("x", ir.IntType)
	b.Block("entry")
	one := b.Block("one")
	two := b.Block("two")
	def := b.Block("default")
	join := b.Block("join")
	b.Switch(x, []cfg.SwitchCase{{Value: b.Int(1), Target: one}, {Value: b.Int(2), Target: two}}, def)
	for _, block := range []*cfg.BasicBlock{one, two, def} {
		b.SetBlock(block)
		b.Jump(join)
	}
	b.SetBlock(join)
	y := b.As("y").Phi(ir.IntType,
		cfg.PhiEdge{Pred: one, Value: b.Int(10)},
		cfg.PhiEdge{Pred: two, Value: b.Int(20)},
		cfg.PhiEdge{Pred: def, Value: b.Int(0)})
	ret := b.Return(y)
	m, err := b.Build()
	require.NoError(t, err)
	lowered, err := lowering.Lower(f, m)
	require.NoError(t, err)
	st, err := state.NewBuilder(lowered, dominator.New(m)).StateAt(ret)
	require.NoError(t, err)

	xt := f.Argument(0, "x", ir.IntType)
	yt := f.Value("y", ir.IntType)
	s := solver(t, f, smt.Options{})

	testCases := []struct {
		name  string
		query []ir.Predicate
		sat   bool
	}{
		{"second case", []ir.Predicate{f.Equality(ir.State, yt, f.Int(20))}, true},
		{"second case needs x 2", []ir.Predicate{f.Equality(ir.State, yt, f.Int(20)), f.Equality(ir.State, xt, f.Int(1))}, false},
		{"default excludes cases", []ir.Predicate{f.Equality(ir.State, yt, f.Int(0)), f.Equality(ir.State, xt, f.Int(2))}, false},
		{"default", []ir.Predicate{f.Equality(ir.State, yt, f.Int(0)), f.Equality(ir.State, xt, f.Int(7))}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := s.Solve(context.Background(), st, tc.query...)
			require.NoError(t, err)
			if tc.sat {
				sat, ok := res.(*smt.Sat)
				require.True(t, ok, "got %s", res)
				if tc.name == "second case" {
					assert.Equal(t, f.Int(2), sat.Model.Assignments[xt])
				}
			} else {
				assert.IsType(t, &smt.Unsat{}, res)
			}
		})
	}
}

func Test_UnsatCore(t *testing.T) {
	f := ir.NewFactory()
	x := f.Argument(0, "x", ir.IntType)
	y := f.Argument(1, "y", ir.IntType)
	fixed := f.Equality(ir.State, x, f.Int(1))
	st := state.Empty().AddClause(nil, fixed).AddClause(nil, f.Equality(ir.State, y, f.Int(3)))
	query := f.Equality(ir.State, x, f.Int(2))

	res, err := solver(t, f, smt.Options{UnsatCore: true}).Solve(context.Background(), st, query)
	require.NoError(t, err)
	unsat, ok := res.(*smt.Unsat)
	require.True(t, ok)
	assert.Contains(t, unsat.Core, fixed)
	assert.Contains(t, unsat.Core, query)
}

func Test_FloatsFailTheSession(t *testing.T) {
	f := ir.NewFactory()
	d := f.Value("d", ir.DoubleType)
	st := state.Empty().AddClause(nil, f.Equality(ir.State, d, f.Double(1.5)))

	res, err := solver(t, f, smt.Options{}).Solve(context.Background(), st)
	assert.Nil(t, res)
	var target *smt.EncodeError
	require.True(t, errors.As(err, &target))
	assert.Equal(t, Name, target.Backend)

	// the next session is unaffected
	x := f.Argument(0, "x", ir.IntType)
	res, err = solver(t, f, smt.Options{}).Solve(context.Background(), state.Empty(), f.Equality(ir.State, x, f.Int(1)))
	require.NoError(t, err)
	assert.IsType(t, &smt.Sat{}, res)
}

func Test_Canceled(t *testing.T) {
	f := ir.NewFactory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := solver(t, f, smt.Options{}).Solve(ctx, state.Empty())
	require.NoError(t, err)
	assert.Equal(t, &smt.Unknown{Reason: "canceled"}, res)
}
