package smt

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gstate/internal/ir"
	"gstate/internal/state"
)

func newTestEncoder(t *testing.T) (*Encoder[*textCtx, string, textSort, string], *textBackend, *textCtx) {
	b := newTextBackend()
	ctx, err := b.Open(Options{})
	require.NoError(t, err)
	return NewEncoder[*textCtx, string, textSort, string](b, ctx, false), b, ctx
}

func Test_EncodePredicate(t *testing.T) {
	f := ir.NewFactory()
	x := f.Argument(0, "x", ir.IntType)
	y := f.Value("y", ir.IntType)
	l := f.Value("l", ir.LongType)
	c := f.Value("c", ir.BoolType)
	b := f.Value("b", ir.ByteType)

	testCases := []struct {
		name string
		p    ir.Predicate
		want string
	}{
		{"add", f.Equality(ir.State, y, f.Binary(ir.Add, x, f.Int(1))), "(= y (bvadd x (_ bv1 32)))"},
		{"signed division", f.Equality(ir.State, y, f.Binary(ir.Div, x, y)), "(= y (bvsdiv x y))"},
		{"shift masks distance", f.Equality(ir.State, y, f.Binary(ir.Shl, x, y)), "(= y (bvshl x (bvand y (_ bv31 32))))"},
		{"long shift", f.Equality(ir.State, l, f.Binary(ir.Shl, l, x)), "(= l (bvshl l (bvand ((_ sign_extend 32) x) (_ bv63 64))))"},
		{"unsigned shift", f.Equality(ir.State, y, f.Binary(ir.Ushr, x, f.Int(2))), "(= y (bvlshr x (bvand (_ bv2 32) (_ bv31 32))))"},
		{"logical", f.Equality(ir.State, c, f.Binary(ir.And, c, f.Bool(false))), "(= c (and c false))"},
		{"compare", f.Equality(ir.Path, f.Cmp(ir.Gt, x, f.Int(0)), f.Bool(true)), "(= (bvsgt x (_ bv0 32)) true)"},
		{"inequality", f.Inequality(ir.State, y, f.Int(0)), "(not (= y (_ bv0 32)))"},
		{"int to long", f.Equality(ir.State, l, f.Cast(ir.LongType, x)), "(= l ((_ sign_extend 32) x))"},
		{"long to int", f.Equality(ir.State, y, f.Cast(ir.IntType, l)), "(= y ((_ extract 31 0) l))"},
		{"int to byte", f.Equality(ir.State, b, f.Cast(ir.ByteType, x)), "(= b ((_ sign_extend 24) ((_ extract 7 0) x)))"},
		{"bool to int", f.Equality(ir.State, y, f.Cast(ir.IntType, c)), "(= y (ite c (_ bv1 32) (_ bv0 32)))"},
		{"int to bool", f.Equality(ir.State, c, f.Cast(ir.BoolType, x)), "(= c (distinct x (_ bv0 32)))"},
		{"negation", f.Equality(ir.State, y, f.Neg(x)), "(= y (bvneg x))"},
		{"not", f.Equality(ir.State, c, f.Not(c)), "(= c (not c))"},
		{"three way", f.Equality(ir.State, y, f.Cmp(ir.Compare, l, l)),
			"(= y (ite (bvslt l l) (_ bv4294967295 32) (ite (= l l) (_ bv0 32) (_ bv1 32))))"},
		{"call", f.Equality(ir.State, y, f.Call(ir.IntType, "hash", x, y)), "(= y (hash x y))"},
		{"void call", f.CallPredicate(ir.State, nil, f.Call(ir.VoidType, "run", nil).(*ir.Call)), "true"},
		{"null", f.Equality(ir.State, f.Value("o", ir.ClassType("A")), f.Null()), "(= o (_ bv0 32))"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			enc, _, _ := newTestEncoder(t)
			got, err := enc.Predicate(tc.p)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func Test_EncodeNarrowVariableAxiom(t *testing.T) {
	f := ir.NewFactory()
	enc, _, _ := newTestEncoder(t)
	_, err := enc.Term(f.Value("ch", ir.CharType))
	require.NoError(t, err)
	_, err = enc.Term(f.Value("i", ir.IntType))
	require.NoError(t, err)

	axioms, err := enc.Axioms()
	require.NoError(t, err)
	assert.Equal(t, []string{"(= ch ((_ zero_extend 16) ((_ extract 15 0) ch)))"}, axioms)
}

func Test_EncodeFloat(t *testing.T) {
	f := ir.NewFactory()
	d := f.Value("d", ir.DoubleType)
	enc, _, _ := newTestEncoder(t)

	got, err := enc.Predicate(f.Equality(ir.State, f.Value("r", ir.IntType), f.Cmp(ir.Cmpg, d, f.Double(1))))
	require.NoError(t, err)
	assert.Contains(t, got, "(fp.lt d (fp64 1))")
	assert.Contains(t, got, "(and (fp.eq d d) (fp.eq (fp64 1) (fp64 1)))")
	assert.True(t, strings.HasSuffix(got, "(_ bv1 32)))"), "nan gives 1 for cmpg: %s", got)

	got, err = enc.Predicate(f.Equality(ir.State, f.Value("n", ir.IntType), f.Cast(ir.IntType, d)))
	require.NoError(t, err)
	assert.Equal(t, "(= n ((_ to_bv32) d))", got)
}

func Test_EncodeFloatRemainder(t *testing.T) {
	f := ir.NewFactory()
	x := f.Value("x", ir.DoubleType)
	y := f.Value("y", ir.DoubleType)
	enc, _, _ := newTestEncoder(t)

	got, err := enc.Predicate(f.Equality(ir.State, f.Value("d", ir.DoubleType), f.Binary(ir.Rem, x, y)))
	require.NoError(t, err)
	r := "(fp.rem x y)"
	abs := "(ite (fp.lt y (fp64 0)) (fp.neg y) y)"
	want := "(= d (ite (and (fp.gt x (fp64 0)) (fp.lt " + r + " (fp64 0))) (fp.add " + r + " " + abs + ") " +
		"(ite (and (fp.lt x (fp64 0)) (fp.gt " + r + " (fp64 0))) (fp.sub " + r + " " + abs + ") " + r + ")))"
	assert.Equal(t, want, got, "result takes the sign of the dividend")
}

func Test_EncodeHeap(t *testing.T) {
	f := ir.NewFactory()
	a := ir.ClassType("A")
	o := f.Value("o", a)
	y := f.Value("y", ir.IntType)
	field := f.Field(o, "f", ir.IntType)

	enc, _, _ := newTestEncoder(t)
	before, err := enc.Predicate(f.Equality(ir.State, y, f.Load(field)))
	require.NoError(t, err)
	assert.Equal(t, "(= y (select mem0 o))", before)

	stored, err := enc.Predicate(f.FieldStore(ir.State, field, f.Int(5)))
	require.NoError(t, err)
	assert.Equal(t, "true", stored)

	after, err := enc.Predicate(f.Equality(ir.State, y, f.Load(field)))
	require.NoError(t, err)
	assert.Equal(t, "(= y (select (store mem0 o (_ bv5 32)) o))", after, "loads are not memoized across stores")

	arr := f.Value("arr", ir.ArrayOf(ir.IntType))
	i := f.Value("i", ir.IntType)
	got, err := enc.Predicate(f.Equality(ir.State, y, f.Load(f.ArrayIndex(arr, i))))
	require.NoError(t, err)
	assert.Equal(t, "(= y (select mem1 (bvadd arr i)))", got)

	got, err = enc.Predicate(f.Equality(ir.State, y, f.ArrayLength(arr)))
	require.NoError(t, err)
	assert.Equal(t, "(= y (select mem2 arr))", got)

	axioms, err := enc.Axioms()
	require.NoError(t, err)
	assert.Contains(t, axioms, "(bvsge (select mem2 arr) (_ bv0 32))")
}

func Test_EncodeAllocation(t *testing.T) {
	f := ir.NewFactory()
	a := ir.ClassType("A")
	p := f.Value("p", a)
	q := f.Value("q", a)
	arr := f.Value("arr", ir.ArrayOf(ir.IntType))

	enc, _, _ := newTestEncoder(t)
	got, err := enc.Predicate(f.New(ir.State, p))
	require.NoError(t, err)
	assert.Equal(t, "(distinct p (_ bv0 32))", got)

	got, err = enc.Predicate(f.New(ir.State, q))
	require.NoError(t, err)
	assert.Equal(t, "(and (distinct q (_ bv0 32)) (distinct q p))", got)

	_, err = enc.Predicate(f.NewArray(ir.State, arr, f.Int(3)))
	require.NoError(t, err)

	got, err = enc.Predicate(f.Equality(ir.State, f.Value("c", ir.BoolType), f.InstanceOf(q, a)))
	require.NoError(t, err)
	assert.Contains(t, got, "(select (store (store (store mem0 p ")
	assert.Contains(t, got, "(distinct q (_ bv0 32))")

	got, err = enc.Predicate(f.Equality(ir.State, f.Value("n", ir.IntType), f.ArrayLength(arr)))
	require.NoError(t, err)
	assert.Equal(t, "(= n (select (store mem1 arr (_ bv3 32)) arr))", got)
}

func Test_EncodeAllocationDiffersFromExistingReferences(t *testing.T) {
	f := ir.NewFactory()
	a := ir.ClassType("A")
	p := f.Argument(0, "p", a)
	o := f.Value("o", a)
	q := f.Argument(1, "q", a)

	enc, _, _ := newTestEncoder(t)
	_, err := enc.Predicate(f.Equality(ir.Assume, f.Load(f.Field(p, "f", ir.IntType)), f.Int(1)))
	require.NoError(t, err)

	got, err := enc.Predicate(f.New(ir.State, o))
	require.NoError(t, err)
	assert.Equal(t, "(and (distinct o (_ bv0 32)) (distinct o p))", got)

	// arguments encoded after the allocation still predate it
	_, err = enc.Term(q)
	require.NoError(t, err)
	axioms, err := enc.Axioms()
	require.NoError(t, err)
	assert.Contains(t, axioms, "(distinct q o)")
	assert.NotContains(t, axioms, "(distinct p o)")
}

func Test_EncodeChoiceMergesMemory(t *testing.T) {
	f := ir.NewFactory()
	o := f.Value("o", ir.ClassType("A"))
	x := f.Argument(0, "x", ir.IntType)
	field := f.Field(o, "f", ir.IntType)
	positive := f.Cmp(ir.Gt, x, f.Int(0))

	then := state.Empty().
		AddPath(ir.ConditionCheck, nil, f.Equality(ir.Path, positive, f.Bool(true))).
		AddClause(nil, f.FieldStore(ir.State, field, f.Int(1)))
	els := state.Empty().
		AddPath(ir.ConditionCheck, nil, f.Equality(ir.Path, positive, f.Bool(false))).
		AddClause(nil, f.FieldStore(ir.State, field, f.Int(2)))
	st := state.Empty().AddChoice(then, els).
		AddClause(nil, f.Equality(ir.State, f.Value("y", ir.IntType), f.Load(field)))

	enc, _, _ := newTestEncoder(t)
	assertions, err := enc.State(st)
	require.NoError(t, err)
	require.Len(t, assertions, 2)

	assert.Equal(t, "state0", assertions[0].Label)
	assert.Equal(t,
		"(or (and (= (bvsgt x (_ bv0 32)) true) true) (and (= (bvsgt x (_ bv0 32)) false) true))",
		assertions[0].Formula)
	assert.Len(t, assertions[0].Predicates, 4)

	assert.Equal(t,
		"(= y (select (ite (and (= (bvsgt x (_ bv0 32)) true) true) (store mem0 o (_ bv1 32)) (store mem0 o (_ bv2 32))) o))",
		assertions[1].Formula)
}

func Test_EncodeChoiceKeepsUntouchedSpaces(t *testing.T) {
	f := ir.NewFactory()
	o := f.Value("o", ir.ClassType("A"))
	field := f.Field(o, "f", ir.IntType)
	c := f.Value("c", ir.BoolType)

	st := state.Empty().
		AddClause(nil, f.FieldStore(ir.State, field, f.Int(7))).
		AddChoice(
			state.Empty().AddPath(ir.ConditionCheck, nil, f.Equality(ir.Path, c, f.Bool(true))),
			state.Empty().AddPath(ir.ConditionCheck, nil, f.Equality(ir.Path, c, f.Bool(false))),
		).
		AddClause(nil, f.Equality(ir.State, f.Value("y", ir.IntType), f.Load(field)))

	enc, _, _ := newTestEncoder(t)
	assertions, err := enc.State(st)
	require.NoError(t, err)
	require.Len(t, assertions, 3)
	assert.Equal(t, "(= y (select (store mem0 o (_ bv7 32)) o))", assertions[2].Formula)
}

func Test_EncodeQuantifiedLengthAxiom(t *testing.T) {
	f := ir.NewFactory()
	b := newTextBackend()
	b.features.Quantifiers = true
	ctx, err := b.Open(Options{})
	require.NoError(t, err)
	enc := NewEncoder[*textCtx, string, textSort, string](b, ctx, true)

	_, err = enc.Term(f.ArrayLength(f.Value("arr", ir.ArrayOf(ir.IntType))))
	require.NoError(t, err)
	axioms, err := enc.Axioms()
	require.NoError(t, err)
	assert.Equal(t, []string{"(forall (p0) (! (bvsge (select mem0 p0) (_ bv0 32)) :pattern ((select mem0 p0))))"}, axioms)
}

func Test_EncodeErrors(t *testing.T) {
	f := ir.NewFactory()
	o := f.Value("o", ir.ClassType("A"))
	c := f.Value("c", ir.BoolType)

	testCases := []struct {
		name string
		p    ir.Predicate
	}{
		{"reference as value", f.Equality(ir.State, f.Value("y", ir.IntType), f.Field(o, "f", ir.IntType))},
		{"bool to reference", f.Equality(ir.State, o, f.Cast(ir.ClassType("A"), c))},
		{"void variable", f.Equality(ir.State, f.Value("v", ir.VoidType), f.Value("w", ir.VoidType))},
		{"ordered references", f.Equality(ir.State, c, f.Cmp(ir.Lt, o, o))},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			enc, _, _ := newTestEncoder(t)
			_, err := enc.Predicate(tc.p)
			var target *EncodeError
			require.True(t, errors.As(err, &target), "got %v", err)
			assert.Equal(t, "text", target.Backend)
		})
	}
}

func Test_Reconstruct(t *testing.T) {
	f := ir.NewFactory()
	a := ir.ClassType("A")
	o := f.Value("o", a)
	x := f.Argument(0, "x", ir.IntType)
	l := f.Value("l", ir.LongType)
	field := f.Field(o, "f", ir.IntType)
	preds := []ir.Predicate{
		f.FieldStore(ir.State, field, x),
		f.Equality(ir.State, l, f.Cast(ir.LongType, x)),
	}

	enc, b, _ := newTestEncoder(t)
	for _, p := range preds {
		_, err := enc.Predicate(p)
		require.NoError(t, err)
	}
	b.values["x"] = word(5)
	b.values["o"] = word(7)
	b.values["l"] = Value{Sort: Sort{Kind: SortBV, Width: DWORD}, Bits: 5}
	b.values["(select mem0 o)"] = word(-3)
	b.values["(select (store mem0 o x) o)"] = word(5)

	eval, err := b.Model(b.opened[0])
	require.NoError(t, err)
	m, err := enc.Reconstruct(f, eval, preds)
	require.NoError(t, err)

	assert.Equal(t, map[ir.Term]ir.Term{
		x: f.Int(5),
		o: f.Int(7),
		l: f.Long(5),
	}, m.Assignments)

	shape := m.Shape(a, "f")
	require.NotNil(t, shape)
	assert.Equal(t, map[int64]ir.Term{7: f.Int(-3)}, shape.Before)
	assert.Equal(t, map[int64]ir.Term{7: f.Int(5)}, shape.After)
	assert.Nil(t, m.Shape(a, "g"))
	assert.Contains(t, m.String(), "x = 5")
}

func Test_ReconstructUnknownSort(t *testing.T) {
	f := ir.NewFactory()
	x := f.Value("x", ir.IntType)
	preds := []ir.Predicate{f.Equality(ir.State, x, f.Int(1))}

	enc, b, _ := newTestEncoder(t)
	_, err := enc.Predicate(preds[0])
	require.NoError(t, err)
	b.values["x"] = Value{Sort: Sort{Kind: SortBV, Width: 16}}

	eval, err := b.Model(b.opened[0])
	require.NoError(t, err)
	_, err = enc.Reconstruct(f, eval, preds)
	var target *DecodeError
	require.True(t, errors.As(err, &target))
	assert.Equal(t, "x", target.Term)
}
