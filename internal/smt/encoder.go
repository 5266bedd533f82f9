package smt

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"gstate/internal/ir"
	"gstate/internal/state"
)

// Assertion is one encoded top-level state entry, or the query, together
// with the predicates it was encoded from.
type Assertion[E any] struct {
	Label      string
	Formula    E
	Predicates []ir.Predicate
}

// Encoder translates IR into native expressions of one backend context.
// Heap accesses go through one array per memory space; stores replace the
// current array of their space, and the alternatives of a choice merge
// their arrays with if-then-else on the alternative guards.
type Encoder[C any, E comparable, S any, F any] struct {
	backend     Backend[C, E, S, F]
	ctx         C
	quantifiers bool
	rewrite     func(ir.Predicate) ir.Predicate

	terms  map[ir.Term]E
	heap   map[ir.Term]bool
	sorts  map[Sort]S
	funcs  map[string]F
	spaces map[spaceKey]*space[E]
	order  []*space[E]
	mem    memory[E]
	axioms []E

	// references seen so far, in encoding order, and the allocated pointers
	refs      []E
	known     map[E]bool
	fresh     map[E]bool
	allocated []E
}

func NewEncoder[C any, E comparable, S any, F any](backend Backend[C, E, S, F], ctx C, quantifiers bool) *Encoder[C, E, S, F] {
	return &Encoder[C, E, S, F]{
		backend:     backend,
		ctx:         ctx,
		quantifiers: quantifiers && backend.Features().Quantifiers,
		terms:       make(map[ir.Term]E),
		heap:        make(map[ir.Term]bool),
		sorts:       make(map[Sort]S),
		funcs:       make(map[string]F),
		spaces:      make(map[spaceKey]*space[E]),
		mem:         memory[E]{current: make(map[spaceKey]E)},
		known:       make(map[E]bool),
		fresh:       make(map[E]bool),
	}
}

// Rewrite installs fn to be applied to every predicate before encoding.
func (e *Encoder[C, E, S, F]) Rewrite(fn func(ir.Predicate) ir.Predicate) {
	e.rewrite = fn
}

func (e *Encoder[C, E, S, F]) fail(t ir.Term, format string, args ...interface{}) error {
	return encodeError(e.backend.Name(), t, format, args...)
}

// State encodes every top-level entry of s into its own assertion.
func (e *Encoder[C, E, S, F]) State(s *state.SymbolicState) ([]Assertion[E], error) {
	entries := s.Entries()
	result := make([]Assertion[E], 0, len(entries))
	for i, entry := range entries {
		f, err := e.entry(entry)
		if err != nil {
			return nil, err
		}
		result = append(result, Assertion[E]{
			Label:      fmt.Sprintf("state%d", i),
			Formula:    f,
			Predicates: entryPredicates(entry),
		})
	}
	return result, nil
}

// Query encodes the conjunction of preds.
func (e *Encoder[C, E, S, F]) Query(preds []ir.Predicate) (Assertion[E], error) {
	formulas := make([]E, 0, len(preds))
	for _, p := range preds {
		f, err := e.Predicate(p)
		if err != nil {
			return Assertion[E]{}, err
		}
		formulas = append(formulas, f)
	}
	f, err := e.all(formulas)
	if err != nil {
		return Assertion[E]{}, err
	}
	return Assertion[E]{Label: "query", Formula: f, Predicates: preds}, nil
}

// Axioms returns the background facts collected while encoding: value ranges
// of narrow variables, non-null literals, arguments that differ from
// allocations and non-negative array lengths.
func (e *Encoder[C, E, S, F]) Axioms() ([]E, error) {
	result := append([]E(nil), e.axioms...)
	if e.quantifiers {
		return result, nil
	}
	zero, err := e.backend.BV(e.ctx, WORD, 0)
	if err != nil {
		return nil, err
	}
	for _, sp := range e.order {
		if sp.Property != LengthProperty {
			continue
		}
		for _, addr := range sp.touched {
			length, err := e.backend.Select(e.ctx, sp.initial, addr)
			if err != nil {
				return nil, err
			}
			ge, err := e.backend.Binary(e.ctx, OpGe, length, zero)
			if err != nil {
				return nil, err
			}
			result = append(result, ge)
		}
	}
	return result, nil
}

func entryPredicates(entry state.Entry) []ir.Predicate {
	switch {
	case entry.Clause != nil:
		return []ir.Predicate{entry.Clause.Predicate}
	case entry.Path != nil:
		return []ir.Predicate{entry.Path.Predicate}
	}
	var result []ir.Predicate
	for _, alt := range entry.Choice {
		result = append(result, alt.Predicates()...)
	}
	return result
}

func (e *Encoder[C, E, S, F]) entry(entry state.Entry) (E, error) {
	switch {
	case entry.Clause != nil:
		return e.Predicate(entry.Clause.Predicate)
	case entry.Path != nil:
		return e.Predicate(entry.Path.Predicate)
	}
	return e.choice(entry.Choice)
}

func (e *Encoder[C, E, S, F]) conjunction(s *state.SymbolicState) (E, error) {
	var zero E
	entries := s.Entries()
	formulas := make([]E, 0, len(entries))
	for _, entry := range entries {
		f, err := e.entry(entry)
		if err != nil {
			return zero, err
		}
		formulas = append(formulas, f)
	}
	return e.all(formulas)
}

func (e *Encoder[C, E, S, F]) choice(alts []*state.SymbolicState) (E, error) {
	var zero E
	before := e.mem.clone()
	guards := make([]E, len(alts))
	after := make([]memory[E], len(alts))
	for i, alt := range alts {
		e.mem = before.clone()
		g, err := e.conjunction(alt)
		if err != nil {
			return zero, err
		}
		guards[i], after[i] = g, e.mem
	}

	merged := memory[E]{current: make(map[spaceKey]E, len(before.current)), allocs: before.allocs}
	for _, sp := range e.order {
		values := make([]E, len(after))
		same := true
		for i, m := range after {
			v, ok := m.current[sp.key()]
			if !ok {
				v = sp.initial
			}
			values[i] = v
			same = same && v == values[0]
		}
		if same {
			if values[0] != sp.initial {
				merged.current[sp.key()] = values[0]
			}
			continue
		}
		v := values[len(values)-1]
		for i := len(values) - 2; i >= 0; i-- {
			next, err := e.backend.Ite(e.ctx, guards[i], values[i], v)
			if err != nil {
				return zero, err
			}
			v = next
		}
		merged.current[sp.key()] = v
	}
	for _, m := range after {
		merged.allocs = append(merged.allocs, m.allocs[len(before.allocs):]...)
	}
	e.mem = merged
	return e.any(guards)
}

// Predicate encodes p into a boolean expression. Stores and allocations
// also update the encoder's heap.
func (e *Encoder[C, E, S, F]) Predicate(p ir.Predicate) (E, error) {
	var zero E
	if e.rewrite != nil {
		p = e.rewrite(p)
	}
	switch p := p.(type) {
	case *ir.Equality:
		return e.equal(p.LHV(), p.RHV())
	case *ir.Inequality:
		eq, err := e.equal(p.LHV(), p.RHV())
		if err != nil {
			return zero, err
		}
		return e.backend.Unary(e.ctx, OpNot, eq)
	case *ir.ArrayStore:
		ref, ok := p.Ref().(*ir.ArrayIndex)
		if !ok {
			return zero, e.fail(p.Ref(), "array store through %T", p.Ref())
		}
		sp, addr, err := e.element(ref)
		if err != nil {
			return zero, err
		}
		return e.store(sp, addr, p.Value())
	case *ir.FieldStore:
		ref, ok := p.Ref().(*ir.Field)
		if !ok {
			return zero, e.fail(p.Ref(), "field store through %T", p.Ref())
		}
		sp, addr, err := e.field(ref)
		if err != nil {
			return zero, err
		}
		return e.store(sp, addr, p.Value())
	case *ir.New:
		return e.allocate(p.LHV(), nil)
	case *ir.NewArray:
		return e.allocate(p.LHV(), p.Dimensions())
	case *ir.CallPredicate:
		if p.LHV() == nil {
			return e.backend.Bool(e.ctx, true)
		}
		return e.equal(p.LHV(), p.Call())
	}
	return zero, encodeError(e.backend.Name(), nil, "unknown predicate %s", p)
}

func (e *Encoder[C, E, S, F]) equal(l, r ir.Term) (E, error) {
	var zero E
	lhs, err := e.Term(l)
	if err != nil {
		return zero, err
	}
	rhs, err := e.Term(r)
	if err != nil {
		return zero, err
	}
	if s := e.backend.SortOf(e.ctx, lhs); s.Kind == SortBV {
		if rhs, err = e.fit(rhs, s.Width); err != nil {
			return zero, err
		}
	}
	return e.backend.Binary(e.ctx, OpEq, lhs, rhs)
}

// Term encodes t as a value of its native sort. Terms that read the heap
// are encoded against the current heap and are not memoized.
func (e *Encoder[C, E, S, F]) Term(t ir.Term) (E, error) {
	var zero E
	heap := e.readsHeap(t)
	if !heap {
		if v, ok := e.terms[t]; ok {
			return v, nil
		}
	}
	v, err := e.term(t)
	if err != nil {
		return zero, err
	}
	if !heap {
		e.terms[t] = v
	}
	if err := e.reference(t, v); err != nil {
		return zero, err
	}
	return v, nil
}

// reference remembers a reference encoded before a later allocation.
// Arguments, this and the constant pointers exist before the method runs, so
// they also differ from every allocation encoded ahead of them.
func (e *Encoder[C, E, S, F]) reference(t ir.Term, v E) error {
	if !t.Type().IsReference() || t.Type().Kind == ir.KindNull || e.known[v] {
		return nil
	}
	e.known[v] = true
	e.refs = append(e.refs, v)
	switch t.(type) {
	case *ir.Argument, *ir.This, *ir.StaticRef, *ir.ConstString, *ir.ConstClass:
		for _, p := range e.allocated {
			distinct, err := e.backend.Binary(e.ctx, OpNeq, v, p)
			if err != nil {
				return err
			}
			e.axioms = append(e.axioms, distinct)
		}
	}
	return nil
}

func (e *Encoder[C, E, S, F]) readsHeap(t ir.Term) bool {
	if v, ok := e.heap[t]; ok {
		return v
	}
	result := false
	switch t.(type) {
	case *ir.Load, *ir.ArrayLength, *ir.InstanceOf:
		result = true
	default:
		for _, sub := range t.SubTerms() {
			if e.readsHeap(sub) {
				result = true
				break
			}
		}
	}
	e.heap[t] = result
	return result
}

func (e *Encoder[C, E, S, F]) term(t ir.Term) (E, error) {
	var zero E
	switch t := t.(type) {
	case *ir.ConstBool:
		return e.backend.Bool(e.ctx, t.Value)
	case *ir.ConstInt:
		return e.backend.BV(e.ctx, width(t.Type()), t.Value)
	case *ir.ConstFloat:
		if t.Type().Kind == ir.KindFloat {
			return e.backend.Float(e.ctx, float32(t.Value))
		}
		return e.backend.Double(e.ctx, t.Value)
	case *ir.ConstNull:
		return e.backend.BV(e.ctx, WORD, 0)
	case *ir.ConstString:
		return e.pointer("string:" + t.Value)
	case *ir.ConstClass:
		return e.pointer("class:" + t.Class.String())
	case *ir.StaticRef:
		return e.pointer("static:" + t.Name())
	case *ir.Argument, *ir.Value, *ir.This, *ir.ReturnValue, *ir.Undef:
		return e.variable(t)
	case *ir.Load:
		var (
			sp   *space[E]
			addr E
			err  error
		)
		switch ref := t.Ref().(type) {
		case *ir.ArrayIndex:
			sp, addr, err = e.element(ref)
		case *ir.Field:
			sp, addr, err = e.field(ref)
		default:
			return zero, e.fail(t, "load through %T", ref)
		}
		if err != nil {
			return zero, err
		}
		return e.load(sp, addr)
	case *ir.ArrayLength:
		addr, err := e.Term(t.Array())
		if err != nil {
			return zero, err
		}
		sp, err := e.space(spaceKey{typ: t.Array().Type(), prop: LengthProperty}, ir.IntType)
		if err != nil {
			return zero, err
		}
		return e.load(sp, addr)
	case *ir.Binary:
		return e.binary(t)
	case *ir.Cmp:
		return e.cmp(t)
	case *ir.Neg:
		return e.neg(t)
	case *ir.Cast:
		return e.cast(t)
	case *ir.InstanceOf:
		return e.instanceOf(t)
	case *ir.Call:
		return e.call(t)
	case *ir.ArrayIndex, *ir.Field:
		return zero, e.fail(t, "reference used as a value")
	}
	return zero, e.fail(t, "unknown term %T", t)
}

func (e *Encoder[C, E, S, F]) variable(t ir.Term) (E, error) {
	var zero E
	sort, err := e.sortOf(t, t.Type())
	if err != nil {
		return zero, err
	}
	v, err := e.backend.Var(e.ctx, t.Name(), sort)
	if err != nil {
		return zero, err
	}
	if narrow(t.Type()) {
		n, err := e.normalize(v, t.Type())
		if err != nil {
			return zero, err
		}
		axiom, err := e.backend.Binary(e.ctx, OpEq, v, n)
		if err != nil {
			return zero, err
		}
		e.axioms = append(e.axioms, axiom)
	}
	return v, nil
}

// pointer returns a named non-null pointer.
func (e *Encoder[C, E, S, F]) pointer(name string) (E, error) {
	var zero E
	sort, err := e.native(nil, Sort{Kind: SortBV, Width: WORD})
	if err != nil {
		return zero, err
	}
	p, err := e.backend.Var(e.ctx, name, sort)
	if err != nil {
		return zero, err
	}
	null, err := e.backend.BV(e.ctx, WORD, 0)
	if err != nil {
		return zero, err
	}
	axiom, err := e.backend.Binary(e.ctx, OpNeq, p, null)
	if err != nil {
		return zero, err
	}
	e.axioms = append(e.axioms, axiom)
	return p, nil
}

var (
	logicalOps = map[ir.BinaryOp]Opcode{ir.And: OpAnd, ir.Or: OpOr, ir.Xor: OpXor}
	integerOps = map[ir.BinaryOp]Opcode{
		ir.Add:  OpAdd,
		ir.Sub:  OpSub,
		ir.Mul:  OpMul,
		ir.Div:  OpDiv,
		ir.Rem:  OpRem,
		ir.Shl:  OpShl,
		ir.Shr:  OpAshr,
		ir.Ushr: OpLshr,
		ir.And:  OpBvAnd,
		ir.Or:   OpBvOr,
		ir.Xor:  OpBvXor,
	}
	floatOps = map[ir.BinaryOp]Opcode{ir.Add: OpFAdd, ir.Sub: OpFSub, ir.Mul: OpFMul, ir.Div: OpFDiv, ir.Rem: OpFRem}
)

func (e *Encoder[C, E, S, F]) binary(t *ir.Binary) (E, error) {
	var zero E
	lhs, err := e.Term(t.LHS())
	if err != nil {
		return zero, err
	}
	rhs, err := e.Term(t.RHS())
	if err != nil {
		return zero, err
	}
	typ := t.Type()
	switch {
	case typ == ir.BoolType:
		op, ok := logicalOps[t.Op]
		if !ok {
			return zero, e.fail(t, "operator %s on booleans", t.Op)
		}
		return e.backend.Binary(e.ctx, op, lhs, rhs)
	case typ.IsIntegral():
		w := width(typ)
		if lhs, err = e.fit(lhs, w); err != nil {
			return zero, err
		}
		if rhs, err = e.fit(rhs, w); err != nil {
			return zero, err
		}
		if t.Op.IsShift() {
			mask, err := e.backend.BV(e.ctx, w, int64(w-1))
			if err != nil {
				return zero, err
			}
			if rhs, err = e.backend.Binary(e.ctx, OpBvAnd, rhs, mask); err != nil {
				return zero, err
			}
		}
		result, err := e.backend.Binary(e.ctx, integerOps[t.Op], lhs, rhs)
		if err != nil {
			return zero, err
		}
		return e.normalize(result, typ)
	case typ.IsFloating():
		op, ok := floatOps[t.Op]
		if !ok {
			return zero, e.fail(t, "operator %s on floats", t.Op)
		}
		if op == OpFRem {
			return e.truncatedRem(typ, lhs, rhs)
		}
		return e.backend.Binary(e.ctx, op, lhs, rhs)
	}
	return zero, e.fail(t, "arithmetic on %s", typ)
}

// truncatedRem encodes % on floats, whose result takes the sign of the
// dividend. fp.rem rounds the quotient to nearest, so its result r may have
// the other sign; then r+|y| (or r-|y|) is the truncated remainder, and it
// is exact.
func (e *Encoder[C, E, S, F]) truncatedRem(typ ir.Type, x, y E) (E, error) {
	var zero E
	r, err := e.backend.Binary(e.ctx, OpFRem, x, y)
	if err != nil {
		return zero, err
	}
	var z E
	if typ.Kind == ir.KindFloat {
		z, err = e.backend.Float(e.ctx, 0)
	} else {
		z, err = e.backend.Double(e.ctx, 0)
	}
	if err != nil {
		return zero, err
	}
	negY, err := e.backend.Unary(e.ctx, OpFNeg, y)
	if err != nil {
		return zero, err
	}
	yNeg, err := e.backend.Binary(e.ctx, OpFLt, y, z)
	if err != nil {
		return zero, err
	}
	abs, err := e.backend.Ite(e.ctx, yNeg, negY, y)
	if err != nil {
		return zero, err
	}

	// x > 0 && r < 0
	xPos, err := e.backend.Binary(e.ctx, OpFGt, x, z)
	if err != nil {
		return zero, err
	}
	rNeg, err := e.backend.Binary(e.ctx, OpFLt, r, z)
	if err != nil {
		return zero, err
	}
	under, err := e.backend.Binary(e.ctx, OpAnd, xPos, rNeg)
	if err != nil {
		return zero, err
	}
	// x < 0 && r > 0
	xNeg, err := e.backend.Binary(e.ctx, OpFLt, x, z)
	if err != nil {
		return zero, err
	}
	rPos, err := e.backend.Binary(e.ctx, OpFGt, r, z)
	if err != nil {
		return zero, err
	}
	over, err := e.backend.Binary(e.ctx, OpAnd, xNeg, rPos)
	if err != nil {
		return zero, err
	}

	up, err := e.backend.Binary(e.ctx, OpFAdd, r, abs)
	if err != nil {
		return zero, err
	}
	down, err := e.backend.Binary(e.ctx, OpFSub, r, abs)
	if err != nil {
		return zero, err
	}
	result, err := e.backend.Ite(e.ctx, over, down, r)
	if err != nil {
		return zero, err
	}
	return e.backend.Ite(e.ctx, under, up, result)
}

var (
	integerCmps = map[ir.CmpOp]Opcode{ir.Eq: OpEq, ir.Neq: OpNeq, ir.Lt: OpLt, ir.Le: OpLe, ir.Gt: OpGt, ir.Ge: OpGe}
	floatCmps   = map[ir.CmpOp]Opcode{ir.Eq: OpFEq, ir.Lt: OpFLt, ir.Le: OpFLe, ir.Gt: OpFGt, ir.Ge: OpFGe}
)

func (e *Encoder[C, E, S, F]) cmp(t *ir.Cmp) (E, error) {
	var zero E
	lhs, err := e.Term(t.LHS())
	if err != nil {
		return zero, err
	}
	rhs, err := e.Term(t.RHS())
	if err != nil {
		return zero, err
	}
	floating := t.LHS().Type().IsFloating() || t.RHS().Type().IsFloating()
	ls, rs := e.backend.SortOf(e.ctx, lhs), e.backend.SortOf(e.ctx, rhs)
	if ls.Kind == SortBV && rs.Kind == SortBV && ls.Width != rs.Width {
		w := ls.Width
		if rs.Width > w {
			w = rs.Width
		}
		if lhs, err = e.fit(lhs, w); err != nil {
			return zero, err
		}
		if rhs, err = e.fit(rhs, w); err != nil {
			return zero, err
		}
	}
	if !t.Op.IsBoolean() {
		return e.threeWay(t, lhs, rhs, floating)
	}
	if floating {
		if t.Op == ir.Neq {
			eq, err := e.backend.Binary(e.ctx, OpFEq, lhs, rhs)
			if err != nil {
				return zero, err
			}
			return e.backend.Unary(e.ctx, OpNot, eq)
		}
		return e.backend.Binary(e.ctx, floatCmps[t.Op], lhs, rhs)
	}
	if ls.Kind != SortBV && t.Op != ir.Eq && t.Op != ir.Neq {
		return zero, e.fail(t, "ordering of %s values", t.LHS().Type())
	}
	if t.LHS().Type().IsReference() && t.Op != ir.Eq && t.Op != ir.Neq {
		return zero, e.fail(t, "ordering of references")
	}
	return e.backend.Binary(e.ctx, integerCmps[t.Op], lhs, rhs)
}

// threeWay encodes cmp, cmpg and cmpl as -1, 0 or 1. Comparisons with NaN
// give 1 for cmpg and -1 otherwise.
func (e *Encoder[C, E, S, F]) threeWay(t *ir.Cmp, lhs, rhs E, floating bool) (E, error) {
	var zero E
	minus, err := e.backend.BV(e.ctx, WORD, -1)
	if err != nil {
		return zero, err
	}
	nought, err := e.backend.BV(e.ctx, WORD, 0)
	if err != nil {
		return zero, err
	}
	one, err := e.backend.BV(e.ctx, WORD, 1)
	if err != nil {
		return zero, err
	}
	ltOp, eqOp := OpLt, OpEq
	if floating {
		ltOp, eqOp = OpFLt, OpFEq
	}
	lt, err := e.backend.Binary(e.ctx, ltOp, lhs, rhs)
	if err != nil {
		return zero, err
	}
	eq, err := e.backend.Binary(e.ctx, eqOp, lhs, rhs)
	if err != nil {
		return zero, err
	}
	result, err := e.backend.Ite(e.ctx, eq, nought, one)
	if err != nil {
		return zero, err
	}
	if result, err = e.backend.Ite(e.ctx, lt, minus, result); err != nil {
		return zero, err
	}
	if !floating {
		return result, nil
	}
	lnum, err := e.backend.Binary(e.ctx, OpFEq, lhs, lhs)
	if err != nil {
		return zero, err
	}
	rnum, err := e.backend.Binary(e.ctx, OpFEq, rhs, rhs)
	if err != nil {
		return zero, err
	}
	ordered, err := e.backend.Binary(e.ctx, OpAnd, lnum, rnum)
	if err != nil {
		return zero, err
	}
	unordered := minus
	if t.Op == ir.Cmpg {
		unordered = one
	}
	return e.backend.Ite(e.ctx, ordered, result, unordered)
}

func (e *Encoder[C, E, S, F]) neg(t *ir.Neg) (E, error) {
	var zero E
	operand, err := e.Term(t.Operand())
	if err != nil {
		return zero, err
	}
	typ := t.Type()
	switch {
	case typ == ir.BoolType:
		return e.backend.Unary(e.ctx, OpNot, operand)
	case typ.IsIntegral():
		result, err := e.backend.Unary(e.ctx, OpNeg, operand)
		if err != nil {
			return zero, err
		}
		return e.normalize(result, typ)
	case typ.IsFloating():
		return e.backend.Unary(e.ctx, OpFNeg, operand)
	}
	return zero, e.fail(t, "negation of %s", typ)
}

func (e *Encoder[C, E, S, F]) cast(t *ir.Cast) (E, error) {
	var zero E
	operand, err := e.Term(t.Operand())
	if err != nil {
		return zero, err
	}
	from, to := t.Operand().Type(), t.Type()
	switch {
	case from == to:
		return operand, nil
	case from.IsIntegral() && to.IsIntegral():
		result, err := e.fit(operand, width(to))
		if err != nil {
			return zero, err
		}
		return e.normalize(result, to)
	case from == ir.BoolType && to.IsIntegral():
		one, err := e.backend.BV(e.ctx, width(to), 1)
		if err != nil {
			return zero, err
		}
		nought, err := e.backend.BV(e.ctx, width(to), 0)
		if err != nil {
			return zero, err
		}
		return e.backend.Ite(e.ctx, operand, one, nought)
	case from.IsIntegral() && to == ir.BoolType:
		nought, err := e.backend.BV(e.ctx, width(from), 0)
		if err != nil {
			return zero, err
		}
		return e.backend.Binary(e.ctx, OpNeq, operand, nought)
	case from.IsIntegral() && to.IsFloating(), from.IsFloating() && to.IsFloating():
		target, _ := sortFor(to)
		return e.backend.Convert(e.ctx, operand, target)
	case from.IsFloating() && to.IsIntegral():
		result, err := e.backend.Convert(e.ctx, operand, Sort{Kind: SortBV, Width: width(to)})
		if err != nil {
			return zero, err
		}
		return e.normalize(result, to)
	case from.IsReference() && to.IsReference():
		return operand, nil
	}
	return zero, e.fail(t, "cast from %s to %s", from, to)
}

// instanceOf holds for non-null references whose runtime type is exactly
// the class. Subtyping is not modelled.
func (e *Encoder[C, E, S, F]) instanceOf(t *ir.InstanceOf) (E, error) {
	var zero E
	p, err := e.Term(t.Operand())
	if err != nil {
		return zero, err
	}
	null, err := e.backend.BV(e.ctx, WORD, 0)
	if err != nil {
		return zero, err
	}
	nonNull, err := e.backend.Binary(e.ctx, OpNeq, p, null)
	if err != nil {
		return zero, err
	}
	types, err := e.space(spaceKey{prop: TypeProperty}, ir.IntType)
	if err != nil {
		return zero, err
	}
	actual, err := e.load(types, p)
	if err != nil {
		return zero, err
	}
	tag, err := e.backend.BV(e.ctx, WORD, TypeTag(t.Class))
	if err != nil {
		return zero, err
	}
	tagged, err := e.backend.Binary(e.ctx, OpEq, actual, tag)
	if err != nil {
		return zero, err
	}
	return e.backend.Binary(e.ctx, OpAnd, nonNull, tagged)
}

// call encodes a call as an uninterpreted function of its receiver and
// arguments.
func (e *Encoder[C, E, S, F]) call(t *ir.Call) (E, error) {
	var zero E
	rng, err := e.sortOf(t, t.Type())
	if err != nil {
		return zero, err
	}
	subs := t.SubTerms()
	if len(subs) == 0 {
		return e.backend.Var(e.ctx, t.Method+"()", rng)
	}
	args := make([]E, len(subs))
	domain := make([]S, len(subs))
	sig := make([]string, len(subs))
	for i, sub := range subs {
		if args[i], err = e.Term(sub); err != nil {
			return zero, err
		}
		if domain[i], err = e.sortOf(sub, sub.Type()); err != nil {
			return zero, err
		}
		s, _ := sortFor(sub.Type())
		sig[i] = s.String()
	}
	result, _ := sortFor(t.Type())
	key := t.Method + "(" + strings.Join(sig, ",") + ")" + result.String()
	fn, ok := e.funcs[key]
	if !ok {
		if fn, err = e.backend.Func(e.ctx, t.Method, domain, rng); err != nil {
			return zero, err
		}
		e.funcs[key] = fn
	}
	return e.backend.Apply(e.ctx, fn, args...)
}

// allocate makes lhv a fresh non-null pointer distinct from every earlier
// allocation on the same path and from every reference encoded before it,
// and records its runtime type and length.
func (e *Encoder[C, E, S, F]) allocate(lhv ir.Term, dims []ir.Term) (E, error) {
	var zero E
	before := e.refs[:len(e.refs):len(e.refs)]
	p, err := e.Term(lhv)
	if err != nil {
		return zero, err
	}
	null, err := e.backend.BV(e.ctx, WORD, 0)
	if err != nil {
		return zero, err
	}
	nonNull, err := e.backend.Binary(e.ctx, OpNeq, p, null)
	if err != nil {
		return zero, err
	}
	facts := []E{nonNull}
	for _, other := range e.mem.allocs {
		distinct, err := e.backend.Binary(e.ctx, OpNeq, p, other)
		if err != nil {
			return zero, err
		}
		facts = append(facts, distinct)
	}
	for _, other := range before {
		if other == p || e.fresh[other] {
			continue
		}
		distinct, err := e.backend.Binary(e.ctx, OpNeq, p, other)
		if err != nil {
			return zero, err
		}
		facts = append(facts, distinct)
	}
	e.mem.allocs = append(e.mem.allocs, p)
	e.fresh[p] = true
	e.allocated = append(e.allocated, p)

	types, err := e.space(spaceKey{prop: TypeProperty}, ir.IntType)
	if err != nil {
		return zero, err
	}
	tag, err := e.backend.BV(e.ctx, WORD, TypeTag(lhv.Type()))
	if err != nil {
		return zero, err
	}
	if err := e.write(types, p, tag); err != nil {
		return zero, err
	}
	if len(dims) > 0 {
		n, err := e.Term(dims[0])
		if err != nil {
			return zero, err
		}
		lengths, err := e.space(spaceKey{typ: lhv.Type(), prop: LengthProperty}, ir.IntType)
		if err != nil {
			return zero, err
		}
		if err := e.write(lengths, p, n); err != nil {
			return zero, err
		}
	}
	return e.all(facts)
}

func (e *Encoder[C, E, S, F]) element(ref *ir.ArrayIndex) (*space[E], E, error) {
	var zero E
	base, err := e.Term(ref.Array())
	if err != nil {
		return nil, zero, err
	}
	index, err := e.Term(ref.Index())
	if err != nil {
		return nil, zero, err
	}
	if index, err = e.fit(index, WORD); err != nil {
		return nil, zero, err
	}
	addr, err := e.backend.Binary(e.ctx, OpAdd, base, index)
	if err != nil {
		return nil, zero, err
	}
	sp, err := e.space(spaceKey{typ: ref.Array().Type(), prop: ElementsProperty}, ref.Type())
	return sp, addr, err
}

func (e *Encoder[C, E, S, F]) field(ref *ir.Field) (*space[E], E, error) {
	var zero E
	addr, err := e.Term(ref.Owner())
	if err != nil {
		return nil, zero, err
	}
	sp, err := e.space(spaceKey{typ: ref.Owner().Type(), prop: ref.Field}, ref.Type())
	return sp, addr, err
}

func (e *Encoder[C, E, S, F]) space(key spaceKey, value ir.Type) (*space[E], error) {
	if sp, ok := e.spaces[key]; ok {
		return sp, nil
	}
	valueSort, ok := sortFor(value)
	if !ok {
		return nil, e.fail(nil, "no sort for %s values", value)
	}
	rng, err := e.native(nil, valueSort)
	if err != nil {
		return nil, err
	}
	ptr, err := e.native(nil, Sort{Kind: SortBV, Width: WORD})
	if err != nil {
		return nil, err
	}
	arraySort, err := e.backend.ArraySort(e.ctx, ptr, rng)
	if err != nil {
		return nil, err
	}
	id := len(e.order)
	initial, err := e.backend.Var(e.ctx, fmt.Sprintf("mem%d", id), arraySort)
	if err != nil {
		return nil, err
	}
	sp := &space[E]{
		MemorySpace: MemorySpace{ID: id, Type: key.typ, Property: key.prop},
		value:       value,
		sort:        valueSort,
		initial:     initial,
		seen:        make(map[E]bool),
	}
	e.spaces[key] = sp
	e.order = append(e.order, sp)
	log.Debugf("memory space %s of %s", sp.MemorySpace, value)

	if key.prop == LengthProperty && e.quantifiers {
		if err := e.lengthAxiom(sp, ptr); err != nil {
			return nil, err
		}
	}
	return sp, nil
}

// lengthAxiom asserts that no array has a negative initial length.
func (e *Encoder[C, E, S, F]) lengthAxiom(sp *space[E], ptr S) error {
	p, err := e.backend.Bound(e.ctx, fmt.Sprintf("p%d", sp.ID), ptr)
	if err != nil {
		return err
	}
	length, err := e.backend.Select(e.ctx, sp.initial, p)
	if err != nil {
		return err
	}
	nought, err := e.backend.BV(e.ctx, WORD, 0)
	if err != nil {
		return err
	}
	ge, err := e.backend.Binary(e.ctx, OpGe, length, nought)
	if err != nil {
		return err
	}
	axiom, err := e.backend.Forall(e.ctx, []E{p}, ge, []E{length})
	if err != nil {
		return err
	}
	e.axioms = append(e.axioms, axiom)
	return nil
}

func (e *Encoder[C, E, S, F]) current(sp *space[E]) E {
	if v, ok := e.mem.current[sp.key()]; ok {
		return v
	}
	return sp.initial
}

func (e *Encoder[C, E, S, F]) load(sp *space[E], addr E) (E, error) {
	sp.touch(addr)
	return e.backend.Select(e.ctx, e.current(sp), addr)
}

func (e *Encoder[C, E, S, F]) write(sp *space[E], addr, value E) error {
	if sp.sort.Kind == SortBV {
		var err error
		if value, err = e.fit(value, sp.sort.Width); err != nil {
			return err
		}
	}
	next, err := e.backend.Store(e.ctx, e.current(sp), addr, value)
	if err != nil {
		return err
	}
	sp.touch(addr)
	e.mem.current[sp.key()] = next
	return nil
}

func (e *Encoder[C, E, S, F]) store(sp *space[E], addr E, value ir.Term) (E, error) {
	var zero E
	v, err := e.Term(value)
	if err != nil {
		return zero, err
	}
	if err := e.write(sp, addr, v); err != nil {
		return zero, err
	}
	return e.backend.Bool(e.ctx, true)
}

func (e *Encoder[C, E, S, F]) all(formulas []E) (E, error) {
	return e.fold(OpAnd, true, formulas)
}

func (e *Encoder[C, E, S, F]) any(formulas []E) (E, error) {
	return e.fold(OpOr, false, formulas)
}

func (e *Encoder[C, E, S, F]) fold(op Opcode, unit bool, formulas []E) (E, error) {
	if len(formulas) == 0 {
		return e.backend.Bool(e.ctx, unit)
	}
	result := formulas[0]
	for _, f := range formulas[1:] {
		next, err := e.backend.Binary(e.ctx, op, result, f)
		if err != nil {
			return result, err
		}
		result = next
	}
	return result, nil
}

// fit sign-extends or truncates a bitvector to width bits.
func (e *Encoder[C, E, S, F]) fit(x E, width uint) (E, error) {
	s := e.backend.SortOf(e.ctx, x)
	switch {
	case s.Kind != SortBV || s.Width == width:
		return x, nil
	case s.Width < width:
		return e.backend.Extend(e.ctx, x, width-s.Width, true)
	}
	return e.backend.Extract(e.ctx, x, width-1, 0)
}

// normalize wraps a WORD holding a byte, short or char to the range of its
// type.
func (e *Encoder[C, E, S, F]) normalize(x E, typ ir.Type) (E, error) {
	var (
		bits   uint
		signed bool
	)
	switch typ.Kind {
	case ir.KindByte:
		bits, signed = 8, true
	case ir.KindShort:
		bits, signed = 16, true
	case ir.KindChar:
		bits, signed = 16, false
	default:
		return x, nil
	}
	low, err := e.backend.Extract(e.ctx, x, bits-1, 0)
	if err != nil {
		return low, err
	}
	return e.backend.Extend(e.ctx, low, WORD-bits, signed)
}

func (e *Encoder[C, E, S, F]) sortOf(t ir.Term, typ ir.Type) (S, error) {
	s, ok := sortFor(typ)
	if !ok {
		var zero S
		return zero, e.fail(t, "no sort for type %s", typ)
	}
	return e.native(t, s)
}

func (e *Encoder[C, E, S, F]) native(t ir.Term, s Sort) (S, error) {
	if native, ok := e.sorts[s]; ok {
		return native, nil
	}
	var (
		native S
		err    error
	)
	switch s.Kind {
	case SortBool:
		native, err = e.backend.BoolSort(e.ctx)
	case SortBV:
		native, err = e.backend.BVSort(e.ctx, s.Width)
	case SortFloat:
		native, err = e.backend.FloatSort(e.ctx, false)
	case SortDouble:
		native, err = e.backend.FloatSort(e.ctx, true)
	default:
		err = e.fail(t, "no native sort for %s", s)
	}
	if err != nil {
		return native, err
	}
	e.sorts[s] = native
	return native, nil
}

// sortFor maps an IR type to its sort. Integral types narrower than long
// share the WORD sort.
func sortFor(typ ir.Type) (Sort, bool) {
	switch {
	case typ == ir.BoolType:
		return Sort{Kind: SortBool}, true
	case typ.Kind == ir.KindLong:
		return Sort{Kind: SortBV, Width: DWORD}, true
	case typ.IsIntegral(), typ.IsReference():
		return Sort{Kind: SortBV, Width: WORD}, true
	case typ.Kind == ir.KindFloat:
		return Sort{Kind: SortFloat}, true
	case typ.Kind == ir.KindDouble:
		return Sort{Kind: SortDouble}, true
	}
	return Sort{}, false
}

func width(typ ir.Type) uint {
	if typ.Kind == ir.KindLong {
		return DWORD
	}
	return WORD
}

func narrow(typ ir.Type) bool {
	switch typ.Kind {
	case ir.KindByte, ir.KindShort, ir.KindChar:
		return true
	}
	return false
}
