// Package lowering translates method instructions into IR predicates: state
// predicates per instruction, path predicates per branch edge and phi
// predicates per incoming edge.
package lowering

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"gstate/internal/cfg"
	"gstate/internal/ir"
)

// Edge identifies a control transfer by its target and the terminator
// leaving the source block.
type Edge struct {
	Successor  *cfg.BasicBlock
	Terminator cfg.Terminator
}

// PhiKey identifies a phi assignment along one incoming edge.
type PhiKey struct {
	Pred *cfg.BasicBlock
	Phi  *cfg.PhiInst
}

type PathPredicate struct {
	Kind      ir.PathClauseType
	Predicate ir.Predicate
}

// Result holds everything lowered for one method.
type Result struct {
	Method  *cfg.Method
	Factory *ir.Factory
	// States maps an instruction to the state predicates it contributes, in
	// order. Instructions without effect have no entry.
	States map[cfg.Instruction][]ir.Predicate
	Paths  map[Edge][]PathPredicate
	Phis   map[PhiKey]ir.Predicate

	terms map[cfg.Value]ir.Term
}

// Term returns the term a value was lowered to.
func (r *Result) Term(v cfg.Value) (ir.Term, bool) {
	t, ok := r.terms[v]
	return t, ok
}

// Error is an instruction shape that cannot be lowered.
type Error struct {
	Method      string
	Instruction string
	Reason      string
}

func (e *Error) Error() string {
	return fmt.Sprintf("cannot lower %q in %s: %s", e.Instruction, e.Method, e.Reason)
}

type lowerer struct {
	f      *ir.Factory
	m      *cfg.Method
	result *Result
	// first constant whose value has no term
	bad *cfg.Constant
}

// Lower translates every instruction of m. Any unsupported instruction fails
// the whole method.
func Lower(f *ir.Factory, m *cfg.Method) (*Result, error) {
	l := &lowerer{
		f: f,
		m: m,
		result: &Result{
			Method:  m,
			Factory: f,
			States:  make(map[cfg.Instruction][]ir.Predicate),
			Paths:   make(map[Edge][]PathPredicate),
			Phis:    make(map[PhiKey]ir.Predicate),
			terms:   make(map[cfg.Value]ir.Term),
		},
	}
	for _, block := range m.Blocks {
		for _, inst := range block.Instructions {
			if err := l.instruction(inst); err != nil {
				return nil, err
			}
			if l.bad != nil {
				return nil, l.fail(inst, "constant of type %s holds a %T", l.bad.Type(), l.bad.Value)
			}
		}
	}
	log.Debugf("lowered %s: %d state, %d path, %d phi predicates",
		m, len(l.result.States), len(l.result.Paths), len(l.result.Phis))
	return l.result, nil
}

func (l *lowerer) fail(inst cfg.Instruction, format string, args ...interface{}) error {
	return &Error{Method: l.m.String(), Instruction: inst.String(), Reason: fmt.Sprintf(format, args...)}
}

// term maps a value to its term. The memo table keeps one term instance per
// value.
func (l *lowerer) term(v cfg.Value) ir.Term {
	if t, ok := l.result.terms[v]; ok {
		return t
	}
	var t ir.Term
	switch v := v.(type) {
	case *cfg.Argument:
		t = l.f.Argument(v.Index, v.Name(), v.Type())
	case *cfg.This:
		t = l.f.This(v.Type())
	case *cfg.Constant:
		t = l.constant(v)
	default:
		t = l.f.Value(v.Name(), v.Type())
	}
	l.result.terms[v] = t
	return t
}

func (l *lowerer) constant(c *cfg.Constant) ir.Term {
	switch v := c.Value.(type) {
	case nil:
		return l.f.Null()
	case bool:
		return l.f.Bool(v)
	case int64:
		switch {
		case c.Type().Kind == ir.KindFloat:
			return l.f.Float(float32(v))
		case c.Type().Kind == ir.KindDouble:
			return l.f.Double(float64(v))
		case c.Type().IsIntegral():
			return l.f.Integral(c.Type(), v)
		}
		return l.f.Long(v)
	case float64:
		if c.Type().Kind == ir.KindFloat {
			return l.f.Float(float32(v))
		}
		return l.f.Double(v)
	case string:
		return l.f.StringConst(v)
	case ir.Type:
		return l.f.Class(v)
	}
	if l.bad == nil {
		l.bad = c
	}
	return l.f.Undef(c.Type())
}

func (l *lowerer) state(inst cfg.Instruction, p ir.Predicate) {
	l.result.States[inst] = append(l.result.States[inst], p)
}

func (l *lowerer) assign(inst cfg.Instruction, lhv cfg.Value, rhv ir.Term) {
	l.state(inst, l.f.Equality(ir.State, l.term(lhv), rhv))
}

func (l *lowerer) path(succ *cfg.BasicBlock, term cfg.Terminator, kind ir.PathClauseType, cond ir.Term, value bool) {
	edge := Edge{Successor: succ, Terminator: term}
	p := l.f.Equality(ir.Path, cond, l.f.Bool(value))
	l.result.Paths[edge] = append(l.result.Paths[edge], PathPredicate{Kind: kind, Predicate: p})
}

func (l *lowerer) owner(owner cfg.Value, class ir.Type) ir.Term {
	if owner == nil {
		return l.f.StaticRef(class)
	}
	return l.term(owner)
}

func (l *lowerer) instruction(inst cfg.Instruction) error {
	switch inst := inst.(type) {
	case *cfg.BinaryInst:
		l.assign(inst, inst, l.f.Binary(inst.Op, l.term(inst.LHS), l.term(inst.RHS)))
	case *cfg.CmpInst:
		l.assign(inst, inst, l.f.Cmp(inst.Op, l.term(inst.LHS), l.term(inst.RHS)))
	case *cfg.NegInst:
		l.assign(inst, inst, l.f.Neg(l.term(inst.Operand)))
	case *cfg.CastInst:
		l.assign(inst, inst, l.f.Cast(inst.Type(), l.term(inst.Operand)))
	case *cfg.InstanceOfInst:
		l.assign(inst, inst, l.f.InstanceOf(l.term(inst.Operand), inst.Class))
	case *cfg.NewInst:
		l.state(inst, l.f.New(ir.State, l.term(inst)))
	case *cfg.NewArrayInst:
		if len(inst.Dimensions) == 0 {
			return l.fail(inst, "array allocation without dimensions")
		}
		dims := make([]ir.Term, len(inst.Dimensions))
		for i, d := range inst.Dimensions {
			dims[i] = l.term(d)
		}
		l.state(inst, l.f.NewArray(ir.State, l.term(inst), dims...))
	case *cfg.ArrayLoadInst:
		l.assign(inst, inst, l.f.Load(l.f.ArrayIndex(l.term(inst.Array), l.term(inst.Index))))
	case *cfg.ArrayStoreInst:
		ref := l.f.ArrayIndex(l.term(inst.Array), l.term(inst.Index))
		l.state(inst, l.f.ArrayStore(ir.State, ref, l.term(inst.Value)))
	case *cfg.ArrayLengthInst:
		l.assign(inst, inst, l.f.ArrayLength(l.term(inst.Array)))
	case *cfg.FieldLoadInst:
		field := l.f.Field(l.owner(inst.Owner, inst.Class), inst.Field, inst.Type())
		l.assign(inst, inst, l.f.Load(field))
	case *cfg.FieldStoreInst:
		field := l.f.Field(l.owner(inst.Owner, inst.Class), inst.Field, inst.Value.Type())
		l.state(inst, l.f.FieldStore(ir.State, field, l.term(inst.Value)))
	case *cfg.CallInst:
		l.call(inst)
	case *cfg.PhiInst:
		for _, e := range inst.Edges {
			key := PhiKey{Pred: e.Pred, Phi: inst}
			l.result.Phis[key] = l.f.Equality(ir.State, l.term(inst), l.term(e.Value))
		}
	case *cfg.ReturnInst:
		if inst.Value != nil {
			l.state(inst, l.f.Equality(ir.State, l.f.ReturnValue(l.m.ReturnType), l.term(inst.Value)))
		}
	case *cfg.BranchInst:
		cond := l.term(inst.Cond)
		kind := classify(inst.Cond)
		l.path(inst.True, inst, kind, cond, true)
		l.path(inst.False, inst, kind, cond, false)
	case *cfg.SwitchInst:
		return l.lookupSwitch(inst)
	case *cfg.TableSwitchInst:
		return l.tableSwitch(inst)
	case *cfg.CatchInst:
		l.term(inst)
	case *cfg.JumpInst, *cfg.ThrowInst, *cfg.UnreachableInst,
		*cfg.EnterMonitorInst, *cfg.ExitMonitorInst:
	default:
		return l.fail(inst, "unsupported instruction %T", inst)
	}
	return nil
}

func (l *lowerer) call(inst *cfg.CallInst) {
	args := make([]ir.Term, len(inst.Args))
	for i, a := range inst.Args {
		args[i] = l.term(a)
	}
	var owner ir.Term
	method := inst.Method
	if inst.Owner != nil {
		owner = l.term(inst.Owner)
	} else if inst.Class.Class != "" {
		method = inst.Class.Class + "." + method
	}
	call := l.f.Call(inst.Type(), method, owner, args...).(*ir.Call)
	if inst.Type() == ir.VoidType {
		l.state(inst, l.f.CallPredicate(ir.State, nil, call))
		return
	}
	l.state(inst, l.f.CallPredicate(ir.State, l.term(inst), call))
}

// lookupSwitch gives case i the condition key == c_i and the default the
// negated disjunction of all case conditions.
func (l *lowerer) lookupSwitch(inst *cfg.SwitchInst) error {
	key := l.term(inst.Key)
	conds := make([]ir.Term, len(inst.Cases))
	for i, c := range inst.Cases {
		conds[i] = l.f.Cmp(ir.Eq, key, l.term(c.Value))
		l.path(c.Target, inst, ir.ConditionCheck, conds[i], true)
	}
	l.path(inst.Default, inst, ir.ConditionCheck, l.f.OrAll(conds...), false)
	return nil
}

// tableSwitch gives target i the condition key == min+i and the default
// the complement of [min, max]. An empty range always takes the default.
func (l *lowerer) tableSwitch(inst *cfg.TableSwitchInst) error {
	lo, ok := intConstant(inst.Min)
	if !ok {
		return l.fail(inst, "table switch lower bound %s is not an integer constant", inst.Min.Name())
	}
	hi, ok := intConstant(inst.Max)
	if !ok {
		return l.fail(inst, "table switch upper bound %s is not an integer constant", inst.Max.Name())
	}
	key := l.term(inst.Key)
	if !key.Type().IsIntegral() {
		return l.fail(inst, "table switch key of type %s", key.Type())
	}
	if lo > hi {
		if len(inst.Targets) != 0 {
			return l.fail(inst, "empty range [%d, %d] with %d targets", lo, hi, len(inst.Targets))
		}
		l.path(inst.Default, inst, ir.ConditionCheck, l.f.Bool(true), true)
		return nil
	}
	// hi-lo+1 overflows for the full int64 range
	if span := uint64(hi) - uint64(lo); len(inst.Targets) == 0 || span != uint64(len(inst.Targets)-1) {
		return l.fail(inst, "range [%d, %d] with %d targets", lo, hi, len(inst.Targets))
	}
	for i, target := range inst.Targets {
		value := l.f.Integral(key.Type(), lo+int64(i))
		l.path(target, inst, ir.ConditionCheck, l.f.Cmp(ir.Eq, key, value), true)
	}
	inRange := l.f.Binary(ir.And,
		l.f.Cmp(ir.Le, l.f.Integral(key.Type(), lo), key),
		l.f.Cmp(ir.Le, key, l.f.Integral(key.Type(), hi)))
	l.path(inst.Default, inst, ir.ConditionCheck, inRange, false)
	return nil
}

func intConstant(v cfg.Value) (int64, bool) {
	c, ok := v.(*cfg.Constant)
	if !ok || !c.Type().IsIntegral() {
		return 0, false
	}
	n, ok := c.Value.(int64)
	return n, ok
}

// classify derives the path clause type from the instruction defining a
// branch condition.
func classify(cond cfg.Value) ir.PathClauseType {
	switch c := cond.(type) {
	case *cfg.InstanceOfInst:
		return ir.TypeCheck
	case *cfg.CmpInst:
		for _, operand := range []cfg.Value{c.LHS, c.RHS} {
			if k, ok := operand.(*cfg.Constant); ok && k.Value == nil {
				return ir.NullCheck
			}
		}
		for _, operand := range []cfg.Value{c.LHS, c.RHS} {
			if _, ok := operand.(*cfg.ArrayLengthInst); ok {
				return ir.BoundsCheck
			}
		}
	case *cfg.NegInst:
		return classify(c.Operand)
	}
	return ir.ConditionCheck
}
