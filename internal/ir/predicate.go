package ir

import (
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/cespare/xxhash/v2"
)

type PredicateType uint8

const (
	State PredicateType = iota
	Path
	Assume
	Axiom
)

var predicateTypes = [...]string{
	State:  "S",
	Path:   "P",
	Assume: "A",
	Axiom:  "X",
}

func (t PredicateType) String() string {
	if int(t) < len(predicateTypes) {
		return predicateTypes[t]
	}
	return fmt.Sprintf("PredicateType<%d>", t)
}

// Predicate is an immutable statement over terms.
type Predicate interface {
	Type() PredicateType
	Operands() []Term
	Hash() uint64
	String() string

	rebuild(f *Factory, ops []Term) Predicate
}

type predicateBase struct {
	typ  PredicateType
	ops  []Term
	text string
	hash uint64
}

func (p *predicateBase) Type() PredicateType { return p.typ }
func (p *predicateBase) Operands() []Term    { return p.ops }
func (p *predicateBase) Hash() uint64        { return p.hash }
func (p *predicateBase) String() string      { return "@" + p.typ.String() + " " + p.text }

// EqualPredicates reports whether two predicates are structurally equal.
func EqualPredicates(a, b Predicate) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.Hash() != b.Hash() || reflect.TypeOf(a) != reflect.TypeOf(b) || a.Type() != b.Type() {
		return false
	}
	if a.String() != b.String() {
		return false
	}
	as, bs := a.Operands(), b.Operands()
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if !Equal(as[i], bs[i]) {
			return false
		}
	}
	return true
}

func hashPredicate(variant string, typ PredicateType, text string, ops []Term) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(variant)
	_, _ = h.Write([]byte{byte(typ)})
	_, _ = h.WriteString(text)
	var buf [8]byte
	for _, o := range ops {
		binary.LittleEndian.PutUint64(buf[:], o.Hash())
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// Equality states LHV == RHV. As a State predicate it is an assignment, as a
// Path predicate a branch condition with RHV usually a boolean constant.
type Equality struct {
	predicateBase
}

func (p *Equality) LHV() Term { return p.ops[0] }
func (p *Equality) RHV() Term { return p.ops[1] }

func (p *Equality) rebuild(f *Factory, ops []Term) Predicate {
	return f.Equality(p.typ, ops[0], ops[1])
}

type Inequality struct {
	predicateBase
}

func (p *Inequality) LHV() Term { return p.ops[0] }
func (p *Inequality) RHV() Term { return p.ops[1] }

func (p *Inequality) rebuild(f *Factory, ops []Term) Predicate {
	return f.Inequality(p.typ, ops[0], ops[1])
}

// ArrayStore writes Value into the cell referenced by an ArrayIndex term.
type ArrayStore struct {
	predicateBase
}

func (p *ArrayStore) Ref() Term   { return p.ops[0] }
func (p *ArrayStore) Value() Term { return p.ops[1] }

func (p *ArrayStore) rebuild(f *Factory, ops []Term) Predicate {
	return f.ArrayStore(p.typ, ops[0], ops[1])
}

// FieldStore writes Value into the field referenced by a Field term.
type FieldStore struct {
	predicateBase
}

func (p *FieldStore) Ref() Term   { return p.ops[0] }
func (p *FieldStore) Value() Term { return p.ops[1] }

func (p *FieldStore) rebuild(f *Factory, ops []Term) Predicate {
	return f.FieldStore(p.typ, ops[0], ops[1])
}

// New allocates a fresh object of LHV's type.
type New struct {
	predicateBase
}

func (p *New) LHV() Term { return p.ops[0] }

func (p *New) rebuild(f *Factory, ops []Term) Predicate {
	return f.New(p.typ, ops[0])
}

// NewArray allocates an array; Dimensions holds one length per dimension.
type NewArray struct {
	predicateBase
}

func (p *NewArray) LHV() Term          { return p.ops[0] }
func (p *NewArray) Dimensions() []Term { return p.ops[1:] }

func (p *NewArray) rebuild(f *Factory, ops []Term) Predicate {
	return f.NewArray(p.typ, ops[0], ops[1:]...)
}

// CallPredicate records a call; LHV is nil for calls whose result is unused.
type CallPredicate struct {
	predicateBase
	hasLHV bool
}

func (p *CallPredicate) LHV() Term {
	if !p.hasLHV {
		return nil
	}
	return p.ops[0]
}

func (p *CallPredicate) Call() *Call {
	return p.ops[len(p.ops)-1].(*Call)
}

func (p *CallPredicate) rebuild(f *Factory, ops []Term) Predicate {
	call, ok := ops[len(ops)-1].(*Call)
	switch {
	case ok && p.hasLHV:
		return f.CallPredicate(p.typ, ops[0], call)
	case ok:
		return f.CallPredicate(p.typ, nil, call)
	case p.hasLHV:
		// the call was rewritten into a plain value
		return f.Equality(p.typ, ops[0], ops[1])
	default:
		return f.Equality(p.typ, f.Bool(true), f.Bool(true))
	}
}

// PathClauseType classifies why a branch condition exists.
type PathClauseType uint8

const (
	ConditionCheck PathClauseType = iota
	NullCheck
	TypeCheck
	OverloadCheck
	BoundsCheck
)

var pathClauseTypes = [...]string{
	ConditionCheck: "CONDITION_CHECK",
	NullCheck:      "NULL_CHECK",
	TypeCheck:      "TYPE_CHECK",
	OverloadCheck:  "OVERLOAD_CHECK",
	BoundsCheck:    "BOUNDS_CHECK",
}

func (t PathClauseType) String() string {
	if int(t) < len(pathClauseTypes) {
		return pathClauseTypes[t]
	}
	return fmt.Sprintf("PathClauseType<%d>", t)
}
