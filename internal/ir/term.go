// Package ir contains the term and predicate representation that symbolic
// states are built from.
package ir

import (
	"encoding/binary"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Term is an immutable value node. Terms are compared structurally: two
// terms are equal when their variant, type, name and subterms are equal.
// Terms built by one Factory are interned, so equal terms from the same
// factory are also the same pointer.
type Term interface {
	Type() Type
	Name() string
	SubTerms() []Term
	Hash() uint64
	String() string

	rebuild(f *Factory, subs []Term) Term
}

type termBase struct {
	typ  Type
	name string
	subs []Term
	hash uint64
}

func (t *termBase) Type() Type       { return t.typ }
func (t *termBase) Name() string     { return t.name }
func (t *termBase) SubTerms() []Term { return t.subs }
func (t *termBase) Hash() uint64     { return t.hash }
func (t *termBase) String() string   { return t.name }

// Equal reports whether two terms are structurally equal.
func Equal(a, b Term) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.Hash() != b.Hash() || reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	if a.Type() != b.Type() || a.Name() != b.Name() {
		return false
	}
	if arg, ok := a.(*Argument); ok && arg.Index != b.(*Argument).Index {
		return false
	}
	as, bs := a.SubTerms(), b.SubTerms()
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

func hashTerm(variant string, typ Type, name string, subs []Term) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(variant)
	_, _ = h.WriteString(typ.String())
	_, _ = h.WriteString(name)
	var buf [8]byte
	for _, s := range subs {
		binary.LittleEndian.PutUint64(buf[:], s.Hash())
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// IsConst reports whether t is a constant literal.
func IsConst(t Term) bool {
	switch t.(type) {
	case *ConstBool, *ConstInt, *ConstFloat, *ConstString, *ConstNull, *ConstClass:
		return true
	}
	return false
}

// IsVariable reports whether t names a free value, as opposed to a constant
// or a compound expression.
func IsVariable(t Term) bool {
	switch t.(type) {
	case *Argument, *Value, *ReturnValue, *This, *StaticRef, *Undef:
		return true
	}
	return false
}

// Walk calls fn for t and every term below it, parents first. A term shared
// by several parents is visited once.
func Walk(t Term, fn func(Term)) {
	seen := make(map[Term]struct{})
	stack := []Term{t}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		fn(cur)
		subs := cur.SubTerms()
		for i := len(subs) - 1; i >= 0; i-- {
			stack = append(stack, subs[i])
		}
	}
}

// Constants

type ConstBool struct {
	termBase
	Value bool
}

func (c *ConstBool) rebuild(*Factory, []Term) Term { return c }

// ConstInt is an integral literal of kind byte, short, char, int or long.
type ConstInt struct {
	termBase
	Value int64
}

func (c *ConstInt) rebuild(*Factory, []Term) Term { return c }

type ConstFloat struct {
	termBase
	Value float64
}

func (c *ConstFloat) rebuild(*Factory, []Term) Term { return c }

type ConstString struct {
	termBase
	Value string
}

func (c *ConstString) rebuild(*Factory, []Term) Term { return c }

type ConstNull struct {
	termBase
}

func (c *ConstNull) rebuild(*Factory, []Term) Term { return c }

// ConstClass is a class literal; its value is the class itself.
type ConstClass struct {
	termBase
	Class Type
}

func (c *ConstClass) rebuild(*Factory, []Term) Term { return c }

func floatName(v float64, typ Type) string {
	bits := 64
	if typ.Kind == KindFloat {
		bits = 32
	}
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	s := strconv.FormatFloat(v, 'g', -1, bits)
	if typ.Kind == KindFloat {
		s += "f"
	}
	return s
}

// Named values

type Argument struct {
	termBase
	Index int
}

func (a *Argument) rebuild(*Factory, []Term) Term { return a }

// Value is a named intermediate value, typically an instruction result.
type Value struct {
	termBase
}

func (v *Value) rebuild(*Factory, []Term) Term { return v }

// ReturnValue is the placeholder bound by return instructions.
type ReturnValue struct {
	termBase
}

func (r *ReturnValue) rebuild(*Factory, []Term) Term { return r }

type This struct {
	termBase
}

func (t *This) rebuild(*Factory, []Term) Term { return t }

// StaticRef stands for the owner of static fields of a class.
type StaticRef struct {
	termBase
}

func (s *StaticRef) rebuild(*Factory, []Term) Term { return s }

type Undef struct {
	termBase
}

func (u *Undef) rebuild(*Factory, []Term) Term { return u }

// Compound accesses

// ArrayIndex references the cell Array[Index]. Its type is the element type.
type ArrayIndex struct {
	termBase
}

func (a *ArrayIndex) Array() Term { return a.subs[0] }
func (a *ArrayIndex) Index() Term { return a.subs[1] }

func (a *ArrayIndex) rebuild(f *Factory, subs []Term) Term {
	return f.ArrayIndex(subs[0], subs[1])
}

type ArrayLength struct {
	termBase
}

func (a *ArrayLength) Array() Term { return a.subs[0] }

func (a *ArrayLength) rebuild(f *Factory, subs []Term) Term {
	return f.ArrayLength(subs[0])
}

// Field references Owner.Field. Owner is a StaticRef for static fields.
type Field struct {
	termBase
	Field string
}

func (fl *Field) Owner() Term { return fl.subs[0] }

func (fl *Field) rebuild(f *Factory, subs []Term) Term {
	return f.Field(subs[0], fl.Field, fl.typ)
}

// Load reads the cell referenced by an ArrayIndex or a Field.
type Load struct {
	termBase
}

func (l *Load) Ref() Term { return l.subs[0] }

func (l *Load) rebuild(f *Factory, subs []Term) Term {
	return f.Load(subs[0])
}

type Binary struct {
	termBase
	Op BinaryOp
}

func (b *Binary) LHS() Term { return b.subs[0] }
func (b *Binary) RHS() Term { return b.subs[1] }

func (b *Binary) rebuild(f *Factory, subs []Term) Term {
	return f.Binary(b.Op, subs[0], subs[1])
}

type Cmp struct {
	termBase
	Op CmpOp
}

func (c *Cmp) LHS() Term { return c.subs[0] }
func (c *Cmp) RHS() Term { return c.subs[1] }

func (c *Cmp) rebuild(f *Factory, subs []Term) Term {
	return f.Cmp(c.Op, subs[0], subs[1])
}

// Neg is arithmetic negation, or logical negation of a boolean operand.
type Neg struct {
	termBase
}

func (n *Neg) Operand() Term { return n.subs[0] }

func (n *Neg) rebuild(f *Factory, subs []Term) Term {
	return f.Neg(subs[0])
}

type Cast struct {
	termBase
}

func (c *Cast) Operand() Term { return c.subs[0] }

func (c *Cast) rebuild(f *Factory, subs []Term) Term {
	return f.Cast(c.typ, subs[0])
}

type InstanceOf struct {
	termBase
	Class Type
}

func (i *InstanceOf) Operand() Term { return i.subs[0] }

func (i *InstanceOf) rebuild(f *Factory, subs []Term) Term {
	return f.InstanceOf(subs[0], i.Class)
}

// Call is the result of invoking Method. When HasOwner is set the first
// subterm is the receiver.
type Call struct {
	termBase
	Method   string
	HasOwner bool
}

func (c *Call) Owner() Term {
	if !c.HasOwner {
		return nil
	}
	return c.subs[0]
}

func (c *Call) Args() []Term {
	if c.HasOwner {
		return c.subs[1:]
	}
	return c.subs
}

func (c *Call) rebuild(f *Factory, subs []Term) Term {
	if c.HasOwner {
		return f.Call(c.typ, c.Method, subs[0], subs[1:]...)
	}
	return f.Call(c.typ, c.Method, nil, subs...)
}

func joinTerms(terms []Term, sep string) string {
	var sb strings.Builder
	for i, t := range terms {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(t.Name())
	}
	return sb.String()
}
