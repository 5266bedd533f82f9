package ir

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Factory builds and interns terms and predicates. Every analysis session
// owns one factory; equal terms built by the same factory are the same
// pointer. A Factory is safe for concurrent use.
type Factory struct {
	mu         sync.Mutex
	terms      map[uint64][]Term
	predicates map[uint64][]Predicate
}

func NewFactory() *Factory {
	return &Factory{
		terms:      make(map[uint64][]Term),
		predicates: make(map[uint64][]Predicate),
	}
}

// Size returns the number of distinct terms and predicates interned so far.
func (f *Factory) Size() (terms, predicates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, bucket := range f.terms {
		terms += len(bucket)
	}
	for _, bucket := range f.predicates {
		predicates += len(bucket)
	}
	return terms, predicates
}

func (f *Factory) internTerm(t Term) Term {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket := f.terms[t.Hash()]
	for _, existing := range bucket {
		if Equal(existing, t) {
			return existing
		}
	}
	f.terms[t.Hash()] = append(bucket, t)
	return t
}

func (f *Factory) internPredicate(p Predicate) Predicate {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket := f.predicates[p.Hash()]
	for _, existing := range bucket {
		if EqualPredicates(existing, p) {
			return existing
		}
	}
	f.predicates[p.Hash()] = append(bucket, p)
	return p
}

func newTermBase(variant string, typ Type, name string, subs ...Term) termBase {
	return termBase{
		typ:  typ,
		name: name,
		subs: subs,
		hash: hashTerm(variant, typ, name, subs),
	}
}

// Constants

func (f *Factory) Bool(v bool) Term {
	return f.internTerm(&ConstBool{termBase: newTermBase("bool", BoolType, strconv.FormatBool(v)), Value: v})
}

// Integral returns an integral constant of the given type. The value is
// wrapped to the width of the type.
func (f *Factory) Integral(typ Type, v int64) Term {
	switch typ.Kind {
	case KindByte:
		v = int64(int8(v))
	case KindShort:
		v = int64(int16(v))
	case KindChar:
		v = int64(uint16(v))
	case KindInt:
		v = int64(int32(v))
	case KindLong:
	default:
		panic(fmt.Sprintf("ir: %s is not an integral type", typ))
	}
	return f.internTerm(&ConstInt{termBase: newTermBase("int", typ, strconv.FormatInt(v, 10)), Value: v})
}

func (f *Factory) Byte(v int8) Term   { return f.Integral(ByteType, int64(v)) }
func (f *Factory) Short(v int16) Term { return f.Integral(ShortType, int64(v)) }
func (f *Factory) Char(v uint16) Term { return f.Integral(CharType, int64(v)) }
func (f *Factory) Int(v int32) Term   { return f.Integral(IntType, int64(v)) }
func (f *Factory) Long(v int64) Term  { return f.Integral(LongType, v) }

func (f *Factory) Float(v float32) Term {
	return f.internTerm(&ConstFloat{termBase: newTermBase("float", FloatType, floatName(float64(v), FloatType)), Value: float64(v)})
}

func (f *Factory) Double(v float64) Term {
	return f.internTerm(&ConstFloat{termBase: newTermBase("float", DoubleType, floatName(v, DoubleType)), Value: v})
}

func (f *Factory) StringConst(v string) Term {
	return f.internTerm(&ConstString{termBase: newTermBase("string", ClassType("string"), strconv.Quote(v)), Value: v})
}

func (f *Factory) Null() Term {
	return f.internTerm(&ConstNull{termBase: newTermBase("null", NullType, "null")})
}

func (f *Factory) Class(class Type) Term {
	return f.internTerm(&ConstClass{termBase: newTermBase("class", ClassType("class"), class.String()+".class"), Class: class})
}

// Named values

func (f *Factory) Argument(index int, name string, typ Type) Term {
	if name == "" {
		name = "arg$" + strconv.Itoa(index)
	}
	return f.internTerm(&Argument{termBase: newTermBase("arg"+strconv.Itoa(index), typ, name), Index: index})
}

func (f *Factory) Value(name string, typ Type) Term {
	return f.internTerm(&Value{termBase: newTermBase("value", typ, name)})
}

func (f *Factory) ReturnValue(typ Type) Term {
	return f.internTerm(&ReturnValue{termBase: newTermBase("retval", typ, "<retval>")})
}

func (f *Factory) This(typ Type) Term {
	return f.internTerm(&This{termBase: newTermBase("this", typ, "this")})
}

func (f *Factory) StaticRef(class Type) Term {
	return f.internTerm(&StaticRef{termBase: newTermBase("static", class, class.String())})
}

func (f *Factory) Undef(typ Type) Term {
	return f.internTerm(&Undef{termBase: newTermBase("undef", typ, "<undef>")})
}

// Compound terms

func (f *Factory) ArrayIndex(array, index Term) Term {
	name := array.Name() + "[" + index.Name() + "]"
	return f.internTerm(&ArrayIndex{termBase: newTermBase("arrayindex", array.Type().ElementType(), name, array, index)})
}

func (f *Factory) ArrayLength(array Term) Term {
	return f.internTerm(&ArrayLength{termBase: newTermBase("arraylength", IntType, array.Name()+".length", array)})
}

func (f *Factory) Field(owner Term, field string, typ Type) Term {
	return f.internTerm(&Field{termBase: newTermBase("field", typ, owner.Name()+"."+field, owner), Field: field})
}

func (f *Factory) Load(ref Term) Term {
	return f.internTerm(&Load{termBase: newTermBase("load", ref.Type(), "*"+ref.Name(), ref)})
}

func (f *Factory) Binary(op BinaryOp, lhs, rhs Term) Term {
	name := "(" + lhs.Name() + " " + op.String() + " " + rhs.Name() + ")"
	return f.internTerm(&Binary{termBase: newTermBase("binary", lhs.Type(), name, lhs, rhs), Op: op})
}

func (f *Factory) Cmp(op CmpOp, lhs, rhs Term) Term {
	typ, name := BoolType, "("+lhs.Name()+" "+op.String()+" "+rhs.Name()+")"
	if !op.IsBoolean() {
		typ, name = IntType, op.String()+"("+lhs.Name()+", "+rhs.Name()+")"
	}
	return f.internTerm(&Cmp{termBase: newTermBase("cmp", typ, name, lhs, rhs), Op: op})
}

func (f *Factory) Neg(operand Term) Term {
	prefix := "-"
	if operand.Type() == BoolType {
		prefix = "!"
	}
	return f.internTerm(&Neg{termBase: newTermBase("neg", operand.Type(), prefix+operand.Name(), operand)})
}

func (f *Factory) Cast(typ Type, operand Term) Term {
	name := "(" + typ.String() + ") " + operand.Name()
	return f.internTerm(&Cast{termBase: newTermBase("cast", typ, name, operand)})
}

func (f *Factory) InstanceOf(operand Term, class Type) Term {
	name := "(" + operand.Name() + " instanceof " + class.String() + ")"
	return f.internTerm(&InstanceOf{termBase: newTermBase("instanceof", BoolType, name, operand), Class: class})
}

// Call builds the result term of a call. owner may be nil for static calls.
func (f *Factory) Call(typ Type, method string, owner Term, args ...Term) Term {
	subs := make([]Term, 0, len(args)+1)
	name := method + "(" + joinTerms(args, ", ") + ")"
	if owner != nil {
		subs = append(subs, owner)
		name = owner.Name() + "." + name
	}
	subs = append(subs, args...)
	return f.internTerm(&Call{termBase: newTermBase("call", typ, name, subs...), Method: method, HasOwner: owner != nil})
}

// Not is the logical negation of a boolean term.
func (f *Factory) Not(t Term) Term {
	return f.Neg(t)
}

// OrAll folds terms into a left-nested disjunction. It returns false for an
// empty list.
func (f *Factory) OrAll(terms ...Term) Term {
	if len(terms) == 0 {
		return f.Bool(false)
	}
	result := terms[0]
	for _, t := range terms[1:] {
		result = f.Binary(Or, result, t)
	}
	return result
}

// AndAll folds terms into a left-nested conjunction. It returns true for an
// empty list.
func (f *Factory) AndAll(terms ...Term) Term {
	if len(terms) == 0 {
		return f.Bool(true)
	}
	result := terms[0]
	for _, t := range terms[1:] {
		result = f.Binary(And, result, t)
	}
	return result
}

// Predicates

func newPredicateBase(variant string, typ PredicateType, text string, ops ...Term) predicateBase {
	return predicateBase{
		typ:  typ,
		ops:  ops,
		text: text,
		hash: hashPredicate(variant, typ, text, ops),
	}
}

func (f *Factory) Equality(typ PredicateType, lhv, rhv Term) Predicate {
	return f.internPredicate(&Equality{newPredicateBase("eq", typ, lhv.Name()+" = "+rhv.Name(), lhv, rhv)})
}

func (f *Factory) Inequality(typ PredicateType, lhv, rhv Term) Predicate {
	return f.internPredicate(&Inequality{newPredicateBase("neq", typ, lhv.Name()+" != "+rhv.Name(), lhv, rhv)})
}

func (f *Factory) ArrayStore(typ PredicateType, ref, value Term) Predicate {
	return f.internPredicate(&ArrayStore{newPredicateBase("arraystore", typ, "*"+ref.Name()+" = "+value.Name(), ref, value)})
}

func (f *Factory) FieldStore(typ PredicateType, ref, value Term) Predicate {
	return f.internPredicate(&FieldStore{newPredicateBase("fieldstore", typ, "*"+ref.Name()+" = "+value.Name(), ref, value)})
}

func (f *Factory) New(typ PredicateType, lhv Term) Predicate {
	return f.internPredicate(&New{newPredicateBase("new", typ, lhv.Name()+" = new "+lhv.Type().String(), lhv)})
}

func (f *Factory) NewArray(typ PredicateType, lhv Term, dimensions ...Term) Predicate {
	var sb strings.Builder
	sb.WriteString(lhv.Name())
	sb.WriteString(" = new ")
	elem := lhv.Type()
	for range dimensions {
		elem = elem.ElementType()
	}
	sb.WriteString(elem.String())
	for _, d := range dimensions {
		sb.WriteString("[" + d.Name() + "]")
	}
	ops := append([]Term{lhv}, dimensions...)
	return f.internPredicate(&NewArray{newPredicateBase("newarray", typ, sb.String(), ops...)})
}

func (f *Factory) CallPredicate(typ PredicateType, lhv Term, call *Call) Predicate {
	if lhv == nil {
		return f.internPredicate(&CallPredicate{predicateBase: newPredicateBase("call", typ, call.Name(), call)})
	}
	text := lhv.Name() + " = " + call.Name()
	return f.internPredicate(&CallPredicate{predicateBase: newPredicateBase("call", typ, text, lhv, call), hasLHV: true})
}
