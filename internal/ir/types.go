package ir

import (
	"fmt"
	"strings"
)

type Kind uint8

const (
	KindVoid Kind = iota
	KindBool
	KindByte
	KindShort
	KindChar
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindNull
	KindClass
	KindArray
)

var kindNames = [...]string{
	KindVoid:   "void",
	KindBool:   "bool",
	KindByte:   "byte",
	KindShort:  "short",
	KindChar:   "char",
	KindInt:    "int",
	KindLong:   "long",
	KindFloat:  "float",
	KindDouble: "double",
	KindNull:   "null",
	KindClass:  "class",
	KindArray:  "array",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind<%d>", k)
}

// Type is the semantic type of a term. It is a plain value and can be
// compared with ==.
type Type struct {
	Kind Kind
	// Class names the class for KindClass, and the element class of an array
	// whose element kind is KindClass.
	Class string
	// Elem and Dims describe arrays only.
	Elem Kind
	Dims int
}

var (
	VoidType   = Type{Kind: KindVoid}
	BoolType   = Type{Kind: KindBool}
	ByteType   = Type{Kind: KindByte}
	ShortType  = Type{Kind: KindShort}
	CharType   = Type{Kind: KindChar}
	IntType    = Type{Kind: KindInt}
	LongType   = Type{Kind: KindLong}
	FloatType  = Type{Kind: KindFloat}
	DoubleType = Type{Kind: KindDouble}
	NullType   = Type{Kind: KindNull}
)

func ClassType(name string) Type {
	return Type{Kind: KindClass, Class: name}
}

// ArrayOf returns the array type whose elements have type elem.
func ArrayOf(elem Type) Type {
	if elem.Kind == KindArray {
		return Type{Kind: KindArray, Class: elem.Class, Elem: elem.Elem, Dims: elem.Dims + 1}
	}
	return Type{Kind: KindArray, Class: elem.Class, Elem: elem.Kind, Dims: 1}
}

// ElementType returns the element type of an array type.
func (t Type) ElementType() Type {
	if t.Kind != KindArray {
		return VoidType
	}
	if t.Dims > 1 {
		return Type{Kind: KindArray, Class: t.Class, Elem: t.Elem, Dims: t.Dims - 1}
	}
	return Type{Kind: t.Elem, Class: t.Class}
}

func (t Type) IsIntegral() bool {
	switch t.Kind {
	case KindByte, KindShort, KindChar, KindInt, KindLong:
		return true
	}
	return false
}

func (t Type) IsFloating() bool {
	return t.Kind == KindFloat || t.Kind == KindDouble
}

func (t Type) IsReference() bool {
	return t.Kind == KindNull || t.Kind == KindClass || t.Kind == KindArray
}

// IsWide reports whether values of the type occupy a double word.
func (t Type) IsWide() bool {
	return t.Kind == KindLong || t.Kind == KindDouble
}

func (t Type) String() string {
	switch t.Kind {
	case KindClass:
		return t.Class
	case KindArray:
		elem := t.Elem.String()
		if t.Elem == KindClass {
			elem = t.Class
		}
		return elem + strings.Repeat("[]", t.Dims)
	default:
		return t.Kind.String()
	}
}
