// Package smt encodes symbolic states into solver formulas, runs the solver
// and turns its models back into IR constants.
package smt

import (
	"context"
	"fmt"
	"time"
)

// Bit widths of the two bitvector sorts. Everything narrower than a double
// word, pointers included, lives in a WORD.
const (
	WORD  = 32
	DWORD = 64
)

type SortKind uint8

const (
	SortUnknown SortKind = iota
	SortBool
	SortBV
	SortFloat
	SortDouble
	SortArray
)

var sortKinds = [...]string{
	SortUnknown: "unknown",
	SortBool:    "bool",
	SortBV:      "bv",
	SortFloat:   "float",
	SortDouble:  "double",
	SortArray:   "array",
}

func (k SortKind) String() string {
	if int(k) < len(sortKinds) {
		return sortKinds[k]
	}
	return fmt.Sprintf("SortKind<%d>", k)
}

// Sort describes a native sort independently of the backend.
type Sort struct {
	Kind  SortKind
	Width uint
}

func (s Sort) String() string {
	if s.Kind == SortBV {
		return fmt.Sprintf("bv%d", s.Width)
	}
	return s.Kind.String()
}

// Opcode is an operation every backend must implement, or reject with an
// EncodeError.
type Opcode int

const (
	OpEq Opcode = iota
	OpNeq

	// bitvector arithmetic, division and remainder are signed
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpShl
	OpLshr
	OpAshr
	OpBvAnd
	OpBvOr
	OpBvXor
	OpConcat

	// signed bitvector comparisons
	OpLt
	OpLe
	OpGt
	OpGe

	// boolean connectives
	OpAnd
	OpOr
	OpXor
	OpImplies
	OpIff

	// IEEE-754, rounding to nearest even
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFRem // IEEE remainder, quotient rounded to nearest
	OpFEq
	OpFLt
	OpFLe
	OpFGt
	OpFGe

	// unary
	OpNot
	OpBvNot
	OpNeg
	OpFNeg

	opcodeCount
)

var opcodes = [...]string{
	OpEq:      "=",
	OpNeq:     "distinct",
	OpAdd:     "bvadd",
	OpSub:     "bvsub",
	OpMul:     "bvmul",
	OpDiv:     "bvsdiv",
	OpRem:     "bvsrem",
	OpShl:     "bvshl",
	OpLshr:    "bvlshr",
	OpAshr:    "bvashr",
	OpBvAnd:   "bvand",
	OpBvOr:    "bvor",
	OpBvXor:   "bvxor",
	OpConcat:  "concat",
	OpLt:      "bvslt",
	OpLe:      "bvsle",
	OpGt:      "bvsgt",
	OpGe:      "bvsge",
	OpAnd:     "and",
	OpOr:      "or",
	OpXor:     "xor",
	OpImplies: "=>",
	OpIff:     "iff",
	OpFAdd:    "fp.add",
	OpFSub:    "fp.sub",
	OpFMul:    "fp.mul",
	OpFDiv:    "fp.div",
	OpFRem:    "fp.rem",
	OpFEq:     "fp.eq",
	OpFLt:     "fp.lt",
	OpFLe:     "fp.leq",
	OpFGt:     "fp.gt",
	OpFGe:     "fp.geq",
	OpNot:     "not",
	OpBvNot:   "bvnot",
	OpNeg:     "bvneg",
	OpFNeg:    "fp.neg",
}

func (op Opcode) String() string {
	if op >= 0 && op < opcodeCount {
		return opcodes[op]
	}
	return fmt.Sprintf("Opcode<%d>", op)
}

// IsUnary reports whether op takes a single operand.
func (op Opcode) IsUnary() bool {
	return op >= OpNot && op < opcodeCount
}

// Opcodes returns every opcode.
func Opcodes() []Opcode {
	result := make([]Opcode, 0, opcodeCount)
	for op := Opcode(0); op < opcodeCount; op++ {
		result = append(result, op)
	}
	return result
}

type Status uint8

const (
	StatusUnknown Status = iota
	StatusSat
	StatusUnsat
)

func (s Status) String() string {
	switch s {
	case StatusSat:
		return "sat"
	case StatusUnsat:
		return "unsat"
	}
	return "unknown"
}

// Features lists optional backend capabilities.
type Features struct {
	Quantifiers   bool
	FloatingPoint bool
}

// Value is a native model value, described by its native sort only.
type Value struct {
	Sort   Sort
	Bool   bool
	Bits   uint64
	Float  float32
	Double float64
}

// Backend is a solver binding parameterised by its native context, expression,
// sort and function declaration types. A context is one solver session: all
// expressions built in it die with it, and it must only be used by one
// goroutine at a time.
type Backend[C any, E comparable, S any, F any] interface {
	Name() string
	Features() Features

	Open(opts Options) (C, error)
	Close(ctx C)

	BoolSort(ctx C) (S, error)
	BVSort(ctx C, width uint) (S, error)
	FloatSort(ctx C, double bool) (S, error)
	ArraySort(ctx C, domain, rng S) (S, error)
	SortOf(ctx C, e E) Sort

	Bool(ctx C, v bool) (E, error)
	BV(ctx C, width uint, v int64) (E, error)
	Float(ctx C, v float32) (E, error)
	Double(ctx C, v float64) (E, error)
	Var(ctx C, name string, sort S) (E, error)
	Func(ctx C, name string, domain []S, rng S) (F, error)
	Apply(ctx C, fn F, args ...E) (E, error)

	Binary(ctx C, op Opcode, lhs, rhs E) (E, error)
	Unary(ctx C, op Opcode, operand E) (E, error)
	Ite(ctx C, cond, then, els E) (E, error)
	Select(ctx C, array, index E) (E, error)
	Store(ctx C, array, index, value E) (E, error)
	// Extend widens a bitvector by n bits.
	Extend(ctx C, e E, n uint, signed bool) (E, error)
	// Extract returns bits hi..lo of a bitvector.
	Extract(ctx C, e E, hi, lo uint) (E, error)
	// Convert converts between bitvectors and floats. Bitvectors are read
	// as signed integers and floats are truncated toward zero.
	Convert(ctx C, e E, to Sort) (E, error)
	// Bound returns a variable for use in Forall.
	Bound(ctx C, name string, sort S) (E, error)
	Forall(ctx C, vars []E, body E, patterns []E) (E, error)
	String(ctx C, e E) string

	Assert(ctx C, e E) error
	// AssertTracked asserts e under label so that it can appear in an unsat
	// core.
	AssertTracked(ctx C, label string, e E) error
	// Check decides the asserted formulas. Timeouts, cancellation and
	// internal failures are reported as StatusUnknown with a reason.
	Check(cctx context.Context, ctx C, timeout time.Duration) (Status, string)
	Model(ctx C) (ModelEvaluator[E], error)
	UnsatCore(ctx C) ([]string, error)
}

// ModelEvaluator evaluates expressions in a satisfying model.
type ModelEvaluator[E any] interface {
	Eval(e E) (Value, error)
	Close()
}
