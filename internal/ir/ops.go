package ir

import "fmt"

// BinaryOp is an arithmetic, bitwise or logical operation.
type BinaryOp int

const (
	Add BinaryOp = iota
	Sub
	Mul
	Div
	Rem
	Shl
	Shr
	Ushr
	And
	Or
	Xor
)

var binaryOps = [...]string{
	Add:  "+",
	Sub:  "-",
	Mul:  "*",
	Div:  "/",
	Rem:  "%",
	Shl:  "<<",
	Shr:  ">>",
	Ushr: ">>>",
	And:  "&",
	Or:   "|",
	Xor:  "^",
}

func (op BinaryOp) String() string {
	if op >= 0 && int(op) < len(binaryOps) {
		return binaryOps[op]
	}
	return fmt.Sprintf("BinaryOp<%d>", op)
}

// IsShift reports whether op takes a shift distance as right operand.
func (op BinaryOp) IsShift() bool {
	return op == Shl || op == Shr || op == Ushr
}

// CmpOp is a comparison. Compare, Cmpg and Cmpl produce -1, 0 or 1 instead of a
// boolean; Cmpg and Cmpl differ in the result for unordered floats.
type CmpOp int

const (
	Eq CmpOp = iota
	Neq
	Lt
	Gt
	Le
	Ge
	Compare
	Cmpg
	Cmpl
)

var cmpOps = [...]string{
	Eq:      "==",
	Neq:     "!=",
	Lt:      "<",
	Gt:      ">",
	Le:      "<=",
	Ge:      ">=",
	Compare: "cmp",
	Cmpg:    "cmpg",
	Cmpl:    "cmpl",
}

func (op CmpOp) String() string {
	if op >= 0 && int(op) < len(cmpOps) {
		return cmpOps[op]
	}
	return fmt.Sprintf("CmpOp<%d>", op)
}

// IsBoolean reports whether the comparison yields a boolean.
func (op CmpOp) IsBoolean() bool {
	return op <= Ge
}

// Negate returns the comparison holding exactly when op does not. Only
// defined for boolean comparisons.
func (op CmpOp) Negate() CmpOp {
	switch op {
	case Eq:
		return Neq
	case Neq:
		return Eq
	case Lt:
		return Ge
	case Ge:
		return Lt
	case Gt:
		return Le
	case Le:
		return Gt
	}
	return op
}
