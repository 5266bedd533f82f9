package ir

import "math"

// Simplifier folds constant subexpressions. Integral arithmetic wraps to the
// width of the operand type, division and remainder are signed and shift
// distances are masked to the operand width. Division by zero and
// float-to-integer conversions out of range are left unfolded.
type Simplifier struct {
	F *Factory
}

func (s Simplifier) Transform(t Term) Term {
	switch t := t.(type) {
	case *Binary:
		return s.binary(t)
	case *Cmp:
		return s.cmp(t)
	case *Neg:
		return s.neg(t)
	case *Cast:
		return s.cast(t)
	}
	return t
}

// Simplify folds t with a fresh Simplifier over f.
func Simplify(f *Factory, t Term) Term {
	return Accept(f, t, Simplifier{F: f})
}

func (s Simplifier) binary(t *Binary) Term {
	lhs, rhs := t.LHS(), t.RHS()
	if t.Type() == BoolType {
		return s.logical(t, lhs, rhs)
	}
	switch l := lhs.(type) {
	case *ConstInt:
		r, ok := rhs.(*ConstInt)
		if !ok {
			return t
		}
		if v, ok := foldIntegral(t.Op, t.Type(), l.Value, r.Value); ok {
			return s.F.Integral(t.Type(), v)
		}
	case *ConstFloat:
		r, ok := rhs.(*ConstFloat)
		if !ok {
			return t
		}
		if v, ok := foldFloating(t.Op, t.Type(), l.Value, r.Value); ok {
			return s.floating(t.Type(), v)
		}
	}
	return t
}

func (s Simplifier) logical(t *Binary, lhs, rhs Term) Term {
	l, lok := lhs.(*ConstBool)
	r, rok := rhs.(*ConstBool)
	switch {
	case lok && rok:
		switch t.Op {
		case And:
			return s.F.Bool(l.Value && r.Value)
		case Or:
			return s.F.Bool(l.Value || r.Value)
		case Xor:
			return s.F.Bool(l.Value != r.Value)
		}
	case lok:
		return s.absorb(t, l.Value, rhs)
	case rok:
		return s.absorb(t, r.Value, lhs)
	}
	return t
}

// absorb simplifies a logical operation with one known operand.
func (s Simplifier) absorb(t *Binary, known bool, other Term) Term {
	switch {
	case t.Op == And && known, t.Op == Or && !known, t.Op == Xor && !known:
		return other
	case t.Op == And && !known:
		return s.F.Bool(false)
	case t.Op == Or && known:
		return s.F.Bool(true)
	case t.Op == Xor && known:
		return s.neg(s.F.Neg(other).(*Neg))
	}
	return t
}

func foldIntegral(op BinaryOp, typ Type, l, r int64) (int64, bool) {
	if typ.Kind == KindLong {
		switch op {
		case Add:
			return l + r, true
		case Sub:
			return l - r, true
		case Mul:
			return l * r, true
		case Div:
			if r == 0 {
				return 0, false
			}
			return l / r, true
		case Rem:
			if r == 0 {
				return 0, false
			}
			return l % r, true
		case Shl:
			return l << uint64(r&63), true
		case Shr:
			return l >> uint64(r&63), true
		case Ushr:
			return int64(uint64(l) >> uint64(r&63)), true
		case And:
			return l & r, true
		case Or:
			return l | r, true
		case Xor:
			return l ^ r, true
		}
		return 0, false
	}
	a, b := int32(l), int32(r)
	switch op {
	case Add:
		return int64(a + b), true
	case Sub:
		return int64(a - b), true
	case Mul:
		return int64(a * b), true
	case Div:
		if b == 0 {
			return 0, false
		}
		return int64(a / b), true
	case Rem:
		if b == 0 {
			return 0, false
		}
		return int64(a % b), true
	case Shl:
		return int64(a << uint32(b&31)), true
	case Shr:
		return int64(a >> uint32(b&31)), true
	case Ushr:
		return int64(int32(uint32(a) >> uint32(b&31))), true
	case And:
		return int64(a & b), true
	case Or:
		return int64(a | b), true
	case Xor:
		return int64(a ^ b), true
	}
	return 0, false
}

func foldFloating(op BinaryOp, typ Type, l, r float64) (float64, bool) {
	if typ.Kind == KindFloat {
		a, b := float32(l), float32(r)
		switch op {
		case Add:
			return float64(a + b), true
		case Sub:
			return float64(a - b), true
		case Mul:
			return float64(a * b), true
		case Div:
			return float64(a / b), true
		case Rem:
			return float64(float32(math.Mod(float64(a), float64(b)))), true
		}
		return 0, false
	}
	switch op {
	case Add:
		return l + r, true
	case Sub:
		return l - r, true
	case Mul:
		return l * r, true
	case Div:
		return l / r, true
	case Rem:
		return math.Mod(l, r), true
	}
	return 0, false
}

func (s Simplifier) floating(typ Type, v float64) Term {
	if typ.Kind == KindFloat {
		return s.F.Float(float32(v))
	}
	return s.F.Double(v)
}

func (s Simplifier) cmp(t *Cmp) Term {
	lhs, rhs := t.LHS(), t.RHS()
	switch l := lhs.(type) {
	case *ConstInt:
		if r, ok := rhs.(*ConstInt); ok {
			return s.compare(t.Op, threeWay(l.Value, r.Value), false)
		}
	case *ConstFloat:
		if r, ok := rhs.(*ConstFloat); ok {
			if math.IsNaN(l.Value) || math.IsNaN(r.Value) {
				return s.compare(t.Op, 0, true)
			}
			return s.compare(t.Op, threeWayFloat(l.Value, r.Value), false)
		}
	case *ConstBool:
		if r, ok := rhs.(*ConstBool); ok {
			switch t.Op {
			case Eq:
				return s.F.Bool(l.Value == r.Value)
			case Neq:
				return s.F.Bool(l.Value != r.Value)
			}
		}
	case *ConstNull:
		if _, ok := rhs.(*ConstNull); ok {
			return s.compare(t.Op, 0, false)
		}
	}
	if lhs == rhs && !lhs.Type().IsFloating() {
		return s.compare(t.Op, 0, false)
	}
	return t
}

func threeWay(l, r int64) int {
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	}
	return 0
}

func threeWayFloat(l, r float64) int {
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	}
	return 0
}

// compare evaluates op given the ordering of its operands. unordered marks a
// comparison involving NaN.
func (s Simplifier) compare(op CmpOp, order int, unordered bool) Term {
	if unordered {
		switch op {
		case Neq:
			return s.F.Bool(true)
		case Cmpg:
			return s.F.Int(1)
		case Cmpl, Compare:
			return s.F.Int(-1)
		}
		return s.F.Bool(false)
	}
	switch op {
	case Eq:
		return s.F.Bool(order == 0)
	case Neq:
		return s.F.Bool(order != 0)
	case Lt:
		return s.F.Bool(order < 0)
	case Gt:
		return s.F.Bool(order > 0)
	case Le:
		return s.F.Bool(order <= 0)
	case Ge:
		return s.F.Bool(order >= 0)
	}
	return s.F.Int(int32(order))
}

func (s Simplifier) neg(t *Neg) Term {
	switch o := t.Operand().(type) {
	case *ConstBool:
		return s.F.Bool(!o.Value)
	case *ConstInt:
		return s.F.Integral(o.Type(), -o.Value)
	case *ConstFloat:
		return s.floating(o.Type(), -o.Value)
	case *Neg:
		return o.Operand()
	case *Cmp:
		if o.Op.IsBoolean() && !o.LHS().Type().IsFloating() {
			return s.F.Cmp(o.Op.Negate(), o.LHS(), o.RHS())
		}
	}
	return t
}

func (s Simplifier) cast(t *Cast) Term {
	to := t.Type()
	switch o := t.Operand().(type) {
	case *ConstInt:
		switch {
		case to.IsIntegral():
			return s.F.Integral(to, o.Value)
		case to.Kind == KindFloat:
			return s.F.Float(float32(o.Value))
		case to.Kind == KindDouble:
			return s.F.Double(float64(o.Value))
		case to == BoolType:
			return s.F.Bool(o.Value != 0)
		}
	case *ConstBool:
		if to.IsIntegral() {
			if o.Value {
				return s.F.Integral(to, 1)
			}
			return s.F.Integral(to, 0)
		}
	case *ConstFloat:
		switch {
		case to.Kind == KindFloat:
			return s.F.Float(float32(o.Value))
		case to.Kind == KindDouble:
			return s.F.Double(o.Value)
		case to.IsIntegral():
			limit := math.Ldexp(1, 31)
			if to.Kind == KindLong {
				limit = math.Ldexp(1, 63)
			}
			if math.IsNaN(o.Value) || o.Value >= limit || o.Value < -limit {
				return t
			}
			return s.F.Integral(to, int64(math.Trunc(o.Value)))
		}
	}
	if t.Operand().Type() == to {
		return t.Operand()
	}
	return t
}
