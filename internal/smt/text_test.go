package smt

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// textBackend renders expressions as SMT-LIB text. Check answers with a
// fixed status and the model is a table from expression text to value.
type textBackend struct {
	features Features
	status   Status
	reason   string
	values   map[string]Value
	core     []string
	opened   []*textCtx
}

type textSort struct {
	Sort
	Range Sort
}

type textCtx struct {
	sorts    map[string]textSort
	funcs    map[string]textSort
	asserted []string
	closed   bool
}

func newTextBackend() *textBackend {
	return &textBackend{status: StatusSat, values: make(map[string]Value)}
}

func (b *textBackend) Name() string       { return "text" }
func (b *textBackend) Features() Features { return b.features }

func (b *textBackend) Open(Options) (*textCtx, error) {
	ctx := &textCtx{sorts: make(map[string]textSort), funcs: make(map[string]textSort)}
	b.opened = append(b.opened, ctx)
	return ctx, nil
}

func (b *textBackend) Close(ctx *textCtx) { ctx.closed = true }

func (b *textBackend) BoolSort(*textCtx) (textSort, error) {
	return textSort{Sort: Sort{Kind: SortBool}}, nil
}

func (b *textBackend) BVSort(_ *textCtx, width uint) (textSort, error) {
	return textSort{Sort: Sort{Kind: SortBV, Width: width}}, nil
}

func (b *textBackend) FloatSort(_ *textCtx, double bool) (textSort, error) {
	if double {
		return textSort{Sort: Sort{Kind: SortDouble}}, nil
	}
	return textSort{Sort: Sort{Kind: SortFloat}}, nil
}

func (b *textBackend) ArraySort(_ *textCtx, _, rng textSort) (textSort, error) {
	return textSort{Sort: Sort{Kind: SortArray}, Range: rng.Sort}, nil
}

func (b *textBackend) SortOf(ctx *textCtx, e string) Sort {
	return ctx.sorts[e].Sort
}

func (b *textBackend) make(ctx *textCtx, s textSort, format string, args ...interface{}) (string, error) {
	e := fmt.Sprintf(format, args...)
	ctx.sorts[e] = s
	return e, nil
}

func (b *textBackend) Bool(ctx *textCtx, v bool) (string, error) {
	return b.make(ctx, textSort{Sort: Sort{Kind: SortBool}}, "%t", v)
}

func (b *textBackend) BV(ctx *textCtx, width uint, v int64) (string, error) {
	bits := uint64(v)
	if width < 64 {
		bits &= 1<<width - 1
	}
	return b.make(ctx, textSort{Sort: Sort{Kind: SortBV, Width: width}}, "(_ bv%d %d)", bits, width)
}

func (b *textBackend) Float(ctx *textCtx, v float32) (string, error) {
	return b.make(ctx, textSort{Sort: Sort{Kind: SortFloat}}, "(fp32 %g)", v)
}

func (b *textBackend) Double(ctx *textCtx, v float64) (string, error) {
	return b.make(ctx, textSort{Sort: Sort{Kind: SortDouble}}, "(fp64 %g)", v)
}

func (b *textBackend) Var(ctx *textCtx, name string, s textSort) (string, error) {
	return b.make(ctx, s, "%s", name)
}

func (b *textBackend) Func(ctx *textCtx, name string, _ []textSort, rng textSort) (string, error) {
	ctx.funcs[name] = rng
	return name, nil
}

func (b *textBackend) Apply(ctx *textCtx, fn string, args ...string) (string, error) {
	return b.make(ctx, ctx.funcs[fn], "(%s %s)", fn, strings.Join(args, " "))
}

func (b *textBackend) Binary(ctx *textCtx, op Opcode, lhs, rhs string) (string, error) {
	s := ctx.sorts[lhs]
	switch op {
	case OpEq, OpNeq, OpLt, OpLe, OpGt, OpGe, OpAnd, OpOr, OpXor, OpImplies, OpIff,
		OpFEq, OpFLt, OpFLe, OpFGt, OpFGe:
		s = textSort{Sort: Sort{Kind: SortBool}}
	case OpConcat:
		s.Width += ctx.sorts[rhs].Width
	}
	return b.make(ctx, s, "(%s %s %s)", op, lhs, rhs)
}

func (b *textBackend) Unary(ctx *textCtx, op Opcode, operand string) (string, error) {
	return b.make(ctx, ctx.sorts[operand], "(%s %s)", op, operand)
}

func (b *textBackend) Ite(ctx *textCtx, cond, then, els string) (string, error) {
	return b.make(ctx, ctx.sorts[then], "(ite %s %s %s)", cond, then, els)
}

func (b *textBackend) Select(ctx *textCtx, array, index string) (string, error) {
	return b.make(ctx, textSort{Sort: ctx.sorts[array].Range}, "(select %s %s)", array, index)
}

func (b *textBackend) Store(ctx *textCtx, array, index, value string) (string, error) {
	return b.make(ctx, ctx.sorts[array], "(store %s %s %s)", array, index, value)
}

func (b *textBackend) Extend(ctx *textCtx, e string, n uint, signed bool) (string, error) {
	s := ctx.sorts[e]
	s.Width += n
	kind := "zero_extend"
	if signed {
		kind = "sign_extend"
	}
	return b.make(ctx, s, "((_ %s %d) %s)", kind, n, e)
}

func (b *textBackend) Extract(ctx *textCtx, e string, hi, lo uint) (string, error) {
	return b.make(ctx, textSort{Sort: Sort{Kind: SortBV, Width: hi - lo + 1}}, "((_ extract %d %d) %s)", hi, lo, e)
}

func (b *textBackend) Convert(ctx *textCtx, e string, to Sort) (string, error) {
	return b.make(ctx, textSort{Sort: to}, "((_ to_%s) %s)", to, e)
}

func (b *textBackend) Bound(ctx *textCtx, name string, s textSort) (string, error) {
	return b.make(ctx, s, "%s", name)
}

func (b *textBackend) Forall(ctx *textCtx, vars []string, body string, patterns []string) (string, error) {
	return b.make(ctx, textSort{Sort: Sort{Kind: SortBool}}, "(forall (%s) (! %s :pattern (%s)))",
		strings.Join(vars, " "), body, strings.Join(patterns, " "))
}

func (b *textBackend) String(_ *textCtx, e string) string { return e }

func (b *textBackend) Assert(ctx *textCtx, e string) error {
	ctx.asserted = append(ctx.asserted, e)
	return nil
}

func (b *textBackend) AssertTracked(ctx *textCtx, label string, e string) error {
	ctx.asserted = append(ctx.asserted, fmt.Sprintf("(! %s :named %s)", e, label))
	return nil
}

func (b *textBackend) Check(cctx context.Context, _ *textCtx, _ time.Duration) (Status, string) {
	if cctx.Err() != nil {
		return StatusUnknown, "canceled"
	}
	return b.status, b.reason
}

func (b *textBackend) Model(ctx *textCtx) (ModelEvaluator[string], error) {
	return &textModel{ctx: ctx, values: b.values}, nil
}

func (b *textBackend) UnsatCore(*textCtx) ([]string, error) {
	return b.core, nil
}

type textModel struct {
	ctx    *textCtx
	values map[string]Value
}

func (m *textModel) Eval(e string) (Value, error) {
	if v, ok := m.values[e]; ok {
		return v, nil
	}
	return Value{Sort: m.ctx.sorts[e].Sort}, nil
}

func (m *textModel) Close() {}

func word(v int64) Value {
	return Value{Sort: Sort{Kind: SortBV, Width: WORD}, Bits: uint64(uint32(v))}
}
