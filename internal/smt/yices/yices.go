// Package yices 是基于 yices2 的求解后端，数组用未解释函数表示
package yices

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	yices2 "github.com/ianamason/yices2_go_bindings/yices_api"

	"gstate/internal/ir"
	"gstate/internal/smt"
)

const Name = "yices"

// libyices keeps one global term table, so every call into it is made under
// mu. StopSearch is the exception: it has to reach a running check.
var (
	mu       sync.Mutex
	initOnce sync.Once
)

func init() {
	smt.Register(Name, Open)
}

// Open returns a solver driving yices for one analysis session.
func Open(f *ir.Factory, opts smt.Options) (smt.Solver, error) {
	return smt.NewDriver[*Session, yices2.TermT, yices2.TypeT, yices2.TermT](Backend{}, f, opts), nil
}

// Session is one yices context with the assumptions that track labelled
// assertions.
type Session struct {
	ctx       yices2.ContextT
	params    yices2.ParamT
	hasParams bool
	tracked   []yices2.TermT
	labels    map[yices2.TermT]string
}

type Backend struct{}

func (Backend) Name() string { return Name }

func (Backend) Features() smt.Features { return smt.Features{} }

func failed(op string) error {
	return errors.Errorf("yices %s: %s", op, yices2.ErrorString())
}

func unsupported(reason string) error {
	return &smt.EncodeError{Backend: Name, Reason: reason}
}

func (Backend) Open(opts smt.Options) (*Session, error) {
	mu.Lock()
	defer mu.Unlock()
	initOnce.Do(yices2.Init)

	s := &Session{labels: make(map[yices2.TermT]string)}
	var cfg yices2.ConfigT
	yices2.InitConfig(&cfg)
	yices2.InitContext(cfg, &s.ctx)
	yices2.CloseConfig(&cfg)

	if len(opts.Tactics) > 0 {
		log.Warnf("yices: tactics are not supported, ignoring %v", opts.Tactics)
	}
	if len(opts.Params) > 0 {
		yices2.InitParamRecord(&s.params)
		s.hasParams = true
		for _, p := range opts.Params {
			if yices2.SetParam(s.params, p.Key, p.String()) < 0 {
				err := failed("param " + p.Key)
				yices2.CloseParamRecord(&s.params)
				yices2.CloseContext(&s.ctx)
				return nil, err
			}
		}
	}
	return s, nil
}

func (Backend) Close(s *Session) {
	mu.Lock()
	defer mu.Unlock()
	if s.hasParams {
		yices2.CloseParamRecord(&s.params)
	}
	yices2.CloseContext(&s.ctx)
}

// Sorts

func (Backend) BoolSort(*Session) (yices2.TypeT, error) {
	mu.Lock()
	defer mu.Unlock()
	return yices2.BoolType(), nil
}

func (Backend) BVSort(_ *Session, width uint) (yices2.TypeT, error) {
	mu.Lock()
	defer mu.Unlock()
	return yices2.BvType(uint32(width)), nil
}

func (Backend) FloatSort(*Session, bool) (yices2.TypeT, error) {
	return yices2.NullType, unsupported("floating point sorts")
}

// ArraySort returns a function type; yices has no separate array theory.
func (Backend) ArraySort(_ *Session, domain, rng yices2.TypeT) (yices2.TypeT, error) {
	mu.Lock()
	defer mu.Unlock()
	tau := yices2.FunctionType1(domain, rng)
	if tau == yices2.NullType {
		return tau, failed("function type")
	}
	return tau, nil
}

func (Backend) SortOf(_ *Session, e yices2.TermT) smt.Sort {
	mu.Lock()
	defer mu.Unlock()
	tau := yices2.TypeOfTerm(e)
	switch {
	case yices2.TypeIsBool(tau):
		return smt.Sort{Kind: smt.SortBool}
	case yices2.TypeIsBitvector(tau):
		return smt.Sort{Kind: smt.SortBV, Width: uint(yices2.TermBitsize(e))}
	case yices2.TypeIsFunction(tau):
		return smt.Sort{Kind: smt.SortArray}
	}
	return smt.Sort{}
}

// Terms

func term(op string, t yices2.TermT) (yices2.TermT, error) {
	if t == yices2.NullTerm {
		return t, failed(op)
	}
	return t, nil
}

func (Backend) Bool(_ *Session, v bool) (yices2.TermT, error) {
	mu.Lock()
	defer mu.Unlock()
	if v {
		return yices2.True(), nil
	}
	return yices2.False(), nil
}

func (Backend) BV(_ *Session, width uint, v int64) (yices2.TermT, error) {
	mu.Lock()
	defer mu.Unlock()
	return term("bvconst", yices2.BvconstInt64(uint32(width), v))
}

func (Backend) Float(*Session, float32) (yices2.TermT, error) {
	return yices2.NullTerm, unsupported("float constants")
}

func (Backend) Double(*Session, float64) (yices2.TermT, error) {
	return yices2.NullTerm, unsupported("double constants")
}

func (Backend) Var(_ *Session, name string, sort yices2.TypeT) (yices2.TermT, error) {
	mu.Lock()
	defer mu.Unlock()
	t, err := term("uninterpreted term", yices2.NewUninterpretedTerm(sort))
	if err != nil {
		return t, err
	}
	if yices2.SetTermName(t, name) < 0 {
		log.Debugf("yices: cannot name term %s: %s", name, yices2.ErrorString())
	}
	return t, nil
}

func (Backend) Func(_ *Session, name string, domain []yices2.TypeT, rng yices2.TypeT) (yices2.TermT, error) {
	mu.Lock()
	defer mu.Unlock()
	tau := yices2.FunctionType(domain, rng)
	if tau == yices2.NullType {
		return yices2.NullTerm, failed("function type " + name)
	}
	fn, err := term("function "+name, yices2.NewUninterpretedTerm(tau))
	if err != nil {
		return fn, err
	}
	yices2.SetTermName(fn, name)
	return fn, nil
}

func (Backend) Apply(_ *Session, fn yices2.TermT, args ...yices2.TermT) (yices2.TermT, error) {
	mu.Lock()
	defer mu.Unlock()
	return term("application", yices2.Application(fn, args))
}

var binaries = map[smt.Opcode]func(a, b yices2.TermT) yices2.TermT{
	smt.OpEq:      yices2.Eq,
	smt.OpNeq:     yices2.Neq,
	smt.OpAdd:     yices2.Bvadd,
	smt.OpSub:     yices2.Bvsub,
	smt.OpMul:     yices2.Bvmul,
	smt.OpDiv:     yices2.Bvsdiv,
	smt.OpRem:     yices2.Bvsrem,
	smt.OpShl:     yices2.Bvshl,
	smt.OpLshr:    yices2.Bvlshr,
	smt.OpAshr:    yices2.Bvashr,
	smt.OpBvAnd:   yices2.Bvand2,
	smt.OpBvOr:    yices2.Bvor2,
	smt.OpBvXor:   yices2.Bvxor2,
	smt.OpConcat:  yices2.Bvconcat2,
	smt.OpLt:      yices2.BvsltAtom,
	smt.OpLe:      yices2.BvsleAtom,
	smt.OpGt:      yices2.BvsgtAtom,
	smt.OpGe:      yices2.BvsgeAtom,
	smt.OpAnd:     yices2.And2,
	smt.OpOr:      yices2.Or2,
	smt.OpXor:     yices2.Xor2,
	smt.OpImplies: yices2.Implies,
	smt.OpIff:     yices2.Iff,
}

var unaries = map[smt.Opcode]func(a yices2.TermT) yices2.TermT{
	smt.OpNot:   yices2.Not,
	smt.OpBvNot: yices2.Bvnot,
	smt.OpNeg:   yices2.Bvneg,
}

func (Backend) Binary(_ *Session, op smt.Opcode, lhs, rhs yices2.TermT) (yices2.TermT, error) {
	fn, ok := binaries[op]
	if !ok {
		return yices2.NullTerm, unsupported("operator " + op.String())
	}
	mu.Lock()
	defer mu.Unlock()
	return term(op.String(), fn(lhs, rhs))
}

func (Backend) Unary(_ *Session, op smt.Opcode, operand yices2.TermT) (yices2.TermT, error) {
	fn, ok := unaries[op]
	if !ok {
		return yices2.NullTerm, unsupported("operator " + op.String())
	}
	mu.Lock()
	defer mu.Unlock()
	return term(op.String(), fn(operand))
}

func (Backend) Ite(_ *Session, cond, then, els yices2.TermT) (yices2.TermT, error) {
	mu.Lock()
	defer mu.Unlock()
	return term("ite", yices2.Ite(cond, then, els))
}

func (Backend) Select(_ *Session, array, index yices2.TermT) (yices2.TermT, error) {
	mu.Lock()
	defer mu.Unlock()
	return term("select", yices2.Application1(array, index))
}

func (Backend) Store(_ *Session, array, index, value yices2.TermT) (yices2.TermT, error) {
	mu.Lock()
	defer mu.Unlock()
	return term("store", yices2.Update1(array, index, value))
}

func (Backend) Extend(_ *Session, e yices2.TermT, n uint, signed bool) (yices2.TermT, error) {
	mu.Lock()
	defer mu.Unlock()
	if signed {
		return term("sign extend", yices2.SignExtend(e, uint32(n)))
	}
	return term("zero extend", yices2.ZeroExtend(e, uint32(n)))
}

func (Backend) Extract(_ *Session, e yices2.TermT, hi, lo uint) (yices2.TermT, error) {
	mu.Lock()
	defer mu.Unlock()
	return term("extract", yices2.Bvextract(e, uint32(lo), uint32(hi)))
}

func (Backend) Convert(*Session, yices2.TermT, smt.Sort) (yices2.TermT, error) {
	return yices2.NullTerm, unsupported("floating point conversion")
}

func (Backend) Bound(_ *Session, name string, sort yices2.TypeT) (yices2.TermT, error) {
	mu.Lock()
	defer mu.Unlock()
	return term("variable "+name, yices2.NewVariable(sort))
}

func (Backend) Forall(*Session, []yices2.TermT, yices2.TermT, []yices2.TermT) (yices2.TermT, error) {
	return yices2.NullTerm, unsupported("quantifiers")
}

func (Backend) String(_ *Session, e yices2.TermT) string {
	mu.Lock()
	defer mu.Unlock()
	return yices2.TermToString(e, 512, 30, 0)
}

// Solving

func (Backend) Assert(s *Session, e yices2.TermT) error {
	mu.Lock()
	defer mu.Unlock()
	if yices2.AssertFormula(s.ctx, e) < 0 {
		return failed("assert")
	}
	return nil
}

// AssertTracked asserts label => e for a fresh boolean label and checks
// under the label as an assumption, so that the core names it.
func (Backend) AssertTracked(s *Session, label string, e yices2.TermT) error {
	mu.Lock()
	defer mu.Unlock()
	a := yices2.NewUninterpretedTerm(yices2.BoolType())
	if a == yices2.NullTerm {
		return failed("label " + label)
	}
	yices2.SetTermName(a, "track!"+label)
	if yices2.AssertFormula(s.ctx, yices2.Implies(a, e)) < 0 {
		return failed("assert " + label)
	}
	s.tracked = append(s.tracked, a)
	s.labels[a] = label
	return nil
}

func (Backend) Check(cctx context.Context, s *Session, timeout time.Duration) (smt.Status, string) {
	w := smt.Watch(cctx, timeout, func() { yices2.StopSearch(s.ctx) })

	mu.Lock()
	var status yices2.SmtStatusT
	if len(s.tracked) > 0 {
		status = yices2.CheckContextWithAssumptions(s.ctx, s.params, s.tracked)
	} else {
		status = yices2.CheckContext(s.ctx, s.params)
	}
	reason := ""
	if status == yices2.StatusError {
		reason = yices2.ErrorString()
	}
	mu.Unlock()
	stopped := w.Done()

	switch status {
	case yices2.StatusSat:
		return smt.StatusSat, ""
	case yices2.StatusUnsat:
		return smt.StatusUnsat, ""
	case yices2.StatusInterrupted:
		if stopped != "" {
			return smt.StatusUnknown, stopped
		}
		return smt.StatusUnknown, "interrupted"
	case yices2.StatusError:
		return smt.StatusUnknown, reason
	}
	return smt.StatusUnknown, "unexpected status"
}

func (Backend) Model(s *Session) (smt.ModelEvaluator[yices2.TermT], error) {
	mu.Lock()
	defer mu.Unlock()
	m := yices2.GetModel(s.ctx, 1)
	if m == nil {
		return nil, failed("get model")
	}
	return &model{raw: m}, nil
}

func (Backend) UnsatCore(s *Session) ([]string, error) {
	if len(s.tracked) == 0 {
		return nil, nil
	}
	mu.Lock()
	defer mu.Unlock()
	var core []yices2.TermT
	if yices2.GetUnsatCore(s.ctx, &core) < 0 {
		return nil, failed("unsat core")
	}
	labels := make([]string, 0, len(core))
	for _, a := range core {
		if label, ok := s.labels[a]; ok {
			labels = append(labels, label)
		}
	}
	return labels, nil
}
