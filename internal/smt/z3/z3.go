//go:build z3

// Package z3 is the Z3 backend. It links against libz3 through cgo and is
// only built with the z3 build tag.
package z3

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdlib.h>
*/
import "C"

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unsafe"

	log "github.com/sirupsen/logrus"

	"gstate/internal/config"
	"gstate/internal/ir"
	"gstate/internal/smt"
)

const Name = "z3"

func init() {
	smt.Register(Name, Open)
}

// Open returns a solver driving Z3 for one analysis session.
func Open(f *ir.Factory, opts smt.Options) (smt.Solver, error) {
	return smt.NewDriver[*Session, C.Z3_ast, C.Z3_sort, C.Z3_func_decl](Backend{}, f, opts), nil
}

// Session owns one Z3 context and its solver.
type Session struct {
	raw     C.Z3_context
	solver  C.Z3_solver
	tracked map[C.Z3_ast]string
}

// err returns the error for the last API call, nil if it succeeded.
func (s *Session) err(op string) error {
	if code := C.Z3_get_error_code(s.raw); code != C.Z3_OK {
		return &Error{Code: int(code), Op: op, Message: C.GoString(C.Z3_get_error_msg(s.raw, code))}
	}
	return nil
}

func (s *Session) symbol(name string) C.Z3_symbol {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return C.Z3_mk_string_symbol(s.raw, cname)
}

// Error is an error reported by the Z3 API.
type Error struct {
	Code    int
	Op      string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Message, e.Code)
}

type Backend struct{}

func (Backend) Name() string { return Name }

func (Backend) Features() smt.Features {
	return smt.Features{Quantifiers: true, FloatingPoint: true}
}

func (Backend) Open(opts smt.Options) (*Session, error) {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	s := &Session{raw: C.Z3_mk_context(config), tracked: make(map[C.Z3_ast]string)}
	C.Z3_set_error_handler(s.raw, nil)
	C.Z3_set_ast_print_mode(s.raw, C.Z3_PRINT_SMTLIB2_COMPLIANT)

	solver, err := s.makeSolver(opts.Tactics)
	if err != nil {
		C.Z3_del_context(s.raw)
		return nil, err
	}
	s.solver = solver

	if err := s.setParams(opts.Params); err != nil {
		Backend{}.Close(s)
		return nil, err
	}
	return s, nil
}

// makeSolver builds a solver from the tactics run one after another, or the
// default solver when there are none.
func (s *Session) makeSolver(tactics []string) (C.Z3_solver, error) {
	if len(tactics) == 0 {
		solver := C.Z3_mk_solver(s.raw)
		if err := s.err("Z3_mk_solver"); err != nil {
			return nil, err
		}
		C.Z3_solver_inc_ref(s.raw, solver)
		return solver, nil
	}
	var combined C.Z3_tactic
	defer func() {
		if combined != nil {
			C.Z3_tactic_dec_ref(s.raw, combined)
		}
	}()
	for _, name := range tactics {
		cname := C.CString(name)
		tactic := C.Z3_mk_tactic(s.raw, cname)
		C.free(unsafe.Pointer(cname))
		if err := s.err("Z3_mk_tactic " + name); err != nil {
			return nil, err
		}
		C.Z3_tactic_inc_ref(s.raw, tactic)
		if combined == nil {
			combined = tactic
			continue
		}
		next := C.Z3_tactic_and_then(s.raw, combined, tactic)
		err := s.err("Z3_tactic_and_then")
		if err == nil {
			C.Z3_tactic_inc_ref(s.raw, next)
		}
		C.Z3_tactic_dec_ref(s.raw, tactic)
		C.Z3_tactic_dec_ref(s.raw, combined)
		combined = nil
		if err != nil {
			return nil, err
		}
		combined = next
	}
	// the solver keeps its own reference to the tactic
	solver := C.Z3_mk_solver_from_tactic(s.raw, combined)
	if err := s.err("Z3_mk_solver_from_tactic"); err != nil {
		return nil, err
	}
	C.Z3_solver_inc_ref(s.raw, solver)
	return solver, nil
}

func (s *Session) setParams(params config.Params) error {
	if len(params) == 0 {
		return nil
	}
	p := C.Z3_mk_params(s.raw)
	C.Z3_params_inc_ref(s.raw, p)
	defer C.Z3_params_dec_ref(s.raw, p)
	for _, param := range params {
		key := s.symbol(param.Key)
		switch v := param.Value.(type) {
		case bool:
			C.Z3_params_set_bool(s.raw, p, key, C.bool(v))
		case int:
			C.Z3_params_set_uint(s.raw, p, key, C.uint(v))
		case float64:
			C.Z3_params_set_double(s.raw, p, key, C.double(v))
		default:
			C.Z3_params_set_symbol(s.raw, p, key, s.symbol(param.String()))
		}
		if err := s.err("param " + param.Key); err != nil {
			return err
		}
	}
	C.Z3_solver_set_params(s.raw, s.solver, p)
	return s.err("Z3_solver_set_params")
}

func (Backend) Close(s *Session) {
	if s.solver != nil {
		C.Z3_solver_dec_ref(s.raw, s.solver)
	}
	C.Z3_del_context(s.raw)
}

// Sorts

func (Backend) BoolSort(s *Session) (C.Z3_sort, error) {
	return C.Z3_mk_bool_sort(s.raw), s.err("Z3_mk_bool_sort")
}

func (Backend) BVSort(s *Session, width uint) (C.Z3_sort, error) {
	return C.Z3_mk_bv_sort(s.raw, C.uint(width)), s.err("Z3_mk_bv_sort")
}

func (Backend) FloatSort(s *Session, double bool) (C.Z3_sort, error) {
	if double {
		return C.Z3_mk_fpa_sort_double(s.raw), s.err("Z3_mk_fpa_sort_double")
	}
	return C.Z3_mk_fpa_sort_single(s.raw), s.err("Z3_mk_fpa_sort_single")
}

func (Backend) ArraySort(s *Session, domain, rng C.Z3_sort) (C.Z3_sort, error) {
	return C.Z3_mk_array_sort(s.raw, domain, rng), s.err("Z3_mk_array_sort")
}

func (Backend) SortOf(s *Session, e C.Z3_ast) smt.Sort {
	return sortOf(s, C.Z3_get_sort(s.raw, e))
}

func sortOf(s *Session, sort C.Z3_sort) smt.Sort {
	switch C.Z3_get_sort_kind(s.raw, sort) {
	case C.Z3_BOOL_SORT:
		return smt.Sort{Kind: smt.SortBool}
	case C.Z3_BV_SORT:
		return smt.Sort{Kind: smt.SortBV, Width: uint(C.Z3_get_bv_sort_size(s.raw, sort))}
	case C.Z3_FLOATING_POINT_SORT:
		if C.Z3_fpa_get_ebits(s.raw, sort) == 8 {
			return smt.Sort{Kind: smt.SortFloat}
		}
		return smt.Sort{Kind: smt.SortDouble}
	case C.Z3_ARRAY_SORT:
		return smt.Sort{Kind: smt.SortArray}
	}
	return smt.Sort{}
}

// Terms

func (Backend) Bool(s *Session, v bool) (C.Z3_ast, error) {
	if v {
		return C.Z3_mk_true(s.raw), s.err("Z3_mk_true")
	}
	return C.Z3_mk_false(s.raw), s.err("Z3_mk_false")
}

func (b Backend) BV(s *Session, width uint, v int64) (C.Z3_ast, error) {
	sort, err := b.BVSort(s, width)
	if err != nil {
		return nil, err
	}
	bits := uint64(v)
	if width < 64 {
		bits &= 1<<width - 1
	}
	return C.Z3_mk_unsigned_int64(s.raw, C.uint64_t(bits), sort), s.err("Z3_mk_unsigned_int64")
}

func (b Backend) Float(s *Session, v float32) (C.Z3_ast, error) {
	sort, err := b.FloatSort(s, false)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_fpa_numeral_float(s.raw, C.float(v), sort), s.err("Z3_mk_fpa_numeral_float")
}

func (b Backend) Double(s *Session, v float64) (C.Z3_ast, error) {
	sort, err := b.FloatSort(s, true)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_fpa_numeral_double(s.raw, C.double(v), sort), s.err("Z3_mk_fpa_numeral_double")
}

func (Backend) Var(s *Session, name string, sort C.Z3_sort) (C.Z3_ast, error) {
	return C.Z3_mk_const(s.raw, s.symbol(name), sort), s.err("Z3_mk_const")
}

func (Backend) Func(s *Session, name string, domain []C.Z3_sort, rng C.Z3_sort) (C.Z3_func_decl, error) {
	return C.Z3_mk_func_decl(s.raw, s.symbol(name), C.uint(len(domain)), &domain[0], rng), s.err("Z3_mk_func_decl")
}

func (Backend) Apply(s *Session, fn C.Z3_func_decl, args ...C.Z3_ast) (C.Z3_ast, error) {
	return C.Z3_mk_app(s.raw, fn, C.uint(len(args)), &args[0]), s.err("Z3_mk_app")
}

func (Backend) Binary(s *Session, op smt.Opcode, lhs, rhs C.Z3_ast) (C.Z3_ast, error) {
	var result C.Z3_ast
	args := [2]C.Z3_ast{lhs, rhs}
	switch op {
	case smt.OpEq:
		result = C.Z3_mk_eq(s.raw, lhs, rhs)
	case smt.OpNeq:
		result = C.Z3_mk_distinct(s.raw, 2, &args[0])
	case smt.OpAdd:
		result = C.Z3_mk_bvadd(s.raw, lhs, rhs)
	case smt.OpSub:
		result = C.Z3_mk_bvsub(s.raw, lhs, rhs)
	case smt.OpMul:
		result = C.Z3_mk_bvmul(s.raw, lhs, rhs)
	case smt.OpDiv:
		result = C.Z3_mk_bvsdiv(s.raw, lhs, rhs)
	case smt.OpRem:
		result = C.Z3_mk_bvsrem(s.raw, lhs, rhs)
	case smt.OpShl:
		result = C.Z3_mk_bvshl(s.raw, lhs, rhs)
	case smt.OpLshr:
		result = C.Z3_mk_bvlshr(s.raw, lhs, rhs)
	case smt.OpAshr:
		result = C.Z3_mk_bvashr(s.raw, lhs, rhs)
	case smt.OpBvAnd:
		result = C.Z3_mk_bvand(s.raw, lhs, rhs)
	case smt.OpBvOr:
		result = C.Z3_mk_bvor(s.raw, lhs, rhs)
	case smt.OpBvXor:
		result = C.Z3_mk_bvxor(s.raw, lhs, rhs)
	case smt.OpConcat:
		result = C.Z3_mk_concat(s.raw, lhs, rhs)
	case smt.OpLt:
		result = C.Z3_mk_bvslt(s.raw, lhs, rhs)
	case smt.OpLe:
		result = C.Z3_mk_bvsle(s.raw, lhs, rhs)
	case smt.OpGt:
		result = C.Z3_mk_bvsgt(s.raw, lhs, rhs)
	case smt.OpGe:
		result = C.Z3_mk_bvsge(s.raw, lhs, rhs)
	case smt.OpAnd:
		result = C.Z3_mk_and(s.raw, 2, &args[0])
	case smt.OpOr:
		result = C.Z3_mk_or(s.raw, 2, &args[0])
	case smt.OpXor:
		result = C.Z3_mk_xor(s.raw, lhs, rhs)
	case smt.OpImplies:
		result = C.Z3_mk_implies(s.raw, lhs, rhs)
	case smt.OpIff:
		result = C.Z3_mk_iff(s.raw, lhs, rhs)
	case smt.OpFAdd:
		result = C.Z3_mk_fpa_add(s.raw, s.nearest(), lhs, rhs)
	case smt.OpFSub:
		result = C.Z3_mk_fpa_sub(s.raw, s.nearest(), lhs, rhs)
	case smt.OpFMul:
		result = C.Z3_mk_fpa_mul(s.raw, s.nearest(), lhs, rhs)
	case smt.OpFDiv:
		result = C.Z3_mk_fpa_div(s.raw, s.nearest(), lhs, rhs)
	case smt.OpFRem:
		result = C.Z3_mk_fpa_rem(s.raw, lhs, rhs)
	case smt.OpFEq:
		result = C.Z3_mk_fpa_eq(s.raw, lhs, rhs)
	case smt.OpFLt:
		result = C.Z3_mk_fpa_lt(s.raw, lhs, rhs)
	case smt.OpFLe:
		result = C.Z3_mk_fpa_leq(s.raw, lhs, rhs)
	case smt.OpFGt:
		result = C.Z3_mk_fpa_gt(s.raw, lhs, rhs)
	case smt.OpFGe:
		result = C.Z3_mk_fpa_geq(s.raw, lhs, rhs)
	default:
		return nil, &smt.EncodeError{Backend: Name, Reason: "operator " + op.String()}
	}
	return result, s.err(op.String())
}

func (s *Session) nearest() C.Z3_ast {
	return C.Z3_mk_fpa_round_nearest_ties_to_even(s.raw)
}

func (Backend) Unary(s *Session, op smt.Opcode, operand C.Z3_ast) (C.Z3_ast, error) {
	var result C.Z3_ast
	switch op {
	case smt.OpNot:
		result = C.Z3_mk_not(s.raw, operand)
	case smt.OpBvNot:
		result = C.Z3_mk_bvnot(s.raw, operand)
	case smt.OpNeg:
		result = C.Z3_mk_bvneg(s.raw, operand)
	case smt.OpFNeg:
		result = C.Z3_mk_fpa_neg(s.raw, operand)
	default:
		return nil, &smt.EncodeError{Backend: Name, Reason: "operator " + op.String()}
	}
	return result, s.err(op.String())
}

func (Backend) Ite(s *Session, cond, then, els C.Z3_ast) (C.Z3_ast, error) {
	return C.Z3_mk_ite(s.raw, cond, then, els), s.err("Z3_mk_ite")
}

func (Backend) Select(s *Session, array, index C.Z3_ast) (C.Z3_ast, error) {
	return C.Z3_mk_select(s.raw, array, index), s.err("Z3_mk_select")
}

func (Backend) Store(s *Session, array, index, value C.Z3_ast) (C.Z3_ast, error) {
	return C.Z3_mk_store(s.raw, array, index, value), s.err("Z3_mk_store")
}

func (Backend) Extend(s *Session, e C.Z3_ast, n uint, signed bool) (C.Z3_ast, error) {
	if signed {
		return C.Z3_mk_sign_ext(s.raw, C.uint(n), e), s.err("Z3_mk_sign_ext")
	}
	return C.Z3_mk_zero_ext(s.raw, C.uint(n), e), s.err("Z3_mk_zero_ext")
}

func (Backend) Extract(s *Session, e C.Z3_ast, hi, lo uint) (C.Z3_ast, error) {
	return C.Z3_mk_extract(s.raw, C.uint(hi), C.uint(lo), e), s.err("Z3_mk_extract")
}

func (b Backend) Convert(s *Session, e C.Z3_ast, to smt.Sort) (C.Z3_ast, error) {
	from := b.SortOf(s, e)
	switch {
	case to.Kind == smt.SortBV && (from.Kind == smt.SortFloat || from.Kind == smt.SortDouble):
		rtz := C.Z3_mk_fpa_round_toward_zero(s.raw)
		return C.Z3_mk_fpa_to_sbv(s.raw, rtz, e, C.uint(to.Width)), s.err("Z3_mk_fpa_to_sbv")
	case to.Kind == smt.SortFloat || to.Kind == smt.SortDouble:
		sort, err := b.FloatSort(s, to.Kind == smt.SortDouble)
		if err != nil {
			return nil, err
		}
		if from.Kind == smt.SortBV {
			return C.Z3_mk_fpa_to_fp_signed(s.raw, s.nearest(), e, sort), s.err("Z3_mk_fpa_to_fp_signed")
		}
		return C.Z3_mk_fpa_to_fp_float(s.raw, s.nearest(), e, sort), s.err("Z3_mk_fpa_to_fp_float")
	}
	return nil, &smt.EncodeError{Backend: Name, Reason: fmt.Sprintf("conversion from %s to %s", from, to)}
}

func (b Backend) Bound(s *Session, name string, sort C.Z3_sort) (C.Z3_ast, error) {
	return b.Var(s, name, sort)
}

func (Backend) Forall(s *Session, vars []C.Z3_ast, body C.Z3_ast, patterns []C.Z3_ast) (C.Z3_ast, error) {
	bound := make([]C.Z3_app, len(vars))
	for i, v := range vars {
		bound[i] = C.Z3_to_app(s.raw, v)
	}
	var pats []C.Z3_pattern
	if len(patterns) > 0 {
		pats = append(pats, C.Z3_mk_pattern(s.raw, C.uint(len(patterns)), &patterns[0]))
		if err := s.err("Z3_mk_pattern"); err != nil {
			return nil, err
		}
	}
	var first *C.Z3_pattern
	if len(pats) > 0 {
		first = &pats[0]
	}
	return C.Z3_mk_forall_const(s.raw, 0, C.uint(len(bound)), &bound[0], C.uint(len(pats)), first, body), s.err("Z3_mk_forall_const")
}

func (Backend) String(s *Session, e C.Z3_ast) string {
	return C.GoString(C.Z3_ast_to_string(s.raw, e))
}

// Solving

func (Backend) Assert(s *Session, e C.Z3_ast) error {
	C.Z3_solver_assert(s.raw, s.solver, e)
	return s.err("Z3_solver_assert")
}

func (b Backend) AssertTracked(s *Session, label string, e C.Z3_ast) error {
	sort, err := b.BoolSort(s)
	if err != nil {
		return err
	}
	tracker := C.Z3_mk_const(s.raw, s.symbol("track!"+label), sort)
	C.Z3_solver_assert_and_track(s.raw, s.solver, e, tracker)
	if err := s.err("Z3_solver_assert_and_track"); err != nil {
		return err
	}
	s.tracked[tracker] = label
	return nil
}

func (Backend) Check(cctx context.Context, s *Session, timeout time.Duration) (smt.Status, string) {
	w := smt.Watch(cctx, timeout, func() { C.Z3_interrupt(s.raw) })
	ret := C.Z3_solver_check(s.raw, s.solver)
	stopped := w.Done()
	if err := s.err("Z3_solver_check"); err != nil {
		return smt.StatusUnknown, err.Error()
	}
	switch ret {
	case C.Z3_L_TRUE:
		return smt.StatusSat, ""
	case C.Z3_L_FALSE:
		return smt.StatusUnsat, ""
	}
	if stopped != "" {
		return smt.StatusUnknown, stopped
	}
	reason := C.GoString(C.Z3_solver_get_reason_unknown(s.raw, s.solver))
	switch {
	case strings.Contains(reason, "timeout"):
		return smt.StatusUnknown, "timeout"
	case strings.Contains(reason, "canceled"):
		return smt.StatusUnknown, "canceled"
	}
	return smt.StatusUnknown, reason
}

func (Backend) Model(s *Session) (smt.ModelEvaluator[C.Z3_ast], error) {
	m := C.Z3_solver_get_model(s.raw, s.solver)
	if err := s.err("Z3_solver_get_model"); err != nil {
		return nil, err
	}
	C.Z3_model_inc_ref(s.raw, m)
	return &model{s: s, raw: m}, nil
}

func (Backend) UnsatCore(s *Session) ([]string, error) {
	core := C.Z3_solver_get_unsat_core(s.raw, s.solver)
	if err := s.err("Z3_solver_get_unsat_core"); err != nil {
		return nil, err
	}
	C.Z3_ast_vector_inc_ref(s.raw, core)
	defer C.Z3_ast_vector_dec_ref(s.raw, core)

	n := uint(C.Z3_ast_vector_size(s.raw, core))
	labels := make([]string, 0, n)
	for i := uint(0); i < n; i++ {
		a := C.Z3_ast_vector_get(s.raw, core, C.uint(i))
		if label, ok := s.tracked[a]; ok {
			labels = append(labels, label)
		} else {
			log.Debugf("z3: untracked core element %s", C.GoString(C.Z3_ast_to_string(s.raw, a)))
		}
	}
	return labels, nil
}

type model struct {
	s   *Session
	raw C.Z3_model
}

func (m *model) eval(e C.Z3_ast) (C.Z3_ast, error) {
	var out C.Z3_ast
	if !C.Z3_model_eval(m.s.raw, m.raw, e, C.bool(true), &out) {
		return nil, m.s.err("Z3_model_eval")
	}
	return out, m.s.err("Z3_model_eval")
}

func (m *model) bits(e C.Z3_ast) (uint64, error) {
	var v C.uint64_t
	if !C.Z3_get_numeral_uint64(m.s.raw, e, &v) {
		return 0, &Error{Op: "Z3_get_numeral_uint64", Message: "not a numeral"}
	}
	return uint64(v), m.s.err("Z3_get_numeral_uint64")
}

func (m *model) Eval(e C.Z3_ast) (smt.Value, error) {
	out, err := m.eval(e)
	if err != nil {
		return smt.Value{}, err
	}
	sort := sortOf(m.s, C.Z3_get_sort(m.s.raw, out))
	v := smt.Value{Sort: sort}
	switch sort.Kind {
	case smt.SortBool:
		v.Bool = C.Z3_get_bool_value(m.s.raw, out) == C.Z3_L_TRUE
	case smt.SortBV:
		v.Bits, err = m.bits(out)
	case smt.SortFloat, smt.SortDouble:
		// read the value back through its IEEE-754 encoding
		var ieee C.Z3_ast
		if ieee, err = m.eval(C.Z3_mk_fpa_to_ieee_bv(m.s.raw, out)); err != nil {
			return v, err
		}
		if v.Bits, err = m.bits(ieee); err != nil {
			return v, err
		}
		if sort.Kind == smt.SortFloat {
			v.Float = math.Float32frombits(uint32(v.Bits))
		} else {
			v.Double = math.Float64frombits(v.Bits)
		}
	}
	return v, err
}

func (m *model) Close() {
	C.Z3_model_dec_ref(m.s.raw, m.raw)
}
