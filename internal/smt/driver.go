package smt

import (
	"context"
	"encoding/binary"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"gstate/internal/config"
	"gstate/internal/ir"
	"gstate/internal/state"
)

// Mode tells whether a query was checked for satisfiability or proven.
type Mode string

const (
	ModeSolve Mode = "solve"
	ModeProve Mode = "prove"
)

// Verdict is one recorded solver outcome.
type Verdict struct {
	Key    uint64
	Solver string
	Mode   Mode
	Status Status
	Reason string
	Query  string
	// positions of the unsat core in the state predicates followed by the query
	Core []int
}

// VerdictCache stores verdicts across runs. Only unsat verdicts are reused,
// since a model cannot be rebuilt from a cache entry.
type VerdictCache interface {
	Lookup(key uint64) (Verdict, bool, error)
	Record(v Verdict) error
}

type Options struct {
	Timeout     time.Duration
	Simplify    bool
	Quantifiers bool
	UnsatCore   bool
	LogFormulas bool
	LogQueries  bool
	Tactics     []string
	Params      config.Params
	Cache       VerdictCache
}

// OptionsFrom takes the options of the configured solver from c.
func OptionsFrom(c *config.Config) Options {
	backend := c.Backend(c.Solver)
	return Options{
		Timeout:     c.TimeoutDuration(),
		Simplify:    c.Simplify,
		Quantifiers: c.Quantifiers,
		UnsatCore:   c.UnsatCore,
		LogFormulas: c.Log.Formulas,
		LogQueries:  c.Log.Queries,
		Tactics:     backend.Tactics,
		Params:      backend.Params,
	}
}

// Solver decides queries against symbolic states.
type Solver interface {
	Name() string
	// Solve checks whether state and query can hold together.
	Solve(ctx context.Context, st *state.SymbolicState, query ...ir.Predicate) (Result, error)
	// Prove checks whether query holds whenever state does. Unsat means it
	// does; Sat carries a counterexample.
	Prove(ctx context.Context, st *state.SymbolicState, query ...ir.Predicate) (Result, error)
}

// Driver runs one backend. Every call opens its own native context and
// closes it before returning.
type Driver[C any, E comparable, S any, F any] struct {
	backend Backend[C, E, S, F]
	factory *ir.Factory
	opts    Options
}

func NewDriver[C any, E comparable, S any, F any](backend Backend[C, E, S, F], f *ir.Factory, opts Options) *Driver[C, E, S, F] {
	return &Driver[C, E, S, F]{backend: backend, factory: f, opts: opts}
}

func (d *Driver[C, E, S, F]) Name() string {
	return d.backend.Name()
}

func (d *Driver[C, E, S, F]) Solve(ctx context.Context, st *state.SymbolicState, query ...ir.Predicate) (Result, error) {
	return d.run(ctx, st, query, ModeSolve)
}

func (d *Driver[C, E, S, F]) Prove(ctx context.Context, st *state.SymbolicState, query ...ir.Predicate) (Result, error) {
	return d.run(ctx, st, query, ModeProve)
}

func (d *Driver[C, E, S, F]) run(cctx context.Context, st *state.SymbolicState, query []ir.Predicate, mode Mode) (Result, error) {
	key := d.Key(st, query, mode)
	if d.opts.Cache != nil {
		v, ok, err := d.opts.Cache.Lookup(key)
		switch {
		case err != nil:
			log.Warnf("verdict cache lookup: %v", err)
		case ok && v.Status == StatusUnsat:
			log.Debugf("%s %s: cached unsat %016x", d.Name(), mode, key)
			return &Unsat{Core: coreAt(st, query, v.Core)}, nil
		}
	}

	result, err := d.check(cctx, st, query, mode)
	if err != nil {
		return nil, err
	}
	if d.opts.LogQueries {
		log.Infof("%s %s %v: %s", d.Name(), mode, query, result.Status())
	}
	if d.opts.Cache != nil {
		v := Verdict{Key: key, Solver: d.Name(), Mode: mode, Status: result.Status(), Query: predicates(query)}
		switch r := result.(type) {
		case *Unknown:
			v.Reason = r.Reason
		case *Unsat:
			v.Core = corePositions(st, query, r.Core)
		}
		if err := d.opts.Cache.Record(v); err != nil {
			log.Warnf("verdict cache record: %v", err)
		}
	}
	return result, nil
}

func (d *Driver[C, E, S, F]) check(cctx context.Context, st *state.SymbolicState, query []ir.Predicate, mode Mode) (Result, error) {
	if err := cctx.Err(); err != nil {
		return &Unknown{Reason: "canceled"}, nil
	}
	ctx, err := d.backend.Open(d.opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", d.Name())
	}
	defer d.backend.Close(ctx)

	enc := NewEncoder(d.backend, ctx, d.opts.Quantifiers)
	if d.opts.Simplify {
		simplifier := ir.Simplifier{F: d.factory}
		enc.Rewrite(func(p ir.Predicate) ir.Predicate {
			return ir.AcceptPredicate(d.factory, p, simplifier)
		})
	}

	assertions, err := enc.State(st)
	if err != nil {
		return nil, err
	}
	q, err := enc.Query(query)
	if err != nil {
		return nil, err
	}
	if mode == ModeProve {
		if q.Formula, err = d.backend.Unary(ctx, OpNot, q.Formula); err != nil {
			return nil, err
		}
	}
	assertions = append(assertions, q)

	axioms, err := enc.Axioms()
	if err != nil {
		return nil, err
	}
	for _, axiom := range axioms {
		if err := d.backend.Assert(ctx, axiom); err != nil {
			return nil, errors.Wrapf(err, "assert axiom")
		}
	}
	byLabel := make(map[string][]ir.Predicate, len(assertions))
	for _, a := range assertions {
		if d.opts.LogFormulas {
			log.Debugf("%s %s: %s", d.Name(), a.Label, d.backend.String(ctx, a.Formula))
		}
		if d.opts.UnsatCore {
			byLabel[a.Label] = a.Predicates
			err = d.backend.AssertTracked(ctx, a.Label, a.Formula)
		} else {
			err = d.backend.Assert(ctx, a.Formula)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "assert %s", a.Label)
		}
	}

	status, reason := d.backend.Check(cctx, ctx, d.opts.Timeout)
	switch status {
	case StatusUnsat:
		result := &Unsat{}
		if d.opts.UnsatCore {
			labels, err := d.backend.UnsatCore(ctx)
			if err != nil {
				log.Warnf("%s: unsat core unavailable: %v", d.Name(), err)
			}
			for _, label := range labels {
				result.Core = append(result.Core, byLabel[label]...)
			}
		}
		return result, nil
	case StatusSat:
		eval, err := d.backend.Model(ctx)
		if err != nil {
			return &Unknown{Reason: err.Error()}, nil
		}
		defer eval.Close()
		model, err := enc.Reconstruct(d.factory, eval, append(st.Predicates(), query...))
		if err != nil {
			return nil, err
		}
		return &Sat{Model: model}, nil
	}
	return &Unknown{Reason: reason}, nil
}

// Key identifies a request for the verdict cache. The state and the query
// enter through their structural hashes, which cover the types of all terms.
func (d *Driver[C, E, S, F]) Key(st *state.SymbolicState, query []ir.Predicate, mode Mode) uint64 {
	h := xxhash.New()
	hashState(h, st)
	h.WriteString("\x00")
	for _, p := range query {
		hashPredicate(h, p)
	}
	h.WriteString("\x00")
	h.WriteString(d.Name())
	h.WriteString(string(mode))
	h.WriteString(strconv.FormatBool(d.opts.Simplify))
	h.WriteString(strconv.FormatBool(d.opts.UnsatCore))
	for _, tactic := range d.opts.Tactics {
		h.WriteString(tactic)
	}
	for _, p := range d.opts.Params {
		h.WriteString(p.Key + "=" + p.String())
	}
	return h.Sum64()
}

func hashPredicate(h *xxhash.Digest, p ir.Predicate) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], p.Hash())
	h.Write(buf[:])
}

func hashState(h *xxhash.Digest, st *state.SymbolicState) {
	for _, e := range st.Entries() {
		switch {
		case e.Clause != nil:
			h.WriteString("c")
			hashPredicate(h, e.Clause.Predicate)
		case e.Path != nil:
			h.WriteString("p")
			hashPredicate(h, e.Path.Predicate)
		default:
			h.WriteString("(")
			for _, alt := range e.Choice {
				h.WriteString("|")
				hashState(h, alt)
			}
			h.WriteString(")")
		}
	}
}

// corePositions maps core predicates to their positions among the state
// predicates followed by the query.
func corePositions(st *state.SymbolicState, query []ir.Predicate, core []ir.Predicate) []int {
	all := append(st.Predicates(), query...)
	var result []int
	for _, c := range core {
		for i, p := range all {
			if ir.EqualPredicates(c, p) {
				result = append(result, i)
				break
			}
		}
	}
	return result
}

func coreAt(st *state.SymbolicState, query []ir.Predicate, positions []int) []ir.Predicate {
	if len(positions) == 0 {
		return nil
	}
	all := append(st.Predicates(), query...)
	var result []ir.Predicate
	for _, i := range positions {
		if i >= 0 && i < len(all) {
			result = append(result, all[i])
		}
	}
	return result
}

func predicates(preds []ir.Predicate) string {
	var s string
	for i, p := range preds {
		if i > 0 {
			s += "; "
		}
		s += p.String()
	}
	return s
}
