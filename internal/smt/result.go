package smt

import (
	"fmt"
	"strings"

	"gstate/internal/ir"
)

// Result is exactly one of *Unsat, *Sat or *Unknown.
type Result interface {
	Status() Status
	String() string

	isResult()
}

// Unsat means no assignment satisfies the formulas. Core holds the
// predicates of an unsatisfiable subset when one was requested.
type Unsat struct {
	Core []ir.Predicate
}

type Sat struct {
	Model *Model
}

// Unknown carries the reason the backend gave up: a timeout, a
// cancellation or an internal failure.
type Unknown struct {
	Reason string
}

func (*Unsat) Status() Status   { return StatusUnsat }
func (*Sat) Status() Status     { return StatusSat }
func (*Unknown) Status() Status { return StatusUnknown }

func (*Unsat) isResult()   {}
func (*Sat) isResult()     {}
func (*Unknown) isResult() {}

func (r *Unsat) String() string {
	if len(r.Core) == 0 {
		return "unsat"
	}
	core := make([]string, len(r.Core))
	for i, p := range r.Core {
		core[i] = p.String()
	}
	return "unsat, core: " + strings.Join(core, "; ")
}

func (r *Sat) String() string {
	if r.Model == nil {
		return "sat"
	}
	return "sat\n" + r.Model.String()
}

func (r *Unknown) String() string {
	return fmt.Sprintf("unknown (%s)", r.Reason)
}
