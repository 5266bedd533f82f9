//go:build !z3

package z3

import (
	"github.com/pkg/errors"

	"gstate/internal/ir"
	"gstate/internal/smt"
)

const Name = "z3"

func init() {
	smt.Register(Name, Open)
}

// Open fails: this binary was built without libz3.
func Open(*ir.Factory, smt.Options) (smt.Solver, error) {
	return nil, errors.Errorf("%s: backend not built in, rebuild with -tags z3", Name)
}
