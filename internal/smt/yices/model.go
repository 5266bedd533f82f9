package yices

import (
	"github.com/pkg/errors"

	yices2 "github.com/ianamason/yices2_go_bindings/yices_api"

	"gstate/internal/smt"
)

type model struct {
	raw *yices2.ModelT
}

func (m *model) Eval(e yices2.TermT) (smt.Value, error) {
	mu.Lock()
	defer mu.Unlock()
	tau := yices2.TypeOfTerm(e)
	switch {
	case yices2.TypeIsBool(tau):
		var v int32
		if yices2.GetBoolValue(*m.raw, e, &v) < 0 {
			return smt.Value{}, failed("bool value")
		}
		return smt.Value{Sort: smt.Sort{Kind: smt.SortBool}, Bool: v == 1}, nil
	case yices2.TypeIsBitvector(tau):
		width := yices2.TermBitsize(e)
		if width > 64 {
			return smt.Value{}, errors.Errorf("yices: %d-bit value does not fit", width)
		}
		// bit i of the value is at index i
		bits := make([]int32, width)
		if yices2.GetBvValue(*m.raw, e, bits) < 0 {
			return smt.Value{}, failed("bv value")
		}
		var v uint64
		for i, b := range bits {
			if b == 1 {
				v |= 1 << uint(i)
			}
		}
		return smt.Value{Sort: smt.Sort{Kind: smt.SortBV, Width: uint(width)}, Bits: v}, nil
	}
	return smt.Value{}, errors.Errorf("yices: no value for term of type %d", tau)
}

func (m *model) Close() {
	mu.Lock()
	defer mu.Unlock()
	yices2.CloseModel(m.raw)
}
