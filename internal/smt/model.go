package smt

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"

	"gstate/internal/ir"
)

// MemoryShape is the content of one memory space before and after the
// analysed segment, indexed by concrete pointer value.
type MemoryShape struct {
	Before map[int64]ir.Term
	After  map[int64]ir.Term
}

// Model is a satisfying assignment translated back into IR constants.
type Model struct {
	Assignments map[ir.Term]ir.Term
	Memory      map[MemorySpace]*MemoryShape
}

// Value returns the constant assigned to t.
func (m *Model) Value(t ir.Term) (ir.Term, bool) {
	v, ok := m.Assignments[t]
	return v, ok
}

// Shape returns the memory space of typ and prop, or nil if the model has
// none.
func (m *Model) Shape(typ ir.Type, prop string) *MemoryShape {
	for space, shape := range m.Memory {
		if space.Type == typ && space.Property == prop {
			return shape
		}
	}
	return nil
}

func (m *Model) String() string {
	var sb strings.Builder
	lines := make([]string, 0, len(m.Assignments))
	for t, v := range m.Assignments {
		lines = append(lines, fmt.Sprintf("%s = %s", t, v))
	}
	slices.Sort(lines)
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}

	spaces := make([]MemorySpace, 0, len(m.Memory))
	for space := range m.Memory {
		spaces = append(spaces, space)
	}
	slices.SortFunc(spaces, func(a, b MemorySpace) int { return a.ID - b.ID })
	for _, space := range spaces {
		shape := m.Memory[space]
		fmt.Fprintf(&sb, "%s\n", space)
		addrs := make([]int64, 0, len(shape.After))
		for addr := range shape.After {
			addrs = append(addrs, addr)
		}
		slices.Sort(addrs)
		for _, addr := range addrs {
			fmt.Fprintf(&sb, "  [%d] %s -> %s\n", addr, shape.Before[addr], shape.After[addr])
		}
	}
	return sb.String()
}

// Reconstruct builds the model of the last satisfiable check. Values of the
// variables in preds are read back, and every memory space is sampled at
// the addresses the formulas touched and at the pointers in preds.
func (e *Encoder[C, E, S, F]) Reconstruct(f *ir.Factory, eval ModelEvaluator[E], preds []ir.Predicate) (*Model, error) {
	vars, pointers := e.collect(preds)
	m := &Model{
		Assignments: make(map[ir.Term]ir.Term, len(vars)),
		Memory:      make(map[MemorySpace]*MemoryShape, len(e.order)),
	}
	for _, v := range vars {
		native, err := e.Term(v)
		if err != nil {
			return nil, err
		}
		value, err := e.decode(f, eval, v.String(), native)
		if err != nil {
			return nil, err
		}
		// narrow values live in a WORD but keep their own constant type
		if k, ok := value.(*ir.ConstInt); ok && narrow(v.Type()) {
			value = f.Integral(v.Type(), k.Value)
		}
		m.Assignments[v] = value
	}

	for _, sp := range e.order {
		shape := &MemoryShape{Before: make(map[int64]ir.Term), After: make(map[int64]ir.Term)}
		addrs := slices.Clone(sp.touched)
		seen := make(map[E]bool, len(addrs))
		for _, addr := range addrs {
			seen[addr] = true
		}
		for _, p := range pointers {
			if sp.Property != TypeProperty && p.Type() != sp.Type {
				continue
			}
			addr, err := e.Term(p)
			if err != nil {
				return nil, err
			}
			if !seen[addr] {
				seen[addr] = true
				addrs = append(addrs, addr)
			}
		}
		current := e.current(sp)
		for _, addr := range addrs {
			ptr, err := eval.Eval(addr)
			if err != nil {
				return nil, err
			}
			key := int64(int32(ptr.Bits))
			name := fmt.Sprintf("%s[%d]", sp.MemorySpace, key)
			if shape.Before[key], err = e.sample(f, eval, name, sp.initial, addr); err != nil {
				return nil, err
			}
			if shape.After[key], err = e.sample(f, eval, name, current, addr); err != nil {
				return nil, err
			}
		}
		m.Memory[sp.MemorySpace] = shape
	}
	return m, nil
}

func (e *Encoder[C, E, S, F]) sample(f *ir.Factory, eval ModelEvaluator[E], name string, array, addr E) (ir.Term, error) {
	cell, err := e.backend.Select(e.ctx, array, addr)
	if err != nil {
		return nil, err
	}
	return e.decode(f, eval, name, cell)
}

// decode turns a native value into a constant of the native sort.
func (e *Encoder[C, E, S, F]) decode(f *ir.Factory, eval ModelEvaluator[E], name string, native E) (ir.Term, error) {
	v, err := eval.Eval(native)
	if err != nil {
		return nil, err
	}
	switch {
	case v.Sort.Kind == SortBool:
		return f.Bool(v.Bool), nil
	case v.Sort.Kind == SortBV && v.Sort.Width == WORD:
		return f.Int(int32(v.Bits)), nil
	case v.Sort.Kind == SortBV && v.Sort.Width == DWORD:
		return f.Long(int64(v.Bits)), nil
	case v.Sort.Kind == SortFloat:
		return f.Float(v.Float), nil
	case v.Sort.Kind == SortDouble:
		return f.Double(v.Double), nil
	}
	return nil, &DecodeError{Term: name, Sort: v.Sort}
}

// collect returns the variables and the heap-independent pointer terms of
// preds, in order of first appearance.
func (e *Encoder[C, E, S, F]) collect(preds []ir.Predicate) (vars, pointers []ir.Term) {
	seen := make(map[ir.Term]bool)
	for _, p := range preds {
		for _, op := range p.Operands() {
			ir.Walk(op, func(t ir.Term) {
				if seen[t] {
					return
				}
				seen[t] = true
				if ir.IsVariable(t) {
					vars = append(vars, t)
				}
				if isPointer(t) && !e.readsHeap(t) {
					pointers = append(pointers, t)
				}
			})
		}
	}
	return vars, pointers
}

func isPointer(t ir.Term) bool {
	if !t.Type().IsReference() {
		return false
	}
	switch t.(type) {
	case *ir.ArrayIndex, *ir.Field, *ir.ConstNull:
		return false
	}
	return true
}
