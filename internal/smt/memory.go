package smt

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"gstate/internal/ir"
)

// Properties of a reference type that get their own memory space. Any other
// property is a field name.
const (
	ElementsProperty = ""
	LengthProperty   = "length"
	TypeProperty     = "type"
)

// MemorySpace is one partition of the heap, encoded as an array from
// pointers to values. The runtime type tags of all references share one
// space whose Type is the zero Type.
type MemorySpace struct {
	ID       int
	Type     ir.Type
	Property string
}

func (m MemorySpace) String() string {
	switch {
	case m.Property == TypeProperty:
		return fmt.Sprintf("#%d *.type", m.ID)
	case m.Property == ElementsProperty:
		return fmt.Sprintf("#%d %s[*]", m.ID, m.Type)
	}
	return fmt.Sprintf("#%d %s.%s", m.ID, m.Type, m.Property)
}

type spaceKey struct {
	typ  ir.Type
	prop string
}

type space[E comparable] struct {
	MemorySpace
	value   ir.Type
	sort    Sort
	initial E
	touched []E
	seen    map[E]bool
}

func (s *space[E]) key() spaceKey {
	return spaceKey{typ: s.Type, prop: s.Property}
}

func (s *space[E]) touch(addr E) {
	if s.seen[addr] {
		return
	}
	s.seen[addr] = true
	s.touched = append(s.touched, addr)
}

// memory is the part of the encoder state that differs between the
// alternatives of a choice.
type memory[E comparable] struct {
	current map[spaceKey]E
	allocs  []E
}

func (m memory[E]) clone() memory[E] {
	current := make(map[spaceKey]E, len(m.current))
	for k, v := range m.current {
		current[k] = v
	}
	return memory[E]{current: current, allocs: m.allocs[:len(m.allocs):len(m.allocs)]}
}

// TypeTag returns the runtime type tag of typ. Tags are never 0.
func TypeTag(typ ir.Type) int64 {
	return int64(xxhash.Sum64String(typ.String())&0x7fffffff) | 1
}
