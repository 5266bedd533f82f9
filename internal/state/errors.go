package state

import (
	"fmt"
	"strings"

	"gstate/internal/cfg"
)

// UnsupportedError is a query the builder cannot answer soundly, such as an
// instruction inside an exception handler.
type UnsupportedError struct {
	Block       *cfg.BasicBlock
	Instruction cfg.Instruction
	Reason      string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported state query at %s in %s: %s", location(e.Instruction), e.Block, e.Reason)
}

// ConsistencyError means lowering and the control-flow graph disagree.
type ConsistencyError struct {
	Block       *cfg.BasicBlock
	Instruction cfg.Instruction
	Reason      string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("inconsistent state at %s in %s: %s", location(e.Instruction), e.Block, e.Reason)
}

// CycleError is a cycle among the blocks reaching a query that is not a
// natural loop.
type CycleError struct {
	Blocks []*cfg.BasicBlock
}

func (e *CycleError) Error() string {
	names := make([]string, len(e.Blocks))
	for i, b := range e.Blocks {
		names[i] = b.String()
	}
	return "irreducible cycle among blocks " + strings.Join(names, ", ")
}

func location(inst cfg.Instruction) string {
	if inst == nil {
		return "block entry"
	}
	return fmt.Sprintf("%q", inst.String())
}
