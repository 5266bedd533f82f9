// Package state builds the symbolic state reaching each program point of a
// method.
package state

import (
	"fmt"
	"strings"

	"github.com/benbjohnson/immutable"

	"gstate/internal/cfg"
	"gstate/internal/ir"
)

// Clause is a state predicate and the instruction it comes from.
type Clause struct {
	Instruction cfg.Instruction
	Predicate   ir.Predicate
}

// PathClause is a branch condition and the terminator it comes from.
type PathClause struct {
	Kind        ir.PathClauseType
	Instruction cfg.Instruction
	Predicate   ir.Predicate
}

// Entry is one element of a SymbolicState: a clause, a path clause or a
// choice between alternative sub-states. Exactly one field is set.
type Entry struct {
	Clause *Clause
	Path   *PathClause
	Choice []*SymbolicState
}

// SymbolicState is an immutable, ordered history of clauses, path clauses
// and choices. Appending returns a new state sharing the prefix.
type SymbolicState struct {
	entries *immutable.List
}

var empty = &SymbolicState{entries: immutable.NewList()}

// Empty returns the state with no entries.
func Empty() *SymbolicState { return empty }

func (s *SymbolicState) Len() int { return s.entries.Len() }

func (s *SymbolicState) At(i int) Entry {
	return s.entries.Get(i).(Entry)
}

func (s *SymbolicState) add(e Entry) *SymbolicState {
	return &SymbolicState{entries: s.entries.Append(e)}
}

func (s *SymbolicState) AddClause(inst cfg.Instruction, p ir.Predicate) *SymbolicState {
	return s.add(Entry{Clause: &Clause{Instruction: inst, Predicate: p}})
}

func (s *SymbolicState) AddPath(kind ir.PathClauseType, inst cfg.Instruction, p ir.Predicate) *SymbolicState {
	return s.add(Entry{Path: &PathClause{Kind: kind, Instruction: inst, Predicate: p}})
}

// AddChoice appends a disjunction of alternatives. A single alternative is
// appended inline instead.
func (s *SymbolicState) AddChoice(alternatives ...*SymbolicState) *SymbolicState {
	if len(alternatives) == 1 {
		return s.Append(alternatives[0])
	}
	return s.add(Entry{Choice: alternatives})
}

// Append concatenates other after s.
func (s *SymbolicState) Append(other *SymbolicState) *SymbolicState {
	if other.Len() == 0 {
		return s
	}
	if s.Len() == 0 {
		return other
	}
	entries := s.entries
	itr := other.entries.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		entries = entries.Append(v)
	}
	return &SymbolicState{entries: entries}
}

// SubState returns the entries in [start, end).
func (s *SymbolicState) SubState(start, end int) *SymbolicState {
	if start == 0 && end == s.Len() {
		return s
	}
	return &SymbolicState{entries: s.entries.Slice(start, end)}
}

func (s *SymbolicState) Entries() []Entry {
	result := make([]Entry, 0, s.Len())
	itr := s.entries.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		result = append(result, v.(Entry))
	}
	return result
}

// Clauses returns the top-level state clauses in order.
func (s *SymbolicState) Clauses() []Clause {
	var result []Clause
	for _, e := range s.Entries() {
		if e.Clause != nil {
			result = append(result, *e.Clause)
		}
	}
	return result
}

// PathCondition returns the top-level path clauses in order.
func (s *SymbolicState) PathCondition() []PathClause {
	var result []PathClause
	for _, e := range s.Entries() {
		if e.Path != nil {
			result = append(result, *e.Path)
		}
	}
	return result
}

// Predicates returns every predicate in the state, alternatives included.
func (s *SymbolicState) Predicates() []ir.Predicate {
	var result []ir.Predicate
	for _, e := range s.Entries() {
		switch {
		case e.Clause != nil:
			result = append(result, e.Clause.Predicate)
		case e.Path != nil:
			result = append(result, e.Path.Predicate)
		default:
			for _, alt := range e.Choice {
				result = append(result, alt.Predicates()...)
			}
		}
	}
	return result
}

func (s *SymbolicState) String() string {
	var sb strings.Builder
	s.print(&sb, "")
	return sb.String()
}

func (s *SymbolicState) print(sb *strings.Builder, indent string) {
	for _, e := range s.Entries() {
		switch {
		case e.Clause != nil:
			fmt.Fprintf(sb, "%s%s\n", indent, e.Clause.Predicate)
		case e.Path != nil:
			fmt.Fprintf(sb, "%s%s [%s]\n", indent, e.Path.Predicate, e.Path.Kind)
		default:
			fmt.Fprintf(sb, "%schoice {\n", indent)
			for _, alt := range e.Choice {
				fmt.Fprintf(sb, "%s|\n", indent)
				alt.print(sb, indent+"  ")
			}
			fmt.Fprintf(sb, "%s}\n", indent)
		}
	}
}

// Equal reports whether two states are structurally equal.
func Equal(a, b *SymbolicState) bool {
	if a == b {
		return true
	}
	if a.Len() != b.Len() {
		return false
	}
	for i := 0; i < a.Len(); i++ {
		if !equalEntries(a.At(i), b.At(i)) {
			return false
		}
	}
	return true
}

func equalEntries(a, b Entry) bool {
	switch {
	case a.Clause != nil:
		return b.Clause != nil && a.Clause.Instruction == b.Clause.Instruction &&
			ir.EqualPredicates(a.Clause.Predicate, b.Clause.Predicate)
	case a.Path != nil:
		return b.Path != nil && a.Path.Kind == b.Path.Kind && a.Path.Instruction == b.Path.Instruction &&
			ir.EqualPredicates(a.Path.Predicate, b.Path.Predicate)
	}
	if len(a.Choice) != len(b.Choice) {
		return false
	}
	for i := range a.Choice {
		if !Equal(a.Choice[i], b.Choice[i]) {
			return false
		}
	}
	return true
}
