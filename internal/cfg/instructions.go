package cfg

import (
	"fmt"
	"strings"

	"gstate/internal/ir"
)

type instr struct {
	block *BasicBlock
}

func (i *instr) Block() *BasicBlock     { return i.block }
func (i *instr) setBlock(b *BasicBlock) { i.block = b }

// valueInstr is embedded by instructions that define a value.
type valueInstr struct {
	instr
	name string
	typ  ir.Type
}

func (v *valueInstr) Name() string  { return v.name }
func (v *valueInstr) Type() ir.Type { return v.typ }

func operands(values ...Value) string {
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = v.Name()
	}
	return strings.Join(names, ", ")
}

type BinaryInst struct {
	valueInstr
	Op       ir.BinaryOp
	LHS, RHS Value
}

func (i *BinaryInst) String() string {
	return fmt.Sprintf("%s = %s %s %s", i.name, i.LHS.Name(), i.Op, i.RHS.Name())
}

type CmpInst struct {
	valueInstr
	Op       ir.CmpOp
	LHS, RHS Value
}

func (i *CmpInst) String() string {
	return fmt.Sprintf("%s = %s %s %s", i.name, i.LHS.Name(), i.Op, i.RHS.Name())
}

type NegInst struct {
	valueInstr
	Operand Value
}

func (i *NegInst) String() string {
	return fmt.Sprintf("%s = -%s", i.name, i.Operand.Name())
}

// CastInst converts Operand to the instruction type.
type CastInst struct {
	valueInstr
	Operand Value
}

func (i *CastInst) String() string {
	return fmt.Sprintf("%s = (%s) %s", i.name, i.typ, i.Operand.Name())
}

type InstanceOfInst struct {
	valueInstr
	Operand Value
	Class   ir.Type
}

func (i *InstanceOfInst) String() string {
	return fmt.Sprintf("%s = %s instanceof %s", i.name, i.Operand.Name(), i.Class)
}

type NewInst struct {
	valueInstr
}

func (i *NewInst) String() string {
	return fmt.Sprintf("%s = new %s", i.name, i.typ)
}

type NewArrayInst struct {
	valueInstr
	Dimensions []Value
}

func (i *NewArrayInst) String() string {
	return fmt.Sprintf("%s = new %s(%s)", i.name, i.typ, operands(i.Dimensions...))
}

type ArrayLoadInst struct {
	valueInstr
	Array, Index Value
}

func (i *ArrayLoadInst) String() string {
	return fmt.Sprintf("%s = %s[%s]", i.name, i.Array.Name(), i.Index.Name())
}

type ArrayStoreInst struct {
	instr
	Array, Index, Value Value
}

func (i *ArrayStoreInst) String() string {
	return fmt.Sprintf("%s[%s] = %s", i.Array.Name(), i.Index.Name(), i.Value.Name())
}

type ArrayLengthInst struct {
	valueInstr
	Array Value
}

func (i *ArrayLengthInst) String() string {
	return fmt.Sprintf("%s = %s.length", i.name, i.Array.Name())
}

// FieldLoadInst reads a field. Owner is nil for static fields of Class.
type FieldLoadInst struct {
	valueInstr
	Owner Value
	Class ir.Type
	Field string
}

func (i *FieldLoadInst) String() string {
	return fmt.Sprintf("%s = %s.%s", i.name, ownerName(i.Owner, i.Class), i.Field)
}

type FieldStoreInst struct {
	instr
	Owner Value
	Class ir.Type
	Field string
	Value Value
}

func (i *FieldStoreInst) String() string {
	return fmt.Sprintf("%s.%s = %s", ownerName(i.Owner, i.Class), i.Field, i.Value.Name())
}

func ownerName(owner Value, class ir.Type) string {
	if owner == nil {
		return class.String()
	}
	return owner.Name()
}

// CallInst invokes Method. Owner is nil for static calls; a call whose type
// is void defines no value.
type CallInst struct {
	valueInstr
	Method string
	Class  ir.Type
	Owner  Value
	Args   []Value
}

func (i *CallInst) String() string {
	call := fmt.Sprintf("%s.%s(%s)", ownerName(i.Owner, i.Class), i.Method, operands(i.Args...))
	if i.typ == ir.VoidType {
		return call
	}
	return i.name + " = " + call
}

type PhiEdge struct {
	Pred  *BasicBlock
	Value Value
}

type PhiInst struct {
	valueInstr
	Edges []PhiEdge
}

// Incoming returns the value flowing in from pred.
func (i *PhiInst) Incoming(pred *BasicBlock) (Value, bool) {
	for _, e := range i.Edges {
		if e.Pred == pred {
			return e.Value, true
		}
	}
	return nil, false
}

func (i *PhiInst) String() string {
	edges := make([]string, len(i.Edges))
	for j, e := range i.Edges {
		edges[j] = fmt.Sprintf("%s -> %s", e.Pred, e.Value.Name())
	}
	return fmt.Sprintf("%s = phi {%s}", i.name, strings.Join(edges, ", "))
}

type BranchInst struct {
	instr
	Cond        Value
	True, False *BasicBlock
}

func (i *BranchInst) Successors() []*BasicBlock { return []*BasicBlock{i.True, i.False} }

func (i *BranchInst) String() string {
	return fmt.Sprintf("if (%s) goto %s else %s", i.Cond.Name(), i.True, i.False)
}

type SwitchCase struct {
	Value  Value
	Target *BasicBlock
}

type SwitchInst struct {
	instr
	Key     Value
	Cases   []SwitchCase
	Default *BasicBlock
}

func (i *SwitchInst) Successors() []*BasicBlock {
	result := make([]*BasicBlock, 0, len(i.Cases)+1)
	for _, c := range i.Cases {
		result = append(result, c.Target)
	}
	return append(result, i.Default)
}

func (i *SwitchInst) String() string {
	cases := make([]string, len(i.Cases))
	for j, c := range i.Cases {
		cases[j] = fmt.Sprintf("%s -> %s", c.Value.Name(), c.Target)
	}
	return fmt.Sprintf("switch (%s) {%s; default -> %s}", i.Key.Name(), strings.Join(cases, ", "), i.Default)
}

// TableSwitchInst jumps to Targets[key-Min] when Min <= key <= Max.
type TableSwitchInst struct {
	instr
	Key      Value
	Min, Max Value
	Targets  []*BasicBlock
	Default  *BasicBlock
}

func (i *TableSwitchInst) Successors() []*BasicBlock {
	return append(append([]*BasicBlock{}, i.Targets...), i.Default)
}

func (i *TableSwitchInst) String() string {
	targets := make([]string, len(i.Targets))
	for j, t := range i.Targets {
		targets[j] = t.String()
	}
	return fmt.Sprintf("tableswitch (%s) [%s..%s] {%s; default -> %s}",
		i.Key.Name(), i.Min.Name(), i.Max.Name(), strings.Join(targets, ", "), i.Default)
}

type JumpInst struct {
	instr
	Target *BasicBlock
}

func (i *JumpInst) Successors() []*BasicBlock { return []*BasicBlock{i.Target} }
func (i *JumpInst) String() string            { return "goto " + i.Target.String() }

// ReturnInst returns Value, which is nil for void methods.
type ReturnInst struct {
	instr
	Value Value
}

func (i *ReturnInst) Successors() []*BasicBlock { return nil }

func (i *ReturnInst) String() string {
	if i.Value == nil {
		return "return"
	}
	return "return " + i.Value.Name()
}

type ThrowInst struct {
	instr
	Value Value
}

func (i *ThrowInst) Successors() []*BasicBlock { return nil }
func (i *ThrowInst) String() string            { return "throw " + i.Value.Name() }

type UnreachableInst struct {
	instr
}

func (i *UnreachableInst) Successors() []*BasicBlock { return nil }
func (i *UnreachableInst) String() string            { return "unreachable" }

// CatchInst defines the caught exception at the start of a handler block.
type CatchInst struct {
	valueInstr
}

func (i *CatchInst) String() string {
	return fmt.Sprintf("%s = catch %s", i.name, i.typ)
}

type EnterMonitorInst struct {
	instr
	Owner Value
}

func (i *EnterMonitorInst) String() string { return "enter monitor " + i.Owner.Name() }

type ExitMonitorInst struct {
	instr
	Owner Value
}

func (i *ExitMonitorInst) String() string { return "exit monitor " + i.Owner.Name() }
