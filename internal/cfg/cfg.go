// Package cfg is the control-flow graph input model: methods made of basic
// blocks of typed instructions.
package cfg

import (
	"fmt"
	"strings"

	"gstate/internal/ir"
)

// Value is anything an instruction can use as an operand.
type Value interface {
	Name() string
	Type() ir.Type
}

// Instruction is one element of a basic block.
type Instruction interface {
	Block() *BasicBlock
	String() string

	setBlock(b *BasicBlock)
}

// Terminator is an instruction that ends a basic block.
type Terminator interface {
	Instruction
	Successors() []*BasicBlock
}

type BasicBlock struct {
	Index        int
	Name         string
	Instructions []Instruction
	Preds        []*BasicBlock
	Succs        []*BasicBlock
	// Handler marks the entry of an exception handler.
	Handler bool
	Method  *Method
}

// Terminator returns the last instruction when it terminates the block.
func (b *BasicBlock) Terminator() Terminator {
	if len(b.Instructions) == 0 {
		return nil
	}
	t, _ := b.Instructions[len(b.Instructions)-1].(Terminator)
	return t
}

// Phis returns the leading phi instructions of the block.
func (b *BasicBlock) Phis() []*PhiInst {
	var phis []*PhiInst
	for _, inst := range b.Instructions {
		phi, ok := inst.(*PhiInst)
		if !ok {
			break
		}
		phis = append(phis, phi)
	}
	return phis
}

func (b *BasicBlock) String() string {
	if b.Name != "" {
		return fmt.Sprintf("%%%s", b.Name)
	}
	return fmt.Sprintf("%%bb%d", b.Index)
}

// Method is a method body. Blocks[0] is the entry block.
type Method struct {
	Class      string
	Name       string
	Args       []*Argument
	This       *This
	ReturnType ir.Type
	Blocks     []*BasicBlock
}

func (m *Method) Entry() *BasicBlock {
	if len(m.Blocks) == 0 {
		return nil
	}
	return m.Blocks[0]
}

func (m *Method) String() string {
	if m.Class == "" {
		return m.Name
	}
	return m.Class + "." + m.Name
}

// Instructions returns all instructions in block order.
func (m *Method) Instructions() []Instruction {
	var result []Instruction
	for _, b := range m.Blocks {
		result = append(result, b.Instructions...)
	}
	return result
}

// Print renders the method body as text.
func (m *Method) Print() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s(", m.ReturnType, m)
	for i, a := range m.Args {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s %s", a.Type(), a.Name())
	}
	sb.WriteString(")\n")
	for _, b := range m.Blocks {
		fmt.Fprintf(&sb, "%s:", b)
		if len(b.Preds) > 0 {
			preds := make([]string, len(b.Preds))
			for i, p := range b.Preds {
				preds[i] = p.String()
			}
			fmt.Fprintf(&sb, "\t\t; preds %s", strings.Join(preds, ", "))
		}
		if b.Handler {
			sb.WriteString(" ; handler")
		}
		sb.WriteByte('\n')
		for _, inst := range b.Instructions {
			fmt.Fprintf(&sb, "\t%s\n", inst)
		}
	}
	return sb.String()
}

// Argument is a formal parameter.
type Argument struct {
	Index int
	name  string
	typ   ir.Type
}

func (a *Argument) Name() string  { return a.name }
func (a *Argument) Type() ir.Type { return a.typ }

// This is the receiver of an instance method.
type This struct {
	typ ir.Type
}

func (t *This) Name() string  { return "this" }
func (t *This) Type() ir.Type { return t.typ }

// Constant is a literal operand. Value holds a bool, int64, float64,
// string, ir.Type (class literals) or nil (null).
type Constant struct {
	Value interface{}
	typ   ir.Type
}

func NewConstant(typ ir.Type, value interface{}) *Constant {
	return &Constant{Value: value, typ: typ}
}

func (c *Constant) Type() ir.Type { return c.typ }

func (c *Constant) Name() string {
	switch v := c.Value.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", v)
	case ir.Type:
		return v.String() + ".class"
	default:
		return fmt.Sprint(v)
	}
}
