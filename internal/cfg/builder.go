package cfg

import (
	"fmt"

	"github.com/pkg/errors"

	"gstate/internal/ir"
)

// Builder assembles a Method block by block. Edges are derived from the
// terminators when Build is called.
type Builder struct {
	method   *Method
	current  *BasicBlock
	counter  int
	name     string
	handlers [][2]*BasicBlock
}

func NewBuilder(class, name string, ret ir.Type) *Builder {
	return &Builder{method: &Method{Class: class, Name: name, ReturnType: ret}}
}

func (b *Builder) This(typ ir.Type) *This {
	b.method.This = &This{typ: typ}
	return b.method.This
}

func (b *Builder) Arg(name string, typ ir.Type) *Argument {
	arg := &Argument{Index: len(b.method.Args), name: name, typ: typ}
	b.method.Args = append(b.method.Args, arg)
	return arg
}

// Block appends a new block. The first block created is the entry; the
// builder positions itself at the entry automatically.
func (b *Builder) Block(name string) *BasicBlock {
	block := &BasicBlock{Index: len(b.method.Blocks), Name: name, Method: b.method}
	b.method.Blocks = append(b.method.Blocks, block)
	if b.current == nil {
		b.current = block
	}
	return block
}

// HandlerBlock appends an exception handler entered from each of the given
// blocks.
func (b *Builder) HandlerBlock(name string, from ...*BasicBlock) *BasicBlock {
	block := b.Block(name)
	block.Handler = true
	for _, f := range from {
		b.ExceptionEdge(f, block)
	}
	return block
}

// ExceptionEdge records an implicit edge from a block into a handler.
func (b *Builder) ExceptionEdge(from, handler *BasicBlock) {
	b.handlers = append(b.handlers, [2]*BasicBlock{from, handler})
}

// SetBlock moves the insertion point.
func (b *Builder) SetBlock(block *BasicBlock) {
	b.current = block
}

// As names the value defined by the next instruction.
func (b *Builder) As(name string) *Builder {
	b.name = name
	return b
}

func (b *Builder) value(typ ir.Type) valueInstr {
	name := b.name
	b.name = ""
	if name == "" {
		name = fmt.Sprintf("%%%d", b.counter)
		b.counter++
	}
	return valueInstr{name: name, typ: typ}
}

func (b *Builder) emit(inst Instruction) {
	inst.setBlock(b.current)
	b.current.Instructions = append(b.current.Instructions, inst)
}

func (b *Builder) Int(v int32) *Constant     { return NewConstant(ir.IntType, int64(v)) }
func (b *Builder) Long(v int64) *Constant    { return NewConstant(ir.LongType, v) }
func (b *Builder) Float(v float32) *Constant { return NewConstant(ir.FloatType, float64(v)) }
func (b *Builder) Double(v float64) *Constant {
	return NewConstant(ir.DoubleType, v)
}
func (b *Builder) Bool(v bool) *Constant          { return NewConstant(ir.BoolType, v) }
func (b *Builder) StringConst(v string) *Constant { return NewConstant(ir.ClassType("String"), v) }
func (b *Builder) Null() *Constant                { return NewConstant(ir.NullType, nil) }
func (b *Builder) Class(class ir.Type) *Constant {
	return NewConstant(ir.ClassType("Class"), class)
}

func (b *Builder) Binary(op ir.BinaryOp, lhs, rhs Value) *BinaryInst {
	inst := &BinaryInst{valueInstr: b.value(lhs.Type()), Op: op, LHS: lhs, RHS: rhs}
	b.emit(inst)
	return inst
}

func (b *Builder) Cmp(op ir.CmpOp, lhs, rhs Value) *CmpInst {
	typ := ir.BoolType
	if !op.IsBoolean() {
		typ = ir.IntType
	}
	inst := &CmpInst{valueInstr: b.value(typ), Op: op, LHS: lhs, RHS: rhs}
	b.emit(inst)
	return inst
}

func (b *Builder) Neg(operand Value) *NegInst {
	inst := &NegInst{valueInstr: b.value(operand.Type()), Operand: operand}
	b.emit(inst)
	return inst
}

func (b *Builder) Cast(typ ir.Type, operand Value) *CastInst {
	inst := &CastInst{valueInstr: b.value(typ), Operand: operand}
	b.emit(inst)
	return inst
}

func (b *Builder) InstanceOf(operand Value, class ir.Type) *InstanceOfInst {
	inst := &InstanceOfInst{valueInstr: b.value(ir.BoolType), Operand: operand, Class: class}
	b.emit(inst)
	return inst
}

func (b *Builder) New(class ir.Type) *NewInst {
	inst := &NewInst{valueInstr: b.value(class)}
	b.emit(inst)
	return inst
}

func (b *Builder) NewArray(typ ir.Type, dimensions ...Value) *NewArrayInst {
	inst := &NewArrayInst{valueInstr: b.value(typ), Dimensions: dimensions}
	b.emit(inst)
	return inst
}

func (b *Builder) ArrayLoad(array, index Value) *ArrayLoadInst {
	inst := &ArrayLoadInst{valueInstr: b.value(array.Type().ElementType()), Array: array, Index: index}
	b.emit(inst)
	return inst
}

func (b *Builder) ArrayStore(array, index, value Value) *ArrayStoreInst {
	inst := &ArrayStoreInst{Array: array, Index: index, Value: value}
	b.emit(inst)
	return inst
}

func (b *Builder) ArrayLength(array Value) *ArrayLengthInst {
	inst := &ArrayLengthInst{valueInstr: b.value(ir.IntType), Array: array}
	b.emit(inst)
	return inst
}

// FieldLoad reads owner.field, or the static field of class when owner is nil.
func (b *Builder) FieldLoad(owner Value, class ir.Type, field string, typ ir.Type) *FieldLoadInst {
	inst := &FieldLoadInst{valueInstr: b.value(typ), Owner: owner, Class: class, Field: field}
	b.emit(inst)
	return inst
}

func (b *Builder) FieldStore(owner Value, class ir.Type, field string, value Value) *FieldStoreInst {
	inst := &FieldStoreInst{Owner: owner, Class: class, Field: field, Value: value}
	b.emit(inst)
	return inst
}

func (b *Builder) Call(typ ir.Type, class ir.Type, method string, owner Value, args ...Value) *CallInst {
	inst := &CallInst{valueInstr: b.value(typ), Method: method, Class: class, Owner: owner, Args: args}
	b.emit(inst)
	return inst
}

func (b *Builder) Phi(typ ir.Type, edges ...PhiEdge) *PhiInst {
	inst := &PhiInst{valueInstr: b.value(typ), Edges: edges}
	b.emit(inst)
	return inst
}

func (b *Builder) Catch(class ir.Type) *CatchInst {
	inst := &CatchInst{valueInstr: b.value(class)}
	b.emit(inst)
	return inst
}

func (b *Builder) EnterMonitor(owner Value) { b.emit(&EnterMonitorInst{Owner: owner}) }
func (b *Builder) ExitMonitor(owner Value)  { b.emit(&ExitMonitorInst{Owner: owner}) }

func (b *Builder) Branch(cond Value, t, f *BasicBlock) *BranchInst {
	inst := &BranchInst{Cond: cond, True: t, False: f}
	b.emit(inst)
	return inst
}

func (b *Builder) Switch(key Value, cases []SwitchCase, def *BasicBlock) *SwitchInst {
	inst := &SwitchInst{Key: key, Cases: cases, Default: def}
	b.emit(inst)
	return inst
}

func (b *Builder) TableSwitch(key, min, max Value, targets []*BasicBlock, def *BasicBlock) *TableSwitchInst {
	inst := &TableSwitchInst{Key: key, Min: min, Max: max, Targets: targets, Default: def}
	b.emit(inst)
	return inst
}

func (b *Builder) Jump(target *BasicBlock) *JumpInst {
	inst := &JumpInst{Target: target}
	b.emit(inst)
	return inst
}

func (b *Builder) Return(value Value) *ReturnInst {
	inst := &ReturnInst{Value: value}
	b.emit(inst)
	return inst
}

func (b *Builder) Throw(value Value) *ThrowInst {
	inst := &ThrowInst{Value: value}
	b.emit(inst)
	return inst
}

func (b *Builder) Unreachable() *UnreachableInst {
	inst := &UnreachableInst{}
	b.emit(inst)
	return inst
}

// Build links predecessor and successor lists and checks that every block
// ends in a terminator.
func (b *Builder) Build() (*Method, error) {
	m := b.method
	if len(m.Blocks) == 0 {
		return nil, errors.Errorf("method %s has no blocks", m)
	}
	for _, block := range m.Blocks {
		block.Preds, block.Succs = nil, nil
	}
	for _, block := range m.Blocks {
		term := block.Terminator()
		if term == nil {
			return nil, errors.Errorf("block %s of %s has no terminator", block, m)
		}
		for _, succ := range term.Successors() {
			if succ == nil {
				return nil, errors.Errorf("block %s of %s jumps to a nil block", block, m)
			}
			link(block, succ)
		}
	}
	for _, edge := range b.handlers {
		link(edge[0], edge[1])
	}
	return m, nil
}

func link(from, to *BasicBlock) {
	for _, s := range from.Succs {
		if s == to {
			return
		}
	}
	from.Succs = append(from.Succs, to)
	to.Preds = append(to.Preds, from)
}
