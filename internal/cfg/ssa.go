package cfg

import (
	"fmt"
	"go/ast"
	"go/constant"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"gstate/internal/ir"
)

// LoadSource parses and type-checks one Go source file and builds its SSA
// package. src follows the go/parser conventions: nil reads filename.
func LoadSource(filename string, src interface{}) (*ssa.Package, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, errors.Wrapf(err, "ParseFile %s", filename)
	}
	files := []*ast.File{f}
	pkg := types.NewPackage(f.Name.Name, f.Name.Name)
	tc := &types.Config{Importer: importer.ForCompiler(fset, "source", nil)}
	main, _, err := ssautil.BuildPackage(tc, fset, pkg, files, ssa.SanityCheckFunctions)
	if err != nil {
		return nil, errors.Wrapf(err, "BuildPackage %s", filename)
	}
	return main, nil
}

// Functions returns the package-level functions and methods with bodies,
// sorted by name.
func Functions(pkg *ssa.Package) []*ssa.Function {
	var result []*ssa.Function
	for _, member := range pkg.Members {
		switch m := member.(type) {
		case *ssa.Function:
			if m.Name() != "init" && m.Blocks != nil {
				result = append(result, m)
			}
		case *ssa.Type:
			mset := pkg.Prog.MethodSets.MethodSet(types.NewPointer(m.Type()))
			for i := 0; i < mset.Len(); i++ {
				fn := pkg.Prog.MethodValue(mset.At(i))
				if fn != nil && fn.Blocks != nil && fn.Synthetic == "" {
					result = append(result, fn)
				}
			}
		}
	}
	slices.SortFunc(result, func(a, b *ssa.Function) int { return strings.Compare(a.String(), b.String()) })
	return result
}

// Lookup finds a function or method by name, as printed by MethodName.
func Lookup(pkg *ssa.Package, name string) *ssa.Function {
	for _, fn := range Functions(pkg) {
		if MethodName(fn) == name {
			return fn
		}
	}
	return nil
}

// MethodName is "Func" for functions and "Type.Method" for methods.
func MethodName(fn *ssa.Function) string {
	if recv := fn.Signature.Recv(); recv != nil {
		return className(recv.Type()) + "." + fn.Name()
	}
	return fn.Name()
}

// address is an SSA pointer that is resolved at the load or store using it.
type address struct {
	owner Value
	class ir.Type
	field string
	index Value
	array bool
}

// valueField is the pseudo field holding the pointee of a pointer to a
// non-struct value.
const valueField = "*"

type converter struct {
	fn     *ssa.Function
	b      *Builder
	blocks map[*ssa.BasicBlock]*BasicBlock
	values map[ssa.Value]Value
	addrs  map[ssa.Value]address
}

// FromSSA converts a Go SSA function into a Method. Unsigned integers map to
// the signed type of the same width; uint16 maps to char.
func FromSSA(fn *ssa.Function) (*Method, error) {
	if fn.Blocks == nil {
		return nil, errors.Errorf("function %s has no body", fn)
	}
	ret := ir.VoidType
	switch results := fn.Signature.Results(); results.Len() {
	case 0:
	case 1:
		t, err := typeOf(results.At(0).Type())
		if err != nil {
			return nil, errors.Wrapf(err, "result of %s", fn)
		}
		ret = t
	default:
		return nil, errors.Errorf("function %s returns %d results", fn, results.Len())
	}

	class := ""
	if fn.Pkg != nil {
		class = fn.Pkg.Pkg.Name()
	}
	if recv := fn.Signature.Recv(); recv != nil {
		class = className(recv.Type())
	}
	c := &converter{
		fn:     fn,
		b:      NewBuilder(class, fn.Name(), ret),
		blocks: make(map[*ssa.BasicBlock]*BasicBlock),
		values: make(map[ssa.Value]Value),
		addrs:  make(map[ssa.Value]address),
	}
	for i, p := range fn.Params {
		t, err := typeOf(p.Type())
		if err != nil {
			return nil, errors.Wrapf(err, "parameter %s of %s", p.Name(), fn)
		}
		if i == 0 && fn.Signature.Recv() != nil {
			c.values[p] = c.b.This(t)
			continue
		}
		c.values[p] = c.b.Arg(p.Name(), t)
	}
	for _, block := range fn.Blocks {
		name := fmt.Sprintf("b%d", block.Index)
		if block.Comment != "" {
			name = fmt.Sprintf("%d.%s", block.Index, block.Comment)
		}
		c.blocks[block] = c.b.Block(name)
	}
	if fn.Recover != nil {
		handler := c.blocks[fn.Recover]
		handler.Handler = true
		for _, from := range c.recoverSources() {
			c.b.ExceptionEdge(from, handler)
		}
	}

	// Dominator preorder visits every definition before its non-phi uses.
	var phis []*ssa.Phi
	for _, block := range fn.DomPreorder() {
		c.b.SetBlock(c.blocks[block])
		for _, inst := range block.Instrs {
			if phi, ok := inst.(*ssa.Phi); ok {
				phis = append(phis, phi)
			}
			if err := c.instruction(inst); err != nil {
				return nil, errors.Wrapf(err, "%s", fn)
			}
		}
	}
	for _, phi := range phis {
		target := c.values[phi].(*PhiInst)
		for i, edge := range phi.Edges {
			v, err := c.value(edge)
			if err != nil {
				return nil, errors.Wrapf(err, "phi %s of %s", phi.Name(), fn)
			}
			target.Edges = append(target.Edges, PhiEdge{Pred: c.blocks[phi.Block().Preds[i]], Value: v})
		}
	}
	return c.b.Build()
}

// recoverSources are the blocks that may panic into the recover block.
func (c *converter) recoverSources() []*BasicBlock {
	var result []*BasicBlock
	for _, block := range c.fn.Blocks {
		if block == c.fn.Recover {
			continue
		}
		for _, inst := range block.Instrs {
			if _, ok := inst.(*ssa.Panic); ok {
				result = append(result, c.blocks[block])
				break
			}
		}
	}
	return result
}

func (c *converter) value(v ssa.Value) (Value, error) {
	if k, ok := v.(*ssa.Const); ok {
		return c.constant(k)
	}
	if result, ok := c.values[v]; ok {
		return result, nil
	}
	return nil, errors.Errorf("value %s (%T) is not supported", v.Name(), v)
}

func (c *converter) constant(k *ssa.Const) (Value, error) {
	if k.Value == nil {
		return c.b.Null(), nil
	}
	typ, err := typeOf(k.Type())
	if err != nil {
		return nil, err
	}
	switch k.Value.Kind() {
	case constant.Bool:
		return NewConstant(typ, constant.BoolVal(k.Value)), nil
	case constant.Int, constant.Float:
		if typ.IsFloating() {
			return NewConstant(typ, k.Float64()), nil
		}
		if k.Value.Kind() == constant.Float {
			return NewConstant(typ, int64(k.Float64())), nil
		}
		return NewConstant(typ, k.Int64()), nil
	case constant.String:
		return NewConstant(typ, constant.StringVal(k.Value)), nil
	}
	return nil, errors.Errorf("constant %s is not supported", k)
}

func (c *converter) define(v ssa.Value, result Value) {
	c.values[v] = result
}

func (c *converter) instruction(inst ssa.Instruction) error {
	switch inst := inst.(type) {
	case *ssa.DebugRef, *ssa.RunDefers:
		return nil
	case *ssa.BinOp:
		return c.binOp(inst)
	case *ssa.UnOp:
		return c.unOp(inst)
	case *ssa.Convert:
		return c.cast(inst, inst.X)
	case *ssa.ChangeType:
		return c.cast(inst, inst.X)
	case *ssa.MakeInterface:
		typ, err := typeOf(inst.Type())
		if err != nil {
			return err
		}
		c.define(inst, c.b.As(inst.Name()).New(typ))
		return nil
	case *ssa.Alloc:
		return c.alloc(inst)
	case *ssa.MakeSlice:
		typ, err := typeOf(inst.Type())
		if err != nil {
			return err
		}
		length, err := c.intValue(inst.Len)
		if err != nil {
			return err
		}
		c.define(inst, c.b.As(inst.Name()).NewArray(typ, length))
		return nil
	case *ssa.FieldAddr:
		owner, err := c.value(inst.X)
		if err != nil {
			return err
		}
		c.addrs[inst] = address{owner: owner, class: owner.Type(), field: fieldName(inst.X.Type(), inst.Field)}
		return nil
	case *ssa.IndexAddr:
		array, err := c.value(inst.X)
		if err != nil {
			return err
		}
		index, err := c.intValue(inst.Index)
		if err != nil {
			return err
		}
		c.addrs[inst] = address{owner: array, index: index, array: true}
		return nil
	case *ssa.Field:
		owner, err := c.value(inst.X)
		if err != nil {
			return err
		}
		typ, err := typeOf(inst.Type())
		if err != nil {
			return err
		}
		c.define(inst, c.b.As(inst.Name()).FieldLoad(owner, owner.Type(), fieldName(inst.X.Type(), inst.Field), typ))
		return nil
	case *ssa.Index:
		array, err := c.value(inst.X)
		if err != nil {
			return err
		}
		if !array.Type().IsReference() || array.Type().Kind != ir.KindArray {
			return errors.Errorf("index into %s is not supported", inst.X.Type())
		}
		index, err := c.intValue(inst.Index)
		if err != nil {
			return err
		}
		c.define(inst, c.b.As(inst.Name()).ArrayLoad(array, index))
		return nil
	case *ssa.Store:
		return c.store(inst)
	case *ssa.Call:
		return c.call(inst)
	case *ssa.Phi:
		typ, err := typeOf(inst.Type())
		if err != nil {
			return err
		}
		c.define(inst, c.b.As(inst.Name()).Phi(typ))
		return nil
	case *ssa.If:
		cond, err := c.value(inst.Cond)
		if err != nil {
			return err
		}
		succs := inst.Block().Succs
		c.b.Branch(cond, c.blocks[succs[0]], c.blocks[succs[1]])
		return nil
	case *ssa.Jump:
		c.b.Jump(c.blocks[inst.Block().Succs[0]])
		return nil
	case *ssa.Return:
		switch len(inst.Results) {
		case 0:
			c.b.Return(nil)
		case 1:
			v, err := c.value(inst.Results[0])
			if err != nil {
				return err
			}
			c.b.Return(v)
		default:
			return errors.Errorf("return of %d results is not supported", len(inst.Results))
		}
		return nil
	case *ssa.Panic:
		v, err := c.value(inst.X)
		if err != nil {
			return err
		}
		c.b.Throw(v)
		return nil
	}
	return errors.Errorf("instruction %q (%T) is not supported", inst, inst)
}

// intValue converts an index or length to int.
func (c *converter) intValue(v ssa.Value) (Value, error) {
	result, err := c.value(v)
	if err != nil {
		return nil, err
	}
	if result.Type() == ir.IntType {
		return result, nil
	}
	if k, ok := result.(*Constant); ok {
		if n, ok := k.Value.(int64); ok {
			return NewConstant(ir.IntType, n), nil
		}
	}
	return c.b.Cast(ir.IntType, result), nil
}

var binaryOps = map[token.Token]ir.BinaryOp{
	token.ADD: ir.Add,
	token.SUB: ir.Sub,
	token.MUL: ir.Mul,
	token.QUO: ir.Div,
	token.REM: ir.Rem,
	token.AND: ir.And,
	token.OR:  ir.Or,
	token.XOR: ir.Xor,
	token.SHL: ir.Shl,
	token.SHR: ir.Shr,
}

var cmpOps = map[token.Token]ir.CmpOp{
	token.EQL: ir.Eq,
	token.NEQ: ir.Neq,
	token.LSS: ir.Lt,
	token.GTR: ir.Gt,
	token.LEQ: ir.Le,
	token.GEQ: ir.Ge,
}

func (c *converter) binOp(inst *ssa.BinOp) error {
	x, err := c.value(inst.X)
	if err != nil {
		return err
	}
	y, err := c.value(inst.Y)
	if err != nil {
		return err
	}
	if op, ok := cmpOps[inst.Op]; ok {
		c.define(inst, c.b.As(inst.Name()).Cmp(op, x, y))
		return nil
	}
	typ := x.Type()
	if !typ.IsIntegral() && !typ.IsFloating() && typ != ir.BoolType {
		return errors.Errorf("operator %s on %s is not supported", inst.Op, inst.X.Type())
	}
	if y.Type() != typ {
		y = c.b.Cast(typ, y)
	}
	if inst.Op == token.AND_NOT {
		mask := c.b.Binary(ir.Xor, y, NewConstant(typ, int64(-1)))
		c.define(inst, c.b.As(inst.Name()).Binary(ir.And, x, mask))
		return nil
	}
	op, ok := binaryOps[inst.Op]
	if !ok {
		return errors.Errorf("operator %s is not supported", inst.Op)
	}
	if op == ir.Shr && isUnsigned(inst.X.Type()) {
		op = ir.Ushr
	}
	c.define(inst, c.b.As(inst.Name()).Binary(op, x, y))
	return nil
}

func (c *converter) unOp(inst *ssa.UnOp) error {
	if inst.Op == token.MUL {
		return c.load(inst)
	}
	x, err := c.value(inst.X)
	if err != nil {
		return err
	}
	switch inst.Op {
	case token.SUB, token.NOT:
		c.define(inst, c.b.As(inst.Name()).Neg(x))
	case token.XOR:
		c.define(inst, c.b.As(inst.Name()).Binary(ir.Xor, x, NewConstant(x.Type(), int64(-1))))
	default:
		return errors.Errorf("operator %s is not supported", inst.Op)
	}
	return nil
}

func (c *converter) cast(inst ssa.Value, x ssa.Value) error {
	v, err := c.value(x)
	if err != nil {
		return err
	}
	typ, err := typeOf(inst.Type())
	if err != nil {
		return err
	}
	c.define(inst, c.b.As(inst.Name()).Cast(typ, v))
	return nil
}

func (c *converter) alloc(inst *ssa.Alloc) error {
	elem := deref(inst.Type())
	if arr, ok := elem.Underlying().(*types.Array); ok {
		typ, err := typeOf(arr)
		if err != nil {
			return err
		}
		c.define(inst, c.b.As(inst.Name()).NewArray(typ, NewConstant(ir.IntType, arr.Len())))
		return nil
	}
	typ, err := typeOf(inst.Type())
	if err != nil {
		return err
	}
	c.define(inst, c.b.As(inst.Name()).New(typ))
	return nil
}

// resolve returns the address a pointer value denotes.
func (c *converter) resolve(ptr ssa.Value) (address, error) {
	if addr, ok := c.addrs[ptr]; ok {
		return addr, nil
	}
	if g, ok := ptr.(*ssa.Global); ok {
		return address{class: ir.ClassType(g.Pkg.Pkg.Name()), field: g.Name()}, nil
	}
	owner, err := c.value(ptr)
	if err != nil {
		return address{}, err
	}
	if owner.Type().Kind == ir.KindArray {
		return address{owner: owner, index: NewConstant(ir.IntType, int64(0)), array: true}, nil
	}
	return address{owner: owner, class: owner.Type(), field: valueField}, nil
}

func (c *converter) load(inst *ssa.UnOp) error {
	if _, ok := deref(inst.X.Type()).Underlying().(*types.Struct); ok {
		// Struct values are aliased to the pointer they were loaded from.
		v, err := c.value(inst.X)
		if err != nil {
			return err
		}
		c.define(inst, v)
		return nil
	}
	if _, ok := deref(inst.X.Type()).Underlying().(*types.Array); ok {
		v, err := c.value(inst.X)
		if err != nil {
			return err
		}
		c.define(inst, v)
		return nil
	}
	addr, err := c.resolve(inst.X)
	if err != nil {
		return err
	}
	if addr.array {
		c.define(inst, c.b.As(inst.Name()).ArrayLoad(addr.owner, addr.index))
		return nil
	}
	typ, err := typeOf(inst.Type())
	if err != nil {
		return err
	}
	c.define(inst, c.b.As(inst.Name()).FieldLoad(addr.owner, addr.class, addr.field, typ))
	return nil
}

func (c *converter) store(inst *ssa.Store) error {
	addr, err := c.resolve(inst.Addr)
	if err != nil {
		return err
	}
	v, err := c.value(inst.Val)
	if err != nil {
		return err
	}
	if addr.array {
		c.b.ArrayStore(addr.owner, addr.index, v)
		return nil
	}
	c.b.FieldStore(addr.owner, addr.class, addr.field, v)
	return nil
}

func (c *converter) call(inst *ssa.Call) error {
	common := inst.Common()
	var args []Value
	for _, a := range common.Args {
		v, err := c.value(a)
		if err != nil {
			return err
		}
		args = append(args, v)
	}
	if builtin, ok := common.Value.(*ssa.Builtin); ok {
		if builtin.Name() == "len" && len(args) == 1 && args[0].Type().Kind == ir.KindArray {
			length := c.b.ArrayLength(args[0])
			typ, err := typeOf(inst.Type())
			if err != nil {
				return err
			}
			c.define(inst, c.b.As(inst.Name()).Cast(typ, length))
			return nil
		}
		return errors.Errorf("builtin %s is not supported", builtin.Name())
	}

	typ := ir.VoidType
	switch results := common.Signature().Results(); results.Len() {
	case 0:
	case 1:
		t, err := typeOf(results.At(0).Type())
		if err != nil {
			return err
		}
		typ = t
	default:
		return errors.Errorf("call %s returns %d results", inst, results.Len())
	}

	if common.IsInvoke() {
		owner, err := c.value(common.Value)
		if err != nil {
			return err
		}
		c.define(inst, c.b.As(inst.Name()).Call(typ, owner.Type(), common.Method.Name(), owner, args...))
		return nil
	}
	callee := common.StaticCallee()
	if callee == nil {
		return errors.Errorf("dynamic call %s is not supported", inst)
	}
	class := ir.ClassType("")
	if callee.Pkg != nil {
		class = ir.ClassType(callee.Pkg.Pkg.Name())
	}
	if recv := callee.Signature.Recv(); recv != nil && len(args) > 0 {
		c.define(inst, c.b.As(inst.Name()).Call(typ, args[0].Type(), callee.Name(), args[0], args[1:]...))
		return nil
	}
	c.define(inst, c.b.As(inst.Name()).Call(typ, class, callee.Name(), nil, args...))
	return nil
}

func deref(t types.Type) types.Type {
	if p, ok := t.Underlying().(*types.Pointer); ok {
		return p.Elem()
	}
	return t
}

func fieldName(t types.Type, index int) string {
	if s, ok := deref(t).Underlying().(*types.Struct); ok && index < s.NumFields() {
		return s.Field(index).Name()
	}
	return fmt.Sprintf("field%d", index)
}

func isUnsigned(t types.Type) bool {
	b, ok := t.Underlying().(*types.Basic)
	return ok && b.Info()&types.IsUnsigned != 0
}

func className(t types.Type) string {
	return types.TypeString(deref(t), func(*types.Package) string { return "" })
}

func typeOf(t types.Type) (ir.Type, error) {
	switch u := t.Underlying().(type) {
	case *types.Basic:
		switch u.Kind() {
		case types.Bool, types.UntypedBool:
			return ir.BoolType, nil
		case types.Int8, types.Uint8:
			return ir.ByteType, nil
		case types.Int16:
			return ir.ShortType, nil
		case types.Uint16:
			return ir.CharType, nil
		case types.Int32, types.Uint32, types.UntypedRune:
			return ir.IntType, nil
		case types.Int, types.Int64, types.Uint, types.Uint64, types.Uintptr, types.UntypedInt:
			return ir.LongType, nil
		case types.Float32:
			return ir.FloatType, nil
		case types.Float64, types.UntypedFloat:
			return ir.DoubleType, nil
		case types.String, types.UntypedString:
			return ir.ClassType("string"), nil
		case types.UntypedNil:
			return ir.NullType, nil
		}
	case *types.Pointer:
		if arr, ok := u.Elem().Underlying().(*types.Array); ok {
			return typeOf(arr)
		}
		return ir.ClassType(className(u.Elem())), nil
	case *types.Slice:
		elem, err := typeOf(u.Elem())
		if err != nil {
			return ir.Type{}, err
		}
		return ir.ArrayOf(elem), nil
	case *types.Array:
		elem, err := typeOf(u.Elem())
		if err != nil {
			return ir.Type{}, err
		}
		return ir.ArrayOf(elem), nil
	case *types.Struct, *types.Interface:
		return ir.ClassType(className(t)), nil
	}
	return ir.Type{}, errors.Errorf("type %s is not supported", t)
}
