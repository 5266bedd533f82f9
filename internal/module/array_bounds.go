package module

import (
	log "github.com/sirupsen/logrus"

	"gstate/internal/cfg"
	"gstate/internal/ir"
	"gstate/internal/issue"
)

type ArrayBounds struct {
	*BaseModule
}

func NewArrayBounds() *ArrayBounds {
	return &ArrayBounds{
		BaseModule: &BaseModule{
			cweData: CWEDataMap["129"],
			hooks:   []Kind{KindArrayLoad, KindArrayStore},
			Issues:  make([]*issue.Issue, 0),
		},
	}
}

func (m *ArrayBounds) Execute(c *Context, inst cfg.Instruction) ([]*issue.Issue, error) {
	var array, index cfg.Value
	switch inst := inst.(type) {
	case *cfg.ArrayLoadInst:
		array, index = inst.Array, inst.Index
	case *cfg.ArrayStoreInst:
		array, index = inst.Array, inst.Index
	default:
		return nil, nil
	}
	log.Debugf("Entering ArrayBounds at %q", inst)
	defer log.Debugf("Exiting ArrayBounds")

	arr, err := c.Term(array)
	if err != nil {
		return nil, err
	}
	i, err := c.Term(index)
	if err != nil {
		return nil, err
	}
	f := c.Factory()
	outside := f.Binary(ir.Or, f.Cmp(ir.Lt, i, f.Int(0)), f.Cmp(ir.Ge, i, f.ArrayLength(arr)))
	// a null array is reported as a null dereference
	model, err := c.Reachable(inst,
		f.Inequality(ir.State, arr, f.Null()),
		f.Equality(ir.State, outside, f.Bool(true)))
	if err != nil || model == nil {
		return nil, err
	}
	return []*issue.Issue{m.report(inst, model)}, nil
}
