package module

import (
	log "github.com/sirupsen/logrus"

	"gstate/internal/cfg"
	"gstate/internal/ir"
	"gstate/internal/issue"
)

type NullDereference struct {
	*BaseModule
}

func NewNullDereference() *NullDereference {
	return &NullDereference{
		BaseModule: &BaseModule{
			cweData: CWEDataMap["476"],
			hooks:   []Kind{KindArrayLoad, KindArrayStore, KindArrayLength, KindFieldLoad, KindFieldStore, KindCall},
			Issues:  make([]*issue.Issue, 0),
		},
	}
}

// base returns the reference inst dereferences, nil for static accesses.
func base(inst cfg.Instruction) cfg.Value {
	switch inst := inst.(type) {
	case *cfg.ArrayLoadInst:
		return inst.Array
	case *cfg.ArrayStoreInst:
		return inst.Array
	case *cfg.ArrayLengthInst:
		return inst.Array
	case *cfg.FieldLoadInst:
		return inst.Owner
	case *cfg.FieldStoreInst:
		return inst.Owner
	case *cfg.CallInst:
		return inst.Owner
	}
	return nil
}

func (m *NullDereference) Execute(c *Context, inst cfg.Instruction) ([]*issue.Issue, error) {
	owner := base(inst)
	if owner == nil || !owner.Type().IsReference() {
		return nil, nil
	}
	switch owner.(type) {
	case *cfg.This, *cfg.NewInst, *cfg.NewArrayInst:
		return nil, nil
	}
	log.Debugf("Entering NullDereference at %q", inst)
	defer log.Debugf("Exiting NullDereference")

	ref, err := c.Term(owner)
	if err != nil {
		return nil, err
	}
	if _, ok := ref.(*ir.ConstString); ok {
		return nil, nil
	}
	f := c.Factory()
	model, err := c.Reachable(inst, f.Equality(ir.State, ref, f.Null()))
	if err != nil || model == nil {
		return nil, err
	}
	return []*issue.Issue{m.report(inst, model)}, nil
}
