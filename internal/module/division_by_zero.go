package module

import (
	log "github.com/sirupsen/logrus"

	"gstate/internal/cfg"
	"gstate/internal/ir"
	"gstate/internal/issue"
)

type DivisionByZero struct {
	*BaseModule
}

func NewDivisionByZero() *DivisionByZero {
	return &DivisionByZero{
		BaseModule: &BaseModule{
			cweData: CWEDataMap["369"],
			hooks:   []Kind{KindBinary},
			Issues:  make([]*issue.Issue, 0),
		},
	}
}

func (m *DivisionByZero) Execute(c *Context, inst cfg.Instruction) ([]*issue.Issue, error) {
	binary, ok := inst.(*cfg.BinaryInst)
	if !ok || (binary.Op != ir.Div && binary.Op != ir.Rem) || !binary.RHS.Type().IsIntegral() {
		return nil, nil
	}
	log.Debugf("Entering DivisionByZero at %q", inst)
	defer log.Debugf("Exiting DivisionByZero")

	divisor, err := c.Term(binary.RHS)
	if err != nil {
		return nil, err
	}
	if k, ok := divisor.(*ir.ConstInt); ok && k.Value != 0 {
		return nil, nil
	}
	f := c.Factory()
	model, err := c.Reachable(inst, f.Equality(ir.State, divisor, f.Integral(divisor.Type(), 0)))
	if err != nil || model == nil {
		return nil, err
	}
	return []*issue.Issue{m.report(inst, model)}, nil
}
