package module

import (
	log "github.com/sirupsen/logrus"

	"gstate/internal/cfg"
	"gstate/internal/issue"
)

type ReachablePanic struct {
	*BaseModule
}

func NewReachablePanic() *ReachablePanic {
	return &ReachablePanic{
		BaseModule: &BaseModule{
			cweData: CWEDataMap["248"],
			hooks:   []Kind{KindThrow},
			Issues:  make([]*issue.Issue, 0),
		},
	}
}

func (m *ReachablePanic) Execute(c *Context, inst cfg.Instruction) ([]*issue.Issue, error) {
	if _, ok := inst.(*cfg.ThrowInst); !ok {
		return nil, nil
	}
	log.Debugf("Entering ReachablePanic at %q", inst)
	defer log.Debugf("Exiting ReachablePanic")

	model, err := c.Reachable(inst)
	if err != nil || model == nil {
		return nil, err
	}
	return []*issue.Issue{m.report(inst, model)}, nil
}
