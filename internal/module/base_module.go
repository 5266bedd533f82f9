// Package module 实现检测模块：在指定指令处构造求解查询，可满足即为问题
package module

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"gstate/internal/cfg"
	"gstate/internal/ir"
	"gstate/internal/issue"
	"gstate/internal/lowering"
	"gstate/internal/smt"
	"gstate/internal/state"
)

// Context is everything a module sees while one method is analyzed.
type Context struct {
	Ctx     context.Context
	Lowered *lowering.Result
	States  *state.Builder
	Solver  smt.Solver
}

func (c *Context) Factory() *ir.Factory {
	return c.Lowered.Factory
}

// Term returns the lowered term of v.
func (c *Context) Term(v cfg.Value) (ir.Term, error) {
	t, ok := c.Lowered.Term(v)
	if !ok {
		return nil, errors.Errorf("value %s was not lowered", v.Name())
	}
	return t, nil
}

// Reachable solves the state before inst together with query. A Sat result
// is returned with its model, anything else as nil.
func (c *Context) Reachable(inst cfg.Instruction, query ...ir.Predicate) (*smt.Model, error) {
	st, err := c.States.StateAt(inst)
	if err != nil {
		return nil, errors.Wrapf(err, "StateAt")
	}
	res, err := c.Solver.Solve(c.Ctx, st, query...)
	if err != nil {
		return nil, errors.Wrapf(err, "Solve")
	}
	switch res := res.(type) {
	case *smt.Sat:
		return res.Model, nil
	case *smt.Unknown:
		log.Warnf("%s at %q: %s", c.Lowered.Method, inst, res)
	}
	return nil, nil
}

type BaseModule struct {
	cweData *CWEData // 缺陷信息
	hooks   []Kind   // 在这些指令处执行本模块
	Issues  []*issue.Issue
}

func (bm *BaseModule) GetHooks() []Kind {
	return bm.hooks
}

func (bm *BaseModule) GetCWEData() *CWEData {
	return bm.cweData
}

func (bm *BaseModule) GetIssues() []*issue.Issue {
	return bm.Issues
}

// report turns a model found at inst into an issue and keeps it.
func (bm *BaseModule) report(inst cfg.Instruction, model *smt.Model) *issue.Issue {
	is := &issue.Issue{
		ID:          bm.cweData.ID,
		Title:       bm.cweData.Title,
		Description: bm.cweData.Description,
	}
	is.Locate(inst)
	if model != nil {
		is.Counterexample = model.String()
	}
	bm.Issues = append(bm.Issues, is)
	return is
}

type DetectionModule interface {
	Execute(*Context, cfg.Instruction) ([]*issue.Issue, error)
	GetHooks() []Kind
	GetCWEData() *CWEData
	GetIssues() []*issue.Issue
}
