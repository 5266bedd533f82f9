// Package analysis runs the detection modules over methods, one solver
// session per method.
package analysis

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"gstate/internal/cache"
	"gstate/internal/cfg"
	"gstate/internal/config"
	"gstate/internal/dominator"
	"gstate/internal/ir"
	"gstate/internal/issue"
	"gstate/internal/lowering"
	"gstate/internal/module"
	"gstate/internal/smt"
	"gstate/internal/state"
)

// Session owns everything built for one method: its term factory, lowering,
// state builder and solver. Nothing in it is shared with other sessions.
type Session struct {
	ID      uuid.UUID
	Method  *cfg.Method
	Factory *ir.Factory
	Lowered *lowering.Result
	States  *state.Builder
	Solver  smt.Solver
	Modules *module.ModuleManager
}

// NewSession lowers m and opens the configured solver. store may be nil.
func NewSession(m *cfg.Method, conf *config.Config, store *cache.Store) (*Session, error) {
	s := &Session{
		ID:      uuid.New(),
		Method:  m,
		Factory: ir.NewFactory(),
		Modules: module.Defaults(),
	}
	lowered, err := lowering.Lower(s.Factory, m)
	if err != nil {
		return nil, errors.Wrapf(err, "Lower")
	}
	s.Lowered = lowered
	s.States = state.NewBuilder(lowered, dominator.New(m))

	opts := smt.OptionsFrom(conf)
	if store != nil {
		opts.Cache = store.WithSession(s.ID)
	}
	s.Solver, err = smt.Open(conf.Solver, s.Factory, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open solver %s", conf.Solver)
	}
	log.Debugf("session %s: %s with %s", s.ID, m, s.Solver.Name())
	return s, nil
}

// Run executes the modules at every instruction and returns the issues they
// report.
func (s *Session) Run(ctx context.Context) ([]*issue.Issue, error) {
	c := &module.Context{
		Ctx:     ctx,
		Lowered: s.Lowered,
		States:  s.States,
		Solver:  s.Solver,
	}
	for _, inst := range s.Method.Instructions() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := s.Modules.Execute(c, inst); err != nil {
			return nil, errors.Wrapf(err, "%q", inst)
		}
	}
	return s.Modules.RetrieveIssues(), nil
}

// BlockState is the state at the exit of one block.
type BlockState struct {
	Block *cfg.BasicBlock
	State *state.SymbolicState
}

// ExitStates returns the exit state of every block in block order. Blocks
// whose state cannot be built soundly, such as handlers and unreachable
// blocks, are left out.
func (s *Session) ExitStates() ([]BlockState, error) {
	result := make([]BlockState, 0, len(s.Method.Blocks))
	for _, block := range s.Method.Blocks {
		st, err := s.States.ExitState(block)
		var unsupported *state.UnsupportedError
		if errors.As(err, &unsupported) {
			log.Debugf("skip %s: %v", block, err)
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "ExitState %s", block)
		}
		result = append(result, BlockState{Block: block, State: st})
	}
	return result, nil
}
