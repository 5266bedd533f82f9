package module

import (
	"gstate/internal/cfg"
	"gstate/internal/issue"
)

// Kind names the instruction shapes modules hook.
type Kind string

const (
	KindBinary      Kind = "binary"
	KindArrayLoad   Kind = "arrayload"
	KindArrayStore  Kind = "arraystore"
	KindArrayLength Kind = "arraylength"
	KindFieldLoad   Kind = "fieldload"
	KindFieldStore  Kind = "fieldstore"
	KindCall        Kind = "call"
	KindThrow       Kind = "throw"
)

// KindOf returns the kind of inst, empty when no module can hook it.
func KindOf(inst cfg.Instruction) Kind {
	switch inst.(type) {
	case *cfg.BinaryInst:
		return KindBinary
	case *cfg.ArrayLoadInst:
		return KindArrayLoad
	case *cfg.ArrayStoreInst:
		return KindArrayStore
	case *cfg.ArrayLengthInst:
		return KindArrayLength
	case *cfg.FieldLoadInst:
		return KindFieldLoad
	case *cfg.FieldStoreInst:
		return KindFieldStore
	case *cfg.CallInst:
		return KindCall
	case *cfg.ThrowInst:
		return KindThrow
	}
	return ""
}

type Hook func(*Context, cfg.Instruction) ([]*issue.Issue, error)

// ModuleManager dispatches instructions to the modules hooking them. Modules
// keep the issues they found, so a manager must not be shared between
// concurrent sessions.
type ModuleManager struct {
	Modules []DetectionModule
	Hooks   map[Kind][]Hook
}

func NewModuleManager() *ModuleManager {
	return &ModuleManager{
		Modules: make([]DetectionModule, 0),
		Hooks:   make(map[Kind][]Hook),
	}
}

// Defaults returns a manager with fresh instances of every module.
func Defaults() *ModuleManager {
	mm := NewModuleManager()
	mm.AddModule(NewDivisionByZero())
	mm.AddModule(NewArrayBounds())
	mm.AddModule(NewNullDereference())
	mm.AddModule(NewReachablePanic())
	return mm
}

func (mm *ModuleManager) AddModule(dm DetectionModule) {
	mm.Modules = append(mm.Modules, dm)
	for _, kind := range dm.GetHooks() {
		mm.Hooks[kind] = append(mm.Hooks[kind], dm.Execute)
	}
}

// Execute runs the hooks of inst.
func (mm *ModuleManager) Execute(c *Context, inst cfg.Instruction) ([]*issue.Issue, error) {
	var result []*issue.Issue
	for _, hook := range mm.Hooks[KindOf(inst)] {
		issues, err := hook(c, inst)
		if err != nil {
			return result, err
		}
		result = append(result, issues...)
	}
	return result, nil
}

func (mm *ModuleManager) RetrieveIssues() []*issue.Issue {
	var result []*issue.Issue
	for _, m := range mm.Modules {
		result = append(result, m.GetIssues()...)
	}
	return result
}
