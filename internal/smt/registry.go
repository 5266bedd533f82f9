package smt

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"gstate/internal/ir"
)

// Opener creates a solver bound to one session's factory.
type Opener func(f *ir.Factory, opts Options) (Solver, error)

var (
	registryMu sync.RWMutex
	openers    = make(map[string]Opener)
)

// Register makes a backend available under name. Backends call it from
// init.
func Register(name string, open Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := openers[name]; ok {
		panic("smt: backend registered twice: " + name)
	}
	openers[name] = open
}

func Open(name string, f *ir.Factory, opts Options) (Solver, error) {
	registryMu.RLock()
	open, ok := openers[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown solver backend %q", name)
	}
	return open(f, opts)
}

// Backends returns the registered backend names.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(openers))
	for name := range openers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
