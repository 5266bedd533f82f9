package smt

import (
	"fmt"

	"gstate/internal/ir"
)

// EncodeError is a term or predicate the active backend cannot encode. It
// fails the solve session it occurs in and nothing else.
type EncodeError struct {
	Backend string
	Term    string
	Reason  string
}

func (e *EncodeError) Error() string {
	if e.Term == "" {
		return fmt.Sprintf("%s: cannot encode: %s", e.Backend, e.Reason)
	}
	return fmt.Sprintf("%s: cannot encode %q: %s", e.Backend, e.Term, e.Reason)
}

func encodeError(backend string, t ir.Term, format string, args ...interface{}) error {
	e := &EncodeError{Backend: backend, Reason: fmt.Sprintf(format, args...)}
	if t != nil {
		e.Term = t.String()
	}
	return e
}

// DecodeError is a model value of a sort the reconstructor does not know,
// which means encoder and decoder disagree on sorts.
type DecodeError struct {
	Term string
	Sort Sort
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode value of %s for %q", e.Sort, e.Term)
}
