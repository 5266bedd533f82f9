package ir

// Transformer rewrites single terms. Accept drives it bottom-up over a term
// tree; Transform sees each node after its subterms were rewritten and
// returns either the node itself or a replacement.
type Transformer interface {
	Transform(t Term) Term
}

// Accept applies tr to t and all of its subterms. Nodes whose subterms all
// come back unchanged are passed to tr as the same instance, so an identity
// transformer returns t itself. Changed nodes are rebuilt through f.
func Accept(f *Factory, t Term, tr Transformer) Term {
	subs := t.SubTerms()
	var rewritten []Term
	for i, sub := range subs {
		next := Accept(f, sub, tr)
		if next == sub {
			continue
		}
		if rewritten == nil {
			rewritten = make([]Term, len(subs))
			copy(rewritten, subs)
		}
		rewritten[i] = next
	}
	if rewritten != nil {
		t = t.rebuild(f, rewritten)
	}
	return tr.Transform(t)
}

// AcceptPredicate applies tr to every operand of p. p is returned as is when
// no operand changed.
func AcceptPredicate(f *Factory, p Predicate, tr Transformer) Predicate {
	ops := p.Operands()
	var rewritten []Term
	for i, op := range ops {
		next := Accept(f, op, tr)
		if next == op {
			continue
		}
		if rewritten == nil {
			rewritten = make([]Term, len(ops))
			copy(rewritten, ops)
		}
		rewritten[i] = next
	}
	if rewritten == nil {
		return p
	}
	return p.rebuild(f, rewritten)
}

type identity struct{}

func (identity) Transform(t Term) Term { return t }

// Identity is the transformer that changes nothing.
var Identity Transformer = identity{}

// Substitution replaces terms by the mapped ones.
type Substitution map[Term]Term

func (s Substitution) Transform(t Term) Term {
	if r, ok := s[t]; ok {
		return r
	}
	return t
}

// Chain applies transformers one after another on every node.
type Chain []Transformer

func (c Chain) Transform(t Term) Term {
	for _, tr := range c {
		t = tr.Transform(t)
	}
	return t
}
