// Package reason implements forward-chaining materialization: the
// rule representation, the semi-naive fixpoint evaluator, incremental
// closure maintenance, and the persisted reasoning status.
package reason

import (
	"github.com/boutros/mimir/rdf"
)

// PTerm is a pattern slot: a named variable, or a constant term.
type PTerm struct {
	Var  string
	Term rdf.Term
}

// V returns a variable pattern slot.
func V(name string) PTerm { return PTerm{Var: name} }

// T returns a constant pattern slot.
func T(t rdf.Term) PTerm { return PTerm{Term: t} }

// IsVar reports whether the slot is a variable.
func (p PTerm) IsVar() bool { return p.Var != "" }

// TriplePattern is a triple with pattern slots.
type TriplePattern struct {
	S, P, O PTerm
}

// CondKind enumerates the built-in body conditions.
type CondKind uint8

const (
	CondNotEqual CondKind = iota
	CondIsIRI
	CondIsBlank
	CondIsLiteral
	CondBound
)

// Condition is a built-in test over bound values.
type Condition struct {
	Kind CondKind
	A, B PTerm // B is only used by NotEqual
}

// BodyAtom is one element of a rule body: a triple pattern to match,
// or a condition to test. Exactly one of the fields is set.
type BodyAtom struct {
	Pattern *TriplePattern
	Cond    *Condition
}

// Rule is a forward-chaining rule: when every body atom holds under a
// binding, the head is derived under that binding.
type Rule struct {
	Name    string
	Body    []BodyAtom
	Head    TriplePattern
	Doc     string
	Profile Profile
}

// Binding maps variable names to terms.
type Binding map[string]rdf.Term

// Substitute resolves a pattern slot under a binding. The boolean
// reports whether the slot resolved to a term: constants always do,
// variables only when bound.
func Substitute(p PTerm, b Binding) (rdf.Term, bool) {
	if !p.IsVar() {
		return p.Term, true
	}
	t, ok := b[p.Var]
	return t, ok
}

// SubstitutePattern grounds a pattern under a binding. The boolean
// reports whether every slot resolved.
func SubstitutePattern(tp TriplePattern, b Binding) (rdf.Triple, bool) {
	s, ok1 := Substitute(tp.S, b)
	p, ok2 := Substitute(tp.P, b)
	o, ok3 := Substitute(tp.O, b)
	if !ok1 || !ok2 || !ok3 {
		return rdf.Triple{}, false
	}
	return rdf.Triple{Subj: s, Pred: p, Obj: o}, true
}

// IsGround reports whether the pattern has no variables.
func IsGround(tp TriplePattern) bool {
	return !tp.S.IsVar() && !tp.P.IsVar() && !tp.O.IsVar()
}

// EvalCondition evaluates a built-in condition under a binding. It is
// total: an unbound operand fails the kind-checks, and Bound is the
// explicit test for it.
func EvalCondition(c Condition, b Binding) bool {
	switch c.Kind {
	case CondNotEqual:
		av, aok := Substitute(c.A, b)
		bv, bok := Substitute(c.B, b)
		if !aok || !bok {
			return false
		}
		return av != bv
	case CondIsIRI:
		v, ok := Substitute(c.A, b)
		if !ok {
			return false
		}
		_, is := v.(rdf.IRI)
		return is
	case CondIsBlank:
		v, ok := Substitute(c.A, b)
		if !ok {
			return false
		}
		_, is := v.(rdf.BlankNode)
		return is
	case CondIsLiteral:
		v, ok := Substitute(c.A, b)
		if !ok {
			return false
		}
		_, is := v.(rdf.Literal)
		return is
	case CondBound:
		_, ok := Substitute(c.A, b)
		return ok
	}
	return false
}

// patternVars appends the variables of a pattern to dst.
func patternVars(tp TriplePattern, dst map[string]struct{}) {
	for _, p := range []PTerm{tp.S, tp.P, tp.O} {
		if p.IsVar() {
			dst[p.Var] = struct{}{}
		}
	}
}

// BodyVariables returns the variables occurring in the rule's body
// patterns.
func BodyVariables(r Rule) map[string]struct{} {
	vars := make(map[string]struct{})
	for _, atom := range r.Body {
		if atom.Pattern != nil {
			patternVars(*atom.Pattern, vars)
		}
	}
	return vars
}

// HeadVariables returns the variables occurring in the rule's head.
func HeadVariables(r Rule) map[string]struct{} {
	vars := make(map[string]struct{})
	patternVars(r.Head, vars)
	return vars
}

// Variables returns every variable the rule mentions.
func Variables(r Rule) map[string]struct{} {
	vars := BodyVariables(r)
	patternVars(r.Head, vars)
	for _, atom := range r.Body {
		if atom.Cond != nil {
			for _, p := range []PTerm{atom.Cond.A, atom.Cond.B} {
				if p.IsVar() {
					vars[p.Var] = struct{}{}
				}
			}
		}
	}
	return vars
}

// Safe reports whether every head variable occurs in some body
// pattern. Only safe rules are range-restricted and thus guaranteed to
// terminate.
func Safe(r Rule) bool {
	body := BodyVariables(r)
	for v := range HeadVariables(r) {
		if _, ok := body[v]; !ok {
			return false
		}
	}
	return true
}

// matchPattern unifies a pattern against a concrete triple under an
// existing binding, returning the extended binding or false.
func matchPattern(tp TriplePattern, tr rdf.Triple, b Binding) (Binding, bool) {
	out := b
	copied := false
	extend := func(p PTerm, t rdf.Term) bool {
		if !p.IsVar() {
			return p.Term == t
		}
		if bound, ok := out[p.Var]; ok {
			return bound == t
		}
		if !copied {
			// Copy-on-extend keeps sibling candidate bindings isolated.
			cp := make(Binding, len(b)+3)
			for k, v := range out {
				cp[k] = v
			}
			out = cp
			copied = true
		}
		out[p.Var] = t
		return true
	}
	if !extend(tp.S, tr.Subj) {
		return nil, false
	}
	if !extend(tp.P, tr.Pred) {
		return nil, false
	}
	if !extend(tp.O, tr.Obj) {
		return nil, false
	}
	return out, true
}
