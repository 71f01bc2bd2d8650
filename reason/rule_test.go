package reason

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boutros/mimir/rdf"
)

func TestSubstitute(t *testing.T) {
	b := Binding{"x": rdf.IRI("http://ex.org/a")}

	got, ok := Substitute(V("x"), b)
	require.True(t, ok)
	assert.Equal(t, rdf.Term(rdf.IRI("http://ex.org/a")), got)

	_, ok = Substitute(V("y"), b)
	assert.False(t, ok, "unbound variable must not resolve")

	got, ok = Substitute(T(rdf.IRI("http://ex.org/c")), b)
	require.True(t, ok)
	assert.Equal(t, rdf.Term(rdf.IRI("http://ex.org/c")), got)
}

func TestSubstitutePattern(t *testing.T) {
	tp := TriplePattern{S: V("x"), P: T(rdf.RDFtype), O: V("c")}

	_, ok := SubstitutePattern(tp, Binding{"x": rdf.IRI("a")})
	assert.False(t, ok, "partial binding must not ground the pattern")

	tr, ok := SubstitutePattern(tp, Binding{"x": rdf.IRI("a"), "c": rdf.IRI("C")})
	require.True(t, ok)
	assert.Equal(t, rdf.Triple{Subj: rdf.IRI("a"), Pred: rdf.RDFtype, Obj: rdf.IRI("C")}, tr)

	assert.False(t, IsGround(tp))
	assert.True(t, IsGround(TriplePattern{S: T(rdf.IRI("a")), P: T(rdf.IRI("p")), O: T(rdf.IRI("b"))}))
}

func TestEvalCondition(t *testing.T) {
	b := Binding{
		"i": rdf.IRI("http://ex.org/a"),
		"l": rdf.NewLiteral("v"),
		"n": rdf.BlankNode("b1"),
		"j": rdf.IRI("http://ex.org/a"),
	}

	assert.False(t, EvalCondition(Condition{Kind: CondNotEqual, A: V("i"), B: V("j")}, b))
	assert.True(t, EvalCondition(Condition{Kind: CondNotEqual, A: V("i"), B: V("l")}, b))
	assert.False(t, EvalCondition(Condition{Kind: CondNotEqual, A: V("i"), B: V("unbound")}, b))

	assert.True(t, EvalCondition(Condition{Kind: CondIsIRI, A: V("i")}, b))
	assert.False(t, EvalCondition(Condition{Kind: CondIsIRI, A: V("l")}, b))
	assert.True(t, EvalCondition(Condition{Kind: CondIsBlank, A: V("n")}, b))
	assert.True(t, EvalCondition(Condition{Kind: CondIsLiteral, A: V("l")}, b))
	assert.False(t, EvalCondition(Condition{Kind: CondIsLiteral, A: V("unbound")}, b))

	assert.True(t, EvalCondition(Condition{Kind: CondBound, A: V("i")}, b))
	assert.False(t, EvalCondition(Condition{Kind: CondBound, A: V("unbound")}, b))
	assert.True(t, EvalCondition(Condition{Kind: CondBound, A: T(rdf.IRI("const"))}, b))
}

func TestSafe(t *testing.T) {
	safe := Rule{
		Name: "ok",
		Body: body(bp(V("x"), T(rdf.RDFtype), V("c"))),
		Head: TriplePattern{S: V("x"), P: T(rdf.RDFtype), O: V("c")},
	}
	assert.True(t, Safe(safe))

	unsafe := Rule{
		Name: "bad",
		Body: body(bp(V("x"), T(rdf.RDFtype), V("c"))),
		Head: TriplePattern{S: V("y"), P: T(rdf.RDFtype), O: V("c")},
	}
	assert.False(t, Safe(unsafe), "head variable y is not bound by the body")

	// A variable appearing only in a condition does not make the head safe.
	condOnly := Rule{
		Name: "cond",
		Body: []BodyAtom{
			bp(V("x"), T(rdf.RDFtype), V("c")),
			{Cond: &Condition{Kind: CondBound, A: V("z")}},
		},
		Head: TriplePattern{S: V("z"), P: T(rdf.RDFtype), O: V("c")},
	}
	assert.False(t, Safe(condOnly))
}

func TestVariables(t *testing.T) {
	r := Rule{
		Body: []BodyAtom{
			bp(V("x"), V("p"), V("y")),
			{Cond: &Condition{Kind: CondNotEqual, A: V("y"), B: V("z")}},
		},
		Head: TriplePattern{S: V("x"), P: V("p"), O: V("y")},
	}
	assert.Len(t, BodyVariables(r), 3)
	assert.Len(t, HeadVariables(r), 3)
	assert.Len(t, Variables(r), 4)
}

func TestMatchPattern(t *testing.T) {
	tp := TriplePattern{S: V("x"), P: T(rdf.RDFtype), O: V("c")}
	tr := rdf.Triple{Subj: rdf.IRI("a"), Pred: rdf.RDFtype, Obj: rdf.IRI("C")}

	b, ok := matchPattern(tp, tr, Binding{})
	require.True(t, ok)
	assert.Equal(t, rdf.Term(rdf.IRI("a")), b["x"])
	assert.Equal(t, rdf.Term(rdf.IRI("C")), b["c"])

	// Conflicting existing binding fails the match.
	_, ok = matchPattern(tp, tr, Binding{"x": rdf.IRI("other")})
	assert.False(t, ok)

	// Constant mismatch fails.
	other := rdf.Triple{Subj: rdf.IRI("a"), Pred: rdf.IRI("p"), Obj: rdf.IRI("C")}
	_, ok = matchPattern(tp, other, Binding{})
	assert.False(t, ok)

	// A repeated variable must bind consistently.
	loop := TriplePattern{S: V("x"), P: T(rdf.IRI("p")), O: V("x")}
	self := rdf.Triple{Subj: rdf.IRI("a"), Pred: rdf.IRI("p"), Obj: rdf.IRI("a")}
	_, ok = matchPattern(loop, self, Binding{})
	assert.True(t, ok)
	nonSelf := rdf.Triple{Subj: rdf.IRI("a"), Pred: rdf.IRI("p"), Obj: rdf.IRI("b")}
	_, ok = matchPattern(loop, nonSelf, Binding{})
	assert.False(t, ok)
}

func TestMatchPatternDoesNotMutateInput(t *testing.T) {
	tp := TriplePattern{S: V("x"), P: V("p"), O: V("y")}
	tr := rdf.Triple{Subj: rdf.IRI("a"), Pred: rdf.IRI("p"), Obj: rdf.IRI("b")}
	base := Binding{}
	_, ok := matchPattern(tp, tr, base)
	require.True(t, ok)
	assert.Empty(t, base, "matchPattern must not mutate the input binding")
}

func TestProfiles(t *testing.T) {
	rdfs, err := ProfileRDFS.Rules()
	require.NoError(t, err)
	owl, err := ProfileOWL2RL.Rules()
	require.NoError(t, err)
	all, err := ProfileAll.Rules()
	require.NoError(t, err)

	assert.Len(t, rdfs, 6)
	assert.Len(t, owl, 16)
	assert.Equal(t, len(owl), len(all))

	for _, r := range owl {
		assert.True(t, Safe(r), "profile rule %s must be safe", r.Name)
	}

	_, err = Profile("fancy").Rules()
	assert.Error(t, err)
}
