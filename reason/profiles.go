package reason

import (
	"fmt"

	"github.com/boutros/mimir/rdf"
)

// Profile names a statically defined rule set.
type Profile string

const (
	ProfileRDFS   Profile = "rdfs"
	ProfileOWL2RL Profile = "owl2rl"
	ProfileAll    Profile = "all"
)

// Rules returns the profile's rule set.
func (p Profile) Rules() ([]Rule, error) {
	switch p {
	case ProfileRDFS:
		return rdfsRules, nil
	case ProfileOWL2RL, ProfileAll:
		return owl2rlRules, nil
	}
	return nil, fmt.Errorf("reason: unknown profile %q", p)
}

func pat(s, p, o PTerm) *TriplePattern { return &TriplePattern{S: s, P: p, O: o} }

func body(atoms ...BodyAtom) []BodyAtom { return atoms }

func bp(s, p, o PTerm) BodyAtom { return BodyAtom{Pattern: pat(s, p, o)} }

func notEq(a, b string) BodyAtom {
	return BodyAtom{Cond: &Condition{Kind: CondNotEqual, A: V(a), B: V(b)}}
}

// The RDFS subset: class and property hierarchy, domain and range.
var rdfsRules = []Rule{
	{
		Name: "cax-sco",
		Doc:  "class membership propagates up the subclass hierarchy",
		Body: body(
			bp(V("c1"), T(rdf.RDFSsubClassOf), V("c2")),
			bp(V("x"), T(rdf.RDFtype), V("c1")),
		),
		Head:    TriplePattern{S: V("x"), P: T(rdf.RDFtype), O: V("c2")},
		Profile: ProfileRDFS,
	},
	{
		Name: "scm-sco",
		Doc:  "subClassOf is transitive",
		Body: body(
			bp(V("c1"), T(rdf.RDFSsubClassOf), V("c2")),
			bp(V("c2"), T(rdf.RDFSsubClassOf), V("c3")),
		),
		Head:    TriplePattern{S: V("c1"), P: T(rdf.RDFSsubClassOf), O: V("c3")},
		Profile: ProfileRDFS,
	},
	{
		Name: "scm-spo",
		Doc:  "subPropertyOf is transitive",
		Body: body(
			bp(V("p1"), T(rdf.RDFSsubPropertyOf), V("p2")),
			bp(V("p2"), T(rdf.RDFSsubPropertyOf), V("p3")),
		),
		Head:    TriplePattern{S: V("p1"), P: T(rdf.RDFSsubPropertyOf), O: V("p3")},
		Profile: ProfileRDFS,
	},
	{
		Name: "prp-spo1",
		Doc:  "statements propagate up the subproperty hierarchy",
		Body: body(
			bp(V("p1"), T(rdf.RDFSsubPropertyOf), V("p2")),
			bp(V("x"), V("p1"), V("y")),
		),
		Head:    TriplePattern{S: V("x"), P: V("p2"), O: V("y")},
		Profile: ProfileRDFS,
	},
	{
		Name: "prp-dom",
		Doc:  "domain typing of subjects",
		Body: body(
			bp(V("p"), T(rdf.RDFSdomain), V("c")),
			bp(V("x"), V("p"), V("y")),
		),
		Head:    TriplePattern{S: V("x"), P: T(rdf.RDFtype), O: V("c")},
		Profile: ProfileRDFS,
	},
	{
		Name: "prp-rng",
		Doc:  "range typing of objects",
		Body: body(
			bp(V("p"), T(rdf.RDFSrange), V("c")),
			bp(V("x"), V("p"), V("y")),
		),
		Head:    TriplePattern{S: V("y"), P: T(rdf.RDFtype), O: V("c")},
		Profile: ProfileRDFS,
	},
}

// The OWL 2 RL additions: property characteristics and sameAs.
var owl2rlOnly = []Rule{
	{
		Name: "prp-trp",
		Doc:  "transitive properties chain",
		Body: body(
			bp(V("p"), T(rdf.RDFtype), T(rdf.OWLTransitiveProperty)),
			bp(V("x"), V("p"), V("y")),
			bp(V("y"), V("p"), V("z")),
		),
		Head:    TriplePattern{S: V("x"), P: V("p"), O: V("z")},
		Profile: ProfileOWL2RL,
	},
	{
		Name: "prp-symp",
		Doc:  "symmetric properties reverse",
		Body: body(
			bp(V("p"), T(rdf.RDFtype), T(rdf.OWLSymmetricProperty)),
			bp(V("x"), V("p"), V("y")),
		),
		Head:    TriplePattern{S: V("y"), P: V("p"), O: V("x")},
		Profile: ProfileOWL2RL,
	},
	{
		Name: "prp-inv1",
		Body: body(
			bp(V("p1"), T(rdf.OWLinverseOf), V("p2")),
			bp(V("x"), V("p1"), V("y")),
		),
		Head:    TriplePattern{S: V("y"), P: V("p2"), O: V("x")},
		Profile: ProfileOWL2RL,
	},
	{
		Name: "prp-inv2",
		Body: body(
			bp(V("p1"), T(rdf.OWLinverseOf), V("p2")),
			bp(V("x"), V("p2"), V("y")),
		),
		Head:    TriplePattern{S: V("y"), P: V("p1"), O: V("x")},
		Profile: ProfileOWL2RL,
	},
	{
		Name: "prp-fp",
		Doc:  "functional properties identify their objects",
		Body: body(
			bp(V("p"), T(rdf.RDFtype), T(rdf.OWLFunctionalProperty)),
			bp(V("x"), V("p"), V("y1")),
			bp(V("x"), V("p"), V("y2")),
			notEq("y1", "y2"),
		),
		Head:    TriplePattern{S: V("y1"), P: T(rdf.OWLsameAs), O: V("y2")},
		Profile: ProfileOWL2RL,
	},
	{
		Name: "prp-ifp",
		Doc:  "inverse-functional properties identify their subjects",
		Body: body(
			bp(V("p"), T(rdf.RDFtype), T(rdf.OWLInverseFunctionalProperty)),
			bp(V("x1"), V("p"), V("y")),
			bp(V("x2"), V("p"), V("y")),
			notEq("x1", "x2"),
		),
		Head:    TriplePattern{S: V("x1"), P: T(rdf.OWLsameAs), O: V("x2")},
		Profile: ProfileOWL2RL,
	},
	{
		Name: "eq-sym",
		Body: body(
			bp(V("x"), T(rdf.OWLsameAs), V("y")),
		),
		Head:    TriplePattern{S: V("y"), P: T(rdf.OWLsameAs), O: V("x")},
		Profile: ProfileOWL2RL,
	},
	{
		Name: "eq-trans",
		Body: body(
			bp(V("x"), T(rdf.OWLsameAs), V("y")),
			bp(V("y"), T(rdf.OWLsameAs), V("z")),
		),
		Head:    TriplePattern{S: V("x"), P: T(rdf.OWLsameAs), O: V("z")},
		Profile: ProfileOWL2RL,
	},
	{
		Name: "eq-rep-s",
		Doc:  "sameAs replaces subjects",
		Body: body(
			bp(V("s"), T(rdf.OWLsameAs), V("s2")),
			bp(V("s"), V("p"), V("o")),
		),
		Head:    TriplePattern{S: V("s2"), P: V("p"), O: V("o")},
		Profile: ProfileOWL2RL,
	},
	{
		Name: "eq-rep-o",
		Doc:  "sameAs replaces objects",
		Body: body(
			bp(V("s"), T(rdf.OWLsameAs), V("o2")),
			bp(V("s2"), V("p"), V("s")),
		),
		Head:    TriplePattern{S: V("s2"), P: V("p"), O: V("o2")},
		Profile: ProfileOWL2RL,
	},
}

var owl2rlRules = append(append([]Rule{}, rdfsRules...), owl2rlOnly...)
