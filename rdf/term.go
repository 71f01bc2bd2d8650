package rdf

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Commonly used vocabulary URIs (and the ones used by the reasoner internally):
var (
	RDFtype = IRI("http://www.w3.org/1999/02/22-rdf-syntax-ns#type")

	RDFSsubClassOf    = IRI("http://www.w3.org/2000/01/rdf-schema#subClassOf")
	RDFSsubPropertyOf = IRI("http://www.w3.org/2000/01/rdf-schema#subPropertyOf")
	RDFSdomain        = IRI("http://www.w3.org/2000/01/rdf-schema#domain")
	RDFSrange         = IRI("http://www.w3.org/2000/01/rdf-schema#range")

	OWLsameAs                    = IRI("http://www.w3.org/2002/07/owl#sameAs")
	OWLinverseOf                 = IRI("http://www.w3.org/2002/07/owl#inverseOf")
	OWLTransitiveProperty        = IRI("http://www.w3.org/2002/07/owl#TransitiveProperty")
	OWLSymmetricProperty         = IRI("http://www.w3.org/2002/07/owl#SymmetricProperty")
	OWLFunctionalProperty        = IRI("http://www.w3.org/2002/07/owl#FunctionalProperty")
	OWLInverseFunctionalProperty = IRI("http://www.w3.org/2002/07/owl#InverseFunctionalProperty")

	XSDstring   = IRI("http://www.w3.org/2001/XMLSchema#string")
	XSDinteger  = IRI("http://www.w3.org/2001/XMLSchema#integer")
	XSDdecimal  = IRI("http://www.w3.org/2001/XMLSchema#decimal")
	XSDdateTime = IRI("http://www.w3.org/2001/XMLSchema#dateTime")
	XSDboolean  = IRI("http://www.w3.org/2001/XMLSchema#boolean")
	XSDdouble   = IRI("http://www.w3.org/2001/XMLSchema#double")
)

// IRI represents an IRI node in a RDF graph.
type IRI string

// NewIRI returns a new IRI. The following characters will be stripped:
// <>"{}|^`\ - as well as characters in the range 0x00-0x20. No other
// validations are performed.
func NewIRI(s string) IRI {
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		switch ch {
		case '<', '>', '"', '{', '}', '|', '^', '`', '\\':
		default:
			if ch > '\x20' {
				b.WriteRune(ch)
			}
		}
	}
	return IRI(b.String())
}

// String returns the IRI as a string.
func (u IRI) String() string { return string(u) }

func (u IRI) validAsTerm() {}

// BlankNode represents a blank node in a RDF graph, identified by its
// label. The label is scoped to the dataset.
type BlankNode string

// String returns the blank node in N-Triples notation.
func (b BlankNode) String() string { return "_:" + string(b) }

func (b BlankNode) validAsTerm() {}

// Literal represents a literal value node in a RDF graph. A Literal is
// either plain, typed with a datatype IRI, or tagged with a language.
// A language-tagged literal has no explicit datatype.
type Literal struct {
	value    string
	language string
	datatype IRI
}

// NewLiteral returns a new plain Literal.
func NewLiteral(v string) Literal {
	return Literal{value: v}
}

// NewTypedLiteral returns a new Literal with the given datatype.
func NewTypedLiteral(v string, dt IRI) Literal {
	return Literal{value: v, datatype: dt}
}

// NewLangLiteral returns a new language-tagged Literal. The tag is
// stored lowercased, as BCP-47 tags are case-insensitive.
func NewLangLiteral(v string, lang string) Literal {
	return Literal{value: v, language: strings.ToLower(lang)}
}

// String returns the Literal's lexical value.
func (l Literal) String() string { return l.value }

// DataType returns the datatype IRI of a typed Literal, or the empty
// IRI for plain and language-tagged literals.
func (l Literal) DataType() IRI { return l.datatype }

// Lang returns a Literal's language tag, if present.
func (l Literal) Lang() string { return l.language }

// IsPlain reports whether the Literal is plain: neither typed nor
// language-tagged.
func (l Literal) IsPlain() bool { return l.datatype == "" && l.language == "" }

func (l Literal) validAsTerm() {}

// Term represents a RDF Term: the combination of IRI, BlankNode and Literal.
type Term interface {
	// String returns a string representation of a Term.
	String() string

	// method is not exported to hinder interface implementations outside this package:
	validAsTerm()
}

// Canonical returns the canonical identity of a term: its kind, the
// NFC-normalized lexical form, and datatype or language tag when
// present, joined with NUL separators. Two terms denote the same RDF
// term iff their canonical forms are byte-equal.
func Canonical(t Term) string {
	switch term := t.(type) {
	case IRI:
		return "I\x00" + norm.NFC.String(string(term))
	case BlankNode:
		return "B\x00" + string(term)
	case Literal:
		switch {
		case term.language != "":
			return "L\x00" + term.language + "\x00" + norm.NFC.String(term.value)
		case term.datatype != "":
			return "T\x00" + string(term.datatype) + "\x00" + norm.NFC.String(term.value)
		default:
			return "P\x00" + norm.NFC.String(term.value)
		}
	}
	panic("rdf.Canonical: unknown term type")
}

// Triple represents a RDF statement. The subject must be an IRI or a
// BlankNode, the predicate an IRI, and the object any term.
type Triple struct {
	Subj Term
	Pred Term
	Obj  Term
}

// Valid reports whether the triple's slots hold the term kinds RDF
// requires of them.
func (tr Triple) Valid() bool {
	switch tr.Subj.(type) {
	case IRI, BlankNode:
	default:
		return false
	}
	if _, ok := tr.Pred.(IRI); !ok {
		return false
	}
	switch tr.Obj.(type) {
	case IRI, BlankNode, Literal:
		return true
	}
	return false
}

// String returns the Triple in N-Triples notation.
func (tr Triple) String() string {
	return fmt.Sprintf("%s %s %s .", ntTerm(tr.Subj), ntTerm(tr.Pred), ntTerm(tr.Obj))
}
