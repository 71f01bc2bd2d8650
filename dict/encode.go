package dict

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/boutros/mimir/rdf"
)

// Exported errors
var (
	// ErrUnsupportedTerm is returned for term shapes outside the
	// codec's vocabulary.
	ErrUnsupportedTerm = errors.New("unsupported term")

	// ErrInvalidEncoding is returned when term-key bytes cannot be
	// parsed back. It indicates on-disk corruption or a version
	// mismatch.
	ErrInvalidEncoding = errors.New("invalid term encoding")
)

// Leading type bytes of encoded term keys.
const (
	kindIRI     = 0x01
	kindBNode   = 0x02
	kindLiteral = 0x03
)

// Literal sub-kind bytes.
const (
	litPlain = 0x00
	litTyped = 0x01
	litLang  = 0x02
)

// EncodeTerm encodes a term to its key form: one leading type byte
// then the body. IRIs and literal values are NFC-normalized and
// language tags lowercased; blank-node labels and datatype IRIs are
// stored as given. Typed and language-tagged literal
// bodies embed a NUL separator between datatype/tag and value; NUL is
// guaranteed absent from IRIs and language tags, so the split is
// unambiguous.
func EncodeTerm(t rdf.Term) ([]byte, error) {
	switch term := t.(type) {
	case rdf.IRI:
		iri := norm.NFC.String(string(term))
		if strings.ContainsRune(iri, 0) {
			return nil, fmt.Errorf("%w: IRI contains NUL", ErrUnsupportedTerm)
		}
		b := make([]byte, 0, len(iri)+1)
		return append(append(b, kindIRI), iri...), nil
	case rdf.BlankNode:
		b := make([]byte, 0, len(term)+1)
		return append(append(b, kindBNode), term...), nil
	case rdf.Literal:
		val := norm.NFC.String(term.String())
		switch {
		case term.Lang() != "":
			lang := strings.ToLower(term.Lang())
			if strings.ContainsRune(lang, 0) {
				return nil, fmt.Errorf("%w: language tag contains NUL", ErrUnsupportedTerm)
			}
			b := make([]byte, 0, len(lang)+len(val)+3)
			b = append(b, kindLiteral, litLang)
			b = append(b, lang...)
			b = append(b, 0x00)
			return append(b, val...), nil
		case term.DataType() != "":
			dt := string(term.DataType())
			if strings.ContainsRune(dt, 0) {
				return nil, fmt.Errorf("%w: datatype IRI contains NUL", ErrUnsupportedTerm)
			}
			b := make([]byte, 0, len(dt)+len(val)+3)
			b = append(b, kindLiteral, litTyped)
			b = append(b, dt...)
			b = append(b, 0x00)
			return append(b, val...), nil
		default:
			b := make([]byte, 0, len(val)+2)
			b = append(b, kindLiteral, litPlain)
			return append(b, val...), nil
		}
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedTerm, t)
}

// DecodeTerm parses an encoded term key back into a term.
func DecodeTerm(b []byte) (rdf.Term, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidEncoding)
	}
	switch b[0] {
	case kindIRI:
		return rdf.IRI(b[1:]), nil
	case kindBNode:
		return rdf.BlankNode(b[1:]), nil
	case kindLiteral:
		if len(b) < 2 {
			return nil, fmt.Errorf("%w: truncated literal", ErrInvalidEncoding)
		}
		body := b[2:]
		switch b[1] {
		case litPlain:
			return rdf.NewLiteral(string(body)), nil
		case litTyped:
			i := bytes.IndexByte(body, 0x00)
			if i < 0 {
				return nil, fmt.Errorf("%w: typed literal missing separator", ErrInvalidEncoding)
			}
			return rdf.NewTypedLiteral(string(body[i+1:]), rdf.IRI(body[:i])), nil
		case litLang:
			i := bytes.IndexByte(body, 0x00)
			if i < 0 {
				return nil, fmt.Errorf("%w: language literal missing separator", ErrInvalidEncoding)
			}
			return rdf.NewLangLiteral(string(body[i+1:]), string(body[:i])), nil
		}
		return nil, fmt.Errorf("%w: unknown literal kind 0x%02x", ErrInvalidEncoding, b[1])
	}
	return nil, fmt.Errorf("%w: unknown type byte 0x%02x", ErrInvalidEncoding, b[0])
}

// KindOf returns the dictionary kind a term allocates from.
func KindOf(t rdf.Term) (Kind, error) {
	switch t.(type) {
	case rdf.IRI:
		return KindURI, nil
	case rdf.BlankNode:
		return KindBNode, nil
	case rdf.Literal:
		return KindLiteral, nil
	}
	return 0, fmt.Errorf("%w: %T", ErrUnsupportedTerm, t)
}
