package rdf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Decoder parses an N-Triples stream into triples, one statement per
// line. Malformed lines yield an error for that statement only; the
// decoder recovers at the next line.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Decoder{scanner: sc}
}

// Decode returns the next Triple in the stream, or io.EOF when the
// stream is exhausted.
func (d *Decoder) Decode() (Triple, error) {
	for d.scanner.Scan() {
		d.line++
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tr, err := d.parseLine(line)
		if err != nil {
			return Triple{}, fmt.Errorf("line %d: %w", d.line, err)
		}
		return tr, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Triple{}, err
	}
	return Triple{}, io.EOF
}

func (d *Decoder) parseLine(line string) (Triple, error) {
	p := &parser{rest: line}
	subj, err := p.term()
	if err != nil {
		return Triple{}, err
	}
	pred, err := p.term()
	if err != nil {
		return Triple{}, err
	}
	obj, err := p.term()
	if err != nil {
		return Triple{}, err
	}
	p.ws()
	if !strings.HasPrefix(p.rest, ".") {
		return Triple{}, errors.New("expected '.' terminating statement")
	}
	tr := Triple{Subj: subj, Pred: pred, Obj: obj}
	if !tr.Valid() {
		return Triple{}, errors.New("invalid term position in statement")
	}
	return tr, nil
}

type parser struct {
	rest string
}

func (p *parser) ws() {
	p.rest = strings.TrimLeft(p.rest, " \t")
}

func (p *parser) term() (Term, error) {
	p.ws()
	if p.rest == "" {
		return nil, errors.New("unexpected end of statement")
	}
	switch p.rest[0] {
	case '<':
		end := strings.IndexByte(p.rest, '>')
		if end < 0 {
			return nil, errors.New("unterminated IRI")
		}
		iri := IRI(unescape(p.rest[1:end]))
		p.rest = p.rest[end+1:]
		return iri, nil
	case '_':
		if !strings.HasPrefix(p.rest, "_:") {
			return nil, errors.New("malformed blank node label")
		}
		end := strings.IndexAny(p.rest, " \t")
		if end < 0 {
			end = len(p.rest)
		}
		node := BlankNode(p.rest[2:end])
		p.rest = p.rest[end:]
		return node, nil
	case '"':
		return p.literal()
	}
	return nil, fmt.Errorf("unexpected character %q", p.rest[0])
}

func (p *parser) literal() (Term, error) {
	// Find the closing quote, skipping escaped ones.
	end := -1
	for i := 1; i < len(p.rest); i++ {
		if p.rest[i] == '"' {
			n := 0
			for j := i - 1; j > 0 && p.rest[j] == '\\'; j-- {
				n++
			}
			if n%2 == 0 {
				end = i
				break
			}
		}
	}
	if end < 0 {
		return nil, errors.New("unterminated literal")
	}
	val := unescape(p.rest[1:end])
	p.rest = p.rest[end+1:]

	switch {
	case strings.HasPrefix(p.rest, "@"):
		end := strings.IndexAny(p.rest, " \t")
		if end < 0 {
			end = len(p.rest)
		}
		lang := p.rest[1:end]
		p.rest = p.rest[end:]
		if lang == "" {
			return nil, errors.New("empty language tag")
		}
		return NewLangLiteral(val, lang), nil
	case strings.HasPrefix(p.rest, "^^<"):
		end := strings.IndexByte(p.rest, '>')
		if end < 0 {
			return nil, errors.New("unterminated datatype IRI")
		}
		dt := IRI(p.rest[3:end])
		p.rest = p.rest[end+1:]
		return NewTypedLiteral(val, dt), nil
	}
	return NewLiteral(val), nil
}

func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		case 'u', 'U':
			size := 4
			if s[i] == 'U' {
				size = 8
			}
			if i+size < len(s) {
				if r, err := strconv.ParseUint(s[i+1:i+1+size], 16, 32); err == nil {
					b.WriteRune(rune(r))
					i += size
					continue
				}
			}
			b.WriteByte(s[i])
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func ntTerm(t Term) string {
	switch term := t.(type) {
	case IRI:
		return "<" + string(term) + ">"
	case BlankNode:
		return term.String()
	case Literal:
		quoted := `"` + escape(term.value) + `"`
		switch {
		case term.language != "":
			return quoted + "@" + term.language
		case term.datatype != "":
			return quoted + "^^<" + string(term.datatype) + ">"
		default:
			return quoted
		}
	}
	return "<nil>"
}

// Encoder serializes triples as N-Triples, one statement per line.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes a single Triple.
func (e *Encoder) Encode(tr Triple) error {
	_, err := e.w.WriteString(tr.String() + "\n")
	return err
}

// Flush flushes buffered statements to the underlying writer.
func (e *Encoder) Flush() error { return e.w.Flush() }
