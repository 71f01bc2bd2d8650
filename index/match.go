package index

import (
	"github.com/boutros/mimir/dict"
	"github.com/boutros/mimir/kv"
)

// Pattern is a triple pattern: each position is either bound to an ID
// or left free.
type Pattern struct {
	S, P, O *dict.ID
}

// Bind is a convenience for building bound pattern positions.
func Bind(id dict.ID) *dict.ID { return &id }

// selection is the outcome of index selection: the permutation to scan
// and how many leading key components are fully bound.
type selection struct {
	perm   permutation
	prefix []byte
}

// selectIndex picks the table whose leading positions form the longest
// fully-bound prefix. Ties break toward SPO, then POS, then OSP, which
// is the order of the permutations table.
func selectIndex(p Pattern) selection {
	bound := [3]*dict.ID{p.S, p.P, p.O}
	best := selection{perm: permutations[0]}
	bestLen := -1
	for _, perm := range permutations {
		n := 0
		prefix := make([]byte, 0, KeySize)
		for _, pos := range perm.order {
			if bound[pos] == nil {
				break
			}
			prefix = append(prefix, bound[pos].Bytes()...)
			n++
		}
		if n > bestLen {
			best = selection{perm: perm, prefix: prefix}
			bestLen = n
		}
	}
	return best
}

// Matches streams the triples matching a pattern, scanning the chosen
// index by prefix and filtering any residually bound position. Close
// must be called on every exit path.
type Matches struct {
	it   *kv.Iterator
	perm permutation
	pat  Pattern
	cur  Triple
	err  error
}

// Match opens a stream of triples matching the pattern, choosing the
// index with the smallest scan.
func (ix *Index) Match(p Pattern) (*Matches, error) {
	sel := selectIndex(p)
	it, err := ix.db.PrefixIterator(sel.perm.table, sel.prefix)
	if err != nil {
		return nil, err
	}
	return &Matches{it: it, perm: sel.perm, pat: p}, nil
}

// MatchSnapshot is Match against a point-in-time snapshot.
func (ix *Index) MatchSnapshot(snap *kv.Snapshot, p Pattern) (*Matches, error) {
	sel := selectIndex(p)
	it, err := snap.PrefixIterator(sel.perm.table, sel.prefix)
	if err != nil {
		return nil, err
	}
	return &Matches{it: it, perm: sel.perm, pat: p}, nil
}

// Next advances to the next matching triple.
func (m *Matches) Next() bool {
	if m.err != nil {
		return false
	}
	for m.it.Next() {
		t, err := m.perm.triple(m.it.Key())
		if err != nil {
			m.err = err
			return false
		}
		// Residual filter: positions bound in the pattern but not part
		// of the scanned prefix (non-contiguous binding sets).
		if m.pat.S != nil && t.S != *m.pat.S {
			continue
		}
		if m.pat.P != nil && t.P != *m.pat.P {
			continue
		}
		if m.pat.O != nil && t.O != *m.pat.O {
			continue
		}
		m.cur = t
		return true
	}
	return false
}

// Triple returns the current match.
func (m *Matches) Triple() Triple { return m.cur }

// Err returns the first error encountered while scanning.
func (m *Matches) Err() error { return m.err }

// Close releases the underlying iterator. Safe to call more than once.
func (m *Matches) Close() { m.it.Close() }

// Count scans the pattern to completion and returns the number of
// matches.
func (ix *Index) Count(p Pattern) (int, error) {
	m, err := ix.Match(p)
	if err != nil {
		return 0, err
	}
	defer m.Close()
	n := 0
	for m.Next() {
		n++
	}
	return n, m.Err()
}
