// Package index maintains the three triple permutation indexes
// (SPO/POS/OSP) and answers pattern queries over them.
package index

import (
	"fmt"

	"github.com/boutros/mimir/dict"
	"github.com/boutros/mimir/kv"
)

// Triple is an encoded triple: the three term IDs in subject,
// predicate, object order.
type Triple struct {
	S, P, O dict.ID
}

// KeySize is the byte length of a permutation key: three 8-byte
// big-endian IDs in index order.
const KeySize = 24

// permutation describes one index table: the order its key stores the
// triple positions in.
type permutation struct {
	table kv.Table
	// order maps key component -> triple position (0=S 1=P 2=O).
	order [3]int
}

var permutations = []permutation{
	{kv.SPO, [3]int{0, 1, 2}},
	{kv.POS, [3]int{1, 2, 0}},
	{kv.OSP, [3]int{2, 0, 1}},
}

// key builds a permutation key for the triple. Big-endian component
// encoding makes prefix scans return IDs in ascending order.
func (p permutation) key(t Triple) []byte {
	ids := [3]dict.ID{t.S, t.P, t.O}
	k := make([]byte, 0, KeySize)
	for _, pos := range p.order {
		k = append(k, ids[pos].Bytes()...)
	}
	return k
}

// triple reconstitutes (s,p,o) from a permutation key by reversing the
// component order.
func (p permutation) triple(key []byte) (Triple, error) {
	if len(key) != KeySize {
		return Triple{}, fmt.Errorf("index: key must be %d bytes, got %d", KeySize, len(key))
	}
	var ids [3]dict.ID
	for i, pos := range p.order {
		id, _ := dict.IDFromBytes(key[i*8 : i*8+8])
		ids[pos] = id
	}
	return Triple{S: ids[0], P: ids[1], O: ids[2]}, nil
}

// SPOKey returns the SPO permutation key of a triple. The derived
// table stores these.
func SPOKey(t Triple) []byte { return permutations[0].key(t) }

// DefaultChunkSize bounds the number of triples per write batch in the
// bulk paths.
const DefaultChunkSize = 1000

// Index maintains the three permutation indexes coherently: a triple
// is present in all three or in none.
type Index struct {
	db        *kv.DB
	chunkSize int
}

// New returns an Index over the given backend.
func New(db *kv.DB) *Index {
	return &Index{db: db, chunkSize: DefaultChunkSize}
}

// SetChunkSize tunes the bulk-operation batch size.
func (ix *Index) SetChunkSize(n int) {
	if n > 0 {
		ix.chunkSize = n
	}
}

// Insert stores the triple in all three indexes in one atomic batch.
func (ix *Index) Insert(t Triple) error {
	return ix.db.WriteBatch(ix.ops([]Triple{t}, false), false)
}

// Delete removes the triple from all three indexes in one atomic
// batch. Deleting an absent triple is a no-op.
func (ix *Index) Delete(t Triple) error {
	return ix.db.WriteBatch(ix.ops([]Triple{t}, true), false)
}

// InsertMany stores triples, coalescing writes into one batch per
// chunk.
func (ix *Index) InsertMany(ts []Triple) error {
	return ix.bulk(ts, false)
}

// DeleteMany removes triples, coalescing writes into one batch per
// chunk.
func (ix *Index) DeleteMany(ts []Triple) error {
	return ix.bulk(ts, true)
}

func (ix *Index) bulk(ts []Triple, del bool) error {
	for start := 0; start < len(ts); start += ix.chunkSize {
		end := start + ix.chunkSize
		if end > len(ts) {
			end = len(ts)
		}
		if err := ix.db.WriteBatch(ix.ops(ts[start:end], del), false); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Index) ops(ts []Triple, del bool) []kv.Op {
	ops := make([]kv.Op, 0, 3*len(ts))
	for _, t := range ts {
		for _, p := range permutations {
			ops = append(ops, kv.Op{Table: p.table, Key: p.key(t), Delete: del})
		}
	}
	return ops
}

// Exists point-checks the triple in the SPO index.
func (ix *Index) Exists(t Triple) (bool, error) {
	return ix.db.Exists(kv.SPO, permutations[0].key(t))
}
