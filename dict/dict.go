package dict

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/boutros/mimir/kv"
	"github.com/boutros/mimir/rdf"
)

// Cache is the concurrent read cache shared by all dictionary
// managers, keyed by encoded term. Reads are wait-free; a miss falls
// through to the backend, so the cache may lag but never lies.
type Cache = ristretto.Cache[string, ID]

// NewCache returns a read cache sized for about maxEntries terms.
func NewCache(maxEntries int64) (*Cache, error) {
	return ristretto.NewCache(&ristretto.Config[string, ID]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
}

// Manager is the authoritative get-or-create mapping between RDF
// terms and IDs for one shard of the term space. Reads are concurrent
// and lock-free; creates are serialized through the manager's mutex.
type Manager struct {
	db    *kv.DB
	seq   *Allocator
	cache *Cache

	// writeMu serializes the str2id write path.
	writeMu sync.Mutex
}

// NewManager returns a Manager over the given backend, allocator and
// shared cache.
func NewManager(db *kv.DB, seq *Allocator, cache *Cache) *Manager {
	return &Manager{db: db, seq: seq, cache: cache}
}

// LookupID returns the ID of a term if it exists. Inline-encodable
// literals resolve without touching the backend. The boolean reports
// presence.
func (m *Manager) LookupID(t rdf.Term) (ID, bool, error) {
	if id, ok := InlineID(t); ok {
		return id, true, nil
	}
	key, err := EncodeTerm(t)
	if err != nil {
		return 0, false, err
	}
	return m.lookupEncoded(key)
}

func (m *Manager) lookupEncoded(key []byte) (ID, bool, error) {
	if id, ok := m.cache.Get(string(key)); ok {
		return id, true, nil
	}
	v, err := m.db.Get(kv.Str2ID, key)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := IDFromBytes(v)
	if err != nil {
		return 0, false, err
	}
	m.cache.Set(string(key), id, 1)
	return id, true, nil
}

// GetOrCreateID returns the term's ID, allocating one if the term is
// new. Creation writes both dictionary mappings in a single atomic
// batch.
func (m *Manager) GetOrCreateID(t rdf.Term) (ID, error) {
	if id, ok := InlineID(t); ok {
		return id, nil
	}
	key, err := EncodeTerm(t)
	if err != nil {
		return 0, err
	}
	if id, ok, err := m.lookupEncoded(key); err != nil || ok {
		return id, err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	// Re-check under the write lock: another creator may have won.
	if id, ok, err := m.lookupEncoded(key); err != nil || ok {
		return id, err
	}
	kind, err := KindOf(t)
	if err != nil {
		return 0, err
	}
	id, err := m.seq.NextID(kind)
	if err != nil {
		return 0, err
	}
	ops := []kv.Op{
		{Table: kv.Str2ID, Key: key, Value: id.Bytes()},
		{Table: kv.ID2Str, Key: id.Bytes(), Value: key},
	}
	if err := m.db.WriteBatch(ops, false); err != nil {
		return 0, err
	}
	m.cache.Set(string(key), id, 1)
	return id, nil
}

// GetOrCreateIDs resolves a batch of terms, allocating IDs for the
// missing ones. The same term occurring multiple times in the batch
// maps to the same ID, and exactly one dictionary entry is written per
// unique new term. Results are in input order. On error no partial
// writes are visible.
func (m *Manager) GetOrCreateIDs(ctx context.Context, terms []rdf.Term) ([]ID, error) {
	ids := make([]ID, len(terms))
	keys := make([][]byte, len(terms))

	// Resolve inline literals and known terms first.
	type missing struct {
		key   string
		kind  Kind
		index []int // input positions sharing this encoded key
	}
	missingByKey := make(map[string]*missing)
	var missingOrder []*missing

	for i, t := range terms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if id, ok := InlineID(t); ok {
			ids[i] = id
			continue
		}
		key, err := EncodeTerm(t)
		if err != nil {
			return nil, fmt.Errorf("dict: batch term %d: %w", i, err)
		}
		keys[i] = key
		if mi, ok := missingByKey[string(key)]; ok {
			// Intra-batch duplicate of a term already known missing.
			mi.index = append(mi.index, i)
			continue
		}
		id, ok, err := m.lookupEncoded(key)
		if err != nil {
			return nil, err
		}
		if ok {
			ids[i] = id
			continue
		}
		kind, err := KindOf(t)
		if err != nil {
			return nil, err
		}
		mi := &missing{key: string(key), kind: kind, index: []int{i}}
		missingByKey[string(key)] = mi
		missingOrder = append(missingOrder, mi)
	}
	if len(missingOrder) == 0 {
		return ids, nil
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	// Re-check under the write lock; terms created since the first
	// pass are no longer missing.
	still := missingOrder[:0]
	for _, mi := range missingOrder {
		id, ok, err := m.lookupEncoded([]byte(mi.key))
		if err != nil {
			return nil, err
		}
		if ok {
			for _, i := range mi.index {
				ids[i] = id
			}
			continue
		}
		still = append(still, mi)
	}
	if len(still) == 0 {
		return ids, nil
	}

	// One range allocation per kind, assigned in stable batch order.
	var counts [numKinds]uint64
	for _, mi := range still {
		counts[mi.kind]++
	}
	var next [numKinds]uint64
	for k := Kind(0); k < numKinds; k++ {
		if counts[k] == 0 {
			continue
		}
		start, err := m.seq.AllocateRange(k, counts[k])
		if err != nil {
			return nil, err
		}
		next[k] = start
	}

	ops := make([]kv.Op, 0, 2*len(still))
	for _, mi := range still {
		id := MakeID(mi.kind.tag(), next[mi.kind])
		next[mi.kind]++
		for _, i := range mi.index {
			ids[i] = id
		}
		key := []byte(mi.key)
		ops = append(ops,
			kv.Op{Table: kv.Str2ID, Key: key, Value: id.Bytes()},
			kv.Op{Table: kv.ID2Str, Key: id.Bytes(), Value: key},
		)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.db.WriteBatch(ops, false); err != nil {
		return nil, err
	}
	for _, mi := range still {
		m.cache.Set(mi.key, ids[mi.index[0]], 1)
	}
	return ids, nil
}

// LookupTerm returns the term of an ID: a pure bit decode for inline
// IDs, an id2str read otherwise. Returns kv.ErrNotFound for unknown
// dictionary IDs.
func (m *Manager) LookupTerm(id ID) (rdf.Term, error) {
	if id.IsInline() {
		return DecodeInline(id)
	}
	v, err := m.db.Get(kv.ID2Str, id.Bytes())
	if err != nil {
		return nil, err
	}
	return DecodeTerm(v)
}

// LookupTerms resolves a batch of IDs, preserving order.
func (m *Manager) LookupTerms(ids []ID) ([]rdf.Term, error) {
	terms := make([]rdf.Term, len(ids))
	for i, id := range ids {
		t, err := m.LookupTerm(id)
		if err != nil {
			return nil, fmt.Errorf("dict: lookup id %d: %w", id, err)
		}
		terms[i] = t
	}
	return terms, nil
}
