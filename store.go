// Package mimir is a persistent RDF triple store: terms are
// dictionary-encoded to 64-bit IDs, triples live in three permutation
// indexes over an LSM backend, and an OWL 2 RL / RDFS forward-chaining
// reasoner materializes derived facts alongside the explicit ones.
package mimir

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/boutros/mimir/dict"
	"github.com/boutros/mimir/index"
	"github.com/boutros/mimir/kv"
	"github.com/boutros/mimir/rdf"
	"github.com/boutros/mimir/reason"
)

// Exported errors
var (
	// ErrNotFound is an error signifying that the resource
	// (triple or term) is not present in the store.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTriple is returned when a triple's term kinds are not
	// valid RDF (e.g. a literal subject).
	ErrInvalidTriple = errors.New("invalid triple")
)

// DefaultCacheEntries sizes the shared dictionary read cache.
const DefaultCacheEntries = 1 << 20

// Store is a RDF triple store backed by a column-family LSM store.
type Store struct {
	kv     *kv.DB
	dict   *dict.Sharded
	idx    *index.Index
	status *reason.StatusStore
	cache  *dict.Cache
	log    *zap.Logger
	path   string
}

// Options configure Open.
type Options struct {
	// Tuning selects the LSM profile; nil means the default preset.
	Tuning *kv.Tuning

	// Shards is the dictionary shard count; 0 means the CPU count.
	Shards int

	// CacheEntries sizes the dictionary read cache; 0 means
	// DefaultCacheEntries.
	CacheEntries int64

	// InMemory opens an ephemeral store. For tests.
	InMemory bool

	// Logger for operational events; nil means no logging.
	Logger *zap.Logger
}

// Open creates and opens a store at the given directory, creating any
// missing column families.
func Open(path string, opts Options) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	db, err := kv.Open(path, kv.Options{
		Tuning:   opts.Tuning,
		InMemory: opts.InMemory,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	cacheEntries := opts.CacheEntries
	if cacheEntries <= 0 {
		cacheEntries = DefaultCacheEntries
	}
	cache, err := dict.NewCache(cacheEntries)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("mimir: dictionary cache: %w", err)
	}
	seq, err := dict.OpenAllocator(db, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{
		kv:     db,
		dict:   dict.NewSharded(db, seq, cache, opts.Shards),
		idx:    index.New(db),
		status: reason.NewStatusStore(db, path),
		cache:  cache,
		log:    log,
		path:   path,
	}, nil
}

// Close flushes the sequence counters and closes the store.
func (s *Store) Close() error {
	if err := s.dict.Allocator().Flush(); err != nil {
		s.log.Warn("counter flush on close failed", zap.Error(err))
	}
	s.cache.Close()
	return s.kv.Close()
}

// encodeTriple resolves the triple's terms to IDs, allocating as
// needed.
func (s *Store) encodeTriple(ctx context.Context, tr rdf.Triple) (index.Triple, error) {
	if !tr.Valid() {
		return index.Triple{}, fmt.Errorf("%w: %v", ErrInvalidTriple, tr)
	}
	ids, err := s.dict.GetOrCreateIDs(ctx, []rdf.Term{tr.Subj, tr.Pred, tr.Obj})
	if err != nil {
		return index.Triple{}, err
	}
	return index.Triple{S: ids[0], P: ids[1], O: ids[2]}, nil
}

// lookupTriple resolves the triple's terms to IDs without allocating.
// The boolean is false if any term is unknown (the triple cannot be
// stored).
func (s *Store) lookupTriple(tr rdf.Triple) (index.Triple, bool, error) {
	var out index.Triple
	for i, t := range []rdf.Term{tr.Subj, tr.Pred, tr.Obj} {
		id, ok, err := s.dict.LookupID(t)
		if err != nil || !ok {
			return index.Triple{}, false, err
		}
		switch i {
		case 0:
			out.S = id
		case 1:
			out.P = id
		case 2:
			out.O = id
		}
	}
	return out, true, nil
}

// Insert stores the given triple.
func (s *Store) Insert(ctx context.Context, tr rdf.Triple) error {
	enc, err := s.encodeTriple(ctx, tr)
	if err != nil {
		return err
	}
	return s.idx.Insert(enc)
}

// InsertAll stores the given triples, batching dictionary allocation
// and index writes.
func (s *Store) InsertAll(ctx context.Context, trs []rdf.Triple) error {
	enc, err := s.encodeAll(ctx, trs)
	if err != nil {
		return err
	}
	return s.idx.InsertMany(enc)
}

func (s *Store) encodeAll(ctx context.Context, trs []rdf.Triple) ([]index.Triple, error) {
	terms := make([]rdf.Term, 0, 3*len(trs))
	for _, tr := range trs {
		if !tr.Valid() {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTriple, tr)
		}
		terms = append(terms, tr.Subj, tr.Pred, tr.Obj)
	}
	ids, err := s.dict.GetOrCreateIDs(ctx, terms)
	if err != nil {
		return nil, err
	}
	enc := make([]index.Triple, len(trs))
	for i := range trs {
		enc[i] = index.Triple{S: ids[3*i], P: ids[3*i+1], O: ids[3*i+2]}
	}
	return enc, nil
}

// Delete removes the given triple from the indexes. Terms are never
// reclaimed. Returns ErrNotFound if the triple is not stored.
func (s *Store) Delete(ctx context.Context, tr rdf.Triple) error {
	enc, ok, err := s.lookupTriple(tr)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	present, err := s.idx.Exists(enc)
	if err != nil {
		return err
	}
	if !present {
		return ErrNotFound
	}
	if err := s.idx.Delete(enc); err != nil {
		return err
	}
	// Drop any derived-table entry so the derived set never points at
	// a triple the indexes no longer hold.
	return s.kv.Delete(kv.Derived, index.SPOKey(enc))
}

// Has checks if the given triple is stored.
func (s *Store) Has(tr rdf.Triple) (bool, error) {
	enc, ok, err := s.lookupTriple(tr)
	if err != nil || !ok {
		return false, err
	}
	return s.idx.Exists(enc)
}

// GetOrCreateID returns the term's ID, allocating one if the term is
// new.
func (s *Store) GetOrCreateID(t rdf.Term) (dict.ID, error) {
	return s.dict.GetOrCreateID(t)
}

// GetOrCreateIDs resolves a batch of terms, allocating IDs for the
// missing ones. Duplicate terms in the batch map to the same ID.
func (s *Store) GetOrCreateIDs(ctx context.Context, terms []rdf.Term) ([]dict.ID, error) {
	return s.dict.GetOrCreateIDs(ctx, terms)
}

// LookupID returns the ID of a term if it exists.
func (s *Store) LookupID(t rdf.Term) (dict.ID, bool, error) {
	return s.dict.LookupID(t)
}

// LookupTerm returns the term of an ID.
func (s *Store) LookupTerm(id dict.ID) (rdf.Term, error) {
	return s.dict.LookupTerm(id)
}

// LookupTerms resolves a batch of IDs, preserving order.
func (s *Store) LookupTerms(ids []dict.ID) ([]rdf.Term, error) {
	return s.dict.LookupTerms(ids)
}

// Query returns all triples matching a pattern where nil positions
// are wildcards. The subject/predicate/object terms must exist for a
// bound position to match anything.
func (s *Store) Query(ctx context.Context, subj, pred, obj rdf.Term) ([]rdf.Triple, error) {
	var out []rdf.Triple
	err := s.QueryFunc(ctx, subj, pred, obj, func(tr rdf.Triple) bool {
		out = append(out, tr)
		return true
	})
	return out, err
}

// QueryFunc streams matching triples to fn, stopping early when fn
// returns false.
func (s *Store) QueryFunc(ctx context.Context, subj, pred, obj rdf.Term, fn func(rdf.Triple) bool) error {
	var pat index.Pattern
	for _, bind := range []struct {
		t   rdf.Term
		dst **dict.ID
	}{{subj, &pat.S}, {pred, &pat.P}, {obj, &pat.O}} {
		if bind.t == nil {
			continue
		}
		id, ok, err := s.dict.LookupID(bind.t)
		if err != nil {
			return err
		}
		if !ok {
			return nil // bound term unknown: nothing can match
		}
		*bind.dst = index.Bind(id)
	}
	m, err := s.idx.Match(pat)
	if err != nil {
		return err
	}
	defer m.Close()
	for m.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := m.Triple()
		terms, err := s.dict.LookupTerms([]dict.ID{t.S, t.P, t.O})
		if err != nil {
			return err
		}
		if !fn(rdf.Triple{Subj: terms[0], Pred: terms[1], Obj: terms[2]}) {
			return nil
		}
	}
	return m.Err()
}

// Stats holds some statistics of the triple store.
type Stats struct {
	NumTriples int
	NumDerived int
	Counters   dict.Counters
	SizeBytes  int64
}

// Stats returns statistics about the triple store.
func (s *Store) Stats() (Stats, error) {
	st := Stats{Counters: s.dict.Allocator().Export()}
	n, err := s.idx.Count(index.Pattern{})
	if err != nil {
		return st, err
	}
	st.NumTriples = n
	d, err := s.countDerived()
	if err != nil {
		return st, err
	}
	st.NumDerived = d
	lsm, vlog := s.kv.Size()
	st.SizeBytes = lsm + vlog
	return st, nil
}

func (s *Store) countDerived() (int, error) {
	it, err := s.kv.PrefixIterator(kv.Derived, nil)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	n := 0
	for it.Next() {
		n++
	}
	return n, nil
}

// Import reads N-Triples from r and stores them in batches of the
// given size, skipping malformed statements. It returns the number of
// triples imported.
func (s *Store) Import(ctx context.Context, r io.Reader, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	dec := rdf.NewDecoder(r)
	batch := make([]rdf.Triple, 0, batchSize)
	c := 0
	for {
		tr, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		batch = append(batch, tr)
		if len(batch) == batchSize {
			if err := s.InsertAll(ctx, batch); err != nil {
				return c, err
			}
			c += len(batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := s.InsertAll(ctx, batch); err != nil {
			return c, err
		}
		c += len(batch)
	}
	return c, nil
}

// Dump writes the entire store as N-Triples to the given writer.
func (s *Store) Dump(ctx context.Context, w io.Writer) error {
	enc := rdf.NewEncoder(w)
	if err := s.QueryFunc(ctx, nil, nil, nil, func(tr rdf.Triple) bool {
		return enc.Encode(tr) == nil
	}); err != nil {
		return err
	}
	return enc.Flush()
}

// Snapshot returns a point-in-time read view of the backend.
func (s *Store) Snapshot() (*kv.Snapshot, error) { return s.kv.Snapshot() }

// FlushWAL forces buffered writes to stable storage.
func (s *Store) FlushWAL(sync bool) error { return s.kv.FlushWAL(sync) }

// SetRuntimeOptions validates and records runtime-mutable LSM options
// (see kv.DB.SetOptions).
func (s *Store) SetRuntimeOptions(opts map[string]string) error {
	return s.kv.SetOptions(opts)
}

// ExportCounters writes the sequence-counter backup stream.
func (s *Store) ExportCounters(w io.Writer) error {
	return s.dict.Allocator().WriteBackup(w, time.Now())
}

// ImportCounters reads a sequence-counter backup stream, applying the
// recovery safety margin.
func (s *Store) ImportCounters(r io.Reader) error {
	return s.dict.Allocator().ReadBackup(r)
}
