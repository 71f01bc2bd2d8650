package dict

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/boutros/mimir/kv"
	"github.com/boutros/mimir/rdf"
)

// MaxBatch caps the size of a single batch call, bounding memory and
// latency.
const MaxBatch = 100_000

// Exported errors
var (
	// ErrBatchTooLarge is returned for batches above MaxBatch. No
	// side effects occur.
	ErrBatchTooLarge = errors.New("batch too large")

	// ErrTimeout is returned when the caller's deadline expires
	// before all shards complete. No partial results are surfaced.
	ErrTimeout = errors.New("timeout")
)

// Sharded partitions the term space across managers by a consistent
// hash over the canonical term form, scaling get-or-create across
// cores. All managers share one sequence allocator and one read
// cache; each owns its own write serialization.
type Sharded struct {
	shards []*Manager
	seq    *Allocator
	cache  *Cache
}

// NewSharded returns a sharded dictionary with n managers (logical
// CPU count if n <= 0) over a shared allocator and cache.
func NewSharded(db *kv.DB, seq *Allocator, cache *Cache, n int) *Sharded {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	shards := make([]*Manager, n)
	for i := range shards {
		shards[i] = NewManager(db, seq, cache)
	}
	return &Sharded{shards: shards, seq: seq, cache: cache}
}

// NumShards returns the shard count.
func (s *Sharded) NumShards() int { return len(s.shards) }

// Allocator returns the shared sequence allocator.
func (s *Sharded) Allocator() *Allocator { return s.seq }

// shardFor routes a term by its exact identity: same term, same shard,
// forever.
func (s *Sharded) shardFor(t rdf.Term) *Manager {
	h := xxhash.Sum64String(rdf.Canonical(t))
	return s.shards[h%uint64(len(s.shards))]
}

// LookupID returns the ID of a term if it exists.
func (s *Sharded) LookupID(t rdf.Term) (ID, bool, error) {
	return s.shardFor(t).LookupID(t)
}

// GetOrCreateID returns the term's ID, allocating one if new.
func (s *Sharded) GetOrCreateID(t rdf.Term) (ID, error) {
	return s.shardFor(t).GetOrCreateID(t)
}

// LookupTerm returns the term of an ID.
func (s *Sharded) LookupTerm(id ID) (rdf.Term, error) {
	// Reads need no shard affinity; the read path is lock-free.
	return s.shards[0].LookupTerm(id)
}

// LookupTerms resolves a batch of IDs, preserving order.
func (s *Sharded) LookupTerms(ids []ID) ([]rdf.Term, error) {
	return s.shards[0].LookupTerms(ids)
}

// GetOrCreateIDs partitions the batch by shard, dispatches sub-batches
// in parallel under the caller's deadline, and reassembles results in
// input order. On timeout outstanding shard work is cancelled and no
// results are returned.
func (s *Sharded) GetOrCreateIDs(ctx context.Context, terms []rdf.Term) ([]ID, error) {
	if len(terms) > MaxBatch {
		return nil, fmt.Errorf("%w: %d terms over cap %d", ErrBatchTooLarge, len(terms), MaxBatch)
	}
	if len(terms) == 0 {
		return nil, nil
	}

	type subBatch struct {
		terms   []rdf.Term
		indices []int
	}
	subs := make([]subBatch, len(s.shards))
	for i, t := range terms {
		h := xxhash.Sum64String(rdf.Canonical(t))
		n := int(h % uint64(len(s.shards)))
		subs[n].terms = append(subs[n].terms, t)
		subs[n].indices = append(subs[n].indices, i)
	}

	ids := make([]ID, len(terms))
	g, gctx := errgroup.WithContext(ctx)
	for n, sub := range subs {
		if len(sub.terms) == 0 {
			continue
		}
		n, sub := n, sub
		g.Go(func() error {
			res, err := s.shards[n].GetOrCreateIDs(gctx, sub.terms)
			if err != nil {
				return err
			}
			for j, id := range res {
				ids[sub.indices[j]] = id
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return ids, nil
}
