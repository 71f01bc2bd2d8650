package dict

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boutros/mimir/rdf"
)

func newTestSharded(t *testing.T, shards int) *Sharded {
	t.Helper()
	db := openTestKV(t)
	seq, err := OpenAllocator(db, nil)
	require.NoError(t, err)
	cache, err := NewCache(10_000)
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	return NewSharded(db, seq, cache, shards)
}

func TestShardRoutingStable(t *testing.T) {
	s := newTestSharded(t, 4)
	term := rdf.IRI("http://ex.org/x")
	m := s.shardFor(term)
	for i := 0; i < 10; i++ {
		assert.Same(t, m, s.shardFor(term), "same term must route to the same shard")
	}
	// The same lexical value as a different kind is a different term
	// and may route anywhere, but must also be stable.
	lit := rdf.NewLiteral("http://ex.org/x")
	assert.Same(t, s.shardFor(lit), s.shardFor(lit))
}

func TestShardedBatchOrder(t *testing.T) {
	s := newTestSharded(t, 4)

	var terms []rdf.Term
	for i := 0; i < 200; i++ {
		terms = append(terms, rdf.IRI(fmt.Sprintf("http://ex.org/r%03d", i)))
	}
	// Sprinkle duplicates across shard boundaries.
	terms = append(terms, terms[3], terms[77], terms[150])

	ids, err := s.GetOrCreateIDs(context.Background(), terms)
	require.NoError(t, err)
	require.Len(t, ids, len(terms))

	assert.Equal(t, ids[3], ids[200])
	assert.Equal(t, ids[77], ids[201])
	assert.Equal(t, ids[150], ids[202])

	// Every term resolves to its batch-assigned ID afterwards.
	for i, term := range terms {
		id, ok, err := s.LookupID(term)
		require.NoError(t, err)
		require.True(t, ok, "term %d missing after batch", i)
		assert.Equal(t, ids[i], id, "term %d", i)
	}
}

func TestShardedBatchTooLarge(t *testing.T) {
	s := newTestSharded(t, 2)
	terms := make([]rdf.Term, MaxBatch+1)
	for i := range terms {
		terms[i] = rdf.IRI("http://ex.org/overflow")
	}
	_, err := s.GetOrCreateIDs(context.Background(), terms)
	assert.ErrorIs(t, err, ErrBatchTooLarge)

	// No side effects.
	_, ok, err := s.LookupID(rdf.IRI("http://ex.org/overflow"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestShardedBatchDeadline(t *testing.T) {
	s := newTestSharded(t, 2)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	terms := []rdf.Term{rdf.IRI("http://ex.org/late")}
	_, err := s.GetOrCreateIDs(ctx, terms)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestShardedSharedSequence(t *testing.T) {
	s := newTestSharded(t, 4)

	seen := make(map[ID]struct{})
	for i := 0; i < 100; i++ {
		id, err := s.GetOrCreateID(rdf.IRI(fmt.Sprintf("http://ex.org/u%d", i)))
		require.NoError(t, err)
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate ID %d across shards", id)
		}
		seen[id] = struct{}{}
	}
	assert.Equal(t, uint64(100), s.Allocator().Current(KindURI))
}
