package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boutros/mimir/dict"
	"github.com/boutros/mimir/kv"
)

func openTestIndex(t *testing.T) (*Index, *kv.DB) {
	t.Helper()
	db, err := kv.Open("", kv.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), db
}

func id(tag uint8, seq uint64) dict.ID { return dict.MakeID(tag, seq) }

func spo(s, p, o uint64) Triple {
	return Triple{
		S: id(dict.TagURI, s),
		P: id(dict.TagURI, p),
		O: id(dict.TagURI, o),
	}
}

func countTable(t *testing.T, db *kv.DB, table kv.Table) int {
	t.Helper()
	it, err := db.PrefixIterator(table, nil)
	require.NoError(t, err)
	defer it.Close()
	n := 0
	for it.Next() {
		n++
	}
	return n
}

func TestInsertTouchesAllThreeIndexes(t *testing.T) {
	ix, db := openTestIndex(t)
	tr := spo(1, 2, 3)

	require.NoError(t, ix.Insert(tr))

	for _, table := range []kv.Table{kv.SPO, kv.POS, kv.OSP} {
		assert.Equal(t, 1, countTable(t, db, table), "table %s", table)
	}

	ok, err := ix.Exists(tr)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeleteRemovesAllThreeIndexes(t *testing.T) {
	ix, db := openTestIndex(t)
	tr := spo(1, 2, 3)
	require.NoError(t, ix.Insert(tr))
	require.NoError(t, ix.Delete(tr))

	for _, table := range []kv.Table{kv.SPO, kv.POS, kv.OSP} {
		assert.Equal(t, 0, countTable(t, db, table), "table %s", table)
	}
	ok, err := ix.Exists(tr)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInsertManyCardinality(t *testing.T) {
	ix, db := openTestIndex(t)
	ix.SetChunkSize(7) // force multiple chunks

	var trs []Triple
	for i := uint64(1); i <= 50; i++ {
		trs = append(trs, spo(i, i%5+1, i%3+1))
	}
	require.NoError(t, ix.InsertMany(trs))

	for _, table := range []kv.Table{kv.SPO, kv.POS, kv.OSP} {
		assert.Equal(t, len(trs), countTable(t, db, table), "table %s", table)
	}

	require.NoError(t, ix.DeleteMany(trs[:25]))
	for _, table := range []kv.Table{kv.SPO, kv.POS, kv.OSP} {
		assert.Equal(t, 25, countTable(t, db, table), "table %s", table)
	}
}

func TestKeyPermutations(t *testing.T) {
	tr := spo(0x0102, 0x0304, 0x0506)
	for _, perm := range permutations {
		key := perm.key(tr)
		require.Len(t, key, KeySize)
		back, err := perm.triple(key)
		require.NoError(t, err)
		assert.Equal(t, tr, back, "permutation %s must invert", perm.table)
	}
	_, err := permutations[0].triple([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestKeyBigEndianOrder(t *testing.T) {
	// Ascending subject IDs must produce ascending SPO keys.
	k1 := permutations[0].key(spo(1, 1, 1))
	k2 := permutations[0].key(spo(2, 1, 1))
	k3 := permutations[0].key(spo(256, 1, 1))
	assert.True(t, string(k1) < string(k2) && string(k2) < string(k3))
}
