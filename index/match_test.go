package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boutros/mimir/kv"
)

func TestSelectIndex(t *testing.T) {
	s, p, o := id(1, 10), id(1, 20), id(1, 30)
	tests := []struct {
		name   string
		pat    Pattern
		table  kv.Table
		prefix int
	}{
		{"unbound", Pattern{}, kv.SPO, 0},
		{"s", Pattern{S: &s}, kv.SPO, 8},
		{"p", Pattern{P: &p}, kv.POS, 8},
		{"o", Pattern{O: &o}, kv.OSP, 8},
		{"sp", Pattern{S: &s, P: &p}, kv.SPO, 16},
		{"po", Pattern{P: &p, O: &o}, kv.POS, 16},
		{"os", Pattern{O: &o, S: &s}, kv.OSP, 16},
		{"spo", Pattern{S: &s, P: &p, O: &o}, kv.SPO, 24},
	}
	for _, tt := range tests {
		sel := selectIndex(tt.pat)
		assert.Equal(t, tt.table, sel.perm.table, tt.name)
		assert.Len(t, sel.prefix, tt.prefix, tt.name)
	}
}

func loadFixture(t *testing.T) *Index {
	t.Helper()
	ix, _ := openTestIndex(t)
	// s1 p1 o1 / s1 p2 o2 / s2 p1 o1
	require.NoError(t, ix.InsertMany([]Triple{
		spo(1, 101, 201),
		spo(1, 102, 202),
		spo(2, 101, 201),
	}))
	return ix
}

func collect(t *testing.T, ix *Index, p Pattern) []Triple {
	t.Helper()
	m, err := ix.Match(p)
	require.NoError(t, err)
	defer m.Close()
	var out []Triple
	for m.Next() {
		out = append(out, m.Triple())
	}
	require.NoError(t, m.Err())
	return out
}

func TestMatchByPredicate(t *testing.T) {
	ix := loadFixture(t)
	p1 := id(1, 101)
	got := collect(t, ix, Pattern{P: &p1})
	assert.Len(t, got, 2)
	for _, tr := range got {
		assert.Equal(t, p1, tr.P)
	}
}

func TestMatchByObject(t *testing.T) {
	ix := loadFixture(t)
	o1 := id(1, 201)
	got := collect(t, ix, Pattern{O: &o1})
	assert.Len(t, got, 2)
	for _, tr := range got {
		assert.Equal(t, o1, tr.O)
	}
}

func TestMatchBySubjectObject(t *testing.T) {
	ix := loadFixture(t)
	s1, o1 := id(1, 1), id(1, 201)
	got := collect(t, ix, Pattern{S: &s1, O: &o1})
	require.Len(t, got, 1)
	assert.Equal(t, spo(1, 101, 201), got[0])
}

func TestMatchFullyBound(t *testing.T) {
	ix := loadFixture(t)
	s, p, o := id(1, 1), id(1, 101), id(1, 201)
	got := collect(t, ix, Pattern{S: &s, P: &p, O: &o})
	require.Len(t, got, 1)

	// A fully bound pattern with no match yields nothing.
	oX := id(1, 999)
	got = collect(t, ix, Pattern{S: &s, P: &p, O: &oX})
	assert.Empty(t, got)
}

func TestMatchAll(t *testing.T) {
	ix := loadFixture(t)
	got := collect(t, ix, Pattern{})
	assert.Len(t, got, 3)

	n, err := ix.Count(Pattern{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMatchEarlyClose(t *testing.T) {
	ix := loadFixture(t)
	m, err := ix.Match(Pattern{})
	require.NoError(t, err)
	require.True(t, m.Next())
	m.Close()
	assert.False(t, m.Next(), "Next after Close must report exhaustion")
	m.Close() // double close is safe
}

func TestMatchSnapshot(t *testing.T) {
	ix, db := openTestIndex(t)
	require.NoError(t, ix.Insert(spo(1, 2, 3)))

	snap, err := db.Snapshot()
	require.NoError(t, err)
	defer snap.Release()

	require.NoError(t, ix.Insert(spo(4, 5, 6)))

	m, err := ix.MatchSnapshot(snap, Pattern{})
	require.NoError(t, err)
	defer m.Close()
	n := 0
	for m.Next() {
		n++
	}
	assert.Equal(t, 1, n, "snapshot match saw a post-snapshot insert")
}
