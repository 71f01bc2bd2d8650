package reason

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boutros/mimir/kv"
)

func newTestStatus(t *testing.T) *StatusStore {
	t.Helper()
	db, err := kv.Open("", kv.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStatusStore(db, "/data/test-store")
}

func TestStatusDefault(t *testing.T) {
	s := newTestStatus(t)
	st, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, StateInitialized, st.State)
	assert.True(t, st.NeedsRematerialization(ProfileRDFS))
}

func TestStatusTransitions(t *testing.T) {
	s := newTestStatus(t)
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	stats := Stats{Iterations: 3, TotalDerived: 42}
	require.NoError(t, s.MarkMaterialized(ProfileRDFS, "full", 42, 100, stats, now))

	st, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, StateMaterialized, st.State)
	assert.Equal(t, ProfileRDFS, st.Profile)
	assert.Equal(t, int64(42), st.DerivedCount)
	assert.Equal(t, int64(100), st.ExplicitCount)
	assert.Equal(t, int64(142), st.TotalCount)
	assert.Equal(t, int64(1), st.MaterializationCount)
	assert.Equal(t, now, st.LastMaterialization)
	require.NotNil(t, st.LastStats)
	assert.Equal(t, 3, st.LastStats.Iterations)
	assert.False(t, st.NeedsRematerialization(ProfileRDFS))
	assert.True(t, st.NeedsRematerialization(ProfileOWL2RL), "profile change requires rematerialization")

	require.NoError(t, s.MarkStale())
	st, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, StateStale, st.State)
	assert.True(t, st.NeedsRematerialization(ProfileRDFS))

	require.NoError(t, s.MarkMaterialized(ProfileRDFS, "full", 42, 100, stats, now.Add(time.Hour)))
	st, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, StateMaterialized, st.State)
	assert.Equal(t, int64(2), st.MaterializationCount)
}

func TestStatusError(t *testing.T) {
	s := newTestStatus(t)
	require.NoError(t, s.MarkError(errors.New("boom")))

	st, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, "boom", st.Error)
	assert.True(t, st.NeedsRematerialization(ProfileRDFS))

	// A successful materialize clears the error.
	require.NoError(t, s.MarkMaterialized(ProfileRDFS, "full", 1, 1, Stats{}, time.Now()))
	st, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, StateMaterialized, st.State)
	assert.Empty(t, st.Error)
}

func TestStatusKeyedByPath(t *testing.T) {
	db, err := kv.Open("", kv.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	a := NewStatusStore(db, "/data/a")
	b := NewStatusStore(db, "/data/b")

	require.NoError(t, a.MarkMaterialized(ProfileRDFS, "full", 1, 1, Stats{}, time.Now()))
	st, err := b.Load()
	require.NoError(t, err)
	assert.Equal(t, StateInitialized, st.State, "statuses of different paths must not collide")
}
