package reason

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boutros/mimir/rdf"
)

func newMaintainer(t *testing.T, profile Profile) *Maintainer {
	t.Helper()
	return &Maintainer{Eval: mustEval(t, profile)}
}

func TestAddIncremental(t *testing.T) {
	m := newMaintainer(t, ProfileRDFS)
	ctx := context.Background()

	// Closed base: A ⊑ B, x:A, x:B.
	all := rdf.NewGraph(
		fact("A", rdf.RDFSsubClassOf, "B"),
		fact("x", rdf.RDFtype, "A"),
		fact("x", rdf.RDFtype, "B"),
	)

	newAll, stats, err := m.Add(ctx, []rdf.Triple{fact("y", rdf.RDFtype, "A")}, all)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.ExplicitAdded)
	assert.Equal(t, 1, stats.DerivedCount, "only y:B is newly derivable")
	assert.True(t, newAll.Has(fact("y", rdf.RDFtype, "B")))
	assert.Equal(t, all.Size()+2, newAll.Size())
}

func TestAddEmptyNoOp(t *testing.T) {
	m := newMaintainer(t, ProfileRDFS)
	all := rdf.NewGraph(fact("x", rdf.RDFtype, "A"))

	newAll, stats, err := m.Add(context.Background(), nil, all)
	require.NoError(t, err)
	assert.True(t, newAll.Eq(all))
	assert.Equal(t, 0, stats.ExplicitAdded)

	// Adding facts already present is also a no-op.
	newAll, stats, err = m.Add(context.Background(), []rdf.Triple{fact("x", rdf.RDFtype, "A")}, all)
	require.NoError(t, err)
	assert.True(t, newAll.Eq(all))
	assert.Equal(t, 0, stats.ExplicitAdded)
}

func TestPreviewDoesNotMutate(t *testing.T) {
	m := newMaintainer(t, ProfileRDFS)
	all := rdf.NewGraph(
		fact("A", rdf.RDFSsubClassOf, "B"),
	)
	before := all.Clone()

	derived, err := m.Preview(context.Background(), []rdf.Triple{fact("y", rdf.RDFtype, "A")}, all)
	require.NoError(t, err)
	assert.True(t, derived.Has(fact("y", rdf.RDFtype, "B")))
	assert.True(t, all.Eq(before), "Preview mutated the fact set")
}

// materialized builds (all, derived) for a fact set under a profile.
func materialized(t *testing.T, profile Profile, explicit ...rdf.Triple) (*rdf.Graph, *rdf.Graph) {
	t.Helper()
	e := mustEval(t, profile)
	res, err := e.Evaluate(context.Background(), rdf.NewGraph(explicit...))
	require.NoError(t, err)
	return res.All, res.Derived
}

func TestDeleteWithAlternativeDerivation(t *testing.T) {
	m := newMaintainer(t, ProfileRDFS)
	ctx := context.Background()

	all, derived := materialized(t, ProfileRDFS,
		fact("Student", rdf.RDFSsubClassOf, "Person"),
		fact("Faculty", rdf.RDFSsubClassOf, "Person"),
		fact("alice", rdf.RDFtype, "Student"),
		fact("alice", rdf.RDFtype, "Faculty"),
	)
	require.True(t, all.Has(fact("alice", rdf.RDFtype, "Person")))

	newAll, newDerived, stats, err := m.Delete(ctx, []rdf.Triple{fact("alice", rdf.RDFtype, "Student")}, all, derived)
	require.NoError(t, err)

	assert.False(t, newAll.Has(fact("alice", rdf.RDFtype, "Student")))
	assert.True(t, newAll.Has(fact("alice", rdf.RDFtype, "Person")),
		"alice:Person still derivable via Faculty")
	assert.True(t, newDerived.Has(fact("alice", rdf.RDFtype, "Person")))
	assert.Equal(t, 1, stats.ExplicitDeleted)
	assert.GreaterOrEqual(t, stats.Rederived, 1)
}

func TestDeleteRetractsUnsupported(t *testing.T) {
	m := newMaintainer(t, ProfileRDFS)
	ctx := context.Background()

	all, derived := materialized(t, ProfileRDFS,
		fact("Student", rdf.RDFSsubClassOf, "Person"),
		fact("alice", rdf.RDFtype, "Student"),
	)
	require.True(t, all.Has(fact("alice", rdf.RDFtype, "Person")))

	newAll, newDerived, stats, err := m.Delete(ctx, []rdf.Triple{fact("alice", rdf.RDFtype, "Student")}, all, derived)
	require.NoError(t, err)

	assert.False(t, newAll.Has(fact("alice", rdf.RDFtype, "Person")),
		"alice:Person lost its only support")
	assert.Equal(t, 0, newDerived.Size())
	assert.Equal(t, 1, stats.ExplicitDeleted)
	assert.Equal(t, 1, stats.DerivedDeleted)
}

func TestDeleteCascades(t *testing.T) {
	m := newMaintainer(t, ProfileRDFS)
	ctx := context.Background()

	// Deleting the schema triple retracts everything downstream of it.
	all, derived := materialized(t, ProfileRDFS,
		fact("A", rdf.RDFSsubClassOf, "B"),
		fact("B", rdf.RDFSsubClassOf, "C"),
		fact("x", rdf.RDFtype, "A"),
	)
	require.True(t, all.Has(fact("x", rdf.RDFtype, "C")))

	newAll, _, _, err := m.Delete(ctx, []rdf.Triple{fact("B", rdf.RDFSsubClassOf, "C")}, all, derived)
	require.NoError(t, err)

	assert.False(t, newAll.Has(fact("B", rdf.RDFSsubClassOf, "C")))
	assert.False(t, newAll.Has(fact("A", rdf.RDFSsubClassOf, "C")))
	assert.False(t, newAll.Has(fact("x", rdf.RDFtype, "C")))
	assert.True(t, newAll.Has(fact("x", rdf.RDFtype, "B")), "x:B has support independent of the victim")
}

func TestDeleteIdempotent(t *testing.T) {
	m := newMaintainer(t, ProfileRDFS)
	ctx := context.Background()

	all, derived := materialized(t, ProfileRDFS,
		fact("A", rdf.RDFSsubClassOf, "B"),
		fact("x", rdf.RDFtype, "A"),
	)
	victims := []rdf.Triple{fact("x", rdf.RDFtype, "A"), fact("x", rdf.RDFtype, "A")}

	all2, derived2, stats, err := m.Delete(ctx, victims, all, derived)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ExplicitDeleted, "duplicate victims count once")

	// A second delete of the same victims is a no-op.
	all3, derived3, stats, err := m.Delete(ctx, victims, all2, derived2)
	require.NoError(t, err)
	assert.True(t, all3.Eq(all2))
	assert.True(t, derived3.Eq(derived2))
	assert.Equal(t, 0, stats.ExplicitDeleted)
}

func TestDeleteEmptyNoOp(t *testing.T) {
	m := newMaintainer(t, ProfileRDFS)
	all, derived := materialized(t, ProfileRDFS, fact("x", rdf.RDFtype, "A"))

	all2, derived2, stats, err := m.Delete(context.Background(), nil, all, derived)
	require.NoError(t, err)
	assert.True(t, all2.Eq(all))
	assert.True(t, derived2.Eq(derived))
	assert.Equal(t, 0, stats.ExplicitDeleted)
}

func TestDeleteDerivedFactRestored(t *testing.T) {
	m := newMaintainer(t, ProfileRDFS)
	ctx := context.Background()

	// Deleting a derived fact while its support remains: re-derivation
	// restores it.
	all, derived := materialized(t, ProfileRDFS,
		fact("A", rdf.RDFSsubClassOf, "B"),
		fact("x", rdf.RDFtype, "A"),
	)
	require.True(t, derived.Has(fact("x", rdf.RDFtype, "B")))

	newAll, newDerived, _, err := m.Delete(ctx, []rdf.Triple{fact("x", rdf.RDFtype, "B")}, all, derived)
	require.NoError(t, err)
	assert.True(t, newAll.Has(fact("x", rdf.RDFtype, "B")),
		"derived victim with intact support must be re-derived")
	assert.True(t, newDerived.Has(fact("x", rdf.RDFtype, "B")))
}
