package reason

import (
	"context"

	"github.com/RoaringBitmap/roaring"

	"github.com/boutros/mimir/rdf"
)

// DefaultMaxTraceDepth bounds the dependency-tracing rounds in
// delete-with-reasoning. The trace is an over-approximation either
// way: when the bound cuts it short, every derived fact is tainted and
// re-derivation from the explicit survivors decides each one.
const DefaultMaxTraceDepth = 50

// AddStats summarizes an incremental add.
type AddStats struct {
	ExplicitAdded int
	DerivedCount  int
	Stats         Stats
}

// DeleteStats summarizes a delete-with-reasoning.
type DeleteStats struct {
	ExplicitDeleted int
	DerivedDeleted  int
	Rederived       int
	Stats           Stats
}

// Maintainer keeps a materialized closure consistent under small
// add/delete mutations without recomputing it from scratch.
type Maintainer struct {
	Eval *Evaluator

	// MaxTraceDepth bounds the taint trace in Delete; zero means the
	// package default.
	MaxTraceDepth int
}

// Add extends the closure with new explicit triples, deriving only
// what the novel facts can reach: the semi-naive frontier is seeded
// with the delta, not the whole fact set.
func (m *Maintainer) Add(ctx context.Context, add []rdf.Triple, all *rdf.Graph) (*rdf.Graph, AddStats, error) {
	var delta []rdf.Triple
	seen := rdf.NewGraph()
	for _, tr := range add {
		if !all.Has(tr) && !seen.Has(tr) {
			seen.Insert(tr)
			delta = append(delta, tr)
		}
	}
	if len(delta) == 0 {
		return all, AddStats{}, nil
	}
	res, err := m.Eval.EvaluateDelta(ctx, all, delta)
	if err != nil {
		return nil, AddStats{}, err
	}
	return res.All, AddStats{
		ExplicitAdded: len(delta),
		DerivedCount:  res.All.Size() - all.Size() - len(delta),
		Stats:         res.Stats,
	}, nil
}

// Preview computes what Add would derive without mutating anything.
func (m *Maintainer) Preview(ctx context.Context, add []rdf.Triple, all *rdf.Graph) (*rdf.Graph, error) {
	var delta []rdf.Triple
	for _, tr := range add {
		if !all.Has(tr) {
			delta = append(delta, tr)
		}
	}
	if len(delta) == 0 {
		return rdf.NewGraph(), nil
	}
	res, err := m.Eval.EvaluateDelta(ctx, all, delta)
	if err != nil {
		return nil, err
	}
	return res.Derived, nil
}

// Delete removes victims from the closure, retracting derived facts
// that lose all support while keeping those with an alternative
// derivation.
//
// The algorithm is delete-and-rederive: taint every derived fact whose
// derivation could depend on a victim, drop the tainted set along with
// the explicit victims, then run the fixpoint over the survivors. A
// tainted fact that reappears had independent support and is kept.
func (m *Maintainer) Delete(ctx context.Context, victims []rdf.Triple, all, derived *rdf.Graph) (*rdf.Graph, *rdf.Graph, DeleteStats, error) {
	// Duplicate victims and victims not in the store are no-ops.
	vset := rdf.NewGraph()
	for _, tr := range victims {
		if all.Has(tr) {
			vset.Insert(tr)
		}
	}
	if vset.Size() == 0 {
		return all, derived, DeleteStats{}, nil
	}

	explicitDeleted := rdf.NewGraph()
	vset.Each(func(tr rdf.Triple) bool {
		if !derived.Has(tr) {
			explicitDeleted.Insert(tr)
		}
		return true
	})

	tainted := m.traceAffected(ctx, vset, all, derived)
	// Derived victims are retracted unless re-derivation restores them.
	vset.Each(func(tr rdf.Triple) bool {
		if derived.Has(tr) {
			tainted.Insert(tr)
		}
		return true
	})

	candidates := all.Minus(explicitDeleted).Minus(tainted)
	res, err := m.Eval.Evaluate(ctx, candidates)
	if err != nil {
		return nil, nil, DeleteStats{}, err
	}

	newAll := res.All
	rederived := 0
	tainted.Each(func(tr rdf.Triple) bool {
		if newAll.Has(tr) {
			rederived++
		}
		return true
	})

	explicitRemaining := all.Minus(derived).Minus(explicitDeleted)
	newDerived := newAll.Minus(explicitRemaining)

	stats := DeleteStats{
		ExplicitDeleted: explicitDeleted.Size(),
		DerivedDeleted:  tainted.Size() - rederived,
		Rederived:       rederived,
		Stats:           res.Stats,
	}
	return newAll, newDerived, stats, nil
}

// traceAffected over-approximates the derived facts transitively
// reachable from the victims through rule applications: any derived
// fact a rule could produce from a binding that touches a tainted
// fact. Bounded by MaxTraceDepth; if the taint is still spreading when
// the bound (or a cancelled context) stops the trace, every derived
// fact is returned as tainted.
func (m *Maintainer) traceAffected(ctx context.Context, victims, all, derived *rdf.Graph) *rdf.Graph {
	maxDepth := m.MaxTraceDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxTraceDepth
	}

	in := newInterner()
	allBM := bitmapOf(in, all)
	taintBM := bitmapOf(in, victims)
	tainted := rdf.NewGraph()

	for depth := 0; depth < maxDepth; depth++ {
		if ctx.Err() != nil {
			break
		}
		frontier := rdf.NewGraph()
		for _, r := range m.Eval.Rules {
			for _, tr := range joinRule(r, taintBM, allBM, in) {
				if derived.Has(tr) && !tainted.Has(tr) && !victims.Has(tr) {
					frontier.Insert(tr)
				}
			}
		}
		if frontier.Size() == 0 {
			return tainted
		}
		tainted.Merge(frontier)
		next := bitmapOf(in, frontier)
		taintBM = next
	}
	return derived.Clone()
}

func bitmapOf(in *interner, g *rdf.Graph) *roaring.Bitmap {
	bm := roaring.New()
	g.Each(func(tr rdf.Triple) bool {
		bm.Add(in.intern(tr))
		return true
	})
	return bm
}
