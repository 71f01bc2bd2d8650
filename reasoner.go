package mimir

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/boutros/mimir/dict"
	"github.com/boutros/mimir/index"
	"github.com/boutros/mimir/kv"
	"github.com/boutros/mimir/rdf"
	"github.com/boutros/mimir/reason"
)

// MaterializeOptions tune a materialization run.
type MaterializeOptions struct {
	// Parallel evaluates rules concurrently within an iteration.
	Parallel bool

	// MaxIterations and MaxFacts override the evaluator defaults when
	// positive.
	MaxIterations int
	MaxFacts      int
}

// Materialize computes the closure of the store's facts under the
// profile's rules and persists the derived triples. The derived set
// is tracked separately, so explicit and derived facts can always be
// told apart.
func (s *Store) Materialize(ctx context.Context, profile reason.Profile, opts MaterializeOptions) (reason.Stats, error) {
	eval, err := s.evaluator(profile, opts)
	if err != nil {
		return reason.Stats{}, err
	}

	initial, err := s.loadAll(ctx)
	if err != nil {
		return reason.Stats{}, err
	}
	// A rerun replaces the previous materialization: evaluate from the
	// explicit facts only.
	derived, err := s.loadDerived(ctx)
	if err != nil {
		return reason.Stats{}, err
	}
	explicit := initial.Minus(derived)

	res, err := eval.Evaluate(ctx, explicit)
	if err != nil {
		if serr := s.status.MarkError(err); serr != nil {
			s.log.Warn("status update failed", zap.Error(serr))
		}
		return reason.Stats{}, err
	}

	// Derived facts from a previous run that the new closure no longer
	// supports leave the indexes as well as the derived table.
	dropped := derived.Minus(res.Derived)
	var droppedTrs []rdf.Triple
	dropped.Each(func(tr rdf.Triple) bool {
		droppedTrs = append(droppedTrs, tr)
		return true
	})
	encDropped, err := s.lookupAll(droppedTrs)
	if err != nil {
		return reason.Stats{}, err
	}
	if err := s.idx.DeleteMany(encDropped); err != nil {
		return reason.Stats{}, err
	}

	if err := s.storeDerived(ctx, res.Derived, derived); err != nil {
		if serr := s.status.MarkError(err); serr != nil {
			s.log.Warn("status update failed", zap.Error(serr))
		}
		return reason.Stats{}, err
	}

	if err := s.status.MarkMaterialized(profile, "full",
		int64(res.Derived.Size()), int64(explicit.Size()), res.Stats, time.Now()); err != nil {
		return res.Stats, err
	}
	s.log.Info("materialization complete",
		zap.String("profile", string(profile)),
		zap.Int("derived", res.Derived.Size()),
		zap.Int("iterations", res.Stats.Iterations),
		zap.Duration("duration", res.Stats.Duration))
	return res.Stats, nil
}

// AddIncremental inserts triples and extends the closure with only the
// derivations the new facts enable.
func (s *Store) AddIncremental(ctx context.Context, trs []rdf.Triple) (reason.AddStats, error) {
	st, err := s.status.Load()
	if err != nil {
		return reason.AddStats{}, err
	}
	if st.Profile == "" {
		st.Profile = reason.ProfileRDFS
	}
	eval, err := s.evaluator(st.Profile, MaterializeOptions{})
	if err != nil {
		return reason.AddStats{}, err
	}
	m := &reason.Maintainer{Eval: eval}

	all, err := s.loadAll(ctx)
	if err != nil {
		return reason.AddStats{}, err
	}
	newAll, stats, err := m.Add(ctx, trs, all)
	if err != nil {
		return reason.AddStats{}, err
	}

	if err := s.InsertAll(ctx, trs); err != nil {
		return reason.AddStats{}, err
	}
	newDerived := newAll.Minus(all)
	for _, tr := range trs {
		newDerived.Delete(tr)
	}
	prevDerived, err := s.loadDerived(ctx)
	if err != nil {
		return reason.AddStats{}, err
	}
	merged := prevDerived.Clone()
	merged.Merge(newDerived)
	if err := s.storeDerived(ctx, merged, prevDerived); err != nil {
		return reason.AddStats{}, err
	}
	if stats.ExplicitAdded > 0 {
		explicit := newAll.Size() - merged.Size()
		if err := s.status.MarkMaterialized(st.Profile, "incremental",
			int64(merged.Size()), int64(explicit), stats.Stats, time.Now()); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// PreviewAdd returns the facts an AddIncremental of trs would derive,
// without mutating the store.
func (s *Store) PreviewAdd(ctx context.Context, trs []rdf.Triple) ([]rdf.Triple, error) {
	st, err := s.status.Load()
	if err != nil {
		return nil, err
	}
	eval, err := s.evaluator(st.Profile, MaterializeOptions{})
	if err != nil {
		return nil, err
	}
	m := &reason.Maintainer{Eval: eval}
	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	g, err := m.Preview(ctx, trs, all)
	if err != nil {
		return nil, err
	}
	return g.Triples(), nil
}

// DeleteWithReasoning removes triples and retracts the derived facts
// that lose all support, keeping facts with an alternative derivation.
func (s *Store) DeleteWithReasoning(ctx context.Context, victims []rdf.Triple) (reason.DeleteStats, error) {
	st, err := s.status.Load()
	if err != nil {
		return reason.DeleteStats{}, err
	}
	if st.Profile == "" {
		st.Profile = reason.ProfileRDFS
	}
	eval, err := s.evaluator(st.Profile, MaterializeOptions{})
	if err != nil {
		return reason.DeleteStats{}, err
	}
	m := &reason.Maintainer{Eval: eval}

	all, err := s.loadAll(ctx)
	if err != nil {
		return reason.DeleteStats{}, err
	}
	derived, err := s.loadDerived(ctx)
	if err != nil {
		return reason.DeleteStats{}, err
	}
	newAll, newDerived, stats, err := m.Delete(ctx, victims, all, derived)
	if err != nil {
		return reason.DeleteStats{}, err
	}

	removed := all.Minus(newAll)
	var rm []rdf.Triple
	removed.Each(func(tr rdf.Triple) bool {
		rm = append(rm, tr)
		return true
	})
	encRemoved, err := s.lookupAll(rm)
	if err != nil {
		return reason.DeleteStats{}, err
	}
	if err := s.idx.DeleteMany(encRemoved); err != nil {
		return reason.DeleteStats{}, err
	}
	if err := s.storeDerived(ctx, newDerived, derived); err != nil {
		return reason.DeleteStats{}, err
	}
	if stats.ExplicitDeleted > 0 || stats.DerivedDeleted > 0 {
		explicit := newAll.Size() - newDerived.Size()
		if err := s.status.MarkMaterialized(st.Profile, "incremental",
			int64(newDerived.Size()), int64(explicit), stats.Stats, time.Now()); err != nil {
			return stats, err
		}
	}
	s.log.Info("delete with reasoning complete",
		zap.Int("explicit_deleted", stats.ExplicitDeleted),
		zap.Int("derived_deleted", stats.DerivedDeleted),
		zap.Int("rederived", stats.Rederived))
	return stats, nil
}

// ReasoningStatus returns the persisted materialization metadata.
func (s *Store) ReasoningStatus() (reason.Status, error) {
	return s.status.Load()
}

// MarkTBoxChanged flags the materialization as stale after a schema
// change.
func (s *Store) MarkTBoxChanged() error {
	return s.status.MarkStale()
}

func (s *Store) evaluator(profile reason.Profile, opts MaterializeOptions) (*reason.Evaluator, error) {
	if profile == "" {
		profile = reason.ProfileRDFS
	}
	rules, err := profile.Rules()
	if err != nil {
		return nil, err
	}
	eval, err := reason.NewEvaluator(rules)
	if err != nil {
		return nil, err
	}
	eval.Parallel = opts.Parallel
	eval.MaxIterations = opts.MaxIterations
	eval.MaxFacts = opts.MaxFacts
	eval.Log = s.log
	return eval, nil
}

// loadAll decodes every stored triple into an in-memory fact set.
func (s *Store) loadAll(ctx context.Context) (*rdf.Graph, error) {
	g := rdf.NewGraph()
	if err := s.QueryFunc(ctx, nil, nil, nil, func(tr rdf.Triple) bool {
		g.Insert(tr)
		return true
	}); err != nil {
		return nil, err
	}
	return g, nil
}

// loadDerived decodes the derived-fact set.
func (s *Store) loadDerived(ctx context.Context) (*rdf.Graph, error) {
	g := rdf.NewGraph()
	it, err := s.kv.PrefixIterator(kv.Derived, nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tr, err := s.decodeSPOKey(it.Key())
		if err != nil {
			return nil, err
		}
		g.Insert(tr)
	}
	return g, nil
}

// storeDerived replaces the persisted derived set with next: new
// derived triples are inserted into the indexes and recorded in the
// derived table; retracted ones are removed from the table (their
// index entries are handled by the caller).
func (s *Store) storeDerived(ctx context.Context, next, prev *rdf.Graph) error {
	added := next.Minus(prev)
	removed := prev.Minus(next)

	var addTrs []rdf.Triple
	added.Each(func(tr rdf.Triple) bool {
		addTrs = append(addTrs, tr)
		return true
	})
	enc, err := s.encodeAll(ctx, addTrs)
	if err != nil {
		return err
	}
	if err := s.idx.InsertMany(enc); err != nil {
		return err
	}

	ops := make([]kv.Op, 0, added.Size()+removed.Size())
	for _, t := range enc {
		ops = append(ops, kv.Op{Table: kv.Derived, Key: index.SPOKey(t)})
	}
	var rmTrs []rdf.Triple
	removed.Each(func(tr rdf.Triple) bool {
		rmTrs = append(rmTrs, tr)
		return true
	})
	encRm, err := s.lookupAll(rmTrs)
	if err != nil {
		return err
	}
	for _, t := range encRm {
		ops = append(ops, kv.Op{Table: kv.Derived, Key: index.SPOKey(t), Delete: true})
	}
	if len(ops) == 0 {
		return nil
	}
	return s.kv.WriteBatch(ops, false)
}

// lookupAll resolves triples whose terms are all known to encoded
// form, skipping any with unknown terms.
func (s *Store) lookupAll(trs []rdf.Triple) ([]index.Triple, error) {
	out := make([]index.Triple, 0, len(trs))
	for _, tr := range trs {
		enc, ok, err := s.lookupTriple(tr)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, enc)
		}
	}
	return out, nil
}

// decodeSPOKey decodes a 24-byte SPO key into a term-level triple.
func (s *Store) decodeSPOKey(key []byte) (rdf.Triple, error) {
	if len(key) != index.KeySize {
		return rdf.Triple{}, fmt.Errorf("mimir: derived key has %d bytes, want %d", len(key), index.KeySize)
	}
	ids := make([]dict.ID, 3)
	for i := range ids {
		id, err := dict.IDFromBytes(key[i*8 : i*8+8])
		if err != nil {
			return rdf.Triple{}, err
		}
		ids[i] = id
	}
	terms, err := s.dict.LookupTerms(ids)
	if err != nil {
		return rdf.Triple{}, err
	}
	return rdf.Triple{Subj: terms[0], Pred: terms[1], Obj: terms[2]}, nil
}
