package reason

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/RoaringBitmap/roaring"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boutros/mimir/rdf"
)

// Exported errors
var (
	// ErrMaxIterations is returned when the fixpoint does not settle
	// within the iteration limit.
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrMaxFacts is returned when the closure grows past the fact
	// limit.
	ErrMaxFacts = errors.New("max facts exceeded")
)

// Defaults for the evaluator limits.
const (
	DefaultMaxIterations = 50
	DefaultMaxFacts      = 1_000_000
)

// Stats describes one materialization run.
type Stats struct {
	Iterations   int           `json:"iterations"`
	TotalDerived int           `json:"total_derived"`
	PerIteration []int         `json:"derivations_per_iteration"`
	Duration     time.Duration `json:"duration"`
	RulesApplied int           `json:"rules_applied"`
}

// Result is the outcome of a fixpoint run.
type Result struct {
	// All is the closure: initial facts plus everything derived.
	All *rdf.Graph
	// Derived is the closure minus the initial facts.
	Derived *rdf.Graph
	Stats   Stats
}

// Evaluator computes the minimal fixpoint of a rule set over a fact
// set with delta-driven semi-naive iteration: each round only joins
// through facts discovered in the previous round, so derivations built
// solely from older facts are not recomputed.
type Evaluator struct {
	Rules []Rule

	// MaxIterations and MaxFacts bound the run; zero means the
	// package defaults.
	MaxIterations int
	MaxFacts      int

	// Parallel evaluates rules concurrently within an iteration.
	// Parallel and sequential runs produce identical fact sets.
	Parallel bool

	Log *zap.Logger
}

// NewEvaluator returns an evaluator over the given rules with default
// limits. Unsafe rules are rejected.
func NewEvaluator(rules []Rule) (*Evaluator, error) {
	for _, r := range rules {
		if !Safe(r) {
			return nil, errors.New("reason: unsafe rule " + r.Name + ": head variable not bound by body")
		}
	}
	return &Evaluator{Rules: rules}, nil
}

// interner assigns dense local ids to facts so the evaluator can run
// its set algebra on bitmaps.
type interner struct {
	ids     map[rdf.Triple]uint32
	triples []rdf.Triple
}

func newInterner() *interner {
	return &interner{ids: make(map[rdf.Triple]uint32)}
}

func (in *interner) intern(tr rdf.Triple) uint32 {
	if id, ok := in.ids[tr]; ok {
		return id
	}
	id := uint32(len(in.triples))
	in.ids[tr] = id
	in.triples = append(in.triples, tr)
	return id
}

func (in *interner) lookup(tr rdf.Triple) (uint32, bool) {
	id, ok := in.ids[tr]
	return id, ok
}

func (in *interner) triple(id uint32) rdf.Triple { return in.triples[id] }

// Evaluate runs the fixpoint over the initial facts.
func (e *Evaluator) Evaluate(ctx context.Context, initial *rdf.Graph) (*Result, error) {
	return e.run(ctx, initial, initial.Triples())
}

// EvaluateDelta runs the fixpoint seeded with delta as the first
// frontier over base. Only derivations reachable from the delta are
// computed; this is the incremental-add core.
func (e *Evaluator) EvaluateDelta(ctx context.Context, base *rdf.Graph, delta []rdf.Triple) (*Result, error) {
	all := base.Clone()
	all.Insert(delta...)
	return e.run(ctx, all, delta)
}

func (e *Evaluator) run(ctx context.Context, initial *rdf.Graph, delta0 []rdf.Triple) (*Result, error) {
	maxIter := e.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	maxFacts := e.MaxFacts
	if maxFacts <= 0 {
		maxFacts = DefaultMaxFacts
	}
	log := e.Log
	if log == nil {
		log = zap.NewNop()
	}

	start := time.Now()
	in := newInterner()
	all := roaring.New()
	for _, tr := range initial.Triples() {
		all.Add(in.intern(tr))
	}
	initialCount := all.GetCardinality()
	delta := roaring.New()
	for _, tr := range delta0 {
		delta.Add(in.intern(tr))
	}

	stats := Stats{RulesApplied: len(e.Rules)}
	for iter := 1; ; iter++ {
		if iter > maxIter {
			return nil, ErrMaxIterations
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		derived := roaring.New()
		if e.Parallel && len(e.Rules) > 1 {
			results := make([][]rdf.Triple, len(e.Rules))
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(runtime.GOMAXPROCS(0))
			for ri := range e.Rules {
				ri := ri
				g.Go(func() error {
					if err := gctx.Err(); err != nil {
						return err
					}
					results[ri] = joinRule(e.Rules[ri], delta, all, in)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return nil, err
			}
			for _, facts := range results {
				for _, tr := range facts {
					id := in.intern(tr)
					if !all.Contains(id) {
						derived.Add(id)
					}
				}
			}
		} else {
			for _, r := range e.Rules {
				for _, tr := range joinRule(r, delta, all, in) {
					id := in.intern(tr)
					if !all.Contains(id) {
						derived.Add(id)
					}
				}
			}
		}

		if derived.IsEmpty() {
			stats.Iterations = iter - 1
			break
		}
		stats.PerIteration = append(stats.PerIteration, int(derived.GetCardinality()))
		all.Or(derived)
		delta = derived
		if all.GetCardinality() > uint64(maxFacts) {
			return nil, ErrMaxFacts
		}
	}

	allGraph := rdf.NewGraph()
	derivedGraph := rdf.NewGraph()
	it := all.Iterator()
	for it.HasNext() {
		id := it.Next()
		tr := in.triple(id)
		allGraph.Insert(tr)
	}
	derivedBM := all.Clone()
	initBM := roaring.New()
	initBM.AddRange(0, initialCount)
	derivedBM.AndNot(initBM)
	dit := derivedBM.Iterator()
	for dit.HasNext() {
		derivedGraph.Insert(in.triple(dit.Next()))
	}

	stats.TotalDerived = derivedGraph.Size()
	stats.Duration = time.Since(start)
	log.Debug("fixpoint complete",
		zap.Int("iterations", stats.Iterations),
		zap.Int("derived", stats.TotalDerived),
		zap.Duration("duration", stats.Duration))
	return &Result{All: allGraph, Derived: derivedGraph, Stats: stats}, nil
}

// joinRule produces every head instantiation of the rule where at
// least one body pattern matches a delta fact and the remaining
// patterns match anywhere in all. This is the semi-naive join: facts
// derivable without the delta were already derived in an earlier
// iteration.
func joinRule(r Rule, delta, all *roaring.Bitmap, in *interner) []rdf.Triple {
	var patterns []TriplePattern
	var conds []Condition
	for _, atom := range r.Body {
		switch {
		case atom.Pattern != nil:
			patterns = append(patterns, *atom.Pattern)
		case atom.Cond != nil:
			conds = append(conds, *atom.Cond)
		}
	}
	if len(patterns) == 0 {
		return nil
	}

	var out []rdf.Triple
	for k := range patterns {
		bindings := matchBitmap(patterns[k], delta, in, []Binding{{}})
		for j := range patterns {
			if j == k || len(bindings) == 0 {
				continue
			}
			bindings = matchBitmap(patterns[j], all, in, bindings)
		}
	conds:
		for _, b := range bindings {
			for _, c := range conds {
				if !EvalCondition(c, b) {
					continue conds
				}
			}
			if head, ok := SubstitutePattern(r.Head, b); ok && head.Valid() {
				out = append(out, head)
			}
		}
	}
	return out
}

// matchBitmap extends each candidate binding by every fact in the
// bitmap matching the pattern.
func matchBitmap(tp TriplePattern, facts *roaring.Bitmap, in *interner, candidates []Binding) []Binding {
	var out []Binding
	for _, b := range candidates {
		it := facts.Iterator()
		for it.HasNext() {
			tr := in.triple(it.Next())
			if nb, ok := matchPattern(tp, tr, b); ok {
				out = append(out, nb)
			}
		}
	}
	return out
}
