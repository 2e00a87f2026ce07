package de

import (
	"context"
	"math/rand"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/jobshop-de/internal/jssp"
	"github.com/copyleftdev/jobshop-de/internal/optimization"
)

// generation is one population buffer. Member vectors are row views of
// vectors, so a whole generation lives in a single allocation.
type generation struct {
	vectors *mat.Dense
	members []Individual
}

func newGeneration(size, t int) *generation {
	g := &generation{
		vectors: mat.NewDense(size, t, nil),
		members: make([]Individual, size),
	}
	for i := range g.members {
		g.members[i] = Individual{
			Vector:      g.vectors.RawRowView(i),
			Permutation: make([]jssp.OpRef, 0, t),
		}
	}
	return g
}

// Snapshot is a read-only view of an evaluated population. Every trial of a
// generation is built against the same snapshot.
type Snapshot struct {
	vectors   [][]float64
	makespans []int
	best      int
	dim       int
}

// NewSnapshot freezes members. It fails with ErrNotEvaluated if any member
// has no current makespan.
func NewSnapshot(members []Individual) (*Snapshot, error) {
	if len(members) == 0 {
		return nil, optimization.NewError(optimization.ErrInvalidConfig, "empty population")
	}
	s := &Snapshot{
		vectors:   make([][]float64, len(members)),
		makespans: make([]int, len(members)),
		dim:       len(members[0].Vector),
	}
	for i := range members {
		if !members[i].Evaluated {
			return nil, optimization.NewError(optimization.ErrNotEvaluated, "member %d has no makespan", i)
		}
		s.vectors[i] = members[i].Vector
		s.makespans[i] = members[i].Makespan
		if s.makespans[i] < s.makespans[s.best] {
			s.best = i
		}
	}
	return s, nil
}

// Size is the number of members.
func (s *Snapshot) Size() int {
	return len(s.vectors)
}

// Best is the index of the minimum-makespan member, the first one on ties.
func (s *Snapshot) Best() int {
	return s.best
}

// worker holds per-goroutine scratch space.
type worker struct {
	eval    *jssp.Evaluator
	used    []bool
	next    []int
	scratch []float64
	rng     *rand.Rand
}

// Population owns the current and next generation buffers. Step builds the
// next generation entirely from a frozen view of the current one and swaps
// the buffers only once every member is done.
type Population struct {
	inst       *jssp.Instance
	strategy   Strategy
	cr         float64
	precedence Precedence
	workers    int
	rng        *rand.Rand

	cur, next *generation
	evaluated bool

	seeds       []int64
	improved    []bool
	evaluations int
}

// NewPopulation creates a population of random vectors with coordinates
// uniform in [0, T-1]. Draws come from rng in member order.
func NewPopulation(inst *jssp.Instance, cfg Config, rng *rand.Rand) (*Population, error) {
	strategy, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	size, t := cfg.PopulationSize, inst.TotalOps()
	p := &Population{
		inst:       inst,
		strategy:   strategy,
		cr:         cfg.CR,
		precedence: cfg.Precedence,
		workers:    cfg.Workers,
		rng:        rng,
		cur:        newGeneration(size, t),
		next:       newGeneration(size, t),
		seeds:      make([]int64, size),
		improved:   make([]bool, size),
	}

	upper := float64(t - 1)
	for i := range p.cur.members {
		vec := p.cur.members[i].Vector
		for k := range vec {
			vec[k] = rng.Float64() * upper
		}
	}
	return p, nil
}

// Size is the number of individuals.
func (p *Population) Size() int {
	return len(p.cur.members)
}

// Individuals returns the current generation. The slice and its vectors are
// reused by later generations; copy what must outlive the next Step.
func (p *Population) Individuals() []Individual {
	return p.cur.members
}

// Evaluations is the number of makespan evaluations performed so far.
func (p *Population) Evaluations() int {
	return p.evaluations
}

// Evaluate repairs and scores every current member whose makespan is not
// current.
func (p *Population) Evaluate() {
	if p.evaluated {
		return
	}
	members := p.cur.members
	count := make([]int, len(members))
	p.parallel(func(lo, hi int, w *worker) {
		for i := lo; i < hi; i++ {
			if !members[i].Evaluated {
				p.decode(&members[i], w)
				count[i] = 1
			}
		}
	})
	for _, c := range count {
		p.evaluations += c
	}
	p.evaluated = true
}

// Best returns the current minimum-makespan member, evaluating first if
// needed.
func (p *Population) Best() *Individual {
	p.Evaluate()
	best := 0
	for i := range p.cur.members {
		if p.cur.members[i].Makespan < p.cur.members[best].Makespan {
			best = i
		}
	}
	return &p.cur.members[best]
}

// Snapshot freezes the current generation. It fails with ErrNotEvaluated
// when Evaluate has not run since the population last changed.
func (p *Population) Snapshot() (*Snapshot, error) {
	if !p.evaluated {
		return nil, optimization.NewError(optimization.ErrNotEvaluated, "call Evaluate before mutating")
	}
	return NewSnapshot(p.cur.members)
}

// Step runs one generation. ctx is only consulted before any work starts, so
// a cancelled context never leaves a half-built generation behind.
func (p *Population) Step(ctx context.Context) (optimization.GenerationStat, error) {
	if err := ctx.Err(); err != nil {
		return optimization.GenerationStat{}, err
	}
	before := p.evaluations
	p.Evaluate()

	snap, err := p.Snapshot()
	if err != nil {
		return optimization.GenerationStat{}, err
	}

	for i := range p.seeds {
		p.seeds[i] = p.rng.Int63()
	}

	parents, trials := p.cur.members, p.next.members
	p.parallel(func(lo, hi int, w *worker) {
		for i := lo; i < hi; i++ {
			w.rng.Seed(p.seeds[i])
			parent, trial := &parents[i], &trials[i]

			MutateInto(p.strategy, snap, i, w.rng, trial.Vector, w.scratch)
			Crossover(parent.Vector, trial.Vector, p.cr, w.rng, trial.Vector)
			p.decode(trial, w)

			if Select(parent, trial) == parent {
				trial.copyFrom(parent)
				p.improved[i] = false
			} else {
				p.improved[i] = true
			}
		}
	})

	p.cur, p.next = p.next, p.cur
	p.evaluations += len(trials)

	gs := p.summarize()
	gs.Evaluations = p.evaluations - before
	return gs, nil
}

// decode repairs ind.Vector into ind.Permutation and scores it.
func (p *Population) decode(ind *Individual, w *worker) {
	ind.Permutation = jssp.RepairInto(p.inst, ind.Vector, ind.Permutation, w.used)
	if p.precedence == PrecedenceEnforce {
		jssp.EnforcePrecedenceInto(p.inst, ind.Permutation, w.next)
	}
	ind.Makespan = w.eval.Makespan(ind.Permutation)
	ind.Evaluated = true
}

func (p *Population) summarize() optimization.GenerationStat {
	makespans := make([]float64, len(p.cur.members))
	best := p.cur.members[0].Makespan
	improvements := 0
	for i := range p.cur.members {
		ms := p.cur.members[i].Makespan
		makespans[i] = float64(ms)
		if ms < best {
			best = ms
		}
		if p.improved[i] {
			improvements++
		}
	}
	return optimization.GenerationStat{
		BestMakespan: best,
		MeanMakespan: stat.Mean(makespans, nil),
		Improvements: improvements,
	}
}

// parallel splits the members into contiguous chunks, one per worker, and
// runs fn on each. Every chunk gets its own scratch space.
func (p *Population) parallel(fn func(lo, hi int, w *worker)) {
	size := p.Size()
	chunks := p.workers
	if chunks > size {
		chunks = size
	}
	if chunks <= 1 {
		fn(0, size, p.newWorker())
		return
	}

	wp := pool.New().WithMaxGoroutines(chunks)
	for c := 0; c < chunks; c++ {
		lo, hi := c*size/chunks, (c+1)*size/chunks
		wp.Go(func() {
			fn(lo, hi, p.newWorker())
		})
	}
	wp.Wait()
}

func (p *Population) newWorker() *worker {
	t := p.inst.TotalOps()
	return &worker{
		eval:    jssp.NewEvaluator(p.inst),
		used:    make([]bool, t),
		next:    make([]int, p.inst.Jobs),
		scratch: make([]float64, t),
		rng:     rand.New(rand.NewSource(1)),
	}
}
