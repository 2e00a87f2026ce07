package de

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/jobshop-de/internal/jssp"
	"github.com/copyleftdev/jobshop-de/internal/optimization"
)

// Optimizer runs Differential Evolution over the continuous encoding of a
// JSSP instance. It is safe to read GetBestSolution and GetHistory while
// Optimize is running.
type Optimizer struct {
	config   Config
	strategy Strategy
	logger   *zap.Logger

	mu           sync.RWMutex
	bestSolution *optimization.Solution
	history      []optimization.GenerationStat
	cancel       context.CancelFunc
}

var _ optimization.Optimizer = (*Optimizer)(nil)

// NewOptimizer validates config and returns an optimizer ready to run.
func NewOptimizer(config Config) (*Optimizer, error) {
	strategy, err := config.Validate()
	if err != nil {
		return nil, err
	}
	config = config.withDefaults()

	return &Optimizer{
		config:   config,
		strategy: strategy,
		logger: config.Logger.With(
			zap.String("strategy", strategy.String()),
			zap.Int("population", config.PopulationSize),
		),
		history: make([]optimization.GenerationStat, 0, config.Generations+1),
	}, nil
}

// Config returns the effective configuration.
func (o *Optimizer) Config() Config {
	return o.config
}

// Optimize evolves a fresh population on inst for the configured number of
// generations. Cancellation is honoured between generations; the partial
// result is returned together with the context error.
func (o *Optimizer) Optimize(ctx context.Context, inst *jssp.Instance) (*optimization.OptimizationResult, error) {
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.bestSolution = nil
	o.history = o.history[:0]
	o.mu.Unlock()
	defer cancel()

	seed := o.config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	pop, err := NewPopulation(inst, o.config, rng)
	if err != nil {
		return nil, err
	}

	o.logger.Info("Starting optimization",
		zap.String("instance", inst.Name),
		zap.Int("jobs", inst.Jobs),
		zap.Int("machines", inst.Machines),
		zap.Int("generations", o.config.Generations),
		zap.Int64("seed", seed),
	)

	pop.Evaluate()
	initial := pop.summarize()
	initial.Evaluations = pop.Evaluations()
	o.record(initial, pop)

	generations := 0
	for g := 1; g <= o.config.Generations; g++ {
		gs, err := pop.Step(ctx)
		if err != nil {
			o.logger.Warn("Optimization stopped",
				zap.Int("generation", generations),
				zap.Error(err),
			)
			res := o.result(inst, pop, generations, start)
			o.observeRun(res, err)
			return res, err
		}
		generations = g
		gs.Generation = g
		o.record(gs, pop)

		o.logger.Debug("Generation complete",
			zap.Int("generation", g),
			zap.Int("best_makespan", gs.BestMakespan),
			zap.Float64("mean_makespan", gs.MeanMakespan),
			zap.Int("improvements", gs.Improvements),
		)
	}

	res := o.result(inst, pop, generations, start)
	o.logger.Info("Optimization finished",
		zap.Int("best_makespan", res.BestSolution.Makespan),
		zap.Int("evaluations", res.Evaluations),
		zap.Duration("duration", res.Duration),
	)
	o.observeRun(res, nil)
	return res, nil
}

// record stores a generation's statistics and refreshes the best solution.
func (o *Optimizer) record(gs optimization.GenerationStat, pop *Population) {
	best := pop.Best()

	o.mu.Lock()
	o.history = append(o.history, gs)
	if o.bestSolution == nil || best.Makespan < o.bestSolution.Makespan {
		o.bestSolution = &optimization.Solution{
			Makespan:    best.Makespan,
			Permutation: append([]jssp.OpRef(nil), best.Permutation...),
			Vector:      append([]float64(nil), best.Vector...),
		}
	}
	o.mu.Unlock()

	if o.config.Recorder != nil {
		o.config.Recorder.ObserveGeneration(o.strategy.String(), gs)
	}
	if o.config.OnGeneration != nil {
		o.config.OnGeneration(gs)
	}
}

func (o *Optimizer) result(inst *jssp.Instance, pop *Population, generations int, start time.Time) *optimization.OptimizationResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.bestSolution != nil && o.bestSolution.Schedule == nil {
		sched := jssp.Decode(inst, o.bestSolution.Permutation)
		o.bestSolution.Schedule = &sched
	}
	return &optimization.OptimizationResult{
		BestSolution: o.bestSolution.Clone(),
		History:      append([]optimization.GenerationStat(nil), o.history...),
		Generations:  generations,
		Evaluations:  pop.Evaluations(),
		Duration:     time.Since(start),
	}
}

func (o *Optimizer) observeRun(res *optimization.OptimizationResult, err error) {
	if o.config.Recorder != nil {
		o.config.Recorder.ObserveRun(o.strategy.String(), res, err)
	}
}

// GetBestSolution returns a copy of the best solution found so far
func (o *Optimizer) GetBestSolution() *optimization.Solution {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.bestSolution.Clone()
}

// GetHistory returns a copy of the per-generation statistics
func (o *Optimizer) GetHistory() []optimization.GenerationStat {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]optimization.GenerationStat(nil), o.history...)
}

// Stop cancels a running Optimize at the next generation boundary.
func (o *Optimizer) Stop() {
	o.mu.RLock()
	cancel := o.cancel
	o.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}
