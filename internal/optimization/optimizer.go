package optimization

import (
	"context"
	"time"

	"github.com/copyleftdev/jobshop-de/internal/jssp"
)

// Optimizer defines the interface for schedule search algorithms
type Optimizer interface {
	// Optimize runs the search on inst until its generation budget is spent
	// or ctx is cancelled.
	Optimize(ctx context.Context, inst *jssp.Instance) (*OptimizationResult, error)

	// GetBestSolution returns the best solution found so far
	GetBestSolution() *Solution

	// GetHistory returns per-generation statistics recorded so far
	GetHistory() []GenerationStat

	// Stop gracefully stops the optimization process
	Stop()
}

// Solution is an evaluated schedule.
type Solution struct {
	Makespan    int            `json:"makespan"`
	Permutation []jssp.OpRef   `json:"permutation"`
	Vector      []float64      `json:"vector,omitempty"`
	Schedule    *jssp.Schedule `json:"schedule,omitempty"`
}

// Clone returns a deep copy of s.
func (s *Solution) Clone() *Solution {
	if s == nil {
		return nil
	}
	c := &Solution{
		Makespan:    s.Makespan,
		Permutation: append([]jssp.OpRef(nil), s.Permutation...),
		Vector:      append([]float64(nil), s.Vector...),
	}
	if s.Schedule != nil {
		sched := *s.Schedule
		sched.Ops = append([]jssp.ScheduledOp(nil), s.Schedule.Ops...)
		c.Schedule = &sched
	}
	return c
}

// GenerationStat summarises the population after one generation.
type GenerationStat struct {
	Generation   int     `json:"generation"`
	BestMakespan int     `json:"best_makespan"`
	MeanMakespan float64 `json:"mean_makespan"`
	Improvements int     `json:"improvements"`
	Evaluations  int     `json:"evaluations"`
}

// OptimizationResult contains the result of an optimization run
type OptimizationResult struct {
	BestSolution *Solution        `json:"best_solution"`
	History      []GenerationStat `json:"history"`
	Generations  int              `json:"generations"`
	Evaluations  int              `json:"evaluations"`
	Duration     time.Duration    `json:"duration"`
}
