package de

import (
	"math"

	"go.uber.org/zap"

	"github.com/copyleftdev/jobshop-de/internal/optimization"
)

// Precedence selects how repaired permutations are treated before evaluation.
type Precedence string

const (
	// PrecedenceEnforce reorders each job's operations into ascending op
	// order after repair, so every evaluated schedule is feasible.
	PrecedenceEnforce Precedence = "enforce"
	// PrecedenceSweep evaluates the repaired permutation as is, trusting the
	// order in which the vector sweep emitted operations.
	PrecedenceSweep Precedence = "sweep"
)

// Recorder receives run telemetry. Implementations must be safe for
// concurrent use by several optimizers.
type Recorder interface {
	ObserveGeneration(strategy string, stat optimization.GenerationStat)
	ObserveRun(strategy string, result *optimization.OptimizationResult, err error)
}

// Config holds the DE parameters of one run.
type Config struct {
	// PopulationSize is the number of individuals.
	PopulationSize int
	// Strategy is one of rand/1, best/1, rand-to-best/1.
	Strategy string
	// F is the differential weight.
	F float64
	// CR is the crossover probability.
	CR float64
	// Generations is the number of generations to run.
	Generations int
	// Seed seeds the run; zero picks a time-based seed.
	Seed int64
	// Workers bounds the goroutines building trials. Results do not depend
	// on it.
	Workers int
	// Precedence defaults to PrecedenceEnforce.
	Precedence Precedence

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// Recorder is optional.
	Recorder Recorder
	// OnGeneration, if set, is called after every generation from the
	// goroutine running Optimize.
	OnGeneration func(optimization.GenerationStat)
}

// DefaultConfig returns the parameters of the classic benchmark setup.
func DefaultConfig() Config {
	return Config{
		PopulationSize: 200,
		Strategy:       RandOne.String(),
		F:              0.8,
		CR:             0.9,
		Generations:    50,
		Workers:        1,
		Precedence:     PrecedenceEnforce,
	}
}

// Validate checks the parameters and returns the parsed strategy.
func (c Config) Validate() (Strategy, error) {
	strategy, err := ParseStrategy(c.Strategy, c.F)
	if err != nil {
		return Strategy{}, err
	}
	if c.PopulationSize < strategy.MinPopulation() {
		return Strategy{}, optimization.NewError(optimization.ErrInvalidConfig,
			"population size must be at least %d for %s (got %d)",
			strategy.MinPopulation(), strategy.Kind, c.PopulationSize)
	}
	if math.IsNaN(c.F) || math.IsInf(c.F, 0) || c.F <= 0 {
		return Strategy{}, optimization.NewError(optimization.ErrInvalidConfig,
			"F must be a positive number (got %v)", c.F)
	}
	if math.IsNaN(c.CR) || c.CR < 0 || c.CR > 1 {
		return Strategy{}, optimization.NewError(optimization.ErrInvalidConfig,
			"CR must be in [0,1] (got %v)", c.CR)
	}
	if c.Generations < 0 {
		return Strategy{}, optimization.NewError(optimization.ErrInvalidConfig,
			"generations must be >= 0 (got %d)", c.Generations)
	}
	if c.Workers < 0 {
		return Strategy{}, optimization.NewError(optimization.ErrInvalidConfig,
			"workers must be >= 0 (got %d)", c.Workers)
	}
	switch c.Precedence {
	case "", PrecedenceEnforce, PrecedenceSweep:
	default:
		return Strategy{}, optimization.NewError(optimization.ErrInvalidConfig,
			"unknown precedence mode %q", c.Precedence)
	}
	return strategy, nil
}

func (c Config) withDefaults() Config {
	if c.Workers == 0 {
		c.Workers = 1
	}
	if c.Precedence == "" {
		c.Precedence = PrecedenceEnforce
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
