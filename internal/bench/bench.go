// Package bench runs repeated DE solves over a set of instances and
// strategies and summarises the best makespans per pair.
package bench

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"path/filepath"
	"strconv"

	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/jobshop-de/internal/jssp"
	"github.com/copyleftdev/jobshop-de/internal/optimization"
	"github.com/copyleftdev/jobshop-de/internal/optimization/de"
)

// Header is the first CSV record written by WriteCSV.
var Header = []string{"Instance", "Strategy", "Average Makespan", "Standard Deviation"}

// DefaultStrategies lists every supported mutation strategy.
func DefaultStrategies() []string {
	return []string{"DE/rand/1", "DE/best/1", "DE/rand-to-best/1"}
}

// Config describes one benchmark.
type Config struct {
	// Instances are instance file paths.
	Instances []string
	// Strategies defaults to DefaultStrategies.
	Strategies []string
	// Runs is the number of independent solves per instance and strategy.
	Runs int
	// BaseSeed seeds run i with BaseSeed+i. A resulting zero seed is
	// replaced by a time-based one.
	BaseSeed int64
	// Parallel bounds the solves running at once. Results do not depend on it.
	Parallel int
	// Solver is the template for every run; Strategy and Seed are overridden.
	Solver de.Config
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Summary aggregates the runs of one instance and strategy.
type Summary struct {
	Instance  string
	Strategy  string
	Makespans []int
	Best      int
	Mean      float64
	StdDev    float64
}

// Run executes the benchmark. When ctx is cancelled the summaries completed
// so far are returned with the context error.
func Run(ctx context.Context, cfg Config) ([]Summary, error) {
	if len(cfg.Instances) == 0 {
		return nil, optimization.NewError(optimization.ErrInvalidConfig, "no instances given").WithComponent("bench")
	}
	if cfg.Runs < 1 {
		return nil, optimization.NewError(optimization.ErrInvalidConfig, "runs must be >= 1 (got %d)", cfg.Runs).WithComponent("bench")
	}
	strategies := cfg.Strategies
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	for _, name := range strategies {
		solver := cfg.Solver
		solver.Strategy = name
		if _, err := solver.Validate(); err != nil {
			return nil, err
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	parallel := max(cfg.Parallel, 1)

	summaries := make([]Summary, 0, len(cfg.Instances)*len(strategies))
	for _, path := range cfg.Instances {
		inst, err := jssp.Load(path)
		if err != nil {
			return summaries, err
		}
		name := filepath.Base(path)
		logger.Info("Processing instance",
			zap.String("instance", name),
			zap.Int("jobs", inst.Jobs),
			zap.Int("machines", inst.Machines),
		)

		for _, strategy := range strategies {
			makespans, err := runStrategy(ctx, inst, strategy, cfg, parallel, logger)
			if err != nil {
				return summaries, err
			}
			summary := Summarize(name, strategy, makespans)
			logger.Info("Strategy finished",
				zap.String("instance", name),
				zap.String("strategy", strategy),
				zap.Float64("average_makespan", summary.Mean),
				zap.Float64("std_dev", summary.StdDev),
				zap.Int("best_makespan", summary.Best),
			)
			summaries = append(summaries, summary)
		}
	}
	return summaries, nil
}

func runStrategy(ctx context.Context, inst *jssp.Instance, strategy string, cfg Config, parallel int, logger *zap.Logger) ([]int, error) {
	makespans := make([]int, cfg.Runs)

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError().WithMaxGoroutines(parallel)
	for run := 0; run < cfg.Runs; run++ {
		run := run
		p.Go(func(ctx context.Context) error {
			solver := cfg.Solver
			solver.Strategy = strategy
			solver.Seed = cfg.BaseSeed + int64(run)

			optimizer, err := de.NewOptimizer(solver)
			if err != nil {
				return err
			}
			result, err := optimizer.Optimize(ctx, inst)
			if err != nil {
				return optimization.WrapErrorf(err, "%s %s run %d", inst.Name, strategy, run+1).WithComponent("bench")
			}
			makespans[run] = result.BestSolution.Makespan

			logger.Debug("Run finished",
				zap.String("strategy", strategy),
				zap.Int("run", run+1),
				zap.Int64("seed", solver.Seed),
				zap.Int("best_makespan", result.BestSolution.Makespan),
			)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return makespans, nil
}

// Summarize computes the mean and population standard deviation of
// makespans.
func Summarize(instance, strategy string, makespans []int) Summary {
	s := Summary{
		Instance:  instance,
		Strategy:  strategy,
		Makespans: makespans,
	}
	if len(makespans) == 0 {
		return s
	}
	values := lo.Map(makespans, func(ms int, _ int) float64 { return float64(ms) })
	mean, variance := stat.PopMeanVariance(values, nil)
	s.Mean = mean
	s.StdDev = math.Sqrt(variance)
	s.Best = lo.Min(makespans)
	return s
}

// WriteCSV writes the summaries with Header as the first record.
func WriteCSV(w io.Writer, summaries []Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, s := range summaries {
		record := []string{
			s.Instance,
			s.Strategy,
			strconv.FormatFloat(s.Mean, 'f', -1, 64),
			strconv.FormatFloat(s.StdDev, 'f', -1, 64),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
