package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/jobshop-de/internal/bench"
	"github.com/copyleftdev/jobshop-de/internal/config"
	"github.com/copyleftdev/jobshop-de/internal/logging"
	"github.com/copyleftdev/jobshop-de/internal/optimization/de"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type options struct {
	strategies  []string
	runs        int
	seed        int64
	parallel    int
	population  int
	generations int
	f           float64
	cr          float64
	workers     int
	precedence  string
	out         string
	logLevel    string
}

// rootCmd builds the bench command. Solver flag defaults come from the
// DE_* and OPT_* environment.
func rootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "bench [flags] INSTANCE...",
		Short: "Benchmark DE strategies on JSSP instances.",
		Long: `bench solves every instance file with every strategy, repeating each
pair --runs times with seeds --seed, --seed+1, ..., and writes the mean and
population standard deviation of the best makespans as CSV.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args)
		},
	}

	solver := de.DefaultConfig()
	logLevel := "info"
	if cfg, err := config.Load(); err == nil {
		solver = cfg.Solver()
		logLevel = cfg.Logging.Level
	}

	flags := cmd.Flags()
	flags.StringSliceVarP(&opts.strategies, "strategies", "s", bench.DefaultStrategies(), "mutation strategies to compare")
	flags.IntVarP(&opts.runs, "runs", "n", 50, "independent runs per instance and strategy")
	flags.Int64Var(&opts.seed, "seed", 1, "seed of the first run")
	flags.IntVar(&opts.parallel, "parallel", 1, "runs solved concurrently")
	flags.IntVar(&opts.population, "population", solver.PopulationSize, "population size")
	flags.IntVarP(&opts.generations, "generations", "g", solver.Generations, "generations per run")
	flags.Float64Var(&opts.f, "f", solver.F, "differential weight F")
	flags.Float64Var(&opts.cr, "cr", solver.CR, "crossover probability CR")
	flags.IntVar(&opts.workers, "workers", solver.Workers, "goroutines per run")
	flags.StringVar(&opts.precedence, "precedence", string(solver.Precedence), "precedence mode (enforce or sweep)")
	flags.StringVarP(&opts.out, "out", "o", "results_summary.csv", "CSV output path, - for stdout")
	flags.StringVar(&opts.logLevel, "log-level", logLevel, "log level")

	return cmd
}

func run(cmd *cobra.Command, opts *options, instances []string) error {
	logger, err := logging.NewLogger(&logging.Config{
		Level:  opts.logLevel,
		Format: "text",
		Output: "stderr",
	})
	if err != nil {
		return err
	}

	solver := de.DefaultConfig()
	solver.PopulationSize = opts.population
	solver.Generations = opts.generations
	solver.F = opts.f
	solver.CR = opts.cr
	solver.Workers = opts.workers
	solver.Precedence = de.Precedence(opts.precedence)

	summaries, err := bench.Run(cmd.Context(), bench.Config{
		Instances:  instances,
		Strategies: opts.strategies,
		Runs:       opts.runs,
		BaseSeed:   opts.seed,
		Parallel:   opts.parallel,
		Solver:     solver,
		Logger:     logging.NewZapLogger(logger),
	})
	if err != nil {
		logger.Error("Benchmark failed", map[string]interface{}{"error": err.Error()})
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		if len(summaries) == 0 {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if opts.out != "-" {
		f, ferr := os.Create(opts.out)
		if ferr != nil {
			return ferr
		}
		defer f.Close()
		out = f
	}
	if werr := bench.WriteCSV(out, summaries); werr != nil {
		return werr
	}
	if opts.out != "-" {
		logger.Info("Results summary saved", map[string]interface{}{"path": opts.out})
	}
	return err
}
