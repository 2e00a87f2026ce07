package config

import (
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/jobshop-de/internal/optimization/de"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	DE struct {
		PopulationSize int     `env:"DE_POPULATION" envDefault:"200"`
		Strategy       string  `env:"DE_STRATEGY" envDefault:"rand/1"`
		F              float64 `env:"DE_F" envDefault:"0.8"`
		CR             float64 `env:"DE_CR" envDefault:"0.9"`
		Generations    int     `env:"DE_GENERATIONS" envDefault:"50"`
		Seed           int64   `env:"DE_SEED" envDefault:"0"`
		Precedence     string  `env:"DE_PRECEDENCE" envDefault:"enforce"`
	}
	Optimization struct {
		WorkerCount int `env:"OPT_WORKER_COUNT" envDefault:"4"`
		MaxJobs     int `env:"OPT_MAX_JOBS" envDefault:"16"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	// Reject unusable solver defaults at startup rather than on first request
	if _, err := cfg.Solver().Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Solver returns the DE defaults described by the configuration.
func (c *Config) Solver() de.Config {
	return de.Config{
		PopulationSize: c.DE.PopulationSize,
		Strategy:       c.DE.Strategy,
		F:              c.DE.F,
		CR:             c.DE.CR,
		Generations:    c.DE.Generations,
		Seed:           c.DE.Seed,
		Workers:        c.Optimization.WorkerCount,
		Precedence:     de.Precedence(c.DE.Precedence),
	}
}
