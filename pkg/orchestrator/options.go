package orchestrator

import (
	"log/slog"

	"github.com/oraclade/predictmarket/pkg/security"
)

// Config holds orchestrator tunables.
type Config struct {
	// Concurrency is the number of pool workers.
	Concurrency int

	// QueueDepth bounds the backlog of accepted-but-unstarted jobs;
	// submissions beyond it block.
	QueueDepth int

	Retry  RetryConfig
	Logger *slog.Logger
}

func defaultConfig() Config {
	return Config{
		Concurrency: 4,
		QueueDepth:  64,
		Retry:       DefaultRetryConfig(),
		Logger:      slog.Default(),
	}
}

// Option configures an Orchestrator.
type Option interface {
	Apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) Apply(c *Config) { f(c) }

// Concurrency sets the number of pool workers, clamped to the security
// limit.
func Concurrency(n int) Option {
	return optionFunc(func(c *Config) {
		c.Concurrency = security.ClampConcurrency(n)
	})
}

// QueueDepth sets the bounded backlog size.
func QueueDepth(n int) Option {
	return optionFunc(func(c *Config) {
		if n > 0 {
			c.QueueDepth = n
		}
	})
}

// WithRetry sets the storage-write retry policy for the execution path.
func WithRetry(r RetryConfig) Option {
	return optionFunc(func(c *Config) {
		c.Retry = r
	})
}

// WithLogger sets the orchestrator's logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	})
}
