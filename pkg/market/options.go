package market

import (
	"log/slog"
	"time"

	"github.com/oraclade/predictmarket/pkg/core"
	"github.com/oraclade/predictmarket/pkg/security"
)

// PaymentInfo is the opaque settlement payload an evaluator attaches at
// submit time. The core only threads it through to the pricer.
type PaymentInfo map[string]any

// Pricer computes the quality score and payout recorded on the terminal
// record. It runs inside the atomic completing update, so it must be fast
// and side-effect free.
type Pricer func(job *core.Job, info PaymentInfo) (score, payout float64)

// DefaultPricer pays out the job's offered payment at full score.
func DefaultPricer(job *core.Job, _ PaymentInfo) (float64, float64) {
	return 1.0, job.Payment
}

// Config holds tunables for the lease manager.
type Config struct {
	// LeaseDuration is the window granted on claim.
	LeaseDuration time.Duration

	// MaxClaims caps how many times a job may be claimed before the
	// expiry sweep fails it instead of requeueing. Zero means requeue
	// forever.
	MaxClaims int

	Pricer Pricer
	Logger *slog.Logger

	// Clock overrides the time source, for expiry tests.
	Clock func() time.Time
}

// Option configures a Manager.
type Option interface {
	Apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) Apply(c *Config) { f(c) }

// WithLeaseDuration sets the lease window granted on claim.
func WithLeaseDuration(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d > 0 {
			c.LeaseDuration = d
		}
	})
}

// WithMaxClaims caps reclaim attempts before the sweep fails a job.
// Values are clamped to the security limit; zero disables the cap.
func WithMaxClaims(n int) Option {
	return optionFunc(func(c *Config) {
		if n <= 0 {
			c.MaxClaims = 0
			return
		}
		c.MaxClaims = security.ClampClaims(n)
	})
}

// WithPricer sets the score/payout computation used at submit time.
func WithPricer(p Pricer) Option {
	return optionFunc(func(c *Config) {
		if p != nil {
			c.Pricer = p
		}
	})
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	})
}

// WithClock overrides the manager's time source.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(c *Config) {
		if now != nil {
			c.Clock = now
		}
	})
}
