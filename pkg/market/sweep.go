package market

import (
	"context"
	"time"

	"github.com/oraclade/predictmarket/pkg/schedule"
)

// Sweeper drives the periodic lease expiry sweep. Lazy on-access expiry in
// Claim/ListPending/Submit covers the hot path; the sweeper is the generic
// detector that reclaims leases nobody touches.
type Sweeper struct {
	manager  *Manager
	schedule schedule.Schedule
}

// NewSweeper creates a sweeper firing on the given schedule.
func NewSweeper(m *Manager, s schedule.Schedule) *Sweeper {
	if s == nil {
		s = schedule.Every(time.Minute)
	}
	return &Sweeper{manager: m, schedule: s}
}

// Start runs the sweep loop. Blocks until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	next := s.schedule.Next(time.Now())
	for {
		if next.IsZero() {
			<-ctx.Done()
			return ctx.Err()
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if n, err := s.manager.ExpireLeases(ctx); err != nil {
			s.manager.cfg.Logger.Error("expiry sweep failed", "error", err)
		} else if n > 0 {
			s.manager.cfg.Logger.Info("expiry sweep reclaimed leases", "count", n)
		}

		next = s.schedule.Next(time.Now())
	}
}
