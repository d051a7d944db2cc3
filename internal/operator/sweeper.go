package operator

import (
	"context"
	"sync/atomic"
	"time"

	"streamop/pkg/logging"
)

const sweeperSubsystem = "sweeper"

// Sweeper runs the periodic full sweep that repairs whatever the watch
// missed. One sweep at a time: a tick that fires while the previous sweep
// still runs is skipped, the state it would have seen is already being
// converged.
type Sweeper struct {
	controller *Controller
	interval   time.Duration
	running    atomic.Bool
}

// NewSweeper creates a sweeper ticking at the given interval.
func NewSweeper(controller *Controller, interval time.Duration) *Sweeper {
	return &Sweeper{controller: controller, interval: interval}
}

// Run ticks until the context ends.
func (s *Sweeper) Run(ctx context.Context) error {
	logging.Info(sweeperSubsystem, "Sweeping every %s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		logging.Info(sweeperSubsystem, "Previous sweep still running, skipping this tick")
		return
	}
	go func() {
		defer s.running.Store(false)
		sweep, err := s.controller.ReconcileAll(ctx, TriggerPeriodic)
		if err != nil {
			logging.Error(sweeperSubsystem, err, "Periodic sweep could not start")
			return
		}
		if err := sweep.Wait(ctx); err != nil {
			return
		}
		summary := sweep.Summary()
		if summary.Failed > 0 {
			logging.Warn(sweeperSubsystem, "Periodic sweep finished with failures: %s", summary)
		} else {
			logging.Info(sweeperSubsystem, "Periodic sweep finished: %s", summary)
		}
	}()
}
