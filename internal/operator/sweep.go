package operator

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"streamop/pkg/logging"
)

// SweepSummary is the result of one full sweep.
type SweepSummary struct {
	Trigger   Trigger
	Total     int
	Converged int
	Deleted   int
	Skipped   int
	Failed    int
	Failures  map[string]error
	Duration  time.Duration
}

// Sweep tracks one in-flight ReconcileAll. Wait returns once every spawned
// reconciliation finished; Summary is complete from then on.
type Sweep struct {
	trigger Trigger
	started time.Time

	mu       sync.Mutex
	outcomes map[Outcome]int
	failures map[string]error
	duration time.Duration

	done chan struct{}
}

func newSweep(trigger Trigger) *Sweep {
	return &Sweep{
		trigger:  trigger,
		started:  time.Now(),
		outcomes: make(map[Outcome]int),
		failures: make(map[string]error),
		done:     make(chan struct{}),
	}
}

func (s *Sweep) record(name string, outcome Outcome, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[outcome]++
	if err != nil {
		s.failures[name] = err
	}
}

func (s *Sweep) finish() {
	s.mu.Lock()
	s.duration = time.Since(s.started)
	s.mu.Unlock()
	close(s.done)
}

// Wait blocks until the sweep finished or the context ends.
func (s *Sweep) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Summary snapshots the sweep's counts; after Wait it is the final result.
func (s *Sweep) Summary() SweepSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary := SweepSummary{
		Trigger:   s.trigger,
		Converged: s.outcomes[OutcomeConverged],
		Deleted:   s.outcomes[OutcomeDeleted],
		Skipped:   s.outcomes[OutcomeSkipped],
		Failed:    s.outcomes[OutcomeFailed],
		Failures:  maps.Clone(s.failures),
		Duration:  s.duration,
	}
	summary.Total = summary.Converged + summary.Deleted + summary.Skipped + summary.Failed
	if summary.Duration == 0 {
		summary.Duration = time.Since(s.started)
	}
	return summary
}

func (s SweepSummary) String() string {
	return fmt.Sprintf("%d streams: %d converged, %d deleted, %d skipped, %d failed in %s",
		s.Total, s.Converged, s.Deleted, s.Skipped, s.Failed, s.Duration.Round(time.Millisecond))
}

// ReconcileAll reconciles every stream the source or any store knows about.
// The listing runs synchronously: a source or store that cannot be listed
// fails the sweep right here, with the cause attached, before anything is
// spawned. The returned Sweep completes once every reconciliation finished.
func (c *Controller) ReconcileAll(ctx context.Context, trigger Trigger) (*Sweep, error) {
	start := time.Now()
	names, err := c.collectNames(ctx)
	if err != nil {
		c.cfg.Metrics.RecordSweep("aborted", time.Since(start))
		return nil, fmt.Errorf("%s sweep listing: %w", trigger, err)
	}

	logging.Info(subsystem, "Sweeping %d streams (%s)", len(names), trigger)
	sweep := newSweep(trigger)

	go func() {
		var group errgroup.Group
		group.SetLimit(c.cfg.Workers)
		for _, name := range names {
			group.Go(func() error {
				key := Key{Namespace: c.cfg.Namespace, Name: name, Trigger: trigger}
				if ctx.Err() != nil {
					sweep.record(name, OutcomeSkipped, nil)
					return nil
				}
				outcome, err := c.ReconcileOne(context.WithoutCancel(ctx), key)
				if err != nil {
					logging.Error(subsystem, err, "Reconciliation of %s failed", key)
				}
				sweep.record(name, outcome, err)
				return nil
			})
		}
		_ = group.Wait()
		sweep.finish()

		summary := sweep.Summary()
		outcome := "converged"
		if summary.Failed > 0 {
			outcome = "failed"
		}
		c.cfg.Metrics.RecordSweep(outcome, summary.Duration)
	}()

	return sweep, nil
}

// collectNames unions the desired streams with every store's known names,
// so orphans in any store get a reconciliation that removes them.
func (c *Controller) collectNames(ctx context.Context) ([]string, error) {
	union := make(map[string]struct{})

	streams, err := c.cfg.Source.List(ctx, c.cfg.Namespace, c.cfg.Selector)
	if err != nil {
		return nil, fmt.Errorf("list desired streams: %w", err)
	}
	for _, stream := range streams {
		union[stream.Name] = struct{}{}
	}

	listers := []struct {
		store string
		names func(context.Context) ([]string, error)
	}{
		{"credential", c.cfg.Credentials.KnownNames},
		{"tls-acl", c.cfg.TLSACLs.KnownNames},
		{"scram-acl", c.cfg.ScramACLs.KnownNames},
		{"secret", c.cfg.Secrets.KnownNames},
		{"record", c.cfg.Records.KnownNames},
	}
	for _, lister := range listers {
		names, err := lister.names(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s store known names: %w", lister.store, err)
		}
		if lister.store == "record" {
			c.cfg.Metrics.SetKnownRecords(len(names))
		}
		for _, name := range names {
			union[name] = struct{}{}
		}
	}

	return slices.Sorted(maps.Keys(union)), nil
}
