package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Job is one scheduled unit of work.
type Job interface {
	Run(ctx context.Context) (*RunReport, error)
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler fires a Job on a cron pattern. Runs never overlap and ticks are
// not queued: a tick that arrives while a run is active is dropped.
type Scheduler struct {
	pattern  string
	schedule cron.Schedule
	job      Job
	logger   *zap.Logger
}

// NewScheduler validates pattern and creates a scheduler.
func NewScheduler(pattern string, job Job, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sched, err := parser.Parse(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", pattern, err)
	}
	return &Scheduler{pattern: pattern, schedule: sched, job: job, logger: logger.Named("scheduler")}, nil
}

// Next returns the next n activation times after from.
func (s *Scheduler) Next(from time.Time, n int) []time.Time {
	times := make([]time.Time, 0, n)
	t := from
	for range n {
		t = s.schedule.Next(t)
		times = append(times, t)
	}
	return times
}

// Run blocks until ctx is cancelled, then waits for an active run to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	// Unbuffered: a send only succeeds while the worker is idle.
	trigger := make(chan struct{})
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(s.pattern, func() { s.tick(trigger) }); err != nil {
		return fmt.Errorf("failed to schedule %q: %w", s.pattern, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.Start()
		s.logger.Info("Scheduler started.", zap.String("pattern", s.pattern), zap.Time("next", s.schedule.Next(time.Now())))
		<-gctx.Done()
		<-c.Stop().Done()
		s.logger.Info("Scheduler stopped.")
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-trigger:
				rep, err := s.job.Run(gctx)
				switch {
				case err != nil:
					s.logger.Error("Scheduled run failed.", zap.Error(err))
				case rep != nil && rep.Skipped:
					s.logger.Info("Scheduled run skipped, queue busy.")
				default:
					s.logger.Info("Scheduled run finished.")
				}
			}
		}
	})
	return g.Wait()
}

func (s *Scheduler) tick(trigger chan<- struct{}) {
	select {
	case trigger <- struct{}{}:
	default:
		s.logger.Warn("Previous queue run still active; tick skipped.")
	}
}
