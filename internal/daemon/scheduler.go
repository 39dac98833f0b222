package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-co-op/gocron/v2"

	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/logfields"
)

// Scheduler wraps gocron for periodic run triggers.
type Scheduler struct {
	scheduler gocron.Scheduler
	enqueue   func(schedule string) error

	mu   sync.Mutex
	jobs []gocron.Job
}

// NewScheduler creates a scheduler that feeds triggered runs into enqueue.
func NewScheduler(enqueue func(schedule string) error) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
		enqueue:   enqueue,
	}, nil
}

// Apply replaces the active schedule set. Safe to call on a running scheduler,
// which is how config reloads swap schedules without a restart.
func (s *Scheduler) Apply(schedules []config.ScheduleConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if err := s.scheduler.RemoveJob(job.ID()); err != nil {
			slog.Warn("Failed to remove scheduled job", logfields.Error(err))
		}
	}
	s.jobs = s.jobs[:0]

	for _, sc := range schedules {
		var definition gocron.JobDefinition
		switch {
		case sc.Cron != "":
			definition = gocron.CronJob(sc.Cron, false)
		case sc.Interval > 0:
			definition = gocron.DurationJob(sc.Interval.Std())
		default:
			return fmt.Errorf("schedule %q has neither cron nor interval", sc.Name)
		}

		job, err := s.scheduler.NewJob(
			definition,
			gocron.NewTask(s.fire, sc.Name),
			gocron.WithName(sc.Name),
		)
		if err != nil {
			return fmt.Errorf("failed to create schedule %q: %w", sc.Name, err)
		}
		s.jobs = append(s.jobs, job)

		slog.Info("Schedule registered",
			logfields.ScheduleName(sc.Name),
			slog.String("cron", sc.Cron),
			slog.Duration("interval", sc.Interval.Std()))
	}

	return nil
}

// Start begins the scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("Starting scheduler")
	s.scheduler.Start()
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	slog.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}

// fire is invoked by gocron when a schedule is due.
func (s *Scheduler) fire(schedule string) {
	slog.Info("Schedule fired", logfields.ScheduleName(schedule))

	if err := s.enqueue(schedule); err != nil {
		slog.Error("Failed to enqueue scheduled run",
			logfields.ScheduleName(schedule),
			logfields.Error(err))
	}
}
