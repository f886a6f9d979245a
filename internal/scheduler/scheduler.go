package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/storyline/internal/jobs"
)

// Runner executes one job body under the per-type guard.
type Runner interface {
	Run(ctx context.Context, jobType jobs.Type, fn func(ctx context.Context) (jobs.Result, error)) (jobs.Result, error)
}

var _ Runner = (*jobs.Guard)(nil)

// Task is one job the scheduler triggers on every tick.
type Task struct {
	Type jobs.Type
	Fn   func(ctx context.Context) (jobs.Result, error)
}

// Scheduler triggers its tasks, in order, once per interval. Each tick runs in
// its own goroutine so a slow run never delays the ticker; a tick that finds a
// job still active is skipped by the guard.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	tasks    []Task
	logger   zerolog.Logger
}

func New(runner Runner, interval time.Duration, logger zerolog.Logger, tasks ...Task) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("scheduler runner is nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be > 0")
	}
	for _, task := range tasks {
		if task.Fn == nil {
			return nil, fmt.Errorf("scheduler task %s has no body", task.Type)
		}
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		tasks:    tasks,
		logger:   logger,
	}, nil
}

// Run ticks immediately and then every interval until ctx is done. It waits
// for in-flight ticks before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	dispatch := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Tick(ctx)
		}()
	}

	s.logger.Info().Dur("interval", s.interval).Int("tasks", len(s.tasks)).Msg("scheduler started")
	dispatch()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopping")
			return nil
		case <-ticker.C:
			dispatch()
		}
	}
}

// Tick runs every task once through the guard. Busy job types are skipped and
// a failing task does not stop the ones after it.
func (s *Scheduler) Tick(ctx context.Context) {
	for _, task := range s.tasks {
		if ctx.Err() != nil {
			return
		}
		result, err := s.runner.Run(ctx, task.Type, task.Fn)
		switch {
		case errors.Is(err, jobs.ErrAlreadyRunning):
			s.logger.Debug().Str("job_type", string(task.Type)).Msg("tick skipped, job still running")
		case err != nil:
			s.logger.Error().Err(err).Str("job_type", string(task.Type)).Msg("scheduled job failed")
		default:
			s.logger.Info().
				Str("job_type", string(task.Type)).
				Int("articles_processed", result.ArticlesProcessed).
				Int("stories_created", result.StoriesCreated).
				Int("cluster_count", result.ClusterCount).
				Msg("scheduled job finished")
		}
	}
}
