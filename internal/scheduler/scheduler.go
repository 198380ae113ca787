// Package scheduler runs the periodic jobs: analysis cycle, position
// monitor and outcome tracker. Jobs never overlap with themselves;
// late ticks beyond the misfire grace are dropped, not queued.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfold/divergent/internal/config"
)

// JobFunc is one scheduled unit of work
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	run      JobFunc

	// running guards against overlap when a run outlasts its interval
	running sync.Mutex
}

// Scheduler triggers jobs on fixed intervals
type Scheduler struct {
	jobs         []*job
	misfireGrace time.Duration
	logger       zerolog.Logger

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates a scheduler with the given misfire grace window
func New(misfireGrace time.Duration) *Scheduler {
	return &Scheduler{
		misfireGrace: misfireGrace,
		logger:       config.NewLogger("scheduler"),
		quit:         make(chan struct{}),
	}
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(name string, interval time.Duration, fn JobFunc) {
	s.jobs = append(s.jobs, &job{name: name, interval: interval, run: fn})
}

// Start launches one goroutine per job. The context is passed through
// to job invocations; cancelling it is the caller's way of aborting
// in-flight work during shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
		s.logger.Info().Str("job", j.name).Dur("interval", j.interval).Msg("job scheduled")
	}
}

// Stop prevents further triggers and waits for in-flight jobs to finish
func (s *Scheduler) Stop() {
	close(s.quit)
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			if age := time.Since(tick); age > s.misfireGrace {
				s.logger.Warn().Str("job", j.name).Dur("late_by", age).Msg("misfired trigger dropped")
				continue
			}
			s.invoke(ctx, j)
		}
	}
}

// invoke runs the job once, dropping the trigger if the previous run
// is still in flight
func (s *Scheduler) invoke(ctx context.Context, j *job) {
	if !j.running.TryLock() {
		s.logger.Warn().Str("job", j.name).Msg("previous run still in flight, trigger dropped")
		return
	}
	defer j.running.Unlock()

	started := time.Now()
	if err := j.run(ctx); err != nil {
		s.logger.Error().Err(err).Str("job", j.name).Msg("job failed")
	}
	s.logger.Debug().Str("job", j.name).Dur("took", time.Since(started)).Msg("job complete")
}
