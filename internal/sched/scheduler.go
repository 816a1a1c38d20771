// Package sched runs named background jobs on independent fixed intervals.
// Jobs are failure-isolated: an error or panic in one run is logged and
// affects neither sibling jobs nor future runs of the same job.
package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Job is one named unit of scheduled work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	running atomic.Bool
}

// Scheduler drives a set of jobs, each on its own ticker.
type Scheduler struct {
	jobs   []*Job
	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	active bool
}

func New() *Scheduler {
	return &Scheduler{stopCh: make(chan struct{})}
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &Job{Name: name, Interval: interval, Run: run})
}

// Start launches every job. Each runs once immediately so the system has
// data before the first natural interval elapses, then on its ticker.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	jobs := s.jobs
	s.mu.Unlock()

	for _, job := range jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
		log.Info().Str("job", job.Name).Dur("interval", job.Interval).Msg("Scheduled job")
	}
}

// Stop signals all jobs to stop and waits for in-flight runs to finish. No
// run is forcibly cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job *Job) {
	defer s.wg.Done()

	s.runJob(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runJob(ctx, job)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runJob executes one run, skipping the tick if the previous run of the same
// job is still in flight. A slow job delays itself, never its siblings.
func (s *Scheduler) runJob(ctx context.Context, job *Job) {
	if !job.running.CompareAndSwap(false, true) {
		log.Warn().Str("job", job.Name).Msg("Previous run still in flight, skipping tick")
		return
	}
	defer job.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("job", job.Name).Interface("panic", r).Msg("Job panicked")
		}
	}()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		log.Error().Err(err).Str("job", job.Name).Msg("Job failed")
		return
	}
	log.Debug().Str("job", job.Name).Dur("took", time.Since(start)).Msg("Job finished")
}
