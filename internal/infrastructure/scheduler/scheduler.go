// Package scheduler drives the periodic full-population sweeps. It owns
// interval and overlap policy only; what a sweep does is up to its Run func.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tiersync/tiersync/internal/metrics"
)

var ErrUnknownJob = errors.New("unknown job")
var ErrJobRunning = errors.New("job already running")
var ErrNotStarted = errors.New("scheduler not started")

// Job is a named task run every Interval, and once immediately at Start.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type job struct {
	Job
	running atomic.Bool
}

// Scheduler runs each job on its own ticker. A tick that arrives while the
// previous run of the same job is still active is skipped, not queued.
type Scheduler struct {
	jobs map[string]*job
	log  zerolog.Logger
	wg   sync.WaitGroup

	mu  sync.Mutex
	ctx context.Context
}

// New creates a Scheduler for jobs. Jobs with a non-positive interval run
// once at Start and only on Trigger afterwards.
func New(log zerolog.Logger, jobs ...Job) *Scheduler {
	s := &Scheduler{jobs: make(map[string]*job, len(jobs)), log: log}
	for _, j := range jobs {
		s.jobs[j.Name] = &job{Job: j}
	}
	return s
}

// Start launches every job. Jobs stop ticking when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
}

// Trigger runs the named job now, unless it is already running.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return ErrNotStarted
	}

	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !s.fire(ctx, j) {
		return fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	return nil
}

// Running reports whether the named job has a run in progress.
func (s *Scheduler) Running(name string) bool {
	j, ok := s.jobs[name]
	return ok && j.running.Load()
}

// Wait blocks until every loop has exited and every in-flight run finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()

	s.fire(ctx, j)
	if j.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, j)
		}
	}
}

// fire starts a run of j unless one is active. It reports whether a run
// was started.
func (s *Scheduler) fire(ctx context.Context, j *job) bool {
	if !j.running.CompareAndSwap(false, true) {
		metrics.SweepRunsTotal.WithLabelValues(j.Name, "skipped").Inc()
		s.log.Warn().Str("job", j.Name).Msg("previous run still active; skipping tick")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer j.running.Store(false)

		if err := j.Run(ctx); err != nil {
			s.log.Error().Err(err).Str("job", j.Name).Msg("job run failed")
		}
	}()
	return true
}
