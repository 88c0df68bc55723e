// Package jobs runs the periodic batch work (reminders, state refresh) on
// cron schedules evaluated in the deployment time zone.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"
	"github.com/rs/zerolog"

	"github.com/imam/imam/internal/platform/metrics"
)

// Func is the body of a job. It gets a context cancelled when the scheduler
// stops.
type Func func(ctx context.Context) error

type job struct {
	name     string
	spec     string
	schedule cron.Schedule
	run      Func
	running  atomic.Bool
}

// Scheduler wraps a cron runner. A job never overlaps with itself: a tick
// that finds the previous run still going is skipped.
type Scheduler struct {
	cron    *cron.Cron
	loc     *time.Location
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu     sync.Mutex
	jobs   map[string]*job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. m may be nil.
func New(loc *time.Location, m *metrics.Metrics, logger zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.NewWithLocation(loc),
		loc:     loc,
		metrics: m,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		jobs:    make(map[string]*job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers run under name. spec has six fields, seconds first
// ("0 0 8 * * 1" is Mondays at 08:00). An empty spec disables the job.
func (s *Scheduler) Add(name, spec string, run Func) error {
	if spec == "" {
		s.logger.Info().Str("job", name).Msg("job disabled")
		return nil
	}
	schedule, err := cron.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse schedule for %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %s already registered", name)
	}
	j := &job{name: name, spec: spec, schedule: schedule, run: run}
	s.jobs[name] = j
	s.cron.Schedule(schedule, cron.FuncJob(func() { s.execute(j) }))
	return nil
}

// Next reports when name fires next after t, or the zero time if no such
// job is registered.
func (s *Scheduler) Next(name string, t time.Time) time.Time {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return j.schedule.Next(t.In(s.loc))
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.mu.Lock()
	for name := range s.jobs {
		s.logger.Info().Str("job", name).Time("next", s.jobs[name].schedule.Next(time.Now().In(s.loc))).Msg("job scheduled")
	}
	s.mu.Unlock()
}

// Stop halts the ticker, cancels running jobs and waits for them to return
// or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running jobs: %w", ctx.Err())
	}
}

func (s *Scheduler) execute(j *job) {
	if !j.running.CompareAndSwap(false, true) {
		s.logger.Warn().Str("job", j.name).Msg("previous run still in progress, skipping")
		s.metrics.RecordScheduledRun(j.name, "skipped", 0)
		return
	}
	defer j.running.Store(false)

	s.wg.Add(1)
	defer s.wg.Done()

	start := time.Now()
	err := s.safeRun(j)
	took := time.Since(start)

	if err != nil {
		s.logger.Error().Err(err).Str("job", j.name).Dur("took", took).Msg("job failed")
		s.metrics.RecordScheduledRun(j.name, "failure", took)
		return
	}
	s.logger.Info().Str("job", j.name).Dur("took", took).Msg("job finished")
	s.metrics.RecordScheduledRun(j.name, "success", took)
}

func (s *Scheduler) safeRun(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.run(s.ctx)
}
