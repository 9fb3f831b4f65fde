// Package scheduler runs named periodic maintenance jobs on cron schedules.
//
// Jobs receive a context that is cancelled when the scheduler stops. A job
// that is still running when its next tick arrives is skipped, and a
// panicking job is logged without stopping the scheduler.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Errors returned by the scheduler.
var (
	ErrDuplicateJob = errors.New("scheduler: job already registered")
	ErrUnknownJob   = errors.New("scheduler: unknown job")
	ErrInvalidSpec  = errors.New("scheduler: invalid schedule")
)

// Logger defines the logging interface used by the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct {
	logger Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// Job is the work run on each tick.
type Job func(ctx context.Context)

// Scheduler wraps a cron runner with named jobs.
//
// Thread Safety: All methods are safe for concurrent use.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger Logger

	mu      sync.Mutex
	jobs    map[string]cron.EntryID
	running bool
}

// New creates a stopped scheduler. logger may be nil.
func New(logger Logger) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		jobs:   make(map[string]cron.EntryID),
	}
}

// AddJob registers fn under name on a standard five-field cron spec or a
// descriptor such as "@every 5m" or "@daily".
//
// Returns:
//   - error: ErrDuplicateJob or ErrInvalidSpec
func (s *Scheduler) AddJob(name, spec string, fn Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}

	id, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		s.logger.Debug("scheduled job started", "job", name)
		fn(s.ctx)
		s.logger.Debug("scheduled job finished", "job", name, "duration_ms", time.Since(start).Milliseconds())
	})
	if err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrInvalidSpec, name, spec, err)
	}

	s.jobs[name] = id
	s.logger.Info("scheduled job registered", "job", name, "spec", spec)
	return nil
}

// Remove unregisters a job. It reports whether the job existed.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.jobs, name)
	return true
}

// RunNow runs a job once in the caller's goroutine, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	entry.WrappedJob.Run()
	return nil
}

// Next returns when a job runs next. It is zero before Start.
func (s *Scheduler) Next(name string) (time.Time, error) {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.cron.Entry(id).Next, nil
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop cancels the job context and waits for running jobs to return, or
// for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.running = false
	s.mu.Unlock()

	s.cancel()
	if !running {
		return nil
	}

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduled jobs: %w", ctx.Err())
	}
}
