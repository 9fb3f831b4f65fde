package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nerrad567/beacon/internal/infrastructure/config"
)

// Status is the lifecycle state of the supervised daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusBackoff  Status = "backoff"
	StatusFailed   Status = "failed"
)

const (
	defaultRestartDelay        = 5 * time.Second
	defaultMaxRestartDelay     = 5 * time.Minute
	defaultStableThreshold     = 2 * time.Minute
	defaultGracefulTimeout     = 10 * time.Second
	defaultHealthCheckInterval = 30 * time.Second
	defaultHealthCheckTimeout  = 5 * time.Second
	defaultMaxHealthFailures   = 3

	// maxLineLength bounds a single captured output line.
	maxLineLength = 64 * 1024
)

// ErrAlreadyRunning is returned by Start while the daemon is supervised.
var ErrAlreadyRunning = errors.New("process: already running")

// errHealthCheck marks an exit forced by the watchdog.
var errHealthCheck = errors.New("process: killed after failed health checks")

// Config describes the daemon to supervise.
type Config struct {
	// Name identifies the daemon in logs.
	Name string

	Binary  string
	Args    []string
	Env     []string // appended to the station's environment
	WorkDir string

	// RestartDelay is the first backoff step. It doubles on every
	// consecutive failure up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold is how long a run must last for the backoff and the
	// attempt counter to reset.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	HealthCheckInterval time.Duration
	MaxHealthFailures   int
}

// FromConfig builds a Config from the YAML section for a managed daemon.
func FromConfig(name string, cfg config.ManagedProcessConfig) Config {
	return Config{
		Name:               name,
		Binary:             cfg.Binary,
		Args:               cfg.Args,
		Env:                cfg.Env,
		WorkDir:            cfg.WorkDir,
		RestartDelay:       time.Duration(cfg.RestartDelay) * time.Second,
		MaxRestartDelay:    time.Duration(cfg.MaxRestartDelay) * time.Second,
		MaxRestartAttempts: cfg.MaxRestartAttempts,
		GracefulTimeout:    time.Duration(cfg.GracefulTimeout) * time.Second,
	}
}

func (c *Config) applyDefaults() {
	if c.RestartDelay <= 0 {
		c.RestartDelay = defaultRestartDelay
	}
	if c.MaxRestartDelay <= 0 {
		c.MaxRestartDelay = defaultMaxRestartDelay
	}
	if c.MaxRestartDelay < c.RestartDelay {
		c.MaxRestartDelay = c.RestartDelay
	}
	if c.StableThreshold <= 0 {
		c.StableThreshold = defaultStableThreshold
	}
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = defaultGracefulTimeout
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = defaultHealthCheckInterval
	}
	if c.MaxHealthFailures <= 0 {
		c.MaxHealthFailures = defaultMaxHealthFailures
	}
}

// Logger defines the logging interface used by the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Supervisor keeps one daemon running.
//
// Thread Safety: All methods are safe for concurrent use.
type Supervisor struct {
	cfg    Config
	logger Logger
	health func(ctx context.Context) error

	mu        sync.RWMutex
	cmd       *exec.Cmd
	status    Status
	failures  int
	attempt   int
	retry     *backoff.ExponentialBackOff
	lastError error
	startedAt time.Time
	stopping  bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSupervisor creates a stopped supervisor. Zero durations take defaults.
func NewSupervisor(cfg Config) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{cfg: cfg, logger: noopLogger{}, status: StatusStopped}
}

// SetLogger sets the logger. Call before Start.
func (s *Supervisor) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetHealthCheck installs a watchdog check. After MaxHealthFailures
// consecutive failures the daemon is killed and restarted. Call before Start.
func (s *Supervisor) SetHealthCheck(check func(ctx context.Context) error) {
	s.health = check
}

// Start launches the daemon and supervises it until Stop or ctx is done.
// An error is returned only if the first launch fails.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusStopped && s.status != StatusFailed {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.status = StatusStarting
	s.stopping = false
	s.attempt = 0
	s.retry = newRestartBackOff(s.cfg.RestartDelay, s.cfg.MaxRestartDelay)
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	cmd, err := s.launch()
	if err != nil {
		cancel()
		s.mu.Lock()
		s.status = StatusFailed
		s.lastError = err
		s.cancel = nil
		close(done)
		s.mu.Unlock()
		return err
	}

	go s.supervise(runCtx, cmd, done)
	return nil
}

// launch starts one instance of the daemon.
func (s *Supervisor) launch() (*exec.Cmd, error) {
	cmd := exec.Command(s.cfg.Binary, s.cfg.Args...) //nolint:gosec // Binary comes from station config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	cmd.Dir = s.cfg.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe for %s: %w", s.cfg.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe for %s: %w", s.cfg.Name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", s.cfg.Name, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.status = StatusRunning
	s.startedAt = time.Now()
	s.mu.Unlock()

	go s.capture("stdout", stdout)
	go s.capture("stderr", stderr)

	s.logger.Info("process started", "name", s.cfg.Name, "pid", cmd.Process.Pid)
	return cmd, nil
}

// capture logs the daemon's output one line at a time.
func (s *Supervisor) capture(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), maxLineLength)
	for scanner.Scan() {
		s.logger.Debug("process output", "name", s.cfg.Name, "stream", stream, "line", scanner.Text())
	}
}

// supervise waits on each run and restarts after unexpected exits.
func (s *Supervisor) supervise(ctx context.Context, cmd *exec.Cmd, done chan struct{}) {
	defer close(done)

	for {
		err := s.wait(ctx, cmd)

		s.mu.Lock()
		stopping := s.stopping
		ranFor := time.Since(s.startedAt)
		s.cmd = nil
		if stopping || ctx.Err() != nil {
			s.status = StatusStopped
			s.mu.Unlock()
			s.logger.Info("process stopped", "name", s.cfg.Name)
			return
		}
		if ranFor >= s.cfg.StableThreshold {
			s.attempt = 0
			s.retry.Reset()
		}
		s.attempt++
		s.failures++
		s.lastError = err
		attempt := s.attempt
		s.mu.Unlock()

		s.logger.Warn("process exited unexpectedly", "name", s.cfg.Name, "error", err, "ran_for", ranFor)

		if s.cfg.MaxRestartAttempts > 0 && attempt > s.cfg.MaxRestartAttempts {
			s.setStatus(StatusFailed)
			s.logger.Error("process restart limit reached", "name", s.cfg.Name, "attempts", attempt-1)
			return
		}

		delay := s.retry.NextBackOff()
		s.setStatus(StatusBackoff)
		s.logger.Info("restarting process", "name", s.cfg.Name, "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setStatus(StatusStopped)
			return
		case <-timer.C:
		}

		next, err := s.launch()
		for err != nil {
			s.logger.Error("process restart failed", "name", s.cfg.Name, "error", err)
			s.mu.Lock()
			s.lastError = err
			s.attempt++
			attempt = s.attempt
			s.mu.Unlock()
			if s.cfg.MaxRestartAttempts > 0 && attempt > s.cfg.MaxRestartAttempts {
				s.setStatus(StatusFailed)
				return
			}
			timer.Reset(s.retry.NextBackOff())
			select {
			case <-ctx.Done():
				timer.Stop()
				s.setStatus(StatusStopped)
				return
			case <-timer.C:
			}
			next, err = s.launch()
		}
		cmd = next
	}
}

// wait blocks until cmd exits. With a health check installed it also runs
// the watchdog and kills the process group after repeated failures.
func (s *Supervisor) wait(ctx context.Context, cmd *exec.Cmd) error {
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	var ticks <-chan time.Time
	if s.health != nil {
		ticker := time.NewTicker(s.cfg.HealthCheckInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	failures := 0
	for {
		select {
		case err := <-exited:
			return err

		case <-ctx.Done():
			s.signal(cmd, syscall.SIGTERM)
			select {
			case err := <-exited:
				return err
			case <-time.After(s.cfg.GracefulTimeout):
				s.signal(cmd, syscall.SIGKILL)
				return <-exited
			}

		case <-ticks:
			checkCtx, cancel := context.WithTimeout(ctx, defaultHealthCheckTimeout)
			err := s.health(checkCtx)
			cancel()
			if err == nil {
				if failures > 0 {
					s.logger.Info("process health recovered", "name", s.cfg.Name, "previous_failures", failures)
				}
				failures = 0
				continue
			}

			failures++
			s.logger.Warn("process health check failed", "name", s.cfg.Name, "error", err, "consecutive_failures", failures)
			if failures >= s.cfg.MaxHealthFailures {
				s.logger.Error("process unhealthy, killing", "name", s.cfg.Name, "failures", failures)
				s.signal(cmd, syscall.SIGKILL)
				<-exited
				return fmt.Errorf("%w: %v", errHealthCheck, err)
			}
		}
	}
}

// signal sends sig to the daemon's whole process group.
func (s *Supervisor) signal(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("signalling process group failed", "name", s.cfg.Name, "signal", sig.String(), "error", err)
	}
}

// Stop terminates the daemon (SIGTERM, then SIGKILL after GracefulTimeout)
// and waits for supervision to end. Safe to call when not running.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	if s.status != StatusFailed {
		s.status = StatusStopped
	}
	s.mu.Unlock()
}

func (s *Supervisor) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// newRestartBackOff doubles from base up to limit without jitter.
func newRestartBackOff(base, limit time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = limit
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Status returns the current lifecycle state.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// HealthCheck reports an error unless the daemon is running.
func (s *Supervisor) HealthCheck(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == StatusRunning {
		return nil
	}
	if s.lastError != nil {
		return fmt.Errorf("%s %s: %w", s.cfg.Name, s.status, s.lastError)
	}
	return fmt.Errorf("%s %s", s.cfg.Name, s.status)
}

// Stats is a point-in-time view of the supervised daemon.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Failures  int           `json:"failures"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns the current statistics.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Name: s.cfg.Name, Status: s.status, Failures: s.failures}
	if s.cmd != nil && s.cmd.Process != nil {
		stats.PID = s.cmd.Process.Pid
	}
	if s.status == StatusRunning {
		stats.Uptime = time.Since(s.startedAt)
	}
	if s.lastError != nil {
		stats.LastError = s.lastError.Error()
	}
	return stats
}
