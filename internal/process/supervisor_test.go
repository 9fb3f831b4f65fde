package process

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/beacon/internal/infrastructure/config"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRestartBackOff(t *testing.T) {
	b := newRestartBackOff(time.Second, 10*time.Second)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Errorf("delay %d = %v, want %v", i+1, got, w)
		}
	}

	b.Reset()
	if got := b.NextBackOff(); got != time.Second {
		t.Errorf("delay after Reset = %v, want 1s", got)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig("zigbee2mqtt", config.ManagedProcessConfig{
		Binary:             "/usr/bin/zigbee2mqtt",
		Args:               []string{"--verbose"},
		RestartDelay:       2,
		MaxRestartDelay:    60,
		MaxRestartAttempts: 4,
		GracefulTimeout:    7,
	})

	if cfg.Name != "zigbee2mqtt" || cfg.Binary != "/usr/bin/zigbee2mqtt" {
		t.Errorf("identity = %q %q", cfg.Name, cfg.Binary)
	}
	if cfg.RestartDelay != 2*time.Second || cfg.MaxRestartDelay != time.Minute {
		t.Errorf("delays = %v / %v", cfg.RestartDelay, cfg.MaxRestartDelay)
	}
	if cfg.GracefulTimeout != 7*time.Second || cfg.MaxRestartAttempts != 4 {
		t.Errorf("graceful = %v, attempts = %d", cfg.GracefulTimeout, cfg.MaxRestartAttempts)
	}
}

func TestNewSupervisor_Defaults(t *testing.T) {
	s := NewSupervisor(Config{Name: "d", Binary: "/bin/true", RestartDelay: time.Hour})

	if s.cfg.MaxRestartDelay != time.Hour {
		t.Errorf("MaxRestartDelay = %v, want raised to RestartDelay", s.cfg.MaxRestartDelay)
	}
	if s.cfg.StableThreshold != defaultStableThreshold {
		t.Errorf("StableThreshold = %v", s.cfg.StableThreshold)
	}
	if s.cfg.MaxHealthFailures != defaultMaxHealthFailures {
		t.Errorf("MaxHealthFailures = %d", s.cfg.MaxHealthFailures)
	}
	if s.Status() != StatusStopped {
		t.Errorf("initial Status() = %q", s.Status())
	}
	if s.HealthCheck(context.Background()) == nil {
		t.Error("HealthCheck() should fail before Start")
	}
}

func TestSupervisor_StartStop(t *testing.T) {
	s := NewSupervisor(Config{
		Name:            "sleeper",
		Binary:          "/bin/sh",
		Args:            []string{"-c", "echo ready; sleep 30"},
		GracefulTimeout: time.Second,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	stats := s.Stats()
	if stats.Status != StatusRunning || stats.PID == 0 {
		t.Errorf("Stats() = %+v, want running with a pid", stats)
	}
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return")
	}

	if s.Status() != StatusStopped {
		t.Errorf("Status() after Stop = %q", s.Status())
	}
	if s.Stats().Failures != 0 {
		t.Errorf("a requested stop must not count as a failure")
	}
	s.Stop()
}

func TestSupervisor_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSupervisor(Config{Name: "sleeper", Binary: "/bin/sh", Args: []string{"-c", "sleep 30"}})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	cancel()
	waitFor(t, "stopped status", func() bool { return s.Status() == StatusStopped })
	s.Stop()
}

func TestSupervisor_StartMissingBinary(t *testing.T) {
	s := NewSupervisor(Config{Name: "missing", Binary: "/nonexistent/beacon-daemon"})

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail for a missing binary")
	}
	if s.Status() != StatusFailed {
		t.Errorf("Status() = %q, want failed", s.Status())
	}
	s.Stop()
}

func TestSupervisor_RestartsUntilLimit(t *testing.T) {
	s := NewSupervisor(Config{
		Name:               "crasher",
		Binary:             "/bin/sh",
		Args:               []string{"-c", "exit 3"},
		RestartDelay:       10 * time.Millisecond,
		MaxRestartAttempts: 2,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	waitFor(t, "failed status", func() bool { return s.Status() == StatusFailed })

	stats := s.Stats()
	if stats.Failures != 3 {
		t.Errorf("Failures = %d, want 3 (initial run plus two restarts)", stats.Failures)
	}
	if !strings.Contains(stats.LastError, "exit status 3") {
		t.Errorf("LastError = %q", stats.LastError)
	}
}

func TestSupervisor_HealthWatchdogKills(t *testing.T) {
	s := NewSupervisor(Config{
		Name:                "hung",
		Binary:              "/bin/sh",
		Args:                []string{"-c", "sleep 30"},
		RestartDelay:        10 * time.Millisecond,
		MaxRestartAttempts:  1,
		HealthCheckInterval: 20 * time.Millisecond,
		MaxHealthFailures:   2,
	})
	s.SetHealthCheck(func(context.Context) error { return errors.New("bridge offline") })
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	waitFor(t, "failed status", func() bool { return s.Status() == StatusFailed })

	if last := s.Stats().LastError; !strings.Contains(last, "health") {
		t.Errorf("LastError = %q, want a health check failure", last)
	}
}
