package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddJob(t *testing.T) {
	s := New(nil)

	if err := s.AddJob("prune", "@every 1h", func(context.Context) {}); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}
	if err := s.AddJob("refresh", "*/5 * * * *", func(context.Context) {}); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}

	if err := s.AddJob("prune", "@daily", func(context.Context) {}); !errors.Is(err, ErrDuplicateJob) {
		t.Errorf("duplicate error = %v, want ErrDuplicateJob", err)
	}
	if err := s.AddJob("broken", "every tuesday", func(context.Context) {}); !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("invalid spec error = %v, want ErrInvalidSpec", err)
	}

	got := s.Jobs()
	if len(got) != 2 || got[0] != "prune" || got[1] != "refresh" {
		t.Errorf("Jobs() = %v", got)
	}
}

func TestRunNow(t *testing.T) {
	s := New(nil)
	var runs atomic.Int32
	_ = s.AddJob("count", "@daily", func(ctx context.Context) {
		if ctx.Err() == nil {
			runs.Add(1)
		}
	})

	if err := s.RunNow("count"); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
	if err := s.RunNow("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("RunNow(missing) error = %v", err)
	}
}

func TestRunNow_RecoversPanic(t *testing.T) {
	s := New(nil)
	_ = s.AddJob("bad", "@daily", func(context.Context) { panic("boom") })

	if err := s.RunNow("bad"); err != nil {
		t.Errorf("RunNow() error = %v", err)
	}
}

func TestRemove(t *testing.T) {
	s := New(nil)
	_ = s.AddJob("x", "@hourly", func(context.Context) {})

	if !s.Remove("x") {
		t.Error("Remove() = false, want true")
	}
	if s.Remove("x") {
		t.Error("second Remove() = true")
	}
	if len(s.Jobs()) != 0 {
		t.Errorf("Jobs() = %v", s.Jobs())
	}
}

func TestStartSchedulesAndStopCancels(t *testing.T) {
	s := New(nil)
	started := make(chan struct{})
	cancelled := make(chan struct{})
	_ = s.AddJob("tick", "@every 1s", func(ctx context.Context) {
		select {
		case started <- struct{}{}:
		default:
			return
		}
		<-ctx.Done()
		close(cancelled)
	})

	s.Start()
	s.Start()
	next, err := s.Next("tick")
	if err != nil || next.IsZero() {
		t.Fatalf("Next() = %v, %v", next, err)
	}

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	select {
	case <-cancelled:
	default:
		t.Error("job context not cancelled by Stop")
	}
}

func TestStop_NotStarted(t *testing.T) {
	s := New(nil)
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
