package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegisterValidation(t *testing.T) {
	s := New()
	if err := s.Register(Job{Every: time.Second, Fn: func(context.Context) error { return nil }}); err == nil {
		t.Fatalf("expected error for missing name")
	}
	if err := s.Register(Job{Name: "j", Fn: func(context.Context) error { return nil }}); err == nil {
		t.Fatalf("expected error for missing interval")
	}
	if err := s.Register(Job{Name: "j", Every: time.Second}); err == nil {
		t.Fatalf("expected error for missing function")
	}

	job := Job{Name: "j", Every: time.Second, Fn: func(context.Context) error { return nil }}
	if err := s.Register(job); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := s.Register(job); !errors.Is(err, ErrJobExists) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestJobRunsOnInterval(t *testing.T) {
	s := New()
	var runs int64
	err := s.Register(Job{
		Name:       "tick",
		Every:      20 * time.Millisecond,
		RunOnStart: true,
		Fn: func(context.Context) error {
			atomic.AddInt64(&runs, 1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop(time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(&runs) < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt64(&runs) < 3 {
		t.Fatalf("job ran %d times, expected at least 3", runs)
	}
}

func TestSnapshotTracksFailures(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	err := s.Register(Job{
		Name:       "flaky",
		Every:      time.Hour,
		RunOnStart: true,
		Fn:         func(context.Context) error { return boom },
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop(time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := s.Snapshot()
		if len(snap) == 1 && snap[0].Runs >= 1 {
			if snap[0].Failures != snap[0].Runs || snap[0].LastError != "boom" {
				t.Fatalf("unexpected status: %+v", snap[0])
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job never ran")
}

func TestStartTwiceFails(t *testing.T) {
	s := New()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop(time.Second)
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	if err := s.Register(Job{Name: "late", Every: time.Second, Fn: func(context.Context) error { return nil }}); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("registration after start must fail, got %v", err)
	}
}

func TestStopWaitsForInflightRun(t *testing.T) {
	s := New()
	started := make(chan struct{})
	err := s.Register(Job{
		Name:       "slow",
		Every:      time.Hour,
		RunOnStart: true,
		Fn: func(ctx context.Context) error {
			close(started)
			time.Sleep(50 * time.Millisecond)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	<-started
	if err := s.Stop(time.Second); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	// stopping again is a no-op
	if err := s.Stop(time.Second); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
}
