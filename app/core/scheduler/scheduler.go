package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"lastagent/app/pkg/logger"
)

var (
	ErrJobExists     = errors.New("scheduler: job already registered")
	ErrAlreadyActive = errors.New("scheduler: already started")
)

// Job is a recurring background task. Fn runs alone; overlapping runs of the
// same job never happen.
type Job struct {
	Name       string
	Every      time.Duration
	Timeout    time.Duration
	RunOnStart bool
	Fn         func(context.Context) error
}

type Status struct {
	Name         string        `json:"name"`
	Runs         int64         `json:"runs"`
	Failures     int64         `json:"failures"`
	LastRunAt    time.Time     `json:"last_run_at"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
}

// Scheduler drives periodic maintenance jobs. Jobs are registered before
// Start; Stop cancels every loop and waits for in-flight runs.
type Scheduler struct {
	mu      sync.Mutex
	jobs    []Job
	status  map[string]*Status
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{status: make(map[string]*Status)}
}

func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return errors.New("scheduler: job name is required")
	}
	if job.Every <= 0 {
		return errors.New("scheduler: job interval must be positive")
	}
	if job.Fn == nil {
		return errors.New("scheduler: job function is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyActive
	}
	if _, dup := s.status[job.Name]; dup {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name)
	}
	s.jobs = append(s.jobs, job)
	s.status[job.Name] = &Status{Name: job.Name}
	return nil
}

func (s *Scheduler) Start(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyActive
	}
	ctx, cancel := context.WithCancel(parent)
	s.started = true
	s.cancel = cancel

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	return nil
}

func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.started = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	if timeout <= 0 {
		s.wg.Wait()
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("scheduler: stop timed out after %s", timeout)
	}
}

// Snapshot lists job statuses sorted by name.
func (s *Scheduler) Snapshot() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	if job.RunOnStart {
		s.runOnce(ctx, job)
	}
	ticker := time.NewTicker(job.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(parent context.Context, job Job) {
	ctx := parent
	cancel := func() {}
	if job.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, job.Timeout)
	}
	defer cancel()

	start := time.Now()
	err := job.Fn(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	st := s.status[job.Name]
	st.Runs++
	st.LastRunAt = start
	st.LastDuration = elapsed
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	} else {
		st.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		logger.Error("[scheduler] job %s failed: %v", job.Name, err)
	}
}
