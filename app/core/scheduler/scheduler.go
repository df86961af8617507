package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"taskpilot/app/pkg/logger"
)

var (
	ErrJobExists     = errors.New("scheduler: job already exists")
	ErrAlreadyActive = errors.New("scheduler: already started")
)

// Job is one periodic background chore, such as the reminder
// due-scan. Run receives a context that is canceled on shutdown and,
// when Timeout is set, bounded per invocation.
type Job struct {
	Name       string
	Interval   time.Duration
	Timeout    time.Duration
	RunOnStart bool
	Run        func(context.Context)
}

// Status is the last observed state of a job, exposed on the status
// endpoint.
type Status struct {
	Name         string    `json:"name"`
	Runs         int64     `json:"runs"`
	LastRunAt    time.Time `json:"last_run_at"`
	LastDuration string    `json:"last_duration"`
}

// Scheduler runs registered jobs on independent tickers. Jobs must be
// registered before Start; there is no dynamic reconfiguration.
type Scheduler struct {
	mu      sync.Mutex
	jobs    []Job
	status  map[string]Status
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{status: make(map[string]Status)}
}

func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return errors.New("scheduler: job name is required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("scheduler: job %s interval must be positive", job.Name)
	}
	if job.Run == nil {
		return fmt.Errorf("scheduler: job %s run callback is required", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyActive
	}
	for _, existing := range s.jobs {
		if existing.Name == job.Name {
			return fmt.Errorf("%w: %s", ErrJobExists, job.Name)
		}
	}
	s.jobs = append(s.jobs, job)
	s.status[job.Name] = Status{Name: job.Name}
	return nil
}

func (s *Scheduler) Start(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyActive
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.started = true

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.runLoop(ctx, job)
	}
	logger.Info("[Scheduler] Started %d job(s)", len(s.jobs))
	return nil
}

// Stop cancels every job loop and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.started = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	logger.Info("[Scheduler] Stopped")
}

// Snapshot returns per-job run counters sorted by name.
func (s *Scheduler) Snapshot() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Status, 0, len(s.status))
	for _, st := range s.status {
		items = append(items, st)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}

func (s *Scheduler) runLoop(ctx context.Context, job Job) {
	defer s.wg.Done()
	if job.RunOnStart {
		s.runOnce(ctx, job)
	}
	ticker := time.NewTicker(job.Interval)
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
	runCtx := parent
	cancel := func() {}
	if job.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(parent, job.Timeout)
	}
	defer cancel()

	start := time.Now()
	job.Run(runCtx)
	elapsed := time.Since(start)

	s.mu.Lock()
	st := s.status[job.Name]
	st.Name = job.Name
	st.Runs++
	st.LastRunAt = start
	st.LastDuration = elapsed.Round(time.Millisecond).String()
	s.status[job.Name] = st
	s.mu.Unlock()
}
