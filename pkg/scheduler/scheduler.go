// Package scheduler hosts the single cooperative task runner that drives
// every periodic job in the fleet controller: per job, an optional initial
// delay, then a ticker loop selecting on ctx and a stop channel.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one periodic unit of work. RunFunc is invoked once after
// InitialDelay (or immediately if zero) and then every Interval until the
// scheduler is stopped.
type Job struct {
	Name         string
	InitialDelay time.Duration
	Interval     time.Duration
	RunFunc      func(ctx context.Context)
}

func (j Job) run(ctx context.Context, stopChan <-chan struct{}, logger *slog.Logger) {
	if j.InitialDelay > 0 {
		select {
		case <-time.After(j.InitialDelay):
			j.RunFunc(ctx)
		case <-ctx.Done():
			logger.Info("job stopped during initial delay", "job", j.Name)
			return
		case <-stopChan:
			logger.Info("job stopped during initial delay", "job", j.Name)
			return
		}
	} else {
		j.RunFunc(ctx)
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.RunFunc(ctx)
		case <-ctx.Done():
			logger.Info("job stopped", "job", j.Name, "reason", "context cancelled")
			return
		case <-stopChan:
			logger.Info("job stopped", "job", j.Name, "reason", "stop signal")
			return
		}
	}
}

// Scheduler owns the process-wide job table. It holds no domain knowledge;
// callers register jobs whose RunFunc closures close over the Store,
// Config, adapters and engines they need.
type Scheduler struct {
	logger *slog.Logger

	mu       sync.RWMutex
	jobs     []Job
	running  bool
	stopChan chan struct{}
}

// New builds an empty scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger, stopChan: make(chan struct{})}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, j)
}

// Start runs every registered job until ctx is cancelled or Stop is called.
// It blocks until all jobs have returned.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errAlreadyRunning
	}
	s.running = true
	s.stopChan = make(chan struct{})
	jobs := make([]Job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, j := range jobs {
		j := j
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.run(ctx, s.stopChan, s.logger)
		}()
	}
	wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// Stop signals every running job to return. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
}

// IsRunning reports whether Start is currently blocking.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

type schedulerError string

func (e schedulerError) Error() string { return string(e) }

const errAlreadyRunning = schedulerError("scheduler is already running")

// InitialDelayToTopOf aligns a job's first run to the next multiple of
// interval past the hour, for jobs that track an external cadence (e.g.
// Agile Solo execution on the 30-minute tariff-slot boundary).
func InitialDelayToTopOf(now time.Time, interval time.Duration) time.Duration {
	top := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	delay := now.Sub(top)
	for delay > 0 {
		delay -= interval
	}
	return -delay
}
