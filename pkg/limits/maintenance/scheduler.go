package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/quotaguard/pkg/telemetry/metrics"
)

// Job names used by quotaguard.
const (
	JobSweep           = "sweep"
	JobSnapshot        = "snapshot"
	JobSnapshotCleanup = "snapshot_cleanup"
)

// Job is one periodic task. Run returns the number of items it handled.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) (int, error)
}

type scheduledJob struct {
	Job
	entry cron.EntryID
}

// Scheduler runs jobs on their cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	metrics *metrics.JobMetrics
	logger  *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*scheduledJob
	running bool
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler. jm may be nil.
func NewScheduler(jm *metrics.JobMetrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "limits.maintenance")

	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		metrics: jm,
		logger:  logger,
		jobs:    make(map[string]*scheduledJob),
	}
}

// Add registers a job. A job with an empty schedule is kept for RunNow but
// never scheduled.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Run == nil {
		return fmt.Errorf("job %s has no run function", job.Name)
	}
	if job.Schedule != "" {
		if _, err := cron.ParseStandard(job.Schedule); err != nil {
			return fmt.Errorf("invalid cron schedule %q for job %s: %w", job.Schedule, job.Name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	if s.running {
		return fmt.Errorf("cannot add job %s to a running scheduler", job.Name)
	}
	s.jobs[job.Name] = &scheduledJob{Job: job}
	return nil
}

// Start schedules every job and starts the cron loop. Jobs receive a context
// derived from ctx that is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	for _, job := range s.jobs {
		if job.Schedule == "" {
			continue
		}
		j := job
		id, err := s.cron.AddFunc(j.Schedule, func() {
			_, _ = s.run(runCtx, j.Job)
		})
		if err != nil {
			cancel()
			s.removeEntriesLocked()
			return fmt.Errorf("failed to schedule job %s: %w", j.Name, err)
		}
		j.entry = id
	}

	s.cron.Start()
	s.running = true
	s.cancel = cancel

	s.logger.Info("maintenance scheduler started", "jobs", s.namesLocked())
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.cancel()
	s.removeEntriesLocked()
	s.running = false
	s.logger.Info("maintenance scheduler stopped")
}

// RunNow runs a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("unknown job %s", name)
	}
	return s.run(ctx, job.Job)
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled run of a job, or nil when the job is
// not scheduled.
func (s *Scheduler) NextRun(name string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[name]
	if !ok || job.entry == 0 {
		return nil
	}
	next := s.cron.Entry(job.entry).Next
	if next.IsZero() {
		return nil
	}
	return &next
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.namesLocked()
}

func (s *Scheduler) run(ctx context.Context, job Job) (int, error) {
	start := time.Now()
	items, err := job.Run(ctx)
	elapsed := time.Since(start)

	s.metrics.RecordRun(job.Name, items, elapsed, err)

	if err != nil {
		s.logger.Error("maintenance job failed", "job", job.Name, "error", err, "duration", elapsed)
		return items, err
	}
	if items > 0 {
		s.logger.Info("maintenance job completed", "job", job.Name, "items", items, "duration", elapsed)
	} else {
		s.logger.Debug("maintenance job completed, nothing to do", "job", job.Name)
	}
	return items, nil
}

func (s *Scheduler) removeEntriesLocked() {
	for _, job := range s.jobs {
		if job.entry != 0 {
			s.cron.Remove(job.entry)
			job.entry = 0
		}
	}
}

func (s *Scheduler) namesLocked() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// cronLogger adapts slog to the cron logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
