package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Job is a recurring maintenance task. Jobs come from configuration, only
// their executions are persisted.
type Job struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Schedule    string     `json:"schedule"` // Cron expression
	JobType     JobType    `json:"job_type"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
}

type JobType string

const (
	JobTypeReconcileControls JobType = "reconcile_controls"
	JobTypeDailyDigest       JobType = "daily_digest"
)

// JobExecution tracks job execution history
type JobExecution struct {
	ID        string          `json:"id" db:"id"`
	JobName   string          `json:"job_name" db:"job_name"`
	Status    ExecutionStatus `json:"status" db:"status"`
	StartedAt time.Time       `json:"started_at" db:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty" db:"ended_at"`
	Error     string          `json:"error,omitempty" db:"error"`
	Output    string          `json:"output,omitempty" db:"output"`
}

type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

var ErrJobNotFound = errors.New("job not found")

// JobHandler executes a job and returns a short human-readable result.
type JobHandler func(ctx context.Context, job *Job) (string, error)

// Store persists execution history.
type Store interface {
	CreateExecution(ctx context.Context, exec *JobExecution) error
	UpdateExecution(ctx context.Context, exec *JobExecution) error
	ListExecutions(ctx context.Context, jobName string, limit int) ([]*JobExecution, error)
}

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron     *cron.Cron
	store    Store
	handlers map[JobType]JobHandler
	jobs     map[string]*Job
	entries  map[string]cron.EntryID
	mu       sync.RWMutex
	logger   *slog.Logger
	timeout  time.Duration
}

func NewScheduler(store Store, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		store:    store,
		handlers: make(map[JobType]JobHandler),
		jobs:     make(map[string]*Job),
		entries:  make(map[string]cron.EntryID),
		logger:   logger,
		timeout:  10 * time.Minute,
	}
}

func (s *Scheduler) RegisterHandler(jobType JobType, handler JobHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[jobType] = handler
}

// AddJob schedules job, replacing any job with the same name.
func (s *Scheduler) AddJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[job.Name]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, job.Name)
	}

	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		s.executeJob(context.Background(), job)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression for %s: %w", job.Name, err)
	}

	s.entries[job.Name] = entryID
	s.jobs[job.Name] = job

	s.logger.Info("scheduled job",
		"job_name", job.Name,
		"schedule", job.Schedule)

	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs_count", len(s.entries))
}

// Stop stops the scheduler. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Jobs returns the scheduled jobs with their next run times.
func (s *Scheduler) Jobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for name, job := range s.jobs {
		j := *job
		if entry := s.cron.Entry(s.entries[name]); entry.ID != 0 && !entry.Next.IsZero() {
			next := entry.Next
			j.NextRun = &next
		}
		jobs = append(jobs, j)
	}
	return jobs
}

// RunJobNow runs a job synchronously and returns its execution record.
func (s *Scheduler) RunJobNow(ctx context.Context, name string) (*JobExecution, error) {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.executeJob(ctx, job), nil
}

// Executions returns the most recent runs of a configured job, newest first.
func (s *Scheduler) Executions(ctx context.Context, name string, limit int) ([]*JobExecution, error) {
	s.mu.RLock()
	_, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if limit <= 0 {
		limit = 20
	}

	execs, err := s.store.ListExecutions(ctx, name, limit)
	if err != nil {
		return nil, fmt.Errorf("listing executions for %s: %w", name, err)
	}
	if execs == nil {
		execs = []*JobExecution{}
	}
	return execs, nil
}

func (s *Scheduler) executeJob(ctx context.Context, job *Job) *JobExecution {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	startTime := time.Now()
	exec := &JobExecution{
		ID:        uuid.New().String(),
		JobName:   job.Name,
		Status:    StatusRunning,
		StartedAt: startTime,
	}

	if err := s.store.CreateExecution(ctx, exec); err != nil {
		s.logger.Error("failed to create execution record", "error", err)
	}

	s.logger.Info("executing job",
		"job_name", job.Name,
		"execution_id", exec.ID)

	s.mu.RLock()
	handler, ok := s.handlers[job.JobType]
	s.mu.RUnlock()

	var (
		output string
		err    error
	)
	if ok {
		output, err = handler(ctx, job)
	} else {
		err = fmt.Errorf("no handler registered for job type: %s", job.JobType)
	}

	endTime := time.Now()
	exec.EndedAt = &endTime
	exec.Output = output

	if err != nil {
		exec.Status = StatusFailed
		exec.Error = err.Error()
		s.logger.Error("job execution failed",
			"job_name", job.Name,
			"error", err,
			"duration", endTime.Sub(startTime))
	} else {
		exec.Status = StatusCompleted
		s.logger.Info("job execution completed",
			"job_name", job.Name,
			"output", output,
			"duration", endTime.Sub(startTime))
	}

	if err := s.store.UpdateExecution(ctx, exec); err != nil {
		s.logger.Error("failed to update execution record", "error", err)
	}

	s.mu.Lock()
	job.LastRun = &startTime
	s.mu.Unlock()

	return exec
}
