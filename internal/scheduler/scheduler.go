// Package scheduler triggers jobs on cron schedules inside a single process
// guarded by a file lock.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
)

// ErrLocked is returned by Run when another process holds the lock.
var ErrLocked = errors.New("scheduler: lock held by another process")

// Job is a named unit of work run on a cron schedule.
type Job struct {
	Name     string
	Schedule string // standard 5-field spec or a descriptor such as "@every 1m"
	Run      func(ctx context.Context) error
}

// Config holds scheduler settings.
type Config struct {
	LockPath string
}

// Scheduler runs registered jobs on their schedules. A job still running when
// its next activation arrives is skipped.
type Scheduler struct {
	cfg  Config
	cron *cron.Cron
	lock *FileLock

	mu      sync.Mutex
	ctx     context.Context
	jobs    map[string]Job
	entries map[string]cron.EntryID
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	logger := cronLogger{}
	s := &Scheduler{
		cfg: cfg,
		cron: cron.New(cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		)),
		ctx:     context.Background(),
		jobs:    make(map[string]Job),
		entries: make(map[string]cron.EntryID),
	}
	if cfg.LockPath != "" {
		s.lock = NewFileLock(cfg.LockPath)
	}
	return s
}

// Register adds job. The schedule is validated immediately.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("scheduler: job needs a name and a run func")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("scheduler: job %q already registered", job.Name)
	}
	id, err := s.cron.AddFunc(job.Schedule, func() { s.run(job) })
	if err != nil {
		return fmt.Errorf("scheduler: job %q: invalid schedule %q: %w", job.Name, job.Schedule, err)
	}
	s.jobs[job.Name] = job
	s.entries[job.Name] = id
	slog.Info("Scheduler job registered", "name", job.Name, "schedule", job.Schedule)
	return nil
}

// Jobs returns the registered job names in sorted order.
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

// Trigger runs the named job now on the caller's goroutine.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	return job.Run(ctx)
}

// Run takes the process lock, starts the cron loop and blocks until ctx is
// cancelled. Running jobs are waited for before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.lock != nil {
		acquired, err := s.lock.TryLock()
		if err != nil {
			return fmt.Errorf("scheduler lock: %w", err)
		}
		if !acquired {
			return ErrLocked
		}
		defer s.lock.Unlock()
	}

	s.mu.Lock()
	s.ctx = ctx
	jobs := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	slog.Info("Scheduler started", "jobs", jobs)

	<-ctx.Done()
	<-s.cron.Stop().Done()
	slog.Info("Scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) run(job Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if err := job.Run(ctx); err != nil {
		slog.Warn("Scheduled job failed", "job", job.Name, "error", err)
	}
}

// ReadLockPID returns the pid recorded in the lock file at path.
func ReadLockPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
