package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc scheduled work. The context is cancelled when the scheduler stops.
type JobFunc func(ctx context.Context) error

// SchedulerService runs named jobs on cron schedules
type SchedulerService struct {
	cron    *cron.Cron
	jobs    map[string]scheduledEntry
	timeout time.Duration
	logger  *slog.Logger
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

type scheduledEntry struct {
	id   cron.EntryID
	spec string
}

// SchedulerConfig scheduler settings
type SchedulerConfig struct {
	// JobTimeout bounds a single job run (default 30 minutes).
	JobTimeout time.Duration
	Location   *time.Location
	Logger     *slog.Logger
}

// DefaultSchedulerConfig default scheduler settings
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		JobTimeout: 30 * time.Minute,
		Location:   time.UTC,
	}
}

func NewSchedulerService(cfg *SchedulerConfig) *SchedulerService {
	if cfg == nil {
		cfg = DefaultSchedulerConfig()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SchedulerService{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cron.DefaultLogger)),
		),
		jobs:    make(map[string]scheduledEntry),
		timeout: timeout,
		logger:  logger.With("component", "scheduler"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddJob registers fn under name, replacing any job with the same name.
// An empty spec removes the job.
func (s *SchedulerService) AddJob(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.jobs[name]; ok {
		s.cron.Remove(e.id)
		delete(s.jobs, name)
	}
	if spec == "" {
		return nil
	}

	job := &scheduledJob{scheduler: s, name: name, fn: fn}
	id, err := s.cron.AddJob(spec, cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(job))
	if err != nil {
		return fmt.Errorf("invalid cron expression '%s': %w", spec, err)
	}
	s.jobs[name] = scheduledEntry{id: id, spec: spec}

	s.logger.Info("job scheduled", "job", name, "spec", spec, "next", s.cron.Entry(id).Next)
	return nil
}

// RemoveJob unregisters a job.
func (s *SchedulerService) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.jobs[name]; ok {
		s.cron.Remove(e.id)
		delete(s.jobs, name)
		s.logger.Info("job removed", "job", name)
	}
}

// Start scheduler start
func (s *SchedulerService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop cancels running jobs and waits for them to return.
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// ScheduleInfo schedule info
type ScheduleInfo struct {
	Name      string     `json:"name"`
	Spec      string     `json:"spec"`
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`
	PrevRunAt *time.Time `json:"prevRunAt,omitempty"`
}

// ListJobs registered jobs sorted by name
func (s *SchedulerService) ListJobs() []ScheduleInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ScheduleInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		entry := s.cron.Entry(e.id)
		info := ScheduleInfo{Name: name, Spec: e.spec}
		if !entry.Next.IsZero() {
			next := entry.Next
			info.NextRunAt = &next
		}
		if !entry.Prev.IsZero() {
			prev := entry.Prev
			info.PrevRunAt = &prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// scheduledJob cron job
type scheduledJob struct {
	scheduler *SchedulerService
	name      string
	fn        JobFunc
}

func (j *scheduledJob) Run() {
	ctx, cancel := context.WithTimeout(j.scheduler.ctx, j.scheduler.timeout)
	defer cancel()

	start := time.Now()
	j.scheduler.logger.Info("executing scheduled job", "job", j.name)
	if err := j.fn(ctx); err != nil {
		j.scheduler.logger.Error("scheduled job failed", "job", j.name, "error", err, "duration", time.Since(start))
		return
	}
	j.scheduler.logger.Info("scheduled job finished", "job", j.name, "duration", time.Since(start))
}
