package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"datapolicy-backend/internal/storage"
)

const (
	MinIntervalMinutes = 60
	MaxIntervalMinutes = 1440
)

const (
	maxRetries     = 3
	baseRetryDelay = time.Second
)

// ConfigError marks an invalid schedule configuration. Out-of-range
// intervals are rejected, never clamped.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// ScanRunner runs one scan to completion.
type ScanRunner interface {
	RunScan(ctx context.Context) ScanResult
}

// ScheduleStore persists the single schedule configuration row.
type ScheduleStore interface {
	SaveScheduleConfig(ctx context.Context, intervalMinutes int, enabled bool, nextRun *time.Time) error
	DisableSchedule(ctx context.Context) error
}

type job struct {
	intervalMinutes int
	stop            chan struct{}
	nextFire        time.Time
}

// Scheduler owns the single periodic compliance-scan job. It fires one job
// at a time from its own trigger; it holds no lock across an actual scan, so
// a manual run may overlap a scheduled one.
type Scheduler struct {
	runner ScanRunner
	store  ScheduleStore
	logger *slog.Logger

	mu         sync.Mutex
	started    bool
	job        *job
	retryCount int
	lastRun    *time.Time
}

func NewScheduler(runner ScanRunner, store ScheduleStore, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{runner: runner, store: store, logger: logger}
}

// Start is idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.started = true
		s.logger.Info("monitoring scheduler started")
	}
}

// Shutdown removes any job and stops the scheduler without touching the
// persisted configuration.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job != nil {
		close(s.job.stop)
		s.job = nil
	}
	if s.started {
		s.started = false
		s.logger.Info("monitoring scheduler shut down")
	}
}

// Schedule installs the periodic scan job. Repeated calls always leave
// exactly one job, carrying the most recently requested interval. The
// persisted next_run_at is the schedule time, not the first fire time.
func (s *Scheduler) Schedule(ctx context.Context, intervalMinutes int) error {
	if intervalMinutes < MinIntervalMinutes || intervalMinutes > MaxIntervalMinutes {
		return &ConfigError{Message: fmt.Sprintf(
			"scan interval must be between %d (1 hour) and %d (24 hours) minutes",
			MinIntervalMinutes, MaxIntervalMinutes)}
	}

	s.mu.Lock()
	if !s.started {
		s.started = true
		s.logger.Info("monitoring scheduler started")
	}
	if s.job != nil {
		close(s.job.stop)
		s.job = nil
		s.logger.Info("removed existing scan schedule")
	}
	interval := time.Duration(intervalMinutes) * time.Minute
	j := &job{
		intervalMinutes: intervalMinutes,
		stop:            make(chan struct{}),
		nextFire:        time.Now().UTC().Add(interval),
	}
	s.job = j
	s.mu.Unlock()

	go s.runTicker(j, interval)

	now := time.Now().UTC()
	if err := s.store.SaveScheduleConfig(ctx, intervalMinutes, true, &now); err != nil {
		return fmt.Errorf("persist schedule config: %w", err)
	}
	s.logger.Info("scheduled compliance scans", slog.Int("interval_minutes", intervalMinutes))
	return nil
}

// Cancel removes the job if one exists and reports whether it did. The
// persisted disable is executed synchronously, not fired and forgotten; a
// persistence failure is logged but does not resurrect the job. An in-flight
// scan is not interrupted.
func (s *Scheduler) Cancel(ctx context.Context) bool {
	s.mu.Lock()
	existed := s.job != nil
	if existed {
		close(s.job.stop)
		s.job = nil
	}
	s.mu.Unlock()

	if !existed {
		s.logger.Info("no scheduled scan to cancel")
		return false
	}
	if err := s.store.DisableSchedule(ctx); err != nil {
		s.logger.Error("failed to persist schedule disable", slog.String("error", err.Error()))
	}
	s.logger.Info("cancelled scheduled compliance scans")
	return true
}

type Status struct {
	IsRunning       bool       `json:"is_running"`
	IsEnabled       bool       `json:"is_enabled"`
	NextRunTime     *time.Time `json:"next_run_time"`
	LastRunTime     *time.Time `json:"last_run_time"`
	IntervalMinutes *int       `json:"interval_minutes"`
}

// GetStatus reports the scheduler process and job state. Absence of a job
// always reports disabled, even while the process itself is running.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{
		IsRunning:   s.started,
		LastRunTime: s.lastRun,
	}
	if s.job != nil {
		status.IsEnabled = true
		next := s.job.nextFire
		status.NextRunTime = &next
		interval := s.job.intervalMinutes
		status.IntervalMinutes = &interval
	}
	return status
}

// RunNow executes a scan immediately through the same bookkeeping path the
// scheduled job uses.
func (s *Scheduler) RunNow(ctx context.Context) ScanResult {
	result := s.runner.RunScan(ctx)
	s.observe(result)
	return result
}

func (s *Scheduler) runTicker(j *job, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			j.nextFire = time.Now().UTC().Add(interval)
			s.mu.Unlock()
			s.logger.Info("executing scheduled compliance scan")
			result := s.runner.RunScan(context.Background())
			s.observe(result)
		case <-j.stop:
			return
		}
	}
}

// observe updates last-run and retry bookkeeping. The computed backoff delay
// is informational only: no retry job is ever requeued from it.
func (s *Scheduler) observe(result ScanResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	completed := result.CompletedAt
	s.lastRun = &completed
	if result.Status != storage.ScanFailed {
		s.retryCount = 0
		return
	}
	s.retryCount++
	if s.retryCount <= maxRetries {
		delay := baseRetryDelay * (1 << (s.retryCount - 1))
		s.logger.Info("scan failed, retry delay computed",
			slog.Int("attempt", s.retryCount),
			slog.Int("max_attempts", maxRetries),
			slog.Duration("delay", delay))
	} else {
		s.logger.Error("scan retries exhausted", slog.Int("max_attempts", maxRetries))
		s.retryCount = 0
	}
}
