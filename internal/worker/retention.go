package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/metrics"
)

// Sweeper deletes notifications permanently.
type Sweeper interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// RetentionJob removes notifications older than MaxAge and those past their
// expiry. It implements cron.Job.
type RetentionJob struct {
	store   Sweeper
	maxAge  time.Duration
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

func NewRetentionJob(store Sweeper, maxAge time.Duration, logger *zap.Logger) *RetentionJob {
	return &RetentionJob{
		store:   store,
		maxAge:  maxAge,
		timeout: 5 * time.Minute,
		logger:  logger,
		now:     time.Now,
	}
}

// Run is called by the scheduler.
func (j *RetentionJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	_, _ = j.Sweep(ctx)
}

// Sweep runs both deletions and returns how many notifications were removed.
// An age sweep failure does not skip the expiry sweep.
func (j *RetentionJob) Sweep(ctx context.Context) (int64, error) {
	now := j.now().UTC()
	var total int64
	var firstErr error

	if j.maxAge > 0 {
		n, err := j.store.DeleteOlderThan(ctx, now.Add(-j.maxAge))
		if err != nil {
			j.logger.Error("retention sweep by age failed", zap.Error(err))
			firstErr = fmt.Errorf("delete older than: %w", err)
		} else {
			metrics.RecordRetention("age", n)
			total += n
		}
	}

	n, err := j.store.DeleteExpired(ctx, now)
	if err != nil {
		j.logger.Error("retention sweep of expired notifications failed", zap.Error(err))
		if firstErr == nil {
			firstErr = fmt.Errorf("delete expired: %w", err)
		}
	} else {
		metrics.RecordRetention("expired", n)
		total += n
	}

	j.logger.Info("retention sweep finished", zap.Int64("deleted", total))
	return total, firstErr
}

// Scheduler owns the cron engine.
type Scheduler struct {
	engine *cron.Cron
	logger *zap.Logger
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{engine: cron.New(), logger: logger}
}

// Register adds job under a standard cron spec or descriptor such as
// "@daily".
func (s *Scheduler) Register(spec string, job cron.Job) error {
	if _, err := s.engine.AddJob(spec, job); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.logger.Info("cron scheduler started", zap.Int("jobs", len(s.engine.Entries())))
	s.engine.Start()
}

// Stop waits for running jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.engine.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.logger.Info("cron scheduler stopped")
}
