package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	robfigcron "github.com/robfig/cron/v3"
)

// ExecutionPruner deletes old executions.
type ExecutionPruner interface {
	PruneExecutions(ctx context.Context, before time.Time) (int64, error)
}

// AuditPruner deletes old audit entries.
type AuditPruner interface {
	PruneAudit(ctx context.Context, before time.Time) (int64, error)
}

// IdlePruner forgets idle rate limiter entries.
type IdlePruner interface {
	Prune(maxIdle time.Duration) int
}

// Retention periodically prunes history and in-memory state.
type Retention struct {
	schedule    string
	maxAge      time.Duration
	limiterIdle time.Duration

	executions ExecutionPruner
	audit      AuditPruner
	limiter    IdlePruner
	logger     *slog.Logger
	now        func() time.Time
}

// RetentionConfig configures a Retention job. Nil pruners are skipped.
type RetentionConfig struct {
	Schedule    string
	MaxAge      time.Duration
	LimiterIdle time.Duration
	Executions  ExecutionPruner
	Audit       AuditPruner
	Limiter     IdlePruner
}

// NewRetention validates the schedule and returns the job.
func NewRetention(cfg RetentionConfig, logger *slog.Logger) (*Retention, error) {
	if _, err := robfigcron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("retention schedule %q: %w", cfg.Schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retention{
		schedule:    cfg.Schedule,
		maxAge:      cfg.MaxAge,
		limiterIdle: cfg.LimiterIdle,
		executions:  cfg.Executions,
		audit:       cfg.Audit,
		limiter:     cfg.Limiter,
		logger:      logger.With("component", "retention"),
		now:         time.Now,
	}, nil
}

// RunOnce prunes everything older than the configured age.
func (r *Retention) RunOnce(ctx context.Context) {
	cutoff := r.now().Add(-r.maxAge)

	if r.executions != nil {
		n, err := r.executions.PruneExecutions(ctx, cutoff)
		if err != nil {
			r.logger.Warn("failed to prune executions", "err", err)
		} else if n > 0 {
			r.logger.Info("pruned executions", "count", n, "before", cutoff)
		}
	}
	if r.audit != nil {
		n, err := r.audit.PruneAudit(ctx, cutoff)
		if err != nil {
			r.logger.Warn("failed to prune audit log", "err", err)
		} else if n > 0 {
			r.logger.Info("pruned audit entries", "count", n, "before", cutoff)
		}
	}
	if r.limiter != nil && r.limiterIdle > 0 {
		if n := r.limiter.Prune(r.limiterIdle); n > 0 {
			r.logger.Debug("pruned idle rate limit entries", "count", n)
		}
	}
}

// Run schedules RunOnce and blocks until ctx is done.
func (r *Retention) Run(ctx context.Context) error {
	c := robfigcron.New()
	if _, err := c.AddFunc(r.schedule, func() { r.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	c.Start()
	r.logger.Info("retention scheduled", "schedule", r.schedule, "max_age", r.maxAge)

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
