package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/roundbet/internal/domain"
)

// Runner triggers archive runs on a schedule.
type Runner struct {
	archiver  domain.Archiver
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewRunner creates a Runner that archives rounds settled more than
// retention ago.
func NewRunner(archiver domain.Archiver, retention time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		archiver:  archiver,
		retention: retention,
		logger:    logger.With(slog.String("component", "archive_runner")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce performs a single archive run.
func (r *Runner) RunOnce(ctx context.Context) error {
	cutoff := r.now().Add(-r.retention)
	start := time.Now()
	n, err := r.archiver.ArchiveRounds(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive: run before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	r.logger.InfoContext(ctx, "archive run complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("rounds", n),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Run archives immediately and then every interval until ctx is cancelled.
// Failed runs are logged and retried at the next tick.
func (r *Runner) Run(ctx context.Context, interval time.Duration) error {
	r.logger.InfoContext(ctx, "archiver started", slog.Duration("interval", interval))
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// RunCron archives at each time matching the standard 5-field cron
// expression until ctx is cancelled.
func (r *Runner) RunCron(ctx context.Context, expr string) error {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("archive: schedule %q: %w", expr, err)
	}
	r.logger.InfoContext(ctx, "archiver started", slog.String("schedule", expr))

	for {
		next := sched.Next(r.now())
		if next.IsZero() {
			return fmt.Errorf("archive: schedule %q never fires", expr)
		}
		r.logger.DebugContext(ctx, "next archive run", slog.Time("at", next))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			if err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
