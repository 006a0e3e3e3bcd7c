package retention

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"parley/pkg/config"
	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/store"
)

// Runner purges expired conversation records on a cron schedule: messages
// older than the retention period, and messages both participants have
// hidden (invisible to everyone, so only occupying space).
type Runner struct {
	cfg *config.Config
}

// New builds a runner from the retention section of the config.
func New(cfg *config.Config) *Runner {
	return &Runner{cfg: cfg}
}

// Start launches the scheduler goroutine. It stops when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	cronExpr := r.cfg.Retention.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	logger.Info("retention_enabled", "cron", cronExpr, "period", r.cfg.Retention.Period)
	go r.schedule(ctx, cronExpr)
}

// schedule computes the next cron tick with gronx and sleeps until it.
func (r *Runner) schedule(ctx context.Context, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		next, err := gronx.NextTickAfter(cronExpr, time.Now().UTC(), false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := r.RunOnce(ctx); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce sweeps every conversation partition and deletes expired or
// fully-hidden records, bounded by retention.batch_size per run.
func (r *Runner) RunOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-r.cfg.RetentionPeriod()).UnixNano()
	budget := r.cfg.Retention.BatchSize
	if budget <= 0 {
		budget = 1000
	}

	convs, err := store.ListConversations()
	if err != nil {
		return err
	}

	deleted := 0
	for _, conv := range convs {
		for _, dir := range []models.Direction{models.DirOut, models.DirIn} {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			msgs, err := store.ListPartition(models.Partition{Conversation: conv, Direction: dir})
			if err != nil {
				logger.Error("retention_list_failed", "conversation", conv, "direction", dir, "error", err)
				continue
			}
			for _, m := range msgs {
				if deleted >= budget {
					logger.Info("retention_budget_exhausted", "deleted", deleted)
					return nil
				}
				if !purgeable(m, cutoff) {
					continue
				}
				if err := store.DeleteMessage(m.ID); err != nil {
					logger.Error("retention_delete_failed", "id", m.ID, "error", err)
					continue
				}
				deleted++
			}
		}
	}
	logger.Info("retention_run_complete", "deleted", deleted)
	return nil
}

// purgeable reports whether a record is past retention or hidden by both
// participants.
func purgeable(m models.Message, cutoff int64) bool {
	if m.CreatedAt < cutoff {
		return true
	}
	// two distinct viewers hiding the record means nobody can see it
	return len(m.DeletedFor) >= 2
}
