package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"teamdesk/pkg/config"
	"teamdesk/pkg/logger"
	"teamdesk/pkg/store"
)

// Start starts the purge scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.Config) (context.CancelFunc, error) {
	ret := cfg.Retention

	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	// map empty cron to default daily @02:00
	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", ret.Period.Std().String(), "group_backlog", ret.GroupBacklog)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time.
func runScheduler(ctx context.Context, cfg config.Config, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if err := RunOnce(cfg); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce performs a single purge pass: expired notifications are deleted
// in one batch, then the well-known group backlog is trimmed. Exported so
// admin triggers and tests can invoke a run on-demand.
func RunOnce(cfg config.Config) error {
	ret := cfg.Retention

	if period := ret.Period.Std(); period > 0 {
		cutoff := time.Now().Add(-period).UnixNano()
		ids, err := store.ListExpiredNotifications(cutoff)
		if err != nil {
			return fmt.Errorf("list expired notifications: %w", err)
		}
		if len(ids) > 0 {
			if ret.DryRun {
				logger.Info("retention_dry_run", "kind", "notifications", "count", len(ids))
			} else if err := store.DeleteNotifications(ids); err != nil {
				return fmt.Errorf("delete expired notifications: %w", err)
			} else {
				logger.Info("retention_purged", "kind", "notifications", "count", len(ids))
			}
		}
	}

	if ret.GroupBacklog > 0 && cfg.Chat.GroupID != "" {
		if ret.DryRun {
			logger.Info("retention_dry_run", "kind", "group_backlog", "keep", ret.GroupBacklog)
			return nil
		}
		n, err := store.TrimMessages(cfg.Chat.GroupID, ret.GroupBacklog)
		if err != nil {
			return fmt.Errorf("trim group backlog: %w", err)
		}
		if n > 0 {
			logger.Info("retention_purged", "kind", "group_backlog", "count", n, "keep", ret.GroupBacklog)
		}
	}
	return nil
}
