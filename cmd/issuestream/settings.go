package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/odvcencio/issuestream/internal/cache"
	"github.com/odvcencio/issuestream/internal/config"
	"github.com/odvcencio/issuestream/internal/poller"
	"github.com/odvcencio/issuestream/internal/remote"
	"github.com/odvcencio/issuestream/internal/scheduler"
	"github.com/odvcencio/issuestream/internal/service"
)

// syncSettings snapshots the sync part of cfg for one scheduler generation.
func syncSettings(cfg *config.Config) scheduler.Settings {
	return scheduler.Settings{
		Interval:     cfg.Sync.Interval,
		MaxInterval:  cfg.Sync.MaxInterval,
		IntervalStep: cfg.Sync.IntervalStep,
		Poller: poller.Settings{
			PerPage:            cfg.Remote.PerPage,
			FirstCycleMaxPages: cfg.Sync.FirstCycleMaxPages,
			MaxResults:         cfg.Sync.MaxResults,
			MaxQueryLength:     cfg.Sync.MaxQueryLength,
			PrimaryHost:        cfg.Remote.PrimaryHost,
			CorrectionDelay:    cfg.Sync.CorrectionDelay,
			TimelineEnrichment: cfg.Remote.TimelineEnrichment,
			Merge: cache.Settings{
				Login:               cfg.Account.Login,
				MaxItems:            cfg.Sync.MaxItems,
				OldItemPolicy:       cfg.Sync.OldItemPolicy,
				OldItemThreshold:    cfg.Sync.OldItemThreshold,
				SelfUpdateTolerance: cfg.Sync.SelfUpdateTolerance,
			},
		},
	}
}

func breakerSettings(cfg *config.Config) remote.BreakerSettings {
	b := cfg.Remote.Breaker
	return remote.BreakerSettings{
		MaxRequests:      b.MaxRequests,
		Interval:         b.Interval,
		Timeout:          b.Timeout,
		FailureThreshold: b.FailureThreshold,
		MinRequests:      b.MinRequests,
	}
}

type restartableScheduler interface {
	Restart(settings scheduler.Settings) error
	Interval() time.Duration
	Queue() []int64
}

type settingsConsumer interface {
	SetSettings(settings cache.Settings)
}

// syncRuntime reloads the config file and restarts the scheduler with the
// new snapshot. Remote credentials and the listen address need a process
// restart; only sync settings are reloaded.
type syncRuntime struct {
	configPath    string
	sched         restartableScheduler
	items         settingsConsumer
	notifications settingsConsumer
	logger        *slog.Logger

	mu sync.Mutex
}

var (
	_ settingsConsumer = (*service.ItemService)(nil)
	_ settingsConsumer = (*service.NotificationService)(nil)
)

func (r *syncRuntime) Interval() time.Duration { return r.sched.Interval() }

func (r *syncRuntime) Queue() []int64 { return r.sched.Queue() }

func (r *syncRuntime) Restart(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, err := config.Load(r.configPath)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	settings := syncSettings(cfg)
	if r.items != nil {
		r.items.SetSettings(settings.Poller.Merge)
	}
	if r.notifications != nil {
		r.notifications.SetSettings(settings.Poller.Merge)
	}
	if err := r.sched.Restart(settings); err != nil {
		return fmt.Errorf("restart scheduler: %w", err)
	}
	r.logger.Info("sync settings reloaded", "interval", settings.Interval, "max_items", settings.Poller.Merge.MaxItems)
	return nil
}
