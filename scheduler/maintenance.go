package scheduler

import (
	"context"
	"log"
	"time"

	"rfp_scout/storage"
)

type MaintenanceStore interface {
	TimesStore
	PruneOlderThan(ctx context.Context, kind storage.PruneKind, cutoff time.Time) (int64, error)
}

type MaintenanceOptions struct {
	Interval     time.Duration
	LogRetention time.Duration
	RunRetention time.Duration
	Location     *time.Location
}

type MaintenanceReport struct {
	LogsPruned       int64 `json:"logs_pruned"`
	RunsPruned       int64 `json:"runs_pruned"`
	SchedulesUpdated int   `json:"schedules_updated"`
}

// Maintenance prunes old logs and runs and keeps next_run current for every
// schedule.
type Maintenance struct {
	store    MaintenanceStore
	registry *Registry
	opts     MaintenanceOptions
	now      func() time.Time
}

func NewMaintenance(store MaintenanceStore, registry *Registry, opts MaintenanceOptions) *Maintenance {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Maintenance{store: store, registry: registry, opts: opts, now: time.Now}
}

// Run performs one pass immediately, then one per interval until ctx ends.
func (m *Maintenance) Run(ctx context.Context) {
	m.RunOnce(ctx, m.now())

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.RunOnce(ctx, m.now())
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce never fails; each step logs its own errors and the rest continue.
func (m *Maintenance) RunOnce(ctx context.Context, now time.Time) MaintenanceReport {
	var report MaintenanceReport

	if m.opts.LogRetention > 0 {
		n, err := m.store.PruneOlderThan(ctx, storage.PruneLogs, now.Add(-m.opts.LogRetention))
		if err != nil {
			log.Printf("[Maintenance] Log cleanup failed: %v", err)
		} else {
			report.LogsPruned = n
		}
	}
	if m.opts.RunRetention > 0 {
		n, err := m.store.PruneOlderThan(ctx, storage.PruneRuns, now.Add(-m.opts.RunRetention))
		if err != nil {
			log.Printf("[Maintenance] Run cleanup failed: %v", err)
		} else {
			report.RunsPruned = n
		}
	}

	for _, s := range m.registry.List() {
		if !s.Enabled {
			continue
		}
		next, err := NextRun(s.CronExpression, now, m.opts.Location)
		if err != nil {
			continue
		}
		next = next.UTC()
		if s.NextRun != nil && s.NextRun.Equal(next) {
			continue
		}
		m.registry.SetNextRun(s.ID, next)
		if err := m.store.UpdateScheduleTimes(ctx, s.ID, nil, &next); err != nil {
			log.Printf("[Maintenance] Failed to update next run for %s: %v", s.ID, err)
			continue
		}
		report.SchedulesUpdated++
	}

	if report.LogsPruned > 0 || report.RunsPruned > 0 || report.SchedulesUpdated > 0 {
		log.Printf("[Maintenance] Pruned %d logs, %d runs; refreshed %d schedules",
			report.LogsPruned, report.RunsPruned, report.SchedulesUpdated)
	}
	return report
}
