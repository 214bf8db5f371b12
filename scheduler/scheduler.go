package scheduler

import (
	"context"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"rfp_scout/models"
)

// Launcher starts a discovery run for a schedule and blocks until it ends.
type Launcher interface {
	Execute(ctx context.Context, cfg models.SearchConfig, scheduleID string) (*models.Run, error)
}

// TimesStore persists trigger bookkeeping.
type TimesStore interface {
	UpdateScheduleTimes(ctx context.Context, id string, lastRun, nextRun *time.Time) error
}

type LoopOptions struct {
	Interval time.Duration
	Window   time.Duration
	Location *time.Location
}

// Loop evaluates every enabled schedule once per interval and launches the
// ones that are due.
type Loop struct {
	registry *Registry
	store    TimesStore
	launcher Launcher
	interval time.Duration
	window   time.Duration
	loc      *time.Location
	now      func() time.Time

	wg sync.WaitGroup
}

func NewLoop(registry *Registry, store TimesStore, launcher Launcher, opts LoopOptions) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Loop{
		registry: registry,
		store:    store,
		launcher: launcher,
		interval: opts.Interval,
		window:   opts.Window,
		loc:      opts.Location,
		now:      time.Now,
	}
}

// Run ticks until ctx is cancelled. Runs already launched are not waited for;
// use Wait for that.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	log.Printf("[Scheduler] Loop started (interval %s, window %s, tz %s)", l.interval, l.window, l.loc)
	for {
		select {
		case <-ticker.C:
			l.Tick(ctx, l.now())
		case <-ctx.Done():
			log.Printf("[Scheduler] Loop stopped")
			return
		}
	}
}

// Tick evaluates all schedules at now and returns the ids it launched.
func (l *Loop) Tick(ctx context.Context, now time.Time) []string {
	var launched []string
	for _, s := range l.registry.List() {
		if !s.Enabled {
			continue
		}
		if l.check(ctx, s, now) {
			launched = append(launched, s.ID)
		}
	}
	return launched
}

// Wait blocks until every run launched by Tick has returned.
func (l *Loop) Wait() {
	l.wg.Wait()
}

func (l *Loop) check(ctx context.Context, s models.Schedule, now time.Time) (launched bool) {
	unlock, ok := l.registry.TryLock(s.ID)
	if !ok {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Scheduler] Panic evaluating schedule %s: %v\n%s", s.ID, r, debug.Stack())
			launched = false
		}
		if !launched {
			unlock()
		}
	}()

	due, err := IsDue(s.CronExpression, s.LastRun, now, l.window, l.loc)
	if err != nil {
		log.Printf("[Scheduler] Skipping schedule %s (%s): %v", s.ID, s.Name, err)
		return false
	}
	if !due {
		return false
	}

	lastRun := now.UTC()
	var nextRun *time.Time
	if next, err := NextRun(s.CronExpression, now, l.loc); err == nil {
		n := next.UTC()
		nextRun = &n
	}
	l.registry.MarkRun(s.ID, lastRun, nextRun)
	if err := l.store.UpdateScheduleTimes(ctx, s.ID, &lastRun, nextRun); err != nil {
		log.Printf("[Scheduler] Failed to persist times for schedule %s: %v", s.ID, err)
	}

	cfg := s.SearchConfig.Clone()
	if s.RunMode != "" {
		cfg.RunMode = s.RunMode
	}

	log.Printf("[Scheduler] Schedule %s (%s) is due, launching run", s.ID, s.Name)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer unlock()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[Scheduler] Panic in scheduled run for %s: %v\n%s", s.ID, r, debug.Stack())
			}
		}()

		// The run outlives the loop's context; the launcher owns cancellation.
		run, err := l.launcher.Execute(context.WithoutCancel(ctx), cfg, s.ID)
		if err != nil {
			log.Printf("[Scheduler] Scheduled run for %s did not complete: %v", s.ID, err)
			return
		}
		log.Printf("[Scheduler] Scheduled run %s for %s finished: %s", run.ID, s.ID, run.Status)
	}()
	return true
}
