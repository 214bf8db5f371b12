// Package daemon is the control surface over the scheduler, maintenance loop
// and run executor.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"rfp_scout/config"
	"rfp_scout/discovery"
	"rfp_scout/models"
	"rfp_scout/scheduler"
	"rfp_scout/storage"
)

var ErrNotRunning = errors.New("daemon is not running")

type Deps struct {
	Store    storage.Store
	Executor *discovery.Executor
}

type Options struct {
	SchedulerInterval   time.Duration
	MaintenanceInterval time.Duration
	DueWindow           time.Duration
	LogRetention        time.Duration
	RunRetention        time.Duration
	StopPolicy          string
	Location            *time.Location
	DefaultModel        string
}

func OptionsFromConfig(cfg *config.Config) (Options, error) {
	loc, err := cfg.Location()
	if err != nil {
		return Options{}, err
	}
	return Options{
		SchedulerInterval:   cfg.Daemon.SchedulerInterval,
		MaintenanceInterval: cfg.Daemon.MaintenanceInterval,
		DueWindow:           cfg.Daemon.DueWindow,
		LogRetention:        cfg.Daemon.LogRetention,
		RunRetention:        cfg.Daemon.RunRetention,
		StopPolicy:          cfg.Daemon.StopPolicy,
		Location:            loc,
		DefaultModel:        cfg.Anthropic.DefaultModel,
	}, nil
}

// Ack acknowledges a background run request.
type Ack struct {
	RunID       string    `json:"run_id"`
	Message     string    `json:"message"`
	TriggeredAt time.Time `json:"triggered_at"`
}

type Daemon struct {
	store       storage.Store
	executor    *discovery.Executor
	registry    *scheduler.Registry
	loop        *scheduler.Loop
	maintenance *scheduler.Maintenance
	opts        Options
	now         func() time.Time

	// lifecycle guards Start and Stop; Status reads only the atomics.
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	running   atomic.Bool
	startedAt atomic.Int64
}

func New(deps Deps, opts Options) *Daemon {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.StopPolicy == "" {
		opts.StopPolicy = config.StopPolicyDrain
	}

	registry := scheduler.NewRegistry()
	return &Daemon{
		store:    deps.Store,
		executor: deps.Executor,
		registry: registry,
		loop: scheduler.NewLoop(registry, deps.Store, deps.Executor, scheduler.LoopOptions{
			Interval: opts.SchedulerInterval,
			Window:   opts.DueWindow,
			Location: opts.Location,
		}),
		maintenance: scheduler.NewMaintenance(deps.Store, registry, scheduler.MaintenanceOptions{
			Interval:     opts.MaintenanceInterval,
			LogRetention: opts.LogRetention,
			RunRetention: opts.RunRetention,
			Location:     opts.Location,
		}),
		opts: opts,
		now:  time.Now,
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start loads enabled schedules and launches the scheduler and maintenance
// loops. Starting a running daemon is a no-op.
func (d *Daemon) Start(ctx context.Context) error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	if d.running.Load() {
		log.Printf("[Daemon] Start requested but daemon is already running")
		return nil
	}

	count, err := d.ReloadSchedules(ctx)
	if err != nil {
		return err
	}

	if d.cancel != nil {
		d.cancel()
		d.wg.Wait()
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.loop.Run(loopCtx)
	}()
	go func() {
		defer d.wg.Done()
		d.maintenance.Run(loopCtx)
	}()

	d.startedAt.Store(d.now().UnixNano())
	d.running.Store(true)
	log.Printf("[Daemon] Started with %d active schedules", count)
	return nil
}

// ReloadSchedules replaces the registry with the enabled schedules in the
// store.
func (d *Daemon) ReloadSchedules(ctx context.Context) (int, error) {
	schedules, err := d.store.LoadEnabledSchedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("load schedules: %w", err)
	}
	d.registry.Replace(schedules)
	return len(schedules), nil
}

// Stop halts both loops and waits for them. Under the cancel policy the
// in-flight run is cancelled too; under drain it is left to finish.
func (d *Daemon) Stop() {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	if !d.running.Load() {
		log.Printf("[Daemon] Stop requested but daemon is not running")
		return
	}
	d.running.Store(false)

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()

	if d.opts.StopPolicy == config.StopPolicyCancel && d.executor.CancelCurrent() {
		log.Printf("[Daemon] Cancelled in-flight run")
	}
	log.Printf("[Daemon] Stopped")
}

func (d *Daemon) Running() bool {
	return d.running.Load()
}

// WaitForRuns blocks until in-flight runs finish or timeout elapses. It
// reports whether everything finished.
func (d *Daemon) WaitForRuns(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.loop.Wait()
		d.executor.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Status is assembled from in-memory state only.
func (d *Daemon) Status() models.DaemonStatus {
	running := d.running.Load()

	var uptime float64
	if running {
		uptime = d.now().Sub(time.Unix(0, d.startedAt.Load())).Seconds()
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return models.DaemonStatus{
		Running:         running,
		UptimeSeconds:   uptime,
		CurrentRun:      d.executor.Current(),
		RecentRuns:      d.executor.Recent(0),
		ActiveSchedules: d.registry.List(),
		SystemMetrics: models.SystemMetrics{
			MemoryMB:      float64(ms.Sys) / (1 << 20),
			HeapMB:        float64(ms.HeapAlloc) / (1 << 20),
			Goroutines:    runtime.NumGoroutine(),
			ScheduleCount: d.registry.Len(),
			RunCount:      d.executor.RunCount(),
			UptimeHours:   uptime / 3600,
		},
	}
}

// =============================================================================
// Schedules
// =============================================================================

func (d *Daemon) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	return d.store.ListSchedules(ctx)
}

func (d *Daemon) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	return d.store.GetSchedule(ctx, id)
}

// AddSchedule stores a new schedule under a generated id and registers it
// when enabled.
func (d *Daemon) AddSchedule(ctx context.Context, s models.Schedule) (string, error) {
	s.ID = uuid.NewString()
	if strings.TrimSpace(s.Name) == "" {
		s.Name = "Schedule " + s.ID[:8]
	}
	s.LastRun = nil
	s.CreatedAt = d.now().UTC()
	if err := d.prepare(&s); err != nil {
		return "", err
	}

	if err := d.store.UpsertSchedule(ctx, &s); err != nil {
		return "", err
	}
	if s.Enabled {
		d.registry.Put(s)
	}
	log.Printf("[Daemon] Added schedule %s (%s, %q)", s.ID, s.Name, s.CronExpression)
	return s.ID, nil
}

// UpdateSchedule replaces the definition of an existing schedule. found is
// false when no schedule has that id.
func (d *Daemon) UpdateSchedule(ctx context.Context, s models.Schedule) (found bool, err error) {
	existing, err := d.store.GetSchedule(ctx, s.ID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}

	s.CreatedAt = existing.CreatedAt
	s.LastRun = existing.LastRun
	if reg, ok := d.registry.Get(s.ID); ok && reg.LastRun != nil {
		s.LastRun = reg.LastRun
	}
	if err := d.prepare(&s); err != nil {
		return true, err
	}

	if err := d.store.UpsertSchedule(ctx, &s); err != nil {
		return true, err
	}
	if s.Enabled {
		d.registry.Put(s)
	} else {
		d.registry.Remove(s.ID)
	}
	return true, nil
}

func (d *Daemon) RemoveSchedule(ctx context.Context, id string) (bool, error) {
	removed, err := d.store.DeleteSchedule(ctx, id)
	if err != nil {
		return false, err
	}
	d.registry.Remove(id)
	if removed {
		log.Printf("[Daemon] Removed schedule %s", id)
	}
	return removed, nil
}

// SeedSchedules stores configured schedules the store does not know yet.
// Stored schedules win over configured ones with the same id.
func (d *Daemon) SeedSchedules(ctx context.Context, schedules []models.Schedule) error {
	for _, s := range schedules {
		existing, err := d.store.GetSchedule(ctx, s.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := d.prepare(&s); err != nil {
			log.Printf("[Daemon] Skipping configured schedule %s: %v", s.ID, err)
			continue
		}
		if s.Name == "" {
			s.Name = s.ID
		}
		if err := d.store.UpsertSchedule(ctx, &s); err != nil {
			return err
		}
		if s.Enabled && d.running.Load() {
			d.registry.Put(s)
		}
		log.Printf("[Daemon] Seeded schedule %s from config", s.ID)
	}
	return nil
}

// prepare validates the cron expression, normalizes the search config and
// computes next_run.
func (d *Daemon) prepare(s *models.Schedule) error {
	s.CronExpression = strings.TrimSpace(s.CronExpression)
	if s.CronExpression == "" {
		s.CronExpression = models.DefaultCronExpression
	}
	next, err := scheduler.NextRun(s.CronExpression, d.now(), d.opts.Location)
	if err != nil {
		return err
	}
	n := next.UTC()
	s.NextRun = &n

	if s.RunMode == "" {
		s.RunMode = s.SearchConfig.RunMode
	}
	s.SearchConfig = s.SearchConfig.Normalize(d.opts.DefaultModel)
	if s.RunMode == "" {
		s.RunMode = s.SearchConfig.RunMode
	}
	return nil
}

// =============================================================================
// Runs
// =============================================================================

func (d *Daemon) ListRecentRuns(limit int) []*models.Run {
	return d.executor.Recent(limit)
}

// GetRun checks the in-flight and recent runs before the store. It returns
// nil when the run is unknown.
func (d *Daemon) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	if run := d.executor.FindRecent(runID); run != nil {
		return run, nil
	}
	return d.store.GetRun(ctx, runID)
}

func (d *Daemon) GetRunLogs(ctx context.Context, runID string, limit int) (*models.RunLogs, error) {
	entries, err := d.store.GetRunLogs(ctx, runID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.LogEntry{}
	}
	return &models.RunLogs{RunID: runID, Entries: entries, TotalEntries: len(entries)}, nil
}

// =============================================================================
// Control
// =============================================================================

// TriggerImmediateRun starts a background run. A nil cfg uses the default
// search configuration.
func (d *Daemon) TriggerImmediateRun(ctx context.Context, cfg *models.SearchConfig) (Ack, error) {
	if !d.running.Load() {
		return Ack{}, ErrNotRunning
	}

	search := models.DefaultSearchConfig()
	if cfg != nil {
		search = *cfg
	}
	runID, err := d.executor.Launch(ctx, search, "")
	if err != nil {
		return Ack{}, err
	}
	return Ack{
		RunID:       runID,
		Message:     "Discovery run started in background",
		TriggeredAt: d.now().UTC(),
	}, nil
}

func (d *Daemon) CancelCurrentRun() bool {
	return d.executor.CancelCurrent()
}

func (d *Daemon) RunMaintenance(ctx context.Context) scheduler.MaintenanceReport {
	return d.maintenance.RunOnce(ctx, d.now())
}
