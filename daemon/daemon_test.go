package daemon

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"rfp_scout/discovery"
	"rfp_scout/export"
	"rfp_scout/models"
	"rfp_scout/qualifier"
	"rfp_scout/scheduler"
	"rfp_scout/source"
	"rfp_scout/storage"
)

type profileSettings struct{}

func (profileSettings) CompanyProfile() models.CompanyProfile {
	return models.CompanyProfile{Name: "Acme", Capabilities: []string{"machine learning"}}
}

func newTestDaemon(t *testing.T) (*Daemon, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "daemon.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	exec := discovery.NewExecutor(discovery.Deps{
		Store:    store,
		Source:   source.NewMockSource(),
		Scorer:   qualifier.NewKeywordScorer(),
		Settings: profileSettings{},
		Sinks:    export.NewMulti(export.NewStoreSink(store)),
	}, discovery.Options{DefaultModel: "keyword"})

	d := New(Deps{Store: store, Executor: exec}, Options{
		SchedulerInterval:   time.Hour,
		MaintenanceInterval: time.Hour,
		DueWindow:           time.Minute,
		Location:            time.UTC,
	})
	t.Cleanup(func() {
		d.Stop()
		d.WaitForRuns(10 * time.Second)
	})
	return d, store
}

func TestDaemon_StartStopIdempotent(t *testing.T) {
	d, _ := newTestDaemon(t)
	ctx := context.Background()

	if d.Running() {
		t.Fatalf("new daemon should not be running")
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("second start should be a no-op, got %v", err)
	}
	if !d.Running() {
		t.Fatalf("expected running")
	}

	d.Stop()
	d.Stop()
	if d.Running() {
		t.Fatalf("expected stopped")
	}

	status := d.Status()
	if status.Running || status.UptimeSeconds != 0 {
		t.Fatalf("unexpected status after stop %+v", status)
	}
}

func TestDaemon_RestartLoadsOnlyEnabledSchedules(t *testing.T) {
	d, _ := newTestDaemon(t)
	ctx := context.Background()

	enabledID, err := d.AddSchedule(ctx, models.Schedule{Name: "daily", CronExpression: "0 17 * * *", Enabled: true})
	if err != nil {
		t.Fatalf("add enabled: %v", err)
	}
	if _, err := d.AddSchedule(ctx, models.Schedule{Name: "paused", CronExpression: "0 9 * * 1", Enabled: false}); err != nil {
		t.Fatalf("add disabled: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := d.Start(ctx); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		active := d.Status().ActiveSchedules
		if len(active) != 1 || active[0].ID != enabledID {
			t.Fatalf("start %d: expected only the enabled schedule, got %+v", i, active)
		}
		d.Stop()
	}

	all, err := d.ListSchedules(ctx)
	if err != nil {
		t.Fatalf("list schedules: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both schedules in the store, got %d", len(all))
	}
}

func TestDaemon_ScheduleCRUD(t *testing.T) {
	d, _ := newTestDaemon(t)
	ctx := context.Background()

	if _, err := d.AddSchedule(ctx, models.Schedule{Name: "bad", CronExpression: "every day"}); !errors.Is(err, scheduler.ErrScheduleInvalid) {
		t.Fatalf("expected ErrScheduleInvalid, got %v", err)
	}

	id, err := d.AddSchedule(ctx, models.Schedule{Name: "daily", CronExpression: "0 17 * * *", Enabled: true})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := d.GetSchedule(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.NextRun == nil || got.SearchConfig.ModelName != "keyword" || got.RunMode != models.RunModeNormal {
		t.Fatalf("expected prepared schedule, got %+v", got)
	}

	got.Enabled = false
	found, err := d.UpdateSchedule(ctx, *got)
	if err != nil || !found {
		t.Fatalf("update: %v %v", found, err)
	}
	if d.Status().SystemMetrics.ScheduleCount != 0 {
		t.Fatalf("disabled schedule should leave the registry")
	}
	if found, _ := d.UpdateSchedule(ctx, models.Schedule{ID: "missing", CronExpression: "0 1 * * *"}); found {
		t.Fatalf("expected update of unknown schedule to report not found")
	}

	removed, err := d.RemoveSchedule(ctx, id)
	if err != nil || !removed {
		t.Fatalf("first remove: %v %v", removed, err)
	}
	removed, err = d.RemoveSchedule(ctx, id)
	if err != nil || removed {
		t.Fatalf("second remove should report false, got %v %v", removed, err)
	}
}

func TestDaemon_RemoveScheduleKeepsRegistryOnStoreFailure(t *testing.T) {
	d, store := newTestDaemon(t)
	ctx := context.Background()

	id, err := d.AddSchedule(ctx, models.Schedule{Name: "daily", CronExpression: "0 17 * * *", Enabled: true})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	store.Close()

	if _, err := d.RemoveSchedule(ctx, id); err == nil {
		t.Fatalf("expected remove to fail on a closed store")
	}
	if _, ok := d.registry.Get(id); !ok {
		t.Fatalf("schedule should stay registered when the store delete fails")
	}
}

func TestDaemon_SeedSchedulesKeepsStoredVersion(t *testing.T) {
	d, store := newTestDaemon(t)
	ctx := context.Background()

	seed := []models.Schedule{{ID: "daily", CronExpression: "0 17 * * *", Enabled: true}}
	if err := d.SeedSchedules(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	stored, _ := store.GetSchedule(ctx, "daily")
	stored.CronExpression = "30 6 * * *"
	if err := store.UpsertSchedule(ctx, stored); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := d.SeedSchedules(ctx, seed); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	again, _ := store.GetSchedule(ctx, "daily")
	if again.CronExpression != "30 6 * * *" {
		t.Fatalf("seeding overwrote the stored schedule: %q", again.CronExpression)
	}
}

func TestDaemon_TriggerImmediateRun(t *testing.T) {
	d, _ := newTestDaemon(t)
	ctx := context.Background()

	if _, err := d.TriggerImmediateRun(ctx, nil); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}

	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	ack, err := d.TriggerImmediateRun(ctx, &models.SearchConfig{Keywords: []string{"machine learning"}, RunMode: models.RunModeTest})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if ack.RunID == "" || ack.TriggeredAt.IsZero() {
		t.Fatalf("incomplete ack %+v", ack)
	}
	if !d.WaitForRuns(10 * time.Second) {
		t.Fatalf("run did not finish in time")
	}

	run, err := d.GetRun(ctx, ack.RunID)
	if err != nil || run == nil {
		t.Fatalf("get run: %v %v", run, err)
	}
	if run.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed run, got %s", run.Status)
	}
	if recent := d.ListRecentRuns(5); len(recent) != 1 || recent[0].ID != ack.RunID {
		t.Fatalf("unexpected recent runs %v", recent)
	}

	logs, err := d.GetRunLogs(ctx, ack.RunID, 100)
	if err != nil || logs.TotalEntries == 0 {
		t.Fatalf("expected run logs, got %+v %v", logs, err)
	}

	missing, err := d.GetRun(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown run, got %v %v", missing, err)
	}
	if d.CancelCurrentRun() {
		t.Fatalf("nothing should be running")
	}

	status := d.Status()
	if !status.Running || status.SystemMetrics.RunCount != 1 || len(status.RecentRuns) != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
}
