// Package discovery runs the search, score and publish pipeline, one run at a
// time per process.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rfp_scout/export"
	"rfp_scout/models"
	"rfp_scout/qualifier"
	"rfp_scout/scheduler"
	"rfp_scout/source"
	"rfp_scout/storage"
)

var _ scheduler.Launcher = (*Executor)(nil)

// ErrRunInProgress is returned when another run holds the process guard.
var ErrRunInProgress = errors.New("a discovery run is already in progress")

// SettingsProvider supplies settings that are read fresh for every run.
type SettingsProvider interface {
	CompanyProfile() models.CompanyProfile
}

type Deps struct {
	Store    storage.Store
	Source   source.Source
	Scorer   qualifier.Scorer
	Settings SettingsProvider
	Sinks    *export.Multi
}

type Options struct {
	DefaultModel  string
	MaxRecentRuns int
	ScoreTimeout  time.Duration
}

// Executor performs discovery runs. At most one run executes at a time.
type Executor struct {
	store    storage.Store
	source   source.Source
	scorer   qualifier.Scorer
	settings SettingsProvider
	sinks    *export.Multi
	opts     Options
	now      func() time.Time

	guard sync.Mutex
	wg    sync.WaitGroup

	mu       sync.Mutex
	current  *models.Run
	cancel   context.CancelFunc
	recent   []*models.Run
	runCount int64
	idSecond string
	idSeen   map[string]int
}

func NewExecutor(deps Deps, opts Options) *Executor {
	if opts.MaxRecentRuns <= 0 {
		opts.MaxRecentRuns = 10
	}
	if opts.ScoreTimeout <= 0 {
		opts.ScoreTimeout = 2 * time.Minute
	}
	if deps.Sinks == nil {
		deps.Sinks = export.NewMulti()
	}
	return &Executor{
		store:    deps.Store,
		source:   deps.Source,
		scorer:   deps.Scorer,
		settings: deps.Settings,
		sinks:    deps.Sinks,
		opts:     opts,
		now:      time.Now,
		idSeen:   make(map[string]int),
	}
}

// Execute performs a run and blocks until it reaches a terminal status.
// Cancelling ctx cancels the run.
func (e *Executor) Execute(ctx context.Context, cfg models.SearchConfig, scheduleID string) (*models.Run, error) {
	if !e.guard.TryLock() {
		return nil, ErrRunInProgress
	}
	defer e.guard.Unlock()

	e.wg.Add(1)
	defer e.wg.Done()

	run, runCtx, err := e.begin(ctx, cfg, scheduleID)
	if err != nil {
		return nil, err
	}
	return e.execute(runCtx, run)
}

// Launch starts a run in the background and returns its id once the run is
// registered. The run is detached from ctx; use CancelCurrent to stop it.
func (e *Executor) Launch(ctx context.Context, cfg models.SearchConfig, scheduleID string) (string, error) {
	if !e.guard.TryLock() {
		return "", ErrRunInProgress
	}

	run, runCtx, err := e.begin(context.WithoutCancel(ctx), cfg, scheduleID)
	if err != nil {
		e.guard.Unlock()
		return "", err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.guard.Unlock()
		if _, err := e.execute(runCtx, run); err != nil {
			log.Printf("[Discovery] Background run %s ended with error: %v", run.ID, err)
		}
	}()
	return run.ID, nil
}

func (e *Executor) begin(ctx context.Context, cfg models.SearchConfig, scheduleID string) (*models.Run, context.Context, error) {
	now := e.now().UTC()
	run := &models.Run{
		ID:           e.nextRunID(now, scheduleID),
		ScheduleID:   scheduleID,
		StartedAt:    now,
		Status:       models.RunStatusRunning,
		SearchConfig: cfg.Normalize(e.opts.DefaultModel),
	}
	if err := e.store.UpsertRun(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("persist new run: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.current = run
	e.cancel = cancel
	e.runCount++
	e.mu.Unlock()

	e.logRun(runCtx, run.ID, models.LogLevelInfo, "Discovery run started", map[string]any{
		"schedule_id": scheduleID,
		"run_mode":    string(run.SearchConfig.RunMode),
		"keywords":    run.SearchConfig.Keywords,
		"max_rfps":    run.SearchConfig.MaxItems,
	})
	return run, runCtx, nil
}

func (e *Executor) execute(runCtx context.Context, run *models.Run) (*models.Run, error) {
	// Bookkeeping writes must land even after the run is cancelled.
	persistCtx := context.WithoutCancel(runCtx)
	cfg := run.SearchConfig

	opps, err := e.source.Search(runCtx, source.QueryFor(cfg))
	if err != nil {
		return e.fail(runCtx, run, err)
	}

	e.mu.Lock()
	run.TotalFound = len(opps)
	snapshot := run.Clone()
	e.mu.Unlock()
	if err := e.store.UpdateRunOutcome(persistCtx, snapshot); err != nil {
		log.Printf("[Discovery] Failed to record total found for %s: %v", run.ID, err)
	}
	e.logRun(runCtx, run.ID, models.LogLevelInfo, fmt.Sprintf("Found %d opportunities", len(opps)), nil)

	results, err := e.score(runCtx, run, opps)
	if err != nil {
		return e.fail(runCtx, run, err)
	}
	return e.complete(persistCtx, run, results)
}

// score assesses opps with at most BatchSize calls in flight. Per-item
// failures are recorded on the run; only cancellation is returned.
func (e *Executor) score(runCtx context.Context, run *models.Run, opps []models.Opportunity) ([]*models.ProcessedOpportunity, error) {
	cfg := run.SearchConfig
	profile := e.settings.CompanyProfile()
	results := make([]*models.ProcessedOpportunity, len(opps))

	var g errgroup.Group
	g.SetLimit(cfg.BatchSize)
	for i, opp := range opps {
		if runCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			itemCtx, cancel := context.WithTimeout(runCtx, e.opts.ScoreTimeout)
			defer cancel()

			start := time.Now()
			assessment, err := e.assess(itemCtx, opp, cfg.ModelName, profile)
			if err != nil {
				if runCtx.Err() == nil {
					e.recordItemError(runCtx, run, opp.NoticeID, err)
				}
				return nil
			}
			if assessment.ModelUsed == "" {
				assessment.ModelUsed = cfg.ModelName
			}
			if assessment.ProcessingTimeMS == 0 {
				assessment.ProcessingTimeMS = time.Since(start).Milliseconds()
			}
			results[i] = &models.ProcessedOpportunity{Opportunity: opp, Assessment: *assessment}
			return nil
		})
	}
	g.Wait()

	if err := runCtx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

type assessResult struct {
	assessment *models.Assessment
	err        error
}

// assess runs one scorer call bounded by ctx. A call that outlives ctx is
// abandoned and its late result dropped. A scorer panic becomes an error.
func (e *Executor) assess(ctx context.Context, opp models.Opportunity, model string, profile models.CompanyProfile) (*models.Assessment, error) {
	done := make(chan assessResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- assessResult{err: fmt.Errorf("scorer panicked on %s: %v", opp.NoticeID, r)}
			}
		}()
		a, err := e.scorer.Assess(ctx, opp, model, profile)
		if err == nil && a == nil {
			err = fmt.Errorf("scorer returned no assessment for %s", opp.NoticeID)
		}
		done <- assessResult{assessment: a, err: err}
	}()

	select {
	case r := <-done:
		return r.assessment, r.err
	case <-ctx.Done():
		select {
		case r := <-done:
			return r.assessment, r.err
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("scoring timed out after %s: %w", e.opts.ScoreTimeout, ctx.Err())
		}
		return nil, ctx.Err()
	}
}

func (e *Executor) recordItemError(ctx context.Context, run *models.Run, noticeID string, err error) {
	e.mu.Lock()
	run.TotalErrors++
	run.Errors = append(run.Errors, models.RunError{
		Error:     err.Error(),
		NoticeID:  noticeID,
		Timestamp: e.now().UTC(),
	})
	e.mu.Unlock()

	e.logRun(ctx, run.ID, models.LogLevelWarning, "Failed to score opportunity", map[string]any{
		"notice_id": noticeID,
		"error":     err.Error(),
	})
}

func (e *Executor) complete(ctx context.Context, run *models.Run, results []*models.ProcessedOpportunity) (*models.Run, error) {
	e.mu.Lock()
	for _, r := range results {
		if r != nil {
			run.Add(*r)
		}
	}
	e.stamp(run, models.RunStatusCompleted)
	snapshot := run.Clone()
	e.mu.Unlock()

	if err := e.store.UpdateRunOutcome(ctx, snapshot); err != nil {
		e.logRun(ctx, run.ID, models.LogLevelError, "Failed to persist completed run", map[string]any{"error": err.Error()})
		e.mu.Lock()
		e.pushRecent(run)
		e.clearCurrent(run)
		out := run.Clone()
		e.mu.Unlock()
		return out, fmt.Errorf("persist run %s: %w", run.ID, err)
	}

	exports := e.sinks.Publish(ctx, snapshot)

	e.mu.Lock()
	run.Exports = exports
	e.pushRecent(run)
	e.clearCurrent(run)
	out := run.Clone()
	e.mu.Unlock()

	e.logRun(ctx, run.ID, models.LogLevelInfo, "Discovery run completed", map[string]any{
		"total_found":     out.TotalFound,
		"total_processed": out.TotalProcessed,
		"total_qualified": out.TotalQualified,
		"total_maybe":     out.TotalMaybe,
		"total_rejected":  out.TotalRejected,
		"total_errors":    out.TotalErrors,
	})
	return out, nil
}

func (e *Executor) fail(runCtx context.Context, run *models.Run, cause error) (*models.Run, error) {
	ctx := context.WithoutCancel(runCtx)
	status := models.RunStatusFailed
	if runCtx.Err() != nil {
		status = models.RunStatusCancelled
	}

	e.mu.Lock()
	e.stamp(run, status)
	run.Errors = append(run.Errors, models.RunError{Error: cause.Error(), Timestamp: *run.CompletedAt})
	e.clearCurrent(run)
	out := run.Clone()
	e.mu.Unlock()

	if err := e.store.UpdateRunOutcome(ctx, out); err != nil {
		log.Printf("[Discovery] Failed to persist %s run %s: %v", status, run.ID, err)
	}

	level := models.LogLevelError
	if status == models.RunStatusCancelled {
		level = models.LogLevelWarning
	}
	e.logRun(ctx, run.ID, level, fmt.Sprintf("Discovery run %s", status), map[string]any{"error": cause.Error()})
	return out, fmt.Errorf("run %s %s: %w", run.ID, status, cause)
}

// stamp must be called with e.mu held.
func (e *Executor) stamp(run *models.Run, status models.RunStatus) {
	completed := e.now().UTC()
	elapsed := completed.Sub(run.StartedAt).Seconds()
	run.Status = status
	run.CompletedAt = &completed
	run.ProcessingTimeSeconds = &elapsed
}

// pushRecent must be called with e.mu held.
func (e *Executor) pushRecent(run *models.Run) {
	e.recent = append([]*models.Run{run}, e.recent...)
	if len(e.recent) > e.opts.MaxRecentRuns {
		e.recent = e.recent[:e.opts.MaxRecentRuns]
	}
}

// clearCurrent must be called with e.mu held.
func (e *Executor) clearCurrent(run *models.Run) {
	if e.current != run {
		return
	}
	e.current = nil
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// nextRunID is YYYYMMDD_HHMMSS[_scheduleID], with -N appended when the same
// id was already handed out within the same second.
func (e *Executor) nextRunID(now time.Time, scheduleID string) string {
	base := now.Format("20060102_150405")
	second := base
	if scheduleID != "" {
		base += "_" + scheduleID
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if second != e.idSecond {
		e.idSecond = second
		clear(e.idSeen)
	}
	n := e.idSeen[base]
	e.idSeen[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, n)
}

// logRun writes a run log entry to the store and mirrors it to the process
// log. Store failures are logged and otherwise ignored.
func (e *Executor) logRun(ctx context.Context, runID string, level models.LogLevel, message string, details map[string]any) {
	log.Printf("[Discovery] %s %s: %s", level, runID, message)
	if err := e.store.AppendLog(context.WithoutCancel(ctx), runID, level, message, details); err != nil {
		log.Printf("[Discovery] Failed to store log for %s: %v", runID, err)
	}
}

// Current returns a copy of the in-flight run, or nil.
func (e *Executor) Current() *models.Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current.Clone()
}

// Recent returns up to limit completed runs, most recent first. A limit of
// zero or less returns all of them.
func (e *Executor) Recent(limit int) []*models.Run {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.recent)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*models.Run, 0, n)
	for _, r := range e.recent[:n] {
		out = append(out, r.Clone())
	}
	return out
}

// FindRecent looks a run up among the current and recent runs.
func (e *Executor) FindRecent(runID string) *models.Run {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil && e.current.ID == runID {
		return e.current.Clone()
	}
	for _, r := range e.recent {
		if r.ID == runID {
			return r.Clone()
		}
	}
	return nil
}

func (e *Executor) RunCount() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runCount
}

func (e *Executor) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// CancelCurrent cancels the in-flight run. It reports whether there was one.
func (e *Executor) CancelCurrent() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil || e.cancel == nil {
		return false
	}
	e.cancel()
	log.Printf("[Discovery] Cancellation requested for run %s", e.current.ID)
	return true
}

// Wait blocks until every run started through this executor has returned.
func (e *Executor) Wait() {
	e.wg.Wait()
}
