package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"rfp_scout/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := migrate(ctx, db, goose.DialectSQLite3, "migrations/sqlite"); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Runs
// =============================================================================

const runColumns = `run_id, schedule_id, started_at, completed_at, status,
	total_found, total_processed, total_qualified, total_maybe, total_rejected, total_errors,
	processing_time_seconds, search_config, errors`

func (s *SQLiteStore) UpsertRun(ctx context.Context, run *models.Run) error {
	searchConfig, err := json.Marshal(run.SearchConfig)
	if err != nil {
		return fmt.Errorf("marshal search config: %w", err)
	}
	errs, err := json.Marshal(run.Errors)
	if err != nil {
		return fmt.Errorf("marshal run errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			schedule_id = excluded.schedule_id,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			status = excluded.status,
			total_found = excluded.total_found,
			total_processed = excluded.total_processed,
			total_qualified = excluded.total_qualified,
			total_maybe = excluded.total_maybe,
			total_rejected = excluded.total_rejected,
			total_errors = excluded.total_errors,
			processing_time_seconds = excluded.processing_time_seconds,
			search_config = excluded.search_config,
			errors = excluded.errors`,
		run.ID, nullString(run.ScheduleID), run.StartedAt.UTC(), utcPtr(run.CompletedAt), string(run.Status),
		run.TotalFound, run.TotalProcessed, run.TotalQualified, run.TotalMaybe, run.TotalRejected, run.TotalErrors,
		run.ProcessingTimeSeconds, string(searchConfig), string(errs))
	if err != nil {
		return fmt.Errorf("upsert run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateRunOutcome(ctx context.Context, run *models.Run) error {
	errs, err := json.Marshal(run.Errors)
	if err != nil {
		return fmt.Errorf("marshal run errors: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			completed_at = ?, status = ?,
			total_found = ?, total_processed = ?, total_qualified = ?,
			total_maybe = ?, total_rejected = ?, total_errors = ?,
			processing_time_seconds = ?, errors = ?
		WHERE run_id = ?`,
		utcPtr(run.CompletedAt), string(run.Status),
		run.TotalFound, run.TotalProcessed, run.TotalQualified,
		run.TotalMaybe, run.TotalRejected, run.TotalErrors,
		run.ProcessingTimeSeconds, string(errs), run.ID)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.UpsertRun(ctx, run)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanSQLiteRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	items, err := s.ListAssessments(ctx, runID)
	if err != nil {
		return nil, err
	}
	bucket(run, items)
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		ORDER BY started_at DESC, run_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row rowScanner) (*models.Run, error) {
	var run models.Run
	var scheduleID, status, searchConfig, errs sql.NullString
	var completedAt sql.NullTime
	var procTime sql.NullFloat64

	err := row.Scan(&run.ID, &scheduleID, &run.StartedAt, &completedAt, &status,
		&run.TotalFound, &run.TotalProcessed, &run.TotalQualified, &run.TotalMaybe, &run.TotalRejected, &run.TotalErrors,
		&procTime, &searchConfig, &errs)
	if err != nil {
		return nil, err
	}

	run.ScheduleID = scheduleID.String
	run.Status = models.RunStatus(status.String)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if procTime.Valid {
		v := procTime.Float64
		run.ProcessingTimeSeconds = &v
	}
	if searchConfig.Valid && searchConfig.String != "" {
		if err := json.Unmarshal([]byte(searchConfig.String), &run.SearchConfig); err != nil {
			return nil, fmt.Errorf("decode search config for run %s: %w", run.ID, err)
		}
	}
	if errs.Valid && errs.String != "" {
		if err := json.Unmarshal([]byte(errs.String), &run.Errors); err != nil {
			return nil, fmt.Errorf("decode errors for run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}

// =============================================================================
// Logs
// =============================================================================

func (s *SQLiteStore) AppendLog(ctx context.Context, runID string, level models.LogLevel, message string, details map[string]any) error {
	payload, err := marshalNullable(details, len(details) == 0)
	if err != nil {
		return fmt.Errorf("marshal log details: %w", err)
	}

	var detailsCol any
	if payload != nil {
		detailsCol = string(payload)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO logs (run_id, timestamp, level, message, details)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now().UTC(), string(level), message, detailsCol)
	return err
}

func (s *SQLiteStore) GetRunLogs(ctx context.Context, runID string, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT log_id, run_id, timestamp, level, message, details
		FROM logs WHERE run_id = ?
		ORDER BY timestamp ASC, log_id ASC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		var level string
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Timestamp, &level, &e.Message, &details); err != nil {
			return nil, err
		}
		e.Level = models.LogLevel(level)
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("decode log details %d: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// Schedules
// =============================================================================

const scheduleColumns = `schedule_id, name, run_mode, cron_expression, enabled, search_config, last_run, next_run, created_at`

func (s *SQLiteStore) LoadEnabledSchedules(ctx context.Context) ([]models.Schedule, error) {
	return s.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE enabled = 1 ORDER BY created_at, schedule_id`)
}

func (s *SQLiteStore) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	return s.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY created_at, schedule_id`)
}

func (s *SQLiteStore) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE schedule_id = ?`, id)
	sched, err := scanSQLiteSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sched, nil
}

func (s *SQLiteStore) UpsertSchedule(ctx context.Context, sched *models.Schedule) error {
	searchConfig, err := json.Marshal(sched.SearchConfig)
	if err != nil {
		return fmt.Errorf("marshal search config: %w", err)
	}
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(schedule_id) DO UPDATE SET
			name = excluded.name,
			run_mode = excluded.run_mode,
			cron_expression = excluded.cron_expression,
			enabled = excluded.enabled,
			search_config = excluded.search_config,
			last_run = excluded.last_run,
			next_run = excluded.next_run`,
		sched.ID, sched.Name, string(sched.RunMode), sched.CronExpression, sched.Enabled, string(searchConfig),
		utcPtr(sched.LastRun), utcPtr(sched.NextRun), sched.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert schedule %s: %w", sched.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateScheduleTimes(ctx context.Context, id string, lastRun, nextRun *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET
			last_run = COALESCE(?, last_run),
			next_run = COALESCE(?, next_run)
		WHERE schedule_id = ?`,
		utcPtr(lastRun), utcPtr(nextRun), id)
	if err != nil {
		return fmt.Errorf("update schedule times %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSchedule(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE schedule_id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete schedule %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) querySchedules(ctx context.Context, query string) ([]models.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []models.Schedule
	for rows.Next() {
		sched, err := scanSQLiteSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *sched)
	}
	return schedules, rows.Err()
}

func scanSQLiteSchedule(row rowScanner) (*models.Schedule, error) {
	var sched models.Schedule
	var runMode, searchConfig string
	var lastRun, nextRun, createdAt sql.NullTime

	if err := row.Scan(&sched.ID, &sched.Name, &runMode, &sched.CronExpression, &sched.Enabled,
		&searchConfig, &lastRun, &nextRun, &createdAt); err != nil {
		return nil, err
	}

	sched.RunMode = models.RunMode(runMode)
	if err := json.Unmarshal([]byte(searchConfig), &sched.SearchConfig); err != nil {
		return nil, fmt.Errorf("decode search config for schedule %s: %w", sched.ID, err)
	}
	sched.LastRun = nullTimePtr(lastRun)
	sched.NextRun = nullTimePtr(nextRun)
	if createdAt.Valid {
		sched.CreatedAt = createdAt.Time
	}
	return &sched, nil
}

// =============================================================================
// Retention
// =============================================================================

func (s *SQLiteStore) PruneOlderThan(ctx context.Context, kind PruneKind, cutoff time.Time) (int64, error) {
	table, column, err := pruneColumn(kind)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if kind == PruneRuns {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM assessments WHERE run_id IN (
				SELECT run_id FROM runs WHERE started_at < ?
			)`, cutoff.UTC()); err != nil {
			return 0, fmt.Errorf("prune assessments: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+column+` < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// =============================================================================
// Assessments
// =============================================================================

func (s *SQLiteStore) SaveAssessments(ctx context.Context, runID string, items []models.ProcessedOpportunity) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO assessments (run_id, notice_id, title, agency, url, score, level, opportunity, assessment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, notice_id) DO UPDATE SET
			score = excluded.score,
			level = excluded.level,
			opportunity = excluded.opportunity,
			assessment = excluded.assessment`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, item := range items {
		opp, err := json.Marshal(item.Opportunity)
		if err != nil {
			return fmt.Errorf("marshal opportunity %s: %w", item.Opportunity.NoticeID, err)
		}
		assessment, err := json.Marshal(item.Assessment)
		if err != nil {
			return fmt.Errorf("marshal assessment %s: %w", item.Opportunity.NoticeID, err)
		}
		if _, err := stmt.ExecContext(ctx, runID, item.Opportunity.NoticeID, item.Opportunity.Title,
			item.Opportunity.Agency, item.Opportunity.URL, item.Assessment.Score, string(item.Assessment.Level),
			string(opp), string(assessment), now); err != nil {
			return fmt.Errorf("insert assessment %s: %w", item.Opportunity.NoticeID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListAssessments(ctx context.Context, runID string) ([]models.ProcessedOpportunity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT opportunity, assessment FROM assessments
		WHERE run_id = ?
		ORDER BY score DESC, id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.ProcessedOpportunity
	for rows.Next() {
		var opp, assessment string
		if err := rows.Scan(&opp, &assessment); err != nil {
			return nil, err
		}
		var item models.ProcessedOpportunity
		if err := json.Unmarshal([]byte(opp), &item.Opportunity); err != nil {
			return nil, fmt.Errorf("decode opportunity: %w", err)
		}
		if err := json.Unmarshal([]byte(assessment), &item.Assessment); err != nil {
			return nil, fmt.Errorf("decode assessment: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
