package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"rfp_scout/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	err = migrate(ctx, db, goose.DialectPostgres, "migrations/postgres")
	db.Close()
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// =============================================================================
// Runs
// =============================================================================

func (s *PostgresStore) UpsertRun(ctx context.Context, run *models.Run) error {
	searchConfig, err := json.Marshal(run.SearchConfig)
	if err != nil {
		return fmt.Errorf("marshal search config: %w", err)
	}
	errs, err := json.Marshal(run.Errors)
	if err != nil {
		return fmt.Errorf("marshal run errors: %w", err)
	}

	query := `
		INSERT INTO runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (run_id) DO UPDATE SET
			schedule_id = EXCLUDED.schedule_id,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			status = EXCLUDED.status,
			total_found = EXCLUDED.total_found,
			total_processed = EXCLUDED.total_processed,
			total_qualified = EXCLUDED.total_qualified,
			total_maybe = EXCLUDED.total_maybe,
			total_rejected = EXCLUDED.total_rejected,
			total_errors = EXCLUDED.total_errors,
			processing_time_seconds = EXCLUDED.processing_time_seconds,
			search_config = EXCLUDED.search_config,
			errors = EXCLUDED.errors`

	_, err = s.pool.Exec(ctx, query,
		run.ID, nullString(run.ScheduleID), run.StartedAt.UTC(), utcPtr(run.CompletedAt), string(run.Status),
		run.TotalFound, run.TotalProcessed, run.TotalQualified, run.TotalMaybe, run.TotalRejected, run.TotalErrors,
		run.ProcessingTimeSeconds, searchConfig, errs)
	if err != nil {
		return fmt.Errorf("upsert run %s: %w", run.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateRunOutcome(ctx context.Context, run *models.Run) error {
	errs, err := json.Marshal(run.Errors)
	if err != nil {
		return fmt.Errorf("marshal run errors: %w", err)
	}

	query := `
		UPDATE runs SET
			completed_at = $1, status = $2,
			total_found = $3, total_processed = $4, total_qualified = $5,
			total_maybe = $6, total_rejected = $7, total_errors = $8,
			processing_time_seconds = $9, errors = $10
		WHERE run_id = $11`

	tag, err := s.pool.Exec(ctx, query,
		utcPtr(run.CompletedAt), string(run.Status),
		run.TotalFound, run.TotalProcessed, run.TotalQualified,
		run.TotalMaybe, run.TotalRejected, run.TotalErrors,
		run.ProcessingTimeSeconds, errs, run.ID)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.UpsertRun(ctx, run)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = $1`, runID)
	run, err := scanPostgresRun(row)
	if err == pgx.ErrNoRows {
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

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+` FROM runs
		ORDER BY started_at DESC, run_id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanPostgresRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanPostgresRun(row pgx.Row) (*models.Run, error) {
	var run models.Run
	var scheduleID *string
	var status string
	var searchConfig, errs []byte

	err := row.Scan(&run.ID, &scheduleID, &run.StartedAt, &run.CompletedAt, &status,
		&run.TotalFound, &run.TotalProcessed, &run.TotalQualified, &run.TotalMaybe, &run.TotalRejected, &run.TotalErrors,
		&run.ProcessingTimeSeconds, &searchConfig, &errs)
	if err != nil {
		return nil, err
	}

	if scheduleID != nil {
		run.ScheduleID = *scheduleID
	}
	run.Status = models.RunStatus(status)
	if len(searchConfig) > 0 {
		if err := json.Unmarshal(searchConfig, &run.SearchConfig); err != nil {
			return nil, fmt.Errorf("decode search config for run %s: %w", run.ID, err)
		}
	}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &run.Errors); err != nil {
			return nil, fmt.Errorf("decode errors for run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}

// =============================================================================
// Logs
// =============================================================================

func (s *PostgresStore) AppendLog(ctx context.Context, runID string, level models.LogLevel, message string, details map[string]any) error {
	payload, err := marshalNullable(details, len(details) == 0)
	if err != nil {
		return fmt.Errorf("marshal log details: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO logs (run_id, timestamp, level, message, details)
		VALUES ($1, $2, $3, $4, $5)`,
		runID, time.Now().UTC(), string(level), message, payload)
	return err
}

func (s *PostgresStore) GetRunLogs(ctx context.Context, runID string, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	rows, err := s.pool.Query(ctx, `
		SELECT log_id, run_id, timestamp, level, message, details
		FROM logs WHERE run_id = $1
		ORDER BY timestamp ASC, log_id ASC
		LIMIT $2`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		var level string
		var details []byte
		if err := rows.Scan(&e.ID, &e.RunID, &e.Timestamp, &level, &e.Message, &details); err != nil {
			return nil, err
		}
		e.Level = models.LogLevel(level)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
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

func (s *PostgresStore) LoadEnabledSchedules(ctx context.Context) ([]models.Schedule, error) {
	return s.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE enabled ORDER BY created_at, schedule_id`)
}

func (s *PostgresStore) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	return s.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY created_at, schedule_id`)
}

func (s *PostgresStore) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE schedule_id = $1`, id)
	sched, err := scanPostgresSchedule(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sched, nil
}

func (s *PostgresStore) UpsertSchedule(ctx context.Context, sched *models.Schedule) error {
	searchConfig, err := json.Marshal(sched.SearchConfig)
	if err != nil {
		return fmt.Errorf("marshal search config: %w", err)
	}
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO schedules (` + scheduleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (schedule_id) DO UPDATE SET
			name = EXCLUDED.name,
			run_mode = EXCLUDED.run_mode,
			cron_expression = EXCLUDED.cron_expression,
			enabled = EXCLUDED.enabled,
			search_config = EXCLUDED.search_config,
			last_run = EXCLUDED.last_run,
			next_run = EXCLUDED.next_run`

	_, err = s.pool.Exec(ctx, query,
		sched.ID, sched.Name, string(sched.RunMode), sched.CronExpression, sched.Enabled, searchConfig,
		utcPtr(sched.LastRun), utcPtr(sched.NextRun), sched.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert schedule %s: %w", sched.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateScheduleTimes(ctx context.Context, id string, lastRun, nextRun *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE schedules SET
			last_run = COALESCE($1, last_run),
			next_run = COALESCE($2, next_run)
		WHERE schedule_id = $3`,
		utcPtr(lastRun), utcPtr(nextRun), id)
	if err != nil {
		return fmt.Errorf("update schedule times %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) DeleteSchedule(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM schedules WHERE schedule_id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete schedule %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) querySchedules(ctx context.Context, query string) ([]models.Schedule, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []models.Schedule
	for rows.Next() {
		sched, err := scanPostgresSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *sched)
	}
	return schedules, rows.Err()
}

func scanPostgresSchedule(row pgx.Row) (*models.Schedule, error) {
	var sched models.Schedule
	var runMode string
	var searchConfig []byte

	if err := row.Scan(&sched.ID, &sched.Name, &runMode, &sched.CronExpression, &sched.Enabled,
		&searchConfig, &sched.LastRun, &sched.NextRun, &sched.CreatedAt); err != nil {
		return nil, err
	}

	sched.RunMode = models.RunMode(runMode)
	if err := json.Unmarshal(searchConfig, &sched.SearchConfig); err != nil {
		return nil, fmt.Errorf("decode search config for schedule %s: %w", sched.ID, err)
	}
	return &sched, nil
}

// =============================================================================
// Retention
// =============================================================================

// PruneOlderThan relies on ON DELETE CASCADE to drop the logs and
// assessments of pruned runs.
func (s *PostgresStore) PruneOlderThan(ctx context.Context, kind PruneKind, cutoff time.Time) (int64, error) {
	table, column, err := pruneColumn(kind)
	if err != nil {
		return 0, err
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM `+table+` WHERE `+column+` < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// =============================================================================
// Assessments
// =============================================================================

func (s *PostgresStore) SaveAssessments(ctx context.Context, runID string, items []models.ProcessedOpportunity) error {
	if len(items) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, item := range items {
		opp, err := json.Marshal(item.Opportunity)
		if err != nil {
			return fmt.Errorf("marshal opportunity %s: %w", item.Opportunity.NoticeID, err)
		}
		assessment, err := json.Marshal(item.Assessment)
		if err != nil {
			return fmt.Errorf("marshal assessment %s: %w", item.Opportunity.NoticeID, err)
		}
		batch.Queue(`
			INSERT INTO assessments (run_id, notice_id, title, agency, url, score, level, opportunity, assessment)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (run_id, notice_id) DO UPDATE SET
				score = EXCLUDED.score,
				level = EXCLUDED.level,
				opportunity = EXCLUDED.opportunity,
				assessment = EXCLUDED.assessment`,
			runID, item.Opportunity.NoticeID, item.Opportunity.Title, item.Opportunity.Agency,
			item.Opportunity.URL, item.Assessment.Score, string(item.Assessment.Level), opp, assessment)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert assessments: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListAssessments(ctx context.Context, runID string) ([]models.ProcessedOpportunity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT opportunity, assessment FROM assessments
		WHERE run_id = $1
		ORDER BY score DESC, id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.ProcessedOpportunity
	for rows.Next() {
		var opp, assessment []byte
		if err := rows.Scan(&opp, &assessment); err != nil {
			return nil, err
		}
		var item models.ProcessedOpportunity
		if err := json.Unmarshal(opp, &item.Opportunity); err != nil {
			return nil, fmt.Errorf("decode opportunity: %w", err)
		}
		if err := json.Unmarshal(assessment, &item.Assessment); err != nil {
			return nil, fmt.Errorf("decode assessment: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
