package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rfp_scout/models"
)

// PruneKind selects which table PruneOlderThan trims.
type PruneKind string

const (
	PruneLogs PruneKind = "logs"
	PruneRuns PruneKind = "runs"
)

// Store is the durable record of runs, schedules and run logs. Every call is
// a self-contained unit of work: it takes a pooled connection, commits, and
// gives the connection back before returning. Lookups that find nothing
// return a nil value and a nil error.
type Store interface {
	UpsertRun(ctx context.Context, run *models.Run) error
	UpdateRunOutcome(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)

	AppendLog(ctx context.Context, runID string, level models.LogLevel, message string, details map[string]any) error
	GetRunLogs(ctx context.Context, runID string, limit int) ([]models.LogEntry, error)

	LoadEnabledSchedules(ctx context.Context) ([]models.Schedule, error)
	ListSchedules(ctx context.Context) ([]models.Schedule, error)
	GetSchedule(ctx context.Context, id string) (*models.Schedule, error)
	UpsertSchedule(ctx context.Context, s *models.Schedule) error
	UpdateScheduleTimes(ctx context.Context, id string, lastRun, nextRun *time.Time) error
	DeleteSchedule(ctx context.Context, id string) (bool, error)

	PruneOlderThan(ctx context.Context, kind PruneKind, cutoff time.Time) (int64, error)

	SaveAssessments(ctx context.Context, runID string, items []models.ProcessedOpportunity) error
	ListAssessments(ctx context.Context, runID string) ([]models.ProcessedOpportunity, error)

	Close() error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// Options selects and configures a Store implementation.
type Options struct {
	Driver      string
	SQLitePath  string
	PostgresURL string
}

// Open returns the store named by opts.Driver with migrations applied.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "sqlite":
		return NewSQLiteStore(ctx, opts.SQLitePath)
	case "postgres":
		return NewPostgresStore(ctx, opts.PostgresURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func marshalNullable(v any, empty bool) ([]byte, error) {
	if empty {
		return nil, nil
	}
	return json.Marshal(v)
}

func pruneColumn(kind PruneKind) (table, column string, err error) {
	switch kind {
	case PruneLogs:
		return "logs", "timestamp", nil
	case PruneRuns:
		return "runs", "started_at", nil
	default:
		return "", "", fmt.Errorf("unknown prune kind %q", kind)
	}
}

// bucket rebuilds a run's result lists from persisted assessments.
func bucket(run *models.Run, items []models.ProcessedOpportunity) {
	for _, item := range items {
		switch item.Assessment.Level {
		case models.LevelQualified:
			run.Qualified = append(run.Qualified, item)
		case models.LevelMaybe:
			run.Maybe = append(run.Maybe, item)
		default:
			run.Rejected = append(run.Rejected, item)
		}
	}
}
