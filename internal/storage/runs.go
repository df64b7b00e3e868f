package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"recordimport/internal/etl"
)

// RunLog is the persisted outcome of one import run.
type RunLog struct {
	ID         string          `json:"id" yaml:"id"`
	Collection string          `json:"collection" yaml:"collection"`
	ConfigPath string          `json:"configPath,omitempty" yaml:"configPath,omitempty"`
	Trigger    string          `json:"trigger" yaml:"trigger"`
	StartedAt  time.Time       `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt" yaml:"finishedAt"`
	Status     string          `json:"status" yaml:"status"`
	Stats      etl.ImportStats `json:"stats" yaml:"stats"`
	Read       int64           `json:"recordsRead" yaml:"recordsRead"`
	Dropped    int64           `json:"dropped" yaml:"dropped"`
	DryRun     bool            `json:"dryRun" yaml:"dryRun"`
	DurationMs int64           `json:"durationMs" yaml:"durationMs"`
	Error      string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunStore persists import run logs.
type RunStore struct {
	db *DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// CreateRun inserts l, assigning an id when l.ID is empty.
func (s *RunStore) CreateRun(ctx context.Context, l *RunLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Trigger == "" {
		l.Trigger = "manual"
	}
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO import_runs (id, collection, config_path, trigger_kind, started_at, finished_at, status,
		 imported, updated, failed, records_read, dropped, dry_run, error, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Collection, l.ConfigPath, l.Trigger, l.StartedAt.UTC(), l.FinishedAt.UTC(), l.Status,
		l.Stats.Imported, l.Stats.Updated, l.Stats.Failed, l.Read, l.Dropped, l.DryRun, l.Error,
		l.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const runColumns = `id, collection, config_path, trigger_kind, started_at, finished_at, status,
	imported, updated, failed, records_read, dropped, dry_run, error, duration_ms`

// GetRun returns the run with id.
func (s *RunStore) GetRun(ctx context.Context, id string) (*RunLog, error) {
	row := s.db.conn.QueryRowContext(ctx, `SELECT `+runColumns+` FROM import_runs WHERE id = ?`, id)
	l, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("import run not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ListRuns returns the latest runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]RunLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT `+runColumns+` FROM import_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []RunLog
	for rows.Next() {
		l, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*RunLog, error) {
	var l RunLog
	if err := sc.Scan(
		&l.ID, &l.Collection, &l.ConfigPath, &l.Trigger, &l.StartedAt, &l.FinishedAt, &l.Status,
		&l.Stats.Imported, &l.Stats.Updated, &l.Stats.Failed, &l.Read, &l.Dropped, &l.DryRun, &l.Error,
		&l.DurationMs,
	); err != nil {
		return nil, err
	}
	return &l, nil
}
