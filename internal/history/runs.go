package history

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/iammorganparry/runpad/internal/model"
	"github.com/iammorganparry/runpad/internal/process"
)

// Run is one finished run as stored in the history
type Run struct {
	ID        string
	Path      string
	Status    model.RunStatus
	ExitCode  int
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

// RunStore records finished runs.
type RunStore struct {
	db *DB
}

func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// Record stores the outcome of a run of path. Results without a session
// (aborted before spawning) are skipped.
func (s *RunStore) Record(ctx context.Context, path string, res process.Result) error {
	if res.SessionID == "" {
		return nil
	}
	path = absPath(path)
	var errText sql.NullString
	if res.Err != nil {
		errText = sql.NullString{String: res.Err.Error(), Valid: true}
	}
	started := time.Now().Add(-res.Duration)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, path, status, exit_code, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, res.SessionID, path, string(res.Status), res.ExitCode, errText,
		started.UnixMilli(), res.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first. An empty path matches all files.
func (s *RunStore) Recent(ctx context.Context, path string, limit int) ([]Run, error) {
	q := `
		SELECT id, path, status, exit_code, error, started_at, duration_ms
		FROM runs`
	args := []any{}
	if path != "" {
		q += ` WHERE path = ?`
		args = append(args, absPath(path))
	}
	q += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r          Run
			status     string
			errText    sql.NullString
			startedMs  int64
			durationMs int64
		)
		if err := rows.Scan(&r.ID, &r.Path, &status, &r.ExitCode, &errText, &startedMs, &durationMs); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = model.RunStatus(status)
		r.Error = errText.String
		r.StartedAt = time.UnixMilli(startedMs)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
