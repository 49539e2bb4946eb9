// Package timeline records dispatch run history in sqlite. All writes from
// the scheduler loop are best-effort; a nil *Service is a valid no-op sink.
package timeline

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Run is one recorded dispatch of a task.
type Run struct {
	RunID      int64      `json:"run_id"`
	TaskID     int64      `json:"task_id"`
	TraceID    string     `json:"trace_id"`
	Prompt     string     `json:"prompt"`
	Status     string     `json:"status"` // running, completed, failed
	Detail     string     `json:"detail,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS task_runs (
	run_id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id INTEGER NOT NULL,
	trace_id TEXT NOT NULL,
	prompt TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'running',
	detail TEXT,
	started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	finished_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_task_runs_task ON task_runs(task_id);
CREATE INDEX IF NOT EXISTS idx_task_runs_trace ON task_runs(trace_id);
`

// Service is the sqlite-backed run history.
type Service struct {
	db *sql.DB
}

// New opens (or creates) the run history database at dbPath.
func New(dbPath string) (*Service, error) {
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("timeline: open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("timeline: apply schema: %w", err)
	}
	return &Service{db: db}, nil
}

// Close releases the database handle.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// RecordStart inserts a running row for a dispatch and returns its run id.
func (s *Service) RecordStart(taskID int64, traceID, prompt string, at time.Time) (int64, error) {
	if s == nil {
		return 0, nil
	}
	res, err := s.db.Exec(
		`INSERT INTO task_runs (task_id, trace_id, prompt, status, started_at) VALUES (?, ?, ?, 'running', ?)`,
		taskID, traceID, prompt, at.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecordFinish closes a run row with its final status and detail.
func (s *Service) RecordFinish(runID int64, status, detail string, at time.Time) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(
		`UPDATE task_runs SET status = ?, detail = ?, finished_at = ? WHERE run_id = ?`,
		status, detail, at.UTC(), runID,
	)
	return err
}

// RecentRuns returns the most recent runs, newest first.
func (s *Service) RecentRuns(limit int) ([]Run, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT run_id, task_id, trace_id, prompt, status, COALESCE(detail, ''), started_at, finished_at
		 FROM task_runs ORDER BY run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.RunID, &r.TaskID, &r.TraceID, &r.Prompt, &r.Status, &r.Detail, &r.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
