// Package sqlite persists acknowledged terminal jobs for the history view.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"grainery.core/internal/core/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_history (
    handle       TEXT PRIMARY KEY,
    kind         TEXT NOT NULL,
    status       TEXT NOT NULL,
    target       TEXT NOT NULL,
    total        INTEGER NOT NULL,
    completed    INTEGER NOT NULL,
    failed       INTEGER NOT NULL,
    failed_items TEXT,
    reason       TEXT,
    created_at   DATETIME NOT NULL,
    acked_at     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_history_acked ON job_history(acked_at);
`

// Archive implements ports.JobArchive using SQLite.
type Archive struct {
	db *sql.DB
}

// New opens (and if needed initializes) the archive at dbPath.
func New(dbPath string) (*Archive, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// Save upserts the terminal snapshot of an acknowledged job.
func (a *Archive) Save(ctx context.Context, job domain.Job) error {
	failedItems, err := json.Marshal(job.FailedItems)
	if err != nil {
		return err
	}

	_, err = a.db.ExecContext(ctx,
		`INSERT INTO job_history
		   (handle, kind, status, target, total, completed, failed, failed_items, reason, created_at, acked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(handle) DO UPDATE SET
		   status = excluded.status, completed = excluded.completed,
		   failed = excluded.failed, failed_items = excluded.failed_items,
		   reason = excluded.reason, acked_at = excluded.acked_at`,
		job.Handle, string(job.Kind), string(job.Status), string(job.Target),
		job.Total, job.Completed, job.Failed, string(failedItems), job.Reason,
		job.CreatedAt, time.Now(),
	)
	return err
}

// List returns archived jobs, most recently acknowledged first.
func (a *Archive) List(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT handle, kind, status, target, total, completed, failed,
		        COALESCE(failed_items, ''), COALESCE(reason, ''), created_at, acked_at
		 FROM job_history ORDER BY acked_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		var (
			job         domain.Job
			kind        string
			status      string
			target      string
			failedItems string
			ackedAt     time.Time
		)
		if err := rows.Scan(&job.Handle, &kind, &status, &target,
			&job.Total, &job.Completed, &job.Failed,
			&failedItems, &job.Reason, &job.CreatedAt, &ackedAt); err != nil {
			return nil, err
		}
		job.Kind = domain.JobKind(kind)
		job.Status = domain.JobStatus(status)
		job.Target = domain.DispatchTarget(target)
		job.UpdatedAt = ackedAt
		if failedItems != "" {
			if err := json.Unmarshal([]byte(failedItems), &job.FailedItems); err != nil {
				return nil, err
			}
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
