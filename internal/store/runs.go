package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/ifBars/orchestrix/internal/domain"
)

// InsertRun creates a new Run row.
func (s *Store) InsertRun(ctx context.Context, r *domain.Run) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, task_id, status, plan_context, started_at, finished_at, failure_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.TaskID, string(r.Status), r.PlanContext, r.StartedAt, nullableTime(r.FinishedAt), nullable(r.FailureReason))
		return err
	})
}

// UpdateRunStatus transitions a Run's status, optionally finishing it.
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus, finishedAt *time.Time, failureReason string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE runs SET status = ?, finished_at = ?, failure_reason = ? WHERE id = ?`,
			string(status), nullableTime(finishedAt), nullable(failureReason), id)
		if err != nil {
			return err
		}
		return checkRowsAffected(res)
	})
}

// GetRun fetches a Run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, task_id, status, plan_context, started_at, finished_at, failure_reason FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// GetLatestRun returns the most recently started Run for a task.
func (s *Store) GetLatestRun(ctx context.Context, taskID string) (*domain.Run, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, task_id, status, plan_context, started_at, finished_at, failure_reason
		FROM runs WHERE task_id = ? ORDER BY started_at DESC LIMIT 1`, taskID)
	return scanRun(row)
}

// ListRunsForTask returns every Run for a task, oldest first.
func (s *Store) ListRunsForTask(ctx context.Context, taskID string) ([]*domain.Run, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, task_id, status, plan_context, started_at, finished_at, failure_reason
		FROM runs WHERE task_id = ? ORDER BY started_at ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Run
	for rows.Next() {
		r := &domain.Run{}
		var status string
		var finished sql.NullTime
		var failure sql.NullString
		if err := rows.Scan(&r.ID, &r.TaskID, &status, &r.PlanContext, &r.StartedAt, &finished, &failure); err != nil {
			return nil, err
		}
		r.Status = domain.RunStatus(status)
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		r.FailureReason = failure.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(row *sql.Row) (*domain.Run, error) {
	r := &domain.Run{}
	var status string
	var finished sql.NullTime
	var failure sql.NullString
	if err := row.Scan(&r.ID, &r.TaskID, &status, &r.PlanContext, &r.StartedAt, &finished, &failure); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.Status = domain.RunStatus(status)
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	r.FailureReason = failure.String
	return r, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
