package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ifBars/orchestrix/internal/domain"
)

// InsertTask creates a new Task row.
func (s *Store) InsertTask(ctx context.Context, t *domain.Task) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, prompt, parent_task_id, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			t.ID, t.Prompt, nullable(t.ParentTaskID), string(t.Status), t.CreatedAt, t.UpdatedAt)
		return err
	})
}

// UpdateTaskStatus transitions a Task's status and bumps updated_at.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus, at time.Time) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, string(status), at, id)
		if err != nil {
			return err
		}
		return checkRowsAffected(res)
	})
}

// GetTask fetches a Task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, prompt, parent_task_id, status, created_at, updated_at FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListTasks returns all tasks, newest first.
func (s *Store) ListTasks(ctx context.Context) ([]*domain.Task, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, prompt, parent_task_id, status, created_at, updated_at FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTaskCascade removes a Task and every entity reachable through its
// Runs, atomically (Testable Property #3).
func (s *Store) DeleteTaskCascade(ctx context.Context, taskID string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		runIDs, err := queryStrings(ctx, tx, `SELECT id FROM runs WHERE task_id = ?`, taskID)
		if err != nil {
			return err
		}

		for _, runID := range runIDs {
			stmts := []struct {
				query string
				args  []any
			}{
				{`DELETE FROM tool_calls WHERE run_id = ?`, []any{runID}},
				{`DELETE FROM artifacts WHERE run_id = ?`, []any{runID}},
				{`DELETE FROM sub_agents WHERE run_id = ?`, []any{runID}},
				{`DELETE FROM worktree_logs WHERE run_id = ?`, []any{runID}},
				{`DELETE FROM checkpoints WHERE run_id = ?`, []any{runID}},
				{`DELETE FROM events WHERE run_id = ?`, []any{runID}},
			}
			for _, st := range stmts {
				if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
					return fmt.Errorf("store: cascade delete: %w", err)
				}
			}
		}

		cascades := []string{
			`DELETE FROM runs WHERE task_id = ?`,
			`DELETE FROM approval_requests WHERE task_id = ?`,
			`DELETE FROM user_messages WHERE task_id = ?`,
			`DELETE FROM conversation_summaries WHERE task_id = ?`,
			`DELETE FROM task_links WHERE task_id_a = ? OR task_id_b = ?`,
		}
		for _, q := range cascades {
			args := []any{taskID}
			if q == `DELETE FROM task_links WHERE task_id_a = ? OR task_id_b = ?` {
				args = []any{taskID, taskID}
			}
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return fmt.Errorf("store: cascade delete: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID)
		if err != nil {
			return err
		}
		return checkRowsAffected(res)
	})
}

// InsertTaskLink records a symmetric link between two tasks.
func (s *Store) InsertTaskLink(ctx context.Context, a, b string, at time.Time) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_links (task_id_a, task_id_b, created_at) VALUES (?, ?, ?)`, a, b, at)
		return err
	})
}

// DeleteTaskLink removes a link in either direction.
func (s *Store) DeleteTaskLink(ctx context.Context, a, b string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM task_links WHERE (task_id_a = ? AND task_id_b = ?) OR (task_id_a = ? AND task_id_b = ?)`, a, b, b, a)
		return err
	})
}

// ListTaskLinks returns every task id linked to id.
func (s *Store) ListTaskLinks(ctx context.Context, id string) ([]string, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT task_id_b FROM task_links WHERE task_id_a = ?
		UNION
		SELECT task_id_a FROM task_links WHERE task_id_b = ?`, id, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanTask(row *sql.Row) (*domain.Task, error) {
	t := &domain.Task{}
	var parent sql.NullString
	var status string
	if err := row.Scan(&t.ID, &t.Prompt, &parent, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.ParentTaskID = parent.String
	t.Status = domain.TaskStatus(status)
	return t, nil
}

func scanTaskRows(rows *sql.Rows) (*domain.Task, error) {
	t := &domain.Task{}
	var parent sql.NullString
	var status string
	if err := rows.Scan(&t.ID, &t.Prompt, &parent, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.ParentTaskID = parent.String
	t.Status = domain.TaskStatus(status)
	return t, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func queryStrings(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
