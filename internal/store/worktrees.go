package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ifBars/orchestrix/internal/domain"
)

// InsertWorktreeLog records an `allocate`d worktree in its created state.
func (s *Store) InsertWorktreeLog(ctx context.Context, w *domain.WorktreeLog) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO worktree_logs (id, run_id, sub_agent_id, strategy, branch, base_ref, path, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			w.ID, w.RunID, w.SubAgentID, string(w.Strategy), nullable(w.Branch), nullable(w.BaseRef), w.Path, w.CreatedAt)
		return err
	})
}

// UpdateWorktreeLogMerge records the outcome of merge_worktree.
func (s *Store) UpdateWorktreeLogMerge(ctx context.Context, subAgentID, mergeStrategy string, success bool, message string, conflictedFiles []string, at time.Time) error {
	conflictedJSON, err := json.Marshal(conflictedFiles)
	if err != nil {
		return err
	}
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE worktree_logs SET merge_strategy = ?, merge_success = ?, merge_message = ?, conflicted_files = ?, merged_at = ?
			WHERE sub_agent_id = ?`,
			mergeStrategy, boolToInt(success), message, string(conflictedJSON), at, subAgentID)
		if err != nil {
			return err
		}
		return checkRowsAffected(res)
	})
}

// UpdateWorktreeLogCleaned records that remove_worktree completed.
func (s *Store) UpdateWorktreeLogCleaned(ctx context.Context, subAgentID string, at time.Time) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE worktree_logs SET cleaned_at = ? WHERE sub_agent_id = ?`, at, subAgentID)
		if err != nil {
			return err
		}
		return checkRowsAffected(res)
	})
}

// GetWorktreeLogForSubAgent fetches the (unique) log row for a sub-agent.
func (s *Store) GetWorktreeLogForSubAgent(ctx context.Context, subAgentID string) (*domain.WorktreeLog, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, run_id, sub_agent_id, strategy, branch, base_ref, path, merge_strategy, merge_success, merge_message, conflicted_files, created_at, merged_at, cleaned_at
		FROM worktree_logs WHERE sub_agent_id = ?`, subAgentID)
	return scanWorktreeLog(row)
}

// ListWorktreeLogsForRun returns every worktree log for a run.
func (s *Store) ListWorktreeLogsForRun(ctx context.Context, runID string) ([]*domain.WorktreeLog, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, run_id, sub_agent_id, strategy, branch, base_ref, path, merge_strategy, merge_success, merge_message, conflicted_files, created_at, merged_at, cleaned_at
		FROM worktree_logs WHERE run_id = ? ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.WorktreeLog
	for rows.Next() {
		w, err := scanWorktreeLogRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ListActiveWorktreeLogs returns every worktree log not yet cleaned.
func (s *Store) ListActiveWorktreeLogs(ctx context.Context) ([]*domain.WorktreeLog, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, run_id, sub_agent_id, strategy, branch, base_ref, path, merge_strategy, merge_success, merge_message, conflicted_files, created_at, merged_at, cleaned_at
		FROM worktree_logs WHERE cleaned_at IS NULL ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.WorktreeLog
	for rows.Next() {
		w, err := scanWorktreeLogRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWorktreeLog(row *sql.Row) (*domain.WorktreeLog, error) {
	w := &domain.WorktreeLog{}
	var branch, baseRef, mergeStrategy, mergeMessage, conflicted sql.NullString
	var mergeSuccess sql.NullInt64
	var merged, cleaned sql.NullTime
	var strategy string
	if err := row.Scan(&w.ID, &w.RunID, &w.SubAgentID, &strategy, &branch, &baseRef, &w.Path, &mergeStrategy, &mergeSuccess, &mergeMessage, &conflicted, &w.CreatedAt, &merged, &cleaned); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return finishWorktreeScan(w, strategy, branch, baseRef, mergeStrategy, mergeSuccess, mergeMessage, conflicted, merged, cleaned)
}

func scanWorktreeLogRows(rows *sql.Rows) (*domain.WorktreeLog, error) {
	w := &domain.WorktreeLog{}
	var branch, baseRef, mergeStrategy, mergeMessage, conflicted sql.NullString
	var mergeSuccess sql.NullInt64
	var merged, cleaned sql.NullTime
	var strategy string
	if err := rows.Scan(&w.ID, &w.RunID, &w.SubAgentID, &strategy, &branch, &baseRef, &w.Path, &mergeStrategy, &mergeSuccess, &mergeMessage, &conflicted, &w.CreatedAt, &merged, &cleaned); err != nil {
		return nil, err
	}
	return finishWorktreeScan(w, strategy, branch, baseRef, mergeStrategy, mergeSuccess, mergeMessage, conflicted, merged, cleaned)
}

func finishWorktreeScan(w *domain.WorktreeLog, strategy string, branch, baseRef, mergeStrategy sql.NullString, mergeSuccess sql.NullInt64, mergeMessage, conflicted sql.NullString, merged, cleaned sql.NullTime) (*domain.WorktreeLog, error) {
	w.Strategy = domain.WorktreeStrategy(strategy)
	w.Branch = branch.String
	w.BaseRef = baseRef.String
	w.MergeStrategy = mergeStrategy.String
	w.MergeMessage = mergeMessage.String
	if mergeSuccess.Valid {
		b := mergeSuccess.Int64 == 1
		w.MergeSuccess = &b
	}
	if conflicted.Valid && conflicted.String != "" {
		var files []string
		if err := json.Unmarshal([]byte(conflicted.String), &files); err != nil {
			return nil, err
		}
		w.ConflictedFiles = files
	}
	if merged.Valid {
		t := merged.Time
		w.MergedAt = &t
	}
	if cleaned.Valid {
		t := cleaned.Time
		w.CleanedAt = &t
	}
	return w, nil
}
