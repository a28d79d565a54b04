package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ifBars/orchestrix/internal/domain"
)

// InsertSubAgent creates a new SubAgent row with its frozen contract.
func (s *Store) InsertSubAgent(ctx context.Context, sa *domain.SubAgent) error {
	contractJSON, err := json.Marshal(sa.Contract)
	if err != nil {
		return err
	}
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sub_agents (id, run_id, parent_id, step_idx, name, status, worktree_path, contract_json, started_at, finished_at, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sa.ID, sa.RunID, nullable(sa.ParentID), sa.StepIdx, sa.Name, string(sa.Status), nullable(sa.WorktreePath),
			string(contractJSON), nullableTime(sa.StartedAt), nullableTime(sa.FinishedAt), nullable(sa.Error))
		return err
	})
}

// UpdateSubAgentStatus transitions a SubAgent's status.
func (s *Store) UpdateSubAgentStatus(ctx context.Context, id string, status domain.SubAgentStatus, startedAt, finishedAt *time.Time, errMsg string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sub_agents SET status = ?,
				started_at = COALESCE(?, started_at),
				finished_at = COALESCE(?, finished_at),
				error = COALESCE(?, error)
			WHERE id = ?`,
			string(status), nullableTime(startedAt), nullableTime(finishedAt), nullable(errMsg), id)
		if err != nil {
			return err
		}
		return checkRowsAffected(res)
	})
}

// UpdateSubAgentWorktreePath records the path once a worktree is allocated.
func (s *Store) UpdateSubAgentWorktreePath(ctx context.Context, id, path string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE sub_agents SET worktree_path = ? WHERE id = ?`, path, id)
		if err != nil {
			return err
		}
		return checkRowsAffected(res)
	})
}

// GetSubAgent fetches a SubAgent by id.
func (s *Store) GetSubAgent(ctx context.Context, id string) (*domain.SubAgent, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, run_id, parent_id, step_idx, name, status, worktree_path, contract_json, started_at, finished_at, error
		FROM sub_agents WHERE id = ?`, id)
	return scanSubAgent(row)
}

// ListSubAgents returns every SubAgent for a run.
func (s *Store) ListSubAgents(ctx context.Context, runID string) ([]*domain.SubAgent, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, run_id, parent_id, step_idx, name, status, worktree_path, contract_json, started_at, finished_at, error
		FROM sub_agents WHERE run_id = ? ORDER BY step_idx ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.SubAgent
	for rows.Next() {
		sa, err := scanSubAgentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sa)
	}
	return out, rows.Err()
}

func scanSubAgent(row *sql.Row) (*domain.SubAgent, error) {
	sa := &domain.SubAgent{}
	var parent, worktree, errMsg sql.NullString
	var contractJSON string
	var status string
	var started, finished sql.NullTime
	if err := row.Scan(&sa.ID, &sa.RunID, &parent, &sa.StepIdx, &sa.Name, &status, &worktree, &contractJSON, &started, &finished, &errMsg); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return finishSubAgentScan(sa, parent, worktree, contractJSON, status, started, finished, errMsg)
}

func scanSubAgentRows(rows *sql.Rows) (*domain.SubAgent, error) {
	sa := &domain.SubAgent{}
	var parent, worktree, errMsg sql.NullString
	var contractJSON string
	var status string
	var started, finished sql.NullTime
	if err := rows.Scan(&sa.ID, &sa.RunID, &parent, &sa.StepIdx, &sa.Name, &status, &worktree, &contractJSON, &started, &finished, &errMsg); err != nil {
		return nil, err
	}
	return finishSubAgentScan(sa, parent, worktree, contractJSON, status, started, finished, errMsg)
}

func finishSubAgentScan(sa *domain.SubAgent, parent, worktree sql.NullString, contractJSON, status string, started, finished sql.NullTime, errMsg sql.NullString) (*domain.SubAgent, error) {
	sa.ParentID = parent.String
	sa.WorktreePath = worktree.String
	sa.Status = domain.SubAgentStatus(status)
	sa.Error = errMsg.String
	if started.Valid {
		t := started.Time
		sa.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		sa.FinishedAt = &t
	}
	var contract domain.Contract
	if err := json.Unmarshal([]byte(contractJSON), &contract); err != nil {
		return nil, err
	}
	sa.Contract = contract
	return sa, nil
}
