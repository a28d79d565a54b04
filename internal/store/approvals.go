package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/ifBars/orchestrix/internal/domain"
)

// InsertApprovalRequest creates a pending ApprovalRequest row.
func (s *Store) InsertApprovalRequest(ctx context.Context, req *domain.ApprovalRequest) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO approval_requests (id, run_id, task_id, sub_agent_id, tool_call_id, tool_name, input, scope, created_at, resolved, approved, resolved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, NULL)`,
			req.ID, req.RunID, req.TaskID, nullable(req.SubAgentID), nullable(req.ToolCallID), req.ToolName,
			string(req.Input), nullable(req.Scope), req.CreatedAt)
		return err
	})
}

// ResolveApprovalRequest marks a pending approval resolved.
func (s *Store) ResolveApprovalRequest(ctx context.Context, id string, approved bool, at time.Time) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE approval_requests SET resolved = 1, approved = ?, resolved_at = ? WHERE id = ?`,
			boolToInt(approved), at, id)
		if err != nil {
			return err
		}
		return checkRowsAffected(res)
	})
}

// GetApprovalRequest fetches a single approval request.
func (s *Store) GetApprovalRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, run_id, task_id, sub_agent_id, tool_call_id, tool_name, input, scope, created_at, resolved, approved, resolved_at
		FROM approval_requests WHERE id = ?`, id)
	return scanApproval(row)
}

// ListPendingApprovals returns unresolved approvals, optionally scoped to a task.
func (s *Store) ListPendingApprovals(ctx context.Context, taskID string) ([]*domain.ApprovalRequest, error) {
	query := `
		SELECT id, run_id, task_id, sub_agent_id, tool_call_id, tool_name, input, scope, created_at, resolved, approved, resolved_at
		FROM approval_requests WHERE resolved = 0`
	args := []any{}
	if taskID != "" {
		query += ` AND task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ApprovalRequest
	for rows.Next() {
		req, err := scanApprovalRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanApproval(row *sql.Row) (*domain.ApprovalRequest, error) {
	req := &domain.ApprovalRequest{}
	var subAgent, toolCall, scope, input sql.NullString
	var resolved, approved int
	var resolvedAt sql.NullTime
	if err := row.Scan(&req.ID, &req.RunID, &req.TaskID, &subAgent, &toolCall, &req.ToolName, &input, &scope, &req.CreatedAt, &resolved, &approved, &resolvedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return finishApprovalScan(req, subAgent, toolCall, scope, input, resolved, approved, resolvedAt), nil
}

func scanApprovalRows(rows *sql.Rows) (*domain.ApprovalRequest, error) {
	req := &domain.ApprovalRequest{}
	var subAgent, toolCall, scope, input sql.NullString
	var resolved, approved int
	var resolvedAt sql.NullTime
	if err := rows.Scan(&req.ID, &req.RunID, &req.TaskID, &subAgent, &toolCall, &req.ToolName, &input, &scope, &req.CreatedAt, &resolved, &approved, &resolvedAt); err != nil {
		return nil, err
	}
	return finishApprovalScan(req, subAgent, toolCall, scope, input, resolved, approved, resolvedAt), nil
}

func finishApprovalScan(req *domain.ApprovalRequest, subAgent, toolCall, scope, input sql.NullString, resolved, approved int, resolvedAt sql.NullTime) *domain.ApprovalRequest {
	req.SubAgentID = subAgent.String
	req.ToolCallID = toolCall.String
	req.Scope = scope.String
	req.Input = []byte(input.String)
	req.Resolved = resolved == 1
	req.Approved = approved == 1
	if resolvedAt.Valid {
		t := resolvedAt.Time
		req.ResolvedAt = &t
	}
	return req
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
