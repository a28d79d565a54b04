package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/ifBars/orchestrix/internal/domain"
)

// InsertToolCall records the initial pending state of a ToolCall.
func (s *Store) InsertToolCall(ctx context.Context, tc *domain.ToolCall) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tool_calls (id, run_id, step_idx, tool_name, input, output, status, started_at, finished_at, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			tc.ID, tc.RunID, tc.StepIdx, tc.ToolName, string(tc.Input), string(tc.Output), string(tc.Status),
			nullableTime(tc.StartedAt), nullableTime(tc.FinishedAt), nullable(tc.Error))
		return err
	})
}

// UpdateToolCallStatus records a state transition for a ToolCall row. A
// terminal status (succeeded/failed/rejected) must carry a non-null
// finishedAt (Testable Property / invariant I5).
func (s *Store) UpdateToolCallStatus(ctx context.Context, id string, status domain.ToolCallStatus, output []byte, finishedAt *time.Time, errMsg string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE tool_calls SET status = ?, output = COALESCE(NULLIF(?, ''), output),
				finished_at = COALESCE(?, finished_at), error = COALESCE(?, error)
			WHERE id = ?`,
			string(status), string(output), nullableTime(finishedAt), nullable(errMsg), id)
		if err != nil {
			return err
		}
		return checkRowsAffected(res)
	})
}

// ListToolCalls returns every tool call for a run, oldest first.
func (s *Store) ListToolCalls(ctx context.Context, runID string) ([]*domain.ToolCall, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, run_id, step_idx, tool_name, input, output, status, started_at, finished_at, error
		FROM tool_calls WHERE run_id = ? ORDER BY rowid ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ToolCall
	for rows.Next() {
		tc := &domain.ToolCall{}
		var input, output, errMsg sql.NullString
		var status string
		var started, finished sql.NullTime
		if err := rows.Scan(&tc.ID, &tc.RunID, &tc.StepIdx, &tc.ToolName, &input, &output, &status, &started, &finished, &errMsg); err != nil {
			return nil, err
		}
		tc.Input = []byte(input.String)
		tc.Output = []byte(output.String)
		tc.Status = domain.ToolCallStatus(status)
		tc.Error = errMsg.String
		if started.Valid {
			t := started.Time
			tc.StartedAt = &t
		}
		if finished.Valid {
			t := finished.Time
			tc.FinishedAt = &t
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}
