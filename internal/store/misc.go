package store

import (
	"context"
	"database/sql"

	"github.com/ifBars/orchestrix/internal/domain"
)

// InsertUserMessage records a follow-up message on a task.
func (s *Store) InsertUserMessage(ctx context.Context, m *domain.UserMessage) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_messages (id, task_id, run_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			m.ID, m.TaskID, nullable(m.RunID), m.Content, m.CreatedAt)
		return err
	})
}

// ListUserMessages returns every user message for a task, oldest first.
func (s *Store) ListUserMessages(ctx context.Context, taskID string) ([]*domain.UserMessage, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, task_id, run_id, content, created_at FROM user_messages WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.UserMessage
	for rows.Next() {
		m := &domain.UserMessage{}
		var runID sql.NullString
		if err := rows.Scan(&m.ID, &m.TaskID, &runID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.RunID = runID.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertConversationSummary persists a generated summary (invariant I6:
// created_at must be >= every message it counts — enforced by callers).
func (s *Store) InsertConversationSummary(ctx context.Context, cs *domain.ConversationSummary) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_summaries (id, task_id, run_id, text, message_count, token_estimate, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			cs.ID, cs.TaskID, cs.RunID, cs.Text, cs.MessageCount, cs.TokenEstimate, cs.CreatedAt)
		return err
	})
}

// GetLatestConversationSummary returns the most recent summary for a task, if any.
func (s *Store) GetLatestConversationSummary(ctx context.Context, taskID string) (*domain.ConversationSummary, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, task_id, run_id, text, message_count, token_estimate, created_at
		FROM conversation_summaries WHERE task_id = ? ORDER BY created_at DESC LIMIT 1`, taskID)
	cs := &domain.ConversationSummary{}
	if err := row.Scan(&cs.ID, &cs.TaskID, &cs.RunID, &cs.Text, &cs.MessageCount, &cs.TokenEstimate, &cs.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return cs, nil
}

// UpsertProviderConfig persists settings-scoped provider credentials.
func (s *Store) UpsertProviderConfig(ctx context.Context, pc *domain.ProviderConfig) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO provider_configs (provider_id, api_key, base_url, default_model, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(provider_id) DO UPDATE SET api_key = excluded.api_key,
				base_url = excluded.base_url, default_model = excluded.default_model, updated_at = excluded.updated_at`,
			pc.ProviderID, pc.APIKey, pc.BaseURL, pc.DefaultModel, pc.UpdatedAt)
		return err
	})
}

// RemoveProviderConfig deletes a provider's stored credentials.
func (s *Store) RemoveProviderConfig(ctx context.Context, providerID string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM provider_configs WHERE provider_id = ?`, providerID)
		if err != nil {
			return err
		}
		return checkRowsAffected(res)
	})
}

// ListProviderConfigs returns every stored provider config.
func (s *Store) ListProviderConfigs(ctx context.Context) ([]*domain.ProviderConfig, error) {
	rows, err := s.readDB.QueryContext(ctx, `SELECT provider_id, api_key, base_url, default_model, updated_at FROM provider_configs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ProviderConfig
	for rows.Next() {
		pc := &domain.ProviderConfig{}
		if err := rows.Scan(&pc.ProviderID, &pc.APIKey, &pc.BaseURL, &pc.DefaultModel, &pc.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}
