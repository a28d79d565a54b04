package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/ifBars/orchestrix/internal/domain"
)

// InsertEvent assigns the next monotonic seq and persists the event. It
// must be called, and must succeed, before the caller publishes to any
// bus subscriber (spec.md §4.2's durability-before-publish ordering
// guarantee, Testable Property #2).
func (s *Store) InsertEvent(ctx context.Context, id, runID, category, eventType string, payload []byte, at time.Time) (*domain.Event, error) {
	seq := s.nextSeq()
	ev := &domain.Event{
		ID:        id,
		RunID:     runID,
		Seq:       seq,
		Category:  category,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: at,
	}
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, run_id, seq, category, type, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, nullable(ev.RunID), ev.Seq, ev.Category, ev.Type, string(ev.Payload), ev.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// ListEventsForTask returns every event belonging to any run of a task,
// in seq order, by joining through runs.
func (s *Store) ListEventsForTask(ctx context.Context, taskID string) ([]*domain.Event, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT e.id, e.run_id, e.seq, e.category, e.type, e.payload, e.created_at
		FROM events e JOIN runs r ON r.id = e.run_id
		WHERE r.task_id = ? ORDER BY e.seq ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetEventsAfterSeq supports incremental UI tailing and late-subscriber backfill.
func (s *Store) GetEventsAfterSeq(ctx context.Context, runID string, afterSeq int64) ([]*domain.Event, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, run_id, seq, category, type, payload, created_at
		FROM events WHERE run_id = ? AND seq > ? ORDER BY seq ASC`, runID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*domain.Event, error) {
	var out []*domain.Event
	for rows.Next() {
		ev := &domain.Event{}
		var runID sql.NullString
		var payload string
		if err := rows.Scan(&ev.ID, &runID, &ev.Seq, &ev.Category, &ev.Type, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.RunID = runID.String
		ev.Payload = []byte(payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// UpsertCheckpoint records a coarse-grained resume point, idempotent by run_id.
func (s *Store) UpsertCheckpoint(ctx context.Context, runID string, lastStepIdx int, state []byte, at time.Time) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoints (run_id, last_step_idx, runtime_state, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(run_id) DO UPDATE SET last_step_idx = excluded.last_step_idx,
				runtime_state = excluded.runtime_state, updated_at = excluded.updated_at`,
			runID, lastStepIdx, string(state), at)
		return err
	})
}

// GetCheckpoint fetches the checkpoint for a run, if any.
func (s *Store) GetCheckpoint(ctx context.Context, runID string) (*domain.Checkpoint, error) {
	row := s.readDB.QueryRowContext(ctx, `SELECT run_id, last_step_idx, runtime_state, updated_at FROM checkpoints WHERE run_id = ?`, runID)
	cp := &domain.Checkpoint{}
	var state string
	if err := row.Scan(&cp.RunID, &cp.LastStepIdx, &state, &cp.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	cp.RuntimeState = []byte(state)
	return cp, nil
}

// UpsertSetting persists a process-scoped setting.
func (s *Store) UpsertSetting(ctx context.Context, key, valueJSON string, at time.Time) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, valueJSON, at)
		return err
	})
}

// GetSetting fetches a process-scoped setting's raw JSON value.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	row := s.readDB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}
