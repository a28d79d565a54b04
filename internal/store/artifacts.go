package store

import (
	"context"
	"database/sql"

	"github.com/ifBars/orchestrix/internal/domain"
)

// InsertArtifact records a durable output of a run.
func (s *Store) InsertArtifact(ctx context.Context, a *domain.Artifact) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO artifacts (id, run_id, kind, uri_or_content, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			a.ID, a.RunID, a.Kind, a.URIOrContent, string(a.Metadata), a.CreatedAt)
		return err
	})
}

// ListArtifactsForRun returns every artifact for a run, oldest first.
func (s *Store) ListArtifactsForRun(ctx context.Context, runID string) ([]*domain.Artifact, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, run_id, kind, uri_or_content, metadata, created_at
		FROM artifacts WHERE run_id = ? ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Artifact
	for rows.Next() {
		a := &domain.Artifact{}
		var meta string
		if err := rows.Scan(&a.ID, &a.RunID, &a.Kind, &a.URIOrContent, &meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Metadata = []byte(meta)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListArtifactsForTaskByKind returns all artifacts of one kind across
// every run belonging to a task, oldest first — used by the planner to
// collect prior plan/feedback markdown for a revision.
func (s *Store) ListArtifactsForTaskByKind(ctx context.Context, taskID, kind string) ([]*domain.Artifact, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT a.id, a.run_id, a.kind, a.uri_or_content, a.metadata, a.created_at
		FROM artifacts a JOIN runs r ON r.id = a.run_id
		WHERE r.task_id = ? AND a.kind = ? ORDER BY a.created_at ASC`, taskID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Artifact
	for rows.Next() {
		a := &domain.Artifact{}
		var meta string
		if err := rows.Scan(&a.ID, &a.RunID, &a.Kind, &a.URIOrContent, &meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Metadata = []byte(meta)
		out = append(out, a)
	}
	return out, rows.Err()
}
