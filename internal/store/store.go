// Package store implements the single-file relational persistent store:
// Tasks, Runs, SubAgents, Events, Artifacts, ToolCalls, ApprovalRequests,
// WorktreeLogs, UserMessages, ConversationSummaries, Checkpoints,
// TaskLinks, ProviderConfigs, and process settings. Writes serialize
// through one handle; reads take no lock and go through a second
// connection pool opened on the same file (not opened read-only). An
// ephemeral ":memory:" store reads through the write handle instead.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyExists is returned by inserts that violate a uniqueness constraint.
var ErrAlreadyExists = errors.New("store: already exists")

// Store is the single-file relational store used by every component.
type Store struct {
	writeMu sync.Mutex
	writeDB *sql.DB
	readDB  *sql.DB
	seqMu   sync.Mutex
	seq     int64
}

// Config configures the store.
type Config struct {
	// Path is the sqlite file path, or ":memory:" for an ephemeral store.
	Path string
}

// Open opens (and migrates) the store at cfg.Path.
func Open(cfg Config) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	writeDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open write handle: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	// Each connection to ":memory:" is a separate database, so an
	// ephemeral store reads through the write handle.
	readDB := writeDB
	if path != ":memory:" {
		readDB, err = sql.Open("sqlite", path)
		if err != nil {
			writeDB.Close()
			return nil, fmt.Errorf("store: open read handle: %w", err)
		}
	}

	s := &Store{writeDB: writeDB, readDB: readDB}
	if err := s.migrate(context.Background()); err != nil {
		writeDB.Close()
		readDB.Close()
		return nil, err
	}
	if err := s.loadSeq(context.Background()); err != nil {
		writeDB.Close()
		readDB.Close()
		return nil, err
	}
	return s, nil
}

// Close releases both underlying connections.
func (s *Store) Close() error {
	werr := s.writeDB.Close()
	rerr := s.readDB.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// withWrite serializes a write operation through the single write handle,
// inside a transaction, matching spec.md's "writes serialize through a
// single handle" requirement.
func (s *Store) withWrite(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// nextSeq returns the next monotonic event sequence number for this
// process lifetime (Testable Property #1: strictly increasing, gap-free).
func (s *Store) nextSeq() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.seq++
	return s.seq
}

func (s *Store) loadSeq(ctx context.Context) error {
	row := s.readDB.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`)
	var max int64
	if err := row.Scan(&max); err != nil {
		return fmt.Errorf("store: load seq: %w", err)
	}
	s.seq = max
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			prompt TEXT NOT NULL,
			parent_task_id TEXT,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id),
			status TEXT NOT NULL,
			plan_context TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			failure_reason TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_task ON runs(task_id)`,
		`CREATE TABLE IF NOT EXISTS sub_agents (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id),
			parent_id TEXT,
			step_idx INTEGER NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			worktree_path TEXT,
			contract_json TEXT NOT NULL,
			started_at DATETIME,
			finished_at DATETIME,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subagents_run ON sub_agents(run_id)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			run_id TEXT,
			seq INTEGER NOT NULL,
			category TEXT NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run_seq ON events(run_id, seq)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_seq ON events(seq)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id),
			kind TEXT NOT NULL,
			uri_or_content TEXT NOT NULL,
			metadata TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_run ON artifacts(run_id)`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id),
			step_idx INTEGER,
			tool_name TEXT NOT NULL,
			input TEXT,
			output TEXT,
			status TEXT NOT NULL,
			started_at DATETIME,
			finished_at DATETIME,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_toolcalls_run ON tool_calls(run_id)`,
		`CREATE TABLE IF NOT EXISTS approval_requests (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			sub_agent_id TEXT,
			tool_call_id TEXT,
			tool_name TEXT NOT NULL,
			input TEXT,
			scope TEXT,
			created_at DATETIME NOT NULL,
			resolved INTEGER NOT NULL DEFAULT 0,
			approved INTEGER NOT NULL DEFAULT 0,
			resolved_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_task ON approval_requests(task_id)`,
		`CREATE TABLE IF NOT EXISTS worktree_logs (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			sub_agent_id TEXT NOT NULL,
			strategy TEXT NOT NULL,
			branch TEXT,
			base_ref TEXT,
			path TEXT NOT NULL,
			merge_strategy TEXT,
			merge_success INTEGER,
			merge_message TEXT,
			conflicted_files TEXT,
			created_at DATETIME NOT NULL,
			merged_at DATETIME,
			cleaned_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_worktreelogs_run ON worktree_logs(run_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_worktreelogs_subagent ON worktree_logs(sub_agent_id)`,
		`CREATE TABLE IF NOT EXISTS user_messages (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			run_id TEXT,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usermessages_task ON user_messages(task_id)`,
		`CREATE TABLE IF NOT EXISTS conversation_summaries (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			text TEXT NOT NULL,
			message_count INTEGER NOT NULL,
			token_estimate INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_task ON conversation_summaries(task_id)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			run_id TEXT PRIMARY KEY,
			last_step_idx INTEGER NOT NULL,
			runtime_state TEXT,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_links (
			task_id_a TEXT NOT NULL,
			task_id_b TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (task_id_a, task_id_b)
		)`,
		`CREATE TABLE IF NOT EXISTS provider_configs (
			provider_id TEXT PRIMARY KEY,
			api_key TEXT,
			base_url TEXT,
			default_model TEXT,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	}

	return s.withWrite(ctx, func(tx *sql.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("store: migrate: %w", err)
			}
		}
		return nil
	})
}
