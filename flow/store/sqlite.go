package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file durable implementation of Store[S].
//
// Designed for local runs requiring persistence with zero setup. WAL mode is
// enabled so readers do not block the single writer.
//
// The state type S must be JSON-serializable.
//
// Example:
//
//	st, err := store.NewSQLiteStore[Doc]("./planforge.db")
//	if err != nil { ... }
//	defer st.Close()
//
// Use ":memory:" for an in-memory database in tests.
type SQLiteStore[S any] struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and runs
// schema migration.
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore[S]{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore[S]) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS run_checkpoints (
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (run_id, step)
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_run_checkpoints_run ON run_checkpoints(run_id)")
	return err
}

// SaveStep persists a checkpoint. Saving the same (run, step) twice replaces
// the earlier row, which keeps crash-replayed steps idempotent.
func (s *SQLiteStore[S]) SaveStep(ctx context.Context, cp Checkpoint[S]) error {
	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_checkpoints (run_id, step, node_id, state, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, step) DO UPDATE SET
			node_id = excluded.node_id,
			state = excluded.state,
			created_at = excluded.created_at`,
		cp.RunID, cp.Step, cp.NodeID, string(stateJSON), cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadLatest retrieves the highest-step checkpoint for a run.
func (s *SQLiteStore[S]) LoadLatest(ctx context.Context, runID string) (Checkpoint[S], error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, step, node_id, state, created_at
		FROM run_checkpoints WHERE run_id = ?
		ORDER BY step DESC LIMIT 1`, runID)
	return scanCheckpoint[S](row)
}

// LoadStep retrieves a specific checkpoint of a run.
func (s *SQLiteStore[S]) LoadStep(ctx context.Context, runID string, step int) (Checkpoint[S], error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, step, node_id, state, created_at
		FROM run_checkpoints WHERE run_id = ? AND step = ?`, runID, step)
	return scanCheckpoint[S](row)
}

// PurgeRun removes all checkpoints for a run.
func (s *SQLiteStore[S]) PurgeRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM run_checkpoints WHERE run_id = ?", runID)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore[S]) Close() error {
	return s.db.Close()
}

// scanCheckpoint decodes one checkpoint row, translating sql.ErrNoRows to
// ErrNotFound.
func scanCheckpoint[S any](row *sql.Row) (Checkpoint[S], error) {
	var cp Checkpoint[S]
	var stateJSON string

	err := row.Scan(&cp.RunID, &cp.Step, &cp.NodeID, &stateJSON, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return cp, ErrNotFound
	}
	if err != nil {
		return cp, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return cp, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return cp, nil
}
