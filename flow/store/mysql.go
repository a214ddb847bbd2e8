package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a shared-database durable implementation of Store[S].
//
// Designed for deployments where multiple hosts need access to run history.
// Each run is still driven by exactly one engine instance at a time; the
// store provides durability, not coordination.
//
// The state type S must be JSON-serializable.
//
// DSN format (parseTime=true is required so timestamps scan into time.Time):
//
//	user:password@tcp(host:3306)/planforge?parseTime=true
type MySQLStore[S any] struct {
	db *sql.DB
}

// NewMySQLStore connects to MySQL with the given DSN and runs schema
// migration.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore[S]{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore[S]) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS run_checkpoints (
			run_id VARCHAR(191) NOT NULL,
			step INT NOT NULL,
			node_id VARCHAR(191) NOT NULL,
			state JSON NOT NULL,
			created_at TIMESTAMP(6) NOT NULL,
			PRIMARY KEY (run_id, step),
			KEY idx_run_checkpoints_run (run_id)
		) ENGINE=InnoDB
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveStep persists a checkpoint, replacing any previous row for the same
// (run, step).
func (s *MySQLStore[S]) SaveStep(ctx context.Context, cp Checkpoint[S]) error {
	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_checkpoints (run_id, step, node_id, state, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			node_id = VALUES(node_id),
			state = VALUES(state),
			created_at = VALUES(created_at)`,
		cp.RunID, cp.Step, cp.NodeID, string(stateJSON), cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadLatest retrieves the highest-step checkpoint for a run.
func (s *MySQLStore[S]) LoadLatest(ctx context.Context, runID string) (Checkpoint[S], error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, step, node_id, state, created_at
		FROM run_checkpoints WHERE run_id = ?
		ORDER BY step DESC LIMIT 1`, runID)
	return scanCheckpoint[S](row)
}

// LoadStep retrieves a specific checkpoint of a run.
func (s *MySQLStore[S]) LoadStep(ctx context.Context, runID string, step int) (Checkpoint[S], error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, step, node_id, state, created_at
		FROM run_checkpoints WHERE run_id = ? AND step = ?`, runID, step)
	return scanCheckpoint[S](row)
}

// PurgeRun removes all checkpoints for a run.
func (s *MySQLStore[S]) PurgeRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM run_checkpoints WHERE run_id = ?", runID)
	return err
}

// Close releases the underlying database handle.
func (s *MySQLStore[S]) Close() error {
	return s.db.Close()
}
