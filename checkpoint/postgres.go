package checkpoint

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	dbw "github.com/lyzr/agentflow/common/db"
	"github.com/lyzr/agentflow/common/logger"
)

// PostgresStore persists checkpoints in a table, built on the
// teacher's common/db.DB pgxpool wrapper, one row per checkpoint
// document looked up by id.
type PostgresStore struct {
	pool *dbw.DB
	log  *logger.Logger
}

// NewPostgresStore wraps an already-connected common/db.DB. Callers
// are expected to have created the checkpoint table:
//
//	CREATE TABLE IF NOT EXISTS workflow_checkpoint (
//	    checkpoint_id TEXT PRIMARY KEY,
//	    workflow_name TEXT NOT NULL,
//	    document JSONB NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
func NewPostgresStore(db *dbw.DB, log *logger.Logger) *PostgresStore {
	return &PostgresStore{pool: db, log: log}
}

func (s *PostgresStore) Save(ctx context.Context, cp *WorkflowCheckpoint) (string, error) {
	if cp.CheckpointID == "" {
		cp.CheckpointID = uuid.NewString()
	}
	data, err := EncodeCheckpointJSON(cp)
	if err != nil {
		return "", err
	}
	const query = `
		INSERT INTO workflow_checkpoint (checkpoint_id, workflow_name, document, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (checkpoint_id) DO UPDATE SET document = EXCLUDED.document
	`
	if _, err := s.pool.Exec(ctx, query, cp.CheckpointID, cp.WorkflowName, data, cp.Timestamp); err != nil {
		return "", fmt.Errorf("checkpoint: postgres save %s: %w", cp.CheckpointID, err)
	}
	return cp.CheckpointID, nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*WorkflowCheckpoint, error) {
	const query = `SELECT document FROM workflow_checkpoint WHERE checkpoint_id = $1`
	var data []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: postgres load %s: %w", id, err)
	}
	cp, err := DecodeCheckpointJSON(data)
	if err != nil {
		return nil, &CorruptedError{CheckpointID: id, Cause: err}
	}
	return cp, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	const query = `DELETE FROM workflow_checkpoint WHERE checkpoint_id = $1`
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("checkpoint: postgres delete %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListCheckpoints(ctx context.Context, workflowName string) ([]*WorkflowCheckpoint, error) {
	query := `SELECT checkpoint_id, document FROM workflow_checkpoint`
	args := []any{}
	if workflowName != "" {
		query += ` WHERE workflow_name = $1`
		args = append(args, workflowName)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: postgres list: %w", err)
	}
	defer rows.Close()

	var out []*WorkflowCheckpoint
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		cp, err := DecodeCheckpointJSON(data)
		if err != nil {
			s.log.Warn("skipping corrupted checkpoint row", "checkpoint_id", id, "error", err)
			continue
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListCheckpointIDs(ctx context.Context, workflowName string) ([]string, error) {
	cps, err := s.ListCheckpoints(ctx, workflowName)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(cps))
	for _, cp := range cps {
		ids = append(ids, cp.CheckpointID)
	}
	return ids, nil
}

func (s *PostgresStore) GetLatest(ctx context.Context, workflowName string) (*WorkflowCheckpoint, error) {
	cps, err := s.ListCheckpoints(ctx, workflowName)
	if err != nil {
		return nil, err
	}
	var latest *WorkflowCheckpoint
	for _, cp := range cps {
		if latest == nil || cp.Timestamp.After(latest.Timestamp) {
			latest = cp
		}
	}
	return latest, nil
}
