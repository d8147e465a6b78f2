package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/lyzr/agentflow/common/logger"
)

// FileStore writes one JSON document per checkpoint under Dir, named
// "<checkpoint_id>.json" — the spec.md §4.4 file format, grounded on
// the teacher's CASBlob "one row per artifact" storage shape but
// backed by the filesystem instead of Postgres.
type FileStore struct {
	dir string
	log *logger.Logger
}

// NewFileStore creates a FileStore rooted at dir, creating it if
// necessary.
func NewFileStore(dir string, log *logger.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, log: log}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) Save(ctx context.Context, cp *WorkflowCheckpoint) (string, error) {
	if cp.CheckpointID == "" {
		cp.CheckpointID = uuid.NewString()
	}
	data, err := EncodeCheckpointJSON(cp)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(s.path(cp.CheckpointID), data, 0o644); err != nil {
		return "", err
	}
	return cp.CheckpointID, nil
}

func (s *FileStore) Load(ctx context.Context, id string) (*WorkflowCheckpoint, error) {
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cp, err := DecodeCheckpointJSON(data)
	if err != nil {
		return nil, &CorruptedError{CheckpointID: id, Cause: err}
	}
	return cp, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) (bool, error) {
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListCheckpoints reads every file in Dir, skipping and logging any
// that fail to decode rather than failing the whole listing, per
// spec.md §7's propagation policy for corrupted checkpoints.
func (s *FileStore) ListCheckpoints(ctx context.Context, workflowName string) ([]*WorkflowCheckpoint, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []*WorkflowCheckpoint
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		cp, err := s.Load(ctx, id)
		if err != nil {
			s.log.Warn("skipping corrupted checkpoint file", "checkpoint_id", id, "error", err)
			continue
		}
		if workflowName == "" || cp.WorkflowName == workflowName {
			out = append(out, cp)
		}
	}
	return out, nil
}

func (s *FileStore) ListCheckpointIDs(ctx context.Context, workflowName string) ([]string, error) {
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

func (s *FileStore) GetLatest(ctx context.Context, workflowName string) (*WorkflowCheckpoint, error) {
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
