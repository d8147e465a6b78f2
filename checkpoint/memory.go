package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/agentflow/common/cache"
	"github.com/lyzr/agentflow/common/logger"
)

// noExpiry is long enough to behave as "forever" for a process-lifetime
// cache; cache.Cache's Set always requires a TTL and treats zero as
// "already expired".
const noExpiry = 100 * 365 * 24 * time.Hour

// MemoryStore is an in-memory checkpoint store built on the teacher's
// common/cache.MemoryCache: checkpoints are JSON-encoded through the
// same EncodeCheckpointJSON/DecodeCheckpointJSON envelope the
// file/redis/postgres stores use, so round-trip fidelity matches
// theirs rather than keeping a live Go value.  A small index, kept
// alongside the cache, tracks which checkpoint ids belong to which
// workflow, since cache.Cache has no enumeration primitive.
type MemoryStore struct {
	cache cache.Cache
	log   *logger.Logger

	mu    sync.RWMutex
	index map[string]map[string]struct{} // workflow name -> checkpoint ids
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore(log *logger.Logger) *MemoryStore {
	return &MemoryStore{
		cache: cache.NewMemoryCache(log),
		log:   log,
		index: make(map[string]map[string]struct{}),
	}
}

func cacheKey(id string) string { return "checkpoint:" + id }

func (s *MemoryStore) Save(ctx context.Context, cp *WorkflowCheckpoint) (string, error) {
	if cp.CheckpointID == "" {
		cp.CheckpointID = uuid.NewString()
	}
	data, err := EncodeCheckpointJSON(cp)
	if err != nil {
		return "", err
	}
	if err := s.cache.Set(ctx, cacheKey(cp.CheckpointID), data, noExpiry); err != nil {
		return "", err
	}

	s.mu.Lock()
	ids, ok := s.index[cp.WorkflowName]
	if !ok {
		ids = make(map[string]struct{})
		s.index[cp.WorkflowName] = ids
	}
	ids[cp.CheckpointID] = struct{}{}
	s.mu.Unlock()

	return cp.CheckpointID, nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (*WorkflowCheckpoint, error) {
	data, ok, err := s.cache.Get(ctx, cacheKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	cp, err := DecodeCheckpointJSON(data)
	if err != nil {
		return nil, &CorruptedError{CheckpointID: id, Cause: err}
	}
	return cp, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	cp, err := s.Load(ctx, id)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.cache.Delete(ctx, cacheKey(id)); err != nil {
		return false, err
	}

	s.mu.Lock()
	if ids, ok := s.index[cp.WorkflowName]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.index, cp.WorkflowName)
		}
	}
	s.mu.Unlock()
	return true, nil
}

func (s *MemoryStore) ListCheckpointIDs(ctx context.Context, workflowName string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	if workflowName != "" {
		for id := range s.index[workflowName] {
			ids = append(ids, id)
		}
		return ids, nil
	}
	for _, set := range s.index {
		for id := range set {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MemoryStore) ListCheckpoints(ctx context.Context, workflowName string) ([]*WorkflowCheckpoint, error) {
	ids, err := s.ListCheckpointIDs(ctx, workflowName)
	if err != nil {
		return nil, err
	}
	var out []*WorkflowCheckpoint
	for _, id := range ids {
		cp, err := s.Load(ctx, id)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *MemoryStore) GetLatest(ctx context.Context, workflowName string) (*WorkflowCheckpoint, error) {
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
