package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/lyzr/agentflow/common/logger"
	redisw "github.com/lyzr/agentflow/common/redis"
)

// RedisStore persists checkpoints as Redis strings, built on the
// common/redis.Client wrapper's Get/Delete for the simple
// single-key path and its GetUnderlying escape hatch for the atomic
// document+index writes it doesn't itself expose. Checkpoint ids for a
// workflow are tracked in a Redis set so ListCheckpoints doesn't need
// a KEYS scan.
type RedisStore struct {
	client *redisw.Client
	log    *logger.Logger
}

// NewRedisStore wraps an already-constructed common/redis.Client.
func NewRedisStore(client *redisw.Client, log *logger.Logger) *RedisStore {
	return &RedisStore{client: client, log: log}
}

func checkpointKey(id string) string      { return "agentflow:checkpoint:" + id }
func workflowIndexKey(name string) string { return "agentflow:checkpoint_ids:" + name }

func (s *RedisStore) Save(ctx context.Context, cp *WorkflowCheckpoint) (string, error) {
	if cp.CheckpointID == "" {
		cp.CheckpointID = uuid.NewString()
	}
	data, err := EncodeCheckpointJSON(cp)
	if err != nil {
		return "", err
	}
	pipe := s.client.GetUnderlying().TxPipeline()
	pipe.Set(ctx, checkpointKey(cp.CheckpointID), data, 0)
	pipe.SAdd(ctx, workflowIndexKey(cp.WorkflowName), cp.CheckpointID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("checkpoint: redis save %s: %w", cp.CheckpointID, err)
	}
	return cp.CheckpointID, nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*WorkflowCheckpoint, error) {
	data, err := s.client.Get(ctx, checkpointKey(id))
	if err != nil {
		if strings.Contains(err.Error(), "key not found") {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("checkpoint: redis load %s: %w", id, err)
	}
	cp, err := DecodeCheckpointJSON([]byte(data))
	if err != nil {
		return nil, &CorruptedError{CheckpointID: id, Cause: err}
	}
	return cp, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	cp, err := s.Load(ctx, id)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		// Still attempt the delete; we just can't clean the index entry.
		if delErr := s.client.Delete(ctx, checkpointKey(id)); delErr != nil {
			return false, delErr
		}
		return true, nil
	}
	pipe := s.client.GetUnderlying().TxPipeline()
	pipe.Del(ctx, checkpointKey(id))
	pipe.SRem(ctx, workflowIndexKey(cp.WorkflowName), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) ListCheckpointIDs(ctx context.Context, workflowName string) ([]string, error) {
	if workflowName == "" {
		return nil, fmt.Errorf("checkpoint: redis store requires a workflow name to list checkpoints")
	}
	ids, err := s.client.GetUnderlying().SMembers(ctx, workflowIndexKey(workflowName)).Result()
	if err != nil && err != goredis.Nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) ListCheckpoints(ctx context.Context, workflowName string) ([]*WorkflowCheckpoint, error) {
	ids, err := s.ListCheckpointIDs(ctx, workflowName)
	if err != nil {
		return nil, err
	}
	var out []*WorkflowCheckpoint
	for _, id := range ids {
		cp, err := s.Load(ctx, id)
		if err != nil {
			var corrupted *CorruptedError
			if strings.Contains(err.Error(), "corrupted") {
				s.log.Warn("skipping corrupted checkpoint", "checkpoint_id", id, "error", err)
				continue
			}
			_ = corrupted
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *RedisStore) GetLatest(ctx context.Context, workflowName string) (*WorkflowCheckpoint, error) {
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
