package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/agentflow/common/logger"
)

// storeFactories lists every Store implementation that requires no
// live external service, exercised against one shared conformance
// suite. RedisStore/PostgresStore are grounded on the same Save/
// Load/Delete/List contract but need a live Redis/Postgres instance,
// so they are not included here.
func storeFactories(t *testing.T) map[string]Store {
	t.Helper()
	log := logger.New("error", "console")

	fileStore, err := NewFileStore(t.TempDir(), log)
	require.NoError(t, err)

	return map[string]Store{
		"file":   fileStore,
		"memory": NewMemoryStore(log),
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cp := &WorkflowCheckpoint{
				WorkflowName: "demo",
				Timestamp:    time.Now().UTC(),
				State:        map[string]any{"counter": float64(1)},
			}
			id, err := store.Save(ctx, cp)
			require.NoError(t, err)
			assert.NotEmpty(t, id)

			loaded, err := store.Load(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "demo", loaded.WorkflowName)
			assert.Equal(t, float64(1), loaded.State["counter"])
		})
	}
}

func TestStoreLoadMissingReturnsErrNotFound(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Load(context.Background(), "does-not-exist")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreDeleteRemovesCheckpoint(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := store.Save(ctx, &WorkflowCheckpoint{WorkflowName: "demo", Timestamp: time.Now().UTC()})
			require.NoError(t, err)

			deleted, err := store.Delete(ctx, id)
			require.NoError(t, err)
			assert.True(t, deleted)

			_, err = store.Load(ctx, id)
			assert.ErrorIs(t, err, ErrNotFound)

			deletedAgain, err := store.Delete(ctx, id)
			require.NoError(t, err)
			assert.False(t, deletedAgain)
		})
	}
}

func TestStoreListAndGetLatestByWorkflow(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			older := time.Now().UTC().Add(-time.Hour)
			newer := time.Now().UTC()

			_, err := store.Save(ctx, &WorkflowCheckpoint{WorkflowName: "wf-a", Timestamp: older})
			require.NoError(t, err)
			latestID, err := store.Save(ctx, &WorkflowCheckpoint{WorkflowName: "wf-a", Timestamp: newer})
			require.NoError(t, err)
			_, err = store.Save(ctx, &WorkflowCheckpoint{WorkflowName: "wf-b", Timestamp: newer})
			require.NoError(t, err)

			ids, err := store.ListCheckpointIDs(ctx, "wf-a")
			require.NoError(t, err)
			assert.Len(t, ids, 2)

			latest, err := store.GetLatest(ctx, "wf-a")
			require.NoError(t, err)
			require.NotNil(t, latest)
			assert.Equal(t, latestID, latest.CheckpointID)
		})
	}
}
