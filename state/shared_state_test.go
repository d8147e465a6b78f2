package state

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetDelete(t *testing.T) {
	s := New()

	_, ok := s.Get("missing")
	assert.False(t, ok)

	s.Set("key", "value")
	v, ok := s.Get("key")
	require.True(t, ok)
	assert.Equal(t, "value", v)

	s.Delete("key")
	_, ok = s.Get("key")
	assert.False(t, ok)
}

func TestKeysReturnsSnapshot(t *testing.T) {
	s := New()
	s.Set("a", 1)
	s.Set("b", 2)

	keys := s.Keys()
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestSnapshotAndRestoreRoundTrip(t *testing.T) {
	s := New()
	s.Set("a", 1.0)
	s.Set("b", "two")

	snap := s.Snapshot()

	restored := New()
	restored.Restore(snap)

	v, ok := restored.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
	v, ok = restored.Get("b")
	require.True(t, ok)
	assert.Equal(t, "two", v)
}

func TestRestoreReplacesExistingContents(t *testing.T) {
	s := New()
	s.Set("stale", "value")

	s.Restore(map[string]any{"fresh": "value"})

	_, ok := s.Get("stale")
	assert.False(t, ok)
	v, ok := s.Get("fresh")
	require.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestMarshalUnmarshalJSONRoundTrip(t *testing.T) {
	s := New()
	s.Set("count", 3.0)
	s.Set("name", "demo")

	data, err := json.Marshal(s)
	require.NoError(t, err)

	restored := New()
	require.NoError(t, json.Unmarshal(data, restored))

	v, ok := restored.Get("count")
	require.True(t, ok)
	assert.Equal(t, 3.0, v)
}

func TestConcurrentAccessDoesNotRace(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.Set("key", i)
		}(i)
		go func() {
			defer wg.Done()
			s.Get("key")
		}()
	}
	wg.Wait()
}
