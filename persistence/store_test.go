package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/taskflow/engine"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkpoint(runID, nodeID string, at time.Time) *engine.Checkpoint {
	return &engine.Checkpoint{
		RunID:  runID,
		NodeID: nodeID,
		Result: engine.TaskResult{
			NodeID:  nodeID,
			Attempt: 1,
			Output:  engine.RawOutput{Text: "output of " + nodeID},
			Status:  engine.StatusSuccess,
			Source:  engine.SourceAgent,
		},
		CreatedAt: at,
	}
}

// exerciseStore runs the shared CheckpointStore contract against an implementation.
func exerciseStore(t *testing.T, store engine.CheckpointStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	// Absent key.
	_, found, err := store.Load(ctx, "run-1", "a")
	require.NoError(t, err)
	assert.False(t, found)

	// Save and load back.
	require.NoError(t, store.Save(ctx, checkpoint("run-1", "a", base)))
	require.NoError(t, store.Save(ctx, checkpoint("run-1", "b", base.Add(time.Second))))
	require.NoError(t, store.Save(ctx, checkpoint("run-2", "a", base.Add(2*time.Second))))

	cp, found, err := store.Load(ctx, "run-1", "a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a", cp.NodeID)
	assert.Equal(t, "output of a", cp.Result.Output.Text)
	assert.True(t, cp.Result.Succeeded())

	// Overwrite wins.
	updated := checkpoint("run-1", "a", base.Add(3*time.Second))
	updated.Result.Output.Text = "rewritten"
	require.NoError(t, store.Save(ctx, updated))
	cp, found, err = store.Load(ctx, "run-1", "a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "rewritten", cp.Result.Output.Text)

	// List is scoped to the run and ordered by creation time.
	list, err := store.List(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].NodeID)
	assert.Equal(t, "a", list[1].NodeID)

	// DeleteRun removes one run and leaves others alone.
	require.NoError(t, store.DeleteRun(ctx, "run-1"))
	_, found, err = store.Load(ctx, "run-1", "a")
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = store.Load(ctx, "run-2", "a")
	require.NoError(t, err)
	assert.True(t, found)

	// Deleting an absent run is not an error.
	assert.NoError(t, store.DeleteRun(ctx, "ghost"))
}

func TestMemoryCheckpointStore(t *testing.T) {
	t.Parallel()
	exerciseStore(t, NewMemoryCheckpointStore())
}

func TestMemoryCheckpointStoreCopiesOnLoad(t *testing.T) {
	t.Parallel()
	store := NewMemoryCheckpointStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, checkpoint("run-1", "a", time.Now())))

	cp, _, err := store.Load(ctx, "run-1", "a")
	require.NoError(t, err)
	cp.Result.Output.Text = "mutated by caller"

	again, _, err := store.Load(ctx, "run-1", "a")
	require.NoError(t, err)
	assert.Equal(t, "output of a", again.Result.Output.Text)
}

func TestFileCheckpointStore(t *testing.T) {
	t.Parallel()
	store, err := NewFileCheckpointStore(t.TempDir())
	require.NoError(t, err)
	exerciseStore(t, store)
}

func TestFileCheckpointStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileCheckpointStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, checkpoint("run-1", "a", time.Now())))

	reopened, err := NewFileCheckpointStore(dir)
	require.NoError(t, err)
	cp, found, err := reopened.Load(ctx, "run-1", "a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "output of a", cp.Result.Output.Text)
}

func newTestRedisStore(t *testing.T) *RedisCheckpointStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCheckpointStoreFromClient(client, "")
}

func TestRedisCheckpointStore(t *testing.T) {
	t.Parallel()
	exerciseStore(t, newTestRedisStore(t))
}

func TestRedisCheckpointStorePing(t *testing.T) {
	t.Parallel()
	store := newTestRedisStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestNewRedisCheckpointStoreUnreachable(t *testing.T) {
	t.Parallel()
	_, err := NewRedisCheckpointStore(RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
