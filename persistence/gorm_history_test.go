package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/taskflow/engine"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestHistoryStore(t *testing.T) *GormHistoryStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	store, err := NewGormHistoryStore(db)
	require.NoError(t, err)
	return store
}

func sampleSummary(runID string) *engine.RunSummary {
	started := time.Now().Add(-2 * time.Second)
	failed := engine.TaskResult{
		NodeID:  "review",
		Attempt: 3,
		Status:  engine.StatusFailed,
		Source:  engine.SourceAgent,
	}
	return &engine.RunSummary{
		RunID:     runID,
		GraphName: "pipeline",
		Results: map[string][]engine.TaskResult{
			"draft": {
				{
					NodeID:   "draft",
					Attempt:  1,
					Status:   engine.StatusRejected,
					Feedback: "too long",
					Source:   engine.SourceAgent,
				},
				{
					NodeID:  "draft",
					Attempt: 2,
					Output: engine.RawOutput{
						Text:   "final draft",
						Fields: map[string]any{"words": 120},
					},
					Status: engine.StatusSuccess,
					Source: engine.SourceAgent,
				},
			},
			"review": {failed},
		},
		Reason:       engine.TerminationNodeFailed,
		FirstFailure: &failed,
		Steps:        4,
		StartedAt:    started,
		FinishedAt:   time.Now(),
	}
}

func TestGormHistorySaveAndLoad(t *testing.T) {
	t.Parallel()
	store := newTestHistoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRun(ctx, sampleSummary("run-1")))

	record, err := store.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "pipeline", record.GraphName)
	assert.Equal(t, string(engine.TerminationNodeFailed), record.Reason)
	assert.Equal(t, "review", record.FailedNode)
	assert.Equal(t, 4, record.Steps)
	assert.GreaterOrEqual(t, record.DurationMS, int64(0))

	require.Len(t, record.NodeRecords, 3)
	byNode := make(map[string][]NodeRecord)
	for _, row := range record.NodeRecords {
		byNode[row.NodeID] = append(byNode[row.NodeID], row)
	}
	require.Len(t, byNode["draft"], 2)
	require.Len(t, byNode["review"], 1)

	for _, row := range byNode["draft"] {
		switch row.Attempt {
		case 1:
			assert.Equal(t, string(engine.StatusRejected), row.Status)
			assert.Equal(t, "too long", row.Feedback)
		case 2:
			assert.Equal(t, string(engine.StatusSuccess), row.Status)
			assert.Equal(t, "final draft", row.Output)
			assert.Contains(t, row.Fields, "words")
		}
	}
}

func TestGormHistoryListRuns(t *testing.T) {
	t.Parallel()
	store := newTestHistoryStore(t)
	ctx := context.Background()

	first := sampleSummary("run-1")
	first.FinishedAt = time.Now().Add(-time.Minute)
	second := sampleSummary("run-2")
	require.NoError(t, store.SaveRun(ctx, first))
	require.NoError(t, store.SaveRun(ctx, second))

	other := sampleSummary("run-3")
	other.GraphName = "other-graph"
	require.NoError(t, store.SaveRun(ctx, other))

	runs, err := store.ListRuns(ctx, "pipeline", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, "run-1", runs[1].RunID)

	all, err := store.ListRuns(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := store.ListRuns(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestGormHistoryDeleteRun(t *testing.T) {
	t.Parallel()
	store := newTestHistoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRun(ctx, sampleSummary("run-1")))
	require.NoError(t, store.DeleteRun(ctx, "run-1"))

	_, err := store.LoadRun(ctx, "run-1")
	assert.Error(t, err)

	var count int64
	require.NoError(t, store.db.Model(&NodeRecord{}).Where("run_id = ?", "run-1").Count(&count).Error)
	assert.Zero(t, count)
}

func TestGormHistoryLoadMissingRun(t *testing.T) {
	t.Parallel()
	store := newTestHistoryStore(t)
	_, err := store.LoadRun(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestNewGormHistoryStoreNilDB(t *testing.T) {
	t.Parallel()
	_, err := NewGormHistoryStore(nil)
	assert.Error(t, err)
}
