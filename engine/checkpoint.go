package engine

import (
	"context"
	"time"
)

// Checkpoint is a persisted per-node snapshot, keyed by (runID, nodeID).
// It is written after each successful node completion; on resume, nodes whose
// checkpoint exists skip re-execution and their recorded result is reused as-is.
type Checkpoint struct {
	RunID     string     `json:"run_id"`
	NodeID    string     `json:"node_id"`
	Result    TaskResult `json:"result"`
	CreatedAt time.Time  `json:"created_at"`
}

// CheckpointStore persists run checkpoints. Implementations live in the
// persistence package; the engine only depends on this interface.
type CheckpointStore interface {
	// Save persists a checkpoint, overwriting any earlier one for the same key.
	Save(ctx context.Context, checkpoint *Checkpoint) error
	// Load returns the checkpoint for (runID, nodeID); found=false when absent.
	Load(ctx context.Context, runID, nodeID string) (*Checkpoint, bool, error)
	// List returns every checkpoint of a run ordered by creation time.
	List(ctx context.Context, runID string) ([]*Checkpoint, error)
	// DeleteRun removes all checkpoints of a run.
	DeleteRun(ctx context.Context, runID string) error
}
