package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/taskflow/engine"
)

// MemoryCheckpointStore is an in-memory implementation of engine.CheckpointStore.
// Suitable for tests and single-shot runs.
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]map[string]*engine.Checkpoint // runID -> nodeID -> checkpoint
}

// NewMemoryCheckpointStore creates an empty in-memory checkpoint store
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		checkpoints: make(map[string]map[string]*engine.Checkpoint),
	}
}

// Save persists a checkpoint, overwriting any earlier one for the same key.
func (s *MemoryCheckpointStore) Save(_ context.Context, checkpoint *engine.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.checkpoints[checkpoint.RunID]
	if !ok {
		run = make(map[string]*engine.Checkpoint)
		s.checkpoints[checkpoint.RunID] = run
	}
	cp := *checkpoint
	run[checkpoint.NodeID] = &cp
	return nil
}

// Load returns the checkpoint for (runID, nodeID).
func (s *MemoryCheckpointStore) Load(_ context.Context, runID, nodeID string) (*engine.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[runID][nodeID]
	if !ok {
		return nil, false, nil
	}
	out := *cp
	return &out, true, nil
}

// List returns every checkpoint of a run ordered by creation time.
func (s *MemoryCheckpointStore) List(_ context.Context, runID string) ([]*engine.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*engine.Checkpoint, 0, len(s.checkpoints[runID]))
	for _, cp := range s.checkpoints[runID] {
		c := *cp
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteRun removes all checkpoints of a run.
func (s *MemoryCheckpointStore) DeleteRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, runID)
	return nil
}
