package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BaSui01/taskflow/engine"
)

// FileCheckpointStore is a file-based implementation of engine.CheckpointStore.
// Suitable for single-node deployments: one JSON file per run, checkpoints
// keyed by node ID inside it.
type FileCheckpointStore struct {
	baseDir string
	mu      sync.Mutex
}

// NewFileCheckpointStore creates a file-based checkpoint store rooted at baseDir
func NewFileCheckpointStore(baseDir string) (*FileCheckpointStore, error) {
	dir := filepath.Join(baseDir, "checkpoints")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileCheckpointStore{baseDir: dir}, nil
}

func (s *FileCheckpointStore) runPath(runID string) string {
	return filepath.Join(s.baseDir, runID+".json")
}

func (s *FileCheckpointStore) readRun(runID string) (map[string]*engine.Checkpoint, error) {
	data, err := os.ReadFile(s.runPath(runID))
	if os.IsNotExist(err) {
		return make(map[string]*engine.Checkpoint), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	run := make(map[string]*engine.Checkpoint)
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint file: %w", err)
	}
	return run, nil
}

func (s *FileCheckpointStore) writeRun(runID string, run map[string]*engine.Checkpoint) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoints: %w", err)
	}
	// Write-then-rename keeps a crashed writer from truncating the run file.
	tmp := s.runPath(runID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	return os.Rename(tmp, s.runPath(runID))
}

// Save persists a checkpoint, overwriting any earlier one for the same key.
func (s *FileCheckpointStore) Save(_ context.Context, checkpoint *engine.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.readRun(checkpoint.RunID)
	if err != nil {
		return err
	}
	run[checkpoint.NodeID] = checkpoint
	return s.writeRun(checkpoint.RunID, run)
}

// Load returns the checkpoint for (runID, nodeID).
func (s *FileCheckpointStore) Load(_ context.Context, runID, nodeID string) (*engine.Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.readRun(runID)
	if err != nil {
		return nil, false, err
	}
	cp, ok := run[nodeID]
	return cp, ok, nil
}

// List returns every checkpoint of a run ordered by creation time.
func (s *FileCheckpointStore) List(_ context.Context, runID string) ([]*engine.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.readRun(runID)
	if err != nil {
		return nil, err
	}
	out := make([]*engine.Checkpoint, 0, len(run))
	for _, cp := range run {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteRun removes all checkpoints of a run.
func (s *FileCheckpointStore) DeleteRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.runPath(runID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
