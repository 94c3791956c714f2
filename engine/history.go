package engine

import (
	"sync"
	"time"
)

// NodeExecution records one node attempt for the run trace.
type NodeExecution struct {
	NodeID    string        `json:"node_id"`
	Kind      NodeKind      `json:"kind"`
	Attempt   int           `json:"attempt"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Status    ResultStatus  `json:"status"`
	Detail    string        `json:"detail,omitempty"`
}

// ExecutionHistory records the complete execution path of one run.
// Appends are synchronized; parallel branches record concurrently.
type ExecutionHistory struct {
	RunID     string    `json:"run_id"`
	GraphName string    `json:"graph_name"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	mu      sync.Mutex
	records []*NodeExecution
}

// NewExecutionHistory creates a history for one run
func NewExecutionHistory(runID, graphName string) *ExecutionHistory {
	return &ExecutionHistory{
		RunID:     runID,
		GraphName: graphName,
		StartTime: time.Now(),
	}
}

// RecordStart appends a running record and returns it for completion.
func (h *ExecutionHistory) RecordStart(nodeID string, kind NodeKind, attempt int) *NodeExecution {
	rec := &NodeExecution{
		NodeID:    nodeID,
		Kind:      kind,
		Attempt:   attempt,
		StartTime: time.Now(),
	}
	h.mu.Lock()
	h.records = append(h.records, rec)
	h.mu.Unlock()
	return rec
}

// RecordEnd completes a record started with RecordStart.
func (h *ExecutionHistory) RecordEnd(rec *NodeExecution, status ResultStatus, detail string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec.EndTime = time.Now()
	rec.Duration = rec.EndTime.Sub(rec.StartTime)
	rec.Status = status
	rec.Detail = detail
}

// Finish stamps the run end time.
func (h *ExecutionHistory) Finish() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.EndTime = time.Now()
}

// Records returns a snapshot of the recorded attempts in append order.
func (h *ExecutionHistory) Records() []NodeExecution {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]NodeExecution, len(h.records))
	for i, rec := range h.records {
		out[i] = *rec
	}
	return out
}
