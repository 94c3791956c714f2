package engine

import (
	"time"

	"github.com/BaSui01/taskflow/types"
)

// TerminationReason explains why a run reached its terminal state.
type TerminationReason string

const (
	// TerminationCompleted means every reached terminal node succeeded
	TerminationCompleted TerminationReason = "completed"
	// TerminationGuardrailExhausted means a node burned its retry budget
	TerminationGuardrailExhausted TerminationReason = "guardrail_exhausted"
	// TerminationStepBudgetExhausted means the global step ceiling was hit
	TerminationStepBudgetExhausted TerminationReason = "step_budget_exhausted"
	// TerminationCancelled means the run observed a caller cancellation
	TerminationCancelled TerminationReason = "cancelled"
	// TerminationNoRoute means a handoff found no eligible target
	TerminationNoRoute TerminationReason = "no_route"
	// TerminationNodeFailed means a node failed fatally and the failure
	// propagated to every remaining path
	TerminationNodeFailed TerminationReason = "node_failed"
)

// RunState is the mutable state of one workflow execution. It is owned
// exclusively by the scheduler for the duration of the run; executors only
// return TaskResults, which the scheduler records.
type RunState struct {
	runID string

	pending           []string        // FIFO ready queue
	enqueued          map[string]bool // nodes ever enqueued, cycle-safe propagation
	running           map[string]bool
	executions        map[string]int // completed executions per node
	retryCounters     map[string]int
	iterationCounters map[string]int
	steps             int

	terminated       bool
	reason           TerminationReason
	firstFailure     *TaskResult
	firstFailureCode types.ErrorCode
}

// newRunState seeds the ready queue with the graph's start nodes in
// insertion order.
func newRunState(runID string, graph *Graph) *RunState {
	st := &RunState{
		runID:             runID,
		enqueued:          make(map[string]bool),
		running:           make(map[string]bool),
		executions:        make(map[string]int),
		retryCounters:     make(map[string]int),
		iterationCounters: make(map[string]int),
	}
	for _, start := range graph.StartNodes() {
		st.enqueue(start.ID)
	}
	return st
}

// enqueue appends the node to the FIFO ready queue. Nodes re-enter the queue
// only through decision or loop re-entry edges, which the graph validator
// guarantees carry a monotonic counter.
func (st *RunState) enqueue(nodeID string) {
	st.pending = append(st.pending, nodeID)
	st.enqueued[nodeID] = true
}

// dequeue pops the oldest ready node, FIFO.
func (st *RunState) dequeue() (string, bool) {
	if len(st.pending) == 0 {
		return "", false
	}
	id := st.pending[0]
	st.pending = st.pending[1:]
	return id, true
}

// idle reports whether nothing is ready or running.
func (st *RunState) idle() bool {
	return len(st.pending) == 0 && len(st.running) == 0
}

// terminate records the first terminal condition; later ones keep the first.
func (st *RunState) terminate(reason TerminationReason) {
	if st.terminated {
		return
	}
	st.terminated = true
	st.reason = reason
}

// recordFailure keeps the first blocking failure for the run summary.
func (st *RunState) recordFailure(result TaskResult, code types.ErrorCode) {
	if st.firstFailure == nil {
		r := result
		st.firstFailure = &r
		st.firstFailureCode = code
	}
}

// RunSummary is the complete, inspectable trace of one run.
type RunSummary struct {
	// RunID identifies the run
	RunID string `json:"run_id"`
	// GraphName is the executed graph's name
	GraphName string `json:"graph_name"`
	// Results holds, per node, the ordered list of every attempt
	Results map[string][]TaskResult `json:"results"`
	// Reason is the overall termination reason
	Reason TerminationReason `json:"reason"`
	// FirstFailure is the first blocking failure, when the run did not complete
	FirstFailure *TaskResult `json:"first_failure,omitempty"`
	// Steps is the number of scheduler steps consumed
	Steps int `json:"steps"`
	// StartedAt / FinishedAt bound the run
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Completed reports whether the run terminated successfully.
func (s *RunSummary) Completed() bool {
	return s.Reason == TerminationCompleted
}

// FinalResult returns the latest result recorded for a node.
func (s *RunSummary) FinalResult(nodeID string) (TaskResult, bool) {
	results := s.Results[nodeID]
	if len(results) == 0 {
		return TaskResult{}, false
	}
	return results[len(results)-1], true
}
