package engine

import (
	"fmt"
	"strings"
	"sync"
)

// ContextEntry is one item of a materialized context view.
type ContextEntry struct {
	NodeID   string       `json:"node_id"`
	ParentID string       `json:"parent_id,omitempty"`
	Attempt  int          `json:"attempt,omitempty"`
	Source   string       `json:"source"`
	Status   ResultStatus `json:"status"`
	Output   RawOutput    `json:"output"`
	Feedback string       `json:"feedback,omitempty"`
}

// ContextView is the materialized input context assembled for one node before
// invocation. Views are read-only snapshots: concurrent executors each hold an
// independent copy, so no executor can mutate another's context.
type ContextView struct {
	RunID   string         `json:"run_id"`
	NodeID  string         `json:"node_id"`
	Entries []ContextEntry `json:"entries"`
}

// Len returns the number of entries in the view.
func (v *ContextView) Len() int { return len(v.Entries) }

// HasFeedback reports whether the view carries guardrail feedback.
func (v *ContextView) HasFeedback() bool {
	for _, e := range v.Entries {
		if e.Source == SourceGuardrailFeedback {
			return true
		}
	}
	return false
}

// FeedbackEntries returns the guardrail-feedback entries of the view.
func (v *ContextView) FeedbackEntries() []ContextEntry {
	var out []ContextEntry
	for _, e := range v.Entries {
		if e.Source == SourceGuardrailFeedback {
			out = append(out, e)
		}
	}
	return out
}

// Equal reports whether two views expose the same entries in the same order.
func (v *ContextView) Equal(other *ContextView) bool {
	if other == nil || v.NodeID != other.NodeID || len(v.Entries) != len(other.Entries) {
		return false
	}
	for i, e := range v.Entries {
		o := other.Entries[i]
		if e.NodeID != o.NodeID || e.Attempt != o.Attempt || e.Source != o.Source ||
			e.Status != o.Status || e.Feedback != o.Feedback || e.Output.Text != o.Output.Text {
			return false
		}
	}
	return true
}

// Render flattens the view into prompt text. Feedback and memory entries are
// labelled by source; agent entries are labelled by producing node.
func (v *ContextView) Render() string {
	if len(v.Entries) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, e := range v.Entries {
		switch e.Source {
		case SourceGuardrailFeedback:
			fmt.Fprintf(&sb, "[guardrail feedback] %s\n", e.Feedback)
		case SourceMemory:
			fmt.Fprintf(&sb, "[memory] %s\n", e.Output.Text)
		case SourceUpstreamFailure:
			fmt.Fprintf(&sb, "[%s failed] %s\n", e.NodeID, e.Feedback)
		case SourceHandoffPayload:
			fmt.Fprintf(&sb, "[handoff payload] %v\n", e.Output.Fields)
		default:
			fmt.Fprintf(&sb, "[%s] %s\n", e.NodeID, e.Output.Text)
		}
	}
	return sb.String()
}

// addMemory appends memory search results as synthetic entries. Only the
// scheduler calls this, during view construction.
func (v *ContextView) addMemory(items []MemoryItem) {
	for _, item := range items {
		v.Entries = append(v.Entries, ContextEntry{
			NodeID: v.NodeID,
			Source: SourceMemory,
			Status: StatusSuccess,
			Output: RawOutput{Text: item.Content},
		})
	}
}

// ContextStore is the durable-for-the-run, queryable store of TaskResults.
// Record and View are internally synchronized: concurrent parallel branches
// never interleave corruptly and a view never observes a partial write.
type ContextStore struct {
	mu      sync.RWMutex
	order   []TaskResult            // completion order, every attempt
	byNode  map[string][]TaskResult // ordered by attempt
	counter *TokenCounter
	budget  int
}

// NewContextStore creates an empty context store
func NewContextStore() *ContextStore {
	return &ContextStore{byNode: make(map[string][]TaskResult)}
}

// WithTokenBudget bounds materialized views to roughly budget tokens, dropping
// the oldest non-feedback entries first. Zero disables the bound.
func (s *ContextStore) WithTokenBudget(counter *TokenCounter, budget int) *ContextStore {
	s.counter = counter
	s.budget = budget
	return s
}

// Record appends a result. O(1), in-memory, no failure side channel.
func (s *ContextStore) Record(result TaskResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, result)
	s.byNode[result.NodeID] = append(s.byNode[result.NodeID], result)
}

// Results returns a copy of every attempt recorded for the node, ordered by attempt.
func (s *ContextStore) Results(nodeID string) []TaskResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TaskResult, len(s.byNode[nodeID]))
	copy(out, s.byNode[nodeID])
	return out
}

// AllResults returns a copy of the full result map.
func (s *ContextStore) AllResults() map[string][]TaskResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]TaskResult, len(s.byNode))
	for id, results := range s.byNode {
		cp := make([]TaskResult, len(results))
		copy(cp, results)
		out[id] = cp
	}
	return out
}

// LatestSuccess returns the most recent successful result of the node.
func (s *ContextStore) LatestSuccess(nodeID string) (TaskResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestSuccessLocked(nodeID)
}

func (s *ContextStore) latestSuccessLocked(nodeID string) (TaskResult, bool) {
	results := s.byNode[nodeID]
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Succeeded() {
			return results[i], true
		}
	}
	return TaskResult{}, false
}

// View materializes the context for a node per its retention policy. The
// node's own latest guardrail feedback, when present, is prepended as a
// synthetic highest-priority entry tagged source=guardrail-feedback.
func (s *ContextStore) View(runID string, node *TaskNode, graph *Graph) *ContextView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	view := &ContextView{RunID: runID, NodeID: node.ID}

	if fb, ok := s.latestFeedbackLocked(node.ID); ok {
		view.Entries = append(view.Entries, fb)
	}

	switch node.ContextPolicy.Kind {
	case PolicyLastOutput:
		for _, predID := range graph.Predecessors(node.ID) {
			if result, ok := s.latestSuccessLocked(predID); ok {
				view.Entries = append(view.Entries, entryFromResult(result))
			}
		}
	case PolicyFiltered:
		allowed := make(map[string]bool, len(node.ContextPolicy.NodeIDs))
		for _, id := range node.ContextPolicy.NodeIDs {
			allowed[id] = true
		}
		for _, result := range s.order {
			if !allowed[result.NodeID] && !allowed[result.ParentID] {
				continue
			}
			if result.Source != SourceAgent {
				continue
			}
			switch {
			case result.Succeeded():
				result.Output = result.Output.Project(node.ContextPolicy.Fields)
				view.Entries = append(view.Entries, entryFromResult(result))
			case result.Status == StatusFailed && node.ContextPolicy.TolerateMissing:
				// Failed upstream results remain visible so tolerant
				// aggregators can account for the gap.
				entry := entryFromResult(result)
				entry.Source = SourceUpstreamFailure
				view.Entries = append(view.Entries, entry)
			}
		}
	default: // PolicyFullHistory and the zero value
		for _, result := range s.order {
			if result.Succeeded() && result.Source == SourceAgent {
				view.Entries = append(view.Entries, entryFromResult(result))
			}
		}
	}

	s.applyBudgetLocked(view)
	return view
}

// LatestFeedback returns the node's most recent rejection as a synthetic
// feedback entry.
func (s *ContextStore) LatestFeedback(nodeID string) (ContextEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestFeedbackLocked(nodeID)
}

// latestFeedbackLocked returns the node's most recent rejection as a synthetic
// feedback entry.
func (s *ContextStore) latestFeedbackLocked(nodeID string) (ContextEntry, bool) {
	results := s.byNode[nodeID]
	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		if r.Status == StatusRejected && r.Feedback != "" {
			return ContextEntry{
				NodeID:   nodeID,
				Attempt:  r.Attempt,
				Source:   SourceGuardrailFeedback,
				Status:   StatusRejected,
				Feedback: r.Feedback,
			}, true
		}
	}
	return ContextEntry{}, false
}

// applyBudgetLocked drops the oldest non-feedback entries until the rendered
// view fits the token budget. Feedback entries are never dropped.
func (s *ContextStore) applyBudgetLocked(view *ContextView) {
	if s.budget <= 0 || s.counter == nil {
		return
	}
	for s.counter.Count(view.Render()) > s.budget {
		dropped := false
		for i, e := range view.Entries {
			if e.Source != SourceGuardrailFeedback {
				view.Entries = append(view.Entries[:i], view.Entries[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			return
		}
	}
}

func entryFromResult(r TaskResult) ContextEntry {
	return ContextEntry{
		NodeID:   r.NodeID,
		ParentID: r.ParentID,
		Attempt:  r.Attempt,
		Source:   r.Source,
		Status:   r.Status,
		Output:   r.Output,
		Feedback: r.Feedback,
	}
}
