package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/taskflow/types"
	"go.uber.org/zap"
)

// executeLoop walks the node's iteration source in order, spawning a
// Normal-style child execution per record with the parent's agent and
// templated description. Children continue on error; the loop's own status is
// Failed when any child failed. No implicit summarization happens here:
// aggregation belongs to a downstream node consuming the child results.
func (s *Scheduler) executeLoop(ctx context.Context, runID string, node *TaskNode) nodeOutcome {
	outcome := nodeOutcome{node: node, attempts: 1}

	limit := len(node.IterationSource)
	if node.MaxIterations > 0 && node.MaxIterations < limit {
		limit = node.MaxIterations
	}

	s.logger.Debug("loop starting",
		zap.String("run_id", runID),
		zap.String("node_id", node.ID),
		zap.Int("records", len(node.IterationSource)),
		zap.Int("limit", limit),
	)

	children := make([]string, 0, limit)
	failed := 0
	for i := 0; i < limit; i++ {
		if ctx.Err() != nil {
			outcome.final = s.record(cancelledResult(node, 1))
			outcome.err = types.NewError(types.ErrRunCancelled, "run cancelled mid-loop").WithNodeID(node.ID)
			return outcome
		}

		child := s.loopChild(node, i)
		children = append(children, child.ID)

		childOutcome := s.runAttempts(ctx, runID, child)
		switch childOutcome.final.Status {
		case StatusCancelled:
			outcome.final = s.record(cancelledResult(node, 1))
			outcome.err = types.NewError(types.ErrRunCancelled, "run cancelled mid-loop").WithNodeID(node.ID)
			return outcome
		case StatusFailed:
			// Continue-on-error: a failed child taints the loop's own
			// status but never aborts the remaining records.
			failed++
		}
	}

	status := StatusSuccess
	if failed > 0 {
		status = StatusFailed
	}
	result := TaskResult{
		NodeID:  node.ID,
		Attempt: 1,
		Output: RawOutput{
			Fields: map[string]any{
				"children":   children,
				"iterations": len(children),
				"failed":     failed,
			},
		},
		Status:    status,
		Source:    SourceAgent,
		Timestamp: time.Now(),
	}
	if failed > 0 {
		result.Feedback = fmt.Sprintf("%d of %d loop children failed", failed, len(children))
		outcome.err = types.NewError(types.ErrInvocationFatal, result.Feedback).WithNodeID(node.ID)
	}
	outcome.final = s.record(result)
	if status == StatusSuccess {
		s.saveCheckpoint(ctx, runID, outcome.final)
	}
	return outcome
}

// loopChild derives the synthetic child node for one iteration record.
func (s *Scheduler) loopChild(parent *TaskNode, index int) *TaskNode {
	record := parent.IterationSource[index]
	child := &TaskNode{
		ID:            fmt.Sprintf("%s#%d", parent.ID, index+1),
		Kind:          KindNormal,
		AgentRef:      parent.AgentRef,
		Description:   templateRecord(parent.Description, record),
		ContextPolicy: parent.ContextPolicy,
		Guardrail:     parent.Guardrail,
		RetryDelay:    parent.RetryDelay,
		Timeout:       parent.Timeout,
		parentID:      parent.ID,
	}
	child.SetMaxRetries(parent.retryBudget())
	return child
}

// templateRecord substitutes {field} placeholders with the record's values.
// Fields without a placeholder are appended so a record is never dropped
// silently from the instruction.
func templateRecord(description string, record map[string]any) string {
	out := description
	var unused []string
	for field, value := range record {
		placeholder := "{" + field + "}"
		rendered := fmt.Sprintf("%v", value)
		if strings.Contains(out, placeholder) {
			out = strings.ReplaceAll(out, placeholder, rendered)
		} else {
			unused = append(unused, fmt.Sprintf("%s=%s", field, rendered))
		}
	}
	if len(unused) > 0 {
		sort.Strings(unused)
		out = out + "\n" + strings.Join(unused, ", ")
	}
	return out
}
