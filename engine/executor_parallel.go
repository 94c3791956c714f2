package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/taskflow/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// executeParallel submits every branch to the pool simultaneously and
// completes only when all branches reach a terminal per-branch state. A branch
// failure does not cancel its siblings unless the node opts into fail-fast.
func (s *Scheduler) executeParallel(ctx context.Context, runID string, node *TaskNode) nodeOutcome {
	outcome := nodeOutcome{node: node, attempts: 1}

	s.logger.Debug("parallel fan-out",
		zap.String("run_id", runID),
		zap.String("node_id", node.ID),
		zap.Int("branches", len(node.Branches)),
	)

	g, branchCtx := errgroup.WithContext(ctx)
	if !node.FailFast {
		// Without fail-fast, branches must not observe sibling failures;
		// the group context is only used for caller cancellation.
		branchCtx = ctx
	}

	var mu sync.Mutex
	failed := 0
	cancelled := 0
	for _, branchID := range node.Branches {
		branch, _ := s.graph.Node(branchID)
		g.Go(func() error {
			branchOutcome := s.runNode(branchCtx, runID, branch)
			mu.Lock()
			defer mu.Unlock()
			switch branchOutcome.final.Status {
			case StatusFailed:
				failed++
				if node.FailFast {
					return fmt.Errorf("branch %s failed", branch.ID)
				}
			case StatusCancelled:
				cancelled++
			}
			return nil
		})
	}
	// The per-branch error only matters for fail-fast sibling cancellation;
	// branch failures are already recorded in the store.
	_ = g.Wait()

	if ctx.Err() != nil || (cancelled > 0 && !node.FailFast) {
		outcome.final = s.record(cancelledResult(node, 1))
		outcome.err = types.NewError(types.ErrRunCancelled, "run cancelled mid-fan-out").WithNodeID(node.ID)
		return outcome
	}

	status := StatusSuccess
	if failed > 0 || cancelled > 0 {
		status = StatusFailed
	}
	result := TaskResult{
		NodeID:  node.ID,
		Attempt: 1,
		Output: RawOutput{
			Fields: map[string]any{
				"branches": append([]string(nil), node.Branches...),
				"failed":   failed,
			},
		},
		Status:    status,
		Source:    SourceAgent,
		Timestamp: time.Now(),
	}
	if status == StatusFailed {
		result.Feedback = fmt.Sprintf("%d of %d branches failed", failed+cancelled, len(node.Branches))
		outcome.err = types.NewError(types.ErrInvocationFatal, result.Feedback).WithNodeID(node.ID)
	}
	outcome.final = s.record(result)
	if status == StatusSuccess {
		s.saveCheckpoint(ctx, runID, outcome.final)
	}
	return outcome
}
