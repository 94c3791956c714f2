package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/taskflow/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// nodeOutcome is what a worker hands back to the scheduler loop: the node's
// final result plus everything routing needs. Workers never touch RunState.
type nodeOutcome struct {
	node     *TaskNode
	final    TaskResult
	attempts int
	handoff  *HandoffDecision
	err      *types.Error // terminal classification, nil on success
}

// runNode drives one node to a terminal per-node state: checkpoint reuse,
// the sequential attempt loop, guardrail evaluation, and handoff resolution.
func (s *Scheduler) runNode(ctx context.Context, runID string, node *TaskNode) nodeOutcome {
	if outcome, ok := s.reuseCheckpoint(ctx, runID, node); ok {
		return outcome
	}

	switch node.Kind {
	case KindLoop:
		return s.executeLoop(ctx, runID, node)
	case KindParallel:
		return s.executeParallel(ctx, runID, node)
	default:
		return s.runAttempts(ctx, runID, node)
	}
}

// runAttempts is the retry harness shared by Normal and Decision nodes and by
// loop children. Attempts are strictly sequential: attempt N+1's view always
// reflects attempt N's feedback.
func (s *Scheduler) runAttempts(ctx context.Context, runID string, node *TaskNode) nodeOutcome {
	budget := node.retryBudget()
	outcome := nodeOutcome{node: node}
	// A node re-entered through a decision edge continues its attempt
	// numbering past earlier executions, keeping the recorded trace unambiguous.
	base := len(s.store.Results(node.ID))

	for n := 1; n <= budget+1; n++ {
		attempt := base + n
		outcome.attempts = n

		if n > 1 {
			s.metrics.RecordRetry(string(node.Kind))
			emit(s.sink, Event{Type: EventNodeRetry, RunID: runID, NodeID: node.ID, Attempt: attempt})
			if err := sleepCtx(ctx, node.RetryDelay); err != nil {
				outcome.final = s.record(cancelledResult(node, attempt))
				outcome.err = types.NewError(types.ErrRunCancelled, "run cancelled during retry delay").WithNodeID(node.ID)
				return outcome
			}
		}

		result := s.executeAttempt(ctx, runID, node, attempt)

		switch result.Status {
		case StatusSuccess:
			if node.Handoff != nil {
				decision, err := s.resolveHandoff(ctx, runID, node, result)
				if err != nil {
					result.Status = StatusFailed
					result.Feedback = "no eligible handoff target"
					outcome.final = s.record(result)
					outcome.err = err
					return outcome
				}
				outcome.handoff = decision
			}
			outcome.final = s.record(result)
			s.saveCheckpoint(ctx, runID, outcome.final)
			return outcome

		case StatusRejected:
			if n > budget {
				// Budget exhausted: the final attempt is recorded as Failed,
				// which is what downstream nodes observe.
				result.Status = StatusFailed
				outcome.final = s.record(result)
				outcome.err = types.NewError(types.ErrGuardrailExhausted,
					fmt.Sprintf("retry budget exhausted after %d attempts", n)).WithNodeID(node.ID)
				return outcome
			}
			s.record(result)

		case StatusFailed:
			outcome.final = s.record(result)
			code := types.ErrInvocationFatal
			if node.Kind == KindDecision && result.Error == "" {
				code = types.ErrNoMatchingOutcome
			}
			outcome.err = types.NewError(code, result.Feedback+result.Error).WithNodeID(node.ID)
			return outcome

		case StatusCancelled:
			outcome.final = s.record(result)
			outcome.err = types.NewError(types.ErrRunCancelled, "run cancelled").WithNodeID(node.ID)
			return outcome
		}
	}

	// Unreachable: every attempt path above returns.
	outcome.err = types.NewError(types.ErrInternalError, "attempt loop fell through").WithNodeID(node.ID)
	return outcome
}

// executeAttempt runs a single attempt of a Normal or Decision node:
// view assembly, invocation, guardrail evaluation.
func (s *Scheduler) executeAttempt(ctx context.Context, runID string, node *TaskNode, attempt int) TaskResult {
	view := s.buildView(ctx, runID, node)

	emit(s.sink, Event{Type: EventNodeStart, RunID: runID, NodeID: node.ID, Attempt: attempt})
	rec := s.history.RecordStart(node.ID, node.Kind, attempt)

	attemptCtx := ctx
	if node.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, node.Timeout)
		defer cancel()
	}

	spanCtx, span := s.tracer.Start(attemptCtx, "taskflow.node")
	span.SetAttributes(
		attribute.String("taskflow.node_id", node.ID),
		attribute.String("taskflow.kind", string(node.Kind)),
		attribute.Int("taskflow.attempt", attempt),
	)
	started := time.Now()

	var result TaskResult
	if node.Kind == KindDecision {
		result = s.executeDecision(spanCtx, node, attempt, view)
	} else {
		result = s.executeNormal(spanCtx, node, attempt, view)
	}
	result.Timestamp = time.Now()

	span.End()
	s.history.RecordEnd(rec, result.Status, result.Feedback)
	s.metrics.RecordNodeExecution(string(node.Kind), string(result.Status), time.Since(started))
	if result.Status == StatusRejected {
		s.metrics.RecordGuardrailRejection(node.ID)
	}

	s.logger.Debug("node attempt finished",
		zap.String("run_id", runID),
		zap.String("node_id", node.ID),
		zap.Int("attempt", attempt),
		zap.String("status", string(result.Status)),
	)
	return result
}

// executeNormal invokes the agent once and runs the guardrail on the output.
func (s *Scheduler) executeNormal(ctx context.Context, node *TaskNode, attempt int, view *ContextView) TaskResult {
	output, err := s.rateLimitedInvoke(ctx, node.AgentRef, s.buildInstruction(node), view)
	if err != nil {
		return s.classifyFailure(ctx, node, attempt, err)
	}

	accepted, feedback := s.guardrails.Evaluate(ctx, node.Guardrail, output)
	if !accepted {
		return TaskResult{
			NodeID:   node.ID,
			ParentID: node.parentID,
			Attempt:  attempt,
			Output:   output,
			Status:   StatusRejected,
			Feedback: feedback,
			Source:   SourceAgent,
		}
	}

	return TaskResult{
		NodeID:   node.ID,
		ParentID: node.parentID,
		Attempt:  attempt,
		Output:   output,
		Status:   StatusSuccess,
		Source:   SourceAgent,
	}
}

// classifyFailure maps an invocation error onto the attempt result: retryable
// errors come back as rejections without feedback injection, fatal errors and
// cancellations end the node.
func (s *Scheduler) classifyFailure(ctx context.Context, node *TaskNode, attempt int, err error) TaskResult {
	result := TaskResult{
		NodeID:   node.ID,
		ParentID: node.parentID,
		Attempt:  attempt,
		Source:   SourceAgent,
		Error:    err.Error(),
	}
	switch classifyInvokeErr(ctx, err) {
	case invokeRetryable:
		result.Status = StatusRejected
	case invokeCancelled:
		result.Status = StatusCancelled
	default:
		result.Status = StatusFailed
	}
	return result
}

// buildInstruction assembles the instruction payload from the node description
// and the optional output shape hint.
func (s *Scheduler) buildInstruction(node *TaskNode) string {
	if node.ExpectedOutput == "" {
		return node.Description
	}
	var sb strings.Builder
	sb.WriteString(node.Description)
	sb.WriteString("\n\nExpected output: ")
	sb.WriteString(node.ExpectedOutput)
	return sb.String()
}

// buildView materializes the context view for one attempt, including the
// optional memory augmentation. Handoff targets run on the router's filtered
// view instead of their own retention policy, with retry feedback still
// prepended so the feedback loop survives delegation.
func (s *Scheduler) buildView(ctx context.Context, runID string, node *TaskNode) *ContextView {
	if node.handoffView != nil {
		view := &ContextView{RunID: runID, NodeID: node.ID}
		if fb, ok := s.store.LatestFeedback(node.ID); ok {
			view.Entries = append(view.Entries, fb)
		}
		view.Entries = append(view.Entries, node.handoffView.Entries...)
		if node.handoffPayload != nil {
			view.Entries = append(view.Entries, ContextEntry{
				NodeID: node.ID,
				Source: SourceHandoffPayload,
				Status: StatusSuccess,
				Output: RawOutput{Fields: node.handoffPayload},
			})
		}
		return view
	}

	view := s.store.View(runID, node, s.graph)
	if query := node.ContextPolicy.MemoryQuery; query != "" && s.memory != nil {
		items, err := s.memory.Search(ctx, query)
		if err != nil {
			// Memory is an optional augmentation, never a failure.
			s.logger.Warn("memory search failed",
				zap.String("node_id", node.ID),
				zap.Error(err),
			)
		} else {
			view.addMemory(items)
		}
	}
	return view
}

// rateLimitedInvoke applies the optional invocation pacing before calling out.
func (s *Scheduler) rateLimitedInvoke(ctx context.Context, agentRef, instruction string, view *ContextView) (RawOutput, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return RawOutput{}, types.NewError(types.ErrRunCancelled, "run cancelled awaiting rate limit").WithCause(err)
		}
	}
	return s.invoker.Invoke(ctx, agentRef, instruction, view)
}

// resolveHandoff turns a configured handoff into a routing decision.
func (s *Scheduler) resolveHandoff(ctx context.Context, runID string, node *TaskNode, result TaskResult) (*HandoffDecision, *types.Error) {
	view := s.store.View(runID, node, s.graph)
	req := &HandoffRequest{
		FromNode:   node.ID,
		Candidates: node.Handoff.Candidates,
		Output:     result.Output,
		View:       view,
	}
	decision, err := s.router.Resolve(ctx, req, node.Handoff.MinScore)
	if err != nil {
		s.metrics.RecordHandoff("no_route")
		structured, ok := err.(*types.Error)
		if !ok {
			structured = types.NewError(types.ErrNoEligibleTarget, err.Error()).WithNodeID(node.ID)
		}
		return nil, structured
	}

	filteredView, payload := s.router.FilterContext(view, node.Handoff)
	decision.View = filteredView
	decision.Payload = payload
	s.metrics.RecordHandoff("resolved")
	emit(s.sink, Event{
		Type:   EventHandoff,
		RunID:  runID,
		NodeID: node.ID,
		Detail: decision.Target.TargetNode,
	})
	return &decision, nil
}

// record appends a result to the context store and returns it unchanged.
func (s *Scheduler) record(result TaskResult) TaskResult {
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}
	s.store.Record(result)
	return result
}

// reuseCheckpoint short-circuits nodes already completed in a resumed run.
func (s *Scheduler) reuseCheckpoint(ctx context.Context, runID string, node *TaskNode) (nodeOutcome, bool) {
	if s.checkpoints == nil || !s.resume {
		return nodeOutcome{}, false
	}
	cp, found, err := s.checkpoints.Load(ctx, runID, node.ID)
	if err != nil {
		s.logger.Warn("checkpoint load failed",
			zap.String("node_id", node.ID),
			zap.Error(err),
		)
		return nodeOutcome{}, false
	}
	if !found || !cp.Result.Succeeded() {
		return nodeOutcome{}, false
	}
	s.logger.Info("reusing checkpointed result",
		zap.String("run_id", runID),
		zap.String("node_id", node.ID),
	)
	return nodeOutcome{node: node, final: s.record(cp.Result), attempts: cp.Result.Attempt}, true
}

// saveCheckpoint persists a completed node. Checkpoint failures are logged,
// never fatal to the run.
func (s *Scheduler) saveCheckpoint(ctx context.Context, runID string, result TaskResult) {
	if s.checkpoints == nil {
		return
	}
	cp := &Checkpoint{
		RunID:     runID,
		NodeID:    result.NodeID,
		Result:    result,
		CreatedAt: time.Now(),
	}
	if err := s.checkpoints.Save(ctx, cp); err != nil {
		s.logger.Warn("checkpoint save failed",
			zap.String("node_id", result.NodeID),
			zap.Error(err),
		)
	}
}

func cancelledResult(node *TaskNode, attempt int) TaskResult {
	return TaskResult{
		NodeID:   node.ID,
		ParentID: node.parentID,
		Attempt:  attempt,
		Status:   StatusCancelled,
		Source:   SourceAgent,
	}
}
