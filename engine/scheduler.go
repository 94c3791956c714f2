package engine

import (
	"context"
	"time"

	"github.com/BaSui01/taskflow/internal/metrics"
	"github.com/BaSui01/taskflow/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultMaxSteps is the global scheduler step ceiling. Generous but finite:
// it guarantees termination even under a cyclic, buggy graph definition.
const DefaultMaxSteps = 1000

// DefaultWorkers bounds how many independent nodes run concurrently.
const DefaultWorkers = 4

// SchedulerConfig tunes one scheduler instance.
type SchedulerConfig struct {
	MaxSteps int
	Workers  int
}

// Scheduler walks the task graph: it owns the RunState and the ContextStore,
// dispatches ready nodes to workers FIFO, resolves next-node sets, and
// enforces retry and step budgets. Workers only return results; every
// RunState mutation happens on the scheduler loop.
type Scheduler struct {
	graph      *Graph
	store      *ContextStore
	invoker    Invoker
	guardrails *GuardrailEvaluator
	router     *HandoffRouter
	memory     MemorySearcher
	sink       EventSink
	history    *ExecutionHistory

	checkpoints CheckpointStore
	resume      bool

	metrics *metrics.Collector
	tracer  trace.Tracer
	limiter *rate.Limiter
	logger  *zap.Logger
	cfg     SchedulerConfig

	// pendingHandoffs carries resolved handoff context to the target's next
	// dispatch. Only the scheduler loop touches it.
	pendingHandoffs map[string]*HandoffDecision
}

// newScheduler wires a scheduler for one session. The session owns option
// parsing; everything here is already resolved.
func newScheduler(graph *Graph, invoker Invoker, deps schedulerDeps) *Scheduler {
	cfg := deps.cfg
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	logger := deps.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		graph:           graph,
		store:           deps.store,
		invoker:         invoker,
		guardrails:      NewGuardrailEvaluator(invoker, logger),
		router:          deps.router,
		memory:          deps.memory,
		sink:            deps.sink,
		checkpoints:     deps.checkpoints,
		resume:          deps.resume,
		metrics:         deps.metrics,
		tracer:          otel.Tracer("taskflow/engine"),
		limiter:         deps.limiter,
		logger:          logger.With(zap.String("component", "scheduler")),
		cfg:             cfg,
		pendingHandoffs: make(map[string]*HandoffDecision),
	}
}

// schedulerDeps groups the collaborators a session injects.
type schedulerDeps struct {
	store       *ContextStore
	router      *HandoffRouter
	memory      MemorySearcher
	sink        EventSink
	checkpoints CheckpointStore
	resume      bool
	metrics     *metrics.Collector
	limiter     *rate.Limiter
	logger      *zap.Logger
	cfg         SchedulerConfig
}

// completion pairs a finished node with its outcome on the completions channel.
type completion struct {
	nodeID  string
	outcome nodeOutcome
}

// Run executes the graph to termination and returns the full trace.
func (s *Scheduler) Run(ctx context.Context, runID string) *RunSummary {
	state := newRunState(runID, s.graph)
	s.history = NewExecutionHistory(runID, s.graph.Name)
	startedAt := time.Now()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	ctx, runSpan := s.tracer.Start(ctx, "taskflow.run")
	runSpan.SetAttributes(
		attribute.String("taskflow.run_id", runID),
		attribute.String("taskflow.graph", s.graph.Name),
	)
	defer runSpan.End()

	s.logger.Info("run starting",
		zap.String("run_id", runID),
		zap.String("graph", s.graph.Name),
		zap.Int("nodes", s.graph.Len()),
	)
	emit(s.sink, Event{Type: EventRunStart, RunID: runID})

	completions := make(chan completion)
	for {
		if !state.terminated {
			s.dispatch(runCtx, state, completions, cancelRun)
		}
		if len(state.running) == 0 {
			if state.terminated || len(state.pending) == 0 {
				break
			}
			continue
		}

		done := <-completions
		delete(state.running, done.nodeID)
		s.processOutcome(runCtx, state, done.outcome)
	}

	if !state.terminated {
		state.terminate(s.closingReason(ctx, state))
	}
	s.history.Finish()

	summary := &RunSummary{
		RunID:        runID,
		GraphName:    s.graph.Name,
		Results:      s.store.AllResults(),
		Reason:       state.reason,
		FirstFailure: state.firstFailure,
		Steps:        state.steps,
		StartedAt:    startedAt,
		FinishedAt:   time.Now(),
	}

	s.metrics.RecordRun(s.graph.Name, string(state.reason), summary.FinishedAt.Sub(startedAt), state.steps)
	emit(s.sink, Event{Type: EventRunComplete, RunID: runID, Detail: string(state.reason)})
	s.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.String("reason", string(state.reason)),
		zap.Int("steps", state.steps),
	)
	return summary
}

// dispatch launches ready nodes onto workers until the pool is full or the
// queue drains. The step budget is charged per dequeue.
func (s *Scheduler) dispatch(ctx context.Context, state *RunState, completions chan<- completion, cancelRun context.CancelFunc) {
	for len(state.running) < s.cfg.Workers {
		id, ok := state.dequeue()
		if !ok {
			return
		}

		state.steps++
		if state.steps > s.cfg.MaxSteps {
			s.logger.Warn("step budget exhausted",
				zap.String("run_id", state.runID),
				zap.Int("max_steps", s.cfg.MaxSteps),
			)
			state.pending = nil
			state.terminate(TerminationStepBudgetExhausted)
			cancelRun()
			return
		}

		node, exists := s.graph.Node(id)
		if !exists {
			s.logger.Error("ready queue referenced unknown node", zap.String("node_id", id))
			continue
		}
		if d := s.pendingHandoffs[id]; d != nil {
			delete(s.pendingHandoffs, id)
			node = node.withHandoffContext(d)
		}

		state.running[id] = true
		go func(node *TaskNode) {
			completions <- completion{nodeID: node.ID, outcome: s.runNode(ctx, state.runID, node)}
		}(node)
	}
}

// processOutcome applies one node outcome to the run state: counters, routing,
// failure propagation, and termination checks.
func (s *Scheduler) processOutcome(ctx context.Context, state *RunState, outcome nodeOutcome) {
	node := outcome.node
	state.executions[node.ID]++
	state.retryCounters[node.ID] += outcome.attempts - 1
	if node.Kind == KindLoop {
		if n, ok := outcome.final.Output.Field("iterations").(int); ok {
			state.iterationCounters[node.ID] += n
		}
	}

	switch outcome.final.Status {
	case StatusSuccess:
		emit(s.sink, Event{
			Type:    EventNodeComplete,
			RunID:   state.runID,
			NodeID:  node.ID,
			Attempt: outcome.final.Attempt,
			Status:  StatusSuccess,
		})
		s.routeSuccess(state, outcome)

	case StatusCancelled:
		state.terminate(TerminationCancelled)

	default:
		emit(s.sink, Event{
			Type:    EventNodeError,
			RunID:   state.runID,
			NodeID:  node.ID,
			Status:  outcome.final.Status,
			Detail:  outcome.final.Feedback + outcome.final.Error,
			Attempt: outcome.final.Attempt,
		})
		code := types.ErrInvocationFatal
		if outcome.err != nil {
			code = outcome.err.Code
		}
		state.recordFailure(outcome.final, code)
		s.propagateFailure(state, node)
	}
}

// routeSuccess resolves the next-node set of a completed node and enqueues it.
func (s *Scheduler) routeSuccess(state *RunState, outcome nodeOutcome) {
	node := outcome.node

	if outcome.handoff != nil {
		target := outcome.handoff.Target.TargetNode
		s.pendingHandoffs[target] = outcome.handoff
		s.enqueueTarget(state, target, true)
		return
	}

	var targets []string
	if node.Kind == KindDecision {
		targets = node.Next[outcome.final.OutcomeKey]
	} else {
		targets = node.Next[DefaultOutcome]
		if node.Kind == KindLoop {
			// Loop iteration is internal, so continue and done both resolve
			// on loop completion alongside default.
			targets = append(targets, node.Next[OutcomeContinue]...)
			targets = append(targets, node.Next[OutcomeDone]...)
		}
	}
	// Edges fire once per execution of their source: decision routing may
	// re-enter an already-executed node, and a node that was itself
	// re-entered fires its forward edges again so the cycle makes progress.
	reentrant := node.Kind == KindDecision || state.executions[node.ID] > 1
	for _, target := range targets {
		s.enqueueTarget(state, target, reentrant)
	}
}

// enqueueTarget adds a node to the ready queue unless it is already pending or
// running. Only a reentrant edge may re-enqueue a node that already ran.
func (s *Scheduler) enqueueTarget(state *RunState, targetID string, reentrant bool) {
	if state.running[targetID] {
		return
	}
	for _, id := range state.pending {
		if id == targetID {
			return
		}
	}
	if !reentrant && state.enqueued[targetID] {
		return
	}
	state.enqueue(targetID)
}

// propagateFailure pushes a terminal node failure forward through the graph:
// tolerant downstream nodes still run on whatever success context remains,
// intolerant ones are terminated with a synthetic failed result, recursively.
func (s *Scheduler) propagateFailure(state *RunState, from *TaskNode) {
	visited := map[string]bool{from.ID: true}
	var walk func(node *TaskNode)
	walk = func(node *TaskNode) {
		for _, key := range node.outcomeKeys() {
			for _, targetID := range node.Next[key] {
				if visited[targetID] {
					continue
				}
				visited[targetID] = true
				target, ok := s.graph.Node(targetID)
				if !ok {
					continue
				}
				if target.ContextPolicy.TolerateMissing {
					s.enqueueTarget(state, targetID, false)
					continue
				}
				if state.enqueued[targetID] || state.running[targetID] {
					continue
				}
				state.enqueued[targetID] = true
				s.record(TaskResult{
					NodeID:   targetID,
					Attempt:  1,
					Status:   StatusFailed,
					Feedback: "upstream node " + node.ID + " failed",
					Source:   SourceUpstreamFailure,
				})
				walk(target)
			}
		}
	}
	walk(from)
}

// closingReason decides the run-level reason once the queue drains.
func (s *Scheduler) closingReason(ctx context.Context, state *RunState) TerminationReason {
	if ctx.Err() != nil {
		return TerminationCancelled
	}
	if state.firstFailure == nil {
		return TerminationCompleted
	}
	switch state.firstFailureCode {
	case types.ErrGuardrailExhausted:
		return TerminationGuardrailExhausted
	case types.ErrNoEligibleTarget:
		return TerminationNoRoute
	default:
		return TerminationNodeFailed
	}
}
