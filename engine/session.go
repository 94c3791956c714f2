package engine

import (
	"context"
	"sync"

	"github.com/BaSui01/taskflow/internal/metrics"
	"github.com/BaSui01/taskflow/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Session is the top-level object wiring graph, scheduler, and collaborators.
// It owns the graph definition; each run gets a fresh RunState and context
// store, so a session can be reused for repeated runs.
type Session struct {
	graph   *Graph
	invoker Invoker

	logger      *zap.Logger
	sink        EventSink
	memory      MemorySearcher
	checkpoints CheckpointStore
	resumeRunID string
	limiter     *rate.Limiter
	scorers     []WeightedScorer
	cfg         SchedulerConfig

	collector         *metrics.Collector
	metricsNamespace  string
	metricsRegisterer prometheus.Registerer
	metricsEnabled    bool

	tokenCounter *TokenCounter
	tokenBudget  int

	mu   sync.Mutex
	last *RunSummary
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithEventSink attaches a fire-and-forget event sink.
func WithEventSink(sink EventSink) Option {
	return func(s *Session) { s.sink = sink }
}

// WithMemory attaches the optional memory search capability.
func WithMemory(memory MemorySearcher) Option {
	return func(s *Session) { s.memory = memory }
}

// WithCheckpoints enables checkpoint persistence.
func WithCheckpoints(store CheckpointStore) Option {
	return func(s *Session) { s.checkpoints = store }
}

// WithResume resumes a checkpointed run: nodes with a successful checkpoint
// under the given run ID skip re-execution.
func WithResume(runID string) Option {
	return func(s *Session) { s.resumeRunID = runID }
}

// WithMetrics enables Prometheus metrics under the given namespace.
// A nil registerer uses the default registry.
func WithMetrics(namespace string, registerer prometheus.Registerer) Option {
	return func(s *Session) {
		s.metricsNamespace = namespace
		s.metricsRegisterer = registerer
		s.metricsEnabled = true
	}
}

// WithRateLimit paces agent invocations across the whole run.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Session) { s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithMaxSteps overrides the global step ceiling.
func WithMaxSteps(steps int) Option {
	return func(s *Session) { s.cfg.MaxSteps = steps }
}

// WithWorkers overrides the worker pool size.
func WithWorkers(workers int) Option {
	return func(s *Session) { s.cfg.Workers = workers }
}

// WithTokenBudget bounds materialized context views to roughly budget tokens.
func WithTokenBudget(encoding string, budget int) Option {
	return func(s *Session) {
		s.tokenCounter = NewTokenCounter(encoding)
		s.tokenBudget = budget
	}
}

// WithHandoffScorers replaces the default handoff scoring.
func WithHandoffScorers(scorers ...WeightedScorer) Option {
	return func(s *Session) { s.scorers = scorers }
}

// NewSession validates the graph and wires a session.
func NewSession(graph *Graph, invoker Invoker, opts ...Option) (*Session, error) {
	if graph == nil {
		return nil, types.NewError(types.ErrGraphInvalid, "graph is nil")
	}
	if invoker == nil {
		return nil, types.NewError(types.ErrInternalError, "invoker is nil")
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		graph:   graph,
		invoker: invoker,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metricsEnabled {
		s.collector = metrics.NewCollector(s.metricsNamespace, s.metricsRegisterer, s.logger)
	}
	return s, nil
}

// Start executes a full run synchronously and returns its summary.
func (s *Session) Start(ctx context.Context) (*RunSummary, error) {
	runID := s.resumeRunID
	if runID == "" {
		runID = uuid.NewString()
	}

	store := NewContextStore()
	if s.tokenBudget > 0 {
		store.WithTokenBudget(s.tokenCounter, s.tokenBudget)
	}

	sched := newScheduler(s.graph, s.invoker, schedulerDeps{
		store:       store,
		router:      NewHandoffRouter(s.logger, s.scorers...),
		memory:      s.memory,
		sink:        s.sink,
		checkpoints: s.checkpoints,
		resume:      s.resumeRunID != "",
		metrics:     s.collector,
		limiter:     s.limiter,
		logger:      s.logger,
		cfg:         s.cfg,
	})

	summary := sched.Run(ctx, runID)

	s.mu.Lock()
	s.last = summary
	s.mu.Unlock()
	return summary, nil
}

// StartAsync starts a run without blocking and returns a handle.
func (s *Session) StartAsync(ctx context.Context) *RunHandle {
	runCtx, cancel := context.WithCancel(ctx)
	handle := &RunHandle{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(handle.done)
		summary, err := s.Start(runCtx)
		handle.mu.Lock()
		handle.summary = summary
		handle.err = err
		handle.mu.Unlock()
	}()
	return handle
}

// GetRunSummary returns the most recent run's summary.
func (s *Session) GetRunSummary() (*RunSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.last != nil
}

// RunHandle controls one asynchronous run.
type RunHandle struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	summary *RunSummary
	err     error
}

// Await blocks until the run terminates and returns its summary.
func (h *RunHandle) Await() (*RunSummary, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.summary, h.err
}

// Cancel requests cancellation; in-flight invocations observe it at their
// next suspension point. Already-completed nodes are unaffected.
func (h *RunHandle) Cancel() {
	h.cancel()
}

// Done is closed when the run terminates.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}
