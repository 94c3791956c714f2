// Package taskflow provides a top-level convenience entry point for building
// and running task graphs with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/taskflow"
//
//	g, err := taskflow.NewGraph("pipeline").
//		AddNode("draft", taskflow.KindNormal).WithAgent("writer").AsStart().Done().
//		AddNode("review", taskflow.KindDecision).WithAgent("reviewer").Done().
//		Connect("draft", "review").
//		Build()
//
//	session, err := taskflow.NewSession(g, myInvoker)
//	summary, err := session.Start(ctx)
//
// This is a thin wrapper around [engine.NewGraphBuilder] and
// [engine.NewSession]; both produce identical results. Use this package when
// you prefer the shorter import path.
package taskflow

import (
	"github.com/BaSui01/taskflow/engine"
)

// Node kinds, re-exported so callers never need to import engine/ for
// graph construction.
const (
	KindNormal   = engine.KindNormal
	KindDecision = engine.KindDecision
	KindLoop     = engine.KindLoop
	KindParallel = engine.KindParallel
)

// Graph is the validated execution graph built by [NewGraph].
type Graph = engine.Graph

// Session drives one run of a graph. See [engine.Session].
type Session = engine.Session

// RunSummary aggregates the results of a finished run.
type RunSummary = engine.RunSummary

// Invoker executes a single agent call. Implement it to bridge any backend.
type Invoker = engine.Invoker

// InvokerFunc adapts a plain function to [Invoker].
type InvokerFunc = engine.InvokerFunc

// RawOutput is the opaque output of one agent invocation.
type RawOutput = engine.RawOutput

// ContextView is the materialized upstream context passed to an invocation.
type ContextView = engine.ContextView

// TaskResult records the outcome of one node attempt.
type TaskResult = engine.TaskResult

// Option configures the session created by [NewSession].
type Option = engine.Option

// NewGraph starts a fluent graph builder.
func NewGraph(name string) *engine.GraphBuilder {
	return engine.NewGraphBuilder(name)
}

// NewSession validates the graph and prepares a runnable session.
func NewSession(graph *Graph, invoker Invoker, opts ...Option) (*Session, error) {
	return engine.NewSession(graph, invoker, opts...)
}

// Re-export session options so callers never need to import engine/.

// WithLogger sets a custom zap logger.
var WithLogger = engine.WithLogger

// WithEventSink subscribes an execution event listener.
var WithEventSink = engine.WithEventSink

// WithCheckpoints enables checkpointing through the given store.
var WithCheckpoints = engine.WithCheckpoints

// WithResume resumes a prior run from its checkpoints.
var WithResume = engine.WithResume

// WithMetrics enables Prometheus metrics under the given namespace.
var WithMetrics = engine.WithMetrics

// WithRateLimit caps agent invocation throughput.
var WithRateLimit = engine.WithRateLimit

// WithMaxSteps overrides the global step budget.
var WithMaxSteps = engine.WithMaxSteps

// WithMemory attaches a memory searcher for context augmentation.
var WithMemory = engine.WithMemory
